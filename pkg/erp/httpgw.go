package erp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// HTTPGateway speaks JSON to the live ERP bridge. All failure
// classification happens here: the rest of the system only ever sees
// *Error with the Definitive flag resolved.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
}

// NewHTTPGateway builds a gateway with a per-call deadline.
func NewHTTPGateway(baseURL string, timeout time.Duration) *HTTPGateway {
	return &HTTPGateway{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// PushPurchaseOrder POSTs the canonical envelope.
func (g *HTTPGateway) PushPurchaseOrder(ctx context.Context, env *Envelope) (*PushResult, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return nil, &Error{Definitive: true, Details: fmt.Sprintf("marshal envelope: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.baseURL+"/purchase-orders", bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Details: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		// Network errors and deadline hits are temporary by definition.
		return nil, &Error{Details: fmt.Sprintf("push call failed: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 400 {
		return nil, &Error{
			Definitive: ClassifyHTTP(resp.StatusCode, string(raw)),
			Details:    fmt.Sprintf("ERP HTTP %d: %s", resp.StatusCode, string(raw)),
			StatusCode: resp.StatusCode,
		}
	}

	var result PushResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &Error{Details: fmt.Sprintf("decode push response: %v", err)}
	}
	if result.Status == PushRejected {
		return nil, &Error{
			Definitive: true,
			Details:    fmt.Sprintf("ERP rejected order: %s", result.Message),
		}
	}
	return &result, nil
}

// FetchRecords GETs one incremental batch for an entity.
func (g *HTTPGateway) FetchRecords(ctx context.Context, tenantID, entity string, q FetchQuery) ([]Record, error) {
	params := url.Values{}
	params.Set("tenant", tenantID)
	if q.SinceUpdatedAt != nil {
		params.Set("since_updated_at", q.SinceUpdatedAt.UTC().Format(time.RFC3339Nano))
	}
	if q.SinceID != "" {
		params.Set("since_id", q.SinceID)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/records/%s?%s", g.baseURL, url.PathEscape(entity), params.Encode()), nil)
	if err != nil {
		return nil, &Error{Details: fmt.Sprintf("build request: %v", err)}
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, &Error{Details: fmt.Sprintf("fetch call failed: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if resp.StatusCode >= 400 {
		return nil, &Error{
			Definitive: ClassifyHTTP(resp.StatusCode, string(raw)),
			Details:    fmt.Sprintf("ERP HTTP %d: %s", resp.StatusCode, string(raw)),
			StatusCode: resp.StatusCode,
		}
	}

	var records []Record
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, &Error{Details: fmt.Sprintf("decode records: %v", err)}
	}
	return records, nil
}
