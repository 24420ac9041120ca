package erp

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// CSVMirror trades files with a legacy ERP through a shared directory.
// Pushes append to purchase_order_out.csv; pulls read <entity>.csv exports
// dropped by the ERP side. Line format for pulls:
// external_id,updated_at(RFC3339),json_fields.
type CSVMirror struct {
	dir string
}

// NewCSVMirror uses dir as the exchange directory, creating it if needed.
func NewCSVMirror(dir string) (*CSVMirror, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("csv mirror dir: %w", err)
	}
	return &CSVMirror{dir: dir}, nil
}

// PushPurchaseOrder appends the order to the outbound file. The mirror has
// no synchronous answer channel, so acceptance is immediate and the
// external id mirrors the outbound reference.
func (c *CSVMirror) PushPurchaseOrder(_ context.Context, env *Envelope) (*PushResult, error) {
	path := filepath.Join(c.dir, "purchase_order_out.csv")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, &Error{Details: fmt.Sprintf("open outbound file: %v", err)}
	}
	defer func() { _ = f.Close() }()

	payload, err := json.Marshal(env)
	if err != nil {
		return nil, &Error{Definitive: true, Details: fmt.Sprintf("marshal envelope: %v", err)}
	}

	w := csv.NewWriter(f)
	record := []string{
		env.WorkspaceID,
		env.ExternalRef,
		time.Now().UTC().Format(time.RFC3339),
		string(payload),
	}
	if err := w.Write(record); err != nil {
		return nil, &Error{Details: fmt.Sprintf("write outbound row: %v", err)}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, &Error{Details: fmt.Sprintf("flush outbound row: %v", err)}
	}

	return &PushResult{
		ExternalID: fmt.Sprintf("SENIOR-OC-%s", env.ExternalRef),
		Status:     PushAccepted,
	}, nil
}

// FetchRecords reads <tenant>_<entity>.csv and filters past the watermark.
func (c *CSVMirror) FetchRecords(_ context.Context, tenantID, entity string, q FetchQuery) ([]Record, error) {
	path := filepath.Join(c.dir, fmt.Sprintf("%s_%s.csv", tenantID, entity))
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &Error{Details: fmt.Sprintf("open mirror file: %v", err)}
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 3
	rows, err := r.ReadAll()
	if err != nil {
		return nil, &Error{Details: fmt.Sprintf("read mirror file: %v", err)}
	}

	var out []Record
	for _, row := range rows {
		updatedAt, err := time.Parse(time.RFC3339, row[1])
		if err != nil {
			return nil, &Error{Definitive: true, Details: fmt.Sprintf("bad updated_at %q in %s", row[1], path)}
		}
		var fields map[string]any
		if err := json.Unmarshal([]byte(row[2]), &fields); err != nil {
			return nil, &Error{Definitive: true, Details: fmt.Sprintf("bad fields json for %s in %s", row[0], path)}
		}
		rec := Record{Entity: entity, ExternalID: row[0], UpdatedAt: updatedAt, Fields: fields}
		if !afterWatermark(rec, q.SinceUpdatedAt, q.SinceID) {
			continue
		}
		out = append(out, rec)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].ExternalID < out[j].ExternalID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}
