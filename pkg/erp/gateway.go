// Package erp holds the gateway capability the core depends on: push one
// purchase order, fetch entity records since a watermark. Adapters own the
// wire formats; the rest of the system only sees this contract.
package erp

import (
	"context"
	"fmt"
	"time"
)

// Push outcome statuses reported by the ERP.
const (
	PushAccepted = "accepted"
	PushRejected = "rejected"
)

// PushResult is the gateway's answer to a successful push call.
type PushResult struct {
	ExternalID string `json:"external_id"`
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
}

// Record is one ERP entity row in canonical form. Fields carry the
// scope-specific attributes; mappers in the sync layer interpret them.
type Record struct {
	Entity     string         `json:"entity"`
	ExternalID string         `json:"external_id"`
	UpdatedAt  time.Time      `json:"updated_at"`
	Fields     map[string]any `json:"fields"`
}

// FetchQuery selects records strictly after the watermark, ordered by
// (updated_at asc, external_id asc).
type FetchQuery struct {
	SinceUpdatedAt *time.Time
	SinceID        string
	Limit          int
}

// Gateway is the ERP capability.
type Gateway interface {
	PushPurchaseOrder(ctx context.Context, env *Envelope) (*PushResult, error)
	FetchRecords(ctx context.Context, tenantID, entity string, q FetchQuery) ([]Record, error)
}

// Error is the typed gateway failure. Definitive failures go straight to
// dead-letter; everything else is retried by the outbox.
type Error struct {
	Definitive bool
	Details    string
	StatusCode int
}

func (e *Error) Error() string {
	kind := "temporary"
	if e.Definitive {
		kind = "definitive"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("erp %s failure (http %d): %s", kind, e.StatusCode, e.Details)
	}
	return fmt.Sprintf("erp %s failure: %s", kind, e.Details)
}
