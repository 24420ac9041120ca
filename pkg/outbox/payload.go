// Package outbox implements durable ERP delivery: enqueue snapshots a
// purchase order into a canonical envelope held in a sync_runs row, and the
// worker drains due rows with retry, backoff and dead-lettering.
package outbox

import (
	"encoding/json"
	"time"
)

// PayloadKindPoPush is the only outbox job kind today.
const PayloadKindPoPush = "po_push"

// Payload is the JSON document stored in sync_runs.payload_ref. The
// canonical_po snapshot is immutable across the whole retry chain.
type Payload struct {
	Kind             string          `json:"kind"`
	PurchaseOrderID  int64           `json:"purchase_order_id"`
	NextAttemptAt    *time.Time      `json:"next_attempt_at,omitempty"`
	CanonicalPo      json.RawMessage `json:"canonical_po"`
	ContentHash      string          `json:"content_hash"`
	DeadLetter       bool            `json:"dead_letter,omitempty"`
	DeadLetterReason string          `json:"dead_letter_reason,omitempty"`
}

// ParsePayload decodes a stored payload document.
func ParsePayload(raw []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Encode serializes the payload for storage.
func (p *Payload) Encode() ([]byte, error) {
	return json.Marshal(p)
}
