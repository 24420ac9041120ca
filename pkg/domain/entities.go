// Package domain holds the procurement aggregates, their status vocabularies
// and the typed error model shared by every layer of the service.
package domain

import "time"

// Tenant is the isolation boundary. Every other row carries its id.
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// PurchaseRequest is the demand side of the flow. Rows that carry any
// ERP-origin field (ExternalID, ErpNumCot, ErpNumPct, ErpSentAt) are owned by
// the ERP and read-only here.
type PurchaseRequest struct {
	ID          int64         `json:"id"`
	TenantID    string        `json:"tenant_id"`
	Number      string        `json:"number"`
	Status      RequestStatus `json:"status"`
	Priority    Priority      `json:"priority"`
	RequestedBy string        `json:"requested_by"`
	Department  string        `json:"department"`
	NeededAt    *time.Time    `json:"needed_at,omitempty"`
	ExternalID  *string       `json:"external_id,omitempty"`
	ErpNumCot   *string       `json:"erp_num_cot,omitempty"`
	ErpNumPct   *string       `json:"erp_num_pct,omitempty"`
	ErpSentAt   *time.Time    `json:"erp_sent_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// ErpManaged reports whether the request is owned by the ERP mirror.
func (p *PurchaseRequest) ErpManaged() bool {
	return p.ExternalID != nil || p.ErpNumCot != nil || p.ErpNumPct != nil || p.ErpSentAt != nil
}

// PurchaseRequestItem is one demand line. LineNo is unique per request.
type PurchaseRequestItem struct {
	ID          int64   `json:"id"`
	TenantID    string  `json:"tenant_id"`
	RequestID   int64   `json:"purchase_request_id"`
	LineNo      int     `json:"line_no"`
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	Uom         string  `json:"uom"`
	Category    *string `json:"category,omitempty"`
}

// Rfq bundles request items into one solicitation to suppliers.
type Rfq struct {
	ID           int64     `json:"id"`
	TenantID     string    `json:"tenant_id"`
	Title        string    `json:"title"`
	Status       RfqStatus `json:"status"`
	CancelReason *string   `json:"cancel_reason,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RfqItem snapshots a purchase request item at RFQ creation time.
type RfqItem struct {
	ID            int64   `json:"id"`
	TenantID      string  `json:"tenant_id"`
	RfqID         int64   `json:"rfq_id"`
	RequestItemID int64   `json:"purchase_request_item_id"`
	Description   string  `json:"description"`
	Quantity      float64 `json:"quantity"`
	Uom           string  `json:"uom"`
}

// RfqItemSupplier binds a supplier invitation to one RFQ item.
type RfqItemSupplier struct {
	ID         int64  `json:"id"`
	TenantID   string `json:"tenant_id"`
	RfqItemID  int64  `json:"rfq_item_id"`
	SupplierID int64  `json:"supplier_id"`
}

// RfqSupplierInvite carries the unguessable token a supplier uses to reach
// the quote portal. Expiry transitions happen lazily on access.
type RfqSupplierInvite struct {
	ID          int64        `json:"id"`
	TenantID    string       `json:"tenant_id"`
	RfqID       int64        `json:"rfq_id"`
	SupplierID  int64        `json:"supplier_id"`
	Token       string       `json:"token"`
	Status      InviteStatus `json:"status"`
	ExpiresAt   time.Time    `json:"expires_at"`
	OpenedAt    *time.Time   `json:"opened_at,omitempty"`
	SubmittedAt *time.Time   `json:"submitted_at,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Expired reports whether the invite is past its expiry at the given instant.
func (i *RfqSupplierInvite) Expired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}

// Quote is one supplier's pricing for an RFQ, unique per (rfq, supplier).
type Quote struct {
	ID         int64     `json:"id"`
	TenantID   string    `json:"tenant_id"`
	RfqID      int64     `json:"rfq_id"`
	SupplierID int64     `json:"supplier_id"`
	Currency   string    `json:"currency"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// QuoteItem prices one RFQ item, unique per (quote, rfq_item).
type QuoteItem struct {
	ID           int64    `json:"id"`
	TenantID     string   `json:"tenant_id"`
	QuoteID      int64    `json:"quote_id"`
	RfqItemID    int64    `json:"rfq_item_id"`
	UnitPrice    float64  `json:"unit_price"`
	LeadTimeDays *int     `json:"lead_time_days,omitempty"`
}

// Award records the decision for an RFQ. An RFQ may accumulate several
// awards over time; the latest row is authoritative.
type Award struct {
	ID              int64       `json:"id"`
	TenantID        string      `json:"tenant_id"`
	RfqID           int64       `json:"rfq_id"`
	SupplierName    string      `json:"supplier_name"`
	Status          AwardStatus `json:"status"`
	Reason          string      `json:"reason"`
	PurchaseOrderID *int64      `json:"purchase_order_id,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// PurchaseOrder is the commitment shipped to the ERP. Once ExternalID is
// set the row is read-only except for ERP-driven status transitions.
type PurchaseOrder struct {
	ID           int64       `json:"id"`
	TenantID     string      `json:"tenant_id"`
	Number       string      `json:"number"`
	AwardID      *int64      `json:"award_id,omitempty"`
	SupplierName string      `json:"supplier_name"`
	Status       OrderStatus `json:"status"`
	Currency     string      `json:"currency"`
	TotalAmount  float64     `json:"total_amount"`
	ErpLastError *string     `json:"erp_last_error,omitempty"`
	ExternalID   *string     `json:"external_id,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// ErpManaged reports whether the order has been accepted by the ERP.
func (p *PurchaseOrder) ErpManaged() bool { return p.ExternalID != nil }

// PurchaseOrderLine is one order line, derived from the awarded quote.
type PurchaseOrderLine struct {
	ID          int64    `json:"id"`
	TenantID    string   `json:"tenant_id"`
	OrderID     int64    `json:"purchase_order_id"`
	LineNo      int      `json:"line_no"`
	ProductCode *string  `json:"product_code,omitempty"`
	Description string   `json:"description"`
	Quantity    float64  `json:"quantity"`
	UnitPrice   float64  `json:"unit_price"`
	TotalPrice  float64  `json:"total_price"`
}

// Supplier is mirrored from the ERP supplier directory and used to resolve
// invite recipients.
type Supplier struct {
	ID         int64     `json:"id"`
	TenantID   string    `json:"tenant_id"`
	Name       string    `json:"name"`
	Email      string    `json:"email,omitempty"`
	ExternalID *string   `json:"external_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Receipt mirrors goods-receipt records pulled from the ERP.
type Receipt struct {
	ID         int64         `json:"id"`
	TenantID   string        `json:"tenant_id"`
	OrderID    int64         `json:"purchase_order_id"`
	ExternalID string        `json:"external_id"`
	Status     ReceiptStatus `json:"status"`
	ReceivedAt *time.Time    `json:"received_at,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// StatusEvent is the append-only audit record of one state transition. Rows
// are never updated or deleted.
type StatusEvent struct {
	ID         int64      `json:"id"`
	TenantID   string     `json:"tenant_id"`
	Entity     EntityKind `json:"entity"`
	EntityID   int64      `json:"entity_id"`
	FromStatus *string    `json:"from_status,omitempty"`
	ToStatus   string     `json:"to_status"`
	Reason     string     `json:"reason"`
	OccurredAt time.Time  `json:"occurred_at"`
}

// SyncRun records one outbox attempt or one pull cycle. The ERP outbox
// stores its pending job inside PayloadRef with scope "purchase_order";
// OutboxOrderID mirrors the payload's order id into a column so the
// database can hold the one-pending-run-per-order invariant.
type SyncRun struct {
	ID              int64      `json:"id"`
	TenantID        string     `json:"tenant_id"`
	Scope           string     `json:"scope"`
	Status          SyncStatus `json:"status"`
	Attempt         int        `json:"attempt"`
	ParentSyncRunID *int64     `json:"parent_sync_run_id,omitempty"`
	OutboxOrderID   *int64     `json:"outbox_order_id,omitempty"`
	PayloadRef      []byte     `json:"payload_ref,omitempty"`
	NextAttemptAt   *time.Time `json:"next_attempt_at,omitempty"`
	LeasedBy        *string    `json:"leased_by,omitempty"`
	LeasedUntil     *time.Time `json:"leased_until,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	DurationMs      *int64     `json:"duration_ms,omitempty"`
	RecordsIn       int        `json:"records_in"`
	RecordsUpserted int        `json:"records_upserted"`
	RecordsFailed   int        `json:"records_failed"`
	ErrorSummary    *string    `json:"error_summary,omitempty"`
	ErrorDetails    *string    `json:"error_details,omitempty"`
}

// IntegrationWatermark is the incremental-pull cursor for one
// (tenant, system, entity) triple. It only moves after a successful batch.
type IntegrationWatermark struct {
	TenantID                    string     `json:"tenant_id"`
	System                      string     `json:"system"`
	Entity                      string     `json:"entity"`
	LastSuccessSourceUpdatedAt  *time.Time `json:"last_success_source_updated_at,omitempty"`
	LastSuccessSourceID         *string    `json:"last_success_source_id,omitempty"`
	LastSuccessCursor           *string    `json:"last_success_cursor,omitempty"`
	UpdatedAt                   time.Time  `json:"updated_at"`
}
