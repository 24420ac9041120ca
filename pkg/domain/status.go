package domain

// Stage identifies one step of the procurement flow. Stage names follow the
// product vocabulary (pt-BR) and are stable API values.
type Stage string

const (
	StageSolicitacao Stage = "solicitacao"
	StageCotacao     Stage = "cotacao"
	StageDecisao     Stage = "decisao"
	StageOrdemCompra Stage = "ordem_compra"
	StageFornecedor  Stage = "fornecedor"
)

// Action is a key for something a user can do to an aggregate at its current
// status. The flow policy table is the single source of truth for which
// actions are legal where.
type Action string

const (
	ActionViewRequest     Action = "view_request"
	ActionEditRequest     Action = "edit_request"
	ActionCancelRequest   Action = "cancel_request"
	ActionCreateRfq       Action = "create_rfq"
	ActionViewRfq         Action = "view_rfq"
	ActionEditRfq         Action = "edit_rfq"
	ActionOpenRfq         Action = "open_rfq"
	ActionCancelRfq       Action = "cancel_rfq"
	ActionInviteSuppliers Action = "invite_suppliers"
	ActionCompareQuotes   Action = "compare_quotes"
	ActionAwardRfq        Action = "award_rfq"
	ActionViewAward       Action = "view_award"
	ActionCancelAward     Action = "cancel_award"
	ActionCreateOrder     Action = "create_purchase_order"
	ActionViewOrder       Action = "view_order"
	ActionEditOrder       Action = "edit_order"
	ActionApproveOrder    Action = "approve_order"
	ActionCancelOrder     Action = "cancel_order"
	ActionPushToErp       Action = "push_to_erp"
	ActionRetryErpPush    Action = "retry_erp_push"
	ActionTrackReceipt    Action = "track_receipt"
	ActionViewHistory     Action = "view_history"
	ActionOpenInvite      Action = "open_invite"
	ActionCancelInvite    Action = "cancel_invite"
	ActionReissueInvite   Action = "reissue_invite"
	ActionSubmitQuote     Action = "submit_quote"
	ActionViewQuote       Action = "view_quote"
	ActionDeleteProposal  Action = "delete_proposal"
)

// Purchase request statuses.
type RequestStatus string

const (
	RequestPendingRfq        RequestStatus = "pending_rfq"
	RequestInRfq             RequestStatus = "in_rfq"
	RequestAwarded           RequestStatus = "awarded"
	RequestOrdered           RequestStatus = "ordered"
	RequestPartiallyReceived RequestStatus = "partially_received"
	RequestReceived          RequestStatus = "received"
	RequestCancelled         RequestStatus = "cancelled"
)

// Priority of a purchase request.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ValidPriority reports whether p is a declared priority value.
func ValidPriority(p Priority) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// RFQ statuses.
type RfqStatus string

const (
	RfqDraft            RfqStatus = "draft"
	RfqOpen             RfqStatus = "open"
	RfqCollectingQuotes RfqStatus = "collecting_quotes"
	RfqClosed           RfqStatus = "closed"
	RfqAwarded          RfqStatus = "awarded"
	RfqCancelled        RfqStatus = "cancelled"
)

// Supplier invite statuses. Expiry is evaluated lazily on access.
type InviteStatus string

const (
	InvitePending   InviteStatus = "pending"
	InviteOpened    InviteStatus = "opened"
	InviteSubmitted InviteStatus = "submitted"
	InviteExpired   InviteStatus = "expired"
	InviteCancelled InviteStatus = "cancelled"
)

// Award statuses.
type AwardStatus string

const (
	AwardAwarded       AwardStatus = "awarded"
	AwardConvertedToPo AwardStatus = "converted_to_po"
	AwardCancelled     AwardStatus = "cancelled"
)

// Purchase order statuses.
type OrderStatus string

const (
	OrderDraft             OrderStatus = "draft"
	OrderApproved          OrderStatus = "approved"
	OrderSentToErp         OrderStatus = "sent_to_erp"
	OrderErpAccepted       OrderStatus = "erp_accepted"
	OrderPartiallyReceived OrderStatus = "partially_received"
	OrderReceived          OrderStatus = "received"
	OrderCancelled         OrderStatus = "cancelled"
	OrderErpError          OrderStatus = "erp_error"
)

// Receipt statuses as normalized from the ERP.
type ReceiptStatus string

const (
	ReceiptPending           ReceiptStatus = "pending"
	ReceiptPartiallyReceived ReceiptStatus = "partially_received"
	ReceiptReceived          ReceiptStatus = "received"
)

// Sync run statuses. Outbox entries are sync runs with scope "purchase_order"
// held in "running" until delivered or dead-lettered.
type SyncStatus string

const (
	SyncRunning   SyncStatus = "running"
	SyncSucceeded SyncStatus = "succeeded"
	SyncFailed    SyncStatus = "failed"
)

// Entity names used by the status event log.
type EntityKind string

const (
	EntityPurchaseRequest EntityKind = "purchase_request"
	EntityRfq             EntityKind = "rfq"
	EntityAward           EntityKind = "award"
	EntityPurchaseOrder   EntityKind = "purchase_order"
	EntityReceipt         EntityKind = "receipt"
)

// Controlled status-event reasons.
const (
	ReasonRequestCreated       = "request_created"
	ReasonRequestUpdated       = "request_updated"
	ReasonRequestCancelled     = "request_cancelled"
	ReasonRfqCreated           = "rfq_created"
	ReasonRfqCancelled         = "rfq_cancelled"
	ReasonRfqAwarded           = "rfq_awarded"
	ReasonRfqCollecting        = "rfq_collecting_quotes"
	ReasonSupplierInvited      = "supplier_invited"
	ReasonInviteOpened         = "invite_opened"
	ReasonInviteExpired        = "invite_expired"
	ReasonInviteCancelled      = "invite_cancelled"
	ReasonQuoteReceived        = "supplier_quote_received"
	ReasonProposalDeleted      = "supplier_proposal_deleted"
	ReasonAwardCreated         = "award_created"
	ReasonAwardCancelled       = "award_cancelled"
	ReasonPoCreatedFromAward   = "po_created_from_award"
	ReasonOrderApproved        = "order_approved"
	ReasonOrderCancelled       = "order_cancelled"
	ReasonPoPushQueued         = "po_push_queued"
	ReasonPoPushSucceeded      = "po_push_succeeded"
	ReasonPoPushRetryStarted   = "po_push_retry_started"
	ReasonPoPushRejected       = "po_push_rejected"
	ReasonReceiptRecorded      = "receipt_recorded"
	ReasonErpStatusSynced      = "erp_status_synced"
)

// CriticalReasons marks governance-sensitive transitions for analytics
// projections over the status event log.
var CriticalReasons = map[string]bool{
	ReasonRequestCancelled:   true,
	ReasonRfqCancelled:       true,
	ReasonInviteCancelled:    true,
	ReasonAwardCancelled:     true,
	ReasonOrderCancelled:     true,
	ReasonRfqAwarded:         true,
	ReasonAwardCreated:       true,
	ReasonPoCreatedFromAward: true,
	ReasonPoPushQueued:       true,
	ReasonPoPushSucceeded:    true,
	ReasonPoPushRetryStarted: true,
	ReasonPoPushRejected:     true,
}
