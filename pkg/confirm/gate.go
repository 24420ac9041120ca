// Package confirm is the critical-action gate: a declarative set of actions
// that demand an explicit user confirmation before any state change.
package confirm

import (
	"context"

	"github.com/procurahq/procura/pkg/audit"
	"github.com/procurahq/procura/pkg/domain"
)

// messageKeys drive the confirmation dialog on the client.
type messageKeys struct {
	Confirm string
	Impact  string
}

// criticalActions covers cancellations, award, PO creation from award, the
// ERP push and supplier proposal deletion.
var criticalActions = map[domain.Action]messageKeys{
	domain.ActionCancelRequest:  {"confirm_cancel_request", "impact_cancel_request"},
	domain.ActionCancelRfq:      {"confirm_cancel_rfq", "impact_cancel_rfq"},
	domain.ActionCancelInvite:   {"confirm_cancel_invite", "impact_cancel_invite"},
	domain.ActionCancelAward:    {"confirm_cancel_award", "impact_cancel_award"},
	domain.ActionCancelOrder:    {"confirm_cancel_order", "impact_cancel_order"},
	domain.ActionAwardRfq:       {"confirm_award_rfq", "impact_award_rfq"},
	domain.ActionCreateOrder:    {"confirm_create_order", "impact_create_order"},
	domain.ActionPushToErp:      {"confirm_push_to_erp", "impact_push_to_erp"},
	domain.ActionRetryErpPush:   {"confirm_retry_erp_push", "impact_retry_erp_push"},
	domain.ActionDeleteProposal: {"confirm_delete_proposal", "impact_delete_proposal"},
}

// Critical reports whether the action needs explicit confirmation.
func Critical(action domain.Action) bool {
	_, ok := criticalActions[action]
	return ok
}

// MessageKeys returns the presentation keys for a critical action.
func MessageKeys(action domain.Action) (confirmKey, impactKey string, ok bool) {
	k, ok := criticalActions[action]
	return k.Confirm, k.Impact, ok
}

// Confirmation carries the evidence the caller supplied, extracted from
// body, query or headers by the API layer.
type Confirmation struct {
	Flag      bool
	Token     string
	RequestID string
	Principal string
}

// Mode names how the confirmation was satisfied, for the audit trail.
func (c Confirmation) Mode() string {
	switch {
	case c.Flag:
		return "flag"
	case c.Token != "":
		return "token"
	default:
		return ""
	}
}

func (c Confirmation) satisfied() bool { return c.Flag || c.Token != "" }

// Gate validates confirmations and records satisfied ones in the audit log.
type Gate struct {
	audit audit.Logger
}

// NewGate builds a gate. The audit logger is required; critical actions are
// only useful when their confirmations leave a trace.
func NewGate(logger audit.Logger) *Gate {
	return &Gate{audit: logger}
}

// Require enforces confirmation for critical actions. Non-critical actions
// always pass. The returned error is the typed confirmation_required
// validation error; callers must raise it before any state change.
func (g *Gate) Require(ctx context.Context, action domain.Action, entity string, entityID int64, c Confirmation) *domain.Error {
	if !Critical(action) {
		return nil
	}
	if !c.satisfied() {
		return domain.ConfirmationRequired(action, entity, entityID)
	}
	if g.audit != nil {
		_ = g.audit.Record(ctx, audit.EventMutation, "confirm:"+string(action), entity, map[string]any{
			"entity_id":  entityID,
			"mode":       c.Mode(),
			"principal":  c.Principal,
			"request_id": c.RequestID,
		})
	}
	return nil
}
