// Package flow is the pure policy table deciding which actions are legal at
// every (stage, status) pair. It performs no I/O and no logging; unknown
// pairs yield an empty deny-all policy.
package flow

import "github.com/procurahq/procura/pkg/domain"

type entry struct {
	actions []domain.Action
	primary domain.Action
}

// table is the single source of truth. Every declared status appears here
// and every primary action is a member of its allowed set.
var table = map[domain.Stage]map[string]entry{
	domain.StageSolicitacao: {
		string(domain.RequestPendingRfq): {
			actions: []domain.Action{domain.ActionViewRequest, domain.ActionEditRequest, domain.ActionCreateRfq, domain.ActionCancelRequest},
			primary: domain.ActionCreateRfq,
		},
		string(domain.RequestInRfq): {
			actions: []domain.Action{domain.ActionViewRequest, domain.ActionViewRfq, domain.ActionViewHistory},
			primary: domain.ActionViewRfq,
		},
		string(domain.RequestAwarded): {
			actions: []domain.Action{domain.ActionViewRequest, domain.ActionViewAward, domain.ActionViewHistory},
			primary: domain.ActionViewAward,
		},
		string(domain.RequestOrdered): {
			actions: []domain.Action{domain.ActionViewRequest, domain.ActionViewOrder, domain.ActionViewHistory},
			primary: domain.ActionViewOrder,
		},
		string(domain.RequestPartiallyReceived): {
			actions: []domain.Action{domain.ActionViewRequest, domain.ActionTrackReceipt, domain.ActionViewHistory},
			primary: domain.ActionTrackReceipt,
		},
		string(domain.RequestReceived): {
			actions: []domain.Action{domain.ActionViewRequest, domain.ActionViewHistory},
			primary: domain.ActionViewHistory,
		},
		string(domain.RequestCancelled): {
			actions: []domain.Action{domain.ActionViewRequest, domain.ActionViewHistory},
			primary: domain.ActionViewHistory,
		},
	},
	domain.StageCotacao: {
		string(domain.RfqDraft): {
			actions: []domain.Action{domain.ActionViewRfq, domain.ActionEditRfq, domain.ActionOpenRfq, domain.ActionCancelRfq},
			primary: domain.ActionOpenRfq,
		},
		string(domain.RfqOpen): {
			actions: []domain.Action{domain.ActionViewRfq, domain.ActionInviteSuppliers, domain.ActionCancelRfq},
			primary: domain.ActionInviteSuppliers,
		},
		string(domain.RfqCollectingQuotes): {
			actions: []domain.Action{domain.ActionViewRfq, domain.ActionInviteSuppliers, domain.ActionCompareQuotes, domain.ActionAwardRfq, domain.ActionCancelRfq},
			primary: domain.ActionCompareQuotes,
		},
		string(domain.RfqClosed): {
			actions: []domain.Action{domain.ActionViewRfq, domain.ActionAwardRfq, domain.ActionViewHistory},
			primary: domain.ActionAwardRfq,
		},
		string(domain.RfqAwarded): {
			actions: []domain.Action{domain.ActionViewRfq, domain.ActionViewAward, domain.ActionViewHistory},
			primary: domain.ActionViewAward,
		},
		string(domain.RfqCancelled): {
			actions: []domain.Action{domain.ActionViewRfq, domain.ActionViewHistory},
			primary: domain.ActionViewHistory,
		},
	},
	domain.StageDecisao: {
		string(domain.AwardAwarded): {
			actions: []domain.Action{domain.ActionViewAward, domain.ActionCreateOrder, domain.ActionCancelAward},
			primary: domain.ActionCreateOrder,
		},
		string(domain.AwardConvertedToPo): {
			actions: []domain.Action{domain.ActionViewAward, domain.ActionViewOrder, domain.ActionViewHistory},
			primary: domain.ActionViewOrder,
		},
		string(domain.AwardCancelled): {
			actions: []domain.Action{domain.ActionViewAward, domain.ActionViewHistory},
			primary: domain.ActionViewHistory,
		},
	},
	domain.StageOrdemCompra: {
		string(domain.OrderDraft): {
			actions: []domain.Action{domain.ActionViewOrder, domain.ActionEditOrder, domain.ActionApproveOrder, domain.ActionCancelOrder},
			primary: domain.ActionApproveOrder,
		},
		string(domain.OrderApproved): {
			actions: []domain.Action{domain.ActionViewOrder, domain.ActionPushToErp, domain.ActionCancelOrder},
			primary: domain.ActionPushToErp,
		},
		string(domain.OrderSentToErp): {
			actions: []domain.Action{domain.ActionViewOrder, domain.ActionViewHistory},
			primary: domain.ActionViewOrder,
		},
		string(domain.OrderErpAccepted): {
			actions: []domain.Action{domain.ActionViewOrder, domain.ActionTrackReceipt, domain.ActionViewHistory},
			primary: domain.ActionTrackReceipt,
		},
		string(domain.OrderPartiallyReceived): {
			actions: []domain.Action{domain.ActionViewOrder, domain.ActionTrackReceipt, domain.ActionViewHistory},
			primary: domain.ActionTrackReceipt,
		},
		string(domain.OrderReceived): {
			actions: []domain.Action{domain.ActionViewOrder, domain.ActionViewHistory},
			primary: domain.ActionViewHistory,
		},
		string(domain.OrderCancelled): {
			actions: []domain.Action{domain.ActionViewOrder, domain.ActionViewHistory},
			primary: domain.ActionViewHistory,
		},
		string(domain.OrderErpError): {
			actions: []domain.Action{domain.ActionViewOrder, domain.ActionRetryErpPush, domain.ActionCancelOrder, domain.ActionViewHistory},
			primary: domain.ActionRetryErpPush,
		},
	},
	domain.StageFornecedor: {
		string(domain.InvitePending): {
			actions: []domain.Action{domain.ActionOpenInvite, domain.ActionCancelInvite},
			primary: domain.ActionOpenInvite,
		},
		string(domain.InviteOpened): {
			actions: []domain.Action{domain.ActionSubmitQuote, domain.ActionCancelInvite},
			primary: domain.ActionSubmitQuote,
		},
		string(domain.InviteSubmitted): {
			actions: []domain.Action{domain.ActionViewQuote, domain.ActionDeleteProposal},
			primary: domain.ActionViewQuote,
		},
		string(domain.InviteExpired): {
			actions: []domain.Action{domain.ActionReissueInvite},
			primary: domain.ActionReissueInvite,
		},
		string(domain.InviteCancelled): {
			actions: []domain.Action{domain.ActionViewHistory},
			primary: domain.ActionViewHistory,
		},
	},
}

// AllowedActions returns the ordered action keys legal at (stage, status).
// Unknown pairs return nil.
func AllowedActions(stage domain.Stage, status string) []domain.Action {
	e, ok := table[stage][status]
	if !ok {
		return nil
	}
	out := make([]domain.Action, len(e.actions))
	copy(out, e.actions)
	return out
}

// PrimaryAction returns the suggested action for (stage, status), or ""
// when the pair is unknown.
func PrimaryAction(stage domain.Stage, status string) domain.Action {
	return table[stage][status].primary
}

// ActionAllowed reports whether action is legal at (stage, status).
func ActionAllowed(stage domain.Stage, status string, action domain.Action) bool {
	for _, a := range table[stage][status].actions {
		if a == action {
			return true
		}
	}
	return false
}

// Stage resolution per entity. Statuses do not overlap across entities, so
// these are total over their vocabularies.

func StageForPurchaseRequest(domain.RequestStatus) domain.Stage { return domain.StageSolicitacao }
func StageForRfq(domain.RfqStatus) domain.Stage                 { return domain.StageCotacao }
func StageForAward(domain.AwardStatus) domain.Stage             { return domain.StageDecisao }
func StageForPurchaseOrder(domain.OrderStatus) domain.Stage     { return domain.StageOrdemCompra }
func StageForInvite(domain.InviteStatus) domain.Stage           { return domain.StageFornecedor }
