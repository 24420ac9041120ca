package flow

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procurahq/procura/pkg/domain"
)

func TestActionAllowed(t *testing.T) {
	cases := []struct {
		name    string
		stage   domain.Stage
		status  string
		action  domain.Action
		allowed bool
	}{
		{"create rfq from pending request", domain.StageSolicitacao, "pending_rfq", domain.ActionCreateRfq, true},
		{"edit request already in rfq", domain.StageSolicitacao, "in_rfq", domain.ActionEditRequest, false},
		{"cancel cancelled request", domain.StageSolicitacao, "cancelled", domain.ActionCancelRequest, false},
		{"invite suppliers on open rfq", domain.StageCotacao, "open", domain.ActionInviteSuppliers, true},
		{"award while collecting quotes", domain.StageCotacao, "collecting_quotes", domain.ActionAwardRfq, true},
		{"award an open rfq without quotes", domain.StageCotacao, "open", domain.ActionAwardRfq, false},
		{"convert awarded award", domain.StageDecisao, "awarded", domain.ActionCreateOrder, true},
		{"convert twice", domain.StageDecisao, "converted_to_po", domain.ActionCreateOrder, false},
		{"push approved order", domain.StageOrdemCompra, "approved", domain.ActionPushToErp, true},
		{"push order already sent", domain.StageOrdemCompra, "sent_to_erp", domain.ActionPushToErp, false},
		{"retry after erp error", domain.StageOrdemCompra, "erp_error", domain.ActionRetryErpPush, true},
		{"cancel accepted order", domain.StageOrdemCompra, "erp_accepted", domain.ActionCancelOrder, false},
		{"submit quote on opened invite", domain.StageFornecedor, "opened", domain.ActionSubmitQuote, true},
		{"submit quote on expired invite", domain.StageFornecedor, "expired", domain.ActionSubmitQuote, false},
		{"unknown status denies all", domain.StageCotacao, "nonsense", domain.ActionViewRfq, false},
		{"unknown stage denies all", domain.Stage("bogus"), "open", domain.ActionViewRfq, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.allowed, ActionAllowed(tc.stage, tc.status, tc.action))
		})
	}
}

func TestAllowedActionsMatchesMembership(t *testing.T) {
	actions := AllowedActions(domain.StageOrdemCompra, string(domain.OrderErpError))
	require.NotEmpty(t, actions)
	for _, a := range actions {
		assert.True(t, ActionAllowed(domain.StageOrdemCompra, string(domain.OrderErpError), a))
	}
}

func TestAllowedActionsReturnsCopy(t *testing.T) {
	first := AllowedActions(domain.StageCotacao, string(domain.RfqOpen))
	require.NotEmpty(t, first)
	first[0] = domain.Action("mutated")
	assert.NotEqual(t, first[0], AllowedActions(domain.StageCotacao, string(domain.RfqOpen))[0])
}

// declaredPairs enumerates every (stage, status) the table covers, used as
// the property-test domain.
func declaredPairs() []struct {
	stage  domain.Stage
	status string
} {
	var pairs []struct {
		stage  domain.Stage
		status string
	}
	for stage, byStatus := range table {
		for status := range byStatus {
			pairs = append(pairs, struct {
				stage  domain.Stage
				status string
			}{stage, status})
		}
	}
	return pairs
}

func TestPolicyTableProperties(t *testing.T) {
	pairs := declaredPairs()
	require.NotEmpty(t, pairs)

	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	properties.Property("primary action is always a member of the allowed set", prop.ForAll(
		func(i int) bool {
			p := pairs[i%len(pairs)]
			primary := PrimaryAction(p.stage, p.status)
			if primary == "" {
				return false
			}
			return ActionAllowed(p.stage, p.status, primary)
		},
		gen.IntRange(0, len(pairs)*3),
	))

	properties.Property("membership agrees with the allowed list", prop.ForAll(
		func(i, j int) bool {
			p := pairs[i%len(pairs)]
			allowed := AllowedActions(p.stage, p.status)
			if len(allowed) == 0 {
				return false
			}
			a := allowed[j%len(allowed)]
			return ActionAllowed(p.stage, p.status, a)
		},
		gen.IntRange(0, len(pairs)*3),
		gen.IntRange(0, 64),
	))

	properties.Property("terminal statuses never allow mutating actions", prop.ForAll(
		func(i int) bool {
			terminal := []struct {
				stage  domain.Stage
				status string
			}{
				{domain.StageSolicitacao, string(domain.RequestCancelled)},
				{domain.StageCotacao, string(domain.RfqCancelled)},
				{domain.StageDecisao, string(domain.AwardCancelled)},
				{domain.StageOrdemCompra, string(domain.OrderCancelled)},
			}
			p := terminal[i%len(terminal)]
			for _, a := range []domain.Action{
				domain.ActionEditRequest, domain.ActionCancelRequest, domain.ActionCreateRfq,
				domain.ActionInviteSuppliers, domain.ActionAwardRfq, domain.ActionCreateOrder,
				domain.ActionPushToErp, domain.ActionCancelOrder,
			} {
				if ActionAllowed(p.stage, p.status, a) {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 16),
	))

	properties.TestingRun(t)
}

func TestProcessSteps(t *testing.T) {
	steps := ProcessSteps(domain.StageDecisao)
	require.Len(t, steps, 4)
	assert.Equal(t, StepCompleted, steps[0].State)
	assert.Equal(t, StepCompleted, steps[1].State)
	assert.Equal(t, StepCurrent, steps[2].State)
	assert.Equal(t, StepFuture, steps[3].State)
}

func TestProcessStepsFornecedorRendersAsCotacao(t *testing.T) {
	steps := ProcessSteps(domain.StageFornecedor)
	require.Len(t, steps, 4)
	assert.Equal(t, domain.StageCotacao, steps[1].Stage)
	assert.Equal(t, StepCurrent, steps[1].State)
}
