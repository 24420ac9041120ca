package confirm

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procurahq/procura/pkg/audit"
	"github.com/procurahq/procura/pkg/domain"
)

func TestCriticalCoversGovernanceActions(t *testing.T) {
	for _, a := range []domain.Action{
		domain.ActionCancelRequest, domain.ActionCancelRfq, domain.ActionCancelInvite,
		domain.ActionCancelAward, domain.ActionCancelOrder, domain.ActionAwardRfq,
		domain.ActionCreateOrder, domain.ActionPushToErp, domain.ActionRetryErpPush,
		domain.ActionDeleteProposal,
	} {
		assert.True(t, Critical(a), "action %s", a)
	}
	assert.False(t, Critical(domain.ActionViewRequest))
	assert.False(t, Critical(domain.ActionCreateRfq))
	assert.False(t, Critical(domain.ActionSubmitQuote))
}

func TestMessageKeys(t *testing.T) {
	confirmKey, impactKey, ok := MessageKeys(domain.ActionAwardRfq)
	require.True(t, ok)
	assert.Equal(t, "confirm_award_rfq", confirmKey)
	assert.Equal(t, "impact_award_rfq", impactKey)

	_, _, ok = MessageKeys(domain.ActionViewRfq)
	assert.False(t, ok)
}

func TestRequirePassesNonCriticalWithoutEvidence(t *testing.T) {
	g := NewGate(audit.NewLoggerWithWriter(&bytes.Buffer{}))
	assert.Nil(t, g.Require(context.Background(), domain.ActionViewRequest, "purchase_request", 1, Confirmation{}))
}

func TestRequireRejectsCriticalWithoutEvidence(t *testing.T) {
	g := NewGate(audit.NewLoggerWithWriter(&bytes.Buffer{}))
	err := g.Require(context.Background(), domain.ActionCancelOrder, "purchase_order", 9, Confirmation{})
	require.NotNil(t, err)
	assert.Equal(t, "confirmation_required", err.Code)
	assert.Equal(t, domain.KindValidation, err.Kind)
	assert.Equal(t, "purchase_order", err.Details["entity"])
}

func TestRequireAcceptsFlagOrToken(t *testing.T) {
	var sink bytes.Buffer
	g := NewGate(audit.NewLoggerWithWriter(&sink))

	assert.Nil(t, g.Require(context.Background(), domain.ActionPushToErp, "purchase_order", 2,
		Confirmation{Flag: true, Principal: "buyer-1"}))
	assert.Nil(t, g.Require(context.Background(), domain.ActionPushToErp, "purchase_order", 2,
		Confirmation{Token: "tok-123"}))

	// Both satisfied confirmations leave an audit trace.
	assert.Contains(t, sink.String(), "confirm:push_to_erp")
}

func TestConfirmationMode(t *testing.T) {
	assert.Equal(t, "flag", Confirmation{Flag: true}.Mode())
	assert.Equal(t, "token", Confirmation{Token: "t"}.Mode())
	assert.Equal(t, "", Confirmation{}.Mode())
}
