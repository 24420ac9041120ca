package erpsync

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/procurahq/procura/pkg/domain"
	"github.com/procurahq/procura/pkg/erp"
	"github.com/procurahq/procura/pkg/store"
)

func TestNormalizeReceiptStatus(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cases := []struct {
		raw  string
		want domain.ReceiptStatus
	}{
		{"pending", domain.ReceiptPending},
		{"  Received ", domain.ReceiptReceived},
		{"partially_received", domain.ReceiptPartiallyReceived},
		{"Recebimento Parcial", domain.ReceiptPartiallyReceived},
		{"partial delivery", domain.ReceiptPartiallyReceived},
		{"Recebido", domain.ReceiptReceived},
		{"concluido", domain.ReceiptReceived},
		{"COMPLETED", domain.ReceiptReceived},
		{"aguardando", domain.ReceiptPending},
		{"", domain.ReceiptPending},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, normalizeReceiptStatus(tc.raw, log), "raw=%q", tc.raw)
	}
}

func TestNormalizeRequestStatus(t *testing.T) {
	cases := []struct {
		raw  string
		want domain.RequestStatus
	}{
		{"in_rfq", domain.RequestInRfq},
		{" Awarded ", domain.RequestAwarded},
		{"cancelled", domain.RequestCancelled},
		{"em aprovacao", domain.RequestPendingRfq},
		{"", domain.RequestPendingRfq},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, normalizeRequestStatus(tc.raw), "raw=%q", tc.raw)
	}
}

func TestNormalizePriority(t *testing.T) {
	assert.Equal(t, domain.PriorityHigh, normalizePriority(" HIGH "))
	assert.Equal(t, domain.PriorityMedium, normalizePriority("urgentissima"))
	assert.Equal(t, domain.PriorityMedium, normalizePriority(""))
}

// A broken database must fail the record, not masquerade as an untracked
// order: otherwise the watermark would advance past data we never applied.
func TestOrderLookupFailureFailsRecord(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, st.Init(ctx))
	require.NoError(t, st.EnsureTenant(ctx, "acme", "Acme Ltda", time.Now()))
	repo, err := st.Tenant("acme")
	require.NoError(t, err)
	require.NoError(t, st.Close())

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	now := time.Now().UTC()
	rec := erp.Record{
		Entity:     ScopeReceipt,
		ExternalID: "REC-1",
		UpdatedAt:  now,
		Fields: map[string]any{
			"purchase_order_external_id": "SENIOR-OC-000001",
			"status":                     "received",
		},
	}

	_, err = upsertReceipt(ctx, repo, rec, now, log)
	assert.Error(t, err)

	_, err = upsertOrderStatus(ctx, repo, erp.Record{
		Entity: ScopePurchaseOrder, ExternalID: "SENIOR-OC-000001",
		UpdatedAt: now, Fields: map[string]any{"status": "received"},
	}, now)
	assert.Error(t, err)

	_, err = upsertQuoteRefs(ctx, repo, erp.Record{
		Entity: ScopeQuote, ExternalID: "COT-1", UpdatedAt: now,
		Fields: map[string]any{"purchase_request_external_id": "SC-100", "num_cot": "55"},
	}, now)
	assert.Error(t, err)
}

func TestFieldTimeParsesRFC3339Only(t *testing.T) {
	fields := map[string]any{
		"good": "2026-03-02T14:00:00Z",
		"bad":  "02/03/2026",
		"num":  42,
	}
	got := fieldTime(fields, "good")
	if assert.NotNil(t, got) {
		assert.Equal(t, time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC), got.UTC())
	}
	assert.Nil(t, fieldTime(fields, "bad"))
	assert.Nil(t, fieldTime(fields, "num"))
	assert.Nil(t, fieldTime(fields, "missing"))
}
