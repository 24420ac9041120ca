package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	_ "modernc.org/sqlite"

	"github.com/procurahq/procura/pkg/audit"
	"github.com/procurahq/procura/pkg/auth"
	"github.com/procurahq/procura/pkg/confirm"
	"github.com/procurahq/procura/pkg/domain"
	"github.com/procurahq/procura/pkg/erp"
	"github.com/procurahq/procura/pkg/erp/breaker"
	"github.com/procurahq/procura/pkg/outbox"
	"github.com/procurahq/procura/pkg/store"
)

// fixture wires a service against an in-memory database, the mock ERP and a
// movable clock shared by every collaborator.
type fixture struct {
	t    *testing.T
	svc  *Service
	st   *store.Store
	mock *erp.Mock
	ctx  context.Context
	now  time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	require.NoError(t, st.Init(ctx))
	require.NoError(t, st.EnsureTenant(ctx, "acme", "Acme Ltda", time.Now()))

	f := &fixture{
		t:    t,
		st:   st,
		mock: erp.NewMock(),
		now:  time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
	auditLog := audit.NewLoggerWithWriter(io.Discard)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = New(st, confirm.NewGate(auditLog), auditLog, log, "https://app.example.com").
		WithClock(func() time.Time { return f.now })
	f.ctx = auth.WithPrincipal(context.Background(), &auth.BasePrincipal{
		ID: "buyer-1", TenantID: "acme", Roles: []string{"admin"},
	})
	return f
}

func (f *fixture) worker() *outbox.Worker {
	f.t.Helper()
	w, err := outbox.NewWorker(f.st, f.mock, breaker.New(breaker.Config{Enabled: false}),
		outbox.Config{MaxAttempts: 3, Backoff: time.Second, MaxBackoff: time.Minute,
			Interval: time.Second, BatchSize: 10},
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		noop.NewMeterProvider().Meter("test"), nil)
	require.NoError(f.t, err)
	return w.WithClock(func() time.Time { return f.now })
}

func (f *fixture) repo() *store.Repo {
	f.t.Helper()
	r, err := f.st.Tenant("acme")
	require.NoError(f.t, err)
	return r
}

func payloadMap(t *testing.T, res domain.Result) map[string]any {
	t.Helper()
	require.Nil(t, res.Err, "unexpected error: %+v", res.Err)
	m, ok := res.Payload.(map[string]any)
	require.True(t, ok, "payload is %T", res.Payload)
	return m
}

func (f *fixture) createRequest(items ...string) (int64, []int64) {
	f.t.Helper()
	in := CreatePurchaseRequestInput{RequestedBy: "ana", Department: "TI"}
	for _, desc := range items {
		in.Items = append(in.Items, RequestItemInput{Description: desc, Quantity: 10, Uom: "un"})
	}
	m := payloadMap(f.t, f.svc.CreatePurchaseRequest(f.ctx, in))
	created := m["items"].([]domain.PurchaseRequestItem)
	ids := make([]int64, 0, len(created))
	for _, it := range created {
		ids = append(ids, it.ID)
	}
	return m["id"].(int64), ids
}

func (f *fixture) createRfq(itemIDs []int64) (int64, []int64) {
	f.t.Helper()
	m := payloadMap(f.t, f.svc.CreateRfq(f.ctx, CreateRfqInput{
		Title: "Compra de rede", PurchaseRequestItemIDs: itemIDs,
	}))
	items := m["items"].([]domain.RfqItem)
	ids := make([]int64, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	return m["id"].(int64), ids
}

func (f *fixture) createSupplier(name string) int64 {
	f.t.Helper()
	res := f.svc.CreateSupplier(f.ctx, CreateSupplierInput{Name: name, Email: name + "@example.com"})
	require.Nil(f.t, res.Err)
	sup, ok := res.Payload.(*domain.Supplier)
	require.True(f.t, ok, "payload is %T", res.Payload)
	return sup.ID
}

func (f *fixture) invite(rfqID, supplierID int64, itemIDs ...int64) (inviteID int64, token string) {
	f.t.Helper()
	m := payloadMap(f.t, f.svc.InviteSuppliers(f.ctx, rfqID, InviteSuppliersInput{
		SupplierIDs: []int64{supplierID}, ItemIDs: itemIDs,
	}))
	issued := m["invites"].([]InvitedSupplier)
	require.Len(f.t, issued, 1)
	return issued[0].InviteID, issued[0].Token
}

func (f *fixture) eventReasons(entity domain.EntityKind, id int64) []string {
	f.t.Helper()
	evs, err := f.repo().ListStatusEvents(context.Background(), entity, id)
	require.NoError(f.t, err)
	reasons := make([]string, 0, len(evs))
	for _, e := range evs {
		reasons = append(reasons, e.Reason)
	}
	return reasons
}

func TestProcurementHappyPath(t *testing.T) {
	f := newFixture(t)

	prID, itemIDs := f.createRequest("Cabo de rede cat6", "Switch 24 portas")
	// Creation itself leaves no trail; the first event is the RFQ pull.
	assert.Empty(t, f.eventReasons(domain.EntityPurchaseRequest, prID))

	rfqID, rfqItemIDs := f.createRfq(itemIDs)
	assert.Equal(t, []string{domain.ReasonRfqCreated}, f.eventReasons(domain.EntityPurchaseRequest, prID))
	assert.Equal(t, []string{domain.ReasonRfqCreated}, f.eventReasons(domain.EntityRfq, rfqID))

	supID := f.createSupplier("Fornecedor Alfa")
	_, token := f.invite(rfqID, supID)

	open := payloadMap(t, f.svc.OpenSupplierInvite(context.Background(), token))
	inv := open["invite"].(*domain.RfqSupplierInvite)
	assert.Equal(t, domain.InviteOpened, inv.Status)

	quote := payloadMap(t, f.svc.SubmitSupplierQuote(context.Background(), token, SubmitQuoteInput{
		Items: []QuoteItemInput{
			{RfqItemID: rfqItemIDs[0], UnitPrice: 15},
			{RfqItemID: rfqItemIDs[1], UnitPrice: 1200},
		},
	}))
	assert.Equal(t, 2, quote["items_accepted"])
	assert.Equal(t, []string{domain.ReasonRfqCreated, domain.ReasonQuoteReceived},
		f.eventReasons(domain.EntityRfq, rfqID))

	awardRes := payloadMap(t, f.svc.AwardRfq(f.ctx, rfqID,
		AwardRfqInput{SupplierName: "Fornecedor Alfa", Reason: "melhor preco"},
		confirm.Confirmation{Flag: true, Principal: "buyer-1"}))
	awardID := awardRes["award_id"].(int64)
	assert.Equal(t, []string{domain.ReasonRfqCreated, domain.ReasonQuoteReceived, domain.ReasonRfqAwarded},
		f.eventReasons(domain.EntityRfq, rfqID))
	assert.Equal(t, []string{domain.ReasonAwardCreated}, f.eventReasons(domain.EntityAward, awardID))

	poRes := payloadMap(t, f.svc.CreatePurchaseOrderFromAward(f.ctx, awardID,
		confirm.Confirmation{Flag: true}))
	poID := poRes["purchase_order_id"].(int64)
	assert.InDelta(t, 10*15+10*1200, poRes["total_amount"].(float64), 1e-9)

	push := payloadMap(t, f.svc.EnqueueErpPush(f.ctx, poID, confirm.Confirmation{Flag: true}))
	assert.Equal(t, true, push["queued"])

	f.now = f.now.Add(time.Second)
	n, err := f.worker().RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	po, err := f.repo().GetPurchaseOrder(context.Background(), poID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderErpAccepted, po.Status)
	require.NotNil(t, po.ExternalID)
	assert.Equal(t, fmt.Sprintf("SENIOR-OC-%06d", poID), *po.ExternalID)

	assert.Equal(t, []string{
		domain.ReasonPoCreatedFromAward,
		domain.ReasonPoPushQueued,
		domain.ReasonPoPushSucceeded,
	}, f.eventReasons(domain.EntityPurchaseOrder, poID))
}

func TestFlowDenialEchoesAllowedActions(t *testing.T) {
	f := newFixture(t)
	_, itemIDs := f.createRequest("Cabo de rede")
	rfqID, _ := f.createRfq(itemIDs)

	res := f.svc.AwardRfq(f.ctx, rfqID,
		AwardRfqInput{SupplierName: "Alguem", Reason: "r"}, confirm.Confirmation{Flag: true})
	payloadMap(t, res)

	// A second award hits the policy table: awarded RFQs are terminal.
	res = f.svc.AwardRfq(f.ctx, rfqID,
		AwardRfqInput{SupplierName: "Outro", Reason: "r"}, confirm.Confirmation{Flag: true})
	require.NotNil(t, res.Err)
	assert.Equal(t, "action_not_allowed_for_status", res.Err.Code)
	assert.Equal(t, domain.KindFlowPolicy, res.Err.Kind)
	assert.Contains(t, res.Err.Details, "allowed_actions")
	assert.Equal(t, 409, res.StatusCode)
}

func TestCriticalActionRequiresConfirmation(t *testing.T) {
	f := newFixture(t)
	_, itemIDs := f.createRequest("Cabo de rede")
	rfqID, _ := f.createRfq(itemIDs)

	res := f.svc.AwardRfq(f.ctx, rfqID,
		AwardRfqInput{SupplierName: "Alguem", Reason: "r"}, confirm.Confirmation{})
	require.NotNil(t, res.Err)
	assert.Equal(t, "confirmation_required", res.Err.Code)

	// The refusal left no partial state behind.
	rfq, err := f.repo().GetRfq(context.Background(), rfqID)
	require.NoError(t, err)
	assert.Equal(t, domain.RfqOpen, rfq.Status)
	assert.Equal(t, []string{domain.ReasonRfqCreated}, f.eventReasons(domain.EntityRfq, rfqID))
}

func TestEnqueueErpPushIsIdempotent(t *testing.T) {
	f := newFixture(t)
	poID := f.pushReadyOrder()

	first := payloadMap(t, f.svc.EnqueueErpPush(f.ctx, poID, confirm.Confirmation{Flag: true}))
	second := payloadMap(t, f.svc.EnqueueErpPush(f.ctx, poID, confirm.Confirmation{Flag: true}))
	assert.Equal(t, first["sync_run_id"], second["sync_run_id"])
	assert.Equal(t, true, second["queued"])

	// Exactly one pending run exists for the order.
	run, err := f.repo().FindPendingOutboxRunForOrder(context.Background(), poID)
	require.NoError(t, err)
	assert.Equal(t, first["sync_run_id"], run.ID)
	assert.Equal(t, []string{domain.ReasonPoCreatedFromAward, domain.ReasonPoPushQueued},
		f.eventReasons(domain.EntityPurchaseOrder, poID))
}

// pushReadyOrder walks the flow up to an approved purchase order.
func (f *fixture) pushReadyOrder() int64 {
	f.t.Helper()
	_, itemIDs := f.createRequest("Cabo de rede")
	rfqID, rfqItemIDs := f.createRfq(itemIDs)
	supID := f.createSupplier("Fornecedor Alfa")
	_, token := f.invite(rfqID, supID)
	payloadMap(f.t, f.svc.SubmitSupplierQuote(context.Background(), token, SubmitQuoteInput{
		Items: []QuoteItemInput{{RfqItemID: rfqItemIDs[0], UnitPrice: 15}},
	}))
	awardRes := payloadMap(f.t, f.svc.AwardRfq(f.ctx, rfqID,
		AwardRfqInput{SupplierName: "Fornecedor Alfa", Reason: "melhor preco"},
		confirm.Confirmation{Flag: true}))
	poRes := payloadMap(f.t, f.svc.CreatePurchaseOrderFromAward(f.ctx,
		awardRes["award_id"].(int64), confirm.Confirmation{Flag: true}))
	return poRes["purchase_order_id"].(int64)
}

func TestAwardConvertsToOrderOnlyOnce(t *testing.T) {
	f := newFixture(t)
	poID := f.pushReadyOrder()

	award, err := f.repo().LatestAwardForRfq(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, award.PurchaseOrderID)
	assert.Equal(t, poID, *award.PurchaseOrderID)

	res := f.svc.CreatePurchaseOrderFromAward(f.ctx, award.ID, confirm.Confirmation{Flag: true})
	require.NotNil(t, res.Err)
	assert.Equal(t, "award_already_converted", res.Err.Code)
	assert.Equal(t, poID, res.Err.Details["purchase_order_id"])
}

func TestErpManagedRequestIsReadonly(t *testing.T) {
	f := newFixture(t)
	prID, _ := f.createRequest("Cabo de rede")

	// Simulate the pull landing an ERP quotation number on the mirror.
	ctx := context.Background()
	pr, err := f.repo().GetPurchaseRequest(ctx, prID)
	require.NoError(t, err)
	numCot := "COT-881"
	pr.ErpNumCot = &numCot
	require.NoError(t, f.repo().UpdatePurchaseRequest(ctx, pr))

	dept := "Financeiro"
	res := f.svc.UpdatePurchaseRequest(f.ctx, prID, UpdatePurchaseRequestInput{Department: &dept})
	require.NotNil(t, res.Err)
	assert.Equal(t, "erp_managed_purchase_request_readonly", res.Err.Code)
	assert.Equal(t, domain.KindErpReadonly, res.Err.Kind)
}

func TestInviteExpiryIsLazyAndSticky(t *testing.T) {
	f := newFixture(t)
	_, itemIDs := f.createRequest("Cabo de rede")
	rfqID, _ := f.createRfq(itemIDs)
	supID := f.createSupplier("Fornecedor Alfa")

	m := payloadMap(t, f.svc.InviteSuppliers(f.ctx, rfqID, InviteSuppliersInput{
		SupplierIDs: []int64{supID}, ValidDays: 1,
	}))
	issued := m["invites"].([]InvitedSupplier)
	inviteID, token := issued[0].InviteID, issued[0].Token

	f.now = f.now.AddDate(0, 0, 3)
	res := f.svc.OpenSupplierInvite(context.Background(), token)
	require.NotNil(t, res.Err)
	assert.Equal(t, "invite_expired", res.Err.Code)
	assert.Equal(t, 410, res.StatusCode)

	// The expiry was persisted even though the call failed.
	inv, err := f.repo().GetInvite(context.Background(), inviteID)
	require.NoError(t, err)
	assert.Equal(t, domain.InviteExpired, inv.Status)

	// And submitting through the token fails the same way.
	res = f.svc.SubmitSupplierQuote(context.Background(), token, SubmitQuoteInput{
		Items: []QuoteItemInput{{RfqItemID: 1, UnitPrice: 1}},
	})
	require.NotNil(t, res.Err)
	assert.Equal(t, "invite_expired", res.Err.Code)
}

func TestSubmitQuoteRejectsUninvitedItems(t *testing.T) {
	f := newFixture(t)
	_, itemIDs := f.createRequest("Cabo de rede", "Switch 24 portas")
	rfqID, rfqItemIDs := f.createRfq(itemIDs)
	supID := f.createSupplier("Fornecedor Alfa")

	// Invite covers only the first item.
	_, token := f.invite(rfqID, supID, rfqItemIDs[0])

	res := f.svc.SubmitSupplierQuote(context.Background(), token, SubmitQuoteInput{
		Items: []QuoteItemInput{{RfqItemID: rfqItemIDs[1], UnitPrice: 99}},
	})
	require.NotNil(t, res.Err)
	assert.Equal(t, "supplier_not_invited_for_items", res.Err.Code)
	assert.Contains(t, res.Err.Details, "supplier_not_invited_for_items")

	// A mixed payload keeps the invited intersection.
	m := payloadMap(t, f.svc.SubmitSupplierQuote(context.Background(), token, SubmitQuoteInput{
		Items: []QuoteItemInput{
			{RfqItemID: rfqItemIDs[0], UnitPrice: 15},
			{RfqItemID: rfqItemIDs[1], UnitPrice: 99},
		},
	}))
	assert.Equal(t, 1, m["items_accepted"])
}

func TestReinviteRetiresPriorInvite(t *testing.T) {
	f := newFixture(t)
	_, itemIDs := f.createRequest("Cabo de rede")
	rfqID, _ := f.createRfq(itemIDs)
	supID := f.createSupplier("Fornecedor Alfa")

	firstID, firstToken := f.invite(rfqID, supID)
	secondID, _ := f.invite(rfqID, supID)
	require.NotEqual(t, firstID, secondID)

	ctx := context.Background()
	prior, err := f.repo().GetInvite(ctx, firstID)
	require.NoError(t, err)
	assert.Equal(t, domain.InviteCancelled, prior.Status)

	res := f.svc.OpenSupplierInvite(ctx, firstToken)
	require.NotNil(t, res.Err)
	assert.Equal(t, domain.KindNotFound, res.Err.Kind)
}

func TestRetryOutboxRunReopensDeadLetteredPush(t *testing.T) {
	f := newFixture(t)
	poID := f.pushReadyOrder()
	f.mock.FailPushWith(fmt.Sprintf("%d", poID),
		&erp.Error{Definitive: true, Details: "fornecedor recusou", StatusCode: 422})

	queued := payloadMap(t, f.svc.EnqueueErpPush(f.ctx, poID, confirm.Confirmation{Flag: true}))
	runID := queued["sync_run_id"].(int64)

	f.now = f.now.Add(time.Second)
	n, err := f.worker().RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	ctx := context.Background()
	po, err := f.repo().GetPurchaseOrder(ctx, poID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderErpError, po.Status)

	dead, err := f.repo().GetSyncRun(ctx, runID)
	require.NoError(t, err)
	require.Equal(t, domain.SyncFailed, dead.Status)
	payload, err := outbox.ParsePayload(dead.PayloadRef)
	require.NoError(t, err)
	require.True(t, payload.DeadLetter)

	// Critical action: no confirmation, no retry.
	res := f.svc.RetryOutboxRun(f.ctx, runID, confirm.Confirmation{})
	require.NotNil(t, res.Err)
	assert.Equal(t, "confirmation_required", res.Err.Code)

	m := payloadMap(t, f.svc.RetryOutboxRun(f.ctx, runID, confirm.Confirmation{Flag: true, Principal: "buyer-1"}))
	freshID := m["sync_run_id"].(int64)
	assert.NotEqual(t, runID, freshID)
	assert.Equal(t, runID, m["parent_sync_run_id"])

	po, err = f.repo().GetPurchaseOrder(ctx, poID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderSentToErp, po.Status)
	assert.Nil(t, po.ErpLastError)

	fresh, err := f.repo().GetSyncRun(ctx, freshID)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncRunning, fresh.Status)
	require.NotNil(t, fresh.ParentSyncRunID)
	assert.Equal(t, runID, *fresh.ParentSyncRunID)
	childPayload, err := outbox.ParsePayload(fresh.PayloadRef)
	require.NoError(t, err)
	assert.False(t, childPayload.DeadLetter)

	// The order left erp_error, so a second retry hits the policy table.
	res = f.svc.RetryOutboxRun(f.ctx, runID, confirm.Confirmation{Flag: true, Principal: "buyer-1"})
	require.NotNil(t, res.Err)
	assert.Equal(t, "action_not_allowed_for_status", res.Err.Code)

	// The mock's failure script was consumed, so the reopened push lands.
	f.now = f.now.Add(time.Second)
	n, err = f.worker().RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	po, err = f.repo().GetPurchaseOrder(ctx, poID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderErpAccepted, po.Status)
}

func TestRetryOutboxRunRejectsLiveRuns(t *testing.T) {
	f := newFixture(t)
	poID := f.pushReadyOrder()
	queued := payloadMap(t, f.svc.EnqueueErpPush(f.ctx, poID, confirm.Confirmation{Flag: true}))
	runID := queued["sync_run_id"].(int64)

	res := f.svc.RetryOutboxRun(f.ctx, runID, confirm.Confirmation{Flag: true, Principal: "buyer-1"})
	require.NotNil(t, res.Err)
	assert.Equal(t, "run_not_dead_lettered", res.Err.Code)
	assert.Equal(t, 409, res.StatusCode)
}

func TestTenantBindingIsMandatory(t *testing.T) {
	f := newFixture(t)
	res := f.svc.CreatePurchaseRequest(context.Background(), CreatePurchaseRequestInput{
		RequestedBy: "ana",
		Items:       []RequestItemInput{{Description: "Cabo", Quantity: 1}},
	})
	require.NotNil(t, res.Err)
	assert.Equal(t, "tenant_required", res.Err.Code)
	assert.Equal(t, 401, res.StatusCode)
}
