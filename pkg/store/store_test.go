package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/procurahq/procura/pkg/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	require.NoError(t, st.Init(ctx))
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, st.EnsureTenant(ctx, "acme", "Acme Ltda", now))
	require.NoError(t, st.EnsureTenant(ctx, "globex", "Globex SA", now))
	return st
}

func testRepo(t *testing.T, st *Store, tenant string) *Repo {
	t.Helper()
	r, err := st.Tenant(tenant)
	require.NoError(t, err)
	return r
}

func TestTenantRequiresBinding(t *testing.T) {
	st := openTestStore(t)
	_, err := st.Tenant("")
	assert.ErrorIs(t, err, ErrNoTenant)
	assert.ErrorIs(t, st.WithTenantTx(context.Background(), "", func(*Repo) error { return nil }), ErrNoTenant)
}

func TestNextIDIsMonotonePerTenant(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	acme := testRepo(t, st, "acme")
	globex := testRepo(t, st, "globex")

	for want := int64(1); want <= 3; want++ {
		id, err := acme.NextID(ctx, "purchase_request")
		require.NoError(t, err)
		assert.Equal(t, want, id)
	}
	// Another tenant and another entity both start from 1.
	id, err := globex.NextID(ctx, "purchase_request")
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
	id, err = acme.NextID(ctx, "rfq")
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
}

func newRequest(now time.Time) *domain.PurchaseRequest {
	return &domain.PurchaseRequest{
		Status:      domain.RequestPendingRfq,
		Priority:    domain.PriorityMedium,
		RequestedBy: "ana",
		Department:  "TI",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestTenantIsolation(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	acme := testRepo(t, st, "acme")
	pr := newRequest(now)
	require.NoError(t, acme.CreatePurchaseRequest(ctx, pr))
	assert.Equal(t, "PR-000001", pr.Number)

	got, err := acme.GetPurchaseRequest(ctx, pr.ID)
	require.NoError(t, err)
	assert.Equal(t, "ana", got.RequestedBy)

	// The same id does not exist for another tenant.
	globex := testRepo(t, st, "globex")
	_, err = globex.GetPurchaseRequest(ctx, pr.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWithTenantTxRollsBackOnError(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	var prID int64
	err := st.WithTenantTx(ctx, "acme", func(r *Repo) error {
		pr := newRequest(now)
		if err := r.CreatePurchaseRequest(ctx, pr); err != nil {
			return err
		}
		prID = pr.ID
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	acme := testRepo(t, st, "acme")
	_, err = acme.GetPurchaseRequest(ctx, prID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertSupplierMirror(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	acme := testRepo(t, st, "acme")

	created, err := acme.UpsertSupplierMirror(ctx, "F-001", "Fornecedor Alfa", "alfa@example.com", now)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = acme.UpsertSupplierMirror(ctx, "F-001", "Fornecedor Alfa SA", "alfa@example.com", now.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, created)

	suppliers, err := acme.ListSuppliers(ctx)
	require.NoError(t, err)
	require.Len(t, suppliers, 1)
	assert.Equal(t, "Fornecedor Alfa SA", suppliers[0].Name)
}

func TestStatusEventsAreAppendOnlyOrdered(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	acme := testRepo(t, st, "acme")

	from := "open"
	events := []*domain.StatusEvent{
		{Entity: domain.EntityRfq, EntityID: 7, ToStatus: "open", Reason: "rfq_created", OccurredAt: now},
		{Entity: domain.EntityRfq, EntityID: 7, FromStatus: &from, ToStatus: "collecting_quotes", Reason: "supplier_quote_received", OccurredAt: now.Add(time.Minute)},
	}
	for _, e := range events {
		require.NoError(t, acme.AppendStatusEvent(ctx, e))
	}

	got, err := acme.ListStatusEvents(ctx, domain.EntityRfq, 7)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "rfq_created", got[0].Reason)
	assert.Equal(t, "supplier_quote_received", got[1].Reason)
	require.NotNil(t, got[1].FromStatus)
	assert.Equal(t, "open", *got[1].FromStatus)
}

func TestWatermarkLifecycle(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	acme := testRepo(t, st, "acme")

	wm, err := acme.GetWatermark(ctx, "senior", "supplier")
	require.NoError(t, err)
	assert.Nil(t, wm.LastSuccessSourceUpdatedAt)
	assert.Nil(t, wm.LastSuccessSourceID)

	t1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	id1 := "S-10"
	require.NoError(t, acme.AdvanceWatermark(ctx, "senior", "supplier", &t1, &id1, nil, t1))

	wm, err = acme.GetWatermark(ctx, "senior", "supplier")
	require.NoError(t, err)
	require.NotNil(t, wm.LastSuccessSourceUpdatedAt)
	assert.True(t, t1.Equal(*wm.LastSuccessSourceUpdatedAt))
	assert.Equal(t, "S-10", *wm.LastSuccessSourceID)

	t2 := t1.Add(time.Hour)
	id2 := "S-11"
	require.NoError(t, acme.AdvanceWatermark(ctx, "senior", "supplier", &t2, &id2, nil, t2))
	wm, err = acme.GetWatermark(ctx, "senior", "supplier")
	require.NoError(t, err)
	assert.Equal(t, "S-11", *wm.LastSuccessSourceID)

	// Other tenants keep their own cursor.
	globex := testRepo(t, st, "globex")
	wm, err = globex.GetWatermark(ctx, "senior", "supplier")
	require.NoError(t, err)
	assert.Nil(t, wm.LastSuccessSourceID)
}

func outboxRun(t *testing.T, r *Repo, orderID int64, due time.Time) *domain.SyncRun {
	t.Helper()
	run := &domain.SyncRun{
		Scope:         string(domain.EntityPurchaseOrder),
		Status:        domain.SyncRunning,
		Attempt:       1,
		PayloadRef:    []byte(fmt.Sprintf(`{"kind":"po_push","purchase_order_id":%d}`, orderID)),
		NextAttemptAt: &due,
		StartedAt:     due.Add(-time.Minute),
	}
	created, err := r.CreateOutboxRun(context.Background(), run, orderID)
	require.NoError(t, err)
	require.True(t, created)
	return run
}

func TestCreateOutboxRunKeepsOnePendingPerOrder(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	acme := testRepo(t, st, "acme")

	first := outboxRun(t, acme, 4, now)

	// A second pending run for the same order loses the unique index and
	// reports created=false without an error.
	dup := &domain.SyncRun{
		Scope:         string(domain.EntityPurchaseOrder),
		Status:        domain.SyncRunning,
		Attempt:       1,
		PayloadRef:    first.PayloadRef,
		NextAttemptAt: &now,
		StartedAt:     now,
	}
	created, err := acme.CreateOutboxRun(ctx, dup, 4)
	require.NoError(t, err)
	assert.False(t, created)

	found, err := acme.FindPendingOutboxRunForOrder(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)

	// Another order and another tenant are unaffected.
	outboxRun(t, acme, 5, now)
	outboxRun(t, testRepo(t, st, "globex"), 4, now)

	// Once the run finishes, the slot frees up for a fresh chain.
	finished := now
	durMs := int64(5)
	first.Status = domain.SyncFailed
	first.FinishedAt = &finished
	first.DurationMs = &durMs
	require.NoError(t, acme.FinishSyncRun(ctx, first))
	outboxRun(t, acme, 4, now)
}

func TestLeaseDueOutboxRuns(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	acme := testRepo(t, st, "acme")

	due := outboxRun(t, acme, 5, now.Add(-time.Second))
	// A run due in the future must not be claimed.
	outboxRun(t, acme, 6, now.Add(time.Hour))

	claimed, err := st.LeaseDueOutboxRuns(ctx, "worker-a", now, 2*time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "acme", claimed[0].TenantID)
	assert.Equal(t, due.ID, claimed[0].RunID)

	// A second worker cannot steal the lease before it expires.
	claimed, err = st.LeaseDueOutboxRuns(ctx, "worker-b", now.Add(time.Second), 2*time.Minute, 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	// An expired lease is reclaimable.
	claimed, err = st.LeaseDueOutboxRuns(ctx, "worker-b", now.Add(3*time.Minute), 2*time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, due.ID, claimed[0].RunID)

	// Releasing makes it immediately reclaimable.
	require.NoError(t, acme.ReleaseSyncRunLease(ctx, due.ID))
	claimed, err = st.LeaseDueOutboxRuns(ctx, "worker-c", now.Add(3*time.Minute+time.Second), 2*time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
}

func TestFindPendingOutboxRunForOrder(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	acme := testRepo(t, st, "acme")

	run := outboxRun(t, acme, 9, now)
	outboxRun(t, acme, 10, now)

	found, err := acme.FindPendingOutboxRunForOrder(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, run.ID, found.ID)

	_, err = acme.FindPendingOutboxRunForOrder(ctx, 99)
	assert.ErrorIs(t, err, ErrNotFound)

	// A finished run is no longer pending.
	finished := now
	durMs := int64(10)
	run.Status = domain.SyncSucceeded
	run.FinishedAt = &finished
	run.DurationMs = &durMs
	run.RecordsIn, run.RecordsUpserted = 1, 1
	require.NoError(t, acme.FinishSyncRun(ctx, run))
	_, err = acme.FindPendingOutboxRunForOrder(ctx, 9)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHasRunningSyncRunIgnoresOutboxRows(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	acme := testRepo(t, st, "acme")

	// An outbox job row (payload set) is not a pull cycle.
	outboxRun(t, acme, 3, now)
	running, err := acme.HasRunningSyncRun(ctx, string(domain.EntityPurchaseOrder))
	require.NoError(t, err)
	assert.False(t, running)

	pull := &domain.SyncRun{
		Scope:     "supplier",
		Status:    domain.SyncRunning,
		Attempt:   1,
		StartedAt: now,
	}
	require.NoError(t, acme.CreateSyncRun(ctx, pull))
	running, err = acme.HasRunningSyncRun(ctx, "supplier")
	require.NoError(t, err)
	assert.True(t, running)
}
