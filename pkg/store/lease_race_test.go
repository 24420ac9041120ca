package store

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The optimistic lease race cannot be provoked against a single in-memory
// database, so the contended paths run against a mocked driver.

func mockedStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db), mock
}

func TestLeaseSkipsRowsClaimedByAnotherWorker(t *testing.T) {
	st, mock := mockedStore(t)
	now := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT tenant_id, id FROM sync_runs").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "id"}).
			AddRow("acme", int64(1)).
			AddRow("acme", int64(2)))
	// Another worker wins run 1 between the scan and the claim: the
	// conditional UPDATE reports zero rows and the run is skipped.
	mock.ExpectExec("UPDATE sync_runs SET leased_by").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE sync_runs SET leased_by").
		WillReturnResult(sqlmock.NewResult(0, 1))

	claimed, err := st.LeaseDueOutboxRuns(context.Background(), "worker-a", now, time.Minute, 10)
	require.NoError(t, err)
	assert.Equal(t, []LeasedRun{{TenantID: "acme", RunID: 2}}, claimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLeaseKeepsEarlierClaimsOnClaimError(t *testing.T) {
	st, mock := mockedStore(t)
	now := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT tenant_id, id FROM sync_runs").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "id"}).
			AddRow("acme", int64(1)).
			AddRow("globex", int64(7)))
	mock.ExpectExec("UPDATE sync_runs SET leased_by").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE sync_runs SET leased_by").
		WillReturnError(assert.AnError)

	claimed, err := st.LeaseDueOutboxRuns(context.Background(), "worker-a", now, time.Minute, 10)
	require.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "lease outbox run globex/7")
	// The run claimed before the error stays claimed for this worker.
	assert.Equal(t, []LeasedRun{{TenantID: "acme", RunID: 1}}, claimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLeaseWrapsScanError(t *testing.T) {
	st, mock := mockedStore(t)

	mock.ExpectQuery("SELECT tenant_id, id FROM sync_runs").
		WillReturnError(assert.AnError)

	_, err := st.LeaseDueOutboxRuns(context.Background(), "worker-a", time.Now(), time.Minute, 10)
	require.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "scan due outbox runs")
	assert.NoError(t, mock.ExpectationsWereMet())
}
