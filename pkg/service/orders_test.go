package service

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procurahq/procura/pkg/domain"
	"github.com/procurahq/procura/pkg/store"
)

// A supplier lookup failing for infrastructure reasons must surface as a
// system error, not silently narrow the awarded quote to "no priced items".
func TestAwardedQuoteSurfacesSupplierLookupFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	st := store.NewWithDB(db)
	repo, err := st.Tenant("acme")
	require.NoError(t, err)

	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT tenant_id, id, rfq_id, supplier_id, currency, status, created_at, updated_at").
		WillReturnRows(sqlmock.NewRows([]string{
			"tenant_id", "id", "rfq_id", "supplier_id", "currency", "status", "created_at", "updated_at",
		}).AddRow("acme", int64(3), int64(1), int64(7), "BRL", "submitted", now, now))
	mock.ExpectQuery("SELECT tenant_id, id, name, email, external_id, created_at, updated_at").
		WillReturnError(assert.AnError)

	quote, derr := awardedQuote(context.Background(), repo, 1, "Fornecedor Alfa")
	require.NotNil(t, derr)
	assert.Equal(t, domain.KindSystem, derr.Kind)
	assert.Nil(t, quote)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A supplier deleted between quoting and awarding is skipped, not fatal.
func TestAwardedQuoteSkipsMissingSuppliers(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	st := store.NewWithDB(db)
	repo, err := st.Tenant("acme")
	require.NoError(t, err)

	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT tenant_id, id, rfq_id, supplier_id, currency, status, created_at, updated_at").
		WillReturnRows(sqlmock.NewRows([]string{
			"tenant_id", "id", "rfq_id", "supplier_id", "currency", "status", "created_at", "updated_at",
		}).
			AddRow("acme", int64(3), int64(1), int64(7), "BRL", "submitted", now, now).
			AddRow("acme", int64(4), int64(1), int64(8), "BRL", "submitted", now, now))
	mock.ExpectQuery("SELECT tenant_id, id, name, email, external_id, created_at, updated_at").
		WillReturnError(store.ErrNotFound)
	mock.ExpectQuery("SELECT tenant_id, id, name, email, external_id, created_at, updated_at").
		WillReturnRows(sqlmock.NewRows([]string{
			"tenant_id", "id", "name", "email", "external_id", "created_at", "updated_at",
		}).AddRow("acme", int64(8), "Fornecedor Alfa", "alfa@example.com", nil, now, now))

	quote, derr := awardedQuote(context.Background(), repo, 1, "Fornecedor Alfa")
	require.Nil(t, derr)
	require.NotNil(t, quote)
	assert.Equal(t, int64(4), quote.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
