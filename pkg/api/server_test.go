package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/procurahq/procura/pkg/audit"
	"github.com/procurahq/procura/pkg/auth"
	"github.com/procurahq/procura/pkg/confirm"
	"github.com/procurahq/procura/pkg/domain"
	"github.com/procurahq/procura/pkg/erp"
	"github.com/procurahq/procura/pkg/erpsync"
	"github.com/procurahq/procura/pkg/service"
	"github.com/procurahq/procura/pkg/store"
)

const testJWTSecret = "test-secret"

type apiFixture struct {
	t       *testing.T
	handler http.Handler
	mock    *erp.Mock
	st      *store.Store
}

func newAPIFixture(t *testing.T, limiter auth.Limiter) *apiFixture {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	require.NoError(t, st.Init(ctx))
	require.NoError(t, st.EnsureTenant(ctx, "acme", "Acme Ltda", time.Now()))
	require.NoError(t, st.EnsureTenant(ctx, "globex", "Globex SA", time.Now()))

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	auditLog := audit.NewLoggerWithWriter(io.Discard)
	svc := service.New(st, confirm.NewGate(auditLog), auditLog, log, "https://app.example.com")

	mock := erp.NewMock()
	scheduler := erpsync.NewScheduler(st, mock, erpsync.DefaultConfig(), log)

	server := New(svc, scheduler, st, log, "test").WithRuntimeInfo(false, true)
	return &apiFixture{
		t:       t,
		handler: server.Handler(auth.NewJWTValidator(testJWTSecret), limiter, nil),
		mock:    mock,
		st:      st,
	}
}

// do performs one request as tenant "acme" unless headers override.
func (f *apiFixture) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	f.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(f.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if headers == nil {
		headers = map[string]string{"X-Tenant-Id": "acme"}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &m), "body: %s", rr.Body.String())
	return m
}

func TestHealthIsPublic(t *testing.T) {
	f := newAPIFixture(t, nil)
	rr := f.do(http.MethodGet, "/health", nil, map[string]string{})

	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "ok", body["db"])
	assert.Equal(t, true, body["worker"])
	assert.NotEmpty(t, rr.Header().Get("X-Request-Id"))
	assert.NotEmpty(t, rr.Header().Get("X-Response-Time-Ms"))
}

func TestMissingCredentialsAreRejected(t *testing.T) {
	f := newAPIFixture(t, nil)
	rr := f.do(http.MethodGet, "/api/procurement/fornecedores", nil, map[string]string{})

	require.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "unauthorized", decodeBody(t, rr)["error"])
}

func TestBearerTokenCarriesTenant(t *testing.T) {
	f := newAPIFixture(t, nil)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-7",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		TenantID: "acme",
		Roles:    []string{"admin"},
	}).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)

	rr := f.do(http.MethodGet, "/api/procurement/fornecedores", nil,
		map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, http.StatusOK, rr.Code)

	// A token signed with another secret is refused.
	bad, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-7"},
		TenantID:         "acme",
	}).SignedString([]byte("wrong"))
	require.NoError(t, err)
	rr = f.do(http.MethodGet, "/api/procurement/fornecedores", nil,
		map[string]string{"Authorization": "Bearer " + bad})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRequestsAreTenantScoped(t *testing.T) {
	f := newAPIFixture(t, nil)

	rr := f.do(http.MethodPost, "/api/procurement/solicitacoes", map[string]any{
		"requested_by": "ana",
		"department":   "TI",
		"items": []map[string]any{
			{"description": "Cabo de rede cat6", "quantity": 10, "uom": "un"},
		},
	}, nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decodeBody(t, rr)
	assert.Equal(t, "PR-000001", created["number"])

	rr = f.do(http.MethodGet, "/api/procurement/solicitacoes/1", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.Contains(t, body, "allowed_actions")
	assert.Contains(t, body, "steps")

	// Another tenant cannot see it.
	rr = f.do(http.MethodGet, "/api/procurement/solicitacoes/1", nil,
		map[string]string{"X-Tenant-Id": "globex"})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestErrorBodyShape(t *testing.T) {
	f := newAPIFixture(t, nil)

	rr := f.do(http.MethodGet, "/api/procurement/solicitacoes/abc", nil, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, "invalid_id", body["error"])
	assert.NotEmpty(t, body["message"])
	assert.NotEmpty(t, body["request_id"])

	rr = f.do(http.MethodGet, "/api/procurement/solicitacoes/99", nil, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "not_found", decodeBody(t, rr)["error"])
}

func TestMalformedJSONIsRejected(t *testing.T) {
	f := newAPIFixture(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/procurement/solicitacoes",
		bytes.NewBufferString("{not json"))
	req.Header.Set("X-Tenant-Id", "acme")
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "invalid_json", decodeBody(t, rr)["error"])
}

// award walks the API through request -> rfq and returns the rfq id.
func (f *apiFixture) openRfq() int64 {
	f.t.Helper()
	rr := f.do(http.MethodPost, "/api/procurement/solicitacoes", map[string]any{
		"requested_by": "ana",
		"items":        []map[string]any{{"description": "Cabo", "quantity": 2}},
	}, nil)
	require.Equal(f.t, http.StatusCreated, rr.Code, rr.Body.String())
	items := decodeBody(f.t, rr)["items"].([]any)
	itemID := items[0].(map[string]any)["id"].(float64)

	rr = f.do(http.MethodPost, "/api/procurement/rfqs", map[string]any{
		"title":                     "Compra de cabos",
		"purchase_request_item_ids": []float64{itemID},
	}, nil)
	require.Equal(f.t, http.StatusCreated, rr.Code, rr.Body.String())
	return int64(decodeBody(f.t, rr)["id"].(float64))
}

func TestConfirmationFlowsThroughQueryAndBody(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.openRfq()

	award := map[string]any{"supplier_name": "Fornecedor Alfa", "reason": "melhor preco"}

	rr := f.do(http.MethodPost, "/api/procurement/rfqs/1/award", award, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, "confirmation_required", body["error"])
	assert.Contains(t, body, "details")

	// Nothing changed server-side; the same call with ?confirm=true lands.
	rr = f.do(http.MethodPost, "/api/procurement/rfqs/1/award?confirm=true", award, nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	// Body-level confirm works the same way on the next critical action.
	awardID := decodeBody(t, rr)["award_id"].(float64)
	rr = f.do(http.MethodDelete, "/api/procurement/awards/"+strconv.FormatInt(int64(awardID), 10),
		map[string]any{"confirm": true}, nil)
	assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
}

func TestFlowDenialSurfacesAllowedActions(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.openRfq()

	award := map[string]any{"supplier_name": "Fornecedor Alfa", "reason": "melhor preco"}
	rr := f.do(http.MethodPost, "/api/procurement/rfqs/1/award?confirm=true", award, nil)
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = f.do(http.MethodPost, "/api/procurement/rfqs/1/award?confirm=true", award, nil)
	require.Equal(t, http.StatusConflict, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, "action_not_allowed_for_status", body["error"])
	details := body["details"].(map[string]any)
	assert.Contains(t, details, "allowed_actions")
}

func TestSupplierPortalIsPublic(t *testing.T) {
	f := newAPIFixture(t, nil)
	rr := f.do(http.MethodGet, "/api/fornecedor/convite/some-unknown-token", nil, map[string]string{})
	// Public path: the 404 comes from the service, not the auth layer.
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "not_found", decodeBody(t, rr)["error"])
}

// adminHeaders identifies the acme tenant with the admin role.
func adminHeaders() map[string]string {
	return map[string]string{"X-Tenant-Id": "acme", "X-Role": "admin"}
}

func TestSyncTriggerEndpoint(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.mock.SeedRecords("acme", "supplier", erp.Record{
		Entity: "supplier", ExternalID: "S-1",
		UpdatedAt: time.Now().Add(-time.Hour),
		Fields:    map[string]any{"name": "Fornecedor Alfa"},
	})

	rr := f.do(http.MethodPost, "/api/procurement/integrations/sync?scope=supplier", nil, adminHeaders())
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body := decodeBody(t, rr)
	assert.Equal(t, float64(1), body["records_in"])
	assert.Equal(t, float64(1), body["records_upserted"])
	assert.Equal(t, "succeeded", body["status"])

	rr = f.do(http.MethodPost, "/api/procurement/integrations/sync?scope=nota_fiscal", nil, adminHeaders())
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "unknown_scope", decodeBody(t, rr)["error"])
}

func TestOutboxListEndpoint(t *testing.T) {
	f := newAPIFixture(t, nil)
	rr := f.do(http.MethodGet, "/api/procurement/integrations/outbox?limit=5", nil, adminHeaders())
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.Contains(t, body, "runs")
}

func TestIntegrationEndpointsRequireAdmin(t *testing.T) {
	f := newAPIFixture(t, nil)

	// Default headers carry the member role only.
	for _, ep := range []struct{ method, path string }{
		{http.MethodPost, "/api/procurement/integrations/sync?scope=supplier"},
		{http.MethodGet, "/api/procurement/integrations/outbox"},
		{http.MethodPost, "/api/procurement/integrations/outbox/1/retry"},
	} {
		rr := f.do(ep.method, ep.path, nil, nil)
		require.Equal(t, http.StatusForbidden, rr.Code, "%s %s", ep.method, ep.path)
		body := decodeBody(t, rr)
		assert.Equal(t, "role_required", body["error"])
	}

	// Non-admin roles are still forbidden; only admin passes.
	rr := f.do(http.MethodGet, "/api/procurement/integrations/outbox", nil,
		map[string]string{"X-Tenant-Id": "acme", "X-Role": "buyer"})
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestRetryOutboxEndpoint(t *testing.T) {
	f := newAPIFixture(t, nil)

	// Unknown run id.
	rr := f.do(http.MethodPost, "/api/procurement/integrations/outbox/99/retry",
		map[string]any{"confirm": true}, adminHeaders())
	require.Equal(t, http.StatusNotFound, rr.Code, rr.Body.String())
	assert.Equal(t, "not_found", decodeBody(t, rr)["error"])

	// Pull runs cannot be re-opened as pushes.
	repo, err := f.st.Tenant("acme")
	require.NoError(t, err)
	ctx := context.Background()
	pull := &domain.SyncRun{Scope: "supplier", Status: domain.SyncFailed, Attempt: 1, StartedAt: time.Now()}
	require.NoError(t, repo.CreateSyncRun(ctx, pull))
	rr = f.do(http.MethodPost, "/api/procurement/integrations/outbox/"+strconv.FormatInt(pull.ID, 10)+"/retry",
		map[string]any{"confirm": true}, adminHeaders())
	require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
	assert.Equal(t, "not_an_outbox_run", decodeBody(t, rr)["error"])
}

func TestTimelineEndpoint(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.openRfq()

	rr := f.do(http.MethodGet, "/api/procurement/rfq/1/events", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body := decodeBody(t, rr)
	events := body["events"].([]any)
	require.NotEmpty(t, events)
	first := events[0].(map[string]any)
	assert.Equal(t, "rfq_created", first["reason"])

	rr = f.do(http.MethodGet, "/api/procurement/naves/1/events", nil, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "unknown_entity", decodeBody(t, rr)["error"])
}

func TestRateLimitReturns429(t *testing.T) {
	f := newAPIFixture(t, auth.NewMemoryLimiter(1, 1))

	first := f.do(http.MethodGet, "/api/procurement/fornecedores", nil, nil)
	require.Equal(t, http.StatusOK, first.Code)

	second := f.do(http.MethodGet, "/api/procurement/fornecedores", nil, nil)
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "1", second.Header().Get("Retry-After"))
	assert.Equal(t, "rate_limited", decodeBody(t, second)["error"])

	// Another route has its own budget.
	other := f.do(http.MethodGet, "/api/procurement/solicitacoes/99", nil, nil)
	assert.NotEqual(t, http.StatusTooManyRequests, other.Code)
}
