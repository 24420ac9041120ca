package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/procurahq/procura/pkg/auth"
	"github.com/procurahq/procura/pkg/confirm"
	"github.com/procurahq/procura/pkg/domain"
	"github.com/procurahq/procura/pkg/erpsync"
	"github.com/procurahq/procura/pkg/observability"
	"github.com/procurahq/procura/pkg/service"
	"github.com/procurahq/procura/pkg/store"
)

// Server wires the service layer onto HTTP routes.
type Server struct {
	svc       *service.Service
	scheduler *erpsync.Scheduler
	store     *store.Store
	log       *slog.Logger
	env       string

	metricsEnabled bool
	workerEnabled  bool
}

// New builds the HTTP adapter. The scheduler may be nil when sync is
// disabled; the sync trigger endpoint then refuses.
func New(svc *service.Service, scheduler *erpsync.Scheduler, st *store.Store, log *slog.Logger, env string) *Server {
	return &Server{
		svc:       svc,
		scheduler: scheduler,
		store:     st,
		log:       log.With("component", "api"),
		env:       env,
	}
}

// WithRuntimeInfo records which background pieces run in this process, for
// the health endpoint.
func (s *Server) WithRuntimeInfo(metricsEnabled, workerEnabled bool) *Server {
	s.metricsEnabled = metricsEnabled
	s.workerEnabled = workerEnabled
	return s
}

// Handler assembles the middleware chain around the route table.
func (s *Server) Handler(validator *auth.JWTValidator, limiter auth.Limiter, obs *observability.Provider) http.Handler {
	mux := s.routes()

	var h http.Handler = mux
	h = rateLimitMiddleware(limiter)(h)
	h = auth.Middleware(validator)(h)
	h = responseTimeMiddleware(obs)(h)
	h = auth.RequestIDMiddleware(h)
	return h
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	// Purchase requests.
	mux.HandleFunc("POST /api/procurement/solicitacoes", s.handleCreateRequest)
	mux.HandleFunc("GET /api/procurement/solicitacoes/{id}", s.handleGetRequest)
	mux.HandleFunc("PATCH /api/procurement/solicitacoes/{id}", s.handleUpdateRequest)
	mux.HandleFunc("DELETE /api/procurement/solicitacoes/{id}", s.handleCancelRequest)

	// RFQs and invites.
	mux.HandleFunc("POST /api/procurement/rfqs", s.handleCreateRfq)
	mux.HandleFunc("GET /api/procurement/rfqs/{id}", s.handleGetRfq)
	mux.HandleFunc("DELETE /api/procurement/rfqs/{id}", s.handleCancelRfq)
	mux.HandleFunc("POST /api/procurement/cotacoes/{rfq_id}/convites", s.handleInviteSuppliers)
	mux.HandleFunc("DELETE /api/procurement/convites/{id}", s.handleCancelInvite)

	// Supplier portal (public, token addressed).
	mux.HandleFunc("GET /api/fornecedor/convite/{token}", s.handleOpenInvite)
	mux.HandleFunc("POST /api/fornecedor/convite/{token}/propostas", s.handleSubmitQuote)

	// Quotes and awards.
	mux.HandleFunc("GET /api/procurement/rfqs/{id}/cotacoes", s.handleCompareQuotes)
	mux.HandleFunc("DELETE /api/procurement/rfqs/{rfq_id}/fornecedores/{supplier_id}/proposta", s.handleDeleteProposal)
	mux.HandleFunc("POST /api/procurement/rfqs/{id}/award", s.handleAwardRfq)
	mux.HandleFunc("GET /api/procurement/awards/{id}", s.handleGetAward)
	mux.HandleFunc("DELETE /api/procurement/awards/{id}", s.handleCancelAward)

	// Purchase orders and the ERP push.
	mux.HandleFunc("POST /api/procurement/awards/{id}/purchase-orders", s.handleCreateOrderFromAward)
	mux.HandleFunc("GET /api/procurement/purchase-orders/{id}", s.handleGetOrder)
	mux.HandleFunc("DELETE /api/procurement/purchase-orders/{id}", s.handleCancelOrder)
	mux.HandleFunc("POST /api/procurement/purchase-orders/{id}/push-to-erp", s.handlePushToErp)

	// Suppliers.
	mux.HandleFunc("GET /api/procurement/fornecedores", s.handleListSuppliers)
	mux.HandleFunc("POST /api/procurement/fornecedores", s.handleCreateSupplier)

	// Integration admin.
	mux.HandleFunc("POST /api/procurement/integrations/sync", s.handleSyncTrigger)
	mux.HandleFunc("GET /api/procurement/integrations/outbox", s.handleListOutbox)
	mux.HandleFunc("POST /api/procurement/integrations/outbox/{id}/retry", s.handleRetryOutbox)

	// Status timeline.
	mux.HandleFunc("GET /api/procurement/{entity}/{id}/events", s.handleTimeline)

	return mux
}

// requireRole gates the integration-admin endpoints on the principal's
// role membership. Admins pass every check.
func requireRole(r *http.Request, role string) *domain.Error {
	p, err := auth.GetPrincipal(r.Context())
	if err != nil {
		e := domain.Permission("tenant_required", "request carries no tenant binding")
		e.Status = http.StatusUnauthorized
		return e
	}
	if !p.HasRole(role) {
		return domain.Permission("role_required", "this endpoint requires the "+role+" role").
			WithDetail("role", role)
	}
	return nil
}

// pathID parses the {name} path value as an int64.
func pathID(r *http.Request, name string) (int64, *domain.Error) {
	raw := r.PathValue(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.Validation("invalid_id", "path id must be a positive integer").
			WithDetail(name, raw)
	}
	return id, nil
}

// confirmFields are the body-level confirmation knobs; embedded next to the
// command payload on critical endpoints.
type confirmFields struct {
	Confirm      bool   `json:"confirm,omitempty"`
	ConfirmToken string `json:"confirm_token,omitempty"`
}

// confirmation merges body, query (?confirm=true) and header evidence with
// the request's identity for the audit trail.
func confirmation(r *http.Request, body confirmFields) confirm.Confirmation {
	c := confirm.Confirmation{
		Flag:      body.Confirm,
		Token:     body.ConfirmToken,
		RequestID: auth.GetRequestID(r.Context()),
	}
	if r.URL.Query().Get("confirm") == "true" || r.Header.Get("X-Confirm") == "true" {
		c.Flag = true
	}
	if t := r.Header.Get("X-Confirm-Token"); t != "" && c.Token == "" {
		c.Token = t
	}
	if p, err := auth.GetPrincipal(r.Context()); err == nil {
		c.Principal = p.GetID()
	}
	return c
}
