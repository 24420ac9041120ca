package api

import (
	"net/http"
	"strconv"

	"github.com/procurahq/procura/pkg/auth"
	"github.com/procurahq/procura/pkg/domain"
	"github.com/procurahq/procura/pkg/service"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	db := "ok"
	status := "ok"
	if err := s.store.DB().PingContext(r.Context()); err != nil {
		db = "error"
		status = "degraded"
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":  status,
		"db":      db,
		"env":     s.env,
		"metrics": s.metricsEnabled,
		"worker":  s.workerEnabled,
	})
}

// --- Purchase requests ---

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var in service.CreatePurchaseRequestInput
	if e := decodeJSON(r, &in); e != nil {
		writeError(w, r, s.log, e)
		return
	}
	writeResult(w, r, s.log, s.svc.CreatePurchaseRequest(r.Context(), in))
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	id, e := pathID(r, "id")
	if e != nil {
		writeError(w, r, s.log, e)
		return
	}
	writeResult(w, r, s.log, s.svc.GetPurchaseRequest(r.Context(), id))
}

func (s *Server) handleUpdateRequest(w http.ResponseWriter, r *http.Request) {
	id, e := pathID(r, "id")
	if e != nil {
		writeError(w, r, s.log, e)
		return
	}
	var in service.UpdatePurchaseRequestInput
	if e := decodeJSON(r, &in); e != nil {
		writeError(w, r, s.log, e)
		return
	}
	writeResult(w, r, s.log, s.svc.UpdatePurchaseRequest(r.Context(), id, in))
}

func (s *Server) handleCancelRequest(w http.ResponseWriter, r *http.Request) {
	id, e := pathID(r, "id")
	if e != nil {
		writeError(w, r, s.log, e)
		return
	}
	var body confirmFields
	if e := decodeJSON(r, &body); e != nil {
		writeError(w, r, s.log, e)
		return
	}
	writeResult(w, r, s.log, s.svc.CancelPurchaseRequest(r.Context(), id, confirmation(r, body)))
}

// --- RFQs ---

func (s *Server) handleCreateRfq(w http.ResponseWriter, r *http.Request) {
	var in service.CreateRfqInput
	if e := decodeJSON(r, &in); e != nil {
		writeError(w, r, s.log, e)
		return
	}
	writeResult(w, r, s.log, s.svc.CreateRfq(r.Context(), in))
}

func (s *Server) handleGetRfq(w http.ResponseWriter, r *http.Request) {
	id, e := pathID(r, "id")
	if e != nil {
		writeError(w, r, s.log, e)
		return
	}
	writeResult(w, r, s.log, s.svc.GetRfq(r.Context(), id))
}

func (s *Server) handleCancelRfq(w http.ResponseWriter, r *http.Request) {
	id, e := pathID(r, "id")
	if e != nil {
		writeError(w, r, s.log, e)
		return
	}
	var body struct {
		confirmFields
		CancelReason string `json:"cancel_reason,omitempty"`
	}
	if e := decodeJSON(r, &body); e != nil {
		writeError(w, r, s.log, e)
		return
	}
	writeResult(w, r, s.log, s.svc.CancelRfq(r.Context(), id, body.CancelReason, confirmation(r, body.confirmFields)))
}

func (s *Server) handleInviteSuppliers(w http.ResponseWriter, r *http.Request) {
	rfqID, e := pathID(r, "rfq_id")
	if e != nil {
		writeError(w, r, s.log, e)
		return
	}
	var in service.InviteSuppliersInput
	if e := decodeJSON(r, &in); e != nil {
		writeError(w, r, s.log, e)
		return
	}
	writeResult(w, r, s.log, s.svc.InviteSuppliers(r.Context(), rfqID, in))
}

func (s *Server) handleCancelInvite(w http.ResponseWriter, r *http.Request) {
	id, e := pathID(r, "id")
	if e != nil {
		writeError(w, r, s.log, e)
		return
	}
	var body confirmFields
	if e := decodeJSON(r, &body); e != nil {
		writeError(w, r, s.log, e)
		return
	}
	writeResult(w, r, s.log, s.svc.CancelInvite(r.Context(), id, confirmation(r, body)))
}

// --- Supplier portal ---

func (s *Server) handleOpenInvite(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	writeResult(w, r, s.log, s.svc.OpenSupplierInvite(r.Context(), token))
}

func (s *Server) handleSubmitQuote(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	var in service.SubmitQuoteInput
	if e := decodeJSON(r, &in); e != nil {
		writeError(w, r, s.log, e)
		return
	}
	writeResult(w, r, s.log, s.svc.SubmitSupplierQuote(r.Context(), token, in))
}

// --- Quotes, awards ---

func (s *Server) handleCompareQuotes(w http.ResponseWriter, r *http.Request) {
	id, e := pathID(r, "id")
	if e != nil {
		writeError(w, r, s.log, e)
		return
	}
	writeResult(w, r, s.log, s.svc.CompareQuotes(r.Context(), id))
}

func (s *Server) handleDeleteProposal(w http.ResponseWriter, r *http.Request) {
	rfqID, e := pathID(r, "rfq_id")
	if e != nil {
		writeError(w, r, s.log, e)
		return
	}
	supplierID, e := pathID(r, "supplier_id")
	if e != nil {
		writeError(w, r, s.log, e)
		return
	}
	var body confirmFields
	if e := decodeJSON(r, &body); e != nil {
		writeError(w, r, s.log, e)
		return
	}
	writeResult(w, r, s.log, s.svc.DeleteSupplierProposal(r.Context(), rfqID, supplierID, confirmation(r, body)))
}

func (s *Server) handleAwardRfq(w http.ResponseWriter, r *http.Request) {
	rfqID, e := pathID(r, "id")
	if e != nil {
		writeError(w, r, s.log, e)
		return
	}
	var body struct {
		service.AwardRfqInput
		confirmFields
	}
	if e := decodeJSON(r, &body); e != nil {
		writeError(w, r, s.log, e)
		return
	}
	writeResult(w, r, s.log, s.svc.AwardRfq(r.Context(), rfqID, body.AwardRfqInput, confirmation(r, body.confirmFields)))
}

func (s *Server) handleGetAward(w http.ResponseWriter, r *http.Request) {
	id, e := pathID(r, "id")
	if e != nil {
		writeError(w, r, s.log, e)
		return
	}
	writeResult(w, r, s.log, s.svc.GetAward(r.Context(), id))
}

func (s *Server) handleCancelAward(w http.ResponseWriter, r *http.Request) {
	id, e := pathID(r, "id")
	if e != nil {
		writeError(w, r, s.log, e)
		return
	}
	var body confirmFields
	if e := decodeJSON(r, &body); e != nil {
		writeError(w, r, s.log, e)
		return
	}
	writeResult(w, r, s.log, s.svc.CancelAward(r.Context(), id, confirmation(r, body)))
}

// --- Purchase orders ---

func (s *Server) handleCreateOrderFromAward(w http.ResponseWriter, r *http.Request) {
	awardID, e := pathID(r, "id")
	if e != nil {
		writeError(w, r, s.log, e)
		return
	}
	var body confirmFields
	if e := decodeJSON(r, &body); e != nil {
		writeError(w, r, s.log, e)
		return
	}
	writeResult(w, r, s.log, s.svc.CreatePurchaseOrderFromAward(r.Context(), awardID, confirmation(r, body)))
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, e := pathID(r, "id")
	if e != nil {
		writeError(w, r, s.log, e)
		return
	}
	writeResult(w, r, s.log, s.svc.GetPurchaseOrder(r.Context(), id))
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id, e := pathID(r, "id")
	if e != nil {
		writeError(w, r, s.log, e)
		return
	}
	var body confirmFields
	if e := decodeJSON(r, &body); e != nil {
		writeError(w, r, s.log, e)
		return
	}
	writeResult(w, r, s.log, s.svc.CancelOrder(r.Context(), id, confirmation(r, body)))
}

func (s *Server) handlePushToErp(w http.ResponseWriter, r *http.Request) {
	id, e := pathID(r, "id")
	if e != nil {
		writeError(w, r, s.log, e)
		return
	}
	var body confirmFields
	if e := decodeJSON(r, &body); e != nil {
		writeError(w, r, s.log, e)
		return
	}
	writeResult(w, r, s.log, s.svc.EnqueueErpPush(r.Context(), id, confirmation(r, body)))
}

// --- Suppliers ---

func (s *Server) handleListSuppliers(w http.ResponseWriter, r *http.Request) {
	writeResult(w, r, s.log, s.svc.ListSuppliers(r.Context()))
}

func (s *Server) handleCreateSupplier(w http.ResponseWriter, r *http.Request) {
	var in service.CreateSupplierInput
	if e := decodeJSON(r, &in); e != nil {
		writeError(w, r, s.log, e)
		return
	}
	writeResult(w, r, s.log, s.svc.CreateSupplier(r.Context(), in))
}

// --- Integration admin ---

// handleSyncTrigger runs one synchronous pull batch for the scope in the
// query string.
func (s *Server) handleSyncTrigger(w http.ResponseWriter, r *http.Request) {
	if e := requireRole(r, "admin"); e != nil {
		writeError(w, r, s.log, e)
		return
	}
	if s.scheduler == nil {
		writeError(w, r, s.log, domain.Validation("sync_disabled", "sync scheduler is not enabled"))
		return
	}
	tenantID, err := auth.GetTenantID(r.Context())
	if err != nil || tenantID == "" {
		e := domain.Permission("tenant_required", "request carries no tenant binding")
		e.Status = http.StatusUnauthorized
		writeError(w, r, s.log, e)
		return
	}
	scope := r.URL.Query().Get("scope")
	run, err := s.scheduler.RunScope(r.Context(), tenantID, scope)
	if err != nil {
		writeError(w, r, s.log, domain.Validation("unknown_scope", "unsupported sync scope").
			WithDetail("scope", scope))
		return
	}
	if run == nil {
		writeError(w, r, s.log, &domain.Error{
			Kind:    domain.KindFlowPolicy,
			Code:    "sync_already_running",
			Message: "a pull cycle for this scope is already running",
			Status:  http.StatusConflict,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sync_run_id":      run.ID,
		"scope":            run.Scope,
		"status":           run.Status,
		"records_in":       run.RecordsIn,
		"records_upserted": run.RecordsUpserted,
		"records_failed":   run.RecordsFailed,
	})
}

func (s *Server) handleListOutbox(w http.ResponseWriter, r *http.Request) {
	if e := requireRole(r, "admin"); e != nil {
		writeError(w, r, s.log, e)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	writeResult(w, r, s.log, s.svc.ListOutboxRuns(r.Context(), limit))
}

// handleRetryOutbox re-opens one dead-lettered push. Critical action.
func (s *Server) handleRetryOutbox(w http.ResponseWriter, r *http.Request) {
	if e := requireRole(r, "admin"); e != nil {
		writeError(w, r, s.log, e)
		return
	}
	id, e := pathID(r, "id")
	if e != nil {
		writeError(w, r, s.log, e)
		return
	}
	var body confirmFields
	if e := decodeJSON(r, &body); e != nil {
		writeError(w, r, s.log, e)
		return
	}
	writeResult(w, r, s.log, s.svc.RetryOutboxRun(r.Context(), id, confirmation(r, body)))
}

// --- Timeline ---

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	entity := r.PathValue("entity")
	id, e := pathID(r, "id")
	if e != nil {
		writeError(w, r, s.log, e)
		return
	}
	writeResult(w, r, s.log, s.svc.Timeline(r.Context(), entity, id))
}
