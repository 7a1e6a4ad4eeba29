// Package handler exposes the budget approvals HTTP API.
package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sora960/paragas-agrikonek-sub003/internal/apperrors"
	"github.com/sora960/paragas-agrikonek-sub003/internal/client"
	"github.com/sora960/paragas-agrikonek-sub003/internal/platform/logger"
	"github.com/sora960/paragas-agrikonek-sub003/internal/repository"
	"github.com/sora960/paragas-agrikonek-sub003/internal/service"
)

// HTTPHandler handles HTTP requests for workflows, batches and the audit
// trail. Raw role strings are canonicalized at this boundary.
type HTTPHandler struct {
	approvals *service.ApprovalService
	batches   *service.BatchService
	audit     *service.AuditService
	roles     client.RolesClientInterface
	log       *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler. roles may be nil; decisions
// must then carry an explicit actor_role.
func NewHTTPHandler(
	approvals *service.ApprovalService,
	batches *service.BatchService,
	audit *service.AuditService,
	roles client.RolesClientInterface,
	log *logger.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		approvals: approvals,
		batches:   batches,
		audit:     audit,
		roles:     roles,
		log:       log,
	}
}

// Routes mounts all API routes under /api/v1.
func (h *HTTPHandler) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/workflows", func(r chi.Router) {
			r.Post("/", h.CreateWorkflow)
			r.Get("/{workflowID}", h.GetWorkflowStatus)
			r.Post("/{workflowID}/decisions", h.ProcessStep)
			r.Post("/{workflowID}/escalate", h.EscalateWorkflow)
		})
		r.Get("/approvals/pending", h.GetPendingApprovals)

		r.Route("/batches", func(r chi.Router) {
			r.Post("/validate", h.ValidateBatch)
			r.Post("/", h.CreateBatch)
			r.Get("/summary", h.GetBatchSummary)
			r.Get("/{batchID}", h.GetBatchStatus)
			r.Post("/{batchID}/process", h.ProcessBatch)
			r.Post("/{batchID}/retry", h.RetryFailedItems)
		})

		r.Route("/audit", func(r chi.Router) {
			r.Get("/", h.GetAuditTrail)
			r.Get("/summary", h.GetActionSummary)
			r.Get("/{entityType}/{entityID}", h.GetEntityHistory)
		})
	})
}

// ── Workflows ─────────────────────────────────────────────────────────────────

type createWorkflowRequest struct {
	RegionID       string `json:"region_id"`
	OrganizationID string `json:"organization_id"`
	RequestType    string `json:"request_type"`
	Amount         int64  `json:"amount"`
	FiscalYear     int    `json:"fiscal_year"`
	Reason         string `json:"reason"`
	RequestedBy    string `json:"requested_by"`
}

// CreateWorkflow handles budget request submissions.
func (h *HTTPHandler) CreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req createWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, apperrors.InvalidInput("body", "invalid request body"))
		return
	}

	wf, steps, err := h.approvals.CreateWorkflow(r.Context(), service.CreateWorkflowInput{
		RegionID:       req.RegionID,
		OrganizationID: req.OrganizationID,
		RequestType:    repository.RequestType(req.RequestType),
		Amount:         req.Amount,
		FiscalYear:     req.FiscalYear,
		Reason:         req.Reason,
		RequestedBy:    req.RequestedBy,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]any{
		"workflow": wf,
		"steps":    steps,
	})
}

// GetWorkflowStatus returns the workflow with its steps and decisions.
func (h *HTTPHandler) GetWorkflowStatus(w http.ResponseWriter, r *http.Request) {
	view, err := h.approvals.GetWorkflowStatus(r.Context(), chi.URLParam(r, "workflowID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

type decisionRequest struct {
	StepOrder int     `json:"step_order"`
	Decision  string  `json:"decision"`
	ActorID   string  `json:"actor_id"`
	ActorRole string  `json:"actor_role"`
	Notes     *string `json:"notes,omitempty"`
}

// ProcessStep records one approver's decision on the current step.
func (h *HTTPHandler) ProcessStep(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, apperrors.InvalidInput("body", "invalid request body"))
		return
	}

	role, err := h.resolveRole(r, req.ActorID, req.ActorRole)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	outcome, err := h.approvals.ProcessStep(r.Context(), service.DecisionRequest{
		WorkflowID: chi.URLParam(r, "workflowID"),
		StepOrder:  req.StepOrder,
		Decision:   repository.Decision(req.Decision),
		ActorID:    req.ActorID,
		ActorRole:  role,
		Notes:      req.Notes,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, outcome)
}

type escalateRequest struct {
	ActorID string `json:"actor_id"`
	Reason  string `json:"reason"`
}

// EscalateWorkflow raises the current step's required role.
func (h *HTTPHandler) EscalateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req escalateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, apperrors.InvalidInput("body", "invalid request body"))
		return
	}

	wf, err := h.approvals.EscalateWorkflow(r.Context(), chi.URLParam(r, "workflowID"), req.ActorID, req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, wf)
}

// GetPendingApprovals lists active workflows gated on the caller's role.
func (h *HTTPHandler) GetPendingApprovals(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("role")
	role, ok := repository.CanonicalRole(raw)
	if !ok {
		h.writeError(w, r, apperrors.Newf(apperrors.ErrCodeInvalidActorRole,
			"unrecognized role %q", raw))
		return
	}

	pending, err := h.approvals.GetPendingApprovals(r.Context(), role)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if pending == nil {
		pending = []*repository.PendingApproval{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"role":    role,
		"pending": pending,
	})
}

// ── Batches ───────────────────────────────────────────────────────────────────

type batchItemRequest struct {
	OrganizationID  string `json:"organization_id"`
	FiscalYear      int    `json:"fiscal_year"`
	Amount          int64  `json:"amount"`
	Purpose         string `json:"purpose"`
	ReferenceNumber string `json:"reference_number"`
}

type createBatchRequest struct {
	CreatedBy string             `json:"created_by"`
	Items     []batchItemRequest `json:"items"`
}

func (req *createBatchRequest) toInputs() []service.BatchItemInput {
	items := make([]service.BatchItemInput, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, service.BatchItemInput{
			OrganizationID:  it.OrganizationID,
			FiscalYear:      it.FiscalYear,
			Amount:          it.Amount,
			Purpose:         it.Purpose,
			ReferenceNumber: it.ReferenceNumber,
		})
	}
	return items
}

// ValidateBatch checks a batch submission without creating it.
func (h *HTTPHandler) ValidateBatch(w http.ResponseWriter, r *http.Request) {
	var req createBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, apperrors.InvalidInput("body", "invalid request body"))
		return
	}

	result, err := h.batches.ValidateBatch(r.Context(), req.toInputs())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// CreateBatch validates and creates a disbursement batch.
func (h *HTTPHandler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var req createBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, apperrors.InvalidInput("body", "invalid request body"))
		return
	}

	batch, err := h.batches.CreateBatchDisbursement(r.Context(), req.CreatedBy, req.toInputs())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, batch)
}

type processBatchRequest struct {
	ActorID string `json:"actor_id"`
}

// ProcessBatch executes all non-succeeded items of a batch.
func (h *HTTPHandler) ProcessBatch(w http.ResponseWriter, r *http.Request) {
	var req processBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, apperrors.InvalidInput("body", "invalid request body"))
		return
	}

	batch, err := h.batches.ProcessBatch(r.Context(), chi.URLParam(r, "batchID"), req.ActorID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, batch)
}

// RetryFailedItems re-runs the failed items of a failed batch.
func (h *HTTPHandler) RetryFailedItems(w http.ResponseWriter, r *http.Request) {
	var req processBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, apperrors.InvalidInput("body", "invalid request body"))
		return
	}

	batch, err := h.batches.RetryFailedItems(r.Context(), chi.URLParam(r, "batchID"), req.ActorID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, batch)
}

// GetBatchStatus returns a batch and its items.
func (h *HTTPHandler) GetBatchStatus(w http.ResponseWriter, r *http.Request) {
	batch, err := h.batches.GetBatchStatus(r.Context(), chi.URLParam(r, "batchID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, batch)
}

// GetBatchSummary aggregates batch activity over a period.
func (h *HTTPHandler) GetBatchSummary(w http.ResponseWriter, r *http.Request) {
	start, end, err := parsePeriod(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	summary, err := h.batches.GetBatchSummary(r.Context(), start, end)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

// ── Audit ─────────────────────────────────────────────────────────────────────

// GetAuditTrail returns audit entries matching the query filters.
func (h *HTTPHandler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	filter := repository.AuditFilter{
		EntityType: r.URL.Query().Get("entity_type"),
		EntityID:   r.URL.Query().Get("entity_id"),
	}
	if raw := r.URL.Query().Get("start_date"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.writeError(w, r, apperrors.InvalidInput("start_date", "must be RFC 3339"))
			return
		}
		filter.StartDate = t
	}
	if raw := r.URL.Query().Get("end_date"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.writeError(w, r, apperrors.InvalidInput("end_date", "must be RFC 3339"))
			return
		}
		filter.EndDate = t
	}

	entries, err := h.audit.GetAuditTrail(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*repository.AuditLog{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// GetEntityHistory returns the full history of one entity.
func (h *HTTPHandler) GetEntityHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.audit.GetEntityHistory(r.Context(),
		chi.URLParam(r, "entityType"), chi.URLParam(r, "entityID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*repository.AuditLog{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// GetActionSummary aggregates audit activity per action type.
func (h *HTTPHandler) GetActionSummary(w http.ResponseWriter, r *http.Request) {
	start, end, err := parsePeriod(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	summary, err := h.audit.GetActionSummary(r.Context(), start, end)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// resolveRole canonicalizes an explicit raw role, or looks the actor's role
// up in the identity service when the request omits it.
func (h *HTTPHandler) resolveRole(r *http.Request, actorID, rawRole string) (repository.Role, error) {
	if rawRole != "" {
		role, ok := repository.CanonicalRole(rawRole)
		if !ok {
			return "", apperrors.Newf(apperrors.ErrCodeInvalidActorRole,
				"unrecognized role %q", rawRole)
		}
		return role, nil
	}
	if h.roles == nil {
		return "", apperrors.InvalidInput("actor_role", "actor_role is required")
	}
	return h.roles.GetUserRole(r.Context(), actorID)
}

// parsePeriod reads start_date/end_date query params, defaulting to the
// last 30 days.
func parsePeriod(r *http.Request) (time.Time, time.Time, error) {
	end := time.Now()
	start := end.AddDate(0, 0, -30)

	if raw := r.URL.Query().Get("start_date"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, apperrors.InvalidInput("start_date", "must be RFC 3339")
		}
		start = t
	}
	if raw := r.URL.Query().Get("end_date"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, apperrors.InvalidInput("end_date", "must be RFC 3339")
		}
		end = t
	}
	return start, end, nil
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Warn().Err(err).Msg("Failed to encode response body")
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	}

	h.writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    apperrors.CodeOf(err),
			"message": apperrors.MessageOf(err),
		},
	})
}
