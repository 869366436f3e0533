package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/mscmedsupply/be-commissions/internal/apperrors"
	"github.com/mscmedsupply/be-commissions/internal/logger"
	"github.com/mscmedsupply/be-commissions/internal/repository"
	"github.com/mscmedsupply/be-commissions/internal/service"
)

// HTTPHandler exposes the commission engine's operations over HTTP.
type HTTPHandler struct {
	orders      *service.OrderService
	commissions *service.CommissionService
	directory   *service.DirectoryService
	log         *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(
	orders *service.OrderService,
	commissions *service.CommissionService,
	directory *service.DirectoryService,
	log *logger.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		orders:      orders,
		commissions: commissions,
		directory:   directory,
		log:         log,
	}
}

// ── Orders ────────────────────────────────────────────────────────────────────

// CreateOrder handles order creation; the commission structure is attached
// before the response is written.
func (h *HTTPHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req service.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	order, err := h.orders.CreateOrder(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, order)
}

// GetOrder handles single-order lookups.
func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := r.URL.Query().Get("id")
	if orderID == "" {
		h.writeError(w, r, apperrors.InvalidInput("id", "order id is required"))
		return
	}

	order, err := h.orders.GetOrder(r.Context(), orderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

// ListOrders handles filtered order listings.
func (h *HTTPHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	filter := repository.OrderFilter{}

	if v := r.URL.Query().Get("status"); v != "" {
		status := repository.OrderStatus(v)
		filter.Status = &status
	}
	if v := r.URL.Query().Get("doctor_id"); v != "" {
		filter.DoctorID = &v
	}
	if v := r.URL.Query().Get("rep_id"); v != "" {
		filter.RepID = &v
	}
	if v := r.URL.Query().Get("from_date"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			h.writeError(w, r, apperrors.InvalidInput("from_date", "expected YYYY-MM-DD"))
			return
		}
		filter.FromDate = &t
	}
	if v := r.URL.Query().Get("to_date"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			h.writeError(w, r, apperrors.InvalidInput("to_date", "expected YYYY-MM-DD"))
			return
		}
		filter.ToDate = &t
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 {
		pageSize = 50
	}
	filter.Limit = pageSize
	filter.Offset = (page - 1) * pageSize

	orders, total, err := h.orders.ListOrders(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"orders":    orders,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// UpdateOrder applies order changes and recalculates commission when the
// invoice amount or rep chain changed.
func (h *HTTPHandler) UpdateOrder(w http.ResponseWriter, r *http.Request) {
	orderID := r.URL.Query().Get("id")
	if orderID == "" {
		h.writeError(w, r, apperrors.InvalidInput("id", "order id is required"))
		return
	}

	var req service.UpdateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	order, err := h.orders.UpdateOrder(r.Context(), orderID, &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

// ── Commissions ───────────────────────────────────────────────────────────────

type orderIDRequest struct {
	OrderID string `json:"order_id"`
}

// CalculateCommission computes and persists the commission structure for an
// order that does not have one yet.
func (h *HTTPHandler) CalculateCommission(w http.ResponseWriter, r *http.Request) {
	var req orderIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrderID == "" {
		h.writeError(w, r, apperrors.InvalidInput("order_id", "order id is required"))
		return
	}

	structure, err := h.commissions.CalculateForOrder(r.Context(), req.OrderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, structure)
}

// RecalculateCommission recomputes an order's commission as a fresh pending
// structure.
func (h *HTTPHandler) RecalculateCommission(w http.ResponseWriter, r *http.Request) {
	var req orderIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrderID == "" {
		h.writeError(w, r, apperrors.InvalidInput("order_id", "order id is required"))
		return
	}

	structure, err := h.commissions.Recalculate(r.Context(), req.OrderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, structure)
}

// ApproveCommission transitions a pending structure to approved.
func (h *HTTPHandler) ApproveCommission(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StructureID string `json:"structure_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.StructureID == "" {
		h.writeError(w, r, apperrors.InvalidInput("structure_id", "structure id is required"))
		return
	}

	structure, err := h.commissions.Approve(r.Context(), req.StructureID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, structure)
}

// RejectCommission transitions a pending structure to rejected.
func (h *HTTPHandler) RejectCommission(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StructureID string `json:"structure_id"`
		Reason      string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.StructureID == "" {
		h.writeError(w, r, apperrors.InvalidInput("structure_id", "structure id is required"))
		return
	}

	structure, err := h.commissions.Reject(r.Context(), req.StructureID, req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, structure)
}

// AmendRates rewrites a pending structure's rates.
func (h *HTTPHandler) AmendRates(w http.ResponseWriter, r *http.Request) {
	structureID := r.URL.Query().Get("structure_id")
	if structureID == "" {
		h.writeError(w, r, apperrors.InvalidInput("structure_id", "structure id is required"))
		return
	}

	var req service.AmendRatesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	structure, err := h.commissions.AmendRates(r.Context(), structureID, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, structure)
}

// GetBreakdown returns an order's current commission structure.
func (h *HTTPHandler) GetBreakdown(w http.ResponseWriter, r *http.Request) {
	orderID := r.URL.Query().Get("order_id")
	if orderID == "" {
		h.writeError(w, r, apperrors.InvalidInput("order_id", "order id is required"))
		return
	}

	structure, err := h.commissions.GetBreakdown(r.Context(), orderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, structure)
}

// ListPendingCommissions returns the approval queue.
func (h *HTTPHandler) ListPendingCommissions(w http.ResponseWriter, r *http.Request) {
	structures, err := h.commissions.ListPending(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"structures": structures})
}

// GetAuditTrail returns the order's audit history, newest first.
func (h *HTTPHandler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	orderID := r.URL.Query().Get("order_id")
	if orderID == "" {
		h.writeError(w, r, apperrors.InvalidInput("order_id", "order id is required"))
		return
	}

	entries, err := h.commissions.AuditTrail(r.Context(), orderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// GetYTD returns a rep's year-to-date commission summary.
func (h *HTTPHandler) GetYTD(w http.ResponseWriter, r *http.Request) {
	repID := r.URL.Query().Get("rep_id")
	if repID == "" {
		h.writeError(w, r, apperrors.InvalidInput("rep_id", "rep id is required"))
		return
	}
	year, _ := strconv.Atoi(r.URL.Query().Get("year"))
	if year == 0 {
		year = time.Now().Year()
	}

	summary, err := h.commissions.YTD(r.Context(), repID, year)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

// ── Representatives & agreements ──────────────────────────────────────────────

// CreateRepresentative adds a rep to the directory.
func (h *HTTPHandler) CreateRepresentative(w http.ResponseWriter, r *http.Request) {
	var req service.CreateRepresentativeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	rep, err := h.directory.CreateRepresentative(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, rep)
}

// ListRepresentatives lists reps filtered by tier or parent.
func (h *HTTPHandler) ListRepresentatives(w http.ResponseWriter, r *http.Request) {
	var tier *repository.RepTier
	if v := r.URL.Query().Get("tier"); v != "" {
		t := repository.RepTier(v)
		tier = &t
	}
	var parentID *string
	if v := r.URL.Query().Get("parent_id"); v != "" {
		parentID = &v
	}

	reps, err := h.directory.ListRepresentatives(r.Context(), tier, parentID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"representatives": reps})
}

// CreateAgreement records a new rate agreement.
func (h *HTTPHandler) CreateAgreement(w http.ResponseWriter, r *http.Request) {
	var req service.CreateAgreementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	agreement, err := h.directory.CreateAgreement(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, agreement)
}

// ListAgreements returns a rep's agreement history.
func (h *HTTPHandler) ListAgreements(w http.ResponseWriter, r *http.Request) {
	repID := r.URL.Query().Get("rep_id")
	if repID == "" {
		h.writeError(w, r, apperrors.InvalidInput("rep_id", "rep id is required"))
		return
	}

	agreements, err := h.directory.ListAgreements(r.Context(), repID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"agreements": agreements})
}

// ── Response helpers ──────────────────────────────────────────────────────────

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Warn().Err(err).Msg("Failed to encode response")
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperrors.CodeOf(err)
	status := statusForCode(code)

	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	}

	msg := err.Error()
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		msg = appErr.Message()
	}

	h.writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": msg,
		},
	})
}

func statusForCode(code apperrors.Code) int {
	switch code {
	case apperrors.CodeMissingMasterRep,
		apperrors.CodeInvalidRate,
		apperrors.CodeInvalidInput:
		return http.StatusBadRequest
	case apperrors.CodeRateNotFound:
		return http.StatusUnprocessableEntity
	case apperrors.CodeNotFound:
		return http.StatusNotFound
	case apperrors.CodeUnauthorized:
		return http.StatusForbidden
	case apperrors.CodeDuplicateStructure, apperrors.CodeInvalidTransition:
		return http.StatusConflict
	case apperrors.CodeStorageTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
