package approvals

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
)

// DecisionEnqueuer hands a decision to the background queue. Delivery order is
// serialized per queue, so the workflow's status guard sees one decision at a
// time.
type DecisionEnqueuer interface {
	EnqueueApprovalDecision(ctx context.Context, referenceType string, referenceID int64, decision Decision, actorID int64) error
}

// HistoryPort reads approval history.
type HistoryPort interface {
	List(ctx context.Context, typ string, referenceID int64) ([]Entry, error)
}

// Handler wires HTTP endpoints for approval decisions and history.
type Handler struct {
	logger    *slog.Logger
	enqueuer  DecisionEnqueuer
	history   HistoryPort
	validator *validator.Validate
}

// NewHandler constructs approvals handler.
func NewHandler(logger *slog.Logger, enqueuer DecisionEnqueuer, history HistoryPort) *Handler {
	return &Handler{logger: logger, enqueuer: enqueuer, history: history, validator: validator.New()}
}

// MountRoutes registers approval routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/decisions", h.submitDecision)
	r.Get("/history", h.listHistory)
}

type decisionRequest struct {
	Type        string `json:"type" validate:"required"`
	ReferenceID int64  `json:"reference_id" validate:"required"`
	Decision    string `json:"decision" validate:"required"`
	ActorID     int64  `json:"actor_id"`
}

func (h *Handler) submitDecision(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	decision, err := ParseDecision(req.Decision)
	if err != nil {
		if errors.Is(err, ErrUnknownDecision) {
			httpx.Problem(w, http.StatusBadRequest, "Unknown Decision", err.Error())
			return
		}
		httpx.Problem(w, http.StatusBadRequest, "Invalid Decision", err.Error())
		return
	}
	if err := h.enqueuer.EnqueueApprovalDecision(r.Context(), req.Type, req.ReferenceID, decision, req.ActorID); err != nil {
		h.logger.Error("enqueue approval decision", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]any{
		"type":         req.Type,
		"reference_id": req.ReferenceID,
		"decision":     string(decision),
		"queued":       true,
	})
}

func (h *Handler) listHistory(w http.ResponseWriter, r *http.Request) {
	typ := r.URL.Query().Get("type")
	referenceID, _ := strconv.ParseInt(r.URL.Query().Get("reference_id"), 10, 64)
	if typ == "" || referenceID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "type and reference_id are required")
		return
	}
	entries, err := h.history.List(r.Context(), typ, referenceID)
	if err != nil {
		h.logger.Error("list approval history", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries})
}
