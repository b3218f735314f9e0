package adjustments

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler wires HTTP endpoints for the adjustments module.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs adjustments handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers adjustment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
	r.Post("/{id}/cancel", h.cancel)
}

type createRequest struct {
	TenantID    int64             `json:"tenant_id" validate:"required"`
	WarehouseID int64             `json:"warehouse_id" validate:"required"`
	Reason      string            `json:"reason" validate:"required,oneof=DAMAGE EXPIRED LOST FOUND_EXTRA AUDIT_CORRECTION"`
	Note        string            `json:"note"`
	ActorID     int64             `json:"actor_id"`
	Lines       []lineRequestItem `json:"lines" validate:"required,min=1,dive"`
}

type lineRequestItem struct {
	ItemID   int64           `json:"item_id" validate:"required"`
	Quantity decimal.Decimal `json:"quantity"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := CreateInput{
		TenantID:    req.TenantID,
		WarehouseID: req.WarehouseID,
		Reason:      Reason(req.Reason),
		Note:        req.Note,
		ActorID:     req.ActorID,
	}
	for _, li := range req.Lines {
		input.Lines = append(input.Lines, LineInput{ItemID: li.ItemID, Quantity: li.Quantity})
	}
	adj, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.respondCreateError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, adj)
}

func (h *Handler) respondCreateError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUnsupportedReason):
		httpx.Problem(w, http.StatusBadRequest, "Unsupported Reason", err.Error())
	case errors.Is(err, ErrNegativeStock):
		httpx.Problem(w, http.StatusConflict, "Negative Stock", shared.UserSafeMessage(err))
	default:
		h.logger.Error("create adjustment", slog.Any("error", err))
		httpx.Problem(w, http.StatusBadRequest, "Adjustment Failed", shared.UserSafeMessage(err))
	}
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "id must be a positive integer")
		return
	}
	adj, err := h.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
			return
		}
		h.logger.Error("get adjustment", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, adj)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tenantID, _ := strconv.ParseInt(q.Get("tenant_id"), 10, 64)
	warehouseID, _ := strconv.ParseInt(q.Get("warehouse_id"), 10, 64)
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	if tenantID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "tenant_id is required")
		return
	}
	items, pagination, err := h.service.List(r.Context(), ListFilter{
		TenantID:    tenantID,
		WarehouseID: warehouseID,
		Status:      Status(q.Get("status")),
		Page:        page,
		PerPage:     perPage,
	})
	if err != nil {
		h.logger.Error("list adjustments", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"adjustments": items, "pagination": pagination})
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "id must be a positive integer")
		return
	}
	actorID, _ := strconv.ParseInt(r.URL.Query().Get("actor_id"), 10, 64)
	adj, err := h.service.Cancel(r.Context(), id, actorID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
		case errors.Is(err, ErrInvalidState):
			httpx.Problem(w, http.StatusConflict, "Invalid State", err.Error())
		default:
			h.logger.Error("cancel adjustment", slog.Any("error", err))
			httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		}
		return
	}
	httpx.JSON(w, http.StatusOK, adj)
}
