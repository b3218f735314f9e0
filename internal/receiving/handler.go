package receiving

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler wires HTTP endpoints for goods receipts.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs receiving handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers receiving routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Post("/{id}/post", h.post)
}

type createRequest struct {
	TenantID    int64             `json:"tenant_id" validate:"required"`
	WarehouseID int64             `json:"warehouse_id" validate:"required"`
	SupplierRef string            `json:"supplier_ref"`
	Note        string            `json:"note"`
	ActorID     int64             `json:"actor_id"`
	Lines       []lineRequestItem `json:"lines" validate:"required,min=1,dive"`
}

type lineRequestItem struct {
	ItemID      int64           `json:"item_id" validate:"required"`
	BatchNumber string          `json:"batch_number" validate:"required"`
	Quantity    decimal.Decimal `json:"quantity" validate:"required"`
	BuyPrice    decimal.Decimal `json:"buy_price"`
	ExpiryDate  string          `json:"expiry_date"`
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
		SupplierRef: req.SupplierRef,
		Note:        req.Note,
		ActorID:     req.ActorID,
	}
	for _, li := range req.Lines {
		var expiry time.Time
		if li.ExpiryDate != "" {
			parsed, err := time.Parse("2006-01-02", li.ExpiryDate)
			if err != nil {
				httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "expiry_date must be YYYY-MM-DD")
				return
			}
			expiry = parsed
		}
		input.Lines = append(input.Lines, LineInput{
			ItemID:      li.ItemID,
			BatchNumber: li.BatchNumber,
			Quantity:    li.Quantity,
			BuyPrice:    li.BuyPrice,
			ExpiryDate:  expiry,
		})
	}
	receipt, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.logger.Error("create receipt", slog.Any("error", err))
		httpx.Problem(w, http.StatusBadRequest, "Receipt Creation Failed", shared.UserSafeMessage(err))
		return
	}
	httpx.JSON(w, http.StatusCreated, receipt)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "id must be a positive integer")
		return
	}
	receipt, err := h.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
			return
		}
		h.logger.Error("get receipt", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, receipt)
}

func (h *Handler) post(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "id must be a positive integer")
		return
	}
	actorID, _ := strconv.ParseInt(r.URL.Query().Get("actor_id"), 10, 64)
	receipt, err := h.service.Post(r.Context(), id, actorID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
		case errors.Is(err, ErrAlreadyPosted):
			httpx.Problem(w, http.StatusConflict, "Already Posted", err.Error())
		default:
			h.logger.Error("post receipt", slog.Any("error", err))
			httpx.Problem(w, http.StatusBadRequest, "Receipt Posting Failed", shared.UserSafeMessage(err))
		}
		return
	}
	httpx.JSON(w, http.StatusOK, receipt)
}
