package stock

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

// Handler wires HTTP endpoints for the stock module.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs stock handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/movements", h.applyMovement)
	r.Post("/batches", h.createBatch)
	r.Get("/batches", h.searchBatches)
	r.Get("/aggregate", h.getAggregate)
	r.Get("/ledger", h.listLedger)
}

type movementRequest struct {
	TenantID      int64           `json:"tenant_id" validate:"required"`
	ItemID        int64           `json:"item_id" validate:"required"`
	WarehouseID   int64           `json:"warehouse_id" validate:"required"`
	Quantity      decimal.Decimal `json:"quantity" validate:"required"`
	Direction     string          `json:"direction" validate:"required,oneof=IN OUT"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	BatchNumber   string          `json:"batch_number"`
	ReferenceType string          `json:"reference_type" validate:"required"`
	ReferenceID   string          `json:"reference_id" validate:"required"`
	ActorID       int64           `json:"actor_id"`
}

type movementResponse struct {
	LedgerEntryIDs []int64   `json:"ledger_entry_ids"`
	BatchRef       string    `json:"batch_ref,omitempty"`
	Aggregate      Aggregate `json:"aggregate"`
}

func (h *Handler) applyMovement(w http.ResponseWriter, r *http.Request) {
	var req movementRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	result, err := h.service.ApplyMovement(r.Context(), MovementInput{
		TenantID:      req.TenantID,
		ItemID:        req.ItemID,
		WarehouseID:   req.WarehouseID,
		Quantity:      req.Quantity,
		Direction:     Direction(req.Direction),
		UnitPrice:     req.UnitPrice,
		BatchNumber:   req.BatchNumber,
		ReferenceType: ReferenceType(req.ReferenceType),
		ReferenceID:   req.ReferenceID,
		ActorID:       req.ActorID,
	})
	if err != nil {
		h.respondMovementError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, movementResponse{
		LedgerEntryIDs: result.LedgerEntryIDs,
		BatchRef:       result.BatchRef,
		Aggregate:      result.Aggregate,
	})
}

func (h *Handler) respondMovementError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidQuantity):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Quantity", err.Error())
	case errors.Is(err, ErrInsufficientStock), errors.Is(err, ErrInsufficientBatchStock):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", shared.UserSafeMessage(err))
	case errors.Is(err, ErrBatchNotFound):
		httpx.Problem(w, http.StatusNotFound, "Batch Not Found", shared.UserSafeMessage(err))
	case errors.Is(err, ErrDataInconsistency):
		h.logger.Error("movement rejected on inconsistency", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Data Inconsistency", "")
	default:
		h.logger.Error("apply movement", slog.Any("error", err))
		httpx.Problem(w, http.StatusBadRequest, "Movement Failed", shared.UserSafeMessage(err))
	}
}

type batchRequest struct {
	ItemID      int64           `json:"item_id" validate:"required"`
	WarehouseID int64           `json:"warehouse_id" validate:"required"`
	BatchNumber string          `json:"batch_number" validate:"required"`
	Quantity    decimal.Decimal `json:"quantity" validate:"required"`
	BuyPrice    decimal.Decimal `json:"buy_price"`
	ExpiryDate  string          `json:"expiry_date"`
	ReceiptRef  string          `json:"receipt_ref"`
}

func (h *Handler) createBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	var expiry time.Time
	if req.ExpiryDate != "" {
		parsed, err := time.Parse("2006-01-02", req.ExpiryDate)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "expiry_date must be YYYY-MM-DD")
			return
		}
		expiry = parsed
	}
	batch, err := h.service.CreateBatch(r.Context(), BatchInput{
		ItemID:      req.ItemID,
		WarehouseID: req.WarehouseID,
		BatchNumber: req.BatchNumber,
		Quantity:    req.Quantity,
		BuyPrice:    req.BuyPrice,
		ExpiryDate:  expiry,
		ReceiptRef:  req.ReceiptRef,
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateBatch) {
			httpx.Problem(w, http.StatusConflict, "Duplicate Batch", err.Error())
			return
		}
		httpx.Problem(w, http.StatusBadRequest, "Batch Creation Failed", shared.UserSafeMessage(err))
		return
	}
	httpx.JSON(w, http.StatusCreated, batch)
}

func (h *Handler) searchBatches(w http.ResponseWriter, r *http.Request) {
	itemID := queryInt64(r, "item_id")
	warehouseID := queryInt64(r, "warehouse_id")
	if itemID == 0 || warehouseID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "item_id and warehouse_id are required")
		return
	}
	batches, err := h.service.SearchBatches(r.Context(), itemID, warehouseID)
	if err != nil {
		h.logger.Error("search batches", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"batches": batches})
}

func (h *Handler) getAggregate(w http.ResponseWriter, r *http.Request) {
	key := AggregateKey{
		TenantID:    queryInt64(r, "tenant_id"),
		ItemID:      queryInt64(r, "item_id"),
		WarehouseID: queryInt64(r, "warehouse_id"),
	}
	if key.TenantID == 0 || key.ItemID == 0 || key.WarehouseID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "tenant_id, item_id and warehouse_id are required")
		return
	}
	agg, err := h.service.GetAggregate(r.Context(), key)
	if err != nil {
		h.logger.Error("get aggregate", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, agg)
}

func (h *Handler) listLedger(w http.ResponseWriter, r *http.Request) {
	filter := LedgerFilter{
		TenantID:    queryInt64(r, "tenant_id"),
		ItemID:      queryInt64(r, "item_id"),
		WarehouseID: queryInt64(r, "warehouse_id"),
		Page:        int(queryInt64(r, "page")),
		PerPage:     int(queryInt64(r, "per_page")),
	}
	if filter.TenantID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "tenant_id is required")
		return
	}
	entries, pagination, err := h.service.ListLedger(r.Context(), filter)
	if err != nil {
		h.logger.Error("list ledger", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries, "pagination": pagination})
}

func queryInt64(r *http.Request, name string) int64 {
	value, _ := strconv.ParseInt(r.URL.Query().Get(name), 10, 64)
	return value
}
