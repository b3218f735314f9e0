package masterdata

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
)

// Handler wires HTTP endpoints for master data lookups.
type Handler struct {
	logger *slog.Logger
	repo   *Repository
}

// NewHandler constructs masterdata handler.
func NewHandler(logger *slog.Logger, repo *Repository) *Handler {
	return &Handler{logger: logger, repo: repo}
}

// MountRoutes registers masterdata routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/items", h.listItems)
	r.Get("/items/{id}", h.getItem)
	r.Get("/warehouses", h.listWarehouses)
	r.Get("/warehouses/{id}", h.getWarehouse)
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	tenantID := queryInt64(r, "tenant_id")
	if tenantID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "tenant_id is required")
		return
	}
	items, err := h.repo.ListItems(r.Context(), tenantID)
	if err != nil {
		h.logger.Error("list items", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) getItem(w http.ResponseWriter, r *http.Request) {
	tenantID := queryInt64(r, "tenant_id")
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if tenantID == 0 || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "tenant_id and id are required")
		return
	}
	item, err := h.repo.GetItem(r.Context(), tenantID, id)
	if err != nil {
		if errors.Is(err, ErrItemNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
			return
		}
		h.logger.Error("get item", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) listWarehouses(w http.ResponseWriter, r *http.Request) {
	tenantID := queryInt64(r, "tenant_id")
	if tenantID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "tenant_id is required")
		return
	}
	warehouses, err := h.repo.ListWarehouses(r.Context(), tenantID)
	if err != nil {
		h.logger.Error("list warehouses", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"warehouses": warehouses})
}

func (h *Handler) getWarehouse(w http.ResponseWriter, r *http.Request) {
	tenantID := queryInt64(r, "tenant_id")
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if tenantID == 0 || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "tenant_id and id are required")
		return
	}
	wh, err := h.repo.GetWarehouse(r.Context(), tenantID, id)
	if err != nil {
		if errors.Is(err, ErrWarehouseNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
			return
		}
		h.logger.Error("get warehouse", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, wh)
}

func queryInt64(r *http.Request, name string) int64 {
	value, _ := strconv.ParseInt(r.URL.Query().Get(name), 10, 64)
	return value
}
