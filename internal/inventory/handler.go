package inventory

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler wires HTTP endpoints for stock items and the stock card.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Put("/{id}", h.update)
	r.Get("/{id}/movements", h.movements)
}

type itemRequest struct {
	Code         string   `json:"code" validate:"required"`
	Name         string   `json:"name" validate:"required"`
	CostPrice    float64  `json:"cost_price" validate:"gte=0"`
	SellingPrice float64  `json:"selling_price" validate:"gte=0"`
	PriceA       *float64 `json:"price_a" validate:"omitempty,gte=0"`
	PriceB       *float64 `json:"price_b" validate:"omitempty,gte=0"`
	PriceD       *float64 `json:"price_d" validate:"omitempty,gte=0"`
	PriceE       *float64 `json:"price_e" validate:"omitempty,gte=0"`
	VATRate      float64  `json:"vat_rate" validate:"gte=0,lte=100"`
	MinStock     float64  `json:"min_stock" validate:"gte=0"`
	MaxStock     float64  `json:"max_stock" validate:"gte=0"`
	IsActive     *bool    `json:"is_active"`
}

func (req itemRequest) toItem() StockItem {
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	return StockItem{
		Code:         req.Code,
		Name:         req.Name,
		CostPrice:    req.CostPrice,
		SellingPrice: req.SellingPrice,
		PriceA:       req.PriceA,
		PriceB:       req.PriceB,
		PriceD:       req.PriceD,
		PriceE:       req.PriceE,
		VATRate:      req.VATRate,
		MinStock:     req.MinStock,
		MaxStock:     req.MaxStock,
		IsActive:     active,
	}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{Search: q.Get("search")}
	if v := q.Get("active"); v != "" {
		active := v == "true"
		filter.IsActive = &active
	}
	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.PerPage, _ = strconv.Atoi(q.Get("per_page"))
	if filter.PerPage <= 0 {
		filter.PerPage = 20
	}

	items, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list stock items", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"items":      items,
		"pagination": shared.NewPagination(filter.Page, filter.PerPage, total),
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.Invalid("malformed request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, shared.Invalid(err.Error()))
		return
	}
	item, err := h.service.Create(r.Context(), req.toItem(), actorID(r))
	if err != nil {
		h.logger.Error("create stock item", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, item)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req itemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.Invalid("malformed request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, shared.Invalid(err.Error()))
		return
	}
	item, err := h.service.Update(r.Context(), id, req.toItem(), actorID(r))
	if err != nil {
		h.logger.Error("update stock item", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) movements(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter := MovementFilter{StockItemID: id}
	q := r.URL.Query()
	if from := q.Get("from"); from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			httpx.RespondError(w, shared.Invalid("invalid from date", "from"))
			return
		}
		filter.From = t
	}
	if to := q.Get("to"); to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			httpx.RespondError(w, shared.Invalid("invalid to date", "to"))
			return
		}
		filter.To = t.Add(24*time.Hour - time.Nanosecond)
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))

	movements, err := h.service.StockCard(r.Context(), filter)
	if err != nil {
		h.logger.Error("stock card", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": movements})
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, shared.Invalid("invalid id", "id")
	}
	return id, nil
}

func actorID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(r.Header.Get("X-Actor-ID"), 10, 64)
	return id
}
