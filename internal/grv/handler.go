package grv

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

type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Put("/{id}", h.update)
	r.Delete("/{id}", h.delete)
}

type lineRequest struct {
	StockItemID int64   `json:"stock_item_id" validate:"required,gt=0"`
	Qty         float64 `json:"qty" validate:"required,gt=0"`
	CostPrice   float64 `json:"cost_price" validate:"gte=0"`
	SellPrice   float64 `json:"sell_price" validate:"gte=0"`
}

type grvRequest struct {
	SupplierID  int64         `json:"supplier_id" validate:"required,gt=0"`
	ReceivedAt  time.Time     `json:"received_at" validate:"required"`
	Description string        `json:"description"`
	Lines       []lineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (req grvRequest) toInput() Input {
	in := Input{
		SupplierID:  req.SupplierID,
		ReceivedAt:  req.ReceivedAt,
		Description: req.Description,
	}
	for _, l := range req.Lines {
		in.Lines = append(in.Lines, LineInput{
			StockItemID: l.StockItemID,
			Qty:         l.Qty,
			CostPrice:   l.CostPrice,
			SellPrice:   l.SellPrice,
		})
	}
	return in
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{}
	filter.SupplierID, _ = strconv.ParseInt(q.Get("supplier_id"), 10, 64)
	if v := q.Get("from"); v != "" {
		filter.From, _ = time.Parse("2006-01-02", v)
	}
	if v := q.Get("to"); v != "" {
		filter.To, _ = time.Parse("2006-01-02", v)
	}
	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.PerPage, _ = strconv.Atoi(q.Get("per_page"))
	if filter.PerPage <= 0 {
		filter.PerPage = 20
	}

	result, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list grvs", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"grvs":       result,
		"pagination": shared.NewPagination(filter.Page, filter.PerPage, total),
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	g, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, g)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req grvRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.Invalid("malformed request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, shared.Invalid(err.Error()))
		return
	}
	g, err := h.service.Create(r.Context(), req.toInput(), actorID(r))
	if err != nil {
		h.logger.Error("create grv", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, g)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req grvRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.Invalid("malformed request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, shared.Invalid(err.Error()))
		return
	}
	g, err := h.service.Update(r.Context(), id, req.toInput(), actorID(r))
	if err != nil {
		h.logger.Error("update grv", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, g)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Delete(r.Context(), id, actorID(r)); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
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
