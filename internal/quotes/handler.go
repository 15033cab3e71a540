package quotes

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
	r.Post("/{id}/convert", h.convert)
}

type lineRequest struct {
	StockItemID int64    `json:"stock_item_id" validate:"required,gt=0"`
	Qty         float64  `json:"qty" validate:"required,gt=0"`
	UnitPrice   *float64 `json:"unit_price" validate:"omitempty,gte=0"`
}

type quoteRequest struct {
	ClientID    int64         `json:"client_id" validate:"required,gt=0"`
	VAT         bool          `json:"vat"`
	IssuedAt    time.Time     `json:"issued_at" validate:"required"`
	Description string        `json:"description"`
	Lines       []lineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (req quoteRequest) toInput() Input {
	in := Input{
		ClientID:    req.ClientID,
		VAT:         req.VAT,
		IssuedAt:    req.IssuedAt,
		Description: req.Description,
	}
	for _, l := range req.Lines {
		in.Lines = append(in.Lines, LineInput{
			StockItemID: l.StockItemID,
			Qty:         l.Qty,
			UnitPrice:   l.UnitPrice,
		})
	}
	return in
}

type quoteResponse struct {
	Quote
	Status Status `json:"status"`
}

func present(q Quote) quoteResponse {
	return quoteResponse{Quote: q, Status: q.StatusAt(time.Now())}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{}
	filter.ClientID, _ = strconv.ParseInt(q.Get("client_id"), 10, 64)
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
		h.logger.Error("list quotes", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]quoteResponse, 0, len(result))
	for _, item := range result {
		out = append(out, present(item))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"quotes":     out,
		"pagination": shared.NewPagination(filter.Page, filter.PerPage, total),
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	quote, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, present(quote))
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.Invalid("malformed request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, shared.Invalid(err.Error()))
		return
	}
	quote, err := h.service.Create(r.Context(), req.toInput(), actorID(r))
	if err != nil {
		h.logger.Error("create quote", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, present(quote))
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req quoteRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.Invalid("malformed request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, shared.Invalid(err.Error()))
		return
	}
	quote, err := h.service.Update(r.Context(), id, req.toInput(), actorID(r))
	if err != nil {
		h.logger.Error("update quote", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, present(quote))
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

func (h *Handler) convert(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	inv, err := h.service.ConvertToInvoice(r.Context(), id, actorID(r))
	if err != nil {
		h.logger.Error("convert quote", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
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
