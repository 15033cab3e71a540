package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/meridian-erp/meridian-erp/internal/grv"
	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/invoicing"
	"github.com/meridian-erp/meridian-erp/internal/masterdata/clients"
	"github.com/meridian-erp/meridian-erp/internal/masterdata/staff"
	"github.com/meridian-erp/meridian-erp/internal/masterdata/suppliers"
	"github.com/meridian-erp/meridian-erp/internal/quotes"
	"github.com/meridian-erp/meridian-erp/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	InventoryHandler *inventory.Handler
	GRVHandler       *grv.Handler
	InvoiceHandler   *invoicing.Handler
	QuoteHandler     *quotes.Handler
	ClientsHandler   *clients.Handler
	SuppliersHandler *suppliers.Handler
	StaffHandler     *staff.Handler
	JobHandler       *jobs.Handler
}

// NewRouter constructs the chi.Router with the standard stack.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger: params.Logger,
		Config: params.Config,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api", func(api chi.Router) {
		if params.InventoryHandler != nil {
			api.Route("/stock-items", params.InventoryHandler.MountRoutes)
		}
		if params.GRVHandler != nil {
			api.Route("/grvs", params.GRVHandler.MountRoutes)
		}
		if params.InvoiceHandler != nil {
			api.Route("/invoices", params.InvoiceHandler.MountRoutes)
		}
		if params.QuoteHandler != nil {
			api.Route("/quotes", params.QuoteHandler.MountRoutes)
		}
		if params.ClientsHandler != nil {
			api.Route("/clients", params.ClientsHandler.MountRoutes)
		}
		if params.SuppliersHandler != nil {
			api.Route("/suppliers", params.SuppliersHandler.MountRoutes)
		}
		if params.StaffHandler != nil {
			api.Route("/staff", params.StaffHandler.MountRoutes)
		}
	})

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	return r
}
