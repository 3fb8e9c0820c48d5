package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/cobalt-erp/cobalt-erp/internal/billing"
	"github.com/cobalt-erp/cobalt-erp/internal/inventory"
	"github.com/cobalt-erp/cobalt-erp/internal/procurement"
	"github.com/cobalt-erp/cobalt-erp/internal/receiving"
	"github.com/cobalt-erp/cobalt-erp/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	InventoryHandler   *inventory.Handler
	ProcurementHandler *procurement.Handler
	ReceivingHandler   *receiving.Handler
	BillingHandler     *billing.Handler
	JobHandler         *jobs.Handler
}

// NewRouter constructs the chi.Router with Cobalt defaults.
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

	r.Route("/inventory", params.InventoryHandler.MountRoutes)
	r.Route("/procurement", params.ProcurementHandler.MountRoutes)
	r.Route("/receiving", params.ReceivingHandler.MountRoutes)
	r.Route("/billing", params.BillingHandler.MountRoutes)
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	return r
}
