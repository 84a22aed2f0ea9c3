package router

import (
	"net/http"

	"stockledger-api/internal/handler"
	"stockledger-api/internal/middleware"
	"stockledger-api/pkg/logger"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

// Config holds the configuration for creating a router.
type Config struct {
	Logger             *logger.Logger
	Handler            *handler.Handler
	InventoryHandler   *handler.InventoryHandler
	TransactionHandler *handler.TransactionHandler
	AdminHandler       *handler.AdminHandler
	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler
}

// New creates and configures the HTTP router.
func New(cfg Config) *chi.Mux {
	logg := cfg.Logger
	if logg == nil {
		logg = logger.Nop()
	}

	r := chi.NewRouter()

	r.Use(middleware.Recovery(logg))
	r.Use(middleware.RequestID(logg))
	r.Use(middleware.Logging(logg))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         300,
	}))

	if cfg.Handler != nil {
		r.Get("/api/status", cfg.Handler.Status)
	}
	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.Handler != nil {
			r.Get("/health", cfg.Handler.Health)
			r.Get("/ready", cfg.Handler.Ready)
		}

		if h := cfg.InventoryHandler; h != nil {
			r.Route("/inventory", func(r chi.Router) {
				r.Post("/", h.CreateItem)
				r.Get("/", h.ListItems)
				// static segments are matched before {id}
				r.Get("/stats", h.Stats)
				r.Get("/alerts", h.Alerts)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.GetItem)
					r.Put("/", h.UpdateItem)
					r.Patch("/", h.UpdateItem)
					r.Delete("/", h.DeleteItem)
					r.Get("/transactions", h.ItemTransactions)
				})
			})
		}

		if h := cfg.TransactionHandler; h != nil {
			r.Route("/stock/transactions", func(r chi.Router) {
				r.Post("/", h.Record)
				r.Post("/bulk", h.RecordBulk)
				r.Get("/recent", h.Recent)
			})
		}

		if h := cfg.AdminHandler; h != nil {
			r.Route("/admin", func(r chi.Router) {
				r.Get("/stats", h.GetStats)
				r.Post("/cache/clear", h.ClearCache)
			})
		}
	})

	return r
}
