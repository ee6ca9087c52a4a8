// Package httptransport wires the HTTP API: middleware chain, authenticated
// API routes, admin routes, and operational endpoints.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vouch/internal/platform/middleware"
)

// RouterConfig carries everything the router needs.
type RouterConfig struct {
	Logger       *slog.Logger
	JWTValidator middleware.JWTValidator
	Messaging    *MessagingHandler
	Verification *VerificationHandler
	Slots        *SlotHandler
	Identity     *IdentityHandler
	Health       func() error

	// RateLimit throttles authenticated routes when set.
	RateLimit func(http.Handler) http.Handler
}

// NewRouter assembles the full route tree.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestTime)
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", handleHealth(cfg.Health))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(api chi.Router) {
		api.Use(middleware.ContentTypeJSON)
		api.Use(middleware.RequireAuth(cfg.JWTValidator, cfg.Logger))
		if cfg.RateLimit != nil {
			api.Use(cfg.RateLimit)
		}

		cfg.Messaging.Register(api)
		cfg.Verification.Register(api)
		cfg.Slots.Register(api)
		cfg.Identity.Register(api)

		api.Group(func(admin chi.Router) {
			admin.Use(middleware.RequireAdmin(cfg.Logger))
			cfg.Verification.RegisterAdmin(admin)
		})
	})

	return r
}

func handleHealth(check func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if check != nil {
			if err := check(); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"degraded"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}
