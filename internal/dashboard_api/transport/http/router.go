package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/numberdrop/golang_services/internal/dashboard_api/middleware"
)

type RouterConfig struct {
	Wallet        WalletAPI
	Numbers       NumberAPI
	Purchases     PurchaseAPI
	Messaging     MessagingAPI
	Notifications NotificationAPI
	// Webhooks is mounted unauthenticated under /webhooks/twilio; nil skips it.
	Webhooks  http.Handler
	JWTSecret string
	// Ping reports database health for /healthz; nil always reports ok.
	Ping   func(ctx context.Context) error
	Logger *slog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	r := chi.NewRouter()
	r.Use(chi_middleware.RequestID)
	r.Use(chi_middleware.RealIP)
	r.Use(AccessLogger(logger))
	r.Use(chi_middleware.Recoverer)
	r.Use(PrometheusMetricsMiddleware)

	r.Get("/healthz", healthz(cfg.Ping, logger))
	if cfg.Webhooks != nil {
		r.Mount("/webhooks/twilio", cfg.Webhooks)
	}

	wallet := NewWalletHandler(cfg.Wallet, logger)
	numbers := NewNumberHandler(cfg.Numbers, cfg.Purchases, cfg.Messaging, logger)
	activity := NewActivityHandler(cfg.Wallet, cfg.Numbers, cfg.Messaging, cfg.Notifications, logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(cfg.JWTSecret, logger))
		wallet.RegisterRoutes(r)
		numbers.RegisterRoutes(r)
		activity.RegisterRoutes(r)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdmin(logger))
			wallet.RegisterAdminRoutes(r)
		})
	})
	return r
}

func healthz(ping func(ctx context.Context) error, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ping(ctx); err != nil {
				logger.WarnContext(r.Context(), "Health check failed", "error", err)
				writeJSON(w, logger, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, logger, http.StatusOK, map[string]string{"status": "ok"})
	}
}
