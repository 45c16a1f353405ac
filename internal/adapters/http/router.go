package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cadencehq/identity-service/internal/application"
)

// Handler is the HTTP adapter entrypoint. It depends only on the application
// service and its own instruments.
type Handler struct {
	service *application.Service
	metrics *Metrics
	limiter *ipRateLimiter
}

// RouterConfig carries the adapter-level knobs.
type RouterConfig struct {
	// RegisterPerMinute throttles unauthenticated writes per client IP.
	RegisterPerMinute int
	RegisterBurst     int
}

func NewHandler(service *application.Service, metrics *Metrics, cfg RouterConfig) *Handler {
	return &Handler{
		service: service,
		metrics: metrics,
		limiter: newIPRateLimiter(cfg.RegisterPerMinute, cfg.RegisterBurst),
	}
}

// NewRouter registers all routes and the middleware stack. Centralizing
// routes here keeps auth and error behavior uniform across endpoints.
func NewRouter(handler *Handler, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware)
	r.Use(handler.loggingMiddleware)

	r.Get("/healthz", handler.healthz)
	r.Get("/readyz", handler.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/auth/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(handler.limiter.middleware)
			r.Post("/register", handler.register)
			r.Post("/password/reset-request", handler.passwordResetRequest)
		})
		r.Post("/login", handler.login)
		r.Post("/refresh", handler.refresh)
		r.Post("/logout", handler.logout)
		r.Post("/password/reset", handler.passwordReset)
		r.Post("/email/verify", handler.emailVerify)

		r.Group(func(r chi.Router) {
			r.Use(handler.authMiddleware)
			r.Get("/me", handler.me)
			r.Post("/email/verify-request", handler.emailVerifyRequest)
			r.Get("/audit", handler.auditSelf)

			r.Group(func(r chi.Router) {
				r.Use(handler.requirePermission("audit.read"))
				r.Get("/audit/all", handler.auditAll)
			})

			r.Group(func(r chi.Router) {
				r.Use(handler.requirePermission("users.manage"))
				r.Post("/users/{user_id}/roles/{role}", handler.assignRole)
				r.Delete("/users/{user_id}/roles/{role}", handler.revokeRole)
			})
		})
	})

	return r
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeMessage(w, http.StatusOK, "ok")
}

func (h *Handler) readyz(w http.ResponseWriter, _ *http.Request) {
	writeMessage(w, http.StatusOK, "ready")
}
