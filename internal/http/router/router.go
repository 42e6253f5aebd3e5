package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/quantumfx/ea-license-service/internal/health"
	"github.com/quantumfx/ea-license-service/internal/http/handler"
	"github.com/quantumfx/ea-license-service/internal/http/middleware"
	"github.com/quantumfx/ea-license-service/internal/http/response"
	"github.com/quantumfx/ea-license-service/internal/security"
)

type Dependencies struct {
	LicenseHandler *handler.LicenseHandler
	OpsHandler     *handler.OpsHandler
	JWTManager     *security.JWTManager
	IPRateLimitRPM int
	IPRateLimiter  func(http.Handler) http.Handler
	Readiness      *health.ProbeRunner
	EnableOTelHTTP bool
}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.BodyLimit(64 << 10))
	if dep.IPRateLimiter != nil {
		r.Use(dep.IPRateLimiter)
	} else {
		r.Use(middleware.NewRateLimiter(dep.IPRateLimitRPM, time.Minute, "api").Middleware())
	}

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness == nil {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": []any{}})
			return
		}
		ready, results := dep.Readiness.Ready(r.Context())
		if ready {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": results})
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", map[string]any{"checks": results})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/license", func(r chi.Router) {
			r.Post("/validate", dep.LicenseHandler.Validate)
			r.Post("/heartbeat", dep.LicenseHandler.Heartbeat)
		})

		r.Route("/ops", func(r chi.Router) {
			r.Use(middleware.OpsAuth(dep.JWTManager))
			r.With(middleware.RequireScope("licenses:read")).Get("/licenses/{key}/sessions", dep.OpsHandler.LicenseSessions)
			r.With(middleware.RequireScope("licenses:read")).Get("/licenses/{key}/validations", dep.OpsHandler.LicenseValidations)
		})
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
