package rest

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/frahmantamala/familyguard/internal/audit"
	"github.com/frahmantamala/familyguard/internal/gate"
	"github.com/frahmantamala/familyguard/internal/guard"
	"github.com/frahmantamala/familyguard/internal/identity"
	"github.com/frahmantamala/familyguard/internal/session"
	"github.com/frahmantamala/familyguard/internal/transport/middleware"
	"github.com/frahmantamala/familyguard/internal/transport/swagger"
)

type Dependencies struct {
	Core   *guard.Core
	DB     Pinger
	Logger *slog.Logger
}

func RegisterAllRoutes(router *chi.Mux, deps Dependencies) {
	core := deps.Core
	cfg := core.Config
	lg := deps.Logger

	sessionHandler := session.NewHandler(core.Authenticator, core.Sessions, core.Roles, lg)
	gateHandler := gate.NewHandler(core.Gate, lg)
	auditHandler := audit.NewHandler(core.Audit, lg)
	healthHandler := NewHealthHandler(healthChecks(core, deps.DB))

	throttle := middleware.NewThrottle(cfg.Server.RequestsPerSecond, cfg.Server.RequestBurst, lg)
	authenticated := middleware.SessionAuth(core.Sessions, lg)
	require := func(perm identity.Permission) func(http.Handler) http.Handler {
		return middleware.RequirePermission(perm, lg)
	}

	router.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.TraceID)
	router.Use(middleware.RecoveryMiddleware(lg))

	router.Handle(swagger.DocumentPath, swagger.DocumentHandler())
	router.Handle("/swagger/*", swagger.Handler())
	if cfg.Observability.Metrics.Enabled {
		router.Handle(cfg.Observability.Metrics.Path, promhttp.Handler())
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.LoggingMiddleware(lg))
		r.Use(throttle.Middleware)

		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		r.Post("/auth/login", sessionHandler.Login)

		r.Group(func(pr chi.Router) {
			pr.Use(authenticated)

			pr.Post("/auth/logout", sessionHandler.Logout)
			pr.Get("/sessions/current", sessionHandler.Current)
			pr.Get("/sessions/current/permissions/{permission}", sessionHandler.CheckPermission)

			pr.Route("/gate", func(gr chi.Router) {
				gr.Post("/validate", gateHandler.Validate)

				gr.Group(func(vr chi.Router) {
					vr.Use(require(identity.PermViewAudit))
					vr.Get("/rules", gateHandler.ListRules)
					vr.Get("/events", gateHandler.ListEvents)
					vr.Get("/events/{id}", gateHandler.GetEvent)
				})

				gr.Group(func(mr chi.Router) {
					mr.Use(require(identity.PermManageRules))
					mr.Post("/rules", gateHandler.AddRule)
					mr.Delete("/rules/{operation}", gateHandler.RemoveRule)
					mr.Put("/blacklist/{operation}", gateHandler.Blacklist)
					mr.Delete("/blacklist/{operation}", gateHandler.Unblacklist)
					mr.Put("/whitelist/{operation}", gateHandler.Whitelist)
					mr.Delete("/whitelist/{operation}", gateHandler.Unwhitelist)
				})

				gr.Group(func(ar chi.Router) {
					ar.Use(require(identity.PermApproveOperations))
					ar.Post("/events/{id}/approve", gateHandler.Approve)
					ar.Post("/events/{id}/block", gateHandler.Block)
				})
			})

			pr.Route("/audit", func(ar chi.Router) {
				ar.Use(require(identity.PermViewAudit))
				ar.Get("/events", auditHandler.ListEvents)
				ar.Get("/report", auditHandler.Report)
				ar.Get("/stats", auditHandler.Stats)
			})
		})
	})
}

func healthChecks(core *guard.Core, db Pinger) map[string]Check {
	checks := map[string]Check{
		"audit": func(ctx context.Context) (map[string]any, error) {
			return map[string]any{"stored_events": core.Audit.Len()}, nil
		},
		"sessions": func(ctx context.Context) (map[string]any, error) {
			return map[string]any{"active": core.Sessions.Count()}, nil
		},
	}
	if db != nil {
		checks["postgres"] = PingCheck(db)
	}
	return checks
}
