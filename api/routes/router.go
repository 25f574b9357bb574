package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/kiosk-backend/api/controllers"
	"github.com/angelmondragon/kiosk-backend/api/middleware"
	"github.com/angelmondragon/kiosk-backend/internal/permissions"
	"github.com/angelmondragon/kiosk-backend/pkg/config"
	"github.com/angelmondragon/kiosk-backend/pkg/logger"
	"github.com/angelmondragon/kiosk-backend/pkg/redis"
)

// Params carries everything the router wires. Nil services answer
// internal_error on their routes.
type Params struct {
	Config       *config.Config
	Logger       *logger.Logger
	DB           controllers.Pinger
	Redis        *redis.Client
	Gateways     controllers.GatewayService
	Alerts       controllers.AlertsService
	Compensation controllers.CompensationService
	Permissions  permissions.Checker
	Metrics      http.Handler
}

func NewRouter(p Params) http.Handler {
	cfg, logg := p.Config, p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	deps := map[string]controllers.Pinger{}
	if p.DB != nil {
		deps["db"] = p.DB
	}
	var idem redis.IdempotencyStore
	var limiter middleware.RateLimiterStore
	if p.Redis != nil {
		deps["redis"] = p.Redis
		idem = p.Redis
		limiter = p.Redis
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps))
	})

	if p.Metrics != nil {
		r.Handle("/metrics", p.Metrics)
	}

	r.Route("/api/v1/gateways", func(r chi.Router) {
		r.Use(middleware.GatewayRateLimit(cfg.Gateway.RateLimitPerMinute, limiter, logg))
		r.Post("/heartbeat", controllers.GatewayHeartbeat(p.Gateways, cfg.Gateway.MaxBodyBytes, logg))
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.CORS(cfg.App.CORSOrigins))
		r.Use(middleware.Auth(cfg.JWT, logg))

		can := func(code permissions.Code) func(http.Handler) http.Handler {
			return middleware.RequirePermission(p.Permissions, code, logg)
		}
		// idempotent routes check the grant first so a rejected request
		// never claims its key
		idempotent := middleware.Idempotency(idem, logg)

		r.With(can(permissions.AdminPermissionsR)).Get("/permissions", controllers.ListPermissions())
		r.Get("/permissions/me", controllers.MyPermissions())

		r.With(can(permissions.GatewaysRead)).Get("/gateways", controllers.ListGateways(p.Gateways, logg))

		r.Route("/alerts", func(r chi.Router) {
			r.With(can(permissions.AlertsRead)).Get("/", controllers.ListAlerts(p.Alerts, logg))
			r.With(can(permissions.AlertsDispatch)).Post("/", controllers.EnqueueAlert(p.Alerts, logg))
			r.With(can(permissions.AlertsDispatch)).Post("/dispatch", controllers.DispatchAlerts(p.Alerts, logg))
			r.With(can(permissions.AlertsRead)).Get("/{alertID}/history", controllers.AlertHistory(p.Alerts, logg))

			r.Route("/dlq", func(r chi.Router) {
				r.With(can(permissions.AlertsDLQRead)).Get("/", controllers.ListDLQ(p.Alerts, logg))
				r.With(can(permissions.AlertsDLQReplay)).Post("/replay-due", controllers.ReplayDueDLQ(p.Alerts, logg))
				r.With(can(permissions.AlertsDLQReplay), idempotent).Post("/{dlqID}/replay", controllers.ReplayDLQ(p.Alerts, logg))
				r.With(can(permissions.AlertsDLQResolve), idempotent).Post("/{dlqID}/resolve", controllers.ResolveDLQ(p.Alerts, logg))
			})
		})

		r.Route("/compensation", func(r chi.Router) {
			r.With(can(permissions.CompensationRead)).Get("/alert", controllers.CompensationAlert(p.Compensation, logg))
			r.With(can(permissions.CompensationRead)).Get("/status", controllers.CompensationStatus(p.Compensation, logg))
			r.With(can(permissions.CompensationRead)).Get("/records", controllers.ListCompensationRecords(p.Compensation, logg))
			r.With(can(permissions.CompensationRun)).Post("/scan", controllers.RunCompensationScan(p.Compensation, logg))
			r.With(can(permissions.CompensationRun), idempotent).Post("/execute", controllers.RunCompensationExecute(p.Compensation, logg))
		})
	})

	return r
}
