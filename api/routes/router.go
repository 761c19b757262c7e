package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/subsync/api/controllers"
	billingcontrollers "github.com/angelmondragon/subsync/api/controllers/billing"
	webhookcontrollers "github.com/angelmondragon/subsync/api/controllers/webhooks"
	"github.com/angelmondragon/subsync/api/middleware"
	"github.com/angelmondragon/subsync/pkg/config"
	"github.com/angelmondragon/subsync/pkg/enums"
	"github.com/angelmondragon/subsync/pkg/logger"
	"github.com/angelmondragon/subsync/pkg/redis"
)

// BillingService is everything the billing routes call.
type BillingService interface {
	billingcontrollers.AccountService
	billingcontrollers.AdminService
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP controllers.Pinger,
	redisP controllers.Pinger,
	limiter redis.RateLimiter,
	gatherer prometheus.Gatherer,
	billingService BillingService,
	stripeWebhookService webhookcontrollers.StripeWebhookService,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSAllowedOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, map[string]controllers.Pinger{
			"database": dbP,
			"redis":    redisP,
		}, logg))
	})

	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(stripeWebhookService, cfg.App.MaxWebhookBytes, logg))
	})

	r.Route("/api/v1/billing", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Get("/subscription", billingcontrollers.Subscription(billingService, logg))
		r.With(middleware.UserSyncRateLimit(limiter, cfg.RateLimit.UserSyncLimit, cfg.RateLimit.UserSyncWindow, logg)).
			Post("/sync", billingcontrollers.Sync(billingService, logg))
		r.Post("/checkout", billingcontrollers.Checkout(billingService, logg))
		r.Post("/portal", billingcontrollers.Portal(billingService, logg))
	})

	r.Route("/api/admin/v1/billing", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(logg, enums.AccountRoleAdmin))
		r.Post("/resync", billingcontrollers.AdminResync(billingService, logg))
	})

	return r
}
