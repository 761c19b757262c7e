package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angelmondragon/subsync/api/routes"
	"github.com/angelmondragon/subsync/internal/billing"
	"github.com/angelmondragon/subsync/internal/bootstrap"
	"github.com/angelmondragon/subsync/internal/reconcile"
	stripewebhook "github.com/angelmondragon/subsync/internal/webhooks/stripe"
	"github.com/angelmondragon/subsync/pkg/config"
	"github.com/angelmondragon/subsync/pkg/db"
	"github.com/angelmondragon/subsync/pkg/instance"
	"github.com/angelmondragon/subsync/pkg/logger"
	"github.com/angelmondragon/subsync/pkg/metrics"
	"github.com/angelmondragon/subsync/pkg/migrate"
	"github.com/angelmondragon/subsync/pkg/pubsub"
	"github.com/angelmondragon/subsync/pkg/redis"
	"github.com/angelmondragon/subsync/pkg/stripe"
)

const readHeaderTimeout = 10 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	if err := run(cfg, logg); err != nil {
		logg.Error(context.Background(), "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logg *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return err
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return err
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	stripeClient, err := stripe.NewClient(ctx, cfg.Stripe, logg)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	billingMetrics := metrics.NewBillingMetrics(registry)

	stack, err := bootstrap.NewSyncStack(cfg, logg, dbClient, stripeClient, billingMetrics)
	if err != nil {
		return err
	}

	dispatcher, shutdownDispatcher, err := newDispatcher(ctx, cfg, logg, stack.Handler, billingMetrics)
	if err != nil {
		return err
	}

	verifier, err := stripewebhook.NewVerifier(stripeClient.SigningSecret(), cfg.Stripe.WebhookTolerance, cfg.Stripe.IgnoreAPIVersionMismatch)
	if err != nil {
		return err
	}
	webhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Verifier:   verifier,
		Dispatcher: dispatcher,
		Logger:     logg,
		Metrics:    billingMetrics,
	})
	if err != nil {
		return err
	}

	billingService, err := billing.NewService(billing.ServiceParams{
		Users:    stack.Users,
		Mirror:   stack.Mirror,
		Syncer:   stack.Syncer,
		Resolver: stack.Resolver,
		Sessions: stripeClient,
		Stripe:   cfg.Stripe,
		Policy:   bootstrap.ProviderPolicy(cfg.Reconcile),
		Logger:   logg,
	})
	if err != nil {
		return err
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	logCtx := logg.WithFields(ctx, map[string]any{
		"env":            cfg.App.Env,
		"addr":           addr,
		"instance":       instance.GetID(),
		"reconcile_mode": cfg.Reconcile.Mode,
		"stripe_env":     stripeClient.Environment(),
	})
	logg.Info(logCtx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		ReadHeaderTimeout: readHeaderTimeout,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			redisClient,
			registry,
			billingService,
			webhookService,
		),
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logg.Info(logCtx, "shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Reconcile.ShutdownTimeout)
	defer cancel()

	// Stop intake first so no new tasks arrive while the queue drains.
	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error(logCtx, "http shutdown incomplete", err)
	}
	if err := shutdownDispatcher(shutdownCtx); err != nil {
		logg.Error(logCtx, "reconcile dispatcher shutdown incomplete", err)
	}
	logg.Info(logCtx, "api server stopped")
	return nil
}

// newDispatcher returns the configured reconcile dispatcher and its shutdown hook.
func newDispatcher(ctx context.Context, cfg *config.Config, logg *logger.Logger, runner reconcile.Runner, m *metrics.BillingMetrics) (reconcile.Dispatcher, func(context.Context) error, error) {
	if cfg.Reconcile.UsesPubSub() {
		psClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, pubsub.RolePublisher, logg)
		if err != nil {
			return nil, nil, err
		}
		publisher := psClient.ReconcilePublisher()
		dispatcher, err := reconcile.NewPubSubDispatcher(publisher, cfg.Reconcile.ProviderTimeout, logg)
		if err != nil {
			_ = psClient.Close()
			return nil, nil, err
		}
		return dispatcher, func(context.Context) error {
			publisher.Stop()
			return psClient.Close()
		}, nil
	}

	pool, err := reconcile.NewPool(reconcile.PoolParams{
		Runner:      runner,
		Workers:     cfg.Reconcile.Workers,
		QueueSize:   cfg.Reconcile.QueueSize,
		TaskTimeout: cfg.Reconcile.TaskTimeout,
		MaxAttempts: cfg.Reconcile.MaxAttempts,
		BaseBackoff: cfg.Reconcile.BaseBackoff,
		Logger:      logg,
		Metrics:     m,
	})
	if err != nil {
		return nil, nil, err
	}
	// The pool outlives the signal context so queued tasks can drain on shutdown.
	pool.Start(context.Background())
	return pool, pool.Shutdown, nil
}
