package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/platinummonkey/orgkit/pkg/api"
	"github.com/platinummonkey/orgkit/pkg/auth"
	"github.com/platinummonkey/orgkit/pkg/authz"
	"github.com/platinummonkey/orgkit/pkg/billing"
	"github.com/platinummonkey/orgkit/pkg/cache"
	"github.com/platinummonkey/orgkit/pkg/config"
	"github.com/platinummonkey/orgkit/pkg/middleware"
	"github.com/platinummonkey/orgkit/pkg/notify"
	"github.com/platinummonkey/orgkit/pkg/observability"
	"github.com/platinummonkey/orgkit/pkg/orgs"
	"github.com/platinummonkey/orgkit/pkg/storage/postgres"
)

// version is set at build time with -ldflags.
var version = "dev"

func main() {
	if err := run(); err != nil {
		observability.NewLogger(observability.ErrorLevel, os.Stderr).WithError(err).Error("orgkit exited")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	saas, err := config.LoadSaaSConfig(cfg.SaaSConfigFile)
	if err != nil {
		return err
	}
	registry, err := saas.Registry()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).WithField("version", version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	otelProviders, err := observability.InitOTel(ctx, cfg.Observability.OTel(), logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = observability.ShutdownOTel(shutdownCtx, otelProviders, logger)
	}()

	conns, err := postgres.NewConnectionManager(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer conns.Close()
	db := conns.Primary()

	applied, err := postgres.Migrate(ctx, db, logger)
	if err != nil {
		return err
	}
	if len(applied) > 0 {
		logger.WithField("migrations", applied).Info("database migrated")
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(promRegistry)
	}

	clock := clockwork.NewRealClock()

	var redisClient *redis.Client
	var shared cache.Cache
	if cfg.Redis.URL != "" {
		redisClient, err = cache.NewRedisClient(cfg.Redis)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		shared = cache.NewRedisCache(redisClient)
		logger.Info("using redis cache")
	} else {
		shared = cache.NewMemoryCache(saas.Cache.Size, saas.Cache.TTL, clock)
		logger.Warn("ORGKIT_REDIS_URL is not set, using an in-process cache")
	}
	keys := saas.CacheKeys()

	orgStore := orgs.NewPostgresStore(db)
	billingStore := billing.NewPostgresStore(db)
	inbox := notify.NewPostgresStore(db)

	permissions := authz.NewResolver(orgStore, registry, cache.WithMetrics(shared, "permissions", metrics), saas.AuthzConfig(), logger).
		WithMetrics(metrics)
	catalog := billing.NewCachedCatalog(billingStore, cache.WithMetrics(shared, "catalog", metrics), keys, saas.Cache.TTL, logger)
	subscriptions := billing.NewSubscriptionResolver(billingStore, catalog, cache.WithMetrics(shared, "billing", metrics), keys, logger).
		WithMetrics(metrics)

	if cfg.Stripe.SecretKey == "" {
		logger.Warn("ORGKIT_STRIPE_SECRET_KEY is not set, billing provider calls will fail")
	}
	provider := billing.NewStripeProvider(cfg.Stripe, logger)

	service := orgs.NewService(orgStore, registry, permissions, newNotifier(cfg, inbox, metrics, clock, logger), saas.OrgsConfig(cfg.App.InvitationURL()), logger).
		WithBillingCache(subscriptions)

	var rateLimit *middleware.RateLimit
	if cfg.RateLimit.Enabled {
		rateLimit = newRateLimit(ctx, cfg.RateLimit, redisClient, keys.Prefix, logger)
	}

	server := api.NewServer(api.Dependencies{
		Orgs:        service,
		Roles:       registry,
		Permissions: permissions,
		Tokens:      auth.NewTokenManager(auth.NewPostgresTokenStore(db), logger),
		Catalog:     catalog,
		Checkout: billing.NewCheckoutService(billingStore, catalog, provider, subscriptions, billing.CheckoutConfig{
			TrialDays:  saas.Billing.TrialDays,
			SuccessURL: cfg.App.BillingURL() + "?checkout=success",
			CancelURL:  cfg.App.BillingURL() + "?checkout=cancelled",
		}, logger),
		Subscriptions: subscriptions,
		Usage:         billing.NewUsageReporter(catalog, subscriptions, provider, logger).WithMetrics(metrics),
		Webhooks:      billing.NewWebhookHandler(provider, billingStore, subscriptions, logger).WithMetrics(metrics),
		Notifications: inbox,
		RateLimit:     rateLimit,
		Metrics:       metrics,
		Registry:      promRegistry,
		Logger:        logger,
		Clock:         clock,
	}, api.Config{
		CORSOrigins:     cfg.Server.CORSOrigins,
		MaxBodyBytes:    cfg.Server.MaxBodyBytes,
		PortalReturnURL: cfg.App.BillingURL(),
		Tracing:         cfg.Observability.OTelEnabled,
	})

	health := observability.NewHealthChecker(db, redisClient, version)
	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, health)
	healthMux.Handle("/metrics", observability.MetricsHandler(promRegistry))

	servers := []*http.Server{
		{
			Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
			Handler:      server,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		},
		{
			Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
			Handler:           healthMux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) {
			logger.WithField("addr", srv.Addr).Info("listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}(srv)
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		logger.WithError(err).Error("server failed")
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	var errs []error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// newNotifier records every message in the inbox and forwards it to the
// webhook when one is configured, otherwise to the log.
func newNotifier(cfg *config.Config, inbox notify.Store, metrics *observability.Metrics, clock clockwork.Clock, logger *observability.Logger) notify.Notifier {
	var next notify.Notifier = notify.NewLogNotifier(logger)
	if cfg.Notifications.WebhookURL != "" {
		next = notify.NewWebhookNotifier(cfg.Notifications.WebhookURL, cfg.Notifications.WebhookSecret, cfg.Notifications.WebhookTimeout)
	}
	return notify.NewDatabaseNotifier(inbox, notify.WithMetrics(next, metrics), clock)
}

// newRateLimit uses Redis when it is available so instances share budgets.
func newRateLimit(ctx context.Context, cfg config.RateLimitConfig, client *redis.Client, prefix string, logger *observability.Logger) *middleware.RateLimit {
	if client == nil {
		users := middleware.NewRateLimiter(cfg.User)
		anonymous := middleware.NewRateLimiter(cfg.Anonymous)
		users.StartCleanup(ctx)
		anonymous.StartCleanup(ctx)
		return middleware.NewRateLimit(users, anonymous, logger)
	}
	return middleware.NewRateLimit(
		middleware.NewDistributedRateLimiter(client, cfg.User, prefix+":ratelimit:user"),
		middleware.NewDistributedRateLimiter(client, cfg.Anonymous, prefix+":ratelimit:anonymous"),
		logger,
	)
}
