package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/orgkit/pkg/auth"
	"github.com/platinummonkey/orgkit/pkg/billing"
	"github.com/platinummonkey/orgkit/pkg/cache"
	"github.com/platinummonkey/orgkit/pkg/config"
	"github.com/platinummonkey/orgkit/pkg/jobs"
	"github.com/platinummonkey/orgkit/pkg/notify"
	"github.com/platinummonkey/orgkit/pkg/observability"
	"github.com/platinummonkey/orgkit/pkg/orgs"
	"github.com/platinummonkey/orgkit/pkg/storage/postgres"
)

const jobCleanupTokens = "cleanup_expired_tokens"

var (
	expirySchedule  = flag.String("expiry-schedule", "0 9 * * *", "Cron schedule for the expiring plan scan (default: daily 09:00 UTC)")
	usageSchedule   = flag.String("usage-schedule", "0 */6 * * *", "Cron schedule for the usage limit scan (default: every 6 hours)")
	cleanupSchedule = flag.String("cleanup-schedule", "30 3 * * *", "Cron schedule for expired API token cleanup (default: daily 03:30 UTC)")
	runOnce         = flag.String("run-once", "", "Run one job and exit: check_expiring_plans, check_usage_limits or cleanup_expired_tokens")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fatal(err)
	}
	saas, err := config.LoadSaaSConfig(cfg.SaaSConfigFile)
	if err != nil {
		fatal(err)
	}
	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).WithField("component", "scheduler")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conns, err := postgres.NewConnectionManager(ctx, cfg.Database, logger)
	if err != nil {
		fatal(err)
	}
	defer conns.Close()
	db := conns.Primary()

	clock := clockwork.NewRealClock()
	var shared cache.Cache = cache.NewMemoryCache(saas.Cache.Size, saas.Cache.TTL, clock)
	if cfg.Redis.URL != "" {
		var client *redis.Client
		client, err = cache.NewRedisClient(cfg.Redis)
		if err != nil {
			fatal(err)
		}
		defer client.Close()
		shared = cache.NewRedisCache(client)
	}
	keys := saas.CacheKeys()

	billingStore := billing.NewPostgresStore(db)
	catalog := billing.NewCachedCatalog(billingStore, shared, keys, saas.Cache.TTL, logger)
	subscriptions := billing.NewSubscriptionResolver(billingStore, catalog, shared, keys, logger)
	inbox := notify.NewPostgresStore(db)

	var next notify.Notifier = notify.NewLogNotifier(logger)
	if cfg.Notifications.WebhookURL != "" {
		next = notify.NewWebhookNotifier(cfg.Notifications.WebhookURL, cfg.Notifications.WebhookSecret, cfg.Notifications.WebhookTimeout)
	}

	runner := jobs.NewRunner(
		jobs.NewPostgresStore(db),
		subscriptions,
		jobs.MemberUsage{Members: orgs.NewPostgresStore(db)},
		inbox,
		notify.NewDatabaseNotifier(inbox, next, clock),
		saas.JobsConfig(),
		logger,
	)
	tokens := auth.NewTokenManager(auth.NewPostgresTokenStore(db), logger)

	run := func(ctx context.Context, job string) error {
		log := logger.WithField("job", job)
		started := time.Now()

		if job == jobCleanupTokens {
			deleted, err := tokens.CleanupExpiredTokens(ctx)
			if err != nil {
				log.WithError(err).Error("job failed")
				return err
			}
			log.WithFields(map[string]interface{}{"deleted": deleted, "duration": time.Since(started).String()}).Info("job completed")
			return nil
		}

		sent, err := runner.Run(ctx, job)
		if err != nil {
			log.WithError(err).WithField("sent", sent).Error("job failed")
			return err
		}
		log.WithFields(map[string]interface{}{"sent": sent, "duration": time.Since(started).String()}).Info("job completed")
		return nil
	}

	// Run once mode (for testing or manual catch-up)
	if *runOnce != "" {
		if err := run(ctx, *runOnce); err != nil {
			fatal(err)
		}
		return
	}

	// Scheduled mode
	c := cron.New(cron.WithLocation(time.UTC))
	schedules := []struct {
		spec string
		job  string
	}{
		{*expirySchedule, jobs.JobCheckExpiringPlans},
		{*usageSchedule, jobs.JobCheckUsageLimits},
		{*cleanupSchedule, jobCleanupTokens},
	}
	for _, s := range schedules {
		job := s.job
		if _, err := c.AddFunc(s.spec, func() { _ = run(ctx, job) }); err != nil {
			fatal(fmt.Errorf("failed to schedule %s: %w", job, err))
		}
		logger.WithFields(map[string]interface{}{"job": job, "schedule": s.spec}).Info("job scheduled")
	}

	c.Start()
	logger.Info("scheduler started")

	<-ctx.Done()
	logger.Info("shutting down gracefully")

	// Wait for running jobs
	<-c.Stop().Done()
	logger.Info("scheduler stopped")
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "orgkit-scheduler: %v\n", err)
	os.Exit(1)
}
