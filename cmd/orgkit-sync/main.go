package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-redis/redis/v8"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/orgkit/pkg/billing"
	"github.com/platinummonkey/orgkit/pkg/cache"
	"github.com/platinummonkey/orgkit/pkg/config"
	"github.com/platinummonkey/orgkit/pkg/observability"
	"github.com/platinummonkey/orgkit/pkg/storage/postgres"
)

// Config holds command line options
type Config struct {
	ConfigFile string
	Deactivate bool
	Watch      bool
	Debounce   time.Duration
	LogLevel   string
}

func parseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.ConfigFile, "config", os.Getenv("ORGKIT_CONFIG_FILE"), "Path to the YAML configuration holding the billing catalog")
	flag.BoolVar(&cfg.Deactivate, "deactivate", false, "Deactivate active plans that are no longer configured")
	flag.BoolVar(&cfg.Watch, "watch", false, "Keep running and sync again whenever the configuration file changes")
	flag.DurationVar(&cfg.Debounce, "debounce", 2*time.Second, "Delay before syncing after a change, with -watch")
	flag.StringVar(&cfg.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	flag.Parse()

	return cfg
}

func setupLogger(logLevel string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}

func main() {
	opts := parseFlags()
	logger := setupLogger(opts.LogLevel)

	if err := run(opts, logger); err != nil {
		logger.WithError(err).Fatal("billing sync failed")
	}
}

func run(opts *Config, logger *logrus.Logger) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if cfg.Stripe.SecretKey == "" {
		return errors.New("ORGKIT_STRIPE_SECRET_KEY is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The shared packages log through the structured logger; the sync
	// itself reports through logrus.
	slogger := observability.NewLogger(cfg.Observability.LogLevel, os.Stderr).WithField("component", "sync")

	conns, err := postgres.NewConnectionManager(ctx, cfg.Database, slogger)
	if err != nil {
		return err
	}
	defer conns.Close()

	saas, err := loadCatalog(opts.ConfigFile)
	if err != nil {
		return err
	}

	var shared cache.Cache = cache.NoopCache{}
	if cfg.Redis.URL != "" {
		var client *redis.Client
		client, err = cache.NewRedisClient(cfg.Redis)
		if err != nil {
			return err
		}
		defer client.Close()
		shared = cache.NewRedisCache(client)
	} else {
		logger.Warn("ORGKIT_REDIS_URL is not set, running servers keep their cached catalog until it expires")
	}

	store := billing.NewPostgresStore(conns.Primary())
	catalog := billing.NewCachedCatalog(store, shared, saas.CacheKeys(), saas.Cache.TTL, slogger)
	syncer := billing.NewSyncer(store, billing.NewStripeProvider(cfg.Stripe, slogger), catalog, logger).
		WithClock(clockwork.NewRealClock())

	if err := syncOnce(ctx, syncer, saas.Billing, opts.Deactivate, logger); err != nil {
		return err
	}
	if !opts.Watch {
		return nil
	}
	if opts.ConfigFile == "" {
		return errors.New("-watch requires -config")
	}
	return watch(ctx, opts, syncer, logger)
}

// loadCatalog loads the configuration and rejects an empty catalog.
func loadCatalog(path string) (*config.SaaSConfig, error) {
	saas, err := config.LoadSaaSConfig(path)
	if err != nil {
		return nil, err
	}
	if len(saas.Billing.Plans) == 0 {
		return nil, errors.New("no billing configuration found")
	}
	return saas, nil
}

func syncOnce(ctx context.Context, syncer *billing.Syncer, catalog billing.CatalogConfig, deactivate bool, logger *logrus.Logger) error {
	report, err := syncer.Sync(ctx, catalog, deactivate)
	if err != nil {
		return err
	}

	for _, key := range report.Removed {
		logger.WithField("plan", key).Warn("plan is no longer configured; run with -deactivate to deactivate it")
	}
	logger.WithFields(logrus.Fields{
		"created":     len(report.Created),
		"updated":     len(report.Updated),
		"deactivated": len(report.Deactivated),
		"warnings":    report.Warnings,
	}).Info("billing sync complete")
	return nil
}

// watch re-runs the sync after the configuration file changes. The
// directory is watched so editors that replace the file are noticed.
func watch(ctx context.Context, opts *Config, syncer *billing.Syncer, logger *logrus.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	target, err := filepath.Abs(opts.ConfigFile)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(target), err)
	}
	logger.WithField("file", target).Info("watching configuration for changes")

	timer := time.NewTimer(opts.Debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			logger.WithField("op", event.Op.String()).Debug("configuration changed")
			timer.Reset(opts.Debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("watcher error")
		case <-timer.C:
			saas, err := loadCatalog(opts.ConfigFile)
			if err != nil {
				logger.WithError(err).Error("configuration rejected, keeping the last synced catalog")
				continue
			}
			if err := syncOnce(ctx, syncer, saas.Billing, opts.Deactivate, logger); err != nil {
				logger.WithError(err).Error("billing sync failed")
			}
		}
	}
}
