package billing

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// CatalogConfig is the declared billing catalog. Plans are listed in
// display order.
type CatalogConfig struct {
	Currency  string        `yaml:"currency"`
	TrialDays int           `yaml:"trial_days"`
	Plans     []PlanConfig  `yaml:"plans"`
	Meters    []MeterConfig `yaml:"meters"`
}

// PlanConfig declares one plan. Prices are unit amounts in the smallest
// currency unit per interval; a plan without prices is free.
type PlanConfig struct {
	Key         PlanKey                       `yaml:"key"`
	Name        string                        `yaml:"name"`
	Description string                        `yaml:"description"`
	Prices      map[Interval]int64            `yaml:"prices"`
	Metered     map[string]MeteredPriceConfig `yaml:"metered"`
	Limits      map[Feature]*int64            `yaml:"limits"`
	Features    []string                      `yaml:"features"`
}

// MeteredPriceConfig binds a metered price to a meter.
type MeteredPriceConfig struct {
	Meter      string `yaml:"meter"`
	UnitAmount int64  `yaml:"unit_amount"`
}

// MeterConfig declares a usage meter.
type MeterConfig struct {
	Key         string `yaml:"key"`
	DisplayName string `yaml:"display_name"`
	EventName   string `yaml:"event_name"`
}

// Validate checks the catalog for duplicate keys, unknown intervals and
// features, and metered prices bound to undeclared meters.
func (c *CatalogConfig) Validate() error {
	var errs []error

	meters := make(map[string]bool)
	for _, m := range c.Meters {
		if m.Key == "" || m.EventName == "" {
			errs = append(errs, fmt.Errorf("meter %q: key and event_name are required", m.Key))
		}
		if meters[m.Key] {
			errs = append(errs, fmt.Errorf("meter %q is declared twice", m.Key))
		}
		meters[m.Key] = true
	}

	plans := make(map[PlanKey]bool)
	for _, p := range c.Plans {
		if p.Key == "" || p.Name == "" {
			errs = append(errs, fmt.Errorf("plan %q: key and name are required", p.Key))
		}
		if plans[p.Key] {
			errs = append(errs, fmt.Errorf("plan %q is declared twice", p.Key))
		}
		plans[p.Key] = true

		for interval, amount := range p.Prices {
			if interval != IntervalMonthly && interval != IntervalYearly {
				errs = append(errs, fmt.Errorf("plan %q: unknown interval %q", p.Key, interval))
			}
			if amount <= 0 {
				errs = append(errs, fmt.Errorf("plan %q: %s price must be positive", p.Key, interval))
			}
		}
		for feature := range p.Limits {
			if !feature.IsKnown() {
				errs = append(errs, fmt.Errorf("plan %q: unknown feature %q", p.Key, feature))
			}
		}
		for key, metered := range p.Metered {
			if !meters[metered.Meter] {
				errs = append(errs, fmt.Errorf("plan %q: metered price %q uses undeclared meter %q", p.Key, key, metered.Meter))
			}
		}
	}
	return errors.Join(errs...)
}

// SyncReport summarizes one catalog sync.
type SyncReport struct {
	Created     []string
	Updated     []string
	Deactivated []string
	// Removed lists active plans missing from the configuration that were
	// left active.
	Removed  []string
	Warnings int
}

// Syncer pushes the declared catalog to the provider and the store.
// Provider failures are warnings: the store keeps the last known ids and
// the next sync retries.
type Syncer struct {
	store    PlanStore
	provider CatalogProvider
	catalog  Catalog
	clock    clockwork.Clock
	log      *logrus.Logger
}

// NewSyncer creates a syncer. catalog may be nil when no cache is shared.
func NewSyncer(store PlanStore, provider CatalogProvider, catalog Catalog, log *logrus.Logger) *Syncer {
	if log == nil {
		log = logrus.New()
	}
	return &Syncer{
		store:    store,
		provider: provider,
		catalog:  catalog,
		clock:    clockwork.NewRealClock(),
		log:      log,
	}
}

// WithClock replaces the clock, for tests.
func (s *Syncer) WithClock(clock clockwork.Clock) *Syncer {
	s.clock = clock
	return s
}

// Sync upserts meters then plans, handles plans missing from config and
// flushes the cached catalog. With deactivateRemoved those plans are
// deactivated, otherwise only reported.
func (s *Syncer) Sync(ctx context.Context, config CatalogConfig, deactivateRemoved bool) (*SyncReport, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid billing configuration: %w", err)
	}
	if config.Currency == "" {
		config.Currency = "usd"
	}

	s.log.Info("starting billing sync")
	report := &SyncReport{}

	var errs []error
	if err := s.syncMeters(ctx, config.Meters, report); err != nil {
		errs = append(errs, err)
	}
	if err := s.syncPlans(ctx, config, report); err != nil {
		errs = append(errs, err)
	}
	if err := s.handleRemovedPlans(ctx, config.Plans, deactivateRemoved, report); err != nil {
		errs = append(errs, err)
	}

	if s.catalog != nil {
		if err := s.catalog.Invalidate(ctx); err != nil {
			s.log.WithError(err).Warn("failed to flush catalog cache")
			report.Warnings++
		}
	}

	if len(errs) == 0 {
		plans, err := s.store.ActivePlans(ctx)
		if err != nil {
			errs = append(errs, err)
		} else if err := ValidatePriceUniqueness(plans); err != nil {
			errs = append(errs, err)
		}
	}

	s.log.WithFields(logrus.Fields{
		"created":     len(report.Created),
		"updated":     len(report.Updated),
		"deactivated": len(report.Deactivated),
		"warnings":    report.Warnings,
	}).Info("billing sync completed")
	return report, errors.Join(errs...)
}

func (s *Syncer) warn(report *SyncReport, err error, fields logrus.Fields, msg string) {
	report.Warnings++
	s.log.WithFields(fields).WithError(err).Warn(msg)
}

func (s *Syncer) syncMeters(ctx context.Context, meters []MeterConfig, report *SyncReport) error {
	var errs []error
	for _, cfg := range meters {
		meter := &BillingMeter{Key: cfg.Key, DisplayName: cfg.DisplayName, EventName: cfg.EventName}

		existing, err := s.store.GetMeter(ctx, cfg.Key)
		switch {
		case err == nil:
			meter.ProviderMeterID = existing.ProviderMeterID
		case !errors.Is(err, ErrNotFound):
			errs = append(errs, err)
			continue
		}

		if meter.ProviderMeterID == "" {
			id, err := s.provider.CreateMeter(ctx, cfg.DisplayName, cfg.EventName)
			if err != nil {
				s.warn(report, err, logrus.Fields{"meter": cfg.Key}, "provider meter creation failed")
			}
			meter.ProviderMeterID = id
		}

		if err := s.store.UpsertMeter(ctx, meter, s.clock.Now().UTC()); err != nil {
			s.log.WithField("meter", cfg.Key).WithError(err).Error("failed to save meter")
			errs = append(errs, err)
			continue
		}

		name := "meter:" + cfg.Key
		if existing != nil {
			report.Updated = append(report.Updated, name)
		} else {
			report.Created = append(report.Created, name)
		}
		s.log.WithField("meter", cfg.Key).Info("meter synced")
	}
	return errors.Join(errs...)
}

func (s *Syncer) syncPlans(ctx context.Context, config CatalogConfig, report *SyncReport) error {
	var errs []error
	for sortOrder, cfg := range config.Plans {
		existing, err := s.store.GetPlan(ctx, cfg.Key)
		if err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, err)
			continue
		}

		plan := &Plan{
			Key:         cfg.Key,
			Name:        cfg.Name,
			Description: cfg.Description,
			Limits:      cfg.Limits,
			Features:    cfg.Features,
			SortOrder:   sortOrder,
			Active:      true,
		}
		var priceIDs, meteredIDs map[string]string
		if existing != nil {
			plan.ProductID = existing.ProductID
			priceIDs = make(map[string]string, len(existing.PriceIDs))
			for interval, id := range existing.PriceIDs {
				priceIDs[string(interval)] = id
			}
			meteredIDs = existing.MeteredPriceIDs
		}

		if len(cfg.Prices) > 0 || len(cfg.Metered) > 0 {
			plan.ProductID = s.syncProduct(ctx, plan.ProductID, cfg, report)
		}
		if len(cfg.Prices) > 0 {
			prices := make(map[string]PriceRequest, len(cfg.Prices))
			for interval, amount := range cfg.Prices {
				prices[string(interval)] = PriceRequest{Amount: amount, Interval: interval}
			}
			priceIDs = s.syncPrices(ctx, plan.ProductID, config.Currency, priceIDs, prices, report)
			plan.PriceIDs = make(map[Interval]string, len(priceIDs))
			for interval, id := range priceIDs {
				if _, ok := cfg.Prices[Interval(interval)]; ok {
					plan.PriceIDs[Interval(interval)] = id
				}
			}
		}
		if len(cfg.Metered) > 0 {
			prices := make(map[string]PriceRequest, len(cfg.Metered))
			for key, metered := range cfg.Metered {
				meter, err := s.store.GetMeter(ctx, metered.Meter)
				if err != nil || meter.ProviderMeterID == "" {
					s.warn(report, err, logrus.Fields{"plan": cfg.Key, "price": key, "meter": metered.Meter},
						"meter missing or not synced, skipping metered price")
					continue
				}
				prices[key] = PriceRequest{Amount: metered.UnitAmount, Interval: IntervalMonthly, MeterID: meter.ProviderMeterID}
			}
			plan.MeteredPriceIDs = s.syncPrices(ctx, plan.ProductID, config.Currency, meteredIDs, prices, report)
		}

		if err := s.store.UpsertPlan(ctx, plan, s.clock.Now().UTC()); err != nil {
			s.log.WithField("plan", cfg.Key).WithError(err).Error("failed to save plan")
			errs = append(errs, err)
			continue
		}

		status := "created"
		if existing != nil {
			status = "updated"
			report.Updated = append(report.Updated, "plan:"+string(cfg.Key))
		} else {
			report.Created = append(report.Created, "plan:"+string(cfg.Key))
		}
		s.log.WithFields(logrus.Fields{"plan": cfg.Key, "status": status}).Info("plan synced")
	}
	return errors.Join(errs...)
}

func (s *Syncer) syncProduct(ctx context.Context, productID string, cfg PlanConfig, report *SyncReport) string {
	id, err := s.provider.UpsertProduct(ctx, productID, cfg.Name, cfg.Description)
	if err != nil {
		s.warn(report, err, logrus.Fields{"plan": cfg.Key, "product_id": productID}, "provider product sync failed")
		return productID
	}
	return id
}

// syncPrices creates prices that do not exist yet and rotates those whose
// amount changed. Prices are immutable on the provider, so a change
// deactivates the old price and creates a new one.
func (s *Syncer) syncPrices(ctx context.Context, productID, currency string, existing map[string]string, wanted map[string]PriceRequest, report *SyncReport) map[string]string {
	result := make(map[string]string, len(existing)+len(wanted))
	for k, v := range existing {
		result[k] = v
	}
	if productID == "" {
		return result
	}

	keys := make([]string, 0, len(wanted))
	for k := range wanted {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		req := wanted[key]
		req.ProductID = productID
		req.Currency = currency
		fields := logrus.Fields{"product_id": productID, "price": key}

		if oldID := existing[key]; oldID != "" {
			amount, err := s.provider.PriceAmount(ctx, oldID)
			if err != nil {
				s.warn(report, err, fields, "provider price lookup failed")
				continue
			}
			if amount == req.Amount {
				continue
			}
			if err := s.provider.DeactivatePrice(ctx, oldID); err != nil {
				s.warn(report, err, fields, "provider price deactivation failed")
				continue
			}
		}

		id, err := s.provider.CreatePrice(ctx, req)
		if err != nil {
			s.warn(report, err, fields, "provider price creation failed")
			continue
		}
		result[key] = id
	}
	return result
}

func (s *Syncer) handleRemovedPlans(ctx context.Context, configured []PlanConfig, deactivate bool, report *SyncReport) error {
	keep := make(map[PlanKey]bool, len(configured))
	for _, p := range configured {
		keep[p.Key] = true
	}

	active, err := s.store.ActivePlans(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, plan := range active {
		if keep[plan.Key] {
			continue
		}
		if !deactivate {
			s.log.WithField("plan", plan.Key).Warn("plan exists in the database but not in config")
			report.Removed = append(report.Removed, string(plan.Key))
			continue
		}

		if plan.ProductID != "" {
			if err := s.provider.DeactivateProduct(ctx, plan.ProductID); err != nil {
				s.warn(report, err, logrus.Fields{"plan": plan.Key}, "provider product deactivation failed")
			}
		}
		if err := s.store.DeactivatePlan(ctx, plan.Key, s.clock.Now().UTC()); err != nil {
			errs = append(errs, err)
			continue
		}
		report.Deactivated = append(report.Deactivated, string(plan.Key))
		s.log.WithField("plan", plan.Key).Info("plan deactivated")
	}
	return errors.Join(errs...)
}
