package billing

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/platinummonkey/orgkit/pkg/async"
	"github.com/platinummonkey/orgkit/pkg/observability"
	"github.com/platinummonkey/orgkit/pkg/orgs"
)

// DefaultUsageReportTimeout bounds one asynchronous usage report.
const DefaultUsageReportTimeout = 10 * time.Second

// UsageReporter forwards metered usage to the provider. Reporting never
// fails the caller: every problem is logged and dropped.
type UsageReporter struct {
	catalog       Catalog
	subscriptions *SubscriptionResolver
	provider      Provider
	clock         clockwork.Clock
	timeout       time.Duration
	metrics       *observability.Metrics
	logger        *observability.Logger
}

// NewUsageReporter creates a usage reporter.
func NewUsageReporter(catalog Catalog, subscriptions *SubscriptionResolver, provider Provider, logger *observability.Logger) *UsageReporter {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &UsageReporter{
		catalog:       catalog,
		subscriptions: subscriptions,
		provider:      provider,
		clock:         clockwork.NewRealClock(),
		timeout:       DefaultUsageReportTimeout,
		logger:        logger,
	}
}

// WithClock replaces the clock, for tests.
func (u *UsageReporter) WithClock(clock clockwork.Clock) *UsageReporter {
	u.clock = clock
	return u
}

// WithMetrics enables usage report counters.
func (u *UsageReporter) WithMetrics(metrics *observability.Metrics) *UsageReporter {
	u.metrics = metrics
	return u
}

func (u *UsageReporter) count(meter, result string) {
	if u.metrics != nil {
		u.metrics.UsageReportsTotal.WithLabelValues(meter, result).Inc()
	}
}

// Report sends quantity units of meterKey usage for org.
func (u *UsageReporter) Report(ctx context.Context, org *orgs.Organization, meterKey string, quantity int64) {
	logger := u.logger.WithFields(map[string]interface{}{
		"organization_id": org.ID,
		"meter":           meterKey,
		"quantity":        quantity,
	})
	logger.Debug("reporting usage")

	meter, err := u.catalog.Meter(ctx, meterKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			logger.Warn("meter not found")
		} else {
			logger.WithError(err).Error("failed to load meter")
		}
		u.count(meterKey, "skipped")
		return
	}

	subscribed, err := u.subscriptions.Subscribed(ctx, org.ID)
	if err != nil {
		logger.WithError(err).Error("failed to check subscription")
		u.count(meterKey, "error")
		return
	}
	if !subscribed || org.StripeCustomerID == nil {
		logger.Debug("skipping usage report, organization not subscribed")
		u.count(meterKey, "skipped")
		return
	}

	err = u.provider.ReportUsage(ctx, UsageEvent{
		EventName:  meter.EventName,
		CustomerID: *org.StripeCustomerID,
		Value:      quantity,
		Timestamp:  u.clock.Now(),
	})
	if err != nil {
		logger.WithError(err).Error("failed to report meter event")
		u.count(meterKey, "error")
		return
	}
	u.count(meterKey, "reported")
}

// ReportAsync runs Report on a panic-safe goroutine detached from the
// request. The returned channel closes when the report finished.
func (u *UsageReporter) ReportAsync(ctx context.Context, org *orgs.Organization, meterKey string, quantity int64) <-chan struct{} {
	return async.SafeGo(ctx, u.timeout, "usage report", u.logger, func(ctx context.Context) error {
		u.Report(ctx, org, meterKey, quantity)
		return nil
	})
}
