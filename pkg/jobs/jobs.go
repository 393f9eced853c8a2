package jobs

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/platinummonkey/orgkit/pkg/billing"
	"github.com/platinummonkey/orgkit/pkg/notify"
	"github.com/platinummonkey/orgkit/pkg/observability"
)

// Job names, used as metric labels and scheduler entries.
const (
	JobCheckExpiringPlans = "check_expiring_plans"
	JobCheckUsageLimits   = "check_usage_limits"
)

const (
	defaultWorkers = 4
	defaultTimeout = 30 * time.Second
	pageSize       = 100
)

// DefaultExpiryDaysBefore and DefaultUsageThresholds match the shipped
// notification settings.
var (
	DefaultExpiryDaysBefore = []int{7, 3, 1}
	DefaultUsageThresholds  = []int{80, 90}
)

// Config controls the scans.
type Config struct {
	// ExpiryDaysBefore lists the day offsets at which owners hear about an
	// expiring trial or subscription.
	ExpiryDaysBefore []int
	// UsageThresholds are usage percentages of a plan limit.
	UsageThresholds []int
	// Workers bounds the organizations checked concurrently.
	Workers int
	// Timeout bounds the work done for one organization.
	Timeout time.Duration
}

// Plans is the part of the subscription resolver the scans read.
type Plans interface {
	CurrentPlan(ctx context.Context, orgID int64) (*billing.Plan, error)
	PlanLimit(ctx context.Context, orgID int64, feature billing.Feature) (*int64, error)
}

// Runner executes the scheduled scans. Both scans only read core state;
// the notifier is expected to record what it sends in the notification
// store, which is where the dedupe lookups look.
type Runner struct {
	store         Store
	plans         Plans
	usage         Usage
	notifications notify.Store
	notifier      notify.Notifier
	config        Config
	clock         clockwork.Clock
	metrics       *observability.Metrics
	logger        *observability.Logger
}

// NewRunner creates a Runner, filling unset config with defaults.
func NewRunner(store Store, plans Plans, usage Usage, notifications notify.Store, notifier notify.Notifier, config Config, logger *observability.Logger) *Runner {
	if len(config.ExpiryDaysBefore) == 0 {
		config.ExpiryDaysBefore = DefaultExpiryDaysBefore
	}
	if len(config.UsageThresholds) == 0 {
		config.UsageThresholds = DefaultUsageThresholds
	}
	if config.Workers <= 0 {
		config.Workers = defaultWorkers
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Runner{
		store:         store,
		plans:         plans,
		usage:         usage,
		notifications: notifications,
		notifier:      notifier,
		config:        config,
		clock:         clockwork.NewRealClock(),
		logger:        logger,
	}
}

// WithClock replaces the clock, for tests.
func (r *Runner) WithClock(clock clockwork.Clock) *Runner {
	r.clock = clock
	return r
}

// WithMetrics records job runs and durations.
func (r *Runner) WithMetrics(metrics *observability.Metrics) *Runner {
	r.metrics = metrics
	return r
}

// Run executes the named job. It is what the scheduler calls.
func (r *Runner) Run(ctx context.Context, job string) (sent int, err error) {
	ctx, span := observability.StartSpan(ctx, "jobs.Run", attribute.String("job", job))
	defer func() {
		span.SetAttributes(attribute.Int("notifications_sent", sent))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	switch job {
	case JobCheckExpiringPlans:
		return r.CheckExpiringPlans(ctx)
	case JobCheckUsageLimits:
		return r.CheckUsageLimits(ctx)
	default:
		return 0, &UnknownJobError{Job: job}
	}
}

// UnknownJobError is returned by Run for a job name it does not know.
type UnknownJobError struct {
	Job string
}

func (e *UnknownJobError) Error() string {
	return "unknown job: " + e.Job
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
