package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/platinummonkey/orgkit/pkg/async"
	"github.com/platinummonkey/orgkit/pkg/billing"
	"github.com/platinummonkey/orgkit/pkg/notify"
)

// Usage reports how much of a feature an organization consumes. ok is
// false when the feature's usage cannot be measured.
type Usage interface {
	Usage(ctx context.Context, orgID int64, feature billing.Feature) (usage int64, ok bool, err error)
}

// MemberCounter counts the members of an organization.
type MemberCounter interface {
	CountMembers(ctx context.Context, orgID int64) (int64, error)
}

// MemberUsage measures items as the member count. Metered AI token usage
// lives with the billing provider and is not measured.
type MemberUsage struct {
	Members MemberCounter
}

// Usage implements Usage.
func (u MemberUsage) Usage(ctx context.Context, orgID int64, feature billing.Feature) (int64, bool, error) {
	switch feature {
	case billing.FeatureItems:
		n, err := u.Members.CountMembers(ctx, orgID)
		if err != nil {
			return 0, false, err
		}
		return n, true, nil
	default:
		return 0, false, nil
	}
}

// CheckUsageLimits notifies owners whose organization reached one of the
// UsageThresholds of a finite plan limit. Each (organization, feature,
// threshold) is notified at most once per calendar month. It returns the
// number of notifications sent.
func (r *Runner) CheckUsageLimits(ctx context.Context) (sent int, err error) {
	defer func(begin time.Time) { r.metrics.ObserveJob(JobCheckUsageLimits, begin, err) }(time.Now())
	started := r.clock.Now()

	monthStart := startOfMonth(started.UTC())
	var count atomic.Int64
	var errs []error

	var afterID int64
	for {
		targets, err := r.store.OrganizationsWithOwners(ctx, afterID, pageSize)
		if err != nil {
			errs = append(errs, err)
			break
		}
		if len(targets) == 0 {
			break
		}
		afterID = targets[len(targets)-1].OrganizationID

		failed := async.Batch(ctx, targets, r.config.Workers, "usage limit check", r.config.Timeout,
			func(ctx context.Context, t *Target) error {
				var errs []error
				for _, feature := range billing.Features() {
					n, err := r.checkFeature(ctx, t, feature, monthStart)
					count.Add(int64(n))
					if err != nil {
						errs = append(errs, err)
					}
				}
				return errors.Join(errs...)
			})
		errs = append(errs, failed...)

		if len(targets) < pageSize {
			break
		}
	}

	sent = int(count.Load())
	r.logger.WithField("sent", sent).Info("usage limit check completed")
	return sent, errors.Join(errs...)
}

func (r *Runner) checkFeature(ctx context.Context, t *Target, feature billing.Feature, monthStart time.Time) (int, error) {
	limit, err := r.plans.PlanLimit(ctx, t.OrganizationID, feature)
	if err != nil {
		return 0, err
	}
	if limit == nil || *limit == 0 {
		return 0, nil
	}

	usage, ok, err := r.usage.Usage(ctx, t.OrganizationID, feature)
	if err != nil || !ok {
		return 0, err
	}

	percentage := usage * 100 / *limit
	label := strings.ReplaceAll(string(feature), "_", " ")
	sent := 0

	for _, threshold := range r.config.UsageThresholds {
		if percentage < int64(threshold) {
			continue
		}

		dedupeKey := fmt.Sprintf("org:%d:feature:%s:threshold:%d", t.OrganizationID, feature, threshold)
		exists, err := r.notifications.Exists(ctx, notify.KindUsageThreshold, dedupeKey, &monthStart)
		if err != nil {
			return sent, err
		}
		if exists {
			continue
		}

		msg := notify.Message{
			Kind:    notify.KindUsageThreshold,
			Subject: fmt.Sprintf("Usage alert: %d%% of %s limit reached", threshold, label),
			Data: map[string]interface{}{
				"title":           fmt.Sprintf("%d%% of %s limit reached", threshold, label),
				"body":            fmt.Sprintf("%s has used %d of %d %s.", t.OrganizationName, usage, *limit, label),
				"action_label":    "Upgrade Plan",
				"organization_id": t.OrganizationID,
				"feature":         string(feature),
				"current_usage":   usage,
				"limit":           *limit,
				"percentage":      threshold,
			},
			DedupeKey: dedupeKey,
		}
		if err := r.notifier.Notify(ctx, notify.ToUser(t.OwnerID, t.OwnerEmail), msg); err != nil {
			return sent, fmt.Errorf("organization %d: %w", t.OrganizationID, err)
		}
		sent++

		r.logger.WithFields(map[string]interface{}{
			"organization_id": t.OrganizationID,
			"feature":         string(feature),
			"current_usage":   usage,
			"limit":           *limit,
			"percentage":      percentage,
		}).Info("usage threshold notification sent")
	}
	return sent, nil
}
