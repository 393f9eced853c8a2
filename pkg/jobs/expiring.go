package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/platinummonkey/orgkit/pkg/async"
	"github.com/platinummonkey/orgkit/pkg/notify"
)

// CheckExpiringPlans notifies the owner of every organization whose trial
// or subscription ends on the calendar day ExpiryDaysBefore days from now.
// Each (organization, offset) pair is notified at most once, ever. It
// returns the number of notifications sent.
func (r *Runner) CheckExpiringPlans(ctx context.Context) (sent int, err error) {
	defer func(begin time.Time) { r.metrics.ObserveJob(JobCheckExpiringPlans, begin, err) }(time.Now())
	started := r.clock.Now()

	today := startOfDay(started.UTC())
	var count atomic.Int64
	var errs []error

	for _, days := range r.config.ExpiryDaysBefore {
		from := today.AddDate(0, 0, days)
		targets, err := r.store.ExpiringOrganizations(ctx, from, from.AddDate(0, 0, 1))
		if err != nil {
			errs = append(errs, err)
			continue
		}

		failed := async.Batch(ctx, targets, r.config.Workers, "plan expiry check", r.config.Timeout,
			func(ctx context.Context, t *Target) error {
				notified, err := r.notifyExpiring(ctx, t, days)
				if notified {
					count.Add(1)
				}
				return err
			})
		errs = append(errs, failed...)
	}

	sent = int(count.Load())
	r.logger.WithField("sent", sent).Info("plan expiry check completed")
	return sent, errors.Join(errs...)
}

func (r *Runner) notifyExpiring(ctx context.Context, t *Target, days int) (bool, error) {
	dedupeKey := fmt.Sprintf("org:%d:days:%d", t.OrganizationID, days)
	exists, err := r.notifications.Exists(ctx, notify.KindPlanExpiring, dedupeKey, nil)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	planName := "your plan"
	if plan, err := r.plans.CurrentPlan(ctx, t.OrganizationID); err != nil {
		r.logger.WithError(err).WithField("organization_id", t.OrganizationID).Warn("failed to resolve plan for expiry notice")
	} else if plan != nil {
		planName = plan.Name
	}

	label := fmt.Sprintf("%d days", days)
	if days == 1 {
		label = "1 day"
	}
	title := fmt.Sprintf("%s expires in %s", planName, label)

	msg := notify.Message{
		Kind:    notify.KindPlanExpiring,
		Subject: title,
		Data: map[string]interface{}{
			"title":           title,
			"body":            fmt.Sprintf("Your %s plan for %s is expiring soon.", planName, t.OrganizationName),
			"action_label":    "Manage Billing",
			"organization_id": t.OrganizationID,
			"days_remaining":  days,
		},
		DedupeKey: dedupeKey,
	}
	if err := r.notifier.Notify(ctx, notify.ToUser(t.OwnerID, t.OwnerEmail), msg); err != nil {
		return false, fmt.Errorf("organization %d: %w", t.OrganizationID, err)
	}

	r.logger.WithFields(map[string]interface{}{
		"organization_id": t.OrganizationID,
		"owner_id":        t.OwnerID,
		"days_remaining":  days,
	}).Info("plan expiry notification sent")
	return true, nil
}
