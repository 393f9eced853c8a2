// Package jobs holds the scheduled scans that warn organization owners
// about expiring plans and usage approaching a plan limit.
//
// Both scans are read-only over organizations, subscriptions and plans.
// The only rows they cause to be written are notification records, and
// those records double as the dedupe ledger: a Runner must be given a
// notifier that stores what it sends (notify.DatabaseNotifier) and the
// same notify.Store to look it up.
//
//	runner := jobs.NewRunner(jobs.NewPostgresStore(db), resolver,
//	    jobs.MemberUsage{Members: orgStore}, inbox,
//	    notify.NewDatabaseNotifier(inbox, delivery, nil), jobs.Config{}, logger)
//	sent, err := runner.CheckUsageLimits(ctx)
//
// cmd/orgkit-scheduler runs them on cron schedules.
package jobs
