// Package async provides safe concurrent execution primitives for background
// work.
//
// SafeGo runs fire-and-forget tasks, such as metered usage reports, that
// must never break the request that started them:
//
//	async.SafeGo(ctx, 10*time.Second, "usage report", logger, func(ctx context.Context) error {
//		return reporter.Report(ctx, org, "ai_tokens", 120)
//	})
//
// Batch fans a slice out over a bounded number of goroutines and collects
// every failure, which the scheduled notification scans use to check
// organizations in parallel:
//
//	errs := async.Batch(ctx, orgs, 8, "usage check", time.Minute, check)
//
// Both recover panics and enforce a per-task timeout.
package async
