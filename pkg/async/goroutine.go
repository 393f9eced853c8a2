package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/orgkit/pkg/observability"
)

// SafeGo runs fn on its own goroutine with a timeout and panic recovery.
// The task is detached from parentCtx cancellation, so work started by a
// request outlives the request, but it keeps parentCtx values. Errors and
// panics are logged and never propagate.
//
// The returned channel is closed when fn has returned.
//
//	async.SafeGo(r.Context(), 10*time.Second, "usage report", logger, func(ctx context.Context) error {
//	    return provider.ReportUsageEvent(ctx, customerID, event, qty)
//	})
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, logger *observability.Logger, fn func(context.Context) error) <-chan struct{} {
	if logger == nil {
		logger = observability.NopLogger()
	}
	done := make(chan struct{})

	go func() {
		defer close(done)

		ctx, cancel := context.WithTimeout(context.WithoutCancel(parentCtx), timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				logger.WithFields(map[string]interface{}{
					"task":  taskName,
					"panic": fmt.Sprint(r),
					"stack": string(debug.Stack()),
				}).Error("panic in background task")
			}
		}()

		if err := fn(ctx); err != nil {
			logger.WithError(err).WithField("task", taskName).Error("background task failed")
		}
	}()

	return done
}

// Batch runs fn for every item with at most workers running at once, each
// with its own timeout. Every item is processed; the errors of all failed
// items are returned, wrapped with taskName.
//
//	errs := async.Batch(ctx, orgIDs, 8, "usage check", time.Minute, func(ctx context.Context, id int64) error {
//	    return checkOrganization(ctx, id)
//	})
func Batch[T any](ctx context.Context, items []T, workers int, taskName string, timeout time.Duration,
	fn func(context.Context, T) error) []error {

	if workers <= 0 {
		workers = 1
	}

	errs := make([]error, len(items))
	var g errgroup.Group
	g.SetLimit(workers)

	for i, item := range items {
		g.Go(func() (err error) {
			taskCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic: %v", r)
				}
				if err != nil {
					errs[i] = fmt.Errorf("%s: %w", taskName, err)
				}
			}()

			return fn(taskCtx, item)
		})
	}
	_ = g.Wait()

	var out []error
	for _, err := range errs {
		if err != nil {
			out = append(out, err)
		}
	}
	return out
}
