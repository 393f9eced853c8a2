package async

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/orgkit/pkg/observability"
)

func wait(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not finish")
	}
}

func TestSafeGo_Success(t *testing.T) {
	var executed atomic.Bool

	done := SafeGo(context.Background(), time.Second, "test task", nil, func(ctx context.Context) error {
		executed.Store(true)
		return nil
	})
	wait(t, done)

	assert.True(t, executed.Load())
}

func TestSafeGo_LogsError(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger(observability.DebugLevel, &buf)

	done := SafeGo(context.Background(), time.Second, "usage report", logger, func(ctx context.Context) error {
		return errors.New("provider unavailable")
	})
	wait(t, done)

	assert.Contains(t, buf.String(), "background task failed")
	assert.Contains(t, buf.String(), "usage report")
	assert.Contains(t, buf.String(), "provider unavailable")
}

func TestSafeGo_Timeout(t *testing.T) {
	var timedOut atomic.Bool

	done := SafeGo(context.Background(), 20*time.Millisecond, "slow task", nil, func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			timedOut.Store(true)
			return ctx.Err()
		}
	})
	wait(t, done)

	assert.True(t, timedOut.Load())
}

func TestSafeGo_OutlivesParent(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	cancel()

	var ctxErr atomic.Value
	done := SafeGo(parent, time.Second, "detached", nil, func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			ctxErr.Store(err)
		}
		return nil
	})
	wait(t, done)

	assert.Nil(t, ctxErr.Load())
}

func TestSafeGo_RecoversPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger(observability.DebugLevel, &buf)

	done := SafeGo(context.Background(), time.Second, "panicky", logger, func(ctx context.Context) error {
		panic("boom")
	})
	wait(t, done)

	assert.Contains(t, buf.String(), "panic in background task")
	assert.Contains(t, buf.String(), "boom")
}

func TestBatch_CollectsErrors(t *testing.T) {
	var processed atomic.Int32

	errs := Batch(context.Background(), []int{1, 2, 3, 4, 5}, 2, "check", time.Second, func(ctx context.Context, n int) error {
		processed.Add(1)
		if n%2 == 0 {
			return errors.New("even")
		}
		return nil
	})

	assert.Equal(t, int32(5), processed.Load())
	require.Len(t, errs, 2)
	for _, err := range errs {
		assert.Contains(t, err.Error(), "check: even")
	}
}

func TestBatch_RespectsWorkerLimit(t *testing.T) {
	var running, peak atomic.Int32

	errs := Batch(context.Background(), make([]struct{}, 10), 3, "limited", time.Second, func(ctx context.Context, _ struct{}) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)
		return nil
	})

	assert.Empty(t, errs)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestBatch_RecoversPanic(t *testing.T) {
	errs := Batch(context.Background(), []string{"a"}, 1, "panicky", time.Second, func(ctx context.Context, s string) error {
		panic("boom")
	})

	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "panic: boom")
}

func TestBatch_Empty(t *testing.T) {
	assert.Empty(t, Batch(context.Background(), []int(nil), 4, "noop", time.Second, func(context.Context, int) error {
		return nil
	}))
}
