package safe

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/handikong/lobcore/pkg/logger"
	"github.com/handikong/lobcore/pkg/metrics"
)

// Go starts fn in its own goroutine with a recover that logs and reports
// metrics.PanicRecoveredTotal instead of taking the whole process down. A
// panicked fn simply stops — nothing restarts it. Use Supervised when the
// caller instead wants the goroutine restarted.
func Go(fn func()) {
	go func() {
		defer recoverAndReport(context.Background(), "unnamed")
		fn()
	}()
}

// GoCtx is Go for a goroutine that wants ctx threaded through, so a panic
// log line carries whatever trace id the caller attached to ctx.
func GoCtx(ctx context.Context, fn func(ctx context.Context)) {
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		defer recoverAndReport(ctx, "unnamed")
		fn(ctx)
	}()
}

// Supervised runs fn in a loop, restarting it after a recovered panic up to
// maxRestarts times before giving up and letting the goroutine exit for
// good. This exists for goroutines like a SymbolActor's Run loop, where an
// unrecovered panic would otherwise silently strand that symbol's mailbox:
// commands would keep queuing behind a dead consumer with nothing to ever
// drain them. backoff is applied between restarts to avoid a panic-loop
// busy-spinning the CPU.
func Supervised(ctx context.Context, name string, maxRestarts int, backoff time.Duration, fn func(ctx context.Context)) {
	go func() {
		restarts := 0
		for {
			if ctx.Err() != nil {
				return
			}
			stopped := runOnce(ctx, name, fn)
			if stopped {
				return // fn returned normally: ctx was cancelled mid-call
			}
			restarts++
			if restarts > maxRestarts {
				if logger.Log != nil {
					logger.Error(ctx, "goroutine exceeded max restarts, giving up",
						zap.String("name", name), zap.Int("restarts", restarts))
				}
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
		}
	}()
}

// runOnce executes fn once under recover, reporting whether fn returned
// because ctx was already done (a clean stop, not worth restarting).
func runOnce(ctx context.Context, name string, fn func(ctx context.Context)) (stoppedCleanly bool) {
	defer func() {
		if r := recover(); r != nil {
			reportPanic(ctx, name, r)
			stoppedCleanly = false
		}
	}()
	fn(ctx)
	return ctx.Err() != nil
}

func recoverAndReport(ctx context.Context, name string) {
	if r := recover(); r != nil {
		reportPanic(ctx, name, r)
	}
}

func reportPanic(ctx context.Context, name string, r interface{}) {
	stack := string(debug.Stack())
	metrics.PanicRecoveredTotal.WithLabelValues(name).Inc()
	if logger.Log != nil {
		logger.Error(ctx, "goroutine panic recovered",
			zap.String("name", name), zap.Any("panic", r), zap.String("stack", stack))
		return
	}
	// No logger configured yet (e.g. a package test that never called
	// logger.Init): fall back to stdout rather than lose the panic.
	fmt.Printf("goroutine panic recovered: name=%s panic=%v\nstack:\n%s\n", name, r, stack)
}
