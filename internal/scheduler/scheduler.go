// Package scheduler runs periodic background jobs.
package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// Job is one unit of periodic work.
type Job func(ctx context.Context)

// Every runs job every interval in its own goroutine until ctx is done.
// When runAtStart is set the first run happens immediately. A panicking run
// is logged and the loop keeps its schedule.
func Every(ctx context.Context, name string, interval time.Duration, runAtStart bool, job Job) <-chan struct{} {
	stopped := make(chan struct{})
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	go func() {
		defer close(stopped)

		if runAtStart {
			runSafely(ctx, name, job)
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				runSafely(ctx, name, job)
			case <-ctx.Done():
				slog.Info("scheduled job stopped", "job", name)
				return
			}
		}
	}()

	return stopped
}

func runSafely(ctx context.Context, name string, job Job) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("scheduled job panicked", "job", name, "panic", r)
		}
	}()
	if ctx.Err() != nil {
		return
	}
	job(ctx)
}
