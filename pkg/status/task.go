package status

import (
	"context"
	"log/slog"
	"time"
)

// StatusInterval is how often WatchTask logs the status of a running task.
var StatusInterval = 30 * time.Second

type Task interface {
	Progress() Progress
	Status() string // one log line describing the task
	Cancel()        // a callback to be able to cancel the task.
}

// WatchTask logs the task status every StatusInterval until the task
// reaches a terminal state or ctx is done. The returned channel is closed
// once the watcher goroutine has exited.
func WatchTask(ctx context.Context, task Task, logger *slog.Logger) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		continuallyDumpStatus(ctx, task, logger)
	}()
	return done
}

func continuallyDumpStatus(ctx context.Context, task Task, logger *slog.Logger) {
	ticker := time.NewTicker(StatusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if task.Progress().CurrentState.Terminal() {
				return
			}
			if line := task.Status(); line != "" {
				logger.Info(line)
			}
		}
	}
}
