// Package watchdog enforces task timeouts. It never mutates task state
// itself: overdue tasks are terminated through their handle and the
// executor performs the actual transition, so the two can never race on a
// task's lifecycle.
package watchdog

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"sqlrunner/internal/task"
)

// Watchdog periodically scans the registry for running tasks that have
// exceeded their configured timeout
type Watchdog struct {
	registry *task.Registry
	interval time.Duration

	cancelFunc context.CancelFunc
}

func New(registry *task.Registry, interval time.Duration) *Watchdog {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &Watchdog{registry: registry, interval: interval}
}

// Start launches the scan loop. It returns immediately.
func (w *Watchdog) Start(ctx context.Context) {
	if w.cancelFunc != nil {
		return
	}
	ctx, w.cancelFunc = context.WithCancel(ctx)

	ticker := time.NewTicker(w.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.scan()
			}
		}
	}()
}

// Stop terminates the scan loop
func (w *Watchdog) Stop() {
	if w.cancelFunc != nil {
		w.cancelFunc()
		w.cancelFunc = nil
	}
}

func (w *Watchdog) scan() {
	now := time.Now()
	for _, t := range w.registry.Running() {
		if t.Timeout <= 0 {
			continue
		}
		startedAt, ok := t.StartedAt()
		if !ok || now.Sub(startedAt) <= t.Timeout {
			continue
		}
		// the handle may already be gone if the task exited between the
		// registry scan and here; Terminate on a released handle is a no-op
		if h := t.Handle(); h != nil && h.Terminate(task.ReasonTimeout) {
			log.Warn().
				Str("task_id", t.ID).
				Dur("timeout", t.Timeout).
				Msg("Task exceeded timeout, terminating")
		}
	}
}
