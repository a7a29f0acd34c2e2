package watchdog_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sqlrunner/internal/task"
	"sqlrunner/internal/watchdog"
)

func startTask(t *testing.T, r *task.Registry, requestID string, timeout time.Duration) (*task.Task, *task.Handle) {
	t.Helper()
	tk, err := r.Create("run", json.RawMessage(requestID), timeout, nil)
	require.NoError(t, err)

	_, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	handle := task.NewHandle(cancel)
	tk.Start(handle)
	return tk, handle
}

func TestWatchdogTerminatesOverdueTasks(t *testing.T) {
	registry := task.NewRegistry()
	overdue, overdueHandle := startTask(t, registry, "1", time.Millisecond)
	unlimited, unlimitedHandle := startTask(t, registry, "2", 0)
	fresh, freshHandle := startTask(t, registry, "3", time.Hour)

	w := watchdog.New(registry, 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	require.Eventually(t, func() bool {
		return overdueHandle.Reason() == task.ReasonTimeout
	}, 5*time.Second, 5*time.Millisecond, "overdue task was never terminated")

	// termination goes through the handle only; the state transition
	// belongs to the executor
	assert.Equal(t, task.StateRunning, overdue.State())

	assert.Equal(t, task.ReasonNone, unlimitedHandle.Reason())
	assert.Equal(t, task.StateRunning, unlimited.State())
	assert.Equal(t, task.ReasonNone, freshHandle.Reason())
	assert.Equal(t, task.StateRunning, fresh.State())
}

func TestWatchdogIgnoresPendingTasks(t *testing.T) {
	registry := task.NewRegistry()
	tk, err := registry.Create("run", json.RawMessage("1"), time.Millisecond, nil)
	require.NoError(t, err)

	w := watchdog.New(registry, 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	// a pending task has no start time, so it can never be overdue
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, task.StatePending, tk.State())
}

func TestWatchdogStopIsIdempotent(t *testing.T) {
	w := watchdog.New(task.NewRegistry(), time.Millisecond)
	w.Start(context.Background())
	w.Stop()
	w.Stop()
	w.Start(context.Background())
	w.Stop()
}
