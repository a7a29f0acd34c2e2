package task_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sqlrunner/internal/task"
)

func createTask(t *testing.T, r *task.Registry, method string, requestID string) *task.Task {
	t.Helper()
	tk, err := r.Create(method, json.RawMessage(requestID), 0, nil)
	require.NoError(t, err)
	return tk
}

func TestTaskLifecycle(t *testing.T) {
	registry := task.NewRegistry()

	t.Run("finished task", func(t *testing.T) {
		tk := createTask(t, registry, "run", "1")
		assert.Equal(t, task.StatePending, tk.State())
		assert.Nil(t, tk.Handle())
		_, started := tk.StartedAt()
		assert.False(t, started)

		_, cancel := context.WithCancel(context.Background())
		defer cancel()
		tk.Start(task.NewHandle(cancel))
		assert.Equal(t, task.StateRunning, tk.State())
		assert.NotNil(t, tk.Handle())
		_, started = tk.StartedAt()
		assert.True(t, started)

		tk.Finish("result")
		assert.Equal(t, task.StateFinished, tk.State())
		assert.Equal(t, "result", tk.Result())
		assert.NoError(t, tk.Err())
		// the handle is released on exit
		assert.Nil(t, tk.Handle())

		startedAt, _ := tk.StartedAt()
		endedAt, ended := tk.EndedAt()
		assert.True(t, ended)
		assert.False(t, endedAt.Before(startedAt))

		select {
		case <-tk.Done():
		default:
			t.Fatal("done channel should be closed")
		}
	})

	t.Run("failed task", func(t *testing.T) {
		tk := createTask(t, registry, "run", "2")
		_, cancel := context.WithCancel(context.Background())
		defer cancel()
		tk.Start(task.NewHandle(cancel))

		tk.Fail(errors.New("boom"))
		assert.Equal(t, task.StateError, tk.State())
		assert.Nil(t, tk.Result())
		assert.EqualError(t, tk.Err(), "boom")
	})

	t.Run("terminal states are final", func(t *testing.T) {
		tk := createTask(t, registry, "run", "3")
		_, cancel := context.WithCancel(context.Background())
		defer cancel()
		tk.Start(task.NewHandle(cancel))

		tk.Kill(errors.New("killed"))
		assert.Equal(t, task.StateKilled, tk.State())

		// late transitions are ignored
		tk.Finish("result")
		tk.Fail(errors.New("other"))
		assert.Equal(t, task.StateKilled, tk.State())
		assert.Nil(t, tk.Result())
		assert.EqualError(t, tk.Err(), "killed")
	})
}

func TestTaskKillBeforeStart(t *testing.T) {
	registry := task.NewRegistry()
	tk := createTask(t, registry, "run", "10")

	// kill arrives while the task is still pending
	tk.RequestKill()
	assert.Equal(t, task.StatePending, tk.State())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handle := task.NewHandle(cancel)
	tk.Start(handle)

	// the pending kill is delivered the moment execution starts
	assert.Equal(t, task.ReasonKilled, handle.Reason())
	assert.Error(t, ctx.Err())
}

func TestHandleTerminateIdempotent(t *testing.T) {
	calls := 0
	handle := task.NewHandle(func() { calls++ })

	assert.True(t, handle.Terminate(task.ReasonTimeout))
	assert.False(t, handle.Terminate(task.ReasonKilled))
	assert.Equal(t, task.ReasonTimeout, handle.Reason())
	assert.Equal(t, 1, calls)
}

func TestRegistryDuplicateRequestID(t *testing.T) {
	registry := task.NewRegistry()

	first := createTask(t, registry, "run", "42")

	// the id is taken while the first task is non-terminal
	_, err := registry.Create("run", json.RawMessage("42"), 0, nil)
	assert.ErrorIs(t, err, task.ErrDuplicateRequest)

	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	first.Start(task.NewHandle(cancel))
	_, err = registry.Create("run", json.RawMessage("42"), 0, nil)
	assert.ErrorIs(t, err, task.ErrDuplicateRequest)

	// terminal tasks release the id for later connections
	first.Finish(nil)
	_, err = registry.Create("run", json.RawMessage("42"), 0, nil)
	assert.NoError(t, err)
}

func TestRegistryLookups(t *testing.T) {
	registry := task.NewRegistry()
	tk := createTask(t, registry, "compile", `"abc"`)

	found, ok := registry.Get(tk.ID)
	require.True(t, ok)
	assert.Same(t, tk, found)

	_, ok = registry.Get("nope")
	assert.False(t, ok)

	found, ok = registry.FindByRequestID(json.RawMessage(`"abc"`))
	require.True(t, ok)
	assert.Same(t, tk, found)
}

func TestRegistryList(t *testing.T) {
	registry := task.NewRegistry()

	done := createTask(t, registry, "compile", "1")
	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	done.Start(task.NewHandle(cancel))
	done.Finish(nil)

	running := createTask(t, registry, "run", "2")
	_, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	running.Start(task.NewHandle(cancel2))

	neither := registry.List(false, false)
	assert.Empty(t, neither)

	active := registry.List(true, false)
	require.Len(t, active, 1)
	assert.Same(t, running, active[0])

	completed := registry.List(false, true)
	require.Len(t, completed, 1)
	assert.Same(t, done, completed[0])

	// the union with both flags is strictly additive and preserves
	// creation order
	all := registry.List(true, true)
	require.Len(t, all, 2)
	assert.Same(t, done, all[0])
	assert.Same(t, running, all[1])
}

func TestRegistryRunning(t *testing.T) {
	registry := task.NewRegistry()

	pending := createTask(t, registry, "run", "1")
	running := createTask(t, registry, "run", "2")
	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	running.Start(task.NewHandle(cancel))

	tasks := registry.Running()
	require.Len(t, tasks, 1)
	assert.Same(t, running, tasks[0])
	assert.Equal(t, task.StatePending, pending.State())
}

func TestTaskTimeoutField(t *testing.T) {
	registry := task.NewRegistry()
	tk, err := registry.Create("run", json.RawMessage("7"), 3*time.Second, nil)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, tk.Timeout)
}
