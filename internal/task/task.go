package task

import (
	"encoding/json"
	"sync"
	"time"

	"sqlrunner/internal/project"
)

// State is the lifecycle state of a Task. Tasks move from pending to
// running and then to exactly one of the terminal states.
type State string

const (
	StatePending  State = "pending"
	StateRunning  State = "running"
	StateFinished State = "finished"
	StateError    State = "error"
	StateKilled   State = "killed"
)

// Terminal reports whether no further transitions are possible
func (s State) Terminal() bool {
	return s == StateFinished || s == StateError || s == StateKilled
}

// Task is one RPC-initiated unit of compile/execute work. The identifier is
// assigned at creation and immutable; everything else is guarded by the
// task's own mutex. Terminal fields never change once set, so readers that
// observe a terminal state may use them freely.
type Task struct {
	ID        string
	RequestID json.RawMessage
	Method    string
	Timeout   time.Duration // zero means no limit
	CreatedAt time.Time

	// Project is the graph snapshot captured when the task was created.
	// Reloads swap the server's current graph but never this reference.
	Project *project.Project

	logs *LogBuffer

	mu        sync.Mutex
	state     State
	startedAt time.Time
	endedAt   time.Time
	handle    *Handle
	result    any
	err       error
	// pendingKill records a kill that arrived before execution started
	pendingKill bool
	done        chan struct{}
}

func newTask(id string, requestID json.RawMessage, method string, timeout time.Duration, snapshot *project.Project) *Task {
	return &Task{
		ID:        id,
		RequestID: requestID,
		Method:    method,
		Timeout:   timeout,
		CreatedAt: time.Now(),
		Project:   snapshot,
		logs:      NewLogBuffer(),
		state:     StatePending,
		done:      make(chan struct{}),
	}
}

// Logs returns the task's append-only log buffer. The buffer is safe for
// concurrent use so it can be inspected while the task is still running.
func (t *Task) Logs() *LogBuffer {
	return t.logs
}

func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// StartedAt returns the start timestamp; ok is false while still pending.
func (t *Task) StartedAt() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.startedAt, !t.startedAt.IsZero()
}

func (t *Task) EndedAt() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.endedAt, !t.endedAt.IsZero()
}

// Handle returns the termination handle, or nil unless the task is running
func (t *Task) Handle() *Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handle
}

// Result returns the task result; nil until the task finishes successfully
func (t *Task) Result() any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

// Err returns the task failure; nil unless the task ended in error or killed
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Done is closed once the task reaches a terminal state
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Start transitions the task from pending to running and records the
// termination handle. It is called exactly once, by the executor. A kill
// that arrived while the task was still pending is delivered here, so
// killing a task is effective regardless of which phase it is in.
func (t *Task) Start(h *Handle) {
	t.mu.Lock()
	if t.state != StatePending {
		t.mu.Unlock()
		return
	}
	t.state = StateRunning
	t.startedAt = time.Now()
	t.handle = h
	pendingKill := t.pendingKill
	t.mu.Unlock()

	if pendingKill {
		h.Terminate(ReasonKilled)
	}
}

// RequestKill forcibly terminates the task's work. Kills of terminal tasks
// are a no-op; kills of pending tasks take effect the moment execution
// starts. The executor observes the termination and performs the state
// transition.
func (t *Task) RequestKill() {
	t.mu.Lock()
	if t.state.Terminal() {
		t.mu.Unlock()
		return
	}
	if t.state == StateRunning && t.handle != nil {
		h := t.handle
		t.mu.Unlock()
		h.Terminate(ReasonKilled)
		return
	}
	t.pendingKill = true
	t.mu.Unlock()
}

// Finish moves a running task to finished with the given result
func (t *Task) Finish(result any) {
	t.finalize(StateFinished, result, nil)
}

// Fail moves a running task to error. The error is surfaced to the caller
// of the originating request; captured logs are never discarded.
func (t *Task) Fail(err error) {
	t.finalize(StateError, nil, err)
}

// Kill moves a running task to killed after its work was forcibly
// terminated by an explicit kill request.
func (t *Task) Kill(err error) {
	t.finalize(StateKilled, nil, err)
}

func (t *Task) finalize(state State, result any, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Terminal() {
		return
	}
	t.state = state
	t.endedAt = time.Now()
	if t.startedAt.IsZero() {
		t.startedAt = t.endedAt
	}
	t.result = result
	t.err = err
	// the handle is released on every exit path so a dead task can never
	// pin its cancellation resources
	if t.handle != nil {
		t.handle.release()
		t.handle = nil
	}
	close(t.done)
}
