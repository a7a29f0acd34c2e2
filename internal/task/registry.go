package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"sqlrunner/internal/project"
)

// ErrDuplicateRequest is returned when a request id collides with a task
// that has not yet reached a terminal state
var ErrDuplicateRequest = errors.New("request id already in use by a pending task")

// Registry is the authoritative store of every task created during the
// server's lifetime. Tasks are never deleted, only transitioned. All
// structural mutation is serialised behind a single mutex; task fields are
// read through the task's own accessors so inspection of one task never
// blocks on unrelated work.
type Registry struct {
	mu    sync.Mutex
	tasks map[string]*Task
	order []*Task
}

func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]*Task)}
}

// Create registers a new pending task. It fails with ErrDuplicateRequest if
// the request id is already carried by a non-terminal task; terminal tasks
// release their request id for reuse by later connections.
func (r *Registry) Create(method string, requestID json.RawMessage, timeout time.Duration, snapshot *project.Project) (*Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range r.order {
		if string(t.RequestID) == string(requestID) && !t.State().Terminal() {
			return nil, fmt.Errorf("request id %s: %w", requestID, ErrDuplicateRequest)
		}
	}

	t := newTask(uuid.New().String(), requestID, method, timeout, snapshot)
	r.tasks[t.ID] = t
	r.order = append(r.order, t)
	return t, nil
}

// Get looks a task up by its server-internal id
func (r *Registry) Get(taskID string) (*Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[taskID]
	return t, ok
}

// FindByRequestID returns the most recent task carrying the request id
func (r *Registry) FindByRequestID(requestID json.RawMessage) (*Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.order) - 1; i >= 0; i-- {
		if string(r.order[i].RequestID) == string(requestID) {
			return r.order[i], true
		}
	}
	return nil, false
}

// List returns tasks in creation order, filtered by lifecycle. Creation
// order and started_at order coincide because tasks start executing as soon
// as they are registered.
func (r *Registry) List(includeRunning, includeCompleted bool) []*Task {
	r.mu.Lock()
	ordered := make([]*Task, len(r.order))
	copy(ordered, r.order)
	r.mu.Unlock()

	var out []*Task
	for _, t := range ordered {
		terminal := t.State().Terminal()
		if terminal && includeCompleted {
			out = append(out, t)
		} else if !terminal && includeRunning {
			out = append(out, t)
		}
	}
	return out
}

// Running returns every task currently in the running state
func (r *Registry) Running() []*Task {
	r.mu.Lock()
	ordered := make([]*Task, len(r.order))
	copy(ordered, r.order)
	r.mu.Unlock()

	var out []*Task
	for _, t := range ordered {
		if t.State() == StateRunning {
			out = append(out, t)
		}
	}
	return out
}
