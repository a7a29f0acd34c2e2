package task

import (
	"context"
	"sync"
)

// TerminationReason records why a running task was forcibly terminated
type TerminationReason int

const (
	ReasonNone TerminationReason = iota
	ReasonKilled
	ReasonTimeout
)

// Handle owns the cancellation of one running task's work. It is created by
// the executor when the task starts and released when the work exits. Both
// the watchdog and the kill handler terminate tasks through the handle
// rather than mutating task state themselves, so the executor is the only
// writer of lifecycle transitions.
type Handle struct {
	mu       sync.Mutex
	cancel   context.CancelFunc
	reason   TerminationReason
	released bool
}

// NewHandle wraps the cancel function of the task's execution context
func NewHandle(cancel context.CancelFunc) *Handle {
	return &Handle{cancel: cancel}
}

// Terminate cancels the task's work, recording the reason. The first caller
// wins; terminating an already-terminated or released handle is a no-op, so
// redundant kills and watchdog races are harmless.
func (h *Handle) Terminate(reason TerminationReason) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released || h.reason != ReasonNone {
		return false
	}
	h.reason = reason
	h.cancel()
	return true
}

// Reason returns why the handle was terminated, or ReasonNone
func (h *Handle) Reason() TerminationReason {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reason
}

func (h *Handle) release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.released = true
}
