package executor

import (
	"fmt"
	"time"
)

// DatabaseError indicates that compiled SQL reached the warehouse and was
// rejected or failed there
type DatabaseError struct {
	Msg         string
	RawSQL      string
	CompiledSQL string
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("Database Error\n  %s", e.Msg)
}

// TimeoutError indicates the watchdog terminated the task after its
// configured limit elapsed
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("RPC timed out after %gs", e.Timeout.Seconds())
}

// KilledError indicates the task was forcibly terminated by an explicit
// kill request. Signum mirrors the interrupt signal a worker process would
// have received.
type KilledError struct {
	Signum int
}

func (e *KilledError) Error() string {
	return fmt.Sprintf("RPC process killed by signal %d", e.Signum)
}
