package rpc

import (
	"errors"
	"fmt"

	"sqlrunner/internal/executor"
	"sqlrunner/internal/project"
	"sqlrunner/internal/task"
)

// JSON-RPC 2.0 protocol codes plus the server's stable application codes
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602

	CodeDatabaseError    = 10003
	CodeCompilationError = 10004
	CodeTimeoutError     = 10008
	CodeKilledError      = 10009
	CodeDuplicateRequest = 10010
	CodeServerNotReady   = 10011
)

// Error is the JSON-RPC error object
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func methodNotFound() *Error {
	return &Error{Code: CodeMethodNotFound, Message: "Method not found"}
}

func invalidParams(msg string) *Error {
	return &Error{Code: CodeInvalidParams, Message: "Invalid params", Data: map[string]any{"message": msg}}
}

func duplicateRequest(err error) *Error {
	return &Error{
		Code:    CodeDuplicateRequest,
		Message: "Duplicate request id",
		Data:    map[string]any{"message": err.Error()},
	}
}

func serverNotReady(compileErr error) *Error {
	e := &Error{
		Code:    CodeServerNotReady,
		Message: `RPC server failed to compile project, call the "status" method for compile status`,
	}
	if compileErr != nil {
		e.Data = map[string]any{"message": compileErr.Error()}
	}
	return e
}

// taskError converts a task's terminal failure into the wire error. Every
// task-level error carries the logs captured up to the failure.
func taskError(t *task.Task) *Error {
	err := t.Err()
	logs := t.Logs().Records()

	var compileErr *project.CompilationError
	if errors.As(err, &compileErr) {
		return &Error{
			Code:    CodeCompilationError,
			Message: "Compilation Error",
			Data: map[string]any{
				"type":         "CompilationException",
				"message":      compileErr.Msg,
				"raw_sql":      compileErr.RawSQL,
				"compiled_sql": nil,
				"logs":         logs,
			},
		}
	}

	var dbErr *executor.DatabaseError
	if errors.As(err, &dbErr) {
		return &Error{
			Code:    CodeDatabaseError,
			Message: "Database Error",
			Data: map[string]any{
				"type":         "DatabaseException",
				"message":      dbErr.Msg,
				"raw_sql":      dbErr.RawSQL,
				"compiled_sql": dbErr.CompiledSQL,
				"logs":         logs,
			},
		}
	}

	var timeoutErr *executor.TimeoutError
	if errors.As(err, &timeoutErr) {
		return &Error{
			Code:    CodeTimeoutError,
			Message: "RPC timeout error",
			Data: map[string]any{
				"timeout": timeoutErr.Timeout.Seconds(),
				"message": timeoutErr.Error(),
				"logs":    logs,
			},
		}
	}

	var killedErr *executor.KilledError
	if errors.As(err, &killedErr) {
		return &Error{
			Code:    CodeKilledError,
			Message: "RPC process killed",
			Data: map[string]any{
				"signum":  killedErr.Signum,
				"message": killedErr.Error(),
				"logs":    logs,
			},
		}
	}

	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &Error{
		Code:    CodeInvalidRequest,
		Message: msg,
		Data:    map[string]any{"logs": logs},
	}
}
