package rpc

import (
	"encoding/base64"
	"encoding/json"
	"errors"

	"github.com/guregu/null/v6"

	"sqlrunner/internal/reload"
	"sqlrunner/internal/task"
)

// Request is the JSON-RPC 2.0 request envelope. The version field is kept
// raw because clients send it as either "2.0" or 2.0.
type Request struct {
	Jsonrpc json.RawMessage `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      json.RawMessage `json:"id"`
}

// Response is the JSON-RPC 2.0 response envelope; result and error are
// mutually exclusive
type Response struct {
	Jsonrpc string          `json:"jsonrpc"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

type queryParams struct {
	SQL     string  `json:"sql"`
	Macros  string  `json:"macros"`
	Name    string  `json:"name"`
	Timeout float64 `json:"timeout"`
}

// decodeSQL decodes the base64 sql and macros parameters
func (p *queryParams) decodeSQL() (rawSQL, macros string, err error) {
	if p.SQL == "" {
		return "", "", errors.New("sql parameter is required")
	}
	sqlBytes, err := base64.StdEncoding.DecodeString(p.SQL)
	if err != nil {
		return "", "", errors.New("sql parameter is not valid base64")
	}
	var macroBytes []byte
	if p.Macros != "" {
		if macroBytes, err = base64.StdEncoding.DecodeString(p.Macros); err != nil {
			return "", "", errors.New("macros parameter is not valid base64")
		}
	}
	return string(sqlBytes), string(macroBytes), nil
}

type projectParams struct {
	Timeout float64 `json:"timeout"`
}

type psParams struct {
	Completed bool `json:"completed"`
	Active    bool `json:"active"`
}

type killParams struct {
	TaskID string `json:"task_id"`
}

type psRow struct {
	TaskID    string          `json:"task_id"`
	RequestID json.RawMessage `json:"request_id"`
	Method    string          `json:"method"`
	State     task.State      `json:"state"`
	Start     *task.Timestamp `json:"start"`
	Elapsed   null.Float      `json:"elapsed"`
	Timeout   null.Float      `json:"timeout"`
}

type psResult struct {
	Rows []psRow `json:"rows"`
}

type killResult struct {
	State task.State `json:"state"`
}

type statusError struct {
	Message string `json:"message"`
}

type statusResult struct {
	Status    reload.Status    `json:"status"`
	Timestamp task.Timestamp   `json:"timestamp"`
	PID       int              `json:"pid"`
	Logs      []task.LogRecord `json:"logs"`
	Error     *statusError     `json:"error,omitempty"`
}
