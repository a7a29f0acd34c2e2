package rpc

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/guregu/null/v6"
	"github.com/rs/zerolog/log"

	"sqlrunner/internal/executor"
	"sqlrunner/internal/reload"
	"sqlrunner/internal/task"
)

// handleRPC parses the request envelope, validates the method, and routes
// it. Protocol failures are rejected here and never create a task.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if err := r.Body.Close(); err != nil {
			log.Error().Err(err).Msg("Could not close request body")
		}
	}()

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, nil, &Error{Code: CodeParseError, Message: "Parse error"})
		return
	}
	if req.Method == "" {
		s.writeError(w, req.ID, &Error{Code: CodeInvalidRequest, Message: "Invalid Request"})
		return
	}

	switch req.Method {
	case "status":
		s.handleStatus(w, req)
	case "ps":
		s.handlePs(w, req)
	case "kill":
		s.handleKill(w, req)
	case "compile":
		s.handleQuery(w, req, false)
	case "run":
		s.handleQuery(w, req, true)
	case "compile_project", "run_project", "seed_project", "test_project":
		s.handleProjectOp(w, req)
	default:
		s.writeError(w, req.ID, methodNotFound())
	}
}

// handleStatus reports server readiness. It is always available, even when
// the project failed to compile.
func (s *Server) handleStatus(w http.ResponseWriter, req Request) {
	status, compileErr := s.controller.State()
	result := statusResult{
		Status:    status,
		Timestamp: task.Timestamp(time.Now()),
		PID:       os.Getpid(),
		Logs:      s.serverLogs.Records(),
	}
	if compileErr != nil {
		result.Error = &statusError{Message: compileErr.Error()}
	}
	s.writeResult(w, req.ID, result)
}

func (s *Server) handlePs(w http.ResponseWriter, req Request) {
	var params psParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.writeError(w, req.ID, invalidParams(err.Error()))
			return
		}
	}

	rows := []psRow{}
	for _, t := range s.registry.List(params.Active, params.Completed) {
		row := psRow{
			TaskID:    t.ID,
			RequestID: t.RequestID,
			Method:    t.Method,
			State:     t.State(),
		}
		if startedAt, ok := t.StartedAt(); ok {
			ts := task.Timestamp(startedAt)
			row.Start = &ts
			if endedAt, ended := t.EndedAt(); ended {
				row.Elapsed = null.FloatFrom(endedAt.Sub(startedAt).Seconds())
			} else {
				row.Elapsed = null.FloatFrom(time.Since(startedAt).Seconds())
			}
		}
		if t.Timeout > 0 {
			row.Timeout = null.FloatFrom(t.Timeout.Seconds())
		}
		rows = append(rows, row)
	}
	s.writeResult(w, req.ID, psResult{Rows: rows})
}

// handleKill forces termination of a running task. Killing a task that has
// already reached a terminal state is a no-op success reporting the state
// the task ended in.
func (s *Server) handleKill(w http.ResponseWriter, req Request) {
	var params killParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.TaskID == "" {
		s.writeError(w, req.ID, invalidParams("task_id parameter is required"))
		return
	}

	t, ok := s.registry.Get(params.TaskID)
	if !ok {
		s.writeError(w, req.ID, invalidParams("task not found"))
		return
	}

	if t.State().Terminal() {
		s.writeResult(w, req.ID, killResult{State: t.State()})
		return
	}

	log.Info().Str("task_id", t.ID).Msg("Killing task")
	t.RequestKill()
	<-t.Done()
	s.writeResult(w, req.ID, killResult{State: t.State()})
}

// handleQuery serves compile and run. The caller's connection blocks until
// the task reaches a terminal state; the task remains visible to ps and
// killable throughout.
func (s *Server) handleQuery(w http.ResponseWriter, req Request, fetch bool) {
	var params queryParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.writeError(w, req.ID, invalidParams(err.Error()))
		return
	}
	rawSQL, macros, err := params.decodeSQL()
	if err != nil {
		s.writeError(w, req.ID, invalidParams(err.Error()))
		return
	}

	t, rpcErr := s.createTask(req, time.Duration(params.Timeout*float64(time.Second)))
	if rpcErr != nil {
		s.writeError(w, req.ID, rpcErr)
		return
	}

	go s.executor.ExecuteQuery(s.ctx, t, executor.Query{
		Name:   params.Name,
		RawSQL: rawSQL,
		Macros: macros,
		Fetch:  fetch,
	})

	s.awaitTask(w, req, t)
}

func (s *Server) handleProjectOp(w http.ResponseWriter, req Request) {
	var params projectParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.writeError(w, req.ID, invalidParams(err.Error()))
			return
		}
	}

	t, rpcErr := s.createTask(req, time.Duration(params.Timeout*float64(time.Second)))
	if rpcErr != nil {
		s.writeError(w, req.ID, rpcErr)
		return
	}

	go s.executor.ExecuteProjectOp(s.ctx, t)
	s.awaitTask(w, req, t)
}

// createTask checks readiness, captures the current graph snapshot, and
// registers the task. Both rejections happen before any work is spawned.
func (s *Server) createTask(req Request, timeout time.Duration) (*task.Task, *Error) {
	status, compileErr := s.controller.State()
	if status != reload.StatusReady {
		return nil, serverNotReady(compileErr)
	}

	t, err := s.registry.Create(req.Method, req.ID, timeout, s.controller.Current())
	if err != nil {
		if errors.Is(err, task.ErrDuplicateRequest) {
			return nil, duplicateRequest(err)
		}
		return nil, invalidParams(err.Error())
	}
	return t, nil
}

// awaitTask blocks until the task is terminal, then maps its outcome onto
// the response. The server context ending (shutdown) also unblocks.
func (s *Server) awaitTask(w http.ResponseWriter, req Request, t *task.Task) {
	select {
	case <-t.Done():
	case <-s.ctx.Done():
		<-t.Done()
	}

	if t.State() == task.StateFinished {
		s.writeResult(w, req.ID, t.Result())
		return
	}
	s.writeError(w, req.ID, taskError(t))
}
