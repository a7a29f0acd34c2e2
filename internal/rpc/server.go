package rpc

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"sqlrunner/internal/executor"
	"sqlrunner/internal/reload"
	"sqlrunner/internal/task"
)

// Server exposes the JSON-RPC endpoint and routes each request to an
// immediate handler (status, ps, kill) or a task-creating handler
// (compile, run and the project operations)
type Server struct {
	ctx        context.Context
	registry   *task.Registry
	executor   *executor.Executor
	controller *reload.Controller
	serverLogs *task.LogBuffer
	router     *chi.Mux
}

// New creates a new RPC server instance. serverLogs is the ring buffer of
// recent server log records surfaced by the status method.
func New(ctx context.Context, registry *task.Registry, exec *executor.Executor, controller *reload.Controller, serverLogs *task.LogBuffer) *Server {
	s := &Server{
		ctx:        ctx,
		registry:   registry,
		executor:   exec,
		controller: controller,
		serverLogs: serverLogs,
		router:     chi.NewRouter(),
	}

	// Set up middleware
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)

	s.router.Post("/jsonrpc", s.handleRPC)

	return s
}

// ServeHTTP implements the http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) writeResult(w http.ResponseWriter, id json.RawMessage, result any) {
	serveJson(w, Response{Jsonrpc: "2.0", Result: result, ID: normalizeID(id)})
}

func (s *Server) writeError(w http.ResponseWriter, id json.RawMessage, rpcErr *Error) {
	serveJson(w, Response{Jsonrpc: "2.0", Error: rpcErr, ID: normalizeID(id)})
}

// normalizeID keeps the client's id verbatim, substituting JSON null when
// the request carried none
func normalizeID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}

func serveJson(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(payload)
	if err != nil {
		http.Error(w, "Failed to encode payload", http.StatusInternalServerError)
		log.Error().Err(err).Msg("JSON encoding issue")
	}
}
