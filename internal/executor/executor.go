// Package executor runs one task's work to completion and finalises its
// lifecycle. Each task executes under its own cancellable context owned by
// the task's handle, so a hung warehouse query can be terminated from
// outside (kill or watchdog) without touching the server or sibling tasks.
package executor

import (
	"context"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"sqlrunner/internal/project"
	"sqlrunner/internal/task"
)

// Executor runs tasks against the warehouse connection
type Executor struct {
	db      *sqlx.DB
	threads int
}

func New(db *sqlx.DB, threads int) *Executor {
	if threads < 1 {
		threads = 1
	}
	return &Executor{db: db, threads: threads}
}

// DB returns the underlying warehouse connection
func (e *Executor) DB() *sqlx.DB {
	return e.db
}

// Query describes one compile/run request
type Query struct {
	Name   string
	RawSQL string
	Macros string
	// Fetch executes the compiled statement and collects a result table;
	// compile-only requests leave it unset and never reach the warehouse
	Fetch bool
}

// ExecuteQuery runs a compile or run task to a terminal state. It mutates
// exactly its own task: state transitions, timestamps, result or error, and
// captured logs. The handle is released on every exit path.
func (e *Executor) ExecuteQuery(ctx context.Context, t *task.Task, q Query) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	t.Start(task.NewHandle(cancel))

	logger := taskLogger(t)
	logger.Info().Str("method", t.Method).Str("name", q.Name).Msg("Executing query")

	compileStarted := time.Now()
	compiled, err := t.Project.CompileQuery(q.Name, q.RawSQL, q.Macros)
	compileCompleted := time.Now()
	if err != nil {
		logger.Error().Err(err).Msg("Could not compile query")
		e.finalizeError(t, err, q.RawSQL, "")
		return
	}
	logger.Debug().Str("compiled_sql", compiled).Msg("Compiled query")

	executeStarted := time.Now()
	var table *Table
	if q.Fetch {
		table, err = fetchTable(ctx, e.db, compiled)
		if err != nil {
			logger.Error().Err(err).Msg("Could not execute query")
			e.finalizeError(t, err, q.RawSQL, compiled)
			return
		}
	}
	executeCompleted := time.Now()

	// a kill or timeout that landed after the last warehouse call still
	// wins over a successful result
	if ctx.Err() != nil {
		e.finalizeError(t, ctx.Err(), q.RawSQL, compiled)
		return
	}

	logger.Info().Msg("Finished query")
	t.Finish(&QueryResult{
		RawSQL:      q.RawSQL,
		CompiledSQL: compiled,
		Timing: []TimingEntry{
			{Name: "compile", StartedAt: task.Timestamp(compileStarted), CompletedAt: task.Timestamp(compileCompleted)},
			{Name: "execute", StartedAt: task.Timestamp(executeStarted), CompletedAt: task.Timestamp(executeCompleted)},
		},
		Table: table,
		Logs:  t.Logs().Records(),
	})
}

// finalizeError moves the task to its terminal failure state. A forced
// termination takes precedence over whatever error the interrupted work
// surfaced, so a cancelled warehouse query reports killed or timeout rather
// than a database error.
func (e *Executor) finalizeError(t *task.Task, err error, rawSQL, compiledSQL string) {
	if h := t.Handle(); h != nil {
		switch h.Reason() {
		case task.ReasonKilled:
			t.Kill(&KilledError{Signum: 2})
			return
		case task.ReasonTimeout:
			t.Fail(&TimeoutError{Timeout: t.Timeout})
			return
		}
	}

	var compileErr *project.CompilationError
	if errors.As(err, &compileErr) {
		t.Fail(compileErr)
		return
	}
	t.Fail(&DatabaseError{Msg: err.Error(), RawSQL: rawSQL, CompiledSQL: compiledSQL})
}

func fetchTable(ctx context.Context, db *sqlx.DB, query string) (*Table, error) {
	rows, err := db.QueryxContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Error().Err(err).Msg("Could not close result rows")
		}
	}()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	table := &Table{ColumnNames: columns, Rows: [][]any{}}
	for rows.Next() {
		values, err := rows.SliceScan()
		if err != nil {
			return nil, err
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		table.Rows = append(table.Rows, values)
	}
	return table, rows.Err()
}

// taskLogger returns a logger that appends to the task's log buffer and
// forwards the same events to the server log
func taskLogger(t *task.Task) zerolog.Logger {
	return zerolog.New(zerolog.MultiLevelWriter(t.Logs(), log.Logger)).
		With().
		Timestamp().
		Str("task_id", t.ID).
		Logger()
}
