package executor

import (
	"sqlrunner/internal/project"
	"sqlrunner/internal/task"
)

// TimingEntry reports the wall-clock bounds of one execution phase.
// Entries are ordered compile before execute.
type TimingEntry struct {
	Name        string         `json:"name"`
	StartedAt   task.Timestamp `json:"started_at"`
	CompletedAt task.Timestamp `json:"completed_at"`
}

// Table is a tabular query result
type Table struct {
	ColumnNames []string `json:"column_names"`
	Rows        [][]any  `json:"rows"`
}

// QueryResult is the terminal result of a compile or run task. Table is
// only present for run.
type QueryResult struct {
	RawSQL      string           `json:"raw_sql"`
	CompiledSQL string           `json:"compiled_sql"`
	Timing      []TimingEntry    `json:"timing"`
	Table       *Table           `json:"table,omitempty"`
	Logs        []task.LogRecord `json:"logs"`
}

// NodeInfo identifies a graph node in a project operation result
type NodeInfo struct {
	Name         string               `json:"name"`
	ResourceType project.ResourceType `json:"resource_type"`
}

// NodeResult is the per-node outcome of a project operation. For
// test_project the status is the number of failing rows and Fail is set
// when that count is nonzero.
type NodeResult struct {
	Node   NodeInfo `json:"node"`
	Status any      `json:"status"`
	Fail   bool     `json:"fail,omitempty"`
}

// ProjectResult is the terminal result of a whole-graph operation
type ProjectResult struct {
	Results []NodeResult     `json:"results"`
	Logs    []task.LogRecord `json:"logs"`
}
