// Package project loads a SQL transformation project from disk and compiles
// it into an immutable dependency graph. A loaded Project is never mutated:
// reloads build a fresh graph and swap a pointer, so tasks holding an older
// snapshot keep compiling against the graph they started with.
package project

import (
	"fmt"
	"time"
)

// ResourceType classifies a node in the project graph
type ResourceType string

const (
	ResourceModel ResourceType = "model"
	ResourceSeed  ResourceType = "seed"
	ResourceTest  ResourceType = "test"
)

// Materialization controls how run_project realises a model in the warehouse
type Materialization string

const (
	MaterializedTable     Materialization = "table"
	MaterializedView      Materialization = "view"
	MaterializedEphemeral Materialization = "ephemeral"
)

// Node is one named entry in the project graph. RawSQL and CompiledSQL are
// set for models and tests; Columns and Rows are set for seeds.
type Node struct {
	Name         string
	Type         ResourceType
	Materialized Materialization
	Path         string

	RawSQL      string
	CompiledSQL string
	DependsOn   []string

	Columns []string
	Rows    [][]string
}

// Project is a fully compiled project graph. It is immutable after Load
// returns; every field may be read concurrently without synchronisation.
type Project struct {
	Name      string
	Dir       string
	CreatedAt time.Time

	// Nodes holds models, seeds and tests keyed by name
	Nodes map[string]*Node

	// Sources maps source name -> table name -> warehouse identifier
	Sources map[string]map[string]string

	// ModelOrder lists model node names in dependency order
	ModelOrder []string

	macros string
}

// Node returns the named node
func (p *Project) Node(name string) (*Node, bool) {
	n, ok := p.Nodes[name]
	return n, ok
}

// NodesOfType returns the project's nodes of one resource type, in a stable
// order (dependency order for models, name order otherwise)
func (p *Project) NodesOfType(rt ResourceType) []*Node {
	var out []*Node
	if rt == ResourceModel {
		for _, name := range p.ModelOrder {
			out = append(out, p.Nodes[name])
		}
		return out
	}
	for _, name := range sortedNodeNames(p.Nodes) {
		if n := p.Nodes[name]; n.Type == rt {
			out = append(out, n)
		}
	}
	return out
}

// CompilationError indicates SQL that failed to compile and therefore never
// reached the database
type CompilationError struct {
	Msg    string
	RawSQL string
}

func (e *CompilationError) Error() string {
	return fmt.Sprintf("Compilation Error\n  %s", e.Msg)
}

func compileErrorf(rawSQL, format string, args ...any) *CompilationError {
	return &CompilationError{Msg: fmt.Sprintf(format, args...), RawSQL: rawSQL}
}
