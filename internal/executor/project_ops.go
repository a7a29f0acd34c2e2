package executor

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"sqlrunner/internal/project"
	"sqlrunner/internal/task"
)

// ExecuteProjectOp runs a whole-graph task (compile_project, run_project,
// seed_project or test_project) against the task's captured graph snapshot.
// Independent nodes run in parallel, bounded by the configured thread
// count; dependency order is preserved across parallel batches.
func (e *Executor) ExecuteProjectOp(ctx context.Context, t *task.Task) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	t.Start(task.NewHandle(cancel))

	logger := taskLogger(t)
	logger.Info().Str("method", t.Method).Str("project", t.Project.Name).Msg("Executing project operation")

	var results []NodeResult
	var err error
	switch t.Method {
	case "compile_project":
		results = e.compileProject(t.Project, logger)
	case "run_project":
		results, err = e.runProject(ctx, t.Project, logger)
	case "seed_project":
		results, err = e.seedProject(ctx, t.Project, logger)
	case "test_project":
		results, err = e.testProject(ctx, t.Project, logger)
	default:
		err = fmt.Errorf("unknown project operation %q", t.Method)
	}
	if err != nil {
		logger.Error().Err(err).Msg("Project operation failed")
		e.finalizeError(t, err, "", "")
		return
	}
	if ctx.Err() != nil {
		e.finalizeError(t, ctx.Err(), "", "")
		return
	}

	logger.Info().Int("results", len(results)).Msg("Finished project operation")
	t.Finish(&ProjectResult{Results: results, Logs: t.Logs().Records()})
}

// compileProject reports every compiled non-ephemeral node. Compilation
// itself happened when the graph snapshot was loaded, so this never touches
// the warehouse.
func (e *Executor) compileProject(p *project.Project, logger zerolog.Logger) []NodeResult {
	var results []NodeResult
	for _, node := range p.NodesOfType(project.ResourceModel) {
		if node.Materialized == project.MaterializedEphemeral {
			continue
		}
		logger.Debug().Str("node", node.Name).Msg("Compiled node")
		results = append(results, NodeResult{
			Node:   NodeInfo{Name: node.Name, ResourceType: node.Type},
			Status: "success",
		})
	}
	for _, node := range p.NodesOfType(project.ResourceTest) {
		logger.Debug().Str("node", node.Name).Msg("Compiled node")
		results = append(results, NodeResult{
			Node:   NodeInfo{Name: node.Name, ResourceType: node.Type},
			Status: "success",
		})
	}
	return results
}

// runProject materialises the model graph in dependency order. Models in
// the same dependency level run concurrently.
func (e *Executor) runProject(ctx context.Context, p *project.Project, logger zerolog.Logger) ([]NodeResult, error) {
	var results []NodeResult
	var mu sync.Mutex

	for _, batch := range modelBatches(p) {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.threads)
		for _, node := range batch {
			if node.Materialized == project.MaterializedEphemeral {
				continue
			}
			g.Go(func() error {
				logger.Info().Str("node", node.Name).Msg("Materializing model")
				if err := e.materialize(gctx, node); err != nil {
					return fmt.Errorf("model %s: %w", node.Name, err)
				}
				mu.Lock()
				results = append(results, NodeResult{
					Node:   NodeInfo{Name: node.Name, ResourceType: node.Type},
					Status: "success",
				})
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}
	return results, nil
}

func (e *Executor) materialize(ctx context.Context, node *project.Node) error {
	ident := project.QuoteIdent(node.Name)
	var stmts []string
	switch node.Materialized {
	case project.MaterializedView:
		stmts = []string{
			"DROP VIEW IF EXISTS " + ident,
			"CREATE VIEW " + ident + " AS " + node.CompiledSQL,
		}
	default:
		stmts = []string{
			"DROP TABLE IF EXISTS " + ident,
			"CREATE TABLE " + ident + " AS " + node.CompiledSQL,
		}
	}
	for _, stmt := range stmts {
		if _, err := e.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// seedProject loads every seed's CSV rows into a warehouse table
func (e *Executor) seedProject(ctx context.Context, p *project.Project, logger zerolog.Logger) ([]NodeResult, error) {
	var results []NodeResult
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.threads)
	for _, node := range p.NodesOfType(project.ResourceSeed) {
		g.Go(func() error {
			logger.Info().Str("node", node.Name).Int("rows", len(node.Rows)).Msg("Loading seed")
			if err := e.loadSeed(gctx, node); err != nil {
				return fmt.Errorf("seed %s: %w", node.Name, err)
			}
			mu.Lock()
			results = append(results, NodeResult{
				Node:   NodeInfo{Name: node.Name, ResourceType: node.Type},
				Status: "success",
			})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Executor) loadSeed(ctx context.Context, node *project.Node) error {
	ident := project.QuoteIdent(node.Name)
	if _, err := e.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+ident); err != nil {
		return err
	}

	numeric := numericColumns(node)
	defs := make([]string, len(node.Columns))
	for i, col := range node.Columns {
		colType := "TEXT"
		if numeric[i] {
			colType = "NUMERIC"
		}
		defs[i] = project.QuoteIdent(col) + " " + colType
	}
	if _, err := e.db.ExecContext(ctx, "CREATE TABLE "+ident+" ("+strings.Join(defs, ", ")+")"); err != nil {
		return err
	}

	insert := e.db.Rebind(
		"INSERT INTO " + ident + " VALUES (" + strings.TrimSuffix(strings.Repeat("?, ", len(node.Columns)), ", ") + ")",
	)
	for _, row := range node.Rows {
		args := make([]any, len(row))
		for i, value := range row {
			if numeric[i] {
				parsed, err := strconv.ParseFloat(value, 64)
				if err == nil {
					args[i] = parsed
					continue
				}
			}
			args[i] = value
		}
		if _, err := e.db.ExecContext(ctx, insert, args...); err != nil {
			return err
		}
	}
	return nil
}

// numericColumns marks columns whose every value parses as a number
func numericColumns(node *project.Node) []bool {
	numeric := make([]bool, len(node.Columns))
	for i := range node.Columns {
		numeric[i] = len(node.Rows) > 0
		for _, row := range node.Rows {
			if i >= len(row) {
				numeric[i] = false
				break
			}
			if _, err := strconv.ParseFloat(row[i], 64); err != nil {
				numeric[i] = false
				break
			}
		}
	}
	return numeric
}

// testProject runs every test query; a test fails when it returns rows and
// its status is the failing row count
func (e *Executor) testProject(ctx context.Context, p *project.Project, logger zerolog.Logger) ([]NodeResult, error) {
	var results []NodeResult
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.threads)
	for _, node := range p.NodesOfType(project.ResourceTest) {
		g.Go(func() error {
			table, err := fetchTable(gctx, e.db, node.CompiledSQL)
			if err != nil {
				return fmt.Errorf("test %s: %w", node.Name, err)
			}
			failures := len(table.Rows)
			logger.Info().Str("node", node.Name).Int("failures", failures).Msg("Ran test")
			mu.Lock()
			results = append(results, NodeResult{
				Node:   NodeInfo{Name: node.Name, ResourceType: node.Type},
				Status: failures,
				Fail:   failures > 0,
			})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// modelBatches groups models by dependency depth. Every model in batch n
// depends only on models in batches before n.
func modelBatches(p *project.Project) [][]*project.Node {
	depth := map[string]int{}
	maxDepth := 0
	for _, name := range p.ModelOrder {
		node := p.Nodes[name]
		d := 0
		for _, dep := range node.DependsOn {
			if p.Nodes[dep].Type != project.ResourceModel {
				continue
			}
			if depth[dep]+1 > d {
				d = depth[dep] + 1
			}
		}
		depth[name] = d
		if d > maxDepth {
			maxDepth = d
		}
	}

	batches := make([][]*project.Node, maxDepth+1)
	for _, name := range p.ModelOrder {
		batches[depth[name]] = append(batches[depth[name]], p.Nodes[name])
	}
	return batches
}
