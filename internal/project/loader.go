package project

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	modelsDir = "models"
	seedsDir  = "seeds"
	testsDir  = "tests"
	macrosDir = "macros"
)

// Load reads a project directory and compiles it into an immutable graph.
// Any error leaves the caller's previous graph untouched; the reload
// controller relies on this to keep serving the old snapshot on failure.
func Load(dir string) (*Project, error) {
	pf, err := readProjectFile(filepath.Join(dir, ProjectFileName))
	if err != nil {
		return nil, err
	}

	p := &Project{
		Name:      pf.Name,
		Dir:       dir,
		CreatedAt: time.Now(),
		Nodes:     make(map[string]*Node),
		Sources:   pf.sources(),
	}

	if p.macros, err = readMacros(filepath.Join(dir, macrosDir)); err != nil {
		return nil, err
	}
	if err := p.loadSeeds(filepath.Join(dir, seedsDir)); err != nil {
		return nil, err
	}
	if err := p.loadSQLNodes(filepath.Join(dir, modelsDir), ResourceModel, pf); err != nil {
		return nil, err
	}
	if err := p.loadSQLNodes(filepath.Join(dir, testsDir), ResourceTest, pf); err != nil {
		return nil, err
	}

	if err := p.resolveDependencies(); err != nil {
		return nil, err
	}
	if err := p.compileGraph(); err != nil {
		return nil, err
	}
	return p, nil
}

func readMacros(dir string) (string, error) {
	paths, err := sqlFiles(dir)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		sb.Write(raw)
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}

func (p *Project) loadSQLNodes(dir string, rt ResourceType, pf *projectFile) error {
	paths, err := sqlFiles(dir)
	if err != nil {
		return err
	}

	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		name := strings.TrimSuffix(filepath.Base(path), ".sql")
		if existing, ok := p.Nodes[name]; ok {
			return fmt.Errorf("duplicate node name %q (%s and %s)", name, existing.Path, path)
		}

		node := &Node{
			Name:   name,
			Type:   rt,
			Path:   path,
			RawSQL: strings.TrimSpace(string(raw)),
		}
		if rt == ResourceModel {
			node.Materialized = pf.materialization(name)
		}
		p.Nodes[name] = node
	}
	return nil
}

func (p *Project) loadSeeds(dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".csv") {
			continue
		}
		path := filepath.Join(dir, entry.Name())

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		records, err := csv.NewReader(f).ReadAll()
		_ = f.Close()
		if err != nil {
			return fmt.Errorf("could not parse seed %s: %w", path, err)
		}
		if len(records) == 0 {
			return fmt.Errorf("seed %s has no header row", path)
		}

		name := strings.TrimSuffix(entry.Name(), ".csv")
		if existing, ok := p.Nodes[name]; ok {
			return fmt.Errorf("duplicate node name %q (%s and %s)", name, existing.Path, path)
		}
		p.Nodes[name] = &Node{
			Name:    name,
			Type:    ResourceSeed,
			Path:    path,
			Columns: records[0],
			Rows:    records[1:],
		}
	}
	return nil
}

// resolveDependencies runs every SQL node through the compiler in discovery
// mode to extract its ref targets
func (p *Project) resolveDependencies() error {
	for _, node := range p.Nodes {
		if node.RawSQL == "" {
			continue
		}

		var refs []string
		if _, err := p.compile(node.Name, node.RawSQL, "", func(ref string) {
			refs = append(refs, ref)
		}); err != nil {
			return fmt.Errorf("node %s: %w", node.Name, err)
		}

		for _, ref := range refs {
			if _, ok := p.Nodes[ref]; !ok {
				return compileErrorf(node.RawSQL, "node %s refs undefined node %q", node.Name, ref)
			}
		}
		node.DependsOn = refs
	}
	return p.orderModels()
}

// orderModels topologically sorts the model nodes, failing on cycles
func (p *Project) orderModels() error {
	indegree := map[string]int{}
	dependents := map[string][]string{}
	for _, name := range sortedNodeNames(p.Nodes) {
		node := p.Nodes[name]
		if node.Type != ResourceModel {
			continue
		}
		if _, ok := indegree[name]; !ok {
			indegree[name] = 0
		}
		for _, dep := range node.DependsOn {
			if p.Nodes[dep].Type != ResourceModel {
				continue
			}
			indegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var queue []string
	for _, name := range sortedNodeNames(p.Nodes) {
		if degree, ok := indegree[name]; ok && degree == 0 {
			queue = append(queue, name)
		}
	}

	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		p.ModelOrder = append(p.ModelOrder, name)
		for _, dependent := range dependents[name] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(p.ModelOrder) != len(indegree) {
		return compileErrorf("", "dependency cycle detected in model graph")
	}
	return nil
}

// compileGraph compiles models in dependency order so that ephemeral
// references always inline already-compiled text, then compiles tests
func (p *Project) compileGraph() error {
	for _, name := range p.ModelOrder {
		node := p.Nodes[name]
		compiled, err := p.compile(node.Name, node.RawSQL, "", nil)
		if err != nil {
			return fmt.Errorf("node %s: %w", node.Name, err)
		}
		node.CompiledSQL = compiled
	}
	for _, node := range p.NodesOfType(ResourceTest) {
		compiled, err := p.compile(node.Name, node.RawSQL, "", nil)
		if err != nil {
			return fmt.Errorf("node %s: %w", node.Name, err)
		}
		node.CompiledSQL = compiled
	}
	return nil
}

func sqlFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	return paths, nil
}
