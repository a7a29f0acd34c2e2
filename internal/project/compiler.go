package project

import (
	"fmt"
	"sort"
	"strings"
	"text/template"
)

// CompileQuery compiles one request-scoped query against this graph
// snapshot. The macros argument carries extra template definitions supplied
// with the request; they are parsed alongside the project's own macros. A
// query without template actions compiles to itself.
func (p *Project) CompileQuery(name, rawSQL, macros string) (string, error) {
	if name == "" {
		name = "query"
	}
	return p.compile(name, rawSQL, macros, nil)
}

// compile renders one template. When record is non-nil the compiler runs in
// discovery mode: ref targets are recorded instead of resolved, which lets
// the loader extract dependencies before the graph is ordered.
func (p *Project) compile(name, rawSQL, macros string, record func(ref string)) (string, error) {
	funcs := template.FuncMap{
		"ref": func(target string) (string, error) {
			if record != nil {
				record(target)
				return QuoteIdent(target), nil
			}
			return p.resolveRef(target)
		},
		"source": func(sourceName, tableName string) (string, error) {
			if record != nil {
				return QuoteIdent(tableName), nil
			}
			return p.resolveSource(sourceName, tableName)
		},
	}

	tmpl := template.New(name).Funcs(funcs)
	if p.macros != "" {
		if _, err := tmpl.Parse(p.macros); err != nil {
			return "", compileErrorf(rawSQL, "invalid project macro: %s", err)
		}
	}
	if macros != "" {
		if _, err := tmpl.Parse(macros); err != nil {
			return "", compileErrorf(rawSQL, "invalid macro: %s", err)
		}
	}

	main, err := tmpl.New(name + ".sql").Parse(rawSQL)
	if err != nil {
		return "", compileErrorf(rawSQL, "%s", err)
	}

	var buf strings.Builder
	if err := main.Execute(&buf, nil); err != nil {
		return "", compileErrorf(rawSQL, "%s", err)
	}
	return buf.String(), nil
}

func (p *Project) resolveRef(target string) (string, error) {
	node, ok := p.Nodes[target]
	if !ok {
		return "", fmt.Errorf("node %q is undefined", target)
	}
	if node.Type == ResourceModel && node.Materialized == MaterializedEphemeral {
		// ephemeral models are inlined at the ref site instead of being
		// materialised in the warehouse
		return "(" + node.CompiledSQL + ")", nil
	}
	return QuoteIdent(node.Name), nil
}

func (p *Project) resolveSource(sourceName, tableName string) (string, error) {
	tables, ok := p.Sources[sourceName]
	if !ok {
		return "", fmt.Errorf("source %q is undefined", sourceName)
	}
	identifier, ok := tables[tableName]
	if !ok {
		return "", fmt.Errorf("source table %q.%q is undefined", sourceName, tableName)
	}
	return QuoteIdent(identifier), nil
}

func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func sortedNodeNames(nodes map[string]*Node) []string {
	names := make([]string, 0, len(nodes))
	for name := range nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
