package project

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ProjectFileName is the project definition read from the project directory
const ProjectFileName = "sqlrunner.yml"

type projectFile struct {
	Name    string                 `yaml:"name"`
	Models  map[string]modelConfig `yaml:"models"`
	Sources []sourceConfig         `yaml:"sources"`
}

type modelConfig struct {
	Materialized Materialization `yaml:"materialized"`
}

type sourceConfig struct {
	Name   string `yaml:"name"`
	Tables []struct {
		Name       string `yaml:"name"`
		Identifier string `yaml:"identifier"`
	} `yaml:"tables"`
}

func readProjectFile(path string) (*projectFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var pf projectFile
	if err := yaml.Unmarshal(raw, &pf); err != nil {
		return nil, fmt.Errorf("could not parse %s: %w", ProjectFileName, err)
	}
	if err := pf.validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", ProjectFileName, err)
	}
	return &pf, nil
}

func (pf *projectFile) validate() error {
	var errs []error

	pf.Name = strings.TrimSpace(pf.Name)
	if pf.Name == "" {
		errs = append(errs, errors.New("name is empty"))
	}

	for name, mc := range pf.Models {
		switch mc.Materialized {
		case "", MaterializedTable, MaterializedView, MaterializedEphemeral:
		default:
			errs = append(errs, fmt.Errorf("model %q has unknown materialization %q", name, mc.Materialized))
		}
	}

	seen := map[string]bool{}
	for i, src := range pf.Sources {
		if strings.TrimSpace(src.Name) == "" {
			errs = append(errs, fmt.Errorf("source %d has an empty name", i+1))
			continue
		}
		if seen[src.Name] {
			errs = append(errs, fmt.Errorf("source %q declared more than once", src.Name))
		}
		seen[src.Name] = true
		for j, table := range src.Tables {
			if strings.TrimSpace(table.Name) == "" {
				errs = append(errs, fmt.Errorf("source %q table %d has an empty name", src.Name, j+1))
			}
		}
	}

	return errors.Join(errs...)
}

// materialization returns the configured materialization for a model,
// defaulting to table
func (pf *projectFile) materialization(model string) Materialization {
	if mc, ok := pf.Models[model]; ok && mc.Materialized != "" {
		return mc.Materialized
	}
	return MaterializedTable
}

func (pf *projectFile) sources() map[string]map[string]string {
	out := make(map[string]map[string]string, len(pf.Sources))
	for _, src := range pf.Sources {
		tables := make(map[string]string, len(src.Tables))
		for _, table := range src.Tables {
			identifier := table.Identifier
			if identifier == "" {
				identifier = table.Name
			}
			tables[table.Name] = identifier
		}
		out[src.Name] = tables
	}
	return out
}
