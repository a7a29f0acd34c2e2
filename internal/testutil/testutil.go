// Package testutil provides helpers shared by package tests: temp project
// directories and in-memory warehouse connections.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// NewSQLiteDB opens an in-memory SQLite warehouse for a test
func NewSQLiteDB(t *testing.T) *sqlx.DB {
	t.Helper()

	db, err := sqlx.Connect("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("could not open sqlite database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("could not close database: %v", err)
		}
	})
	return db
}

// WriteProject materialises a project directory from relative paths to file
// contents and returns the directory
func WriteProject(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("could not create %s: %v", filepath.Dir(path), err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("could not write %s: %v", path, err)
		}
	}
	return dir
}

// BasicProject is a minimal valid project: one seed, a model chain with an
// ephemeral node, a source, and one passing test
func BasicProject(t *testing.T) string {
	t.Helper()
	return WriteProject(t, map[string]string{
		"sqlrunner.yml": `name: fixture
models:
  ephemeral_model:
    materialized: ephemeral
sources:
  - name: test_source
    tables:
      - name: test_table
        identifier: source
`,
		"seeds/people.csv":            "id,name\n1,gary\n2,nadia\n",
		"models/ephemeral_model.sql":  `select 1 as id`,
		"models/base_model.sql":       `select id, name from {{ref "people"}}`,
		"models/descendant_model.sql": `select id from {{ref "base_model"}}`,
		"tests/no_null_ids.sql":       `select * from {{ref "base_model"}} where id is null`,
	})
}
