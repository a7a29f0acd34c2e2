package project_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sqlrunner/internal/project"
	"sqlrunner/internal/testutil"
)

func TestLoadBasicProject(t *testing.T) {
	dir := testutil.BasicProject(t)

	p, err := project.Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "fixture", p.Name)
	assert.Equal(t, dir, p.Dir)
	assert.Len(t, p.Nodes, 5)

	seed, ok := p.Node("people")
	require.True(t, ok)
	assert.Equal(t, project.ResourceSeed, seed.Type)
	assert.Equal(t, []string{"id", "name"}, seed.Columns)
	assert.Len(t, seed.Rows, 2)

	base, ok := p.Node("base_model")
	require.True(t, ok)
	assert.Equal(t, project.ResourceModel, base.Type)
	assert.Equal(t, project.MaterializedTable, base.Materialized)
	assert.Equal(t, []string{"people"}, base.DependsOn)
	assert.Equal(t, `select id, name from "people"`, base.CompiledSQL)

	ephemeral, ok := p.Node("ephemeral_model")
	require.True(t, ok)
	assert.Equal(t, project.MaterializedEphemeral, ephemeral.Materialized)

	test, ok := p.Node("no_null_ids")
	require.True(t, ok)
	assert.Equal(t, project.ResourceTest, test.Type)
	assert.Equal(t, `select * from "base_model" where id is null`, test.CompiledSQL)

	// dependency order: base_model before descendant_model
	baseIdx, descIdx := -1, -1
	for i, name := range p.ModelOrder {
		switch name {
		case "base_model":
			baseIdx = i
		case "descendant_model":
			descIdx = i
		}
	}
	require.NotEqual(t, -1, baseIdx)
	require.NotEqual(t, -1, descIdx)
	assert.Less(t, baseIdx, descIdx)
}

func TestLoadEphemeralInlining(t *testing.T) {
	dir := testutil.WriteProject(t, map[string]string{
		"sqlrunner.yml": `name: fixture
models:
  ephemeral_model:
    materialized: ephemeral
`,
		"models/ephemeral_model.sql": `select 1 as id`,
		"models/consumer.sql":        `select * from {{ref "ephemeral_model"}}`,
	})

	p, err := project.Load(dir)
	require.NoError(t, err)

	consumer, ok := p.Node("consumer")
	require.True(t, ok)
	assert.Equal(t, `select * from (select 1 as id)`, consumer.CompiledSQL)
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing project file", func(t *testing.T) {
		_, err := project.Load(t.TempDir())
		assert.Error(t, err)
	})

	t.Run("empty project name", func(t *testing.T) {
		dir := testutil.WriteProject(t, map[string]string{
			"sqlrunner.yml": `name: ""`,
		})
		_, err := project.Load(dir)
		assert.ErrorContains(t, err, "name is empty")
	})

	t.Run("unknown materialization", func(t *testing.T) {
		dir := testutil.WriteProject(t, map[string]string{
			"sqlrunner.yml": `name: fixture
models:
  m:
    materialized: pyramid
`,
		})
		_, err := project.Load(dir)
		assert.ErrorContains(t, err, "unknown materialization")
	})

	t.Run("undefined ref", func(t *testing.T) {
		dir := testutil.WriteProject(t, map[string]string{
			"sqlrunner.yml":    "name: fixture\n",
			"models/lost.sql":  `select * from {{ref "missing"}}`,
			"models/other.sql": `select 1`,
		})
		_, err := project.Load(dir)
		require.Error(t, err)
		assert.ErrorContains(t, err, `refs undefined node "missing"`)
	})

	t.Run("dependency cycle", func(t *testing.T) {
		dir := testutil.WriteProject(t, map[string]string{
			"sqlrunner.yml": "name: fixture\n",
			"models/a.sql":  `select * from {{ref "b"}}`,
			"models/b.sql":  `select * from {{ref "a"}}`,
		})
		_, err := project.Load(dir)
		require.Error(t, err)
		assert.ErrorContains(t, err, "cycle")
	})

	t.Run("duplicate node names", func(t *testing.T) {
		dir := testutil.WriteProject(t, map[string]string{
			"sqlrunner.yml": "name: fixture\n",
			"models/a.sql":  `select 1`,
			"seeds/a.csv":   "id\n1\n",
		})
		_, err := project.Load(dir)
		require.Error(t, err)
		assert.ErrorContains(t, err, "duplicate node name")
	})
}
