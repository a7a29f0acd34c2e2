package executor_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sqlrunner/internal/executor"
	"sqlrunner/internal/project"
	"sqlrunner/internal/task"
)

func projectResult(t *testing.T, tk *task.Task) *executor.ProjectResult {
	t.Helper()
	require.Equal(t, task.StateFinished, tk.State(), "task error: %v", tk.Err())
	result, ok := tk.Result().(*executor.ProjectResult)
	require.True(t, ok)
	return result
}

func statusByNode(results []executor.NodeResult) map[string]executor.NodeResult {
	byNode := make(map[string]executor.NodeResult, len(results))
	for _, r := range results {
		byNode[r.Node.Name] = r
	}
	return byNode
}

func TestCompileProject(t *testing.T) {
	f := newFixture(t)
	tk := f.createTask(t, "compile_project", "1")

	f.exec.ExecuteProjectOp(context.Background(), tk)

	result := projectResult(t, tk)
	byNode := statusByNode(result.Results)

	// ephemeral models are inlined into their consumers, not compiled
	// as standalone nodes
	assert.NotContains(t, byNode, "ephemeral_model")
	assert.Contains(t, byNode, "base_model")
	assert.Contains(t, byNode, "descendant_model")
	assert.Contains(t, byNode, "no_null_ids")
	assert.Equal(t, "success", byNode["base_model"].Status)
	assert.Equal(t, project.ResourceTest, byNode["no_null_ids"].Node.ResourceType)
	assert.NotEmpty(t, result.Logs)
}

func TestSeedRunTestProject(t *testing.T) {
	f := newFixture(t)

	seedTask := f.createTask(t, "seed_project", "1")
	f.exec.ExecuteProjectOp(context.Background(), seedTask)
	seedResults := projectResult(t, seedTask).Results
	require.Len(t, seedResults, 1)
	assert.Equal(t, "people", seedResults[0].Node.Name)
	assert.Equal(t, "success", seedResults[0].Status)

	var count int
	require.NoError(t, f.exec.DB().Get(&count, `select count(*) from "people"`))
	assert.Equal(t, 2, count)

	runTask := f.createTask(t, "run_project", "2")
	f.exec.ExecuteProjectOp(context.Background(), runTask)
	byNode := statusByNode(projectResult(t, runTask).Results)
	assert.Contains(t, byNode, "base_model")
	assert.Contains(t, byNode, "descendant_model")
	assert.NotContains(t, byNode, "ephemeral_model")

	require.NoError(t, f.exec.DB().Get(&count, `select count(*) from "descendant_model"`))
	assert.Equal(t, 2, count)

	testTask := f.createTask(t, "test_project", "3")
	f.exec.ExecuteProjectOp(context.Background(), testTask)
	testResults := projectResult(t, testTask).Results
	require.Len(t, testResults, 1)
	assert.Equal(t, "no_null_ids", testResults[0].Node.Name)
	assert.Equal(t, 0, testResults[0].Status)
	assert.False(t, testResults[0].Fail)
}

func TestTestProjectReportsFailures(t *testing.T) {
	f := newFixture(t)

	for _, method := range []string{"seed_project", "run_project"} {
		tk := f.createTask(t, method, method)
		f.exec.ExecuteProjectOp(context.Background(), tk)
		projectResult(t, tk)
	}

	// break the invariant the test checks
	_, err := f.exec.DB().Exec(`insert into "base_model" (id, name) values (null, 'ghost')`)
	require.NoError(t, err)

	tk := f.createTask(t, "test_project", "1")
	f.exec.ExecuteProjectOp(context.Background(), tk)
	results := projectResult(t, tk).Results
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].Status)
	assert.True(t, results[0].Fail)
}

func TestRunProjectBeforeSeedFails(t *testing.T) {
	f := newFixture(t)
	tk := f.createTask(t, "run_project", "1")

	f.exec.ExecuteProjectOp(context.Background(), tk)

	require.Equal(t, task.StateError, tk.State())
	var dbErr *executor.DatabaseError
	require.ErrorAs(t, tk.Err(), &dbErr)
}

func TestSeedProjectNumericTypes(t *testing.T) {
	f := newFixture(t)

	tk := f.createTask(t, "seed_project", "1")
	f.exec.ExecuteProjectOp(context.Background(), tk)
	projectResult(t, tk)

	// id parsed as a number, name stays text
	var total float64
	require.NoError(t, f.exec.DB().Get(&total, `select sum(id) from "people"`))
	assert.Equal(t, 3.0, total)
}

func TestUnknownProjectOperation(t *testing.T) {
	f := newFixture(t)
	tk := f.createTask(t, "polish_project", "1")

	f.exec.ExecuteProjectOp(context.Background(), tk)

	require.Equal(t, task.StateError, tk.State())
	assert.ErrorContains(t, tk.Err(), "unknown project operation")
}
