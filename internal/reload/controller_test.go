package reload_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sqlrunner/internal/reload"
	"sqlrunner/internal/testutil"
)

func TestControllerReload(t *testing.T) {
	dir := testutil.BasicProject(t)
	c := reload.NewController(dir)

	status, err := c.State()
	assert.Equal(t, reload.StatusCompiling, status)
	assert.NoError(t, err)
	assert.Nil(t, c.Current())

	require.NoError(t, c.Reload())

	status, err = c.State()
	assert.Equal(t, reload.StatusReady, status)
	assert.NoError(t, err)

	p := c.Current()
	require.NotNil(t, p)
	assert.Equal(t, "fixture", p.Name)
}

func TestControllerReloadFailureKeepsPreviousGraph(t *testing.T) {
	dir := testutil.BasicProject(t)
	c := reload.NewController(dir)
	require.NoError(t, c.Reload())
	before := c.Current()

	// break the project on disk
	broken := filepath.Join(dir, "models", "broken.sql")
	require.NoError(t, os.WriteFile(broken, []byte(`select * from {{ref "missing"}}`), 0o644))

	require.Error(t, c.Reload())

	status, err := c.State()
	assert.Equal(t, reload.StatusError, status)
	assert.ErrorContains(t, err, "missing")

	// tasks keep working against the last good graph
	assert.Same(t, before, c.Current())

	// fixing the file recovers readiness
	require.NoError(t, os.Remove(broken))
	require.NoError(t, c.Reload())
	status, err = c.State()
	assert.Equal(t, reload.StatusReady, status)
	assert.NoError(t, err)
}

func TestControllerReloadSwapsSnapshot(t *testing.T) {
	dir := testutil.BasicProject(t)
	c := reload.NewController(dir)
	require.NoError(t, c.Reload())

	old := c.Current()
	_, ok := old.Node("newcomer")
	require.False(t, ok)

	newModel := filepath.Join(dir, "models", "newcomer.sql")
	require.NoError(t, os.WriteFile(newModel, []byte("select 2 as id"), 0o644))
	require.NoError(t, c.Reload())

	// the old snapshot is untouched, the published graph has the new node
	_, ok = old.Node("newcomer")
	assert.False(t, ok)
	_, ok = c.Current().Node("newcomer")
	assert.True(t, ok)
	assert.NotSame(t, old, c.Current())
}
