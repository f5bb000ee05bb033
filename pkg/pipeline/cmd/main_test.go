package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupProject(t *testing.T, script string) string {
	t.Helper()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "mtool.yml"), []byte("python: python3\n"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "tasks.star"), []byte(script), 0600))

	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(root))
	t.Cleanup(func() { os.Chdir(prev) })

	return root
}

func TestSplitTaskArgs(t *testing.T) {
	tasks, options := splitTaskArgs([]string{"build", "flavor=spicy", "docs"})

	assert.Equal(t, []string{"build", "docs"}, tasks)
	assert.Equal(t, map[string]string{"flavor": "spicy"}, options)
}

func TestRunCmdHonorsSkipIfExists(t *testing.T) {
	root := setupProject(t, `
def configure():
    task("gen", desc="gen", skip_if_exists=["marker"], cmds=["echo ran >> gen.log"])
`)

	require.NoError(t, os.WriteFile(filepath.Join(root, "marker"), []byte("x"), 0600))

	require.NoError(t, RunCmd.RunE(RunCmd, []string{"gen"}))

	_, err := os.Stat(filepath.Join(root, "gen.log"))
	assert.True(t, os.IsNotExist(err), "directly invoked task should honor skip_if_exists")

	// without the marker the task runs
	require.NoError(t, os.Remove(filepath.Join(root, "marker")))
	require.NoError(t, RunCmd.RunE(RunCmd, []string{"gen"}))

	content, err := os.ReadFile(filepath.Join(root, "gen.log"))
	require.NoError(t, err)
	assert.Equal(t, "ran\n", string(content))
}
