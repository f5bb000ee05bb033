package pipeline

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheRoundtrip(t *testing.T) {
	cacheFile := filepath.Join(t.TempDir(), ".mtool-cache")

	tasks := TaskList{
		"build": {
			Short: "build",
			Desc:  "main build",
			Base:  "/work",
			Deps:  []string{"deps"},
			Env:   map[string]string{"FLAVOR": "plain"},
			Cmds:  []TaskCmd{ShellCmd{Content: "echo build"}},
		},
	}
	options := map[string]string{"flavor": "plain"}

	require.NoError(t, WriteCache(cacheFile, options, tasks))

	readOptions, readTasks, err := ReadCache(cacheFile)
	require.NoError(t, err)

	assert.Equal(t, options, readOptions)
	require.Contains(t, readTasks, "build")
	assert.Equal(t, tasks["build"].Desc, readTasks["build"].Desc)
	assert.Equal(t, tasks["build"].Env, readTasks["build"].Env)
	assert.Equal(t, tasks["build"].Cmds, readTasks["build"].Cmds)
}

func TestReadCacheMissing(t *testing.T) {
	_, _, err := ReadCache(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}
