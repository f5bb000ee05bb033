package venv

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVersionOutput(t *testing.T) {
	version, err := ParseVersionOutput("Python 3.9.2\n")
	require.NoError(t, err)
	assert.Equal(t, "3.9.2", version.String())

	// old interpreters print the version on stderr with the same format
	version, err = ParseVersionOutput("Python 2.7.18")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), version.Major())

	_, err = ParseVersionOutput("pypy 7.3")
	require.Error(t, err)

	_, err = ParseVersionOutput("")
	require.Error(t, err)
}

func TestEnvPaths(t *testing.T) {
	env := Env{Dir: filepath.Join("work", ".venv")}

	if runtime.GOOS == "windows" {
		assert.Equal(t, filepath.Join("work", ".venv", "Scripts"), env.BinDir())
		assert.Equal(t, filepath.Join("work", ".venv", "Scripts", "python.exe"), env.Interpreter())
	} else {
		assert.Equal(t, filepath.Join("work", ".venv", "bin"), env.BinDir())
		assert.Equal(t, filepath.Join("work", ".venv", "bin", "python"), env.Interpreter())
	}
}

func TestEnsureExisting(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pyvenv.cfg"), []byte("home = /usr/bin\n"), 0600))

	// the environment already exists so the interpreter is never invoked
	env, err := Ensure(context.Background(), dir, "definitely-not-a-real-python", "3.7")
	require.NoError(t, err)
	assert.Equal(t, dir, env.Dir)
}

func TestEnsureBadInterpreter(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ".venv")

	_, err := Ensure(context.Background(), dir, "definitely-not-a-real-python", "3.7")
	require.Error(t, err)
}

// stubInterpreter plants a fake python binary into the environment's bin
// directory. It logs every invocation and fails all pip uninstall calls.
func stubInterpreter(t *testing.T, env *Env, logPath string) {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("shell stubs don't work on windows")
	}

	script := "#!/bin/sh\n" +
		"echo \"$@\" >> " + logPath + "\n" +
		"case \"$*\" in\n" +
		"*uninstall*) exit 1 ;;\n" +
		"esac\n" +
		"exit 0\n"

	require.NoError(t, os.MkdirAll(env.BinDir(), 0770))
	require.NoError(t, os.WriteFile(env.Interpreter(), []byte(script), 0700))
}

func TestReinstallToleratesMissingPackage(t *testing.T) {
	env := &Env{Dir: filepath.Join(t.TempDir(), ".venv")}
	logPath := filepath.Join(t.TempDir(), "calls.log")
	stubInterpreter(t, env, logPath)

	// the uninstall fails because the package was never installed; the
	// install still has to happen
	require.NoError(t, env.Reinstall(context.Background(), "means"))

	content, err := os.ReadFile(logPath)
	require.NoError(t, err)

	calls := strings.Split(strings.TrimSpace(string(content)), "\n")
	require.Len(t, calls, 2)
	assert.Equal(t, "-m pip uninstall -y means", calls[0])
	assert.Equal(t, "-m pip install means", calls[1])
}
