package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, content string) (string, string) {
	t.Helper()

	root := t.TempDir()
	script := filepath.Join(root, "tasks.star")
	require.NoError(t, os.WriteFile(script, []byte(content), 0600))

	return script, root
}

func TestParseCollectsOptions(t *testing.T) {
	script, root := writeScript(t, `
flavor = option("flavor", default="plain", help="build flavor")

def configure():
    pass
`)

	_, options, err := Parse(context.Background(), script, root, nil, false)
	require.NoError(t, err)

	require.Contains(t, options, "flavor")
	assert.Equal(t, "plain", options["flavor"].Default())
	assert.Equal(t, "build flavor", options["flavor"].Help)
}

func TestParseTasks(t *testing.T) {
	script, root := writeScript(t, `
flavor = option("flavor", default="plain")

def configure():
    setenv("GREETING", "hi")

    task(
        "helper",
        desc="writes a marker",
        cmds=["echo helper"],
    )

    task(
        "build",
        desc="main build",
        deps=["helper"],
        env={
            "FLAVOR": flavor,
            "OUT": resolve_path("//out"),
        },
        cmds=[
            "echo build",
            ("echo", "tuple", "arg"),
        ],
    )
`)

	tasks, _, err := Parse(context.Background(), script, root, map[string]string{"flavor": "spicy"}, true)
	require.NoError(t, err)
	require.Contains(t, tasks, "helper")
	require.Contains(t, tasks, "build")

	build := tasks["build"]
	assert.Equal(t, "main build", build.Desc)
	assert.Equal(t, []string{"helper"}, build.Deps)
	assert.Equal(t, "spicy", build.Env["FLAVOR"])
	assert.Equal(t, filepath.Join(root, "out"), build.Env["OUT"])
	// setenv only applies to tasks that don't override the variable themselves
	assert.Equal(t, "hi", build.Env["GREETING"])
	assert.Equal(t, root, build.Base)

	require.Len(t, build.Cmds, 2)
	assert.Equal(t, ShellCmd{Content: "echo build"}, build.Cmds[0])
	assert.Equal(t, ShellCmd{Content: "echo tuple arg"}, build.Cmds[1])
}

func TestParseTaskRef(t *testing.T) {
	script, root := writeScript(t, `
def configure():
    helper = task(
        hidden=True,
        desc="hidden helper",
        cmds=["echo helper"],
    )

    task(
        "build",
        desc="main build",
        cmds=[helper, "echo build"],
    )
`)

	tasks, _, err := Parse(context.Background(), script, root, nil, true)
	require.NoError(t, err)

	// hidden tasks don't show up in the task list...
	assert.NotContains(t, tasks, "helper")

	// ...but they're still reachable through the reference
	build := tasks["build"]
	require.Len(t, build.Cmds, 2)
	ref, err := build.Cmds[0].ToTask()
	require.NoError(t, err)
	require.NotNil(t, ref)
	assert.Equal(t, "hidden helper", ref.Desc)
}

func TestParseReservedName(t *testing.T) {
	script, root := writeScript(t, `
def configure():
    task("configure", desc="nope", cmds=["echo hi"])
`)

	_, _, err := Parse(context.Background(), script, root, nil, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reserved")
}

func TestParseMissingConfigure(t *testing.T) {
	script, root := writeScript(t, `
value = option("value", default="1")
`)

	// without configure, parsing for options still works
	_, _, err := Parse(context.Background(), script, root, nil, false)
	require.NoError(t, err)

	_, _, err = Parse(context.Background(), script, root, nil, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configure")
}

func TestParseOptionOutsideInitPhase(t *testing.T) {
	script, root := writeScript(t, `
def configure():
    option("late", default="1")
`)

	_, _, err := Parse(context.Background(), script, root, nil, true)
	require.Error(t, err)
}

func TestParsePrependLibPath(t *testing.T) {
	script, root := writeScript(t, `
def configure():
    prepend_lib_path("//native/lib")
    task("t", desc="t", cmds=["echo hi"])
`)

	tasks, _, err := Parse(context.Background(), script, root, nil, true)
	require.NoError(t, err)

	value := tasks["t"].Env[libPathVar()]
	assert.True(t, len(value) > 0)
	assert.Contains(t, value, filepath.Join(root, "native", "lib"))
}
