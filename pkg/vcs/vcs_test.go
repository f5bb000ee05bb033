package vcs

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()

	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test",
		"GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=test",
		"GIT_COMMITTER_EMAIL=test@example.com",
	)

	output, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %s failed: %s", strings.Join(args, " "), output)

	return strings.TrimSpace(string(output))
}

func setupRemote(t *testing.T) string {
	t.Helper()

	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git is not available")
	}

	remote := t.TempDir()
	runGit(t, remote, "init")
	require.NoError(t, os.WriteFile(filepath.Join(remote, "README"), []byte("hello\n"), 0600))
	runGit(t, remote, "add", "README")
	runGit(t, remote, "commit", "-m", "initial commit")

	return remote
}

func TestSyncFreshCheckout(t *testing.T) {
	remote := setupRemote(t)
	dest := filepath.Join(t.TempDir(), "wc")

	result, err := Sync(context.Background(), Checkout{
		Name: "test",
		URL:  remote,
		Dest: dest,
	})
	require.NoError(t, err)

	assert.True(t, result.Created)
	assert.Equal(t, runGit(t, remote, "rev-parse", "HEAD"), result.Revision)
	assert.FileExists(t, filepath.Join(dest, "README"))
}

func TestSyncUpdate(t *testing.T) {
	remote := setupRemote(t)
	dest := filepath.Join(t.TempDir(), "wc")

	co := Checkout{Name: "test", URL: remote, Dest: dest}

	_, err := Sync(context.Background(), co)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(remote, "extra"), []byte("more\n"), 0600))
	runGit(t, remote, "add", "extra")
	runGit(t, remote, "commit", "-m", "second commit")

	result, err := Sync(context.Background(), co)
	require.NoError(t, err)

	assert.False(t, result.Created)
	assert.Equal(t, runGit(t, remote, "rev-parse", "HEAD"), result.Revision)
	assert.FileExists(t, filepath.Join(dest, "extra"))
}

func TestSyncUpdateFailure(t *testing.T) {
	remote := setupRemote(t)
	dest := filepath.Join(t.TempDir(), "wc")

	co := Checkout{Name: "test", URL: remote, Dest: dest}

	first, err := Sync(context.Background(), co)
	require.NoError(t, err)

	// break the remote; the stale working copy is still usable so this only warns
	require.NoError(t, os.RemoveAll(remote))

	result, err := Sync(context.Background(), co)
	require.NoError(t, err)

	assert.False(t, result.Created)
	assert.Equal(t, first.Revision, result.Revision)
}

func TestSyncFreshCheckoutFailure(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git is not available")
	}

	dest := filepath.Join(t.TempDir(), "wc")

	_, err := Sync(context.Background(), Checkout{
		Name: "test",
		URL:  filepath.Join(t.TempDir(), "does-not-exist"),
		Dest: dest,
	})
	require.Error(t, err)
}

func TestSyncUnsupportedVCS(t *testing.T) {
	_, err := Sync(context.Background(), Checkout{
		Name: "test",
		VCS:  "hg",
		URL:  "https://example.org/repo",
		Dest: filepath.Join(t.TempDir(), "wc"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported VCS")
}

func TestSyncMissingURL(t *testing.T) {
	_, err := Sync(context.Background(), Checkout{Name: "test"})
	require.Error(t, err)
}
