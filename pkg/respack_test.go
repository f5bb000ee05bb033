package pkg

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultArchiveRoundtrip(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "results.mar")

	w, err := NewResultWriter(archive)
	require.NoError(t, err)
	require.NoError(t, w.WriteFile("output/nosetests.xml", strings.NewReader("<testsuite tests=\"12\"/>")))
	require.NoError(t, w.WriteFile("output/pylint.log", strings.NewReader("Your code has been rated at 9.32/10")))
	require.NoError(t, w.Close())

	r, err := OpenResultArchive(archive)
	require.NoError(t, err)
	defer r.Close()

	assert.ElementsMatch(t, []string{"output/nosetests.xml", "output/pylint.log"}, r.Names())

	content, err := r.ReadFile("output/nosetests.xml")
	require.NoError(t, err)
	assert.Equal(t, "<testsuite tests=\"12\"/>", string(content))

	content, err = r.ReadFile("output/pylint.log")
	require.NoError(t, err)
	assert.Equal(t, "Your code has been rated at 9.32/10", string(content))

	_, err = r.ReadFile("missing")
	require.Error(t, err)
}

func TestResultArchiveTree(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "docs", "html"), 0770))
	require.NoError(t, os.WriteFile(filepath.Join(src, "report.xml"), []byte("<report/>"), 0660))
	require.NoError(t, os.WriteFile(filepath.Join(src, "docs", "html", "index.html"), []byte("<html></html>"), 0660))

	archive := filepath.Join(t.TempDir(), "results.mar")
	w, err := NewResultWriter(archive)
	require.NoError(t, err)
	require.NoError(t, w.AddTree(src))
	require.NoError(t, w.Close())

	r, err := OpenResultArchive(archive)
	require.NoError(t, err)
	defer r.Close()

	assert.ElementsMatch(t, []string{"report.xml", "docs/html/index.html"}, r.Names())

	dest := t.TempDir()
	require.NoError(t, r.Extract(dest))

	content, err := os.ReadFile(filepath.Join(dest, "docs", "html", "index.html"))
	require.NoError(t, err)
	assert.Equal(t, "<html></html>", string(content))

	content, err = os.ReadFile(filepath.Join(dest, "report.xml"))
	require.NoError(t, err)
	assert.Equal(t, "<report/>", string(content))
}

func TestOpenResultArchiveRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bogus.mar")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("x", 64)), 0660))

	_, err := OpenResultArchive(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a result archive")
}
