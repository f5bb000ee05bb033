package pkg

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStamps map[string]string

func (m memStamps) Stamp(name string) (string, error) {
	return m[name], nil
}

func (m memStamps) SetStamp(name, token string) error {
	m[name] = token
	return nil
}

func buildTarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()

	buffer := new(bytes.Buffer)
	gzw := gzip.NewWriter(buffer)
	tw := tar.NewWriter(gzw)

	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name,
			Mode: 0644,
			Size: int64(len(content)),
		}))

		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}

	require.NoError(t, tw.Close())
	require.NoError(t, gzw.Close())

	return buffer.Bytes()
}

func inTempDir(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(prev) })

	return dir
}

func TestFetchDeps(t *testing.T) {
	root := inTempDir(t)

	payload := buildTarGz(t, map[string]string{
		"dep-1.0/data.txt":        "payload",
		"dep-1.0/nested/more.txt": "nested payload",
	})
	digest := sha256.Sum256(payload)

	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Write(payload)
	}))
	defer server.Close()

	cfg := DepConfig{
		Deps: map[string]DepSpec{
			"dep": {
				URL:    server.URL + "/dep.tar.gz",
				Dest:   "vendor/dep",
				Sha256: hex.EncodeToString(digest[:]),
				Strip:  1,
			},
		},
	}

	stamps := memStamps{}
	changes, err := FetchDeps(cfg, stamps, root, false)
	require.NoError(t, err)
	assert.Empty(t, changes)
	assert.Equal(t, 1, requests)

	content, err := os.ReadFile(filepath.Join(root, "vendor", "dep", "data.txt"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(content))

	content, err = os.ReadFile(filepath.Join(root, "vendor", "dep", "nested", "more.txt"))
	require.NoError(t, err)
	assert.Equal(t, "nested payload", string(content))

	// the second call finds a matching stamp and doesn't download anything
	_, err = FetchDeps(cfg, stamps, root, false)
	require.NoError(t, err)
	assert.Equal(t, 1, requests)
}

func TestFetchDepsChecksumMismatch(t *testing.T) {
	root := inTempDir(t)

	payload := buildTarGz(t, map[string]string{"dep-1.0/data.txt": "payload"})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer server.Close()

	cfg := DepConfig{
		Deps: map[string]DepSpec{
			"dep": {
				URL:    server.URL + "/dep.tar.gz",
				Dest:   "vendor/dep",
				Sha256: "0000000000000000000000000000000000000000000000000000000000000000",
			},
		},
	}

	_, err := FetchDeps(cfg, memStamps{}, root, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Checksum")
}

func TestFetchDepsUpdateCollectsChecksums(t *testing.T) {
	root := inTempDir(t)

	payload := buildTarGz(t, map[string]string{"dep-1.0/data.txt": "payload"})
	digest := sha256.Sum256(payload)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer server.Close()

	cfg := DepConfig{
		Deps: map[string]DepSpec{
			"dep": {
				URL:  server.URL + "/dep.tar.gz",
				Dest: "vendor/dep",
			},
		},
	}

	changes, err := FetchDeps(cfg, memStamps{}, root, true)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"dep": hex.EncodeToString(digest[:])}, changes)
}

func TestEvalConditions(t *testing.T) {
	vars := map[string]string{
		"VERSION": "5.8.0",
		"linux":   "true",
	}

	meta := DepSpec{
		URL:       "https://example.org/dep-{VERSION}.tar.gz",
		Condition: "linux",
	}
	assert.True(t, evalConditions(&meta, vars))
	assert.Equal(t, "https://example.org/dep-5.8.0.tar.gz", meta.URL)

	meta = DepSpec{Condition: "windows"}
	assert.False(t, evalConditions(&meta, vars))

	meta = DepSpec{Rejections: "linux"}
	assert.False(t, evalConditions(&meta, vars))

	meta = DepSpec{Rejections: "windows"}
	assert.True(t, evalConditions(&meta, vars))
}

func TestUpdateChecksums(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "DEPS.yml")
	content := `deps:
  dep:
    url: https://example.org/dep.tar.gz
    sha256: oldchecksum
`
	require.NoError(t, os.WriteFile(manifest, []byte(content), 0660))

	cfg := DepConfig{
		Deps: map[string]DepSpec{
			"dep": {URL: "https://example.org/dep.tar.gz", Sha256: "oldchecksum"},
		},
	}

	err := UpdateChecksums(manifest, content, cfg, map[string]string{"dep": "newchecksum"})
	require.NoError(t, err)

	updated, err := os.ReadFile(manifest)
	require.NoError(t, err)
	assert.Contains(t, string(updated), "sha256: newchecksum")
	assert.NotContains(t, string(updated), "oldchecksum")
}
