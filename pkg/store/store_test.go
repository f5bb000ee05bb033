package store

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func TestStamps(t *testing.T) {
	s := openTestStore(t)

	token, err := s.Stamp("sundials")
	require.NoError(t, err)
	assert.Equal(t, "", token)

	require.NoError(t, s.SetStamp("sundials", "url#checksum"))

	token, err = s.Stamp("sundials")
	require.NoError(t, err)
	assert.Equal(t, "url#checksum", token)
}

func TestRevisions(t *testing.T) {
	s := openTestStore(t)

	revs, err := s.Revisions()
	require.NoError(t, err)
	assert.Empty(t, revs)

	require.NoError(t, s.SetRevision("assimulo", "r1234"))
	require.NoError(t, s.SetRevision("assimulo", "r1240"))
	require.NoError(t, s.SetRevision("other", "abcdef"))

	revs, err = s.Revisions()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"assimulo": "r1240",
		"other":    "abcdef",
	}, revs)
}

func TestRunHistoryOrder(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.RecordRun("tests", "ok", time.Second))
	require.NoError(t, s.RecordRun("lint", "failed", 2*time.Second))
	require.NoError(t, s.RecordRun("docs", "ok", 3*time.Second))

	runs, err := s.Runs(10)
	require.NoError(t, err)
	require.Len(t, runs, 3)

	// newest first
	assert.Equal(t, "docs", runs[0].Task)
	assert.Equal(t, "lint", runs[1].Task)
	assert.Equal(t, "tests", runs[2].Task)
	assert.Equal(t, "failed", runs[1].Status)

	runs, err = s.Runs(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "docs", runs[0].Task)
}

func TestRunHistoryPruning(t *testing.T) {
	s := openTestStore(t)

	for idx := 0; idx < maxRuns+10; idx++ {
		require.NoError(t, s.RecordRun(fmt.Sprintf("task-%d", idx), "ok", time.Second))
	}

	runs, err := s.Runs(maxRuns * 2)
	require.NoError(t, err)
	require.Len(t, runs, maxRuns)

	// the oldest entries were dropped
	assert.Equal(t, fmt.Sprintf("task-%d", maxRuns+9), runs[0].Task)
	assert.Equal(t, "task-10", runs[len(runs)-1].Task)
}
