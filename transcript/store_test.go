package transcript

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/chatloop/chatloop/errors"
	"github.com/chatloop/chatloop/usage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersistAndLoad(t *testing.T) {
	dir := t.TempDir()
	rec := NewRecorder("claude", "", "test-model", testRates())
	rec.Record("hello", "hi there", &usage.Snapshot{InputTokens: 10, OutputTokens: 5}, 1.0)

	id, err := rec.Persist(dir)
	require.NoError(t, err)
	assert.Equal(t, rec.Session().SessionID, id)

	loaded, err := LoadByID(dir, id)
	require.NoError(t, err)
	assert.Equal(t, rec.Session().SessionID, loaded.SessionID)
	require.Len(t, loaded.Exchanges, 1)
	assert.Equal(t, "hello", loaded.Exchanges[0].Query)
	assert.Equal(t, "hi there", loaded.Exchanges[0].Response)

	// Both persisted forms exist.
	_, err = os.Stat(filepath.Join(dir, id+".json"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, id+".md"))
	assert.NoError(t, err)
}

func TestPersistEmptySessionFails(t *testing.T) {
	rec := NewRecorder("claude", "", "test-model", testRates())
	_, err := rec.Persist(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conversation to save")
}

func TestPersistFilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions")
	}
	dir := t.TempDir()
	rec := NewRecorder("claude", "", "test-model", testRates())
	rec.Record("q", "r", nil, 1.0)

	id, err := rec.Persist(dir)
	require.NoError(t, err)

	for _, name := range []string{id + ".json", id + ".md"} {
		fi, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm(), name)
	}
}

func TestPersistIsRepeatable(t *testing.T) {
	dir := t.TempDir()
	rec := NewRecorder("claude", "", "test-model", testRates())
	rec.Record("q1", "r1", nil, 1.0)

	id1, err := rec.Persist(dir)
	require.NoError(t, err)

	rec.Record("q2", "r2", nil, 1.0)
	id2, err := rec.Persist(dir)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	loaded, err := LoadByID(dir, id2)
	require.NoError(t, err)
	assert.Len(t, loaded.Exchanges, 2)

	// Re-saving updates the existing index row rather than appending.
	infos, err := List(dir, "", 0)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, 2, infos[0].QueryCount)
}

func TestListNewestFirst(t *testing.T) {
	dir := t.TempDir()
	for i, q := range []string{"first question", "second question"} {
		rec := NewRecorder("claude", "", "test-model", testRates())
		rec.Record(q, "answer", nil, 1.0)
		_, err := rec.Persist(dir)
		require.NoError(t, err)
		if i == 0 {
			time.Sleep(10 * time.Millisecond)
		}
	}

	infos, err := List(dir, "", 0)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "second question", infos[0].Preview)
	assert.Equal(t, "first question", infos[1].Preview)
}

func TestListAgentFilterAndLimit(t *testing.T) {
	dir := t.TempDir()
	for _, agent := range []string{"claude", "gpt", "claude"} {
		rec := NewRecorder(agent, "", "test-model", testRates())
		rec.Record("q", "r", nil, 1.0)
		_, err := rec.Persist(dir)
		require.NoError(t, err)
	}

	infos, err := List(dir, "claude", 0)
	require.NoError(t, err)
	assert.Len(t, infos, 2)

	infos, err = List(dir, "", 1)
	require.NoError(t, err)
	assert.Len(t, infos, 1)
}

func TestListEmptyDir(t *testing.T) {
	infos, err := List(t.TempDir(), "", 0)
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestSearch(t *testing.T) {
	dir := t.TempDir()
	rec := NewRecorder("claude", "", "test-model", testRates())
	rec.Record("Tell me about Kubernetes operators", "sure", nil, 1.0)
	_, err := rec.Persist(dir)
	require.NoError(t, err)

	rec2 := NewRecorder("gpt", "", "test-model", testRates())
	rec2.Record("unrelated", "ok", nil, 1.0)
	_, err = rec2.Persist(dir)
	require.NoError(t, err)

	infos, err := Search(dir, "kubernetes")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "claude", infos[0].AgentName)

	infos, err = Search(dir, "GPT")
	require.NoError(t, err)
	assert.Len(t, infos, 1)
}

func TestDelete(t *testing.T) {
	dir := t.TempDir()
	rec := NewRecorder("claude", "", "test-model", testRates())
	rec.Record("q", "r", nil, 1.0)
	id, err := rec.Persist(dir)
	require.NoError(t, err)

	require.NoError(t, Delete(dir, id))

	_, err = LoadByID(dir, id)
	assert.Error(t, err)
	infos, err := List(dir, "", 0)
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestDeleteMissing(t *testing.T) {
	err := Delete(t.TempDir(), "does_not_exist")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestCorruptIndexDoesNotBlockSaves(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, indexFile), []byte("{corrupt"), 0o600))

	rec := NewRecorder("claude", "", "test-model", testRates())
	rec.Record("q", "r", nil, 1.0)
	id, err := rec.Persist(dir)
	require.NoError(t, err)
	assert.False(t, errors.IsWarning(err))

	infos, err := List(dir, "", 0)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, id, infos[0].SessionID)
}

func TestCleanupOlderThan(t *testing.T) {
	dir := t.TempDir()
	rec := NewRecorder("claude", "", "test-model", testRates())
	rec.Record("old question", "r", nil, 1.0)
	oldID, err := rec.Persist(dir)
	require.NoError(t, err)

	rec2 := NewRecorder("claude", "", "test-model", testRates())
	rec2.Record("new question", "r", nil, 1.0)
	newID, err := rec2.Persist(dir)
	require.NoError(t, err)

	// Age the first session's index row past the cutoff.
	idx, err := readIndex(dir)
	require.NoError(t, err)
	for i := range idx.Sessions {
		if idx.Sessions[i].SessionID == oldID {
			idx.Sessions[i].LastUpdated = time.Now().Add(-60 * 24 * time.Hour)
		}
	}
	require.NoError(t, writeIndex(dir, idx))

	deleted, err := CleanupOlderThan(dir, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = LoadByID(dir, oldID)
	assert.Error(t, err)
	_, err = LoadByID(dir, newID)
	assert.NoError(t, err)
}

func TestPreviewTruncates(t *testing.T) {
	dir := t.TempDir()
	long := make([]byte, 120)
	for i := range long {
		long[i] = 'a'
	}
	rec := NewRecorder("claude", "", "test-model", testRates())
	rec.Record(string(long), "r", nil, 1.0)
	_, err := rec.Persist(dir)
	require.NoError(t, err)

	infos, err := List(dir, "", 0)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Len(t, infos[0].Preview, 83)
}
