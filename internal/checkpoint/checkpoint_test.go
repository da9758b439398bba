package checkpoint

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) (*Checkpoint, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "checkpoint_test.json")
	cp, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	return cp, path
}

func TestOpenCreatesEmptyLedger(t *testing.T) {
	cp, path := openTemp(t)

	rec, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, rec.ProcessedProducts)
	assert.Empty(t, rec.FailedProducts)
	assert.Equal(t, Stats{}, rec.Stats)
	assert.Equal(t, path, cp.Path())
}

func TestMutationsPersistAndReload(t *testing.T) {
	cp, path := openTemp(t)

	cp.MarkProcessed(7)
	cp.MarkProcessed(3)
	cp.MarkFailed(9)
	cp.UpdateStats(10, 1, 0)
	cp.UpdateStats(5, 0, 2)

	rec, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 7}, rec.ProcessedProducts)
	assert.Equal(t, []int64{9}, rec.FailedProducts)
	assert.Equal(t, Stats{TotalInserted: 15, TotalFailed: 1, TotalSkipped: 2}, rec.Stats)
	require.NotNil(t, rec.LastUpdated)

	reopened, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	assert.True(t, reopened.IsProcessed(3))
	assert.True(t, reopened.IsProcessed(7))
	assert.False(t, reopened.IsProcessed(9))
	assert.True(t, reopened.IsFailed(9))
	assert.Equal(t, 15, reopened.Stats().TotalInserted)
}

func TestMarkIsIdempotentAndTerminal(t *testing.T) {
	cp, _ := openTemp(t)

	cp.MarkProcessed(1)
	cp.MarkProcessed(1)
	cp.MarkFailed(1)
	snap := cp.Snapshot()
	assert.Equal(t, []int64{1}, snap.ProcessedProducts)
	assert.Empty(t, snap.FailedProducts)

	cp.MarkFailed(2)
	cp.MarkFailed(2)
	assert.Equal(t, []int64{2}, cp.Snapshot().FailedProducts)

	// a later success adds the id to processed; the failure stays on record
	cp.MarkProcessed(2)
	snap = cp.Snapshot()
	assert.Equal(t, []int64{1, 2}, snap.ProcessedProducts)
	assert.Equal(t, []int64{2}, snap.FailedProducts)
	assert.True(t, cp.IsProcessed(2))
}

func TestReloadKeepsFailedHistoryOfProcessedItems(t *testing.T) {
	cp, path := openTemp(t)
	cp.MarkFailed(4)
	cp.MarkProcessed(4)

	reopened, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	assert.True(t, reopened.IsProcessed(4))
	assert.True(t, reopened.IsFailed(4))
}

func TestOpenReadOnlyNeverWrites(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "checkpoint_new.json")

	cp, err := OpenReadOnly(missing, zerolog.Nop())
	require.NoError(t, err)
	cp.MarkProcessed(1)
	cp.UpdateStats(3, 0, 0)
	assert.True(t, cp.Flush())
	assert.True(t, cp.IsProcessed(1))
	_, err = os.Stat(missing)
	assert.True(t, os.IsNotExist(err), "read-only ledger must not create a file")

	existing := filepath.Join(dir, "checkpoint_old.json")
	rw, err := Open(existing, zerolog.Nop())
	require.NoError(t, err)
	rw.MarkProcessed(5)
	before, err := os.ReadFile(existing)
	require.NoError(t, err)

	ro, err := OpenReadOnly(existing, zerolog.Nop())
	require.NoError(t, err)
	assert.True(t, ro.IsProcessed(5))
	ro.MarkProcessed(6)
	ro.MarkFailed(7)
	after, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestWriteFailureKeepsMemoryState(t *testing.T) {
	cp, path := openTemp(t)
	cp.write = func(string, []byte) error { return errors.New("disk full") }

	cp.MarkProcessed(42)
	cp.UpdateStats(3, 0, 0)
	assert.True(t, cp.IsProcessed(42))
	assert.Equal(t, 3, cp.Stats().TotalInserted)
	assert.False(t, cp.Flush())

	rec, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, rec.ProcessedProducts, "the failed write must not have reached disk")
}

func TestCorruptFileStartsFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	cp, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	assert.False(t, cp.IsProcessed(1))

	rec, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, rec.ProcessedProducts)
}

func TestOpenFailsWhenStorageUnwritable(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	_, err := Open(filepath.Join(blocker, "checkpoint.json"), zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checkpoint storage unavailable")
}

func TestRunIDAndPath(t *testing.T) {
	id := NewRunID(time.Date(2025, 1, 9, 14, 30, 22, 0, time.UTC))
	assert.True(t, strings.HasPrefix(id, "20250109_143022-"))
	assert.Len(t, id, len("20250109_143022-")+8)
	assert.Equal(t, filepath.Join("cp", "checkpoint_"+id+".json"), PathFor("cp", id))
}
