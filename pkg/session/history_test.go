package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *HistoryStore {
	t.Helper()
	store, err := NewHistoryStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestHistoryStoreAppendAndLoad(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "session-1", Turn{Role: "user", Content: "hello"}))
	require.NoError(t, store.Append(ctx, "session-1", Turn{Role: "assistant", Content: "hi there"}))

	turns, err := store.Load(ctx, "session-1")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "user", turns[0].Role)
	assert.Equal(t, "hello", turns[0].Content)
	assert.Equal(t, "assistant", turns[1].Role)
	assert.False(t, turns[0].Timestamp.IsZero())
}

func TestHistoryStoreLoadMissingSession(t *testing.T) {
	store := newTestStore(t)

	turns, err := store.Load(context.Background(), "never-seen")
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestHistoryStoreValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"", "../escape", "a/b", "a\\b", "nul\x00byte"} {
		assert.Error(t, store.Append(ctx, id, Turn{Role: "user", Content: "x"}), "id %q", id)
	}

	assert.Error(t, store.Append(ctx, "ok", Turn{Content: "missing role"}))
	assert.Error(t, store.Append(ctx, "ok", Turn{Role: "user"}))
}

func TestHistoryStoreLoadRecent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 60; i++ {
		require.NoError(t, store.Append(ctx, "long", Turn{
			Role:    "user",
			Content: fmt.Sprintf("message %d", i),
		}))
	}

	turns, err := store.LoadRecent(ctx, "long", 50)
	require.NoError(t, err)
	require.Len(t, turns, 50)

	// The bounded window keeps the newest turns, oldest first.
	assert.Equal(t, "message 10", turns[0].Content)
	assert.Equal(t, "message 59", turns[49].Content)

	all, err := store.LoadRecent(ctx, "long", 0)
	require.NoError(t, err)
	assert.Len(t, all, 60)
}

func TestHistoryStoreSkipsCorruptLines(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "partial", Turn{Role: "user", Content: "first"}))

	// Simulate a torn write.
	file, err := os.OpenFile(filepath.Join(store.dir, "partial.jsonl"), os.O_APPEND|os.O_WRONLY, 0600)
	require.NoError(t, err)
	_, err = file.WriteString(`{"role":"assistant","content":"trunc`)
	require.NoError(t, err)
	require.NoError(t, file.Close())

	turns, err := store.Load(ctx, "partial")
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "first", turns[0].Content)
}

func TestHistoryStoreConcurrentAppends(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.Append(ctx, "busy", Turn{
				Role:    "user",
				Content: fmt.Sprintf("message %d", i),
			}))
		}()
	}
	wg.Wait()

	turns, err := store.Load(ctx, "busy")
	require.NoError(t, err)
	assert.Len(t, turns, 20)
}

func TestHistoryStoreDeleteAndList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "one", Turn{Role: "user", Content: "a"}))
	require.NoError(t, store.Append(ctx, "two", Turn{Role: "user", Content: "b"}))

	sessions, err := store.ListSessions()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"one", "two"}, sessions)

	require.NoError(t, store.Delete(ctx, "one"))
	require.NoError(t, store.Delete(ctx, "one"))

	sessions, err = store.ListSessions()
	require.NoError(t, err)
	assert.Equal(t, []string{"two"}, sessions)
}

func TestArchiverSweepIdle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "stale", Turn{Role: "user", Content: "old"}))
	require.NoError(t, store.Append(ctx, "fresh", Turn{Role: "user", Content: "new"}))

	// Age the stale session's file.
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(store.dir, "stale.jsonl"), old, old))

	archiver := NewArchiver(store, ArchiverConfig{IdleTimeout: 30 * time.Minute})
	archived, err := archiver.SweepIdle()
	require.NoError(t, err)
	assert.Equal(t, 1, archived)

	sessions, err := store.ListSessions()
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh"}, sessions)

	archivedIDs, err := archiver.ListArchived()
	require.NoError(t, err)
	assert.Equal(t, []string{"stale"}, archivedIDs)
}

func TestArchiverArchiveValidation(t *testing.T) {
	store := newTestStore(t)
	archiver := NewArchiver(store, ArchiverConfig{})

	assert.Error(t, archiver.Archive("../escape"))
	assert.Error(t, archiver.Archive("missing"))
}

func TestArchiverRejectsBadSchedule(t *testing.T) {
	store := newTestStore(t)
	archiver := NewArchiver(store, ArchiverConfig{SweepSchedule: "not a schedule"})

	assert.Error(t, archiver.Start())
}
