package statestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStores(t *testing.T) map[string]Store {
	t.Helper()

	logger := zerolog.New(os.Stdout).Level(zerolog.ErrorLevel)
	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state", "stockpilot.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Store{
		"sqlite": sqlite,
		"memory": NewMemoryStore(),
	}
}

func TestGetMissingReturnsErrNotFound(t *testing.T) {
	for name, store := range openTestStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(context.Background(), "absent", "host")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	blob := []byte(`{"schema_version":1,"market_preference":"US"}`)

	for name, store := range openTestStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Put(context.Background(), "session-1", "host", blob))

			got, err := store.Get(context.Background(), "session-1", "host")
			require.NoError(t, err)
			assert.Equal(t, blob, got)
		})
	}
}

func TestPutReplacesPreviousValue(t *testing.T) {
	for name, store := range openTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Put(ctx, "session-1", "host", []byte(`{"v":1}`)))
			require.NoError(t, store.Put(ctx, "session-1", "host", []byte(`{"v":2}`)))

			got, err := store.Get(ctx, "session-1", "host")
			require.NoError(t, err)
			assert.Equal(t, []byte(`{"v":2}`), got)
		})
	}
}

func TestKeysAreScopedPerAgent(t *testing.T) {
	for name, store := range openTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Put(ctx, "session-1", "host", []byte(`{"owner":"host"}`)))
			require.NoError(t, store.Put(ctx, "session-1", "worker", []byte(`{"owner":"worker"}`)))

			got, err := store.Get(ctx, "session-1", "host")
			require.NoError(t, err)
			assert.Equal(t, []byte(`{"owner":"host"}`), got)
		})
	}
}

func TestValidation(t *testing.T) {
	for name, store := range openTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := store.Get(ctx, "", "host")
			assert.Error(t, err)
			_, err = store.Get(ctx, "session-1", "")
			assert.Error(t, err)
			assert.Error(t, store.Put(ctx, "", "host", []byte("x")))
		})
	}
}

func TestSQLiteRejectsEmptyBlob(t *testing.T) {
	logger := zerolog.New(os.Stdout).Level(zerolog.ErrorLevel)
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "s.db"), logger)
	require.NoError(t, err)
	defer store.Close()

	assert.Error(t, store.Put(context.Background(), "session-1", "host", nil))
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	logger := zerolog.New(os.Stdout).Level(zerolog.ErrorLevel)
	path := filepath.Join(t.TempDir(), "s.db")

	store, err := NewSQLiteStore(path, logger)
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), "session-1", "host", []byte(`{"v":1}`)))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(path, logger)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(context.Background(), "session-1", "host")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"v":1}`), got)
}

func TestMemoryStoreCopiesBlobs(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	blob := []byte(`{"v":1}`)
	require.NoError(t, store.Put(ctx, "session-1", "host", blob))
	blob[2] = 'x' // caller mutates its copy

	got, err := store.Get(ctx, "session-1", "host")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"v":1}`), got)
}
