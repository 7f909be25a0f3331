package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ajramos/mailsweep/internal/services"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := Open(ctx, dbPath)
	assert.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open(context.Background(), "   ")
	assert.Error(t, err)
}

func TestResultsStore_SaveAndLoad(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	results := NewResultsStore(store)

	_, err := results.LoadLastArchiveResult(ctx, "user@example.com")
	assert.ErrorIs(t, err, ErrNoStoredResult)

	first := &services.ArchiveResult{
		RunID:         "run-1",
		Success:       true,
		TotalScanned:  42,
		ArchivedCount: 7,
		StartedAt:     time.Now().Add(-time.Minute),
		FinishedAt:    time.Now(),
		Log:           []string{"fetched 42 messages", "archived 7"},
	}
	assert.NoError(t, results.SaveArchiveResult(ctx, "user@example.com", first))

	loaded, err := results.LoadLastArchiveResult(ctx, "user@example.com")
	assert.NoError(t, err)
	assert.Equal(t, "run-1", loaded.RunID)
	assert.True(t, loaded.Success)
	assert.Equal(t, 42, loaded.TotalScanned)
	assert.Equal(t, []string{"fetched 42 messages", "archived 7"}, loaded.Log)

	// A second save overwrites the first
	second := &services.ArchiveResult{RunID: "run-2", Success: false, Error: "boom"}
	assert.NoError(t, results.SaveArchiveResult(ctx, "user@example.com", second))
	loaded, err = results.LoadLastArchiveResult(ctx, "user@example.com")
	assert.NoError(t, err)
	assert.Equal(t, "run-2", loaded.RunID)
	assert.Equal(t, "boom", loaded.Error)

	// Other accounts are unaffected
	_, err = results.LoadLastArchiveResult(ctx, "other@example.com")
	assert.ErrorIs(t, err, ErrNoStoredResult)
}

func TestResultsStore_SaveValidation(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	results := NewResultsStore(store)

	err := results.SaveArchiveResult(ctx, "user@example.com", nil)
	assert.Error(t, err)

	var nilResults *ResultsStore
	err = nilResults.SaveArchiveResult(ctx, "user@example.com", &services.ArchiveResult{})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not initialized")
}

func TestResultsStore_ForAccount(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	results := NewResultsStore(store)

	sink := results.ForAccount("bound@example.com")
	assert.NoError(t, sink.SaveArchiveResult(ctx, &services.ArchiveResult{RunID: "bound-run"}))

	loaded, err := results.LoadLastArchiveResult(ctx, "bound@example.com")
	assert.NoError(t, err)
	assert.Equal(t, "bound-run", loaded.RunID)
}
