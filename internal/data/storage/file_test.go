package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songzhibin97/quantaguard/internal/models"
)

func sampleRecord(symbol string) models.TrackerRecord {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	expires := created.Add(15 * time.Minute)
	return models.TrackerRecord{
		Symbol:       symbol,
		Status:       models.StatusWaitingEntry,
		Side:         models.SideLong,
		EntryOrderID: "8389765",
		CreatedAt:    created,
		ExpiresAt:    &expires,
		StrategyTag:  "trend",
		ATRAtEntry:   12.5,
	}
}

func TestFileStorage(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "trackers.json")

	store, err := NewFileStorage(path)
	require.NoError(t, err)

	records, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)

	btc := sampleRecord("BTCUSDT")
	eth := sampleRecord("ETHUSDT")
	eth.Status = models.StatusSecured
	eth.ExpiresAt = nil

	require.NoError(t, store.Put(ctx, btc))
	require.NoError(t, store.Put(ctx, eth))

	btc.Status = models.StatusPendingSafety
	require.NoError(t, store.Put(ctx, btc))

	// a fresh instance sees exactly what was written
	reopened, err := NewFileStorage(path)
	require.NoError(t, err)
	records, err = reopened.Load(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "BTCUSDT", records[0].Symbol)
	assert.Equal(t, models.StatusPendingSafety, records[0].Status)
	require.NotNil(t, records[0].ExpiresAt)
	assert.True(t, btc.ExpiresAt.Equal(*records[0].ExpiresAt))
	assert.Nil(t, records[1].ExpiresAt)
	assert.Equal(t, 12.5, records[1].ATRAtEntry)

	require.NoError(t, reopened.Delete(ctx, "BTCUSDT"))
	require.NoError(t, reopened.Delete(ctx, "UNKNOWN"))

	records, err = reopened.Load(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "ETHUSDT", records[0].Symbol)

	// no temp files survive a successful write
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileStorage_FailedWriteKeepsPrevious(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "trackers.json")

	store, err := NewFileStorage(path)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, sampleRecord("BTCUSDT")))

	before, err := os.ReadFile(path)
	require.NoError(t, err)

	// a directory in place of the target makes rename fail
	require.NoError(t, os.Remove(path))
	require.NoError(t, os.Mkdir(path, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(path, "keep"), nil, 0o644))

	err = store.Put(ctx, sampleRecord("ETHUSDT"))
	assert.Error(t, err)

	records, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "BTCUSDT", records[0].Symbol)

	require.NoError(t, os.RemoveAll(path))
	require.NoError(t, os.WriteFile(path, before, 0o644))
	require.NoError(t, store.Put(ctx, sampleRecord("ETHUSDT")))

	reopened, err := NewFileStorage(path)
	require.NoError(t, err)
	records, err = reopened.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestFileStorage_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trackers.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	store, err := NewFileStorage(path)
	require.NoError(t, err)

	_, err = store.Load(context.Background())
	assert.Error(t, err)
}
