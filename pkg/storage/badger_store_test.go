package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/folioworks/asset-sync/pkg/models"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	store, err := NewBadgerStore(t.TempDir(), false, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNewBadgerStore(t *testing.T) {
	t.Run("fresh store has zero count", func(t *testing.T) {
		store := newTestStore(t)
		count, err := store.GetAssetCount()
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})

	t.Run("reopen preserves data", func(t *testing.T) {
		dir := t.TempDir()
		store1, err := NewBadgerStore(dir, false, testLogger())
		require.NoError(t, err)
		require.NoError(t, store1.UpdateAssetStatus("projects", "sample-heroImage-A", &models.AssetDBEntry{Status: models.AssetStatusSuccess}))
		require.NoError(t, store1.Close())

		store2, err := NewBadgerStore(dir, false, testLogger())
		require.NoError(t, err)
		t.Cleanup(func() { store2.Close() })

		count, err := store2.GetAssetCount()
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("reset wipes data", func(t *testing.T) {
		dir := t.TempDir()
		store1, err := NewBadgerStore(dir, false, testLogger())
		require.NoError(t, err)
		require.NoError(t, store1.UpdateAssetStatus("projects", "sample-heroImage-A", &models.AssetDBEntry{Status: models.AssetStatusSuccess}))
		require.NoError(t, store1.Close())

		store2, err := NewBadgerStore(dir, true, testLogger())
		require.NoError(t, err)
		t.Cleanup(func() { store2.Close() })

		count, err := store2.GetAssetCount()
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})
}

func TestCheckAssetStatus_NotFound(t *testing.T) {
	store := newTestStore(t)

	status, entry, err := store.CheckAssetStatus("projects", "missing")

	require.NoError(t, err)
	assert.Equal(t, models.AssetStatusNotFound, status)
	assert.Nil(t, entry)
}

func TestUpdateAndCheckAssetStatus(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().Truncate(time.Second).UTC()
	entry := &models.AssetDBEntry{
		Status:      models.AssetStatusSuccess,
		FileID:      "FILEID123",
		SourceURL:   "https://drive.example/file/d/FILEID123/view",
		LocalPath:   "projects/sample-thumbnailImage-FILEID123.png",
		Bytes:       520,
		SHA256:      "deadbeef",
		RunID:       "run-1",
		LastAttempt: now,
	}

	require.NoError(t, store.UpdateAssetStatus("projects", "sample-thumbnailImage-FILEID123", entry))

	status, got, err := store.CheckAssetStatus("projects", "sample-thumbnailImage-FILEID123")
	require.NoError(t, err)
	assert.Equal(t, models.AssetStatusSuccess, status)
	require.NotNil(t, got)
	assert.Equal(t, *entry, *got)

	// Overwrite does not change the count
	entry.Status = models.AssetStatusSkipped
	require.NoError(t, store.UpdateAssetStatus("projects", "sample-thumbnailImage-FILEID123", entry))
	count, _ := store.GetAssetCount()
	assert.Equal(t, 1, count)

	status, _, err = store.CheckAssetStatus("projects", "sample-thumbnailImage-FILEID123")
	require.NoError(t, err)
	assert.Equal(t, models.AssetStatusSkipped, status)
}

func TestNamespacesAreSeparate(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.UpdateAssetStatus("projects", "x", &models.AssetDBEntry{Status: models.AssetStatusFailure}))

	status, _, err := store.CheckAssetStatus("pages", "x")
	require.NoError(t, err)
	assert.Equal(t, models.AssetStatusNotFound, status)
}

func TestWriteAssetLog(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.UpdateAssetStatus("projects", "a", &models.AssetDBEntry{
		Status: models.AssetStatusSuccess, FileID: "A", LocalPath: "projects/a.png", Bytes: 10,
	}))
	require.NoError(t, store.UpdateAssetStatus("projects", "b", &models.AssetDBEntry{
		Status: models.AssetStatusFailure, FileID: "B", ErrorType: "HTTP_5xx",
	}))

	path := filepath.Join(t.TempDir(), "assets.tsv")
	require.NoError(t, store.WriteAssetLog(context.Background(), path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "projects/a\tsuccess\tA\tprojects/a.png\t\t10", lines[0])
	assert.Equal(t, "projects/b\tfailure\tB\t\tHTTP_5xx\t0", lines[1])
}

func TestWriteAssetLog_Cancelled(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.UpdateAssetStatus("projects", "a", &models.AssetDBEntry{Status: models.AssetStatusSuccess}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.WriteAssetLog(ctx, filepath.Join(t.TempDir(), "assets.tsv"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunGC_StopsOnCancel(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		store.RunGC(ctx, 10*time.Millisecond)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunGC did not stop after cancel")
	}
}

func TestStartGC_StopWaitsBeforeClose(t *testing.T) {
	store, err := NewBadgerStore(t.TempDir(), false, testLogger())
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		require.NoError(t, store.UpdateAssetStatus("projects", fmt.Sprintf("asset-%d", i), &models.AssetDBEntry{Status: models.AssetStatusSuccess}))
	}

	stop := store.StartGC(context.Background(), time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("stop did not return")
	}
	assert.NoError(t, store.Close())
}

func TestStartGC_ParentCancelStopsToo(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	stop := store.StartGC(ctx, 5*time.Millisecond)
	cancel()

	stopped := make(chan struct{})
	go func() {
		stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not return after parent cancel")
	}
}

func TestClose_Idempotent(t *testing.T) {
	store, err := NewBadgerStore(t.TempDir(), false, testLogger())
	require.NoError(t, err)
	assert.NoError(t, store.Close())
	assert.NoError(t, store.Close())
}
