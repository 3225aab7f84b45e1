package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BetterCallFirewall/authlandscape/internal/models"
)

func TestMemoryStoreScanLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	scan := models.Scan{ScanID: "scan-1", Type: models.ScanSingle, Domain: "example.com"}
	require.NoError(t, s.SaveScan(ctx, scan))

	got, err := s.GetScan(ctx, "scan-1")
	require.NoError(t, err)
	assert.Equal(t, scan, got)

	_, err = s.GetScan(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreDeleteScanCascades(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.SaveScan(ctx, models.Scan{ScanID: "scan-1"}))
	require.NoError(t, s.SaveTask(ctx, models.Task{TaskID: "task-1", ScanID: "scan-1"}))
	require.NoError(t, s.SaveResult(ctx, models.TaskResult{TaskID: "task-1", ScanID: "scan-1"}))

	require.NoError(t, s.DeleteScan(ctx, "scan-1"))

	_, err := s.GetScan(ctx, "scan-1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetTask(ctx, "task-1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetResult(ctx, "task-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreListTasksByScan(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.SaveTask(ctx, models.Task{TaskID: "t1", ScanID: "scan-1"}))
	require.NoError(t, s.SaveTask(ctx, models.Task{TaskID: "t2", ScanID: "scan-1"}))
	require.NoError(t, s.SaveTask(ctx, models.Task{TaskID: "t3", ScanID: "scan-2"}))

	tasks, err := s.ListTasksByScan(ctx, "scan-1")
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
}

func TestMemoryStoreListStuckTasks(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	budget := 3 * time.Hour

	stuck := models.Task{TaskID: "stuck", RequestSent: now.Add(-4 * time.Hour)}
	fresh := models.Task{TaskID: "fresh", RequestSent: now.Add(-1 * time.Hour)}
	require.NoError(t, s.SaveTask(ctx, stuck))
	require.NoError(t, s.SaveTask(ctx, fresh))

	got, err := s.ListStuckTasks(ctx, now, budget)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "stuck", got[0].TaskID)
}

func TestMemoryStoreResultsByScanJoinsThroughTasks(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.SaveTask(ctx, models.Task{TaskID: "t1", ScanID: "scan-1"}))
	require.NoError(t, s.SaveResult(ctx, models.TaskResult{TaskID: "t1", Domain: "example.com"}))

	results, err := s.ListResultsByScan(ctx, "scan-1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "example.com", results[0].Domain)
}

func TestMemoryStoreTags(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	tag := models.ScanTag{TagName: models.LatestTag, ScanIDs: map[string]bool{"scan-1": true}}
	require.NoError(t, s.SaveTag(ctx, tag))

	got, err := s.GetTag(ctx, models.LatestTag)
	require.NoError(t, err)
	assert.True(t, got.ScanIDs["scan-1"])
}
