package dispatcher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BetterCallFirewall/authlandscape/internal/models"
	"github.com/BetterCallFirewall/authlandscape/internal/store"
)

func TestRescanErroredRepublishesAndDeletesPrior(t *testing.T) {
	mem := store.NewMemoryStore()
	pub := &recordingPublisher{}
	ctx := context.Background()

	require.NoError(t, mem.SaveScan(ctx, models.Scan{ScanID: "scan-1", Type: models.ScanSingle, Domain: "a.com", AnalyzerName: "landscape_analysis"}))
	require.NoError(t, mem.SaveTask(ctx, models.Task{TaskID: "task-old", ScanID: "scan-1", Domain: "a.com", State: models.TaskResponseReceived}))
	require.NoError(t, mem.SaveResult(ctx, models.TaskResult{TaskID: "task-old", ScanID: "scan-1", Domain: "a.com", Exception: "Process timeout"}))

	d := &Dispatcher{Store: mem, Broker: pub, ReplyBaseURL: "http://dispatcher.test/reply"}

	count, err := d.RescanErrored(ctx, "scan-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = mem.GetTask(ctx, "task-old")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = mem.GetResult(ctx, "task-old")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.Len(t, pub.published, 1)
	tasks, err := mem.ListTasksByScan(ctx, "scan-1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.NotEqual(t, "task-old", tasks[0].TaskID)
	assert.Equal(t, "a.com", tasks[0].Domain)
}

func TestRescanErroredSkipsResultsWithoutException(t *testing.T) {
	mem := store.NewMemoryStore()
	pub := &recordingPublisher{}
	ctx := context.Background()

	require.NoError(t, mem.SaveScan(ctx, models.Scan{ScanID: "scan-2", Type: models.ScanSingle, Domain: "b.com"}))
	require.NoError(t, mem.SaveTask(ctx, models.Task{TaskID: "task-ok", ScanID: "scan-2", Domain: "b.com"}))
	require.NoError(t, mem.SaveResult(ctx, models.TaskResult{TaskID: "task-ok", ScanID: "scan-2", Domain: "b.com"}))

	d := &Dispatcher{Store: mem, Broker: pub, ReplyBaseURL: "http://dispatcher.test/reply"}
	count, err := d.RescanErrored(ctx, "scan-2")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Empty(t, pub.published)
}

func TestPruneDuplicatesIsANoopWhenStoreAlreadyEnforcesOneResultPerTask(t *testing.T) {
	mem := store.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, mem.SaveTask(ctx, models.Task{TaskID: "task-dup", ScanID: "scan-3", Domain: "c.com"}))
	require.NoError(t, mem.SaveResult(ctx, models.TaskResult{TaskID: "task-dup", ScanID: "scan-3", Domain: "c.com"}))

	d := &Dispatcher{Store: mem}
	pruned, err := d.PruneDuplicates(ctx, "scan-3")
	require.NoError(t, err)
	assert.Equal(t, 0, pruned, "MemoryStore.SaveResult upserts by task_id, so no group ever exceeds size 1")
}

func TestDeleteScanRemovesBlobsAndStoreEntries(t *testing.T) {
	mem := store.NewMemoryStore()
	blob := newMemoryBlobStore()
	ctx := context.Background()

	require.NoError(t, mem.SaveScan(ctx, models.Scan{ScanID: "scan-4", Type: models.ScanSingle, Domain: "d.com"}))
	require.NoError(t, mem.SaveTask(ctx, models.Task{TaskID: "task-4", ScanID: "scan-4", Domain: "d.com"}))
	require.NoError(t, blob.Put(ctx, "metadata-data", "d.com/meta.json", []byte(`{}`), "application/json"))
	require.NoError(t, mem.SaveResult(ctx, models.TaskResult{
		TaskID:       "task-4",
		ScanID:       "scan-4",
		Domain:       "d.com",
		MetadataData: models.NewBlobReference("metadata-data", "d.com/meta.json", "json"),
	}))

	d := &Dispatcher{Store: mem, Blob: blob}
	require.NoError(t, d.DeleteScan(ctx, "scan-4"))

	_, err := mem.GetScan(ctx, "scan-4")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = mem.GetResult(ctx, "task-4")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, _, err = blob.Get(ctx, "metadata-data", "d.com/meta.json")
	require.NoError(t, err)
	assert.Nil(t, blob.objects[blob.key("metadata-data", "d.com/meta.json")])
}

func TestAddTagAndRemoveTag(t *testing.T) {
	mem := store.NewMemoryStore()
	ctx := context.Background()
	d := &Dispatcher{Store: mem}

	require.NoError(t, d.AddTag(ctx, models.LatestTag, "scan-5"))
	tag, err := mem.GetTag(ctx, models.LatestTag)
	require.NoError(t, err)
	assert.True(t, tag.ScanIDs["scan-5"])

	require.NoError(t, d.AddTag(ctx, models.LatestTag, "scan-6"))
	require.NoError(t, d.RemoveTag(ctx, models.LatestTag, "scan-5"))

	tag, err = mem.GetTag(ctx, models.LatestTag)
	require.NoError(t, err)
	assert.False(t, tag.ScanIDs["scan-5"])
	assert.True(t, tag.ScanIDs["scan-6"])
}

func TestRemoveTagOnUnknownTagIsANoop(t *testing.T) {
	mem := store.NewMemoryStore()
	d := &Dispatcher{Store: mem}

	err := d.RemoveTag(context.Background(), "never-created", "scan-x")
	require.NoError(t, err)
}
