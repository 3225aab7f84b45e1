package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BetterCallFirewall/authlandscape/internal/models"
	"github.com/BetterCallFirewall/authlandscape/internal/store"
)

type recordingPublisher struct {
	published []publishedMessage
	failNext  bool
}

type publishedMessage struct {
	queue, replyTo, correlationID string
	value                         any
}

func (p *recordingPublisher) PublishJSON(_ context.Context, queue, replyTo, correlationID string, v any) error {
	if p.failNext {
		p.failNext = false
		return assert.AnError
	}
	p.published = append(p.published, publishedMessage{queue, replyTo, correlationID, v})
	return nil
}

func newTestDispatcher(pub Publisher) (*Dispatcher, *store.MemoryStore) {
	mem := store.NewMemoryStore()
	return &Dispatcher{
		Store:        mem,
		Broker:       pub,
		ReplyBaseURL: "http://dispatcher.test/reply",
		Clock:        func() time.Time { return time.Unix(1700000000, 0).UTC() },
	}, mem
}

func TestDispatchSingleScanPublishesAndSavesTask(t *testing.T) {
	pub := &recordingPublisher{}
	d, mem := newTestDispatcher(pub)

	scan := models.Scan{
		ScanID:       "scan-1",
		Type:         models.ScanSingle,
		Domain:       "example.com",
		AnalyzerName: "landscape_analysis",
	}

	tasks, err := d.Dispatch(context.Background(), scan)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	require.Len(t, pub.published, 1)
	assert.Equal(t, "landscape_analysis", pub.published[0].queue)
	assert.Equal(t, tasks[0].TaskID, pub.published[0].correlationID)
	assert.Equal(t, "http://dispatcher.test/reply/"+tasks[0].TaskID, pub.published[0].replyTo)

	saved, err := mem.GetTask(context.Background(), tasks[0].TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskRequestSent, saved.State)
	assert.Equal(t, "example.com", saved.Domain)

	savedScan, err := mem.GetScan(context.Background(), "scan-1")
	require.NoError(t, err)
	assert.Equal(t, scan.Domain, savedScan.Domain)
}

func TestDispatchRangeScanPublishesOnePerEntry(t *testing.T) {
	pub := &recordingPublisher{}
	d, mem := newTestDispatcher(pub)
	mem.SeedTopSites("top-1m", []models.TopSitesEntry{
		{ListID: "top-1m", Domain: "a.com", Rank: 1},
		{ListID: "top-1m", Domain: "b.com", Rank: 2},
	})

	scan := models.Scan{
		ScanID:       "scan-2",
		Type:         models.ScanRange,
		ListID:       "top-1m",
		Offset:       1,
		Limit:        2,
		AnalyzerName: "landscape_analysis",
	}

	tasks, err := d.Dispatch(context.Background(), scan)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.ElementsMatch(t, []string{"a.com", "b.com"}, []string{tasks[0].Domain, tasks[1].Domain})
}

func TestDispatchStopsOnPublishFailureAndDoesNotSaveThatTask(t *testing.T) {
	pub := &recordingPublisher{}
	d, mem := newTestDispatcher(pub)
	mem.SeedTopSites("top-1m", []models.TopSitesEntry{
		{ListID: "top-1m", Domain: "a.com", Rank: 1},
		{ListID: "top-1m", Domain: "b.com", Rank: 2},
	})
	pub.failNext = true

	scan := models.Scan{
		ScanID:       "scan-3",
		Type:         models.ScanRange,
		ListID:       "top-1m",
		Offset:       1,
		Limit:        2,
		AnalyzerName: "landscape_analysis",
	}

	published, err := d.Dispatch(context.Background(), scan)
	require.Error(t, err)
	assert.Empty(t, published)

	tasks, err := mem.ListTasksByScan(context.Background(), "scan-3")
	require.NoError(t, err)
	assert.Empty(t, tasks)
}
