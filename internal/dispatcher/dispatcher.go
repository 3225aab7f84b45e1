package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/BetterCallFirewall/authlandscape/internal/blobstore"
	"github.com/BetterCallFirewall/authlandscape/internal/models"
	"github.com/BetterCallFirewall/authlandscape/internal/store"
)

// Publisher is the subset of broker.Broker the dispatcher needs; a narrow
// interface so tests can substitute a recording fake instead of a live
// RabbitMQ connection.
type Publisher interface {
	PublishJSON(ctx context.Context, queue, replyTo, correlationID string, v any) error
}

// ProgressBroadcaster is the subset of websocket.Hub the dispatcher needs to
// announce task lifecycle transitions to a live admin connection, narrowed
// so tests don't need a real Hub. nil is a valid Dispatcher.Progress value
// (no observer attached).
type ProgressBroadcaster interface {
	BroadcastTransition(taskID, scanID, domain string, state models.TaskState)
}

// Dispatcher wires the document store, broker, and blob store together to
// implement §4.9's scan materialization, reply routing, and admin
// operations.
type Dispatcher struct {
	Store        store.Store
	Broker       Publisher
	Blob         blobstore.Store
	ReplyBaseURL string

	// Progress, if set, is notified of every task state transition this
	// Dispatcher makes (§9 "live progress... for a live admin view").
	Progress ProgressBroadcaster

	// Clock is overridable in tests; defaults to time.Now.
	Clock func() time.Time
}

func (d *Dispatcher) notify(task models.Task) {
	if d.Progress == nil {
		return
	}
	d.Progress.BroadcastTransition(task.TaskID, task.ScanID, task.Domain, task.State)
}

func (d *Dispatcher) now() time.Time {
	if d.Clock != nil {
		return d.Clock()
	}
	return time.Now()
}

// replyTo builds the per-task reply_to URL the worker PUTs its result to
// (§4.9, §6 "reply_to=<HTTP reply URL>").
func (d *Dispatcher) replyTo(taskID string) string {
	return fmt.Sprintf("%s/%s", d.ReplyBaseURL, taskID)
}

// Dispatch materializes scan, persists the scan document, then publishes
// and saves each task in turn (§4.9). A task is saved to the store only
// after its publish succeeds, so a broker failure for one domain in a
// `range` scan does not leave an orphaned REQUEST_SENT record for it.
func (d *Dispatcher) Dispatch(ctx context.Context, scan models.Scan) ([]models.Task, error) {
	if err := d.Store.SaveScan(ctx, scan); err != nil {
		return nil, fmt.Errorf("dispatcher: save scan %s: %w", scan.ScanID, err)
	}

	tasks, err := d.Materialize(ctx, scan)
	if err != nil {
		return nil, err
	}

	published := make([]models.Task, 0, len(tasks))
	for _, task := range tasks {
		if err := d.publishAndSave(ctx, &task); err != nil {
			return published, fmt.Errorf("dispatcher: dispatch task %s for scan %s: %w", task.TaskID, scan.ScanID, err)
		}
		published = append(published, task)
	}
	return published, nil
}

func (d *Dispatcher) publishAndSave(ctx context.Context, task *models.Task) error {
	now := d.now()
	task.RequestSent = now
	task.State = models.TaskRequestSent

	if err := d.Broker.PublishJSON(ctx, task.AnalyzerName, d.replyTo(task.TaskID), task.TaskID, task); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	if err := d.Store.SaveTask(ctx, *task); err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	d.notify(*task)
	return nil
}
