package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/BetterCallFirewall/authlandscape/internal/models"
	"github.com/BetterCallFirewall/authlandscape/internal/nestedalter"
)

// HandleReply implements §4.9 "Reply handling": timestamp/transition the
// task, attach its list rank if known, offload well-known large artifacts
// to the blob store (§9 nested-alter), and persist the rewritten document.
// body is the raw JSON a worker PUT to this task's reply_to URL.
func (d *Dispatcher) HandleReply(ctx context.Context, taskID string, body []byte) error {
	task, err := d.Store.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("dispatcher: handle reply for unknown task %s: %w", taskID, err)
	}

	now := d.now()
	task.State = models.TaskResponseReceived
	task.ResponseReceived = &now

	if rank, ok, err := d.Store.RankOf(ctx, task.ScanID, task.Domain); err == nil && ok {
		task.Rank = &rank
	}

	offloaded, err := d.offload(ctx, task.Domain, body)
	if err != nil {
		return fmt.Errorf("dispatcher: offload artifacts for task %s: %w", taskID, err)
	}

	var result models.TaskResult
	if err := json.Unmarshal(offloaded, &result); err != nil {
		return fmt.Errorf("dispatcher: decode result for task %s: %w", taskID, err)
	}
	result.TaskID = task.TaskID
	result.ScanID = task.ScanID
	result.Rank = task.Rank

	if err := d.Store.SaveTask(ctx, task); err != nil {
		return fmt.Errorf("dispatcher: save task %s after reply: %w", taskID, err)
	}
	if err := d.Store.SaveResult(ctx, result); err != nil {
		return fmt.Errorf("dispatcher: save result for task %s: %w", taskID, err)
	}
	d.notify(task)
	return nil
}

// offload runs the §9 nested-alter traversal over body when a blob store is
// configured; without one (e.g. tests exercising reply routing in
// isolation), artifacts are persisted inline.
func (d *Dispatcher) offload(ctx context.Context, domain string, body []byte) ([]byte, error) {
	if d.Blob == nil {
		return body, nil
	}
	return nestedalter.Offload(ctx, d.Blob, domain, body)
}
