// Package worker implements the §4.8 worker runtime (C8): consume one task
// at a time from a named broker queue, run it to completion inside an
// isolated child process bounded by a wall-time cap, and PUT the result
// back to the dispatcher's reply_to URL with retrying HTTP basic auth.
// Grounded in original_source's landscape-worker/worker.py (the
// consume/process/reply loop) and passkey-worker's process-pool task
// supervisor (the per-task child isolation).
package worker

import (
	"context"

	"github.com/BetterCallFirewall/authlandscape/internal/models"
)

// TaskRunner executes one task to completion and returns its TaskResult.
// The production implementation (ProcessSupervisor) isolates each call in
// a child OS process so a browser-engine crash cannot take down the
// consumer loop (§5 "per-task isolation... design requirement, not a
// performance optimization"); tests use a fake in-process runner.
type TaskRunner interface {
	Run(ctx context.Context, task models.Task) (*models.TaskResult, error)
}

// ExceptionProcessTimeout is the sentinel §4.8/§7 attaches to a result when
// the wall-time cap expires: {"exception":"Process timeout"}.
const ExceptionProcessTimeout = "Process timeout"
