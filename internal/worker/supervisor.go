package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/BetterCallFirewall/authlandscape/internal/models"
)

// ProcessSupervisor runs one task per invocation of a child process: the
// worker binary itself, re-invoked with a hidden subcommand that reads a
// Task as JSON on stdin and writes a TaskResult as JSON on stdout. This
// gives the §5 "per-task isolation" its literal meaning — a crashing
// browser engine takes down the child, not cmd/worker's consume loop —
// using only os/exec, the way internal/git's helpers in the Cortex example
// repo shell out to isolate a subprocess's failure from the caller.
type ProcessSupervisor struct {
	// ExecutablePath is the worker binary's own path (os.Executable()).
	ExecutablePath string
	// Subcommand is the hidden subcommand name the child recognizes
	// (cmd/worker registers "run-task").
	Subcommand string
	// ConfigPath is passed through to the child so it loads the same
	// IdP ruleset / scan-config file as the parent.
	ConfigPath string
}

// Run starts the child process, writes task as JSON to its stdin, and
// waits for a TaskResult on stdout. If ctx is cancelled (the wall-time cap
// in the caller's context.WithTimeout expired), the child is killed and
// Run returns a result carrying the Process-timeout exception instead of
// an error, matching §4.8 ("On timeout, kill the child and attach
// {"exception":"Process timeout"} as the result" — not a transport error).
func (s *ProcessSupervisor) Run(ctx context.Context, task models.Task) (*models.TaskResult, error) {
	body, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("worker: marshal task: %w", err)
	}

	args := []string{s.Subcommand}
	if s.ConfigPath != "" {
		args = append(args, "--config", s.ConfigPath)
	}
	cmd := exec.CommandContext(ctx, s.ExecutablePath, args...)
	cmd.Stdin = bytes.NewReader(body)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	if ctx.Err() == context.DeadlineExceeded {
		return &models.TaskResult{
			TaskID:    task.TaskID,
			ScanID:    task.ScanID,
			Domain:    task.Domain,
			Exception: ExceptionProcessTimeout,
		}, nil
	}

	if runErr != nil {
		return &models.TaskResult{
			TaskID:    task.TaskID,
			ScanID:    task.ScanID,
			Domain:    task.Domain,
			Exception: fmt.Sprintf("%v: %s", runErr, stderr.String()),
		}, nil
	}

	var result models.TaskResult
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return &models.TaskResult{
			TaskID:    task.TaskID,
			ScanID:    task.ScanID,
			Domain:    task.Domain,
			Exception: fmt.Sprintf("worker: decode child result: %v", err),
		}, nil
	}
	return &result, nil
}

var _ TaskRunner = (*ProcessSupervisor)(nil)
