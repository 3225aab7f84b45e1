package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/BetterCallFirewall/authlandscape/internal/broker"
	"github.com/BetterCallFirewall/authlandscape/internal/logging"
	"github.com/BetterCallFirewall/authlandscape/internal/models"
)

// ReplyAuth carries the HTTP Basic credentials the worker presents when
// PUTting a result back to the dispatcher (§4.8).
type ReplyAuth struct {
	User string
	Pass string
}

// Runtime is the consume-run-reply loop described by §4.8: prefetch=1 (one
// in-flight task per process, enforced by broker.Dial's Qos(1,0,false)),
// a hard wall-time cap per task, and capped-exponential-backoff retry on
// the reply PUT before acking the broker message regardless of outcome
// (poison-pill avoidance, §7).
type Runtime struct {
	Broker         *broker.Broker
	Queue          string
	Runner         TaskRunner
	HTTP           *http.Client
	Auth           ReplyAuth
	WallTimeBudget time.Duration
	Log            *logging.Logger

	// MaxReplyAttempts bounds the reply PUT retry loop (§4.8 "up to a
	// bounded number of attempts"); defaults to 5 if zero.
	MaxReplyAttempts int
	// ReplyBackoff is the base delay doubled on each retry, capped at
	// ReplyBackoffCap; defaults to 1s/30s if zero.
	ReplyBackoff    time.Duration
	ReplyBackoffCap time.Duration
}

func (r *Runtime) log() *logging.Logger {
	if r.Log == nil {
		return logging.New(logging.LevelInfo)
	}
	return r.Log
}

// Consume processes deliveries from Queue on the already-dialed Broker
// until ctx is cancelled. It does not reconnect itself: it exits when ctx
// is done or the underlying delivery channel closes because the connection
// died, and the caller redials and calls Consume again (§4.8 "a loop
// reconnects and resumes consumption").
func (r *Runtime) Consume(ctx context.Context) error {
	deliveries, err := r.Broker.Consume(ctx, r.Queue)
	if err != nil {
		return fmt.Errorf("worker: consume %s: %w", r.Queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return nil
			}
			r.handle(ctx, delivery)
		}
	}
}

func (r *Runtime) handle(ctx context.Context, delivery broker.Delivery) {
	var task models.Task
	if err := json.Unmarshal(delivery.Body, &task); err != nil {
		r.log().Errorf("worker: malformed task on %s: %v", r.Queue, err)
		_ = delivery.Ack()
		return
	}

	now := time.Now()
	task.State = models.TaskRequestReceived
	task.RequestReceived = &now
	r.log().Infof("worker: received task %s (%s)", task.TaskID, task.Domain)

	budget := r.WallTimeBudget
	if budget <= 0 {
		budget = 3 * time.Hour
	}
	taskCtx, cancel := context.WithTimeout(ctx, budget)
	result, err := r.Runner.Run(taskCtx, task)
	timedOut := taskCtx.Err() == context.DeadlineExceeded
	cancel()
	switch {
	case timedOut:
		result = &models.TaskResult{TaskID: task.TaskID, ScanID: task.ScanID, Domain: task.Domain, Exception: ExceptionProcessTimeout}
	case err != nil:
		result = &models.TaskResult{TaskID: task.TaskID, ScanID: task.ScanID, Domain: task.Domain, Exception: err.Error()}
	}

	sent := time.Now()
	task.State = models.TaskResponseSent
	task.ResponseSent = &sent

	r.reply(ctx, delivery, *result)
	_ = delivery.Ack()
}

// reply PUTs result to delivery.ReplyTo with capped exponential backoff.
// The broker message is acked by the caller regardless of whether the PUT
// ultimately succeeded (§4.8, §7 "Reply failure").
func (r *Runtime) reply(ctx context.Context, delivery broker.Delivery, result models.TaskResult) {
	body, err := json.Marshal(result)
	if err != nil {
		r.log().Errorf("worker: marshal result for %s: %v", result.TaskID, err)
		return
	}

	maxAttempts := r.MaxReplyAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	backoff := r.ReplyBackoff
	if backoff <= 0 {
		backoff = time.Second
	}
	cap := r.ReplyBackoffCap
	if cap <= 0 {
		cap = 30 * time.Second
	}

	client := r.HTTP
	if client == nil {
		client = http.DefaultClient
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoff << uint(attempt-1)
			if delay > cap {
				delay = cap
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPut, delivery.ReplyTo, bytes.NewReader(body))
		if err != nil {
			lastErr = err
			continue
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Correlation-ID", delivery.CorrelationID)
		if r.Auth.User != "" {
			req.SetBasicAuth(r.Auth.User, r.Auth.Pass)
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return
		}
		lastErr = fmt.Errorf("reply PUT returned status %d", resp.StatusCode)
	}

	r.log().Errorf("worker: reply for task %s exhausted %d attempts, acking anyway: %v", result.TaskID, maxAttempts, lastErr)
}
