package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BetterCallFirewall/authlandscape/internal/broker"
	"github.com/BetterCallFirewall/authlandscape/internal/models"
)

type fakeRunner struct {
	result *models.TaskResult
	err    error
	delay  time.Duration
}

func (f *fakeRunner) Run(ctx context.Context, task models.Task) (*models.TaskResult, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func TestHandlePublishesResultAndAcks(t *testing.T) {
	var received models.TaskResult
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "u", user)
		assert.Equal(t, "p", pass)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	runtime := &Runtime{
		Runner: &fakeRunner{result: &models.TaskResult{TaskID: "t1", ScanID: "s1", Domain: "example.com"}},
		HTTP:   srv.Client(),
		Auth:   ReplyAuth{User: "u", Pass: "p"},
	}

	taskBody, _ := json.Marshal(models.Task{TaskID: "t1", ScanID: "s1", Domain: "example.com"})
	acked := false
	delivery := broker.NewDelivery(taskBody, srv.URL, "t1",
		func() error { acked = true; return nil },
		func(bool) error { return nil })

	runtime.handle(context.Background(), delivery)

	assert.True(t, acked)
	assert.Equal(t, "t1", received.TaskID)
	assert.Equal(t, "example.com", received.Domain)
}

func TestHandleWallTimeCapProducesProcessTimeoutException(t *testing.T) {
	var received models.TaskResult
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	runtime := &Runtime{
		Runner:         &fakeRunner{delay: 50 * time.Millisecond, result: &models.TaskResult{}},
		HTTP:           srv.Client(),
		WallTimeBudget: 5 * time.Millisecond,
	}

	taskBody, _ := json.Marshal(models.Task{TaskID: "t2", ScanID: "s2", Domain: "slow.example"})
	delivery := broker.NewDelivery(taskBody, srv.URL, "t2", func() error { return nil }, func(bool) error { return nil })

	runtime.handle(context.Background(), delivery)

	assert.Equal(t, "t2", received.TaskID)
	assert.Equal(t, ExceptionProcessTimeout, received.Exception)
}

func TestReplyRetriesThenGivesUpAndCallerStillAcks(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	runtime := &Runtime{
		Runner:           &fakeRunner{result: &models.TaskResult{TaskID: "t3"}},
		HTTP:             srv.Client(),
		MaxReplyAttempts: 3,
		ReplyBackoff:     time.Millisecond,
		ReplyBackoffCap:  2 * time.Millisecond,
	}

	taskBody, _ := json.Marshal(models.Task{TaskID: "t3"})
	acked := false
	delivery := broker.NewDelivery(taskBody, srv.URL, "t3", func() error { acked = true; return nil }, func(bool) error { return nil })

	runtime.handle(context.Background(), delivery)

	assert.True(t, acked)
	assert.Equal(t, 3, attempts)
}
