package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BetterCallFirewall/authlandscape/internal/config"
	"github.com/BetterCallFirewall/authlandscape/internal/dispatcher"
	"github.com/BetterCallFirewall/authlandscape/internal/models"
	"github.com/BetterCallFirewall/authlandscape/internal/store"
)

func newTestHandler(t *testing.T, cfg *config.ProcessConfig) (http.HandlerFunc, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	require.NoError(t, mem.SaveTask(context.Background(), models.Task{TaskID: "task-1", ScanID: "scan-1", Domain: "example.com"}))
	d := &dispatcher.Dispatcher{Store: mem, ReplyBaseURL: "http://dispatcher.test/reply"}
	return replyHandler(d, cfg), mem
}

func TestReplyHandlerRejectsNonPUT(t *testing.T) {
	handler, _ := newTestHandler(t, &config.ProcessConfig{})
	srv := httptest.NewServer(handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/reply/task-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestReplyHandlerEnforcesBasicAuthWhenConfigured(t *testing.T) {
	handler, _ := newTestHandler(t, &config.ProcessConfig{ReplyBasicAuthUser: "worker", ReplyBasicAuthPass: "secret"})
	srv := httptest.NewServer(handler)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/reply/task-1", bytes.NewReader([]byte(`{}`)))
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestReplyHandlerAcceptsValidReply(t *testing.T) {
	handler, mem := newTestHandler(t, &config.ProcessConfig{})
	srv := httptest.NewServer(handler)
	defer srv.Close()

	body := []byte(`{"task_id":"task-1","scan_id":"scan-1","domain":"example.com"}`)
	req, err := http.NewRequest(http.MethodPut, srv.URL+"/reply/task-1", bytes.NewReader(body))
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, err = mem.GetResult(req.Context(), "task-1")
	require.NoError(t, err)
}
