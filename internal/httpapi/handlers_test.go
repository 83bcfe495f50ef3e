package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"weave/internal/pipeline"
	"weave/internal/stages"
	"weave/internal/store"
)

func noop(ctx context.Context, s pipeline.State, emit func(pipeline.Event)) (pipeline.Command, error) {
	return pipeline.Command{}, nil
}

func passthroughOrchestrator() *stages.Orchestrator {
	return &stages.Orchestrator{
		Preprocess:   noop,
		Wakeup:       noop,
		Tools:        noop,
		Activity:     noop,
		Vision:       noop,
		Knowledge:    noop,
		Agents:       noop,
		Summarize:    noop,
		Afterthought: noop,
		Autotools:    noop,
		Cleanup:      noop,
	}
}

func TestRunEndpointAcceptsEmptyBody(t *testing.T) {
	srv := NewServer(passthroughOrchestrator(), store.NewMemCheckpointer(), "t1")

	req := httptest.NewRequest(http.MethodPost, "/run", bytes.NewReader(nil))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
}

func TestRunEndpointAcceptsChannelUpdates(t *testing.T) {
	srv := NewServer(passthroughOrchestrator(), store.NewMemCheckpointer(), "t1")

	body := bytes.NewReader([]byte(`{"history":{"channel_updates":{"c1":{"name":"general"}}}}`))
	req := httptest.NewRequest(http.MethodPost, "/run", body)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestWakeupEndpointAlwaysFires(t *testing.T) {
	srv := NewServer(passthroughOrchestrator(), store.NewMemCheckpointer(), "t1")

	req := httptest.NewRequest(http.MethodGet, "/wakeup/c1", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestToolUpdatesEndpointRejectsMalformedBody(t *testing.T) {
	srv := NewServer(passthroughOrchestrator(), store.NewMemCheckpointer(), "t1")

	req := httptest.NewRequest(http.MethodPost, "/channels/c1/tool-updates", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUsageEndpointReturnsSnapshot(t *testing.T) {
	srv := NewServer(passthroughOrchestrator(), store.NewMemCheckpointer(), "t1")

	req := httptest.NewRequest(http.MethodGet, "/usage", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		Timestamp int64 `json:"timestamp"`
		Models    []struct {
			Model string `json:"model"`
		} `json:"models"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Greater(t, body.Timestamp, int64(0))
}

func TestUsageEndpointRejectsInvalidWindow(t *testing.T) {
	srv := NewServer(passthroughOrchestrator(), store.NewMemCheckpointer(), "t1")

	req := httptest.NewRequest(http.MethodGet, "/usage?window_seconds=not-a-number", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}
