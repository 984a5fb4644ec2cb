package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	httpadapter "github.com/couchcryptid/storm-geo-poller/internal/adapter/http"
	"github.com/couchcryptid/storm-geo-poller/internal/domain"
	"github.com/couchcryptid/storm-geo-poller/internal/poller"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

type mockSource struct {
	mu         sync.Mutex
	state      poller.State
	refetchErr error
	refetches  int
	enabled    []bool
}

func (m *mockSource) State() poller.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *mockSource) Refetch(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refetches++
	if m.refetchErr != nil {
		return m.refetchErr
	}
	m.state.Status = poller.StatusSuccess
	return nil
}

func (m *mockSource) SetEnabled(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = append(m.enabled, on)
}

var lastSuccess = time.Date(2024, time.April, 26, 15, 10, 0, 0, time.UTC)

func newTestServer(readyErr error, src *mockSource) *httpadapter.Server {
	if src == nil {
		src = &mockSource{}
	}
	return httpadapter.NewServer(":0", &mockReadiness{err: readyErr}, src, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func serve(srv *httpadapter.Server, method, path string, body io.Reader) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(method, path, body))
	return rec
}

func TestHealthzReturns200(t *testing.T) {
	rec := serve(newTestServer(nil, nil), http.MethodGet, "/healthz", nil)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	rec := serve(newTestServer(nil, nil), http.MethodGet, "/readyz", nil)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ready", body["status"])
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	rec := serve(newTestServer(fmt.Errorf("no successful fetch yet"), nil), http.MethodGet, "/readyz", nil)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not ready", body["status"])
	assert.Equal(t, "no successful fetch yet", body["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	rec := serve(newTestServer(nil, nil), http.MethodGet, "/metrics", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

type eventsBody struct {
	Status      string            `json:"status"`
	Stale       bool              `json:"stale"`
	Enabled     bool              `json:"enabled"`
	Error       string            `json:"error"`
	LastSuccess *time.Time        `json:"lastSuccess"`
	Count       int               `json:"count"`
	Events      []domain.GeoEvent `json:"events"`
	Backoff     struct {
		Attempt int `json:"attempt"`
	} `json:"backoff"`
}

func TestEventsServesStaleRenderSet(t *testing.T) {
	src := &mockSource{state: poller.State{
		Status:      poller.StatusError,
		Err:         errors.New("feed error: status 503"),
		Stale:       true,
		Enabled:     true,
		LastSuccess: lastSuccess,
		Backoff:     poller.BackoffState{Attempt: 2, NextDelay: 4 * time.Second},
		Filtered: []domain.GeoEvent{
			{ID: "a", Lat: 1, Lng: 2, Category: "major", Magnitude: 5.5},
			{ID: "b", Lat: 3, Lng: 4, Category: "minor", Magnitude: 2.1},
		},
	}}

	rec := serve(newTestServer(nil, src), http.MethodGet, "/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body eventsBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "error", body.Status)
	assert.True(t, body.Stale)
	assert.True(t, body.Enabled)
	assert.Equal(t, "feed error: status 503", body.Error)
	require.NotNil(t, body.LastSuccess)
	assert.True(t, lastSuccess.Equal(*body.LastSuccess))
	assert.Equal(t, 2, body.Backoff.Attempt)
	assert.Equal(t, 2, body.Count)
	require.Len(t, body.Events, 2)
	assert.Equal(t, "a", body.Events[0].ID)
}

func TestEventsBeforeFirstFetch(t *testing.T) {
	rec := serve(newTestServer(nil, &mockSource{state: poller.State{Status: poller.StatusIdle}}), http.MethodGet, "/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Contains(t, rec.Body.String(), `"events":[]`)
	assert.NotContains(t, rec.Body.String(), "lastSuccess")
	assert.NotContains(t, rec.Body.String(), `"error"`)
}

func TestRefetchReturnsNewState(t *testing.T) {
	src := &mockSource{}
	rec := serve(newTestServer(nil, src), http.MethodPost, "/refetch", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, src.refetches)

	var body eventsBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "success", body.Status)
}

func TestRefetchErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"closed", poller.ErrClosed, http.StatusServiceUnavailable},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(newTestServer(nil, &mockSource{refetchErr: tt.err}), http.MethodPost, "/refetch", nil)
			assert.Equal(t, tt.want, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.err.Error())
		})
	}
}

func TestRefetchRejectsGet(t *testing.T) {
	src := &mockSource{}
	rec := serve(newTestServer(nil, src), http.MethodGet, "/refetch", nil)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Zero(t, src.refetches)
}

func TestPollingToggle(t *testing.T) {
	src := &mockSource{}
	srv := newTestServer(nil, src)

	rec := serve(srv, http.MethodPut, "/polling", strings.NewReader(`{"enabled":false}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"enabled":false}`, rec.Body.String())

	rec = serve(srv, http.MethodPut, "/polling", strings.NewReader(`{"enabled":true}`))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, []bool{false, true}, src.enabled)
}

func TestPollingRejectsBadBody(t *testing.T) {
	src := &mockSource{}
	srv := newTestServer(nil, src)

	for _, body := range []string{``, `{}`, `{"enabled":"yes"}`, `not json`} {
		rec := serve(srv, http.MethodPut, "/polling", strings.NewReader(body))
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %q", body)
	}
	assert.Empty(t, src.enabled)
}
