package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/ipprism/internal/analysis"
	apihandlers "github.com/anstrom/ipprism/internal/api/handlers"
	"github.com/anstrom/ipprism/internal/api/middleware"
	"github.com/anstrom/ipprism/internal/config"
	"github.com/anstrom/ipprism/internal/db"
	"github.com/anstrom/ipprism/internal/logging"
	"github.com/anstrom/ipprism/internal/metrics"
)

// MockDB provides a mock database for testing
type MockDB struct {
	mock.Mock
}

func (m *MockDB) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type stubStore struct {
	batches []db.Batch
}

func (s stubStore) ListBatches(context.Context) ([]db.Batch, error) { return s.batches, nil }
func (s stubStore) RecordsByBatches(context.Context, []int64) ([]db.IPRecord, error) {
	return []db.IPRecord{}, nil
}
func (s stubStore) DeleteBatch(context.Context, int64) error                       { return nil }
func (s stubStore) UpdateAnnotations(context.Context, int64, string, string) error { return nil }
func (s stubStore) DashboardStats(context.Context) (*db.DashboardStats, error) {
	return &db.DashboardStats{}, nil
}
func (s stubStore) RecurringAddresses(context.Context) (*db.Recurrence, error) {
	return &db.Recurrence{Records: []db.IPRecord{}}, nil
}
func (s stubStore) CompareBatches(context.Context, []int64) ([]db.ComparisonRow, error) {
	return []db.ComparisonRow{}, nil
}

// blockingRunner holds every run until it is cancelled.
type blockingRunner struct {
	started chan string
}

func (b *blockingRunner) Run(ctx context.Context, req analysis.Request, sink analysis.Sink) (*analysis.Outcome, error) {
	b.started <- req.Addresses[0]
	<-ctx.Done()
	return &analysis.Outcome{Status: analysis.StatusCancelled, Total: len(req.Addresses), Abandoned: len(req.Addresses)}, nil
}

func createTestConfig() *config.Config {
	cfg := config.Default()
	cfg.API.ListenAddr = "127.0.0.1"
	cfg.API.Port = 18080
	cfg.API.CORSOrigins = []string{"https://dashboard.example"}
	return cfg
}

func newTestServer(t *testing.T, deps Dependencies) (*Server, *httptest.Server) {
	t.Helper()
	if deps.Runner == nil {
		deps.Runner = &blockingRunner{started: make(chan string, 8)}
	}
	if deps.Store == nil {
		deps.Store = stubStore{}
	}
	deps.Logger = logging.NewDiscard()

	s, err := New(createTestConfig(), deps)
	require.NoError(t, err)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func TestNew(t *testing.T) {
	t.Run("requires runner and store", func(t *testing.T) {
		_, err := New(createTestConfig(), Dependencies{})
		assert.Error(t, err)
	})

	t.Run("address and timeouts from config", func(t *testing.T) {
		s, _ := newTestServer(t, Dependencies{})
		assert.Equal(t, "127.0.0.1:18080", s.GetAddress())
		assert.Equal(t, 15*time.Second, s.httpServer.ReadTimeout)
		assert.Equal(t, idleTimeout, s.httpServer.IdleTimeout)
	})
}

func TestServerRoutes(t *testing.T) {
	mockDB := &MockDB{}
	mockDB.On("Ping", mock.Anything).Return(nil)
	_, ts := newTestServer(t, Dependencies{
		Database: mockDB,
		Store:    stubStore{batches: []db.Batch{{ID: 1, SourceName: "fw.log"}}},
	})

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/", http.StatusOK},
		{http.MethodGet, "/api/v1/health", http.StatusOK},
		{http.MethodGet, "/api/v1/stats", http.StatusOK},
		{http.MethodGet, "/api/v1/account", http.StatusServiceUnavailable},
		{http.MethodGet, "/api/v1/scheduler", http.StatusNotFound},
		{http.MethodGet, "/api/v1/analyses", http.StatusOK},
		{http.MethodGet, "/api/v1/analyses/unknown", http.StatusNotFound},
		{http.MethodGet, "/api/v1/batches", http.StatusOK},
		{http.MethodGet, "/api/v1/batches/3/records", http.StatusOK},
		{http.MethodGet, "/api/v1/batches/recurring", http.StatusOK},
		{http.MethodGet, "/api/v1/batches/compare?batch=1&batch=2", http.StatusOK},
		{http.MethodGet, "/api/v1/batches/compare?batch=x", http.StatusBadRequest},
		{http.MethodGet, "/api/v1/batches/abc/records", http.StatusNotFound},
		{http.MethodDelete, "/api/v1/batches/3", http.StatusNoContent},
		{http.MethodGet, "/api/v1/records?batch=1&batch=2", http.StatusOK},
		{http.MethodPost, "/api/v1/batches", http.StatusMethodNotAllowed},
		{http.MethodGet, "/metrics", http.StatusNotFound},
		{http.MethodGet, "/nowhere", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, ts.URL+tt.path, nil)
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestServerMiddlewareChain(t *testing.T) {
	_, ts := newTestServer(t, Dependencies{})

	resp, err := http.Get(ts.URL + "/api/v1/batches")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.NotEmpty(t, resp.Header.Get(middleware.RequestIDHeader))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestServerRejectsNonJSONBodies(t *testing.T) {
	_, ts := newTestServer(t, Dependencies{})

	resp, err := http.Post(ts.URL+"/api/v1/analyses", "text/plain", strings.NewReader("10.0.0.1"))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestServerCORS(t *testing.T) {
	_, ts := newTestServer(t, Dependencies{})

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/v1/analyses", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://dashboard.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "https://dashboard.example", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), http.MethodPost)
}

func TestServerMetricsEndpoint(t *testing.T) {
	pm := metrics.NewPrometheusMetrics()
	_, ts := newTestServer(t, Dependencies{Registry: pm.GetRegistry(), Metrics: pm})

	resp, err := http.Get(ts.URL + "/api/v1/batches")
	require.NoError(t, err)
	_ = resp.Body.Close()

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `ipprism_api_requests_total{method="GET",path="/api/v1/batches",status="200"} 1`)
}

func TestServerAnalysisLifecycle(t *testing.T) {
	runner := &blockingRunner{started: make(chan string, 8)}
	s, ts := newTestServer(t, Dependencies{Runner: runner})

	resp, err := http.Post(ts.URL+"/api/v1/analyses", "application/json",
		strings.NewReader(`{"text": "blocked 203.0.113.5 twice"}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var view apihandlers.RunView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	assert.Equal(t, apihandlers.RunRunning, view.State)
	assert.Equal(t, "203.0.113.5", <-runner.started)

	// Stop cancels the run before shutting the listener down.
	require.NoError(t, s.Stop())

	final, ok := s.Manager().Get(view.ID)
	require.True(t, ok)
	assert.Equal(t, apihandlers.RunCancelled, final.State)
	assert.Equal(t, 1, final.Outcome.Abandoned)
}
