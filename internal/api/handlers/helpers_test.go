package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/mock"

	"github.com/anstrom/ipprism/internal/analysis"
	"github.com/anstrom/ipprism/internal/db"
	"github.com/anstrom/ipprism/internal/logging"
	"github.com/anstrom/ipprism/internal/reputation"
)

// MockStore is a mock implementation of Store.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) ListBatches(ctx context.Context) ([]db.Batch, error) {
	args := m.Called(ctx)
	batches, _ := args.Get(0).([]db.Batch)
	return batches, args.Error(1)
}

func (m *MockStore) RecordsByBatches(ctx context.Context, batchIDs []int64) ([]db.IPRecord, error) {
	args := m.Called(ctx, batchIDs)
	records, _ := args.Get(0).([]db.IPRecord)
	return records, args.Error(1)
}

func (m *MockStore) DeleteBatch(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockStore) UpdateAnnotations(ctx context.Context, id int64, tags, notes string) error {
	return m.Called(ctx, id, tags, notes).Error(0)
}

func (m *MockStore) DashboardStats(ctx context.Context) (*db.DashboardStats, error) {
	args := m.Called(ctx)
	stats, _ := args.Get(0).(*db.DashboardStats)
	return stats, args.Error(1)
}

func (m *MockStore) RecurringAddresses(ctx context.Context) (*db.Recurrence, error) {
	args := m.Called(ctx)
	rec, _ := args.Get(0).(*db.Recurrence)
	return rec, args.Error(1)
}

func (m *MockStore) CompareBatches(ctx context.Context, batchIDs []int64) ([]db.ComparisonRow, error) {
	args := m.Called(ctx, batchIDs)
	rows, _ := args.Get(0).([]db.ComparisonRow)
	return rows, args.Error(1)
}

// MockDB is a mock implementation of DatabasePinger.
type MockDB struct {
	mock.Mock
}

func (m *MockDB) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type fakeAccount struct {
	configured bool
	status     *reputation.AccountStatus
	err        error
}

func (f fakeAccount) Configured() bool { return f.configured }

func (f fakeAccount) AccountStatus(context.Context) (*reputation.AccountStatus, error) {
	return f.status, f.err
}

// fakeRunner emits one classified event per address. When hold is set it
// emits the first event and then waits for release or cancellation.
type fakeRunner struct {
	hold    bool
	release chan struct{}
	started chan struct{}
	err     error
	// haltReason, when set, makes every run end halted.
	haltReason string

	mu       sync.Mutex
	requests []analysis.Request
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{release: make(chan struct{}), started: make(chan struct{}, 16)}
}

func (f *fakeRunner) Run(ctx context.Context, req analysis.Request, sink analysis.Sink) (*analysis.Outcome, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	outcome := &analysis.Outcome{BatchID: 7, Status: analysis.StatusCompleted, Total: len(req.Addresses)}
	for i, addr := range req.Addresses {
		sink.Emit(analysis.Event{
			Kind:    analysis.EventClassified,
			Address: addr,
			Score:   50,
			Pulses:  reputation.KnownPulses(i),
			Time:    time.Now(),
		})
		outcome.Classified++

		if i == 0 && f.hold {
			f.started <- struct{}{}
			select {
			case <-f.release:
			case <-ctx.Done():
				outcome.Status = analysis.StatusCancelled
				outcome.Abandoned = len(req.Addresses) - 1
				return outcome, nil
			}
		}
	}
	if f.haltReason != "" {
		outcome.Status = analysis.StatusHalted
		outcome.HaltReason = f.haltReason
	}
	return outcome, nil
}

func (f *fakeRunner) lastRequest() analysis.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func testLogger() *logging.Logger {
	return logging.NewDiscard()
}

// serve routes a single request through a mux router so path variables
// resolve.
func serve(pattern, method string, handler http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	router := mux.NewRouter()
	router.HandleFunc(pattern, handler).Methods(method)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func waitDone(m *Manager, id string) bool {
	done, ok := m.Done(id)
	if !ok {
		return false
	}
	select {
	case <-done:
		return true
	case <-time.After(5 * time.Second):
		return false
	}
}
