package handlers

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/ipprism/internal/analysis"
	"github.com/anstrom/ipprism/internal/logging"
)

// subscriberBuffer is the number of events a subscriber may fall behind
// before it is dropped.
const subscriberBuffer = 256

// DefaultRetainedRuns is how many finished runs a Manager keeps by default.
const DefaultRetainedRuns = 100

// RunState is the lifecycle state of a background analysis.
type RunState string

const (
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunCancelled RunState = "cancelled"
	RunFailed    RunState = "failed"
)

// Runner runs one analysis. *analysis.Engine implements it.
type Runner interface {
	Run(ctx context.Context, req analysis.Request, sink analysis.Sink) (*analysis.Outcome, error)
}

// RunView is the externally visible state of a background analysis.
type RunView struct {
	ID          string            `json:"id"`
	State       RunState          `json:"state"`
	SourceName  string            `json:"source_name"`
	Description string            `json:"description,omitempty"`
	Addresses   int               `json:"addresses"`
	Events      int               `json:"events"`
	StartedAt   time.Time         `json:"started_at"`
	FinishedAt  *time.Time        `json:"finished_at,omitempty"`
	Outcome     *analysis.Outcome `json:"outcome,omitempty"`
	Error       string            `json:"error,omitempty"`
}

type analysisRun struct {
	id        string
	req       analysis.Request
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}

	mu          sync.Mutex
	state       RunState
	finishedAt  *time.Time
	outcome     *analysis.Outcome
	err         error
	events      []analysis.Event
	subscribers map[chan analysis.Event]struct{}
}

func (run *analysisRun) publish(ev analysis.Event) {
	run.mu.Lock()
	defer run.mu.Unlock()

	run.events = append(run.events, ev)
	for ch := range run.subscribers {
		select {
		case ch <- ev:
		default:
			// Slow consumer: drop it rather than stall the run.
			delete(run.subscribers, ch)
			close(ch)
		}
	}
}

func (run *analysisRun) finish(outcome *analysis.Outcome, err error, at time.Time) {
	run.mu.Lock()
	defer run.mu.Unlock()

	switch {
	case err != nil:
		run.state = RunFailed
	case outcome.Status == analysis.StatusHalted:
		run.state = RunFailed
		err = fmt.Errorf("analysis halted: %s", outcome.HaltReason)
	case outcome.Status == analysis.StatusCancelled:
		run.state = RunCancelled
	default:
		run.state = RunCompleted
	}
	run.outcome = outcome
	run.err = err
	run.finishedAt = &at

	for ch := range run.subscribers {
		close(ch)
	}
	run.subscribers = nil
	close(run.done)
}

func (run *analysisRun) finished() bool {
	run.mu.Lock()
	defer run.mu.Unlock()
	return run.state != RunRunning
}

func (run *analysisRun) view() RunView {
	run.mu.Lock()
	defer run.mu.Unlock()

	v := RunView{
		ID:          run.id,
		State:       run.state,
		SourceName:  run.req.SourceName,
		Description: run.req.Description,
		Addresses:   len(run.req.Addresses),
		Events:      len(run.events),
		StartedAt:   run.startedAt,
		FinishedAt:  run.finishedAt,
		Outcome:     run.outcome,
	}
	if run.err != nil {
		v.Error = run.err.Error()
	}
	return v
}

// ManagerOption customises a Manager.
type ManagerOption func(*Manager)

// WithRetainedRuns caps the number of finished runs kept for inspection.
// Older finished runs are forgotten first; running analyses are never
// dropped. n <= 0 keeps the default.
func WithRetainedRuns(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.retain = n
		}
	}
}

// Manager runs analyses in the background and keeps their events for
// replay to late subscribers.
type Manager struct {
	runner Runner
	logger *logging.Logger
	retain int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.RWMutex
	runs map[string]*analysisRun
}

// NewManager creates a manager that starts runs on runner.
func NewManager(runner Runner, logger *logging.Logger, opts ...ManagerOption) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		runner: runner,
		logger: logger.WithComponent("analyses"),
		retain: DefaultRetainedRuns,
		ctx:    ctx,
		cancel: cancel,
		runs:   make(map[string]*analysisRun),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches req in the background and returns its initial view.
func (m *Manager) Start(req analysis.Request) (RunView, error) {
	if err := m.ctx.Err(); err != nil {
		return RunView{}, fmt.Errorf("analysis manager is shut down")
	}

	ctx, cancel := context.WithCancel(m.ctx)
	run := &analysisRun{
		id:          uuid.NewString(),
		req:         req,
		startedAt:   time.Now().UTC(),
		cancel:      cancel,
		done:        make(chan struct{}),
		state:       RunRunning,
		subscribers: make(map[chan analysis.Event]struct{}),
	}

	m.mu.Lock()
	m.runs[run.id] = run
	m.mu.Unlock()

	m.wg.Add(1)
	go m.execute(ctx, run)

	m.logger.WithRunID(run.id).Info("Analysis started",
		"addresses", len(req.Addresses),
		"source", req.SourceName)
	return run.view(), nil
}

func (m *Manager) execute(ctx context.Context, run *analysisRun) {
	defer m.wg.Done()
	defer run.cancel()

	sink := analysis.NewBufferedSink(run.publish)
	outcome, err := m.runner.Run(ctx, run.req, sink)
	sink.Close()

	run.finish(outcome, err, time.Now().UTC())
	m.evict()

	logger := m.logger.WithRunID(run.id)
	if err != nil {
		logger.Error("Analysis failed", "error", err)
		return
	}
	logger.Info("Analysis finished",
		"batch_id", outcome.BatchID,
		"status", outcome.Status,
		"total", outcome.Total)
}

// evict forgets the oldest finished runs beyond the retention cap.
func (m *Manager) evict() {
	m.mu.Lock()
	defer m.mu.Unlock()

	var finished []*analysisRun
	for _, run := range m.runs {
		if run.finished() {
			finished = append(finished, run)
		}
	}
	excess := len(finished) - m.retain
	if excess <= 0 {
		return
	}

	sort.Slice(finished, func(i, j int) bool {
		return finished[i].startedAt.Before(finished[j].startedAt)
	})
	for _, run := range finished[:excess] {
		delete(m.runs, run.id)
	}
	m.logger.Debug("Forgot finished analyses", "count", excess, "retained", m.retain)
}

func (m *Manager) lookup(id string) (*analysisRun, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	return run, ok
}

// Get returns the view of one run.
func (m *Manager) Get(id string) (RunView, bool) {
	run, ok := m.lookup(id)
	if !ok {
		return RunView{}, false
	}
	return run.view(), true
}

// List returns every known run, newest first.
func (m *Manager) List() []RunView {
	m.mu.RLock()
	views := make([]RunView, 0, len(m.runs))
	for _, run := range m.runs {
		views = append(views, run.view())
	}
	m.mu.RUnlock()

	sort.Slice(views, func(i, j int) bool {
		return views[i].StartedAt.After(views[j].StartedAt)
	})
	return views
}

// Cancel requests cancellation of a run. Cancelling a finished run is a no-op.
func (m *Manager) Cancel(id string) (RunView, bool) {
	run, ok := m.lookup(id)
	if !ok {
		return RunView{}, false
	}
	run.cancel()
	return run.view(), true
}

// Done returns a channel closed when the run has finished.
func (m *Manager) Done(id string) (<-chan struct{}, bool) {
	run, ok := m.lookup(id)
	if !ok {
		return nil, false
	}
	return run.done, true
}

// Subscription is a live view of one run's events.
type Subscription struct {
	// Replay holds the events emitted before subscribing.
	Replay []analysis.Event
	// Events delivers later events and is closed when the run finishes or
	// the subscriber falls too far behind.
	Events <-chan analysis.Event

	run *analysisRun
	ch  chan analysis.Event
}

// Close detaches the subscription.
func (s *Subscription) Close() {
	s.run.mu.Lock()
	defer s.run.mu.Unlock()
	if _, ok := s.run.subscribers[s.ch]; ok {
		delete(s.run.subscribers, s.ch)
		close(s.ch)
	}
}

// Subscribe attaches to a run's event stream.
func (m *Manager) Subscribe(id string) (*Subscription, bool) {
	run, ok := m.lookup(id)
	if !ok {
		return nil, false
	}

	run.mu.Lock()
	defer run.mu.Unlock()

	ch := make(chan analysis.Event, subscriberBuffer)
	sub := &Subscription{
		Replay: append([]analysis.Event(nil), run.events...),
		Events: ch,
		run:    run,
		ch:     ch,
	}
	if run.subscribers == nil {
		close(ch)
	} else {
		run.subscribers[ch] = struct{}{}
	}
	return sub, true
}

// Shutdown cancels every run and waits for them to settle.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("analyses did not settle: %w", ctx.Err())
	}
}
