// Package scheduler periodically re-analyses stored addresses whose
// classification has gone stale. Each refresh is an ordinary analysis run
// recorded as its own batch.
package scheduler

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/anstrom/ipprism/internal/analysis"
	"github.com/anstrom/ipprism/internal/errors"
	"github.com/anstrom/ipprism/internal/logging"
)

const (
	// RefreshSourceName is the source name of every batch the scheduler
	// creates.
	RefreshSourceName = "scheduled-refresh"

	DefaultRefreshCron  = "@daily"
	DefaultRefreshLimit = 500
)

// ErrRefreshInProgress is returned by RefreshNow while another refresh runs.
var ErrRefreshInProgress = stderrors.New("refresh already in progress")

// StaleSource lists addresses whose last check is older than a cutoff.
// *db.Gateway implements it.
type StaleSource interface {
	StaleAddresses(ctx context.Context, olderThan time.Time, limit int) ([]string, error)
}

// Runner runs an analysis. *analysis.Engine implements it.
type Runner interface {
	Run(ctx context.Context, req analysis.Request, sink analysis.Sink) (*analysis.Outcome, error)
}

// Config controls the refresh job.
type Config struct {
	RefreshCron  string
	RefreshLimit int
	// TTL is the age after which a record counts as stale.
	TTL time.Duration
}

// Status is a snapshot of the scheduler state.
type Status struct {
	Running     bool              `json:"running"`
	Refreshing  bool              `json:"refreshing"`
	NextRun     *time.Time        `json:"next_run,omitempty"`
	LastRun     *time.Time        `json:"last_run,omitempty"`
	LastOutcome *analysis.Outcome `json:"last_outcome,omitempty"`
	LastError   string            `json:"last_error,omitempty"`
}

// Option customises a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithClock overrides the clock used to compute the staleness cutoff.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// Scheduler runs the stale-address refresh on a cron schedule.
type Scheduler struct {
	source StaleSource
	runner Runner
	config Config
	logger *logging.Logger
	now    func() time.Time

	cron       *cron.Cron
	entryID    cron.EntryID
	refreshing atomic.Bool

	mu          sync.Mutex
	running     bool
	ctx         context.Context
	cancel      context.CancelFunc
	lastRun     *time.Time
	lastOutcome *analysis.Outcome
	lastErr     error
}

// New creates a scheduler. Zero config values fall back to the defaults.
func New(source StaleSource, runner Runner, config Config, opts ...Option) *Scheduler {
	if config.RefreshCron == "" {
		config.RefreshCron = DefaultRefreshCron
	}
	if config.RefreshLimit <= 0 {
		config.RefreshLimit = DefaultRefreshLimit
	}

	s := &Scheduler{
		source: source,
		runner: runner,
		config: config,
		logger: logging.Default().WithComponent("scheduler"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	cl := cronLogger{logger: s.logger}
	s.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	return s
}

// Start validates the schedule and starts the cron loop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	if _, err := cron.ParseStandard(s.config.RefreshCron); err != nil {
		return errors.NewConfigFieldError(errors.CodeValidation,
			fmt.Sprintf("invalid cron expression: %v", err), "scheduler.refresh_cron", s.config.RefreshCron)
	}

	id, err := s.cron.AddFunc(s.config.RefreshCron, s.scheduledRefresh)
	if err != nil {
		return fmt.Errorf("failed to add refresh job: %w", err)
	}
	s.entryID = id
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cron.Start()
	s.running = true

	s.logger.Info("Scheduler started", "schedule", s.config.RefreshCron, "limit", s.config.RefreshLimit)
	return nil
}

// Stop stops the cron loop, cancels a refresh in progress and waits for it
// to settle.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cron.Remove(s.entryID)
	stopped := s.cron.Stop()
	s.cancel()
	s.mu.Unlock()

	<-stopped.Done()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) scheduledRefresh() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		return
	}

	if _, err := s.RefreshNow(ctx); err != nil && !stderrors.Is(err, ErrRefreshInProgress) {
		s.logger.Error("Scheduled refresh failed", "error", err)
	}
}

// RefreshNow re-analyses up to RefreshLimit stale addresses. It returns a
// nil outcome when nothing is stale.
func (s *Scheduler) RefreshNow(ctx context.Context) (*analysis.Outcome, error) {
	if !s.refreshing.CompareAndSwap(false, true) {
		return nil, ErrRefreshInProgress
	}
	defer s.refreshing.Store(false)

	started := s.now()
	outcome, err := s.refresh(ctx, started)

	s.mu.Lock()
	s.lastRun = &started
	s.lastErr = err
	if outcome != nil {
		s.lastOutcome = outcome
	}
	s.mu.Unlock()
	return outcome, err
}

func (s *Scheduler) refresh(ctx context.Context, started time.Time) (*analysis.Outcome, error) {
	cutoff := started.Add(-s.config.TTL)
	addresses, err := s.source.StaleAddresses(ctx, cutoff, s.config.RefreshLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale addresses: %w", err)
	}
	if len(addresses) == 0 {
		s.logger.Debug("No stale addresses to refresh", "cutoff", cutoff)
		return nil, nil
	}

	s.logger.Info("Refreshing stale addresses", "count", len(addresses), "cutoff", cutoff)
	outcome, err := s.runner.Run(ctx, analysis.Request{
		Addresses:   addresses,
		SourceName:  RefreshSourceName,
		Description: fmt.Sprintf("Refresh of %d addresses last checked before %s", len(addresses), cutoff.UTC().Format(time.RFC3339)),
	}, analysis.Discard)
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// Status returns the current scheduler state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Running:     s.running,
		Refreshing:  s.refreshing.Load(),
		LastRun:     s.lastRun,
		LastOutcome: s.lastOutcome,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	if s.running {
		next := s.cron.Entry(s.entryID).Next
		if !next.IsZero() {
			st.NextRun = &next
		}
	}
	return st
}

// cronLogger adapts the structured logger to cron.Logger.
type cronLogger struct {
	logger *logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
