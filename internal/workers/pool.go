// Package workers provides a bounded pool for running analysis units
// concurrently. Admission is limited by a weighted semaphore and an optional
// token-bucket rate limit; admitted jobs always run to completion.
package workers

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/anstrom/ipprism/internal/logging"
	"github.com/anstrom/ipprism/internal/metrics"
)

// Job represents a unit of work to be executed by the pool.
type Job interface {
	// Execute performs the job and returns an error if it fails.
	Execute(ctx context.Context) error
	// ID returns an identifier for the job, used in logs.
	ID() string
	// Type returns the job type for metrics and logging.
	Type() string
}

// JobFunc adapts a function to the Job interface.
type JobFunc struct {
	JobID   string
	JobType string
	Fn      func(ctx context.Context) error
}

func (j JobFunc) Execute(ctx context.Context) error { return j.Fn(ctx) }
func (j JobFunc) ID() string                        { return j.JobID }
func (j JobFunc) Type() string                      { return j.JobType }

// Result represents the result of executing a job.
type Result struct {
	JobID    string
	JobType  string
	Error    error
	Duration time.Duration
	// Panicked is set when Execute panicked; Error then describes the panic.
	Panicked bool
}

// Config holds configuration for the worker pool.
type Config struct {
	// Size is the maximum number of jobs running at once.
	Size int
	// RateLimit is the maximum number of job starts per second (0 = no limit).
	RateLimit float64
}

// DefaultConfig returns a default worker pool configuration.
func DefaultConfig() Config {
	return Config{Size: 10}
}

// Stats is a snapshot of pool activity.
type Stats struct {
	Admitted  int64
	Completed int64
	Failed    int64
	Panicked  int64
	InFlight  int64
	// PeakInFlight is the highest number of simultaneously running jobs seen.
	PeakInFlight int64
}

// Option customises a Pool.
type Option func(*Pool)

// WithResultHandler registers a callback invoked once per finished job, from
// the job's goroutine.
func WithResultHandler(fn func(Result)) Option {
	return func(p *Pool) { p.onResult = fn }
}

// WithMetrics reports in-flight jobs on r.
func WithMetrics(r metrics.Recorder) Option {
	return func(p *Pool) { p.metrics = r }
}

// WithLogger sets the pool logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// Pool runs jobs with bounded concurrency.
type Pool struct {
	config   Config
	sem      *semaphore.Weighted
	limiter  *rate.Limiter
	wg       sync.WaitGroup
	onResult func(Result)
	metrics  metrics.Recorder
	logger   *logging.Logger

	admitted  atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	panicked  atomic.Int64
	inFlight  atomic.Int64
	peak      atomic.Int64
}

// New creates a pool. A non-positive Size is treated as 1.
func New(config Config, opts ...Option) *Pool {
	if config.Size <= 0 {
		config.Size = 1
	}

	p := &Pool{
		config:  config,
		sem:     semaphore.NewWeighted(int64(config.Size)),
		metrics: metrics.Noop{},
		logger:  logging.Default().WithComponent("workers"),
	}
	if config.RateLimit > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), 1)
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Submit blocks until the job can be admitted, then starts it in its own
// goroutine. If ctx is done before admission the job is not started and
// ctx's error is returned. An admitted job runs on a context that keeps ctx's
// values but not its cancellation.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			p.sem.Release(1)
			return err
		}
	}
	// Cancellation may have raced with the final wait.
	if err := ctx.Err(); err != nil {
		p.sem.Release(1)
		return err
	}

	p.admitted.Add(1)
	p.wg.Add(1)
	go p.run(context.WithoutCancel(ctx), job)
	return nil
}

func (p *Pool) run(ctx context.Context, job Job) {
	defer p.wg.Done()
	defer p.sem.Release(1)

	n := p.inFlight.Add(1)
	p.metrics.AddActiveUnits(1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	start := time.Now()
	result := Result{JobID: job.ID(), JobType: job.Type()}

	func() {
		defer func() {
			if r := recover(); r != nil {
				result.Panicked = true
				result.Error = fmt.Errorf("job panicked: %v", r)
				p.logger.Error("Job panicked",
					"job_id", job.ID(), "job_type", job.Type(),
					"panic", r, "stack", string(debug.Stack()))
			}
		}()
		result.Error = job.Execute(ctx)
	}()

	result.Duration = time.Since(start)
	p.inFlight.Add(-1)
	p.metrics.AddActiveUnits(-1)

	switch {
	case result.Panicked:
		p.panicked.Add(1)
	case result.Error != nil:
		p.failed.Add(1)
	default:
		p.completed.Add(1)
	}

	if p.onResult != nil {
		p.onResult(result)
	}
}

// Wait blocks until every admitted job has finished.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Size returns the concurrency bound.
func (p *Pool) Size() int {
	return p.config.Size
}

// Stats returns a snapshot of pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Admitted:     p.admitted.Load(),
		Completed:    p.completed.Load(),
		Failed:       p.failed.Load(),
		Panicked:     p.panicked.Load(),
		InFlight:     p.inFlight.Load(),
		PeakInFlight: p.peak.Load(),
	}
}
