// Package analysis implements the analysis engine: it decides which
// addresses still have a fresh stored classification, queries the
// reputation services for the rest through a bounded worker pool, persists
// the results and links every processed address to the run's batch.
package analysis

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/anstrom/ipprism/internal/db"
	"github.com/anstrom/ipprism/internal/errors"
	"github.com/anstrom/ipprism/internal/freshness"
	"github.com/anstrom/ipprism/internal/logging"
	"github.com/anstrom/ipprism/internal/metrics"
	"github.com/anstrom/ipprism/internal/reputation"
	"github.com/anstrom/ipprism/internal/workers"
)

const unitJobType = "analysis_unit"

// Option customises an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics records unit and run metrics on r.
func WithMetrics(r metrics.Recorder) Option {
	return func(e *Engine) { e.metrics = r }
}

// WithClock overrides the clock used for freshness checks, batch creation
// and event times.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine runs analyses. It is safe for concurrent use; each Run has its own
// worker pool.
type Engine struct {
	gateway   Gateway
	primary   PrimaryService
	secondary SecondaryService
	config    Config
	logger    *logging.Logger
	metrics   metrics.Recorder
	now       func() time.Time
}

// NewEngine creates an engine. secondary may be nil, which behaves like an
// unconfigured secondary service.
func NewEngine(gateway Gateway, primary PrimaryService, secondary SecondaryService,
	config Config, opts ...Option) *Engine {
	if config.MaliciousThreshold <= 0 {
		config.MaliciousThreshold = DefaultMaliciousThreshold
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = DefaultMaxConcurrency
	}
	if config.TTL < 0 {
		config.TTL = 0
	}

	e := &Engine{
		gateway:   gateway,
		primary:   primary,
		secondary: secondary,
		config:    config,
		logger:    logging.Default().WithComponent("analysis"),
		metrics:   metrics.Noop{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the engine configuration after defaults were applied.
func (e *Engine) Config() Config {
	return e.config
}

// Plan loads the stored records for addresses in a single query and splits
// them into fresh items and items that need a lookup. Addresses are trimmed
// and deduplicated; empty entries are dropped.
func (e *Engine) Plan(ctx context.Context, addresses []string) (*Plan, error) {
	unique := normalize(addresses)
	now := e.now()

	records, err := e.gateway.FindByAddresses(ctx, unique)
	if err != nil {
		return nil, fmt.Errorf("bulk freshness check failed: %w", err)
	}

	plan := &Plan{CheckedAt: now, TTL: e.config.TTL, totalUnique: len(unique)}
	for _, address := range unique {
		item := WorkItem{Address: address, Record: records[address], State: freshness.Never}
		if item.Record != nil {
			item.State = freshness.Classify(item.Record.LastCheck, e.config.TTL, now)
		}
		e.metrics.IncrementFreshness(string(item.State))

		if item.State == freshness.Fresh {
			plan.Fresh = append(plan.Fresh, item)
		} else {
			plan.NeedsQuery = append(plan.NeedsQuery, item)
		}
	}
	return plan, nil
}

// Run analyses req.Addresses as a new batch and reports each finished unit
// to sink. Per-address failures never fail the run: they are reported as
// error events. Run only returns an error when the primary service is not
// configured, or the bulk freshness check or batch creation fails for a
// reason other than cancellation.
//
// The freshness check and batch creation are not interrupted by ctx, so a
// cancelled run still leaves a batch behind. Cancelling ctx stops admission
// of new units and the outcome is marked cancelled. A unit failing with a
// fatal error (see errors.IsFatal) also stops admission; the outcome is then
// marked halted.
func (e *Engine) Run(ctx context.Context, req Request, sink Sink) (*Outcome, error) {
	if sink == nil {
		sink = Discard
	}
	if e.primary == nil || !e.primary.Configured() {
		return nil, errors.ErrKeyNotConfigured(reputation.ServicePrimary)
	}

	start := time.Now()
	setupCtx := context.WithoutCancel(ctx)

	plan, err := e.Plan(setupCtx, req.Addresses)
	if err != nil {
		e.logger.Error("Analysis aborted", "source", req.SourceName, "error", err)
		return nil, err
	}

	batchID, err := e.gateway.CreateBatch(setupCtx, e.now(), req.SourceName, req.Description)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch: %w", err)
	}
	logger := e.logger.WithBatchID(batchID)

	logger.Info("Analysis started",
		"source", req.SourceName,
		"total", plan.Total(),
		"fresh", len(plan.Fresh),
		"needs_query", len(plan.NeedsQuery))

	admit, halt := context.WithCancelCause(ctx)
	defer halt(nil)

	r := &run{
		engine:  e,
		ctx:     ctx,
		admit:   admit,
		halt:    halt,
		batchID: batchID,
		sink:    sink,
		logger:  logger,
		outcome: Outcome{BatchID: batchID, Total: plan.Total(), Linked: []int64{}},
	}
	r.linkFresh(plan.Fresh)
	r.dispatch(plan.NeedsQuery)

	outcome := r.outcome
	outcome.Status = StatusCompleted
	switch {
	case ctx.Err() != nil:
		outcome.Status = StatusCancelled
	case admit.Err() != nil:
		outcome.Status = StatusHalted
		outcome.HaltReason = context.Cause(admit).Error()
	}
	outcome.Duration = time.Since(start)
	e.metrics.RecordRun(string(outcome.Status), outcome.Duration)

	logger.Info("Analysis finished",
		"status", outcome.Status,
		"cached", outcome.Cached,
		"classified", outcome.Classified,
		"errored", outcome.Errored,
		"faulted", outcome.Faulted,
		"abandoned", outcome.Abandoned,
		"duration", outcome.Duration)
	return &outcome, nil
}

// run is the state of one Run call.
type run struct {
	engine *Engine
	ctx    context.Context
	// admit is done when ctx is cancelled or the run halts.
	admit   context.Context
	halt    context.CancelCauseFunc
	batchID int64
	sink    Sink
	logger  *logging.Logger

	mu      sync.Mutex
	outcome Outcome
}

// stopped reports whether new work must be dropped.
func (r *run) stopped() bool {
	return r.admit.Err() != nil
}

// linkFresh links records that need no lookup. Cancellation is checked
// before each link; once a link starts it is not interrupted.
func (r *run) linkFresh(items []WorkItem) {
	persistCtx := context.WithoutCancel(r.ctx)
	for i, item := range items {
		if r.stopped() {
			r.abandon(len(items) - i)
			return
		}

		if err := r.engine.gateway.LinkRecordToBatch(persistCtx, item.Record.ID, r.batchID); err != nil {
			_ = r.fault(item.Address, err)
			continue
		}
		r.linked(item.Record.ID, resultCached)

		ev := Event{
			Kind:    EventCached,
			Address: item.Address,
			Pulses:  reputation.PulsesFromSentinel(item.Record.Pulses),
			Time:    r.engine.now(),
		}
		if item.Record.Score != nil {
			ev.Score = *item.Record.Score
		}
		if item.Record.Country != nil {
			ev.Country = *item.Record.Country
		}
		r.sink.Emit(ev)
	}
}

// dispatch runs one unit per item on a bounded pool and waits for every
// admitted unit to settle.
func (r *run) dispatch(items []WorkItem) {
	if len(items) == 0 {
		return
	}

	pool := workers.New(
		workers.Config{
			Size:      r.engine.config.MaxConcurrency,
			RateLimit: r.engine.config.RequestsPerSecond,
		},
		workers.WithMetrics(r.engine.metrics),
		workers.WithLogger(r.logger),
		workers.WithResultHandler(r.onResult),
	)

	for i, item := range items {
		job := workers.JobFunc{
			JobID:   item.Address,
			JobType: unitJobType,
			Fn: func(ctx context.Context) error {
				return r.process(ctx, item)
			},
		}
		if err := pool.Submit(r.admit, job); err != nil {
			r.abandon(len(items) - i)
			r.logger.Info("Admission stopped, no further units started", "remaining", len(items)-i)
			break
		}
	}
	pool.Wait()
}

func (r *run) onResult(res workers.Result) {
	if res.Panicked {
		_ = r.fault(res.JobID, res.Error)
	}
}

// process is one unit of work. ctx is detached from the run's cancellation;
// r.admit is consulted after the network calls to decide whether to keep
// the results.
func (r *run) process(ctx context.Context, item WorkItem) error {
	e := r.engine

	result, err := e.primary.Lookup(ctx, item.Address)
	if err != nil {
		if r.stopped() {
			r.abandon(1)
			return nil
		}
		return r.placeholder(ctx, item, err)
	}

	pulses := reputation.UnknownPulses()
	if e.secondary != nil && e.secondary.Configured() {
		pulses = e.secondary.PulseCount(ctx, item.Address)
	}

	if r.stopped() {
		r.abandon(1)
		return nil
	}
	r.logger.InfoLookup("Primary lookup succeeded", reputation.ServicePrimary, item.Address,
		"score", result.Score, "country", result.Country)

	classification := db.Classification{
		Country:      result.Country,
		Malicious:    result.Score >= e.config.MaliciousThreshold,
		Score:        result.Score,
		ISP:          result.ISP,
		Organization: result.Organization,
		Pulses:       pulses.Sentinel(),
	}

	id, err := r.persist(ctx, item, classification)
	if err != nil {
		return r.fault(item.Address, err)
	}
	if err := e.gateway.LinkRecordToBatch(ctx, id, r.batchID); err != nil {
		return r.fault(item.Address, err)
	}
	r.linked(id, resultClassified)

	r.sink.Emit(Event{
		Kind:    EventClassified,
		Address: item.Address,
		Score:   result.Score,
		Country: result.Country,
		Pulses:  pulses,
		Time:    e.now(),
	})
	return nil
}

// persist updates the prior record when there was one, and inserts
// otherwise. A prior record deleted since planning is inserted again.
func (r *run) persist(ctx context.Context, item WorkItem, c db.Classification) (int64, error) {
	if item.Record != nil {
		err := r.engine.gateway.Update(ctx, item.Record.ID, c)
		if err == nil {
			return item.Record.ID, nil
		}
		if !errors.IsNotFound(err) {
			return 0, err
		}
	}
	return r.engine.gateway.Insert(ctx, item.Address, c)
}

// placeholder handles a failed primary lookup: the address still gets a
// record so it can be linked, and the failure is reported.
func (r *run) placeholder(ctx context.Context, item WorkItem, lookupErr error) error {
	r.logger.ErrorLookup("Primary lookup failed", reputation.ServicePrimary, item.Address, lookupErr)

	id, err := r.engine.gateway.GetOrCreateMinimal(ctx, item.Address)
	if err != nil {
		return r.fault(item.Address, err)
	}
	if err := r.engine.gateway.LinkRecordToBatch(ctx, id, r.batchID); err != nil {
		return r.fault(item.Address, err)
	}
	r.linked(id, resultErrored)

	r.sink.Emit(Event{
		Kind:    EventError,
		Address: item.Address,
		Pulses:  reputation.UnknownPulses(),
		Message: eventMessage(lookupErr),
		Time:    r.engine.now(),
	})
	return nil
}

// fault records an unexpected failure of one unit. The address is not
// linked. A fatal cause halts the run.
func (r *run) fault(address string, cause error) error {
	err := errors.ErrInternal(address, cause)
	r.logger.Error("Analysis unit faulted", "address", address, "error", cause)

	if errors.IsFatal(cause) && !r.stopped() {
		r.logger.Error("Halting analysis", "address", address, "error", cause)
		r.halt(cause)
	}

	r.mu.Lock()
	r.outcome.Faulted++
	r.mu.Unlock()
	r.engine.metrics.IncrementUnits(resultFaulted)

	r.sink.Emit(Event{
		Kind:    EventError,
		Address: address,
		Pulses:  reputation.UnknownPulses(),
		Message: err.Message,
		Time:    r.engine.now(),
	})
	return err
}

func (r *run) linked(recordID int64, result string) {
	r.mu.Lock()
	r.outcome.Linked = append(r.outcome.Linked, recordID)
	switch result {
	case resultCached:
		r.outcome.Cached++
	case resultClassified:
		r.outcome.Classified++
	case resultErrored:
		r.outcome.Errored++
	}
	r.mu.Unlock()
	r.engine.metrics.IncrementUnits(result)
}

func (r *run) abandon(n int) {
	if n <= 0 {
		return
	}
	r.mu.Lock()
	r.outcome.Abandoned += n
	r.mu.Unlock()
	for i := 0; i < n; i++ {
		r.engine.metrics.IncrementUnits(resultAbandoned)
	}
}

func eventMessage(err error) string {
	var lookupErr *errors.LookupError
	if stderrors.As(err, &lookupErr) {
		return lookupErr.Message
	}
	return err.Error()
}

func normalize(addresses []string) []string {
	seen := make(map[string]struct{}, len(addresses))
	out := make([]string, 0, len(addresses))
	for _, a := range addresses {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}
