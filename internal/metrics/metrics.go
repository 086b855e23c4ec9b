package metrics

import "time"

// Label keys.
const (
	LabelService   = "service"
	LabelOutcome   = "outcome"
	LabelResult    = "result"
	LabelStatus    = "status"
	LabelOperation = "operation"
	LabelMethod    = "method"
	LabelPath      = "path"
)

// Common label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"

	OutcomeOK          = "ok"
	OutcomeTransport   = "transport"
	OutcomeApplication = "application"
	OutcomeNotFound    = "not_found"
	OutcomeUnknown     = "unknown"
)

// Timer measures the time between its creation and Stop.
type Timer struct {
	start   time.Time
	observe func(time.Duration)
}

// NewTimer starts a timer that hands the elapsed time to observe on Stop.
func NewTimer(observe func(time.Duration)) *Timer {
	return &Timer{start: time.Now(), observe: observe}
}

// Stop records and returns the elapsed duration.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.observe != nil {
		t.observe(elapsed)
	}
	return elapsed
}

// DatabaseTimer returns a function that records one query on r when called
// with the query's error.
func DatabaseTimer(r Recorder, operation string) func(error) {
	start := time.Now()
	return func(err error) {
		r.RecordDatabaseQuery(operation, time.Since(start), err == nil)
	}
}
