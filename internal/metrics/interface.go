package metrics

import "time"

//go:generate mockgen -source=interface.go -destination=mocks/mock_recorder.go -package=mocks

// Recorder is the set of observations ipprism components report.
// Components accept a Recorder so tests can pass Noop or a mock.
type Recorder interface {
	IncrementLookups(service, outcome string)
	RecordLookupDuration(service string, duration time.Duration)
	IncrementUnits(result string)
	AddActiveUnits(delta int)
	IncrementFreshness(class string)
	RecordRun(status string, duration time.Duration)
	RecordDatabaseQuery(operation string, duration time.Duration, success bool)
	RecordHTTPRequest(method, path, status string, duration time.Duration)
}

// Ensure that PrometheusMetrics implements Recorder.
var _ Recorder = (*PrometheusMetrics)(nil)

// Noop discards every observation.
type Noop struct{}

var _ Recorder = Noop{}

func (Noop) IncrementLookups(string, string)                         {}
func (Noop) RecordLookupDuration(string, time.Duration)              {}
func (Noop) IncrementUnits(string)                                   {}
func (Noop) AddActiveUnits(int)                                      {}
func (Noop) IncrementFreshness(string)                               {}
func (Noop) RecordRun(string, time.Duration)                         {}
func (Noop) RecordDatabaseQuery(string, time.Duration, bool)         {}
func (Noop) RecordHTTPRequest(string, string, string, time.Duration) {}
