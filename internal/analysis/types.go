package analysis

import (
	"time"

	"github.com/anstrom/ipprism/internal/db"
	"github.com/anstrom/ipprism/internal/freshness"
	"github.com/anstrom/ipprism/internal/reputation"
)

const (
	// DefaultMaliciousThreshold is the primary score at or above which an
	// address is flagged malicious.
	DefaultMaliciousThreshold = 85
	// DefaultMaxConcurrency bounds the number of units querying at once.
	DefaultMaxConcurrency = 10
	// DefaultTTL is how long a stored classification stays fresh.
	DefaultTTL = 24 * time.Hour
)

// Config is fixed for the lifetime of an Engine.
type Config struct {
	TTL                time.Duration
	MaliciousThreshold int
	MaxConcurrency     int
	// RequestsPerSecond paces unit admission; 0 disables pacing.
	RequestsPerSecond float64
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		TTL:                DefaultTTL,
		MaliciousThreshold: DefaultMaliciousThreshold,
		MaxConcurrency:     DefaultMaxConcurrency,
	}
}

// Request describes one analysis run.
type Request struct {
	Addresses   []string `json:"addresses"`
	SourceName  string   `json:"source_name"`
	Description string   `json:"description"`
}

// WorkItem is one address with the record stored for it, if any.
type WorkItem struct {
	Address string
	Record  *db.IPRecord
	State   freshness.State
}

// Plan partitions a run's addresses. Both slices keep input order.
type Plan struct {
	Fresh       []WorkItem
	NeedsQuery  []WorkItem
	CheckedAt   time.Time
	TTL         time.Duration
	totalUnique int
}

// Total returns the number of distinct addresses in the plan.
func (p *Plan) Total() int {
	return p.totalUnique
}

// Status is the terminal state of a run.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	// StatusHalted means a unit hit an error no later unit could survive,
	// such as a lost database connection, and admission stopped.
	StatusHalted Status = "halted"
)

// Outcome summarises a finished run.
type Outcome struct {
	BatchID    int64         `json:"batch_id"`
	Status     Status        `json:"status"`
	Total      int           `json:"total"`
	Cached     int           `json:"cached"`
	Classified int           `json:"classified"`
	Errored    int           `json:"errored"`
	Faulted    int           `json:"faulted"`
	Abandoned  int           `json:"abandoned"`
	Linked     []int64       `json:"linked"`
	Duration   time.Duration `json:"duration"`
	// HaltReason is set when Status is StatusHalted.
	HaltReason string `json:"halt_reason,omitempty"`
}

// EventKind tags a progress event.
type EventKind string

const (
	EventCached     EventKind = "cached"
	EventClassified EventKind = "classified"
	EventError      EventKind = "error"
)

// Event reports the completion of one unit.
type Event struct {
	Kind    EventKind             `json:"kind"`
	Address string                `json:"address"`
	Score   int                   `json:"score"`
	Country string                `json:"country,omitempty"`
	Pulses  reputation.PulseCount `json:"pulses"`
	Message string                `json:"message,omitempty"`
	Time    time.Time             `json:"time"`
}

// unit result labels, shared by metrics and logs.
const (
	resultCached     = "cached"
	resultClassified = "classified"
	resultErrored    = "errored"
	resultFaulted    = "faulted"
	resultAbandoned  = "abandoned"
)
