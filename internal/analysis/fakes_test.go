package analysis

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anstrom/ipprism/internal/db"
	"github.com/anstrom/ipprism/internal/errors"
	"github.com/anstrom/ipprism/internal/reputation"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return testNow }

func strPtr(s string) *string { return &s }
func intPtr(n int) *int       { return &n }

// memoryGateway is an in-memory Gateway with the same idempotency rules as
// the PostgreSQL gateway.
type memoryGateway struct {
	mu        sync.Mutex
	nextID    int64
	records   map[string]*db.IPRecord
	batches   map[int64]string
	links     map[db.BatchLink]struct{}
	bulkCalls int
	updates   int
	inserts   int
	// insertErr, when set, fails every Insert.
	insertErr error
}

func newMemoryGateway() *memoryGateway {
	return &memoryGateway{
		records: make(map[string]*db.IPRecord),
		batches: make(map[int64]string),
		links:   make(map[db.BatchLink]struct{}),
	}
}

func (g *memoryGateway) seed(rec db.IPRecord) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	rec.ID = g.nextID
	g.records[rec.Address] = &rec
	return rec.ID
}

func (g *memoryGateway) record(address string) *db.IPRecord {
	g.mu.Lock()
	defer g.mu.Unlock()
	rec, ok := g.records[address]
	if !ok {
		return nil
	}
	cp := *rec
	return &cp
}

func (g *memoryGateway) linked(batchID int64) map[int64]bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[int64]bool)
	for link := range g.links {
		if link.BatchID == batchID {
			out[link.RecordID] = true
		}
	}
	return out
}

func (g *memoryGateway) FindByAddress(_ context.Context, address string) (*db.IPRecord, error) {
	return g.record(address), nil
}

func (g *memoryGateway) FindByAddresses(ctx context.Context, addresses []string) (map[string]*db.IPRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bulkCalls++
	out := make(map[string]*db.IPRecord)
	for _, a := range addresses {
		if rec, ok := g.records[a]; ok {
			cp := *rec
			out[a] = &cp
		}
	}
	return out, nil
}

func (g *memoryGateway) apply(rec *db.IPRecord, c db.Classification) {
	rec.Country = strPtr(c.Country)
	malicious := c.Malicious
	rec.Malicious = &malicious
	rec.Score = intPtr(c.Score)
	rec.ISP = strPtr(c.ISP)
	rec.Organization = strPtr(c.Organization)
	rec.Pulses = intPtr(c.Pulses)
	rec.LastCheck = strPtr(db.FormatTimestamp(clock()))
}

func (g *memoryGateway) Insert(ctx context.Context, address string, c db.Classification) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inserts++
	if g.insertErr != nil {
		return 0, g.insertErr
	}
	rec, ok := g.records[address]
	if !ok {
		g.nextID++
		rec = &db.IPRecord{ID: g.nextID, Address: address}
		g.records[address] = rec
	}
	g.apply(rec, c)
	return rec.ID, nil
}

func (g *memoryGateway) Update(ctx context.Context, id int64, c db.Classification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.updates++
	for _, rec := range g.records {
		if rec.ID == id {
			g.apply(rec, c)
			return nil
		}
	}
	return errors.NewDatabaseError(errors.CodeNotFound, "update record: not found")
}

func (g *memoryGateway) GetOrCreateMinimal(ctx context.Context, address string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if rec, ok := g.records[address]; ok {
		return rec.ID, nil
	}
	g.nextID++
	g.records[address] = &db.IPRecord{ID: g.nextID, Address: address}
	return g.nextID, nil
}

func (g *memoryGateway) CreateBatch(ctx context.Context, _ time.Time, sourceName, _ string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	id := int64(len(g.batches) + 1)
	g.batches[id] = sourceName
	return id, nil
}

func (g *memoryGateway) LinkRecordToBatch(ctx context.Context, recordID, batchID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.links[db.BatchLink{BatchID: batchID, RecordID: recordID}] = struct{}{}
	return nil
}

// fakePrimary answers lookups from tables and tracks concurrency.
type fakePrimary struct {
	mu      sync.Mutex
	results map[string]*reputation.PrimaryResult
	errs    map[string]error
	panics  map[string]bool
	calls   []string
	// hook runs inside every lookup before it returns.
	hook func(address string)

	active atomic.Int32
	peak   atomic.Int32
}

func newFakePrimary() *fakePrimary {
	return &fakePrimary{
		results: make(map[string]*reputation.PrimaryResult),
		errs:    make(map[string]error),
		panics:  make(map[string]bool),
	}
}

func (p *fakePrimary) Configured() bool { return true }

func (p *fakePrimary) Lookup(_ context.Context, address string) (*reputation.PrimaryResult, error) {
	n := p.active.Add(1)
	defer p.active.Add(-1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	p.mu.Lock()
	p.calls = append(p.calls, address)
	res, err, panics := p.results[address], p.errs[address], p.panics[address]
	p.mu.Unlock()

	if p.hook != nil {
		p.hook(address)
	}
	if panics {
		panic("lookup exploded")
	}
	if err != nil {
		return nil, err
	}
	if res != nil {
		cp := *res
		return &cp, nil
	}
	return &reputation.PrimaryResult{
		Score:        10,
		Country:      "SE",
		ISP:          reputation.NotAvailable,
		Organization: reputation.NotAvailable,
	}, nil
}

func (p *fakePrimary) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type fakeSecondary struct {
	mu         sync.Mutex
	configured bool
	counts     map[string]reputation.PulseCount
	calls      []string
}

func (s *fakeSecondary) Configured() bool { return s.configured }

func (s *fakeSecondary) PulseCount(_ context.Context, address string) reputation.PulseCount {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, address)
	if c, ok := s.counts[address]; ok {
		return c
	}
	return reputation.KnownPulses(0)
}

func (s *fakeSecondary) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// collector is a Sink that records every event.
type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) Emit(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collector) byAddress() map[string]Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]Event, len(c.events))
	for _, ev := range c.events {
		out[ev.Address] = ev
	}
	return out
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}
