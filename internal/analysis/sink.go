package analysis

import "sync"

// Sink receives progress events. Implementations must be safe for
// concurrent use and must not block.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Emit calls f(ev).
func (f SinkFunc) Emit(ev Event) { f(ev) }

type discardSink struct{}

func (discardSink) Emit(Event) {}

// Discard drops every event.
var Discard Sink = discardSink{}

// MultiSink forwards each event to every sink in order.
type MultiSink []Sink

// Emit implements Sink.
func (m MultiSink) Emit(ev Event) {
	for _, s := range m {
		s.Emit(ev)
	}
}

// BufferedSink queues events without bound and hands them to a consumer from
// a single goroutine, so a slow consumer never stalls the engine.
type BufferedSink struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []Event
	closed  bool
	consume func(Event)
	done    chan struct{}
}

// NewBufferedSink starts a sink that delivers events to consume in emission
// order.
func NewBufferedSink(consume func(Event)) *BufferedSink {
	s := &BufferedSink{
		consume: consume,
		done:    make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.drain()
	return s
}

// Emit enqueues ev. Events emitted after Close are dropped.
func (s *BufferedSink) Emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.queue = append(s.queue, ev)
	s.cond.Signal()
}

// Close delivers every queued event and stops the drain goroutine. It is
// safe to call more than once.
func (s *BufferedSink) Close() {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
	<-s.done
}

func (s *BufferedSink) drain() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		pending := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, ev := range pending {
			s.consume(ev)
		}
	}
}
