// Package monitoring carries pipeline telemetry to observers. Emission is
// fire-and-forget: a slow or broken collector drops events rather than
// blocking a consultation in flight.
package monitoring

import (
	"log/slog"
	"sync"
	"time"

	"github.com/edmondsbay/consult/dialog"
	"github.com/edmondsbay/consult/pkg/logging"
)

// EventKind names what happened.
type EventKind string

const (
	// KindAttemptStarted marks the start of one generation attempt.
	KindAttemptStarted EventKind = "attempt_started"
	// KindVerdict carries the quality verdict for one attempt.
	KindVerdict EventKind = "verdict"
	// KindTransition marks a control-state change in the reprompt loop.
	KindTransition EventKind = "transition"
	// KindOutcome is the terminal event for one consultation.
	KindOutcome EventKind = "outcome"
)

// Outcome classifies how a consultation ended.
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeDegraded Outcome = "degraded"
	OutcomeFailed   Outcome = "failed"
)

// Event is one telemetry record.
type Event struct {
	Kind           EventKind          `json:"kind"`
	QueryID        string             `json:"query_id"`
	ConversationID string             `json:"conversation_id"`
	Intent         dialog.IntentLabel `json:"intent,omitempty"`
	Attempt        int                `json:"attempt,omitempty"`
	State          string             `json:"state,omitempty"`
	Passed         bool               `json:"passed,omitempty"`
	Score          float64            `json:"score,omitempty"`
	Outcome        Outcome            `json:"outcome,omitempty"`
	AttemptsUsed   int                `json:"attempts_used,omitempty"`
	Latency        time.Duration      `json:"latency,omitempty"`
	At             time.Time          `json:"at"`
}

// Collector receives events. Record must never block and never fail the
// caller.
type Collector interface {
	Record(event Event)
}

// Nop discards every event.
type Nop struct{}

// Record implements Collector.
func (Nop) Record(Event) {}

// LogCollector writes events to the structured log.
type LogCollector struct {
	logger *slog.Logger
}

// NewLogCollector builds a log-backed collector.
func NewLogCollector(logger *slog.Logger) *LogCollector {
	if logger == nil {
		logger = logging.WithComponent("monitoring")
	}
	return &LogCollector{logger: logger}
}

// Record implements Collector.
func (c *LogCollector) Record(event Event) {
	attrs := []any{
		"kind", string(event.Kind),
		"query_id", event.QueryID,
		"conversation_id", event.ConversationID,
	}
	switch event.Kind {
	case KindAttemptStarted:
		attrs = append(attrs, "attempt", event.Attempt, "intent", event.Intent)
	case KindVerdict:
		attrs = append(attrs, "attempt", event.Attempt, "passed", event.Passed, "score", event.Score)
	case KindTransition:
		attrs = append(attrs, "state", event.State, "attempt", event.Attempt)
	case KindOutcome:
		attrs = append(attrs, "outcome", string(event.Outcome),
			"attempts_used", event.AttemptsUsed, "latency", event.Latency, "intent", event.Intent)
	}
	c.logger.Info("pipeline event", attrs...)
}

// Fanout forwards each event to every collector.
type Fanout struct {
	collectors []Collector
}

// NewFanout combines collectors.
func NewFanout(collectors ...Collector) *Fanout {
	return &Fanout{collectors: collectors}
}

// Record implements Collector.
func (f *Fanout) Record(event Event) {
	for _, c := range f.collectors {
		c.Record(event)
	}
}

// Buffered decouples producers from a collector through a bounded queue.
// When the queue is full, events are dropped and counted.
type Buffered struct {
	inner   Collector
	queue   chan Event
	dropped int64
	mu      sync.Mutex
	done    chan struct{}
	once    sync.Once
}

// NewBuffered starts the drain goroutine.
func NewBuffered(inner Collector, size int) *Buffered {
	if size <= 0 {
		size = 256
	}
	b := &Buffered{
		inner: inner,
		queue: make(chan Event, size),
		done:  make(chan struct{}),
	}
	go b.drain()
	return b
}

func (b *Buffered) drain() {
	defer close(b.done)
	for event := range b.queue {
		b.inner.Record(event)
	}
}

// Record enqueues without blocking; full queue drops the event.
func (b *Buffered) Record(event Event) {
	select {
	case b.queue <- event:
	default:
		b.mu.Lock()
		b.dropped++
		b.mu.Unlock()
	}
}

// Dropped reports how many events were discarded.
func (b *Buffered) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Close stops the drain goroutine after flushing queued events.
func (b *Buffered) Close() {
	b.once.Do(func() {
		close(b.queue)
		<-b.done
	})
}

var (
	_ Collector = Nop{}
	_ Collector = (*LogCollector)(nil)
	_ Collector = (*Fanout)(nil)
	_ Collector = (*Buffered)(nil)
)
