// Package audit records fact mutations in the append-only event log.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lazypower/keepsake/internal/metrics"
	"github.com/lazypower/keepsake/internal/store"
)

// Writer persists a batch of events. *store.DB satisfies it.
type Writer interface {
	InsertEvents(ctx context.Context, events []store.Event) error
}

// FlushPolicy controls when buffered events are written.
type FlushPolicy struct {
	Async         bool
	BatchSize     int
	FlushInterval time.Duration
}

// DefaultPolicy buffers up to 64 events or 2 seconds, whichever comes first.
var DefaultPolicy = FlushPolicy{Async: true, BatchSize: 64, FlushInterval: 2 * time.Second}

const writeTimeout = 5 * time.Second

// Sink is a best-effort audit recorder. Write failures are logged and
// dropped; they never reach the mutation that produced the event.
type Sink struct {
	w      Writer
	policy FlushPolicy

	queue chan store.Event
	flush chan chan struct{}
	done  chan struct{}

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// NewSink creates a sink. In async mode a background goroutine owns the
// buffer until Close.
func NewSink(w Writer, policy FlushPolicy) *Sink {
	if policy.BatchSize <= 0 {
		policy.BatchSize = DefaultPolicy.BatchSize
	}
	if policy.FlushInterval <= 0 {
		policy.FlushInterval = DefaultPolicy.FlushInterval
	}

	s := &Sink{w: w, policy: policy, done: make(chan struct{})}
	if policy.Async {
		s.queue = make(chan store.Event, policy.BatchSize*4)
		s.flush = make(chan chan struct{})
		go s.loop()
	} else {
		close(s.done)
	}
	return s
}

// Record implements store.AuditRecorder.
func (s *Sink) Record(ctx context.Context, ev store.Event) {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	if !s.policy.Async {
		s.write(context.WithoutCancel(ctx), []store.Event{ev})
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		metrics.AuditEvents.WithLabelValues("dropped").Inc()
		log.Warn().Str("fact_id", ev.FactID).Str("type", string(ev.Type)).Msg("audit: sink closed, event dropped")
		return
	}
	select {
	case s.queue <- ev:
		metrics.AuditQueueDepth.Set(float64(len(s.queue)))
	default:
		metrics.AuditEvents.WithLabelValues("dropped").Inc()
		log.Warn().Str("fact_id", ev.FactID).Str("type", string(ev.Type)).Msg("audit: queue full, event dropped")
	}
}

// Flush blocks until every event queued before the call has been written.
func (s *Sink) Flush() {
	if !s.policy.Async {
		return
	}
	ack := make(chan struct{})
	select {
	case s.flush <- ack:
		<-ack
	case <-s.done:
	}
}

// Close drains the queue and stops the background writer.
func (s *Sink) Close() error {
	s.closeOnce.Do(func() {
		if !s.policy.Async {
			return
		}
		s.mu.Lock()
		s.closed = true
		close(s.queue)
		s.mu.Unlock()
		<-s.done
	})
	return nil
}

func (s *Sink) loop() {
	defer close(s.done)

	ticker := time.NewTicker(s.policy.FlushInterval)
	defer ticker.Stop()

	buf := make([]store.Event, 0, s.policy.BatchSize)
	drain := func() {
		if len(buf) == 0 {
			return
		}
		s.write(context.Background(), buf)
		buf = buf[:0]
		metrics.AuditQueueDepth.Set(float64(len(s.queue)))
	}

	for {
		select {
		case ev, ok := <-s.queue:
			if !ok {
				drain()
				return
			}
			buf = append(buf, ev)
			if len(buf) >= s.policy.BatchSize {
				drain()
			}
		case ack := <-s.flush:
			for n := len(s.queue); n > 0; n-- {
				buf = append(buf, <-s.queue)
			}
			drain()
			close(ack)
		case <-ticker.C:
			drain()
		}
	}
}

func (s *Sink) write(ctx context.Context, events []store.Event) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	if err := s.w.InsertEvents(ctx, events); err != nil {
		metrics.AuditEvents.WithLabelValues("failed").Add(float64(len(events)))
		log.Warn().Err(err).Int("events", len(events)).Msg("audit: write failed")
		return
	}
	metrics.AuditEvents.WithLabelValues("written").Add(float64(len(events)))
}
