// Package audit implements the Audit/Event Emitter (C11): a
// bounded-backpressure sink for the typed AuthEvent records described
// in spec §4.11. Producers never block on a slow or stalled sink;
// once the buffer is full, non-critical events are dropped before
// critical ones, and the drop count is tracked so operators can see
// loss rather than silently lose it.
//
// Grounded on the teacher's logx-based structured logging for the
// synchronous sink (domain/auth and shared/repository both log
// structured fields via core/logx rather than fmt), and on
// prometheus/client_golang (already in the teacher's module graph
// transitively through zeromicro/go-zero, and used directly for gauges
// and counters by streamspace-dev-streamspace/controller/pkg/metrics)
// for the buffer-occupancy and drop-count instrumentation named in
// SPEC_FULL.md's domain stack table.
package audit

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/zeromicro/go-zero/core/logx"

	"github.com/shieldgate/authcore/internal/models"
)

// Sink receives events that survived backpressure, in emission order
// per Emitter instance. A Sink must not block indefinitely; Emitter
// does not apply its own timeout to Sink calls.
type Sink interface {
	Write(ctx context.Context, event models.AuthEvent)
}

// criticalEventTypes names the subset of AuthEventType that the
// emitter preserves ahead of everything else when the buffer is under
// pressure (§4.11, §7: "Invariant violations abort the request and
// emit a critical audit event").
var criticalEventTypes = map[models.AuthEventType]bool{
	models.EventRefreshReused: true,
	models.EventAccountLocked: true,
	models.EventRiskDenied:    true,
}

// IsCritical reports whether event is critical: either the caller set
// its Critical flag, or its type is in criticalEventTypes, which are
// critical regardless of that flag.
func IsCritical(event models.AuthEvent) bool {
	return event.Critical || criticalEventTypes[event.Type]
}

var (
	bufferOccupancy = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "authcore_audit_buffer_occupancy",
		Help: "Number of audit events currently queued in the emitter's buffer.",
	})
	eventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authcore_audit_events_dropped_total",
		Help: "Total audit events dropped by backpressure, by criticality.",
	}, []string{"critical"})
	eventsEmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authcore_audit_events_emitted_total",
		Help: "Total audit events handed to the sink, by type.",
	}, []string{"type"})
)

func init() {
	prometheus.MustRegister(bufferOccupancy, eventsDropped, eventsEmitted)
}

// Emitter buffers AuthEvents and drains them to a Sink on a single
// goroutine, so a slow Sink serializes its own writes without the
// emitter needing its own lock around Sink.Write. Capacity bounds
// memory; once full, Emit drops the oldest non-critical event to make
// room for a new one, and drops the incoming event itself if nothing
// non-critical remains to evict (§4.11: "drops non-critical events
// before critical ones").
type Emitter struct {
	mu       sync.Mutex
	buf      []models.AuthEvent
	capacity int
	sink     Sink
	nextID   atomic.Int64
	dropped  atomic.Int64
	wake     chan struct{}
	done     chan struct{}
}

// New constructs an Emitter with the given buffer capacity, draining
// to sink on a background goroutine. Call Close to have the goroutine
// flush the remaining events and stop; Close does not wait for that
// flush to finish.
func New(capacity int, sink Sink) *Emitter {
	if capacity <= 0 {
		capacity = 1024
	}
	e := &Emitter{
		capacity: capacity,
		sink:     sink,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go e.drainLoop()
	return e
}

// DroppedCount returns the cumulative number of events dropped by
// backpressure since construction.
func (e *Emitter) DroppedCount() int64 {
	return e.dropped.Load()
}

// Emit enqueues event for delivery, stamping a monotonic ID. It never
// blocks on the Sink: at most it takes a short-lived mutex to splice
// into the buffer.
func (e *Emitter) Emit(event models.AuthEvent) {
	event.ID = e.nextID.Add(1)

	e.mu.Lock()
	if len(e.buf) >= e.capacity {
		if !e.evictOneNonCritical() {
			e.mu.Unlock()
			e.dropped.Add(1)
			eventsDropped.WithLabelValues(boolLabel(IsCritical(event))).Inc()
			logx.Errorf("audit: buffer full, dropped %s event (correlation=%s)", event.Type, event.CorrelationID)
			return
		}
	}
	e.buf = append(e.buf, event)
	bufferOccupancy.Set(float64(len(e.buf)))
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// evictOneNonCritical drops the oldest non-critical event to free a
// slot, reporting whether it found one. Caller holds e.mu.
func (e *Emitter) evictOneNonCritical() bool {
	for i, ev := range e.buf {
		if IsCritical(ev) {
			continue
		}
		e.dropped.Add(1)
		eventsDropped.WithLabelValues("false").Inc()
		e.buf = append(e.buf[:i], e.buf[i+1:]...)
		return true
	}
	return false
}

func (e *Emitter) drainLoop() {
	for {
		select {
		case <-e.wake:
			e.drainOnce()
		case <-e.done:
			e.drainOnce() // final flush
			return
		}
	}
}

func (e *Emitter) drainOnce() {
	ctx := context.Background()
	for {
		e.mu.Lock()
		if len(e.buf) == 0 {
			e.mu.Unlock()
			return
		}
		event := e.buf[0]
		e.buf = e.buf[1:]
		bufferOccupancy.Set(float64(len(e.buf)))
		e.mu.Unlock()

		if e.sink != nil {
			e.sink.Write(ctx, event)
		}
		eventsEmitted.WithLabelValues(string(event.Type)).Inc()
	}
}

// Close signals the drain goroutine to flush the current buffer and
// stop. It returns without waiting for the flush.
func (e *Emitter) Close() {
	close(e.done)
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
