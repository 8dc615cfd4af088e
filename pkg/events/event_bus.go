// pkg/events/event_bus.go
package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	deterrors "github.com/lucid-vigil/ransomguard/pkg/errors"
	"github.com/lucid-vigil/ransomguard/pkg/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	QueueOps     = "ops"
	QueueCreated = "created"
)

// Bus is the boundary between the capture layer and user-space processing.
// Publish never blocks: when a queue is full the event is dropped for that
// queue. Every event goes to the ops queue; creation events are also copied
// to the created queue for the one-shot file pathways.
type Bus struct {
	ops     chan Event
	created chan Event

	logger      zerolog.Logger
	metrics     *metrics.Metrics
	errors      *deterrors.ErrorHandler
	dropLimiter *rate.Limiter

	mu     sync.RWMutex
	closed bool

	published atomic.Uint64
	dropped   atomic.Uint64
	invalid   atomic.Uint64
}

// BusStats is a snapshot of the bus counters.
type BusStats struct {
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
	Invalid   uint64 `json:"invalid"`
	OpsQueued int    `json:"ops_queued"`
	Created   int    `json:"created_queued"`
}

// NewBus creates a bus with the given queue capacities.
func NewBus(logger zerolog.Logger, opsSize, createdSize int, m *metrics.Metrics) *Bus {
	if opsSize <= 0 {
		opsSize = 4096
	}
	if createdSize <= 0 {
		createdSize = 256
	}

	return &Bus{
		ops:         make(chan Event, opsSize),
		created:     make(chan Event, createdSize),
		logger:      logger.With().Str("component", "event_bus").Logger(),
		errors:      deterrors.NewErrorHandler(logger.With().Str("component", "event_bus").Logger(), nil),
		metrics:     m,
		dropLimiter: rate.NewLimiter(rate.Every(5*time.Second), 1),
	}
}

// Publish validates ev and enqueues it. It returns ErrBusClosed after Close,
// ErrInvalidEvent for malformed events and ErrBufferFull when any queue had
// to drop it.
func (b *Bus) Publish(ev Event) error {
	if err := ValidateEvent(&ev); err != nil {
		b.invalid.Add(1)
		b.metrics.EventDropped("invalid")
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}

	var full bool
	select {
	case b.ops <- ev:
		b.published.Add(1)
		b.metrics.EventReceived(ev.Op.String())
	default:
		full = true
		b.drop(QueueOps, ev)
	}

	if ev.Created {
		select {
		case b.created <- ev:
		default:
			full = true
			b.drop(QueueCreated, ev)
		}
	}

	if full {
		return ErrBufferFull
	}
	return nil
}

func (b *Bus) drop(queue string, ev Event) {
	n := b.dropped.Add(1)
	b.metrics.EventDropped(queue)
	if b.dropLimiter.Allow() {
		capErr := deterrors.NewCapacityEvent("event_bus", queue, n)
		capErr.Details["op"] = ev.Op.String()
		capErr.Details["tgid"] = ev.Tgid
		b.errors.HandleError(context.Background(), capErr)
	}
}

// Ops returns the queue of every accepted event.
func (b *Bus) Ops() <-chan Event {
	return b.ops
}

// Created returns the queue of creation events.
func (b *Bus) Created() <-chan Event {
	return b.created
}

// Close stops accepting events and closes both queues so consumers drain
// what is left and exit. It is safe to call more than once.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.ops)
	close(b.created)
	b.logger.Info().Msg("Event bus closed")
}

// Stats returns the current counters.
func (b *Bus) Stats() BusStats {
	return BusStats{
		Published: b.published.Load(),
		Dropped:   b.dropped.Load(),
		Invalid:   b.invalid.Load(),
		OpsQueued: len(b.ops),
		Created:   len(b.created),
	}
}

// Errors
var (
	ErrBufferFull   = fmt.Errorf("event queue is full")
	ErrBusClosed    = fmt.Errorf("event bus is closed")
	ErrInvalidEvent = fmt.Errorf("invalid event")
)
