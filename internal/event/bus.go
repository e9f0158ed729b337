package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ErrBusClosed is returned by Publish after Close.
var ErrBusClosed = errors.New("event: bus closed")

// Sink is the outbound half of a client channel: it writes one serialized
// event message to the transport.
type Sink interface {
	Send(ctx context.Context, data []byte) error
}

// DefaultCapacity is the queue depth used when BusConfig.Capacity is zero.
const DefaultCapacity = 256

// BusConfig configures a Bus.
type BusConfig struct {
	// Capacity is the bounded queue depth. Default: DefaultCapacity.
	Capacity int

	// Logger is used for delivery failures. Default: slog.Default().
	Logger *slog.Logger
}

// Bus is the per-session ordered event queue between the orchestration core
// and the client channel's writer.
//
// Publish is safe for concurrent use; wire order equals publish order for
// any single publishing goroutine. Under overload, transcript.partial events are
// coalesced (the newest pending partial wins) while every other event applies
// backpressure to the publisher. High-priority events (error, session.ended,
// assistant.interrupted) are never dropped.
//
// A sink failure is terminal for the bus: the first error is surfaced on
// Failed and all subsequent events are discarded so the publisher never
// blocks on a dead transport.
type Bus struct {
	sink   Sink
	logger *slog.Logger

	ch   chan Event
	done chan struct{}

	mu      sync.Mutex
	pending *Event // coalesced partial waiting for queue space
	closed  bool

	failed    chan error
	sinkDown  atomic.Bool
	delivered atomic.Int64
	coalesced atomic.Int64

	wg sync.WaitGroup
}

// NewBus creates a Bus and starts its writer goroutine.
func NewBus(sink Sink, cfg BusConfig) *Bus {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	b := &Bus{
		sink:   sink,
		logger: cfg.Logger,
		ch:     make(chan Event, cfg.Capacity),
		done:   make(chan struct{}),
		failed: make(chan error, 1),
	}
	b.wg.Add(1)
	go b.run()
	return b
}

// Publish enqueues an event for delivery. For transcript.partial it never
// blocks: when the queue is full the event replaces any pending partial (the
// client only cares about the newest hypothesis). All other events block
// until queue space is available, providing backpressure. Returns ErrBusClosed
// after Close.
func (b *Bus) Publish(ev Event) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}

	switch ev.Type {
	case TypePartial:
		select {
		case b.ch <- ev:
		default:
			if b.pending != nil {
				b.coalesced.Add(1)
			}
			b.pending = &ev
		}
		b.mu.Unlock()
		return nil

	case TypeFinal:
		// A final supersedes any partial still waiting for queue space.
		b.pending = nil
	}
	b.mu.Unlock()

	select {
	case b.ch <- ev:
		return nil
	case <-b.done:
		return ErrBusClosed
	}
}

// Failed returns a channel that yields the first sink error. The session uses
// it to detect a lost transport.
func (b *Bus) Failed() <-chan error {
	return b.failed
}

// Delivered returns the number of events written to the sink so far.
func (b *Bus) Delivered() int64 {
	return b.delivered.Load()
}

// Coalesced returns the number of partial events replaced before delivery.
func (b *Bus) Coalesced() int64 {
	return b.coalesced.Load()
}

// Close drains queued events to the sink and stops the writer. It is
// idempotent; Publish calls racing with Close may observe ErrBusClosed.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.wg.Wait()
		return
	}
	b.closed = true
	b.mu.Unlock()

	close(b.done)
	b.wg.Wait()
}

func (b *Bus) run() {
	defer b.wg.Done()

	for {
		select {
		case ev := <-b.ch:
			b.deliver(ev)
			b.deliverPendingIfIdle()
		case <-b.done:
			b.drain()
			return
		}
	}
}

// drain flushes everything still queued at close time.
func (b *Bus) drain() {
	for {
		select {
		case ev := <-b.ch:
			b.deliver(ev)
		default:
			b.deliverPendingIfIdle()
			return
		}
	}
}

// deliverPendingIfIdle sends the coalesced partial once the queue has gone
// empty, so it is never reordered ahead of events published before it.
func (b *Bus) deliverPendingIfIdle() {
	if len(b.ch) != 0 {
		return
	}
	b.mu.Lock()
	ev := b.pending
	b.pending = nil
	b.mu.Unlock()
	if ev != nil {
		b.deliver(*ev)
	}
}

func (b *Bus) deliver(ev Event) {
	if b.sinkDown.Load() {
		return
	}

	data, err := json.Marshal(ev)
	if err != nil {
		b.logger.Error("event: marshal failed",
			"session_id", ev.SessionID, "type", ev.Type, "error", err)
		return
	}

	if err := b.sink.Send(context.Background(), data); err != nil {
		b.sinkDown.Store(true)
		select {
		case b.failed <- fmt.Errorf("event: sink send: %w", err):
		default:
		}
		return
	}
	b.delivered.Add(1)
}
