package event

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

// captureSink records sent messages. When gate is non-nil, every Send blocks
// until a value is received from it, which lets tests saturate the bus.
type captureSink struct {
	mu   sync.Mutex
	msgs [][]byte
	gate chan struct{}
	err  error
}

func (s *captureSink) Send(ctx context.Context, data []byte) error {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.msgs = append(s.msgs, cp)
	return nil
}

func (s *captureSink) types(t *testing.T) []string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.msgs))
	for _, m := range s.msgs {
		var env struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(m, &env); err != nil {
			t.Fatalf("bad envelope %s: %v", m, err)
		}
		out = append(out, env.Type)
	}
	return out
}

func TestBusPreservesOrder(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	bus := NewBus(sink, BusConfig{Capacity: 16})

	seq := []Type{TypeSessionReady, TypePartial, TypeFinal, TypeThinking, TypeDelta, TypeDelta, TypeDone}
	for _, typ := range seq {
		if err := bus.Publish(New(typ, "s", nil)); err != nil {
			t.Fatalf("Publish(%s): %v", typ, err)
		}
	}
	bus.Close()

	got := sink.types(t)
	if len(got) != len(seq) {
		t.Fatalf("delivered %d events, want %d: %v", len(got), len(seq), got)
	}
	for i, typ := range seq {
		if got[i] != string(typ) {
			t.Errorf("event[%d] = %q, want %q", i, got[i], typ)
		}
	}
	if bus.Delivered() != int64(len(seq)) {
		t.Errorf("Delivered() = %d, want %d", bus.Delivered(), len(seq))
	}
}

func TestBusCoalescesPartialsUnderOverload(t *testing.T) {
	t.Parallel()

	sink := &captureSink{gate: make(chan struct{})}
	bus := NewBus(sink, BusConfig{Capacity: 1})

	// First partial is picked up by the writer and blocks on the gated sink;
	// the second fills the queue; the rest land in the pending slot.
	for i, text := range []string{"a", "ab", "abc", "abcd"} {
		err := bus.Publish(New(TypePartial, "s", TranscriptPayload{Text: text}))
		if err != nil {
			t.Fatalf("Publish #%d: %v", i, err)
		}
	}

	close(sink.gate)
	bus.Close()

	if bus.Coalesced() == 0 {
		t.Error("expected at least one coalesced partial")
	}

	sink.mu.Lock()
	last := sink.msgs[len(sink.msgs)-1]
	sink.mu.Unlock()

	var env struct {
		Payload TranscriptPayload `json:"payload"`
	}
	if err := json.Unmarshal(last, &env); err != nil {
		t.Fatalf("bad envelope: %v", err)
	}
	if env.Payload.Text != "abcd" {
		t.Errorf("last delivered partial = %q, want newest %q", env.Payload.Text, "abcd")
	}
}

func TestBusFinalSupersedesPendingPartial(t *testing.T) {
	t.Parallel()

	sink := &captureSink{gate: make(chan struct{})}
	bus := NewBus(sink, BusConfig{Capacity: 1})

	// Saturate so a partial sits in the pending slot, then publish the final
	// in a goroutine (it blocks for queue space until the gate opens).
	for _, text := range []string{"a", "ab", "abc"} {
		if err := bus.Publish(New(TypePartial, "s", TranscriptPayload{Text: text})); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	done := make(chan error, 1)
	go func() {
		done <- bus.Publish(New(TypeFinal, "s", TranscriptPayload{Text: "final", IsFinal: true}))
	}()

	close(sink.gate)
	if err := <-done; err != nil {
		t.Fatalf("Publish(final): %v", err)
	}
	bus.Close()

	types := sink.types(t)
	if types[len(types)-1] != string(TypeFinal) {
		t.Errorf("last event = %q, want final; all: %v", types[len(types)-1], types)
	}
	// The pending partial "abc" must not appear after the final.
	for i, typ := range types {
		if typ == string(TypeFinal) && i != len(types)-1 {
			t.Errorf("events after final: %v", types[i+1:])
		}
	}
}

func TestBusSinkFailureSurfacesOnFailed(t *testing.T) {
	t.Parallel()

	sinkErr := errors.New("connection reset")
	sink := &captureSink{err: sinkErr}
	bus := NewBus(sink, BusConfig{Capacity: 4})
	defer bus.Close()

	if err := bus.Publish(New(TypeDelta, "s", TextPayload{Text: "x"})); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case err := <-bus.Failed():
		if !errors.Is(err, sinkErr) {
			t.Errorf("Failed() = %v, want wrapped %v", err, sinkErr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sink failure")
	}

	// Further publishes must not block even though the sink is dead.
	for range 32 {
		if err := bus.Publish(New(TypeDelta, "s", TextPayload{Text: "y"})); err != nil {
			t.Fatalf("Publish after failure: %v", err)
		}
	}
}

func TestBusPublishAfterClose(t *testing.T) {
	t.Parallel()

	bus := NewBus(&captureSink{}, BusConfig{})
	bus.Close()

	if err := bus.Publish(New(TypeDelta, "s", nil)); !errors.Is(err, ErrBusClosed) {
		t.Errorf("Publish after Close = %v, want ErrBusClosed", err)
	}
}

func TestBusCloseIdempotent(t *testing.T) {
	t.Parallel()

	bus := NewBus(&captureSink{}, BusConfig{})
	bus.Close()
	bus.Close()
}
