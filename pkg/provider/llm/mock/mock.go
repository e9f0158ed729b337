// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify that the orchestration core sends
// correct CompletionRequests and to feed controlled token streams without a
// live LLM backend. Two modes are supported:
//
//   - Scripted: set StreamChunks and every StreamCompletion call emits them
//     in order, then closes the channel.
//   - Manual: set Manual to true; each StreamCompletion call returns an open
//     channel the test drives via the recorded ManualStream. This is the mode
//     to use when a test needs to hold a response open (e.g., to interrupt it
//     mid-stream).
//
// All fields are safe to set before calling any method; mutating them during
// a concurrent call is the caller's responsibility.
package mock

import (
	"context"
	"sync"

	"github.com/loqua-ai/loqua/pkg/provider/llm"
)

// StreamCall records a single invocation of StreamCompletion.
type StreamCall struct {
	// Ctx is the context passed to StreamCompletion.
	Ctx context.Context
	// Req is the CompletionRequest passed to StreamCompletion.
	Req llm.CompletionRequest
}

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	// Ctx is the context passed to Complete.
	Ctx context.Context
	// Req is the CompletionRequest passed to Complete.
	Req llm.CompletionRequest
}

// ManualStream is the test-side handle for a manually driven stream. The
// channel returned to the code under test stays open until Close is called
// or the call's context is cancelled.
type ManualStream struct {
	// Ctx is the context of the StreamCompletion call that opened this stream.
	Ctx context.Context
	// Req is the request of the StreamCompletion call that opened this stream.
	Req llm.CompletionRequest

	ch   chan llm.Chunk
	once sync.Once
}

// Send delivers a chunk to the consumer. It returns false if the call's
// context was cancelled before the chunk could be delivered.
func (s *ManualStream) Send(c llm.Chunk) bool {
	select {
	case s.ch <- c:
		return true
	case <-s.Ctx.Done():
		return false
	}
}

// Close closes the stream channel. Safe to call more than once.
func (s *ManualStream) Close() {
	s.once.Do(func() { close(s.ch) })
}

// Provider is a mock implementation of llm.Provider.
// Zero values for response fields cause methods to return zero values and nil
// errors. Set Err fields to inject errors.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// StreamChunks is the sequence of Chunk values emitted on the channel
	// returned by StreamCompletion. All chunks are sent before the channel is
	// closed. Ignored when Manual is true.
	StreamChunks []llm.Chunk

	// StreamErr, if non-nil, is returned as the error from StreamCompletion
	// instead of opening a channel.
	StreamErr error

	// StreamErrs, if non-empty, scripts per-call errors: the i-th call to
	// StreamCompletion returns StreamErrs[i] when it is non-nil. Calls beyond
	// the slice fall back to StreamErr and the normal path.
	StreamErrs []error

	// Manual switches StreamCompletion into manually driven mode. Each call
	// appends a ManualStream to Streams and returns its open channel.
	Manual bool

	// CompleteResponse is returned by Complete. May be nil (returns nil, nil).
	CompleteResponse *llm.CompletionResponse

	// CompleteErr, if non-nil, is returned as the error from Complete.
	CompleteErr error

	// --- Call records (read after test) ---

	// StreamCalls records every invocation of StreamCompletion in order.
	StreamCalls []StreamCall

	// Streams records the manual stream handles opened in Manual mode.
	Streams []*ManualStream

	// CompleteCalls records every invocation of Complete in order.
	CompleteCalls []CompleteCall
}

// StreamCompletion records the call and returns a channel per the configured
// mode. If an error is scripted for this call, it returns nil and that error.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	callIdx := len(p.StreamCalls)
	p.StreamCalls = append(p.StreamCalls, StreamCall{Ctx: ctx, Req: req})

	if callIdx < len(p.StreamErrs) && p.StreamErrs[callIdx] != nil {
		err := p.StreamErrs[callIdx]
		p.mu.Unlock()
		return nil, err
	}
	if p.StreamErr != nil {
		err := p.StreamErr
		p.mu.Unlock()
		return nil, err
	}

	if p.Manual {
		s := &ManualStream{
			Ctx: ctx,
			Req: req,
			ch:  make(chan llm.Chunk),
		}
		p.Streams = append(p.Streams, s)
		p.mu.Unlock()
		return s.ch, nil
	}

	chunks := make([]llm.Chunk, len(p.StreamChunks))
	copy(chunks, p.StreamChunks)
	p.mu.Unlock()

	ch := make(chan llm.Chunk, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case <-ctx.Done():
				return
			case ch <- c:
			}
		}
	}()
	return ch, nil
}

// Complete records the call and returns CompleteResponse, CompleteErr.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	return p.CompleteResponse, p.CompleteErr
}

// LastStream returns the most recently opened manual stream, or nil if none.
func (p *Provider) LastStream() *ManualStream {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Streams) == 0 {
		return nil
	}
	return p.Streams[len(p.Streams)-1]
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StreamCalls = nil
	p.Streams = nil
	p.CompleteCalls = nil
}

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)
