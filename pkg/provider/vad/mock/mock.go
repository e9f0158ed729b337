// Package mock provides test doubles for the vad package interfaces.
//
// Use Engine to control which SessionHandle is returned by NewSession. Use
// Session to script the event returned for each processed frame and inspect
// the frames that were delivered.
package mock

import (
	"sync"

	"github.com/loqua-ai/loqua/pkg/provider/vad"
)

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by NewSession. If nil, NewSession
	// returns a new default Session.
	Session vad.SessionHandle

	// NewSessionErr, if non-nil, is returned as the error from NewSession.
	NewSessionErr error

	// NewSessionCalls records the Config of every NewSession call.
	NewSessionCalls []vad.Config
}

// NewSession records the call and returns Session, NewSessionErr.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, cfg)
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{}, nil
}

// Ensure Engine implements vad.Engine at compile time.
var _ vad.Engine = (*Engine)(nil)

// Session is a mock implementation of vad.SessionHandle. Script the events
// to return by populating Events; once exhausted, ProcessFrame returns
// Silence events (or Err if set).
type Session struct {
	mu sync.Mutex

	// Events is the queue of events returned by successive ProcessFrame
	// calls. Each call consumes one entry.
	Events []vad.Event

	// Err, if non-nil, is returned by every ProcessFrame call.
	Err error

	// Frames records a copy of every frame passed to ProcessFrame.
	Frames [][]byte

	// ResetCount is the number of times Reset was called.
	ResetCount int

	// CloseCount is the number of times Close was called.
	CloseCount int
}

// ProcessFrame records frame and returns the next scripted event.
func (s *Session) ProcessFrame(frame []byte) (vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(frame))
	copy(cp, frame)
	s.Frames = append(s.Frames, cp)
	if s.Err != nil {
		return vad.Event{}, s.Err
	}
	if len(s.Events) == 0 {
		return vad.Event{Type: vad.Silence}, nil
	}
	ev := s.Events[0]
	s.Events = s.Events[1:]
	return ev, nil
}

// Push appends events to the scripted queue. Thread-safe.
func (s *Session) Push(events ...vad.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Events = append(s.Events, events...)
}

// Reset increments ResetCount.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCount++
}

// Close increments CloseCount and returns nil.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCount++
	return nil
}

// Ensure Session implements vad.SessionHandle at compile time.
var _ vad.SessionHandle = (*Session)(nil)
