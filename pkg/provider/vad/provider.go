// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine wraps a frame-level speech detector and surfaces it as a
// stateful, per-stream session. Each session maintains its own internal state
// (energy windows, hysteresis counters) so that multiple concurrent audio
// streams can be processed independently.
//
// VAD is synchronous by design: ProcessFrame returns immediately with a
// detection result, making it suitable for the orchestrator's single-writer
// loop where it gates turn-taking decisions.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle is owned by one orchestrator and must not be shared
// across goroutines.
package vad

import "time"

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the
	// PCM frames passed to ProcessFrame.
	SampleRate int

	// EnterThreshold is the normalised RMS energy above which frames count
	// towards a speech start. Range: (0.0, 1.0]. Typical: 0.01.
	EnterThreshold float64

	// ExitThreshold is the normalised RMS energy below which frames count
	// towards a speech end. Must be ≤ EnterThreshold. Typical: 0.005.
	ExitThreshold float64

	// MinSpeechDuration is how long energy must stay above EnterThreshold
	// before a speech start is reported. Suppresses spurious triggers from
	// clicks and pops. Typical: 100ms.
	MinSpeechDuration time.Duration

	// HangoverDuration is how long energy must stay below ExitThreshold
	// before an active speech segment is considered ended. Typical: 200ms.
	HangoverDuration time.Duration
}

// SessionHandle represents an active VAD session for a single audio stream.
// It is an interface so that test code can supply scripted implementations
// without a live detector. Each session maintains its own detection state;
// Reset clears this state without closing the session.
type SessionHandle interface {
	// ProcessFrame analyses a single audio frame and returns exactly one
	// detection event. The frame must be raw 16-bit little-endian PCM at the
	// SampleRate configured when the session was created. Returns an error if
	// the frame is malformed or the session is closed.
	//
	// This method is called synchronously in the orchestrator loop; it must
	// not block.
	ProcessFrame(frame []byte) (Event, error)

	// Reset clears all accumulated detection state (hysteresis counters,
	// silence accumulation) without closing the session. Use this when the
	// audio stream is interrupted or restarted.
	Reset()

	// Close releases all resources associated with the session. After Close,
	// ProcessFrame returns an error. Calling Close more than once is safe
	// and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions. It is the top-level interface
// implemented by each VAD backend.
//
// Implementations must be safe for concurrent use: multiple goroutines may
// call NewSession simultaneously to create independent sessions.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration.
	// The session is immediately ready to accept audio frames.
	//
	// Returns an error if the configuration is invalid (e.g., thresholds out
	// of range or ExitThreshold > EnterThreshold).
	NewSession(cfg Config) (SessionHandle, error)
}
