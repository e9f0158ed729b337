package vad

import "time"

// Event is the voice activity detection result for a single audio frame.
type Event struct {
	// Type is the detection result.
	Type EventType

	// Energy is the normalised RMS energy of the frame (0.0–1.0).
	Energy float64

	// Silence is the cumulative silence since the last speech end. It is only
	// meaningful for SpeechEnd and Silence events; silence accumulates only
	// while energy stays below the exit threshold.
	Silence time.Duration
}

// EventType enumerates VAD detection states.
type EventType int

const (
	// SpeechStart indicates speech has just begun.
	SpeechStart EventType = iota

	// SpeechContinue indicates ongoing speech.
	SpeechContinue

	// SpeechEnd indicates speech has just ended; Event.Silence carries the
	// silence accumulated so far (the hangover window).
	SpeechEnd

	// Silence indicates no speech detected.
	Silence
)

// String returns the human-readable name of the event type.
func (t EventType) String() string {
	switch t {
	case SpeechStart:
		return "speech_start"
	case SpeechContinue:
		return "speech_continue"
	case SpeechEnd:
		return "speech_end"
	case Silence:
		return "silence"
	default:
		return "unknown"
	}
}
