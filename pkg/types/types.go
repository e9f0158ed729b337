// Package types defines the shared types used across all loqua packages.
//
// These types form the lingua franca between providers and the orchestration
// core. They are intentionally minimal — each package defines its own domain
// types, but cross-cutting data structures live here to avoid circular imports.
package types

import "time"

// AudioFrame represents a single frame of PCM audio flowing through the
// pipeline. Frames are the atomic unit of audio transport: received from the
// client channel, processed by VAD, and forwarded to the transcriber. The
// Data slice must not be mutated after construction.
type AudioFrame struct {
	// Data is raw 16-bit signed little-endian PCM.
	Data []byte

	// SampleRate in Hz (16000 for the default client format).
	SampleRate int

	// Channels: 1 for mono. The core only handles mono audio.
	Channels int

	// Timestamp marks when this frame was received, relative to session start.
	Timestamp time.Duration
}

// Duration returns the playback duration of the frame, derived from the PCM
// byte length and sample rate. Returns zero for malformed frames.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := len(f.Data) / (2 * f.Channels)
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// Transcript represents a speech-to-text result from a transcriber.
// Both partial (interim) and final transcripts use this type.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal indicates whether this is a final (authoritative) or partial
	// (interim) transcript.
	IsFinal bool

	// Confidence is the overall confidence score (0.0–1.0). May be zero if
	// the provider does not report confidence.
	Confidence float64

	// Language is the BCP-47 tag of the recognised language, when reported.
	Language string

	// Timestamp marks when the utterance started, relative to session start.
	Timestamp time.Duration

	// Duration is the length of the utterance.
	Duration time.Duration
}

// Message represents a single message in a generator conversation history.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}
