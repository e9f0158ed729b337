// Package energy implements a windowed RMS energy VAD with hysteresis.
//
// The detector classifies each frame by its normalised root-mean-square
// energy against two thresholds: speech begins only after energy has stayed
// above the enter threshold for a minimum duration, and ends only after
// energy has stayed below the exit threshold for a hangover window. The dead
// band between the two thresholds prevents oscillation when energy hovers
// around a single cut-off.
//
// The detector is deliberately simple — no spectral features, no model — so
// it adds no measurable latency to the orchestrator loop.
package energy

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/loqua-ai/loqua/pkg/provider/vad"
	"github.com/loqua-ai/loqua/pkg/types"
)

// Default detection parameters, applied by NewSession when the corresponding
// Config field is zero.
const (
	DefaultEnterThreshold    = 0.01
	DefaultExitThreshold     = 0.005
	DefaultMinSpeechDuration = 100 * time.Millisecond
	DefaultHangoverDuration  = 200 * time.Millisecond
)

// Engine implements vad.Engine using windowed RMS energy estimation.
// The zero value is ready to use.
type Engine struct{}

// Compile-time assertion that Engine satisfies the vad.Engine interface.
var _ vad.Engine = (*Engine)(nil)

// New returns a ready-to-use energy VAD engine.
func New() *Engine { return &Engine{} }

// NewSession creates a detection session. Zero-valued thresholds and
// durations in cfg are replaced with package defaults.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("energy: sample rate %d is invalid", cfg.SampleRate)
	}
	if cfg.EnterThreshold == 0 {
		cfg.EnterThreshold = DefaultEnterThreshold
	}
	if cfg.ExitThreshold == 0 {
		cfg.ExitThreshold = DefaultExitThreshold
	}
	if cfg.MinSpeechDuration == 0 {
		cfg.MinSpeechDuration = DefaultMinSpeechDuration
	}
	if cfg.HangoverDuration == 0 {
		cfg.HangoverDuration = DefaultHangoverDuration
	}
	if cfg.EnterThreshold < 0 || cfg.EnterThreshold > 1 {
		return nil, fmt.Errorf("energy: enter threshold %g is out of range (0, 1]", cfg.EnterThreshold)
	}
	if cfg.ExitThreshold < 0 || cfg.ExitThreshold > cfg.EnterThreshold {
		return nil, fmt.Errorf("energy: exit threshold %g must be in (0, %g]", cfg.ExitThreshold, cfg.EnterThreshold)
	}
	return &session{cfg: cfg}, nil
}

// session is a single-stream detection state machine.
// It is owned by one orchestrator goroutine and is not locked.
type session struct {
	cfg vad.Config

	speaking bool
	above    time.Duration // time spent above EnterThreshold while not speaking
	below    time.Duration // time spent below ExitThreshold while speaking
	silence  time.Duration // cumulative silence since last speech end
	closed   bool
}

var errClosed = errors.New("energy: session is closed")

// ProcessFrame classifies one PCM frame and advances the hysteresis state.
func (s *session) ProcessFrame(frame []byte) (vad.Event, error) {
	if s.closed {
		return vad.Event{}, errClosed
	}
	if len(frame) == 0 || len(frame)%2 != 0 {
		return vad.Event{}, fmt.Errorf("energy: frame length %d is not a whole number of 16-bit samples", len(frame))
	}

	energy := rms(frame)
	dur := types.AudioFrame{Data: frame, SampleRate: s.cfg.SampleRate, Channels: 1}.Duration()

	if s.speaking {
		if energy < s.cfg.ExitThreshold {
			s.below += dur
			if s.below >= s.cfg.HangoverDuration {
				s.speaking = false
				s.above = 0
				s.silence = s.below
				return vad.Event{Type: vad.SpeechEnd, Energy: energy, Silence: s.silence}, nil
			}
			return vad.Event{Type: vad.SpeechContinue, Energy: energy}, nil
		}
		// Back above the exit threshold: the dip was not a real pause.
		s.below = 0
		return vad.Event{Type: vad.SpeechContinue, Energy: energy}, nil
	}

	switch {
	case energy >= s.cfg.EnterThreshold:
		s.above += dur
		if s.above >= s.cfg.MinSpeechDuration {
			s.speaking = true
			s.below = 0
			s.silence = 0
			return vad.Event{Type: vad.SpeechStart, Energy: energy}, nil
		}
		// Candidate speech, not yet long enough to confirm. Silence does not
		// accumulate while energy is above the enter threshold.
		return vad.Event{Type: vad.Silence, Energy: energy, Silence: s.silence}, nil

	case energy < s.cfg.ExitThreshold:
		s.above = 0
		s.silence += dur
		return vad.Event{Type: vad.Silence, Energy: energy, Silence: s.silence}, nil

	default:
		// Dead band between exit and enter: neither speech progress nor
		// silence accumulation.
		s.above = 0
		return vad.Event{Type: vad.Silence, Energy: energy, Silence: s.silence}, nil
	}
}

// Reset clears all detection state without closing the session.
func (s *session) Reset() {
	s.speaking = false
	s.above = 0
	s.below = 0
	s.silence = 0
}

// Close marks the session closed. Safe to call multiple times.
func (s *session) Close() error {
	s.closed = true
	return nil
}

// rms computes the normalised root-mean-square energy of a little-endian
// 16-bit PCM frame. The result is in [0, 1].
func rms(frame []byte) float64 {
	n := len(frame) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < len(frame); i += 2 {
		sample := int16(uint16(frame[i]) | uint16(frame[i+1])<<8)
		v := float64(sample)
		sum += v * v
	}
	return math.Sqrt(sum/float64(n)) / 32768.0
}
