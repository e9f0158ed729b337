// Package pause classifies silence gaps between user utterances.
//
// The classifier is a pure function over the measured silence duration and
// what text the current turn holds. It decides when a gap is just a breath
// inside an utterance, when the speaker has likely finished a thought, and
// when they have clearly stopped talking.
package pause

import "time"

// Type enumerates the pause classes.
type Type string

const (
	// TypeNaturalGap is a short gap inside an ongoing utterance. The turn
	// stays open.
	TypeNaturalGap Type = "natural_gap"

	// TypeEndOfThought is a medium gap suggesting the speaker finished a
	// complete thought. The turn commits if it has confirmed text; a live
	// hypothesis alone is not trusted yet at this pause length.
	TypeEndOfThought Type = "end_of_thought"

	// TypeLongPause is a long gap: the speaker has stopped. The turn commits
	// whenever there is any user text at all, live included.
	TypeLongPause Type = "long_pause"
)

// Config holds the classification boundaries. Silence strictly below
// NaturalGapMax is a natural gap; silence at or above EndOfThoughtMin is a
// long pause; everything in between is end of thought.
type Config struct {
	NaturalGapMax   time.Duration
	EndOfThoughtMin time.Duration
}

// DefaultConfig returns the standard boundaries: gaps under 1s stay open,
// gaps of 3s or more always end the turn.
func DefaultConfig() Config {
	return Config{
		NaturalGapMax:   time.Second,
		EndOfThoughtMin: 3 * time.Second,
	}
}

// Classification is the result of classifying one silence gap.
type Classification struct {
	// Type is the pause class.
	Type Type

	// Duration is the silence duration that was classified.
	Duration time.Duration

	// ShouldCommit reports whether the turn should be committed for
	// generation. It is never true when the turn holds no user text.
	ShouldCommit bool
}

// Classify maps a silence duration onto a pause class and a commit decision.
// hasConfirmed reports whether the current turn's confirmed log is non-empty;
// hasAnyText additionally counts the live hypothesis. An end-of-thought gap
// commits only on confirmed text, while a long pause commits on any text, so
// a turn whose final never arrived still commits once the speaker has clearly
// stopped.
func Classify(silence time.Duration, hasConfirmed, hasAnyText bool, cfg Config) Classification {
	c := Classification{Duration: silence}

	switch {
	case silence < cfg.NaturalGapMax:
		c.Type = TypeNaturalGap
		c.ShouldCommit = false
	case silence < cfg.EndOfThoughtMin:
		c.Type = TypeEndOfThought
		c.ShouldCommit = hasConfirmed
	default:
		c.Type = TypeLongPause
		c.ShouldCommit = hasAnyText
	}

	return c
}
