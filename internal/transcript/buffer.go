// Package transcript maintains the per-session transcript state: a single
// mutable live segment holding the latest interim hypothesis, an ordered log
// of confirmed segments for the current turn, and the history of completed
// turns used to build generation context.
//
// The buffer is not safe for concurrent use; the session's orchestration
// goroutine is its only caller.
package transcript

import (
	"strings"
	"time"

	"github.com/loqua-ai/loqua/pkg/types"
)

// Segment is one confirmed piece of the current turn.
type Segment struct {
	Text       string
	Confidence float64
	Language   string
	Timestamp  time.Duration
	Duration   time.Duration
}

// TurnView is a read-only snapshot of the current turn, combining the
// confirmed log with the live suffix.
type TurnView struct {
	// Confirmed is the concatenation of all confirmed segments in arrival
	// order, space-joined.
	Confirmed string

	// Live is the current interim hypothesis, empty if none.
	Live string
}

// HasText reports whether the turn has any confirmed text. Live text alone
// does not count here; use [TurnView.HasAnyText] for that.
func (v TurnView) HasText() bool {
	return v.Confirmed != ""
}

// HasAnyText reports whether the turn holds any user text at all, confirmed
// or live.
func (v TurnView) HasAnyText() bool {
	return v.Confirmed != "" || v.Live != ""
}

// Full returns the confirmed text followed by the live suffix, space-joined.
func (v TurnView) Full() string {
	switch {
	case v.Confirmed == "":
		return v.Live
	case v.Live == "":
		return v.Confirmed
	default:
		return v.Confirmed + " " + v.Live
	}
}

// Buffer is the dual-buffer transcript manager for one session.
type Buffer struct {
	live      string
	confirmed []Segment
	history   []types.Message
}

// NewBuffer returns an empty Buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// UpdateLive replaces the live segment with the latest interim hypothesis.
// Interim results supersede each other by value; there is never more than one
// live segment.
func (b *Buffer) UpdateLive(text string) {
	b.live = text
}

// Live returns the current live segment text, empty if none.
func (b *Buffer) Live() string {
	return b.live
}

// ConfirmFinal appends a final transcript to the confirmed log and clears the
// live segment. A final whose text equals the most recent confirmed segment
// is treated as a duplicate delivery and ignored, so re-confirmation is
// idempotent. Finals with empty text clear the live segment but are not
// logged.
func (b *Buffer) ConfirmFinal(t types.Transcript) {
	b.live = ""
	if t.Text == "" {
		return
	}
	if n := len(b.confirmed); n > 0 && b.confirmed[n-1].Text == t.Text {
		return
	}
	b.confirmed = append(b.confirmed, Segment{
		Text:       t.Text,
		Confidence: t.Confidence,
		Language:   t.Language,
		Timestamp:  t.Timestamp,
		Duration:   t.Duration,
	})
}

// View returns a snapshot of the current turn.
func (b *Buffer) View() TurnView {
	return TurnView{
		Confirmed: b.joinConfirmed(),
		Live:      b.live,
	}
}

// ArchiveTurn moves the current turn's text, confirmed segments plus live
// suffix, into history as a user message and resets both buffers for the next
// turn. It returns the archived text, or "" if the turn held no text (in
// which case nothing is archived).
func (b *Buffer) ArchiveTurn() string {
	text := b.View().Full()
	b.live = ""
	b.confirmed = b.confirmed[:0]
	if text == "" {
		return ""
	}
	b.history = append(b.history, types.Message{Role: "user", Content: text})
	return text
}

// RecordAssistant appends a completed assistant reply to history. Empty
// replies (e.g., a response interrupted before any token) are not recorded.
func (b *Buffer) RecordAssistant(text string) {
	if text == "" {
		return
	}
	b.history = append(b.history, types.Message{Role: "assistant", Content: text})
}

// History returns the conversation history accumulated so far. The returned
// slice is a copy; callers may retain it across further buffer mutations.
func (b *Buffer) History() []types.Message {
	out := make([]types.Message, len(b.history))
	copy(out, b.history)
	return out
}

func (b *Buffer) joinConfirmed() string {
	if len(b.confirmed) == 0 {
		return ""
	}
	parts := make([]string, len(b.confirmed))
	for i, s := range b.confirmed {
		parts[i] = s.Text
	}
	return strings.Join(parts, " ")
}
