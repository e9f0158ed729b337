// Package event defines the outbound event protocol of a session and the
// per-session Bus that delivers events, in order, to the client channel.
package event

import (
	"encoding/json"
	"time"
)

// Type identifies an outbound event. The values are the wire-level "type"
// field of the JSON envelope.
type Type string

const (
	TypeSessionReady Type = "session.ready"
	TypeSessionEnded Type = "session.ended"
	TypePartial      Type = "transcript.partial"
	TypeFinal        Type = "transcript.final"
	TypeThinking     Type = "assistant.thinking"
	TypeDelta        Type = "assistant.delta"
	TypeDone         Type = "assistant.done"
	TypeInterrupted  Type = "assistant.interrupted"
	TypeError        Type = "error"
	TypePong         Type = "pong"
)

// Error codes carried by error event payloads. These are stable strings the
// client can switch on.
const (
	CodeValidation            = "VALIDATION"
	CodeSessionNotInitialized = "SESSION_NOT_INITIALIZED"
	CodeIngestOverrun         = "INGEST_OVERRUN"
	CodeSTTUnavailable        = "STT_UNAVAILABLE"
	CodeAIUnavailable         = "AI_UNAVAILABLE"
	CodeVADFailed             = "VAD_FAILED"
	CodeTransportLost         = "TRANSPORT_LOST"
	CodeInternal              = "INTERNAL"
)

// highPriority reports whether events of this type must never be dropped or
// coalesced by the Bus.
func (t Type) highPriority() bool {
	switch t {
	case TypeError, TypeSessionEnded, TypeInterrupted:
		return true
	}
	return false
}

// TranscriptPayload is the payload of transcript.partial and transcript.final.
type TranscriptPayload struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	IsFinal    bool    `json:"isFinal"`
}

// TextPayload is the payload of assistant.delta and assistant.done. For a
// delta it carries the increment; for done it carries the full response text.
type TextPayload struct {
	Text string `json:"text"`
}

// ErrorPayload is the payload of error events.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Event is one outbound event. Payload must be JSON-marshalable; nil payloads
// serialize as an empty object.
type Event struct {
	Type      Type
	SessionID string
	Payload   any
	Timestamp time.Time
}

// New constructs an event stamped with the current time.
func New(t Type, sessionID string, payload any) Event {
	return Event{
		Type:      t,
		SessionID: sessionID,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// envelope is the wire form of an Event.
type envelope struct {
	Type      Type            `json:"type"`
	SessionID string          `json:"sessionId"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
}

// MarshalJSON encodes the event as its wire envelope: type, sessionId,
// payload, and the timestamp in Unix milliseconds.
func (e Event) MarshalJSON() ([]byte, error) {
	payload := e.Payload
	if payload == nil {
		payload = struct{}{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{
		Type:      e.Type,
		SessionID: e.SessionID,
		Payload:   raw,
		Timestamp: e.Timestamp.UnixMilli(),
	})
}
