// Package stream decodes the server-sent event stream returned by the chat endpoint.
package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

// EventType tags a decoded event payload
type EventType string

const (
	TypeAgentMessage  EventType = "agent_message"
	TypeAgentThinking EventType = "agent_thinking"
	TypeSessionUpdate EventType = "session_update"
	TypeUserMessage   EventType = "user_message"
	TypeDone          EventType = "done"
)

var (
	ErrMalformedPayload = errors.New("malformed event payload")
	ErrMissingType      = errors.New("event payload has no type")
	ErrUnknownType      = errors.New("unknown event type")
	ErrMissingField     = errors.New("event payload missing required field")
	ErrRecordTooLarge   = errors.New("event record exceeds size limit")
)

// Event is one decoded payload from the stream
type Event struct {
	Type      EventType `json:"type"`
	Message   string    `json:"message,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Agent     string    `json:"agent,omitempty"`
}

// Result is the outcome of decoding one event record. Err is set when the
// record carried data that could not be turned into an Event.
type Result struct {
	Event Event
	Raw   string
	Err   error
}

// OK reports whether the record decoded into a usable event
func (r Result) OK() bool {
	return r.Err == nil
}

// Snippet returns Raw cut to at most n bytes without splitting a rune,
// marking a cut with "..."
func (r Result) Snippet(n int) string {
	if len(r.Raw) <= n {
		return r.Raw
	}
	for n > 0 && !utf8.RuneStart(r.Raw[n]) {
		n--
	}
	return r.Raw[:n] + "..."
}

// ParsePayload turns the data of one record into an Event
func ParsePayload(raw string) (Event, error) {
	var ev Event
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	switch ev.Type {
	case "":
		return Event{}, ErrMissingType
	case TypeAgentMessage, TypeAgentThinking, TypeUserMessage, TypeDone:
		return ev, nil
	case TypeSessionUpdate:
		if ev.SessionID == "" {
			return Event{}, fmt.Errorf("%w: session_id", ErrMissingField)
		}
		return ev, nil
	default:
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownType, ev.Type)
	}
}
