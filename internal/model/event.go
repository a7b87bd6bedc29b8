package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType is the kind of a push event.
type EventType string

const (
	EventSessionStart     EventType = "session_start"
	EventSessionEnd       EventType = "session_end"
	EventQuestionAnswered EventType = "question_answered"
	EventExamCompleted    EventType = "exam_completed"
)

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	switch t {
	case EventSessionStart, EventSessionEnd, EventQuestionAnswered, EventExamCompleted:
		return true
	}
	return false
}

// Event is a push notification. Payloads are hints only; receivers refetch.
type Event struct {
	Type      EventType       `json:"type"`
	UserID    string          `json:"userId"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// DecodeEvent parses one event and rejects unknown types.
func DecodeEvent(b []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(b, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if !ev.Type.Valid() {
		return Event{}, fmt.Errorf("decode event: unknown type %q", ev.Type)
	}
	return ev, nil
}
