// Package tui is the terminal view over an analytics store: metrics,
// weaknesses, recent mock exams and the store's loading and error flags,
// redrawn whenever the store signals a change.
package tui

import (
	"github.com/abelbrown/studyboard/internal/analytics"
	"github.com/abelbrown/studyboard/internal/otel"
)

// StateLoaded carries a fresh store snapshot and, when tracing into a ring,
// the most recent trace events.
type StateLoaded struct {
	State  analytics.State
	Events []otel.Event
}

// Changed is sent when the store signals a change.
type Changed struct{}

// RefreshTick triggers a periodic refresh.
type RefreshTick struct{}
