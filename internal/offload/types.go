// Package offload runs heavy analytics off the caller's goroutine behind a
// timeout-guarded request/response protocol.
//
// Requests and replies cross the boundary as encoded envelopes, so a worker
// never shares memory with its caller. Workers are created lazily, one per
// operation name, in a bounded pool; the oldest is terminated to make room.
// A worker that times out or panics is terminated and never reused.
//
// Every state change is logged through internal/logging and published to
// subscribers, which the watch view uses to show in-flight calls.
package offload

import (
	"errors"
	"fmt"
	"time"

	"github.com/abelbrown/studyboard/internal/logging"
)

// Code classifies an offload failure.
type Code string

const (
	CodeTimeout    Code = "TIMEOUT"
	CodeWorker     Code = "WORKER_ERROR"
	CodeProcessing Code = "PROCESSING_ERROR"
	CodeCreate     Code = "WORKER_CREATE_ERROR"
	CodeCancelled  Code = "CANCELLED"
)

// Error is returned by Run for every failed call.
type Error struct {
	Code Code
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("offload %s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("offload %s: %s: %v", e.Op, e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// HasCode reports whether err is an offload *Error with the given code.
func HasCode(err error, code Code) bool {
	var oe *Error
	return errors.As(err, &oe) && oe.Code == code
}

var (
	errUnknownOp = errors.New("unknown operation")
	errClosed    = errors.New("pool closed")
	errTerminate = errors.New("worker terminated")
)

// Status is the lifecycle state of a call.
type Status string

const (
	StatusActive   Status = "active"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Call is the public record of one Run.
type Call struct {
	ID         string
	Op         string
	WorkerID   string
	Status     Status
	Code       Code
	Err        string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration returns how long the call took, or has been running.
func (c Call) Duration() time.Duration {
	if c.FinishedAt.IsZero() {
		if c.StartedAt.IsZero() {
			return 0
		}
		return time.Since(c.StartedAt)
	}
	return c.FinishedAt.Sub(c.StartedAt)
}

// StatusIcon returns a display icon for the call state.
func (c Call) StatusIcon() string {
	switch c.Status {
	case StatusActive:
		return "●"
	case StatusComplete:
		return "✓"
	case StatusFailed:
		return "✗"
	default:
		return "?"
	}
}

// Change names in Event.
const (
	ChangeStarted    = "started"
	ChangeCompleted  = "completed"
	ChangeFailed     = "failed"
	ChangeDiscarded  = "discarded"
	ChangeSpawned    = "spawned"
	ChangeTerminated = "terminated"
)

// Event is sent to subscribers on every state change. Worker lifecycle
// events carry only Op and WorkerID.
type Event struct {
	Call   Call
	Change string
	Reason string
}

// Stats tracks pool counters.
type Stats struct {
	Calls             int64
	Completed         int64
	Failed            int64
	Timeouts          int64
	Discarded         int64
	WorkersCreated    int64
	WorkersTerminated int64
	WorkersActive     int
	WorkersMax        int
	InFlight          int
}

func (s Stats) String() string {
	return fmt.Sprintf("Workers: %d/%d  In flight: %d  Done: %d  Failed: %d  Timeouts: %d",
		s.WorkersActive, s.WorkersMax, s.InFlight, s.Completed, s.Failed, s.Timeouts)
}

// LogEvent logs an offload event.
func LogEvent(ev Event) {
	c := ev.Call
	switch ev.Change {
	case ChangeStarted:
		logging.Debug("Offload started", "call", c.ID, "op", c.Op, "worker", c.WorkerID)
	case ChangeCompleted:
		logging.Info("Offload completed", "call", c.ID, "op", c.Op, "duration", c.Duration())
	case ChangeFailed:
		logging.Error("Offload failed", "call", c.ID, "op", c.Op, "code", c.Code, "error", c.Err, "duration", c.Duration())
	case ChangeDiscarded:
		logging.Warn("Offload reply discarded", "call", c.ID, "op", c.Op, "worker", c.WorkerID)
	case ChangeSpawned:
		logging.Debug("Offload worker spawned", "op", c.Op, "worker", c.WorkerID)
	case ChangeTerminated:
		logging.Info("Offload worker terminated", "op", c.Op, "worker", c.WorkerID, "reason", ev.Reason)
	}
}
