// Package otel records structured trace events for studyboard.
//
// Events are typed structs serialized as JSONL lines. The Logger writes them
// asynchronously through a buffered channel and a background drain goroutine.
// An optional Ring keeps recent events in memory for the watch view.
package otel

import (
	"encoding/json"
	"time"
)

// Level defines event severity for filtering.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// EventKind identifies the category of an event, "<subsystem>.<action>".
type EventKind string

const (
	// Store fetches
	KindFetchStart    EventKind = "fetch.start"
	KindFetchComplete EventKind = "fetch.complete"
	KindFetchError    EventKind = "fetch.error"
	KindFetchStale    EventKind = "fetch.stale"

	// Request cache
	KindCacheHit   EventKind = "cache.hit"
	KindCacheMiss  EventKind = "cache.miss"
	KindCacheClear EventKind = "cache.clear"

	// Batch writes
	KindBatchFlush EventKind = "batch.flush"

	// Offload pool
	KindOffloadStart     EventKind = "offload.start"
	KindOffloadDone      EventKind = "offload.done"
	KindOffloadError     EventKind = "offload.error"
	KindOffloadTimeout   EventKind = "offload.timeout"
	KindOffloadDiscarded EventKind = "offload.discarded"
	KindOffloadEvict     EventKind = "offload.evict"

	// Push channel
	KindRealtimeConnect    EventKind = "realtime.connect"
	KindRealtimeEvent      EventKind = "realtime.event"
	KindRealtimeDisconnect EventKind = "realtime.disconnect"

	// Reference backend
	KindHTTPRequest EventKind = "http.request"
	KindStoreError  EventKind = "store.error"

	// Process lifecycle
	KindStartup  EventKind = "sys.startup"
	KindShutdown EventKind = "sys.shutdown"
	KindError    EventKind = "sys.error"
)

// Event is the universal trace record. Every field except Kind and Time is
// optional.
type Event struct {
	Time      time.Time      `json:"t"`
	Level     Level          `json:"level,omitempty"`
	Kind      EventKind      `json:"kind"`
	Comp      string         `json:"comp,omitempty"` // "store", "offload", "server", ...
	SessionID string         `json:"session_id,omitempty"`
	UserID    string         `json:"user,omitempty"`
	Scope     string         `json:"scope,omitempty"` // slice or cache key
	Op        string         `json:"op,omitempty"`    // offload operation
	CallID    string         `json:"call,omitempty"`
	Dur       time.Duration  `json:"-"`
	DurMs     float64        `json:"dur_ms,omitempty"` // filled from Dur at marshal time
	Count     int            `json:"count,omitempty"`
	Err       string         `json:"err,omitempty"`
	Msg       string         `json:"msg,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// MarshalJSON converts Dur to DurMs.
func (e Event) MarshalJSON() ([]byte, error) {
	type alias Event
	a := alias(e)
	if e.Dur > 0 {
		a.DurMs = float64(e.Dur) / float64(time.Millisecond)
	}
	return json.Marshal(a)
}

// CountKinds tallies events by kind.
func CountKinds(events []Event) map[EventKind]int {
	counts := make(map[EventKind]int)
	for _, e := range events {
		counts[e.Kind]++
	}
	return counts
}
