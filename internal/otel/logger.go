package otel

// The drain goroutine is the only reader of l.ch and the only writer to l.w.
// l.mu guards the ring pointer only; the ring has its own lock and no lock is
// held while pushing to it.

import (
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// writerChanSize bounds the async write queue (~800KB at ~200 bytes/event).
const writerChanSize = 4096

var wire = jsoniter.ConfigCompatibleWithStandardLibrary

type logEntry struct {
	data []byte
	ev   Event
}

// Logger serializes events as JSONL via an async background writer.
// A nil *Logger is valid and discards everything, so components can hold an
// optional trace without nil checks.
type Logger struct {
	mu        sync.Mutex
	ring      *Ring[Event]
	sessionID string
	ch        chan logEntry
	w         io.Writer
	dropped   atomic.Uint64
	closed    atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

// NewLogger creates a Logger writing JSONL to w. Call Close to flush.
func NewLogger(w io.Writer) *Logger {
	var sid [8]byte
	_, _ = rand.Read(sid[:])

	l := &Logger{
		sessionID: fmt.Sprintf("%x", sid[:]),
		ch:        make(chan logEntry, writerChanSize),
		w:         w,
		done:      make(chan struct{}),
	}
	go l.drain()
	return l
}

// NewNullLogger creates a Logger that discards output but still feeds an
// attached ring.
func NewNullLogger() *Logger {
	return NewLogger(io.Discard)
}

// OpenFile appends JSONL events to path.
func OpenFile(path string) (*Logger, io.Closer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open trace file: %w", err)
	}
	return NewLogger(f), f, nil
}

func (l *Logger) drain() {
	defer close(l.done)
	for entry := range l.ch {
		if _, err := l.w.Write(entry.data); err != nil {
			l.dropped.Add(1)
		}

		l.mu.Lock()
		ring := l.ring
		l.mu.Unlock()

		if ring != nil {
			ring.Push(copyExtra(entry.ev))
		}
	}
}

// Emit queues an event. Time defaults to now. Never blocks: a full queue or
// closed logger drops the event and bumps the drop counter.
func (l *Logger) Emit(e Event) {
	if l == nil {
		return
	}
	// Close may race the closed check below; a send on the closed channel is
	// counted as a drop.
	defer func() {
		if recover() != nil {
			l.dropped.Add(1)
		}
	}()

	if l.closed.Load() {
		l.dropped.Add(1)
		return
	}

	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	e.SessionID = l.sessionID

	data, err := wire.Marshal(e)
	if err != nil {
		l.dropped.Add(1)
		return
	}
	data = append(data, '\n')

	select {
	case l.ch <- logEntry{data: data, ev: e}:
	default:
		l.dropped.Add(1)
	}
}

// Info emits an info-level event.
func (l *Logger) Info(kind EventKind, comp, msg string) {
	l.Emit(Event{Level: LevelInfo, Kind: kind, Comp: comp, Msg: msg})
}

// Warn emits a warn-level event.
func (l *Logger) Warn(kind EventKind, comp, msg string) {
	l.Emit(Event{Level: LevelWarn, Kind: kind, Comp: comp, Msg: msg})
}

// Error emits an error-level event. A nil err is logged as empty.
func (l *Logger) Error(kind EventKind, comp string, err error) {
	var msg string
	if err != nil {
		msg = err.Error()
	}
	l.Emit(Event{Level: LevelError, Kind: kind, Comp: comp, Err: msg})
}

// Done emits ok on success or fail with the error, timed from start.
func (l *Logger) Done(ok, fail EventKind, comp, scope string, start time.Time, err error) {
	e := Event{Level: LevelInfo, Kind: ok, Comp: comp, Scope: scope, Dur: time.Since(start)}
	if err != nil {
		e.Level, e.Kind, e.Err = LevelError, fail, err.Error()
	}
	l.Emit(e)
}

// SetRing attaches a ring buffer for live inspection.
func (l *Logger) SetRing(r *Ring[Event]) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.ring = r
	l.mu.Unlock()
}

// Dropped returns the number of events dropped since creation.
func (l *Logger) Dropped() uint64 {
	if l == nil {
		return 0
	}
	return l.dropped.Load()
}

// Close flushes pending events and stops the drain goroutine. Emit calls
// racing Close are dropped.
func (l *Logger) Close() {
	if l == nil {
		return
	}
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		close(l.ch)
		<-l.done

		if d := l.dropped.Load(); d > 0 {
			fmt.Fprintf(os.Stderr, "studyboard: %d trace events dropped in session %s\n", d, l.sessionID)
		}
	})
}

func copyExtra(e Event) Event {
	if e.Extra == nil {
		return e
	}
	cp := make(map[string]any, len(e.Extra))
	for k, v := range e.Extra {
		cp[k] = v
	}
	e.Extra = cp
	return e
}
