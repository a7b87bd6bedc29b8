package otel

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid JSON line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestEmitWritesJSONL(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf)

	l.Emit(Event{Kind: KindFetchStart, Level: LevelInfo, Comp: "store", Scope: "sessions"})
	l.Close()

	got := lines(t, &buf)
	if len(got) != 1 {
		t.Fatalf("expected 1 line, got %d", len(got))
	}
	if got[0]["kind"] != "fetch.start" || got[0]["comp"] != "store" || got[0]["scope"] != "sessions" {
		t.Errorf("unexpected event: %v", got[0])
	}
	if sid, _ := got[0]["session_id"].(string); len(sid) != 16 {
		t.Errorf("session_id = %q, want 16 hex chars", sid)
	}
}

func TestEmitSetsTime(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf)

	before := time.Now()
	l.Emit(Event{Kind: KindStartup})
	l.Close()

	var ev struct {
		T time.Time `json:"t"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.T.Before(before.Add(-time.Second)) {
		t.Errorf("time %v not set", ev.T)
	}
}

func TestDurationInMillis(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf)
	l.Emit(Event{Kind: KindOffloadDone, Dur: 1500 * time.Millisecond})
	l.Close()

	got := lines(t, &buf)
	if got[0]["dur_ms"] != float64(1500) {
		t.Errorf("dur_ms = %v, want 1500", got[0]["dur_ms"])
	}
}

func TestOmitsEmptyFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf)
	l.Emit(Event{Kind: KindStartup})
	l.Close()

	line := buf.String()
	for _, field := range []string{"dur_ms", "count", "scope", "op", "call", "err", "msg", "extra", "user"} {
		if strings.Contains(line, `"`+field+`"`) {
			t.Errorf("field %q should be omitted: %s", field, line)
		}
	}
}

func TestConcurrentEmit(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Emit(Event{Kind: KindCacheHit})
		}()
	}
	wg.Wait()
	l.Close()

	if n := len(lines(t, &buf)); n != 100 {
		t.Errorf("expected 100 lines, got %d", n)
	}
}

func TestHelpersAndDone(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf)

	l.Info(KindStartup, "main", "starting")
	l.Warn(KindRealtimeDisconnect, "realtime", "closed")
	l.Error(KindError, "server", errors.New("disk full"))
	l.Done(KindFetchComplete, KindFetchError, "store", "metrics", time.Now(), nil)
	l.Done(KindFetchComplete, KindFetchError, "store", "metrics", time.Now(), errors.New("503"))
	l.Close()

	got := lines(t, &buf)
	want := []struct{ level, kind string }{
		{"info", "sys.startup"},
		{"warn", "realtime.disconnect"},
		{"error", "sys.error"},
		{"info", "fetch.complete"},
		{"error", "fetch.error"},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d lines, got %d", len(want), len(got))
	}
	for i, w := range want {
		if got[i]["level"] != w.level || got[i]["kind"] != w.kind {
			t.Errorf("line %d = %v/%v, want %s/%s", i, got[i]["level"], got[i]["kind"], w.level, w.kind)
		}
	}
	if got[4]["err"] != "503" {
		t.Errorf("err = %v", got[4]["err"])
	}
}

type blockingWriter struct {
	started chan struct{}
	block   chan struct{}
	once    sync.Once
}

func (w *blockingWriter) Write(p []byte) (int, error) {
	w.once.Do(func() {
		close(w.started)
		<-w.block
	})
	return len(p), nil
}

func TestDropsWhenFull(t *testing.T) {
	bw := &blockingWriter{started: make(chan struct{}), block: make(chan struct{})}
	l := NewLogger(bw)

	l.Emit(Event{Kind: KindFetchStart})
	<-bw.started
	for i := 0; i < writerChanSize+10; i++ {
		l.Emit(Event{Kind: KindFetchStart})
	}
	if l.Dropped() == 0 {
		t.Error("expected drops with a full channel")
	}

	close(bw.block)
	l.Close()
}

func TestEmitAfterCloseAndNil(t *testing.T) {
	l := NewNullLogger()
	l.Close()
	l.Close()
	l.Emit(Event{Kind: KindStartup})
	if l.Dropped() != 1 {
		t.Errorf("dropped = %d, want 1", l.Dropped())
	}

	var nilLogger *Logger
	nilLogger.Emit(Event{Kind: KindStartup})
	nilLogger.Info(KindStartup, "x", "y")
	nilLogger.SetRing(NewRing[Event](4))
	nilLogger.Close()
}

func TestRingReceivesEvents(t *testing.T) {
	r := NewRing[Event](16)
	l := NewNullLogger()
	l.SetRing(r)

	extra := map[string]any{"k": "v"}
	l.Emit(Event{Kind: KindStartup, Extra: extra})
	l.Emit(Event{Kind: KindShutdown})
	l.Close()

	events := r.Snapshot()
	if len(events) != 2 {
		t.Fatalf("ring holds %d events, want 2", len(events))
	}
	extra["k"] = "mutated"
	if events[0].Extra["k"] != "v" {
		t.Error("ring aliases the caller's Extra map")
	}
	if c := CountKinds(events); c[KindStartup] != 1 || c[KindShutdown] != 1 {
		t.Errorf("counts = %v", c)
	}
}
