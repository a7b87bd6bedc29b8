// Package realtime is the client side of the push-event channel.
//
// A Stream reads JSON events from a websocket and delivers them on a
// channel. The channel is closed when the connection ends, after which Err
// reports the cause (nil for a clean close). There is no reconnect: callers
// dial again if they want the channel back.
package realtime

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/abelbrown/studyboard/internal/logging"
	"github.com/abelbrown/studyboard/internal/model"
	"github.com/abelbrown/studyboard/internal/otel"
)

const (
	DefaultBuffer       = 64
	DefaultPingInterval = 30 * time.Second
	DefaultDialTimeout  = 10 * time.Second

	writeWait = 5 * time.Second
)

// Options configures Dial.
type Options struct {
	Buffer       int
	PingInterval time.Duration // pongs must arrive within twice this
	DialTimeout  time.Duration
	Header       http.Header
	Trace        *otel.Logger
}

// Stream is one open push channel.
type Stream struct {
	conn   *websocket.Conn
	url    string
	events chan model.Event
	done   chan struct{}
	trace  *otel.Logger
	ping   time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once

	mu      sync.Mutex
	err     error
	closing bool
}

// Dial opens the channel at url (ws:// or wss://).
func Dial(ctx context.Context, url string, opts Options) (*Stream, error) {
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: opts.DialTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, url, opts.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("realtime: dial %s: status %d: %w", url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("realtime: dial %s: %w", url, err)
	}

	s := &Stream{
		conn:   conn,
		url:    url,
		events: make(chan model.Event, opts.Buffer),
		done:   make(chan struct{}),
		trace:  opts.Trace,
		ping:   opts.PingInterval,
	}

	conn.SetReadDeadline(time.Now().Add(2 * s.ping))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * s.ping))
	})

	s.trace.Info(otel.KindRealtimeConnect, "realtime", url)
	go s.readLoop()
	go s.pingLoop()
	return s, nil
}

// Events delivers decoded events until the connection ends.
func (s *Stream) Events() <-chan model.Event {
	return s.events
}

// Done is closed when the stream has shut down.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Err returns why the stream ended. Nil while open and after a clean close.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close sends a close frame and tears the connection down.
// Safe to call multiple times.
func (s *Stream) Close() error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	// The peer may already be gone; the close frame is best effort.
	s.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	s.writeMu.Unlock()

	s.shutdown(nil)
	return nil
}

func (s *Stream) readLoop() {
	defer close(s.events)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.shutdown(s.readError(err))
			return
		}

		ev, err := model.DecodeEvent(data)
		if err != nil {
			logging.Warn("realtime: dropping event", "err", err)
			continue
		}
		s.trace.Emit(otel.Event{Level: otel.LevelInfo, Kind: otel.KindRealtimeEvent, Comp: "realtime", UserID: ev.UserID, Op: string(ev.Type)})

		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}

func (s *Stream) pingLoop() {
	ticker := time.NewTicker(s.ping)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			s.writeMu.Unlock()
			if err != nil {
				s.shutdown(fmt.Errorf("realtime: ping: %w", err))
				return
			}
		}
	}
}

func (s *Stream) readError(err error) error {
	s.mu.Lock()
	closing := s.closing
	s.mu.Unlock()
	if closing || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return nil
	}
	return fmt.Errorf("realtime: read: %w", err)
}

// shutdown records the first cause and releases the connection once.
func (s *Stream) shutdown(cause error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.err = cause
		s.mu.Unlock()
		close(s.done)
		s.conn.Close()

		ev := otel.Event{Level: otel.LevelInfo, Kind: otel.KindRealtimeDisconnect, Comp: "realtime", Msg: s.url}
		if cause != nil {
			ev.Level = otel.LevelWarn
			ev.Err = cause.Error()
		}
		s.trace.Emit(ev)
	})
}
