package analytics

import (
	"context"
	"fmt"
	"sync"

	"github.com/abelbrown/studyboard/internal/logging"
	"github.com/abelbrown/studyboard/internal/model"
	"github.com/abelbrown/studyboard/internal/otel"
	"github.com/abelbrown/studyboard/internal/realtime"
	"github.com/abelbrown/studyboard/internal/remote"
)

// Stream is an open push channel. *realtime.Stream implements it.
type Stream interface {
	Events() <-chan model.Event
	Done() <-chan struct{}
	Err() error
	Close() error
}

// Dialer opens the push channel for a user.
type Dialer func(ctx context.Context, userID string) (Stream, error)

// RealtimeDialer dials the events endpoint of c.
func RealtimeDialer(c *remote.Client, opts realtime.Options) Dialer {
	return func(ctx context.Context, userID string) (Stream, error) {
		st, err := realtime.Dial(ctx, c.EventsURL(userID), opts)
		if err != nil {
			return nil, err
		}
		return st, nil
	}
}

type connection struct {
	userID string
	stream Stream
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ConnectRealtime opens the push channel for userID and starts handling
// its events. It is a no-op while a channel is open. A dial failure lands
// in the error slot.
func (s *Store) ConnectRealtime(ctx context.Context, userID string) {
	if s.deps.Dial == nil {
		return
	}
	s.mu.Lock()
	open := s.rt != nil
	s.mu.Unlock()
	if open {
		return
	}

	stream, err := s.deps.Dial(ctx, userID)
	if err != nil {
		s.fail(model.ErrNameRealtime, model.CodeRealtime, fmt.Errorf("connect realtime: %w", err))
		s.notify()
		return
	}

	cctx, cancel := context.WithCancel(s.ctx)
	c := &connection{userID: userID, stream: stream, cancel: cancel}

	s.mu.Lock()
	if s.rt != nil {
		// lost a race with another ConnectRealtime
		s.mu.Unlock()
		cancel()
		stream.Close()
		return
	}
	s.rt = c
	s.mu.Unlock()

	s.trace.Emit(otel.Event{Level: otel.LevelInfo, Kind: otel.KindRealtimeConnect, Comp: "store", UserID: userID})
	logging.Info("store: realtime connected", "user", userID)
	s.notify()

	c.wg.Add(1)
	go s.consume(cctx, c)
}

// consume handles events until the stream ends, then marks realtime off.
func (s *Store) consume(ctx context.Context, c *connection) {
	defer c.wg.Done()
	for ev := range c.stream.Events() {
		s.HandleEvent(ctx, ev)
	}

	s.mu.Lock()
	ours := s.rt == c
	if ours {
		s.rt = nil
	}
	s.mu.Unlock()
	c.cancel()
	if !ours {
		return
	}

	ev := otel.Event{Level: otel.LevelInfo, Kind: otel.KindRealtimeDisconnect, Comp: "store", UserID: c.userID}
	if err := c.stream.Err(); err != nil {
		ev.Level, ev.Err = otel.LevelWarn, err.Error()
		s.fail(model.ErrNameRealtime, model.CodeRealtime, fmt.Errorf("realtime: %w", err))
	}
	s.trace.Emit(ev)
	logging.Info("store: realtime disconnected", "user", c.userID)
	s.notify()
}

// DisconnectRealtime closes the push channel and waits for its handler to
// stop. Safe to call when not connected.
func (s *Store) DisconnectRealtime() {
	s.mu.Lock()
	c := s.rt
	s.rt = nil
	s.mu.Unlock()
	if c == nil {
		return
	}

	c.cancel()
	if err := c.stream.Close(); err != nil {
		logging.Debug("store: close realtime", "err", err)
	}
	c.wg.Wait()
	s.notify()
}

// HandleEvent treats ev as an invalidation hint and re-fetches the slices
// it affects.
func (s *Store) HandleEvent(ctx context.Context, ev model.Event) {
	switch ev.Type {
	case model.EventSessionEnd:
		s.FetchSessions(ctx, nil)
		s.FetchMetrics(ctx)
	case model.EventExamCompleted:
		s.cache.Delete(s.Filter().CacheKey(ScopeMockExams))
		s.FetchMockExams(ctx)
	default:
		logging.Debug("store: ignoring event", "type", ev.Type)
	}
}
