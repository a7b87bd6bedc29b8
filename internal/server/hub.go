package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/abelbrown/studyboard/internal/logging"
	"github.com/abelbrown/studyboard/internal/model"
)

const (
	subscriberBuffer = 32
	hubWriteWait     = 5 * time.Second
	hubPongWait      = 60 * time.Second
	hubPingPeriod    = hubPongWait * 9 / 10
)

// Hub fans push events out to websocket subscribers grouped by user.
// Publishing never blocks: a subscriber whose buffer is full misses the
// event.
type Hub struct {
	upgrader websocket.Upgrader

	mu     sync.Mutex
	subs   map[string]map[string]*subscriber // user -> id -> subscriber
	closed bool
}

type subscriber struct {
	id     string
	userID string
	send   chan []byte
	done   chan struct{}
	once   sync.Once
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		subs: make(map[string]map[string]*subscriber),
	}
}

// Publish sends ev to every subscriber of ev.UserID and returns how many
// accepted it.
func (h *Hub) Publish(ev model.Event) int {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		logging.Error("hub: encode event", "err", err)
		return 0
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0
	for _, sub := range h.subs[ev.UserID] {
		select {
		case sub.send <- data:
			delivered++
		default:
			logging.Warn("hub: subscriber buffer full, dropping event", "user", ev.UserID, "sub", sub.id)
		}
	}
	return delivered
}

// Subscribers returns the number of open channels for userID.
func (h *Hub) Subscribers(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[userID])
}

// Close disconnects every subscriber. Later connections are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, byID := range h.subs {
		for _, sub := range byID {
			sub.stop()
		}
	}
}

func (h *Hub) add(userID string) *subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	sub := &subscriber{
		id:     uuid.NewString(),
		userID: userID,
		send:   make(chan []byte, subscriberBuffer),
		done:   make(chan struct{}),
	}
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[string]*subscriber)
	}
	h.subs[userID][sub.id] = sub
	return sub
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if byID := h.subs[sub.userID]; byID != nil {
		delete(byID, sub.id)
		if len(byID) == 0 {
			delete(h.subs, sub.userID)
		}
	}
	sub.stop()
}

// serve upgrades the request and pumps events until either side closes.
func (h *Hub) serve(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		logging.Warn("hub: upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	sub := h.add(userID)
	if sub == nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(hubWriteWait))
		return
	}
	defer h.remove(sub)
	logging.Debug("hub: subscriber connected", "user", userID, "sub", sub.id)

	// reader: only control frames and the close handshake matter
	go func() {
		defer sub.stop()
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(hubPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(hubPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(hubPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case data := <-sub.send:
			conn.SetWriteDeadline(time.Now().Add(hubWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(hubWriteWait)); err != nil {
				return
			}
		case <-sub.done:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(hubWriteWait))
			return
		case <-r.Context().Done():
			return
		}
	}
}
