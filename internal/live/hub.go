// Package live pushes newly captured requests to websocket viewers of a
// session.
package live

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sdko-org/hooksink/internal/capture"
	"github.com/sirupsen/logrus"
)

const (
	sendBuffer   = 16
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type subscriber struct {
	send chan []byte
}

type Hub struct {
	mu   sync.Mutex
	subs map[string]map[*subscriber]struct{}
	log  *logrus.Entry
}

func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		subs: make(map[string]map[*subscriber]struct{}),
		log:  logger.WithField("component", "live_hub"),
	}
}

// Publish fans rec out to every subscriber of its session. It never blocks:
// a subscriber whose buffer is full is dropped.
func (h *Hub) Publish(rec *capture.Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		h.log.WithError(err).Error("Failed to encode live record")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[rec.SessionID] {
		select {
		case sub.send <- data:
		default:
			h.log.WithField("session_id", rec.SessionID).Warn("Dropping slow live subscriber")
			h.removeLocked(rec.SessionID, sub)
		}
	}
}

// Subscribe registers a listener for sessionID. The channel is closed when
// the returned cancel func runs or the subscriber is dropped.
func (h *Hub) Subscribe(sessionID string) (<-chan []byte, func()) {
	sub := &subscriber{send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[*subscriber]struct{})
	}
	h.subs[sessionID][sub] = struct{}{}
	h.mu.Unlock()

	return sub.send, func() {
		h.mu.Lock()
		h.removeLocked(sessionID, sub)
		h.mu.Unlock()
	}
}

func (h *Hub) Subscribers(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[sessionID])
}

func (h *Hub) removeLocked(sessionID string, sub *subscriber) {
	set, ok := h.subs[sessionID]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	close(sub.send)
	if len(set) == 0 {
		delete(h.subs, sessionID)
	}
}

// ServeWS upgrades the connection and streams records of sessionID until
// either side goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, sessionID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Debug("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	msgs, cancel := h.Subscribe(sessionID)
	defer cancel()

	log := h.log.WithField("session_id", sessionID)
	log.Debug("Live viewer connected")

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-msgs:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "subscriber dropped"))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			log.Debug("Live viewer disconnected")
			return
		}
	}
}
