package notify

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jogardn/order-service/pkg/models"
	"github.com/sirupsen/logrus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

// ErrHubStopped is returned when events arrive after Run has exited.
var ErrHubStopped = errors.New("notification hub stopped")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Message is the frame pushed to subscribers.
type Message struct {
	Type      string            `json:"type"`
	Event     models.OrderEvent `json:"event"`
	Timestamp string            `json:"timestamp"`
}

type subscriber struct {
	conn   *websocket.Conn
	send   chan Message
	userID string
}

func (s *subscriber) wants(event models.OrderEvent) bool {
	return s.userID == "" || s.userID == event.UserID
}

// Hub fans order events out to websocket subscribers. A subscriber that
// connects with ?user_id= only receives events for that user.
type Hub struct {
	subscribers map[*subscriber]struct{}
	broadcast   chan models.OrderEvent
	register    chan *subscriber
	unregister  chan *subscriber
	done        chan struct{}
	mu          sync.RWMutex
	logger      *logrus.Logger
}

func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		subscribers: make(map[*subscriber]struct{}),
		broadcast:   make(chan models.OrderEvent, 256),
		register:    make(chan *subscriber),
		unregister:  make(chan *subscriber),
		done:        make(chan struct{}),
		logger:      logger,
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for s := range h.subscribers {
				delete(h.subscribers, s)
				close(s.send)
			}
			h.mu.Unlock()
			return

		case s := <-h.register:
			h.mu.Lock()
			h.subscribers[s] = struct{}{}
			count := len(h.subscribers)
			h.mu.Unlock()
			h.logger.WithFields(logrus.Fields{"client_count": count, "user_id": s.userID}).Info("Subscriber connected")

		case s := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.subscribers[s]; ok {
				delete(h.subscribers, s)
				close(s.send)
			}
			count := len(h.subscribers)
			h.mu.Unlock()
			h.logger.WithField("client_count", count).Info("Subscriber disconnected")

		case event := <-h.broadcast:
			h.fanOut(event)
		}
	}
}

func (h *Hub) fanOut(event models.OrderEvent) {
	msg := Message{Type: event.Type, Event: event, Timestamp: time.Now().UTC().Format(time.RFC3339)}

	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subscribers {
		if !s.wants(event) {
			continue
		}
		select {
		case s.send <- msg:
		default:
			// slow reader
			delete(h.subscribers, s)
			close(s.send)
		}
	}
}

// HandleOrderEvent queues the event for broadcast.
func (h *Hub) HandleOrderEvent(ctx context.Context, event models.OrderEvent) error {
	select {
	case h.broadcast <- event:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRetryable reports false once the hub is gone; redelivery would not help.
func (h *Hub) IsRetryable(err error) bool {
	return !errors.Is(err, ErrHubStopped)
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade to WebSocket")
		return
	}

	s := &subscriber{
		conn:   conn,
		send:   make(chan Message, sendBuffer),
		userID: r.URL.Query().Get("user_id"),
	}

	select {
	case h.register <- s:
	case <-h.done:
		conn.Close()
		return
	}

	go h.writePump(s)
	go h.readPump(s)
}

func (h *Hub) readPump(s *subscriber) {
	defer func() {
		select {
		case h.unregister <- s:
		case <-h.done:
		}
		s.conn.Close()
	}()

	s.conn.SetReadLimit(512)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.WithError(err).Warn("WebSocket read error")
			}
			return
		}
	}
}

func (h *Hub) writePump(s *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteJSON(msg); err != nil {
				h.logger.WithError(err).Debug("Failed to write to subscriber")
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
