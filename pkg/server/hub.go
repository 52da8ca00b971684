package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nicktill/tixcondenser/pkg/config"
	"github.com/nicktill/tixcondenser/pkg/sender"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// No Origin header means a non-browser client
		return origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host
	},
	ReadBufferSize:  config.WSReadBufferSize,
	WriteBufferSize: config.WSWriteBufferSize,
}

// subscriber is one WebSocket listener with its own queue. Only its writer
// goroutine touches conn for writes.
type subscriber struct {
	conn  *websocket.Conn
	queue chan []byte
	once  sync.Once
	gone  chan struct{}
}

func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.gone)
		s.conn.Close()
	})
}

// Hub streams batch_submitted events to WebSocket subscribers. A subscriber
// that falls WSSubscriberQueue events behind is disconnected, so one slow
// reader never delays the submission path.
type Hub struct {
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

// NewHub creates a hub. Run must be started to release subscribers on shutdown.
func NewHub() *Hub {
	return &Hub{subs: make(map[*subscriber]struct{})}
}

// Run blocks until ctx is done, then disconnects every subscriber and
// refuses new ones.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	h.closed = true
	subs := h.subs
	h.subs = make(map[*subscriber]struct{})
	h.mu.Unlock()

	for s := range subs {
		s.close()
	}
	log.Printf("Batch event stream closed (%d subscribers released)", len(subs))
}

// Publish queues a submitted batch for every subscriber
func (h *Hub) Publish(event sender.SubmittedEvent) error {
	frame, err := json.Marshal(event)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		select {
		case s.queue <- frame:
		default:
			log.Printf("Subscriber %s is %d events behind, disconnecting", s.conn.RemoteAddr(), config.WSSubscriberQueue)
			delete(h.subs, s)
			s.close()
		}
	}
	return nil
}

// Clients returns the number of connected subscribers
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) add(s *subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.subs[s] = struct{}{}
	log.Printf("Batch event subscriber %s connected (total: %d)", s.conn.RemoteAddr(), len(h.subs))
	return true
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	_, ok := h.subs[s]
	delete(h.subs, s)
	count := len(h.subs)
	h.mu.Unlock()

	s.close()
	if ok {
		log.Printf("Batch event subscriber %s disconnected (total: %d)", s.conn.RemoteAddr(), count)
	}
}

// ServeHTTP upgrades the request into a batch event subscription
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	s := &subscriber{
		conn:  conn,
		queue: make(chan []byte, config.WSSubscriberQueue),
		gone:  make(chan struct{}),
	}
	if !h.add(s) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(config.WSWriteDeadline))
		conn.Close()
		return
	}
	defer h.remove(s)

	go s.write()
	s.read()
}

// write drains the queue and keeps the connection alive with pings
func (s *subscriber) write() {
	ticker := time.NewTicker(config.WSPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.gone:
			return
		case frame := <-s.queue:
			s.conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Printf("Batch event write to %s failed: %v", s.conn.RemoteAddr(), err)
				s.close()
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.close()
				return
			}
		}
	}
}

// read only serves control frames; subscribers have nothing to say
func (s *subscriber) read() {
	s.conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("Batch event subscriber %s error: %v", s.conn.RemoteAddr(), err)
			}
			return
		}
	}
}
