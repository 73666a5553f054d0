package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vertextoedge/filesync/internal/domain/event"
)

const (
	clientBuffer = 64
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
	pongTimeout  = 10 * time.Second
)

// EventMessage is the wire form of a domain event on /api/events
type EventMessage struct {
	Event      string    `json:"event"`
	OccurredAt time.Time `json:"occurred_at"`
	Stream     string    `json:"stream,omitempty"`
	URI        string    `json:"uri,omitempty"`
	Cursor     string    `json:"cursor,omitempty"`
	Pending    int       `json:"pending,omitempty"`
	Final      bool      `json:"final,omitempty"`
	Message    string    `json:"message,omitempty"`
	Error      string    `json:"error,omitempty"`
	Skipped    bool      `json:"skipped,omitempty"`
	Size       int64     `json:"size,omitempty"`
	RunID      string    `json:"run_id,omitempty"`
	Synced     int       `json:"synced,omitempty"`
	Failed     int       `json:"failed,omitempty"`
}

// NewEventMessage converts a domain event
func NewEventMessage(ev event.DomainEvent) EventMessage {
	msg := EventMessage{Event: ev.EventName(), OccurredAt: ev.OccurredAt()}
	switch e := ev.(type) {
	case event.StateCheckpointed:
		msg.Stream = e.Stream
		msg.Cursor = e.CursorValue()
		msg.Pending = e.Pending
		msg.Final = e.Final
	case event.CursorWarning:
		msg.Stream = e.Stream
		msg.URI = e.URI
		msg.Message = e.Message
	case event.FileSynced:
		msg.Stream = e.Stream
		msg.URI = e.URI
		msg.Size = e.Size
	case event.FileFailed:
		msg.Stream = e.Stream
		msg.URI = e.URI
		msg.Error = e.Error
		msg.Skipped = e.Skipped
	case event.SyncCompleted:
		msg.Stream = e.Stream
		msg.RunID = e.RunID
		msg.Synced = e.Synced
		msg.Failed = e.Failed
	}
	return msg
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// EventHub fans domain events out to websocket subscribers. Slow clients
// lose messages rather than block the dispatcher.
type EventHub struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
}

// NewEventHub creates a new EventHub
func NewEventHub(logger *zap.Logger) *EventHub {
	return &EventHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}
}

// Handle broadcasts the event
func (h *EventHub) Handle(ev event.DomainEvent) error {
	data, err := json.Marshal(NewEventMessage(ev))
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Debug("dropping event for slow client", zap.String("event", ev.EventName()))
		}
	}
	return nil
}

// HandledEvents returns the events this handler handles
func (h *EventHub) HandledEvents() []string {
	return []string{"*"}
}

// Clients returns the number of connected subscribers
func (h *EventHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and streams events until the client leaves
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, clientBuffer)}
	if !h.register(c) {
		conn.Close()
		return
	}

	go h.writeLoop(c)
	h.readLoop(c)
}

func (h *EventHub) register(c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *EventHub) unregister(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
}

// readLoop discards client messages and notices disconnects
func (h *EventHub) readLoop(c *wsClient) {
	defer h.unregister(c)

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongTimeout))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
	}
}

func (h *EventHub) writeLoop(c *wsClient) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close disconnects every subscriber
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}
