package flowengine

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sudorandom/packet-stream/pkg/flow"
)

const (
	// Time allowed to write a frame to a subscriber.
	writeWait = 5 * time.Second
	// Frames queued per subscriber before new ones are dropped.
	sendBuffer = 8
	// DefaultPublishInterval limits broadcasts to about 30 frames a second.
	DefaultPublishInterval = time.Second / 30
)

// FrameHub fans animation frames out to websocket subscribers. Slow
// subscribers miss frames rather than holding up the render loop.
type FrameHub struct {
	PublishInterval time.Duration

	upgrader websocket.Upgrader

	mu          sync.Mutex
	clients     map[*hubClient]struct{}
	closed      bool
	lastPublish time.Time
}

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
}

func NewFrameHub() *FrameHub {
	return &FrameHub{
		PublishInterval: DefaultPublishInterval,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*hubClient]struct{}),
	}
}

// ServeHTTP upgrades the request and streams frames until the peer goes away.
func (h *FrameHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] Upgrade failed for %s: %v", r.RemoteAddr, err)
		return
	}
	c := &hubClient{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	log.Printf("[WS] Subscriber connected: %s", r.RemoteAddr)

	go c.writeLoop()

	// Subscribers never send anything we act on; reading only notices the
	// close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(c)
	log.Printf("[WS] Subscriber disconnected: %s", r.RemoteAddr)
}

func (c *hubClient) writeLoop() {
	defer func() { _ = c.conn.Close() }()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			// Closing unblocks the read loop, which removes us and closes send.
			_ = c.conn.Close()
			for range c.send {
			}
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}

func (h *FrameHub) remove(c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *FrameHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Publish sends f to every subscriber, at most once per PublishInterval. It
// reports whether the frame was sent.
func (h *FrameHub) Publish(f flow.Frame) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || len(h.clients) == 0 {
		return false
	}
	now := time.Now()
	if now.Sub(h.lastPublish) < h.PublishInterval {
		return false
	}
	h.lastPublish = now

	msg, err := json.Marshal(f)
	if err != nil {
		log.Printf("[WS] Error encoding frame: %v", err)
		return false
	}
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
		}
	}
	return true
}

// Close disconnects every subscriber and refuses new ones.
func (h *FrameHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
