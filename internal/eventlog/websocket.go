package eventlog

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentkernel/kernel/pkg/models"
)

const (
	broadcastWriteWait  = 10 * time.Second
	broadcastSendBuffer = 256
)

// Broadcaster is an http.Handler that upgrades connections to WebSocket
// and streams every future EventLog entry to each connected client as
// JSON, generalizing the teacher's wsControlPlane send-channel/writeLoop
// idiom into a read-only fan-out (no request handling, no auth handshake
// — an operator dashboard, not a chat client).
type Broadcaster struct {
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*broadcastClient]struct{}
}

type broadcastClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewBroadcaster creates a Broadcaster. Call Attach(eventLog) to start
// forwarding appended entries to connected clients.
func NewBroadcaster(log *slog.Logger) *Broadcaster {
	return &Broadcaster{
		log:     log,
		clients: make(map[*broadcastClient]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Attach subscribes the Broadcaster to l, so every appended event is
// pushed to all currently connected clients.
func (b *Broadcaster) Attach(l *Log) (unsubscribe func()) {
	return l.Subscribe(b.broadcast)
}

func (b *Broadcaster) broadcast(e models.EventEntry) {
	data, err := json.Marshal(e)
	if err != nil {
		b.log.Warn("marshal event for broadcast failed", "error", err)
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.clients {
		select {
		case c.send <- data:
		default:
			b.log.Warn("broadcast client send buffer full, dropping client")
			delete(b.clients, c)
			close(c.send)
			_ = c.conn.Close()
		}
	}
}

func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	client := &broadcastClient{conn: conn, send: make(chan []byte, broadcastSendBuffer)}

	b.mu.Lock()
	b.clients[client] = struct{}{}
	b.mu.Unlock()

	go b.readPump(client)
	b.writePump(client)
}

// readPump drains and discards client reads; its only purpose is to
// notice when the client disconnects, since this is a push-only feed.
func (b *Broadcaster) readPump(c *broadcastClient) {
	defer b.drop(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (b *Broadcaster) writePump(c *broadcastClient) {
	defer b.drop(c)
	for data := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(broadcastWriteWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

func (b *Broadcaster) drop(c *broadcastClient) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		close(c.send)
		_ = c.conn.Close()
	}
}
