package websocket

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"walkin-queue/internal/models"
)

const writeTimeout = 5 * time.Second

// QueueSource provides the queue board state.
type QueueSource interface {
	Snapshot(ctx context.Context) (*models.QueueSnapshot, error)
}

// StatsSource provides notification job counts.
type StatsSource interface {
	Stats(ctx context.Context) (models.Stats, error)
}

// Update is the message pushed to every display.
type Update struct {
	Queue         *models.QueueSnapshot `json:"queue"`
	Notifications models.Stats          `json:"notifications"`
}

// sendBuffer is how many updates may wait for a slow display before the
// oldest is dropped.
const sendBuffer = 8

// client owns one connection. Only its write loop writes to conn, so
// updates reach the display in the order they were built.
type client struct {
	conn      *websocket.Conn
	send      chan *Update
	done      chan struct{}
	closeOnce sync.Once
}

// offer queues u without blocking, dropping the oldest pending update
// when the buffer is full.
func (c *client) offer(u *Update) {
	for {
		select {
		case c.send <- u:
			return
		default:
		}
		select {
		case <-c.send:
		default:
		}
	}
}

// Manager manages WebSocket connections and broadcasts
type Manager struct {
	clients   map[*client]bool
	clientsMu sync.Mutex
	queue     QueueSource
	stats     StatsSource
	log       *slog.Logger

	// broadcastMu orders building an update with handing it to clients.
	broadcastMu sync.Mutex
}

// New creates a new WebSocket manager
func New(queue QueueSource, stats StatsSource, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		clients: make(map[*client]bool),
		queue:   queue,
		stats:   stats,
		log:     log.With("component", "websocket"),
	}
}

// AddClient registers a connection, sends it the current state and drops
// it once the peer goes away.
func (m *Manager) AddClient(conn *websocket.Conn) {
	c := &client{conn: conn, send: make(chan *Update, sendBuffer), done: make(chan struct{})}

	m.broadcastMu.Lock()
	if update, err := m.current(context.Background()); err == nil {
		c.offer(update)
	} else {
		m.log.Warn("[WEBSOCKET] Initial update failed", "error", err)
	}
	m.clientsMu.Lock()
	m.clients[c] = true
	total := len(m.clients)
	m.clientsMu.Unlock()
	m.broadcastMu.Unlock()

	m.log.Info("[WEBSOCKET] New client connected", "clients", total)

	go m.writeLoop(c)
	go func() {
		defer m.remove(c)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Broadcast sends the current state to all connected clients
func (m *Manager) Broadcast() {
	m.broadcastMu.Lock()
	defer m.broadcastMu.Unlock()

	update, err := m.current(context.Background())
	if err != nil {
		m.log.Error("[WEBSOCKET] Failed to build update", "error", err)
		return
	}

	m.clientsMu.Lock()
	defer m.clientsMu.Unlock()
	for c := range m.clients {
		c.offer(update)
	}
}

func (m *Manager) writeLoop(c *client) {
	for {
		select {
		case update := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(update); err != nil {
				m.log.Warn("[WEBSOCKET] Failed to send update", "error", err)
				m.remove(c)
				return
			}
		case <-c.done:
			return
		}
	}
}

// ClientCount returns the number of connected clients
func (m *Manager) ClientCount() int {
	m.clientsMu.Lock()
	defer m.clientsMu.Unlock()
	return len(m.clients)
}

func (m *Manager) current(ctx context.Context) (*Update, error) {
	snapshot, err := m.queue.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	stats, err := m.stats.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &Update{Queue: snapshot, Notifications: stats}, nil
}

func (m *Manager) remove(c *client) {
	c.closeOnce.Do(func() {
		m.clientsMu.Lock()
		delete(m.clients, c)
		total := len(m.clients)
		m.clientsMu.Unlock()

		close(c.done)
		c.conn.Close()
		m.log.Info("[WEBSOCKET] Client disconnected", "clients", total)
	})
}
