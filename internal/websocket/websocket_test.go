package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walkin-queue/internal/models"
)

type mockQueue struct {
	mu      sync.Mutex
	waiting []models.Ticket
}

func (m *mockQueue) set(waiting []models.Ticket) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.waiting = waiting
}

func (m *mockQueue) Snapshot(context.Context) (*models.QueueSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &models.QueueSnapshot{Clients: append([]models.Ticket(nil), m.waiting...)}, nil
}

type mockStats struct{ stats models.Stats }

func (m *mockStats) Stats(context.Context) (models.Stats, error) { return m.stats, nil }

func TestManager_InitialAndBroadcast(t *testing.T) {
	queue := &mockQueue{}
	queue.set([]models.Ticket{{ID: "a", TicketNumber: 1}})
	stats := &mockStats{stats: models.Stats{Pending: 2, Total: 2}}
	m := New(queue, stats, nil)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		m.AddClient(conn)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first Update
	require.NoError(t, conn.ReadJSON(&first))
	require.Len(t, first.Queue.Clients, 1)
	assert.Equal(t, 2, first.Notifications.Pending)
	assert.Equal(t, 1, m.ClientCount())

	queue.set([]models.Ticket{{ID: "a", TicketNumber: 1}, {ID: "b", TicketNumber: 2}})
	m.Broadcast()

	var second Update
	require.NoError(t, conn.ReadJSON(&second))
	assert.Len(t, second.Queue.Clients, 2)

	conn.Close()
	assert.Eventually(t, func() bool { return m.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestManager_UpdatesArriveInOrder(t *testing.T) {
	queue := &mockQueue{}
	m := New(queue, &mockStats{}, nil)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		m.AddClient(conn)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var initial Update
	require.NoError(t, conn.ReadJSON(&initial))
	assert.Empty(t, initial.Queue.Clients)

	const updates = 50
	waiting := []models.Ticket{}
	for i := 1; i <= updates; i++ {
		waiting = append(waiting, models.Ticket{ID: "t", TicketNumber: int64(i)})
		queue.set(waiting)
		m.Broadcast()
	}

	// Slow displays may skip states but never see an older one after a newer.
	last := 0
	for last < updates {
		var u Update
		require.NoError(t, conn.ReadJSON(&u))
		require.GreaterOrEqual(t, len(u.Queue.Clients), last)
		last = len(u.Queue.Clients)
	}
	assert.Equal(t, updates, last)
}
