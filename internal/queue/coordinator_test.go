package queue_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walkin-queue/internal/errs"
	"walkin-queue/internal/memstore"
	"walkin-queue/internal/models"
	"walkin-queue/internal/queue"
)

type recordingNotifier struct {
	mu            sync.Mutex
	confirmations map[string]int
	yourTurn      []string
	proximity     [][]models.Ticket
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{confirmations: make(map[string]int)}
}

func (n *recordingNotifier) Confirmation(_ context.Context, t models.Ticket, position int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.confirmations[t.Name] = position
}

func (n *recordingNotifier) YourTurn(_ context.Context, t models.Ticket) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.yourTurn = append(n.yourTurn, t.Name)
}

func (n *recordingNotifier) Proximity(_ context.Context, waiting []models.Ticket) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.proximity = append(n.proximity, waiting)
}

func (n *recordingNotifier) lastProximity() []models.Ticket {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.proximity) == 0 {
		return nil
	}
	return n.proximity[len(n.proximity)-1]
}

func newCoordinator(t *testing.T) (*queue.Coordinator, *memstore.Store, *recordingNotifier) {
	t.Helper()
	store := memstore.New()
	notifier := newRecordingNotifier()
	clock := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	c := queue.New(store, notifier, nil, queue.WithClock(func() time.Time { return clock }))
	return c, store, notifier
}

func enroll(t *testing.T, c *queue.Coordinator, name string) *models.Ticket {
	t.Helper()
	ticket, err := c.Enroll(context.Background(), name, "+5511999990000", name+"@example.com")
	require.NoError(t, err)
	return ticket
}

func TestEnrollAndCallNext(t *testing.T) {
	c, _, notifier := newCoordinator(t)
	ctx := context.Background()

	ana := enroll(t, c, "ana")
	assert.Equal(t, int64(1), ana.TicketNumber)
	assert.Equal(t, 0, ana.Position)
	assert.Equal(t, models.StatusWaiting, ana.Status)

	beto := enroll(t, c, "beto")
	assert.Equal(t, int64(2), beto.TicketNumber)
	assert.Equal(t, 1, beto.Position)

	assert.Equal(t, 1, notifier.confirmations["ana"])
	assert.Equal(t, 2, notifier.confirmations["beto"])

	called, err := c.CallNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, called)
	assert.Equal(t, ana.ID, called.ID)
	assert.Equal(t, models.StatusBeingServed, called.Status)
	assert.NotNil(t, called.CalledAt)

	waiting, err := c.ListWaiting(ctx)
	require.NoError(t, err)
	require.Len(t, waiting, 1)
	assert.Equal(t, beto.ID, waiting[0].ID)
	assert.Equal(t, 0, waiting[0].Position)

	current, err := c.GetCurrent(ctx)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, ana.ID, current.ID)

	assert.Equal(t, []string{"ana"}, notifier.yourTurn)
	require.Len(t, notifier.lastProximity(), 1)
	assert.Equal(t, beto.ID, notifier.lastProximity()[0].ID)
}

func TestCompleteWithNothingBeingServed(t *testing.T) {
	c, store, notifier := newCoordinator(t)
	ctx := context.Background()

	beto := enroll(t, c, "beto")

	done, err := c.CompleteCurrentService(ctx)
	require.NoError(t, err)
	assert.Nil(t, done)

	got, err := store.GetTicket(ctx, beto.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, got.Status)
	assert.Empty(t, notifier.proximity)
}

func TestCallNextOnEmptyQueue(t *testing.T) {
	c, _, notifier := newCoordinator(t)

	changes := 0
	c.OnChange(func() { changes++ })

	called, err := c.CallNext(context.Background())
	require.NoError(t, err)
	assert.Nil(t, called)
	assert.Empty(t, notifier.yourTurn)
	assert.Zero(t, changes)
}

func TestCallNextCompletesPreviousTicket(t *testing.T) {
	c, store, _ := newCoordinator(t)
	ctx := context.Background()

	ana := enroll(t, c, "ana")
	enroll(t, c, "beto")

	_, err := c.CallNext(ctx)
	require.NoError(t, err)
	_, err = c.CallNext(ctx)
	require.NoError(t, err)

	got, err := store.GetTicket(ctx, ana.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)

	serving, err := store.ListByStatus(ctx, models.StatusBeingServed)
	require.NoError(t, err)
	require.Len(t, serving, 1)
	assert.Equal(t, "beto", serving[0].Name)
}

func TestCompleteCurrentService(t *testing.T) {
	c, _, notifier := newCoordinator(t)
	ctx := context.Background()

	ana := enroll(t, c, "ana")
	enroll(t, c, "beto")
	_, err := c.CallNext(ctx)
	require.NoError(t, err)
	before := len(notifier.proximity)

	done, err := c.CompleteCurrentService(ctx)
	require.NoError(t, err)
	require.NotNil(t, done)
	assert.Equal(t, ana.ID, done.ID)
	assert.Equal(t, models.StatusCompleted, done.Status)
	assert.Len(t, notifier.proximity, before+1)

	current, err := c.GetCurrent(ctx)
	require.NoError(t, err)
	assert.Nil(t, current)
}

func TestEnrollValidation(t *testing.T) {
	c, _, notifier := newCoordinator(t)

	_, err := c.Enroll(context.Background(), "  ", "", "not-an-email")
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))
	assert.Contains(t, err.Error(), "name is required")
	assert.Contains(t, err.Error(), "phone is required")
	assert.Contains(t, err.Error(), "invalid")
	assert.Empty(t, notifier.confirmations)

	waiting, err := c.ListWaiting(context.Background())
	require.NoError(t, err)
	assert.Empty(t, waiting)
}

func TestAbandon(t *testing.T) {
	c, _, notifier := newCoordinator(t)
	ctx := context.Background()

	ana := enroll(t, c, "ana")
	beto := enroll(t, c, "beto")
	carla := enroll(t, c, "carla")

	require.NoError(t, c.Abandon(ctx, beto.ID))

	waiting, err := c.ListWaiting(ctx)
	require.NoError(t, err)
	require.Len(t, waiting, 2)
	assert.Equal(t, ana.ID, waiting[0].ID)
	assert.Equal(t, carla.ID, waiting[1].ID)
	assert.Equal(t, 1, waiting[1].Position)
	assert.Len(t, notifier.lastProximity(), 2)

	err = c.Abandon(ctx, beto.ID)
	assert.True(t, errs.IsNotFound(err))

	err = c.Abandon(ctx, "missing")
	assert.True(t, errs.IsNotFound(err))

	err = c.Abandon(ctx, "")
	assert.True(t, errs.IsValidation(err))

	_, err = c.CallNext(ctx)
	require.NoError(t, err)
	err = c.Abandon(ctx, ana.ID)
	assert.True(t, errs.IsNotFound(err), "a ticket being served cannot be abandoned")
}

func TestTicketNumbersIncrease(t *testing.T) {
	c, store, _ := newCoordinator(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.Enroll(ctx, fmt.Sprintf("visitor%d", i), "123", fmt.Sprintf("v%d@example.com", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	waiting, err := c.ListWaiting(ctx)
	require.NoError(t, err)
	require.Len(t, waiting, 20)

	seen := make(map[int]bool)
	for i, ticket := range waiting {
		assert.Equal(t, int64(i+1), ticket.TicketNumber)
		seen[ticket.Position] = true
	}
	assert.Len(t, seen, 20)

	settings, err := store.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(20), settings.LastTicketNumber)
}

func TestSnapshotWithoutNotifier(t *testing.T) {
	c := queue.New(memstore.New(), nil, nil)
	ctx := context.Background()

	_, err := c.Enroll(ctx, "ana", "1", "ana@example.com")
	require.NoError(t, err)
	_, err = c.Enroll(ctx, "beto", "2", "beto@example.com")
	require.NoError(t, err)
	_, err = c.CallNext(ctx)
	require.NoError(t, err)

	snap, err := c.Snapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap.CurrentTicket)
	assert.Equal(t, "ana", snap.CurrentTicket.Name)
	require.Len(t, snap.Clients, 1)
	assert.Equal(t, "beto", snap.Clients[0].Name)
}
