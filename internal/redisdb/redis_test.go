package redisdb

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walkin-queue/internal/jobqueue"
	"walkin-queue/internal/jobqueue/jobqueuetest"
	"walkin-queue/internal/models"
)

func newStore(t *testing.T) (*JobStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { rdb.Close() })
	return NewJobStore(rdb, "test:"), mr
}

func TestJobStore(t *testing.T) {
	jobqueuetest.RunStoreTests(t, func(t *testing.T) jobqueue.Store {
		store, _ := newStore(t)
		return store
	})
}

func TestClaimNext_FailureLeavesJobClaimable(t *testing.T) {
	ctx := context.Background()
	store, mr := newStore(t)

	job := &models.NotificationJob{
		ID:          "job-1",
		Kind:        models.KindBatch,
		Message:     models.Message{Channel: models.ChannelEmail, To: []string{"a@example.com"}, Subject: "hi", Text: "hi"},
		Status:      models.JobPending,
		MaxAttempts: models.DefaultMaxAttempts,
		Priority:    1,
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, store.Insert(ctx, job))

	mr.SetError("LOADING server is loading")
	_, err := store.ClaimNext(ctx)
	require.Error(t, err)
	mr.SetError("")

	got, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobPending, got.Status)

	claimed, err := store.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, "job-1", claimed.ID)
	assert.Equal(t, models.JobProcessing, claimed.Status)

	raw := mr.HGet("test:status", "job-1")
	assert.Equal(t, string(models.JobProcessing), raw)
}

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)

	rdb, err := Connect(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	defer rdb.Close()

	_, err = Connect(context.Background(), "not a url")
	assert.Error(t, err)
}
