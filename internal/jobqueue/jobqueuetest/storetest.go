// Package jobqueuetest holds the behaviour every jobqueue.Store must show.
package jobqueuetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walkin-queue/internal/errs"
	"walkin-queue/internal/jobqueue"
	"walkin-queue/internal/models"
)

// RunStoreTests exercises store ordering, claiming and deletion. newStore
// must return an empty store on every call.
func RunStoreTests(t *testing.T, newStore func(t *testing.T) jobqueue.Store) {
	t.Run("PriorityThenInsertionOrder", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		low1 := insert(t, store, "low-1", 1)
		high := insert(t, store, "high", 5)
		low2 := insert(t, store, "low-2", 1)

		for _, want := range []string{high, low1, low2} {
			job, err := store.ClaimNext(ctx)
			require.NoError(t, err)
			require.NotNil(t, job)
			assert.Equal(t, want, job.ID)
			assert.Equal(t, models.JobProcessing, job.Status)
		}

		job, err := store.ClaimNext(ctx)
		require.NoError(t, err)
		assert.Nil(t, job)
	})

	t.Run("LargePrioritiesKeepInsertionOrder", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		ids := []string{}
		for _, name := range []string{"a", "b", "c", "d"} {
			ids = append(ids, insert(t, store, name, 2_000_000))
		}
		top := insert(t, store, "top", 2_000_001)

		for _, want := range append([]string{top}, ids...) {
			job, err := store.ClaimNext(ctx)
			require.NoError(t, err)
			require.NotNil(t, job)
			assert.Equal(t, want, job.ID)
		}
	})

	t.Run("RequeuedJobKeepsItsSlot", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		first := insert(t, store, "first", 1)
		second := insert(t, store, "second", 1)

		claimed, err := store.ClaimNext(ctx)
		require.NoError(t, err)
		require.Equal(t, first, claimed.ID)

		claimed.Status = models.JobPending
		claimed.Attempts = 1
		require.NoError(t, store.Update(ctx, claimed))

		again, err := store.ClaimNext(ctx)
		require.NoError(t, err)
		assert.Equal(t, first, again.ID)
		assert.Equal(t, 1, again.Attempts)

		next, err := store.ClaimNext(ctx)
		require.NoError(t, err)
		assert.Equal(t, second, next.ID)
	})

	t.Run("GetAndUpdate", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		id := insert(t, store, "job", 2)
		job, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, []string{"job@example.com"}, job.To)
		assert.Equal(t, models.JobPending, job.Status)

		now := time.Now().UTC().Truncate(time.Millisecond)
		job.Status = models.JobFailed
		job.Error = "smtp timeout"
		job.ProcessedAt = &now
		require.NoError(t, store.Update(ctx, job))

		got, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.JobFailed, got.Status)
		assert.Equal(t, "smtp timeout", got.Error)
		require.NotNil(t, got.ProcessedAt)
		assert.True(t, now.Equal(*got.ProcessedAt))

		_, err = store.Get(ctx, "missing")
		assert.True(t, errs.IsNotFound(err))
	})

	t.Run("DeleteCompletedKeepsOthers", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		done := insert(t, store, "done", 1)
		failed := insert(t, store, "failed", 1)
		pending := insert(t, store, "pending", 1)

		setStatus(t, store, done, models.JobCompleted)
		setStatus(t, store, failed, models.JobFailed)

		n, err := store.DeleteCompleted(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		jobs, err := store.List(ctx)
		require.NoError(t, err)
		ids := []string{}
		for _, job := range jobs {
			ids = append(ids, job.ID)
		}
		assert.Equal(t, []string{failed, pending}, ids)
	})
}

func insert(t *testing.T, store jobqueue.Store, name string, priority int) string {
	t.Helper()
	job := &models.NotificationJob{
		ID:          name + "-id",
		Kind:        models.KindBatch,
		Message:     models.Message{Channel: models.ChannelEmail, To: []string{name + "@example.com"}, Subject: name, Text: name},
		Status:      models.JobPending,
		MaxAttempts: models.DefaultMaxAttempts,
		Priority:    priority,
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, store.Insert(context.Background(), job))
	return job.ID
}

func setStatus(t *testing.T, store jobqueue.Store, id string, status models.JobStatus) {
	t.Helper()
	job, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	job.Status = status
	require.NoError(t, store.Update(context.Background(), job))
}
