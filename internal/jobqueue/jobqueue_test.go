package jobqueue_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walkin-queue/internal/errs"
	"walkin-queue/internal/jobqueue"
	"walkin-queue/internal/jobqueue/jobqueuetest"
	"walkin-queue/internal/models"
)

func TestMemoryStore(t *testing.T) {
	jobqueuetest.RunStoreTests(t, func(t *testing.T) jobqueue.Store {
		return jobqueue.NewMemoryStore()
	})
}

func emailReq(to string, priority int) models.JobRequest {
	return models.JobRequest{
		Message: models.Message{
			Channel: models.ChannelEmail,
			To:      []string{to},
			Subject: "hello",
			Text:    "hello " + to,
		},
		Priority: priority,
	}
}

func TestEnqueue_Defaults(t *testing.T) {
	q := jobqueue.New(jobqueue.NewMemoryStore(), nil)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, emailReq("a@example.com", 0))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	jobs, err := q.List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.JobPending, jobs[0].Status)
	assert.Equal(t, 0, jobs[0].Attempts)
	assert.Equal(t, models.DefaultMaxAttempts, jobs[0].MaxAttempts)
	assert.Equal(t, models.KindBatch, jobs[0].Kind)
}

func TestEnqueue_Validation(t *testing.T) {
	q := jobqueue.New(jobqueue.NewMemoryStore(), nil)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, models.JobRequest{})
	assert.True(t, errs.IsValidation(err))

	_, err = q.Enqueue(ctx, models.JobRequest{Message: models.Message{Channel: models.ChannelSMS, To: []string{"+55"}}})
	assert.True(t, errs.IsValidation(err))

	_, err = q.EnqueueBatch(ctx, nil)
	assert.True(t, errs.IsValidation(err))
}

func TestDequeue_PriorityScenario(t *testing.T) {
	q := jobqueue.New(jobqueue.NewMemoryStore(), nil)
	ctx := context.Background()

	ids, err := q.EnqueueBatch(ctx, []models.JobRequest{
		emailReq("first@example.com", 1),
		emailReq("urgent@example.com", 5),
		emailReq("second@example.com", 1),
	})
	require.NoError(t, err)
	require.Len(t, ids, 3)

	for _, want := range []string{ids[1], ids[0], ids[2]} {
		job, err := q.DequeueNext(ctx)
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, want, job.ID)
	}

	job, err := q.DequeueNext(ctx)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestMarkFailed_ExhaustsAttempts(t *testing.T) {
	q := jobqueue.New(jobqueue.NewMemoryStore(), nil)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, emailReq("a@example.com", 1))
	require.NoError(t, err)

	for attempt := 1; attempt <= models.DefaultMaxAttempts; attempt++ {
		job, err := q.DequeueNext(ctx)
		require.NoError(t, err)
		require.NotNil(t, job, "attempt %d", attempt)
		require.NoError(t, q.MarkFailed(ctx, id, errors.New("gateway down")))
	}

	job, err := q.DequeueNext(ctx)
	require.NoError(t, err)
	assert.Nil(t, job)

	jobs, err := q.List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.JobFailed, jobs[0].Status)
	assert.Equal(t, models.DefaultMaxAttempts, jobs[0].Attempts)
	assert.Equal(t, "gateway down", jobs[0].Error)
	assert.NotNil(t, jobs[0].ProcessedAt)
}

func TestMarkCompleted_AfterRetry(t *testing.T) {
	q := jobqueue.New(jobqueue.NewMemoryStore(), nil)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, emailReq("a@example.com", 1))
	require.NoError(t, err)

	_, err = q.DequeueNext(ctx)
	require.NoError(t, err)
	require.NoError(t, q.MarkFailed(ctx, id, errors.New("timeout")))

	job, err := q.DequeueNext(ctx)
	require.NoError(t, err)
	require.Equal(t, id, job.ID)
	require.NoError(t, q.MarkCompleted(ctx, id))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.Stats{Completed: 1, Total: 1}, stats)

	assert.True(t, errs.IsNotFound(q.MarkCompleted(ctx, "missing")))
}

func TestStatsAndClearCompleted(t *testing.T) {
	q := jobqueue.New(jobqueue.NewMemoryStore(), nil)
	ctx := context.Background()

	ids, err := q.EnqueueBatch(ctx, []models.JobRequest{
		emailReq("a@example.com", 1),
		emailReq("b@example.com", 1),
		emailReq("c@example.com", 1),
	})
	require.NoError(t, err)

	_, err = q.DequeueNext(ctx)
	require.NoError(t, err)
	require.NoError(t, q.MarkCompleted(ctx, ids[0]))
	_, err = q.DequeueNext(ctx)
	require.NoError(t, err)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.Stats{Pending: 1, Processing: 1, Completed: 1, Total: 3}, stats)

	n, err := q.ClearCompleted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stats, err = q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.Stats{Pending: 1, Processing: 1, Total: 2}, stats)
}

func TestEnqueueBatch_InvalidItemStoresNothing(t *testing.T) {
	q := jobqueue.New(jobqueue.NewMemoryStore(), nil)
	ctx := context.Background()

	ids, err := q.EnqueueBatch(ctx, []models.JobRequest{
		emailReq("a@example.com", 1),
		{Message: models.Message{Channel: models.ChannelEmail, Subject: "no recipient", Text: "t"}},
		emailReq("c@example.com", 1),
	})
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))
	assert.Contains(t, err.Error(), "item 1")
	assert.Empty(t, ids)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.Stats{}, stats)
}

func TestMark_RequiresProcessingJob(t *testing.T) {
	q := jobqueue.New(jobqueue.NewMemoryStore(), nil)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, models.JobRequest{
		Message:     models.Message{To: []string{"a@example.com"}, Subject: "s", Text: "t"},
		MaxAttempts: 1,
	})
	require.NoError(t, err)

	assert.True(t, errs.IsNotFound(q.MarkCompleted(ctx, id)), "pending job cannot be completed")

	_, err = q.DequeueNext(ctx)
	require.NoError(t, err)
	require.NoError(t, q.MarkFailed(ctx, id, errors.New("bounced")))

	assert.True(t, errs.IsNotFound(q.MarkFailed(ctx, id, errors.New("again"))))
	assert.True(t, errs.IsNotFound(q.MarkCompleted(ctx, id)))

	jobs, err := q.List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.JobFailed, jobs[0].Status)
	assert.Equal(t, 1, jobs[0].Attempts)
	assert.Equal(t, "bounced", jobs[0].Error)
}
