// Package jobqueue schedules outbound notification jobs by priority and
// tracks their delivery attempts.
package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"walkin-queue/internal/errs"
	"walkin-queue/internal/models"
)

// Store persists jobs. Implementations order pending jobs by priority
// descending, then by insertion sequence.
type Store interface {
	// Insert assigns the insertion sequence and saves the job.
	Insert(ctx context.Context, job *models.NotificationJob) error
	// ClaimNext atomically moves the first pending job to processing.
	// Returns nil when nothing is pending.
	ClaimNext(ctx context.Context) (*models.NotificationJob, error)
	Get(ctx context.Context, id string) (*models.NotificationJob, error)
	// Update saves job; a job saved as pending becomes claimable again in
	// its original order.
	Update(ctx context.Context, job *models.NotificationJob) error
	List(ctx context.Context) ([]models.NotificationJob, error)
	DeleteCompleted(ctx context.Context) (int, error)
}

// Queue is the job queue facade used by producers and the worker.
type Queue struct {
	store Store
	log   *slog.Logger
	now   func() time.Time
}

// New creates a queue over store
func New(store Store, log *slog.Logger) *Queue {
	if log == nil {
		log = slog.Default()
	}
	return &Queue{
		store: store,
		log:   log.With("component", "jobqueue"),
		now:   time.Now,
	}
}

// Enqueue validates and stores a pending job, returning its id.
func (q *Queue) Enqueue(ctx context.Context, req models.JobRequest) (string, error) {
	if err := validate(req); err != nil {
		return "", err
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = models.DefaultMaxAttempts
	}
	kind := req.Kind
	if kind == "" {
		kind = models.KindBatch
	}
	channel := req.Message.Channel
	if channel == "" {
		channel = models.ChannelEmail
	}

	msg := req.Message
	msg.Channel = channel
	msg.To = append([]string(nil), req.Message.To...)

	job := &models.NotificationJob{
		ID:          uuid.NewString(),
		Kind:        kind,
		TicketID:    req.TicketID,
		Message:     msg,
		Status:      models.JobPending,
		Attempts:    0,
		MaxAttempts: maxAttempts,
		Priority:    req.Priority,
		CreatedAt:   q.now().UTC(),
	}
	if err := q.store.Insert(ctx, job); err != nil {
		return "", errs.Store("enqueue", err)
	}

	q.log.Debug("job enqueued", "job_id", job.ID, "kind", job.Kind, "channel", job.Channel, "priority", job.Priority)
	return job.ID, nil
}

// EnqueueBatch enqueues every request in order. Every request is validated
// before the first one is stored, so an invalid batch stores nothing. A
// store failure stops the batch and returns the ids stored so far.
func (q *Queue) EnqueueBatch(ctx context.Context, reqs []models.JobRequest) ([]string, error) {
	if len(reqs) == 0 {
		return nil, &errs.ValidationError{Errors: []error{errors.New("batch is empty")}}
	}

	v := &errs.ValidationError{}
	for i, req := range reqs {
		var item *errs.ValidationError
		if err := validate(req); errors.As(err, &item) {
			for _, e := range item.Errors {
				v.Addf("item %d: %v", i, e)
			}
		}
	}
	if err := v.OrNil(); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(reqs))
	for i, req := range reqs {
		id, err := q.Enqueue(ctx, req)
		if err != nil {
			return ids, fmt.Errorf("batch item %d: %w", i, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// DequeueNext claims the highest-priority pending job, or returns nil.
func (q *Queue) DequeueNext(ctx context.Context) (*models.NotificationJob, error) {
	job, err := q.store.ClaimNext(ctx)
	if err != nil {
		return nil, errs.Store("dequeue", err)
	}
	return job, nil
}

// MarkCompleted records a successful delivery of a processing job.
func (q *Queue) MarkCompleted(ctx context.Context, id string) error {
	job, err := q.store.Get(ctx, id)
	if err != nil {
		return errs.Store("mark completed", err)
	}
	if job.Status != models.JobProcessing {
		return errs.NotFound("processing job", id)
	}
	now := q.now().UTC()
	job.Status = models.JobCompleted
	job.ProcessedAt = &now
	job.Error = ""
	return errs.Store("mark completed", q.store.Update(ctx, job))
}

// MarkFailed records a failed attempt of a processing job. The job returns
// to pending until it has used maxAttempts, then it is failed for good.
func (q *Queue) MarkFailed(ctx context.Context, id string, cause error) error {
	job, err := q.store.Get(ctx, id)
	if err != nil {
		return errs.Store("mark failed", err)
	}
	if job.Status != models.JobProcessing {
		return errs.NotFound("processing job", id)
	}

	now := q.now().UTC()
	job.Attempts++
	job.ProcessedAt = &now
	if cause != nil {
		job.Error = cause.Error()
	}
	if job.Attempts >= job.MaxAttempts {
		job.Status = models.JobFailed
	} else {
		job.Status = models.JobPending
	}
	return errs.Store("mark failed", q.store.Update(ctx, job))
}

// Stats counts jobs per status.
func (q *Queue) Stats(ctx context.Context) (models.Stats, error) {
	jobs, err := q.store.List(ctx)
	if err != nil {
		return models.Stats{}, errs.Store("stats", err)
	}
	return countStats(jobs), nil
}

// List returns every retained job in dequeue order.
func (q *Queue) List(ctx context.Context) ([]models.NotificationJob, error) {
	jobs, err := q.store.List(ctx)
	if err != nil {
		return nil, errs.Store("list", err)
	}
	return jobs, nil
}

// ClearCompleted drops completed jobs and reports how many were removed.
func (q *Queue) ClearCompleted(ctx context.Context) (int, error) {
	n, err := q.store.DeleteCompleted(ctx)
	if err != nil {
		return 0, errs.Store("clear completed", err)
	}
	if n > 0 {
		q.log.Info("completed jobs cleared", "count", n)
	}
	return n, nil
}

func countStats(jobs []models.NotificationJob) models.Stats {
	stats := models.Stats{Total: len(jobs)}
	for _, job := range jobs {
		switch job.Status {
		case models.JobPending:
			stats.Pending++
		case models.JobProcessing:
			stats.Processing++
		case models.JobCompleted:
			stats.Completed++
		case models.JobFailed:
			stats.Failed++
		}
	}
	return stats
}

func validate(req models.JobRequest) error {
	v := &errs.ValidationError{}
	if len(req.Message.To) == 0 {
		v.Add(errors.New("at least one recipient is required"))
	}
	for _, to := range req.Message.To {
		if to == "" {
			v.Add(errors.New("recipient must not be blank"))
			break
		}
	}
	switch req.Message.Channel {
	case "", models.ChannelEmail:
		if req.Message.Subject == "" {
			v.Add(errors.New("subject is required"))
		}
		if req.Message.HTML == "" && req.Message.Text == "" {
			v.Add(errors.New("html or text body is required"))
		}
	case models.ChannelSMS:
		if req.Message.Text == "" {
			v.Add(errors.New("text body is required"))
		}
	default:
		v.Addf("unknown channel %q", req.Message.Channel)
	}
	return v.OrNil()
}
