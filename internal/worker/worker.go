package worker

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"walkin-queue/internal/gateway"
	"walkin-queue/internal/models"
)

// Jobs is the part of the job queue the worker drains.
type Jobs interface {
	DequeueNext(ctx context.Context) (*models.NotificationJob, error)
	MarkCompleted(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, cause error) error
}

// Worker drains the notification queue one job at a time
type Worker struct {
	jobs        Jobs
	gateway     gateway.Gateway
	interval    time.Duration
	pacing      time.Duration
	sendTimeout time.Duration
	log         *slog.Logger
	onUpdate    func() // Callback for broadcasting updates

	busy atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Config holds the loop timings
type Config struct {
	Interval    time.Duration
	Pacing      time.Duration
	SendTimeout time.Duration
}

// New creates a new worker
func New(jobs Jobs, gw gateway.Gateway, cfg Config, log *slog.Logger, onUpdate func()) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Pacing < 0 {
		cfg.Pacing = 0
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Worker{
		jobs:        jobs,
		gateway:     gw,
		interval:    cfg.Interval,
		pacing:      cfg.Pacing,
		sendTimeout: cfg.SendTimeout,
		log:         log.With("component", "worker"),
		onUpdate:    onUpdate,
	}
}

// Start launches the polling loop. Starting a running worker is a no-op.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.run(ctx, w.done)
	w.log.Info("[WORKER] Started", "interval", w.interval, "pacing", w.pacing)
}

// Stop prevents future ticks and waits for the loop to exit. A send already
// in flight finishes first. Stopping an idle worker is a no-op.
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the loop is started.
func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cancel != nil
}

func (w *Worker) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("[WORKER] Shutting down")
			return
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick processes at most one job. It returns false without dequeuing when
// a job is already in flight.
func (w *Worker) Tick(ctx context.Context) bool {
	if !w.busy.CompareAndSwap(false, true) {
		return false
	}
	defer w.busy.Store(false)

	job, err := w.jobs.DequeueNext(ctx)
	if err != nil {
		w.log.Error("[ERROR] Failed to dequeue job", "error", err)
		return true
	}
	if job == nil {
		return true
	}

	w.log.Info("[START]", "job_id", job.ID, "kind", job.Kind, "channel", job.Channel, "attempt", job.Attempts+1)
	w.updated()

	// Rate-limit protection for the outbound provider.
	if w.pacing > 0 {
		select {
		case <-time.After(w.pacing):
		case <-ctx.Done():
		}
	}

	// The send runs to completion even if the loop is being stopped.
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.sendTimeout)
	sendErr := w.gateway.Send(sendCtx, job.Message)
	cancel()

	// Bookkeeping must land even when Stop raced the send.
	bookCtx := context.WithoutCancel(ctx)
	if sendErr == nil {
		err = w.jobs.MarkCompleted(bookCtx, job.ID)
		w.log.Info("[FINISH]", "job_id", job.ID, "to", strings.Join(job.To, ","))
	} else {
		err = w.jobs.MarkFailed(bookCtx, job.ID, sendErr)
		if job.Attempts+1 >= job.MaxAttempts {
			w.log.Warn("[FAILED]", "job_id", job.ID, "attempts", job.Attempts+1, "error", sendErr)
		} else {
			w.log.Warn("[RETRY]", "job_id", job.ID, "attempts", job.Attempts+1, "max_attempts", job.MaxAttempts, "error", sendErr)
		}
	}
	if err != nil {
		w.log.Error("[ERROR] Failed to update job status", "job_id", job.ID, "error", err)
	}

	w.updated()
	return true
}

func (w *Worker) updated() {
	if w.onUpdate != nil {
		w.onUpdate()
	}
}
