// Package cleanup periodically purges delivered notification jobs and
// stale rate-limit windows.
package cleanup

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Clearer removes completed jobs.
type Clearer interface {
	ClearCompleted(ctx context.Context) (int, error)
}

// Pruner forgets expired entries.
type Pruner interface {
	Prune() int
}

// Janitor runs a cleanup pass on a cron schedule.
type Janitor struct {
	cron    *cron.Cron
	jobs    Clearer
	limiter Pruner
	log     *slog.Logger
}

// New schedules a pass with a cron schedule, e.g. "@every 1h" or "0 3 * * *".
// limiter may be nil.
func New(schedule string, jobs Clearer, limiter Pruner, log *slog.Logger) (*Janitor, error) {
	if log == nil {
		log = slog.Default()
	}
	j := &Janitor{
		cron:    cron.New(),
		jobs:    jobs,
		limiter: limiter,
		log:     log.With("component", "cleanup"),
	}
	if _, err := j.cron.AddFunc(schedule, func() { j.Run(context.Background()) }); err != nil {
		return nil, fmt.Errorf("cleanup: invalid schedule %q: %w", schedule, err)
	}
	return j, nil
}

// Run performs one cleanup pass.
func (j *Janitor) Run(ctx context.Context) {
	n, err := j.jobs.ClearCompleted(ctx)
	if err != nil {
		j.log.Error("purge completed jobs failed", "error", err)
	} else {
		j.log.Info("purged completed jobs", "count", n)
	}
	if j.limiter != nil {
		j.log.Debug("pruned rate limit windows", "count", j.limiter.Prune())
	}
}

func (j *Janitor) Start() { j.cron.Start() }

// Stop halts the schedule and waits for a running pass.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}
