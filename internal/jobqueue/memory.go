package jobqueue

import (
	"context"
	"sort"
	"sync"

	"walkin-queue/internal/errs"
	"walkin-queue/internal/models"
)

// MemoryStore keeps jobs in a slice ordered for dequeue. Jobs are lost on
// restart.
type MemoryStore struct {
	mu   sync.Mutex
	jobs []*models.NotificationJob
	seq  int64
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Insert(_ context.Context, job *models.NotificationJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	job.Seq = s.seq
	stored := clone(job)

	// Insert after every job with priority >= the new one.
	i := sort.Search(len(s.jobs), func(i int) bool {
		return s.jobs[i].Priority < stored.Priority
	})
	s.jobs = append(s.jobs, nil)
	copy(s.jobs[i+1:], s.jobs[i:])
	s.jobs[i] = stored
	return nil
}

func (s *MemoryStore) ClaimNext(_ context.Context) (*models.NotificationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, job := range s.jobs {
		if job.Status == models.JobPending {
			job.Status = models.JobProcessing
			return clone(job), nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.NotificationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job := s.findLocked(id); job != nil {
		return clone(job), nil
	}
	return nil, errs.NotFound("job", id)
}

func (s *MemoryStore) Update(_ context.Context, job *models.NotificationJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.findLocked(job.ID)
	if existing == nil {
		return errs.NotFound("job", job.ID)
	}
	// Priority and sequence are fixed at insert, so the slot is unchanged.
	updated := clone(job)
	updated.Priority = existing.Priority
	updated.Seq = existing.Seq
	*existing = *updated
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]models.NotificationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]models.NotificationJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, *clone(job))
	}
	return jobs, nil
}

func (s *MemoryStore) DeleteCompleted(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.jobs[:0]
	removed := 0
	for _, job := range s.jobs {
		if job.Status == models.JobCompleted {
			removed++
			continue
		}
		kept = append(kept, job)
	}
	for i := len(kept); i < len(s.jobs); i++ {
		s.jobs[i] = nil
	}
	s.jobs = kept
	return removed, nil
}

func (s *MemoryStore) findLocked(id string) *models.NotificationJob {
	for _, job := range s.jobs {
		if job.ID == id {
			return job
		}
	}
	return nil
}

func clone(job *models.NotificationJob) *models.NotificationJob {
	out := *job
	out.To = append([]string(nil), job.To...)
	if job.ProcessedAt != nil {
		t := *job.ProcessedAt
		out.ProcessedAt = &t
	}
	return &out
}
