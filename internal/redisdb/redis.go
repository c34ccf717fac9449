// Package redisdb keeps notification jobs in Redis so pending work survives
// a restart.
package redisdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	"walkin-queue/internal/errs"
	"walkin-queue/internal/models"
)

// Keys under the store prefix:
//
//	jobs    hash   id -> job JSON
//	status  hash   id -> job status (authoritative over the JSON copy)
//	pending zset   "<seq>:<id>" scored by -priority
//	seq     string insertion counter
//
// Members of equal score sort lexically, so the zero-padded sequence keeps
// insertion order within a priority.

// claimScript pops the next pending member and marks its job processing in
// one step. Returns the job id, or nil when nothing is pending.
var claimScript = redis.NewScript(`
local popped = redis.call('ZPOPMIN', KEYS[1])
if #popped == 0 then
	return false
end
local member = popped[1]
local sep = string.find(member, ':', 1, true)
local id = string.sub(member, sep + 1)
redis.call('HSET', KEYS[2], id, ARGV[1])
return id
`)

// JobStore implements jobqueue.Store on Redis.
type JobStore struct {
	rdb       *redis.Client
	jobsKey   string
	statusKey string
	pendKey   string
	seqKey    string
}

// NewJobStore creates a store whose keys share prefix.
func NewJobStore(rdb *redis.Client, prefix string) *JobStore {
	return &JobStore{
		rdb:       rdb,
		jobsKey:   prefix + "jobs",
		statusKey: prefix + "status",
		pendKey:   prefix + "pending",
		seqKey:    prefix + "seq",
	}
}

// Connect parses a redis:// URL and pings the server.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	const op = "redisdb.Connect"

	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return rdb, nil
}

func (s *JobStore) Insert(ctx context.Context, job *models.NotificationJob) error {
	const op = "redisdb.Insert"

	seq, err := s.rdb.Incr(ctx, s.seqKey).Result()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	job.Seq = seq

	if err := s.write(ctx, job); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *JobStore) ClaimNext(ctx context.Context) (*models.NotificationJob, error) {
	const op = "redisdb.ClaimNext"

	id, err := claimScript.Run(ctx, s.rdb, []string{s.pendKey, s.statusKey}, string(models.JobProcessing)).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return job, nil
}

func (s *JobStore) Get(ctx context.Context, id string) (*models.NotificationJob, error) {
	const op = "redisdb.Get"

	var raw, status *redis.StringCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		raw = pipe.HGet(ctx, s.jobsKey, id)
		status = pipe.HGet(ctx, s.statusKey, id)
		return nil
	})
	if errors.Is(raw.Err(), redis.Nil) {
		return nil, errs.NotFound("job", id)
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	job, err := decode(raw.Val(), status.Val())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return job, nil
}

func (s *JobStore) Update(ctx context.Context, job *models.NotificationJob) error {
	const op = "redisdb.Update"

	existing, err := s.Get(ctx, job.ID)
	if err != nil {
		return err
	}
	updated := *job
	updated.Priority = existing.Priority
	updated.Seq = existing.Seq

	if err := s.write(ctx, &updated); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *JobStore) List(ctx context.Context) ([]models.NotificationJob, error) {
	const op = "redisdb.List"

	var raws, statuses *redis.MapStringStringCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		raws = pipe.HGetAll(ctx, s.jobsKey)
		statuses = pipe.HGetAll(ctx, s.statusKey)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	jobs := make([]models.NotificationJob, 0, len(raws.Val()))
	for id, raw := range raws.Val() {
		job, err := decode(raw, statuses.Val()[id])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		jobs = append(jobs, *job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].Priority != jobs[j].Priority {
			return jobs[i].Priority > jobs[j].Priority
		}
		return jobs[i].Seq < jobs[j].Seq
	})
	return jobs, nil
}

func (s *JobStore) DeleteCompleted(ctx context.Context) (int, error) {
	const op = "redisdb.DeleteCompleted"

	jobs, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	ids := []string{}
	for _, job := range jobs {
		if job.Status == models.JobCompleted {
			ids = append(ids, job.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	var deleted *redis.IntCmd
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.HDel(ctx, s.jobsKey, ids...)
		pipe.HDel(ctx, s.statusKey, ids...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return int(deleted.Val()), nil
}

// write saves the job, its status and its place in the pending set in one
// transaction.
func (s *JobStore) write(ctx context.Context, job *models.NotificationJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.jobsKey, job.ID, payload)
		pipe.HSet(ctx, s.statusKey, job.ID, string(job.Status))
		if job.Status == models.JobPending {
			pipe.ZAdd(ctx, s.pendKey, redis.Z{Score: -float64(job.Priority), Member: member(job)})
		} else {
			pipe.ZRem(ctx, s.pendKey, member(job))
		}
		return nil
	})
	return err
}

func member(job *models.NotificationJob) string {
	return fmt.Sprintf("%020d:%s", job.Seq, job.ID)
}

func decode(raw, status string) (*models.NotificationJob, error) {
	var job models.NotificationJob
	if err := json.NewDecoder(strings.NewReader(raw)).Decode(&job); err != nil {
		return nil, err
	}
	if status != "" {
		job.Status = models.JobStatus(status)
	}
	return &job, nil
}
