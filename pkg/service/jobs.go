package service

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hed1ad/logids/pkg/pipeline"
)

// DefaultMaxFinishedJobs is how many finished jobs are retained for
// inspection. Older ones are forgotten.
const DefaultMaxFinishedJobs = 100

// ErrJobNotFound is returned for unknown or evicted job IDs.
var ErrJobNotFound = errors.New("job not found")

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Done reports whether the status is terminal.
func (s JobStatus) Done() bool {
	return s == JobSucceeded || s == JobFailed || s == JobCancelled
}

// Job is a snapshot of a background training run.
type Job struct {
	ID         string                `json:"id"`
	Kind       string                `json:"kind"`
	Status     JobStatus             `json:"status"`
	Result     *pipeline.TrainResult `json:"result,omitempty"`
	Error      string                `json:"error,omitempty"`
	CreatedAt  time.Time             `json:"created_at"`
	StartedAt  *time.Time            `json:"started_at,omitempty"`
	FinishedAt *time.Time            `json:"finished_at,omitempty"`
}

// TrainFunc is the work a job runs.
type TrainFunc func(ctx context.Context) (pipeline.TrainResult, error)

type jobEntry struct {
	job    Job
	cancel context.CancelFunc
	done   chan struct{}
}

// Jobs runs training functions in the background, one at a time.
type Jobs struct {
	mu          sync.Mutex
	entries     map[string]*jobEntry
	maxFinished int
	slot        chan struct{}
	wg          sync.WaitGroup
	logger      *zap.Logger
}

// NewJobs creates an empty job manager.
func NewJobs(logger *zap.Logger) *Jobs {
	return &Jobs{
		entries:     make(map[string]*jobEntry),
		maxFinished: DefaultMaxFinishedJobs,
		slot:        make(chan struct{}, 1),
		logger:      logger,
	}
}

// Submit queues fn and returns its pending job. The job's context is
// independent of any request context; use Cancel to stop it.
func (j *Jobs) Submit(kind string, fn TrainFunc) Job {
	ctx, cancel := context.WithCancel(context.Background())
	e := &jobEntry{
		job: Job{
			ID:        uuid.NewString(),
			Kind:      kind,
			Status:    JobPending,
			CreatedAt: time.Now().UTC(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}

	j.mu.Lock()
	j.entries[e.job.ID] = e
	snap := e.job
	j.mu.Unlock()

	j.wg.Add(1)
	go j.run(ctx, e, fn)
	return snap
}

func (j *Jobs) run(ctx context.Context, e *jobEntry, fn TrainFunc) {
	defer j.wg.Done()
	defer close(e.done)
	defer e.cancel()

	select {
	case j.slot <- struct{}{}:
	case <-ctx.Done():
		j.finish(e, pipeline.TrainResult{}, ctx.Err())
		return
	}
	defer func() { <-j.slot }()

	if err := ctx.Err(); err != nil {
		j.finish(e, pipeline.TrainResult{}, err)
		return
	}

	j.mu.Lock()
	now := time.Now().UTC()
	e.job.Status = JobRunning
	e.job.StartedAt = &now
	j.mu.Unlock()

	j.logger.Info("job started", zap.String("job_id", e.job.ID), zap.String("kind", e.job.Kind))
	res, err := fn(ctx)
	j.finish(e, res, err)
}

func (j *Jobs) finish(e *jobEntry, res pipeline.TrainResult, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := time.Now().UTC()
	e.job.FinishedAt = &now
	switch {
	case errors.Is(err, context.Canceled):
		e.job.Status = JobCancelled
		e.job.Error = err.Error()
	case err != nil:
		e.job.Status = JobFailed
		e.job.Error = err.Error()
	default:
		e.job.Status = JobSucceeded
		e.job.Result = &res
	}

	fields := []zap.Field{
		zap.String("job_id", e.job.ID),
		zap.String("kind", e.job.Kind),
		zap.String("status", string(e.job.Status)),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	j.logger.Info("job finished", fields...)

	j.evictLocked()
}

// evictLocked drops the oldest finished jobs beyond maxFinished.
func (j *Jobs) evictLocked() {
	var finished []*jobEntry
	for _, e := range j.entries {
		if e.job.Status.Done() {
			finished = append(finished, e)
		}
	}
	if len(finished) <= j.maxFinished {
		return
	}
	slices.SortFunc(finished, func(a, b *jobEntry) int {
		return a.job.FinishedAt.Compare(*b.job.FinishedAt)
	})
	for _, e := range finished[:len(finished)-j.maxFinished] {
		delete(j.entries, e.job.ID)
	}
}

// Get returns a snapshot of the job.
func (j *Jobs) Get(id string) (Job, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	e, ok := j.entries[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return e.job, nil
}

// List returns snapshots of all jobs, newest first.
func (j *Jobs) List() []Job {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Job, 0, len(j.entries))
	for _, e := range j.entries {
		out = append(out, e.job)
	}
	slices.SortFunc(out, func(a, b Job) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out
}

// Cancel requests cancellation. Finished jobs are returned unchanged.
func (j *Jobs) Cancel(id string) (Job, error) {
	j.mu.Lock()
	e, ok := j.entries[id]
	j.mu.Unlock()
	if !ok {
		return Job{}, ErrJobNotFound
	}
	e.cancel()
	return j.Get(id)
}

// Wait blocks until the job is finished or ctx is done.
func (j *Jobs) Wait(ctx context.Context, id string) (Job, error) {
	j.mu.Lock()
	e, ok := j.entries[id]
	j.mu.Unlock()
	if !ok {
		return Job{}, ErrJobNotFound
	}
	select {
	case <-e.done:
		j.mu.Lock()
		defer j.mu.Unlock()
		return e.job, nil
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

// Close cancels every job and waits for them to return.
func (j *Jobs) Close() {
	j.mu.Lock()
	for _, e := range j.entries {
		e.cancel()
	}
	j.mu.Unlock()
	j.wg.Wait()
}
