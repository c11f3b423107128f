package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"ferret/internal/indexer"
	"ferret/internal/store"
)

// Defaults for the scheduler. Indexing concurrency stays small because each
// worker holds an outstanding call against the embedding capability.
const (
	DefaultWorkers    = 2
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 2 * time.Second
)

var (
	// ErrConflict indicates the target path already has a non-terminal job.
	ErrConflict = errors.New("target already has an active job")

	// ErrClosed indicates the scheduler no longer accepts jobs.
	ErrClosed = errors.New("scheduler is shut down")
)

// CacheInvalidator lets the search layer drop cached results whenever any
// job reaches a terminal state.
type CacheInvalidator interface {
	Invalidate()
}

// Request describes a job to enqueue.
type Request struct {
	Target     string
	Op         string
	Priority   int
	Recursive  bool
	Extensions []string
}

// flight tracks one admitted job from enqueue to terminal state. Its context
// survives retries, so a user stop also cancels future attempts.
type flight struct {
	jobID  string
	target string
	ctx    context.Context
	cancel context.CancelFunc
}

// Scheduler owns the worker pool and the in-flight target set. It is an
// explicit object with a Start/Close lifecycle rather than package state.
type Scheduler struct {
	store      *store.Store
	indexer    *indexer.Indexer
	cache      CacheInvalidator
	queue      *jobQueue
	pool       *ants.Pool
	logger     *slog.Logger
	workers    int
	maxRetries int
	baseDelay  time.Duration

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu       sync.Mutex
	inflight map[string]*flight // keyed by target path
	byJob    map[string]*flight // keyed by job id
	closed   bool

	wg sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithWorkers sets the worker pool size.
func WithWorkers(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithRetry sets the per-job retry budget and base backoff delay.
func WithRetry(maxRetries int, baseDelay time.Duration) Option {
	return func(s *Scheduler) {
		if maxRetries >= 0 {
			s.maxRetries = maxRetries
		}
		if baseDelay > 0 {
			s.baseDelay = baseDelay
		}
	}
}

// WithCache registers a cache to invalidate on job completion.
func WithCache(c CacheInvalidator) Option {
	return func(s *Scheduler) { s.cache = c }
}

// WithLogger sets a custom logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a scheduler. Call Start before enqueueing.
func New(st *store.Store, ix *indexer.Indexer, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		store:      st,
		indexer:    ix,
		queue:      newJobQueue(),
		logger:     slog.Default(),
		workers:    DefaultWorkers,
		maxRetries: DefaultMaxRetries,
		baseDelay:  DefaultBaseDelay,
		inflight:   make(map[string]*flight),
		byJob:      make(map[string]*flight),
	}
	for _, opt := range opts {
		opt(s)
	}

	pool, err := ants.NewPool(s.workers)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	s.pool = pool
	s.baseCtx, s.baseCancel = context.WithCancel(context.Background())

	if err := s.recoverOrphanedJobs(); err != nil {
		pool.Release()
		s.baseCancel()
		return nil, err
	}
	return s, nil
}

// recoverOrphanedJobs fails any non-terminal job rows left behind by a
// previous process. The queue and in-flight set are in-memory, so a pending
// or processing row that survived a crash would otherwise never run and
// would block its target with ErrConflict indefinitely.
func (s *Scheduler) recoverOrphanedJobs() error {
	for _, status := range []string{store.JobStatusPending, store.JobStatusProcessing} {
		jobs, err := s.store.ListJobs(status)
		if err != nil {
			return fmt.Errorf("scan %s jobs: %w", status, err)
		}
		for _, j := range jobs {
			if err := s.store.SetJobStatus(j.ID, status, store.JobStatusFailed, "interrupted by shutdown"); err != nil {
				return fmt.Errorf("fail orphaned job %s: %w", j.ID, err)
			}
			s.logger.Warn("failed orphaned job from previous run", "job_id", j.ID, "target", j.Target, "was", status)
		}
	}
	return nil
}

// Start launches the dispatcher that feeds queued jobs into the pool.
func (s *Scheduler) Start() {
	go s.dispatch()
}

func (s *Scheduler) dispatch() {
	for {
		jobID, ok := s.queue.pop()
		if !ok {
			return
		}
		id := jobID
		if err := s.pool.Submit(func() { s.run(id) }); err != nil {
			s.logger.Error("worker pool rejected job", "job_id", id, "error", err)
			s.finishJob(id, store.JobStatusPending, store.JobStatusFailed, "worker pool unavailable")
		}
	}
}

// Enqueue validates, persists, and queues a job. A target that already has a
// non-terminal job is rejected with ErrConflict, synchronously.
func (s *Scheduler) Enqueue(req Request) (*store.IndexJob, error) {
	target, err := filepath.Abs(req.Target)
	if err != nil {
		return nil, fmt.Errorf("resolve target: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if _, busy := s.inflight[target]; busy {
		return nil, fmt.Errorf("%s: %w", target, ErrConflict)
	}
	active, err := s.store.HasActiveJobForTarget(target)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, fmt.Errorf("%s: %w", target, ErrConflict)
	}

	job := &store.IndexJob{
		ID:       uuid.NewString(),
		Target:   target,
		Op:       req.Op,
		Priority: req.Priority,
		Status:   store.JobStatusPending,
	}
	if err := s.store.CreateJob(job); err != nil {
		return nil, fmt.Errorf("persist job: %w", err)
	}

	if req.Op != store.JobOpDelete {
		if info, err := os.Stat(target); err == nil && info.IsDir() {
			if _, err := s.store.UpsertDirectory(store.DirectoryRecord{
				Path:       target,
				Recursive:  req.Recursive,
				Extensions: req.Extensions,
			}); err != nil {
				return nil, fmt.Errorf("persist directory: %w", err)
			}
		}
	}

	ctx, cancel := context.WithCancel(s.baseCtx)
	f := &flight{jobID: job.ID, target: target, ctx: ctx, cancel: cancel}
	s.inflight[target] = f
	s.byJob[job.ID] = f

	s.wg.Add(1)
	s.queue.push(job.ID, job.Priority)
	s.logger.Info("job enqueued", "job_id", job.ID, "op", job.Op, "target", target)
	return job, nil
}

// Stop cancels an in-flight or queued job. The job ends failed with a
// "stopped by user" error rather than disappearing.
func (s *Scheduler) Stop(jobID string) error {
	job, err := s.store.GetJob(jobID)
	if err != nil {
		return err
	}
	if job.Terminal() {
		return nil
	}
	s.mu.Lock()
	f, ok := s.byJob[jobID]
	s.mu.Unlock()
	if ok {
		f.cancel()
	}
	return nil
}

// Close drains the scheduler: no new jobs are accepted, and in-flight jobs
// either finish or, once ctx expires, are cancelled. It waits for every
// admitted job to reach a terminal state.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.baseCancel()
		<-done
	}

	s.queue.close()
	s.pool.Release()
	s.baseCancel()
	return nil
}

// run executes one job attempt on a pool worker.
func (s *Scheduler) run(jobID string) {
	job, err := s.store.GetJob(jobID)
	if err != nil {
		s.logger.Error("job vanished before run", "job_id", jobID, "error", err)
		s.settle(jobID)
		return
	}

	if err := s.store.SetJobStatus(jobID, store.JobStatusPending, store.JobStatusProcessing, ""); err != nil {
		s.logger.Warn("job not in pending state, skipping", "job_id", jobID, "error", err)
		s.settle(jobID)
		return
	}

	ctx := s.baseCtx
	s.mu.Lock()
	if f, ok := s.byJob[jobID]; ok {
		ctx = f.ctx
	}
	s.mu.Unlock()

	runErr := s.execute(ctx, job)
	switch {
	case runErr == nil:
		s.finishJob(jobID, store.JobStatusProcessing, store.JobStatusCompleted, "")
	case errors.Is(runErr, context.Canceled):
		s.finishJob(jobID, store.JobStatusProcessing, store.JobStatusFailed, "stopped by user")
	case job.Retries < s.maxRetries:
		s.retryJob(job, runErr)
	default:
		s.finishJob(jobID, store.JobStatusProcessing, store.JobStatusFailed, runErr.Error())
	}
}

// retryJob re-queues a failed attempt after exponential backoff.
func (s *Scheduler) retryJob(job *store.IndexJob, cause error) {
	if err := s.store.BumpJobRetry(job.ID); err != nil {
		s.logger.Error("bump retry failed", "job_id", job.ID, "error", err)
	}
	if err := s.store.SetJobStatus(job.ID, store.JobStatusProcessing, store.JobStatusPending, cause.Error()); err != nil {
		s.logger.Error("requeue transition failed", "job_id", job.ID, "error", err)
		s.finishJob(job.ID, store.JobStatusProcessing, store.JobStatusFailed, cause.Error())
		return
	}

	delay := s.baseDelay << job.Retries
	s.logger.Warn("job failed, retrying", "job_id", job.ID, "attempt", job.Retries+1, "delay", delay, "error", cause)

	time.AfterFunc(delay, func() {
		if !s.queue.push(job.ID, job.Priority) {
			s.finishJob(job.ID, store.JobStatusPending, store.JobStatusFailed, "scheduler shut down before retry")
		}
	})
}

// finishJob records the terminal state, releases the target, invalidates the
// search cache, and settles the drain counter.
func (s *Scheduler) finishJob(jobID, expect, status, errMsg string) {
	if err := s.store.SetJobStatus(jobID, expect, status, errMsg); err != nil {
		s.logger.Error("terminal transition failed", "job_id", jobID, "status", status, "error", err)
	}
	if s.cache != nil {
		s.cache.Invalidate()
	}
	s.logger.Info("job finished", "job_id", jobID, "status", status)
	s.settle(jobID)
}

// settle releases the job's target and drain slot exactly once.
func (s *Scheduler) settle(jobID string) {
	s.mu.Lock()
	f, ok := s.byJob[jobID]
	if ok {
		f.cancel()
		delete(s.byJob, jobID)
		delete(s.inflight, f.target)
	}
	s.mu.Unlock()
	if ok {
		s.wg.Done()
	}
}
