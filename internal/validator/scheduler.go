package validator

import (
	"context"
	"sync"

	"github.com/kadenwood/kadenverify/internal/models"
	"github.com/kadenwood/kadenverify/internal/pkg/logger"
)

const (
	// DefaultBackfillQueue caps how many fast-tier verdicts can wait for a
	// background probe before new ones get dropped.
	DefaultBackfillQueue = 500

	// DefaultBackfillWorkers is how many probes run concurrently in the
	// background.
	DefaultBackfillWorkers = 8
)

type backfillJob struct {
	email  string
	update CacheUpdateFunc
}

// Scheduler upgrades fast-tier verdicts to probed ones in the background.
// Enqueue never blocks a request: when the queue is full the job is dropped
// and the cache simply stays probabilistic for that address.
type Scheduler struct {
	run     func(ctx context.Context, email string) *models.VerificationResult
	queue   chan backfillJob
	workers int

	startOnce sync.Once
}

// NewScheduler builds a scheduler around run, which should perform a full
// verification. Non-positive sizes fall back to the defaults.
func NewScheduler(run func(ctx context.Context, email string) *models.VerificationResult, queueSize, workers int) *Scheduler {
	if queueSize <= 0 {
		queueSize = DefaultBackfillQueue
	}
	if workers <= 0 {
		workers = DefaultBackfillWorkers
	}
	return &Scheduler{
		run:     run,
		queue:   make(chan backfillJob, queueSize),
		workers: workers,
	}
}

// Start launches the worker pool. Workers exit when ctx is cancelled; jobs
// still queued at that point are abandoned.
func (s *Scheduler) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		for i := 0; i < s.workers; i++ {
			go s.worker(ctx, i)
		}
		logger.Info("backfill scheduler started",
			"workers", s.workers, "queue_capacity", cap(s.queue))
	})
}

// Enqueue schedules a background verification and reports whether the job
// was accepted. A full queue drops the job with a warning.
func (s *Scheduler) Enqueue(email string, update CacheUpdateFunc) bool {
	select {
	case s.queue <- backfillJob{email: email, update: update}:
		return true
	default:
		logger.Warn("backfill queue full, dropping job",
			"email", email, "queue_capacity", cap(s.queue))
		return false
	}
}

// Pending reports how many jobs are waiting.
func (s *Scheduler) Pending() int {
	return len(s.queue)
}

func (s *Scheduler) worker(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.queue:
			res := s.run(ctx, job.email)
			if job.update == nil {
				continue
			}
			if err := job.update(ctx, res); err != nil {
				logger.Warn("backfill cache update failed",
					"worker", id, "email", job.email, "error", err.Error())
			}
		}
	}
}
