package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// maxAttempts bounds audit-job retries on retryable storage errors (§4.1
// "Failure semantics"): "re-queued with exponential backoff (max 3
// attempts) and then dropped with a warning metric."
const maxAttempts = 3

// Queue is Memory.Ingest's bounded internal work queue. The chat hot path
// never waits on it: Enqueue either succeeds immediately or drops the job
// it was given, and EnqueuePriority makes room for an explicit save by
// dropping a queued job (§5: "apply backpressure by dropping
// lowest-priority jobs when full").
type Queue struct {
	jobs     chan AuditJob
	pipeline *Pipeline
	workers  int

	wg   sync.WaitGroup
	stop chan struct{}
}

// NewQueue starts a fixed pool of workers consuming audit jobs.
func NewQueue(pipeline *Pipeline, workers, capacity int) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if capacity <= 0 {
		capacity = workers * 16
	}
	q := &Queue{
		jobs:     make(chan AuditJob, capacity),
		pipeline: pipeline,
		workers:  workers,
		stop:     make(chan struct{}),
	}
	q.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go q.worker(i)
	}
	return q
}

// Enqueue submits a job without blocking. When the queue is full, the job
// is dropped and a warning is logged rather than blocking the caller —
// explicit-save jobs should use EnqueuePriority to preempt a full queue.
func (q *Queue) Enqueue(job AuditJob) bool {
	select {
	case q.jobs <- job:
		return true
	default:
		log.Warn().Str("user_id", job.UserID).Str("thread_id", job.ThreadID).Msg("ingest_queue_full_dropped")
		return false
	}
}

// EnqueuePriority submits an explicit-save job. If the queue is full it
// drops the oldest queued job to make room (§5 backpressure rule). When
// that oldest job is itself an explicit save it is put back instead, and
// the new job is then dropped if the queue is still full.
func (q *Queue) EnqueuePriority(job AuditJob) bool {
	select {
	case q.jobs <- job:
		return true
	default:
	}
	select {
	case dropped := <-q.jobs:
		if dropped.ExplicitSave != nil {
			// Rare race: both ends happened to be explicit saves. Put the
			// older one back if there's room, else it's dropped.
			select {
			case q.jobs <- dropped:
			default:
			}
		}
	default:
	}
	select {
	case q.jobs <- job:
		return true
	default:
		log.Warn().Str("user_id", job.UserID).Msg("ingest_queue_full_explicit_save_dropped")
		return false
	}
}

func (q *Queue) worker(id int) {
	defer q.wg.Done()
	for {
		select {
		case job, ok := <-q.jobs:
			if !ok {
				return
			}
			q.process(job)
		case <-q.stop:
			return
		}
	}
}

func (q *Queue) process(job AuditJob) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := q.pipeline.Process(ctx, job)
		cancel()
		if err == nil {
			return
		}
		lastErr = err
		if attempt < maxAttempts {
			backoff := time.Duration(200*(1<<uint(attempt-1))) * time.Millisecond
			time.Sleep(backoff)
		}
	}
	log.Warn().Err(lastErr).Str("user_id", job.UserID).Str("thread_id", job.ThreadID).
		Int("attempts", maxAttempts).Msg("ingest_audit_job_dropped_after_retries")
}

// Close signals the workers to exit and waits for any job they are
// processing to finish. Jobs still buffered are not processed, and
// Enqueue does not reject jobs after Close.
func (q *Queue) Close() {
	close(q.stop)
	q.wg.Wait()
}
