package research

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/manifold-labs/chatmemory/internal/bus"
	"github.com/manifold-labs/chatmemory/internal/config"
)

const (
	maxAttempts       = 2 // §4.5 guardrails: "retries bounded to a couple of attempts"
	jobBudget         = 4 * time.Second
	globalRatePerMin  = 120
	perUserRatePerMin = 6
)

var errRateLimited = errors.New("research: rate limited")

// Sidecar runs the cache-probe -> fetch -> rerank -> compose -> publish
// pipeline for one job at a time. It has no HTTP surface of its own: it is
// driven entirely by the Kafka consumer loop in StartConsumer.
type Sidecar struct {
	Bus     *bus.Bus
	Backend SearchBackend
	Affinity UserAffinity
}

// NewSidecar builds a Sidecar. affinity may be nil (no user-affinity
// weighting applied).
func NewSidecar(b *bus.Bus, backend SearchBackend, affinity UserAffinity) *Sidecar {
	return &Sidecar{Bus: b, Backend: backend, Affinity: affinity}
}

// Run executes one job end to end within jobBudget, enforcing per-user and
// global rate limits before doing any work. A dropped/overrun job never
// publishes a partial capsule (§4.5: "no partial publish on overrun").
func (s *Sidecar) Run(ctx context.Context, job Job) error {
	if err := s.checkRateLimits(ctx, job.UserID); err != nil {
		log.Debug().Str("user_id", job.UserID).Msg("research_rate_limited_dropping_job")
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, jobBudget)
	defer cancel()

	if cached, ok := ProbeCache(ctx, s.Bus, job.Topic, job.TTLClass, job.RecencyHint); ok {
		PublishToThread(ctx, s.Bus, job.ThreadID, job.BatchID, cached)
		return nil
	}

	if s.Backend == nil {
		// No concrete search backend wired: this is a valid deployment
		// (search providers are a plugged-in collaborator, §4.5), so just
		// remember the miss and return cleanly.
		RememberMiss(ctx, s.Bus, job.Topic, job.TTLClass, job.RecencyHint)
		return nil
	}

	results, err := s.fetchWithRetry(ctx, job)
	if err != nil {
		log.Warn().Err(err).Str("topic", job.Topic).Msg("research_fetch_failed")
		return nil
	}
	if len(results) == 0 {
		RememberMiss(ctx, s.Bus, job.Topic, job.TTLClass, job.RecencyHint)
		return nil
	}

	affinity := 0.0
	if s.Affinity != nil {
		affinity = s.Affinity(ctx, job.UserID, job.Topic)
	}
	ranked := Rerank(results, job.RecencyHint, affinity)
	capsule := Compose(job.BatchID, job.Topic, job.TTLClass, job.RecencyHint, ranked)

	if ctx.Err() != nil {
		// Overran the job budget: drop rather than publish a capsule built
		// against a canceled context.
		return nil
	}

	PublishCapsule(ctx, s.Bus, capsule)
	PublishToThread(ctx, s.Bus, job.ThreadID, job.BatchID, capsule)
	return nil
}

func (s *Sidecar) fetchWithRetry(ctx context.Context, job Job) ([]RawResult, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		results, err := s.Backend.Search(ctx, job.Topic, job.RecencyHint)
		if err == nil {
			return results, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if attempt < maxAttempts {
			backoff := time.Duration(200*attempt) * time.Millisecond
			t := time.NewTimer(backoff)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
			}
		}
	}
	return nil, lastErr
}

func (s *Sidecar) checkRateLimits(ctx context.Context, userID string) error {
	if n, ok := s.Bus.Incr(ctx, bus.RateLimitKey("*", "research"), time.Minute); ok && n > globalRatePerMin {
		return errRateLimited
	}
	if n, ok := s.Bus.Incr(ctx, bus.RateLimitKey(userID, "research"), time.Minute); ok && n > perUserRatePerMin {
		return errRateLimited
	}
	return nil
}

// StartConsumer runs a bounded worker pool over cfg.Kafka.JobsTopic,
// dispatching each decoded Job to sidecar.Run. Grounded on the
// orchestrator's Kafka command-consumer worker pool: fetch loop feeding a
// bounded channel, N workers committing only after the handler returns.
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, sidecar *Sidecar, workerCount int) error {
	reader := NewReader(cfg)
	defer reader.Close()

	jobs := make(chan kafka.Message, workerCount*4)

	var wg sync.WaitGroup
	wg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go func(workerID int) {
			defer wg.Done()
			for msg := range jobs {
				handleMessage(ctx, sidecar, msg)
				if err := reader.CommitMessages(ctx, msg); err != nil {
					log.Warn().Err(err).Int("worker", workerID).Msg("research_commit_failed")
				}
			}
		}(i)
	}

	go func() {
		defer close(jobs)
		for {
			if ctx.Err() != nil {
				return
			}
			m, err := reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Warn().Err(err).Msg("research_consumer_fetch_error")
				continue
			}
			select {
			case jobs <- m:
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()
	return ctx.Err()
}

func handleMessage(ctx context.Context, sidecar *Sidecar, msg kafka.Message) {
	var job Job
	if err := json.Unmarshal(msg.Value, &job); err != nil {
		log.Warn().Err(err).Msg("research_job_decode_failed")
		return
	}
	if err := sidecar.Run(ctx, job); err != nil {
		log.Warn().Err(err).Str("topic", job.Topic).Msg("research_job_failed")
	}
}
