package research

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/manifold-labs/chatmemory/internal/config"
	"github.com/manifold-labs/chatmemory/internal/ingest"
)

// Producer dispatches research jobs onto cfg.Kafka.JobsTopic, implementing
// ingest.ResearchEnqueuer. A Producer with a nil writer (Kafka disabled)
// drops jobs silently — research is a background enrichment, never on the
// chat hot path, so losing a batch is acceptable (§4.5).
type Producer struct {
	writer *kafka.Writer
}

// NewProducer builds a Producer from KafkaConfig. Returns a Producer with
// a nil writer when no brokers are configured.
func NewProducer(cfg config.KafkaConfig) *Producer {
	if cfg.Brokers == "" {
		return &Producer{}
	}
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(strings.Split(cfg.Brokers, ",")...),
			Topic:        cfg.JobsTopic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
		},
	}
}

// Enqueue implements ingest.ResearchEnqueuer.
func (p *Producer) Enqueue(ctx context.Context, job ingest.ResearchJob) error {
	if p == nil || p.writer == nil {
		return nil
	}
	j := Job{
		UserID:      job.UserID,
		ThreadID:    job.ThreadID,
		Topic:       job.Topic,
		TTLClass:    job.TTLClass,
		RecencyHint: job.RecencyHint,
		BatchID:     job.BatchID,
		EnqueuedAt:  time.Now().UTC(),
	}
	payload, err := json.Marshal(j)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(job.ThreadID),
		Value: payload,
	})
}

// Close releases the underlying Kafka writer, if any.
func (p *Producer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// NewReader builds the consumer-side Kafka reader for cfg.Kafka.JobsTopic,
// shared by the worker pool started in StartConsumer.
func NewReader(cfg config.KafkaConfig) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  strings.Split(cfg.Brokers, ","),
		GroupID:  cfg.GroupID,
		Topic:    cfg.JobsTopic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
}
