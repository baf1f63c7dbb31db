// Package deadletter publishes terminally-failed jobs to per-stage
// dead-letter topics (`<queue>.dlq`). The base pipeline records failures
// only in the status store; wiring a Publisher makes the failed payloads
// themselves recoverable by a retry supervisor reading the topics.
package deadletter

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

// Writer is the subset of kafka.Writer the publisher needs, so tests can
// substitute an in-memory sink.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Envelope is the record written to a dead-letter topic: the original queue
// payload plus enough context to correlate and retry it.
type Envelope struct {
	TraceID   string          `json:"trace_id"`
	Stage     string          `json:"stage"`
	WorkerID  string          `json:"worker_id"`
	Error     string          `json:"error"`
	Payload   json.RawMessage `json:"payload"`
	FailedAt  time.Time       `json:"failed_at"`
	DLQSource string          `json:"dlq_source"`
}

// Publisher writes dead-letter envelopes to Kafka. A nil *Publisher is a
// no-op, so callers can wire it unconditionally and leave it unset when
// DLQ_KAFKA_BROKERS is not configured.
type Publisher struct {
	writer Writer
}

// New constructs a Publisher over a writer. Returns nil when writer is nil.
func New(writer Writer) *Publisher {
	if writer == nil {
		return nil
	}
	return &Publisher{writer: writer}
}

// NewKafka constructs a Publisher backed by a kafka.Writer over the given
// brokers. The topic is set per message, so one writer serves every stage.
func NewKafka(brokers []string) *Publisher {
	if len(brokers) == 0 {
		return nil
	}
	return &Publisher{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}}
}

// Publish writes one failed job to `<queue>.dlq`, keyed by trace id so a
// topic consumer sees all attempts for one document in order.
func (p *Publisher) Publish(ctx context.Context, queue, stage, workerID, traceID string, payload []byte, cause error) error {
	if p == nil {
		return nil
	}
	env := Envelope{
		TraceID:   traceID,
		Stage:     stage,
		WorkerID:  workerID,
		Error:     cause.Error(),
		Payload:   json.RawMessage(payload),
		FailedAt:  time.Now(),
		DLQSource: queue,
	}
	value, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: queue + ".dlq",
		Key:   []byte(traceID),
		Value: value,
	})
}

// Close releases the underlying writer when it is closable.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	if c, ok := p.writer.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
