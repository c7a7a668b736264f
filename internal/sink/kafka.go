// Package sink publishes request results to Kafka.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/core"
	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/logging"
)

// Config for the Kafka publisher. Publishing is disabled without brokers.
type Config struct {
	Brokers []string
	Topic   string
}

type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Message is the payload of one published query
type Message struct {
	RunID       string               `json:"runId"`
	Index       int                  `json:"index"`
	Query       core.AggregatedQuery `json:"query"`
	PublishedAt time.Time            `json:"publishedAt"`
}

// Publisher writes every aggregated query of a request as one message keyed
// by "<run id>:<query name>".
type Publisher struct {
	cfg    Config
	writer kafkaMessageWriter
	logger *logging.Logger
}

// New creates a publisher. With no broker configured it returns a publisher
// that drops everything.
func New(cfg Config, logger *logging.Logger) (*Publisher, error) {
	p := &Publisher{cfg: cfg, logger: logging.OrDefault(logger).Named("sink")}
	if len(cfg.Brokers) == 0 {
		p.logger.Debug("Kafka publishing disabled, no broker configured")
		return p, nil
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("kafka topic must not be empty")
	}
	p.writer = &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: false,
	}
	return p, nil
}

// newWithWriter wires the provided writer into the publisher
func newWithWriter(cfg Config, writer kafkaMessageWriter) *Publisher {
	return &Publisher{cfg: cfg, writer: writer, logger: logging.OrDefault(nil).Named("sink")}
}

// Enabled reports whether messages reach a broker
func (p *Publisher) Enabled() bool {
	return p.writer != nil
}

// Publish sends the results of run runID in a single batch
func (p *Publisher) Publish(ctx context.Context, runID string, results []core.AggregatedQuery) error {
	if !p.Enabled() || len(results) == 0 {
		return nil
	}

	now := time.Now().UTC()
	msgs := make([]kafka.Message, 0, len(results))
	for i, q := range results {
		value, err := json.Marshal(Message{RunID: runID, Index: i, Query: q, PublishedAt: now})
		if err != nil {
			return fmt.Errorf("encode query %s: %w", q.Name, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(runID + ":" + q.Name),
			Value: value,
			Time:  now,
		})
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish run %s: %w", runID, err)
	}
	p.logger.Info("Published %d queries of run %s to %s", len(msgs), runID, p.cfg.Topic)
	return nil
}

// Close flushes and closes the writer
func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
