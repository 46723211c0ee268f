package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/onehubexpress/search/internal/config"
	"github.com/onehubexpress/search/internal/models"
	"github.com/onehubexpress/search/internal/observability"
)

type Producer struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewProducer returns an async producer: WriteMessages only enqueues, and
// delivery failures are reported through Completion.
func NewProducer(cfg config.KafkaConfig, logger *zap.Logger) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.TopicSearchEvents,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		MaxAttempts:  cfg.MaxRetries,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				observability.EventsPublishedTotal.WithLabelValues("delivery_failed").Add(float64(len(messages)))
				logger.Warn("search event delivery failed", zap.Int("count", len(messages)), zap.Error(err))
			}
		},
	}

	logger.Info("kafka producer created", zap.Strings("brokers", cfg.Brokers), zap.String("topic", cfg.TopicSearchEvents))

	return &Producer{
		writer: w,
		logger: logger,
	}
}

func (p *Producer) PublishSearchEvent(ctx context.Context, event *models.SearchEvent) error {
	msg, err := searchEventMessage(event)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publishing search event: %w", err)
	}
	return nil
}

// searchEventMessage keys by category so one category's events stay ordered
// on a partition.
func searchEventMessage(event *models.SearchEvent) (kafka.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshaling search event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(event.Category),
		Value: data,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte("search.completed")},
			{Key: "source", Value: []byte(event.Source)},
		},
	}, nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
