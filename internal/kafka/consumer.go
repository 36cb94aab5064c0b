package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"ms-eventchain/internal/logger"
	"ms-eventchain/internal/models"

	"github.com/segmentio/kafka-go"
)

type Consumer struct {
	reader *kafka.Reader
	log    *logger.Logger
}

// NewConsumer joins groupID on every topic in topics.
func NewConsumer(brokers []string, topics []string, groupID string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupTopics: topics,
		GroupID:     groupID,
		MinBytes:    10e3, // 10KB
		MaxBytes:    10e6, // 10MB
	})
	return &Consumer{reader: reader, log: log}
}

// Start blocks until ctx is cancelled. Messages that fail to decode are
// skipped; handler errors are logged and the offset still commits so one
// poison message cannot stall the group.
func (c *Consumer) Start(ctx context.Context, handler func(context.Context, models.DomainEvent) error) error {
	c.log.Info("KAFKA", "Domain event consumer started")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			c.log.Error("KAFKA", fmt.Sprintf("Error reading message: %v", err))
			continue
		}

		var evt models.DomainEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			c.log.Warn("KAFKA", fmt.Sprintf("Failed to unmarshal message on %s: %v", msg.Topic, err))
		} else if err := handler(ctx, evt); err != nil {
			c.log.Error("KAFKA", fmt.Sprintf("Handler failed for %s on %s: %v", evt.Type, msg.Topic, err))
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.log.Error("KAFKA", fmt.Sprintf("Commit failed: %v", err))
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
