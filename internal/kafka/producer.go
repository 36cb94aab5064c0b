package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ms-eventchain/internal/config"
	"ms-eventchain/internal/logger"
	"ms-eventchain/internal/models"

	"github.com/segmentio/kafka-go"
)

// Producer publishes domain events. The writer has no fixed topic; each
// message names its own.
type Producer struct {
	Writer  *kafka.Writer
	brokers []string
	topics  config.TopicConfig
	log     *logger.Logger
}

func NewProducer(brokers []string, topics config.TopicConfig, log *logger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &Producer{Writer: writer, brokers: brokers, topics: topics, log: log}
}

// TopicFor routes a domain event type to its topic. Anything without a
// dedicated topic goes to the lifecycle topic so the analytics consumer
// still sees it.
func TopicFor(topics config.TopicConfig, t models.DomainEventType) string {
	switch t {
	case models.TypeApplicationAllocated:
		return topics.Allocated
	case models.TypePaymentConfirmed:
		return topics.PaymentDone
	case models.TypeTicketMinted:
		return topics.TicketMinted
	case models.TypeTicketCheckedIn:
		return topics.CheckedIn
	case models.TypeCertificateIssued:
		return topics.Certificate
	case models.TypeMintFailed:
		return topics.MintDeadLetter
	default:
		return topics.Lifecycle
	}
}

func (p *Producer) Publish(ctx context.Context, evt models.DomainEvent) error {
	topic := TopicFor(p.topics, evt.Type)
	if topic == "" {
		p.log.Warn("KAFKA", fmt.Sprintf("No topic configured for %s, dropping", evt.Type))
		return nil
	}

	value, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", evt.Type, err)
	}

	if err := p.PublishRaw(ctx, topic, evt.Key(), value); err != nil {
		return err
	}
	p.log.LogKafka("PUBLISH", topic, fmt.Sprintf("%s key=%s", evt.Type, evt.Key()))
	return nil
}

// PublishRaw writes one message, creating the topic once if the broker
// reports it missing.
func (p *Producer) PublishRaw(ctx context.Context, topic, key string, value []byte) error {
	msg := kafka.Message{Topic: topic, Key: []byte(key), Value: value}

	err := p.Writer.WriteMessages(ctx, msg)
	if err == nil {
		return nil
	}
	p.log.Warn("KAFKA", fmt.Sprintf("Publish to %s failed, ensuring topic: %v", topic, err))

	if cerr := CreateTopicIfNotExists(p.brokers, topic); cerr != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	if err := p.Writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish to %s after topic creation: %w", topic, err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}
