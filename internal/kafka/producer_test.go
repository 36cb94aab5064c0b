package kafka_test

import (
	"testing"

	"ms-eventchain/internal/config"
	"ms-eventchain/internal/kafka"
	"ms-eventchain/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestTopicFor(t *testing.T) {
	topics := config.TopicConfig{
		Allocated:      "alloc",
		PaymentDone:    "paid",
		TicketMinted:   "minted",
		CheckedIn:      "checkin",
		Certificate:    "cert",
		MintDeadLetter: "dlq",
		Lifecycle:      "lifecycle",
	}

	assert.Equal(t, "alloc", kafka.TopicFor(topics, models.TypeApplicationAllocated))
	assert.Equal(t, "paid", kafka.TopicFor(topics, models.TypePaymentConfirmed))
	assert.Equal(t, "minted", kafka.TopicFor(topics, models.TypeTicketMinted))
	assert.Equal(t, "checkin", kafka.TopicFor(topics, models.TypeTicketCheckedIn))
	assert.Equal(t, "cert", kafka.TopicFor(topics, models.TypeCertificateIssued))
	assert.Equal(t, "dlq", kafka.TopicFor(topics, models.TypeMintFailed))
	for _, typ := range []models.DomainEventType{
		models.TypeApplicationCreated,
		models.TypeApplicationRejected,
		models.TypeEventPublished,
		models.TypeEventClosed,
	} {
		assert.Equal(t, "lifecycle", kafka.TopicFor(topics, typ), typ)
	}
}

func TestAllTopicsIncludesLifecycle(t *testing.T) {
	topics := config.Load().Kafka.Topics
	assert.Contains(t, topics.All(), "eventchain.application.lifecycle")
	for _, topic := range topics.All() {
		assert.NotEmpty(t, topic)
	}
}

func TestDomainEventKey(t *testing.T) {
	assert.Equal(t, "app-1", models.DomainEvent{EventID: "e", ApplicationID: "app-1", TicketID: "t"}.Key())
	assert.Equal(t, "t", models.DomainEvent{EventID: "e", TicketID: "t"}.Key())
	assert.Equal(t, "e", models.DomainEvent{EventID: "e"}.Key())
}
