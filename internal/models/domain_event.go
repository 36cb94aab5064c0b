package models

import "time"

type DomainEventType string

const (
	TypeEventPublished       DomainEventType = "EVENT_PUBLISHED"
	TypeEventClosed          DomainEventType = "EVENT_CLOSED"
	TypeApplicationCreated   DomainEventType = "APPLICATION_CREATED"
	TypeApplicationRejected  DomainEventType = "APPLICATION_REJECTED"
	TypeApplicationAllocated DomainEventType = "APPLICATION_ALLOCATED"
	TypePaymentConfirmed     DomainEventType = "PAYMENT_CONFIRMED"
	TypeTicketMinted         DomainEventType = "TICKET_MINTED"
	TypeMintFailed           DomainEventType = "MINT_FAILED"
	TypeTicketCheckedIn      DomainEventType = "TICKET_CHECKED_IN"
	TypeCertificateIssued    DomainEventType = "CERTIFICATE_ISSUED"
	TypeAnnouncementPosted   DomainEventType = "ANNOUNCEMENT_POSTED"
)

// DomainEvent describes one state transition. It is published to Kafka and
// drives analytics refreshes.
type DomainEvent struct {
	Type          DomainEventType `json:"type"`
	EventID       string          `json:"eventId"`
	ApplicationID string          `json:"applicationId,omitempty"`
	TicketID      string          `json:"ticketId,omitempty"`
	UserID        string          `json:"userId,omitempty"`
	TokenID       int64           `json:"tokenId,omitempty"`
	Status        string          `json:"status,omitempty"`
	Detail        string          `json:"detail,omitempty"`
	OccurredAt    time.Time       `json:"occurredAt"`
}

// Key picks the Kafka message key so events for one application stay ordered.
func (e DomainEvent) Key() string {
	switch {
	case e.ApplicationID != "":
		return e.ApplicationID
	case e.TicketID != "":
		return e.TicketID
	default:
		return e.EventID
	}
}

// CheckInNotice is pushed to dashboards on the check-in topic.
type CheckInNotice struct {
	EventID     string    `json:"eventId"`
	TicketID    string    `json:"ticketId"`
	TokenID     int64     `json:"tokenId"`
	UserID      string    `json:"userId"`
	CheckedInAt time.Time `json:"checkedInAt"`
}
