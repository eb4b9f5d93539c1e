package models

import (
	"time"

	"github.com/google/uuid"
)

// Push audit statuses. A publish only counts as delivered once the
// broker confirm arrived; anything else is recorded as failed.
const (
	PushStatusConfirmed = "confirmed"
	PushStatusFailed    = "failed"
)

// PushAuditRecord is one append-only row per outbound publish attempt,
// written after the broker confirmed or the publish failed.
type PushAuditRecord struct {
	ID          uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	Topic       string    `gorm:"not null;index" json:"topic"`
	RoutingKey  string    `gorm:"not null" json:"routing_key"`
	Payload     string    `gorm:"type:text" json:"payload"`
	Status      string    `gorm:"not null" json:"status"`
	DeliveryTag uint64    `json:"delivery_tag"`
	Error       *string   `json:"error,omitempty"`
	CreatedAt   time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (PushAuditRecord) TableName() string {
	return "push_audit_log"
}

// FeedbackRecord is one parsed unit from a partner-originated batch,
// written once on arrival and never mutated. Payload keeps the raw
// record JSON so malformed-field issues can be replayed.
type FeedbackRecord struct {
	ID         uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	Category   string    `gorm:"not null;index" json:"category"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	ReceivedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"received_at"`
}

func (FeedbackRecord) TableName() string {
	return "partner_feedback_log"
}
