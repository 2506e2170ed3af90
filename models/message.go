package models

import (
	"time"

	"gorm.io/gorm"
)

// Message directions
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Message statuses
const (
	MessageStatusSent      = "sent"
	MessageStatusDelivered = "delivered"
	MessageStatusRead      = "read"
	MessageStatusFailed    = "failed"
)

// Message is one inbound or outbound WhatsApp message. ExternalID is the
// provider message id and acts as the idempotency key for status-update
// webhooks; it is nullable and unique per direction when present, the
// same key the webhook dedupe check uses.
type Message struct {
	gorm.Model
	UserID    uint `gorm:"not null;index" json:"user_id"`
	ContactID uint `gorm:"not null;index" json:"contact_id"`

	Direction string `gorm:"not null;index;uniqueIndex:idx_external_direction" json:"direction"`
	Status    string `gorm:"default:'sent'" json:"status"`

	MessageKind string `gorm:"default:'text'" json:"message_kind"`
	Content     string `json:"content"` // text body or preview for media

	MediaURL        string `json:"media_url"`
	MediaMimeType   string `json:"media_mime_type"`
	MediaSizeBytes  int64  `gorm:"default:0" json:"media_size_bytes"`
	DurationSeconds int    `gorm:"default:0" json:"duration_seconds"`

	ExternalID *string `gorm:"uniqueIndex:idx_external_direction" json:"external_id"`

	SentAt      *time.Time `json:"sent_at"`
	DeliveredAt *time.Time `json:"delivered_at"`
	ReadAt      *time.Time `json:"read_at"`

	// Relations
	Contact Contact `json:"-"`
}

// Delivery outcomes
const (
	DeliveryOutcomeSent   = "sent"
	DeliveryOutcomeFailed = "failed"
)

// DeliveryLog is the append-only audit record of every attempted campaign
// send. Duplicate external ids for the same (recipient, step) indicate a
// retried send, not two delivered messages.
type DeliveryLog struct {
	gorm.Model
	CampaignID  uint `gorm:"not null;index" json:"campaign_id"`
	RecipientID uint `gorm:"not null;index" json:"recipient_id"`
	ContactID   uint `gorm:"not null;index" json:"contact_id"`

	StepNumber int    `gorm:"not null" json:"step_number"`
	Content    string `json:"content"` // rendered content snapshot
	Outcome    string `gorm:"not null" json:"outcome"`
	ErrorText  string `json:"error_text"`

	ExternalID string     `gorm:"index" json:"external_id"`
	AttemptID  string     `json:"attempt_id"`
	SentAt     *time.Time `json:"sent_at"`
}
