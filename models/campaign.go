package models

import (
	"time"

	"gorm.io/gorm"
)

// Campaign statuses
const (
	CampaignStatusDraft      = "draft"
	CampaignStatusScheduled  = "scheduled"
	CampaignStatusActive     = "active"
	CampaignStatusPaused     = "paused"
	CampaignStatusProcessing = "processing"
	CampaignStatusCompleted  = "completed"
	CampaignStatusCancelled  = "cancelled"
	CampaignStatusFailed     = "failed"
)

// Cadence types. "custom" uses the CadenceDays/Hours/Minutes fields.
const (
	CadenceImmediate  = "immediate"
	CadenceDaily      = "daily"
	CadenceEvery2Days = "every_2_days"
	CadenceWeekly     = "weekly"
	CadenceBiweekly   = "biweekly"
	CadenceMonthly    = "monthly"
	CadenceQuarterly  = "quarterly"
	CadenceSemiannual = "semiannual"
	CadenceAnnual     = "annual"
	CadenceCustom     = "custom"
)

// Campaign represents a multi-step WhatsApp message sequence
type Campaign struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	// Campaign details
	Name         string `gorm:"not null" json:"name"`
	Description  string `json:"description"`
	InstanceName string `gorm:"not null" json:"instance_name"` // target gateway instance

	// Cadence policy
	CadenceType    string `gorm:"default:'daily'" json:"cadence_type"`
	CadenceDays    int    `gorm:"default:0" json:"cadence_days"`
	CadenceHours   int    `gorm:"default:0" json:"cadence_hours"`
	CadenceMinutes int    `gorm:"default:0" json:"cadence_minutes"`

	// Send window, "HH:MM" local time
	BusinessHoursStart string `gorm:"default:'08:00'" json:"business_hours_start"`
	BusinessHoursEnd   string `gorm:"default:'18:00'" json:"business_hours_end"`
	SendOnWeekends     bool   `gorm:"default:false" json:"send_on_weekends"`

	// Scheduling
	Status      string     `gorm:"default:'draft';index" json:"status"`
	ScheduledAt *time.Time `json:"scheduled_at"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`

	// Statistics (denormalized for performance)
	TotalRecipients int `gorm:"default:0" json:"total_recipients"`
	SentCount       int `gorm:"default:0" json:"sent_count"`
	FailedCount     int `gorm:"default:0" json:"failed_count"`

	// Relations
	Steps      []SequenceStep      `gorm:"foreignKey:CampaignID" json:"steps,omitempty"`
	Recipients []CampaignRecipient `gorm:"foreignKey:CampaignID" json:"recipients,omitempty"`
}

// IsActive reports whether the scheduler should keep dispatching for this
// campaign. Claimed jobs for paused/cancelled campaigns are skipped.
func (c *Campaign) IsActive() bool {
	return c.Status == CampaignStatusActive || c.Status == CampaignStatusProcessing
}

// Message kinds for sequence steps
const (
	MessageKindText     = "text"
	MessageKindImage    = "image"
	MessageKindVideo    = "video"
	MessageKindDocument = "document"
	MessageKindAudio    = "audio"
)

// SequenceStep is one ordered message template within a campaign.
// DelayMinutes, when > 0, overrides the campaign cadence for the gap
// between the previous step and this one.
type SequenceStep struct {
	gorm.Model
	CampaignID uint `gorm:"not null;index;uniqueIndex:idx_campaign_step" json:"campaign_id"`

	StepNumber   int    `gorm:"not null;uniqueIndex:idx_campaign_step" json:"step_number"`
	MessageKind  string `gorm:"default:'text'" json:"message_kind"`
	Content      string `json:"content"`
	MediaURL     string `json:"media_url"`
	DelayMinutes int    `gorm:"default:0" json:"delay_minutes"`

	// Tracking
	SentCount int `gorm:"default:0" json:"sent_count"`
}

// Recipient statuses
const (
	RecipientStatusPending   = "pending"
	RecipientStatusSent      = "sent"
	RecipientStatusFailed    = "failed"
	RecipientStatusCompleted = "completed"
)

// CampaignRecipient tracks the per-contact execution state of a campaign
// sequence. At most one non-terminal job references a recipient at a time.
type CampaignRecipient struct {
	gorm.Model
	CampaignID uint `gorm:"not null;index;uniqueIndex:idx_campaign_contact" json:"campaign_id"`
	ContactID  uint `gorm:"not null;index;uniqueIndex:idx_campaign_contact" json:"contact_id"`

	CurrentStep    int    `gorm:"default:0" json:"current_step"`
	Status         string `gorm:"default:'pending';index" json:"status"`
	MessagesSent   int    `gorm:"default:0" json:"messages_sent"`
	MessagesFailed int    `gorm:"default:0" json:"messages_failed"`

	LastSentAt *time.Time `json:"last_sent_at"`
	NextSendAt *time.Time `json:"next_send_at"`

	// Relations
	Campaign Campaign `json:"-"`
	Contact  Contact  `json:"-"`
}
