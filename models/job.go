package models

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// Job kinds
const (
	JobKindStartCampaign = "start_campaign"
	JobKindDeliverStep   = "deliver_step"
)

// Job statuses
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// ScheduledJob is the durable unit of scheduler work. All state needed to
// resume after a crash lives here; the scheduler holds no in-memory timers.
type ScheduledJob struct {
	gorm.Model
	Kind    string `gorm:"not null;index" json:"kind"`
	Payload []byte `gorm:"type:jsonb;not null;default:'{}'::jsonb" json:"payload"`

	ScheduledAt time.Time `gorm:"not null;index" json:"scheduled_at"`
	Status      string    `gorm:"default:'pending';index" json:"status"`

	RetryCount int    `gorm:"default:0" json:"retry_count"`
	MaxRetries int    `gorm:"default:3" json:"max_retries"`
	LastError  string `json:"last_error"`

	LockedBy   *string    `json:"locked_by"`
	LockedAt   *time.Time `json:"locked_at"`
	ExecutedAt *time.Time `json:"executed_at"`
}

// JobPayload is the decoded payload for campaign jobs. A start_campaign
// job carries only the campaign id.
type JobPayload struct {
	CampaignID  uint `json:"campaign_id"`
	RecipientID uint `json:"recipient_id,omitempty"`
	StepNumber  int  `json:"step_number,omitempty"`
}

// DecodePayload unmarshals the job's jsonb payload.
func (j *ScheduledJob) DecodePayload() (JobPayload, error) {
	var p JobPayload
	err := json.Unmarshal(j.Payload, &p)
	return p, err
}
