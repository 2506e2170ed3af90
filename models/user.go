package models

import (
	"gorm.io/gorm"
)

// User represents an account in the system. Registration, login and session
// issuance live in a separate identity service; this row exists for
// ownership foreign keys and JWT subject resolution.
type User struct {
	gorm.Model

	Email string  `gorm:"uniqueIndex;not null" json:"email"`
	Name  *string `json:"name,omitempty"`

	// Account status
	IsActive     bool `gorm:"default:true" json:"is_active"`
	TokenVersion int  `gorm:"default:0" json:"-"`

	// Per-account send overrides; 0 falls back to the global rate config
	MaxSendsPerMinute int `gorm:"default:0" json:"max_sends_per_minute"`
	DailySendCap      int `gorm:"default:0" json:"daily_send_cap"`

	// Relations
	Campaigns []Campaign         `gorm:"foreignKey:UserID" json:"campaigns,omitempty"`
	Instances []WhatsAppInstance `gorm:"foreignKey:UserID" json:"instances,omitempty"`
	Contacts  []Contact          `gorm:"foreignKey:UserID" json:"contacts,omitempty"`
}
