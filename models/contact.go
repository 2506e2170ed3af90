package models

import (
	"time"

	"gorm.io/gorm"
)

// Contact is a WhatsApp counterpart, unique per (user, phone). Contacts are
// created lazily on the first inbound or outbound event when absent.
type Contact struct {
	gorm.Model
	UserID uint   `gorm:"not null;index;uniqueIndex:idx_user_phone" json:"user_id"`
	Phone  string `gorm:"not null;uniqueIndex:idx_user_phone" json:"phone"`

	Name  string `json:"name"`
	Email string `json:"email"`

	OptedIn        bool       `gorm:"default:true" json:"opted_in"`
	LastActivityAt *time.Time `json:"last_activity_at"`

	// Relations
	CustomFields []ContactCustomField `gorm:"foreignKey:ContactID" json:"custom_fields,omitempty"`
}

// ContactCustomField holds arbitrary per-contact template variables.
type ContactCustomField struct {
	gorm.Model
	ContactID uint   `gorm:"not null;index" json:"contact_id"`
	Name      string `gorm:"not null" json:"name"`
	Value     string `json:"value"`
}
