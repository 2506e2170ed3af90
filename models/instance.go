package models

import (
	"time"

	"gorm.io/gorm"
)

// Instance connection statuses as reported by the gateway
const (
	InstanceStatusDisconnected = "disconnected"
	InstanceStatusConnecting   = "connecting"
	InstanceStatusConnected    = "connected"
)

// WhatsAppInstance maps a gateway-side session identifier to its owning
// account. The webhook ingestion path resolves ownership through this
// registry (cached, see utils.InstanceCache).
type WhatsAppInstance struct {
	gorm.Model
	UserID       uint   `gorm:"not null;index" json:"user_id"`
	InstanceName string `gorm:"not null;uniqueIndex" json:"instance_name"`

	Status          string     `gorm:"default:'disconnected'" json:"status"`
	PhoneNumber     string     `json:"phone_number"`
	LastConnectedAt *time.Time `json:"last_connected_at"`
}
