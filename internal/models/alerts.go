package models

import (
	"time"

	"gorm.io/gorm"
)

type AlertType string

const (
	AlertCritical    AlertType = "critical"
	AlertWarning     AlertType = "warning"
	AlertMaintenance AlertType = "maintenance"
)

type AlertFrequency string

const (
	FrequencyImmediate AlertFrequency = "immediate"
	FrequencyDaily     AlertFrequency = "daily"
	FrequencyWeekly    AlertFrequency = "weekly"
)

// Window returns the suppression window for repeat alerts of the same
// equipment and type. Immediate means no suppression.
func (f AlertFrequency) Window() time.Duration {
	switch f {
	case FrequencyDaily:
		return 24 * time.Hour
	case FrequencyWeekly:
		return 7 * 24 * time.Hour
	default:
		return 0
	}
}

// AlertSettings is a singleton row (pk=1) holding notification configuration.
type AlertSettings struct {
	ID                      uint           `gorm:"primaryKey" json:"-"`
	EmailEnabled            bool           `gorm:"not null;default:false" json:"email_enabled"`
	EmailAddress            string         `gorm:"size:255" json:"email_address"`
	AlertOnCritical         bool           `gorm:"not null;default:true" json:"alert_on_critical"`
	AlertOnWarning          bool           `gorm:"not null;default:false" json:"alert_on_warning"`
	AlertOnMaintenanceDue   bool           `gorm:"not null;default:true" json:"alert_on_maintenance_due"`
	AlertFrequency          AlertFrequency `gorm:"type:varchar(20);not null;default:immediate" json:"alert_frequency"`
	MaintenanceReminderDays int            `gorm:"not null;default:3" json:"maintenance_reminder_days"`
	LastAlertSent           *time.Time     `json:"last_alert_sent,omitempty"`
	UpdatedAt               time.Time      `json:"updated_at"`
}

func (AlertSettings) TableName() string {
	return "alert_settings"
}

// AlertLogEntry is an append-only audit record of a dispatch attempt.
// Entries are never updated or deleted by normal operation.
type AlertLogEntry struct {
	gorm.Model
	EquipmentName string    `gorm:"index;size:255;not null" json:"equipment_name"`
	AlertType     AlertType `gorm:"type:varchar(20);index;not null" json:"alert_type"`
	Message       string    `gorm:"type:text;not null" json:"message"`
	SentTo        string    `gorm:"size:255" json:"sent_to"`
	SentAt        time.Time `gorm:"index;not null" json:"sent_at"`
	Succeeded     bool      `gorm:"not null" json:"succeeded"`
}

func (AlertLogEntry) TableName() string {
	return "alert_log"
}
