package alerts

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gorm.io/gorm"

	"github.com/chemviz/equipment-monitor/internal/models"
)

// SettingsStore manages the singleton AlertSettings row (pk=1).
type SettingsStore struct {
	db *gorm.DB
	mu sync.Mutex
}

func NewSettingsStore(db *gorm.DB) *SettingsStore {
	return &SettingsStore{db: db}
}

// Get returns the settings, creating defaults on first use.
func (s *SettingsStore) Get(ctx context.Context) (models.AlertSettings, error) {
	var settings models.AlertSettings
	err := s.db.WithContext(ctx).First(&settings, 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.mu.Lock()
		defer s.mu.Unlock()
		settings = models.AlertSettings{
			ID:                      1,
			AlertOnCritical:         true,
			AlertOnMaintenanceDue:   true,
			AlertFrequency:          models.FrequencyImmediate,
			MaintenanceReminderDays: 3,
		}
		if err := s.db.WithContext(ctx).FirstOrCreate(&settings, models.AlertSettings{ID: 1}).Error; err != nil {
			return settings, fmt.Errorf("bootstrapping alert settings: %w", err)
		}
		return settings, nil
	}
	if err != nil {
		return settings, fmt.Errorf("loading alert settings: %w", err)
	}
	return settings, nil
}

// SettingsUpdate carries a partial settings change; nil fields keep their
// current value.
type SettingsUpdate struct {
	EmailEnabled            *bool                  `json:"email_enabled"`
	EmailAddress            *string                `json:"email_address"`
	AlertOnCritical         *bool                  `json:"alert_on_critical"`
	AlertOnWarning          *bool                  `json:"alert_on_warning"`
	AlertOnMaintenanceDue   *bool                  `json:"alert_on_maintenance_due"`
	AlertFrequency          *models.AlertFrequency `json:"alert_frequency"`
	MaintenanceReminderDays *int                   `json:"maintenance_reminder_days"`
}

// Update validates and applies a partial change. When email alerts end up
// enabled the address must parse.
func (s *SettingsStore) Update(ctx context.Context, update SettingsUpdate) (models.AlertSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings, err := s.get(ctx)
	if err != nil {
		return settings, err
	}

	if update.EmailEnabled != nil {
		settings.EmailEnabled = *update.EmailEnabled
	}
	if update.EmailAddress != nil {
		settings.EmailAddress = *update.EmailAddress
	}
	if update.AlertOnCritical != nil {
		settings.AlertOnCritical = *update.AlertOnCritical
	}
	if update.AlertOnWarning != nil {
		settings.AlertOnWarning = *update.AlertOnWarning
	}
	if update.AlertOnMaintenanceDue != nil {
		settings.AlertOnMaintenanceDue = *update.AlertOnMaintenanceDue
	}
	if update.AlertFrequency != nil {
		switch *update.AlertFrequency {
		case models.FrequencyImmediate, models.FrequencyDaily, models.FrequencyWeekly:
			settings.AlertFrequency = *update.AlertFrequency
		default:
			return settings, fmt.Errorf("%w: unknown alert_frequency %q", models.ErrValidation, *update.AlertFrequency)
		}
	}
	if update.MaintenanceReminderDays != nil {
		if *update.MaintenanceReminderDays < 0 {
			return settings, fmt.Errorf("%w: maintenance_reminder_days must not be negative", models.ErrValidation)
		}
		settings.MaintenanceReminderDays = *update.MaintenanceReminderDays
	}

	if settings.EmailEnabled && !validAddress(settings.EmailAddress) {
		return settings, fmt.Errorf("%w: email_address %q is not a valid address", models.ErrValidation, settings.EmailAddress)
	}

	if err := s.db.WithContext(ctx).Save(&settings).Error; err != nil {
		return settings, fmt.Errorf("saving alert settings: %w", err)
	}
	return settings, nil
}

func (s *SettingsStore) get(ctx context.Context) (models.AlertSettings, error) {
	var settings models.AlertSettings
	err := s.db.WithContext(ctx).First(&settings, 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		settings = models.AlertSettings{
			ID:                      1,
			AlertOnCritical:         true,
			AlertOnMaintenanceDue:   true,
			AlertFrequency:          models.FrequencyImmediate,
			MaintenanceReminderDays: 3,
		}
		return settings, nil
	}
	if err != nil {
		return settings, fmt.Errorf("loading alert settings: %w", err)
	}
	return settings, nil
}
