// Package thresholds holds the active classification bounds. Updates are
// all-or-nothing: a replacement is validated first and either becomes the
// new active version or leaves the previous one untouched.
package thresholds

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gorm.io/gorm"

	"github.com/chemviz/equipment-monitor/internal/models"
)

// DefaultSet matches the factory defaults the dashboard starts from.
var DefaultSet = models.ThresholdSet{
	PressureWarning:     70,
	PressureCritical:    80,
	TemperatureWarning:  75,
	TemperatureCritical: 85,
	FlowrateMin:         50,
	FlowrateMax:         200,
}

type Store struct {
	db *gorm.DB
	mu sync.Mutex // serializes Replace; reads go straight to the DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Active returns the currently active ThresholdSet, bootstrapping the
// defaults on first use.
func (s *Store) Active(ctx context.Context) (models.ThresholdSet, error) {
	var row models.ThresholdSettings
	err := s.db.WithContext(ctx).Where("active = ?", true).Order("version desc").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.bootstrap(ctx)
	}
	if err != nil {
		return models.ThresholdSet{}, fmt.Errorf("loading active thresholds: %w", err)
	}
	return row.Set(), nil
}

// ActiveVersion returns the active set together with its version number.
func (s *Store) ActiveVersion(ctx context.Context) (models.ThresholdSet, int, error) {
	var row models.ThresholdSettings
	err := s.db.WithContext(ctx).Where("active = ?", true).Order("version desc").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		set, bootErr := s.bootstrap(ctx)
		return set, 1, bootErr
	}
	if err != nil {
		return models.ThresholdSet{}, 0, fmt.Errorf("loading active thresholds: %w", err)
	}
	return row.Set(), row.Version, nil
}

// Replace validates and atomically installs a new active set. All six
// fields must be present; a rejected update leaves the active set unchanged.
func (s *Store) Replace(ctx context.Context, set models.ThresholdSet) error {
	if err := set.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current models.ThresholdSettings
		version := 1
		err := tx.Where("active = ?", true).Order("version desc").First(&current).Error
		switch {
		case err == nil:
			version = current.Version + 1
			if err := tx.Model(&models.ThresholdSettings{}).Where("id = ?", current.ID).Update("active", false).Error; err != nil {
				return fmt.Errorf("deactivating threshold version %d: %w", current.Version, err)
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			// First replace on an empty store.
		default:
			return fmt.Errorf("loading active thresholds: %w", err)
		}

		row := models.ThresholdSettings{
			PressureWarning:     set.PressureWarning,
			PressureCritical:    set.PressureCritical,
			TemperatureWarning:  set.TemperatureWarning,
			TemperatureCritical: set.TemperatureCritical,
			FlowrateMin:         set.FlowrateMin,
			FlowrateMax:         set.FlowrateMax,
			Version:             version,
			Active:              true,
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("storing threshold version %d: %w", version, err)
		}
		return nil
	})
}

func (s *Store) bootstrap(ctx context.Context) (models.ThresholdSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Another caller may have bootstrapped while we waited for the lock.
	var row models.ThresholdSettings
	err := s.db.WithContext(ctx).Where("active = ?", true).First(&row).Error
	if err == nil {
		return row.Set(), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return models.ThresholdSet{}, fmt.Errorf("loading active thresholds: %w", err)
	}

	row = models.ThresholdSettings{
		PressureWarning:     DefaultSet.PressureWarning,
		PressureCritical:    DefaultSet.PressureCritical,
		TemperatureWarning:  DefaultSet.TemperatureWarning,
		TemperatureCritical: DefaultSet.TemperatureCritical,
		FlowrateMin:         DefaultSet.FlowrateMin,
		FlowrateMax:         DefaultSet.FlowrateMax,
		Version:             1,
		Active:              true,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return models.ThresholdSet{}, fmt.Errorf("bootstrapping default thresholds: %w", err)
	}
	return row.Set(), nil
}
