package models

import (
	"fmt"

	"gorm.io/gorm"
)

// ThresholdSet carries the six bounds used for risk classification.
type ThresholdSet struct {
	PressureWarning     float64 `json:"pressure_warning"`
	PressureCritical    float64 `json:"pressure_critical"`
	TemperatureWarning  float64 `json:"temperature_warning"`
	TemperatureCritical float64 `json:"temperature_critical"`
	FlowrateMin         float64 `json:"flowrate_min"`
	FlowrateMax         float64 `json:"flowrate_max"`
}

// Validate checks pair ordering. Violations are rejected, never reordered.
func (t ThresholdSet) Validate() error {
	if t.PressureWarning >= t.PressureCritical {
		return fmt.Errorf("%w: pressure_warning (%.2f) must be below pressure_critical (%.2f)",
			ErrInvalidThreshold, t.PressureWarning, t.PressureCritical)
	}
	if t.TemperatureWarning >= t.TemperatureCritical {
		return fmt.Errorf("%w: temperature_warning (%.2f) must be below temperature_critical (%.2f)",
			ErrInvalidThreshold, t.TemperatureWarning, t.TemperatureCritical)
	}
	if t.FlowrateMin >= t.FlowrateMax {
		return fmt.Errorf("%w: flowrate_min (%.2f) must be below flowrate_max (%.2f)",
			ErrInvalidThreshold, t.FlowrateMin, t.FlowrateMax)
	}
	return nil
}

// ThresholdSettings is the persisted, versioned form of a ThresholdSet.
// Exactly one row is active at a time.
type ThresholdSettings struct {
	gorm.Model
	PressureWarning     float64 `gorm:"not null" json:"pressure_warning"`
	PressureCritical    float64 `gorm:"not null" json:"pressure_critical"`
	TemperatureWarning  float64 `gorm:"not null" json:"temperature_warning"`
	TemperatureCritical float64 `gorm:"not null" json:"temperature_critical"`
	FlowrateMin         float64 `gorm:"not null" json:"flowrate_min"`
	FlowrateMax         float64 `gorm:"not null" json:"flowrate_max"`
	Version             int     `gorm:"not null;default:1" json:"version"`
	Active              bool    `gorm:"index;not null;default:false" json:"active"`
}

func (ThresholdSettings) TableName() string {
	return "threshold_settings"
}

func (s ThresholdSettings) Set() ThresholdSet {
	return ThresholdSet{
		PressureWarning:     s.PressureWarning,
		PressureCritical:    s.PressureCritical,
		TemperatureWarning:  s.TemperatureWarning,
		TemperatureCritical: s.TemperatureCritical,
		FlowrateMin:         s.FlowrateMin,
		FlowrateMax:         s.FlowrateMax,
	}
}
