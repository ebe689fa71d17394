package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Reading is one validated telemetry sample for one equipment unit.
type Reading struct {
	EquipmentName string    `json:"equipment_name"`
	EquipmentType string    `json:"equipment_type"`
	Flowrate      float64   `json:"flowrate"`
	Pressure      float64   `json:"pressure"`
	Temperature   float64   `json:"temperature"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// EquipmentReading is the persisted form of a Reading. Rows are append-only;
// the engine never updates or deletes them.
type EquipmentReading struct {
	gorm.Model
	EquipmentName string    `gorm:"index;size:255;not null" json:"equipment_name"`
	EquipmentType string    `gorm:"size:100" json:"equipment_type"`
	Flowrate      float64   `gorm:"not null" json:"flowrate"`
	Pressure      float64   `gorm:"not null" json:"pressure"`
	Temperature   float64   `gorm:"not null" json:"temperature"`
	RecordedAt    time.Time `gorm:"index;not null" json:"recorded_at"`
	BatchID       uuid.UUID `gorm:"type:uuid;index;not null" json:"batch_id"`
}

func (EquipmentReading) TableName() string {
	return "equipment_readings"
}

// Reading converts the stored row back to its value form.
func (r EquipmentReading) Reading() Reading {
	return Reading{
		EquipmentName: r.EquipmentName,
		EquipmentType: r.EquipmentType,
		Flowrate:      r.Flowrate,
		Pressure:      r.Pressure,
		Temperature:   r.Temperature,
		RecordedAt:    r.RecordedAt,
	}
}

type RiskLevel string

const (
	RiskHealthy  RiskLevel = "healthy"
	RiskModerate RiskLevel = "moderate"
	RiskWarning  RiskLevel = "warning"
	RiskCritical RiskLevel = "critical"
)

// RiskAssessment is derived from a Reading and the active ThresholdSet.
// It is recomputed on demand and never stored.
type RiskAssessment struct {
	EquipmentName     string    `json:"equipment_name"`
	EquipmentType     string    `json:"equipment_type"`
	Flowrate          float64   `json:"flowrate"`
	Pressure          float64   `json:"pressure"`
	Temperature       float64   `json:"temperature"`
	RiskScore         int       `json:"risk_score"`
	RiskLevel         RiskLevel `json:"risk_level"`
	RiskFactors       []string  `json:"risk_factors"`
	MaintenanceInDays int       `json:"maintenance_in_days"`
}

type TrendDirection string

const (
	TrendIncreasing TrendDirection = "increasing"
	TrendDecreasing TrendDirection = "decreasing"
	TrendStable     TrendDirection = "stable"
	// TrendInsufficientData marks equipment with fewer than two readings in
	// the window. Callers must render it distinctly from stable.
	TrendInsufficientData TrendDirection = "insufficient_data"
)

// TrendSummary is the per-equipment directional classification over a window.
type TrendSummary struct {
	EquipmentName    string         `json:"equipment_name"`
	EquipmentType    string         `json:"equipment_type"`
	PressureTrend    TrendDirection `json:"pressure_trend"`
	TemperatureTrend TrendDirection `json:"temperature_trend"`
	DataPoints       int            `json:"data_points_count"`
}
