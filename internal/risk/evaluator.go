// Package risk scores a single equipment reading against the active
// threshold set. Evaluation is pure and deterministic: identical inputs
// always produce identical assessments.
package risk

import (
	"fmt"
	"math"
	"sort"

	"github.com/chemviz/equipment-monitor/internal/models"
)

// Violation factor tokens. The dashboard pattern-matches on these literals.
const (
	FactorPressureCritical    = "pressure critical"
	FactorPressureWarning     = "pressure warning"
	FactorTemperatureCritical = "temperature critical"
	FactorTemperatureWarning  = "temperature warning"
	FactorFlowrateOutOfRange  = "flowrate out of range"
)

// Scoring weights. A critical-tier violation carries twice the weight of a
// warning-tier one; a flowrate excursion sits between.
const (
	criticalWeight = 40
	warningWeight  = 20
	flowrateWeight = 15
)

// Level banding by score. Exact boundaries: the dashboard colors and
// filters depend on them.
const (
	criticalBand = 70
	warningBand  = 40
	moderateBand = 10
)

// Evaluate classifies one reading. The evaluator never imputes telemetry:
// NaN, infinite or negative inputs fail with ErrInvalidReading.
func Evaluate(reading models.Reading, thresholds models.ThresholdSet) (models.RiskAssessment, error) {
	if reading.EquipmentName == "" {
		return models.RiskAssessment{}, fmt.Errorf("%w: equipment_name is empty", models.ErrInvalidReading)
	}
	fields := []struct {
		name  string
		value float64
	}{
		{"flowrate", reading.Flowrate},
		{"pressure", reading.Pressure},
		{"temperature", reading.Temperature},
	}
	for _, f := range fields {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return models.RiskAssessment{}, fmt.Errorf("%w: %s is not a number", models.ErrInvalidReading, f.name)
		}
		if f.value < 0 {
			return models.RiskAssessment{}, fmt.Errorf("%w: %s is negative (%.2f)", models.ErrInvalidReading, f.name, f.value)
		}
	}

	score := 0
	factors := []string{}
	hasCritical := false
	hasWarning := false

	switch {
	case reading.Pressure > thresholds.PressureCritical:
		score += criticalWeight
		hasCritical = true
		factors = append(factors, FactorPressureCritical)
	case reading.Pressure > thresholds.PressureWarning:
		score += warningWeight
		hasWarning = true
		factors = append(factors, FactorPressureWarning)
	}

	switch {
	case reading.Temperature > thresholds.TemperatureCritical:
		score += criticalWeight
		hasCritical = true
		factors = append(factors, FactorTemperatureCritical)
	case reading.Temperature > thresholds.TemperatureWarning:
		score += warningWeight
		hasWarning = true
		factors = append(factors, FactorTemperatureWarning)
	}

	if reading.Flowrate < thresholds.FlowrateMin || reading.Flowrate > thresholds.FlowrateMax {
		score += flowrateWeight
		factors = append(factors, FactorFlowrateOutOfRange)
	}

	// A critical-tier violation always classifies as critical, a
	// warning-tier one at least as warning, regardless of how few other
	// factors co-occur: the score is floored at the matching band.
	if hasCritical && score < criticalBand {
		score = criticalBand
	} else if hasWarning && score < warningBand {
		score = warningBand
	}
	if score > 100 {
		score = 100
	}

	level := levelFor(score)

	return models.RiskAssessment{
		EquipmentName:     reading.EquipmentName,
		EquipmentType:     reading.EquipmentType,
		Flowrate:          reading.Flowrate,
		Pressure:          reading.Pressure,
		Temperature:       reading.Temperature,
		RiskScore:         score,
		RiskLevel:         level,
		RiskFactors:       factors,
		MaintenanceInDays: horizonDays(score, level),
	}, nil
}

func levelFor(score int) models.RiskLevel {
	switch {
	case score >= criticalBand:
		return models.RiskCritical
	case score >= warningBand:
		return models.RiskWarning
	case score >= moderateBand:
		return models.RiskModerate
	default:
		return models.RiskHealthy
	}
}

// horizonDays maps a score to a maintenance horizon by linear interpolation
// inside the level's band: critical 0-2, warning 3-14, moderate 15-45,
// healthy 46-90. Non-increasing in score, so identical scores always yield
// identical horizons.
func horizonDays(score int, level models.RiskLevel) int {
	interp := func(score, bandLo, bandHi, daysLo, daysHi int) int {
		span := float64(bandHi - bandLo)
		frac := float64(score-bandLo) / span
		return int(math.Round(float64(daysHi) - frac*float64(daysHi-daysLo)))
	}
	switch level {
	case models.RiskCritical:
		return interp(score, 70, 100, 0, 2)
	case models.RiskWarning:
		return interp(score, 40, 69, 3, 14)
	case models.RiskModerate:
		return interp(score, 10, 39, 15, 45)
	default:
		return interp(score, 0, 9, 46, 90)
	}
}

// EvaluateAll assesses a batch, sorted highest risk first. A single bad
// reading fails the batch so callers never act on a partial picture.
func EvaluateAll(readings []models.Reading, thresholds models.ThresholdSet) ([]models.RiskAssessment, error) {
	assessments := make([]models.RiskAssessment, 0, len(readings))
	for _, r := range readings {
		a, err := Evaluate(r, thresholds)
		if err != nil {
			return nil, fmt.Errorf("evaluating %q: %w", r.EquipmentName, err)
		}
		assessments = append(assessments, a)
	}
	sort.SliceStable(assessments, func(i, j int) bool {
		return assessments[i].RiskScore > assessments[j].RiskScore
	})
	return assessments, nil
}
