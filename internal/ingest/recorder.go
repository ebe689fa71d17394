// Package ingest records validated reading batches and derives the snapshot
// summary the dashboard shows after each ingestion.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/chemviz/equipment-monitor/internal/models"
	"github.com/chemviz/equipment-monitor/internal/risk"
	"github.com/chemviz/equipment-monitor/internal/thresholds"
)

// keepBatches is how many ingestion batches of history are retained.
const keepBatches = 5

// historyLimit caps the points returned per trend query.
const historyLimit = 100

// Snapshot summarizes one ingested batch.
type Snapshot struct {
	BatchID          uuid.UUID               `json:"batch_id"`
	TotalCount       int                     `json:"total_count"`
	AvgFlowrate      float64                 `json:"avg_flowrate"`
	AvgPressure      float64                 `json:"avg_pressure"`
	AvgTemperature   float64                 `json:"avg_temperature"`
	TypeDistribution map[string]int          `json:"type_distribution"`
	CriticalItems    []string                `json:"critical_items"`
	WarningItems     []string                `json:"warning_items"`
	HealthScore      int                     `json:"health_score"`
	Assessments      []models.RiskAssessment `json:"predictions"`
}

type Recorder struct {
	db         *gorm.DB
	thresholds *thresholds.Store
}

func NewRecorder(db *gorm.DB, thresholds *thresholds.Store) *Recorder {
	return &Recorder{db: db, thresholds: thresholds}
}

// Record validates and persists a reading batch. Validation happens before
// any row is written: one bad reading rejects the whole batch. Retention is
// pruned to the most recent batches afterwards.
func (r *Recorder) Record(ctx context.Context, readings []models.Reading, now time.Time) (*Snapshot, error) {
	if len(readings) == 0 {
		return nil, fmt.Errorf("%w: empty reading batch", models.ErrInvalidReading)
	}

	active, err := r.thresholds.Active(ctx)
	if err != nil {
		return nil, err
	}

	assessments, err := risk.EvaluateAll(readings, active)
	if err != nil {
		return nil, err
	}

	batchID := uuid.New()
	rows := make([]models.EquipmentReading, 0, len(readings))
	for _, reading := range readings {
		recordedAt := reading.RecordedAt
		if recordedAt.IsZero() {
			recordedAt = now
		}
		rows = append(rows, models.EquipmentReading{
			EquipmentName: reading.EquipmentName,
			EquipmentType: reading.EquipmentType,
			Flowrate:      reading.Flowrate,
			Pressure:      reading.Pressure,
			Temperature:   reading.Temperature,
			RecordedAt:    recordedAt,
			BatchID:       batchID,
		})
	}

	if err := r.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return nil, fmt.Errorf("storing reading batch: %w", err)
	}
	if err := r.prune(ctx); err != nil {
		return nil, err
	}

	return buildSnapshot(batchID, readings, assessments), nil
}

// LatestBatch returns the readings of the most recent batch, the inputs for
// on-demand re-evaluation against the current thresholds.
func (r *Recorder) LatestBatch(ctx context.Context) ([]models.Reading, error) {
	var latest models.EquipmentReading
	err := r.db.WithContext(ctx).Order("created_at desc, id desc").First(&latest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: no readings ingested yet", models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading latest batch: %w", err)
	}

	var rows []models.EquipmentReading
	if err := r.db.WithContext(ctx).Where("batch_id = ?", latest.BatchID).Order("id asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("loading batch %s: %w", latest.BatchID, err)
	}

	readings := make([]models.Reading, 0, len(rows))
	for _, row := range rows {
		readings = append(readings, row.Reading())
	}
	return readings, nil
}

// History returns readings inside the window, newest first, optionally
// restricted to one equipment unit.
func (r *Recorder) History(ctx context.Context, equipment string, windowDays int, now time.Time) ([]models.Reading, error) {
	cutoff := now.AddDate(0, 0, -windowDays)
	q := r.db.WithContext(ctx).Where("recorded_at >= ?", cutoff)
	if equipment != "" {
		q = q.Where("equipment_name = ?", equipment)
	}

	var rows []models.EquipmentReading
	if err := q.Order("recorded_at desc").Limit(historyLimit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("loading reading history: %w", err)
	}

	readings := make([]models.Reading, 0, len(rows))
	for _, row := range rows {
		readings = append(readings, row.Reading())
	}
	return readings, nil
}

// EquipmentNames lists every distinct unit with recorded history.
func (r *Recorder) EquipmentNames(ctx context.Context) ([]string, error) {
	var names []string
	err := r.db.WithContext(ctx).Model(&models.EquipmentReading{}).
		Distinct("equipment_name").Order("equipment_name asc").Pluck("equipment_name", &names).Error
	if err != nil {
		return nil, fmt.Errorf("listing equipment names: %w", err)
	}
	return names, nil
}

// prune drops readings outside the retained batch window.
func (r *Recorder) prune(ctx context.Context) error {
	var batchIDs []string
	err := r.db.WithContext(ctx).Model(&models.EquipmentReading{}).
		Distinct("batch_id").Order("batch_id desc").Pluck("batch_id", &batchIDs).Error
	if err != nil {
		return fmt.Errorf("listing batches: %w", err)
	}
	if len(batchIDs) <= keepBatches {
		return nil
	}

	// Order batches by recency of their newest row, not by id.
	type batchAge struct {
		BatchID string
		Newest  time.Time
	}
	var ages []batchAge
	err = r.db.WithContext(ctx).Model(&models.EquipmentReading{}).
		Select("batch_id, max(created_at) as newest").Group("batch_id").Order("newest desc").Scan(&ages).Error
	if err != nil {
		return fmt.Errorf("ordering batches: %w", err)
	}

	for _, stale := range ages[keepBatches:] {
		err := r.db.WithContext(ctx).Unscoped().
			Where("batch_id = ?", stale.BatchID).Delete(&models.EquipmentReading{}).Error
		if err != nil {
			return fmt.Errorf("pruning batch %s: %w", stale.BatchID, err)
		}
	}
	return nil
}

func buildSnapshot(batchID uuid.UUID, readings []models.Reading, assessments []models.RiskAssessment) *Snapshot {
	snap := &Snapshot{
		BatchID:          batchID,
		TotalCount:       len(readings),
		TypeDistribution: map[string]int{},
		CriticalItems:    []string{},
		WarningItems:     []string{},
		Assessments:      assessments,
	}

	for _, r := range readings {
		snap.AvgFlowrate += r.Flowrate
		snap.AvgPressure += r.Pressure
		snap.AvgTemperature += r.Temperature
		snap.TypeDistribution[r.EquipmentType]++
	}
	n := float64(len(readings))
	snap.AvgFlowrate /= n
	snap.AvgPressure /= n
	snap.AvgTemperature /= n

	for _, a := range assessments {
		switch a.RiskLevel {
		case models.RiskCritical:
			snap.CriticalItems = append(snap.CriticalItems, a.EquipmentName)
		case models.RiskWarning:
			snap.WarningItems = append(snap.WarningItems, a.EquipmentName)
		}
	}

	score := 100 - len(snap.CriticalItems)*10 - len(snap.WarningItems)*3
	if score < 0 {
		score = 0
	}
	snap.HealthScore = score
	return snap
}
