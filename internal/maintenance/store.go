// Package maintenance owns the lifecycle of maintenance tasks: creation,
// status transitions, the time-triggered overdue sweep and auto-generation
// from risk assessments. Mutations are serialized under the store mutex so
// the auto-generation dedup check is atomic with the creation it guards.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/chemviz/equipment-monitor/internal/models"
)

// legalTransitions lists the manual status transitions. completed is
// terminal. The overdue sweep moves scheduled and in_progress tasks on its
// own time-triggered path and does not consult this table.
var legalTransitions = map[models.TaskStatus][]models.TaskStatus{
	models.StatusScheduled:  {models.StatusInProgress, models.StatusOverdue, models.StatusCompleted},
	models.StatusInProgress: {models.StatusCompleted},
	models.StatusOverdue:    {models.StatusInProgress, models.StatusCompleted},
	models.StatusCompleted:  {},
}

func transitionAllowed(from, to models.TaskStatus) bool {
	for _, s := range legalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Draft carries the caller-supplied fields for a new manual task.
type Draft struct {
	EquipmentName     string              `json:"equipment_name"`
	EquipmentType     string              `json:"equipment_type"`
	Title             string              `json:"title"`
	Description       string              `json:"description"`
	ScheduledDate     time.Time           `json:"scheduled_date"`
	ScheduledTime     string              `json:"scheduled_time"`
	Priority          models.TaskPriority `json:"priority"`
	AssignedTo        string              `json:"assigned_to"`
	EstimatedDuration int                 `json:"estimated_duration"`
	Notes             string              `json:"notes"`
}

// Filter narrows List results.
type Filter struct {
	Status       models.TaskStatus
	Equipment    string // substring match on equipment_name
	UpcomingDays int    // 0 means no upcoming restriction
}

type Store struct {
	db *gorm.DB
	mu sync.Mutex
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Create validates and stores a manual task. The scheduled date must not be
// in the past relative to now.
func (s *Store) Create(ctx context.Context, draft Draft, now time.Time) (*models.MaintenanceTask, error) {
	if err := validateDraft(draft, now); err != nil {
		return nil, err
	}

	priority := draft.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}
	duration := draft.EstimatedDuration
	if duration == 0 {
		duration = 60
	}

	task := models.MaintenanceTask{
		EquipmentName:     draft.EquipmentName,
		EquipmentType:     draft.EquipmentType,
		Title:             draft.Title,
		Description:       draft.Description,
		ScheduledDate:     draft.ScheduledDate,
		ScheduledTime:     draft.ScheduledTime,
		Priority:          priority,
		Status:            models.StatusScheduled,
		AssignedTo:        draft.AssignedTo,
		EstimatedDuration: duration,
		Notes:             draft.Notes,
		CreatedBy:         models.OriginManual,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.WithContext(ctx).Create(&task).Error; err != nil {
		return nil, fmt.Errorf("creating task for %q: %w", draft.EquipmentName, err)
	}
	return &task, nil
}

func validateDraft(draft Draft, now time.Time) error {
	if strings.TrimSpace(draft.EquipmentName) == "" {
		return fmt.Errorf("%w: equipment_name is empty", models.ErrInvalidTask)
	}
	if strings.TrimSpace(draft.Title) == "" {
		return fmt.Errorf("%w: title is empty", models.ErrInvalidTask)
	}
	if draft.EstimatedDuration < 0 {
		return fmt.Errorf("%w: estimated_duration must be positive", models.ErrInvalidTask)
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if draft.ScheduledDate.Before(today) {
		return fmt.Errorf("%w: scheduled_date %s is in the past", models.ErrInvalidTask, draft.ScheduledDate.Format("2006-01-02"))
	}
	if draft.ScheduledTime != "" {
		if _, err := time.Parse("15:04", draft.ScheduledTime); err != nil {
			return fmt.Errorf("%w: scheduled_time %q is not HH:MM", models.ErrInvalidTask, draft.ScheduledTime)
		}
	}
	switch draft.Priority {
	case "", models.PriorityLow, models.PriorityMedium, models.PriorityHigh, models.PriorityCritical:
	default:
		return fmt.Errorf("%w: unknown priority %q", models.ErrInvalidTask, draft.Priority)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id uint) (*models.MaintenanceTask, error) {
	var task models.MaintenanceTask
	err := s.db.WithContext(ctx).First(&task, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: task %d", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading task %d: %w", id, err)
	}
	return &task, nil
}

// List returns tasks matching the filter, soonest scheduled first.
func (s *Store) List(ctx context.Context, filter Filter, now time.Time) ([]models.MaintenanceTask, error) {
	q := s.db.WithContext(ctx).Model(&models.MaintenanceTask{})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Equipment != "" {
		q = q.Where("equipment_name LIKE ?", "%"+filter.Equipment+"%")
	}
	if filter.UpcomingDays > 0 {
		today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		q = q.Where("scheduled_date >= ? AND scheduled_date <= ?", today, today.AddDate(0, 0, filter.UpcomingDays))
	}

	var tasks []models.MaintenanceTask
	if err := q.Order("scheduled_date asc, id asc").Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	return tasks, nil
}

// UpdateStatus applies a manual status transition, stamping completed_at on
// the first transition into completed.
func (s *Store) UpdateStatus(ctx context.Context, id uint, next models.TaskStatus, now time.Time) error {
	switch next {
	case models.StatusScheduled, models.StatusInProgress, models.StatusOverdue, models.StatusCompleted:
	default:
		return fmt.Errorf("%w: unknown status %q", models.ErrValidation, next)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var task models.MaintenanceTask
		err := tx.First(&task, id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: task %d", models.ErrNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("loading task %d: %w", id, err)
		}

		if task.Status == next {
			return nil
		}
		if !transitionAllowed(task.Status, next) {
			return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, task.Status, next)
		}

		updates := map[string]any{"status": next}
		if next == models.StatusCompleted && task.CompletedAt == nil {
			updates["completed_at"] = now
		}
		if err := tx.Model(&task).Updates(updates).Error; err != nil {
			return fmt.Errorf("updating task %d: %w", id, err)
		}
		return nil
	})
}

// UpdateFields edits the mutable descriptive fields of a task. Status is
// not touched here; UpdateStatus owns transitions.
type UpdateFields struct {
	Title             *string              `json:"title"`
	Description       *string              `json:"description"`
	ScheduledDate     *time.Time           `json:"scheduled_date"`
	ScheduledTime     *string              `json:"scheduled_time"`
	Priority          *models.TaskPriority `json:"priority"`
	AssignedTo        *string              `json:"assigned_to"`
	EstimatedDuration *int                 `json:"estimated_duration"`
	Notes             *string              `json:"notes"`
}

func (s *Store) Update(ctx context.Context, id uint, fields UpdateFields) (*models.MaintenanceTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var task models.MaintenanceTask
	err := s.db.WithContext(ctx).First(&task, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: task %d", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading task %d: %w", id, err)
	}

	updates := map[string]any{}
	if fields.Title != nil {
		if strings.TrimSpace(*fields.Title) == "" {
			return nil, fmt.Errorf("%w: title is empty", models.ErrInvalidTask)
		}
		updates["title"] = *fields.Title
	}
	if fields.Description != nil {
		updates["description"] = *fields.Description
	}
	if fields.ScheduledDate != nil {
		updates["scheduled_date"] = *fields.ScheduledDate
	}
	if fields.ScheduledTime != nil {
		if *fields.ScheduledTime != "" {
			if _, err := time.Parse("15:04", *fields.ScheduledTime); err != nil {
				return nil, fmt.Errorf("%w: scheduled_time %q is not HH:MM", models.ErrInvalidTask, *fields.ScheduledTime)
			}
		}
		updates["scheduled_time"] = *fields.ScheduledTime
	}
	if fields.Priority != nil {
		updates["priority"] = *fields.Priority
	}
	if fields.AssignedTo != nil {
		updates["assigned_to"] = *fields.AssignedTo
	}
	if fields.EstimatedDuration != nil {
		if *fields.EstimatedDuration <= 0 {
			return nil, fmt.Errorf("%w: estimated_duration must be positive", models.ErrInvalidTask)
		}
		updates["estimated_duration"] = *fields.EstimatedDuration
	}
	if fields.Notes != nil {
		updates["notes"] = *fields.Notes
	}
	if len(updates) == 0 {
		return &task, nil
	}

	if err := s.db.WithContext(ctx).Model(&task).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("updating task %d: %w", id, err)
	}
	return &task, nil
}

// Delete removes a task irreversibly. Intent confirmation is a UI concern.
func (s *Store) Delete(ctx context.Context, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.db.WithContext(ctx).Unscoped().Delete(&models.MaintenanceTask{}, id)
	if res.Error != nil {
		return fmt.Errorf("deleting task %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: task %d", models.ErrNotFound, id)
	}
	return nil
}

// RecomputeOverdue moves scheduled and in_progress tasks whose due moment is
// strictly in the past to overdue. Idempotent: a second run with the same
// now transitions nothing. Only the status column is touched.
func (s *Store) RecomputeOverdue(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []models.MaintenanceTask
	err := s.db.WithContext(ctx).
		Where("status IN ?", []models.TaskStatus{models.StatusScheduled, models.StatusInProgress}).
		Where("scheduled_date < ?", now).
		Find(&candidates).Error
	if err != nil {
		return 0, fmt.Errorf("scanning for overdue tasks: %w", err)
	}

	transitioned := 0
	for _, task := range candidates {
		if err := ctx.Err(); err != nil {
			return transitioned, err
		}
		if !task.DueAt().Before(now) {
			continue
		}
		res := s.db.WithContext(ctx).Model(&models.MaintenanceTask{}).
			Where("id = ? AND status = ?", task.ID, task.Status).
			Update("status", models.StatusOverdue)
		if res.Error != nil {
			return transitioned, fmt.Errorf("marking task %d overdue: %w", task.ID, res.Error)
		}
		transitioned += int(res.RowsAffected)
	}
	return transitioned, nil
}

// AutoSchedule turns warning and critical assessments into auto tasks.
// An equipment unit with an open auto task is skipped, so re-running on
// unchanged input is a no-op. The horizon restricts generation to
// assessments due within horizonDays.
func (s *Store) AutoSchedule(ctx context.Context, assessments []models.RiskAssessment, horizonDays int, now time.Time) ([]models.MaintenanceTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	created := []models.MaintenanceTask{}
	for _, a := range assessments {
		if err := ctx.Err(); err != nil {
			return created, err
		}
		if a.RiskLevel != models.RiskWarning && a.RiskLevel != models.RiskCritical {
			continue
		}
		if a.MaintenanceInDays > horizonDays {
			continue
		}

		var open int64
		err := s.db.WithContext(ctx).Model(&models.MaintenanceTask{}).
			Where("equipment_name = ? AND created_by = ? AND status <> ?",
				a.EquipmentName, models.OriginAuto, models.StatusCompleted).
			Count(&open).Error
		if err != nil {
			return created, fmt.Errorf("checking open auto tasks for %q: %w", a.EquipmentName, err)
		}
		if open > 0 {
			continue
		}

		priority := models.PriorityHigh
		if a.RiskLevel == models.RiskCritical {
			priority = models.PriorityCritical
		}

		days := a.MaintenanceInDays
		if days > 7 {
			days = 7
		}

		topFactor := "elevated risk"
		if len(a.RiskFactors) > 0 {
			topFactor = a.RiskFactors[0]
		}

		task := models.MaintenanceTask{
			EquipmentName: a.EquipmentName,
			EquipmentType: a.EquipmentType,
			Title:         fmt.Sprintf("Predicted maintenance - %s (%s)", a.EquipmentName, topFactor),
			Description: fmt.Sprintf("Auto-generated from risk evaluation.\nRisk score: %d\nRisk factors: %s",
				a.RiskScore, strings.Join(a.RiskFactors, ", ")),
			ScheduledDate:     time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, days),
			Priority:          priority,
			Status:            models.StatusScheduled,
			EstimatedDuration: 60,
			CreatedBy:         models.OriginAuto,
		}
		if err := s.db.WithContext(ctx).Create(&task).Error; err != nil {
			return created, fmt.Errorf("creating auto task for %q: %w", a.EquipmentName, err)
		}
		created = append(created, task)
	}
	return created, nil
}

// Summary computes the listing counts.
func (s *Store) Summary(ctx context.Context, now time.Time) (models.TaskSummary, error) {
	var summary models.TaskSummary
	db := s.db.WithContext(ctx).Model(&models.MaintenanceTask{})

	type statusCount struct {
		Status models.TaskStatus
		N      int64
	}
	var counts []statusCount
	if err := db.Select("status, count(*) as n").Group("status").Scan(&counts).Error; err != nil {
		return summary, fmt.Errorf("counting tasks: %w", err)
	}
	for _, c := range counts {
		summary.Total += c.N
		switch c.Status {
		case models.StatusScheduled:
			summary.Scheduled = c.N
		case models.StatusInProgress:
			summary.InProgress = c.N
		case models.StatusCompleted:
			summary.Completed = c.N
		case models.StatusOverdue:
			summary.Overdue = c.N
		}
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	err := s.db.WithContext(ctx).Model(&models.MaintenanceTask{}).
		Where("scheduled_date >= ? AND scheduled_date <= ?", today, today.AddDate(0, 0, 7)).
		Where("status IN ?", []models.TaskStatus{models.StatusScheduled, models.StatusInProgress}).
		Count(&summary.Upcoming7Day).Error
	if err != nil {
		return summary, fmt.Errorf("counting upcoming tasks: %w", err)
	}
	return summary, nil
}

// DueWithin returns open tasks due inside the reminder window, for
// maintenance-due alerts.
func (s *Store) DueWithin(ctx context.Context, days int, now time.Time) ([]models.MaintenanceTask, error) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	var tasks []models.MaintenanceTask
	err := s.db.WithContext(ctx).
		Where("status IN ?", []models.TaskStatus{models.StatusScheduled, models.StatusInProgress, models.StatusOverdue}).
		Where("scheduled_date <= ?", today.AddDate(0, 0, days)).
		Order("scheduled_date asc").
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("listing due tasks: %w", err)
	}
	return tasks, nil
}
