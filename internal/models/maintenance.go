package models

import (
	"time"

	"gorm.io/gorm"
)

type TaskStatus string

const (
	StatusScheduled  TaskStatus = "scheduled"
	StatusInProgress TaskStatus = "in_progress"
	StatusOverdue    TaskStatus = "overdue"
	StatusCompleted  TaskStatus = "completed"
)

// Terminal reports whether no transition may leave the status.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted
}

type TaskPriority string

const (
	PriorityLow      TaskPriority = "low"
	PriorityMedium   TaskPriority = "medium"
	PriorityHigh     TaskPriority = "high"
	PriorityCritical TaskPriority = "critical"
)

type TaskOrigin string

const (
	OriginManual TaskOrigin = "manual"
	OriginAuto   TaskOrigin = "auto"
)

// MaintenanceTask is a schedulable unit of maintenance work. Owned by the
// maintenance store; all mutations go through its operations.
type MaintenanceTask struct {
	gorm.Model
	EquipmentName     string       `gorm:"index;size:255;not null" json:"equipment_name"`
	EquipmentType     string       `gorm:"size:100" json:"equipment_type"`
	Title             string       `gorm:"size:255;not null" json:"title"`
	Description       string       `gorm:"type:text" json:"description"`
	ScheduledDate     time.Time    `gorm:"index;not null" json:"scheduled_date"`
	ScheduledTime     string       `gorm:"size:5" json:"scheduled_time,omitempty"` // HH:MM, optional
	Priority          TaskPriority `gorm:"type:varchar(20);not null" json:"priority"`
	Status            TaskStatus   `gorm:"type:varchar(20);index;not null" json:"status"`
	AssignedTo        string       `gorm:"size:255" json:"assigned_to"`
	EstimatedDuration int          `gorm:"not null" json:"estimated_duration"` // minutes
	Notes             string       `gorm:"type:text" json:"notes"`
	CreatedBy         TaskOrigin   `gorm:"type:varchar(10);not null" json:"created_by"`
	CompletedAt       *time.Time   `json:"completed_at,omitempty"`
}

func (MaintenanceTask) TableName() string {
	return "maintenance_tasks"
}

// DueAt resolves the scheduled date plus optional HH:MM time. Without a
// time the task is due at end of its scheduled day.
func (t MaintenanceTask) DueAt() time.Time {
	day := time.Date(t.ScheduledDate.Year(), t.ScheduledDate.Month(), t.ScheduledDate.Day(), 0, 0, 0, 0, t.ScheduledDate.Location())
	if parsed, err := time.Parse("15:04", t.ScheduledTime); err == nil {
		return day.Add(time.Duration(parsed.Hour())*time.Hour + time.Duration(parsed.Minute())*time.Minute)
	}
	return day.Add(24*time.Hour - time.Second)
}

// TaskSummary carries the listing counts shown on the dashboard.
type TaskSummary struct {
	Total        int64 `json:"total"`
	Scheduled    int64 `json:"scheduled"`
	InProgress   int64 `json:"in_progress"`
	Completed    int64 `json:"completed"`
	Overdue      int64 `json:"overdue"`
	Upcoming7Day int64 `json:"upcoming_7_days"`
}
