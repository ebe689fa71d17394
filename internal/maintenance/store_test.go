package maintenance

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/chemviz/equipment-monitor/internal/models"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(&models.MaintenanceTask{}); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	return db
}

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func draft(name string) Draft {
	return Draft{
		EquipmentName: name,
		EquipmentType: "pump",
		Title:         "Inspect seals",
		ScheduledDate: testNow.AddDate(0, 0, 3),
	}
}

func TestCreateAppliesDefaults(t *testing.T) {
	store := NewStore(testDB(t))

	task, err := store.Create(context.Background(), draft("pump-1"), testNow)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if task.Status != models.StatusScheduled {
		t.Errorf("Expected status scheduled, got %s", task.Status)
	}
	if task.Priority != models.PriorityMedium {
		t.Errorf("Expected default priority medium, got %s", task.Priority)
	}
	if task.EstimatedDuration != 60 {
		t.Errorf("Expected default duration 60, got %d", task.EstimatedDuration)
	}
	if task.CreatedBy != models.OriginManual {
		t.Errorf("Expected created_by manual, got %s", task.CreatedBy)
	}
}

func TestCreateRejectsInvalidDrafts(t *testing.T) {
	store := NewStore(testDB(t))

	testCases := []struct {
		name   string
		mutate func(*Draft)
	}{
		{"empty equipment name", func(d *Draft) { d.EquipmentName = "  " }},
		{"empty title", func(d *Draft) { d.Title = "" }},
		{"past scheduled date", func(d *Draft) { d.ScheduledDate = testNow.AddDate(0, 0, -1) }},
		{"negative duration", func(d *Draft) { d.EstimatedDuration = -5 }},
		{"malformed scheduled time", func(d *Draft) { d.ScheduledTime = "9am" }},
		{"unknown priority", func(d *Draft) { d.Priority = "urgent" }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d := draft("pump-1")
			tc.mutate(&d)
			_, err := store.Create(context.Background(), d, testNow)
			if !errors.Is(err, models.ErrInvalidTask) {
				t.Fatalf("Expected ErrInvalidTask, got %v", err)
			}
		})
	}
}

func TestCreateAllowsToday(t *testing.T) {
	store := NewStore(testDB(t))

	d := draft("pump-1")
	// Midnight today is earlier than now but not in the past as a date.
	d.ScheduledDate = time.Date(testNow.Year(), testNow.Month(), testNow.Day(), 0, 0, 0, 0, time.UTC)
	if _, err := store.Create(context.Background(), d, testNow); err != nil {
		t.Fatalf("Create rejected a task scheduled for today: %v", err)
	}
}

func TestStatusTransitions(t *testing.T) {
	testCases := []struct {
		name    string
		from    models.TaskStatus
		to      models.TaskStatus
		allowed bool
	}{
		{"scheduled to in_progress", models.StatusScheduled, models.StatusInProgress, true},
		{"scheduled to completed", models.StatusScheduled, models.StatusCompleted, true},
		{"in_progress to completed", models.StatusInProgress, models.StatusCompleted, true},
		{"in_progress back to scheduled", models.StatusInProgress, models.StatusScheduled, false},
		{"overdue to in_progress", models.StatusOverdue, models.StatusInProgress, true},
		{"completed to scheduled", models.StatusCompleted, models.StatusScheduled, false},
		{"completed to in_progress", models.StatusCompleted, models.StatusInProgress, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			db := testDB(t)
			store := NewStore(db)

			task, err := store.Create(context.Background(), draft("pump-1"), testNow)
			if err != nil {
				t.Fatalf("Create returned error: %v", err)
			}
			if tc.from != models.StatusScheduled {
				if err := db.Model(task).Update("status", tc.from).Error; err != nil {
					t.Fatalf("Failed to seed status: %v", err)
				}
			}

			err = store.UpdateStatus(context.Background(), task.ID, tc.to, testNow)
			if tc.allowed && err != nil {
				t.Fatalf("Expected transition %s -> %s to succeed, got %v", tc.from, tc.to, err)
			}
			if !tc.allowed && !errors.Is(err, models.ErrInvalidTransition) {
				t.Fatalf("Expected ErrInvalidTransition for %s -> %s, got %v", tc.from, tc.to, err)
			}
		})
	}
}

func TestCompletionStampsCompletedAt(t *testing.T) {
	store := NewStore(testDB(t))
	ctx := context.Background()

	task, err := store.Create(ctx, draft("pump-1"), testNow)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if err := store.UpdateStatus(ctx, task.ID, models.StatusCompleted, testNow); err != nil {
		t.Fatalf("UpdateStatus returned error: %v", err)
	}

	got, err := store.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.CompletedAt == nil {
		t.Fatal("Expected completed_at to be stamped")
	}
	if !got.CompletedAt.Equal(testNow) {
		t.Errorf("Expected completed_at %v, got %v", testNow, got.CompletedAt)
	}
}

func TestSameStatusIsNoOp(t *testing.T) {
	store := NewStore(testDB(t))
	ctx := context.Background()

	task, err := store.Create(ctx, draft("pump-1"), testNow)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if err := store.UpdateStatus(ctx, task.ID, models.StatusScheduled, testNow); err != nil {
		t.Fatalf("Expected same-status update to be a no-op, got %v", err)
	}
}

func TestRecomputeOverdueIsIdempotent(t *testing.T) {
	db := testDB(t)
	store := NewStore(db)
	ctx := context.Background()

	task, err := store.Create(ctx, draft("pump-1"), testNow)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if _, err := store.Create(ctx, draft("pump-2"), testNow); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	later := testNow.AddDate(0, 0, 5)
	n, err := store.RecomputeOverdue(ctx, later)
	if err != nil {
		t.Fatalf("RecomputeOverdue returned error: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 tasks transitioned, got %d", n)
	}

	got, err := store.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.Status != models.StatusOverdue {
		t.Errorf("Expected status overdue, got %s", got.Status)
	}

	// A second run with the same clock must transition nothing.
	n, err = store.RecomputeOverdue(ctx, later)
	if err != nil {
		t.Fatalf("RecomputeOverdue returned error: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected second run to transition 0 tasks, got %d", n)
	}
}

func TestRecomputeOverdueRespectsScheduledTime(t *testing.T) {
	store := NewStore(testDB(t))
	ctx := context.Background()

	d := draft("pump-1")
	d.ScheduledDate = time.Date(testNow.Year(), testNow.Month(), testNow.Day(), 0, 0, 0, 0, time.UTC)
	d.ScheduledTime = "18:00"
	task, err := store.Create(ctx, d, testNow)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	// Noon is before the 18:00 due moment.
	n, err := store.RecomputeOverdue(ctx, testNow)
	if err != nil {
		t.Fatalf("RecomputeOverdue returned error: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected no transition before the due time, got %d", n)
	}

	n, err = store.RecomputeOverdue(ctx, testNow.Add(8*time.Hour))
	if err != nil {
		t.Fatalf("RecomputeOverdue returned error: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 transition after the due time, got %d", n)
	}

	got, err := store.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.Status != models.StatusOverdue {
		t.Errorf("Expected status overdue, got %s", got.Status)
	}
}

func TestAutoScheduleCreatesAndDedups(t *testing.T) {
	store := NewStore(testDB(t))
	ctx := context.Background()

	assessments := []models.RiskAssessment{
		{
			EquipmentName:     "reactor-1",
			EquipmentType:     "reactor",
			RiskScore:         80,
			RiskLevel:         models.RiskCritical,
			RiskFactors:       []string{"pressure critical"},
			MaintenanceInDays: 1,
		},
		{
			EquipmentName:     "pump-1",
			EquipmentType:     "pump",
			RiskScore:         40,
			RiskLevel:         models.RiskWarning,
			RiskFactors:       []string{"temperature warning"},
			MaintenanceInDays: 10,
		},
		{
			EquipmentName:     "valve-1",
			EquipmentType:     "valve",
			RiskScore:         0,
			RiskLevel:         models.RiskHealthy,
			MaintenanceInDays: 60,
		},
	}

	created, err := store.AutoSchedule(ctx, assessments, 14, testNow)
	if err != nil {
		t.Fatalf("AutoSchedule returned error: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("Expected 2 auto tasks, got %d", len(created))
	}

	critical := created[0]
	if critical.Priority != models.PriorityCritical {
		t.Errorf("Expected priority critical for a critical assessment, got %s", critical.Priority)
	}
	if critical.CreatedBy != models.OriginAuto {
		t.Errorf("Expected created_by auto, got %s", critical.CreatedBy)
	}
	wantDate := time.Date(testNow.Year(), testNow.Month(), testNow.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	if !critical.ScheduledDate.Equal(wantDate) {
		t.Errorf("Expected scheduled date %v, got %v", wantDate, critical.ScheduledDate)
	}

	warning := created[1]
	if warning.Priority != models.PriorityHigh {
		t.Errorf("Expected priority high for a warning assessment, got %s", warning.Priority)
	}
	// Lead time is capped at a week out even when the horizon is longer.
	wantDate = time.Date(testNow.Year(), testNow.Month(), testNow.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 7)
	if !warning.ScheduledDate.Equal(wantDate) {
		t.Errorf("Expected scheduled date %v, got %v", wantDate, warning.ScheduledDate)
	}

	// Re-running on the same assessments must not duplicate open auto tasks.
	again, err := store.AutoSchedule(ctx, assessments, 14, testNow)
	if err != nil {
		t.Fatalf("AutoSchedule returned error: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("Expected second run to create nothing, got %d tasks", len(again))
	}
}

func TestAutoScheduleSkipsBeyondHorizon(t *testing.T) {
	store := NewStore(testDB(t))

	created, err := store.AutoSchedule(context.Background(), []models.RiskAssessment{
		{
			EquipmentName:     "pump-1",
			EquipmentType:     "pump",
			RiskLevel:         models.RiskWarning,
			MaintenanceInDays: 20,
		},
	}, 14, testNow)
	if err != nil {
		t.Fatalf("AutoSchedule returned error: %v", err)
	}
	if len(created) != 0 {
		t.Errorf("Expected no tasks beyond the horizon, got %d", len(created))
	}
}

func TestAutoScheduleAfterCompletionCreatesAgain(t *testing.T) {
	store := NewStore(testDB(t))
	ctx := context.Background()

	assessments := []models.RiskAssessment{
		{
			EquipmentName:     "pump-1",
			EquipmentType:     "pump",
			RiskLevel:         models.RiskCritical,
			RiskFactors:       []string{"pressure critical"},
			MaintenanceInDays: 1,
		},
	}
	created, err := store.AutoSchedule(ctx, assessments, 14, testNow)
	if err != nil {
		t.Fatalf("AutoSchedule returned error: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("Expected 1 auto task, got %d", len(created))
	}

	if err := store.UpdateStatus(ctx, created[0].ID, models.StatusCompleted, testNow); err != nil {
		t.Fatalf("UpdateStatus returned error: %v", err)
	}

	again, err := store.AutoSchedule(ctx, assessments, 14, testNow)
	if err != nil {
		t.Fatalf("AutoSchedule returned error: %v", err)
	}
	if len(again) != 1 {
		t.Errorf("Expected a new auto task once the prior one completed, got %d", len(again))
	}
}

func TestListFilters(t *testing.T) {
	store := NewStore(testDB(t))
	ctx := context.Background()

	for i, name := range []string{"pump-1", "pump-2", "reactor-1"} {
		d := draft(name)
		d.ScheduledDate = testNow.AddDate(0, 0, i+1)
		if _, err := store.Create(ctx, d, testNow); err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
	}
	far := draft("pump-3")
	far.ScheduledDate = testNow.AddDate(0, 0, 20)
	if _, err := store.Create(ctx, far, testNow); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	tasks, err := store.List(ctx, Filter{Equipment: "pump"}, testNow)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(tasks) != 3 {
		t.Errorf("Expected 3 pump tasks, got %d", len(tasks))
	}

	tasks, err = store.List(ctx, Filter{UpcomingDays: 7}, testNow)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(tasks) != 3 {
		t.Errorf("Expected 3 tasks inside 7 days, got %d", len(tasks))
	}
	for i := 1; i < len(tasks); i++ {
		if tasks[i].ScheduledDate.Before(tasks[i-1].ScheduledDate) {
			t.Errorf("Expected soonest-first ordering, got %v before %v", tasks[i-1].ScheduledDate, tasks[i].ScheduledDate)
		}
	}
}

func TestSummaryCounts(t *testing.T) {
	db := testDB(t)
	store := NewStore(db)
	ctx := context.Background()

	a, _ := store.Create(ctx, draft("pump-1"), testNow)
	b, _ := store.Create(ctx, draft("pump-2"), testNow)
	if _, err := store.Create(ctx, draft("pump-3"), testNow); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if err := store.UpdateStatus(ctx, a.ID, models.StatusInProgress, testNow); err != nil {
		t.Fatalf("UpdateStatus returned error: %v", err)
	}
	if err := store.UpdateStatus(ctx, b.ID, models.StatusCompleted, testNow); err != nil {
		t.Fatalf("UpdateStatus returned error: %v", err)
	}

	summary, err := store.Summary(ctx, testNow)
	if err != nil {
		t.Fatalf("Summary returned error: %v", err)
	}
	if summary.Total != 3 {
		t.Errorf("Expected total 3, got %d", summary.Total)
	}
	if summary.Scheduled != 1 || summary.InProgress != 1 || summary.Completed != 1 {
		t.Errorf("Unexpected breakdown: %+v", summary)
	}
	if summary.Upcoming7Day != 2 {
		t.Errorf("Expected 2 upcoming open tasks, got %d", summary.Upcoming7Day)
	}
}

func TestDeleteMissingTask(t *testing.T) {
	store := NewStore(testDB(t))

	err := store.Delete(context.Background(), 999)
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestUpdateFields(t *testing.T) {
	store := NewStore(testDB(t))
	ctx := context.Background()

	task, err := store.Create(ctx, draft("pump-1"), testNow)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	title := "Replace seals"
	bad := ""
	if _, err := store.Update(ctx, task.ID, UpdateFields{Title: &bad}); !errors.Is(err, models.ErrInvalidTask) {
		t.Fatalf("Expected ErrInvalidTask for empty title, got %v", err)
	}
	if _, err := store.Update(ctx, task.ID, UpdateFields{Title: &title}); err != nil {
		t.Fatalf("Update returned error: %v", err)
	}

	got, err := store.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.Title != title {
		t.Errorf("Expected updated title %q, got %q", title, got.Title)
	}
}
