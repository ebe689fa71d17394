package alerts

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
	if err := db.AutoMigrate(&models.AlertSettings{}, &models.AlertLogEntry{}); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	return db
}

type fakeTransport struct {
	sent []sentMail
	fail bool
}

type sentMail struct {
	address string
	subject string
	body    string
}

func (f *fakeTransport) Send(_ context.Context, address, subject, body string) error {
	if f.fail {
		return errors.New("smtp unavailable")
	}
	f.sent = append(f.sent, sentMail{address: address, subject: subject, body: body})
	return nil
}

func enabledSettings() models.AlertSettings {
	return models.AlertSettings{
		ID:                      1,
		EmailEnabled:            true,
		EmailAddress:            "ops@example.com",
		AlertOnCritical:         true,
		AlertOnWarning:          true,
		AlertOnMaintenanceDue:   true,
		AlertFrequency:          models.FrequencyImmediate,
		MaintenanceReminderDays: 3,
	}
}

func criticalAssessment(name string) models.RiskAssessment {
	return models.RiskAssessment{
		EquipmentName:     name,
		EquipmentType:     "reactor",
		RiskScore:         80,
		RiskLevel:         models.RiskCritical,
		RiskFactors:       []string{"pressure critical"},
		Pressure:          92,
		Temperature:       70,
		Flowrate:          120,
		MaintenanceInDays: 1,
	}
}

func TestEvaluateAndDispatchSendsCritical(t *testing.T) {
	transport := &fakeTransport{}
	d := NewDispatcher(testDB(t), transport, nil)

	entries, err := d.EvaluateAndDispatch(context.Background(), []models.RiskAssessment{criticalAssessment("reactor-1")}, enabledSettings())
	if err != nil {
		t.Fatalf("EvaluateAndDispatch returned error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected 1 log entry, got %d", len(entries))
	}
	if !entries[0].Succeeded {
		t.Error("Expected entry to be marked succeeded")
	}
	if entries[0].AlertType != models.AlertCritical {
		t.Errorf("Expected alert type critical, got %s", entries[0].AlertType)
	}
	if len(transport.sent) != 1 {
		t.Fatalf("Expected 1 email, got %d", len(transport.sent))
	}
	if transport.sent[0].address != "ops@example.com" {
		t.Errorf("Expected delivery to ops@example.com, got %s", transport.sent[0].address)
	}
}

func TestDisabledWarningsProduceNothing(t *testing.T) {
	transport := &fakeTransport{}
	d := NewDispatcher(testDB(t), transport, nil)

	settings := enabledSettings()
	settings.AlertOnWarning = false

	warning := criticalAssessment("pump-1")
	warning.RiskLevel = models.RiskWarning
	warning.RiskScore = 40

	entries, err := d.EvaluateAndDispatch(context.Background(), []models.RiskAssessment{warning}, settings)
	if err != nil {
		t.Fatalf("EvaluateAndDispatch returned error: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected no log entries for a disabled type, got %d", len(entries))
	}
	if len(transport.sent) != 0 {
		t.Errorf("Expected no emails, got %d", len(transport.sent))
	}

	logged, err := d.Log(context.Background(), 10)
	if err != nil {
		t.Fatalf("Log returned error: %v", err)
	}
	if len(logged) != 0 {
		t.Errorf("Expected empty alert log, got %d entries", len(logged))
	}
}

func TestEmailDisabledSkipsEverything(t *testing.T) {
	transport := &fakeTransport{}
	d := NewDispatcher(testDB(t), transport, nil)

	settings := enabledSettings()
	settings.EmailEnabled = false

	entries, err := d.EvaluateAndDispatch(context.Background(), []models.RiskAssessment{criticalAssessment("reactor-1")}, settings)
	if err != nil {
		t.Fatalf("EvaluateAndDispatch returned error: %v", err)
	}
	if len(entries) != 0 || len(transport.sent) != 0 {
		t.Errorf("Expected nothing dispatched with email disabled, got %d entries, %d emails", len(entries), len(transport.sent))
	}
}

func TestHealthyAssessmentsAreIgnored(t *testing.T) {
	transport := &fakeTransport{}
	d := NewDispatcher(testDB(t), transport, nil)

	healthy := criticalAssessment("pump-1")
	healthy.RiskLevel = models.RiskHealthy
	moderate := criticalAssessment("pump-2")
	moderate.RiskLevel = models.RiskModerate

	entries, err := d.EvaluateAndDispatch(context.Background(), []models.RiskAssessment{healthy, moderate}, enabledSettings())
	if err != nil {
		t.Fatalf("EvaluateAndDispatch returned error: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected no alerts below warning, got %d", len(entries))
	}
}

func TestDailyFrequencySuppressesRepeats(t *testing.T) {
	db := testDB(t)
	transport := &fakeTransport{}
	d := NewDispatcher(db, transport, nil)

	settings := enabledSettings()
	settings.AlertFrequency = models.FrequencyDaily

	assessment := criticalAssessment("reactor-1")

	entries, err := d.EvaluateAndDispatch(context.Background(), []models.RiskAssessment{assessment}, settings)
	if err != nil {
		t.Fatalf("EvaluateAndDispatch returned error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected first dispatch to send, got %d entries", len(entries))
	}

	entries, err = d.EvaluateAndDispatch(context.Background(), []models.RiskAssessment{assessment}, settings)
	if err != nil {
		t.Fatalf("EvaluateAndDispatch returned error: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected repeat inside the window to be suppressed, got %d entries", len(entries))
	}

	// Age the delivered entry past the window; the next dispatch sends again.
	err = db.Model(&models.AlertLogEntry{}).Where("equipment_name = ?", "reactor-1").
		Update("sent_at", time.Now().Add(-25*time.Hour)).Error
	if err != nil {
		t.Fatalf("Failed to age log entry: %v", err)
	}
	entries, err = d.EvaluateAndDispatch(context.Background(), []models.RiskAssessment{assessment}, settings)
	if err != nil {
		t.Fatalf("EvaluateAndDispatch returned error: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("Expected dispatch after the window elapsed, got %d entries", len(entries))
	}
}

func TestImmediateFrequencyNeverSuppresses(t *testing.T) {
	transport := &fakeTransport{}
	d := NewDispatcher(testDB(t), transport, nil)

	assessment := criticalAssessment("reactor-1")
	for i := 0; i < 2; i++ {
		entries, err := d.EvaluateAndDispatch(context.Background(), []models.RiskAssessment{assessment}, enabledSettings())
		if err != nil {
			t.Fatalf("EvaluateAndDispatch returned error: %v", err)
		}
		if len(entries) != 1 {
			t.Fatalf("Expected dispatch %d to send, got %d entries", i+1, len(entries))
		}
	}
	if len(transport.sent) != 2 {
		t.Errorf("Expected 2 emails, got %d", len(transport.sent))
	}
}

func TestSuppressionIgnoresFailedDeliveries(t *testing.T) {
	db := testDB(t)
	transport := &fakeTransport{}
	d := NewDispatcher(db, transport, nil)

	// A prior failed attempt must not start a suppression window.
	failed := models.AlertLogEntry{
		EquipmentName: "reactor-1",
		AlertType:     models.AlertCritical,
		SentTo:        "ops@example.com",
		SentAt:        time.Now(),
		Succeeded:     false,
	}
	if err := db.Create(&failed).Error; err != nil {
		t.Fatalf("Failed to seed log entry: %v", err)
	}

	settings := enabledSettings()
	settings.AlertFrequency = models.FrequencyDaily

	entries, err := d.EvaluateAndDispatch(context.Background(), []models.RiskAssessment{criticalAssessment("reactor-1")}, settings)
	if err != nil {
		t.Fatalf("EvaluateAndDispatch returned error: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("Expected dispatch despite the failed prior entry, got %d entries", len(entries))
	}
}

func TestFailedDeliveryIsLogged(t *testing.T) {
	transport := &fakeTransport{fail: true}
	d := NewDispatcher(testDB(t), transport, nil)

	entries, err := d.EvaluateAndDispatch(context.Background(), []models.RiskAssessment{criticalAssessment("reactor-1")}, enabledSettings())
	if err != nil {
		t.Fatalf("EvaluateAndDispatch returned error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected 1 log entry, got %d", len(entries))
	}
	if entries[0].Succeeded {
		t.Error("Expected entry to be marked failed")
	}

	logged, err := d.Log(context.Background(), 10)
	if err != nil {
		t.Fatalf("Log returned error: %v", err)
	}
	if len(logged) != 1 || logged[0].Succeeded {
		t.Errorf("Expected a persisted failed entry, got %+v", logged)
	}
}

func TestMaintenanceDueOnePerEquipment(t *testing.T) {
	transport := &fakeTransport{}
	d := NewDispatcher(testDB(t), transport, nil)

	tasks := []models.MaintenanceTask{
		{EquipmentName: "pump-1", Title: "Inspect seals", ScheduledDate: time.Now(), Priority: models.PriorityHigh, Status: models.StatusScheduled},
		{EquipmentName: "pump-1", Title: "Replace filter", ScheduledDate: time.Now(), Priority: models.PriorityMedium, Status: models.StatusScheduled},
		{EquipmentName: "pump-2", Title: "Calibrate", ScheduledDate: time.Now(), Priority: models.PriorityLow, Status: models.StatusOverdue},
	}

	entries, err := d.MaintenanceDue(context.Background(), tasks, enabledSettings())
	if err != nil {
		t.Fatalf("MaintenanceDue returned error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected one reminder per equipment unit, got %d", len(entries))
	}
	for _, e := range entries {
		if e.AlertType != models.AlertMaintenance {
			t.Errorf("Expected alert type maintenance, got %s", e.AlertType)
		}
	}
}

func TestMaintenanceDueGate(t *testing.T) {
	transport := &fakeTransport{}
	d := NewDispatcher(testDB(t), transport, nil)

	settings := enabledSettings()
	settings.AlertOnMaintenanceDue = false

	entries, err := d.MaintenanceDue(context.Background(), []models.MaintenanceTask{
		{EquipmentName: "pump-1", Title: "Inspect seals", ScheduledDate: time.Now(), Status: models.StatusScheduled},
	}, settings)
	if err != nil {
		t.Fatalf("MaintenanceDue returned error: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected no reminders when the gate is off, got %d", len(entries))
	}
}

func TestSendTest(t *testing.T) {
	transport := &fakeTransport{}
	d := NewDispatcher(testDB(t), transport, nil)

	if err := d.SendTest(context.Background(), enabledSettings()); err != nil {
		t.Fatalf("SendTest returned error: %v", err)
	}
	if len(transport.sent) != 1 {
		t.Fatalf("Expected 1 test email, got %d", len(transport.sent))
	}

	settings := enabledSettings()
	settings.EmailEnabled = false
	if err := d.SendTest(context.Background(), settings); !errors.Is(err, models.ErrDispatch) {
		t.Fatalf("Expected ErrDispatch with email disabled, got %v", err)
	}
}

func TestSettingsBootstrapDefaults(t *testing.T) {
	store := NewSettingsStore(testDB(t))

	settings, err := store.Get(context.Background())
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if settings.EmailEnabled {
		t.Error("Expected email disabled by default")
	}
	if !settings.AlertOnCritical || !settings.AlertOnMaintenanceDue {
		t.Error("Expected critical and maintenance-due alerts on by default")
	}
	if settings.AlertFrequency != models.FrequencyImmediate {
		t.Errorf("Expected immediate frequency, got %s", settings.AlertFrequency)
	}
	if settings.MaintenanceReminderDays != 3 {
		t.Errorf("Expected reminder days 3, got %d", settings.MaintenanceReminderDays)
	}
}

func TestSettingsUpdateValidation(t *testing.T) {
	store := NewSettingsStore(testDB(t))
	ctx := context.Background()

	enabled := true
	badAddress := "not-an-address"
	if _, err := store.Update(ctx, SettingsUpdate{EmailEnabled: &enabled, EmailAddress: &badAddress}); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("Expected ErrValidation for bad address, got %v", err)
	}

	badFreq := models.AlertFrequency("hourly")
	if _, err := store.Update(ctx, SettingsUpdate{AlertFrequency: &badFreq}); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("Expected ErrValidation for unknown frequency, got %v", err)
	}

	negative := -1
	if _, err := store.Update(ctx, SettingsUpdate{MaintenanceReminderDays: &negative}); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("Expected ErrValidation for negative reminder days, got %v", err)
	}

	address := "ops@example.com"
	weekly := models.FrequencyWeekly
	settings, err := store.Update(ctx, SettingsUpdate{EmailEnabled: &enabled, EmailAddress: &address, AlertFrequency: &weekly})
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if !settings.EmailEnabled || settings.EmailAddress != address || settings.AlertFrequency != models.FrequencyWeekly {
		t.Errorf("Unexpected settings after update: %+v", settings)
	}

	// Unset fields keep their current values.
	reloaded, err := store.Get(ctx)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if reloaded.MaintenanceReminderDays != 3 {
		t.Errorf("Expected untouched reminder days 3, got %d", reloaded.MaintenanceReminderDays)
	}
}
