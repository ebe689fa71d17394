// Package alerts decides which notifications fire, suppresses repeats per
// the configured frequency, and keeps an append-only audit log. The alert
// log is the source of truth; email delivery is best effort and never fails
// the evaluation path.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/chemviz/equipment-monitor/internal/models"
)

// Transport delivers a notification to an external channel.
type Transport interface {
	Send(ctx context.Context, address, subject, body string) error
}

// Notifier mirrors alert text to an operator channel, best effort.
type Notifier interface {
	Notify(subject, message string)
}

const (
	sendAttempts   = 3
	attemptTimeout = 10 * time.Second
	retryBackoff   = 2 * time.Second
)

var subjectPrefix = map[models.AlertType]string{
	models.AlertCritical:    "CRITICAL: Equipment Alert",
	models.AlertWarning:     "WARNING: Equipment Alert",
	models.AlertMaintenance: "Maintenance Reminder",
}

type Dispatcher struct {
	db        *gorm.DB
	transport Transport
	notifier  Notifier
	mu        sync.Mutex
}

func NewDispatcher(db *gorm.DB, transport Transport, notifier Notifier) *Dispatcher {
	return &Dispatcher{db: db, transport: transport, notifier: notifier}
}

// EvaluateAndDispatch fires risk alerts for the given assessments according
// to the settings. Suppressed and disabled attempts produce no log entry and
// are not errors; delivery failures are logged with succeeded=false.
func (d *Dispatcher) EvaluateAndDispatch(ctx context.Context, assessments []models.RiskAssessment, settings models.AlertSettings) ([]models.AlertLogEntry, error) {
	if !settings.EmailEnabled || !validAddress(settings.EmailAddress) {
		return nil, nil
	}

	var entries []models.AlertLogEntry
	for _, a := range assessments {
		if err := ctx.Err(); err != nil {
			return entries, err
		}

		var alertType models.AlertType
		switch a.RiskLevel {
		case models.RiskCritical:
			if !settings.AlertOnCritical {
				continue
			}
			alertType = models.AlertCritical
		case models.RiskWarning:
			if !settings.AlertOnWarning {
				continue
			}
			alertType = models.AlertWarning
		default:
			continue
		}

		suppressed, err := d.suppressed(ctx, a.EquipmentName, alertType, settings.AlertFrequency, time.Now())
		if err != nil {
			return entries, err
		}
		if suppressed {
			continue
		}

		message := riskMessage(a)
		entry := d.deliver(ctx, alertType, a.EquipmentName, message, settings.EmailAddress)
		entries = append(entries, entry)
	}
	return entries, nil
}

// MaintenanceDue sends reminder alerts for open tasks inside the reminder
// window, one per equipment unit, gated by alert_on_maintenance_due.
func (d *Dispatcher) MaintenanceDue(ctx context.Context, tasks []models.MaintenanceTask, settings models.AlertSettings) ([]models.AlertLogEntry, error) {
	if !settings.EmailEnabled || !settings.AlertOnMaintenanceDue || !validAddress(settings.EmailAddress) {
		return nil, nil
	}

	var entries []models.AlertLogEntry
	seen := map[string]bool{}
	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			return entries, err
		}
		if seen[task.EquipmentName] {
			continue
		}
		seen[task.EquipmentName] = true

		suppressed, err := d.suppressed(ctx, task.EquipmentName, models.AlertMaintenance, settings.AlertFrequency, time.Now())
		if err != nil {
			return entries, err
		}
		if suppressed {
			continue
		}

		message := fmt.Sprintf("Maintenance due for %s: %s\n\nScheduled: %s\nPriority: %s\nStatus: %s",
			task.EquipmentName, task.Title, task.ScheduledDate.Format("2006-01-02"), task.Priority, task.Status)
		entry := d.deliver(ctx, models.AlertMaintenance, task.EquipmentName, message, settings.EmailAddress)
		entries = append(entries, entry)
	}
	return entries, nil
}

// SendTest bypasses frequency suppression and the per-type gates. Only
// email_enabled and address validity still apply.
func (d *Dispatcher) SendTest(ctx context.Context, settings models.AlertSettings) error {
	if !settings.EmailEnabled || !validAddress(settings.EmailAddress) {
		return fmt.Errorf("%w: email alerts are not configured", models.ErrDispatch)
	}

	message := "This is a test alert from the equipment monitor. If you received this, your alert configuration is working."
	entry := d.deliver(ctx, models.AlertCritical, "Test Equipment", message, settings.EmailAddress)
	if !entry.Succeeded {
		return fmt.Errorf("%w: test alert delivery failed", models.ErrDispatch)
	}
	return nil
}

// Log returns the newest entries, most recent first.
func (d *Dispatcher) Log(ctx context.Context, limit int) ([]models.AlertLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	var entries []models.AlertLogEntry
	err := d.db.WithContext(ctx).Order("sent_at desc, id desc").Limit(limit).Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("listing alert log: %w", err)
	}
	return entries, nil
}

// suppressed reports whether a matching alert was already sent inside the
// frequency window, measured from the newest matching log row.
func (d *Dispatcher) suppressed(ctx context.Context, equipment string, alertType models.AlertType, freq models.AlertFrequency, now time.Time) (bool, error) {
	window := freq.Window()
	if window == 0 {
		return false, nil
	}

	var last models.AlertLogEntry
	err := d.db.WithContext(ctx).
		Where("equipment_name = ? AND alert_type = ? AND succeeded = ?", equipment, alertType, true).
		Order("sent_at desc").
		First(&last).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking alert history for %q: %w", equipment, err)
	}
	return now.Sub(last.SentAt) < window, nil
}

// deliver attempts transport delivery with bounded retries and records
// exactly one log entry for the attempt. Failures never propagate.
func (d *Dispatcher) deliver(ctx context.Context, alertType models.AlertType, equipment, message, address string) models.AlertLogEntry {
	subject := fmt.Sprintf("%s - %s", subjectPrefix[alertType], equipment)

	succeeded := false
	if d.transport != nil {
		for attempt := 1; attempt <= sendAttempts; attempt++ {
			sendCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
			err := d.transport.Send(sendCtx, address, subject, message)
			cancel()
			if err == nil {
				succeeded = true
				break
			}
			log.Printf("[WARN] Alert delivery attempt %d/%d for %s failed: %v", attempt, sendAttempts, equipment, err)
			if attempt < sendAttempts {
				select {
				case <-ctx.Done():
					attempt = sendAttempts
				case <-time.After(retryBackoff * time.Duration(attempt)):
				}
			}
		}
	}

	if d.notifier != nil {
		// Operator channel mirror, fire-and-forget.
		go d.notifier.Notify(subject, message)
	}

	entry := models.AlertLogEntry{
		EquipmentName: equipment,
		AlertType:     alertType,
		Message:       message,
		SentTo:        address,
		SentAt:        time.Now(),
		Succeeded:     succeeded,
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.db.WithContext(ctx).Create(&entry).Error; err != nil {
		log.Printf("[ERROR] Failed to record alert log entry for %s: %v", equipment, err)
	}
	return entry
}

func riskMessage(a models.RiskAssessment) string {
	factors := "none"
	if len(a.RiskFactors) > 0 {
		factors = strings.Join(a.RiskFactors, ", ")
	}
	return fmt.Sprintf("%s requires attention.\n\nRisk level: %s\nRisk score: %d\nRisk factors: %s\nPressure: %.2f bar\nTemperature: %.2f C\nFlowrate: %.2f L/h\nMaintenance due in: %d days",
		a.EquipmentName, a.RiskLevel, a.RiskScore, factors, a.Pressure, a.Temperature, a.Flowrate, a.MaintenanceInDays)
}

func validAddress(address string) bool {
	if address == "" {
		return false
	}
	_, err := mail.ParseAddress(address)
	return err == nil
}
