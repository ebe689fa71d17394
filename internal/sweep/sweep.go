// Package sweep runs the periodic background pass: drain the telemetry
// feed, recompute overdue tasks, auto-schedule maintenance from the latest
// risk picture, and dispatch alerts. The sweep runs on its own schedule and
// never blocks request handling; a failing stage is logged and the
// remaining stages still run.
package sweep

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/chemviz/equipment-monitor/internal/alerts"
	"github.com/chemviz/equipment-monitor/internal/ingest"
	"github.com/chemviz/equipment-monitor/internal/maintenance"
	"github.com/chemviz/equipment-monitor/internal/models"
	"github.com/chemviz/equipment-monitor/internal/risk"
	"github.com/chemviz/equipment-monitor/internal/thresholds"
)

// Feed supplies readings accumulated since the previous sweep.
type Feed interface {
	Drain() []models.Reading
}

type Sweeper struct {
	scheduler  *gocron.Scheduler
	feed       Feed // may be nil when no MQTT broker is configured
	recorder   *ingest.Recorder
	thresholds *thresholds.Store
	tasks      *maintenance.Store
	dispatcher *alerts.Dispatcher
	settings   *alerts.SettingsStore

	horizonDays int
	interval    time.Duration

	cancelMu sync.Mutex
	cancel   context.CancelFunc
}

func NewSweeper(
	feed Feed,
	recorder *ingest.Recorder,
	thresholdStore *thresholds.Store,
	taskStore *maintenance.Store,
	dispatcher *alerts.Dispatcher,
	settings *alerts.SettingsStore,
	intervalMinutes, horizonDays int,
) *Sweeper {
	return &Sweeper{
		scheduler:   gocron.NewScheduler(time.UTC),
		feed:        feed,
		recorder:    recorder,
		thresholds:  thresholdStore,
		tasks:       taskStore,
		dispatcher:  dispatcher,
		settings:    settings,
		horizonDays: horizonDays,
		interval:    time.Duration(intervalMinutes) * time.Minute,
	}
}

// Start schedules the periodic sweep and begins executing it.
func (s *Sweeper) Start() error {
	log.Printf("[INFO] Scheduling background sweep every %v", s.interval)
	if _, err := s.scheduler.Every(s.interval).Do(s.RunOnce); err != nil {
		return err
	}
	s.scheduler.StartAsync()
	return nil
}

// Stop cancels a running sweep and shuts the schedule down. The sweep is
// interruptible between entities, so Stop does not wait for a full batch.
func (s *Sweeper) Stop() {
	log.Println("[INFO] Stopping background sweep...")
	s.cancelMu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.cancelMu.Unlock()
	s.scheduler.Stop()
}

// RunOnce executes one full sweep. Exported so the debug entrypoint and the
// HTTP trigger can run it inline.
func (s *Sweeper) RunOnce() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelMu.Lock()
	s.cancel = cancel
	s.cancelMu.Unlock()
	defer cancel()

	s.Run(ctx)
}

// Run executes the sweep stages under the given context.
func (s *Sweeper) Run(ctx context.Context) {
	log.Println("[INFO] Starting background sweep...")
	now := time.Now()

	s.drainFeed(ctx, now)

	if count, err := s.tasks.RecomputeOverdue(ctx, now); err != nil {
		s.logStageError("overdue recompute", err)
	} else if count > 0 {
		log.Printf("[INFO] Marked %d task(s) overdue", count)
	}

	assessments := s.latestAssessments(ctx)

	if len(assessments) > 0 {
		if created, err := s.tasks.AutoSchedule(ctx, assessments, s.horizonDays, now); err != nil {
			s.logStageError("auto-schedule", err)
		} else if len(created) > 0 {
			log.Printf("[INFO] Auto-scheduled %d maintenance task(s)", len(created))
		}
	}

	settings, err := s.settings.Get(ctx)
	if err != nil {
		s.logStageError("loading alert settings", err)
		log.Println("[INFO] Background sweep finished.")
		return
	}

	if len(assessments) > 0 {
		if sent, err := s.dispatcher.EvaluateAndDispatch(ctx, assessments, settings); err != nil {
			s.logStageError("risk alerts", err)
		} else if len(sent) > 0 {
			log.Printf("[INFO] Dispatched %d risk alert(s)", len(sent))
		}
	}

	if settings.AlertOnMaintenanceDue {
		due, err := s.tasks.DueWithin(ctx, settings.MaintenanceReminderDays, now)
		if err != nil {
			s.logStageError("due task scan", err)
		} else if len(due) > 0 {
			if sent, err := s.dispatcher.MaintenanceDue(ctx, due, settings); err != nil {
				s.logStageError("maintenance reminders", err)
			} else if len(sent) > 0 {
				log.Printf("[INFO] Dispatched %d maintenance reminder(s)", len(sent))
			}
		}
	}

	log.Println("[INFO] Background sweep finished.")
}

func (s *Sweeper) drainFeed(ctx context.Context, now time.Time) {
	if s.feed == nil {
		return
	}
	readings := s.feed.Drain()
	if len(readings) == 0 {
		return
	}
	if _, err := s.recorder.Record(ctx, readings, now); err != nil {
		s.logStageError("feed ingestion", err)
		return
	}
	log.Printf("[INFO] Recorded %d reading(s) from the telemetry feed", len(readings))
}

func (s *Sweeper) latestAssessments(ctx context.Context) []models.RiskAssessment {
	readings, err := s.recorder.LatestBatch(ctx)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logStageError("loading latest batch", err)
		}
		return nil
	}

	active, err := s.thresholds.Active(ctx)
	if err != nil {
		s.logStageError("loading thresholds", err)
		return nil
	}

	assessments, err := risk.EvaluateAll(readings, active)
	if err != nil {
		s.logStageError("risk evaluation", err)
		return nil
	}
	return assessments
}

func (s *Sweeper) logStageError(stage string, err error) {
	if errors.Is(err, context.Canceled) {
		log.Printf("[INFO] Sweep interrupted during %s", stage)
		return
	}
	log.Printf("[ERROR] Sweep stage %s failed: %v", stage, err)
}
