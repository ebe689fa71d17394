package main

import (
	"context"
	"log"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/chemviz/equipment-monitor/internal/alerts"
	"github.com/chemviz/equipment-monitor/internal/config"
	"github.com/chemviz/equipment-monitor/internal/email"
	"github.com/chemviz/equipment-monitor/internal/ingest"
	"github.com/chemviz/equipment-monitor/internal/maintenance"
	"github.com/chemviz/equipment-monitor/internal/models"
	"github.com/chemviz/equipment-monitor/internal/sweep"
	"github.com/chemviz/equipment-monitor/internal/thresholds"
)

// Runs a single sweep inline against the configured database, without the
// API server, MQTT feed or schedule. Useful for checking sweep behavior by
// hand.
func main() {
	log.Println("Starting debug sweep...")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	log.Println("Auto-migrating database schema...")
	err = db.AutoMigrate(
		&models.EquipmentReading{},
		&models.ThresholdSettings{},
		&models.MaintenanceTask{},
		&models.AlertSettings{},
		&models.AlertLogEntry{},
	)
	if err != nil {
		log.Fatalf("Failed to auto-migrate database schema: %v", err)
	}

	thresholdStore := thresholds.NewStore(db)
	recorder := ingest.NewRecorder(db, thresholdStore)
	taskStore := maintenance.NewStore(db)
	settingsStore := alerts.NewSettingsStore(db)

	transport := email.NewSendGridTransport(cfg.Email.SendGridAPIKey, cfg.Email.FromName, cfg.Email.FromAddress)
	var dispatcher *alerts.Dispatcher
	if transport == nil {
		dispatcher = alerts.NewDispatcher(db, nil, nil)
	} else {
		dispatcher = alerts.NewDispatcher(db, transport, nil)
	}

	sweeper := sweep.NewSweeper(
		nil,
		recorder,
		thresholdStore,
		taskStore,
		dispatcher,
		settingsStore,
		cfg.Sweep.IntervalMinutes,
		cfg.Sweep.AutoScheduleHorizonDays,
	)

	log.Println("Executing sweep directly...")
	sweeper.Run(context.Background())

	log.Println("Debug run finished.")
}
