package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/chemviz/equipment-monitor/internal/alerts"
	"github.com/chemviz/equipment-monitor/internal/config"
	"github.com/chemviz/equipment-monitor/internal/email"
	"github.com/chemviz/equipment-monitor/internal/ingest"
	"github.com/chemviz/equipment-monitor/internal/maintenance"
	"github.com/chemviz/equipment-monitor/internal/models"
	"github.com/chemviz/equipment-monitor/internal/mqtt"
	"github.com/chemviz/equipment-monitor/internal/server"
	"github.com/chemviz/equipment-monitor/internal/slack"
	"github.com/chemviz/equipment-monitor/internal/sweep"
	"github.com/chemviz/equipment-monitor/internal/thresholds"
)

func main() {
	log.Println("Starting equipment monitor...")

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
	if transport == nil {
		log.Println("[INFO] SendGrid is not configured. Email delivery is disabled; alerts are still logged.")
	}
	notifier := slack.NewClient(cfg.Slack.BotToken, cfg.Slack.ChannelID)

	var dispatcher *alerts.Dispatcher
	if transport == nil {
		dispatcher = alerts.NewDispatcher(db, nil, notifierOrNil(notifier))
	} else {
		dispatcher = alerts.NewDispatcher(db, transport, notifierOrNil(notifier))
	}

	var feed sweep.Feed
	if cfg.MQTT.Broker != "" {
		mqttClient, err := mqtt.NewClient(cfg.MQTT.Broker, cfg.MQTT.ClientID, cfg.MQTT.Username, cfg.MQTT.Password)
		if err != nil {
			log.Fatalf("Failed to initialize MQTT client: %v", err)
		}
		defer mqttClient.Close()
		feed = mqttClient
	} else {
		log.Println("[INFO] MQTT broker is not configured. Telemetry feed disabled; readings arrive over HTTP only.")
	}

	sweeper := sweep.NewSweeper(
		feed,
		recorder,
		thresholdStore,
		taskStore,
		dispatcher,
		settingsStore,
		cfg.Sweep.IntervalMinutes,
		cfg.Sweep.AutoScheduleHorizonDays,
	)
	if err := sweeper.Start(); err != nil {
		log.Fatalf("Failed to start background sweep: %v", err)
	}
	defer sweeper.Stop()

	srv := server.New(
		cfg.Server.Addr,
		thresholdStore,
		recorder,
		taskStore,
		dispatcher,
		settingsStore,
		cfg.Sweep.AutoScheduleHorizonDays,
	)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("API server failed: %v", err)
		}
	}()

	log.Println("Equipment monitor is running. Press CTRL+C to exit.")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[WARN] API server shutdown: %v", err)
	}
}

// notifierOrNil keeps a typed-nil slack client from masquerading as a
// non-nil Notifier interface value.
func notifierOrNil(c *slack.Client) alerts.Notifier {
	if c == nil {
		return nil
	}
	return c
}
