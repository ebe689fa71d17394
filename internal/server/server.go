package server

import (
	"fmt"
	"log"
	"net/http"

	"github.com/rs/cors"

	"github.com/chemviz/equipment-monitor/internal/alerts"
	"github.com/chemviz/equipment-monitor/internal/ingest"
	"github.com/chemviz/equipment-monitor/internal/maintenance"
	"github.com/chemviz/equipment-monitor/internal/thresholds"
)

// Server exposes the engine to the dashboard and other collaborators.
type Server struct {
	thresholds  *thresholds.Store
	recorder    *ingest.Recorder
	tasks       *maintenance.Store
	dispatcher  *alerts.Dispatcher
	settings    *alerts.SettingsStore
	horizonDays int
}

// New wires the engine stores into an HTTP server.
func New(
	addr string,
	thresholdStore *thresholds.Store,
	recorder *ingest.Recorder,
	taskStore *maintenance.Store,
	dispatcher *alerts.Dispatcher,
	settings *alerts.SettingsStore,
	horizonDays int,
) *http.Server {
	s := &Server{
		thresholds:  thresholdStore,
		recorder:    recorder,
		tasks:       taskStore,
		dispatcher:  dispatcher,
		settings:    settings,
		horizonDays: horizonDays,
	}

	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "OK")
	})

	mux.HandleFunc("/api/v1/thresholds", s.ThresholdsHandler)
	mux.HandleFunc("/api/v1/readings", s.ReadingsHandler)
	mux.HandleFunc("/api/v1/predictions", s.PredictionsHandler)
	mux.HandleFunc("/api/v1/history", s.HistoryHandler)
	mux.HandleFunc("/api/v1/maintenance", s.MaintenanceHandler)
	mux.HandleFunc("/api/v1/maintenance/auto-schedule", s.AutoScheduleHandler)
	mux.HandleFunc("/api/v1/maintenance/", s.MaintenanceDetailHandler)
	mux.HandleFunc("/api/v1/alerts/settings", s.AlertSettingsHandler)
	mux.HandleFunc("/api/v1/alerts/log", s.AlertLogHandler)
	mux.HandleFunc("/api/v1/alerts/test", s.TestAlertHandler)

	log.Printf("[INFO] API Server configured to listen on %s", addr)

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: false,
	})
	handler := c.Handler(mux)

	return &http.Server{
		Addr:    addr,
		Handler: handler,
	}
}
