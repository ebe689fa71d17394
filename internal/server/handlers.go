package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/chemviz/equipment-monitor/internal/alerts"
	"github.com/chemviz/equipment-monitor/internal/maintenance"
	"github.com/chemviz/equipment-monitor/internal/models"
	"github.com/chemviz/equipment-monitor/internal/risk"
	"github.com/chemviz/equipment-monitor/internal/trend"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("[ERROR] Failed to encode response: %v", err)
	}
}

// writeError maps the engine's sentinel errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrInvalidThreshold),
		errors.Is(err, models.ErrInvalidReading),
		errors.Is(err, models.ErrInvalidTask),
		errors.Is(err, models.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, models.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, models.ErrDispatch):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		log.Printf("[ERROR] Request failed: %v", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// ThresholdsHandler serves the active threshold set and wholesale replaces.
func (s *Server) ThresholdsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		set, version, err := s.thresholds.ActiveVersion(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			models.ThresholdSet
			Version int `json:"version"`
		}{set, version})
	case http.MethodPut:
		var set models.ThresholdSet
		if err := json.NewDecoder(r.Body).Decode(&set); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}
		if err := s.thresholds.Replace(r.Context(), set); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, set)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// ReadingsHandler ingests a validated reading batch.
func (s *Server) ReadingsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload struct {
		Readings []models.Reading `json:"readings"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	snapshot, err := s.recorder.Record(r.Context(), payload.Readings, time.Now())
	if err != nil {
		writeError(w, err)
		return
	}

	// Ingestion triggers immediate risk alerts, the way uploads did.
	settings, err := s.settings.Get(r.Context())
	if err == nil {
		if _, dispatchErr := s.dispatcher.EvaluateAndDispatch(r.Context(), snapshot.Assessments, settings); dispatchErr != nil {
			log.Printf("[WARN] Post-ingest alert dispatch failed: %v", dispatchErr)
		}
	}

	writeJSON(w, http.StatusCreated, snapshot)
}

// PredictionsHandler re-evaluates the latest batch against the current
// thresholds.
func (s *Server) PredictionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	readings, err := s.recorder.LatestBatch(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	active, err := s.thresholds.Active(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	assessments, err := risk.EvaluateAll(readings, active)
	if err != nil {
		writeError(w, err)
		return
	}

	counts := map[models.RiskLevel]int{}
	for _, a := range assessments {
		counts[a.RiskLevel]++
	}

	response := struct {
		Predictions []models.RiskAssessment `json:"predictions"`
		Summary     map[string]int          `json:"summary"`
		GeneratedAt time.Time               `json:"generated_at"`
	}{
		Predictions: assessments,
		Summary: map[string]int{
			"total":    len(assessments),
			"critical": counts[models.RiskCritical],
			"warning":  counts[models.RiskWarning],
			"moderate": counts[models.RiskModerate],
			"healthy":  counts[models.RiskHealthy],
		},
		GeneratedAt: time.Now(),
	}
	writeJSON(w, http.StatusOK, response)
}

// HistoryHandler serves reading history and trend summaries for a window.
func (s *Server) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	days := trend.DefaultWindow
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || !trend.ValidWindow(parsed) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "days must be 7, 30 or 90"})
			return
		}
		days = parsed
	}
	equipment := r.URL.Query().Get("equipment")

	now := time.Now()
	history, err := s.recorder.History(r.Context(), equipment, days, now)
	if err != nil {
		writeError(w, err)
		return
	}
	names, err := s.recorder.EquipmentNames(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	trends := []models.TrendSummary{}
	for summary := range trend.Analyze(history, days, now) {
		trends = append(trends, summary)
	}

	writeJSON(w, http.StatusOK, struct {
		EquipmentList []string              `json:"equipment_list"`
		History       []models.Reading      `json:"history"`
		Trends        []models.TrendSummary `json:"trends"`
		PeriodDays    int                   `json:"period_days"`
	}{names, history, trends, days})
}

// MaintenanceHandler serves the task listing with summary counts, and
// creates manual tasks.
func (s *Server) MaintenanceHandler(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	switch r.Method {
	case http.MethodGet:
		// The listing path refreshes overdue statuses first, so the
		// dashboard never shows a stale scheduled task past its date.
		if _, err := s.tasks.RecomputeOverdue(r.Context(), now); err != nil {
			writeError(w, err)
			return
		}

		filter := maintenance.Filter{
			Status:    models.TaskStatus(r.URL.Query().Get("status")),
			Equipment: r.URL.Query().Get("equipment"),
		}
		if raw := r.URL.Query().Get("upcoming_days"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 0 {
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: "upcoming_days must be a non-negative integer"})
				return
			}
			filter.UpcomingDays = parsed
		}

		tasks, err := s.tasks.List(r.Context(), filter, now)
		if err != nil {
			writeError(w, err)
			return
		}
		summary, err := s.tasks.Summary(r.Context(), now)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Schedules []models.MaintenanceTask `json:"schedules"`
			Summary   models.TaskSummary       `json:"summary"`
		}{tasks, summary})

	case http.MethodPost:
		var draft maintenance.Draft
		if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}
		task, err := s.tasks.Create(r.Context(), draft, now)
		if err != nil {
			writeError(w, err)
			return
		}

		// Creating a task can fire a maintenance-due notification.
		if settings, err := s.settings.Get(r.Context()); err == nil {
			if _, dispatchErr := s.dispatcher.MaintenanceDue(r.Context(), []models.MaintenanceTask{*task}, settings); dispatchErr != nil {
				log.Printf("[WARN] Maintenance notification failed: %v", dispatchErr)
			}
		}

		writeJSON(w, http.StatusCreated, task)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// MaintenanceDetailHandler serves one task: read, field/status update,
// delete.
func (s *Server) MaintenanceDetailHandler(w http.ResponseWriter, r *http.Request) {
	idRaw := strings.TrimPrefix(r.URL.Path, "/api/v1/maintenance/")
	if idRaw == "" || strings.Contains(idRaw, "/") {
		http.NotFound(w, r)
		return
	}
	id64, err := strconv.ParseUint(idRaw, 10, 32)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid task id %q", idRaw)})
		return
	}
	id := uint(id64)

	switch r.Method {
	case http.MethodGet:
		task, err := s.tasks.Get(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, task)

	case http.MethodPut:
		var body struct {
			maintenance.UpdateFields
			Status *models.TaskStatus `json:"status"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}

		if body.Status != nil {
			if err := s.tasks.UpdateStatus(r.Context(), id, *body.Status, time.Now()); err != nil {
				writeError(w, err)
				return
			}
		}
		task, err := s.tasks.Update(r.Context(), id, body.UpdateFields)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, task)

	case http.MethodDelete:
		if err := s.tasks.Delete(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "task deleted"})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// AutoScheduleHandler triggers auto-generation from the latest batch.
func (s *Server) AutoScheduleHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	readings, err := s.recorder.LatestBatch(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	active, err := s.thresholds.Active(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	assessments, err := risk.EvaluateAll(readings, active)
	if err != nil {
		writeError(w, err)
		return
	}

	created, err := s.tasks.AutoSchedule(r.Context(), assessments, s.horizonDays, time.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		Message   string                   `json:"message"`
		Schedules []models.MaintenanceTask `json:"schedules"`
	}{fmt.Sprintf("Created %d maintenance task(s)", len(created)), created})
}

// AlertSettingsHandler serves and updates the alert configuration.
func (s *Server) AlertSettingsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		settings, err := s.settings.Get(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, settings)
	case http.MethodPut:
		var update alerts.SettingsUpdate
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}
		settings, err := s.settings.Update(r.Context(), update)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, settings)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// AlertLogHandler lists recent alert log entries, newest first.
func (s *Server) AlertLogHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	entries, err := s.dispatcher.Log(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// TestAlertHandler sends a test notification for operator verification.
func (s *Server) TestAlertHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	settings, err := s.settings.Get(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.dispatcher.SendTest(r.Context(), settings); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Test alert sent successfully"})
}
