package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/chorale-dev/chorale/internal/engine"
	"github.com/chorale-dev/chorale/internal/playbook"
	"github.com/chorale-dev/chorale/internal/schedule"
	"github.com/chorale-dev/chorale/internal/store"
)

func (s *Server) registerAPI(mux *http.ServeMux) {
	// Jobs
	mux.HandleFunc("POST /api/jobs", s.submitJob)
	mux.HandleFunc("GET /api/jobs", s.listJobs)
	mux.HandleFunc("GET /api/jobs/{id}", s.getJob)
	mux.HandleFunc("POST /api/jobs/{id}/cancel", s.cancelJob)

	// Registry
	mux.HandleFunc("GET /api/agents", s.listAgents)
	mux.HandleFunc("GET /api/playbooks", s.listPlaybooks)

	// Scheduled jobs
	mux.HandleFunc("GET /api/schedules", s.listSchedules)
	mux.HandleFunc("POST /api/schedules", s.createSchedule)
	mux.HandleFunc("PUT /api/schedules/{id}", s.updateSchedule)
	mux.HandleFunc("DELETE /api/schedules/{id}", s.deleteSchedule)

	// System
	mux.HandleFunc("GET /api/health", s.getHealth)
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Kind     string `json:"kind"`
		TenantID string `json:"tenant_id"`
		DomainID string `json:"domain_id"`
		UserID   string `json:"user_id"`
		Input    string `json:"input"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	kind := playbook.Kind(body.Kind)
	if kind != playbook.KindIngestion && kind != playbook.KindQuery {
		jsonError(w, "kind must be ingestion or query", http.StatusBadRequest)
		return
	}
	if body.TenantID == "" || body.DomainID == "" || body.Input == "" {
		jsonError(w, "tenant_id, domain_id, and input are required", http.StatusBadRequest)
		return
	}

	jobID := s.engine.Submit(engine.Job{
		Kind:     kind,
		TenantID: body.TenantID,
		DomainID: body.DomainID,
		UserID:   body.UserID,
		Input:    body.Input,
	})
	jsonStatus(w, http.StatusAccepted, map[string]string{"job_id": jobID, "state": "accepted"})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	tenant := r.URL.Query().Get("tenant")
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			jsonError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	jobs, err := s.store.ListJobs(r.Context(), tenant, limit)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if jobs == nil {
		jobs = []store.Job{}
	}
	jsonResponse(w, jobs)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}

	agents, err := s.store.ListJobAgents(r.Context(), id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if agents == nil {
		agents = []store.JobAgent{}
	}
	jsonResponse(w, map[string]any{"job": job, "agents": agents})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.engine.Cancel(id) {
		jsonResponse(w, map[string]string{"status": "cancelling"})
		return
	}

	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	jsonError(w, fmt.Sprintf("job already %s", job.State), http.StatusConflict)
}

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.registry.ListAgents())
}

func (s *Server) listPlaybooks(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.registry.ListPlaybooks())
}

func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	scheduled, err := s.store.ListScheduledJobs(r.Context())
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]map[string]any, 0, len(scheduled))
	for i := range scheduled {
		out = append(out, scheduleToAPI(&scheduled[i]))
	}
	jsonResponse(w, out)
}

func (s *Server) createSchedule(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TenantID string `json:"tenant_id"`
		DomainID string `json:"domain_id"`
		JobType  string `json:"job_type"`
		Input    string `json:"input"`
		Schedule string `json:"schedule"`
		Enabled  *bool  `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.TenantID == "" || body.DomainID == "" || body.Input == "" || body.Schedule == "" {
		jsonError(w, "tenant_id, domain_id, input, and schedule are required", http.StatusBadRequest)
		return
	}
	kind := playbook.Kind(body.JobType)
	if kind != playbook.KindIngestion && kind != playbook.KindQuery {
		jsonError(w, "job_type must be ingestion or query", http.StatusBadRequest)
		return
	}

	normalized, err := schedule.Normalize(body.Schedule)
	if err != nil {
		jsonError(w, fmt.Sprintf("invalid schedule: %v", err), http.StatusBadRequest)
		return
	}

	status := "active"
	if body.Enabled != nil && !*body.Enabled {
		status = "paused"
	}

	sj := store.ScheduledJob{
		ID:       uuid.New().String(),
		TenantID: body.TenantID,
		DomainID: body.DomainID,
		JobType:  body.JobType,
		Input:    body.Input,
		Schedule: normalized,
		Status:   status,
	}
	if status == "active" {
		sj.NextRunAt = schedule.NextRun(normalized, time.Now())
	}

	if err := s.store.SaveScheduledJob(r.Context(), &sj); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonStatus(w, http.StatusCreated, scheduleToAPI(&sj))
}

func (s *Server) updateSchedule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	existing, err := s.store.GetScheduledJob(r.Context(), id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if existing == nil {
		jsonError(w, "scheduled job not found", http.StatusNotFound)
		return
	}

	var body struct {
		Input    *string `json:"input"`
		Schedule *string `json:"schedule"`
		Enabled  *bool   `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if body.Input != nil {
		existing.Input = *body.Input
	}
	if body.Schedule != nil {
		normalized, err := schedule.Normalize(*body.Schedule)
		if err != nil {
			jsonError(w, fmt.Sprintf("invalid schedule: %v", err), http.StatusBadRequest)
			return
		}
		existing.Schedule = normalized
	}
	if body.Enabled != nil {
		if *body.Enabled {
			existing.Status = "active"
		} else if existing.Status != "completed" {
			existing.Status = "paused"
		}
	}

	if existing.Status == "active" {
		existing.NextRunAt = schedule.NextRun(existing.Schedule, time.Now())
	} else {
		existing.NextRunAt = nil
	}

	if err := s.store.SaveScheduledJob(r.Context(), existing); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, scheduleToAPI(existing))
}

func (s *Server) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteScheduledJob(r.Context(), r.PathValue("id")); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "deleted"})
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	running := s.engine.Running()

	scheduled, _ := s.store.ListScheduledJobs(r.Context())
	activeSchedules := 0
	for _, sj := range scheduled {
		if sj.Status == "active" {
			activeSchedules++
		}
	}

	jsonResponse(w, map[string]any{
		"status":           "ok",
		"version":          s.version,
		"uptime":           formatUptime(time.Since(s.startedAt)),
		"running_jobs":     len(running),
		"agents":           len(s.registry.ListAgents()),
		"active_schedules": activeSchedules,
		"timestamp":        time.Now().UTC(),
	})
}

func scheduleToAPI(sj *store.ScheduledJob) map[string]any {
	m := map[string]any{
		"id":               sj.ID,
		"tenant_id":        sj.TenantID,
		"domain_id":        sj.DomainID,
		"job_type":         sj.JobType,
		"input":            sj.Input,
		"schedule":         sj.Schedule,
		"schedule_display": schedule.Describe(sj.Schedule),
		"enabled":          sj.Status == "active",
		"status":           sj.Status,
	}
	if sj.LastStatus != "" {
		m["last_status"] = sj.LastStatus
	}
	if sj.LastRunAt != nil {
		m["last_run"] = sj.LastRunAt.UTC().Format(time.RFC3339)
	}
	if sj.NextRunAt != nil {
		m["next_run"] = sj.NextRunAt.UTC().Format(time.RFC3339)
	}
	return m
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

func jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonStatus(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
