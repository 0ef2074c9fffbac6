package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/cf-progress-hub/cf-progress-hub/config"
	"github.com/cf-progress-hub/cf-progress-hub/internal/domain/shared"
	"github.com/cf-progress-hub/cf-progress-hub/internal/domain/student"
	"github.com/cf-progress-hub/cf-progress-hub/internal/infrastructure/scheduler/jobs"
)

// featureEnabled reports whether a flag is on. A missing flag set means
// everything is enabled.
func (s *Server) featureEnabled(name string) bool {
	return s.deps.Features == nil || s.deps.Features.IsEnabled(name)
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot serves the root endpoint with basic API information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"name":        "CF Progress Hub API",
		"version":     "v1",
		"description": "REST API for tracking Codeforces progress of enrolled students",
		"endpoints": map[string]string{
			"health":      "/health",
			"students":    "/api/v1/students",
			"schedule":    "/api/v1/admin/schedule",
			"sync":        "/api/v1/admin/sync",
			"sync_status": "/api/v1/admin/sync/status",
		},
	}

	writeJSON(w, http.StatusOK, info)
}

// handleHealth handles the health check endpoint. Each registered checker
// is probed; any failure marks the whole service unhealthy.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := make(map[string]string, len(s.deps.HealthCheckers))
	healthy := true

	for name, checker := range s.deps.HealthCheckers {
		if err := checker.Check(r.Context()); err != nil {
			components[name] = err.Error()
			healthy = false
		} else {
			components[name] = "ok"
		}
	}

	body := map[string]interface{}{
		"status":     "healthy",
		"uptime":     s.Uptime().String(),
		"components": components,
	}

	if !healthy {
		body["status"] = "unhealthy"
		writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}

	writeJSON(w, http.StatusOK, body)
}

// handleReady handles the readiness probe endpoint (for Kubernetes).
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	for name, checker := range s.deps.HealthCheckers {
		if err := checker.Check(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"reason": name + ": " + err.Error(),
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive handles the liveness probe endpoint (for Kubernetes).
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// ROSTER HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// studentPayload is the request body for create and update.
type studentPayload struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phone_number"`
	Handle      string `json:"handle"`
}

// studentView is the API representation of a student record.
type studentView struct {
	ID                 string                   `json:"id"`
	Name               string                   `json:"name"`
	Email              string                   `json:"email"`
	PhoneNumber        string                   `json:"phone_number"`
	Handle             string                   `json:"handle"`
	Rating             int                      `json:"rating"`
	Profile            *student.ProfileSnapshot `json:"profile,omitempty"`
	ContestHistory     []student.ContestResult  `json:"contest_history,omitempty"`
	InactivityWarnings int                      `json:"inactivity_warnings"`
	CreatedAt          time.Time                `json:"created_at"`
	UpdatedAt          time.Time                `json:"updated_at"`
}

func toStudentView(s *student.Student, includeHistory bool) studentView {
	v := studentView{
		ID:                 s.ID,
		Name:               s.Name,
		Email:              s.Email,
		PhoneNumber:        s.PhoneNumber.String(),
		Handle:             s.Handle.String(),
		Rating:             s.CurrentRating(),
		Profile:            s.Profile,
		InactivityWarnings: s.InactivityWarnings,
		CreatedAt:          s.CreatedAt,
		UpdatedAt:          s.UpdatedAt,
	}
	if includeHistory {
		v.ContestHistory = s.ContestHistory
	}
	return v
}

// handleListStudents handles GET /api/v1/students
func (s *Server) handleListStudents(w http.ResponseWriter, r *http.Request) {
	opts := student.ListOptions{
		Limit:  getQueryParamInt(r, "limit", student.DefaultListOptions().Limit),
		Offset: getQueryParamInt(r, "offset", 0),
	}
	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = student.DefaultListOptions().Limit
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}

	students, err := s.deps.Students.GetAll(r.Context(), opts)
	if err != nil {
		s.logger.Error("failed to list students", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to list students")
		return
	}

	total, err := s.deps.Students.Count(r.Context())
	if err != nil {
		s.logger.Error("failed to count students", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to list students")
		return
	}

	views := make([]studentView, 0, len(students))
	for _, st := range students {
		views = append(views, toStudentView(st, false))
	}

	meta := &ResponseMeta{
		TotalCount: total,
		Page:       opts.Offset/opts.Limit + 1,
		PageSize:   opts.Limit,
		HasMore:    opts.Offset+len(students) < total,
	}

	writeJSONWithMeta(w, r, http.StatusOK, views, meta)
}

// handleCreateStudent handles POST /api/v1/students
//
// A created record is onboarded right away: the first profile fetch runs
// before the response, so the student shows up in the next scheduled sync.
func (s *Server) handleCreateStudent(w http.ResponseWriter, r *http.Request) {
	var payload studentPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body")
		return
	}

	rec, err := student.New(
		uuid.NewString(),
		payload.Name,
		payload.Email,
		student.PhoneNumber(payload.PhoneNumber),
		student.Handle(payload.Handle),
	)
	if err != nil {
		writeJSONError(w, http.StatusUnprocessableEntity, "validation_failed", err.Error())
		return
	}

	if err := s.deps.Students.Create(r.Context(), rec); err != nil {
		s.writeStudentError(w, err, "failed to create student")
		return
	}

	// Onboarding failure is not fatal: the record exists, the profile just
	// has to wait for a manual or scheduled retry.
	if s.deps.Syncer != nil && s.featureEnabled(config.FeatureSyncOnboardCreate) {
		if err := s.deps.Syncer.SyncSingleStudent(r.Context(), rec.ID); err != nil {
			s.logger.Warn("onboarding fetch failed",
				"student_id", rec.ID,
				"handle", rec.Handle.String(),
				"error", err)
		} else if refreshed, err := s.deps.Students.GetByID(r.Context(), rec.ID); err == nil {
			rec = refreshed
		}
	}

	writeJSON(w, http.StatusCreated, toStudentView(rec, false))
}

// handleGetStudent handles GET /api/v1/students/{id}
func (s *Server) handleGetStudent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	rec, err := s.deps.Students.GetByID(r.Context(), id)
	if err != nil {
		s.writeStudentError(w, err, "failed to get student")
		return
	}

	// Cache-aside for the snapshot: serve the cached copy when present,
	// warm the cache from the record on a miss.
	if s.deps.Profiles != nil {
		if cached, ok := s.deps.Profiles.GetProfile(r.Context(), id); ok {
			rec.Profile = cached
		} else if rec.Profile != nil {
			s.deps.Profiles.StoreProfile(r.Context(), id, rec.Profile)
		}
	}

	writeJSON(w, http.StatusOK, toStudentView(rec, true))
}

// handleUpdateStudent handles PUT /api/v1/students/{id}
//
// Only the identity fields are writable here. Profile, contest history and
// the warning counter belong to the sync engine.
func (s *Server) handleUpdateStudent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var payload studentPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body")
		return
	}

	rec, err := s.deps.Students.GetByID(r.Context(), id)
	if err != nil {
		s.writeStudentError(w, err, "failed to get student")
		return
	}

	previousHandle := rec.Handle

	rec.Name = payload.Name
	rec.Email = payload.Email
	rec.PhoneNumber = student.PhoneNumber(payload.PhoneNumber)
	rec.Handle = student.Handle(payload.Handle)
	rec.UpdatedAt = time.Now().UTC()

	if err := rec.Validate(); err != nil {
		writeJSONError(w, http.StatusUnprocessableEntity, "validation_failed", err.Error())
		return
	}

	if err := s.deps.Students.Update(r.Context(), rec); err != nil {
		s.writeStudentError(w, err, "failed to update student")
		return
	}

	// A handle change makes the cached snapshot belong to the wrong account.
	if s.deps.Profiles != nil && rec.Handle != previousHandle {
		s.deps.Profiles.Invalidate(r.Context(), rec.ID)
	}

	writeJSON(w, http.StatusOK, toStudentView(rec, false))
}

// handleDeleteStudent handles DELETE /api/v1/students/{id}
func (s *Server) handleDeleteStudent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := s.deps.Students.Delete(r.Context(), id); err != nil {
		s.writeStudentError(w, err, "failed to delete student")
		return
	}

	if s.deps.Profiles != nil {
		s.deps.Profiles.Invalidate(r.Context(), id)
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleSyncStudent handles POST /api/v1/students/{id}/sync
func (s *Server) handleSyncStudent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if s.deps.Syncer == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Sync engine not configured")
		return
	}

	if err := s.deps.Syncer.SyncSingleStudent(r.Context(), id); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "not_found", "Student not found")
			return
		}
		s.logger.Error("on-demand sync failed", "student_id", id, "error", err)
		writeJSONError(w, http.StatusBadGateway, "sync_failed", "Failed to refresh student data")
		return
	}

	rec, err := s.deps.Students.GetByID(r.Context(), id)
	if err != nil {
		s.writeStudentError(w, err, "failed to get student")
		return
	}

	writeJSON(w, http.StatusOK, toStudentView(rec, true))
}

// writeStudentError maps repository errors to HTTP statuses.
func (s *Server) writeStudentError(w http.ResponseWriter, err error, logMsg string) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, "not_found", "Student not found")
	case errors.Is(err, shared.ErrDuplicateEmail):
		writeJSONError(w, http.StatusConflict, "duplicate_email", "Email already registered")
	case errors.Is(err, shared.ErrDuplicatePhoneNumber):
		writeJSONError(w, http.StatusConflict, "duplicate_phone", "Phone number already registered")
	case errors.Is(err, shared.ErrDuplicateHandle):
		writeJSONError(w, http.StatusConflict, "duplicate_handle", "Handle already registered")
	case errors.Is(err, shared.ErrAlreadyExists):
		writeJSONError(w, http.StatusConflict, "already_exists", "Student already exists")
	default:
		s.logger.Error(logMsg, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// schedulePayload is the request body for schedule updates.
type schedulePayload struct {
	Expression string `json:"expression"`
}

// handleGetSchedule handles GET /api/v1/admin/schedule
func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	if s.deps.Controller == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Schedule controller not configured")
		return
	}

	writeJSON(w, http.StatusOK, s.deps.Controller.Status())
}

// handleUpdateSchedule handles PUT /api/v1/admin/schedule
func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	if s.deps.Controller == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Schedule controller not configured")
		return
	}

	if !s.featureEnabled(config.FeatureAPIReschedule) {
		writeJSONError(w, http.StatusForbidden, "feature_disabled", "Schedule changes are disabled")
		return
	}

	var payload schedulePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body")
		return
	}

	if err := s.deps.Controller.Reconfigure(r.Context(), payload.Expression); err != nil {
		if errors.Is(err, shared.ErrInvalidSchedule) {
			writeJSONError(w, http.StatusUnprocessableEntity, "invalid_schedule", err.Error())
			return
		}
		s.logger.Error("failed to reconfigure schedule",
			"expression", payload.Expression,
			"error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to persist schedule")
		return
	}

	writeJSON(w, http.StatusOK, s.deps.Controller.Status())
}

// handleTriggerSync handles POST /api/v1/admin/sync
func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	if s.deps.Controller == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Schedule controller not configured")
		return
	}

	if !s.featureEnabled(config.FeatureAPIManualSync) {
		writeJSONError(w, http.StatusForbidden, "feature_disabled", "Manual sync is disabled")
		return
	}

	if s.deps.Syncer != nil && s.deps.Syncer.Running() {
		writeJSONError(w, http.StatusConflict, "sync_in_progress", "A sync run is already executing")
		return
	}

	// A full run can take minutes; do not hold the request open for it.
	// The job's own overlap guard catches the race where two triggers
	// arrive between the check above and the run starting. RunNow ties
	// the run to the controller's lifetime, so shutdown still waits for it.
	go func() {
		if err := s.deps.Controller.RunNow(context.Background()); err != nil {
			if errors.Is(err, jobs.ErrSyncInProgress) {
				s.logger.Warn("manual sync rejected, already running")
				return
			}
			s.logger.Error("manual sync failed", "error", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// handleSyncStatus handles GET /api/v1/admin/sync/status
func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Syncer == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Sync engine not configured")
		return
	}

	lastRun := s.deps.Syncer.LastSyncStats()
	if lastRun == nil && s.deps.Profiles != nil {
		// No run in this process yet; the cache may still hold the stats
		// of a run before the last restart.
		var cached jobs.SyncStats
		if s.deps.Profiles.LoadRunStats(r.Context(), &cached) {
			lastRun = &cached
		}
	}

	body := map[string]interface{}{
		"running":  s.deps.Syncer.Running(),
		"last_run": lastRun,
	}

	writeJSON(w, http.StatusOK, body)
}
