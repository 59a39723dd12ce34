package api

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"tablesync/internal/domain"
	"tablesync/internal/models"
	"tablesync/internal/scheduler"
)

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.DB != nil {
		if err := s.deps.DB.PingContext(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}
	if s.deps.Control != nil && !s.deps.Control.Initialized() {
		writeError(w, http.StatusServiceUnavailable, "scheduler not initialized")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Control.Status())
}

// handleReload detaches from the request context so a client hanging up
// during the settle delay cannot abort the reload halfway.
func (s *HTTPServer) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Control.Reload(context.WithoutCancel(r.Context())); err != nil {
		s.log.Error().Err(err).Msg("Reload failed")
		writeError(w, http.StatusInternalServerError, "reload failed")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Control.Status())
}

func (s *HTTPServer) handleRun(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathJobID(w, r)
	if !ok {
		return
	}
	if err := s.deps.Control.Trigger(r.Context(), jobID); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": "accepted"})
}

func (s *HTTPServer) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathJobID(w, r)
	if !ok {
		return
	}
	if err := s.deps.Control.UpdateJob(r.Context(), jobID); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":    jobID,
		"scheduled": slices.Contains(s.deps.Control.Status().ScheduledJobIDs, jobID),
	})
}

func (s *HTTPServer) handleRemoveSchedule(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathJobID(w, r)
	if !ok {
		return
	}
	if err := s.deps.Control.RemoveJob(r.Context(), jobID); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_id": jobID, "scheduled": false})
}

func (s *HTTPServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathJobID(w, r)
	if !ok {
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.deps.Jobs.GetJob(r.Context(), jobID); err != nil {
		s.writeDomainError(w, err)
		return
	}

	logs, err := s.deps.Logs.GetLogs(r.Context(), jobID, limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if logs == nil {
		logs = []*models.ExecutionLog{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_id": jobID, "logs": logs})
}

func (s *HTTPServer) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathJobID(w, r)
	if !ok {
		return
	}

	if s.deps.Statuses != nil {
		snap, err := s.deps.Statuses.GetStatus(r.Context(), jobID)
		if err != nil {
			s.log.Warn().Err(err).Str("job_id", jobID).Msg("Status cache read failed")
		} else if snap != nil {
			writeJSON(w, http.StatusOK, snap)
			return
		}
	}

	job, err := s.deps.Jobs.GetJob(r.Context(), jobID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.SnapshotOf(job, "", job.UpdatedAt))
}

func (s *HTTPServer) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	items := []*models.JobSnapshot{}
	if s.deps.Statuses != nil {
		items, err = s.deps.Statuses.ListDeadLetters(r.Context(), limit)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"dead_letters": items})
}

func pathJobID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "job id is required")
		return "", false
	}
	return id, true
}

var errInvalidLimit = errors.New("limit must be a positive integer")

func parseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return models.DefaultLogsLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errInvalidLimit
	}
	if n > models.MaxLogsLimit {
		n = models.MaxLogsLimit
	}
	return n, nil
}

func (s *HTTPServer) writeDomainError(w http.ResponseWriter, err error) {
	var cfgErr *domain.ConfigurationError
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, domain.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, "job is already running")
	case errors.Is(err, scheduler.ErrNotInitialized), errors.Is(err, scheduler.ErrDraining):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &cfgErr):
		writeError(w, http.StatusUnprocessableEntity, cfgErr.Error())
	default:
		s.log.Error().Err(err).Msg("Request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
