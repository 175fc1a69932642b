package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ternarybob/geowork/internal/models"
	"github.com/ternarybob/geowork/internal/updateprocessor"
)

// ErrInvalidTransition is returned for a job lifecycle event that's
// disallowed from the job's current status (spec §4.8, §7 InvalidTransition).
var ErrInvalidTransition = errors.New("status cannot be updated")

type lifecycleEvent string

const (
	eventSkipPreview lifecycleEvent = "skip-preview"
	eventCancel      lifecycleEvent = "cancel"
	eventPause       lifecycleEvent = "pause"
	eventResume      lifecycleEvent = "resume"
)

// transitions encodes the state machine in spec §4.8 as allowed
// (fromStatus, event) -> toStatus pairs.
var transitions = map[models.JobStatus]map[lifecycleEvent]models.JobStatus{
	models.JobAccepted: {
		eventSkipPreview: models.JobRunning,
		eventCancel:      models.JobCanceled,
	},
	models.JobPreviewing: {
		eventCancel: models.JobCanceled,
	},
	models.JobRunning: {
		eventCancel: models.JobCanceled,
		eventPause:  models.JobPaused,
	},
	models.JobRunningWithErrors: {
		eventCancel: models.JobCanceled,
		eventPause:  models.JobPaused,
	},
	models.JobPaused: {
		eventCancel: models.JobCanceled,
		eventResume: models.JobRunning,
	},
}

// applyLifecycleEvent validates and applies event against current, returning
// the new status or ErrInvalidTransition.
func applyLifecycleEvent(current models.JobStatus, event lifecycleEvent) (models.JobStatus, error) {
	byEvent, ok := transitions[current]
	if !ok {
		return "", ErrInvalidTransition
	}
	next, ok := byEvent[event]
	if !ok {
		return "", ErrInvalidTransition
	}
	return next, nil
}

func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/jobs/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	jobID := parts[0]

	if len(parts) == 1 {
		if r.Method == http.MethodGet {
			s.getJob(w, r, jobID)
			return
		}
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	switch parts[1] {
	case "cancel", "pause", "resume", "skip-preview":
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.applyLifecycle(w, r, jobID, lifecycleEvent(parts[1]))
	case "logs":
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.getJobLogs(w, r, jobID)
	case "events":
		s.handleJobEvents(w, r, jobID)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := s.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	links, err := s.jobs.ListJobLinks(r.Context(), jobID)
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("failed to load job links")
	}
	writeJSON(w, http.StatusOK, struct {
		*models.Job
		Links []models.JobLink `json:"links,omitempty"`
	}{Job: job, Links: links})
}

// applyLifecycle implements spec §4.8: validate the transition, apply it,
// and for CANCEL additionally cancel all non-terminal items and zero the
// job's UserWork rows in one pass.
func (s *Server) applyLifecycle(w http.ResponseWriter, r *http.Request, jobID string, event lifecycleEvent) {
	ctx := r.Context()
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}

	next, err := applyLifecycleEvent(job.Status, event)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	if err := s.jobs.UpdateJobStatus(ctx, jobID, next, ""); err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("failed to update job status")
		http.Error(w, "update failed", http.StatusInternalServerError)
		return
	}

	if event == eventCancel {
		if _, err := updateprocessor.CancelJobItems(ctx, s.items, s.userWork, jobID); err != nil {
			s.logger.Error().Err(err).Str("job_id", jobID).Msg("failed to cancel job items")
		}
	}

	job.Status = next
	writeJSON(w, http.StatusOK, job)
}
