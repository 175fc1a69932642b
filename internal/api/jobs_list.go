package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ternarybob/geowork/internal/models"
)

const defaultJobListLimit = 50

// jobSummary is one row of GET /jobs, with durations and granule counts
// rendered human-readable for operators tailing the endpoint by hand.
type jobSummary struct {
	JobID            string           `json:"jobId"`
	Username         string           `json:"username"`
	Status           models.JobStatus `json:"status"`
	Progress         int              `json:"progress"`
	NumInputGranules string           `json:"numInputGranules"`
	Age              string           `json:"age"`
	UpdatedAgo       string           `json:"updatedAgo"`
}

// listJobs serves GET /jobs: the most recently updated jobs, newest first.
func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	limit := defaultJobListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	jobs, err := s.jobs.ListRecentJobs(r.Context(), limit)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to list jobs")
		http.Error(w, "failed to list jobs", http.StatusInternalServerError)
		return
	}

	now := time.Now()
	summaries := make([]jobSummary, 0, len(jobs))
	for _, j := range jobs {
		summaries = append(summaries, jobSummary{
			JobID:            j.JobID,
			Username:         j.Username,
			Status:           j.Status,
			Progress:         j.Progress,
			NumInputGranules: humanize.Comma(int64(j.NumInputGranules)),
			Age:              humanize.RelTime(j.CreatedAt, now, "ago", "from now"),
			UpdatedAgo:       humanize.RelTime(j.UpdatedAt, now, "ago", "from now"),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": summaries})
}
