package api

import (
	"net/http"
	"strconv"
)

const defaultJobLogLimit = 200

// getJobLogs serves the supplemented job log stream (SPEC_FULL "Job log
// stream"): GET /jobs/:jobID/logs, oldest first.
func (s *Server) getJobLogs(w http.ResponseWriter, r *http.Request, jobID string) {
	limit := defaultJobLogLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	entries, err := s.jobs.ListJobLogs(r.Context(), jobID, limit)
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("failed to load job logs")
		http.Error(w, "failed to load logs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobID": jobID, "logs": entries})
}
