package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/ternarybob/geowork/internal/models"
)

// workResponse is the payload returned to a worker polling for work
// (spec §6 "GET /work?serviceID=<image:tag>").
type workResponse struct {
	WorkItem       models.WorkItem `json:"workItem"`
	Operation      string          `json:"operation,omitempty"`
	MaxCmrGranules int             `json:"maxCmrGranules,omitempty"`
}

// getWork implements spec §4.5's GET /work: try the service queue first;
// if empty, post a schedule-request and long-poll once more.
func (s *Server) getWork(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	serviceID := r.URL.Query().Get("serviceID")
	if serviceID == "" {
		http.Error(w, "serviceID is required", http.StatusBadRequest)
		return
	}

	svcQueue := s.queues.ServiceQueue(serviceID)

	msgs, err := svcQueue.GetMessages(ctx, 1, 0)
	if err != nil {
		s.logger.Warn().Err(err).Str("service_id", serviceID).Msg("failed to poll service queue")
		http.Error(w, "queue error", http.StatusInternalServerError)
		return
	}

	if len(msgs) == 0 {
		s.sendScheduleRequest(ctx, serviceID)
		msgs, err = svcQueue.GetMessages(ctx, 1, s.cfg.WorkLongPollSeconds)
		if err != nil {
			s.logger.Warn().Err(err).Str("service_id", serviceID).Msg("failed to long-poll service queue")
			http.Error(w, "queue error", http.StatusInternalServerError)
			return
		}
	}

	if len(msgs) == 0 {
		http.Error(w, "no work available", http.StatusNotFound)
		return
	}

	msg := msgs[0]
	defer func() {
		if err := svcQueue.DeleteMessage(ctx, msg.Receipt); err != nil {
			s.logger.Warn().Err(err).Msg("failed to delete delivered work message")
		}
	}()

	var queued models.WorkItem
	if err := json.Unmarshal([]byte(msg.Body), &queued); err != nil {
		s.logger.Warn().Err(err).Msg("dropping malformed queued work item")
		http.Error(w, "no work available", http.StatusNotFound)
		return
	}

	// Verify the item hasn't been CANCELED since it was queued (spec §4.5
	// "atomically verify the item's current status is not CANCELED").
	current, err := s.items.GetWorkItem(ctx, queued.ID)
	if err != nil {
		http.Error(w, "no work available", http.StatusNotFound)
		return
	}
	if current.Status == models.ItemCanceled {
		http.Error(w, "no work available", http.StatusNotFound)
		return
	}

	operation, err := s.opCache.Get(ctx, current.JobID, current.WorkflowStepIndex)
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", current.JobID).Msg("failed to load operation template")
	}

	resp := workResponse{WorkItem: *current, Operation: operation}
	if current.ServiceID == models.QueryCMRServiceID {
		resp.MaxCmrGranules = s.cfg.MaxCMRGranulesPerQuery
	}
	writeJSON(w, http.StatusOK, resp)
}

// createWork implements the optional internal POST /work (spec §6).
func (s *Server) createWork(w http.ResponseWriter, r *http.Request) {
	var item models.WorkItem
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	item.Status = models.ItemReady

	ctx := r.Context()
	id, err := s.items.CreateWorkItem(ctx, &item)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to create work item")
		http.Error(w, "create failed", http.StatusInternalServerError)
		return
	}
	if err := s.userWork.IncrementReady(ctx, item.JobID, item.ServiceID, ""); err != nil {
		s.logger.Warn().Err(err).Int64("work_item_id", id).Msg("failed to increment ready counter")
	}
	s.sendScheduleRequest(ctx, item.ServiceID)

	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

// putWork implements spec §4.3/§4.5's PUT /work/:id.
func (s *Server) putWork(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, "/work/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.Error(w, "invalid work item id", http.StatusBadRequest)
		return
	}

	var update models.WorkItemUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	update.WorkItemID = id

	if err := s.processor.Process(r.Context(), update); err != nil {
		s.logger.Warn().Err(err).Int64("work_item_id", id).Msg("update rejected")
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	s.notifyJobProgress(r.Context(), id)
	w.WriteHeader(http.StatusNoContent)
}

// sendScheduleRequest posts a schedule-request for serviceID to the
// scheduler queue, mirroring the message shape the scheduler itself drains
// (spec §4.2, §4.5).
func (s *Server) sendScheduleRequest(ctx context.Context, serviceID string) {
	body, _ := json.Marshal(struct {
		ServiceID string `json:"service_id"`
	}{ServiceID: serviceID})
	if err := s.queues.SchedulerQueue().SendMessage(ctx, string(body), serviceID); err != nil {
		s.logger.Warn().Err(err).Str("service_id", serviceID).Msg("failed to post schedule request")
	}
}
