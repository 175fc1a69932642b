package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/geowork/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// progressEvent is pushed to clients watching a job (SPEC_FULL "Job progress
// event push"), adapted from the teacher's broadcast-log pattern but scoped
// per jobID rather than broadcast globally.
type progressEvent struct {
	JobID    string           `json:"jobId"`
	Status   models.JobStatus `json:"status"`
	Progress int              `json:"progress"`
	Message  string           `json:"message,omitempty"`
}

// eventHub fans progress events out to websocket clients subscribed to a
// specific jobID.
type eventHub struct {
	logger arbor.ILogger

	mu          sync.RWMutex
	subscribers map[string]map[*websocket.Conn]*sync.Mutex
}

func newEventHub(logger arbor.ILogger) *eventHub {
	return &eventHub{logger: logger, subscribers: make(map[string]map[*websocket.Conn]*sync.Mutex)}
}

func (h *eventHub) subscribe(jobID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subscribers[jobID] == nil {
		h.subscribers[jobID] = make(map[*websocket.Conn]*sync.Mutex)
	}
	h.subscribers[jobID][conn] = &sync.Mutex{}
}

func (h *eventHub) unsubscribe(jobID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subscribers[jobID], conn)
	if len(h.subscribers[jobID]) == 0 {
		delete(h.subscribers, jobID)
	}
}

func (h *eventHub) publish(ev progressEvent) {
	h.mu.RLock()
	conns := h.subscribers[ev.JobID]
	targets := make(map[*websocket.Conn]*sync.Mutex, len(conns))
	for c, m := range conns {
		targets[c] = m
	}
	h.mu.RUnlock()
	if len(targets) == 0 {
		return
	}

	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Warn().Err(err).Msg("failed to marshal progress event")
		return
	}
	for conn, mu := range targets {
		mu.Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		mu.Unlock()
		if err != nil {
			h.logger.Warn().Err(err).Str("job_id", ev.JobID).Msg("failed to push progress event")
		}
	}
}

// handleJobEvents upgrades GET /jobs/:jobID/events to a websocket and
// streams progress pushes until the client disconnects.
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request, jobID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to upgrade job events websocket")
		return
	}
	defer conn.Close()

	s.hub.subscribe(jobID, conn)
	defer s.hub.unsubscribe(jobID, conn)

	if job, err := s.jobs.GetJob(r.Context(), jobID); err == nil {
		s.hub.publish(progressEvent{JobID: jobID, Status: job.Status, Progress: job.Progress, Message: job.Message})
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// notifyJobProgress looks up the item's owning job and pushes its current
// status to subscribers, called after every accepted update (§4.3).
func (s *Server) notifyJobProgress(ctx context.Context, workItemID int64) {
	item, err := s.items.GetWorkItem(ctx, workItemID)
	if err != nil {
		return
	}
	job, err := s.jobs.GetJob(ctx, item.JobID)
	if err != nil {
		return
	}
	s.hub.publish(progressEvent{JobID: job.JobID, Status: job.Status, Progress: job.Progress, Message: job.Message})
}
