// Package api implements components E and H (spec §4.5, §4.8): the worker
// polling protocol and the job lifecycle HTTP surface, plus the
// supplemented job-log and progress-event endpoints.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/geowork/internal/interfaces"
	"github.com/ternarybob/geowork/internal/updateprocessor"
)

// Config bundles the API server's tunables.
type Config struct {
	// WorkLongPollSeconds bounds the second GetMessages call in GET /work
	// (spec §4.5 "long-poll the service queue once more").
	WorkLongPollSeconds int
	// MaxCMRGranulesPerQuery is advisory metadata returned alongside
	// granule-discovery work items so workers can size their own page
	// requests; 0 means the worker falls back to its own default.
	MaxCMRGranulesPerQuery int
}

// Server wires the HTTP handlers over the storage, queue and
// update-processor layers.
type Server struct {
	jobs      interfaces.JobStorage
	steps     interfaces.WorkflowStepStorage
	items     interfaces.WorkItemStorage
	userWork  interfaces.UserWorkStorage
	queues    interfaces.QueueFactory
	processor *updateprocessor.Processor
	opCache   *operationCache
	hub       *eventHub
	logger    arbor.ILogger
	cfg       Config
}

func NewServer(
	jobs interfaces.JobStorage,
	steps interfaces.WorkflowStepStorage,
	items interfaces.WorkItemStorage,
	userWork interfaces.UserWorkStorage,
	queues interfaces.QueueFactory,
	processor *updateprocessor.Processor,
	logger arbor.ILogger,
	cfg Config,
) *Server {
	if cfg.WorkLongPollSeconds == 0 {
		cfg.WorkLongPollSeconds = 20
	}
	return &Server{
		jobs:      jobs,
		steps:     steps,
		items:     items,
		userWork:  userWork,
		queues:    queues,
		processor: processor,
		opCache:   newOperationCache(steps),
		hub:       newEventHub(logger),
		logger:    logger,
		cfg:       cfg,
	}
}

// Routes builds the ServeMux for the worker and lifecycle protocols
// (spec §6), following the teacher's manual-suffix-routing style rather
// than a third-party router.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/work", s.handleWorkCollection)
	mux.HandleFunc("/work/", s.handleWorkItem)

	mux.HandleFunc("/jobs", s.listJobs)
	mux.HandleFunc("/jobs/", s.handleJobRoutes)

	return mux
}

func (s *Server) handleWorkCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.getWork(w, r)
	case http.MethodPost:
		s.createWork(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleWorkItem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.putWork(w, r)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}
