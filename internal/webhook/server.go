// internal/webhook/server.go
package webhook

import (
	"encoding/json"
	"log/slog"
	"maps"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/user/assetlink/internal/runner"
	"github.com/user/assetlink/internal/state"
	"github.com/user/assetlink/internal/types"
)

// Submitter queues a job run. *runner.Runner implements it.
type Submitter interface {
	Submit(job *state.Job, source string, onComplete func(*runner.Report)) (*runner.Request, error)
}

// Notifier is told about every report of a run the server queued.
type Notifier func(job *state.Job, rep *runner.Report)

// Server exposes job triggers and read-only instance inspection over HTTP.
type Server struct {
	jobs      *state.JobStore
	submitter Submitter
	notify    Notifier
	instances types.InstanceStore
	events    types.EventStore
	router    chi.Router
}

// NewServer builds the router. instances and events may be nil, in which
// case the inspection endpoints answer 503.
func NewServer(jobs *state.JobStore, submitter Submitter, notify Notifier, instances types.InstanceStore, events types.EventStore) *Server {
	s := &Server{
		jobs:      jobs,
		submitter: submitter,
		notify:    notify,
		instances: instances,
		events:    events,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Get("/health", s.handleHealth)
	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", s.handleListJobs)
		r.Post("/{name}/run", s.handleRunJob)
	})
	r.Route("/instances", func(r chi.Router) {
		r.Get("/", s.handleListInstances)
		r.Get("/{id}", s.handleGetInstance)
		r.Get("/{id}/events", s.handleInstanceEvents)
	})
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.jobs.List()
	if err != nil {
		slog.Error("list jobs failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

// runRequest is the optional JSON body for POST /jobs/{name}/run. Its
// parameters override the stored job's for this run only.
type runRequest struct {
	Parameters map[string]any `json:"parameters"`
}

type runResponse struct {
	RunID  types.RunID   `json:"run_id"`
	Job    string        `json:"job"`
	Status runner.Status `json:"status"`
}

func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	job, err := s.jobs.Get(name)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if !job.Enabled {
		writeError(w, http.StatusForbidden, "job is disabled")
		return
	}

	var body runRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	if len(body.Parameters) > 0 {
		merged := make(map[string]any, len(job.Parameters)+len(body.Parameters))
		maps.Copy(merged, job.Parameters)
		maps.Copy(merged, body.Parameters)
		job.Parameters = merged
	}

	req, err := s.submitter.Submit(job, "webhook", func(rep *runner.Report) {
		if s.notify != nil {
			s.notify(job, rep)
		}
	})
	if err != nil {
		slog.Error("queue job failed", "job", name, "error", err)
		writeError(w, http.StatusServiceUnavailable, "runner unavailable")
		return
	}
	writeJSON(w, http.StatusAccepted, runResponse{RunID: req.ID, Job: job.Name, Status: req.Status})
}

func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	if s.instances == nil {
		writeError(w, http.StatusServiceUnavailable, "inspection API not configured")
		return
	}
	recs, err := s.instances.List(r.Context())
	if err != nil {
		slog.Error("list instances failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if recs == nil {
		recs = []*types.InstanceRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	if s.instances == nil {
		writeError(w, http.StatusServiceUnavailable, "inspection API not configured")
		return
	}
	rec, err := s.instances.Get(r.Context(), types.InstanceID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, http.StatusNotFound, "instance not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleInstanceEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusServiceUnavailable, "inspection API not configured")
		return
	}
	id := types.InstanceID(chi.URLParam(r, "id"))

	limit := 200
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}

	evs, err := s.events.Tail(r.Context(), id, limit)
	if err != nil {
		slog.Error("tail events failed", "instance_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if evs == nil {
		evs = []*types.Event{}
	}
	writeJSON(w, http.StatusOK, evs)
}
