package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/segmentio/ksuid"

	"github.com/ssargent/stdfconv/pkg/ledger"
	"github.com/ssargent/stdfconv/pkg/logger"
	"github.com/ssargent/stdfconv/pkg/metrics"
)

const (
	defaultJobLimit = 50
	maxJobLimit     = 1000
)

// Server holds the status server state
type Server struct {
	jobs    JobStore
	config  ServerConfig
	metrics *metrics.Metrics
	log     logger.Logger
	started time.Time
}

// NewServer creates a new status server. jobs may be nil when no ledger is
// configured; the job endpoints then answer 503.
func NewServer(jobs JobStore, config ServerConfig, m *metrics.Metrics, l logger.Logger) *Server {
	if l == nil {
		l = logger.Discard()
	}
	return &Server{
		jobs:    jobs,
		config:  config,
		metrics: m,
		log:     l,
		started: time.Now(),
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sendSuccess(w, HealthResponse{
		Status: "healthy",
		Uptime: time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		sendError(w, "Job ledger is not configured", http.StatusServiceUnavailable)
		return
	}

	limit := defaultJobLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			sendError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxJobLimit)
	}

	entries, err := s.jobs.List(limit)
	if err != nil {
		s.log.Error("list jobs", "error", err)
		sendError(w, "Failed to list jobs", http.StatusInternalServerError)
		return
	}

	views := make([]JobView, 0, len(entries))
	for _, e := range entries {
		views = append(views, newJobView(e))
	}
	sendSuccess(w, views)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		sendError(w, "Job ledger is not configured", http.StatusServiceUnavailable)
		return
	}

	id, err := ksuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		sendError(w, "Invalid job id", http.StatusBadRequest)
		return
	}

	entry, err := s.jobs.Get(id)
	if errors.Is(err, ledger.ErrNotFound) {
		sendError(w, "Job not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.log.Error("get job", "id", id.String(), "error", err)
		sendError(w, "Failed to load job", http.StatusInternalServerError)
		return
	}
	sendSuccess(w, newJobView(*entry))
}

func fingerprintHex(fp uint64) string {
	return fmt.Sprintf("%016x", fp)
}
