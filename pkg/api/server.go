package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/dbfleet/pkg/converge"
	"github.com/cuemby/dbfleet/pkg/events"
	"github.com/cuemby/dbfleet/pkg/log"
	"github.com/cuemby/dbfleet/pkg/metrics"
	"github.com/cuemby/dbfleet/pkg/platform"
	"github.com/cuemby/dbfleet/pkg/storage"
	"github.com/cuemby/dbfleet/pkg/types"
)

// DefaultReportLimit is the number of reports returned when no limit is given
const DefaultReportLimit = 20

// Store is the read side of the store the API serves
type Store interface {
	ListClusters() ([]*types.Cluster, error)
	GetCluster(id string) (*types.Cluster, error)
	ListReports(clusterID string, limit int) ([]*types.OrchestrateReport, error)
	LatestView(clusterID string) (*types.ViewSnapshot, error)
	GetProgress(clusterID string) (*types.Progress, error)
}

// Orchestrator runs an on-demand convergence cycle
type Orchestrator interface {
	Orchestrate(ctx context.Context, req converge.Request) (*types.OrchestrateReport, error)
}

// Platforms lists and toggles platforms
type Platforms interface {
	List() []platform.Status
	SetActive(name string, active bool) error
}

// Publisher publishes events
type Publisher interface {
	Publish(event *events.Event) error
}

// Options are the collaborators of a Server. Only Store is required;
// endpoints whose collaborator is missing answer 501. Writer defaults to
// Store when Store also implements it.
type Options struct {
	Store        Store
	Writer       Writer
	Orchestrator Orchestrator
	Platforms    Platforms
	Publisher    Publisher
	Coordinator  any
}

// Server is the HTTP API: health endpoints, Prometheus metrics, and the
// cluster and platform resources.
type Server struct {
	store        Store
	writer       Writer
	orchestrator Orchestrator
	platforms    Platforms
	publisher    Publisher
	coordinator  any
	mux          *http.ServeMux
	server       *http.Server
	logger       zerolog.Logger
}

// ClusterStatus is the body of GET /v1/clusters/{id}
type ClusterStatus struct {
	Cluster  *types.Cluster      `json:"cluster"`
	Progress *types.Progress     `json:"progress,omitempty"`
	View     *types.ViewSnapshot `json:"view,omitempty"`
}

// NewServer creates the HTTP API server
func NewServer(opts Options) *Server {
	writer := opts.Writer
	if writer == nil {
		writer, _ = opts.Store.(Writer)
	}

	s := &Server{
		store:        opts.Store,
		writer:       writer,
		orchestrator: opts.Orchestrator,
		platforms:    opts.Platforms,
		publisher:    opts.Publisher,
		coordinator:  opts.Coordinator,
		mux:          http.NewServeMux(),
		logger:       log.WithComponent("api"),
	}

	s.mux.HandleFunc("GET /health", s.healthHandler)
	s.mux.HandleFunc("GET /ready", s.readyHandler)
	s.mux.HandleFunc("GET /live", s.liveHandler)
	s.mux.Handle("GET /metrics", metrics.Handler())

	s.mux.HandleFunc("GET /v1/clusters", s.listClusters)
	s.mux.HandleFunc("POST /v1/clusters", s.applyCluster)
	s.mux.HandleFunc("GET /v1/clusters/{id}", s.getCluster)
	s.mux.HandleFunc("GET /v1/clusters/{id}/reports", s.listReports)
	s.mux.HandleFunc("GET /v1/clusters/{id}/view", s.getView)
	s.mux.HandleFunc("POST /v1/clusters/{id}/orchestrate", s.orchestrate)
	s.mux.HandleFunc("GET /v1/platforms", s.listPlatforms)
	s.mux.HandleFunc("PUT /v1/platforms/{name}", s.setPlatform)
	s.mux.HandleFunc("GET /v1/raft", s.raftStatus)
	s.mux.HandleFunc("POST /v1/raft/join", s.raftJoin)

	return s
}

// Start serves the API on addr until Shutdown
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the instrumented HTTP handler for embedding in other servers
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		s.mux.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		metrics.APIRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		timer.ObserveDurationVec(metrics.APIRequestDuration, route)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) listClusters(w http.ResponseWriter, r *http.Request) {
	clusters, err := s.store.ListClusters()
	if err != nil {
		s.fail(w, err)
		return
	}
	if clusters == nil {
		clusters = []*types.Cluster{}
	}
	writeJSON(w, http.StatusOK, clusters)
}

func (s *Server) getCluster(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	cluster, err := s.store.GetCluster(id)
	if err != nil {
		s.fail(w, err)
		return
	}

	status := ClusterStatus{Cluster: cluster}
	if progress, err := s.store.GetProgress(id); err == nil {
		status.Progress = progress
	} else if !errors.Is(err, storage.ErrNotFound) {
		s.fail(w, err)
		return
	}
	if snapshot, err := s.store.LatestView(id); err == nil {
		status.View = snapshot
	} else if !errors.Is(err, storage.ErrNotFound) {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) listReports(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	limit := DefaultReportLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	if _, err := s.store.GetCluster(id); err != nil {
		s.fail(w, err)
		return
	}
	reports, err := s.store.ListReports(id, limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	if reports == nil {
		reports = []*types.OrchestrateReport{}
	}
	writeJSON(w, http.StatusOK, reports)
}

func (s *Server) getView(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.store.LatestView(r.PathValue("id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) orchestrate(w http.ResponseWriter, r *http.Request) {
	if s.orchestrator == nil {
		writeError(w, http.StatusNotImplemented, "orchestration is not enabled")
		return
	}

	mode := types.ModeApply
	if raw := r.URL.Query().Get("mode"); raw != "" {
		parsed, err := types.ParseMode(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		mode = parsed
	}

	id := r.PathValue("id")
	if _, err := s.store.GetCluster(id); err != nil {
		s.fail(w, err)
		return
	}

	report, err := s.orchestrator.Orchestrate(r.Context(), converge.Request{ClusterID: id, Mode: mode})
	if err != nil {
		if report != nil {
			// Cancelled cycles still carry their Failed report
			writeJSON(w, http.StatusServiceUnavailable, report)
			return
		}
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) listPlatforms(w http.ResponseWriter, r *http.Request) {
	if s.platforms == nil {
		writeError(w, http.StatusNotImplemented, "platforms are not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.platforms.List())
}

type platformToggle struct {
	Active bool `json:"active"`
}

func (s *Server) setPlatform(w http.ResponseWriter, r *http.Request) {
	if s.platforms == nil {
		writeError(w, http.StatusNotImplemented, "platforms are not configured")
		return
	}

	var body platformToggle
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}

	name := r.PathValue("name")
	if err := s.platforms.SetActive(name, body.Active); err != nil {
		s.fail(w, err)
		return
	}

	s.logger.Info().Str("platform", name).Bool("active", body.Active).Msg("Platform toggled")
	if s.publisher != nil {
		_ = s.publisher.Publish(&events.Event{
			Type:    events.EventPlatformToggled,
			Message: "platform " + name + " active=" + strconv.FormatBool(body.Active),
			Metadata: map[string]string{
				"platform": name,
				"active":   strconv.FormatBool(body.Active),
			},
		})
	}
	writeJSON(w, http.StatusOK, platform.Status{Name: name, Active: body.Active})
}

// fail maps store and platform lookups to 404 and everything else to 500
func (s *Server) fail(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, platform.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.logger.Error().Err(err).Msg("API request failed")
	writeError(w, http.StatusInternalServerError, err.Error())
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, errorBody{Error: message})
}

func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}
