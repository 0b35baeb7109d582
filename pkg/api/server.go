package api

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/autograph/gnnsearch/pkg/auth"
	"github.com/autograph/gnnsearch/pkg/executor"
	"github.com/autograph/gnnsearch/pkg/logging"
	"github.com/autograph/gnnsearch/pkg/middleware"
	"github.com/autograph/gnnsearch/pkg/models"
	"github.com/autograph/gnnsearch/pkg/store"
	"github.com/autograph/gnnsearch/pkg/tracing"
)

// Source is the live view of a running search
type Source interface {
	Snapshot() []executor.TrialSnapshot
	Stats() executor.Stats
	State() models.ExecutorState
}

// Server exposes search progress and metrics over HTTP
type Server struct {
	router   *mux.Router
	registry *prometheus.Registry
	store    store.Store
	logger   *logging.Logger
	started  time.Time

	mu     sync.RWMutex
	runID  string
	source Source

	tlsConfig *tls.Config
	srv       *http.Server
}

// NewServer builds the router. A nil store disables the history routes'
// backing data; they then return empty lists.
func NewServer(reg *prometheus.Registry, st store.Store, tracer trace.Tracer, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	s := &Server{
		router:   mux.NewRouter(),
		registry: reg,
		store:    st,
		logger:   logger,
		started:  time.Now(),
	}
	if tracer != nil {
		s.router.Use(tracing.HTTPMiddleware(tracer))
	}
	s.RegisterRoutes(s.router)
	return s
}

// RegisterRoutes registers all API routes
func (s *Server) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", s.Health).Methods("GET")
	r.HandleFunc("/trials", s.ListTrials).Methods("GET")
	r.HandleFunc("/leaderboard", s.Leaderboard).Methods("GET")
	r.HandleFunc("/runs", s.ListRuns).Methods("GET")
	r.HandleFunc("/runs/{id}", s.GetRun).Methods("GET")
	r.HandleFunc("/runs/{id}/trials", s.ListRunTrials).Methods("GET")

	if s.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods("GET")
	}
}

// RequireToken protects every route except /health with g
func (s *Server) RequireToken(g *auth.TokenGuard) {
	s.router.Use(middleware.RequireToken(g, s.logger, "/health"))
}

// UseTLS makes Start serve HTTPS with cfg
func (s *Server) UseTLS(cfg *tls.Config) {
	s.tlsConfig = cfg
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Attach makes src the live source for /trials and /leaderboard
func (s *Server) Attach(runID string, src Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runID = runID
	s.source = src
}

// Detach clears the live source if it still belongs to runID
func (s *Server) Detach(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runID == runID {
		s.runID = ""
		s.source = nil
	}
}

func (s *Server) current() (string, Source) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runID, s.source
}

// Start listens on addr and serves in the background. It returns once the
// listener is bound so a bad address fails fast.
func (s *Server) Start(addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	scheme := "http"
	if s.tlsConfig != nil {
		ln = tls.NewListener(ln, s.tlsConfig)
		scheme = "https"
	}
	s.srv = &http.Server{
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Status server stopped", map[string]interface{}{"error": err.Error()})
		}
	}()
	s.logger.Info("Status server listening", map[string]interface{}{
		"addr":   ln.Addr().String(),
		"scheme": scheme,
	})
	return ln.Addr(), nil
}

// Shutdown stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// Health reports liveness and store reachability
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]interface{}{
		"status": "healthy",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	}
	if s.store != nil {
		if err := s.store.HealthCheck(); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["store"] = err.Error()
		} else {
			body["store"] = "ok"
		}
	}
	if runID, src := s.current(); src != nil {
		body["run_id"] = runID
		body["executor"] = src.State()
	}
	writeJSON(w, status, body)
}

// TrialsResponse is the body of GET /trials
type TrialsResponse struct {
	RunID  string                   `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	State  models.ExecutorState     `json:"state,omitempty" yaml:"state,omitempty"`
	Stats  *executor.Stats          `json:"stats,omitempty" yaml:"stats,omitempty"`
	Trials []executor.TrialSnapshot `json:"trials" yaml:"trials"`
	Count  int                      `json:"count" yaml:"count"`
}

// ListTrials returns every trial of the active run
func (s *Server) ListTrials(w http.ResponseWriter, r *http.Request) {
	runID, src := s.current()
	if src == nil {
		writeJSON(w, http.StatusOK, TrialsResponse{Trials: []executor.TrialSnapshot{}})
		return
	}

	trials := src.Snapshot()
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := trials[:0]
		for _, t := range trials {
			if string(t.Status) == status {
				filtered = append(filtered, t)
			}
		}
		trials = filtered
	}

	stats := src.Stats()
	writeJSON(w, http.StatusOK, TrialsResponse{
		RunID:  runID,
		State:  src.State(),
		Stats:  &stats,
		Trials: trials,
		Count:  len(trials),
	})
}

// LeaderboardEntry is one completed trial ranked by validation accuracy
type LeaderboardEntry struct {
	Rank        int     `json:"rank" yaml:"rank"`
	TrialID     string  `json:"trial_id" yaml:"trial_id"`
	Seq         int     `json:"seq" yaml:"seq"`
	Config      string  `json:"config" yaml:"config"`
	ValAccuracy float64 `json:"val_accuracy" yaml:"val_accuracy"`
	DurationS   float64 `json:"duration_s" yaml:"duration_s"`
}

// LeaderboardResponse is the body of GET /leaderboard
type LeaderboardResponse struct {
	RunID   string             `json:"run_id" yaml:"run_id"`
	Entries []LeaderboardEntry `json:"entries" yaml:"entries"`
}

// Leaderboard ranks the completed trials of the active run
func (s *Server) Leaderboard(w http.ResponseWriter, r *http.Request) {
	runID, src := s.current()
	var snaps []executor.TrialSnapshot
	if src != nil {
		snaps = src.Snapshot()
	}

	entries := BuildLeaderboard(snaps)
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	writeJSON(w, http.StatusOK, LeaderboardResponse{RunID: runID, Entries: entries})
}

// BuildLeaderboard ranks completed trials by validation accuracy, ties by
// submission order
func BuildLeaderboard(snaps []executor.TrialSnapshot) []LeaderboardEntry {
	done := make([]executor.TrialSnapshot, 0, len(snaps))
	for _, t := range snaps {
		if t.Status == models.TrialStatusCompleted {
			done = append(done, t)
		}
	}
	sort.SliceStable(done, func(i, j int) bool {
		if done[i].ValAccuracy != done[j].ValAccuracy {
			return done[i].ValAccuracy > done[j].ValAccuracy
		}
		return done[i].Spec.Seq < done[j].Spec.Seq
	})

	entries := make([]LeaderboardEntry, len(done))
	for i, t := range done {
		entries[i] = LeaderboardEntry{
			Rank:        i + 1,
			TrialID:     t.Spec.ID,
			Seq:         t.Spec.Seq,
			Config:      t.Spec.String(),
			ValAccuracy: t.ValAccuracy,
			DurationS:   t.Timing.Duration().Seconds(),
		}
	}
	return entries
}

// RunsResponse is the body of GET /runs
type RunsResponse struct {
	Runs  []*models.Run `json:"runs" yaml:"runs"`
	Count int           `json:"count" yaml:"count"`
}

// ListRuns returns stored runs, newest first
func (s *Server) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	runs := []*models.Run{}
	if s.store != nil {
		got, err := s.store.ListRuns(limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if got != nil {
			runs = got
		}
	}
	writeJSON(w, http.StatusOK, RunsResponse{Runs: runs, Count: len(runs)})
}

// GetRun returns one stored run
func (s *Server) GetRun(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}
	run, err := s.store.GetRun(mux.Vars(r)["id"])
	if errors.Is(err, store.ErrRunNotFound) {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// RunTrialsResponse is the body of GET /runs/{id}/trials
type RunTrialsResponse struct {
	Trials []*models.TrialRecord `json:"trials" yaml:"trials"`
	Count  int                   `json:"count" yaml:"count"`
}

// ListRunTrials returns the stored trial records of a run
func (s *Server) ListRunTrials(w http.ResponseWriter, r *http.Request) {
	recs := []*models.TrialRecord{}
	if s.store != nil {
		got, err := s.store.ListTrials(mux.Vars(r)["id"])
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if got != nil {
			recs = got
		}
	}
	writeJSON(w, http.StatusOK, RunTrialsResponse{Trials: recs, Count: len(recs)})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
