package api

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autograph/gnnsearch/pkg/auth"
	"github.com/autograph/gnnsearch/pkg/executor"
	"github.com/autograph/gnnsearch/pkg/models"
	"github.com/autograph/gnnsearch/pkg/store"
	tlsutil "github.com/autograph/gnnsearch/pkg/tls"
)

type fakeSource struct {
	snaps []executor.TrialSnapshot
}

func (f *fakeSource) Snapshot() []executor.TrialSnapshot {
	return append([]executor.TrialSnapshot(nil), f.snaps...)
}

func (f *fakeSource) Stats() executor.Stats {
	return executor.Stats{Submitted: len(f.snaps)}
}

func (f *fakeSource) State() models.ExecutorState {
	return models.ExecutorAccepting
}

func snap(seq int, status models.TrialStatus, acc float64) executor.TrialSnapshot {
	start := time.Unix(1700000000, 0)
	return executor.TrialSnapshot{
		Spec:        models.TrialSpec{ID: "t" + string(rune('a'+seq)), Seq: seq, Conv: models.ConvVariant{Kind: models.ConvGCN}},
		Status:      status,
		ValAccuracy: acc,
		Timing:      models.TrialTiming{QueuedAt: start, StartedAt: start, FinishedAt: start.Add(2 * time.Second)},
	}
}

type brokenStore struct {
	store.Store
}

func (brokenStore) HealthCheck() error { return errors.New("database is locked") }

func get(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]interface{}
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	}
	return rr, body
}

func TestHealth(t *testing.T) {
	s := NewServer(nil, store.NewMemoryStore(), nil, nil)
	rr, body := get(t, s.Handler(), "/health")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "ok", body["store"])

	s = NewServer(nil, brokenStore{}, nil, nil)
	rr, body = get(t, s.Handler(), "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "degraded", body["status"])
}

func TestTrialsWithoutActiveRun(t *testing.T) {
	s := NewServer(nil, nil, nil, nil)
	rr, body := get(t, s.Handler(), "/trials")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 0, body["count"])
}

func TestTrialsAndLeaderboard(t *testing.T) {
	src := &fakeSource{snaps: []executor.TrialSnapshot{
		snap(0, models.TrialStatusCompleted, 0.80),
		snap(1, models.TrialStatusFailed, 0),
		snap(2, models.TrialStatusCompleted, 0.90),
		snap(3, models.TrialStatusCompleted, 0.80),
		snap(4, models.TrialStatusRunning, 0),
	}}
	s := NewServer(nil, nil, nil, nil)
	s.Attach("run-1", src)

	rr, body := get(t, s.Handler(), "/trials")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "run-1", body["run_id"])
	assert.EqualValues(t, 5, body["count"])

	_, body = get(t, s.Handler(), "/trials?status=completed")
	assert.EqualValues(t, 3, body["count"])

	_, body = get(t, s.Handler(), "/leaderboard")
	entries := body["entries"].([]interface{})
	require.Len(t, entries, 3)
	var seqs []float64
	for _, e := range entries {
		seqs = append(seqs, e.(map[string]interface{})["seq"].(float64))
	}
	assert.Equal(t, []float64{2, 0, 3}, seqs, "accuracy desc, ties by submission order")

	_, body = get(t, s.Handler(), "/leaderboard?limit=1")
	assert.Len(t, body["entries"], 1)

	s.Detach("other")
	_, body = get(t, s.Handler(), "/trials")
	assert.EqualValues(t, 5, body["count"], "detach of another run is ignored")
	s.Detach("run-1")
	_, body = get(t, s.Handler(), "/trials")
	assert.EqualValues(t, 0, body["count"])
}

func TestRunHistoryRoutes(t *testing.T) {
	st := store.NewMemoryStore()
	require.NoError(t, st.SaveRun(&models.Run{ID: "r1", Status: models.RunStatusCompleted, StartedAt: time.Now()}))
	require.NoError(t, st.SaveTrial(&models.TrialRecord{
		RunID:  "r1",
		Spec:   models.TrialSpec{ID: "t0", Conv: models.ConvVariant{Kind: models.ConvSAGE}},
		Status: models.TrialStatusCompleted,
	}))
	s := NewServer(nil, st, nil, nil)

	_, body := get(t, s.Handler(), "/runs")
	assert.EqualValues(t, 1, body["count"])

	rr, body := get(t, s.Handler(), "/runs/r1")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "completed", body["status"])

	rr, _ = get(t, s.Handler(), "/runs/missing")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	_, body = get(t, s.Handler(), "/runs/r1/trials")
	assert.EqualValues(t, 1, body["count"])
}

func TestMetricsEndpoint(t *testing.T) {
	m := executor.NewMetrics(nil)
	s := NewServer(m.Registry(), nil, nil, nil)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "gnnsearch_trials_running")
}

func TestStartAndShutdown(t *testing.T) {
	s := NewServer(nil, nil, nil, nil)
	addr, err := s.Start("127.0.0.1:0")
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr.String() + "/health")
	require.NoError(t, err)
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	_, err = s.Start("256.0.0.1:bad")
	assert.Error(t, err)
}

func TestRequireToken(t *testing.T) {
	g, err := auth.NewTokenGuard("status-token", "")
	require.NoError(t, err)
	s := NewServer(nil, store.NewMemoryStore(), nil, nil)
	s.RequireToken(g)

	rr, _ := get(t, s.Handler(), "/health")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr, _ = get(t, s.Handler(), "/runs")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/runs", nil)
	req.Header.Set("Authorization", "Bearer status-token")
	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestStartTLS(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "cert.pem")
	keyFile := filepath.Join(dir, "key.pem")
	require.NoError(t, tlsutil.GenerateSelfSignedCert(certFile, keyFile, "localhost", time.Hour))
	tlsConfig, err := tlsutil.ServerConfig(certFile, keyFile, "")
	require.NoError(t, err)

	s := NewServer(nil, nil, nil, nil)
	s.UseTLS(tlsConfig)
	addr, err := s.Start("127.0.0.1:0")
	require.NoError(t, err)
	defer s.Shutdown(context.Background())

	pem, err := os.ReadFile(certFile)
	require.NoError(t, err)
	pool := x509.NewCertPool()
	require.True(t, pool.AppendCertsFromPEM(pem))
	client := &http.Client{
		Timeout:   5 * time.Second,
		Transport: &http.Transport{TLSClientConfig: &tls.Config{RootCAs: pool}},
	}

	resp, err := client.Get("https://" + addr.String() + "/health")
	require.NoError(t, err)
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
