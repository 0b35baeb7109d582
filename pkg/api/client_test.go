package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autograph/gnnsearch/pkg/auth"
	"github.com/autograph/gnnsearch/pkg/executor"
	"github.com/autograph/gnnsearch/pkg/models"
	"github.com/autograph/gnnsearch/pkg/retry"
	"github.com/autograph/gnnsearch/pkg/store"
)

var fastRetry = retry.Config{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 1}

func TestClientAgainstServer(t *testing.T) {
	st := store.NewMemoryStore()
	require.NoError(t, st.SaveRun(&models.Run{ID: "r1", Status: models.RunStatusRunning, StartedAt: time.Now()}))

	s := NewServer(nil, st, nil, nil)
	s.Attach("r1", &fakeSource{snaps: []executor.TrialSnapshot{
		snap(0, models.TrialStatusCompleted, 0.7),
		snap(1, models.TrialStatusRunning, 0),
		snap(2, models.TrialStatusCompleted, 0.9),
	}})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	c := NewClient(ts.URL+"/", WithRetry(fastRetry))
	ctx := context.Background()

	health, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, "r1", health["run_id"])

	trials, err := c.Trials(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "r1", trials.RunID)
	assert.Equal(t, 3, trials.Count)
	require.NotNil(t, trials.Stats)
	assert.Equal(t, 3, trials.Stats.Submitted)

	running, err := c.Trials(ctx, models.TrialStatusRunning)
	require.NoError(t, err)
	assert.Equal(t, 1, running.Count)

	board, err := c.Leaderboard(ctx, 1)
	require.NoError(t, err)
	require.Len(t, board.Entries, 1)
	assert.Equal(t, 2, board.Entries[0].Seq)

	runs, err := c.Runs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	run, err := c.Run(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, run.Status)

	_, err = c.Run(ctx, "nope")
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
}

func TestClientSendsToken(t *testing.T) {
	g, err := auth.NewTokenGuard("tok", "")
	require.NoError(t, err)
	s := NewServer(nil, nil, nil, nil)
	s.RequireToken(g)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	_, err = NewClient(ts.URL, WithRetry(fastRetry)).Trials(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")

	_, err = NewClient(ts.URL, WithToken("tok"), WithRetry(fastRetry)).Trials(context.Background(), "")
	assert.NoError(t, err)
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, "warming up", http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusOK, RunsResponse{Runs: []*models.Run{}})
	}))
	defer ts.Close()

	runs, err := NewClient(ts.URL, WithRetry(fastRetry)).Runs(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "bad", http.StatusBadRequest)
	}))
	defer ts.Close()

	_, err := NewClient(ts.URL, WithRetry(fastRetry)).Leaderboard(context.Background(), 0)
	assert.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}
