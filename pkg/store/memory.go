package store

import (
	"sort"
	"sync"

	"github.com/autograph/gnnsearch/pkg/models"
)

// MemoryStore keeps runs and trials in process memory
type MemoryStore struct {
	mu     sync.RWMutex
	runs   map[string]*models.Run
	trials map[string]map[string]*models.TrialRecord // runID -> trialID -> record
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:   make(map[string]*models.Run),
		trials: make(map[string]map[string]*models.TrialRecord),
	}
}

// SaveRun inserts or replaces a run
func (s *MemoryStore) SaveRun(run *models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *run
	cp.Selected = append([]string(nil), run.Selected...)
	s.runs[run.ID] = &cp
	return nil
}

// GetRun retrieves a run by ID
func (s *MemoryStore) GetRun(id string) (*models.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	cp := *run
	return &cp, nil
}

// ListRuns returns the most recent runs first
func (s *MemoryStore) ListRuns(limit int) ([]*models.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]*models.Run, 0, len(s.runs))
	for _, r := range s.runs {
		cp := *r
		runs = append(runs, &cp)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// SaveTrial inserts or replaces a trial record
func (s *MemoryStore) SaveTrial(rec *models.TrialRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID, ok := s.trials[rec.RunID]
	if !ok {
		byID = make(map[string]*models.TrialRecord)
		s.trials[rec.RunID] = byID
	}
	cp := *rec
	byID[rec.Spec.ID] = &cp
	return nil
}

// ListTrials returns a run's trials in submission order
func (s *MemoryStore) ListTrials(runID string) ([]*models.TrialRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := make([]*models.TrialRecord, 0, len(s.trials[runID]))
	for _, r := range s.trials[runID] {
		cp := *r
		recs = append(recs, &cp)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Spec.Seq < recs[j].Spec.Seq })
	return recs, nil
}

// HealthCheck always succeeds
func (s *MemoryStore) HealthCheck() error {
	return nil
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}
