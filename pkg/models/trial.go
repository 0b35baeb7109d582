package models

import (
	"fmt"
	"time"
)

// TrialSpec is one fully resolved point of a search space.
// It is a value type; copies never alias.
type TrialSpec struct {
	ID           string      `json:"id" yaml:"id"`
	Seq          int         `json:"seq" yaml:"seq"` // submission order, used for tie-breaking
	Conv         ConvVariant `json:"conv" yaml:"conv"`
	HiddenSize   int         `json:"hidden_size" yaml:"hidden_size"`
	NumLayers    int         `json:"num_layers" yaml:"num_layers"`
	InDropout    float64     `json:"in_dropout" yaml:"in_dropout"`
	OutDropout   float64     `json:"out_dropout" yaml:"out_dropout"`
	NIter        int         `json:"n_iter" yaml:"n_iter"`
	WeightDecay  float64     `json:"weight_decay" yaml:"weight_decay"`
	LearningRate float64     `json:"learning_rate" yaml:"learning_rate"`
	Seed         int64       `json:"seed" yaml:"seed"`
}

// Validate checks hyperparameter ranges
func (s TrialSpec) Validate() error {
	if err := s.Conv.Validate(); err != nil {
		return err
	}
	if s.HiddenSize <= 0 {
		return fmt.Errorf("hidden_size must be positive, got %d", s.HiddenSize)
	}
	if s.NumLayers < 0 {
		return fmt.Errorf("num_layers must be non-negative, got %d", s.NumLayers)
	}
	if s.InDropout < 0 || s.InDropout >= 1 || s.OutDropout < 0 || s.OutDropout >= 1 {
		return fmt.Errorf("dropout must be in [0, 1)")
	}
	if s.NIter <= 0 {
		return fmt.Errorf("n_iter must be positive, got %d", s.NIter)
	}
	if s.LearningRate <= 0 {
		return fmt.Errorf("learning_rate must be positive, got %g", s.LearningRate)
	}
	if s.WeightDecay < 0 {
		return fmt.Errorf("weight_decay must be non-negative, got %g", s.WeightDecay)
	}
	return nil
}

// String renders the configuration for log lines
func (s TrialSpec) String() string {
	return fmt.Sprintf("#%d %s hidden=%d layers=%d drop=%.2f/%.2f iter=%d wd=%g lr=%g",
		s.Seq, s.Conv, s.HiddenSize, s.NumLayers, s.InDropout, s.OutDropout,
		s.NIter, s.WeightDecay, s.LearningRate)
}

// ResourceClaim is the fractional capacity a trial holds while running
type ResourceClaim struct {
	CPU float64 `json:"cpu" yaml:"cpu"`
	GPU float64 `json:"gpu" yaml:"gpu"`
}

// TrialTiming records when a trial moved through the executor
type TrialTiming struct {
	QueuedAt   time.Time `json:"queued_at" yaml:"queued_at"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at" yaml:"finished_at"`
}

// QueueWait is the time spent pending before a worker picked the trial up
func (t TrialTiming) QueueWait() time.Duration {
	if t.StartedAt.IsZero() {
		return 0
	}
	return t.StartedAt.Sub(t.QueuedAt)
}

// Duration is the training wall time
func (t TrialTiming) Duration() time.Duration {
	if t.StartedAt.IsZero() || t.FinishedAt.IsZero() {
		return 0
	}
	return t.FinishedAt.Sub(t.StartedAt)
}

// TrialResult is the output of one completed trial
type TrialResult struct {
	Spec         TrialSpec     `json:"spec" yaml:"spec"`
	Predictions  [][]float64   `json:"-" yaml:"-"` // raw scores, one row per test node
	ValAccuracy  float64       `json:"val_accuracy" yaml:"val_accuracy"`
	Timing       TrialTiming   `json:"timing" yaml:"timing"`
	Claim        ResourceClaim `json:"claim" yaml:"claim"`
	PeakInFlight int           `json:"peak_in_flight" yaml:"peak_in_flight"` // running trials observed at dispatch
}

// TrialRecord is the persisted view of a trial in a terminal state
type TrialRecord struct {
	RunID       string      `json:"run_id" yaml:"run_id"`
	Spec        TrialSpec   `json:"spec" yaml:"spec"`
	Status      TrialStatus `json:"status" yaml:"status"`
	ValAccuracy float64     `json:"val_accuracy" yaml:"val_accuracy"`
	Error       string      `json:"error,omitempty" yaml:"error,omitempty"`
	Timing      TrialTiming `json:"timing" yaml:"timing"`
}

// RecordFromResult builds the persisted record of a completed trial
func RecordFromResult(runID string, r *TrialResult) *TrialRecord {
	return &TrialRecord{
		RunID:       runID,
		Spec:        r.Spec,
		Status:      TrialStatusCompleted,
		ValAccuracy: r.ValAccuracy,
		Timing:      r.Timing,
	}
}
