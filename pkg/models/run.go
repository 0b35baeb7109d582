package models

import "time"

// RunStatus represents the outcome of a TrainPredict invocation
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusExhausted RunStatus = "exhausted" // no trial finished before the cutoff
	RunStatusFailed    RunStatus = "failed"
)

// Run is one model-selection invocation
type Run struct {
	ID          string     `json:"id" yaml:"id"`
	BudgetS     float64    `json:"budget_s" yaml:"budget_s"`
	NumClasses  int        `json:"num_classes" yaml:"num_classes"`
	NumNodes    int        `json:"num_nodes" yaml:"num_nodes"`
	NumEdges    int        `json:"num_edges" yaml:"num_edges"`
	Concurrency int        `json:"concurrency" yaml:"concurrency"`
	Submitted   int        `json:"submitted" yaml:"submitted"`
	Completed   int        `json:"completed" yaml:"completed"`
	Failed      int        `json:"failed" yaml:"failed"`
	Selected    []string   `json:"selected,omitempty" yaml:"selected,omitempty"` // trial IDs in the ensemble
	Status      RunStatus  `json:"status" yaml:"status"`
	Error       string     `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at" yaml:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
}
