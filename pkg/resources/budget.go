package resources

import (
	"errors"
	"fmt"
	"math"
)

// DefaultLargeGraphEdges is the edge count at which a graph is considered
// large enough to exhaust device memory with several concurrent trials.
const DefaultLargeGraphEdges = 400000

var ErrInsufficientCapacity = errors.New("insufficient capacity for a single trial")

// Budget is the fractional claim each trial holds while running
type Budget struct {
	CPUPerTrial float64 `json:"cpu_per_trial" yaml:"cpu_per_trial"`
	GPUPerTrial float64 `json:"gpu_per_trial" yaml:"gpu_per_trial"`
}

// Capacity is the total compute available to the run
type Capacity struct {
	CPUs        float64  `json:"cpus" yaml:"cpus"`
	GPUs        float64  `json:"gpus" yaml:"gpus"`
	MemoryBytes uint64   `json:"memory_bytes" yaml:"memory_bytes"`
	GPUNames    []string `json:"gpu_names,omitempty" yaml:"gpu_names,omitempty"`
}

// HasGPU reports whether any GPU capacity is available
func (c Capacity) HasGPU() bool {
	return c.GPUs > 0
}

// Validate checks that claims are non-negative and at least one is set
func (b Budget) Validate() error {
	if b.CPUPerTrial < 0 || b.GPUPerTrial < 0 {
		return fmt.Errorf("per-trial claims must be non-negative (cpu=%g gpu=%g)", b.CPUPerTrial, b.GPUPerTrial)
	}
	if b.CPUPerTrial == 0 && b.GPUPerTrial == 0 {
		return fmt.Errorf("at least one per-trial claim must be positive")
	}
	return nil
}

// Effective returns the claim a trial actually holds on this capacity.
// On a host without GPUs the GPU share is dropped and trials run CPU-only.
func (b Budget) Effective(c Capacity) Budget {
	if !c.HasGPU() {
		b.GPUPerTrial = 0
	}
	return b
}

// ConcurrencyLimit derives N = floor(min(cpus/cpuPerTrial, gpus/gpuPerTrial)).
// Dimensions with a zero claim do not constrain N.
func ConcurrencyLimit(c Capacity, b Budget) (int, error) {
	if err := b.Validate(); err != nil {
		return 0, err
	}
	b = b.Effective(c)

	limit := math.Inf(1)
	if b.CPUPerTrial > 0 {
		limit = math.Min(limit, c.CPUs/b.CPUPerTrial)
	}
	if b.GPUPerTrial > 0 {
		limit = math.Min(limit, c.GPUs/b.GPUPerTrial)
	}
	if math.IsInf(limit, 1) {
		return 0, fmt.Errorf("%w: no constraining claim", ErrInsufficientCapacity)
	}

	// tolerate float noise such as 0.9/0.3 = 2.9999999999999996
	n := int(math.Floor(limit + 1e-9))
	if n < 1 {
		return 0, fmt.Errorf("%w: capacity cpu=%g gpu=%g, claim cpu=%g gpu=%g",
			ErrInsufficientCapacity, c.CPUs, c.GPUs, b.CPUPerTrial, b.GPUPerTrial)
	}
	return n, nil
}

// GraphConcurrency is the data-size throttle: 3 concurrent trials for graphs
// below threshold edges, 1 otherwise.
func GraphConcurrency(numEdges, threshold int) int {
	if threshold <= 0 {
		threshold = DefaultLargeGraphEdges
	}
	if numEdges < threshold {
		return 3
	}
	return 1
}

// Limit combines the budget limit, the graph throttle and an optional cap
// (0 = uncapped) into the executor's pool size.
func Limit(budgetLimit, graphLimit, maxConcurrent int) int {
	n := budgetLimit
	if graphLimit < n {
		n = graphLimit
	}
	if maxConcurrent > 0 && maxConcurrent < n {
		n = maxConcurrent
	}
	if n < 1 {
		n = 1
	}
	return n
}
