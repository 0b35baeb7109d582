package models

import (
	"errors"
	"fmt"
)

// Edge is a directed message-passing edge from Src to Dst
type Edge struct {
	Src int `json:"src"`
	Dst int `json:"dst"`
}

// Dataset is the shared, read-only graph a run trains on.
// Unknown labels are -1.
type Dataset struct {
	Features    [][]float64 `json:"features"`
	Edges       []Edge      `json:"edges"`
	EdgeWeights []float64   `json:"edge_weights,omitempty"`
	Labels      []int       `json:"labels"`
	TrainMask   []bool      `json:"train_mask"`
	ValMask     []bool      `json:"val_mask"`
	TestMask    []bool      `json:"test_mask"`
	NumClasses  int         `json:"num_classes"`
}

var ErrInvalidDataset = errors.New("invalid dataset")

// NumNodes returns the node count
func (d *Dataset) NumNodes() int {
	return len(d.Features)
}

// NumFeatures returns the input feature dimensionality
func (d *Dataset) NumFeatures() int {
	if len(d.Features) == 0 {
		return 0
	}
	return len(d.Features[0])
}

// NumEdges returns the number of directed edges
func (d *Dataset) NumEdges() int {
	return len(d.Edges)
}

// HasEdgeWeights reports whether the dataset carries per-edge weights
func (d *Dataset) HasEdgeWeights() bool {
	return len(d.EdgeWeights) > 0
}

// Indices returns the node indices selected by mask, in ascending order
func Indices(mask []bool) []int {
	var idx []int
	for i, m := range mask {
		if m {
			idx = append(idx, i)
		}
	}
	return idx
}

// TestIndices returns the test node indices in ascending order
func (d *Dataset) TestIndices() []int {
	return Indices(d.TestMask)
}

// Validate enforces the dataset invariants: masks partition the node set,
// feature rows match the node count and labelled masks carry labels.
func (d *Dataset) Validate() error {
	n := d.NumNodes()
	if n == 0 {
		return fmt.Errorf("%w: no nodes", ErrInvalidDataset)
	}
	width := len(d.Features[0])
	if width == 0 {
		return fmt.Errorf("%w: empty feature rows", ErrInvalidDataset)
	}
	for i, row := range d.Features {
		if len(row) != width {
			return fmt.Errorf("%w: feature row %d has %d columns, want %d", ErrInvalidDataset, i, len(row), width)
		}
	}
	if len(d.Labels) != n || len(d.TrainMask) != n || len(d.ValMask) != n || len(d.TestMask) != n {
		return fmt.Errorf("%w: labels and masks must have %d entries", ErrInvalidDataset, n)
	}
	if d.NumClasses < 2 {
		return fmt.Errorf("%w: need at least 2 classes, got %d", ErrInvalidDataset, d.NumClasses)
	}
	if d.HasEdgeWeights() && len(d.EdgeWeights) != len(d.Edges) {
		return fmt.Errorf("%w: %d edge weights for %d edges", ErrInvalidDataset, len(d.EdgeWeights), len(d.Edges))
	}
	for i, e := range d.Edges {
		if e.Src < 0 || e.Src >= n || e.Dst < 0 || e.Dst >= n {
			return fmt.Errorf("%w: edge %d (%d->%d) out of range", ErrInvalidDataset, i, e.Src, e.Dst)
		}
	}

	var train, val, test int
	for i := 0; i < n; i++ {
		set := 0
		if d.TrainMask[i] {
			set++
			train++
		}
		if d.ValMask[i] {
			set++
			val++
		}
		if d.TestMask[i] {
			set++
			test++
		}
		if set != 1 {
			return fmt.Errorf("%w: node %d belongs to %d masks", ErrInvalidDataset, i, set)
		}
		if (d.TrainMask[i] || d.ValMask[i]) && (d.Labels[i] < 0 || d.Labels[i] >= d.NumClasses) {
			return fmt.Errorf("%w: node %d has label %d outside [0, %d)", ErrInvalidDataset, i, d.Labels[i], d.NumClasses)
		}
	}
	if train == 0 || val == 0 || test == 0 {
		return fmt.Errorf("%w: empty split (train=%d val=%d test=%d)", ErrInvalidDataset, train, val, test)
	}
	return nil
}
