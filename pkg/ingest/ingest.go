package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sort"

	"github.com/autograph/gnnsearch/pkg/models"
)

// DefaultValFraction is the share of training nodes held out for
// validation when the raw graph carries no explicit validation split.
const DefaultValFraction = 0.2

var ErrInvalidGraph = errors.New("invalid raw graph")

// RawGraph is the on-disk JSON form of a node classification task
type RawGraph struct {
	Features     [][]float64 `json:"features"`
	Edges        [][2]int    `json:"edges"`
	EdgeWeights  []float64   `json:"edge_weights,omitempty"`
	Labels       []int       `json:"labels"`
	TrainIndices []int       `json:"train_indices"`
	ValIndices   []int       `json:"val_indices,omitempty"`
	TestIndices  []int       `json:"test_indices"`
}

// Schema describes how to interpret a raw graph
type Schema struct {
	Directed    bool    `json:"directed" yaml:"directed"`
	ValFraction float64 `json:"val_fraction" yaml:"val_fraction"`
	Seed        int64   `json:"seed" yaml:"seed"`
}

// LoadFile reads a RawGraph from a JSON file
func LoadFile(path string) (*RawGraph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read graph %s: %w", path, err)
	}
	var raw RawGraph
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse graph %s: %w", path, err)
	}
	return &raw, nil
}

// Build converts a raw graph into a validated Dataset. Undirected graphs
// get a reverse edge for every non-loop edge. Without explicit validation
// indices a seeded ValFraction of the training nodes is held out.
func Build(raw *RawGraph, nClasses int, schema Schema) (*models.Dataset, error) {
	n := len(raw.Features)
	if n == 0 {
		return nil, fmt.Errorf("%w: no nodes", ErrInvalidGraph)
	}
	if len(raw.EdgeWeights) > 0 && len(raw.EdgeWeights) != len(raw.Edges) {
		return nil, fmt.Errorf("%w: %d edge weights for %d edges", ErrInvalidGraph, len(raw.EdgeWeights), len(raw.Edges))
	}

	ds := &models.Dataset{
		Features:   raw.Features,
		Labels:     make([]int, n),
		TrainMask:  make([]bool, n),
		ValMask:    make([]bool, n),
		TestMask:   make([]bool, n),
		NumClasses: nClasses,
	}

	for i, e := range raw.Edges {
		ds.Edges = append(ds.Edges, models.Edge{Src: e[0], Dst: e[1]})
		if len(raw.EdgeWeights) > 0 {
			ds.EdgeWeights = append(ds.EdgeWeights, raw.EdgeWeights[i])
		}
		if !schema.Directed && e[0] != e[1] {
			ds.Edges = append(ds.Edges, models.Edge{Src: e[1], Dst: e[0]})
			if len(raw.EdgeWeights) > 0 {
				ds.EdgeWeights = append(ds.EdgeWeights, raw.EdgeWeights[i])
			}
		}
	}

	for i := range ds.Labels {
		ds.Labels[i] = -1
		if i < len(raw.Labels) {
			ds.Labels[i] = raw.Labels[i]
		}
	}

	train, val := raw.TrainIndices, raw.ValIndices
	if len(val) == 0 {
		train, val = holdOut(train, schema.valFraction(), schema.Seed)
	}
	if err := mark(ds.TrainMask, train, "train"); err != nil {
		return nil, err
	}
	if err := mark(ds.ValMask, val, "val"); err != nil {
		return nil, err
	}
	if err := mark(ds.TestMask, raw.TestIndices, "test"); err != nil {
		return nil, err
	}
	for i := range ds.Labels {
		if ds.TestMask[i] {
			ds.Labels[i] = -1
		}
	}

	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return ds, nil
}

func (s Schema) valFraction() float64 {
	if s.ValFraction <= 0 || s.ValFraction >= 1 {
		return DefaultValFraction
	}
	return s.ValFraction
}

// holdOut moves a seeded random fraction of train into a validation split,
// keeping at least one node on each side.
func holdOut(train []int, fraction float64, seed int64) ([]int, []int) {
	if len(train) < 2 {
		return train, nil
	}
	shuffled := append([]int(nil), train...)
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	k := int(float64(len(shuffled)) * fraction)
	if k < 1 {
		k = 1
	}
	if k > len(shuffled)-1 {
		k = len(shuffled) - 1
	}
	val, rest := shuffled[:k], shuffled[k:]
	sort.Ints(val)
	sort.Ints(rest)
	return rest, val
}

func mark(mask []bool, idx []int, split string) error {
	for _, i := range idx {
		if i < 0 || i >= len(mask) {
			return fmt.Errorf("%w: %s index %d out of range", ErrInvalidGraph, split, i)
		}
		mask[i] = true
	}
	return nil
}
