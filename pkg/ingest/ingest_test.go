package ingest

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/autograph/gnnsearch/pkg/models"
)

func tinyRaw() *RawGraph {
	return &RawGraph{
		Features:     [][]float64{{1, 0}, {0, 1}, {1, 1}, {0, 0}, {1, 0}},
		Edges:        [][2]int{{0, 1}, {1, 2}, {3, 3}},
		Labels:       []int{0, 1, 0, 1, 0},
		TrainIndices: []int{0, 1},
		ValIndices:   []int{2},
		TestIndices:  []int{3, 4},
	}
}

func TestBuildUndirectedAddsReverseEdges(t *testing.T) {
	ds, err := Build(tinyRaw(), 2, Schema{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	// two regular edges doubled, self loop kept once
	if ds.NumEdges() != 5 {
		t.Errorf("NumEdges() = %d, want 5", ds.NumEdges())
	}
	if ds.Labels[3] != -1 || ds.Labels[4] != -1 {
		t.Errorf("test labels must be hidden, got %v", ds.Labels)
	}
	if got := ds.TestIndices(); len(got) != 2 || got[0] != 3 {
		t.Errorf("TestIndices() = %v", got)
	}
}

func TestBuildDirectedKeepsEdges(t *testing.T) {
	raw := tinyRaw()
	raw.EdgeWeights = []float64{0.5, 2, 1}
	ds, err := Build(raw, 2, Schema{Directed: true})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if ds.NumEdges() != 3 || len(ds.EdgeWeights) != 3 {
		t.Errorf("edges=%d weights=%d, want 3/3", ds.NumEdges(), len(ds.EdgeWeights))
	}
}

func TestBuildHoldsOutValidation(t *testing.T) {
	raw := Synthetic(SyntheticOptions{Nodes: 50, Classes: 2, Seed: 1})
	raw.TrainIndices = append(raw.TrainIndices, raw.ValIndices...)
	raw.ValIndices = nil

	ds, err := Build(raw, 2, Schema{ValFraction: 0.25, Seed: 9})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	train := len(models.Indices(ds.TrainMask))
	val := len(models.Indices(ds.ValMask))
	if train+val != 42 || val != 10 {
		t.Errorf("train=%d val=%d, want 32/10", train, val)
	}

	again, _ := Build(raw, 2, Schema{ValFraction: 0.25, Seed: 9})
	for i := range ds.ValMask {
		if ds.ValMask[i] != again.ValMask[i] {
			t.Fatal("hold-out split is not deterministic")
		}
	}
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *RawGraph)
		want   error
	}{
		{"no nodes", func(r *RawGraph) { r.Features = nil }, ErrInvalidGraph},
		{"weight count", func(r *RawGraph) { r.EdgeWeights = []float64{1} }, ErrInvalidGraph},
		{"index out of range", func(r *RawGraph) { r.TestIndices = append(r.TestIndices, 9) }, ErrInvalidGraph},
		{"overlapping splits", func(r *RawGraph) { r.ValIndices = []int{1, 2} }, models.ErrInvalidDataset},
		{"edge out of range", func(r *RawGraph) { r.Edges = append(r.Edges, [2]int{0, 7}) }, models.ErrInvalidDataset},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := tinyRaw()
			tt.mutate(raw)
			if _, err := Build(raw, 2, Schema{}); !errors.Is(err, tt.want) {
				t.Errorf("Build() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	data, err := json.Marshal(tinyRaw())
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "graph.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	raw, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(raw.Features) != 5 || raw.Edges[1] != [2]int{1, 2} {
		t.Errorf("unexpected graph: %+v", raw)
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestSyntheticSplits(t *testing.T) {
	raw := Synthetic(SyntheticOptions{Nodes: 100, Classes: 3, Homophily: 0.8, Noise: 0.3, Seed: 5})
	if len(raw.TrainIndices) != 70 || len(raw.ValIndices) != 15 || len(raw.TestIndices) != 15 {
		t.Fatalf("splits = %d/%d/%d, want 70/15/15", len(raw.TrainIndices), len(raw.ValIndices), len(raw.TestIndices))
	}
	ds, err := Build(raw, 3, Schema{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if ds.NumNodes() != 100 || ds.NumFeatures() != 3 {
		t.Errorf("unexpected dataset shape: %d x %d", ds.NumNodes(), ds.NumFeatures())
	}
}
