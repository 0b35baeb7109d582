package space

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/autograph/gnnsearch/pkg/models"
)

func key(a Assignment, names []string) string {
	k := ""
	for _, n := range names {
		k += fmt.Sprintf("%s=%v;", n, a[n])
	}
	return k
}

func TestFlatCoversCrossProduct(t *testing.T) {
	tests := []struct {
		name  string
		sizes []int
	}{
		{"single", []int{1}},
		{"pair", []int{2, 3}},
		{"three dims", []int{3, 1, 4}},
		{"wide", []int{2, 2, 2, 2, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var dims []Dimension
			var names []string
			want := 1
			for i, n := range tt.sizes {
				d := Dimension{Name: fmt.Sprintf("d%d", i)}
				for v := 0; v < n; v++ {
					d.Values = append(d.Values, v)
				}
				dims = append(dims, d)
				names = append(names, d.Name)
				want *= n
			}

			s, err := New(dims...)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			flat := s.Flat()
			if len(flat) != want || s.Size() != want {
				t.Fatalf("got %d points (Size %d), want %d", len(flat), s.Size(), want)
			}

			seen := make(map[string]bool)
			for _, a := range flat {
				if len(a) != len(names) {
					t.Fatalf("assignment %v missing dimensions", a)
				}
				k := key(a, names)
				if seen[k] {
					t.Fatalf("duplicate point %s", k)
				}
				seen[k] = true
			}
		})
	}
}

func TestFlatOrderLastDimensionFastest(t *testing.T) {
	s, err := New(
		Dimension{Name: "a", Values: []interface{}{"x", "y"}},
		Dimension{Name: "b", Values: []interface{}{1, 2}},
	)
	if err != nil {
		t.Fatal(err)
	}
	flat := s.Flat()
	want := []string{"x1", "x2", "y1", "y2"}
	for i, a := range flat {
		if got := fmt.Sprintf("%v%v", a["a"], a["b"]); got != want[i] {
			t.Errorf("point %d = %s, want %s", i, got, want[i])
		}
	}
}

func TestNewRejectsBadDimensions(t *testing.T) {
	tests := []struct {
		name string
		dims []Dimension
	}{
		{"unnamed", []Dimension{{Values: []interface{}{1}}}},
		{"empty values", []Dimension{{Name: "a"}}},
		{"duplicate", []Dimension{{Name: "a", Values: []interface{}{1}}, {Name: "a", Values: []interface{}{2}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.dims...); !errors.Is(err, ErrInvalidSpace) {
				t.Errorf("expected ErrInvalidSpace, got %v", err)
			}
		})
	}
}

func TestDefaultSpace(t *testing.T) {
	s := Default()
	if s.Size() != 56 {
		t.Fatalf("default space size = %d, want 56", s.Size())
	}
	specs, err := s.TrialSpecs(7)
	if err != nil {
		t.Fatalf("TrialSpecs: %v", err)
	}
	ids := make(map[string]bool)
	for i, spec := range specs {
		if spec.Seq != i || spec.Seed != 7+int64(i) {
			t.Errorf("spec %d has seq=%d seed=%d", i, spec.Seq, spec.Seed)
		}
		if ids[spec.ID] {
			t.Errorf("duplicate trial id %s", spec.ID)
		}
		ids[spec.ID] = true
	}
	if specs[0].Conv.Kind != models.ConvGCN || specs[len(specs)-1].Conv.Kind != models.ConvSAGE {
		t.Errorf("unexpected conv order: first=%s last=%s", specs[0].Conv, specs[len(specs)-1].Conv)
	}
}

func TestTrialSpecsRequiresStandardDimensions(t *testing.T) {
	s, _ := New(Dimension{Name: DimHiddenSize, Values: []interface{}{32}})
	if _, err := s.TrialSpecs(0); !errors.Is(err, ErrInvalidSpace) {
		t.Errorf("expected ErrInvalidSpace, got %v", err)
	}
}

func TestTrialSpecsRejectsUnknownDimension(t *testing.T) {
	dims := append(Default().Dimensions(), Dimension{Name: "batch_size", Values: []interface{}{64, 128}})
	s, err := New(dims...)
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.TrialSpecs(0)
	if !errors.Is(err, ErrInvalidSpace) {
		t.Fatalf("expected ErrInvalidSpace, got %v", err)
	}
	if !strings.Contains(err.Error(), "batch_size") {
		t.Errorf("error %q does not name the dimension", err)
	}
}

const spaceYAML = `
conv:
  - {kind: cheb, k: 7}
  - {kind: graph, aggr: mean}
hidden_size: [16]
num_layers: [1, 2]
in_dropout: [0.5]
out_dropout: [0.5]
n_iter: [20]
weight_decay: [1e-3]
learning_rate: [0.01]
`

func TestParsePreservesOrder(t *testing.T) {
	s, err := Parse([]byte(spaceYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	dims := s.Dimensions()
	if dims[0].Name != DimConv || dims[len(dims)-1].Name != DimLearningRate {
		t.Errorf("dimension order not preserved: first=%s last=%s", dims[0].Name, dims[len(dims)-1].Name)
	}
	if s.Size() != 4 {
		t.Fatalf("Size() = %d, want 4", s.Size())
	}

	specs, err := s.TrialSpecs(1)
	if err != nil {
		t.Fatalf("TrialSpecs: %v", err)
	}
	if specs[0].Conv.K != 7 || specs[0].NumLayers != 1 || specs[1].NumLayers != 2 {
		t.Errorf("unexpected first specs: %v / %v", specs[0], specs[1])
	}
	if specs[2].Conv.Aggr != "mean" || specs[0].WeightDecay != 1e-3 {
		t.Errorf("unexpected decoded values: %v", specs[2])
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr bool
	}{
		{"not a mapping", "- a\n- b\n", true},
		{"scalar dimension", "hidden_size: 32\n", true},
		{"unknown conv", "conv: [{kind: transformer}]\n", true},
		{"missing dimensions", "conv: [{kind: sage}]\n", true},
		{"fractional width", strings.Replace(spaceYAML, "[16]", "[16.5]", 1), true},
		{"unknown dimension", spaceYAML + "extra: [1]\n", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if (err != nil) != tt.wantErr {
				t.Errorf("Parse() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadAndMarshalRoundTrip(t *testing.T) {
	out, err := yaml.Marshal(Default())
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	path := filepath.Join(t.TempDir(), "space.yaml")
	if err := os.WriteFile(path, out, 0644); err != nil {
		t.Fatal(err)
	}
	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v\n%s", err, out)
	}
	if s.Size() != 56 {
		t.Errorf("round-tripped size = %d, want 56", s.Size())
	}
}
