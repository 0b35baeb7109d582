package space

import (
	"errors"
	"fmt"
	"testing"

	"github.com/autograph/gnnsearch/pkg/models"
)

func TestSamplerWithoutReplacement(t *testing.T) {
	s := Default()
	sampler := NewSampler(s, 42, 0)

	seen := make(map[string]bool)
	for i := 0; i < s.Size(); i++ {
		spec, err := sampler.Next()
		if err != nil {
			t.Fatalf("Next() at %d: %v", i, err)
		}
		if spec.Seq != i {
			t.Errorf("seq = %d, want %d", spec.Seq, i)
		}
		k := fmt.Sprintf("%s|%d|%d|%g", spec.Conv, spec.HiddenSize, spec.NIter, spec.LearningRate)
		if seen[k] {
			t.Fatalf("point drawn twice: %s", k)
		}
		seen[k] = true
	}
	if sampler.Remaining() != 0 {
		t.Errorf("Remaining() = %d, want 0", sampler.Remaining())
	}
	if _, err := sampler.Next(); !errors.Is(err, ErrExhausted) {
		t.Errorf("expected ErrExhausted, got %v", err)
	}
}

func TestSamplerDeterministic(t *testing.T) {
	a := NewSampler(Default(), 3, 0)
	b := NewSampler(Default(), 3, 0)
	for i := 0; i < 10; i++ {
		x, _ := a.Next()
		y, _ := b.Next()
		if x.String() != y.String() {
			t.Fatalf("draw %d differs: %s vs %s", i, x, y)
		}
	}
}

func TestSamplerPatience(t *testing.T) {
	sampler := NewSampler(Default(), 1, 2)
	observe := func(acc float64) {
		sampler.Observe(&models.TrialResult{ValAccuracy: acc})
	}

	observe(0.5)
	observe(0.6)
	if sampler.ShouldStop() {
		t.Fatal("stopped while improving")
	}
	observe(0.6)
	if sampler.ShouldStop() {
		t.Fatal("stopped after one stale result")
	}
	observe(0.4)
	if !sampler.ShouldStop() {
		t.Fatal("expected stop after two stale results")
	}
	best, n := sampler.Best()
	if best != 0.6 || n != 4 {
		t.Errorf("Best() = %v, %d", best, n)
	}

	disabled := NewSampler(Default(), 1, 0)
	for i := 0; i < 10; i++ {
		disabled.Observe(&models.TrialResult{ValAccuracy: 0.1})
	}
	if disabled.ShouldStop() {
		t.Error("patience 0 must never stop")
	}
}
