package ensemble

import (
	"errors"
	"math"
	"testing"

	"github.com/autograph/gnnsearch/pkg/models"
)

func result(seq int, acc float64, preds [][]float64) *models.TrialResult {
	return &models.TrialResult{Spec: models.TrialSpec{Seq: seq}, ValAccuracy: acc, Predictions: preds}
}

func seqs(rs []*models.TrialResult) []int {
	out := make([]int, len(rs))
	for i, r := range rs {
		out[i] = r.Spec.Seq
	}
	return out
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSelectTopKWithinTolerance(t *testing.T) {
	// completion order differs from rank order
	results := []*models.TrialResult{
		result(2, 0.85, nil),
		result(0, 0.90, nil),
		result(3, 0.70, nil),
		result(1, 0.89, nil),
	}

	tests := []struct {
		name string
		k    int
		tol  float64
		want []int
	}{
		{"top two within band", 2, 0.02, []int{0, 1}},
		{"narrow band keeps leader only", 2, 0.005, []int{0}},
		{"wide band limited by k", 3, 1, []int{0, 1, 2}},
		{"k of one", 1, 0.5, []int{0}},
		{"k zero", 0, 0.5, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := seqs(Select(results, tt.k, tt.tol)); !equalInts(got, tt.want) {
				t.Errorf("Select(k=%d, tol=%v) = %v, want %v", tt.k, tt.tol, got, tt.want)
			}
		})
	}
}

func TestRankTieBreaksBySubmission(t *testing.T) {
	results := []*models.TrialResult{result(5, 0.8, nil), result(1, 0.8, nil), result(3, 0.9, nil)}
	if got := seqs(Rank(results)); !equalInts(got, []int{3, 1, 5}) {
		t.Errorf("Rank() = %v, want [3 1 5]", got)
	}
	if results[0].Spec.Seq != 5 {
		t.Error("Rank must not reorder its input")
	}
}

func TestSoftmaxRowsSumToOne(t *testing.T) {
	probs := Softmax([][]float64{{1, 2, 3}, {1000, 1000, -1000}})
	for i, row := range probs {
		var sum float64
		for _, p := range row {
			sum += p
		}
		if math.Abs(sum-1) > 1e-12 {
			t.Errorf("row %d sums to %v", i, sum)
		}
	}
	if math.Abs(probs[1][0]-0.5) > 1e-12 {
		t.Errorf("large logits overflowed: %v", probs[1])
	}
}

func TestPredictSoftVote(t *testing.T) {
	// A is confident in class 0 for node 0, B slightly prefers class 1.
	// Averaged probabilities side with A. Node 1 is the reverse.
	a := result(0, 0.90, [][]float64{{5, 0}, {0, 0.2}})
	b := result(1, 0.89, [][]float64{{0, 0.2}, {0, 5}})
	c := result(2, 0.50, [][]float64{{0, 9}, {9, 0}})

	labels, members, err := Predict([]*models.TrialResult{c, b, a}, 2, 0.02)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if !equalInts(labels, []int{0, 1}) {
		t.Errorf("labels = %v, want [0 1]", labels)
	}
	if !equalInts(seqs(members), []int{0, 1}) {
		t.Errorf("members = %v, want [0 1]", seqs(members))
	}
}

func TestPredictErrors(t *testing.T) {
	if _, _, err := Predict(nil, 2, 0.02); !errors.Is(err, ErrNoTrialsCompleted) {
		t.Errorf("expected ErrNoTrialsCompleted, got %v", err)
	}
	a := result(0, 0.9, [][]float64{{1, 0}})
	b := result(1, 0.9, [][]float64{{1, 0}, {0, 1}})
	if _, _, err := Predict([]*models.TrialResult{a, b}, 2, 0.02); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("expected ErrShapeMismatch, got %v", err)
	}
}

func TestArgmaxTiesPickLowestClass(t *testing.T) {
	if got := Argmax([][]float64{{0.5, 0.5}, {0.1, 0.3, 0.3}}); !equalInts(got, []int{0, 1}) {
		t.Errorf("Argmax() = %v, want [0 1]", got)
	}
}
