package ensemble

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/autograph/gnnsearch/pkg/models"
)

const (
	DefaultTopK      = 2
	DefaultTolerance = 0.02
)

var (
	ErrNoTrialsCompleted = errors.New("no trials completed")
	ErrShapeMismatch     = errors.New("prediction shapes differ")
)

// Rank sorts a copy of results by descending validation accuracy.
// Equal scores keep submission order.
func Rank(results []*models.TrialResult) []*models.TrialResult {
	ranked := append([]*models.TrialResult(nil), results...)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].ValAccuracy != ranked[j].ValAccuracy {
			return ranked[i].ValAccuracy > ranked[j].ValAccuracy
		}
		return ranked[i].Spec.Seq < ranked[j].Spec.Seq
	})
	return ranked
}

// Select returns up to k of the best results whose accuracy is within tol
// of the best one.
func Select(results []*models.TrialResult, k int, tol float64) []*models.TrialResult {
	if len(results) == 0 || k < 1 {
		return nil
	}
	ranked := Rank(results)
	best := ranked[0].ValAccuracy
	var selected []*models.TrialResult
	for _, r := range ranked {
		if len(selected) == k || r.ValAccuracy < best-tol {
			break
		}
		selected = append(selected, r)
	}
	return selected
}

// Softmax normalizes each row into class probabilities
func Softmax(scores [][]float64) [][]float64 {
	out := make([][]float64, len(scores))
	for i, row := range scores {
		p := make([]float64, len(row))
		hi := math.Inf(-1)
		for _, x := range row {
			if x > hi {
				hi = x
			}
		}
		var sum float64
		for j, x := range row {
			p[j] = math.Exp(x - hi)
			sum += p[j]
		}
		for j := range p {
			p[j] /= sum
		}
		out[i] = p
	}
	return out
}

// Average returns the element-wise mean of equally shaped matrices
func Average(mats [][][]float64) ([][]float64, error) {
	if len(mats) == 0 {
		return nil, ErrNoTrialsCompleted
	}
	rows := len(mats[0])
	out := make([][]float64, rows)
	for i := range out {
		out[i] = make([]float64, len(mats[0][i]))
	}
	for m, mat := range mats {
		if len(mat) != rows {
			return nil, fmt.Errorf("%w: matrix %d has %d rows, want %d", ErrShapeMismatch, m, len(mat), rows)
		}
		for i, row := range mat {
			if len(row) != len(out[i]) {
				return nil, fmt.Errorf("%w: matrix %d row %d has %d columns, want %d", ErrShapeMismatch, m, i, len(row), len(out[i]))
			}
			for j, x := range row {
				out[i][j] += x
			}
		}
	}
	n := float64(len(mats))
	for _, row := range out {
		for j := range row {
			row[j] /= n
		}
	}
	return out, nil
}

// Argmax returns the index of the largest value in each row.
// Ties go to the lowest class index.
func Argmax(probs [][]float64) []int {
	labels := make([]int, len(probs))
	for i, row := range probs {
		best := 0
		for j := 1; j < len(row); j++ {
			if row[j] > row[best] {
				best = j
			}
		}
		labels[i] = best
	}
	return labels
}

// Predict soft-votes the selected top results and returns per-node labels
// together with the members that voted.
func Predict(results []*models.TrialResult, k int, tol float64) ([]int, []*models.TrialResult, error) {
	if len(results) == 0 {
		return nil, nil, ErrNoTrialsCompleted
	}
	selected := Select(results, k, tol)
	probs := make([][][]float64, len(selected))
	for i, r := range selected {
		probs[i] = Softmax(r.Predictions)
	}
	avg, err := Average(probs)
	if err != nil {
		return nil, nil, err
	}
	return Argmax(avg), selected, nil
}
