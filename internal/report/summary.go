package report

import (
	"sort"

	"github.com/autograph/gnnsearch/pkg/models"
)

// Entry is one completed trial on the leaderboard
type Entry struct {
	Rank        int     `json:"rank" yaml:"rank"`
	TrialID     string  `json:"trial_id" yaml:"trial_id"`
	Seq         int     `json:"seq" yaml:"seq"`
	Config      string  `json:"config" yaml:"config"`
	ValAccuracy float64 `json:"val_accuracy" yaml:"val_accuracy"`
	DurationS   float64 `json:"duration_s" yaml:"duration_s"`
	Selected    bool    `json:"selected" yaml:"selected"`
}

// Summary is the outcome of one run, fixed once the ensemble is built
type Summary struct {
	Run         *models.Run `json:"run" yaml:"run"`
	Leaderboard []Entry     `json:"leaderboard" yaml:"leaderboard"`
	Predictions []int       `json:"predictions,omitempty" yaml:"predictions,omitempty"`
}

// NewLeaderboard ranks results by validation accuracy, ties by submission
// order, and flags the members of the ensemble.
func NewLeaderboard(results []*models.TrialResult, selected []*models.TrialResult) []Entry {
	ranked := append([]*models.TrialResult(nil), results...)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].ValAccuracy != ranked[j].ValAccuracy {
			return ranked[i].ValAccuracy > ranked[j].ValAccuracy
		}
		return ranked[i].Spec.Seq < ranked[j].Spec.Seq
	})

	chosen := make(map[string]bool, len(selected))
	for _, r := range selected {
		chosen[r.Spec.ID] = true
	}

	entries := make([]Entry, len(ranked))
	for i, r := range ranked {
		entries[i] = Entry{
			Rank:        i + 1,
			TrialID:     r.Spec.ID,
			Seq:         r.Spec.Seq,
			Config:      r.Spec.String(),
			ValAccuracy: r.ValAccuracy,
			DurationS:   r.Timing.Duration().Seconds(),
			Selected:    chosen[r.Spec.ID],
		}
	}
	return entries
}
