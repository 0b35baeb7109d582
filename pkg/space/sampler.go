package space

import (
	"errors"
	"math/rand"
	"sync"

	"github.com/autograph/gnnsearch/pkg/models"
)

// ErrExhausted is returned by Sampler.Next once every point has been drawn
var ErrExhausted = errors.New("search space exhausted")

// Sampler draws points uniformly without replacement. Observe feeds scores
// back so the caller can stop once Patience results in a row fail to
// improve on the best validation accuracy.
type Sampler struct {
	mu       sync.Mutex
	space    *Space
	perm     []int
	next     int
	baseSeed int64

	patience int
	best     float64
	streak   int
	observed int
}

// NewSampler shuffles the space with seed. patience 0 disables early stopping.
func NewSampler(s *Space, seed int64, patience int) *Sampler {
	rng := rand.New(rand.NewSource(seed))
	return &Sampler{
		space:    s,
		perm:     rng.Perm(s.Size()),
		baseSeed: seed,
		patience: patience,
		best:     -1,
	}
}

// Next returns the next trial, or ErrExhausted
func (s *Sampler) Next() (models.TrialSpec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.next >= len(s.perm) {
		return models.TrialSpec{}, ErrExhausted
	}
	seq := s.next
	a := s.space.At(s.perm[seq])
	s.next++
	return ToTrialSpec(a, seq, s.baseSeed+int64(seq))
}

// Observe records a completed trial's score
func (s *Sampler) Observe(r *models.TrialResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.observed++
	if r.ValAccuracy > s.best {
		s.best = r.ValAccuracy
		s.streak = 0
		return
	}
	s.streak++
}

// ShouldStop reports whether the no-improvement streak reached Patience
func (s *Sampler) ShouldStop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.patience > 0 && s.streak >= s.patience
}

// Remaining is the number of points not yet drawn
func (s *Sampler) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.perm) - s.next
}

// Best returns the best observed validation accuracy and how many results were observed
func (s *Sampler) Best() (float64, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.best, s.observed
}
