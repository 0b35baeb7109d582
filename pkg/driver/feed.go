package driver

import (
	"github.com/autograph/gnnsearch/internal/config"
	"github.com/autograph/gnnsearch/pkg/executor"
	"github.com/autograph/gnnsearch/pkg/models"
	"github.com/autograph/gnnsearch/pkg/space"
)

// feeder decides which trials reach the executor
type feeder interface {
	fill()
	observe(r *models.TrialResult)
	done() bool
}

func (d *Driver) newFeed(exec *executor.Executor, limit int) (feeder, error) {
	if d.cfg.Search.Mode == config.ModeSampled {
		return &sampledFeed{
			exec:      exec,
			sampler:   space.NewSampler(d.space, d.cfg.Search.Seed, d.cfg.Search.Patience),
			limit:     limit,
			maxTrials: d.cfg.Search.MaxTrials,
		}, nil
	}

	specs, err := d.space.TrialSpecs(d.cfg.Search.Seed)
	if err != nil {
		return nil, err
	}
	if n := d.cfg.Search.MaxTrials; n > 0 && n < len(specs) {
		specs = specs[:n]
	}
	return &flatFeed{exec: exec, specs: specs}, nil
}

// flatFeed submits the whole cross product up front
type flatFeed struct {
	exec      *executor.Executor
	specs     []models.TrialSpec
	submitted bool
}

func (f *flatFeed) fill() {
	if f.submitted {
		return
	}
	f.submitted = true
	for _, s := range f.specs {
		if err := f.exec.Submit(s); err != nil {
			return
		}
	}
}

func (f *flatFeed) observe(*models.TrialResult) {}

func (f *flatFeed) done() bool { return f.submitted }

// sampledFeed keeps the pool full with sampled trials and stops feeding
// once the sampler runs dry, the trial cap is hit or accuracy plateaus.
type sampledFeed struct {
	exec      *executor.Executor
	sampler   *space.Sampler
	limit     int
	maxTrials int
	submitted int
	exhausted bool
}

func (f *sampledFeed) fill() {
	for !f.done() && f.exec.Incomplete() < f.limit {
		spec, err := f.sampler.Next()
		if err != nil {
			// space.ErrExhausted, or a point that does not form a trial
			f.exhausted = true
			return
		}
		if err := f.exec.Submit(spec); err != nil {
			f.exhausted = true
			return
		}
		f.submitted++
	}
}

func (f *sampledFeed) observe(r *models.TrialResult) {
	f.sampler.Observe(r)
}

func (f *sampledFeed) done() bool {
	if f.exhausted || f.sampler.ShouldStop() {
		return true
	}
	return f.maxTrials > 0 && f.submitted >= f.maxTrials
}
