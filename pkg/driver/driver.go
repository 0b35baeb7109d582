package driver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/autograph/gnnsearch/internal/config"
	"github.com/autograph/gnnsearch/internal/report"
	"github.com/autograph/gnnsearch/pkg/ensemble"
	"github.com/autograph/gnnsearch/pkg/executor"
	"github.com/autograph/gnnsearch/pkg/ingest"
	"github.com/autograph/gnnsearch/pkg/logging"
	"github.com/autograph/gnnsearch/pkg/models"
	"github.com/autograph/gnnsearch/pkg/resources"
	"github.com/autograph/gnnsearch/pkg/space"
	"github.com/autograph/gnnsearch/pkg/store"
)

var ErrExecutorExhausted = errors.New("no trial completed before the deadline")

// progressInterval throttles the "waiting for trials" log line
const progressInterval = 10 * time.Second

// Option customizes a Driver
type Option func(*Driver)

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(d *Driver) { d.logger = l }
}

// WithGPUProbe replaces nvidia-smi based GPU detection
func WithGPUProbe(p resources.GPUProbe) Option {
	return func(d *Driver) { d.probe = p }
}

// WithStore uses st instead of opening the configured store. The driver
// does not close an injected store.
func WithStore(st store.Store) Option {
	return func(d *Driver) { d.store = st }
}

// WithModelFactory replaces the gnn model factory
func WithModelFactory(f ModelFactory) Option {
	return func(d *Driver) { d.newFactory = f }
}

// WithSpace uses s instead of the configured or built-in search space
func WithSpace(s *space.Space) Option {
	return func(d *Driver) { d.space = s }
}

// Driver runs deadline-bounded model selection on a graph
type Driver struct {
	cfg        *config.Config
	logger     *logging.Logger
	probe      resources.GPUProbe
	store      store.Store
	newFactory ModelFactory
	space      *space.Space
	rt         *Runtime
	closeOnce  sync.Once
}

// Outcome is everything a run produced
type Outcome struct {
	Predictions []int
	Run         *models.Run
	Results     []*models.TrialResult // every completed trial, ranked
	Selected    []*models.TrialResult // ensemble members
}

// Summary returns the reportable view of the outcome
func (o *Outcome) Summary() report.Summary {
	return report.Summary{
		Run:         o.Run,
		Leaderboard: report.NewLeaderboard(o.Results, o.Selected),
		Predictions: o.Predictions,
	}
}

// New validates cfg and initializes the runtime. A resource failure is
// returned at once as ErrResourceInit and is never retried.
func New(cfg *config.Config, opts ...Option) (*Driver, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d := &Driver{cfg: cfg}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = logging.Discard()
	}
	if d.newFactory == nil {
		d.newFactory = GNNFactory(cfg.Driver.CheckpointDir)
	}
	if d.space == nil {
		if cfg.Search.SpaceFile != "" {
			s, err := space.Load(cfg.Search.SpaceFile)
			if err != nil {
				return nil, err
			}
			d.space = s
		} else {
			d.space = space.Default()
		}
	}

	d.rt = newRuntime(cfg, d.logger, d.probe, d.store)
	if err := d.rt.Init(context.Background()); err != nil {
		return nil, err
	}
	return d, nil
}

// Runtime returns the driver's runtime
func (d *Driver) Runtime() *Runtime {
	return d.rt
}

// Close tears the runtime down. Teardown errors are logged, never
// returned, and repeated calls do nothing.
func (d *Driver) Close() error {
	d.closeOnce.Do(d.rt.Shutdown)
	return nil
}

// TrainPredict trains and ensembles models within budget and returns one
// predicted class per test node, in node order.
func (d *Driver) TrainPredict(ctx context.Context, raw *ingest.RawGraph, budget time.Duration, nClasses int, schema ingest.Schema) ([]int, error) {
	out, err := d.Run(ctx, raw, budget, nClasses, schema)
	if err != nil {
		return nil, err
	}
	return out.Predictions, nil
}

// Run is TrainPredict returning the full outcome
func (d *Driver) Run(ctx context.Context, raw *ingest.RawGraph, budget time.Duration, nClasses int, schema ingest.Schema) (*Outcome, error) {
	start := time.Now()
	if budget <= 0 {
		return nil, fmt.Errorf("time budget must be positive, got %s", budget)
	}

	rv, err := d.rt.view()
	if err != nil {
		return nil, err
	}

	ds, err := ingest.Build(raw, nClasses, schema)
	if err != nil {
		return nil, err
	}

	run := &models.Run{
		ID:         uuid.New().String(),
		BudgetS:    budget.Seconds(),
		NumClasses: nClasses,
		NumNodes:   ds.NumNodes(),
		NumEdges:   ds.NumEdges(),
		Status:     models.RunStatusRunning,
		StartedAt:  start,
	}
	log := d.logger.WithField("run", run.ID)

	ctx, span := rv.tracer.StartSpan(ctx, "train_predict",
		attribute.String("run.id", run.ID),
		attribute.Int("graph.nodes", run.NumNodes),
		attribute.Int("graph.edges", run.NumEdges),
		attribute.Float64("budget_s", run.BudgetS),
	)
	defer span.End()

	out, err := d.search(ctx, log, rv, ds, run, budget, start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if path := d.cfg.Metrics.Textfile; path != "" {
		if werr := executor.WriteTextfile(path, rv.metrics.Registry()); werr != nil {
			log.Warn("Failed to write metrics textfile", map[string]interface{}{"path": path, "error": werr.Error()})
		}
	}
	return out, err
}

func (d *Driver) search(ctx context.Context, log *logging.Logger, rv runtimeView, ds *models.Dataset, run *models.Run, budget time.Duration, start time.Time) (*Outcome, error) {
	capacity := rv.manager.Capacity()
	claim := d.cfg.Resources.Budget().Effective(capacity)
	budgetLimit, err := resources.ConcurrencyLimit(capacity, claim)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResourceInit, err)
	}
	graphLimit := resources.GraphConcurrency(ds.NumEdges(), d.cfg.Resources.LargeGraphEdges)
	run.Concurrency = resources.Limit(budgetLimit, graphLimit, d.cfg.Resources.MaxConcurrent)

	margin := SafetyMargin(budget, d.cfg.Driver)
	cutoff := start.Add(budget - margin)

	factory, err := d.newFactory(ds)
	if err != nil {
		return nil, err
	}

	d.persistRun(log, rv.store, run)

	exec, err := executor.New(executor.Options{
		Limit:            run.Concurrency,
		Factory:          factory,
		Dataset:          ds,
		UseValInTraining: d.cfg.Driver.UseValInTraining,
		Resources:        rv.manager,
		Claim:            models.ResourceClaim{CPU: claim.CPUPerTrial, GPU: claim.GPUPerTrial},
		RunID:            run.ID,
		StopTimeout:      d.cfg.Driver.StopTimeout,
		Logger:           log,
		Metrics:          rv.metrics,
		Tracer:           rv.tracer.Tracer(),
		Recorder:         rv.store,
	})
	if err != nil {
		return nil, err
	}
	if rv.server != nil {
		rv.server.Attach(run.ID, exec)
		defer rv.server.Detach(run.ID)
	}

	log.Info("Starting search", map[string]interface{}{
		"concurrency": run.Concurrency,
		"budget":      budget.String(),
		"margin":      margin.String(),
		"mode":        d.cfg.Search.Mode,
		"space_size":  d.space.Size(),
	})

	feed, err := d.newFeed(exec, run.Concurrency)
	if err != nil {
		exec.Stop()
		return nil, err
	}

	results := d.poll(ctx, log, exec, feed, cutoff)

	exec.Stop()
	results = append(results, exec.Drain()...)

	stats := exec.Stats()
	run.Submitted = stats.Submitted
	run.Completed = len(results)
	run.Failed = stats.Failed

	labels, selected, err := ensemble.Predict(results, d.cfg.Ensemble.TopK, d.cfg.Ensemble.Tolerance)
	finished := time.Now()
	run.FinishedAt = &finished
	if err != nil {
		if errors.Is(err, ensemble.ErrNoTrialsCompleted) {
			err = fmt.Errorf("%w: %w", ErrExecutorExhausted, err)
			run.Status = models.RunStatusExhausted
		} else {
			run.Status = models.RunStatusFailed
		}
		run.Error = err.Error()
		d.persistRun(log, rv.store, run)
		log.Error("Run produced no predictions", map[string]interface{}{"error": err.Error(), "failed": stats.Failed})
		return nil, err
	}

	for _, r := range selected {
		run.Selected = append(run.Selected, r.Spec.ID)
	}
	run.Status = models.RunStatusCompleted
	d.persistRun(log, rv.store, run)

	out := &Outcome{
		Predictions: labels,
		Run:         run,
		Results:     ensemble.Rank(results),
		Selected:    selected,
	}
	d.logResults(log, out)
	log.Info("Run complete", map[string]interface{}{
		"completed": run.Completed,
		"failed":    run.Failed,
		"ensemble":  len(selected),
		"elapsed":   time.Since(start).Round(time.Millisecond).String(),
	})
	return out, nil
}

// poll collects results until the cutoff, the caller's context ends, or no
// trial is left to run.
func (d *Driver) poll(ctx context.Context, log *logging.Logger, exec *executor.Executor, feed feeder, cutoff time.Time) []*models.TrialResult {
	var results []*models.TrialResult
	progress := rate.Sometimes{Interval: progressInterval}

	for {
		feed.fill()
		if exec.Incomplete() == 0 && exec.Stats().Unconsumed == 0 && feed.done() {
			log.Info("All trials finished", map[string]interface{}{"results": len(results)})
			return results
		}

		remaining := time.Until(cutoff)
		if remaining <= 0 {
			log.Info("Deadline reached", map[string]interface{}{"results": len(results), "incomplete": exec.Incomplete()})
			return results
		}
		if ctx.Err() != nil {
			log.Warn("Search canceled", map[string]interface{}{"results": len(results)})
			return results
		}

		wait := d.cfg.Driver.PollInterval
		if remaining < wait {
			wait = remaining
		}
		if r, ok := exec.GetResult(wait); ok {
			results = append(results, r)
			feed.observe(r)
			continue
		}
		progress.Do(func() {
			log.Info("Waiting for trials", map[string]interface{}{
				"results":    len(results),
				"incomplete": exec.Incomplete(),
				"remaining":  remaining.Round(time.Second).String(),
			})
		})
	}
}

func (d *Driver) logResults(log *logging.Logger, out *Outcome) {
	var buf bytes.Buffer
	if err := report.WriteLeaderboard(&buf, report.NewLeaderboard(out.Results, out.Selected)); err != nil {
		log.Warn("Failed to render results table", map[string]interface{}{"error": err.Error()})
		return
	}
	log.Info("Results\n" + buf.String())
}

func (d *Driver) persistRun(log *logging.Logger, st store.Store, run *models.Run) {
	if st == nil {
		return
	}
	if err := st.SaveRun(run); err != nil {
		log.Warn("Failed to persist run", map[string]interface{}{"error": err.Error()})
	}
}
