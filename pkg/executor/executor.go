package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/autograph/gnnsearch/pkg/logging"
	"github.com/autograph/gnnsearch/pkg/models"
	"github.com/autograph/gnnsearch/pkg/resources"
)

// DefaultStopTimeout bounds how long Stop waits for in-flight trials
const DefaultStopTimeout = 10 * time.Second

var ErrStopped = errors.New("executor stopped")

// Model is a trainable scorer built for one trial
type Model interface {
	FitPredict(ctx context.Context, ds *models.Dataset, full bool) ([][]float64, float64, error)
}

// Factory builds the model for a trial
type Factory func(spec models.TrialSpec) (Model, error)

// Recorder persists trials once they reach a terminal state
type Recorder interface {
	SaveTrial(rec *models.TrialRecord) error
}

// Options configures an Executor
type Options struct {
	Limit            int
	Factory          Factory
	Dataset          *models.Dataset
	UseValInTraining bool

	// Resources, when set, holds a reservation of Claim for every
	// dispatched trial.
	Resources *resources.Manager
	Claim     models.ResourceClaim

	RunID       string
	StopTimeout time.Duration
	Logger      *logging.Logger
	Metrics     *Metrics
	Tracer      trace.Tracer
	Recorder    Recorder
}

type trial struct {
	spec   models.TrialSpec
	status models.TrialStatus
	timing models.TrialTiming
	valAcc float64
	err    error
}

// Executor runs trials on a pool of at most Limit concurrent workers.
// Submit never blocks; completed results are collected with GetResult.
type Executor struct {
	opts   Options
	log    *logging.Logger
	tracer trace.Tracer
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	state   models.ExecutorState
	trials  []*trial
	pending []*trial
	running int
	peak    int
	results []*models.TrialResult
	counts  map[models.TrialStatus]int

	notify   chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates an idle executor
func New(opts Options) (*Executor, error) {
	if opts.Limit < 1 {
		return nil, fmt.Errorf("concurrency limit must be at least 1, got %d", opts.Limit)
	}
	if opts.Factory == nil {
		return nil, fmt.Errorf("factory is required")
	}
	if opts.Dataset == nil {
		return nil, fmt.Errorf("dataset is required")
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}

	e := &Executor{
		opts:   opts,
		log:    opts.Logger,
		tracer: opts.Tracer,
		state:  models.ExecutorIdle,
		counts: make(map[models.TrialStatus]int),
		notify: make(chan struct{}, 1),
	}
	if e.log == nil {
		e.log = logging.Discard()
	}
	e.log = e.log.WithField("component", "executor")
	if e.tracer == nil {
		e.tracer = noop.NewTracerProvider().Tracer("executor")
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	if opts.Metrics != nil {
		opts.Metrics.limit.Set(float64(opts.Limit))
	}
	return e, nil
}

// Limit returns the concurrency limit
func (e *Executor) Limit() int {
	return e.opts.Limit
}

// Submit queues a trial, dispatching it at once if a slot is free
func (e *Executor) Submit(spec models.TrialSpec) error {
	e.mu.Lock()
	if e.state == models.ExecutorDraining || e.state == models.ExecutorStopped {
		e.mu.Unlock()
		return ErrStopped
	}
	e.state = models.ExecutorAccepting

	t := &trial{
		spec:   spec,
		status: models.TrialStatusQueued,
		timing: models.TrialTiming{QueuedAt: time.Now()},
	}
	e.trials = append(e.trials, t)
	e.counts[models.TrialStatusQueued]++
	if m := e.opts.Metrics; m != nil {
		m.submitted.Inc()
	}

	var rec *models.TrialRecord
	if e.running < e.opts.Limit {
		rec = e.dispatchLocked(t)
	} else {
		e.pending = append(e.pending, t)
		e.log.Debug("Trial queued", map[string]interface{}{"trial": spec.ID, "pending": len(e.pending)})
	}
	e.updateGaugesLocked()
	e.mu.Unlock()

	if rec != nil {
		e.record(rec)
	}
	return nil
}

func (e *Executor) transitionLocked(t *trial, to models.TrialStatus) {
	if err := models.ValidateTrialTransition(t.status, to); err != nil {
		e.log.Error("Invalid trial transition", map[string]interface{}{"trial": t.spec.ID, "error": err.Error()})
		return
	}
	e.counts[t.status]--
	t.status = to
	e.counts[to]++
}

// dispatchLocked hands a trial to a new worker. Caller holds e.mu.
// When the reservation fails the trial is failed in place and its record
// is returned for the caller to persist once the lock is released.
func (e *Executor) dispatchLocked(t *trial) *models.TrialRecord {
	e.transitionLocked(t, models.TrialStatusDispatched)
	e.running++
	if e.running > e.peak {
		e.peak = e.running
	}

	if e.opts.Resources != nil {
		if err := e.opts.Resources.Reserve(t.spec.ID, e.opts.Claim); err != nil {
			e.running--
			t.err = fmt.Errorf("reserve resources: %w", err)
			t.timing.FinishedAt = time.Now()
			e.transitionLocked(t, models.TrialStatusFailed)
			e.log.Warn("Trial failed", map[string]interface{}{"trial": t.spec.String(), "error": t.err.Error()})
			return e.snapshotRecordLocked(t)
		}
	}

	if m := e.opts.Metrics; m != nil {
		m.queueWait.Observe(time.Since(t.timing.QueuedAt).Seconds())
	}
	peak := e.running
	e.wg.Add(1)
	go e.work(t, peak)
	return nil
}

func (e *Executor) work(t *trial, inFlight int) {
	defer e.wg.Done()

	ctx, span := e.tracer.Start(e.ctx, "trial",
		trace.WithAttributes(
			attribute.String("trial.id", t.spec.ID),
			attribute.Int("trial.seq", t.spec.Seq),
			attribute.String("trial.conv", t.spec.Conv.String()),
		))
	defer span.End()

	preds, acc, err := e.execute(ctx, t)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(attribute.Float64("trial.val_accuracy", acc))
	}
	e.finish(t, preds, acc, err, inFlight)
}

// execute builds and trains the trial's model, converting panics into errors
func (e *Executor) execute(ctx context.Context, t *trial) (preds [][]float64, acc float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("trial panicked: %v", r)
			e.log.Debug("Trial panic stack", map[string]interface{}{"trial": t.spec.ID, "stack": string(debug.Stack())})
		}
	}()

	e.mu.Lock()
	e.transitionLocked(t, models.TrialStatusRunning)
	t.timing.StartedAt = time.Now()
	e.mu.Unlock()

	model, err := e.opts.Factory(t.spec)
	if err != nil {
		return nil, 0, fmt.Errorf("build model: %w", err)
	}
	return model.FitPredict(ctx, e.opts.Dataset, e.opts.UseValInTraining)
}

func (e *Executor) finish(t *trial, preds [][]float64, acc float64, err error, inFlight int) {
	e.mu.Lock()
	e.running--
	t.timing.FinishedAt = time.Now()
	if e.opts.Resources != nil {
		// already dropped when Stop gave up waiting
		_ = e.opts.Resources.Release(t.spec.ID)
	}

	// interrupted by Stop rather than failing on its own
	canceled := errors.Is(err, context.Canceled) && e.ctx.Err() != nil
	switch {
	case canceled:
		t.err = err
		e.transitionLocked(t, models.TrialStatusCanceled)
	case err != nil:
		t.err = err
		e.transitionLocked(t, models.TrialStatusFailed)
	default:
		t.valAcc = acc
		e.transitionLocked(t, models.TrialStatusCompleted)
		e.results = append(e.results, &models.TrialResult{
			Spec:         t.spec,
			Predictions:  preds,
			ValAccuracy:  acc,
			Timing:       t.timing,
			Claim:        e.opts.Claim,
			PeakInFlight: inFlight,
		})
		select {
		case e.notify <- struct{}{}:
		default:
		}
	}

	var refused []*models.TrialRecord
	for e.state == models.ExecutorAccepting && e.running < e.opts.Limit && len(e.pending) > 0 {
		next := e.pending[0]
		e.pending = e.pending[1:]
		if r := e.dispatchLocked(next); r != nil {
			refused = append(refused, r)
		}
	}
	e.updateGaugesLocked()
	rec := e.snapshotRecordLocked(t)
	e.mu.Unlock()

	for _, r := range refused {
		e.record(r)
	}

	fields := map[string]interface{}{
		"trial":    t.spec.String(),
		"duration": t.timing.Duration().Round(time.Millisecond).String(),
	}
	switch {
	case canceled:
		e.log.Info("Trial canceled", fields)
	case err != nil:
		fields["error"] = err.Error()
		e.log.Warn("Trial failed", fields)
	default:
		fields["val_acc"] = fmt.Sprintf("%.4f", acc)
		e.log.Info("Trial completed", fields)
	}
	e.record(rec)
}

func (e *Executor) snapshotRecordLocked(t *trial) *models.TrialRecord {
	rec := &models.TrialRecord{
		RunID:       e.opts.RunID,
		Spec:        t.spec,
		Status:      t.status,
		ValAccuracy: t.valAcc,
		Timing:      t.timing,
	}
	if t.err != nil {
		rec.Error = t.err.Error()
	}
	return rec
}

func (e *Executor) record(rec *models.TrialRecord) {
	if m := e.opts.Metrics; m != nil {
		m.observeFinished(rec.Status, rec.Timing, rec.ValAccuracy)
	}
	if e.opts.Recorder == nil {
		return
	}
	if err := e.opts.Recorder.SaveTrial(rec); err != nil {
		e.log.Warn("Failed to record trial", map[string]interface{}{"trial": rec.Spec.ID, "error": err.Error()})
	}
}

func (e *Executor) updateGaugesLocked() {
	if m := e.opts.Metrics; m != nil {
		m.running.Set(float64(e.running))
		m.pending.Set(float64(len(e.pending)))
	}
}

// GetResult waits up to timeout for a completed trial. On timeout it
// returns false and consumes nothing. Results come back in completion order.
func (e *Executor) GetResult(timeout time.Duration) (*models.TrialResult, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if r, ok := e.pop(); ok {
			return r, true
		}
		select {
		case <-e.notify:
		case <-timer.C:
			return e.pop()
		}
	}
}

func (e *Executor) pop() (*models.TrialResult, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.results) == 0 {
		return nil, false
	}
	r := e.results[0]
	e.results[0] = nil
	e.results = e.results[1:]
	return r, true
}

// Drain returns every completed result not yet consumed, without waiting
func (e *Executor) Drain() []*models.TrialResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.results
	e.results = nil
	return out
}

// Stop cancels pending trials, cancels the context of running trials and
// waits up to StopTimeout for them before releasing their reservations.
// It is safe to call more than once.
func (e *Executor) Stop() {
	e.stopOnce.Do(func() {
		e.mu.Lock()
		e.state = models.ExecutorDraining
		canceled := e.pending
		e.pending = nil
		var recs []*models.TrialRecord
		for _, t := range canceled {
			e.transitionLocked(t, models.TrialStatusCanceled)
			t.timing.FinishedAt = time.Now()
			recs = append(recs, e.snapshotRecordLocked(t))
		}
		inFlight := e.running
		e.updateGaugesLocked()
		e.mu.Unlock()

		for _, rec := range recs {
			e.record(rec)
		}
		e.log.Info("Stopping executor", map[string]interface{}{"canceled": len(canceled), "in_flight": inFlight})

		e.cancel()

		done := make(chan struct{})
		go func() {
			e.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			e.log.Debug("All trials stopped")
		case <-time.After(e.opts.StopTimeout):
			e.log.Warn("Stop timeout - abandoning in-flight trials", map[string]interface{}{"timeout": e.opts.StopTimeout.String()})
		}

		e.mu.Lock()
		e.state = models.ExecutorStopped
		if e.opts.Resources != nil {
			for _, t := range e.trials {
				if models.IsActiveTrialState(t.status) {
					_ = e.opts.Resources.Release(t.spec.ID)
				}
			}
		}
		e.mu.Unlock()
	})
}

// State returns the executor lifecycle state
func (e *Executor) State() models.ExecutorState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Stats is a point-in-time count of trials by state
type Stats struct {
	Submitted   int `json:"submitted" yaml:"submitted"`
	Pending     int `json:"pending" yaml:"pending"`
	Running     int `json:"running" yaml:"running"`
	Completed   int `json:"completed" yaml:"completed"`
	Failed      int `json:"failed" yaml:"failed"`
	Canceled    int `json:"canceled" yaml:"canceled"`
	PeakRunning int `json:"peak_running" yaml:"peak_running"`
	Unconsumed  int `json:"unconsumed" yaml:"unconsumed"`
}

// Stats returns trial counts
func (e *Executor) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		Submitted:   len(e.trials),
		Pending:     len(e.pending),
		Running:     e.running,
		Completed:   e.counts[models.TrialStatusCompleted],
		Failed:      e.counts[models.TrialStatusFailed],
		Canceled:    e.counts[models.TrialStatusCanceled],
		PeakRunning: e.peak,
		Unconsumed:  len(e.results),
	}
}

// Incomplete is the number of trials pending or running
func (e *Executor) Incomplete() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending) + e.running
}

// TrialSnapshot is the externally visible state of one trial
type TrialSnapshot struct {
	Spec        models.TrialSpec   `json:"spec" yaml:"spec"`
	Status      models.TrialStatus `json:"status" yaml:"status"`
	ValAccuracy float64            `json:"val_accuracy,omitempty" yaml:"val_accuracy,omitempty"`
	Error       string             `json:"error,omitempty" yaml:"error,omitempty"`
	Timing      models.TrialTiming `json:"timing" yaml:"timing"`
}

// Snapshot returns every submitted trial in submission order
func (e *Executor) Snapshot() []TrialSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]TrialSnapshot, 0, len(e.trials))
	for _, t := range e.trials {
		s := TrialSnapshot{Spec: t.spec, Status: t.status, ValAccuracy: t.valAcc, Timing: t.timing}
		if t.err != nil {
			s.Error = t.err.Error()
		}
		out = append(out, s)
	}
	return out
}
