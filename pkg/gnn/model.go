package gnn

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/autograph/gnnsearch/pkg/models"
)

var (
	ErrNumericalDivergence = errors.New("numerical divergence")
	ErrDatasetMismatch     = errors.New("dataset does not match model")
)

// Config fixes a model's shape and training hyperparameters
type Config struct {
	NumClasses  int
	NumFeatures int
	Trial       models.TrialSpec

	// Graph, when set, supplies prepared operators for the dataset passed
	// to Fit and Predict. Otherwise they are built on first use.
	Graph *Graph
}

// Model is Linear -> ReLU -> Dropout -> [conv -> ReLU] x layers -> Dropout -> Linear
type Model struct {
	cfg   Config
	input dense
	convs []convLayer
	head  dense
	opt   *Adam
	rng   *rand.Rand
	graph *Graph
}

// New builds a model with Glorot-initialised weights drawn from the trial seed
func New(cfg Config) (*Model, error) {
	spec := cfg.Trial
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if cfg.NumClasses < 2 || cfg.NumFeatures < 1 {
		return nil, fmt.Errorf("invalid model shape: classes=%d features=%d", cfg.NumClasses, cfg.NumFeatures)
	}

	rng := rand.New(rand.NewSource(spec.Seed))
	m := &Model{
		cfg:   cfg,
		input: newDense("input", cfg.NumFeatures, spec.HiddenSize, rng),
		opt:   NewAdam(spec.LearningRate, spec.WeightDecay),
		rng:   rng,
		graph: cfg.Graph,
	}
	for i := 0; i < spec.NumLayers; i++ {
		conv, err := newConv(fmt.Sprintf("convs.%d", i), spec.Conv, spec.HiddenSize, rng)
		if err != nil {
			return nil, err
		}
		m.convs = append(m.convs, conv)
	}
	m.head = newDense("output", spec.HiddenSize, cfg.NumClasses, rng)
	return m, nil
}

// Params returns every trainable parameter in a stable order
func (m *Model) Params() []*Param {
	ps := m.input.params()
	for _, c := range m.convs {
		ps = append(ps, c.params()...)
	}
	return append(ps, m.head.params()...)
}

// NumParams is the total number of trainable scalars
func (m *Model) NumParams() int {
	n := 0
	for _, p := range m.Params() {
		r, c := p.Value.Dims()
		n += r * c
	}
	return n
}

func (m *Model) bind(ds *models.Dataset) (*Graph, error) {
	if ds.NumFeatures() != m.cfg.NumFeatures || ds.NumClasses > m.cfg.NumClasses {
		return nil, fmt.Errorf("%w: features %d/%d classes %d/%d", ErrDatasetMismatch,
			ds.NumFeatures(), m.cfg.NumFeatures, ds.NumClasses, m.cfg.NumClasses)
	}
	if m.graph != nil && m.graph.Dataset() == ds {
		return m.graph, nil
	}
	g, err := Prepare(ds)
	if err != nil {
		return nil, err
	}
	m.graph = g
	return g, nil
}

func (m *Model) forward(t *tape, g *Graph, train bool) *node {
	spec := m.cfg.Trial
	h := t.relu(m.input.forward(t, t.constant(g.features)))
	h = t.dropout(h, spec.InDropout, m.rng, train)
	for _, c := range m.convs {
		h = t.relu(c.forward(t, g, h))
	}
	h = t.dropout(h, spec.OutDropout, m.rng, train)
	return m.head.forward(t, h)
}

// Fit runs exactly NIter Adam steps on the training nodes (plus validation
// nodes when full is set) and returns validation accuracy.
func (m *Model) Fit(ctx context.Context, ds *models.Dataset, full bool) (float64, error) {
	g, err := m.bind(ds)
	if err != nil {
		return 0, err
	}

	rows := models.Indices(ds.TrainMask)
	if full {
		rows = append(rows, models.Indices(ds.ValMask)...)
	}
	params := m.Params()

	for i := 0; i < m.cfg.Trial.NIter; i++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		for _, p := range params {
			p.zeroGrad()
		}
		t := &tape{}
		loss := t.crossEntropy(m.forward(t, g, true), rows, ds.Labels)
		if l := loss.value.At(0, 0); math.IsNaN(l) || math.IsInf(l, 0) {
			return 0, fmt.Errorf("%w at iteration %d", ErrNumericalDivergence, i)
		}
		t.backward(loss)
		m.opt.Step(params)
	}

	for _, p := range params {
		if !finiteRows(p.Value, nil) {
			return 0, fmt.Errorf("%w: parameter %s after iteration %d", ErrNumericalDivergence, p.Name, m.cfg.Trial.NIter-1)
		}
	}
	return m.accuracy(g, models.Indices(ds.ValMask), ds.Labels)
}

func (m *Model) accuracy(g *Graph, rows, labels []int) (float64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	t := &tape{}
	out := m.forward(t, g, false).value
	if !finiteRows(out, rows) {
		return 0, fmt.Errorf("%w in validation scores", ErrNumericalDivergence)
	}
	correct := 0
	for _, r := range rows {
		if argmax(out.RawRowView(r)) == labels[r] {
			correct++
		}
	}
	return float64(correct) / float64(len(rows)), nil
}

// finiteRows reports whether the given rows of d (all rows when nil) hold
// no NaN or Inf entries.
func finiteRows(d *mat.Dense, rows []int) bool {
	if rows == nil {
		n, _ := d.Dims()
		rows = make([]int, n)
		for i := range rows {
			rows[i] = i
		}
	}
	for _, r := range rows {
		for _, x := range d.RawRowView(r) {
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return false
			}
		}
	}
	return true
}

// Predict returns raw class scores for test nodes in node order.
// Weights are not modified.
func (m *Model) Predict(ds *models.Dataset) ([][]float64, error) {
	g, err := m.bind(ds)
	if err != nil {
		return nil, err
	}
	t := &tape{}
	out := m.forward(t, g, false).value

	rows := ds.TestIndices()
	if !finiteRows(out, rows) {
		return nil, fmt.Errorf("%w in test scores", ErrNumericalDivergence)
	}
	preds := make([][]float64, len(rows))
	for i, r := range rows {
		preds[i] = append([]float64(nil), out.RawRowView(r)...)
	}
	return preds, nil
}

// FitPredict trains once and returns test scores with validation accuracy
func (m *Model) FitPredict(ctx context.Context, ds *models.Dataset, full bool) ([][]float64, float64, error) {
	acc, err := m.Fit(ctx, ds, full)
	if err != nil {
		return nil, 0, err
	}
	preds, err := m.Predict(ds)
	if err != nil {
		return nil, 0, err
	}
	return preds, acc, nil
}

func argmax(row []float64) int {
	best := 0
	for j := 1; j < len(row); j++ {
		if row[j] > row[best] {
			best = j
		}
	}
	return best
}
