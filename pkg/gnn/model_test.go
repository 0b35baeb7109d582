package gnn

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/autograph/gnnsearch/pkg/ingest"
	"github.com/autograph/gnnsearch/pkg/models"
)

func testDataset(t *testing.T, weighted bool) *models.Dataset {
	t.Helper()
	raw := ingest.Synthetic(ingest.SyntheticOptions{
		Nodes: 60, Classes: 3, Homophily: 0.8, Noise: 0.3, Weighted: weighted, Seed: 11,
	})
	ds, err := ingest.Build(raw, 3, ingest.Schema{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return ds
}

func testSpec(conv models.ConvVariant) models.TrialSpec {
	return models.TrialSpec{
		ID:           "t",
		Conv:         conv,
		HiddenSize:   8,
		NumLayers:    1,
		InDropout:    0.5,
		OutDropout:   0.5,
		NIter:        30,
		WeightDecay:  1e-3,
		LearningRate: 0.01,
		Seed:         3,
	}
}

func allVariants() []models.ConvVariant {
	return []models.ConvVariant{
		{Kind: models.ConvGCN, Normalize: true},
		{Kind: models.ConvCheb, K: 3},
		{Kind: models.ConvTAG, K: 2},
		{Kind: models.ConvSG, K: 2},
		{Kind: models.ConvARMA, Layers: 2, Stacks: 2},
		{Kind: models.ConvGraph, Aggr: "mean"},
		{Kind: models.ConvSAGE},
	}
}

func TestEveryVariantTrains(t *testing.T) {
	ds := testDataset(t, true)
	factory, err := NewFactory(ds)
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}

	for _, v := range allVariants() {
		t.Run(v.String(), func(t *testing.T) {
			m, err := factory.New(testSpec(v))
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			preds, acc, err := m.FitPredict(context.Background(), ds, false)
			if err != nil {
				t.Fatalf("FitPredict: %v", err)
			}
			if acc < 0 || acc > 1 {
				t.Errorf("accuracy %v outside [0, 1]", acc)
			}
			if len(preds) != len(ds.TestIndices()) {
				t.Fatalf("got %d prediction rows, want %d", len(preds), len(ds.TestIndices()))
			}
			for _, row := range preds {
				if len(row) != 3 {
					t.Fatalf("row width %d, want 3", len(row))
				}
				for _, x := range row {
					if math.IsNaN(x) || math.IsInf(x, 0) {
						t.Fatalf("non-finite score %v", x)
					}
				}
			}
		})
	}
}

func TestTrainingLearnsSeparableData(t *testing.T) {
	ds := testDataset(t, false)
	spec := testSpec(models.ConvVariant{Kind: models.ConvGCN, Normalize: true})
	spec.HiddenSize = 16
	spec.NIter = 150

	m, err := New(Config{NumClasses: 3, NumFeatures: ds.NumFeatures(), Trial: spec})
	if err != nil {
		t.Fatal(err)
	}
	acc, err := m.Fit(context.Background(), ds, false)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if acc < 0.6 {
		t.Errorf("validation accuracy %.2f, expected the model to learn (chance is 0.33)", acc)
	}
}

func TestSeededTrainingIsDeterministic(t *testing.T) {
	ds := testDataset(t, false)
	spec := testSpec(models.ConvVariant{Kind: models.ConvSAGE})

	run := func() [][]float64 {
		m, err := New(Config{NumClasses: 3, NumFeatures: ds.NumFeatures(), Trial: spec})
		if err != nil {
			t.Fatal(err)
		}
		preds, _, err := m.FitPredict(context.Background(), ds, true)
		if err != nil {
			t.Fatal(err)
		}
		return preds
	}
	a, b := run(), run()
	for i := range a {
		for j := range a[i] {
			if a[i][j] != b[i][j] {
				t.Fatalf("prediction [%d][%d] differs: %v vs %v", i, j, a[i][j], b[i][j])
			}
		}
	}
}

func TestPredictDoesNotMutateWeights(t *testing.T) {
	ds := testDataset(t, false)
	m, err := New(Config{NumClasses: 3, NumFeatures: ds.NumFeatures(), Trial: testSpec(models.ConvVariant{Kind: models.ConvTAG, K: 2})})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Fit(context.Background(), ds, false); err != nil {
		t.Fatal(err)
	}
	first, _ := m.Predict(ds)
	second, _ := m.Predict(ds)
	for i := range first {
		for j := range first[i] {
			if first[i][j] != second[i][j] {
				t.Fatal("repeated Predict calls disagree")
			}
		}
	}
}

func TestEdgeWeightsOnlyReachSupportingVariants(t *testing.T) {
	weighted := testDataset(t, true)
	plain := *weighted
	plain.EdgeWeights = nil

	predict := func(ds *models.Dataset, v models.ConvVariant) [][]float64 {
		m, err := New(Config{NumClasses: 3, NumFeatures: ds.NumFeatures(), Trial: testSpec(v)})
		if err != nil {
			t.Fatal(err)
		}
		preds, _, err := m.FitPredict(context.Background(), ds, false)
		if err != nil {
			t.Fatal(err)
		}
		return preds
	}
	equal := func(a, b [][]float64) bool {
		for i := range a {
			for j := range a[i] {
				if a[i][j] != b[i][j] {
					return false
				}
			}
		}
		return true
	}

	sg := models.ConvVariant{Kind: models.ConvSG, K: 2}
	if !equal(predict(weighted, sg), predict(&plain, sg)) {
		t.Error("SG predictions changed with edge weights")
	}
	gcn := models.ConvVariant{Kind: models.ConvGCN, Normalize: true}
	if equal(predict(weighted, gcn), predict(&plain, gcn)) {
		t.Error("GCN predictions ignored edge weights")
	}
}

func TestFitHonoursContext(t *testing.T) {
	ds := testDataset(t, false)
	m, err := New(Config{NumClasses: 3, NumFeatures: ds.NumFeatures(), Trial: testSpec(models.ConvVariant{Kind: models.ConvGCN})})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.Fit(ctx, ds, false); !errors.Is(err, context.Canceled) {
		t.Errorf("Fit() error = %v, want context.Canceled", err)
	}
}

func TestFitReportsDivergence(t *testing.T) {
	ds := testDataset(t, false)
	broken := *ds
	broken.Features = make([][]float64, len(ds.Features))
	for i, row := range ds.Features {
		broken.Features[i] = append([]float64(nil), row...)
		broken.Features[i][0] = math.NaN()
	}

	m, err := New(Config{NumClasses: 3, NumFeatures: ds.NumFeatures(), Trial: testSpec(models.ConvVariant{Kind: models.ConvGCN})})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Fit(context.Background(), &broken, false); !errors.Is(err, ErrNumericalDivergence) {
		t.Errorf("Fit() error = %v, want ErrNumericalDivergence", err)
	}
}

func TestFitReportsDivergenceOnLastStep(t *testing.T) {
	ds := testDataset(t, false)
	spec := testSpec(models.ConvVariant{Kind: models.ConvGCN})
	spec.NIter = 1
	spec.InDropout, spec.OutDropout = 0, 0
	spec.LearningRate = math.MaxFloat64

	m, err := New(Config{NumClasses: 3, NumFeatures: ds.NumFeatures(), Trial: spec})
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := m.FitPredict(context.Background(), ds, false); !errors.Is(err, ErrNumericalDivergence) {
		t.Errorf("FitPredict() error = %v, want ErrNumericalDivergence", err)
	}
}

func TestPredictRejectsNonFiniteScores(t *testing.T) {
	ds := testDataset(t, false)
	m, err := New(Config{NumClasses: 3, NumFeatures: ds.NumFeatures(), Trial: testSpec(models.ConvVariant{Kind: models.ConvGCN})})
	if err != nil {
		t.Fatal(err)
	}
	params := m.Params()
	params[len(params)-1].Value.Set(0, 0, math.Inf(1))
	if _, err := m.Predict(ds); !errors.Is(err, ErrNumericalDivergence) {
		t.Errorf("Predict() error = %v, want ErrNumericalDivergence", err)
	}
}

func TestDatasetMismatch(t *testing.T) {
	ds := testDataset(t, false)
	m, err := New(Config{NumClasses: 3, NumFeatures: ds.NumFeatures() + 1, Trial: testSpec(models.ConvVariant{Kind: models.ConvSAGE})})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Predict(ds); !errors.Is(err, ErrDatasetMismatch) {
		t.Errorf("Predict() error = %v, want ErrDatasetMismatch", err)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	spec := testSpec(models.ConvVariant{Kind: models.ConvGCN})
	if _, err := New(Config{NumClasses: 1, NumFeatures: 3, Trial: spec}); err == nil {
		t.Error("expected error for single class")
	}
	spec.HiddenSize = 0
	if _, err := New(Config{NumClasses: 3, NumFeatures: 3, Trial: spec}); err == nil {
		t.Error("expected error for zero hidden size")
	}
}

func TestNumParams(t *testing.T) {
	spec := testSpec(models.ConvVariant{Kind: models.ConvGCN})
	m, err := New(Config{NumClasses: 3, NumFeatures: 4, Trial: spec})
	if err != nil {
		t.Fatal(err)
	}
	// input 4x8+8, conv 8x8+8, head 8x3+3
	if got, want := m.NumParams(), 40+72+27; got != want {
		t.Errorf("NumParams() = %d, want %d", got, want)
	}
}
