package driver

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/autograph/gnnsearch/pkg/executor"
	"github.com/autograph/gnnsearch/pkg/gnn"
	"github.com/autograph/gnnsearch/pkg/models"
)

// ModelFactory builds the executor factory for one dataset
type ModelFactory func(ds *models.Dataset) (executor.Factory, error)

// GNNFactory prepares the graph once and builds gnn models from it. When
// checkpointDir is set every trained model is saved under
// <checkpointDir>/<trial id>.
func GNNFactory(checkpointDir string) ModelFactory {
	return func(ds *models.Dataset) (executor.Factory, error) {
		f, err := gnn.NewFactory(ds)
		if err != nil {
			return nil, err
		}
		return func(spec models.TrialSpec) (executor.Model, error) {
			m, err := f.New(spec)
			if err != nil {
				return nil, err
			}
			if checkpointDir == "" {
				return m, nil
			}
			return &checkpointed{Model: m, dir: filepath.Join(checkpointDir, spec.ID)}, nil
		}, nil
	}
}

type checkpointed struct {
	*gnn.Model
	dir string
}

func (c *checkpointed) FitPredict(ctx context.Context, ds *models.Dataset, full bool) ([][]float64, float64, error) {
	preds, acc, err := c.Model.FitPredict(ctx, ds, full)
	if err != nil {
		return nil, 0, err
	}
	if err := c.Model.Save(c.dir); err != nil {
		return nil, 0, fmt.Errorf("checkpoint: %w", err)
	}
	return preds, acc, nil
}
