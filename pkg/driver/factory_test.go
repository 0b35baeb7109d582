package driver

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autograph/gnnsearch/pkg/gnn"
	"github.com/autograph/gnnsearch/pkg/ingest"
)

func TestGNNFactoryCheckpoints(t *testing.T) {
	ds, err := ingest.Build(graph(), 3, ingest.Schema{})
	require.NoError(t, err)

	specs, err := smallSpace(t).TrialSpecs(1)
	require.NoError(t, err)
	spec := specs[0]
	spec.NIter = 5

	dir := t.TempDir()
	factory, err := GNNFactory(dir)(ds)
	require.NoError(t, err)
	m, err := factory(spec)
	require.NoError(t, err)

	preds, _, err := m.FitPredict(context.Background(), ds, false)
	require.NoError(t, err)

	trialDir := filepath.Join(dir, spec.ID)
	for _, name := range []string{gnn.ModelFile, gnn.OptimizerFile} {
		_, err := os.Stat(filepath.Join(trialDir, name))
		assert.NoError(t, err, name)
	}

	f, err := gnn.NewFactory(ds)
	require.NoError(t, err)
	restored, err := f.New(spec)
	require.NoError(t, err)
	require.NoError(t, restored.Restore(trialDir))
	got, err := restored.Predict(ds)
	require.NoError(t, err)
	assert.Equal(t, preds, got)
}

func TestGNNFactoryWithoutCheckpoints(t *testing.T) {
	ds, err := ingest.Build(graph(), 3, ingest.Schema{})
	require.NoError(t, err)
	specs, err := smallSpace(t).TrialSpecs(1)
	require.NoError(t, err)

	factory, err := GNNFactory("")(ds)
	require.NoError(t, err)
	m, err := factory(specs[0])
	require.NoError(t, err)
	_, ok := m.(*gnn.Model)
	assert.True(t, ok, "no wrapper without a checkpoint dir")
}
