package gnn

import (
	"github.com/autograph/gnnsearch/pkg/models"
)

// Factory builds models for trials on one dataset, sharing the prepared
// graph operators between them.
type Factory struct {
	graph *Graph
}

// NewFactory prepares the dataset once for every trial built from it
func NewFactory(ds *models.Dataset) (*Factory, error) {
	g, err := Prepare(ds)
	if err != nil {
		return nil, err
	}
	return &Factory{graph: g}, nil
}

// Graph returns the shared graph view
func (f *Factory) Graph() *Graph {
	return f.graph
}

// New builds an untrained model for spec
func (f *Factory) New(spec models.TrialSpec) (*Model, error) {
	ds := f.graph.Dataset()
	return New(Config{
		NumClasses:  ds.NumClasses,
		NumFeatures: ds.NumFeatures(),
		Trial:       spec,
		Graph:       f.graph,
	})
}
