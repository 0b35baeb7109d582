package ingest

import "math/rand"

// SyntheticOptions controls the planted-partition generator
type SyntheticOptions struct {
	Nodes     int
	Classes   int
	Features  int
	AvgDegree int
	Homophily float64 // probability an edge stays within the class
	Noise     float64 // feature noise standard deviation
	TrainFrac float64
	ValFrac   float64
	Weighted  bool
	Seed      int64
}

// Synthetic generates a graph whose labels are recoverable from both the
// features and the neighborhood. Splits are contiguous after a seeded
// shuffle: the first TrainFrac of nodes train, the next ValFrac validate.
func Synthetic(opts SyntheticOptions) *RawGraph {
	if opts.Features <= 0 {
		opts.Features = opts.Classes
	}
	if opts.AvgDegree <= 0 {
		opts.AvgDegree = 4
	}
	if opts.TrainFrac <= 0 {
		opts.TrainFrac = 0.7
	}
	if opts.ValFrac <= 0 {
		opts.ValFrac = 0.15
	}
	rng := rand.New(rand.NewSource(opts.Seed))

	raw := &RawGraph{
		Features: make([][]float64, opts.Nodes),
		Labels:   make([]int, opts.Nodes),
	}
	byClass := make([][]int, opts.Classes)
	for i := 0; i < opts.Nodes; i++ {
		c := i % opts.Classes
		raw.Labels[i] = c
		byClass[c] = append(byClass[c], i)

		row := make([]float64, opts.Features)
		for j := range row {
			row[j] = rng.NormFloat64() * opts.Noise
		}
		row[c%opts.Features] += 1
		raw.Features[i] = row
	}

	edges := opts.Nodes * opts.AvgDegree / 2
	for e := 0; e < edges; e++ {
		src := rng.Intn(opts.Nodes)
		var dst int
		if rng.Float64() < opts.Homophily {
			peers := byClass[raw.Labels[src]]
			dst = peers[rng.Intn(len(peers))]
		} else {
			dst = rng.Intn(opts.Nodes)
		}
		if dst == src {
			continue
		}
		raw.Edges = append(raw.Edges, [2]int{src, dst})
		if opts.Weighted {
			raw.EdgeWeights = append(raw.EdgeWeights, 0.5+rng.Float64())
		}
	}

	order := rng.Perm(opts.Nodes)
	nTrain := int(float64(opts.Nodes) * opts.TrainFrac)
	nVal := int(float64(opts.Nodes) * opts.ValFrac)
	raw.TrainIndices = append(raw.TrainIndices, order[:nTrain]...)
	raw.ValIndices = append(raw.ValIndices, order[nTrain:nTrain+nVal]...)
	raw.TestIndices = append(raw.TestIndices, order[nTrain+nVal:]...)
	return raw
}
