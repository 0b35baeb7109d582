package space

import "github.com/autograph/gnnsearch/pkg/models"

// Default returns the stock search space: seven conv variants crossed with
// two widths, two iteration counts and two learning rates (56 trials).
func Default() *Space {
	s, err := New(
		Dimension{Name: DimConv, Values: []interface{}{
			models.ConvVariant{Kind: models.ConvGCN, Normalize: true},
			models.ConvVariant{Kind: models.ConvCheb, K: 7},
			models.ConvVariant{Kind: models.ConvTAG, K: 5},
			models.ConvVariant{Kind: models.ConvSG, K: 2},
			models.ConvVariant{Kind: models.ConvARMA, Layers: 3, Stacks: 2},
			models.ConvVariant{Kind: models.ConvGraph, Aggr: "mean"},
			models.ConvVariant{Kind: models.ConvSAGE},
		}},
		Dimension{Name: DimHiddenSize, Values: []interface{}{32, 64}},
		Dimension{Name: DimNumLayers, Values: []interface{}{1}},
		Dimension{Name: DimInDropout, Values: []interface{}{0.5}},
		Dimension{Name: DimOutDropout, Values: []interface{}{0.5}},
		Dimension{Name: DimNIter, Values: []interface{}{100, 300}},
		Dimension{Name: DimWeightDecay, Values: []interface{}{1e-3}},
		Dimension{Name: DimLearningRate, Values: []interface{}{0.01, 0.001}},
	)
	if err != nil {
		panic(err)
	}
	return s
}
