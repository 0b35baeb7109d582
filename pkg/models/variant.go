package models

import (
	"fmt"
	"sort"
	"strings"
)

// ConvKind identifies a graph convolution family
type ConvKind string

const (
	ConvGCN   ConvKind = "gcn"   // Kipf & Welling graph convolution
	ConvCheb  ConvKind = "cheb"  // Chebyshev spectral filter of order K
	ConvTAG   ConvKind = "tag"   // Topology adaptive polynomial filter of order K
	ConvSG    ConvKind = "sg"    // Simplified graph convolution, K propagation hops
	ConvARMA  ConvKind = "arma"  // ARMA filter with stacks and recursive layers
	ConvGraph ConvKind = "graph" // GraphConv with root weight and neighbor aggregation
	ConvSAGE  ConvKind = "sage"  // GraphSAGE mean aggregator
)

// ConvDescriptor holds the static capabilities of a conv family
type ConvDescriptor struct {
	Kind                ConvKind
	DisplayName         string
	SupportsEdgeWeights bool
}

var convDescriptors = map[ConvKind]ConvDescriptor{
	ConvGCN:   {Kind: ConvGCN, DisplayName: "GCNConv", SupportsEdgeWeights: true},
	ConvCheb:  {Kind: ConvCheb, DisplayName: "ChebConv", SupportsEdgeWeights: true},
	ConvTAG:   {Kind: ConvTAG, DisplayName: "TAGConv", SupportsEdgeWeights: true},
	ConvSG:    {Kind: ConvSG, DisplayName: "SGConv", SupportsEdgeWeights: false},
	ConvARMA:  {Kind: ConvARMA, DisplayName: "ARMAConv", SupportsEdgeWeights: true},
	ConvGraph: {Kind: ConvGraph, DisplayName: "GraphConv", SupportsEdgeWeights: true},
	ConvSAGE:  {Kind: ConvSAGE, DisplayName: "SAGEConv", SupportsEdgeWeights: true},
}

// ConvKinds returns every known conv family in a stable order
func ConvKinds() []ConvKind {
	kinds := make([]ConvKind, 0, len(convDescriptors))
	for k := range convDescriptors {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// LookupConv returns the descriptor for a conv family
func LookupConv(kind ConvKind) (ConvDescriptor, bool) {
	d, ok := convDescriptors[kind]
	return d, ok
}

// ConvVariant is a conv family with its bound constructor arguments.
// Zero values for the family parameters mean "use the family default".
type ConvVariant struct {
	Kind      ConvKind `json:"kind" yaml:"kind"`
	K         int      `json:"k,omitempty" yaml:"k,omitempty"`
	Layers    int      `json:"layers,omitempty" yaml:"layers,omitempty"`
	Stacks    int      `json:"stacks,omitempty" yaml:"stacks,omitempty"`
	Aggr      string   `json:"aggr,omitempty" yaml:"aggr,omitempty"`
	Normalize bool     `json:"normalize,omitempty" yaml:"normalize,omitempty"`
}

// Descriptor returns the static capabilities of the variant's family
func (v ConvVariant) Descriptor() ConvDescriptor {
	return convDescriptors[v.Kind]
}

// SupportsEdgeWeights reports whether edge weights feed this variant's propagation
func (v ConvVariant) SupportsEdgeWeights() bool {
	return convDescriptors[v.Kind].SupportsEdgeWeights
}

// WithDefaults fills unset family parameters
func (v ConvVariant) WithDefaults() ConvVariant {
	switch v.Kind {
	case ConvCheb:
		if v.K <= 0 {
			v.K = 2
		}
	case ConvTAG:
		if v.K <= 0 {
			v.K = 3
		}
	case ConvSG:
		if v.K <= 0 {
			v.K = 1
		}
	case ConvARMA:
		if v.Layers <= 0 {
			v.Layers = 1
		}
		if v.Stacks <= 0 {
			v.Stacks = 1
		}
	case ConvGraph:
		if v.Aggr == "" {
			v.Aggr = "add"
		}
	}
	return v
}

// Validate checks the variant against its family's parameter rules
func (v ConvVariant) Validate() error {
	if _, ok := convDescriptors[v.Kind]; !ok {
		return fmt.Errorf("unknown conv kind %q", v.Kind)
	}
	if v.K < 0 || v.Layers < 0 || v.Stacks < 0 {
		return fmt.Errorf("conv %s: negative parameter", v.Kind)
	}
	if v.Kind == ConvGraph && v.Aggr != "" && v.Aggr != "add" && v.Aggr != "mean" {
		return fmt.Errorf("conv %s: unsupported aggr %q", v.Kind, v.Aggr)
	}
	return nil
}

// String renders the variant as e.g. "ChebConv[K=7]"
func (v ConvVariant) String() string {
	d, ok := convDescriptors[v.Kind]
	name := string(v.Kind)
	if ok {
		name = d.DisplayName
	}

	var args []string
	if v.K > 0 {
		args = append(args, fmt.Sprintf("K=%d", v.K))
	}
	if v.Layers > 0 {
		args = append(args, fmt.Sprintf("num_layers=%d", v.Layers))
	}
	if v.Stacks > 0 {
		args = append(args, fmt.Sprintf("num_stacks=%d", v.Stacks))
	}
	if v.Aggr != "" {
		args = append(args, "aggr="+v.Aggr)
	}
	if v.Normalize {
		args = append(args, "normalize=true")
	}
	return name + "[" + strings.Join(args, ",") + "]"
}
