package gnn

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/autograph/gnnsearch/pkg/models"
)

// Param is a trainable matrix with its gradient buffer
type Param struct {
	Name  string
	Value *mat.Dense
	Grad  *mat.Dense
}

func newParam(name string, rows, cols int) *Param {
	return &Param{
		Name:  name,
		Value: mat.NewDense(rows, cols, nil),
		Grad:  mat.NewDense(rows, cols, nil),
	}
}

// glorot draws uniformly from +-sqrt(6/(fanIn+fanOut))
func glorot(name string, rows, cols int, rng *rand.Rand) *Param {
	p := newParam(name, rows, cols)
	limit := math.Sqrt(6 / float64(rows+cols))
	data := p.Value.RawMatrix().Data
	for i := range data {
		data[i] = (2*rng.Float64() - 1) * limit
	}
	return p
}

func (p *Param) zeroGrad() {
	p.Grad.Zero()
}

type dense struct {
	w, b *Param
}

func newDense(name string, in, out int, rng *rand.Rand) dense {
	return dense{w: glorot(name+".weight", in, out, rng), b: newParam(name+".bias", 1, out)}
}

func (d dense) forward(t *tape, x *node) *node {
	return t.addBias(t.matmul(x, t.param(d.w)), t.param(d.b))
}

func (d dense) params() []*Param {
	return []*Param{d.w, d.b}
}

// convLayer maps hidden node states to new hidden states over the graph
type convLayer interface {
	forward(t *tape, g *Graph, h *node) *node
	params() []*Param
}

func newConv(name string, v models.ConvVariant, hidden int, rng *rand.Rand) (convLayer, error) {
	v = v.WithDefaults()
	weighted := v.SupportsEdgeWeights()

	switch v.Kind {
	case models.ConvGCN:
		norm := normSymLoops
		if !v.Normalize {
			norm = normSum
		}
		return &gcnConv{lin: newDense(name+".lin", hidden, hidden, rng), norm: norm, weighted: weighted}, nil

	case models.ConvCheb:
		c := &chebConv{bias: newParam(name+".bias", 1, hidden), weighted: weighted}
		for k := 0; k < v.K; k++ {
			c.lins = append(c.lins, glorot(fmt.Sprintf("%s.lins.%d", name, k), hidden, hidden, rng))
		}
		return c, nil

	case models.ConvTAG:
		c := &tagConv{bias: newParam(name+".bias", 1, hidden), weighted: weighted}
		for k := 0; k <= v.K; k++ {
			c.lins = append(c.lins, glorot(fmt.Sprintf("%s.lins.%d", name, k), hidden, hidden, rng))
		}
		return c, nil

	case models.ConvSG:
		return &sgConv{lin: newDense(name+".lin", hidden, hidden, rng), k: v.K}, nil

	case models.ConvARMA:
		c := &armaConv{layers: v.Layers, weighted: weighted}
		for s := 0; s < v.Stacks; s++ {
			var st armaStack
			for l := 0; l < v.Layers; l++ {
				prefix := fmt.Sprintf("%s.stack.%d.%d", name, s, l)
				st.weight = append(st.weight, glorot(prefix+".weight", hidden, hidden, rng))
				st.root = append(st.root, glorot(prefix+".root", hidden, hidden, rng))
				st.bias = append(st.bias, newParam(prefix+".bias", 1, hidden))
			}
			c.stacks = append(c.stacks, st)
		}
		return c, nil

	case models.ConvGraph:
		norm := normSum
		if v.Aggr == "mean" {
			norm = normMean
		}
		return &graphConv{
			rel:      newDense(name+".lin_rel", hidden, hidden, rng),
			root:     glorot(name+".lin_root", hidden, hidden, rng),
			norm:     norm,
			weighted: weighted,
		}, nil

	case models.ConvSAGE:
		return &sageConv{
			l:        newDense(name+".lin_l", hidden, hidden, rng),
			r:        glorot(name+".lin_r", hidden, hidden, rng),
			weighted: weighted,
		}, nil
	}
	return nil, fmt.Errorf("unknown conv kind %q", v.Kind)
}

type gcnConv struct {
	lin      dense
	norm     normalization
	weighted bool
}

func (c *gcnConv) forward(t *tape, g *Graph, h *node) *node {
	xw := t.matmul(h, t.param(c.lin.w))
	return t.addBias(t.propagate(g.operator(c.norm, c.weighted), xw), t.param(c.lin.b))
}

func (c *gcnConv) params() []*Param { return c.lin.params() }

// chebConv sums K Chebyshev polynomial terms of the scaled Laplacian
type chebConv struct {
	lins     []*Param
	bias     *Param
	weighted bool
}

func (c *chebConv) forward(t *tape, g *Graph, h *node) *node {
	lap := g.operator(normLaplace, c.weighted)
	tx0 := h
	out := t.matmul(tx0, t.param(c.lins[0]))
	if len(c.lins) > 1 {
		tx1 := t.propagate(lap, h)
		out = t.add(out, t.matmul(tx1, t.param(c.lins[1])))
		for k := 2; k < len(c.lins); k++ {
			tx2 := t.add(t.scale(t.propagate(lap, tx1), 2), t.scale(tx0, -1))
			out = t.add(out, t.matmul(tx2, t.param(c.lins[k])))
			tx0, tx1 = tx1, tx2
		}
	}
	return t.addBias(out, t.param(c.bias))
}

func (c *chebConv) params() []*Param { return append(append([]*Param{}, c.lins...), c.bias) }

// tagConv sums K+1 powers of the normalized adjacency, each with its own weight
type tagConv struct {
	lins     []*Param
	bias     *Param
	weighted bool
}

func (c *tagConv) forward(t *tape, g *Graph, h *node) *node {
	adj := g.operator(normSym, c.weighted)
	out := t.matmul(h, t.param(c.lins[0]))
	x := h
	for k := 1; k < len(c.lins); k++ {
		x = t.propagate(adj, x)
		out = t.add(out, t.matmul(x, t.param(c.lins[k])))
	}
	return t.addBias(out, t.param(c.bias))
}

func (c *tagConv) params() []*Param { return append(append([]*Param{}, c.lins...), c.bias) }

// sgConv propagates K hops then applies a single linear map. Edge weights are ignored.
type sgConv struct {
	lin dense
	k   int
}

func (c *sgConv) forward(t *tape, g *Graph, h *node) *node {
	adj := g.operator(normSymLoops, false)
	x := h
	for i := 0; i < c.k; i++ {
		x = t.propagate(adj, x)
	}
	return c.lin.forward(t, x)
}

func (c *sgConv) params() []*Param { return c.lin.params() }

type armaStack struct {
	weight, root, bias []*Param
}

// armaConv runs each stack as a recursive filter and averages the stacks
type armaConv struct {
	stacks   []armaStack
	layers   int
	weighted bool
}

func (c *armaConv) forward(t *tape, g *Graph, h *node) *node {
	adj := g.operator(normSym, c.weighted)
	var sum *node
	for _, st := range c.stacks {
		out := h
		for l := 0; l < c.layers; l++ {
			prop := t.propagate(adj, t.matmul(out, t.param(st.weight[l])))
			skip := t.matmul(h, t.param(st.root[l]))
			out = t.relu(t.addBias(t.add(prop, skip), t.param(st.bias[l])))
		}
		if sum == nil {
			sum = out
		} else {
			sum = t.add(sum, out)
		}
	}
	return t.scale(sum, 1/float64(len(c.stacks)))
}

func (c *armaConv) params() []*Param {
	var ps []*Param
	for _, st := range c.stacks {
		for l := range st.weight {
			ps = append(ps, st.weight[l], st.root[l], st.bias[l])
		}
	}
	return ps
}

// graphConv adds a root transform to the transformed neighbor aggregate
type graphConv struct {
	rel      dense
	root     *Param
	norm     normalization
	weighted bool
}

func (c *graphConv) forward(t *tape, g *Graph, h *node) *node {
	agg := t.propagate(g.operator(c.norm, c.weighted), h)
	return t.add(c.rel.forward(t, agg), t.matmul(h, t.param(c.root)))
}

func (c *graphConv) params() []*Param { return append(c.rel.params(), c.root) }

// sageConv combines the neighbor mean with the node's own state
type sageConv struct {
	l        dense
	r        *Param
	weighted bool
}

func (c *sageConv) forward(t *tape, g *Graph, h *node) *node {
	agg := t.propagate(g.operator(normMean, c.weighted), h)
	return t.add(c.l.forward(t, agg), t.matmul(h, t.param(c.r)))
}

func (c *sageConv) params() []*Param { return append(c.l.params(), c.r) }
