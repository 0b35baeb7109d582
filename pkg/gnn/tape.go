package gnn

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// node is a value recorded on the tape. grad is allocated on first use and
// only for nodes that depend on a parameter.
type node struct {
	value    *mat.Dense
	grad     *mat.Dense
	requires bool
	back     func()
}

func (n *node) dims() (int, int) {
	return n.value.Dims()
}

func (n *node) accum(g *mat.Dense) {
	if !n.requires {
		return
	}
	if n.grad == nil {
		r, c := n.dims()
		n.grad = mat.NewDense(r, c, nil)
	}
	dst := n.grad.RawMatrix().Data
	for i, v := range g.RawMatrix().Data {
		dst[i] += v
	}
}

// tape records one forward pass in evaluation order so backward can replay
// it in reverse.
type tape struct {
	nodes []*node
}

func (t *tape) constant(v *mat.Dense) *node {
	return &node{value: v}
}

func (t *tape) param(p *Param) *node {
	return &node{value: p.Value, grad: p.Grad, requires: true}
}

func (t *tape) push(v *mat.Dense, requires bool, back func(out *node)) *node {
	out := &node{value: v, requires: requires}
	if requires {
		out.back = func() {
			if out.grad != nil {
				back(out)
			}
		}
		t.nodes = append(t.nodes, out)
	}
	return out
}

func (t *tape) backward(loss *node) {
	if !loss.requires {
		return
	}
	loss.grad = mat.NewDense(1, 1, []float64{1})
	for i := len(t.nodes) - 1; i >= 0; i-- {
		t.nodes[i].back()
	}
}

func (t *tape) matmul(a, b *node) *node {
	var v mat.Dense
	v.Mul(a.value, b.value)
	return t.push(&v, a.requires || b.requires, func(out *node) {
		if a.requires {
			var ga mat.Dense
			ga.Mul(out.grad, b.value.T())
			a.accum(&ga)
		}
		if b.requires {
			var gb mat.Dense
			gb.Mul(a.value.T(), out.grad)
			b.accum(&gb)
		}
	})
}

// addBias adds a 1 x c row vector to every row of a
func (t *tape) addBias(a, b *node) *node {
	r, c := a.dims()
	v := mat.NewDense(r, c, nil)
	src, bias, dst := a.value.RawMatrix().Data, b.value.RawMatrix().Data, v.RawMatrix().Data
	for i := range dst {
		dst[i] = src[i] + bias[i%c]
	}
	return t.push(v, a.requires || b.requires, func(out *node) {
		a.accum(out.grad)
		if b.requires {
			gb := mat.NewDense(1, c, nil)
			sum := gb.RawMatrix().Data
			for i, g := range out.grad.RawMatrix().Data {
				sum[i%c] += g
			}
			b.accum(gb)
		}
	})
}

func (t *tape) add(a, b *node) *node {
	r, c := a.dims()
	v := mat.NewDense(r, c, nil)
	x, y, dst := a.value.RawMatrix().Data, b.value.RawMatrix().Data, v.RawMatrix().Data
	for i := range dst {
		dst[i] = x[i] + y[i]
	}
	return t.push(v, a.requires || b.requires, func(out *node) {
		a.accum(out.grad)
		b.accum(out.grad)
	})
}

func (t *tape) scale(a *node, s float64) *node {
	r, c := a.dims()
	v := mat.NewDense(r, c, nil)
	src, dst := a.value.RawMatrix().Data, v.RawMatrix().Data
	for i := range dst {
		dst[i] = s * src[i]
	}
	return t.push(v, a.requires, func(out *node) {
		g := mat.NewDense(r, c, nil)
		gd := g.RawMatrix().Data
		for i, x := range out.grad.RawMatrix().Data {
			gd[i] = s * x
		}
		a.accum(g)
	})
}

func (t *tape) relu(a *node) *node {
	r, c := a.dims()
	v := mat.NewDense(r, c, nil)
	src, dst := a.value.RawMatrix().Data, v.RawMatrix().Data
	for i, x := range src {
		// NaN passes through so divergence surfaces in the loss
		if !(x <= 0) {
			dst[i] = x
		}
	}
	return t.push(v, a.requires, func(out *node) {
		g := mat.NewDense(r, c, nil)
		gd := g.RawMatrix().Data
		for i, x := range out.grad.RawMatrix().Data {
			if src[i] > 0 {
				gd[i] = x
			}
		}
		a.accum(g)
	})
}

// dropout zeroes entries with probability p and rescales the survivors.
// It is the identity outside training.
func (t *tape) dropout(a *node, p float64, rng *rand.Rand, train bool) *node {
	if !train || p <= 0 {
		return a
	}
	r, c := a.dims()
	keep := 1 / (1 - p)
	mask := make([]float64, r*c)
	for i := range mask {
		if rng.Float64() >= p {
			mask[i] = keep
		}
	}
	v := mat.NewDense(r, c, nil)
	src, dst := a.value.RawMatrix().Data, v.RawMatrix().Data
	for i := range dst {
		dst[i] = src[i] * mask[i]
	}
	return t.push(v, a.requires, func(out *node) {
		g := mat.NewDense(r, c, nil)
		gd := g.RawMatrix().Data
		for i, x := range out.grad.RawMatrix().Data {
			gd[i] = x * mask[i]
		}
		a.accum(g)
	})
}

// propagate applies a fixed sparse graph operator: out = op * a
func (t *tape) propagate(op *sparse, a *node) *node {
	v := op.mul(a.value)
	return t.push(v, a.requires, func(out *node) {
		a.accum(op.mulT(out.grad))
	})
}

// crossEntropy is the mean negative log-likelihood of labels over rows
func (t *tape) crossEntropy(logits *node, rows, labels []int) *node {
	_, c := logits.dims()
	data := logits.value.RawMatrix().Data
	probs := make([]float64, len(rows)*c)

	var loss float64
	for i, r := range rows {
		row := data[r*c : (r+1)*c]
		p := probs[i*c : (i+1)*c]
		lse := softmaxInto(p, row)
		loss += lse - row[labels[r]]
	}
	n := float64(len(rows))
	v := mat.NewDense(1, 1, []float64{loss / n})

	return t.push(v, logits.requires, func(out *node) {
		scale := out.grad.At(0, 0) / n
		rr, _ := logits.dims()
		g := mat.NewDense(rr, c, nil)
		gd := g.RawMatrix().Data
		for i, r := range rows {
			for j := 0; j < c; j++ {
				d := probs[i*c+j]
				if j == labels[r] {
					d--
				}
				gd[r*c+j] = d * scale
			}
		}
		logits.accum(g)
	})
}

// softmaxInto writes softmax(row) into dst and returns log-sum-exp(row)
func softmaxInto(dst, row []float64) float64 {
	hi := math.Inf(-1)
	for _, x := range row {
		if x > hi {
			hi = x
		}
	}
	var sum float64
	for j, x := range row {
		dst[j] = math.Exp(x - hi)
		sum += dst[j]
	}
	for j := range dst {
		dst[j] /= sum
	}
	return hi + math.Log(sum)
}
