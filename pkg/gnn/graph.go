package gnn

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/autograph/gnnsearch/pkg/models"
)

// sparse is a square CSR operator. Row i holds the weights node i
// aggregates from its sources.
type sparse struct {
	n      int
	rowPtr []int
	col    []int
	val    []float64
}

type entry struct {
	row, col int
	val      float64
}

func newSparse(n int, entries []entry) *sparse {
	s := &sparse{n: n, rowPtr: make([]int, n+1), col: make([]int, len(entries)), val: make([]float64, len(entries))}
	for _, e := range entries {
		s.rowPtr[e.row+1]++
	}
	for i := 0; i < n; i++ {
		s.rowPtr[i+1] += s.rowPtr[i]
	}
	next := make([]int, n)
	copy(next, s.rowPtr[:n])
	for _, e := range entries {
		k := next[e.row]
		s.col[k] = e.col
		s.val[k] = e.val
		next[e.row]++
	}
	return s
}

func (s *sparse) nnz() int {
	return len(s.val)
}

// mul returns s * x
func (s *sparse) mul(x *mat.Dense) *mat.Dense {
	_, c := x.Dims()
	src := x.RawMatrix()
	out := make([]float64, s.n*c)
	for i := 0; i < s.n; i++ {
		dst := out[i*c : (i+1)*c]
		for k := s.rowPtr[i]; k < s.rowPtr[i+1]; k++ {
			w := s.val[k]
			row := src.Data[s.col[k]*src.Stride : s.col[k]*src.Stride+c]
			for j, v := range row {
				dst[j] += w * v
			}
		}
	}
	return mat.NewDense(s.n, c, out)
}

// mulT returns transpose(s) * x
func (s *sparse) mulT(x *mat.Dense) *mat.Dense {
	_, c := x.Dims()
	src := x.RawMatrix()
	out := make([]float64, s.n*c)
	for i := 0; i < s.n; i++ {
		row := src.Data[i*src.Stride : i*src.Stride+c]
		for k := s.rowPtr[i]; k < s.rowPtr[i+1]; k++ {
			w := s.val[k]
			dst := out[s.col[k]*c : (s.col[k]+1)*c]
			for j, v := range row {
				dst[j] += w * v
			}
		}
	}
	return mat.NewDense(s.n, c, out)
}

// normalization selects how edge weights are scaled into an operator
type normalization int

const (
	normSym      normalization = iota // D^-1/2 A D^-1/2
	normSymLoops                      // D^-1/2 (A + I) D^-1/2
	normLaplace                       // -D^-1/2 A D^-1/2, the scaled Chebyshev Laplacian
	normSum                           // raw A
	normMean                          // A divided by in-edge count
)

type opKey struct {
	norm     normalization
	weighted bool
}

// Graph holds the dataset's input features and lazily built propagation
// operators. It is read-only after construction and safe to share between
// concurrent trials.
type Graph struct {
	ds       *models.Dataset
	features *mat.Dense

	mu  sync.Mutex
	ops map[opKey]*sparse
}

// Prepare builds the shared graph view of a dataset
func Prepare(ds *models.Dataset) (*Graph, error) {
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	n, f := ds.NumNodes(), ds.NumFeatures()
	data := make([]float64, 0, n*f)
	for _, row := range ds.Features {
		data = append(data, row...)
	}
	return &Graph{
		ds:       ds,
		features: mat.NewDense(n, f, data),
		ops:      make(map[opKey]*sparse),
	}, nil
}

// Dataset returns the dataset the graph was prepared from
func (g *Graph) Dataset() *models.Dataset {
	return g.ds
}

func (g *Graph) operator(norm normalization, weighted bool) *sparse {
	key := opKey{norm: norm, weighted: weighted && g.ds.HasEdgeWeights()}

	g.mu.Lock()
	defer g.mu.Unlock()
	if op, ok := g.ops[key]; ok {
		return op
	}
	op := buildOperator(g.ds, key)
	g.ops[key] = op
	return op
}

func buildOperator(ds *models.Dataset, key opKey) *sparse {
	n := ds.NumNodes()
	entries := make([]entry, 0, len(ds.Edges)+n)
	for i, e := range ds.Edges {
		w := 1.0
		if key.weighted {
			w = ds.EdgeWeights[i]
		}
		entries = append(entries, entry{row: e.Dst, col: e.Src, val: w})
	}
	if key.norm == normSymLoops {
		for i := 0; i < n; i++ {
			entries = append(entries, entry{row: i, col: i, val: 1})
		}
	}

	switch key.norm {
	case normSym, normSymLoops, normLaplace:
		deg := make([]float64, n)
		for _, e := range entries {
			deg[e.row] += e.val
		}
		inv := make([]float64, n)
		for i, d := range deg {
			if d > 0 {
				inv[i] = 1 / math.Sqrt(d)
			}
		}
		sign := 1.0
		if key.norm == normLaplace {
			sign = -1
		}
		for i := range entries {
			e := &entries[i]
			e.val = sign * inv[e.row] * e.val * inv[e.col]
		}
	case normMean:
		count := make([]float64, n)
		for _, e := range entries {
			count[e.row]++
		}
		for i := range entries {
			entries[i].val /= count[entries[i].row]
		}
	}
	return newSparse(n, entries)
}

func (g *Graph) String() string {
	return fmt.Sprintf("Graph(nodes=%d, edges=%d, features=%d, weighted=%t)",
		g.ds.NumNodes(), g.ds.NumEdges(), g.ds.NumFeatures(), g.ds.HasEdgeWeights())
}
