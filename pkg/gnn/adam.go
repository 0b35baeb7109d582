package gnn

import "math"

// Adam is the Adam optimizer with L2 weight decay folded into the gradient
type Adam struct {
	LR          float64
	Beta1       float64
	Beta2       float64
	Eps         float64
	WeightDecay float64

	step int
	m    map[string][]float64
	v    map[string][]float64
}

// NewAdam creates an optimizer with the usual beta and epsilon defaults
func NewAdam(lr, weightDecay float64) *Adam {
	return &Adam{
		LR:          lr,
		Beta1:       0.9,
		Beta2:       0.999,
		Eps:         1e-8,
		WeightDecay: weightDecay,
		m:           make(map[string][]float64),
		v:           make(map[string][]float64),
	}
}

// Step applies one update to every parameter from its accumulated gradient
func (o *Adam) Step(params []*Param) {
	o.step++
	bc1 := 1 - math.Pow(o.Beta1, float64(o.step))
	bc2 := 1 - math.Pow(o.Beta2, float64(o.step))

	for _, p := range params {
		w := p.Value.RawMatrix().Data
		g := p.Grad.RawMatrix().Data
		m, ok := o.m[p.Name]
		if !ok {
			m = make([]float64, len(w))
			o.m[p.Name] = m
		}
		v, ok := o.v[p.Name]
		if !ok {
			v = make([]float64, len(w))
			o.v[p.Name] = v
		}

		for i := range w {
			grad := g[i] + o.WeightDecay*w[i]
			m[i] = o.Beta1*m[i] + (1-o.Beta1)*grad
			v[i] = o.Beta2*v[i] + (1-o.Beta2)*grad*grad
			mHat := m[i] / bc1
			vHat := v[i] / bc2
			w[i] -= o.LR * mHat / (math.Sqrt(vHat) + o.Eps)
		}
	}
}

// Steps returns how many updates have been applied
func (o *Adam) Steps() int {
	return o.step
}
