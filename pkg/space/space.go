package space

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/autograph/gnnsearch/pkg/models"
)

// Standard dimension names. A space must define all of them to produce trials.
const (
	DimConv         = "conv"
	DimHiddenSize   = "hidden_size"
	DimNumLayers    = "num_layers"
	DimInDropout    = "in_dropout"
	DimOutDropout   = "out_dropout"
	DimNIter        = "n_iter"
	DimWeightDecay  = "weight_decay"
	DimLearningRate = "learning_rate"
)

var standardDims = []string{
	DimConv, DimHiddenSize, DimNumLayers, DimInDropout,
	DimOutDropout, DimNIter, DimWeightDecay, DimLearningRate,
}

var ErrInvalidSpace = errors.New("invalid search space")

// Dimension is one named hyperparameter with its ordered candidate values
type Dimension struct {
	Name   string
	Values []interface{}
}

// Space is an ordered list of dimensions. It is read-only once built.
type Space struct {
	dims  []Dimension
	index map[string]int
}

// Assignment binds every dimension name to one of its candidate values
type Assignment map[string]interface{}

// New builds a space, rejecting empty or duplicate dimensions
func New(dims ...Dimension) (*Space, error) {
	s := &Space{index: make(map[string]int, len(dims))}
	for _, d := range dims {
		if d.Name == "" {
			return nil, fmt.Errorf("%w: unnamed dimension", ErrInvalidSpace)
		}
		if _, dup := s.index[d.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate dimension %q", ErrInvalidSpace, d.Name)
		}
		if len(d.Values) == 0 {
			return nil, fmt.Errorf("%w: dimension %q has no values", ErrInvalidSpace, d.Name)
		}
		values := make([]interface{}, len(d.Values))
		copy(values, d.Values)
		s.index[d.Name] = len(s.dims)
		s.dims = append(s.dims, Dimension{Name: d.Name, Values: values})
	}
	return s, nil
}

// Dimensions returns the dimensions in declaration order
func (s *Space) Dimensions() []Dimension {
	out := make([]Dimension, len(s.dims))
	copy(out, s.dims)
	return out
}

// Size is the number of points in the cross product
func (s *Space) Size() int {
	if len(s.dims) == 0 {
		return 0
	}
	n := 1
	for _, d := range s.dims {
		n *= len(d.Values)
	}
	return n
}

// At decodes point i of the cross product. The last dimension varies fastest.
func (s *Space) At(i int) Assignment {
	a := make(Assignment, len(s.dims))
	for d := len(s.dims) - 1; d >= 0; d-- {
		n := len(s.dims[d].Values)
		a[s.dims[d].Name] = s.dims[d].Values[i%n]
		i /= n
	}
	return a
}

// Flat enumerates the full cross product in deterministic order
func (s *Space) Flat() []Assignment {
	size := s.Size()
	out := make([]Assignment, size)
	for i := 0; i < size; i++ {
		out[i] = s.At(i)
	}
	return out
}

// Validate checks that the space holds exactly the standard dimensions and
// every candidate value converts into a valid trial field.
func (s *Space) Validate() error {
	for _, name := range standardDims {
		if _, ok := s.index[name]; !ok {
			return fmt.Errorf("%w: missing dimension %q", ErrInvalidSpace, name)
		}
	}
	for _, d := range s.dims {
		for _, v := range d.Values {
			if err := checkValue(d.Name, v); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidSpace, err)
			}
		}
	}
	return nil
}

// TrialSpecs converts the flat enumeration into trial specifications.
// Sequence numbers follow enumeration order and seeds are baseSeed+seq.
func (s *Space) TrialSpecs(baseSeed int64) ([]models.TrialSpec, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	flat := s.Flat()
	specs := make([]models.TrialSpec, 0, len(flat))
	for seq, a := range flat {
		spec, err := ToTrialSpec(a, seq, baseSeed+int64(seq))
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// ToTrialSpec resolves an assignment into a trial specification
func ToTrialSpec(a Assignment, seq int, seed int64) (models.TrialSpec, error) {
	var spec models.TrialSpec
	var err error

	conv, ok := a[DimConv].(models.ConvVariant)
	if !ok {
		return spec, fmt.Errorf("dimension %q: expected conv variant, got %T", DimConv, a[DimConv])
	}

	spec = models.TrialSpec{
		ID:   uuid.New().String(),
		Seq:  seq,
		Conv: conv.WithDefaults(),
		Seed: seed,
	}
	if spec.HiddenSize, err = toInt(DimHiddenSize, a[DimHiddenSize]); err != nil {
		return spec, err
	}
	if spec.NumLayers, err = toInt(DimNumLayers, a[DimNumLayers]); err != nil {
		return spec, err
	}
	if spec.InDropout, err = toFloat(DimInDropout, a[DimInDropout]); err != nil {
		return spec, err
	}
	if spec.OutDropout, err = toFloat(DimOutDropout, a[DimOutDropout]); err != nil {
		return spec, err
	}
	if spec.NIter, err = toInt(DimNIter, a[DimNIter]); err != nil {
		return spec, err
	}
	if spec.WeightDecay, err = toFloat(DimWeightDecay, a[DimWeightDecay]); err != nil {
		return spec, err
	}
	if spec.LearningRate, err = toFloat(DimLearningRate, a[DimLearningRate]); err != nil {
		return spec, err
	}
	if err := spec.Validate(); err != nil {
		return spec, fmt.Errorf("trial %d: %w", seq, err)
	}
	return spec, nil
}

func checkValue(name string, v interface{}) error {
	switch name {
	case DimConv:
		conv, ok := v.(models.ConvVariant)
		if !ok {
			return fmt.Errorf("dimension %q: expected conv variant, got %T", name, v)
		}
		return conv.Validate()
	case DimHiddenSize, DimNumLayers, DimNIter:
		_, err := toInt(name, v)
		return err
	case DimInDropout, DimOutDropout, DimWeightDecay, DimLearningRate:
		_, err := toFloat(name, v)
		return err
	}
	return fmt.Errorf("unknown dimension %q", name)
}

func toInt(name string, v interface{}) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case float64:
		if x != math.Trunc(x) {
			return 0, fmt.Errorf("dimension %q: %v is not an integer", name, x)
		}
		return int(x), nil
	default:
		return 0, fmt.Errorf("dimension %q: expected integer, got %T", name, v)
	}
}

func toFloat(name string, v interface{}) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	default:
		return 0, fmt.Errorf("dimension %q: expected number, got %T", name, v)
	}
}
