package gnn

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
)

const (
	ModelFile     = "model.gob"
	OptimizerFile = "optimizer.gob"
)

type tensor struct {
	Rows, Cols int
	Data       []float64
}

type modelState struct {
	Trial  string
	Params map[string]tensor
}

type optimizerState struct {
	Step int
	M, V map[string][]float64
}

// Save writes model parameters and optimizer state into dir
func (m *Model) Save(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create checkpoint dir: %w", err)
	}

	ms := modelState{Trial: m.fingerprint(), Params: make(map[string]tensor)}
	for _, p := range m.Params() {
		r, c := p.Value.Dims()
		ms.Params[p.Name] = tensor{Rows: r, Cols: c, Data: append([]float64(nil), p.Value.RawMatrix().Data...)}
	}
	if err := writeGob(filepath.Join(dir, ModelFile), ms); err != nil {
		return err
	}

	st := optimizerState{Step: m.opt.step, M: m.opt.m, V: m.opt.v}
	return writeGob(filepath.Join(dir, OptimizerFile), st)
}

// Restore loads a checkpoint written by Save into a model built with the
// same hyperparameters.
func (m *Model) Restore(dir string) error {
	var ms modelState
	if err := readGob(filepath.Join(dir, ModelFile), &ms); err != nil {
		return err
	}
	if ms.Trial != m.fingerprint() {
		return fmt.Errorf("checkpoint is for %q, model is %q", ms.Trial, m.fingerprint())
	}

	params := m.Params()
	for _, p := range params {
		t, ok := ms.Params[p.Name]
		if !ok {
			return fmt.Errorf("checkpoint missing parameter %s", p.Name)
		}
		r, c := p.Value.Dims()
		if t.Rows != r || t.Cols != c || len(t.Data) != r*c {
			return fmt.Errorf("parameter %s: checkpoint shape %dx%d, model %dx%d", p.Name, t.Rows, t.Cols, r, c)
		}
	}
	for _, p := range params {
		copy(p.Value.RawMatrix().Data, ms.Params[p.Name].Data)
	}

	var st optimizerState
	if err := readGob(filepath.Join(dir, OptimizerFile), &st); err != nil {
		return err
	}
	m.opt.step = st.Step
	m.opt.m = st.M
	m.opt.v = st.V
	if m.opt.m == nil {
		m.opt.m = make(map[string][]float64)
	}
	if m.opt.v == nil {
		m.opt.v = make(map[string][]float64)
	}
	return nil
}

// fingerprint identifies the hyperparameters that determine parameter shapes
func (m *Model) fingerprint() string {
	s := m.cfg.Trial
	return fmt.Sprintf("%s|in=%d|hidden=%d|layers=%d|classes=%d",
		s.Conv, m.cfg.NumFeatures, s.HiddenSize, s.NumLayers, m.cfg.NumClasses)
}

func writeGob(path string, v interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := gob.NewEncoder(f).Encode(v); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return f.Close()
}

func readGob(path string, v interface{}) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	if err := gob.NewDecoder(f).Decode(v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}
