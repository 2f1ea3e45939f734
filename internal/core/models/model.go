package models

import (
	"fmt"
	"math"
)

// Model is an ordered set of named parameter tensors. Order matters for
// deterministic flattening and aggregation; Params holds row-major values.
type Model struct {
	ParamOrder []string             `json:"param_order"`
	Shapes     map[string][]int     `json:"shapes"`
	Params     map[string][]float64 `json:"params"`
}

func NewModel() *Model {
	return &Model{
		Shapes: make(map[string][]int),
		Params: make(map[string][]float64),
	}
}

// AddParam registers a named tensor. Registration order is the model's
// canonical parameter order.
func (m *Model) AddParam(name string, shape []int, values []float64) error {
	size := 1
	for _, d := range shape {
		size *= d
	}
	if size != len(values) {
		return fmt.Errorf("parameter %s: shape %v does not match %d values", name, shape, len(values))
	}
	if _, exists := m.Params[name]; exists {
		return fmt.Errorf("parameter %s already registered", name)
	}
	m.ParamOrder = append(m.ParamOrder, name)
	m.Shapes[name] = append([]int(nil), shape...)
	m.Params[name] = values
	return nil
}

// Clone returns a deep copy
func (m *Model) Clone() *Model {
	clone := &Model{
		ParamOrder: append([]string(nil), m.ParamOrder...),
		Shapes:     make(map[string][]int, len(m.Shapes)),
		Params:     make(map[string][]float64, len(m.Params)),
	}
	for name, shape := range m.Shapes {
		clone.Shapes[name] = append([]int(nil), shape...)
	}
	for name, values := range m.Params {
		clone.Params[name] = append([]float64(nil), values...)
	}
	return clone
}

// NumValues returns the total number of scalar parameters
func (m *Model) NumValues() int {
	total := 0
	for _, name := range m.ParamOrder {
		total += len(m.Params[name])
	}
	return total
}

// Flatten concatenates all parameters in canonical order
func (m *Model) Flatten() []float64 {
	flat := make([]float64, 0, m.NumValues())
	for _, name := range m.ParamOrder {
		flat = append(flat, m.Params[name]...)
	}
	return flat
}

// Unflatten writes a flat vector back into the named parameters, in
// canonical order. The vector length must match exactly.
func (m *Model) Unflatten(flat []float64) error {
	if len(flat) != m.NumValues() {
		return fmt.Errorf("flat vector has %d values, model has %d", len(flat), m.NumValues())
	}
	offset := 0
	for _, name := range m.ParamOrder {
		n := len(m.Params[name])
		copy(m.Params[name], flat[offset:offset+n])
		offset += n
	}
	return nil
}

// Equal reports whether two models hold the same parameters within tol
func (m *Model) Equal(other *Model, tol float64) bool {
	if other == nil || len(m.ParamOrder) != len(other.ParamOrder) {
		return false
	}
	for i, name := range m.ParamOrder {
		if other.ParamOrder[i] != name {
			return false
		}
		a, b := m.Params[name], other.Params[name]
		if len(a) != len(b) {
			return false
		}
		for j := range a {
			if math.Abs(a[j]-b[j]) > tol {
				return false
			}
		}
	}
	return true
}

// Validate rejects models containing NaN or Inf values
func (m *Model) Validate() error {
	for _, name := range m.ParamOrder {
		for i, v := range m.Params[name] {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("parameter %s contains NaN/Inf at index %d", name, i)
			}
		}
	}
	return nil
}
