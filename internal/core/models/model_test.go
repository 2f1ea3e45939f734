package models

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTestModel(t *testing.T) *Model {
	t.Helper()
	m := NewModel()
	require.NoError(t, m.AddParam("weights", []int{2, 2}, []float64{1, 2, 3, 4}))
	require.NoError(t, m.AddParam("bias", []int{2}, []float64{0.5, -0.5}))
	return m
}

func TestModelAddParam(t *testing.T) {
	t.Run("shape_mismatch", func(t *testing.T) {
		m := NewModel()
		err := m.AddParam("weights", []int{2, 2}, []float64{1, 2, 3})
		assert.Error(t, err)
	})

	t.Run("duplicate_name", func(t *testing.T) {
		m := buildTestModel(t)
		err := m.AddParam("weights", []int{1}, []float64{1})
		assert.Error(t, err)
	})

	t.Run("registration_order_is_canonical", func(t *testing.T) {
		m := buildTestModel(t)
		assert.Equal(t, []string{"weights", "bias"}, m.ParamOrder)
	})
}

func TestModelClone(t *testing.T) {
	m := buildTestModel(t)
	clone := m.Clone()

	require.True(t, m.Equal(clone, 0))

	clone.Params["weights"][0] = 99
	assert.Equal(t, 1.0, m.Params["weights"][0], "clone must not share backing arrays")
}

func TestModelFlattenUnflatten(t *testing.T) {
	m := buildTestModel(t)

	flat := m.Flatten()
	assert.Equal(t, []float64{1, 2, 3, 4, 0.5, -0.5}, flat)

	for i := range flat {
		flat[i] *= 2
	}
	require.NoError(t, m.Unflatten(flat))
	assert.Equal(t, []float64{2, 4, 6, 8}, m.Params["weights"])
	assert.Equal(t, []float64{1, -1}, m.Params["bias"])

	t.Run("length_mismatch", func(t *testing.T) {
		assert.Error(t, m.Unflatten([]float64{1, 2, 3}))
	})
}

func TestModelEqual(t *testing.T) {
	m := buildTestModel(t)
	other := m.Clone()

	other.Params["bias"][0] += 1e-9
	assert.True(t, m.Equal(other, 1e-6))
	assert.False(t, m.Equal(other, 0))
	assert.False(t, m.Equal(nil, 1e-6))
}

func TestModelValidate(t *testing.T) {
	m := buildTestModel(t)
	require.NoError(t, m.Validate())

	m.Params["weights"][2] = math.NaN()
	assert.Error(t, m.Validate())
}
