package training

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/privtrain/privtrain/internal/core/models"
)

// two well-separated clusters, one per class
func separableBatch(samples int) *models.Batch {
	batch := &models.Batch{}
	for i := 0; i < samples; i++ {
		if i%2 == 0 {
			batch.Inputs = append(batch.Inputs, []float64{1.0, 1.0})
			batch.Labels = append(batch.Labels, 0)
		} else {
			batch.Inputs = append(batch.Inputs, []float64{-1.0, -1.0})
			batch.Labels = append(batch.Labels, 1)
		}
	}
	return batch
}

func TestNewNetwork(t *testing.T) {
	t.Run("rejects_bad_dimensions", func(t *testing.T) {
		_, err := NewNetwork(0, 4, 2, models.LossMSE, 1)
		assert.Error(t, err)
	})

	t.Run("rejects_unknown_loss", func(t *testing.T) {
		_, err := NewNetwork(2, 4, 2, "hinge", 1)
		assert.Error(t, err)
	})

	t.Run("seeded_init_is_deterministic", func(t *testing.T) {
		a, err := NewNetwork(2, 4, 2, models.LossCrossEntropy, 7)
		require.NoError(t, err)
		b, err := NewNetwork(2, 4, 2, models.LossCrossEntropy, 7)
		require.NoError(t, err)
		assert.True(t, a.ExportModel().Equal(b.ExportModel(), 0))
	})
}

func TestTrainBatch(t *testing.T) {
	for _, loss := range []string{models.LossCrossEntropy, models.LossMSE} {
		t.Run(loss, func(t *testing.T) {
			net, err := NewNetwork(2, 8, 2, loss, 3)
			require.NoError(t, err)

			batch := separableBatch(16)
			first, _, err := net.TrainBatch(batch, 0.1)
			require.NoError(t, err)

			var last float64
			var correct int
			for i := 0; i < 200; i++ {
				last, correct, err = net.TrainBatch(batch, 0.1)
				require.NoError(t, err)
			}
			assert.Less(t, last, first, "loss should decrease on separable data")
			assert.Greater(t, float64(correct)/16.0, 0.5)
		})
	}

	t.Run("empty_batch", func(t *testing.T) {
		net, err := NewNetwork(2, 4, 2, models.LossMSE, 1)
		require.NoError(t, err)
		_, _, err = net.TrainBatch(&models.Batch{}, 0.1)
		assert.Error(t, err)
	})

	t.Run("label_out_of_range", func(t *testing.T) {
		net, err := NewNetwork(2, 4, 2, models.LossMSE, 1)
		require.NoError(t, err)
		batch := &models.Batch{Inputs: [][]float64{{1, 2}}, Labels: []float64{5}}
		_, _, err = net.TrainBatch(batch, 0.1)
		assert.Error(t, err)
	})

	t.Run("feature_width_mismatch", func(t *testing.T) {
		net, err := NewNetwork(3, 4, 2, models.LossMSE, 1)
		require.NoError(t, err)
		batch := &models.Batch{Inputs: [][]float64{{1, 2}}, Labels: []float64{0}}
		_, _, err = net.TrainBatch(batch, 0.1)
		assert.Error(t, err)
	})
}

func TestEvaluateBatchDoesNotMutate(t *testing.T) {
	net, err := NewNetwork(2, 4, 2, models.LossCrossEntropy, 5)
	require.NoError(t, err)

	before := net.ExportModel()
	_, _, err = net.EvaluateBatch(separableBatch(8))
	require.NoError(t, err)
	assert.True(t, net.ExportModel().Equal(before, 0))
}

func TestModelRoundTrip(t *testing.T) {
	net, err := NewNetwork(3, 5, 2, models.LossCrossEntropy, 11)
	require.NoError(t, err)
	snapshot := net.ExportModel()

	t.Run("import_restores_parameters", func(t *testing.T) {
		other, err := NewNetwork(3, 5, 2, models.LossCrossEntropy, 99)
		require.NoError(t, err)
		require.False(t, other.ExportModel().Equal(snapshot, 0))

		require.NoError(t, other.ImportModel(snapshot))
		assert.True(t, other.ExportModel().Equal(snapshot, 0))
	})

	t.Run("network_from_model", func(t *testing.T) {
		rebuilt, err := NetworkFromModel(snapshot, models.LossCrossEntropy)
		require.NoError(t, err)
		assert.True(t, rebuilt.ExportModel().Equal(snapshot, 0))
	})

	t.Run("mis_sized_model_rejected", func(t *testing.T) {
		other, err := NewNetwork(4, 5, 2, models.LossCrossEntropy, 1)
		require.NoError(t, err)
		assert.Error(t, other.ImportModel(snapshot))
	})
}

func TestEvaluator(t *testing.T) {
	net, err := NewNetwork(2, 8, 2, models.LossCrossEntropy, 3)
	require.NoError(t, err)

	batch := separableBatch(32)
	for i := 0; i < 300; i++ {
		_, _, err = net.TrainBatch(batch, 0.1)
		require.NoError(t, err)
	}

	testSet := &Dataset{Features: batch.Inputs, Labels: batch.Labels}
	ev := NewEvaluator(8)

	before := net.ExportModel()
	metrics, err := ev.Evaluate(net, testSet)
	require.NoError(t, err)

	assert.Equal(t, 32, metrics.Samples)
	assert.Greater(t, metrics.Accuracy, 0.9, "trained net should classify its training clusters")
	assert.True(t, net.ExportModel().Equal(before, 0), "evaluation must not mutate the model")

	t.Run("empty_test_set", func(t *testing.T) {
		_, err := ev.Evaluate(net, &Dataset{})
		assert.Error(t, err)
	})
}

func TestStepExecutorAccounting(t *testing.T) {
	net, err := NewNetwork(2, 4, 2, models.LossMSE, 2)
	require.NoError(t, err)
	exec := NewStepExecutor(net, 0.05)

	batch := separableBatch(4)
	for i := 0; i < 7; i++ {
		_, _, err := exec.Step(batch)
		require.NoError(t, err)
	}
	assert.Equal(t, 7, exec.Steps())
}

// onesNetwork builds a 2x4x2 net with unit weights and zero biases, so a
// non-finite input is guaranteed to reach the loss.
func onesNetwork(t *testing.T, loss string) (*Network, *models.Model) {
	t.Helper()
	ones := func(n int) []float64 {
		v := make([]float64, n)
		for i := range v {
			v[i] = 1
		}
		return v
	}
	m := models.NewModel()
	require.NoError(t, m.AddParam(ParamInputToHidden, []int{2, 4}, ones(8)))
	require.NoError(t, m.AddParam(ParamHiddenBias, []int{4}, make([]float64, 4)))
	require.NoError(t, m.AddParam(ParamHiddenToOutput, []int{4, 2}, ones(8)))
	require.NoError(t, m.AddParam(ParamOutputBias, []int{2}, make([]float64, 2)))
	net, err := NetworkFromModel(m, loss)
	require.NoError(t, err)
	return net, m
}

func TestTrainBatchAbortsOnNumericalInstability(t *testing.T) {
	poisoned := &models.Batch{
		Inputs: [][]float64{{math.Inf(1), 1.0}},
		Labels: []float64{0},
	}

	for _, loss := range []string{models.LossMSE, models.LossCrossEntropy} {
		t.Run(loss, func(t *testing.T) {
			net, before := onesNetwork(t, loss)

			_, _, err := net.TrainBatch(poisoned, 0.05)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrNumericalInstability)
			assert.True(t, net.ExportModel().Equal(before, 0),
				"a failing step must not land a weight update")
		})
	}
}

func TestEvaluateBatchSurfacesInstability(t *testing.T) {
	net, _ := onesNetwork(t, models.LossMSE)
	_, _, err := net.EvaluateBatch(&models.Batch{
		Inputs: [][]float64{{math.Inf(1), 1.0}},
		Labels: []float64{0},
	})
	assert.ErrorIs(t, err, ErrNumericalInstability)
}
