package worker

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/privtrain/privtrain/internal/core/models"
	"github.com/privtrain/privtrain/internal/training"
)

func testShard(samples int) *training.Dataset {
	ds := &training.Dataset{}
	for i := 0; i < samples; i++ {
		if i%2 == 0 {
			ds.Features = append(ds.Features, []float64{1, 1})
			ds.Labels = append(ds.Labels, 0)
		} else {
			ds.Features = append(ds.Features, []float64{-1, -1})
			ds.Labels = append(ds.Labels, 1)
		}
	}
	return ds
}

func testTask(t *testing.T, maxBatches int) *models.RoundTask {
	t.Helper()
	net, err := training.NewNetwork(2, 4, 2, models.LossMSE, 1)
	require.NoError(t, err)
	return &models.RoundTask{
		SessionID:   uuid.New(),
		RoundID:     uuid.New(),
		RoundNumber: 1,
		Epoch:       1,
		MaxBatches:  maxBatches,
		GlobalModel: net.ExportModel(),
		Config: models.RoundConfig{
			LearningRate: 0.05,
			BatchSize:    3,
			LogInterval:  0,
			Loss:         models.LossMSE,
		},
	}
}

func TestLocalWorkerTrainWindow(t *testing.T) {
	ctx := context.Background()

	t.Run("window_before_epoch_fails", func(t *testing.T) {
		w := NewLocalWorker("w0", testShard(12), 3, 1)
		_, err := w.TrainWindow(ctx, testTask(t, 2))
		assert.Error(t, err)
	})

	t.Run("full_window", func(t *testing.T) {
		w := NewLocalWorker("w0", testShard(12), 3, 1)
		require.NoError(t, w.BeginEpoch(ctx, 1))

		update, err := w.TrainWindow(ctx, testTask(t, 2))
		require.NoError(t, err)
		assert.Equal(t, 2, update.BatchesProcessed)
		assert.False(t, update.Exhausted)
		assert.Equal(t, "w0", update.WorkerID)
		assert.Equal(t, 12, update.DataSize)
		require.NotNil(t, update.Model)
		assert.NoError(t, update.Model.Validate())
	})

	t.Run("windows_consume_one_epoch_stream", func(t *testing.T) {
		// 12 examples in batches of 3: four batches per epoch
		w := NewLocalWorker("w0", testShard(12), 3, 1)
		require.NoError(t, w.BeginEpoch(ctx, 1))

		first, err := w.TrainWindow(ctx, testTask(t, 3))
		require.NoError(t, err)
		assert.Equal(t, 3, first.BatchesProcessed)
		assert.False(t, first.Exhausted)

		second, err := w.TrainWindow(ctx, testTask(t, 3))
		require.NoError(t, err)
		assert.Equal(t, 1, second.BatchesProcessed)
		assert.True(t, second.Exhausted, "stream ends mid-window")
	})

	t.Run("exhaustion_mid_window", func(t *testing.T) {
		w := NewLocalWorker("w0", testShard(12), 3, 1)
		require.NoError(t, w.BeginEpoch(ctx, 1))

		update, err := w.TrainWindow(ctx, testTask(t, 50))
		require.NoError(t, err)
		assert.Equal(t, 4, update.BatchesProcessed)
		assert.True(t, update.Exhausted)
	})

	t.Run("begin_epoch_resets_stream", func(t *testing.T) {
		w := NewLocalWorker("w0", testShard(12), 3, 1)
		require.NoError(t, w.BeginEpoch(ctx, 1))
		_, err := w.TrainWindow(ctx, testTask(t, 50))
		require.NoError(t, err)

		require.NoError(t, w.BeginEpoch(ctx, 2))
		update, err := w.TrainWindow(ctx, testTask(t, 2))
		require.NoError(t, err)
		assert.Equal(t, 2, update.BatchesProcessed)
		assert.False(t, update.Exhausted)
	})

	t.Run("cancelled_context", func(t *testing.T) {
		w := NewLocalWorker("w0", testShard(12), 3, 1)
		require.NoError(t, w.BeginEpoch(ctx, 1))

		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := w.TrainWindow(cancelled, testTask(t, 2))
		assert.Error(t, err)
	})
}
