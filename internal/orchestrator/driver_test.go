package orchestrator

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/privtrain/privtrain/internal/aggregate"
	"github.com/privtrain/privtrain/internal/core/models"
	"github.com/privtrain/privtrain/internal/secure"
	"github.com/privtrain/privtrain/internal/training"
	"github.com/privtrain/privtrain/internal/worker"
	"github.com/privtrain/privtrain/pkg/logger"
)

func init() {
	logger.Init()
}

type mockWorker struct {
	mock.Mock
}

func (m *mockWorker) Name() string {
	return m.Called().String(0)
}

func (m *mockWorker) BeginEpoch(ctx context.Context, epoch int) error {
	return m.Called(ctx, epoch).Error(0)
}

func (m *mockWorker) TrainWindow(ctx context.Context, task *models.RoundTask) (*models.ModelUpdate, error) {
	args := m.Called(ctx, task)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ModelUpdate), args.Error(1)
}

func (m *mockWorker) Close() error {
	return m.Called().Error(0)
}

// countingAggregator wraps FedAvg and records how often it runs.
type countingAggregator struct {
	inner aggregate.Aggregator
	calls int
}

func (c *countingAggregator) Aggregate(updates []*models.ModelUpdate) (*models.Model, error) {
	c.calls++
	return c.inner.Aggregate(updates)
}

// clusterDataset builds two separable classes.
func clusterDataset(samples int) *training.Dataset {
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

func baselineModel(t *testing.T, loss string) *models.Model {
	t.Helper()
	net, err := training.NewNetwork(2, 4, 2, loss, 1)
	require.NoError(t, err)
	return net.ExportModel()
}

func localWorkers(n, samplesEach, batchSize int) []worker.Worker {
	workers := make([]worker.Worker, n)
	for i := range workers {
		workers[i] = worker.NewLocalWorker(fmt.Sprintf("worker-%d", i),
			clusterDataset(samplesEach), batchSize, int64(i+1))
	}
	return workers
}

func TestNewDriverValidation(t *testing.T) {
	eval := training.NewEvaluator(4)
	test := clusterDataset(8)

	_, err := NewDriver("federated", nil, aggregate.NewFedAvg(), eval, test, Config{Epochs: 1, WindowBatches: 1})
	assert.Error(t, err, "no workers")

	_, err = NewDriver("federated", localWorkers(1, 8, 2), aggregate.NewFedAvg(), eval, test, Config{Epochs: 0, WindowBatches: 1})
	assert.Error(t, err, "bad epochs")

	_, err = NewDriver("federated", localWorkers(1, 8, 2), aggregate.NewFedAvg(), eval, test, Config{Epochs: 1, WindowBatches: 0})
	assert.Error(t, err, "bad window")
}

func TestDriverBatchAccounting(t *testing.T) {
	// 3 workers x 20 samples in batches of 5: four batches per worker
	// per epoch, everything else follows from the window size.
	agg := &countingAggregator{inner: aggregate.NewFedAvg()}
	cfg := Config{
		Epochs:        2,
		WindowBatches: 2,
		Round: models.RoundConfig{
			LearningRate: 0.05,
			BatchSize:    5,
			LogInterval:  2,
			Loss:         models.LossCrossEntropy,
		},
	}
	driver, err := NewDriver("federated", localWorkers(3, 20, 5), agg,
		training.NewEvaluator(4), clusterDataset(8), cfg)
	require.NoError(t, err)

	report, err := driver.Run(context.Background(), baselineModel(t, models.LossCrossEntropy))
	require.NoError(t, err)

	// one executor invocation per yielded batch, no skips, no duplicates
	assert.Equal(t, 24, report.TotalBatches, "3 workers x 4 batches x 2 epochs")
	require.Len(t, report.Epochs, 2)
	for _, epoch := range report.Epochs {
		assert.Equal(t, 12, epoch.Batches)
		assert.Equal(t, 2, epoch.Rounds, "the trailing empty window is not a round")
		assert.True(t, epoch.Truncated, "epoch ends by exhaustion detection")
		require.NotNil(t, epoch.Eval)
	}
	// two full windows aggregate per epoch; the trailing empty window
	// only detects exhaustion
	assert.Equal(t, 4, agg.calls)
	assert.Equal(t, 4, report.TotalRounds, "rounds reported match windows aggregated")
}

func TestDriverSkipsAggregationOnExhaustion(t *testing.T) {
	baseline := baselineModel(t, models.LossCrossEntropy)

	exhausted := &mockWorker{}
	exhausted.On("Name").Return("worker-0").Maybe()
	exhausted.On("BeginEpoch", mock.Anything, 1).Return(nil)
	exhausted.On("TrainWindow", mock.Anything, mock.Anything).Return(&models.ModelUpdate{
		WorkerID:         "worker-0",
		Model:            baseline.Clone(),
		BatchesProcessed: 3,
		Exhausted:        true,
	}, nil)

	agg := &countingAggregator{inner: aggregate.NewFedAvg()}
	driver, err := NewDriver("federated", []worker.Worker{exhausted}, agg,
		training.NewEvaluator(4), clusterDataset(8),
		Config{Epochs: 1, WindowBatches: 5, Round: models.RoundConfig{
			LearningRate: 0.05, BatchSize: 5, Loss: models.LossCrossEntropy,
		}})
	require.NoError(t, err)

	report, err := driver.Run(context.Background(), baseline)
	require.NoError(t, err)

	assert.Equal(t, 0, agg.calls, "no aggregation on an incomplete window")
	require.Len(t, report.Epochs, 1)
	assert.True(t, report.Epochs[0].Truncated)
	assert.Equal(t, 1, report.Epochs[0].Rounds, "a partial window still counts as a round")
	assert.NotNil(t, report.Epochs[0].Eval, "evaluation still runs after truncation")
	exhausted.AssertExpectations(t)
}

func TestDriverPropagatesWorkerFailure(t *testing.T) {
	failing := &mockWorker{}
	failing.On("Name").Return("worker-9")
	failing.On("BeginEpoch", mock.Anything, 1).Return(nil)
	failing.On("TrainWindow", mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("gradient rule missing for op"))

	driver, err := NewDriver("federated", []worker.Worker{failing}, aggregate.NewFedAvg(),
		training.NewEvaluator(4), clusterDataset(8),
		Config{Epochs: 1, WindowBatches: 2, Round: models.RoundConfig{
			LearningRate: 0.05, BatchSize: 5, Loss: models.LossCrossEntropy,
		}})
	require.NoError(t, err)

	_, err = driver.Run(context.Background(), baselineModel(t, models.LossCrossEntropy))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker-9", "fatal errors carry the worker identity")
	assert.Contains(t, err.Error(), "gradient rule missing")
}

func TestDriverCancellation(t *testing.T) {
	driver, err := NewDriver("federated", localWorkers(1, 20, 5), aggregate.NewFedAvg(),
		training.NewEvaluator(4), clusterDataset(8),
		Config{Epochs: 1, WindowBatches: 2, Round: models.RoundConfig{
			LearningRate: 0.05, BatchSize: 5, Loss: models.LossCrossEntropy,
		}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = driver.Run(ctx, baselineModel(t, models.LossCrossEntropy))
	assert.Error(t, err)
}

func TestDriverLearnsSeparableData(t *testing.T) {
	cfg := Config{
		Epochs:        2,
		WindowBatches: 3,
		Round: models.RoundConfig{
			LearningRate: 0.1,
			BatchSize:    4,
			LogInterval:  5,
			Loss:         models.LossCrossEntropy,
		},
	}
	driver, err := NewDriver("federated", localWorkers(3, 40, 4), aggregate.NewFedAvg(),
		training.NewEvaluator(8), clusterDataset(20), cfg)
	require.NoError(t, err)

	report, err := driver.Run(context.Background(), baselineModel(t, models.LossCrossEntropy))
	require.NoError(t, err)

	final := report.Epochs[len(report.Epochs)-1].Eval
	assert.Greater(t, final.Accuracy, 0.8, "federated training beats chance on separable clusters")
	require.NotNil(t, report.FinalModel)
	assert.NoError(t, report.FinalModel.Validate())
}

func TestDriverSecureVariant(t *testing.T) {
	vault, err := secure.NewVault(12, 45)
	require.NoError(t, err)

	cfg := Config{
		Epochs:        1,
		WindowBatches: 2,
		Round: models.RoundConfig{
			LearningRate: 0.05,
			BatchSize:    3,
			LogInterval:  2,
			Loss:         models.LossMSE,
		},
	}
	// 12 samples in batches of 3: two full windows, then exhaustion
	driver, err := NewDriver("secure", localWorkers(2, 12, 3), aggregate.NewSecureAvg(vault),
		training.NewEvaluator(4), clusterDataset(8), cfg)
	require.NoError(t, err)

	report, err := driver.Run(context.Background(), baselineModel(t, models.LossMSE))
	require.NoError(t, err)

	assert.Equal(t, 8, report.TotalBatches, "2 workers x 4 batches")
	assert.Equal(t, 2, report.TotalRounds)
	assert.Equal(t, 2, vault.Reveals(), "one reveal per aggregated window, nothing else")
	assert.NoError(t, report.FinalModel.Validate())
}
