package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/privtrain/privtrain/internal/core/models"
	"github.com/privtrain/privtrain/internal/monitoring/metrics"
	"github.com/privtrain/privtrain/internal/training"
	"github.com/privtrain/privtrain/pkg/logger"
)

// LocalWorker holds one disjoint shard and trains on it in-process. It is
// both the simulation backend for single-process runs and the execution
// half of a networked worker node.
type LocalWorker struct {
	name      string
	shard     *training.Dataset
	batchSize int
	seed      int64
	cursor    *training.BatchCursor
	epoch     int
}

func NewLocalWorker(name string, shard *training.Dataset, batchSize int, seed int64) *LocalWorker {
	return &LocalWorker{
		name:      name,
		shard:     shard,
		batchSize: batchSize,
		seed:      seed,
	}
}

func (w *LocalWorker) Name() string {
	return w.name
}

func (w *LocalWorker) BeginEpoch(ctx context.Context, epoch int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.epoch = epoch
	w.cursor = w.shard.Batches(w.batchSize, w.seed, epoch)
	return nil
}

func (w *LocalWorker) TrainWindow(ctx context.Context, task *models.RoundTask) (*models.ModelUpdate, error) {
	if w.cursor == nil {
		return nil, fmt.Errorf("worker %s: TrainWindow before BeginEpoch", w.name)
	}

	log := logger.WithComponent("worker").With().Str("worker", w.name).Logger()
	start := time.Now()

	net, err := training.NetworkFromModel(task.GlobalModel, task.Config.Loss)
	if err != nil {
		return nil, fmt.Errorf("worker %s: loading baseline failed: %w", w.name, err)
	}
	exec := training.NewStepExecutor(net, task.Config.LearningRate)

	update := &models.ModelUpdate{
		SessionID: task.SessionID,
		RoundID:   task.RoundID,
		WorkerID:  w.name,
		DataSize:  w.shard.Size(),
	}

	for b := 0; b < task.MaxBatches; b++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("worker %s: window cancelled: %w", w.name, err)
		}

		batch, err := w.cursor.Next()
		if errors.Is(err, training.ErrStreamExhausted) {
			update.Exhausted = true
			log.Info().Int("epoch", w.epoch).Int("batches", update.BatchesProcessed).Msg("Data stream exhausted")
			break
		}
		if err != nil {
			return nil, fmt.Errorf("worker %s: batch fetch failed: %w", w.name, err)
		}

		loss, _, err := exec.Step(batch)
		if err != nil {
			// Representation errors are fatal to the run; never train past one.
			return nil, fmt.Errorf("worker %s: training step failed: %w", w.name, err)
		}
		update.BatchesProcessed++
		update.Loss = loss
		metrics.BatchesProcessed.Inc()

		if task.Config.LogInterval > 0 && update.BatchesProcessed%task.Config.LogInterval == 0 {
			// Scalar-only disclosure: the loss value and nothing else.
			metrics.RevealsTotal.Inc()
			log.Info().
				Int("epoch", w.epoch).
				Int("round", task.RoundNumber).
				Int("batch", update.BatchesProcessed).
				Float64("loss", loss).
				Msg("Training loss")
		}
	}

	update.Model = net.ExportModel()
	update.TrainingTime = time.Since(start)
	return update, nil
}

func (w *LocalWorker) Close() error {
	return nil
}
