package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/privtrain/privtrain/internal/aggregate"
	"github.com/privtrain/privtrain/internal/core/models"
	"github.com/privtrain/privtrain/internal/monitoring/metrics"
	"github.com/privtrain/privtrain/internal/training"
	"github.com/privtrain/privtrain/internal/worker"
	"github.com/privtrain/privtrain/pkg/logger"
)

type Config struct {
	Epochs        int
	WindowBatches int
	Round         models.RoundConfig
}

type EpochReport struct {
	Epoch     int                `json:"epoch"`
	Rounds    int                `json:"rounds"`
	Batches   int                `json:"batches"`
	Truncated bool               `json:"truncated"`
	Eval      *models.EvalMetrics `json:"eval"`
}

type Report struct {
	Session      models.TrainingSession `json:"session"`
	Epochs       []EpochReport          `json:"epochs"`
	FinalModel   *models.Model          `json:"-"`
	TotalBatches int                    `json:"total_batches"`
	TotalRounds  int                    `json:"total_rounds"`
	Duration     time.Duration          `json:"duration"`
}

// Driver runs the training rounds: epochs over federation windows over
// sequential per-worker training, with aggregation as the barrier between
// windows. Every worker call blocks, so exactly one logical writer (a
// worker's executor or the aggregator) holds the model at any point.
type Driver struct {
	workers    []worker.Worker
	aggregator aggregate.Aggregator
	evaluator  *training.Evaluator
	testSet    *training.Dataset
	cfg        Config
	session    models.TrainingSession
}

func NewDriver(variant string, workers []worker.Worker, aggregator aggregate.Aggregator, evaluator *training.Evaluator, testSet *training.Dataset, cfg Config) (*Driver, error) {
	if len(workers) == 0 {
		return nil, fmt.Errorf("no workers configured")
	}
	if cfg.Epochs <= 0 {
		return nil, fmt.Errorf("epochs must be positive, got %d", cfg.Epochs)
	}
	if cfg.WindowBatches <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d", cfg.WindowBatches)
	}
	return &Driver{
		workers:    workers,
		aggregator: aggregator,
		evaluator:  evaluator,
		testSet:    testSet,
		cfg:        cfg,
		session: models.TrainingSession{
			SessionID: uuid.New(),
			Variant:   variant,
			StartedAt: time.Now(),
		},
	}, nil
}

// Run executes the full training session and returns the report with the
// final model. Fatal errors carry the worker identity and operation that
// failed; exhaustion is not an error, it truncates the epoch's last round.
func (d *Driver) Run(ctx context.Context, baseline *models.Model) (*Report, error) {
	log := logger.WithComponent("driver").With().Str("session", d.session.SessionID.String()).Logger()
	start := time.Now()

	model := baseline.Clone()
	report := &Report{Session: d.session}

	log.Info().
		Str("variant", d.session.Variant).
		Int("workers", len(d.workers)).
		Int("epochs", d.cfg.Epochs).
		Int("window_batches", d.cfg.WindowBatches).
		Msg("Training session started")

	for epoch := 1; epoch <= d.cfg.Epochs; epoch++ {
		epochReport, nextModel, err := d.runEpoch(ctx, epoch, model)
		if err != nil {
			return nil, err
		}
		model = nextModel

		evalMetrics, err := d.evaluate(model)
		if err != nil {
			return nil, fmt.Errorf("epoch %d evaluation failed: %w", epoch, err)
		}
		epochReport.Eval = evalMetrics

		log.Info().
			Int("epoch", epoch).
			Int("rounds", epochReport.Rounds).
			Int("batches", epochReport.Batches).
			Float64("test_loss", evalMetrics.Loss).
			Float64("test_accuracy", evalMetrics.Accuracy).
			Msg("Epoch complete")

		report.Epochs = append(report.Epochs, *epochReport)
		report.TotalBatches += epochReport.Batches
		report.TotalRounds += epochReport.Rounds
	}

	report.FinalModel = model
	report.Duration = time.Since(start)
	return report, nil
}

func (d *Driver) runEpoch(ctx context.Context, epoch int, model *models.Model) (*EpochReport, *models.Model, error) {
	log := logger.WithComponent("driver")

	for _, w := range d.workers {
		if err := w.BeginEpoch(ctx, epoch); err != nil {
			return nil, nil, fmt.Errorf("worker %s: begin epoch %d failed: %w", w.Name(), epoch, err)
		}
	}

	epochReport := &EpochReport{Epoch: epoch}
	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, fmt.Errorf("session cancelled in epoch %d: %w", epoch, err)
		}

		round := epochReport.Rounds + 1
		task := &models.RoundTask{
			SessionID:   d.session.SessionID,
			RoundID:     uuid.New(),
			RoundNumber: round,
			Epoch:       epoch,
			MaxBatches:  d.cfg.WindowBatches,
			GlobalModel: model,
			Config:      d.cfg.Round,
		}

		updates, truncated, err := d.runWindow(ctx, task)
		if err != nil {
			return nil, nil, err
		}
		windowBatches := 0
		for _, u := range updates {
			windowBatches += u.BatchesProcessed
		}
		epochReport.Batches += windowBatches
		// An empty trailing window only detects exhaustion; it is not a round.
		if windowBatches > 0 {
			epochReport.Rounds = round
		}

		if truncated {
			// A worker ran out of data mid-window: no aggregation on
			// incomplete state, the round ends here.
			epochReport.Truncated = true
			metrics.ExhaustionEvents.Inc()
			log.Info().
				Int("epoch", epoch).
				Int("round", round).
				Msg("Round truncated by data exhaustion, skipping aggregation")
			return epochReport, model, nil
		}

		next, err := d.aggregator.Aggregate(updates)
		if err != nil {
			return nil, nil, fmt.Errorf("aggregation failed in epoch %d round %d: %w", epoch, epochReport.Rounds, err)
		}
		model = next
		metrics.AggregationsTotal.Inc()
		metrics.RoundsCompleted.Inc()
	}
}

// runWindow visits every worker sequentially, in configuration order.
func (d *Driver) runWindow(ctx context.Context, task *models.RoundTask) ([]*models.ModelUpdate, bool, error) {
	updates := make([]*models.ModelUpdate, 0, len(d.workers))
	truncated := false
	for _, w := range d.workers {
		update, err := w.TrainWindow(ctx, task)
		if err != nil {
			return nil, false, fmt.Errorf("worker %s: train window failed (epoch %d round %d): %w",
				w.Name(), task.Epoch, task.RoundNumber, err)
		}
		if update.Exhausted || update.BatchesProcessed < task.MaxBatches {
			update.Exhausted = true
			truncated = true
		}
		updates = append(updates, update)
	}
	return updates, truncated, nil
}

// evaluate runs the held-out set against the aggregated model; only the
// aggregate scalars cross the disclosure boundary.
func (d *Driver) evaluate(model *models.Model) (*models.EvalMetrics, error) {
	net, err := training.NetworkFromModel(model, d.cfg.Round.Loss)
	if err != nil {
		return nil, err
	}
	evalMetrics, err := d.evaluator.Evaluate(net, d.testSet)
	if err != nil {
		return nil, err
	}
	metrics.RevealsTotal.Inc()
	return evalMetrics, nil
}
