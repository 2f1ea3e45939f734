package cli

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"

	"github.com/privtrain/privtrain/internal/aggregate"
	"github.com/privtrain/privtrain/internal/core/config"
	"github.com/privtrain/privtrain/internal/core/models"
	"github.com/privtrain/privtrain/internal/messaging/heartbeat"
	"github.com/privtrain/privtrain/internal/orchestrator"
	"github.com/privtrain/privtrain/internal/training"
	"github.com/privtrain/privtrain/internal/utils/contextutil"
	"github.com/privtrain/privtrain/internal/utils/errorutil"
	"github.com/privtrain/privtrain/internal/worker"
	"github.com/privtrain/privtrain/pkg/logger"
)

// runSession wires a full training run: dataset, workers, aggregator,
// driver. Remote websocket workers are used when the federation config
// lists endpoints; otherwise the training split is partitioned across
// in-process workers.
func runSession(variant, loss string, localWorkers int, buildAggregator func(cfg *config.Config) (aggregate.Aggregator, error)) error {
	log := logger.WithComponent("cli")

	cfg, err := config.GetConfigManager().GetConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Training.DatasetPath == "" {
		return fmt.Errorf("TRAINING_DATASET_PATH is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dataset, err := training.LoadDataset(ctx, cfg.Training.DatasetPath, cfg.Training.DatasetFormat)
	if err != nil {
		return fmt.Errorf("failed to load dataset: %w", err)
	}
	trainSet, testSet := dataset.Split(cfg.Training.TestFraction, cfg.Training.Seed)
	log.Info().
		Int("train_samples", trainSet.Size()).
		Int("test_samples", testSet.Size()).
		Int("classes", dataset.NumClasses()).
		Msg("Dataset loaded")

	if len(cfg.Federation.Workers) > 0 && cfg.Federation.MonitorAddr != "" {
		shutdownMonitor := startHeartbeatMonitor(cfg.Federation.MonitorAddr)
		defer shutdownMonitor()
	}

	workers, err := buildWorkers(cfg, trainSet, localWorkers)
	if err != nil {
		return err
	}
	defer func() {
		for _, w := range workers {
			if err := w.Close(); err != nil {
				log.Debug().Err(err).Str("worker", w.Name()).Msg("Worker close failed")
			}
		}
	}()

	aggregator, err := buildAggregator(cfg)
	if err != nil {
		return err
	}

	net, err := training.NewNetwork(len(dataset.Features[0]), cfg.Training.HiddenSize, dataset.NumClasses(), loss, cfg.Training.Seed)
	if err != nil {
		return fmt.Errorf("failed to build initial model: %w", err)
	}

	driver, err := orchestrator.NewDriver(variant, workers, aggregator,
		training.NewEvaluator(cfg.Training.TestBatchSize), testSet,
		orchestrator.Config{
			Epochs:        cfg.Training.Epochs,
			WindowBatches: cfg.Federation.WindowBatches,
			Round: models.RoundConfig{
				LearningRate: cfg.Training.LearningRate,
				BatchSize:    cfg.Training.BatchSize,
				LogInterval:  cfg.Training.LogInterval,
				Loss:         loss,
			},
		})
	if err != nil {
		return err
	}

	report, err := driver.Run(ctx, net.ExportModel())
	if err != nil {
		return err
	}

	final := report.Epochs[len(report.Epochs)-1]
	log.Info().
		Str("session", report.Session.SessionID.String()).
		Int("total_rounds", report.TotalRounds).
		Int("total_batches", report.TotalBatches).
		Float64("final_accuracy", final.Eval.Accuracy).
		Dur("duration", report.Duration).
		Msg("Training session finished")
	return nil
}

// startHeartbeatMonitor serves the liveness receiver worker nodes post to.
// The returned func shuts the server down.
func startHeartbeatMonitor(addr string) func() {
	log := logger.WithComponent("cli")

	monitor := heartbeat.NewMonitor()
	router := mux.NewRouter()
	router.Handle("/heartbeat", monitor).Methods(http.MethodPost)

	srv := &http.Server{Addr: addr, Handler: router}
	go func() {
		log.Info().Str("addr", addr).Msg("Heartbeat monitor listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Heartbeat monitor failed")
		}
	}()

	return func() {
		shutdownCtx, cancel := contextutil.WithShortTimeout(context.Background())
		defer cancel()
		errorutil.HandleError(log, srv.Shutdown(shutdownCtx), "Heartbeat monitor shutdown failed")
	}
}

func buildWorkers(cfg *config.Config, trainSet *training.Dataset, localWorkers int) ([]worker.Worker, error) {
	if len(cfg.Federation.Workers) > 0 {
		workers := make([]worker.Worker, len(cfg.Federation.Workers))
		for i, url := range cfg.Federation.Workers {
			ws := worker.NewWSWorker(fmt.Sprintf("worker-%d", i), url, cfg.Federation.DialRetries, cfg.Federation.DialBackoff)
			if err := ws.Connect(); err != nil {
				return nil, err
			}
			workers[i] = ws
		}
		return workers, nil
	}

	if localWorkers <= 0 {
		return nil, fmt.Errorf("worker count must be positive, got %d", localWorkers)
	}
	shards := trainSet.Partition(localWorkers)
	workers := make([]worker.Worker, localWorkers)
	for i, shard := range shards {
		workers[i] = worker.NewLocalWorker(fmt.Sprintf("worker-%d", i), shard,
			cfg.Training.BatchSize, cfg.Training.Seed+int64(i))
	}
	return workers, nil
}
