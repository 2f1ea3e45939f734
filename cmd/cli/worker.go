package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/privtrain/privtrain/internal/core/config"
	"github.com/privtrain/privtrain/internal/messaging/heartbeat"
	"github.com/privtrain/privtrain/internal/training"
	"github.com/privtrain/privtrain/internal/utils/contextutil"
	"github.com/privtrain/privtrain/internal/utils/errorutil"
	"github.com/privtrain/privtrain/internal/worker"
	"github.com/privtrain/privtrain/pkg/logger"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a worker node",
	Long:  `Serves this node's data shard to a training coordinator over the websocket protocol`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorkerNode()
	},
}

func runWorkerNode() error {
	log := logger.WithComponent("cli")

	cfg, err := config.GetConfigManager().GetConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Worker.Name == "" {
		return fmt.Errorf("WORKER_NAME is required")
	}
	if cfg.Worker.ShardCount <= 0 || cfg.Worker.ShardIndex < 0 || cfg.Worker.ShardIndex >= cfg.Worker.ShardCount {
		return fmt.Errorf("invalid shard assignment %d/%d", cfg.Worker.ShardIndex, cfg.Worker.ShardCount)
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

	// Same split seed as the coordinator, so the node trains only on
	// examples outside the held-out test set.
	trainSet, _ := dataset.Split(cfg.Training.TestFraction, cfg.Training.Seed)
	shard := trainSet.Partition(cfg.Worker.ShardCount)[cfg.Worker.ShardIndex]
	log.Info().
		Str("worker", cfg.Worker.Name).
		Int("shard_index", cfg.Worker.ShardIndex).
		Int("shard_samples", shard.Size()).
		Msg("Shard loaded")

	local := worker.NewLocalWorker(cfg.Worker.Name, shard, cfg.Training.BatchSize,
		cfg.Training.Seed+int64(cfg.Worker.ShardIndex))
	node := worker.NewNode(local, cfg.Worker)

	if cfg.Worker.CoordinatorURL != "" {
		hb := heartbeat.NewService(heartbeat.Config{
			TargetURL:    cfg.Worker.CoordinatorURL,
			WorkerName:   cfg.Worker.Name,
			BaseInterval: cfg.Worker.HeartbeatInterval,
		})
		if err := hb.Start(); err != nil {
			return fmt.Errorf("failed to start heartbeat: %w", err)
		}
		defer hb.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- node.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info().Str("worker", cfg.Worker.Name).Msg("Shutting down")
		shutdownCtx, cancel := contextutil.WithCustomTimeout(context.Background(), 10*time.Second)
		defer cancel()
		errorutil.HandleError(log, node.Shutdown(shutdownCtx), "Shutdown failed")
		return nil
	}
}
