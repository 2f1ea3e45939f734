package worker

import (
	"context"

	"github.com/privtrain/privtrain/internal/core/models"
)

// Worker is the remote worker capability: a handle addressable by name
// that executes training windows against data the orchestration never
// sees. Whether the other side is an in-process shard or a networked node
// is opaque to callers; every method is a blocking call from the driver's
// point of view.
type Worker interface {
	Name() string

	// BeginEpoch opens a fresh epoch-scoped batch stream on the worker.
	// Streams are finite and not restartable mid-epoch.
	BeginEpoch(ctx context.Context, epoch int) error

	// TrainWindow trains up to task.MaxBatches batches from the current
	// stream, starting from task.GlobalModel, and returns the locally
	// updated copy. A short window sets Exhausted on the update.
	TrainWindow(ctx context.Context, task *models.RoundTask) (*models.ModelUpdate, error)

	Close() error
}
