package models

import (
	"time"

	"github.com/google/uuid"
)

// Loss function identifiers. Cross entropy is only computable on plaintext
// representations; encrypted-aggregation sessions train against MSE.
const (
	LossMSE          = "mse"
	LossCrossEntropy = "cross_entropy"
)

type TrainingSession struct {
	SessionID uuid.UUID `json:"session_id"`
	Variant   string    `json:"variant"`
	StartedAt time.Time `json:"started_at"`
}

type RoundConfig struct {
	LearningRate float64 `json:"learning_rate"`
	BatchSize    int     `json:"batch_size"`
	LogInterval  int     `json:"log_interval"`
	Loss         string  `json:"loss"`
}

// RoundTask asks a worker to train up to MaxBatches batches of the current
// epoch starting from GlobalModel.
type RoundTask struct {
	SessionID   uuid.UUID   `json:"session_id"`
	RoundID     uuid.UUID   `json:"round_id"`
	RoundNumber int         `json:"round_number"`
	Epoch       int         `json:"epoch"`
	MaxBatches  int         `json:"max_batches"`
	GlobalModel *Model      `json:"global_model"`
	Config      RoundConfig `json:"config"`
}

// ModelUpdate is a worker's result for one training window.
type ModelUpdate struct {
	SessionID        uuid.UUID     `json:"session_id"`
	RoundID          uuid.UUID     `json:"round_id"`
	WorkerID         string        `json:"worker_id"`
	Model            *Model        `json:"model"`
	BatchesProcessed int           `json:"batches_processed"`
	DataSize         int           `json:"data_size"`
	Loss             float64       `json:"loss"`
	TrainingTime     time.Duration `json:"training_time"`
	// Exhausted marks that the worker's epoch stream ended before
	// MaxBatches; the update must not be aggregated.
	Exhausted bool `json:"exhausted"`
}

type EvalMetrics struct {
	Loss     float64 `json:"loss"`
	Accuracy float64 `json:"accuracy"`
	Correct  int     `json:"correct"`
	Samples  int     `json:"samples"`
}
