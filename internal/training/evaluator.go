package training

import (
	"fmt"

	"github.com/privtrain/privtrain/internal/core/models"
)

// Evaluator runs inference-only passes over a held-out set. It never
// mutates the network, and only the final aggregate loss/accuracy scalars
// leave it; per-example predictions stay inside.
type Evaluator struct {
	batchSize int
}

func NewEvaluator(batchSize int) *Evaluator {
	if batchSize <= 0 {
		batchSize = 64
	}
	return &Evaluator{batchSize: batchSize}
}

func (e *Evaluator) Evaluate(net *Network, testSet *Dataset) (*models.EvalMetrics, error) {
	if testSet.Size() == 0 {
		return nil, fmt.Errorf("empty test set")
	}

	totalLoss := 0.0
	correct := 0
	for start := 0; start < testSet.Size(); start += e.batchSize {
		end := start + e.batchSize
		if end > testSet.Size() {
			end = testSet.Size()
		}
		batch := &models.Batch{
			Inputs: testSet.Features[start:end],
			Labels: testSet.Labels[start:end],
		}
		loss, c, err := net.EvaluateBatch(batch)
		if err != nil {
			return nil, fmt.Errorf("evaluation failed at sample %d: %w", start, err)
		}
		totalLoss += loss
		correct += c
	}

	return &models.EvalMetrics{
		Loss:     totalLoss / float64(testSet.Size()),
		Accuracy: float64(correct) / float64(testSet.Size()),
		Correct:  correct,
		Samples:  testSet.Size(),
	}, nil
}
