package aggregate

import (
	"fmt"

	"github.com/privtrain/privtrain/internal/core/models"
)

// Aggregator combines per-worker model copies into the next baseline.
// Inputs arrive in deterministic worker order; averaging is commutative so
// order only matters for reproducible logs.
type Aggregator interface {
	Aggregate(updates []*models.ModelUpdate) (*models.Model, error)
}

// FedAvg computes the element-wise mean of each named parameter across all
// worker copies.
type FedAvg struct{}

func NewFedAvg() *FedAvg {
	return &FedAvg{}
}

func (a *FedAvg) Aggregate(updates []*models.ModelUpdate) (*models.Model, error) {
	if err := validateUpdates(updates); err != nil {
		return nil, err
	}

	result := updates[0].Model.Clone()
	for _, name := range result.ParamOrder {
		acc := result.Params[name]
		for _, u := range updates[1:] {
			vals, ok := u.Model.Params[name]
			if !ok || len(vals) != len(acc) {
				return nil, fmt.Errorf("worker %s: parameter %s missing or mis-sized", u.WorkerID, name)
			}
			for i := range acc {
				acc[i] += vals[i]
			}
		}
		n := float64(len(updates))
		for i := range acc {
			acc[i] /= n
		}
	}

	if err := result.Validate(); err != nil {
		return nil, fmt.Errorf("aggregated model invalid: %w", err)
	}
	return result, nil
}

func validateUpdates(updates []*models.ModelUpdate) error {
	if len(updates) == 0 {
		return fmt.Errorf("no updates to aggregate")
	}
	for _, u := range updates {
		// An exhausted update is a partial window and must never be
		// averaged in.
		if u.Exhausted {
			return fmt.Errorf("worker %s reported exhaustion; refusing to aggregate a partial window", u.WorkerID)
		}
		if u.Model == nil {
			return fmt.Errorf("worker %s: update carries no model", u.WorkerID)
		}
	}
	return nil
}
