package aggregate

import (
	"fmt"

	"github.com/privtrain/privtrain/internal/core/models"
	"github.com/privtrain/privtrain/internal/secure"
)

// SecureAvg averages worker models under encryption. Each copy is
// encrypted, summed homomorphically and scaled by 1/N before the single
// Reveal; individual worker updates are never visible in plaintext on the
// aggregation path.
type SecureAvg struct {
	vault *secure.Vault
}

func NewSecureAvg(vault *secure.Vault) *SecureAvg {
	return &SecureAvg{vault: vault}
}

func (a *SecureAvg) Aggregate(updates []*models.ModelUpdate) (*models.Model, error) {
	if err := validateUpdates(updates); err != nil {
		return nil, err
	}

	encrypted := make([]*secure.EncryptedVector, len(updates))
	for i, u := range updates {
		ev, err := a.vault.Encrypt(u.Model.Flatten())
		if err != nil {
			return nil, fmt.Errorf("worker %s: encrypting update failed: %w", u.WorkerID, err)
		}
		encrypted[i] = ev
	}

	sum, err := a.vault.Sum(encrypted)
	if err != nil {
		return nil, fmt.Errorf("homomorphic sum failed: %w", err)
	}
	if err := a.vault.Scale(sum, 1.0/float64(len(updates))); err != nil {
		return nil, fmt.Errorf("scaling by 1/%d failed: %w", len(updates), err)
	}

	avg, err := a.vault.Reveal(sum)
	if err != nil {
		return nil, fmt.Errorf("revealing aggregate failed: %w", err)
	}

	result := updates[0].Model.Clone()
	if err := result.Unflatten(avg); err != nil {
		return nil, err
	}
	if err := result.Validate(); err != nil {
		return nil, fmt.Errorf("aggregated model invalid: %w", err)
	}
	return result, nil
}
