package secure

import (
	"fmt"
	"sync"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/ckks"

	"github.com/privtrain/privtrain/pkg/logger"
)

// Vault is the secure tensor capability: it encrypts parameter vectors,
// combines them without intermediate disclosure, and decrypts only at the
// explicit Reveal boundary. All cryptography is CKKS under the hood; no
// share arithmetic is implemented here.
//
// Reveal is the single privileged crossing. The vault counts every call so
// the disclosure budget of a run is observable and testable.
type Vault struct {
	params ckks.Parameters
	ecd    *ckks.Encoder
	enc    *rlwe.Encryptor
	dec    *rlwe.Decryptor
	eval   *ckks.Evaluator
	slots  int

	mu      sync.Mutex
	reveals int
}

// EncryptedVector holds a vector of real values chunked across one or more
// ciphertexts. Length remembers the plaintext size so Reveal can trim the
// slot padding.
type EncryptedVector struct {
	cts    []*rlwe.Ciphertext
	length int
}

// Length returns the plaintext length of the vector.
func (ev *EncryptedVector) Length() int {
	return ev.length
}

// NewVault generates fresh CKKS parameters and keys. An initial 55-bit
// prime, two 45-bit primes and a 61-bit key-switching prime leave enough
// levels for one homomorphic sum and one plaintext scaling.
func NewVault(logN, logScale int) (*Vault, error) {
	params, err := ckks.NewParametersFromLiteral(ckks.ParametersLiteral{
		LogN:            logN,
		LogQ:            []int{55, 45, 45},
		LogP:            []int{61},
		LogDefaultScale: logScale,
	})
	if err != nil {
		return nil, fmt.Errorf("ckks parameter generation failed: %w", err)
	}

	kgen := rlwe.NewKeyGenerator(params)
	sk := kgen.GenSecretKeyNew()
	pk := kgen.GenPublicKeyNew(sk)

	return &Vault{
		params: params,
		ecd:    ckks.NewEncoder(params),
		enc:    rlwe.NewEncryptor(params, pk),
		dec:    rlwe.NewDecryptor(params, sk),
		eval:   ckks.NewEvaluator(params, nil),
		slots:  1 << params.LogMaxSlots(),
	}, nil
}

// Precision reports the encoding precision in bits.
func (v *Vault) Precision() uint {
	return uint(v.params.EncodingPrecision())
}

// Encrypt packs the vector into slot-sized chunks and encrypts each one.
func (v *Vault) Encrypt(vec []float64) (*EncryptedVector, error) {
	if len(vec) == 0 {
		return nil, fmt.Errorf("cannot encrypt an empty vector")
	}

	numCts := (len(vec) + v.slots - 1) / v.slots
	cts := make([]*rlwe.Ciphertext, numCts)
	for i := 0; i < numCts; i++ {
		start := i * v.slots
		end := start + v.slots
		if end > len(vec) {
			end = len(vec)
		}
		pt := ckks.NewPlaintext(v.params, v.params.MaxLevel())
		if err := v.ecd.Encode(vec[start:end], pt); err != nil {
			return nil, fmt.Errorf("encoding chunk %d failed: %w", i, err)
		}
		ct, err := v.enc.EncryptNew(pt)
		if err != nil {
			return nil, fmt.Errorf("encrypting chunk %d failed: %w", i, err)
		}
		cts[i] = ct
	}
	return &EncryptedVector{cts: cts, length: len(vec)}, nil
}

// Sum adds the encrypted vectors without decrypting anything. All inputs
// must have the same plaintext length.
func (v *Vault) Sum(vecs []*EncryptedVector) (*EncryptedVector, error) {
	if len(vecs) == 0 {
		return nil, fmt.Errorf("nothing to sum")
	}
	length := vecs[0].length
	for i, ev := range vecs[1:] {
		if ev.length != length {
			return nil, fmt.Errorf("vector %d has length %d, expected %d", i+1, ev.length, length)
		}
	}

	acc := make([]*rlwe.Ciphertext, len(vecs[0].cts))
	for c := range acc {
		acc[c] = vecs[0].cts[c].CopyNew()
		for _, ev := range vecs[1:] {
			sum, err := v.eval.AddNew(acc[c], ev.cts[c])
			if err != nil {
				return nil, fmt.Errorf("homomorphic add failed on chunk %d: %w", c, err)
			}
			acc[c] = sum
		}
	}
	return &EncryptedVector{cts: acc, length: length}, nil
}

// Scale multiplies the encrypted vector by a plaintext factor in place.
func (v *Vault) Scale(ev *EncryptedVector, factor float64) error {
	for c := range ev.cts {
		scaled, err := v.eval.MulNew(ev.cts[c], factor)
		if err != nil {
			return fmt.Errorf("plaintext scaling failed on chunk %d: %w", c, err)
		}
		ev.cts[c] = scaled
	}
	return nil
}

// Reveal decrypts the vector. This is the disclosure boundary: every call
// is counted and logged with the plaintext size it exposes.
func (v *Vault) Reveal(ev *EncryptedVector) ([]float64, error) {
	out := make([]float64, 0, ev.length)
	for c, ct := range ev.cts {
		chunk := make([]float64, v.slots)
		if err := v.ecd.Decode(v.dec.DecryptNew(ct), chunk); err != nil {
			return nil, fmt.Errorf("decoding chunk %d failed: %w", c, err)
		}
		remaining := ev.length - len(out)
		if remaining > v.slots {
			remaining = v.slots
		}
		out = append(out, chunk[:remaining]...)
	}

	v.mu.Lock()
	v.reveals++
	count := v.reveals
	v.mu.Unlock()

	log := logger.WithComponent("vault")
	log.Debug().Int("values", ev.length).Int("total_reveals", count).Msg("Reveal boundary crossed")
	return out, nil
}

// RevealScalar discloses a single value, the narrow crossing used for
// periodic loss logging.
func (v *Vault) RevealScalar(ev *EncryptedVector) (float64, error) {
	vals, err := v.Reveal(ev)
	if err != nil {
		return 0, err
	}
	return vals[0], nil
}

// Reveals returns how many times the disclosure boundary has been crossed.
func (v *Vault) Reveals() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.reveals
}
