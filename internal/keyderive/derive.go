package keyderive

import (
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"seedforge/go-engine/internal/seedstream"

	"github.com/tyler-smith/go-bip39"
)

var ErrGenerationFailure = errors.New("key generation did not converge")

const (
	// DefaultBits is the modulus size of derived keys.
	DefaultBits = 4096

	// defaultMaxAttempts bounds the prime-pair search. Each attempt draws
	// further bytes from the same stream, so the bound caps worst-case
	// latency without breaking determinism. A single attempt fails only
	// when the two primes collide, share a factor with e, or multiply to
	// a short modulus; each is vanishingly rare, so 16 attempts put the
	// overall failure probability far below any practical concern.
	defaultMaxAttempts = 16

	publicExponent = 65537
)

// Stage names reported through the progress hook, in execution order.
const (
	StagePrimeP   = "prime_p"
	StagePrimeQ   = "prime_q"
	StageAssemble = "assemble"
)

// ProgressFunc observes derivation stages. percent is 0..100.
type ProgressFunc func(stage string, percent int)

// Deriver turns seeds into RSA key material using a deterministic byte
// stream as the sole randomness source.
type Deriver struct {
	bits        int
	maxAttempts int
}

// New returns a Deriver producing 4096-bit keys.
func New() *Deriver {
	return &Deriver{bits: DefaultBits, maxAttempts: defaultMaxAttempts}
}

// NewWithBits is for tests that cannot afford 4096-bit prime searches.
func NewWithBits(bits int) *Deriver {
	return &Deriver{bits: bits, maxAttempts: defaultMaxAttempts}
}

// GenerateFromSeed derives the complete key material for seed. The output is
// a pure function of the seed: repeated calls, in any process, yield
// bit-identical material.
func (d *Deriver) GenerateFromSeed(seed []byte) (*KeyMaterial, error) {
	return d.Generate(seed, nil)
}

// Generate is GenerateFromSeed with an optional progress hook.
func (d *Deriver) Generate(seed []byte, onProgress ProgressFunc) (*KeyMaterial, error) {
	stream, err := seedstream.New(seed)
	if err != nil {
		return nil, err
	}
	return d.generate(stream, onProgress)
}

func (d *Deriver) generate(stream *seedstream.Stream, onProgress ProgressFunc) (*KeyMaterial, error) {
	report := func(stage string, percent int) {
		if onProgress != nil {
			onProgress(stage, percent)
		}
	}
	e := big.NewInt(publicExponent)
	one := big.NewInt(1)

	for attempt := 0; attempt < d.maxAttempts; attempt++ {
		report(StagePrimeP, 5)
		p, err := rand.Prime(stream, d.bits/2)
		if err != nil {
			return nil, fmt.Errorf("%w: prime search: %v", ErrGenerationFailure, err)
		}
		report(StagePrimeQ, 45)
		q, err := rand.Prime(stream, d.bits/2)
		if err != nil {
			return nil, fmt.Errorf("%w: prime search: %v", ErrGenerationFailure, err)
		}
		if p.Cmp(q) == 0 {
			continue
		}

		report(StageAssemble, 85)
		n := new(big.Int).Mul(p, q)
		if n.BitLen() != d.bits {
			continue
		}

		pMinus1 := new(big.Int).Sub(p, one)
		qMinus1 := new(big.Int).Sub(q, one)
		phi := new(big.Int).Mul(pMinus1, qMinus1)
		dExp := new(big.Int)
		if dExp.ModInverse(e, phi) == nil {
			continue
		}

		key := &rsa.PrivateKey{
			PublicKey: rsa.PublicKey{N: n, E: publicExponent},
			D:         dExp,
			Primes:    []*big.Int{p, q},
		}
		key.Precompute()
		if err := key.Validate(); err != nil {
			continue
		}
		report(StageAssemble, 100)
		return materialFromKey(key, d.bits), nil
	}
	return nil, fmt.Errorf("%w after %d attempts", ErrGenerationFailure, d.maxAttempts)
}

// ValidateCompatibility re-derives material for phrase and checks structural
// validity. It reports false on any failure and never propagates errors.
func (d *Deriver) ValidateCompatibility(phrase string) bool {
	phrase = strings.TrimSpace(phrase)
	if phrase == "" {
		return false
	}
	seed := bip39.NewSeed(phrase, "")
	material, err := d.GenerateFromSeed(seed)
	if err != nil {
		return false
	}
	return material.Validate() == nil
}
