package keyderive

import (
	"bytes"
	"crypto/rsa"
	"errors"
	"math/big"
)

var ErrInvalidMaterial = errors.New("invalid key material")

// KeyTypeRSA4096 tags material produced by the current derivation procedure.
const KeyTypeRSA4096 = "rsa-4096"

// KeyMaterial is the complete parameter set of an RSA key pair. Every numeric
// component is canonically encoded as minimal big-endian bytes, so two
// materials derived from the same seed compare byte-identical. Immutable once
// produced.
type KeyMaterial struct {
	KeyType         string `json:"key_type"`
	Bits            int    `json:"bits"`
	Modulus         []byte `json:"modulus"`
	PublicExponent  []byte `json:"public_exponent"`
	PrivateExponent []byte `json:"private_exponent"`
	PrimeP          []byte `json:"prime_p"`
	PrimeQ          []byte `json:"prime_q"`
	ExponentP       []byte `json:"exponent_p"`
	ExponentQ       []byte `json:"exponent_q"`
	CoefficientQInv []byte `json:"coefficient_qinv"`
}

func materialFromKey(key *rsa.PrivateKey, bits int) *KeyMaterial {
	return &KeyMaterial{
		KeyType:         KeyTypeRSA4096,
		Bits:            bits,
		Modulus:         key.N.Bytes(),
		PublicExponent:  big.NewInt(int64(key.E)).Bytes(),
		PrivateExponent: key.D.Bytes(),
		PrimeP:          key.Primes[0].Bytes(),
		PrimeQ:          key.Primes[1].Bytes(),
		ExponentP:       key.Precomputed.Dp.Bytes(),
		ExponentQ:       key.Precomputed.Dq.Bytes(),
		CoefficientQInv: key.Precomputed.Qinv.Bytes(),
	}
}

// RSA reconstructs the private key. The result is validated before return.
func (m *KeyMaterial) RSA() (*rsa.PrivateKey, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	e := new(big.Int).SetBytes(m.PublicExponent)
	key := &rsa.PrivateKey{
		PublicKey: rsa.PublicKey{
			N: new(big.Int).SetBytes(m.Modulus),
			E: int(e.Int64()),
		},
		D: new(big.Int).SetBytes(m.PrivateExponent),
		Primes: []*big.Int{
			new(big.Int).SetBytes(m.PrimeP),
			new(big.Int).SetBytes(m.PrimeQ),
		},
	}
	key.Precompute()
	if err := key.Validate(); err != nil {
		return nil, err
	}
	return key, nil
}

// Validate performs a structural check: all components present, the key type
// tag recognized, and the modulus of the declared size.
func (m *KeyMaterial) Validate() error {
	if m == nil {
		return ErrInvalidMaterial
	}
	if m.KeyType != KeyTypeRSA4096 {
		return ErrInvalidMaterial
	}
	if m.Bits <= 0 {
		return ErrInvalidMaterial
	}
	components := [][]byte{
		m.Modulus, m.PublicExponent, m.PrivateExponent,
		m.PrimeP, m.PrimeQ, m.ExponentP, m.ExponentQ, m.CoefficientQInv,
	}
	for _, c := range components {
		if len(c) == 0 {
			return ErrInvalidMaterial
		}
	}
	if n := new(big.Int).SetBytes(m.Modulus); n.BitLen() != m.Bits {
		return ErrInvalidMaterial
	}
	return nil
}

// Equal reports whether two materials are bit-identical.
func (m *KeyMaterial) Equal(other *KeyMaterial) bool {
	if m == nil || other == nil {
		return m == other
	}
	if m.KeyType != other.KeyType || m.Bits != other.Bits {
		return false
	}
	pairs := [][2][]byte{
		{m.Modulus, other.Modulus},
		{m.PublicExponent, other.PublicExponent},
		{m.PrivateExponent, other.PrivateExponent},
		{m.PrimeP, other.PrimeP},
		{m.PrimeQ, other.PrimeQ},
		{m.ExponentP, other.ExponentP},
		{m.ExponentQ, other.ExponentQ},
		{m.CoefficientQInv, other.CoefficientQInv},
	}
	for _, p := range pairs {
		if !bytes.Equal(p[0], p[1]) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy so cache tiers can hand out materials without
// sharing backing arrays.
func (m *KeyMaterial) Clone() *KeyMaterial {
	if m == nil {
		return nil
	}
	dup := &KeyMaterial{KeyType: m.KeyType, Bits: m.Bits}
	dup.Modulus = append([]byte(nil), m.Modulus...)
	dup.PublicExponent = append([]byte(nil), m.PublicExponent...)
	dup.PrivateExponent = append([]byte(nil), m.PrivateExponent...)
	dup.PrimeP = append([]byte(nil), m.PrimeP...)
	dup.PrimeQ = append([]byte(nil), m.PrimeQ...)
	dup.ExponentP = append([]byte(nil), m.ExponentP...)
	dup.ExponentQ = append([]byte(nil), m.ExponentQ...)
	dup.CoefficientQInv = append([]byte(nil), m.CoefficientQInv...)
	return dup
}
