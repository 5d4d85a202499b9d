package elgamal

import (
	"fmt"
	"math/big"
)

// Ciphertext represents an ElGamal encrypted message with homomorphic properties.
// A = g^k and B = g^m * y^k, both reduced modulo p.
type Ciphertext struct {
	A *big.Int `json:"a" cbor:"0,keyasint"`
	B *big.Int `json:"b" cbor:"1,keyasint"`
}

// NewCiphertext returns the neutral ciphertext (1, 1), which decrypts to 0
// and can be used as the initial accumulator of Add.
func NewCiphertext() *Ciphertext {
	return &Ciphertext{A: big.NewInt(1), B: big.NewInt(1)}
}

// Encrypt encrypts a message using the public key provided.
// The randomness k can be provided or nil to generate a new one.
func (z *Ciphertext) Encrypt(message *big.Int, publicKey *PublicKey, k *big.Int) (*Ciphertext, error) {
	var err error
	if k == nil {
		k, err = RandScalar(publicKey.Q())
		if err != nil {
			return nil, fmt.Errorf("elgamal encryption failed: %w", err)
		}
	}
	ct, err := EncryptWithK(publicKey, message, k)
	if err != nil {
		return nil, fmt.Errorf("elgamal encryption failed: %w", err)
	}
	z.A, z.B = ct.A, ct.B
	return z, nil
}

// Add multiplies x and y component-wise modulo p and stores the result in z,
// which is also returned. The result decrypts to the sum of both plaintexts.
func (z *Ciphertext) Add(publicKey *PublicKey, x, y *Ciphertext) *Ciphertext {
	a := new(big.Int).Mul(x.A, y.A)
	b := new(big.Int).Mul(x.B, y.B)
	z.A = a.Mod(a, publicKey.P)
	z.B = b.Mod(b, publicKey.P)
	return z
}

// Combine returns the homomorphic combination of all the ciphertexts. An empty
// list yields the neutral ciphertext.
func Combine(publicKey *PublicKey, cts ...*Ciphertext) *Ciphertext {
	acc := NewCiphertext()
	for _, ct := range cts {
		acc.Add(publicKey, acc, ct)
	}
	return acc
}

// ReEncrypt returns a new ciphertext of the same plaintext by multiplying ct
// with an encryption of 0 under the randomness k. If k is nil a random one is
// used.
func ReEncrypt(publicKey *PublicKey, ct *Ciphertext, k *big.Int) (*Ciphertext, error) {
	zero, err := NewCiphertext().Encrypt(big.NewInt(0), publicKey, k)
	if err != nil {
		return nil, fmt.Errorf("re-encryption failed: %w", err)
	}
	return NewCiphertext().Add(publicKey, ct, zero), nil
}

// Validate checks both components are in [1, p).
func (z *Ciphertext) Validate(publicKey *PublicKey) error {
	if z == nil || z.A == nil || z.B == nil {
		return fmt.Errorf("%w: incomplete ciphertext", ErrCrypto)
	}
	for _, c := range []*big.Int{z.A, z.B} {
		if c.Sign() <= 0 || c.Cmp(publicKey.P) >= 0 {
			return fmt.Errorf("%w: ciphertext component out of range", ErrCrypto)
		}
	}
	return nil
}

// Equal reports whether both ciphertexts hold the same components.
func (z *Ciphertext) Equal(other *Ciphertext) bool {
	if z == nil || other == nil {
		return z == other
	}
	return z.A.Cmp(other.A) == 0 && z.B.Cmp(other.B) == 0
}

// String returns a string representation of the Ciphertext.
func (z *Ciphertext) String() string {
	if z == nil || z.A == nil || z.B == nil {
		return "{a: nil, b: nil}"
	}
	return fmt.Sprintf("{a: %s, b: %s}", z.A.String(), z.B.String())
}
