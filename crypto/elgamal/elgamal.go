// Package elgamal implements exponential ElGamal over the subgroup of quadratic
// residues of Z*p, where p = 2q+1 is a safe prime. Messages are encoded as g^m
// so that the component-wise product of two ciphertexts decrypts to the sum of
// their plaintexts. Plaintexts are recovered with a bounded discrete logarithm,
// which makes the scheme suitable for small integers such as option numbers and
// vote counts.
package elgamal

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
)

const (
	// MinKeyBits is the smallest modulus size accepted by GenerateKey.
	MinKeyBits = 32
	// primalityRounds is the number of Miller-Rabin rounds used on top of the
	// Baillie-PSW test performed by big.Int.ProbablyPrime.
	primalityRounds = 20
)

var (
	// ErrCrypto is wrapped by every error caused by malformed key material,
	// malformed ciphertexts or failed decryptions.
	ErrCrypto = errors.New("crypto error")
	// ErrOutOfRange is returned by DiscreteLog when the element does not
	// encode a message within the searched bound.
	ErrOutOfRange = fmt.Errorf("%w: no discrete logarithm in range", ErrCrypto)

	one = big.NewInt(1)
	two = big.NewInt(2)
)

// PublicKey is the public ElGamal key of an election. P is a safe prime, G
// generates the subgroup of order Q = (P-1)/2 and Y = G^x mod P.
type PublicKey struct {
	P *big.Int `json:"p" cbor:"0,keyasint"`
	G *big.Int `json:"g" cbor:"1,keyasint"`
	Y *big.Int `json:"y" cbor:"2,keyasint"`
}

// Q returns the order of the subgroup generated by G.
func (pk *PublicKey) Q() *big.Int {
	q := new(big.Int).Sub(pk.P, one)
	return q.Rsh(q, 1)
}

// Validate checks the key material. It returns an error wrapping ErrCrypto if
// P is not a safe prime, G does not generate the subgroup of order Q, or Y is
// outside [1, P) or not in the subgroup.
func (pk *PublicKey) Validate() error {
	if pk == nil || pk.P == nil || pk.G == nil || pk.Y == nil {
		return fmt.Errorf("%w: incomplete public key", ErrCrypto)
	}
	if pk.P.BitLen() < MinKeyBits || !pk.P.ProbablyPrime(primalityRounds) {
		return fmt.Errorf("%w: modulus is not prime", ErrCrypto)
	}
	q := pk.Q()
	if !q.ProbablyPrime(primalityRounds) {
		return fmt.Errorf("%w: modulus is not a safe prime", ErrCrypto)
	}
	if pk.G.Cmp(one) <= 0 || pk.G.Cmp(pk.P) >= 0 {
		return fmt.Errorf("%w: generator out of range", ErrCrypto)
	}
	if new(big.Int).Exp(pk.G, q, pk.P).Cmp(one) != 0 {
		return fmt.Errorf("%w: g is not a generator of the subgroup", ErrCrypto)
	}
	if pk.Y.Sign() <= 0 || pk.Y.Cmp(pk.P) >= 0 {
		return fmt.Errorf("%w: public value out of range", ErrCrypto)
	}
	if new(big.Int).Exp(pk.Y, q, pk.P).Cmp(one) != 0 {
		return fmt.Errorf("%w: public value not in the subgroup", ErrCrypto)
	}
	return nil
}

// Equal reports whether both keys hold the same values.
func (pk *PublicKey) Equal(other *PublicKey) bool {
	if pk == nil || other == nil {
		return pk == other
	}
	return pk.P.Cmp(other.P) == 0 && pk.G.Cmp(other.G) == 0 && pk.Y.Cmp(other.Y) == 0
}

// String returns a short representation of the key.
func (pk *PublicKey) String() string {
	if pk == nil || pk.P == nil {
		return "{}"
	}
	return fmt.Sprintf("{p: %d bits, g: %s, y: %s}", pk.P.BitLen(), pk.G.String(), pk.Y.String())
}

// GenerateGroup searches a safe prime p of the given bit length and a generator
// g of the subgroup of quadratic residues. The search stops when ctx is done.
func GenerateGroup(ctx context.Context, bits int) (p, g *big.Int, err error) {
	if bits < MinKeyBits {
		return nil, nil, fmt.Errorf("%w: key size must be at least %d bits, got %d", ErrCrypto, MinKeyBits, bits)
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, fmt.Errorf("safe prime search interrupted: %w", err)
		}
		q, err := rand.Prime(rand.Reader, bits-1)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to generate prime: %w", err)
		}
		p = new(big.Int).Lsh(q, 1)
		p.Add(p, one)
		if p.BitLen() != bits || !p.ProbablyPrime(primalityRounds) {
			continue
		}
		break
	}
	// any square different from 1 generates the subgroup of prime order q
	for {
		h, err := rand.Int(rand.Reader, new(big.Int).Sub(p, big.NewInt(3)))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to generate generator: %w", err)
		}
		h.Add(h, two)
		g = new(big.Int).Exp(h, two, p)
		if g.Cmp(one) != 0 {
			return p, g, nil
		}
	}
}

// RandScalar returns a random scalar in [1, q).
func RandScalar(q *big.Int) (*big.Int, error) {
	k, err := rand.Int(rand.Reader, new(big.Int).Sub(q, one))
	if err != nil {
		return nil, fmt.Errorf("failed to generate random scalar: %w", err)
	}
	return k.Add(k, one), nil
}

// NewKey derives the public key of the private scalar x over the group (p, g).
func NewKey(p, g, x *big.Int) *PublicKey {
	return &PublicKey{
		P: new(big.Int).Set(p),
		G: new(big.Int).Set(g),
		Y: new(big.Int).Exp(g, x, p),
	}
}

// GenerateKey generates a new public/private ElGamal key pair with a modulus
// of the given bit length.
func GenerateKey(ctx context.Context, bits int) (publicKey *PublicKey, privateKey *big.Int, err error) {
	p, g, err := GenerateGroup(ctx, bits)
	if err != nil {
		return nil, nil, err
	}
	q := new(big.Int).Rsh(new(big.Int).Sub(p, one), 1)
	x, err := RandScalar(q)
	if err != nil {
		return nil, nil, err
	}
	return NewKey(p, g, x), x, nil
}

// Encrypt encrypts the message with a fresh random k. It returns the
// ciphertext and the k used.
func Encrypt(publicKey *PublicKey, msg *big.Int) (*Ciphertext, *big.Int, error) {
	if err := publicKey.Validate(); err != nil {
		return nil, nil, err
	}
	k, err := RandScalar(publicKey.Q())
	if err != nil {
		return nil, nil, err
	}
	ct, err := EncryptWithK(publicKey, msg, k)
	if err != nil {
		return nil, nil, err
	}
	return ct, k, nil
}

// EncryptWithK encrypts the message using the provided k:
// A = g^k, B = g^m * y^k.
func EncryptWithK(publicKey *PublicKey, msg, k *big.Int) (*Ciphertext, error) {
	if msg == nil || msg.Sign() < 0 {
		return nil, fmt.Errorf("%w: message must be a non negative integer", ErrCrypto)
	}
	q := publicKey.Q()
	if msg.Cmp(q) >= 0 {
		return nil, fmt.Errorf("%w: message does not fit in the group", ErrCrypto)
	}
	p := publicKey.P
	a := new(big.Int).Exp(publicKey.G, k, p)
	m := new(big.Int).Exp(publicKey.G, msg, p)
	s := new(big.Int).Exp(publicKey.Y, k, p)
	b := m.Mul(m, s)
	b.Mod(b, p)
	return &Ciphertext{A: a, B: b}, nil
}

// DecryptPoint removes the mask of the ciphertext and returns M = g^m.
func DecryptPoint(publicKey *PublicKey, privateKey *big.Int, ct *Ciphertext) (*big.Int, error) {
	if err := ct.Validate(publicKey); err != nil {
		return nil, err
	}
	s := new(big.Int).Exp(ct.A, privateKey, publicKey.P)
	return Unmask(publicKey, ct, s)
}

// Unmask returns M = B * s^-1 mod p, where s is the shared secret A^x.
func Unmask(publicKey *PublicKey, ct *Ciphertext, s *big.Int) (*big.Int, error) {
	sInv := new(big.Int).ModInverse(s, publicKey.P)
	if sInv == nil {
		return nil, fmt.Errorf("%w: shared secret is not invertible", ErrCrypto)
	}
	m := sInv.Mul(sInv, ct.B)
	return m.Mod(m, publicKey.P), nil
}

// Decrypt decrypts the ciphertext using the private key. It returns the
// element M = g^m and the message m, searched in [0, maxMessage].
func Decrypt(publicKey *PublicKey, privateKey *big.Int, ct *Ciphertext, maxMessage uint64) (M, message *big.Int, err error) {
	if err := publicKey.Validate(); err != nil {
		return nil, nil, err
	}
	M, err = DecryptPoint(publicKey, privateKey, ct)
	if err != nil {
		return nil, nil, err
	}
	message, err = DiscreteLog(publicKey, M, maxMessage)
	if err != nil {
		return nil, nil, err
	}
	return M, message, nil
}

// DiscreteLog solves M = g^x for x in [0, maxMessage] using the baby-step
// giant-step algorithm.
func DiscreteLog(publicKey *PublicKey, M *big.Int, maxMessage uint64) (*big.Int, error) {
	if new(big.Int).SetUint64(maxMessage).Cmp(publicKey.Q()) >= 0 {
		return nil, fmt.Errorf("%w: message bound exceeds the group order", ErrCrypto)
	}
	p, g := publicKey.P, publicKey.G
	mSqrt := uint64(math.Sqrt(float64(maxMessage))) + 1

	babySteps := make(map[string]uint64, mSqrt)
	babyStep := big.NewInt(1)
	for j := uint64(0); j < mSqrt; j++ {
		babySteps[babyStep.String()] = j
		babyStep.Mul(babyStep, g)
		babyStep.Mod(babyStep, p)
	}

	// c = g^-mSqrt
	c := new(big.Int).Exp(g, new(big.Int).SetUint64(mSqrt), p)
	c.ModInverse(c, p)

	giantStep := new(big.Int).Set(M)
	for i := uint64(0); i <= mSqrt; i++ {
		if j, found := babySteps[giantStep.String()]; found {
			x := i*mSqrt + j
			if x > maxMessage {
				break
			}
			return new(big.Int).SetUint64(x), nil
		}
		giantStep.Mul(giantStep, c)
		giantStep.Mod(giantStep, p)
	}
	return nil, fmt.Errorf("%w [0, %d]", ErrOutOfRange, maxMessage)
}
