// Package authority holds the key material of the votings. An Authority
// generates the ElGamal key of a voting and decrypts ballots on request, and
// a DecryptionStrategy composes one or more authorities into the capability
// used by the voting lifecycle: generate a key when a voting starts and
// decrypt the mixed ballots when it is tallied.
package authority

import (
	"context"
	"errors"
	"math/big"
	"runtime"

	"github.com/google/uuid"
	"github.com/vocdoni/vocdoni-decide/auth"
	"github.com/vocdoni/vocdoni-decide/crypto/elgamal"
	"github.com/vocdoni/vocdoni-decide/types"
)

var (
	// ErrNoKey is returned when decrypting for a voting without key material.
	ErrNoKey = errors.New("no key material for voting")
	// ErrDecryption is returned when the authorities could not decrypt the ballots.
	ErrDecryption = errors.New("decryption failed")
)

// Authority is a key holder. Decrypt returns, for every ciphertext, the group
// element g^m; solving the discrete logarithm is left to the caller.
type Authority interface {
	GenerateKey(ctx context.Context, votingID uuid.UUID) (*elgamal.PublicKey, error)
	Decrypt(ctx context.Context, votingID uuid.UUID, token auth.Token, cts []*elgamal.Ciphertext) ([]*big.Int, error)
}

// DecryptionStrategy is the capability the voting lifecycle depends on.
type DecryptionStrategy interface {
	// GenerateKey returns the public key of the voting.
	GenerateKey(ctx context.Context, votingID uuid.UUID) (*elgamal.PublicKey, error)
	// Decrypt returns g^m for every ciphertext, in the same order.
	Decrypt(ctx context.Context, votingID uuid.UUID, cts []*elgamal.Ciphertext) ([]*big.Int, error)
	// Authorities describes the key holders taking part in the strategy.
	Authorities() []types.Authority
	// Forget drops the local key material of the voting.
	Forget(votingID uuid.UUID) error
}

// forgetter is implemented by authorities holding local key material.
type forgetter interface {
	Forget(votingID uuid.UUID) error
}

// defaultWorkers is the concurrency limit of the decryption workers.
func defaultWorkers() int {
	return max(runtime.NumCPU(), 2)
}
