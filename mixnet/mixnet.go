// Package mixnet anonymizes encrypted ballots before decryption. A mixer
// returns the same multiset of plaintexts under fresh ciphertexts and in a
// random order, unlinking every decrypted vote from its voter.
package mixnet

import (
	"context"
	"errors"
	"fmt"

	"github.com/vocdoni/vocdoni-decide/crypto/elgamal"
	"github.com/vocdoni/vocdoni-decide/log"
	"github.com/vocdoni/vocdoni-decide/util"
)

// ErrMixingFailure is returned when the mix stage fails or its output cannot
// be trusted.
var ErrMixingFailure = errors.New("mixing failure")

// DefaultRounds is the number of re-encryption and shuffle passes.
const DefaultRounds = 2

// Mixer shuffles a list of ciphertexts encrypted under publicKey.
type Mixer interface {
	Mix(ctx context.Context, publicKey *elgamal.PublicKey, cts []*elgamal.Ciphertext) ([]*elgamal.Ciphertext, error)
}

// ReEncryptionMixer re-encrypts every ciphertext and applies a uniformly
// random permutation, for a number of rounds.
type ReEncryptionMixer struct {
	Rounds int
}

// NewReEncryptionMixer returns a mixer running the given number of rounds,
// DefaultRounds if rounds is not positive.
func NewReEncryptionMixer(rounds int) *ReEncryptionMixer {
	if rounds <= 0 {
		rounds = DefaultRounds
	}
	return &ReEncryptionMixer{Rounds: rounds}
}

// Mix implements Mixer.
func (m *ReEncryptionMixer) Mix(ctx context.Context, publicKey *elgamal.PublicKey, cts []*elgamal.Ciphertext) ([]*elgamal.Ciphertext, error) {
	if err := publicKey.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMixingFailure, err)
	}
	out := make([]*elgamal.Ciphertext, len(cts))
	copy(out, cts)
	for round := 0; round < max(m.Rounds, 1); round++ {
		for i, ct := range out {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrMixingFailure, err)
			}
			re, err := elgamal.ReEncrypt(publicKey, ct, nil)
			if err != nil {
				return nil, fmt.Errorf("%w: ciphertext %d: %w", ErrMixingFailure, i, err)
			}
			out[i] = re
		}
		shuffle(out)
	}
	log.Debugw("ballots mixed", "count", len(out), "rounds", m.Rounds)
	return out, nil
}

// shuffle applies a Fisher-Yates shuffle driven by crypto/rand.
func shuffle(cts []*elgamal.Ciphertext) {
	for i := len(cts) - 1; i > 0; i-- {
		j := util.RandomInt(0, i+1)
		cts[i], cts[j] = cts[j], cts[i]
	}
}

// Verify checks the structural soundness of a mix output: same length and
// every ciphertext well formed.
func Verify(publicKey *elgamal.PublicKey, in, out []*elgamal.Ciphertext) error {
	if len(in) != len(out) {
		return fmt.Errorf("%w: mixer returned %d ciphertexts, expected %d", ErrMixingFailure, len(out), len(in))
	}
	for i, ct := range out {
		if err := ct.Validate(publicKey); err != nil {
			return fmt.Errorf("%w: ciphertext %d: %w", ErrMixingFailure, i, err)
		}
	}
	return nil
}
