package authority

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"github.com/vocdoni/vocdoni-decide/auth"
	"github.com/vocdoni/vocdoni-decide/crypto/elgamal"
	"github.com/vocdoni/vocdoni-decide/log"
	"github.com/vocdoni/vocdoni-decide/storage"
	"golang.org/x/sync/errgroup"
)

var _ Authority = (*LocalAuthority)(nil)

// LocalAuthority keeps the private key of every voting in the local storage.
type LocalAuthority struct {
	storage  *storage.Storage
	verifier *auth.TokenVerifier
	keyBits  int
	workers  int
}

// NewLocalAuthority returns an authority generating keys of keyBits bits and
// accepting decryption tokens checked by verifier.
func NewLocalAuthority(stg *storage.Storage, verifier *auth.TokenVerifier, keyBits int) *LocalAuthority {
	return &LocalAuthority{
		storage:  stg,
		verifier: verifier,
		keyBits:  keyBits,
		workers:  defaultWorkers(),
	}
}

// GenerateKey implements Authority. If the voting already has a key, the
// stored public key is returned.
func (a *LocalAuthority) GenerateKey(ctx context.Context, votingID uuid.UUID) (*elgamal.PublicKey, error) {
	keys, err := a.storage.EncryptionKeys(votingID)
	if err == nil {
		return keys.PublicKey, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	publicKey, privateKey, err := elgamal.GenerateKey(ctx, a.keyBits)
	if err != nil {
		return nil, err
	}
	if err := a.storage.SetEncryptionKeys(votingID, &storage.EncryptionKeys{
		PublicKey:  publicKey,
		PrivateKey: privateKey,
	}); err != nil {
		return nil, fmt.Errorf("could not store encryption keys: %w", err)
	}
	log.Infow("encryption key generated", "voting", votingID.String(), "bits", a.keyBits)
	return publicKey, nil
}

// Decrypt implements Authority.
func (a *LocalAuthority) Decrypt(ctx context.Context, votingID uuid.UUID, token auth.Token, cts []*elgamal.Ciphertext) ([]*big.Int, error) {
	if err := a.verifier.Consume(votingID, token); err != nil {
		return nil, err
	}
	keys, err := a.storage.EncryptionKeys(votingID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNoKey
		}
		return nil, err
	}
	if keys.PrivateKey == nil {
		return nil, fmt.Errorf("%w: voting keys are shared among trustees", ErrNoKey)
	}
	if err := keys.PublicKey.Validate(); err != nil {
		return nil, err
	}

	points := make([]*big.Int, len(cts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i, ct := range cts {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			M, err := elgamal.DecryptPoint(keys.PublicKey, keys.PrivateKey, ct)
			if err != nil {
				return fmt.Errorf("ciphertext %d: %w", i, err)
			}
			points[i] = M
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	log.Debugw("ciphertexts decrypted", "voting", votingID.String(), "count", len(cts))
	return points, nil
}

// Forget removes the key material of the voting.
func (a *LocalAuthority) Forget(votingID uuid.UUID) error {
	return a.storage.DeleteEncryptionKeys(votingID)
}
