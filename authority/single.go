package authority

import (
	"context"
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"github.com/vocdoni/vocdoni-decide/auth"
	"github.com/vocdoni/vocdoni-decide/crypto/elgamal"
	"github.com/vocdoni/vocdoni-decide/types"
)

var _ DecryptionStrategy = (*SingleAuthority)(nil)

// SingleAuthority is the strategy where one authority, local or remote, holds
// the whole key of every voting.
type SingleAuthority struct {
	authority Authority
	info      types.Authority
	issuer    *auth.TokenIssuer
}

// NewSingleAuthority returns a strategy delegating on authority. Every
// decryption request carries a single-use token signed by issuer.
func NewSingleAuthority(authority Authority, info types.Authority, issuer *auth.TokenIssuer) *SingleAuthority {
	return &SingleAuthority{
		authority: authority,
		info:      info,
		issuer:    issuer,
	}
}

// GenerateKey implements DecryptionStrategy.
func (s *SingleAuthority) GenerateKey(ctx context.Context, votingID uuid.UUID) (*elgamal.PublicKey, error) {
	publicKey, err := s.authority.GenerateKey(ctx, votingID)
	if err != nil {
		return nil, err
	}
	if err := publicKey.Validate(); err != nil {
		return nil, fmt.Errorf("authority %s returned an invalid key: %w", s.info.Name, err)
	}
	return publicKey, nil
}

// Decrypt implements DecryptionStrategy.
func (s *SingleAuthority) Decrypt(ctx context.Context, votingID uuid.UUID, cts []*elgamal.Ciphertext) ([]*big.Int, error) {
	token, err := s.issuer.Issue(votingID)
	if err != nil {
		return nil, err
	}
	points, err := s.authority.Decrypt(ctx, votingID, token, cts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryption, err)
	}
	if len(points) != len(cts) {
		return nil, fmt.Errorf("%w: authority returned %d plaintexts for %d ciphertexts", ErrDecryption, len(points), len(cts))
	}
	return points, nil
}

// Authorities implements DecryptionStrategy.
func (s *SingleAuthority) Authorities() []types.Authority {
	return []types.Authority{s.info}
}

// Forget implements DecryptionStrategy.
func (s *SingleAuthority) Forget(votingID uuid.UUID) error {
	if f, ok := s.authority.(forgetter); ok {
		return f.Forget(votingID)
	}
	return nil
}
