package storage

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"github.com/vocdoni/vocdoni-decide/crypto/elgamal"
)

// EncryptionKeys is the key material of a voting held by the local node. For
// a single authority PrivateKey is set, for in-process threshold trustees the
// private shares are indexed by trustee ID.
type EncryptionKeys struct {
	PublicKey  *elgamal.PublicKey `cbor:"0,keyasint"`
	PrivateKey *big.Int           `cbor:"1,keyasint,omitempty"`
	Shares     map[int]*big.Int   `cbor:"2,keyasint,omitempty"`
	Threshold  int                `cbor:"3,keyasint,omitempty"`
}

// SetEncryptionKeys stores the encryption keys for a voting.
func (s *Storage) SetEncryptionKeys(votingID uuid.UUID, keys *EncryptionKeys) error {
	if keys == nil || keys.PublicKey == nil {
		return fmt.Errorf("nil encryption keys")
	}
	return s.setArtifact(encryptionKeyPrefix, votingID[:], keys)
}

// EncryptionKeys loads the encryption keys for a voting. Returns ErrNotFound
// if the keys do not exist.
func (s *Storage) EncryptionKeys(votingID uuid.UUID) (*EncryptionKeys, error) {
	keys := &EncryptionKeys{}
	if err := s.getArtifact(encryptionKeyPrefix, votingID[:], keys); err != nil {
		return nil, err
	}
	return keys, nil
}

// DeleteEncryptionKeys removes the encryption keys of a voting.
func (s *Storage) DeleteEncryptionKeys(votingID uuid.UUID) error {
	return s.deleteArtifact(encryptionKeyPrefix, votingID[:])
}
