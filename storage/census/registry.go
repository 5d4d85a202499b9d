package census

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/vocdoni/arbo"
	"github.com/vocdoni/vocdoni-decide/log"
	"github.com/vocdoni/vocdoni-decide/types"
)

// ErrEmptyVoterID is returned when registering an empty voter identifier.
var ErrEmptyVoterID = errors.New("empty voter identifier")

// CensusProof is a Merkle inclusion proof of a voter in the census of a voting.
type CensusProof struct {
	Root     types.HexBytes `json:"root"`
	Key      types.HexBytes `json:"key"`
	Value    types.HexBytes `json:"value"`
	Siblings types.HexBytes `json:"siblings"`
}

// VoterKey returns the census leaf key of a voter: the Keccak-256 hash of the
// voter identifier truncated to the census key length.
func VoterKey(voterID string) []byte {
	return crypto.Keccak256([]byte(voterID))[:types.CensusKeyMaxLen]
}

// leafValue is the value stored for every registered voter.
func (c *CensusDB) leafValue() []byte {
	return arbo.BigIntToBytes(c.HashLen(), arbo.BytesToBigInt([]byte{1}))
}

// Register adds the voter to the census of the voting. Registering a voter
// twice is a no-op.
func (c *CensusDB) Register(votingID uuid.UUID, voterID string) error {
	if voterID == "" {
		return ErrEmptyVoterID
	}
	ref, err := c.LoadOrNew(votingID)
	if err != nil {
		return fmt.Errorf("could not load census: %w", err)
	}
	added, err := ref.InsertIfAbsent(VoterKey(voterID), c.leafValue())
	if err != nil {
		return fmt.Errorf("could not register voter: %w", err)
	}
	if added {
		log.Debugw("voter registered", "voting", votingID.String(), "voter", voterID)
	}
	return nil
}

// RegisterBatch adds all the voters to the census of the voting, skipping the
// ones already registered. It returns the number of voters added.
func (c *CensusDB) RegisterBatch(votingID uuid.UUID, voterIDs []string) (int, error) {
	ref, err := c.LoadOrNew(votingID)
	if err != nil {
		return 0, fmt.Errorf("could not load census: %w", err)
	}
	seen := make(map[string]struct{}, len(voterIDs))
	var keys, values [][]byte
	for _, voterID := range voterIDs {
		if voterID == "" {
			return 0, ErrEmptyVoterID
		}
		key := VoterKey(voterID)
		if _, ok := seen[string(key)]; ok {
			continue
		}
		seen[string(key)] = struct{}{}
		if _, err := ref.Get(key); err == nil {
			continue
		} else if !errors.Is(err, ErrKeyNotFound) {
			return 0, err
		}
		keys = append(keys, key)
		values = append(values, c.leafValue())
	}
	if len(keys) == 0 {
		return 0, nil
	}
	invalid, err := ref.InsertBatch(keys, values)
	if err != nil {
		return 0, fmt.Errorf("could not register voters: %w", err)
	}
	added := len(keys)
	for _, inv := range invalid {
		// a concurrent Register may have added the key meanwhile
		if errors.Is(inv.Error, arbo.ErrKeyAlreadyExists) {
			added--
			continue
		}
		return 0, fmt.Errorf("could not register voter %d: %w", inv.Index, inv.Error)
	}
	log.Infow("voters registered", "voting", votingID.String(), "count", added)
	return added, nil
}

// IsEligible reports whether the voter is registered in the census of the voting.
func (c *CensusDB) IsEligible(votingID uuid.UUID, voterID string) (bool, error) {
	ref, err := c.Load(votingID)
	if err != nil {
		if errors.Is(err, ErrCensusNotFound) {
			return false, nil
		}
		return false, err
	}
	if _, err := ref.Get(VoterKey(voterID)); err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Size returns the number of voters registered for the voting.
func (c *CensusDB) Size(votingID uuid.UUID) (int, error) {
	ref, err := c.Load(votingID)
	if err != nil {
		if errors.Is(err, ErrCensusNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return ref.Size(), nil
}

// Root returns the current root of the census of the voting.
func (c *CensusDB) Root(votingID uuid.UUID) ([]byte, error) {
	ref, err := c.LoadOrNew(votingID)
	if err != nil {
		return nil, err
	}
	return ref.Root(), nil
}

// Proof returns a Merkle inclusion proof of the voter in the census of the
// voting. It returns ErrKeyNotFound if the voter is not registered.
func (c *CensusDB) Proof(votingID uuid.UUID, voterID string) (*CensusProof, error) {
	ref, err := c.Load(votingID)
	if err != nil {
		return nil, err
	}
	// root and proof must belong to the same tree version
	ref.treeMu.Lock()
	defer ref.treeMu.Unlock()
	key, value, siblings, inclusion, err := ref.tree.GenProof(VoterKey(voterID))
	if err != nil {
		return nil, err
	}
	if !inclusion {
		return nil, ErrKeyNotFound
	}
	root, err := ref.tree.Root()
	if err != nil {
		return nil, err
	}
	return &CensusProof{
		Root:     root,
		Key:      key,
		Value:    value,
		Siblings: siblings,
	}, nil
}

// VerifyProof checks the proof against its own root.
func (c *CensusDB) VerifyProof(proof *CensusProof) bool {
	if proof == nil {
		return false
	}
	return VerifyProof(proof.Key, proof.Value, proof.Root, proof.Siblings)
}
