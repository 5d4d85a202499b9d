package storage

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/vocdoni/vocdoni-decide/log"
	"github.com/vocdoni/vocdoni-decide/types"
)

// ErrHasBallots is returned when deleting a voting that has ballots.
var ErrHasBallots = errors.New("voting has ballots")

// Voting retrieves the voting from the storage.
// It returns nil and ErrNotFound if the voting is not found.
func (s *Storage) Voting(id uuid.UUID) (*types.Voting, error) {
	v := &types.Voting{}
	if err := s.getArtifact(votingPrefix, id[:], v); err != nil {
		return nil, err
	}
	return v, nil
}

// SetVoting stores the voting, overwriting any previous version.
func (s *Storage) SetVoting(v *types.Voting) error {
	if v == nil {
		return fmt.Errorf("nil voting data")
	}
	s.globalLock.Lock()
	defer s.globalLock.Unlock()
	s.ballotLock.Lock()
	defer s.ballotLock.Unlock()
	return s.setArtifact(votingPrefix, v.ID[:], v)
}

// UpdateVoting atomically reads the voting, applies fn and stores the result.
// If fn returns an error nothing is written and the error is returned, so fn
// can be used as a compare-and-set precondition. No ballot is appended while
// fn runs.
func (s *Storage) UpdateVoting(id uuid.UUID, fn func(*types.Voting) error) (*types.Voting, error) {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()
	s.ballotLock.Lock()
	defer s.ballotLock.Unlock()
	v, err := s.Voting(id)
	if err != nil {
		return nil, err
	}
	if err := fn(v); err != nil {
		return nil, err
	}
	if err := s.setArtifact(votingPrefix, id[:], v); err != nil {
		return nil, err
	}
	return v, nil
}

// Votings returns all the votings stored. Votings that cannot be decoded are
// skipped.
func (s *Storage) Votings() ([]*types.Voting, error) {
	keys, err := s.listArtifacts(votingPrefix)
	if err != nil {
		return nil, err
	}
	votings := make([]*types.Voting, 0, len(keys))
	for _, k := range keys {
		id, err := uuid.FromBytes(k)
		if err != nil {
			log.Warnw("invalid voting key", "key", fmt.Sprintf("%x", k))
			continue
		}
		v, err := s.Voting(id)
		if err != nil {
			log.Warnw("could not load voting", "id", id.String(), "error", err.Error())
			continue
		}
		votings = append(votings, v)
	}
	return votings, nil
}

// DeleteVoting removes the voting together with its census and encryption
// keys. It returns ErrHasBallots if any ballot references the voting.
func (s *Storage) DeleteVoting(id uuid.UUID) error {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()
	s.ballotLock.Lock()
	defer s.ballotLock.Unlock()

	if _, err := s.Voting(id); err != nil {
		return err
	}
	count, err := s.countBallots(id)
	if err != nil {
		return err
	}
	if count > 0 {
		return ErrHasBallots
	}
	if err := s.deleteArtifact(votingPrefix, id[:]); err != nil {
		return fmt.Errorf("delete voting: %w", err)
	}
	if err := s.deleteArtifact(encryptionKeyPrefix, id[:]); err != nil {
		return fmt.Errorf("delete encryption keys: %w", err)
	}
	if s.censusDB.Exists(id) {
		if err := s.censusDB.Del(id); err != nil {
			return fmt.Errorf("delete census: %w", err)
		}
	}
	return nil
}
