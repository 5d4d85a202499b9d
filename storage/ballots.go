package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/vocdoni/vocdoni-decide/types"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/prefixeddb"
)

var (
	// ErrBallotExists is returned by PushBallot when the voter already cast a
	// ballot and the caller asked for a unique ballot.
	ErrBallotExists = errors.New("ballot already exists for voter")
	// ErrVotingNotOpen is returned by PushBallot when the voting of the ballot
	// is not started or already stopped.
	ErrVotingNotOpen = errors.New("voting is not open")
)

// ballotKey returns votingID || big-endian(seq), so lexicographic iteration
// follows the submission order.
func ballotKey(votingID uuid.UUID, seq uint64) []byte {
	key := make([]byte, 0, len(votingID)+8)
	key = append(key, votingID[:]...)
	return binary.BigEndian.AppendUint64(key, seq)
}

// voterKey returns votingID || keccak256(voterID).
func voterKey(votingID uuid.UUID, voterID string) []byte {
	return append(append([]byte{}, votingID[:]...), crypto.Keccak256([]byte(voterID))...)
}

// ballotReceipt is the Keccak-256 hash of the encoded ballot without receipt.
func ballotReceipt(b *types.Ballot) ([]byte, error) {
	tmp := *b
	tmp.Receipt = nil
	data, err := encodeArtifact(&tmp)
	if err != nil {
		return nil, err
	}
	return crypto.Keccak256(data), nil
}

// PushBallot appends a ballot to the ballot store of its voting. The ballot
// receives the next sequence number, the submission timestamp and its
// receipt. The ballot, the counter and the voter index are written in a
// single transaction. If unique is true and the voter already has a ballot
// for the voting, ErrBallotExists is returned and nothing is written.
//
// The voting must be open when the ballot is committed, otherwise
// ErrVotingNotOpen is returned. Every accepted ballot is thus timestamped
// before the end date of its voting.
func (s *Storage) PushBallot(b *types.Ballot, unique bool) (*types.Ballot, error) {
	if b == nil || b.Vote == nil {
		return nil, fmt.Errorf("nil ballot data")
	}
	s.ballotLock.Lock()
	defer s.ballotLock.Unlock()

	v, err := s.Voting(b.VotingID)
	if err != nil {
		return nil, err
	}
	if v.Phase() != types.PhaseOpen {
		return nil, ErrVotingNotOpen
	}

	wTx := s.db.WriteTx()
	defer wTx.Discard()
	counterTx := prefixeddb.NewPrefixedWriteTx(wTx, ballotCounterPrefix)
	voterTx := prefixeddb.NewPrefixedWriteTx(wTx, ballotVoterPrefix)
	ballotTx := prefixeddb.NewPrefixedWriteTx(wTx, ballotPrefix)

	vKey := voterKey(b.VotingID, b.VoterID)
	voterCount, err := readCounter(voterTx, vKey)
	if err != nil {
		return nil, err
	}
	if unique && voterCount > 0 {
		return nil, ErrBallotExists
	}
	seq, err := readCounter(counterTx, b.VotingID[:])
	if err != nil {
		return nil, err
	}

	stored := *b
	stored.Seq = seq
	stored.Timestamp = time.Now().UTC()
	if stored.Receipt, err = ballotReceipt(&stored); err != nil {
		return nil, fmt.Errorf("compute receipt: %w", err)
	}
	data, err := encodeArtifact(&stored)
	if err != nil {
		return nil, fmt.Errorf("encode ballot: %w", err)
	}
	if err := ballotTx.Set(ballotKey(b.VotingID, seq), data); err != nil {
		return nil, err
	}
	if err := counterTx.Set(b.VotingID[:], binary.BigEndian.AppendUint64(nil, seq+1)); err != nil {
		return nil, err
	}
	if err := voterTx.Set(vKey, binary.BigEndian.AppendUint64(nil, voterCount+1)); err != nil {
		return nil, err
	}
	if err := wTx.Commit(); err != nil {
		return nil, fmt.Errorf("commit ballot: %w", err)
	}
	return &stored, nil
}

// readCounter reads a big-endian uint64, returning 0 if the key does not exist.
func readCounter(rd db.Reader, key []byte) (uint64, error) {
	v, err := rd.Get(key)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, err
	}
	if len(v) != 8 {
		return 0, fmt.Errorf("invalid counter length %d", len(v))
	}
	return binary.BigEndian.Uint64(v), nil
}

// Ballots returns all the ballots of the voting in submission order. Every
// ballot pushed before the call is included.
func (s *Storage) Ballots(votingID uuid.UUID) ([]*types.Ballot, error) {
	s.ballotLock.Lock()
	defer s.ballotLock.Unlock()

	rd := prefixeddb.NewPrefixedReader(s.db, ballotPrefix)
	var ballots []*types.Ballot
	var decodeErr error
	if err := rd.Iterate(votingID[:], func(_, v []byte) bool {
		b := &types.Ballot{}
		if err := decodeArtifact(v, b); err != nil {
			decodeErr = fmt.Errorf("decode ballot: %w", err)
			return false
		}
		ballots = append(ballots, b)
		return true
	}); err != nil {
		return nil, fmt.Errorf("iterate ballots: %w", err)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	return ballots, nil
}

// CountBallots returns the number of ballots of the voting.
func (s *Storage) CountBallots(votingID uuid.UUID) (uint64, error) {
	s.ballotLock.Lock()
	defer s.ballotLock.Unlock()
	return s.countBallots(votingID)
}

func (s *Storage) countBallots(votingID uuid.UUID) (uint64, error) {
	return readCounter(prefixeddb.NewPrefixedReader(s.db, ballotCounterPrefix), votingID[:])
}

// HasVoted reports whether the voter cast at least one ballot in the voting.
func (s *Storage) HasVoted(votingID uuid.UUID, voterID string) (bool, error) {
	n, err := readCounter(prefixeddb.NewPrefixedReader(s.db, ballotVoterPrefix), voterKey(votingID, voterID))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
