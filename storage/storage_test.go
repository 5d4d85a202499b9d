package storage

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"path/filepath"
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/google/uuid"
	"github.com/vocdoni/arbo/memdb"
	"github.com/vocdoni/vocdoni-decide/crypto/elgamal"
	"github.com/vocdoni/vocdoni-decide/types"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/metadb"
)

func testVoting() *types.Voting {
	return &types.Voting{
		ID:   uuid.New(),
		Name: "test voting",
		Desc: "test description",
		Question: types.Question{
			Desc: "pick one",
			Options: []types.QuestionOption{
				{Number: 1, Option: "first", Gender: types.GenderFemale},
				{Number: 2, Option: "second", Gender: types.GenderMale},
			},
		},
		Authorities: []types.Authority{{Name: "local", URL: "http://localhost:9090", Me: true}},
	}
}

// openVoting stores a started voting and returns its ID.
func openVoting(c *qt.C, st *Storage) uuid.UUID {
	v := testVoting()
	now := time.Now().UTC()
	v.StartDate = &now
	c.Assert(st.SetVoting(v), qt.IsNil)
	return v.ID
}

func testBallot(votingID uuid.UUID, voterID string, v int64) *types.Ballot {
	return &types.Ballot{
		VotingID: votingID,
		VoterID:  voterID,
		Vote:     &elgamal.Ciphertext{A: big.NewInt(v), B: big.NewInt(v + 1)},
	}
}

func TestVoting(t *testing.T) {
	c := qt.New(t)
	tempDir := t.TempDir()
	database, err := metadb.New(db.TypePebble, filepath.Join(tempDir, "db"))
	c.Assert(err, qt.IsNil)

	st := New(database)
	defer st.Close()

	// Get non-existent voting
	v, err := st.Voting(uuid.New())
	c.Assert(err, qt.Equals, ErrNotFound)
	c.Assert(v, qt.IsNil)

	// Set and get voting
	voting := testVoting()
	c.Assert(st.SetVoting(voting), qt.IsNil)
	got, err := st.Voting(voting.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(got.Name, qt.Equals, voting.Name)
	c.Assert(got.Question, qt.DeepEquals, voting.Question)
	c.Assert(got.Authorities, qt.DeepEquals, voting.Authorities)
	c.Assert(got.Phase(), qt.Equals, types.PhaseSetup)

	// Dates keep their nanoseconds
	now := time.Now()
	publicKey, _, err := elgamal.GenerateKey(context.Background(), 64)
	c.Assert(err, qt.IsNil)
	updated, err := st.UpdateVoting(voting.ID, func(v *types.Voting) error {
		v.StartDate = &now
		v.PublicKey = publicKey
		return nil
	})
	c.Assert(err, qt.IsNil)
	c.Assert(updated.Phase(), qt.Equals, types.PhaseOpen)
	got, err = st.Voting(voting.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(got.StartDate.Equal(now), qt.IsTrue)
	c.Assert(got.PublicKey.Equal(publicKey), qt.IsTrue)

	// A failed precondition writes nothing
	errPrecondition := errors.New("precondition")
	_, err = st.UpdateVoting(voting.ID, func(v *types.Voting) error {
		v.Name = "changed"
		return errPrecondition
	})
	c.Assert(err, qt.Equals, errPrecondition)
	got, err = st.Voting(voting.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(got.Name, qt.Equals, voting.Name)

	_, err = st.UpdateVoting(uuid.New(), func(*types.Voting) error { return nil })
	c.Assert(err, qt.Equals, ErrNotFound)

	// List votings
	second := testVoting()
	c.Assert(st.SetVoting(second), qt.IsNil)
	votings, err := st.Votings()
	c.Assert(err, qt.IsNil)
	c.Assert(votings, qt.HasLen, 2)
}

func TestUpdateVotingCompareAndSet(t *testing.T) {
	c := qt.New(t)
	st := New(memdb.New())
	voting := testVoting()
	c.Assert(st.SetVoting(voting), qt.IsNil)

	errAlreadySet := errors.New("already set")
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := st.UpdateVoting(voting.ID, func(v *types.Voting) error {
				if v.TallyDate != nil {
					return errAlreadySet
				}
				now := time.Now()
				v.TallyDate = &now
				v.Tally = []uint64{uint64(i)}
				return nil
			})
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	c.Assert(successes, qt.Equals, 1)
}

func TestBallots(t *testing.T) {
	c := qt.New(t)
	st := New(metadb.NewTest(t))
	votingID, otherVotingID := openVoting(c, st), openVoting(c, st)

	ballots, err := st.Ballots(votingID)
	c.Assert(err, qt.IsNil)
	c.Assert(ballots, qt.HasLen, 0)

	for i := 0; i < 300; i++ {
		stored, err := st.PushBallot(testBallot(votingID, fmt.Sprintf("voter%d", i%100), int64(i+1)), false)
		c.Assert(err, qt.IsNil)
		c.Assert(stored.Seq, qt.Equals, uint64(i))
		c.Assert(stored.Receipt, qt.HasLen, 32)
	}
	_, err = st.PushBallot(testBallot(otherVotingID, "voter0", 1), false)
	c.Assert(err, qt.IsNil)

	// ballots are returned in submission order, also beyond 256 entries
	ballots, err = st.Ballots(votingID)
	c.Assert(err, qt.IsNil)
	c.Assert(ballots, qt.HasLen, 300)
	for i, b := range ballots {
		c.Assert(b.Seq, qt.Equals, uint64(i))
		c.Assert(b.Vote.A.Int64(), qt.Equals, int64(i+1))
		c.Assert(b.VoterID, qt.Equals, fmt.Sprintf("voter%d", i%100))
	}
	count, err := st.CountBallots(votingID)
	c.Assert(err, qt.IsNil)
	c.Assert(count, qt.Equals, uint64(300))
	count, err = st.CountBallots(otherVotingID)
	c.Assert(err, qt.IsNil)
	c.Assert(count, qt.Equals, uint64(1))

	voted, err := st.HasVoted(votingID, "voter1")
	c.Assert(err, qt.IsNil)
	c.Assert(voted, qt.IsTrue)
	voted, err = st.HasVoted(otherVotingID, "voter1")
	c.Assert(err, qt.IsNil)
	c.Assert(voted, qt.IsFalse)
}

func TestPushUniqueBallot(t *testing.T) {
	c := qt.New(t)
	st := New(memdb.New())
	votingID := openVoting(c, st)

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := st.PushBallot(testBallot(votingID, "alice", int64(i+1)), true)
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			} else if !errors.Is(err, ErrBallotExists) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	c.Assert(accepted, qt.Equals, 1)

	count, err := st.CountBallots(votingID)
	c.Assert(err, qt.IsNil)
	c.Assert(count, qt.Equals, uint64(1))
}

func TestDeleteVoting(t *testing.T) {
	c := qt.New(t)
	st := New(metadb.NewTest(t))

	voting := testVoting()
	c.Assert(st.SetVoting(voting), qt.IsNil)
	c.Assert(st.CensusDB().Register(voting.ID, "alice"), qt.IsNil)
	c.Assert(st.SetEncryptionKeys(voting.ID, &EncryptionKeys{
		PublicKey:  &elgamal.PublicKey{P: big.NewInt(23), G: big.NewInt(4), Y: big.NewInt(8)},
		PrivateKey: big.NewInt(3),
	}), qt.IsNil)

	c.Assert(st.DeleteVoting(voting.ID), qt.IsNil)
	_, err := st.Voting(voting.ID)
	c.Assert(err, qt.Equals, ErrNotFound)
	_, err = st.EncryptionKeys(voting.ID)
	c.Assert(err, qt.Equals, ErrNotFound)
	c.Assert(st.CensusDB().Exists(voting.ID), qt.IsFalse)
	c.Assert(st.DeleteVoting(voting.ID), qt.Equals, ErrNotFound)

	// a voting with ballots cannot be deleted
	withBallots := openVoting(c, st)
	_, err = st.PushBallot(testBallot(withBallots, "alice", 2), false)
	c.Assert(err, qt.IsNil)
	c.Assert(st.DeleteVoting(withBallots), qt.Equals, ErrHasBallots)
	_, err = st.Voting(withBallots)
	c.Assert(err, qt.IsNil)
}

func TestPushBallotPhase(t *testing.T) {
	c := qt.New(t)
	st := New(memdb.New())

	_, err := st.PushBallot(testBallot(uuid.New(), "alice", 1), false)
	c.Assert(err, qt.Equals, ErrNotFound)

	voting := testVoting()
	c.Assert(st.SetVoting(voting), qt.IsNil)
	_, err = st.PushBallot(testBallot(voting.ID, "alice", 1), false)
	c.Assert(err, qt.ErrorIs, ErrVotingNotOpen)

	_, err = st.UpdateVoting(voting.ID, func(v *types.Voting) error {
		now := time.Now().UTC()
		v.StartDate = &now
		return nil
	})
	c.Assert(err, qt.IsNil)
	_, err = st.PushBallot(testBallot(voting.ID, "alice", 1), false)
	c.Assert(err, qt.IsNil)

	_, err = st.UpdateVoting(voting.ID, func(v *types.Voting) error {
		now := time.Now().UTC()
		v.EndDate = &now
		return nil
	})
	c.Assert(err, qt.IsNil)
	_, err = st.PushBallot(testBallot(voting.ID, "bob", 2), false)
	c.Assert(err, qt.ErrorIs, ErrVotingNotOpen)
	count, err := st.CountBallots(voting.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(count, qt.Equals, uint64(1))
}

func TestBallotsAfterStop(t *testing.T) {
	c := qt.New(t)
	st := New(memdb.New())
	votingID := openVoting(c, st)

	const n = 200
	var wg sync.WaitGroup
	accepted := make(chan *types.Ballot, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := st.PushBallot(testBallot(votingID, fmt.Sprintf("voter%d", i), int64(i+1)), false)
			switch {
			case err == nil:
				accepted <- b
			case !errors.Is(err, ErrVotingNotOpen):
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	stopped, err := st.UpdateVoting(votingID, func(v *types.Voting) error {
		now := time.Now().UTC()
		v.EndDate = &now
		return nil
	})
	c.Assert(err, qt.IsNil)
	ballots, err := st.Ballots(votingID)
	c.Assert(err, qt.IsNil)
	wg.Wait()
	close(accepted)

	// every accepted ballot was committed before the stop
	read := make(map[uint64]bool, len(ballots))
	for _, b := range ballots {
		read[b.Seq] = true
		c.Assert(b.Timestamp.After(*stopped.EndDate), qt.IsFalse)
	}
	count := 0
	for b := range accepted {
		c.Assert(read[b.Seq], qt.IsTrue, qt.Commentf("ballot %d missing", b.Seq))
		count++
	}
	c.Assert(ballots, qt.HasLen, count)
}

func TestEncryptionKeys(t *testing.T) {
	c := qt.New(t)
	st := New(memdb.New())
	votingID := uuid.New()

	_, err := st.EncryptionKeys(votingID)
	c.Assert(err, qt.Equals, ErrNotFound)

	keys := &EncryptionKeys{
		PublicKey: &elgamal.PublicKey{P: big.NewInt(23), G: big.NewInt(4), Y: big.NewInt(8)},
		Shares:    map[int]*big.Int{1: big.NewInt(5), 2: big.NewInt(7), 3: big.NewInt(9)},
		Threshold: 2,
	}
	c.Assert(st.SetEncryptionKeys(votingID, keys), qt.IsNil)
	got, err := st.EncryptionKeys(votingID)
	c.Assert(err, qt.IsNil)
	c.Assert(got.PublicKey.Equal(keys.PublicKey), qt.IsTrue)
	c.Assert(got.PrivateKey, qt.IsNil)
	c.Assert(got.Threshold, qt.Equals, 2)
	c.Assert(got.Shares, qt.HasLen, 3)
	c.Assert(got.Shares[2].Int64(), qt.Equals, int64(7))

	c.Assert(st.DeleteEncryptionKeys(votingID), qt.IsNil)
	_, err = st.EncryptionKeys(votingID)
	c.Assert(err, qt.Equals, ErrNotFound)
}
