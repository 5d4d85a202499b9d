package voting

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"math/rand"
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/google/uuid"
	"github.com/vocdoni/vocdoni-decide/auth"
	"github.com/vocdoni/vocdoni-decide/authority"
	"github.com/vocdoni/vocdoni-decide/crypto/elgamal"
	"github.com/vocdoni/vocdoni-decide/mixnet"
	"github.com/vocdoni/vocdoni-decide/storage"
	"github.com/vocdoni/vocdoni-decide/types"
	"go.vocdoni.io/dvote/db/metadb"
)

const testKeyBits = 64

var (
	admin = &auth.Identity{ID: "admin", Admin: true}
	voter = &auth.Identity{ID: "voter"}
)

func newTestStrategy(c *qt.C, stg *storage.Storage) authority.DecryptionStrategy {
	issuer, err := auth.NewTokenIssuer("", 0)
	c.Assert(err, qt.IsNil)
	local := authority.NewLocalAuthority(stg, auth.NewTokenVerifier(issuer.Address()), testKeyBits)
	return authority.NewSingleAuthority(local, types.Authority{Name: "test auth", URL: "http://localhost:9090", Me: true}, issuer)
}

func newTestManager(c *qt.C, conf Config) *Manager {
	stg := storage.New(metadb.NewTest(c))
	return NewManager(stg, newTestStrategy(c, stg), mixnet.NewReEncryptionMixer(1), conf)
}

func options(texts ...string) []types.QuestionOption {
	opts := make([]types.QuestionOption, len(texts))
	for i, t := range texts {
		opts[i] = types.QuestionOption{Option: t}
	}
	return opts
}

func newTestVoting(c *qt.C, m *Manager, n int) *types.Voting {
	req := &CreateRequest{Name: "test voting", Desc: "test description", Question: "pick one"}
	for i := 1; i <= n; i++ {
		req.Options = append(req.Options, types.QuestionOption{Option: fmt.Sprintf("option %d", i)})
	}
	v, err := m.Create(admin, req)
	c.Assert(err, qt.IsNil)
	return v
}

func encrypt(c *qt.C, publicKey *elgamal.PublicKey, vote int64) *elgamal.Ciphertext {
	ct, _, err := elgamal.Encrypt(publicKey, big.NewInt(vote))
	c.Assert(err, qt.IsNil)
	return ct
}

func TestCreate(t *testing.T) {
	c := qt.New(t)
	m := newTestManager(c, Config{})

	v, err := m.Create(admin, &CreateRequest{
		Name:     "Votación Senado Sevilla",
		Desc:     "senate",
		Question: "who?",
		Options: []types.QuestionOption{
			{Option: "PA: Smith, Jane", Gender: types.GenderFemale},
			{Number: 40, Option: "PB: Doe, John", Gender: types.GenderMale},
		},
	})
	c.Assert(err, qt.IsNil)
	c.Assert(v.Phase(), qt.Equals, types.PhaseSetup)
	c.Assert(v.BallotPolicy, qt.Equals, types.BallotPolicyLast)
	c.Assert(v.Question.Options[0].Number, qt.Equals, uint64(1))
	c.Assert(v.Question.Options[1].Number, qt.Equals, uint64(2))
	c.Assert(v.Authorities, qt.DeepEquals, []types.Authority{{Name: "test auth", URL: "http://localhost:9090", Me: true}})

	stored, err := m.Voting(v.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(stored.Name, qt.Equals, v.Name)
	c.Assert(stored.PublicKey, qt.IsNil)
	c.Assert(stored.StartDate, qt.IsNil)

	votings, err := m.Votings()
	c.Assert(err, qt.IsNil)
	c.Assert(votings, qt.HasLen, 1)

	rows, err := m.Candidates()
	c.Assert(err, qt.IsNil)
	c.Assert(rows, qt.DeepEquals, [][]string{
		CandidateHeader,
		{"Jane", "Smith", "female", "Sevilla", "PA", "yes"},
		{"John", "Doe", "male", "Sevilla", "PB", "yes"},
	})

	_, err = m.Voting(uuid.New())
	c.Assert(err, qt.ErrorIs, ErrNotFound)
}

func TestCreateValidation(t *testing.T) {
	c := qt.New(t)
	m := newTestManager(c, Config{})

	valid := func() *CreateRequest {
		return &CreateRequest{Name: "n", Desc: "d", Question: "q", Options: options("a", "b")}
	}
	tests := []struct {
		field  string
		modify func(r *CreateRequest)
	}{
		{"name", func(r *CreateRequest) { r.Name = "" }},
		{"name", func(r *CreateRequest) { r.Name = "   " }},
		{"desc", func(r *CreateRequest) { r.Desc = "" }},
		{"question", func(r *CreateRequest) { r.Question = "" }},
		{"question_opt", func(r *CreateRequest) { r.Options = nil }},
		{"question_opt", func(r *CreateRequest) { r.Options = options("a", "") }},
		{"question_opt", func(r *CreateRequest) { r.Options[0].Gender = "robot" }},
		{"ballot_policy", func(r *CreateRequest) { r.BallotPolicy = "twice" }},
	}
	for _, tc := range tests {
		req := valid()
		tc.modify(req)
		_, err := m.Create(admin, req)
		c.Assert(err, qt.ErrorIs, ErrValidation)
		var verr *ValidationError
		c.Assert(errors.As(err, &verr), qt.IsTrue)
		c.Assert(verr.Field, qt.Equals, tc.field)
	}

	votings, err := m.Votings()
	c.Assert(err, qt.IsNil)
	c.Assert(votings, qt.HasLen, 0)
}

func TestPermissions(t *testing.T) {
	c := qt.New(t)
	m := newTestManager(c, Config{})
	v := newTestVoting(c, m, 2)
	ctx := context.Background()

	_, err := m.Create(nil, &CreateRequest{})
	c.Assert(err, qt.ErrorIs, ErrUnauthenticated)
	_, err = m.Create(voter, &CreateRequest{})
	c.Assert(err, qt.ErrorIs, ErrPermissionDenied)

	for _, action := range []string{ActionStart, ActionStop, ActionTally, "dance"} {
		_, err = m.Apply(ctx, nil, v.ID, action)
		c.Assert(err, qt.ErrorIs, ErrUnauthenticated)
		c.Assert(err, qt.ErrorIs, ErrPermissionDenied)

		_, err = m.Apply(ctx, voter, v.ID, action)
		c.Assert(err, qt.ErrorIs, ErrPermissionDenied)
		c.Assert(err, qt.Not(qt.ErrorIs), ErrUnauthenticated)
		c.Assert(err, qt.Not(qt.ErrorIs), ErrInvalidState)
	}

	_, err = m.RegisterVoters(voter, v.ID, []string{"x"})
	c.Assert(err, qt.ErrorIs, ErrPermissionDenied)
	c.Assert(m.Delete(voter, v.ID), qt.ErrorIs, ErrPermissionDenied)

	// nothing changed
	stored, err := m.Voting(v.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(stored.Phase(), qt.Equals, types.PhaseSetup)
}

func TestStateMachine(t *testing.T) {
	c := qt.New(t)
	m := newTestManager(c, Config{})
	v := newTestVoting(c, m, 3)
	ctx := context.Background()

	steps := []struct {
		action string
		msg    string
		phase  types.Phase
	}{
		{ActionStop, MsgNotStarted, types.PhaseSetup},
		{ActionTally, MsgNotStarted, types.PhaseSetup},
		{ActionStart, MsgStarted, types.PhaseOpen},
		{ActionStart, MsgAlreadyStarted, types.PhaseOpen},
		{ActionTally, MsgNotStopped, types.PhaseOpen},
		{ActionStop, MsgStopped, types.PhaseClosed},
		{ActionStop, MsgAlreadyStopped, types.PhaseClosed},
		{ActionTally, MsgTallied, types.PhaseTallied},
		{ActionStart, MsgAlreadyStarted, types.PhaseTallied},
		{ActionStop, MsgAlreadyStopped, types.PhaseTallied},
		{ActionTally, MsgAlreadyTallied, types.PhaseTallied},
	}
	for i, step := range steps {
		msg, err := m.Apply(ctx, admin, v.ID, step.action)
		comment := qt.Commentf("step %d: %s", i, step.action)
		if err != nil {
			c.Assert(err, qt.ErrorIs, ErrInvalidState, comment)
			var serr *StateError
			c.Assert(errors.As(err, &serr), qt.IsTrue, comment)
			msg = serr.Message
		}
		c.Assert(msg, qt.Equals, step.msg, comment)

		stored, err := m.Voting(v.ID)
		c.Assert(err, qt.IsNil)
		c.Assert(stored.Phase(), qt.Equals, step.phase, comment)
	}

	stored, err := m.Voting(v.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(stored.PublicKey.Validate(), qt.IsNil)
	c.Assert(stored.Tally, qt.HasLen, 0)
	c.Assert(stored.PostProc, qt.HasLen, 3)
	c.Assert(stored.CensusRoot, qt.Not(qt.HasLen), 0)

	_, err = m.Apply(ctx, admin, v.ID, "dance")
	c.Assert(err, qt.ErrorIs, ErrUnknownAction)

	_, err = m.Apply(ctx, admin, uuid.New(), ActionStart)
	c.Assert(err, qt.ErrorIs, ErrNotFound)
}

func TestTallyScenario(t *testing.T) {
	c := qt.New(t)
	m := newTestManager(c, Config{})
	v := newTestVoting(c, m, 5)
	ctx := context.Background()

	voters := make([]string, 100)
	for i := range voters {
		voters[i] = fmt.Sprintf("voter-%03d", i)
	}
	added, err := m.RegisterVoters(admin, v.ID, voters)
	c.Assert(err, qt.IsNil)
	c.Assert(added, qt.Equals, 100)

	_, err = m.Apply(ctx, admin, v.ID, ActionStart)
	c.Assert(err, qt.IsNil)
	v, err = m.Voting(v.ID)
	c.Assert(err, qt.IsNil)

	expected := make(map[uint64]uint64)
	next := 0
	for option := uint64(1); option <= 5; option++ {
		n := rand.Intn(6)
		for j := 0; j < n; j++ {
			ballot, err := m.SubmitBallot(v.ID, voters[next], encrypt(c, v.PublicKey, int64(option)))
			c.Assert(err, qt.IsNil)
			c.Assert(ballot.Receipt, qt.Not(qt.HasLen), 0)
			next++
		}
		expected[option] = uint64(n)
	}

	_, err = m.Apply(ctx, admin, v.ID, ActionStop)
	c.Assert(err, qt.IsNil)
	msg, err := m.Apply(ctx, admin, v.ID, ActionTally)
	c.Assert(err, qt.IsNil)
	c.Assert(msg, qt.Equals, MsgTallied)

	v, err = m.Voting(v.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(v.Tally, qt.HasLen, next)
	c.Assert(v.PostProc, qt.HasLen, 5)
	for _, entry := range v.PostProc {
		c.Assert(entry.Votes, qt.Equals, expected[entry.Number], qt.Commentf("option %d", entry.Number))
	}
}

func TestSubmitBallot(t *testing.T) {
	c := qt.New(t)
	m := newTestManager(c, Config{})
	v := newTestVoting(c, m, 2)
	ctx := context.Background()

	_, err := m.RegisterVoters(admin, v.ID, []string{"alice", "bob"})
	c.Assert(err, qt.IsNil)

	// not open yet
	_, err = m.SubmitBallot(v.ID, "alice", &elgamal.Ciphertext{A: big.NewInt(2), B: big.NewInt(3)})
	c.Assert(err, qt.ErrorIs, ErrNotOpen)

	_, err = m.Apply(ctx, admin, v.ID, ActionStart)
	c.Assert(err, qt.IsNil)
	v, err = m.Voting(v.ID)
	c.Assert(err, qt.IsNil)

	// not eligible, nothing stored
	_, err = m.SubmitBallot(v.ID, "mallory", encrypt(c, v.PublicKey, 1))
	c.Assert(err, qt.ErrorIs, ErrNotEligible)
	count, err := m.BallotCount(v.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(count, qt.Equals, uint64(0))

	// malformed ciphertext
	_, err = m.SubmitBallot(v.ID, "alice", &elgamal.Ciphertext{A: big.NewInt(0), B: big.NewInt(3)})
	c.Assert(err, qt.ErrorIs, elgamal.ErrCrypto)

	// anonymous
	_, err = m.SubmitBallot(v.ID, "", encrypt(c, v.PublicKey, 1))
	c.Assert(err, qt.ErrorIs, ErrUnauthenticated)

	// repeated ballots are accepted, the last one counts
	_, err = m.SubmitBallot(v.ID, "alice", encrypt(c, v.PublicKey, 1))
	c.Assert(err, qt.IsNil)
	_, err = m.SubmitBallot(v.ID, "alice", encrypt(c, v.PublicKey, 2))
	c.Assert(err, qt.IsNil)
	_, err = m.SubmitBallot(v.ID, "bob", encrypt(c, v.PublicKey, 2))
	c.Assert(err, qt.IsNil)
	count, err = m.BallotCount(v.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(count, qt.Equals, uint64(3))

	eligible, err := m.IsEligible(v.ID, "bob")
	c.Assert(err, qt.IsNil)
	c.Assert(eligible, qt.IsTrue)
	proof, err := m.CensusProof(v.ID, "bob")
	c.Assert(err, qt.IsNil)
	c.Assert(m.census.VerifyProof(proof), qt.IsTrue)
	_, err = m.CensusProof(v.ID, "mallory")
	c.Assert(err, qt.ErrorIs, ErrNotEligible)

	_, err = m.Apply(ctx, admin, v.ID, ActionStop)
	c.Assert(err, qt.IsNil)

	// closed
	_, err = m.SubmitBallot(v.ID, "bob", encrypt(c, v.PublicKey, 1))
	c.Assert(err, qt.ErrorIs, ErrNotOpen)
	_, err = m.RegisterVoters(admin, v.ID, []string{"carol"})
	c.Assert(err, qt.ErrorIs, ErrInvalidState)

	_, err = m.Apply(ctx, admin, v.ID, ActionTally)
	c.Assert(err, qt.IsNil)
	v, err = m.Voting(v.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(v.PostProc, qt.DeepEquals, []types.PostProcEntry{
		{Number: 1, Option: "option 1", Votes: 0},
		{Number: 2, Option: "option 2", Votes: 2},
	})
}

func TestFirstBallotPolicy(t *testing.T) {
	c := qt.New(t)
	m := newTestManager(c, Config{BallotPolicy: types.BallotPolicyFirst})
	v := newTestVoting(c, m, 2)
	c.Assert(v.BallotPolicy, qt.Equals, types.BallotPolicyFirst)

	_, err := m.RegisterVoters(admin, v.ID, []string{"alice"})
	c.Assert(err, qt.IsNil)
	_, err = m.Apply(context.Background(), admin, v.ID, ActionStart)
	c.Assert(err, qt.IsNil)
	v, err = m.Voting(v.ID)
	c.Assert(err, qt.IsNil)

	_, err = m.SubmitBallot(v.ID, "alice", encrypt(c, v.PublicKey, 1))
	c.Assert(err, qt.IsNil)
	_, err = m.SubmitBallot(v.ID, "alice", encrypt(c, v.PublicKey, 2))
	c.Assert(err, qt.ErrorIs, ErrAlreadyVoted)
	count, err := m.BallotCount(v.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(count, qt.Equals, uint64(1))
}

func TestConcurrentTally(t *testing.T) {
	c := qt.New(t)
	m := newTestManager(c, Config{})
	v := newTestVoting(c, m, 3)
	ctx := context.Background()

	_, err := m.RegisterVoters(admin, v.ID, []string{"alice", "bob", "carol"})
	c.Assert(err, qt.IsNil)
	_, err = m.Apply(ctx, admin, v.ID, ActionStart)
	c.Assert(err, qt.IsNil)
	v, err = m.Voting(v.ID)
	c.Assert(err, qt.IsNil)
	for i, name := range []string{"alice", "bob", "carol"} {
		_, err := m.SubmitBallot(v.ID, name, encrypt(c, v.PublicKey, int64(i%3+1)))
		c.Assert(err, qt.IsNil)
	}
	_, err = m.Apply(ctx, admin, v.ID, ActionStop)
	c.Assert(err, qt.IsNil)

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Apply(ctx, admin, v.ID, ActionTally)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	successes := 0
	for err := range errs {
		if err == nil {
			successes++
			continue
		}
		c.Assert(err, qt.ErrorIs, ErrInvalidState)
		c.Assert(err.Error(), qt.Equals, MsgAlreadyTallied)
	}
	c.Assert(successes, qt.Equals, 1)

	v, err = m.Voting(v.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(v.Tally, qt.HasLen, 3)
	c.Assert(v.PostProc, qt.HasLen, 3)
}

// blockingStrategy never finishes a key generation or a decryption before
// the context is done.
type blockingStrategy struct {
	authority.DecryptionStrategy
}

func (blockingStrategy) GenerateKey(ctx context.Context, _ uuid.UUID) (*elgamal.PublicKey, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingStrategy) Decrypt(ctx context.Context, _ uuid.UUID, _ []*elgamal.Ciphertext) ([]*big.Int, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestTimeouts(t *testing.T) {
	c := qt.New(t)
	stg := storage.New(metadb.NewTest(c))
	strategy := newTestStrategy(c, stg)
	conf := Config{KeyGenTimeout: 50 * time.Millisecond, TallyTimeout: 50 * time.Millisecond}
	blocked := NewManager(stg, blockingStrategy{strategy}, mixnet.NewReEncryptionMixer(1), conf)
	working := NewManager(stg, strategy, mixnet.NewReEncryptionMixer(1), conf)
	ctx := context.Background()

	v := newTestVoting(c, blocked, 2)
	_, err := blocked.Apply(ctx, admin, v.ID, ActionStart)
	c.Assert(err, qt.ErrorIs, context.DeadlineExceeded)
	v, err = blocked.Voting(v.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(v.Phase(), qt.Equals, types.PhaseSetup)
	c.Assert(v.PublicKey, qt.IsNil)

	// the blocking strategy only hangs on decryption from here on
	_, err = working.Apply(ctx, admin, v.ID, ActionStart)
	c.Assert(err, qt.IsNil)
	_, err = working.RegisterVoters(admin, v.ID, []string{"alice"})
	c.Assert(err, qt.IsNil)
	v, err = working.Voting(v.ID)
	c.Assert(err, qt.IsNil)
	_, err = working.SubmitBallot(v.ID, "alice", encrypt(c, v.PublicKey, 1))
	c.Assert(err, qt.IsNil)
	_, err = working.Apply(ctx, admin, v.ID, ActionStop)
	c.Assert(err, qt.IsNil)

	_, err = blocked.Apply(ctx, admin, v.ID, ActionTally)
	c.Assert(err, qt.ErrorIs, context.DeadlineExceeded)
	v, err = blocked.Voting(v.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(v.Phase(), qt.Equals, types.PhaseClosed)
	c.Assert(v.PostProc, qt.IsNil)

	// the tally can be retried
	_, err = working.Apply(ctx, admin, v.ID, ActionTally)
	c.Assert(err, qt.IsNil)
}

func TestTallyFailureKeepsClosed(t *testing.T) {
	c := qt.New(t)
	m := newTestManager(c, Config{})
	v := newTestVoting(c, m, 2)
	ctx := context.Background()

	_, err := m.RegisterVoters(admin, v.ID, []string{"alice"})
	c.Assert(err, qt.IsNil)
	_, err = m.Apply(ctx, admin, v.ID, ActionStart)
	c.Assert(err, qt.IsNil)
	v, err = m.Voting(v.ID)
	c.Assert(err, qt.IsNil)
	_, err = m.SubmitBallot(v.ID, "alice", encrypt(c, v.PublicKey, 2))
	c.Assert(err, qt.IsNil)
	_, err = m.Apply(ctx, admin, v.ID, ActionStop)
	c.Assert(err, qt.IsNil)

	c.Assert(m.strategy.Forget(v.ID), qt.IsNil)
	_, err = m.Apply(ctx, admin, v.ID, ActionTally)
	c.Assert(err, qt.ErrorIs, authority.ErrDecryption)

	v, err = m.Voting(v.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(v.Phase(), qt.Equals, types.PhaseClosed)
	c.Assert(v.Tally, qt.IsNil)
}

func TestTallyOutOfRangeVote(t *testing.T) {
	c := qt.New(t)
	m := newTestManager(c, Config{})
	v := newTestVoting(c, m, 5)
	ctx := context.Background()

	_, err := m.RegisterVoters(admin, v.ID, []string{"alice", "bob", "mallory"})
	c.Assert(err, qt.IsNil)
	_, err = m.Apply(ctx, admin, v.ID, ActionStart)
	c.Assert(err, qt.IsNil)
	v, err = m.Voting(v.ID)
	c.Assert(err, qt.IsNil)
	for voterID, vote := range map[string]int64{"alice": 1, "bob": 2, "mallory": 6} {
		_, err := m.SubmitBallot(v.ID, voterID, encrypt(c, v.PublicKey, vote))
		c.Assert(err, qt.IsNil)
	}
	_, err = m.Apply(ctx, admin, v.ID, ActionStop)
	c.Assert(err, qt.IsNil)

	msg, err := m.Apply(ctx, admin, v.ID, ActionTally)
	c.Assert(err, qt.IsNil)
	c.Assert(msg, qt.Equals, MsgTallied)
	v, err = m.Voting(v.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(v.Phase(), qt.Equals, types.PhaseTallied)
	c.Assert(v.Tally, qt.HasLen, 2)
	c.Assert(v.TallyInvalid, qt.Equals, uint64(1))
	votes := make(map[uint64]uint64)
	for _, e := range v.PostProc {
		votes[e.Number] = e.Votes
	}
	c.Assert(votes, qt.DeepEquals, map[uint64]uint64{1: 1, 2: 1, 3: 0, 4: 0, 5: 0})
}

func TestSubmitDuringStop(t *testing.T) {
	c := qt.New(t)
	m := newTestManager(c, Config{BallotPolicy: types.BallotPolicyAll})
	v := newTestVoting(c, m, 2)
	ctx := context.Background()

	voters := make([]string, 50)
	for i := range voters {
		voters[i] = fmt.Sprintf("voter-%02d", i)
	}
	_, err := m.RegisterVoters(admin, v.ID, voters)
	c.Assert(err, qt.IsNil)
	_, err = m.Apply(ctx, admin, v.ID, ActionStart)
	c.Assert(err, qt.IsNil)
	v, err = m.Voting(v.ID)
	c.Assert(err, qt.IsNil)
	vote := encrypt(c, v.PublicKey, 1)

	var wg sync.WaitGroup
	var accepted sync.Map
	for _, voterID := range voters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, err := m.SubmitBallot(v.ID, voterID, vote)
			switch {
			case err == nil:
				accepted.Store(b.Seq, true)
			case !errors.Is(err, ErrNotOpen):
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	_, err = m.Apply(ctx, admin, v.ID, ActionStop)
	c.Assert(err, qt.IsNil)
	stopped, err := m.BallotCount(v.ID)
	c.Assert(err, qt.IsNil)
	wg.Wait()

	// nothing is appended once the voting is stopped
	count, err := m.BallotCount(v.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(count, qt.Equals, stopped)
	n := uint64(0)
	accepted.Range(func(_, _ any) bool {
		n++
		return true
	})
	c.Assert(count, qt.Equals, n)

	_, err = m.Apply(ctx, admin, v.ID, ActionTally)
	c.Assert(err, qt.IsNil)
	v, err = m.Voting(v.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(uint64(len(v.Tally)), qt.Equals, count)
}

func TestRegisterDuringStop(t *testing.T) {
	c := qt.New(t)
	m := newTestManager(c, Config{})
	v := newTestVoting(c, m, 2)
	ctx := context.Background()

	_, err := m.RegisterVoters(admin, v.ID, []string{"alice"})
	c.Assert(err, qt.IsNil)
	_, err = m.Apply(ctx, admin, v.ID, ActionStart)
	c.Assert(err, qt.IsNil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.RegisterVoters(admin, v.ID, []string{fmt.Sprintf("late-%02d", i)})
			if err != nil && !errors.Is(err, ErrInvalidState) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	_, err = m.Apply(ctx, admin, v.ID, ActionStop)
	c.Assert(err, qt.IsNil)
	wg.Wait()

	// the root kept at closing time is the final census root
	v, err = m.Voting(v.ID)
	c.Assert(err, qt.IsNil)
	root, err := m.CensusRoot(v.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(v.CensusRoot, qt.DeepEquals, root)
}

func TestDelete(t *testing.T) {
	c := qt.New(t)
	m := newTestManager(c, Config{})
	ctx := context.Background()

	empty := newTestVoting(c, m, 2)
	_, err := m.RegisterVoters(admin, empty.ID, []string{"alice"})
	c.Assert(err, qt.IsNil)
	_, err = m.Apply(ctx, admin, empty.ID, ActionStart)
	c.Assert(err, qt.IsNil)
	c.Assert(m.Delete(admin, empty.ID), qt.IsNil)
	_, err = m.Voting(empty.ID)
	c.Assert(err, qt.ErrorIs, ErrNotFound)
	eligible, err := m.census.IsEligible(empty.ID, "alice")
	c.Assert(err, qt.IsNil)
	c.Assert(eligible, qt.IsFalse)
	c.Assert(m.Delete(admin, empty.ID), qt.ErrorIs, ErrNotFound)

	used := newTestVoting(c, m, 2)
	_, err = m.RegisterVoters(admin, used.ID, []string{"alice"})
	c.Assert(err, qt.IsNil)
	_, err = m.Apply(ctx, admin, used.ID, ActionStart)
	c.Assert(err, qt.IsNil)
	used, err = m.Voting(used.ID)
	c.Assert(err, qt.IsNil)
	_, err = m.SubmitBallot(used.ID, "alice", encrypt(c, used.PublicKey, 1))
	c.Assert(err, qt.IsNil)
	c.Assert(m.Delete(admin, used.ID), qt.ErrorIs, ErrHasBallots)
	_, err = m.Voting(used.ID)
	c.Assert(err, qt.IsNil)
}
