// Package voting implements the lifecycle of a voting: creation, the
// start/stop/tally state machine, census registration and ballot admission.
// Every transition is serialized per voting and committed with a
// compare-and-set on the stored voting, so concurrent callers observe exactly
// one successful transition.
package voting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vocdoni/vocdoni-decide/auth"
	"github.com/vocdoni/vocdoni-decide/authority"
	"github.com/vocdoni/vocdoni-decide/crypto/elgamal"
	"github.com/vocdoni/vocdoni-decide/log"
	"github.com/vocdoni/vocdoni-decide/mixnet"
	"github.com/vocdoni/vocdoni-decide/storage"
	"github.com/vocdoni/vocdoni-decide/storage/census"
	"github.com/vocdoni/vocdoni-decide/tally"
	"github.com/vocdoni/vocdoni-decide/types"
)

const (
	// DefaultKeyGenTimeout bounds the key generation of the start transition.
	DefaultKeyGenTimeout = 2 * time.Minute
	// DefaultTallyTimeout bounds the tally transition.
	DefaultTallyTimeout = 10 * time.Minute
)

// Actions accepted by Apply.
const (
	ActionStart = "start"
	ActionStop  = "stop"
	ActionTally = "tally"
)

// Config holds the settings of the Manager.
type Config struct {
	KeyGenTimeout time.Duration
	TallyTimeout  time.Duration
	// BallotPolicy is applied to the votings created without one.
	BallotPolicy types.BallotPolicy
}

// Manager drives the lifecycle of the votings.
type Manager struct {
	storage  *storage.Storage
	census   *census.CensusDB
	strategy authority.DecryptionStrategy
	pipeline *tally.Pipeline
	conf     Config

	locks       sync.Map // uuid.UUID -> *sync.Mutex
	censusLocks sync.Map // uuid.UUID -> *sync.Mutex
}

// NewManager returns a manager storing votings in stg, generating keys and
// decrypting through strategy and anonymizing ballots with mixer.
func NewManager(stg *storage.Storage, strategy authority.DecryptionStrategy, mixer mixnet.Mixer, conf Config) *Manager {
	if conf.KeyGenTimeout <= 0 {
		conf.KeyGenTimeout = DefaultKeyGenTimeout
	}
	if conf.TallyTimeout <= 0 {
		conf.TallyTimeout = DefaultTallyTimeout
	}
	return &Manager{
		storage:  stg,
		census:   stg.CensusDB(),
		strategy: strategy,
		pipeline: tally.NewPipeline(mixer, strategy),
		conf:     conf,
	}
}

// lock acquires the transition lock of the voting and returns its release.
func (m *Manager) lock(id uuid.UUID) func() {
	return acquire(&m.locks, id)
}

// censusLock acquires the census lock of the voting and returns its release.
// It is taken after the transition lock when both are needed.
func (m *Manager) censusLock(id uuid.UUID) func() {
	return acquire(&m.censusLocks, id)
}

func acquire(locks *sync.Map, id uuid.UUID) func() {
	mu, _ := locks.LoadOrStore(id, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
	return mu.(*sync.Mutex).Unlock
}

func requireAdmin(identity *auth.Identity) error {
	if identity == nil {
		return ErrUnauthenticated
	}
	if !identity.Admin {
		return ErrPermissionDenied
	}
	return nil
}

func notFound(id uuid.UUID, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return err
}

// CreateRequest holds the fields of a new voting. Option numbers are assigned
// by Create following the order of Options.
type CreateRequest struct {
	Name         string
	Desc         string
	Question     string
	Options      []types.QuestionOption
	BallotPolicy types.BallotPolicy
}

func (r *CreateRequest) validate() error {
	switch {
	case strings.TrimSpace(r.Name) == "":
		return missingField("name")
	case strings.TrimSpace(r.Desc) == "":
		return missingField("desc")
	case strings.TrimSpace(r.Question) == "":
		return missingField("question")
	case len(r.Options) == 0:
		return missingField("question_opt")
	case len(r.Options) > types.MaxOptions:
		return invalidField("question_opt", "at most %d options allowed", types.MaxOptions)
	}
	for i, o := range r.Options {
		if strings.TrimSpace(o.Option) == "" {
			return invalidField("question_opt", "option %d is empty", i+1)
		}
		if !o.Gender.Valid() {
			return invalidField("question_opt", "option %d has unknown gender %q", i+1, o.Gender)
		}
	}
	if !r.BallotPolicy.Valid() {
		return invalidField("ballot_policy", "unknown policy %q", r.BallotPolicy)
	}
	return nil
}

// Create stores a new voting in the setup phase.
func (m *Manager) Create(identity *auth.Identity, req *CreateRequest) (*types.Voting, error) {
	if err := requireAdmin(identity); err != nil {
		return nil, err
	}
	if req == nil {
		return nil, missingField("name")
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	policy := req.BallotPolicy
	if policy == "" {
		policy = m.conf.BallotPolicy.OrDefault()
	}
	v := &types.Voting{
		ID:           uuid.New(),
		Name:         req.Name,
		Desc:         req.Desc,
		Question:     types.Question{Desc: req.Question},
		Authorities:  m.strategy.Authorities(),
		BallotPolicy: policy,
	}
	for i, o := range req.Options {
		v.Question.Options = append(v.Question.Options, types.QuestionOption{
			Number: uint64(i + 1),
			Option: o.Option,
			Gender: o.Gender,
		})
	}
	if err := m.storage.SetVoting(v); err != nil {
		return nil, fmt.Errorf("could not store voting: %w", err)
	}
	log.Infow("voting created", "id", v.ID.String(), "name", v.Name, "options", len(v.Question.Options), "by", identity.ID)
	return v, nil
}

// Voting returns the voting with the given ID.
func (m *Manager) Voting(id uuid.UUID) (*types.Voting, error) {
	v, err := m.storage.Voting(id)
	if err != nil {
		return nil, notFound(id, err)
	}
	return v, nil
}

// Votings returns every voting stored.
func (m *Manager) Votings() ([]*types.Voting, error) {
	return m.storage.Votings()
}

// Delete removes the voting, its census and its key material. A voting with
// ballots cannot be deleted.
func (m *Manager) Delete(identity *auth.Identity, id uuid.UUID) error {
	if err := requireAdmin(identity); err != nil {
		return err
	}
	unlock := m.lock(id)
	defer unlock()
	censusUnlock := m.censusLock(id)
	defer censusUnlock()
	if err := m.storage.DeleteVoting(id); err != nil {
		if errors.Is(err, storage.ErrHasBallots) {
			return ErrHasBallots
		}
		return notFound(id, err)
	}
	if err := m.strategy.Forget(id); err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Warnw("could not forget key material", "voting", id.String(), "error", err.Error())
	}
	log.Infow("voting deleted", "id", id.String(), "by", identity.ID)
	return nil
}

// Apply runs the action on the voting and returns its success message.
func (m *Manager) Apply(ctx context.Context, identity *auth.Identity, id uuid.UUID, action string) (string, error) {
	if err := requireAdmin(identity); err != nil {
		return "", err
	}
	switch action {
	case ActionStart:
		return m.Start(ctx, identity, id)
	case ActionStop:
		return m.Stop(ctx, identity, id)
	case ActionTally:
		return m.Tally(ctx, identity, id)
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownAction, action)
	}
}

// Start generates the key of the voting and opens it.
func (m *Manager) Start(ctx context.Context, identity *auth.Identity, id uuid.UUID) (string, error) {
	if err := requireAdmin(identity); err != nil {
		return "", err
	}
	unlock := m.lock(id)
	defer unlock()

	v, err := m.Voting(id)
	if err != nil {
		return "", err
	}
	if v.StartDate != nil {
		return "", stateError(MsgAlreadyStarted)
	}

	keyCtx, cancel := context.WithTimeout(ctx, m.conf.KeyGenTimeout)
	defer cancel()
	publicKey, err := m.strategy.GenerateKey(keyCtx, id)
	if err != nil {
		return "", fmt.Errorf("could not generate voting key: %w", err)
	}
	if err := publicKey.Validate(); err != nil {
		return "", err
	}

	if _, err := m.storage.UpdateVoting(id, func(v *types.Voting) error {
		if v.StartDate != nil {
			return stateError(MsgAlreadyStarted)
		}
		now := time.Now().UTC()
		v.StartDate = &now
		v.PublicKey = publicKey
		return nil
	}); err != nil {
		return "", notFound(id, err)
	}
	log.Infow("voting started", "id", id.String(), "key", publicKey.String(), "by", identity.ID)
	return MsgStarted, nil
}

// Stop closes the voting. The census root at closing time is kept in the
// voting.
func (m *Manager) Stop(_ context.Context, identity *auth.Identity, id uuid.UUID) (string, error) {
	if err := requireAdmin(identity); err != nil {
		return "", err
	}
	unlock := m.lock(id)
	defer unlock()
	censusUnlock := m.censusLock(id)
	defer censusUnlock()

	if _, err := m.storage.UpdateVoting(id, func(v *types.Voting) error {
		switch {
		case v.StartDate == nil:
			return stateError(MsgNotStarted)
		case v.EndDate != nil:
			return stateError(MsgAlreadyStopped)
		}
		root, err := m.census.Root(id)
		if err != nil {
			return fmt.Errorf("could not read census root: %w", err)
		}
		now := time.Now().UTC()
		v.EndDate = &now
		v.CensusRoot = root
		return nil
	}); err != nil {
		return "", notFound(id, err)
	}
	log.Infow("voting stopped", "id", id.String(), "by", identity.ID)
	return MsgStopped, nil
}

// Tally runs the tally pipeline on the ballots of a closed voting and stores
// the result. If the pipeline fails nothing is stored and the voting stays
// closed.
func (m *Manager) Tally(ctx context.Context, identity *auth.Identity, id uuid.UUID) (string, error) {
	if err := requireAdmin(identity); err != nil {
		return "", err
	}
	unlock := m.lock(id)
	defer unlock()

	v, err := m.Voting(id)
	if err != nil {
		return "", err
	}
	if err := tallyPrecondition(v); err != nil {
		return "", err
	}

	ballots, err := m.storage.Ballots(id)
	if err != nil {
		return "", fmt.Errorf("could not read ballots: %w", err)
	}
	ballots = submittedBefore(ballots, *v.EndDate)

	tallyCtx, cancel := context.WithTimeout(ctx, m.conf.TallyTimeout)
	defer cancel()
	result, err := m.pipeline.Run(tallyCtx, v, ballots)
	if err != nil {
		log.Warnw("tally failed", "id", id.String(), "error", err.Error())
		return "", err
	}

	if _, err := m.storage.UpdateVoting(id, func(v *types.Voting) error {
		if err := tallyPrecondition(v); err != nil {
			return err
		}
		now := time.Now().UTC()
		v.Tally = result.Tally
		v.TallyInvalid = result.Invalid
		v.PostProc = result.PostProc
		v.TallyDate = &now
		return nil
	}); err != nil {
		return "", notFound(id, err)
	}
	log.Infow("voting tallied",
		"id", id.String(),
		"votes", len(result.Tally),
		"invalid", result.Invalid,
		"by", identity.ID)
	return MsgTallied, nil
}

func tallyPrecondition(v *types.Voting) error {
	switch {
	case v.StartDate == nil:
		return stateError(MsgNotStarted)
	case v.EndDate == nil:
		return stateError(MsgNotStopped)
	case v.Tallied():
		return stateError(MsgAlreadyTallied)
	}
	return nil
}

// submittedBefore drops the ballots whose append completed after the voting
// was closed.
func submittedBefore(ballots []*types.Ballot, end time.Time) []*types.Ballot {
	kept := ballots[:0]
	for _, b := range ballots {
		if b.Timestamp.After(end) {
			log.Warnw("ballot submitted after closing ignored", "voting", b.VotingID.String(), "seq", b.Seq)
			continue
		}
		kept = append(kept, b)
	}
	return kept
}

// RegisterVoters adds the voters to the census of the voting and returns the
// number of new entries. Registration is closed once the voting is stopped.
func (m *Manager) RegisterVoters(identity *auth.Identity, id uuid.UUID, voterIDs []string) (int, error) {
	if err := requireAdmin(identity); err != nil {
		return 0, err
	}
	if len(voterIDs) == 0 {
		return 0, missingField("voters")
	}
	for i, voterID := range voterIDs {
		if voterID == "" {
			return 0, invalidField("voters", "voter %d is empty", i)
		}
	}
	unlock := m.censusLock(id)
	defer unlock()
	v, err := m.Voting(id)
	if err != nil {
		return 0, err
	}
	if v.EndDate != nil {
		return 0, stateError(MsgAlreadyStopped)
	}
	return m.census.RegisterBatch(id, voterIDs)
}

// IsEligible reports whether the voter is in the census of the voting.
func (m *Manager) IsEligible(id uuid.UUID, voterID string) (bool, error) {
	if _, err := m.Voting(id); err != nil {
		return false, err
	}
	return m.census.IsEligible(id, voterID)
}

// CensusRoot returns the current root of the census of the voting.
func (m *Manager) CensusRoot(id uuid.UUID) (types.HexBytes, error) {
	if _, err := m.Voting(id); err != nil {
		return nil, err
	}
	return m.census.Root(id)
}

// CensusProof returns the Merkle proof of the voter in the census of the
// voting.
func (m *Manager) CensusProof(id uuid.UUID, voterID string) (*census.CensusProof, error) {
	if _, err := m.Voting(id); err != nil {
		return nil, err
	}
	proof, err := m.census.Proof(id, voterID)
	if err != nil {
		if errors.Is(err, census.ErrKeyNotFound) || errors.Is(err, census.ErrCensusNotFound) {
			return nil, ErrNotEligible
		}
		return nil, err
	}
	return proof, nil
}

// SubmitBallot appends the encrypted vote of the voter to the ballot store.
// The voting must be open and the voter eligible. The phase is checked again
// when the ballot is committed, so no ballot is stored once Stop returns.
func (m *Manager) SubmitBallot(id uuid.UUID, voterID string, vote *elgamal.Ciphertext) (*types.Ballot, error) {
	if voterID == "" {
		return nil, ErrUnauthenticated
	}
	v, err := m.Voting(id)
	if err != nil {
		return nil, err
	}
	if v.Phase() != types.PhaseOpen {
		return nil, ErrNotOpen
	}
	eligible, err := m.census.IsEligible(id, voterID)
	if err != nil {
		return nil, err
	}
	if !eligible {
		return nil, ErrNotEligible
	}
	if err := vote.Validate(v.PublicKey); err != nil {
		return nil, err
	}
	unique := v.BallotPolicy.OrDefault() == types.BallotPolicyFirst
	ballot, err := m.storage.PushBallot(&types.Ballot{
		VotingID: id,
		VoterID:  voterID,
		Vote:     vote,
	}, unique)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrBallotExists):
			return nil, ErrAlreadyVoted
		case errors.Is(err, storage.ErrVotingNotOpen):
			return nil, ErrNotOpen
		case errors.Is(err, storage.ErrNotFound):
			return nil, notFound(id, err)
		}
		return nil, fmt.Errorf("could not store ballot: %w", err)
	}
	log.Debugw("ballot stored", "voting", id.String(), "seq", ballot.Seq)
	return ballot, nil
}

// BallotCount returns the number of ballots stored for the voting.
func (m *Manager) BallotCount(id uuid.UUID) (uint64, error) {
	if _, err := m.Voting(id); err != nil {
		return 0, err
	}
	return m.storage.CountBallots(id)
}
