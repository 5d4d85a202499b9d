package authority

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"slices"

	"github.com/google/uuid"
	"github.com/vocdoni/vocdoni-decide/auth"
	"github.com/vocdoni/vocdoni-decide/crypto/elgamal"
	"github.com/vocdoni/vocdoni-decide/crypto/elgamal/dkg"
	"github.com/vocdoni/vocdoni-decide/log"
	"github.com/vocdoni/vocdoni-decide/storage"
	"github.com/vocdoni/vocdoni-decide/types"
	"golang.org/x/sync/errgroup"
)

var _ DecryptionStrategy = (*ThresholdAuthority)(nil)

// ThresholdAuthority runs a distributed key generation among N in-process
// trustees, so that any K of them can decrypt. The private shares are kept in
// the local storage indexed by trustee ID.
type ThresholdAuthority struct {
	storage   *storage.Storage
	trustees  int
	threshold int
	keyBits   int
	workers   int
	baseURL   string
	issuer    *auth.TokenIssuer
	verifier  *auth.TokenVerifier
}

// NewThresholdAuthority returns a K-of-N threshold strategy.
func NewThresholdAuthority(stg *storage.Storage, trustees, threshold, keyBits int, baseURL string) (*ThresholdAuthority, error) {
	if threshold < 1 || threshold > trustees {
		return nil, fmt.Errorf("invalid threshold %d of %d trustees", threshold, trustees)
	}
	issuer, err := auth.NewTokenIssuer("", auth.DefaultTokenTTL)
	if err != nil {
		return nil, err
	}
	return &ThresholdAuthority{
		storage:   stg,
		trustees:  trustees,
		threshold: threshold,
		keyBits:   keyBits,
		workers:   defaultWorkers(),
		baseURL:   baseURL,
		issuer:    issuer,
		verifier:  auth.NewTokenVerifier(issuer.Address()),
	}, nil
}

// GenerateKey implements DecryptionStrategy. The trustees exchange Feldman
// verified shares and every one of them must derive the same public key.
func (t *ThresholdAuthority) GenerateKey(ctx context.Context, votingID uuid.UUID) (*elgamal.PublicKey, error) {
	keys, err := t.storage.EncryptionKeys(votingID)
	if err == nil {
		return keys.PublicKey, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	p, g, err := elgamal.GenerateGroup(ctx, t.keyBits)
	if err != nil {
		return nil, err
	}

	ids := make([]int, t.trustees)
	for i := range ids {
		ids[i] = i + 1
	}
	participants := make(map[int]*dkg.Participant, t.trustees)
	allPublicCoeffs := make(map[int][]*big.Int, t.trustees)
	for _, id := range ids {
		participant := dkg.NewParticipant(id, t.threshold, ids, p, g)
		if err := participant.GenerateSecretPolynomial(); err != nil {
			return nil, err
		}
		participant.ComputeShares()
		participants[id] = participant
		allPublicCoeffs[id] = participant.PublicCoeffs
	}
	for _, from := range ids {
		for _, to := range ids {
			if from == to {
				continue
			}
			sender := participants[from]
			if err := participants[to].ReceiveShare(from, sender.SecretShares[to], sender.PublicCoeffs); err != nil {
				return nil, fmt.Errorf("trustee %d: %w", to, err)
			}
		}
	}

	shares := make(map[int]*big.Int, t.trustees)
	var publicKey *elgamal.PublicKey
	for _, id := range ids {
		participant := participants[id]
		participant.AggregateShares()
		participant.AggregatePublicKey(allPublicCoeffs)
		if publicKey == nil {
			publicKey = participant.PublicKey
		} else if !publicKey.Equal(participant.PublicKey) {
			return nil, fmt.Errorf("trustee %d derived a different public key", id)
		}
		shares[id] = participant.PrivateShare
	}
	if err := t.storage.SetEncryptionKeys(votingID, &storage.EncryptionKeys{
		PublicKey: publicKey,
		Shares:    shares,
		Threshold: t.threshold,
	}); err != nil {
		return nil, fmt.Errorf("could not store encryption keys: %w", err)
	}
	log.Infow("threshold key generated",
		"voting", votingID.String(),
		"trustees", t.trustees,
		"threshold", t.threshold,
		"bits", t.keyBits)
	return publicKey, nil
}

// Decrypt implements DecryptionStrategy. For every ciphertext all the trustees
// compute their partial decryption concurrently and the first K received are
// combined.
func (t *ThresholdAuthority) Decrypt(ctx context.Context, votingID uuid.UUID, cts []*elgamal.Ciphertext) ([]*big.Int, error) {
	token, err := t.issuer.Issue(votingID)
	if err != nil {
		return nil, err
	}
	if err := t.verifier.Consume(votingID, token); err != nil {
		return nil, err
	}
	keys, err := t.storage.EncryptionKeys(votingID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrDecryption, ErrNoKey)
		}
		return nil, err
	}
	if len(keys.Shares) < keys.Threshold || keys.Threshold < 1 {
		return nil, fmt.Errorf("%w: %d shares available for threshold %d", ErrDecryption, len(keys.Shares), keys.Threshold)
	}
	ids := make([]int, 0, len(keys.Shares))
	for id := range keys.Shares {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	trustees := make([]*dkg.Participant, 0, len(ids))
	for _, id := range ids {
		trustee := dkg.NewParticipant(id, keys.Threshold, ids, keys.PublicKey.P, keys.PublicKey.G)
		trustee.PrivateShare = keys.Shares[id]
		trustees = append(trustees, trustee)
	}

	points := make([]*big.Int, len(cts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.workers)
	for i, ct := range cts {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := ct.Validate(keys.PublicKey); err != nil {
				return fmt.Errorf("ciphertext %d: %w", i, err)
			}
			M, err := combineFirst(keys.PublicKey, ct, trustees, keys.Threshold)
			if err != nil {
				return fmt.Errorf("%w: ciphertext %d: %w", ErrDecryption, i, err)
			}
			points[i] = M
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return points, nil
}

type partialDecryption struct {
	id    int
	value *big.Int
}

// combineFirst asks every trustee for its partial decryption of ct and
// combines the first threshold answers.
func combineFirst(publicKey *elgamal.PublicKey, ct *elgamal.Ciphertext, trustees []*dkg.Participant, threshold int) (*big.Int, error) {
	results := make(chan partialDecryption, len(trustees))
	for _, trustee := range trustees {
		go func() {
			results <- partialDecryption{id: trustee.ID, value: trustee.ComputePartialDecryption(ct.A)}
		}()
	}
	partials := make(map[int]*big.Int, threshold)
	selected := make([]int, 0, threshold)
	for len(selected) < threshold {
		pd := <-results
		partials[pd.id] = pd.value
		selected = append(selected, pd.id)
	}
	slices.Sort(selected)
	return dkg.CombinePartialDecryptions(publicKey, ct, partials, selected)
}

// Authorities implements DecryptionStrategy.
func (t *ThresholdAuthority) Authorities() []types.Authority {
	auths := make([]types.Authority, t.trustees)
	for i := range auths {
		auths[i] = types.Authority{
			Name: fmt.Sprintf("trustee-%d", i+1),
			URL:  t.baseURL,
			Me:   true,
		}
	}
	return auths
}

// Forget implements DecryptionStrategy.
func (t *ThresholdAuthority) Forget(votingID uuid.UUID) error {
	return t.storage.DeleteEncryptionKeys(votingID)
}
