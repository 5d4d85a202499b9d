// Package tally turns the encrypted ballots of a closed voting into its
// results. Ballots are selected according to the voting policy, anonymized by
// a mixer, decrypted through the decryption strategy and aggregated per
// option. Votes that do not decode to a value within the question bound are
// counted as invalid; any other failure aborts the whole tally.
package tally

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/vocdoni/vocdoni-decide/authority"
	"github.com/vocdoni/vocdoni-decide/crypto/elgamal"
	"github.com/vocdoni/vocdoni-decide/log"
	"github.com/vocdoni/vocdoni-decide/mixnet"
	"github.com/vocdoni/vocdoni-decide/types"
)

// Result is the outcome of a tally.
type Result struct {
	// Tally holds the decrypted option number of every counted ballot, in
	// the order produced by the mixer.
	Tally []uint64
	// Invalid is the number of counted ballots whose plaintext is above the
	// highest option number.
	Invalid uint64
	// PostProc holds the number of votes of every option of the question.
	PostProc []types.PostProcEntry
}

// Pipeline runs the tally of a voting.
type Pipeline struct {
	mixer    mixnet.Mixer
	strategy authority.DecryptionStrategy
}

// NewPipeline returns a pipeline mixing with mixer and decrypting through
// strategy.
func NewPipeline(mixer mixnet.Mixer, strategy authority.DecryptionStrategy) *Pipeline {
	return &Pipeline{
		mixer:    mixer,
		strategy: strategy,
	}
}

// Run tallies the ballots of the voting, given in submission order.
//
// The homomorphic combination of the counted ballots is decrypted in the same
// batch as the mixed ballots, and the resulting group element must equal the
// product of the decrypted mixed ballots. A mixer that alters any plaintext is
// caught this way, whatever the values the voters encrypted.
func (p *Pipeline) Run(ctx context.Context, voting *types.Voting, ballots []*types.Ballot) (*Result, error) {
	publicKey := voting.PublicKey
	if err := publicKey.Validate(); err != nil {
		return nil, fmt.Errorf("voting %s: %w", voting.ID, err)
	}
	counted := SelectBallots(voting.BallotPolicy, ballots)
	cts := make([]*elgamal.Ciphertext, len(counted))
	for i, b := range counted {
		if err := b.Vote.Validate(publicKey); err != nil {
			return nil, fmt.Errorf("ballot %d: %w", b.Seq, err)
		}
		cts[i] = b.Vote
	}
	log.Infow("tally started",
		"voting", voting.ID.String(),
		"ballots", len(ballots),
		"counted", len(counted),
		"policy", string(voting.BallotPolicy.OrDefault()))

	result := &Result{Tally: []uint64{}}
	if len(cts) > 0 {
		votes, invalid, err := p.decryptVotes(ctx, voting, cts)
		if err != nil {
			return nil, err
		}
		result.Tally = votes
		result.Invalid = invalid
	}
	result.PostProc = PostProcess(&voting.Question, result.Tally)
	log.Infow("tally finished",
		"voting", voting.ID.String(),
		"votes", len(result.Tally),
		"invalid", result.Invalid)
	return result, nil
}

func (p *Pipeline) decryptVotes(ctx context.Context, voting *types.Voting, cts []*elgamal.Ciphertext) ([]uint64, uint64, error) {
	publicKey := voting.PublicKey
	mixed, err := p.mixer.Mix(ctx, publicKey, cts)
	if err != nil {
		return nil, 0, err
	}
	if err := mixnet.Verify(publicKey, cts, mixed); err != nil {
		return nil, 0, err
	}

	batch := make([]*elgamal.Ciphertext, 0, len(mixed)+1)
	batch = append(batch, mixed...)
	batch = append(batch, elgamal.Combine(publicKey, cts...))
	points, err := p.strategy.Decrypt(ctx, voting.ID, batch)
	if err != nil {
		return nil, 0, fmt.Errorf("could not decrypt ballots: %w", err)
	}
	if len(points) != len(batch) {
		return nil, 0, fmt.Errorf("%w: got %d plaintexts for %d ciphertexts", authority.ErrDecryption, len(points), len(batch))
	}
	for i, M := range points {
		if M == nil || M.Sign() <= 0 || M.Cmp(publicKey.P) >= 0 {
			return nil, 0, fmt.Errorf("%w: plaintext %d is not a group element", authority.ErrDecryption, i)
		}
	}

	// g^(m1+...+mn) = g^m1 * ... * g^mn
	product := big.NewInt(1)
	for _, M := range points[:len(mixed)] {
		product.Mul(product, M)
		product.Mod(product, publicKey.P)
	}
	if product.Cmp(points[len(mixed)]) != 0 {
		return nil, 0, fmt.Errorf("%w: decrypted ballots do not match the combined ballots", mixnet.ErrMixingFailure)
	}

	maxNumber := voting.Question.MaxNumber()
	votes := make([]uint64, 0, len(mixed))
	invalid := uint64(0)
	for i, M := range points[:len(mixed)] {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		m, err := elgamal.DiscreteLog(publicKey, M, maxNumber)
		if errors.Is(err, elgamal.ErrOutOfRange) {
			invalid++
			continue
		}
		if err != nil {
			return nil, 0, fmt.Errorf("vote %d: %w", i, err)
		}
		votes = append(votes, m.Uint64())
	}
	if invalid > 0 {
		log.Warnw("votes out of range", "voting", voting.ID.String(), "count", invalid)
	}
	return votes, invalid, nil
}

// PostProcess counts the votes of every option of the question, including
// the options without votes. Values that are not an option number are
// ignored.
func PostProcess(question *types.Question, votes []uint64) []types.PostProcEntry {
	counts := make(map[uint64]uint64, len(question.Options))
	for _, v := range votes {
		counts[v]++
	}
	entries := make([]types.PostProcEntry, 0, len(question.Options))
	counted := uint64(0)
	for _, o := range question.Options {
		entries = append(entries, types.PostProcEntry{
			Number: o.Number,
			Option: o.Option,
			Gender: o.Gender,
			Votes:  counts[o.Number],
		})
		counted += counts[o.Number]
	}
	if ignored := uint64(len(votes)) - counted; ignored > 0 {
		log.Warnw("votes not matching any option", "count", ignored)
	}
	return entries
}
