package api

import (
	"bytes"
	"encoding/json"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/vocdoni/vocdoni-decide/auth"
	"github.com/vocdoni/vocdoni-decide/crypto/elgamal"
	"github.com/vocdoni/vocdoni-decide/types"
)

// QuestionOption is an option of a new voting. It can be given as a plain
// string or as an object with the option text and its gender.
type QuestionOption struct {
	Option string       `json:"option"`
	Gender types.Gender `json:"gender,omitempty"`
}

// UnmarshalJSON accepts both "text" and {"option": "text", "gender": "..."}.
func (o *QuestionOption) UnmarshalJSON(data []byte) error {
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte(`"`)) {
		o.Gender = types.GenderUnset
		return json.Unmarshal(data, &o.Option)
	}
	type plain QuestionOption
	return json.Unmarshal(data, (*plain)(o))
}

// NewVoting is the request to create a voting. Pointers tell a missing field
// from an empty one.
type NewVoting struct {
	Name         *string            `json:"name"`
	Desc         *string            `json:"desc"`
	Question     *string            `json:"question"`
	Options      []QuestionOption   `json:"question_opt"`
	BallotPolicy types.BallotPolicy `json:"ballot_policy,omitempty"`
}

// VotingAction is the request to apply a transition to a voting.
type VotingAction struct {
	Action string `json:"action"`
}

// VotingInfo is a voting together with its derived state.
type VotingInfo struct {
	*types.Voting
	Phase   string `json:"phase"`
	Ballots uint64 `json:"ballots"`
}

// VotingSummary is the short representation of a voting returned by the
// listing when version=v2 is requested.
type VotingSummary struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Desc  string    `json:"desc"`
	Phase string    `json:"phase"`
}

// CensusVoters is the request to register voters in the census of a voting.
type CensusVoters struct {
	Voters []string `json:"voters"`
}

// CensusInfo is the response to a census registration.
type CensusInfo struct {
	Added int            `json:"added"`
	Root  types.HexBytes `json:"root"`
}

// Eligibility is the response to an eligibility check.
type Eligibility struct {
	Voter    string `json:"voter"`
	Eligible bool   `json:"eligible"`
}

// CensusProof is the Merkle proof of a voter in the census of a voting.
type CensusProof struct {
	Root     types.HexBytes `json:"root"`
	Key      types.HexBytes `json:"key"`
	Value    types.HexBytes `json:"value"`
	Siblings types.HexBytes `json:"siblings"`
}

// Ballot is the request to store an encrypted vote. The voter is the
// authenticated caller; administrators may submit on behalf of a voter.
type Ballot struct {
	Voting uuid.UUID           `json:"voting"`
	Voter  string              `json:"voter,omitempty"`
	Vote   *elgamal.Ciphertext `json:"vote"`
}

// BallotReceipt is the response to a stored ballot.
type BallotReceipt struct {
	Seq       uint64         `json:"seq"`
	Timestamp time.Time      `json:"timestamp"`
	Receipt   types.HexBytes `json:"receipt"`
}

// AuthorityKeyRequest asks an authority for the key of a voting.
type AuthorityKeyRequest struct {
	Voting uuid.UUID `json:"voting"`
}

// AuthorityKey is the public key of a voting generated by an authority.
type AuthorityKey struct {
	PublicKey *elgamal.PublicKey `json:"pub_key"`
}

// AuthorityDecryptRequest asks an authority to decrypt the ciphertexts of a
// voting.
type AuthorityDecryptRequest struct {
	Voting      uuid.UUID             `json:"voting"`
	Token       auth.Token            `json:"token"`
	Ciphertexts []*elgamal.Ciphertext `json:"msgs"`
}

// AuthorityDecryption holds g^m for every ciphertext of the request.
type AuthorityDecryption struct {
	Points []*big.Int `json:"points"`
}
