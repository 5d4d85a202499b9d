package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vocdoni/vocdoni-decide/crypto/elgamal"
)

// Phase is the lifecycle phase of a voting. It is never stored, it is
// derived from the dates of the voting.
type Phase uint8

const (
	PhaseSetup Phase = iota
	PhaseOpen
	PhaseClosed
	PhaseTallied
)

func (p Phase) String() string {
	switch p {
	case PhaseSetup:
		return "setup"
	case PhaseOpen:
		return "open"
	case PhaseClosed:
		return "closed"
	case PhaseTallied:
		return "tallied"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// BallotPolicy defines which ballots of a voter are counted when the voter
// submitted more than one.
type BallotPolicy string

const (
	// BallotPolicyLast counts only the last ballot of each voter.
	BallotPolicyLast BallotPolicy = "last"
	// BallotPolicyFirst rejects any ballot after the first one of a voter.
	BallotPolicyFirst BallotPolicy = "first"
	// BallotPolicyAll counts every ballot submitted.
	BallotPolicyAll BallotPolicy = "all"
)

// Valid reports whether the policy is known. The empty policy is valid and
// means BallotPolicyLast.
func (p BallotPolicy) Valid() bool {
	switch p {
	case "", BallotPolicyLast, BallotPolicyFirst, BallotPolicyAll:
		return true
	}
	return false
}

// OrDefault returns the policy, or BallotPolicyLast if it is empty.
func (p BallotPolicy) OrDefault() BallotPolicy {
	if p == "" {
		return BallotPolicyLast
	}
	return p
}

// Gender is the category tag of an option, only used for reporting.
type Gender string

const (
	GenderUnset  Gender = ""
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

// Valid reports whether the gender is one of the known values.
func (g Gender) Valid() bool {
	switch g {
	case GenderUnset, GenderMale, GenderFemale, GenderOther:
		return true
	}
	return false
}

type QuestionOption struct {
	Number uint64 `json:"number"           cbor:"0,keyasint"`
	Option string `json:"option"           cbor:"1,keyasint"`
	Gender Gender `json:"gender,omitempty" cbor:"2,keyasint,omitempty"`
}

type Question struct {
	Desc    string           `json:"desc"    cbor:"0,keyasint"`
	Options []QuestionOption `json:"options" cbor:"1,keyasint"`
}

// Option returns the option with the given number.
func (q *Question) Option(number uint64) (QuestionOption, bool) {
	for _, o := range q.Options {
		if o.Number == number {
			return o, true
		}
	}
	return QuestionOption{}, false
}

// MaxNumber returns the highest option number of the question.
func (q *Question) MaxNumber() uint64 {
	max := uint64(0)
	for _, o := range q.Options {
		if o.Number > max {
			max = o.Number
		}
	}
	return max
}

// Authority is a key holder of a voting.
type Authority struct {
	Name string `json:"name" cbor:"0,keyasint"`
	URL  string `json:"url"  cbor:"1,keyasint"`
	Me   bool   `json:"me"   cbor:"2,keyasint"`
}

type PostProcEntry struct {
	Number uint64 `json:"number"           cbor:"0,keyasint"`
	Option string `json:"option"           cbor:"1,keyasint"`
	Gender Gender `json:"gender,omitempty" cbor:"3,keyasint,omitempty"`
	Votes  uint64 `json:"votes"            cbor:"2,keyasint"`
}

type Voting struct {
	ID           uuid.UUID          `json:"id"                   cbor:"0,keyasint"`
	Name         string             `json:"name"                 cbor:"1,keyasint"`
	Desc         string             `json:"desc"                 cbor:"2,keyasint"`
	Question     Question           `json:"question"             cbor:"3,keyasint"`
	Authorities  []Authority        `json:"auths"                cbor:"4,keyasint"`
	StartDate    *time.Time         `json:"start_date"           cbor:"5,keyasint,omitempty"`
	EndDate      *time.Time         `json:"end_date"             cbor:"6,keyasint,omitempty"`
	PublicKey    *elgamal.PublicKey `json:"pub_key"              cbor:"7,keyasint,omitempty"`
	Tally        []uint64           `json:"tally"                cbor:"8,keyasint,omitempty"`
	PostProc     []PostProcEntry    `json:"postproc"             cbor:"9,keyasint,omitempty"`
	TallyDate    *time.Time         `json:"tally_date,omitempty" cbor:"10,keyasint,omitempty"`
	BallotPolicy BallotPolicy       `json:"ballot_policy"        cbor:"11,keyasint,omitempty"`
	CensusRoot   HexBytes           `json:"census_root,omitempty" cbor:"12,keyasint,omitempty"`
	// TallyInvalid counts the tallied ballots that encrypt no option number.
	TallyInvalid uint64 `json:"tally_invalid,omitempty" cbor:"13,keyasint,omitempty"`
}

// Phase derives the lifecycle phase from the voting dates.
func (v *Voting) Phase() Phase {
	switch {
	case v.TallyDate != nil:
		return PhaseTallied
	case v.EndDate != nil:
		return PhaseClosed
	case v.StartDate != nil:
		return PhaseOpen
	default:
		return PhaseSetup
	}
}

// Tallied reports whether a tally has been committed, even if it is empty.
func (v *Voting) Tallied() bool {
	return v.TallyDate != nil
}

// Ballot is an encrypted vote of a voter, as stored by the ballot store.
type Ballot struct {
	VotingID  uuid.UUID           `json:"voting"    cbor:"0,keyasint"`
	VoterID   string              `json:"voter"     cbor:"1,keyasint"`
	Vote      *elgamal.Ciphertext `json:"vote"      cbor:"2,keyasint"`
	Seq       uint64              `json:"seq"       cbor:"3,keyasint"`
	Timestamp time.Time           `json:"timestamp" cbor:"4,keyasint"`
	Receipt   HexBytes            `json:"receipt"   cbor:"5,keyasint"`
}
