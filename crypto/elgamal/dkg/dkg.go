// Package dkg implements a Feldman verifiable distributed key generation for
// the exponential ElGamal cryptosystem of the elgamal package, together with
// threshold decryption based on Lagrange interpolation in the exponent.
package dkg

import (
	"fmt"
	"math/big"

	"github.com/vocdoni/vocdoni-decide/crypto/elgamal"
)

// Participant represents a participant in the DKG protocol. All exponents are
// reduced modulo q, the order of the subgroup generated by G.
type Participant struct {
	ID             int
	Threshold      int
	Participants   []int
	P              *big.Int
	G              *big.Int
	SecretCoeffs   []*big.Int
	PublicCoeffs   []*big.Int
	SecretShares   map[int]*big.Int
	ReceivedShares map[int]*big.Int
	PrivateShare   *big.Int
	PublicKey      *elgamal.PublicKey
}

// NewParticipant initializes a new participant over the group (p, g).
func NewParticipant(id int, threshold int, participants []int, p, g *big.Int) *Participant {
	return &Participant{
		ID:             id,
		Threshold:      threshold,
		Participants:   participants,
		P:              p,
		G:              g,
		SecretCoeffs:   []*big.Int{},
		PublicCoeffs:   []*big.Int{},
		SecretShares:   make(map[int]*big.Int),
		ReceivedShares: make(map[int]*big.Int),
		PrivateShare:   new(big.Int),
	}
}

// order returns q = (p-1)/2.
func (p *Participant) order() *big.Int {
	q := new(big.Int).Sub(p.P, big.NewInt(1))
	return q.Rsh(q, 1)
}

// GenerateSecretPolynomial generates a random polynomial of degree
// Threshold-1 and its Feldman commitments g^coeff.
func (p *Participant) GenerateSecretPolynomial() error {
	if p.Threshold < 1 || p.Threshold > len(p.Participants) {
		return fmt.Errorf("invalid threshold %d for %d participants", p.Threshold, len(p.Participants))
	}
	q := p.order()
	p.SecretCoeffs = p.SecretCoeffs[:0]
	p.PublicCoeffs = p.PublicCoeffs[:0]
	for i := 0; i < p.Threshold; i++ {
		coeff, err := elgamal.RandScalar(q)
		if err != nil {
			return fmt.Errorf("participant %d: %w", p.ID, err)
		}
		p.SecretCoeffs = append(p.SecretCoeffs, coeff)
		p.PublicCoeffs = append(p.PublicCoeffs, new(big.Int).Exp(p.G, coeff, p.P))
	}
	return nil
}

// ComputeShares computes shares to send to other participants.
func (p *Participant) ComputeShares() {
	for _, pid := range p.Participants {
		p.SecretShares[pid] = p.evaluatePolynomial(big.NewInt(int64(pid)))
	}
}

// evaluatePolynomial evaluates the secret polynomial at a given x.
func (p *Participant) evaluatePolynomial(x *big.Int) *big.Int {
	q := p.order()
	result := big.NewInt(0)
	xPower := big.NewInt(1)
	for _, coeff := range p.SecretCoeffs {
		term := new(big.Int).Mul(coeff, xPower)
		result.Add(result, term)
		result.Mod(result, q)

		xPower.Mul(xPower, x)
		xPower.Mod(xPower, q)
	}
	return result
}

// ReceiveShare receives a share from another participant.
func (p *Participant) ReceiveShare(fromID int, share *big.Int, publicCoeffs []*big.Int) error {
	if !p.verifyShare(share, publicCoeffs) {
		return fmt.Errorf("invalid share from participant %d", fromID)
	}
	p.ReceivedShares[fromID] = share
	return nil
}

// verifyShare checks g^share == prod_i C_i^(id^i) mod p.
func (p *Participant) verifyShare(share *big.Int, publicCoeffs []*big.Int) bool {
	if share == nil || len(publicCoeffs) != p.Threshold {
		return false
	}
	lhs := new(big.Int).Exp(p.G, share, p.P)

	q := p.order()
	rhs := big.NewInt(1)
	x := big.NewInt(int64(p.ID))
	xPower := big.NewInt(1)
	for _, commitment := range publicCoeffs {
		term := new(big.Int).Exp(commitment, xPower, p.P)
		rhs.Mul(rhs, term)
		rhs.Mod(rhs, p.P)

		xPower.Mul(xPower, x)
		xPower.Mod(xPower, q)
	}
	return lhs.Cmp(rhs) == 0
}

// AggregateShares aggregates the received shares to compute the private share.
func (p *Participant) AggregateShares() {
	q := p.order()
	p.PrivateShare.Set(p.SecretShares[p.ID])
	for _, share := range p.ReceivedShares {
		p.PrivateShare.Add(p.PrivateShare, share)
		p.PrivateShare.Mod(p.PrivateShare, q)
	}
}

// AggregatePublicKey aggregates the public commitments to compute the public
// key y = prod_j C_j0 mod p.
func (p *Participant) AggregatePublicKey(allPublicCoeffs map[int][]*big.Int) {
	y := big.NewInt(1)
	for _, coeffs := range allPublicCoeffs {
		y.Mul(y, coeffs[0]) // only the constant term is needed
		y.Mod(y, p.P)
	}
	p.PublicKey = &elgamal.PublicKey{
		P: new(big.Int).Set(p.P),
		G: new(big.Int).Set(p.G),
		Y: y,
	}
}
