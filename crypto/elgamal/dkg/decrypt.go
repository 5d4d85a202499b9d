package dkg

import (
	"fmt"
	"math/big"

	"github.com/vocdoni/vocdoni-decide/crypto/elgamal"
)

// ComputePartialDecryption computes the partial decryption a^privateShare mod p.
func (p *Participant) ComputePartialDecryption(a *big.Int) *big.Int {
	return new(big.Int).Exp(a, p.PrivateShare, p.P)
}

// CombinePartialDecryptions combines at least threshold partial decryptions
// of ct and returns the group element M = g^m.
func CombinePartialDecryptions(publicKey *elgamal.PublicKey, ct *elgamal.Ciphertext,
	partialDecryptions map[int]*big.Int, participants []int,
) (*big.Int, error) {
	lagrangeCoeffs, err := computeLagrangeCoefficients(participants, publicKey.Q())
	if err != nil {
		return nil, fmt.Errorf("failed to compute Lagrange coefficients: %w", err)
	}

	// s = prod_i pd_i^lambda_i
	s := big.NewInt(1)
	for _, id := range participants {
		pd, ok := partialDecryptions[id]
		if !ok {
			return nil, fmt.Errorf("missing partial decryption of participant %d", id)
		}
		term := new(big.Int).Exp(pd, lagrangeCoeffs[id], publicKey.P)
		s.Mul(s, term)
		s.Mod(s, publicKey.P)
	}
	return elgamal.Unmask(publicKey, ct, s)
}

// CombineAndDecrypt combines the partial decryptions and recovers the message
// in [0, maxMessage].
func CombineAndDecrypt(publicKey *elgamal.PublicKey, ct *elgamal.Ciphertext,
	partialDecryptions map[int]*big.Int, participants []int, maxMessage uint64,
) (*big.Int, error) {
	M, err := CombinePartialDecryptions(publicKey, ct, partialDecryptions, participants)
	if err != nil {
		return nil, err
	}
	message, err := elgamal.DiscreteLog(publicKey, M, maxMessage)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt message: %w", err)
	}
	return message, nil
}

// computeLagrangeCoefficients computes Lagrange coefficients at x = 0 for
// the given participant IDs.
func computeLagrangeCoefficients(participants []int, mod *big.Int) (map[int]*big.Int, error) {
	coeffs := make(map[int]*big.Int)
	for _, i := range participants {
		numerator := big.NewInt(1)
		denominator := big.NewInt(1)
		for _, j := range participants {
			if i == j {
				continue
			}
			// numerator *= -j mod mod
			tempNum := big.NewInt(int64(-j))
			tempNum.Mod(tempNum, mod)
			numerator.Mul(numerator, tempNum)
			numerator.Mod(numerator, mod)

			// denominator *= (i - j) mod mod
			tempDen := big.NewInt(int64(i - j))
			tempDen.Mod(tempDen, mod)
			denominator.Mul(denominator, tempDen)
			denominator.Mod(denominator, mod)
		}
		denominatorInv := new(big.Int).ModInverse(denominator, mod)
		if denominatorInv == nil {
			return nil, fmt.Errorf("modular inverse does not exist for denominator %s modulo %s", denominator.String(), mod.String())
		}
		coeff := new(big.Int).Mul(numerator, denominatorInv)
		coeff.Mod(coeff, mod)
		coeffs[i] = coeff
	}
	return coeffs, nil
}
