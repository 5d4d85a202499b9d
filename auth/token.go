package auth

import (
	"crypto/ecdsa"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/vocdoni/vocdoni-decide/util"
)

const (
	// DefaultTokenTTL is the validity of a decryption token.
	DefaultTokenTTL = 5 * time.Minute

	tokenPayloadLen = 16 + 16 + 8 // voting ID, nonce, expiry
	signatureLen    = crypto.SignatureLength
)

var (
	// ErrInvalidToken is returned when a token is malformed or has not been
	// signed by the expected issuer.
	ErrInvalidToken = errors.New("invalid decryption token")
	// ErrTokenExpired is returned when the token validity is over.
	ErrTokenExpired = errors.New("decryption token expired")
	// ErrTokenReused is returned when a token has already been consumed.
	ErrTokenReused = errors.New("decryption token already used")
	// ErrTokenVoting is returned when the token was issued for another voting.
	ErrTokenVoting = errors.New("decryption token issued for another voting")
)

// Token is a single-use authorization for decrypting the ballots of a voting.
// It is the hex encoding of votingID || nonce || expiry || signature, where
// the signature is a secp256k1 signature of the Keccak-256 hash of the payload.
type Token string

// TokenIssuer signs decryption tokens.
type TokenIssuer struct {
	key *ecdsa.PrivateKey
	ttl time.Duration
}

// NewTokenIssuer returns an issuer using the given hex encoded secp256k1
// private key. If the key is empty a new one is generated.
func NewTokenIssuer(hexKey string, ttl time.Duration) (*TokenIssuer, error) {
	var key *ecdsa.PrivateKey
	var err error
	if hexKey == "" {
		key, err = crypto.GenerateKey()
	} else {
		key, err = crypto.HexToECDSA(util.TrimHex(hexKey))
	}
	if err != nil {
		return nil, fmt.Errorf("could not load token signing key: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenIssuer{key: key, ttl: ttl}, nil
}

// Address returns the address of the issuer, used by verifiers to check the
// signature of the tokens.
func (i *TokenIssuer) Address() common.Address {
	return crypto.PubkeyToAddress(i.key.PublicKey)
}

// Issue returns a new token for the voting.
func (i *TokenIssuer) Issue(votingID uuid.UUID) (Token, error) {
	nonce := uuid.New()
	payload := make([]byte, 0, tokenPayloadLen+signatureLen)
	payload = append(payload, votingID[:]...)
	payload = append(payload, nonce[:]...)
	payload = binary.BigEndian.AppendUint64(payload, uint64(time.Now().Add(i.ttl).Unix()))
	sig, err := crypto.Sign(crypto.Keccak256(payload), i.key)
	if err != nil {
		return "", fmt.Errorf("could not sign token: %w", err)
	}
	return Token(hex.EncodeToString(append(payload, sig...))), nil
}

// TokenVerifier checks the tokens of an issuer and rejects any token that has
// already been consumed.
type TokenVerifier struct {
	issuer common.Address
	mu     sync.Mutex
	used   map[uuid.UUID]time.Time // nonce -> expiry
}

// NewTokenVerifier returns a verifier for tokens signed by the issuer address.
func NewTokenVerifier(issuer common.Address) *TokenVerifier {
	return &TokenVerifier{
		issuer: issuer,
		used:   make(map[uuid.UUID]time.Time),
	}
}

// Consume verifies the token for the voting and marks it as used. A token can
// only be consumed once.
func (v *TokenVerifier) Consume(votingID uuid.UUID, token Token) error {
	data, err := hex.DecodeString(string(token))
	if err != nil || len(data) != tokenPayloadLen+signatureLen {
		return ErrInvalidToken
	}
	payload, sig := data[:tokenPayloadLen], data[tokenPayloadLen:]
	pub, err := crypto.SigToPub(crypto.Keccak256(payload), sig)
	if err != nil || crypto.PubkeyToAddress(*pub) != v.issuer {
		return ErrInvalidToken
	}
	tokenVoting, err := uuid.FromBytes(payload[:16])
	if err != nil {
		return ErrInvalidToken
	}
	if tokenVoting != votingID {
		return ErrTokenVoting
	}
	nonce, err := uuid.FromBytes(payload[16:32])
	if err != nil {
		return ErrInvalidToken
	}
	expiry := time.Unix(int64(binary.BigEndian.Uint64(payload[32:])), 0)
	now := time.Now()
	if now.After(expiry) {
		return ErrTokenExpired
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	for n, exp := range v.used {
		if now.After(exp) {
			delete(v.used, n)
		}
	}
	if _, ok := v.used[nonce]; ok {
		return ErrTokenReused
	}
	v.used[nonce] = expiry
	return nil
}
