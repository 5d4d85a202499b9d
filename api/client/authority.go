package client

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"

	"github.com/google/uuid"
	"github.com/vocdoni/vocdoni-decide/api"
	"github.com/vocdoni/vocdoni-decide/auth"
	"github.com/vocdoni/vocdoni-decide/authority"
	"github.com/vocdoni/vocdoni-decide/crypto/elgamal"
)

var _ authority.Authority = (*RemoteAuthority)(nil)

// RemoteAuthority is an authority served by another node through its
// authority endpoints. The client must carry an administrator token of that
// node.
type RemoteAuthority struct {
	c *HTTPclient
}

// NewRemoteAuthority returns an authority backed by the node behind c.
func NewRemoteAuthority(c *HTTPclient) *RemoteAuthority {
	return &RemoteAuthority{c: c}
}

// GenerateKey implements authority.Authority.
func (ra *RemoteAuthority) GenerateKey(ctx context.Context, votingID uuid.UUID) (*elgamal.PublicKey, error) {
	data, status, err := ra.c.RequestWithContext(ctx, HTTPPOST, &api.AuthorityKeyRequest{Voting: votingID}, nil, api.AuthorityKeysEndpoint)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%s: %d (%s)", errCodeNot200, status, data)
	}
	resp := &api.AuthorityKey{}
	if err := json.Unmarshal(data, resp); err != nil {
		return nil, fmt.Errorf("could not decode authority key: %w", err)
	}
	if resp.PublicKey == nil {
		return nil, fmt.Errorf("%w: authority returned no key", elgamal.ErrCrypto)
	}
	return resp.PublicKey, nil
}

// Decrypt implements authority.Authority.
func (ra *RemoteAuthority) Decrypt(ctx context.Context, votingID uuid.UUID, token auth.Token, cts []*elgamal.Ciphertext) ([]*big.Int, error) {
	req := &api.AuthorityDecryptRequest{
		Voting:      votingID,
		Token:       token,
		Ciphertexts: cts,
	}
	data, status, err := ra.c.RequestWithContext(ctx, HTTPPOST, req, nil, api.AuthorityDecryptEndpoint)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%s: %d (%s)", errCodeNot200, status, data)
	}
	resp := &api.AuthorityDecryption{}
	if err := json.Unmarshal(data, resp); err != nil {
		return nil, fmt.Errorf("could not decode decryption: %w", err)
	}
	return resp.Points, nil
}
