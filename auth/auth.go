// Package auth provides the identity of the callers of the voting backend and
// the single-use tokens that authorize a decryption request to an authority.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownCredentials is returned when a credential does not match any identity.
var ErrUnknownCredentials = errors.New("unknown credentials")

// Identity is an authenticated caller.
type Identity struct {
	ID    string `json:"id"`
	Admin bool   `json:"admin"`
}

// Authenticator resolves a bearer credential into an identity.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (*Identity, error)
}

// StaticAuthenticator is an Authenticator backed by a fixed set of
// credentials, loaded from the configuration.
type StaticAuthenticator struct {
	entries []staticEntry
}

type staticEntry struct {
	credential string
	identity   Identity
}

// NewStaticAuthenticator parses entries with the format
// "credential:identity[:admin]".
func NewStaticAuthenticator(entries []string) (*StaticAuthenticator, error) {
	a := &StaticAuthenticator{}
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		parts := strings.Split(e, ":")
		if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid credential entry %q, expected credential:identity[:admin]", e)
		}
		if _, ok := seen[parts[0]]; ok {
			return nil, fmt.Errorf("duplicated credential for identity %q", parts[1])
		}
		seen[parts[0]] = struct{}{}
		entry := staticEntry{credential: parts[0], identity: Identity{ID: parts[1]}}
		if len(parts) == 3 {
			if parts[2] != "admin" {
				return nil, fmt.Errorf("invalid role %q for identity %q", parts[2], parts[1])
			}
			entry.identity.Admin = true
		}
		a.entries = append(a.entries, entry)
	}
	return a, nil
}

// Authenticate returns the identity of the credential.
func (a *StaticAuthenticator) Authenticate(_ context.Context, credential string) (*Identity, error) {
	if credential == "" {
		return nil, ErrUnknownCredentials
	}
	for _, e := range a.entries {
		if subtle.ConstantTimeCompare([]byte(e.credential), []byte(credential)) == 1 {
			id := e.identity
			return &id, nil
		}
	}
	return nil, ErrUnknownCredentials
}
