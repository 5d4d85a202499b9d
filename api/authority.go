package api

import (
	"encoding/json"
	"net/http"
)

// authorityKey generates, or returns, the key of a voting held by this node
// POST /authority/keys
func (a *API) authorityKey(w http.ResponseWriter, r *http.Request) {
	if !a.requireAdmin(w, r) {
		return
	}
	req := &AuthorityKeyRequest{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		ErrMalformedBody.Withf("could not decode request body: %v", err).Write(w)
		return
	}
	publicKey, err := a.authority.GenerateKey(r.Context(), req.Voting)
	if err != nil {
		toAPIError(err).Write(w)
		return
	}
	httpWriteJSON(w, &AuthorityKey{PublicKey: publicKey})
}

// authorityDecrypt decrypts ciphertexts of a voting with the key held by this
// node. The request must carry a decryption token of the tallying node.
// POST /authority/decrypt
func (a *API) authorityDecrypt(w http.ResponseWriter, r *http.Request) {
	if !a.requireAdmin(w, r) {
		return
	}
	req := &AuthorityDecryptRequest{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		ErrMalformedBody.Withf("could not decode request body: %v", err).Write(w)
		return
	}
	points, err := a.authority.Decrypt(r.Context(), req.Voting, req.Token, req.Ciphertexts)
	if err != nil {
		toAPIError(err).Write(w)
		return
	}
	httpWriteJSON(w, &AuthorityDecryption{Points: points})
}

// requireAdmin writes the permission error and returns false if the caller
// is not an administrator.
func (a *API) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	caller := identity(r)
	switch {
	case caller == nil:
		ErrUnauthenticated.Write(w)
		return false
	case !caller.Admin:
		ErrPermissionDenied.Write(w)
		return false
	}
	return true
}
