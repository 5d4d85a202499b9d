package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/vocdoni/vocdoni-decide/log"
	"github.com/vocdoni/vocdoni-decide/types"
)

// registerVoters adds voters to the census of a voting
// POST /votings/{votingId}/census
func (a *API) registerVoters(w http.ResponseWriter, r *http.Request) {
	id, ok := votingIDParam(w, r)
	if !ok {
		return
	}
	req := &CensusVoters{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		ErrMalformedBody.Withf("could not decode request body: %v", err).Write(w)
		return
	}
	added, err := a.manager.RegisterVoters(identity(r), id, req.Voters)
	if err != nil {
		toAPIError(err).Write(w)
		return
	}
	info := &CensusInfo{Added: added}
	if root, err := a.manager.CensusRoot(id); err == nil {
		info.Root = root
	} else {
		log.Warnw("could not read census root", "voting", id.String(), "error", err.Error())
	}
	httpWriteJSON(w, info)
}

// voterParam returns the voter of the URL. Only the voter and the
// administrators can query a voter.
func voterParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	voterID := chi.URLParam(r, VoterURLParam)
	caller := identity(r)
	switch {
	case caller == nil:
		ErrUnauthenticated.Write(w)
		return "", false
	case !caller.Admin && caller.ID != voterID:
		ErrPermissionDenied.Write(w)
		return "", false
	}
	return voterID, true
}

// voterEligibility reports whether a voter is in the census of a voting
// GET /votings/{votingId}/census/{voterId}
func (a *API) voterEligibility(w http.ResponseWriter, r *http.Request) {
	id, ok := votingIDParam(w, r)
	if !ok {
		return
	}
	voterID, ok := voterParam(w, r)
	if !ok {
		return
	}
	eligible, err := a.manager.IsEligible(id, voterID)
	if err != nil {
		toAPIError(err).Write(w)
		return
	}
	httpWriteJSON(w, &Eligibility{Voter: voterID, Eligible: eligible})
}

// voterProof returns the census Merkle proof of a voter
// GET /votings/{votingId}/census/{voterId}/proof
func (a *API) voterProof(w http.ResponseWriter, r *http.Request) {
	id, ok := votingIDParam(w, r)
	if !ok {
		return
	}
	voterID, ok := voterParam(w, r)
	if !ok {
		return
	}
	proof, err := a.manager.CensusProof(id, voterID)
	if err != nil {
		toAPIError(err).Write(w)
		return
	}
	httpWriteJSON(w, &CensusProof{
		Root:     types.HexBytes(proof.Root),
		Key:      types.HexBytes(proof.Key),
		Value:    types.HexBytes(proof.Value),
		Siblings: types.HexBytes(proof.Siblings),
	})
}
