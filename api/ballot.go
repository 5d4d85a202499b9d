package api

import (
	"encoding/json"
	"net/http"

	"github.com/vocdoni/vocdoni-decide/log"
)

// storeBallot stores the encrypted vote of the caller
// POST /store
func (a *API) storeBallot(w http.ResponseWriter, r *http.Request) {
	caller := identity(r)
	if caller == nil {
		ErrUnauthenticated.Write(w)
		return
	}
	req := &Ballot{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		ErrMalformedBody.Withf("could not decode request body: %v", err).Write(w)
		return
	}
	if req.Vote == nil {
		ErrMalformedBody.With("missing vote").Write(w)
		return
	}
	voterID := caller.ID
	if req.Voter != "" && req.Voter != caller.ID {
		if !caller.Admin {
			ErrPermissionDenied.With("cannot vote on behalf of another voter").Write(w)
			return
		}
		voterID = req.Voter
	}
	ballot, err := a.manager.SubmitBallot(req.Voting, voterID, req.Vote)
	if err != nil {
		toAPIError(err).Write(w)
		return
	}
	log.Debugw("ballot received", "voting", req.Voting.String(), "receipt", ballot.Receipt.String())
	httpWriteJSON(w, &BallotReceipt{
		Seq:       ballot.Seq,
		Timestamp: ballot.Timestamp,
		Receipt:   ballot.Receipt,
	})
}
