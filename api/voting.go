package api

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vocdoni/vocdoni-decide/log"
	"github.com/vocdoni/vocdoni-decide/types"
	"github.com/vocdoni/vocdoni-decide/voting"
)

// votings lists the votings. With version=v2 only a summary of each one is
// returned.
// GET /votings
func (a *API) votings(w http.ResponseWriter, r *http.Request) {
	votings, err := a.manager.Votings()
	if err != nil {
		toAPIError(err).Write(w)
		return
	}
	if r.URL.Query().Get("version") == "v2" {
		summaries := make([]VotingSummary, 0, len(votings))
		for _, v := range votings {
			summaries = append(summaries, VotingSummary{
				ID:    v.ID,
				Name:  v.Name,
				Desc:  v.Desc,
				Phase: v.Phase().String(),
			})
		}
		httpWriteJSON(w, summaries)
		return
	}
	if votings == nil {
		votings = []*types.Voting{}
	}
	httpWriteJSON(w, votings)
}

// newVoting creates a new voting
// POST /votings
func (a *API) newVoting(w http.ResponseWriter, r *http.Request) {
	req := &NewVoting{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		ErrMalformedBody.Withf("could not decode request body: %v", err).Write(w)
		return
	}
	create := &voting.CreateRequest{BallotPolicy: req.BallotPolicy}
	if req.Name != nil {
		create.Name = *req.Name
	}
	if req.Desc != nil {
		create.Desc = *req.Desc
	}
	if req.Question != nil {
		create.Question = *req.Question
	}
	for _, o := range req.Options {
		create.Options = append(create.Options, types.QuestionOption{Option: o.Option, Gender: o.Gender})
	}
	v, err := a.manager.Create(identity(r), create)
	if err != nil {
		toAPIError(err).Write(w)
		return
	}
	httpWriteJSONStatus(w, http.StatusCreated, v)
}

// voting returns a voting
// GET /votings/{votingId}
func (a *API) voting(w http.ResponseWriter, r *http.Request) {
	id, ok := votingIDParam(w, r)
	if !ok {
		return
	}
	v, err := a.manager.Voting(id)
	if err != nil {
		toAPIError(err).Write(w)
		return
	}
	ballots, err := a.manager.BallotCount(id)
	if err != nil {
		toAPIError(err).Write(w)
		return
	}
	httpWriteJSON(w, &VotingInfo{Voting: v, Phase: v.Phase().String(), Ballots: ballots})
}

// votingAction applies a transition to a voting and returns the outcome
// message as a JSON string.
// PUT /votings/{votingId}
func (a *API) votingAction(w http.ResponseWriter, r *http.Request) {
	id, ok := votingIDParam(w, r)
	if !ok {
		return
	}
	req := &VotingAction{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		ErrMalformedBody.Withf("could not decode request body: %v", err).Write(w)
		return
	}
	if req.Action == "" {
		ErrMalformedBody.With("missing action").Write(w)
		return
	}
	ctx, cancel := a.operationContext(r)
	defer cancel()
	msg, err := a.manager.Apply(ctx, identity(r), id, req.Action)
	var stateErr *voting.StateError
	switch {
	case err == nil:
		httpWriteJSON(w, msg)
	case errors.As(err, &stateErr):
		httpWriteJSONStatus(w, http.StatusBadRequest, stateErr.Message)
	case errors.Is(err, voting.ErrUnknownAction):
		httpWriteJSONStatus(w, http.StatusBadRequest, voting.MsgActionNotFound)
	default:
		log.Warnw("voting action failed", "voting", id.String(), "action", req.Action, "error", err.Error())
		toAPIError(err).Write(w)
	}
}

// deleteVoting removes a voting without ballots
// DELETE /votings/{votingId}
func (a *API) deleteVoting(w http.ResponseWriter, r *http.Request) {
	id, ok := votingIDParam(w, r)
	if !ok {
		return
	}
	if err := a.manager.Delete(identity(r), id); err != nil {
		toAPIError(err).Write(w)
		return
	}
	httpWriteOK(w)
}

// candidates exports the candidates of every voting as a CSV file
// GET /candidates
func (a *API) candidates(w http.ResponseWriter, r *http.Request) {
	rows, err := a.manager.Candidates()
	if err != nil {
		toAPIError(err).Write(w)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="candidates.csv"`)
	w.WriteHeader(http.StatusOK)
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(rows); err != nil {
		log.Warnw("failed to write candidates", "error", err.Error())
	}
}
