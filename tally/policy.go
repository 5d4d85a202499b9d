package tally

import "github.com/vocdoni/vocdoni-decide/types"

// SelectBallots returns the ballots counted under the policy. The input must
// be in submission order and so is the output.
func SelectBallots(policy types.BallotPolicy, ballots []*types.Ballot) []*types.Ballot {
	switch policy.OrDefault() {
	case types.BallotPolicyAll:
		return ballots
	case types.BallotPolicyFirst:
		seen := make(map[string]struct{}, len(ballots))
		selected := make([]*types.Ballot, 0, len(ballots))
		for _, b := range ballots {
			if _, ok := seen[b.VoterID]; ok {
				continue
			}
			seen[b.VoterID] = struct{}{}
			selected = append(selected, b)
		}
		return selected
	default:
		last := make(map[string]int, len(ballots))
		for i, b := range ballots {
			last[b.VoterID] = i
		}
		selected := make([]*types.Ballot, 0, len(last))
		for i, b := range ballots {
			if last[b.VoterID] == i {
				selected = append(selected, b)
			}
		}
		return selected
	}
}
