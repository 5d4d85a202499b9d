package api

const (
	// PingEndpoint is the endpoint for checking the API status
	PingEndpoint = "/ping"

	// VotingsEndpoint is the endpoint for listing and creating votings
	VotingsEndpoint = "/votings"
	// VotingEndpoint is the endpoint to get, update (start, stop, tally) or
	// delete a voting
	VotingURLParam = "votingId"
	VotingEndpoint = "/votings/{" + VotingURLParam + "}"
	// VotingCensusEndpoint is the endpoint for registering voters
	VotingCensusEndpoint = VotingEndpoint + "/census"
	// VoterEndpoint is the endpoint to check the eligibility of a voter and
	// VoterProofEndpoint returns its census Merkle proof
	VoterURLParam      = "voterId"
	VoterEndpoint      = VotingCensusEndpoint + "/{" + VoterURLParam + "}"
	VoterProofEndpoint = VoterEndpoint + "/proof"

	// StoreEndpoint is the endpoint for submitting a ballot
	StoreEndpoint = "/store"

	// CandidatesEndpoint exports the candidates of every voting as CSV
	CandidatesEndpoint = "/candidates"

	// AuthorityKeysEndpoint and AuthorityDecryptEndpoint are served by nodes
	// acting as a remote authority of other nodes
	AuthorityKeysEndpoint    = "/authority/keys"
	AuthorityDecryptEndpoint = "/authority/decrypt"
)
