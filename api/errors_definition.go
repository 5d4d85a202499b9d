//nolint:lll
package api

import (
	"fmt"
	"net/http"
)

// The custom Error type satisfies the error interface.
// Error() returns a human-readable description of the error.
//
// Error codes in the 40001-49999 range are the user's fault,
// and they return HTTP Status 400, 401, 403, 404 or 409, whatever is most appropriate.
//
// Error codes 50001-59999 are the server's fault
// and they return HTTP Status 500 or 503, or something else if appropriate.
//
// NEVER change any of the current error codes, only append new errors after the current last 4XXX or 5XXX
// If you notice there's a gap, DON'T fill in the gap, that code was used in the past for some error
// (not anymore) and shouldn't be reused.
// There's no correlation between Code and HTTP Status.
var (
	ErrResourceNotFound     = Error{Code: 40001, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("resource not found")}
	ErrUnauthenticated      = Error{Code: 40002, HTTPstatus: http.StatusUnauthorized, Err: fmt.Errorf("authentication required")}
	ErrPermissionDenied     = Error{Code: 40003, HTTPstatus: http.StatusForbidden, Err: fmt.Errorf("permission denied")}
	ErrMalformedBody        = Error{Code: 40004, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed JSON body")}
	ErrMalformedVotingID    = Error{Code: 40005, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed voting ID")}
	ErrVotingNotFound       = Error{Code: 40006, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("voting not found")}
	ErrInvalidField         = Error{Code: 40007, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("invalid request")}
	ErrVotingNotOpen        = Error{Code: 40008, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("voting is not open")}
	ErrVoterNotEligible     = Error{Code: 40009, HTTPstatus: http.StatusUnauthorized, Err: fmt.Errorf("voter is not eligible")}
	ErrAlreadyVoted         = Error{Code: 40010, HTTPstatus: http.StatusConflict, Err: fmt.Errorf("voter already cast a ballot")}
	ErrInvalidCiphertext    = Error{Code: 40011, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("invalid ciphertext")}
	ErrVotingHasBallots     = Error{Code: 40012, HTTPstatus: http.StatusConflict, Err: fmt.Errorf("voting has ballots")}
	ErrInvalidToken         = Error{Code: 40013, HTTPstatus: http.StatusUnauthorized, Err: fmt.Errorf("invalid decryption token")}
	ErrInvalidState         = Error{Code: 40014, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("invalid voting state")}
	ErrAuthorityUnavailable = Error{Code: 40015, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("this node is not an authority")}

	ErrMarshalingServerJSONFailed = Error{Code: 50001, HTTPstatus: http.StatusInternalServerError, Err: fmt.Errorf("marshaling (server-side) JSON failed")}
	ErrGenericInternalServerError = Error{Code: 50002, HTTPstatus: http.StatusInternalServerError, Err: fmt.Errorf("internal server error")}
	ErrTallyFailed                = Error{Code: 50003, HTTPstatus: http.StatusInternalServerError, Err: fmt.Errorf("tally failed")}
)
