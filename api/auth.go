package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/vocdoni/vocdoni-decide/auth"
)

type identityKey struct{}

// authenticate resolves the bearer token of the request, if any, into an
// identity stored in the request context. Requests without token go through
// unauthenticated; requests with an unknown token are rejected.
func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			token, ok = strings.CutPrefix(header, "Token ")
		}
		if !ok || token == "" {
			ErrUnauthenticated.With("malformed authorization header").Write(w)
			return
		}
		identity, err := a.authenticator.Authenticate(r.Context(), token)
		if err != nil {
			ErrUnauthenticated.WithErr(err).Write(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, identity)))
	})
}

// identity returns the caller of the request, nil if unauthenticated.
func identity(r *http.Request) *auth.Identity {
	id, _ := r.Context().Value(identityKey{}).(*auth.Identity)
	return id
}
