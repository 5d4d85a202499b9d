// Package api exposes the voting backend over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/vocdoni/vocdoni-decide/auth"
	"github.com/vocdoni/vocdoni-decide/authority"
	"github.com/vocdoni/vocdoni-decide/log"
	"github.com/vocdoni/vocdoni-decide/voting"
)

// RequestTimeout bounds the handling of the requests that do not run
// voting transitions or authority operations. Those are bounded by the
// timeouts of the voting manager and of the calling node instead.
const RequestTimeout = 45 * time.Second

// APIConfig type represents the configuration for the API HTTP server.
type APIConfig struct {
	Host          string
	Port          int
	Manager       *voting.Manager
	Authenticator auth.Authenticator
	// Authority is optional. If set, the node serves the authority
	// endpoints for other nodes.
	Authority authority.Authority
}

// API type represents the API HTTP server with bearer token authentication.
type API struct {
	router        *chi.Mux
	server        *http.Server
	manager       *voting.Manager
	authenticator auth.Authenticator
	authority     authority.Authority

	// ctx is cancelled on Shutdown and aborts the running transitions.
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new API instance with the given configuration and starts
// the HTTP server.
func New(conf *APIConfig) (*API, error) {
	a, err := NewHandler(conf)
	if err != nil {
		return nil, err
	}
	a.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", conf.Host, conf.Port),
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Infow("starting API server", "host", conf.Host, "port", conf.Port)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("failed to start the API server: %v", err)
		}
	}()
	return a, nil
}

// NewHandler creates the API router without starting any server.
func NewHandler(conf *APIConfig) (*API, error) {
	if conf == nil {
		return nil, fmt.Errorf("missing API configuration")
	}
	if conf.Manager == nil {
		return nil, fmt.Errorf("missing voting manager")
	}
	if conf.Authenticator == nil {
		return nil, fmt.Errorf("missing authenticator")
	}
	a := &API{
		manager:       conf.Manager,
		authenticator: conf.Authenticator,
		authority:     conf.Authority,
	}
	a.ctx, a.cancel = context.WithCancel(context.Background())
	a.initRouter()
	return a, nil
}

// Router returns the chi router for testing purposes
func (a *API) Router() *chi.Mux {
	return a.router
}

// Shutdown aborts the running transitions and stops the HTTP server, if any,
// waiting for the in-flight requests.
func (a *API) Shutdown(ctx context.Context) error {
	a.cancel()
	if a.server == nil {
		return nil
	}
	return a.server.Shutdown(ctx)
}

// operationContext returns the context of a long running operation started
// by the request. It keeps the request values but not its deadline, and it is
// cancelled when the API shuts down.
func (a *API) operationContext(r *http.Request) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	stop := context.AfterFunc(a.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// registerHandlers registers all the API handlers.
func (a *API) registerHandlers() {
	a.router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(RequestTimeout))
		a.registerRequestHandlers(r)
	})

	// long running operations
	log.Infow("register handler", "endpoint", VotingEndpoint, "method", "PUT")
	a.router.Put(VotingEndpoint, a.votingAction)
	if a.authority != nil {
		log.Infow("register handler", "endpoint", AuthorityKeysEndpoint, "method", "POST")
		a.router.Post(AuthorityKeysEndpoint, a.authorityKey)
		log.Infow("register handler", "endpoint", AuthorityDecryptEndpoint, "method", "POST")
		a.router.Post(AuthorityDecryptEndpoint, a.authorityDecrypt)
	}
}

// registerRequestHandlers registers the handlers bound by RequestTimeout.
func (a *API) registerRequestHandlers(router chi.Router) {
	log.Infow("register handler", "endpoint", PingEndpoint, "method", "GET")
	router.Get(PingEndpoint, func(w http.ResponseWriter, r *http.Request) {
		httpWriteOK(w)
	})

	// votings
	log.Infow("register handler", "endpoint", VotingsEndpoint, "method", "GET")
	router.Get(VotingsEndpoint, a.votings)
	log.Infow("register handler", "endpoint", VotingsEndpoint, "method", "POST")
	router.Post(VotingsEndpoint, a.newVoting)
	log.Infow("register handler", "endpoint", VotingEndpoint, "method", "GET")
	router.Get(VotingEndpoint, a.voting)
	log.Infow("register handler", "endpoint", VotingEndpoint, "method", "DELETE")
	router.Delete(VotingEndpoint, a.deleteVoting)
	log.Infow("register handler", "endpoint", CandidatesEndpoint, "method", "GET")
	router.Get(CandidatesEndpoint, a.candidates)

	// census
	log.Infow("register handler", "endpoint", VotingCensusEndpoint, "method", "POST")
	router.Post(VotingCensusEndpoint, a.registerVoters)
	log.Infow("register handler", "endpoint", VoterEndpoint, "method", "GET")
	router.Get(VoterEndpoint, a.voterEligibility)
	log.Infow("register handler", "endpoint", VoterProofEndpoint, "method", "GET")
	router.Get(VoterProofEndpoint, a.voterProof)

	// ballots
	log.Infow("register handler", "endpoint", StoreEndpoint, "method", "POST")
	router.Post(StoreEndpoint, a.storeBallot)
}

// initRouter creates the router with all the routes and middleware.
func (a *API) initRouter() {
	// Create the router with a basic middleware stack
	a.router = chi.NewRouter()
	a.router.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}).Handler)
	a.router.Use(middleware.Logger)
	a.router.Use(middleware.Recoverer)
	a.router.Use(middleware.Throttle(100))
	a.router.Use(middleware.ThrottleBacklog(5000, 40000, 60*time.Second))
	a.router.Use(a.authenticate)

	// Register the API handlers
	a.registerHandlers()
}
