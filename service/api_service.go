package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vocdoni/vocdoni-decide/api"
	"github.com/vocdoni/vocdoni-decide/auth"
	"github.com/vocdoni/vocdoni-decide/authority"
	"github.com/vocdoni/vocdoni-decide/log"
	"github.com/vocdoni/vocdoni-decide/voting"
)

// shutdownTimeout bounds the time given to in-flight requests on Stop.
const shutdownTimeout = 10 * time.Second

// APIService represents a service that manages the HTTP API server.
type APIService struct {
	manager       *voting.Manager
	authenticator auth.Authenticator
	authority     authority.Authority
	api           *api.API
	mu            sync.Mutex
	cancel        context.CancelFunc
	host          string
	port          int
}

// NewAPI creates a new APIService instance. The authority is optional, if
// set the service also serves the authority endpoints.
func NewAPI(manager *voting.Manager, authenticator auth.Authenticator, authority authority.Authority,
	host string, port int,
) *APIService {
	return &APIService{
		manager:       manager,
		authenticator: authenticator,
		authority:     authority,
		host:          host,
		port:          port,
	}
}

// Start begins the API server. It returns an error if the service
// is already running or if it fails to start.
func (as *APIService) Start(ctx context.Context) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	if as.cancel != nil {
		return fmt.Errorf("service already running")
	}

	_, as.cancel = context.WithCancel(ctx)

	var err error
	as.api, err = api.New(&api.APIConfig{
		Host:          as.host,
		Port:          as.port,
		Manager:       as.manager,
		Authenticator: as.authenticator,
		Authority:     as.authority,
	})
	if err != nil {
		as.cancel()
		as.cancel = nil
		return fmt.Errorf("failed to start API server: %w", err)
	}

	return nil
}

// Stop halts the API server.
func (as *APIService) Stop() {
	as.mu.Lock()
	defer as.mu.Unlock()

	if as.cancel == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := as.api.Shutdown(ctx); err != nil {
		log.Warnw("API server shutdown", "error", err)
	}
	as.cancel()
	as.cancel = nil
	as.api = nil
}

// HostPort returns the host and port of the API server.
func (as *APIService) HostPort() (string, int) {
	return as.host, as.port
}
