package service

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vocdoni/vocdoni-decide/api/client"
	"github.com/vocdoni/vocdoni-decide/auth"
	"github.com/vocdoni/vocdoni-decide/authority"
	"github.com/vocdoni/vocdoni-decide/config"
	"github.com/vocdoni/vocdoni-decide/log"
	"github.com/vocdoni/vocdoni-decide/storage"
	"github.com/vocdoni/vocdoni-decide/types"
)

// NewDecryptionStrategy builds the decryption strategy selected by the
// authority mode of the configuration.
func NewDecryptionStrategy(conf *config.Config, stg *storage.Storage) (authority.DecryptionStrategy, error) {
	switch conf.AuthorityMode {
	case config.AuthorityLocal, config.AuthorityRemote:
		issuer, err := auth.NewTokenIssuer(conf.TokenSigningKey, auth.DefaultTokenTTL)
		if err != nil {
			return nil, err
		}
		if conf.AuthorityMode == config.AuthorityLocal {
			verifier := auth.NewTokenVerifier(issuer.Address())
			local := authority.NewLocalAuthority(stg, verifier, conf.KeyBits)
			info := types.Authority{Name: "local", URL: conf.BaseURL, Me: true}
			return authority.NewSingleAuthority(local, info, issuer), nil
		}
		c, err := client.New(conf.RemoteAuthorityURL)
		if err != nil {
			return nil, fmt.Errorf("could not reach remote authority %s: %w", conf.RemoteAuthorityURL, err)
		}
		c.SetAuthToken(conf.RemoteAuthorityToken)
		// remote calls are bound by the key generation and tally contexts
		c.SetTimeout(max(conf.KeyGenTimeout, conf.TallyTimeout))
		log.Infow("using remote authority", "url", conf.RemoteAuthorityURL, "issuer", issuer.Address().Hex())
		info := types.Authority{Name: "remote", URL: conf.RemoteAuthorityURL}
		return authority.NewSingleAuthority(client.NewRemoteAuthority(c), info, issuer), nil
	case config.AuthorityThreshold:
		return authority.NewThresholdAuthority(stg, conf.Trustees, conf.Threshold, conf.KeyBits, conf.BaseURL)
	default:
		return nil, fmt.Errorf("unknown authority mode %q", conf.AuthorityMode)
	}
}

// NewServedAuthority returns the authority exposed to other nodes, or nil if
// the node does not serve the authority endpoints.
func NewServedAuthority(conf *config.Config, stg *storage.Storage) authority.Authority {
	if !conf.ServeAuthority {
		return nil
	}
	issuer := common.HexToAddress(conf.TrustedIssuer)
	log.Infow("serving authority endpoints", "trustedIssuer", issuer.Hex())
	return authority.NewLocalAuthority(stg, auth.NewTokenVerifier(issuer), conf.KeyBits)
}
