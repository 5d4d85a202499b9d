package service

import (
	"context"
	"encoding/hex"
	"math/big"
	"net/http/httptest"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/vocdoni/vocdoni-decide/api"
	"github.com/vocdoni/vocdoni-decide/auth"
	"github.com/vocdoni/vocdoni-decide/config"
	"github.com/vocdoni/vocdoni-decide/crypto/elgamal"
	"github.com/vocdoni/vocdoni-decide/mixnet"
	"github.com/vocdoni/vocdoni-decide/storage"
	"github.com/vocdoni/vocdoni-decide/voting"
	"go.vocdoni.io/dvote/db/metadb"
)

const testKeyBits = 64

func testConfig() *config.Config {
	conf := config.Default()
	conf.KeyBits = testKeyBits
	return conf
}

func TestAPIService(t *testing.T) {
	c := qt.New(t)

	stg := storage.New(metadb.NewTest(t))
	defer stg.Close()
	strategy, err := NewDecryptionStrategy(testConfig(), stg)
	c.Assert(err, qt.IsNil)
	authenticator, err := auth.NewStaticAuthenticator([]string{"secret:admin:admin"})
	c.Assert(err, qt.IsNil)
	manager := voting.NewManager(stg, strategy, mixnet.NewReEncryptionMixer(1), voting.Config{})

	// Port 0 lets the OS choose an available port
	apiService := NewAPI(manager, authenticator, nil, "127.0.0.1", 0)

	ctx := context.Background()
	err = apiService.Start(ctx)
	c.Assert(err, qt.IsNil)
	defer apiService.Stop()

	// Give the service time to start
	time.Sleep(200 * time.Millisecond)

	// Test stopping and restarting
	apiService.Stop()
	err = apiService.Start(ctx)
	c.Assert(err, qt.IsNil)

	// Test starting an already running service
	err = apiService.Start(ctx)
	c.Assert(err, qt.ErrorMatches, "service already running")
}

func TestNewDecryptionStrategy(t *testing.T) {
	c := qt.New(t)
	stg := storage.New(metadb.NewTest(t))

	conf := testConfig()
	conf.BaseURL = "http://decide.local"
	local, err := NewDecryptionStrategy(conf, stg)
	c.Assert(err, qt.IsNil)
	c.Assert(local.Authorities(), qt.HasLen, 1)
	c.Assert(local.Authorities()[0].URL, qt.Equals, "http://decide.local")
	c.Assert(local.Authorities()[0].Me, qt.IsTrue)

	conf.AuthorityMode = config.AuthorityThreshold
	conf.Trustees, conf.Threshold = 4, 2
	threshold, err := NewDecryptionStrategy(conf, stg)
	c.Assert(err, qt.IsNil)
	c.Assert(threshold.Authorities(), qt.HasLen, 4)

	conf.Trustees, conf.Threshold = 2, 3
	_, err = NewDecryptionStrategy(conf, stg)
	c.Assert(err, qt.Not(qt.IsNil))

	conf.AuthorityMode = config.AuthorityRemote
	conf.RemoteAuthorityURL = "http://127.0.0.1:1"
	_, err = NewDecryptionStrategy(conf, stg)
	c.Assert(err, qt.ErrorMatches, "could not reach remote authority.*")

	conf.AuthorityMode = "oracle"
	_, err = NewDecryptionStrategy(conf, stg)
	c.Assert(err, qt.ErrorMatches, `unknown authority mode "oracle"`)
}

func TestRemoteDecryptionStrategy(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()

	signingKey, err := crypto.GenerateKey()
	c.Assert(err, qt.IsNil)
	issuer := crypto.PubkeyToAddress(signingKey.PublicKey)

	// authority node, trusting the tallying node tokens
	authorityStg := storage.New(metadb.NewTest(t))
	authorityConf := testConfig()
	authorityConf.ServeAuthority = true
	authorityConf.TrustedIssuer = issuer.Hex()
	served := NewServedAuthority(authorityConf, authorityStg)
	c.Assert(served, qt.Not(qt.IsNil))
	c.Assert(NewServedAuthority(testConfig(), authorityStg), qt.IsNil)

	authorityStrategy, err := NewDecryptionStrategy(authorityConf, authorityStg)
	c.Assert(err, qt.IsNil)
	authenticator, err := auth.NewStaticAuthenticator([]string{"tallier-secret:tallier:admin"})
	c.Assert(err, qt.IsNil)
	handler, err := api.NewHandler(&api.APIConfig{
		Manager:       voting.NewManager(authorityStg, authorityStrategy, mixnet.NewReEncryptionMixer(1), voting.Config{}),
		Authenticator: authenticator,
		Authority:     served,
	})
	c.Assert(err, qt.IsNil)
	srv := httptest.NewServer(handler.Router())
	defer srv.Close()

	// tallying node
	conf := testConfig()
	conf.AuthorityMode = config.AuthorityRemote
	conf.RemoteAuthorityURL = srv.URL
	conf.RemoteAuthorityToken = "tallier-secret"
	conf.TokenSigningKey = hex.EncodeToString(crypto.FromECDSA(signingKey))
	strategy, err := NewDecryptionStrategy(conf, storage.New(metadb.NewTest(t)))
	c.Assert(err, qt.IsNil)
	c.Assert(strategy.Authorities()[0].URL, qt.Equals, srv.URL)
	c.Assert(strategy.Authorities()[0].Me, qt.IsFalse)

	votingID := uuid.New()
	pk, err := strategy.GenerateKey(ctx, votingID)
	c.Assert(err, qt.IsNil)
	c.Assert(pk.Validate(), qt.IsNil)

	var cts []*elgamal.Ciphertext
	for _, m := range []int64{1, 2, 3} {
		ct, _, err := elgamal.Encrypt(pk, big.NewInt(m))
		c.Assert(err, qt.IsNil)
		cts = append(cts, ct)
	}
	points, err := strategy.Decrypt(ctx, votingID, cts)
	c.Assert(err, qt.IsNil)
	c.Assert(points, qt.HasLen, 3)
	for i, m := range []uint64{1, 2, 3} {
		got, err := elgamal.DiscreteLog(pk, points[i], 10)
		c.Assert(err, qt.IsNil)
		c.Assert(got.Uint64(), qt.Equals, m)
	}
}
