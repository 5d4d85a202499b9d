// Command decided runs the voting backend: the HTTP API, the encrypted
// ballot store and the decryption authority.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/vocdoni/vocdoni-decide/auth"
	"github.com/vocdoni/vocdoni-decide/config"
	"github.com/vocdoni/vocdoni-decide/log"
	"github.com/vocdoni/vocdoni-decide/mixnet"
	"github.com/vocdoni/vocdoni-decide/service"
	"github.com/vocdoni/vocdoni-decide/storage"
	"github.com/vocdoni/vocdoni-decide/voting"
	"go.vocdoni.io/dvote/db/metadb"
)

func main() {
	conf, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(2)
	}
	log.Init(conf.LogLevel, conf.LogOutput, nil)
	if conf.LogErrors != "" {
		if err := log.SetFileErrorLog(conf.LogErrors); err != nil {
			log.Fatal(err)
		}
	}

	if err := os.MkdirAll(conf.DataDir, 0o750); err != nil {
		log.Fatalf("cannot create data directory: %v", err)
	}
	database, err := metadb.New(conf.DBType, filepath.Join(conf.DataDir, "db"))
	if err != nil {
		log.Fatalf("cannot open database: %v", err)
	}
	stg := storage.New(database)
	defer stg.Close()

	strategy, err := service.NewDecryptionStrategy(conf, stg)
	if err != nil {
		log.Fatalf("cannot set up the decryption authority: %v", err)
	}
	authenticator, err := auth.NewStaticAuthenticator(conf.Credentials)
	if err != nil {
		log.Fatalf("invalid credentials: %v", err)
	}
	if len(conf.Credentials) == 0 {
		log.Warnw("no API credentials configured, only public endpoints are usable")
	}

	manager := voting.NewManager(stg, strategy, mixnet.NewReEncryptionMixer(conf.MixRounds), voting.Config{
		KeyGenTimeout: conf.KeyGenTimeout,
		TallyTimeout:  conf.TallyTimeout,
		BallotPolicy:  conf.BallotPolicy,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	apiService := service.NewAPI(manager, authenticator, service.NewServedAuthority(conf, stg), conf.Host, conf.Port)
	if err := apiService.Start(ctx); err != nil {
		log.Fatal(err)
	}
	log.Infow("decide node started",
		"authority", conf.AuthorityMode,
		"ballotPolicy", conf.BallotPolicy,
		"keyBits", conf.KeyBits,
		"datadir", conf.DataDir)

	<-ctx.Done()
	log.Infow("shutting down")
	apiService.Stop()
}
