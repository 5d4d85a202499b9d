// Package config holds the settings of the decide daemon. Values are taken
// from command line flags, which default to the DECIDE_* environment variables
// (optionally loaded from a .env file), which in turn default to the values of
// Default.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"
	"github.com/vocdoni/vocdoni-decide/log"
	"github.com/vocdoni/vocdoni-decide/mixnet"
	"github.com/vocdoni/vocdoni-decide/types"
	"github.com/vocdoni/vocdoni-decide/voting"
	"go.vocdoni.io/dvote/db"
)

// EnvPrefix is prepended to the upper case flag name to build the name of
// the environment variable of each setting.
const EnvPrefix = "DECIDE_"

// Authority modes.
const (
	AuthorityLocal     = "local"
	AuthorityRemote    = "remote"
	AuthorityThreshold = "threshold"
)

// Config is the configuration of the daemon.
type Config struct {
	Host      string
	Port      int
	DataDir   string
	DBType    string
	LogLevel  string
	LogOutput string
	LogErrors string

	// Credentials are "credential:identity[:admin]" entries.
	Credentials []string

	BallotPolicy  types.BallotPolicy
	KeyBits       int
	MixRounds     int
	KeyGenTimeout time.Duration
	TallyTimeout  time.Duration

	AuthorityMode string
	// BaseURL is the public URL of this node, reported as the URL of the
	// authorities it runs.
	BaseURL string
	// Trustees and Threshold configure the threshold authority.
	Trustees  int
	Threshold int
	// RemoteAuthorityURL and RemoteAuthorityToken configure the remote
	// authority.
	RemoteAuthorityURL   string
	RemoteAuthorityToken string
	// TokenSigningKey is the hex secp256k1 key used to sign decryption
	// tokens. A random one is used if empty.
	TokenSigningKey string
	// ServeAuthority enables the authority endpoints, accepting decryption
	// tokens signed by TrustedIssuer.
	ServeAuthority bool
	TrustedIssuer  string
}

// Default returns the default configuration.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		Host:          "0.0.0.0",
		Port:          9090,
		DataDir:       filepath.Join(home, ".decide"),
		DBType:        db.TypePebble,
		LogLevel:      "info",
		LogOutput:     "stdout",
		BallotPolicy:  types.BallotPolicyLast,
		KeyBits:       types.DefaultKeyBits,
		MixRounds:     mixnet.DefaultRounds,
		KeyGenTimeout: voting.DefaultKeyGenTimeout,
		TallyTimeout:  voting.DefaultTallyTimeout,
		AuthorityMode: AuthorityLocal,
		Trustees:      3,
		Threshold:     2,
	}
}

// Load reads the optional .env file of the working directory and parses
// args (without the program name) on top of the environment.
func Load(args []string) (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("could not load .env file: %w", err)
		}
	}
	conf := Default()
	fs := flag.NewFlagSet("decided", flag.ContinueOnError)
	if err := conf.bindFlags(fs); err != nil {
		return nil, err
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	conf.BallotPolicy = types.BallotPolicy(strings.ToLower(string(conf.BallotPolicy)))
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// bindFlags registers a flag per setting, defaulting to the environment.
func (c *Config) bindFlags(fs *flag.FlagSet) error {
	env := envReader{}
	fs.StringVar(&c.Host, "host", env.str("host", c.Host), "API host to listen on")
	fs.IntVar(&c.Port, "port", env.int("port", c.Port), "API port to listen on")
	fs.StringVar(&c.DataDir, "datadir", env.str("datadir", c.DataDir), "data directory")
	fs.StringVar(&c.DBType, "dbtype", env.str("dbtype", c.DBType), "database backend (pebble or leveldb)")
	fs.StringVar(&c.LogLevel, "loglevel", env.str("loglevel", c.LogLevel), "log level (debug, info, warn, error)")
	fs.StringVar(&c.LogOutput, "logoutput", env.str("logoutput", c.LogOutput), "log output (stdout, stderr or a file path)")
	fs.StringVar(&c.LogErrors, "logerrors", env.str("logerrors", c.LogErrors), "file where warnings and errors are also written")
	fs.StringSliceVar(&c.Credentials, "credentials", env.list("credentials", c.Credentials),
		"API credentials as credential:identity[:admin]")
	policy := env.str("ballotpolicy", string(c.BallotPolicy))
	fs.StringVar((*string)(&c.BallotPolicy), "ballotpolicy", policy, "default ballot policy (last, first or all)")
	fs.IntVar(&c.KeyBits, "keybits", env.int("keybits", c.KeyBits), "bit length of the ElGamal modulus")
	fs.IntVar(&c.MixRounds, "mixrounds", env.int("mixrounds", c.MixRounds), "re-encryption mixnet rounds")
	fs.DurationVar(&c.KeyGenTimeout, "keygentimeout", env.duration("keygentimeout", c.KeyGenTimeout), "key generation timeout")
	fs.DurationVar(&c.TallyTimeout, "tallytimeout", env.duration("tallytimeout", c.TallyTimeout), "tally timeout")
	fs.StringVar(&c.AuthorityMode, "authority", env.str("authority", c.AuthorityMode),
		"decryption authority mode (local, remote or threshold)")
	fs.StringVar(&c.BaseURL, "baseurl", env.str("baseurl", c.BaseURL), "public URL of this node")
	fs.IntVar(&c.Trustees, "trustees", env.int("trustees", c.Trustees), "number of trustees of the threshold authority")
	fs.IntVar(&c.Threshold, "threshold", env.int("threshold", c.Threshold), "trustees needed to decrypt")
	fs.StringVar(&c.RemoteAuthorityURL, "remoteauthority", env.str("remoteauthority", c.RemoteAuthorityURL),
		"URL of the remote authority node")
	fs.StringVar(&c.RemoteAuthorityToken, "remoteauthoritytoken", env.str("remoteauthoritytoken", c.RemoteAuthorityToken),
		"API credential for the remote authority node")
	fs.StringVar(&c.TokenSigningKey, "tokenkey", env.str("tokenkey", c.TokenSigningKey),
		"hex secp256k1 key used to sign decryption tokens")
	fs.BoolVar(&c.ServeAuthority, "serveauthority", env.bool("serveauthority", c.ServeAuthority),
		"serve the authority endpoints to other nodes")
	fs.StringVar(&c.TrustedIssuer, "trustedissuer", env.str("trustedissuer", c.TrustedIssuer),
		"address of the token issuer accepted by the authority endpoints")
	return env.err
}

// Validate checks the consistency of the configuration.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case log.LogLevelDebug, log.LogLevelInfo, log.LogLevelWarn, log.LogLevelError:
	default:
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	switch c.DBType {
	case db.TypePebble, db.TypeLevelDB:
	default:
		return fmt.Errorf("unsupported database type %q", c.DBType)
	}
	if !c.BallotPolicy.Valid() {
		return fmt.Errorf("invalid ballot policy %q", c.BallotPolicy)
	}
	if c.KeyBits < 64 {
		return fmt.Errorf("key size must be at least 64 bits, got %d", c.KeyBits)
	}
	switch c.AuthorityMode {
	case AuthorityLocal:
	case AuthorityRemote:
		if c.RemoteAuthorityURL == "" {
			return fmt.Errorf("remote authority mode requires the remote authority URL")
		}
	case AuthorityThreshold:
		if c.Threshold < 1 || c.Threshold > c.Trustees {
			return fmt.Errorf("invalid threshold %d of %d trustees", c.Threshold, c.Trustees)
		}
	default:
		return fmt.Errorf("unknown authority mode %q", c.AuthorityMode)
	}
	if c.ServeAuthority {
		if !common.IsHexAddress(c.TrustedIssuer) {
			return fmt.Errorf("serving the authority requires a valid trusted issuer address, got %q", c.TrustedIssuer)
		}
	}
	return nil
}

// envReader reads DECIDE_* variables, keeping the first parse error.
type envReader struct {
	err error
}

func (e *envReader) lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + strings.ToUpper(name))
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envReader) fail(name, v string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid value %q for %s%s: %w", v, EnvPrefix, strings.ToUpper(name), err)
	}
}

func (e *envReader) str(name, def string) string {
	if v, ok := e.lookup(name); ok {
		return v
	}
	return def
}

func (e *envReader) int(name string, def int) int {
	v, ok := e.lookup(name)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(name, v, err)
		return def
	}
	return n
}

func (e *envReader) bool(name string, def bool) bool {
	v, ok := e.lookup(name)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(name, v, err)
		return def
	}
	return b
}

func (e *envReader) duration(name string, def time.Duration) time.Duration {
	v, ok := e.lookup(name)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(name, v, err)
		return def
	}
	return d
}

func (e *envReader) list(name string, def []string) []string {
	v, ok := e.lookup(name)
	if !ok {
		return def
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
