// Package config resolves process configuration once at start. Services
// receive the values they need; nothing reads the environment afterwards.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"idledger/internal/fingerprint"
	id "idledger/pkg/domain"
)

const envPrefix = "IDLEDGER_"

const (
	LedgerMemory   = "memory"
	LedgerPostgres = "postgres"
	LedgerSQLite   = "sqlite"

	ProfileNone     = "none"
	ProfileMemory   = "memory"
	ProfileRedis    = "redis"
	ProfilePostgres = "postgres"
)

const devSigningKey = "dev-secret-key-change-in-production"

type Config struct {
	Server    Server
	Auth      Auth
	Ledger    Ledger
	Redis     Redis
	Profile   Profile
	Audit     Audit
	RateLimit RateLimit
	Log       Log

	// GenesisAdmin is installed as Admin on an empty ledger.
	GenesisAdmin id.Principal
	Fingerprint  fingerprint.Algorithm
}

type Server struct {
	Addr            string
	Environment     string
	ShutdownTimeout time.Duration
	// MetricsToken guards /metrics when set.
	MetricsToken string
}

type Auth struct {
	JWTSigningKey string
	JWTIssuer     string
	JWTAudience   string
	TokenTTL      time.Duration
}

type Ledger struct {
	Backend     string
	PostgresDSN string
	SQLitePath  string
	NetworkID   uint64
}

// Redis is optional. With a URL set, ledger reads go through a cache and
// the redis profile backend becomes available.
type Redis struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CacheTTL     time.Duration
}

type Profile struct {
	Backend     string
	PostgresDSN string
	CallTimeout time.Duration
}

// RateLimit caps API requests per caller. Requests <= 0 disables it.
type RateLimit struct {
	Requests int
	Window   time.Duration
}

type Audit struct {
	// PostgresDSN persists the audit trail; empty keeps it in memory.
	PostgresDSN  string
	KafkaBrokers []string
	KafkaTopic   string
	BufferSize   int
}

// Fabric configures chaincode-as-a-service. Without an address the
// chaincode is launched by the peer.
type Fabric struct {
	ChaincodeID      string
	ChaincodeAddress string
}

type Log struct {
	Format string
	Level  string
}

func (c Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// FromEnv reads IDLEDGER_* variables.
func FromEnv() (Config, error) {
	return Load(os.Getenv)
}

// Load builds a Config from getenv, applies defaults and validates it.
func Load(getenv func(string) string) (Config, error) {
	r := reader{getenv: getenv}
	cfg := Config{
		Server: Server{
			Addr:            r.str("ADDR", ":5001"),
			Environment:     r.str("ENV", "development"),
			ShutdownTimeout: r.duration("SHUTDOWN_TIMEOUT", 10*time.Second),
			MetricsToken:    r.str("METRICS_TOKEN", ""),
		},
		Auth: r.auth(),
		Ledger: Ledger{
			Backend:     strings.ToLower(r.str("LEDGER_BACKEND", LedgerMemory)),
			PostgresDSN: r.str("LEDGER_POSTGRES_DSN", ""),
			SQLitePath:  r.str("LEDGER_SQLITE_PATH", "idledger.db"),
			NetworkID:   r.uint("NETWORK_ID", 5777),
		},
		Redis: Redis{
			URL:          r.str("REDIS_URL", ""),
			PoolSize:     r.int("REDIS_POOL_SIZE", 10),
			MinIdleConns: r.int("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  r.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  r.duration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: r.duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			CacheTTL:     r.duration("CACHE_TTL", 30*time.Second),
		},
		Profile: Profile{
			Backend:     strings.ToLower(r.str("PROFILE_BACKEND", ProfileMemory)),
			PostgresDSN: r.str("PROFILE_POSTGRES_DSN", ""),
			CallTimeout: r.duration("PROFILE_TIMEOUT", 500*time.Millisecond),
		},
		Audit: Audit{
			PostgresDSN:  r.str("AUDIT_POSTGRES_DSN", ""),
			KafkaBrokers: r.list("KAFKA_BROKERS"),
			KafkaTopic:   r.str("AUDIT_TOPIC", "idledger.audit"),
			BufferSize:   r.int("AUDIT_BUFFER", 1024),
		},
		RateLimit: RateLimit{
			Requests: r.int("RATE_LIMIT_REQUESTS", 300),
			Window:   r.duration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Log: Log{
			Format: r.str("LOG_FORMAT", "json"),
			Level:  r.str("LOG_LEVEL", "info"),
		},
	}
	if r.err != nil {
		return Config{}, r.err
	}

	var err error
	if raw := r.str("GENESIS_ADMIN", ""); raw != "" {
		if cfg.GenesisAdmin, err = id.ParsePrincipal(raw); err != nil {
			return Config{}, fmt.Errorf("%sGENESIS_ADMIN: %w", envPrefix, err)
		}
	}
	if cfg.Fingerprint, err = fingerprint.ParseAlgorithm(r.str("FINGERPRINT_ALGORITHM", "")); err != nil {
		return Config{}, fmt.Errorf("%sFINGERPRINT_ALGORITHM: %w", envPrefix, err)
	}
	if cfg.Auth.JWTSigningKey == "" && !cfg.IsProduction() {
		cfg.Auth.JWTSigningKey = devSigningKey
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// AuthFromEnv reads only the token settings, for tools that mint tokens
// without running the server.
func AuthFromEnv() (Auth, error) {
	r := reader{getenv: os.Getenv}
	auth := r.auth()
	if r.err != nil {
		return Auth{}, r.err
	}
	if auth.JWTSigningKey == "" {
		if r.str("ENV", "development") == "production" {
			return Auth{}, errors.New(envPrefix + "JWT_SIGNING_KEY is required in production")
		}
		auth.JWTSigningKey = devSigningKey
	}
	return auth, nil
}

// Chaincode is what the chaincode binary reads. GenesisAdmin is the Fabric
// principal (see Whoami) allowed to submit the bootstrap transaction.
type Chaincode struct {
	Fabric       Fabric
	GenesisAdmin id.Principal
	Fingerprint  fingerprint.Algorithm
	Log          Log
}

func ChaincodeFromEnv() (Chaincode, error) {
	r := reader{getenv: os.Getenv}
	cc := Chaincode{
		Fabric: Fabric{
			ChaincodeID:      r.str("CHAINCODE_ID", ""),
			ChaincodeAddress: r.str("CHAINCODE_ADDRESS", ""),
		},
		Log: Log{
			Format: r.str("LOG_FORMAT", "json"),
			Level:  r.str("LOG_LEVEL", "info"),
		},
	}
	var err error
	if cc.Fingerprint, err = fingerprint.ParseAlgorithm(r.str("FINGERPRINT_ALGORITHM", "")); err != nil {
		return Chaincode{}, fmt.Errorf("%sFINGERPRINT_ALGORITHM: %w", envPrefix, err)
	}
	if cc.GenesisAdmin, err = id.ParsePrincipal(r.str("GENESIS_ADMIN", "")); err != nil {
		return Chaincode{}, fmt.Errorf("%sGENESIS_ADMIN: %w", envPrefix, err)
	}
	if cc.Fabric.ChaincodeAddress != "" && cc.Fabric.ChaincodeID == "" {
		return Chaincode{}, errors.New(envPrefix + "CHAINCODE_ID is required with CHAINCODE_ADDRESS")
	}
	return cc, nil
}

// Validate checks the cross-field rules.
func (c Config) Validate() error {
	var errs []error
	if c.GenesisAdmin.IsZero() {
		errs = append(errs, errors.New(envPrefix+"GENESIS_ADMIN is required"))
	}
	if c.Auth.JWTSigningKey == "" {
		errs = append(errs, errors.New(envPrefix+"JWT_SIGNING_KEY is required in production"))
	}
	if c.IsProduction() && c.Auth.JWTSigningKey == devSigningKey {
		errs = append(errs, errors.New(envPrefix+"JWT_SIGNING_KEY must not be the development key in production"))
	}
	switch c.Ledger.Backend {
	case LedgerMemory:
	case LedgerPostgres:
		if c.Ledger.PostgresDSN == "" {
			errs = append(errs, errors.New(envPrefix+"LEDGER_POSTGRES_DSN is required for the postgres ledger"))
		}
	case LedgerSQLite:
		if c.Ledger.SQLitePath == "" {
			errs = append(errs, errors.New(envPrefix+"LEDGER_SQLITE_PATH is required for the sqlite ledger"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ledger backend %q", c.Ledger.Backend))
	}
	switch c.Profile.Backend {
	case ProfileNone, ProfileMemory:
	case ProfileRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New(envPrefix+"REDIS_URL is required for the redis profile store"))
		}
	case ProfilePostgres:
		if c.Profile.PostgresDSN == "" {
			errs = append(errs, errors.New(envPrefix+"PROFILE_POSTGRES_DSN is required for the postgres profile store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown profile backend %q", c.Profile.Backend))
	}
	if len(c.Audit.KafkaBrokers) > 0 && c.Audit.KafkaTopic == "" {
		errs = append(errs, errors.New(envPrefix+"AUDIT_TOPIC is required with kafka brokers"))
	}
	return errors.Join(errs...)
}

func (r *reader) auth() Auth {
	return Auth{
		JWTSigningKey: r.str("JWT_SIGNING_KEY", ""),
		JWTIssuer:     r.str("JWT_ISSUER", "idledger"),
		JWTAudience:   r.str("JWT_AUDIENCE", "idledger-api"),
		TokenTTL:      r.duration("TOKEN_TTL", time.Hour),
	}
}

type reader struct {
	getenv func(string) string
	err    error
}

func (r *reader) str(key, def string) string {
	if v := strings.TrimSpace(r.getenv(envPrefix + key)); v != "" {
		return v
	}
	return def
}

func (r *reader) list(key string) []string {
	var out []string
	for _, part := range strings.Split(r.str(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (r *reader) int(key string, def int) int {
	raw := r.str(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return v
}

func (r *reader) uint(key string, def uint64) uint64 {
	raw := r.str(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return v
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	raw := r.str(key, "")
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return v
}

func (r *reader) fail(key string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
}
