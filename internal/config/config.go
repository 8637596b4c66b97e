// Package config loads the process-wide environment configuration: the
// same env-override-plus-defaults shape as polybot's config.Load, adapted
// from a YAML tree to a fully environment-keyed surface since §6 specifies
// no config file for the server — every key is read from the environment,
// with godotenv loading a .env file first when one is present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment is the deployment tag, used to tighten validation (e.g. CORS
// origins must be explicit in production).
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
	EnvTest        Environment = "test"
)

// Config is the fully-resolved process configuration.
type Config struct {
	Port        int
	Environment Environment

	ChainNetwork string // e.g. "mainnet-beta", "devnet"
	ChainRPCURL  string
	ProgramID    string // on-chain safe-wallet program id
	PoolAPIURL   string // DLMM pool-data aggregator the shared cache fronts

	AccessTokenSecret string // min 32 chars
	AccessTokenIssuer string
	AccessTokenTTL    time.Duration
	RefreshTokenTTL   time.Duration

	LogLevel  string // debug | info | warn | error
	LogFormat string // text | json

	DatabasePath string
	CORSOrigins  []string

	PredictorURL    string
	PredictorAPIKey string

	// RedisAddr, when set, fronts multiple orchestrator instances sharing
	// one event stream; unset means the in-process Bus is the only sink.
	RedisAddr    string
	RedisChannel string

	// WalletKeySource is either a file path (WALLET_KEYFILE) or a base64
	// secret key (WALLET_SECRET_KEY_BASE64); exactly one is populated.
	WalletKeyFile         string
	WalletSecretKeyBase64 string
}

// Load reads a .env file if present, then resolves every key from the
// environment, applying defaults and validating. Any failure here is
// meant to be fatal at process startup.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:              envInt("PORT", 8080),
		Environment:       Environment(envOr("ENVIRONMENT", string(EnvDevelopment))),
		ChainNetwork:      envOr("CHAIN_NETWORK", "devnet"),
		ChainRPCURL:       envOr("CHAIN_RPC_URL", ""),
		ProgramID:         os.Getenv("PROGRAM_ID"),
		PoolAPIURL:        os.Getenv("POOL_API_URL"),
		AccessTokenSecret: os.Getenv("ACCESS_TOKEN_SECRET"),
		AccessTokenIssuer: envOr("ACCESS_TOKEN_ISSUER", "dlmmbot"),
		LogLevel:          envOr("LOG_LEVEL", "info"),
		LogFormat:         envOr("LOG_FORMAT", "text"),
		DatabasePath:      envOr("DATABASE_PATH", "dlmmbot.db"),
		PredictorURL:      os.Getenv("PREDICTOR_URL"),
		PredictorAPIKey:   os.Getenv("PREDICTOR_API_KEY"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisChannel:      envOr("REDIS_CHANNEL", "dlmmbot:events"),
		WalletKeyFile:         os.Getenv("WALLET_KEYFILE"),
		WalletSecretKeyBase64: os.Getenv("WALLET_SECRET_KEY_BASE64"),
	}

	var err error
	cfg.AccessTokenTTL, err = envDuration("ACCESS_TOKEN_TTL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	cfg.RefreshTokenTTL, err = envDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return cfg, nil
}

// validate rejects missing or invalid required keys; callers are expected
// to exit the process on error per §6.
func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	switch c.Environment {
	case EnvDevelopment, EnvProduction, EnvTest:
	default:
		return fmt.Errorf("ENVIRONMENT must be one of development|production|test, got %q", c.Environment)
	}
	if len(c.AccessTokenSecret) < 32 {
		return fmt.Errorf("ACCESS_TOKEN_SECRET must be at least 32 characters")
	}
	if c.Environment == EnvProduction && len(c.CORSOrigins) == 0 {
		return fmt.Errorf("CORS_ORIGINS must list explicit origins in production")
	}
	if c.WalletKeyFile == "" && c.WalletSecretKeyBase64 == "" {
		return fmt.Errorf("one of WALLET_KEYFILE or WALLET_SECRET_KEY_BASE64 must be set")
	}
	if c.WalletKeyFile != "" && c.WalletSecretKeyBase64 != "" {
		return fmt.Errorf("only one of WALLET_KEYFILE or WALLET_SECRET_KEY_BASE64 may be set")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of debug|info|warn|error, got %q", c.LogLevel)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, v, err)
	}
	return d, nil
}
