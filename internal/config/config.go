// Package config loads the coin service configuration from YAML, .env files
// and COIN_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/coin_service/pkg/logger"
)

// Config is the root configuration.
type Config struct {
	Server   ServerConfig         `yaml:"server"`
	Database DatabaseConfig       `yaml:"database"`
	Logging  logger.LoggingConfig `yaml:"logging"`
	Chain    ChainConfig          `yaml:"chain"`
	Pool     PoolConfig           `yaml:"pool"`
	Batch    BatchConfig          `yaml:"batch"`
	Ledger   LedgerConfig         `yaml:"ledger"`
	Identity IdentityConfig       `yaml:"identity"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"COIN_HTTP_ADDR"`
	RateLimit       int           `yaml:"rate_limit" env:"COIN_HTTP_RATE_LIMIT"`
	RateBurst       int           `yaml:"rate_burst" env:"COIN_HTTP_RATE_BURST"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"COIN_HTTP_SHUTDOWN_TIMEOUT"`
}

// DatabaseConfig selects the store. An empty DSN keeps everything in memory.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" env:"COIN_DATABASE_DSN"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"COIN_DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"COIN_DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"COIN_DATABASE_CONN_MAX_LIFETIME"`
	Migrate         bool          `yaml:"migrate" env:"COIN_DATABASE_MIGRATE"`
}

// ChainConfig describes the node and the contracts the ledger talks to.
type ChainConfig struct {
	RPCURL             string        `yaml:"rpc_url" env:"COIN_CHAIN_RPC_URL"`
	TokenContract      string        `yaml:"token_contract" env:"COIN_CHAIN_TOKEN_CONTRACT"`
	VaultContract      string        `yaml:"vault_contract" env:"COIN_CHAIN_VAULT_CONTRACT"`
	TreasuryAddress    string        `yaml:"treasury_address" env:"COIN_CHAIN_TREASURY_ADDRESS"`
	TreasuryPrivateKey string        `yaml:"treasury_private_key" env:"COIN_CHAIN_TREASURY_PRIVATE_KEY"`
	CallTimeout        time.Duration `yaml:"call_timeout" env:"COIN_CHAIN_CALL_TIMEOUT"`
	PollInterval       time.Duration `yaml:"poll_interval" env:"COIN_CHAIN_POLL_INTERVAL"`
	DepositMethod      string        `yaml:"deposit_method" env:"COIN_CHAIN_DEPOSIT_METHOD"`
}

type PoolConfig struct {
	SourcePath string `yaml:"source_path" env:"COIN_POOL_SOURCE_PATH"`
}

type BatchConfig struct {
	Workers int `yaml:"workers" env:"COIN_BATCH_WORKERS"`
}

// LedgerConfig holds engine behaviour. Locks maps operation names to an
// exclusion domain: none, account, global or pair.
type LedgerConfig struct {
	Locks       map[string]string `yaml:"locks"`
	RefreshCron string            `yaml:"refresh_cron" env:"COIN_LEDGER_REFRESH_CRON"`
}

type IdentityConfig struct {
	URL     string        `yaml:"url" env:"COIN_IDENTITY_URL"`
	Timeout time.Duration `yaml:"timeout" env:"COIN_IDENTITY_TIMEOUT"`
}

// Default returns a configuration with every optional field populated.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			RateLimit:       50,
			RateBurst:       100,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			Migrate:         true,
		},
		Logging: logger.LoggingConfig{Level: "info", Format: "text", Output: "stdout"},
		Chain: ChainConfig{
			CallTimeout:   30 * time.Second,
			PollInterval:  time.Second,
			DepositMethod: "deposit",
		},
		Pool:     PoolConfig{SourcePath: filepath.Join("config", "accounts.json")},
		Batch:    BatchConfig{Workers: 4},
		Identity: IdentityConfig{Timeout: 10 * time.Second},
	}
}

// Load reads config/coin.yaml relative to the working directory.
func Load() (*Config, error) {
	return LoadFromPath(filepath.Join("config", "coin.yaml"))
}

// LoadFromPath reads the YAML file at path (missing files are tolerated),
// then a .env file next to the working directory, then COIN_* variables.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("failed to decode environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings the service cannot start without.
func (c *Config) Validate() error {
	var missing []string
	if c.Chain.RPCURL == "" {
		missing = append(missing, "chain.rpc_url")
	}
	if c.Chain.TokenContract == "" {
		missing = append(missing, "chain.token_contract")
	}
	if c.Chain.TreasuryAddress == "" {
		missing = append(missing, "chain.treasury_address")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}
	if c.Batch.Workers <= 0 {
		return fmt.Errorf("batch.workers must be positive, got %d", c.Batch.Workers)
	}
	if c.Chain.CallTimeout <= 0 {
		return fmt.Errorf("chain.call_timeout must be positive")
	}
	for op, scope := range c.Ledger.Locks {
		switch strings.ToLower(scope) {
		case "none", "account", "global", "pair":
		default:
			return fmt.Errorf("ledger.locks.%s: unknown exclusion domain %q", op, scope)
		}
	}
	return nil
}
