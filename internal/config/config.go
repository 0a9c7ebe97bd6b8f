// Package config loads process configuration from an optional YAML file with
// environment overrides. Secrets (the marketplace API key and the ledger
// signer key material) are taken from the environment only and are never
// echoed back or logged.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the full process configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Logging     LoggingConfig     `yaml:"logging"`
	Marketplace MarketplaceConfig `yaml:"marketplace"`
	Ledger      LedgerConfig      `yaml:"ledger"`
	Settlement  SettlementConfig  `yaml:"settlement"`
	Uploads     UploadsConfig     `yaml:"uploads"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig selects the persistence backend. An empty DSN falls back to
// the in-memory store.
type DatabaseConfig struct {
	Driver          string `yaml:"driver"`
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_seconds"`
}

// LoggingConfig mirrors pkg/logger's configuration surface.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	FilePrefix string `yaml:"file_prefix"`
}

// MarketplaceConfig configures the custodial marketplace adapter. The API
// key comes from MARKETPLACE_API_KEY.
type MarketplaceConfig struct {
	BaseURL           string `yaml:"base_url"`
	CollectionID      string `yaml:"collection_id"`
	APIKey            string `yaml:"-"`
	TimeoutSeconds    int    `yaml:"timeout_seconds"`
	RequestsPerSecond int    `yaml:"requests_per_second"`
	Burst             int    `yaml:"burst"`
}

// LedgerConfig configures the reward token ledger. The signer key material
// comes from LEDGER_SIGNER_KEY as a JSON byte array.
type LedgerConfig struct {
	RPCURL         string `yaml:"rpc_url"`
	MintAddress    string `yaml:"mint_address"`
	MintDecimals   uint8  `yaml:"mint_decimals"`
	SignerKey      []byte `yaml:"-"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// SettlementConfig tunes the orchestrator.
type SettlementConfig struct {
	CurrencyCode      string `yaml:"currency_code"`
	RewardAmount      uint64 `yaml:"reward_amount"`
	VerifyOwnership   bool   `yaml:"verify_ownership"`
	ReconcileSchedule string `yaml:"reconcile_schedule"`
}

// UploadsConfig controls where holder profile images are written.
type UploadsConfig struct {
	Dir     string `yaml:"dir"`
	BaseURL string `yaml:"base_url"`
}

// Load reads CONFIG_PATH (default config.yaml when present) and applies
// environment overrides.
func Load() (*Config, error) {
	path := strings.TrimSpace(os.Getenv("CONFIG_PATH"))
	if path == "" {
		path = "config.yaml"
		if _, err := os.Stat(path); err != nil {
			return loadFromBytes(nil)
		}
	}
	return LoadFromPath(path)
}

// LoadFromPath reads configuration from a specific YAML file.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return loadFromBytes(data)
}

func loadFromBytes(data []byte) (*Config, error) {
	cfg := defaults()
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnv(cfg)

	if cfg.Marketplace.BaseURL == "" {
		return nil, fmt.Errorf("marketplace base_url is required")
	}
	if cfg.Marketplace.APIKey == "" {
		return nil, fmt.Errorf("MARKETPLACE_API_KEY is required")
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server:   ServerConfig{Host: "0.0.0.0", Port: 8080},
		Database: DatabaseConfig{Driver: "postgres"},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Marketplace: MarketplaceConfig{
			TimeoutSeconds:    10,
			RequestsPerSecond: 10,
			Burst:             20,
		},
		Ledger: LedgerConfig{
			MintDecimals:   9,
			TimeoutSeconds: 30,
		},
		Settlement: SettlementConfig{
			CurrencyCode:      "USDC",
			ReconcileSchedule: "@every 1m",
		},
		Uploads: UploadsConfig{Dir: "public/images", BaseURL: "/images"},
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.Database.Driver = "postgres"
		cfg.Database.DSN = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MARKETPLACE_BASE_URL"); v != "" {
		cfg.Marketplace.BaseURL = v
	}
	if v := os.Getenv("MARKETPLACE_COLLECTION_ID"); v != "" {
		cfg.Marketplace.CollectionID = v
	}
	cfg.Marketplace.APIKey = strings.TrimSpace(os.Getenv("MARKETPLACE_API_KEY"))

	if v := os.Getenv("LEDGER_RPC_URL"); v != "" {
		cfg.Ledger.RPCURL = v
	}
	if v := os.Getenv("LEDGER_MINT_ADDRESS"); v != "" {
		cfg.Ledger.MintAddress = v
	}
	if v := strings.TrimSpace(os.Getenv("LEDGER_SIGNER_KEY")); v != "" {
		cfg.Ledger.SignerKey = []byte(v)
	}
	if v := os.Getenv("SETTLEMENT_REWARD_AMOUNT"); v != "" {
		if amount, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Settlement.RewardAmount = amount
		}
	}
	if v := os.Getenv("SETTLEMENT_VERIFY_OWNERSHIP"); v != "" {
		cfg.Settlement.VerifyOwnership = v == "1" || strings.EqualFold(v, "true")
	}
}
