// Package config loads the engine's startup configuration, adapted from
// the node config loader's load-or-create-default pattern: a missing file
// is created and populated with sane defaults rather than failing startup.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the engine process's full startup configuration.
type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	DataDir       string `toml:"DataDir"`

	KeystorePath string `toml:"KeystorePath"`

	NodeRPCEndpoint string `toml:"NodeRPCEndpoint"`
	IdentityTXTZone string `toml:"IdentityTXTZone"` // DNS server (host:port) the identity resolver queries (spec.md §1/C1)

	MintEndpoints  []string `toml:"MintEndpoints"`
	RelayEndpoints []string `toml:"RelayEndpoints"`

	PolicyPreset      string  `toml:"PolicyPreset"` // conservative | moderate | aggressive
	MaxDangerAutoexec int     `toml:"MaxDangerAutoexec"`
	DailySpendCap     float64 `toml:"DailySpendCap"`
	WeeklySpendCap    float64 `toml:"WeeklySpendCap"`

	OTELEndpoint string `toml:"OTELEndpoint"`
	OTELInsecure bool   `toml:"OTELInsecure"`
	Environment  string `toml:"Environment"`

	// LogFile, when set, routes structured logs through a rotating file
	// writer instead of stdout (observability/logging.Setup).
	LogFile string `toml:"LogFile"`

	// PostgresDSN, when set, enables the obligation ledger's gorm/postgres
	// read model for the Netting Engine's ad hoc counterparty/window
	// queries. Left empty, the ledger runs on bbolt alone.
	PostgresDSN string `toml:"PostgresDSN"`
}

// Load reads the configuration at path, creating a default file there if
// none exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

// createDefault writes and returns a starter configuration.
func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("config: create %s: %w", path, err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, fmt.Errorf("config: write default %s: %w", path, err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8420"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./hived-data"
	}
	if cfg.KeystorePath == "" {
		cfg.KeystorePath = "./hived-data/operator.keystore"
	}
	if cfg.PolicyPreset == "" {
		cfg.PolicyPreset = "moderate"
	}
	if cfg.OTELEndpoint == "" {
		cfg.OTELEndpoint = "localhost:4318"
	}
	if cfg.Environment == "" {
		cfg.Environment = "production"
	}
	if cfg.MintEndpoints == nil {
		cfg.MintEndpoints = []string{}
	}
	if cfg.RelayEndpoints == nil {
		cfg.RelayEndpoints = []string{}
	}
}
