package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"bdnprotocol/crypto"
)

type Config struct {
	DataDir       string        `toml:"DataDir" yaml:"dataDir"`
	RPCAddress    string        `toml:"RPCAddress" yaml:"rpcAddress"`
	LogFile       string        `toml:"LogFile" yaml:"logFile"`
	Environment   string        `toml:"Environment" yaml:"environment"`
	Owner         string        `toml:"Owner" yaml:"owner"`
	DAO           string        `toml:"DAO" yaml:"dao"`
	RewardFeeTo   string        `toml:"RewardFeeTo" yaml:"rewardFeeTo"`
	ProtocolToken TokenConfig   `toml:"ProtocolToken" yaml:"protocolToken"`
	Tokens        []TokenConfig `toml:"Tokens" yaml:"tokens"`
	Permissions   Permissions   `toml:"Permissions" yaml:"permissions"`
	Bond          Bond          `toml:"Bond" yaml:"bond"`
	Rewards       Rewards       `toml:"Rewards" yaml:"rewards"`
	Pauses        Pauses        `toml:"Pauses" yaml:"pauses"`
	Telemetry     Telemetry     `toml:"Telemetry" yaml:"telemetry"`
	Indexer       Indexer       `toml:"Indexer" yaml:"indexer"`
	RPC           RPC           `toml:"RPC" yaml:"rpc"`
}

// Load loads the configuration from the given path. A missing file is
// created with the defaults. Files ending in .yaml or .yml are decoded as
// YAML, everything else as TOML.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := Default()
	cfg.Tokens = nil
	cfg.Permissions.Grants = nil
	if isYAML(path) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	} else {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config file %s: unknown key %s", path, undecoded[0])
		}
	}
	if len(cfg.Tokens) == 0 {
		cfg.Tokens = Default().Tokens
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Default returns the configuration written for a fresh node.
func Default() *Config {
	return &Config{
		DataDir:       "./bdn-data",
		RPCAddress:    ":8080",
		Environment:   "local",
		Owner:         crypto.Format(crypto.DeriveAddress("bdn/owner")),
		DAO:           crypto.Format(crypto.DeriveAddress("bdn/dao")),
		RewardFeeTo:   crypto.Format(crypto.DeriveAddress("bdn/reward-fees")),
		ProtocolToken: TokenConfig{Symbol: "BDN", Name: "Bond Token", Decimals: 18},
		Tokens: []TokenConfig{
			{Symbol: "MIM", Name: "Magic Internet Money", Decimals: 18, Reserve: true},
		},
		Permissions: Permissions{TimelockBlocks: 5},
		Bond: Bond{
			Principle:       "MIM",
			ControlVariable: 100,
			MinPrice:        "0",
			MaxPayout:       "500000000000000000000000",
			MinPayout:       "1000000",
			FeeBps:          100,
			RewardFeeBps:    100,
			MaxDebt:         "1000000000000000000000000",
			VestingTerm:     10,
			FloorPrice:      "1000000000",
		},
		Rewards: Rewards{Asset: "MIM"},
		RPC:     RPC{RateLimit: 20, Burst: 40, ReadTimeout: 15},
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	cfg.normalize()
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if isYAML(path) {
		enc := yaml.NewEncoder(f)
		defer enc.Close()
		return enc.Encode(cfg)
	}
	return toml.NewEncoder(f).Encode(cfg)
}

func (cfg *Config) normalize() {
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	cfg.RPCAddress = strings.TrimSpace(cfg.RPCAddress)
	cfg.LogFile = strings.TrimSpace(cfg.LogFile)
	cfg.Environment = strings.TrimSpace(cfg.Environment)
	cfg.ProtocolToken.Symbol = normalizeSymbol(cfg.ProtocolToken.Symbol)
	for i := range cfg.Tokens {
		cfg.Tokens[i].Symbol = normalizeSymbol(cfg.Tokens[i].Symbol)
		cfg.Tokens[i].Name = strings.TrimSpace(cfg.Tokens[i].Name)
		cfg.Tokens[i].Rate = strings.TrimSpace(cfg.Tokens[i].Rate)
	}
	cfg.Bond.Principle = normalizeSymbol(cfg.Bond.Principle)
	cfg.Rewards.Asset = normalizeSymbol(cfg.Rewards.Asset)
	cfg.Indexer.DSN = strings.TrimSpace(cfg.Indexer.DSN)
	if cfg.RPC.Burst <= 0 {
		cfg.RPC.Burst = 1
	}
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
