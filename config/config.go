package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"pricechain/native/symbolprice"
	"pricechain/offchain"
)

type Config struct {
	NodeID     string `toml:"NodeID" yaml:"node_id"`
	Env        string `toml:"Env" yaml:"env"`
	DataDir    string `toml:"DataDir" yaml:"data_dir"`
	RPCAddress string `toml:"RPCAddress" yaml:"rpc_address"`
	// KeystorePath holds the authority key; generated on first start.
	KeystorePath string `toml:"KeystorePath" yaml:"keystore_path"`
	// KeystorePassphraseEnv names the environment variable carrying the
	// keystore passphrase.
	KeystorePassphraseEnv string `toml:"KeystorePassphraseEnv" yaml:"keystore_passphrase_env"`

	Blocks    Blocks    `toml:"Blocks" yaml:"blocks"`
	Oracle    Oracle    `toml:"Oracle" yaml:"oracle"`
	Logging   Logging   `toml:"Logging" yaml:"logging"`
	Telemetry Telemetry `toml:"Telemetry" yaml:"telemetry"`
}

// Load reads the configuration at path. YAML is used for .yaml/.yml files and
// TOML otherwise. A missing TOML file is created with defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	raw, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err) && !isYAML(path):
		return createDefault(path)
	case err != nil:
		return nil, err
	}

	if isYAML(path) {
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	} else {
		meta, err := toml.Decode(string(raw), cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config: %s has unknown key %s", path, undecoded[0])
		}
	}
	cfg.applyDefaults(path)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Default returns the configuration written on first start.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults("")
	return cfg
}

func (c *Config) applyDefaults(configPath string) {
	params := symbolprice.DefaultParams()
	if strings.TrimSpace(c.NodeID) == "" {
		c.NodeID = "pricenode-local"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./pricechain-data"
	}
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = ":8080"
	}
	if strings.TrimSpace(c.KeystorePath) == "" {
		dir := filepath.Dir(configPath)
		if configPath == "" || dir == "." {
			dir = ""
		}
		c.KeystorePath = filepath.Join(dir, "authority.keystore")
	}
	if strings.TrimSpace(c.KeystorePassphraseEnv) == "" {
		c.KeystorePassphraseEnv = "PRICENODE_KEYSTORE_PASS"
	}
	if c.Blocks.Interval.Duration == 0 {
		c.Blocks.Interval.Duration = 6 * time.Second
	}
	o := &c.Oracle
	if o.GracePeriod == nil {
		grace := params.GracePeriod
		o.GracePeriod = &grace
	}
	if o.UnsignedInterval == 0 {
		o.UnsignedInterval = params.UnsignedInterval
	}
	if o.UnsignedPriority == nil {
		priority := params.UnsignedPriority
		o.UnsignedPriority = &priority
	}
	if o.MaxPrices == 0 {
		o.MaxPrices = params.MaxPrices
	}
	if o.Longevity == 0 {
		o.Longevity = params.Longevity
	}
	if o.SmoothingPeriod == 0 {
		o.SmoothingPeriod = params.SmoothingPeriod
	}
	if strings.TrimSpace(o.SourceURL) == "" {
		o.SourceURL = offchain.DefaultSourceURL
	}
	if o.FetchTimeout.Duration == 0 {
		o.FetchTimeout.Duration = offchain.DefaultFetchTimeout
	}
	if strings.TrimSpace(o.SubmitMode) == "" {
		o.SubmitMode = string(offchain.ModeRaw)
	}
	if o.LiveFetchPerMinute == 0 {
		o.LiveFetchPerMinute = 6
	}
	if strings.TrimSpace(o.JournalPath) == "" {
		o.JournalPath = filepath.Join(c.DataDir, "rounds.db")
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if strings.TrimSpace(c.Telemetry.Endpoint) == "" {
		c.Telemetry.Endpoint = "localhost:4318"
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults(path)
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
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

	return toml.NewEncoder(f).Encode(cfg)
}
