package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	BackendLevelDB = "leveldb"
	BackendMemory  = "memory"
)

type Config struct {
	DataDir         string    `toml:"DataDir"`
	Backend         string    `toml:"Backend"`
	LevelDBCacheMB  int       `toml:"LevelDBCacheMB"`
	LevelDBHandles  int       `toml:"LevelDBHandles"`
	GenesisFile     string    `toml:"GenesisFile"`
	ProtocolVersion uint64    `toml:"ProtocolVersion"`
	SystemAccount   string    `toml:"SystemAccount"`
	MetricsAddress  string    `toml:"MetricsAddress"`
	Logging         Logging   `toml:"Logging"`
	Telemetry       Telemetry `toml:"Telemetry"`
}

// Load loads the configuration from the given path, writing a default file
// first when none exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, key := range undecoded {
			keys[i] = key.String()
		}
		return nil, fmt.Errorf("config file %s has unknown fields: %s", path, strings.Join(keys, ", "))
	}

	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns the configuration written for a fresh node.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./capstore-data"
	}
	if strings.TrimSpace(cfg.Backend) == "" {
		cfg.Backend = BackendLevelDB
	}
	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))
	if cfg.ProtocolVersion == 0 {
		cfg.ProtocolVersion = 1
	}
	if strings.TrimSpace(cfg.SystemAccount) == "" {
		cfg.SystemAccount = strings.Repeat("00", 32)
	}
	if cfg.MetricsAddress == "" {
		cfg.MetricsAddress = ":9464"
	}
	if strings.TrimSpace(cfg.Logging.Service) == "" {
		cfg.Logging.Service = "capstore"
	}
	if cfg.Logging.File != "" {
		if cfg.Logging.MaxSizeMB == 0 {
			cfg.Logging.MaxSizeMB = 100
		}
		if cfg.Logging.MaxBackups == 0 {
			cfg.Logging.MaxBackups = 5
		}
	}
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4318"
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
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
