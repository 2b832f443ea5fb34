package config

import (
	"fmt"
	"strings"

	"capstore/core/genesis"
)

var validLevels = map[string]struct{}{"": {}, "debug": {}, "info": {}, "warn": {}, "error": {}}

func Validate(cfg *Config) error {
	switch cfg.Backend {
	case BackendLevelDB:
		if strings.TrimSpace(cfg.DataDir) == "" {
			return fmt.Errorf("storage: leveldb backend requires DataDir")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("storage: unknown backend %q", cfg.Backend)
	}
	if cfg.LevelDBCacheMB < 0 || cfg.LevelDBHandles < 0 {
		return fmt.Errorf("storage: leveldb cache and handles must not be negative")
	}
	if cfg.ProtocolVersion == 0 {
		return fmt.Errorf("protocol version must be positive")
	}
	if _, err := genesis.ParseAccount(cfg.SystemAccount); err != nil {
		return fmt.Errorf("system account: %w", err)
	}
	if _, ok := validLevels[strings.ToLower(cfg.Logging.Level)]; !ok {
		return fmt.Errorf("logging: unknown level %q", cfg.Logging.Level)
	}
	if cfg.Logging.MaxSizeMB < 0 || cfg.Logging.MaxBackups < 0 {
		return fmt.Errorf("logging: rotation limits must not be negative")
	}
	if cfg.Telemetry.Enabled() && strings.TrimSpace(cfg.Telemetry.Endpoint) == "" {
		return fmt.Errorf("telemetry: endpoint required when exporters are enabled")
	}
	return nil
}
