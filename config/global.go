package config

import (
	"fmt"
	"path/filepath"

	"capstore/core/genesis"
	"capstore/core/types"
	"capstore/storage"
)

// StatePath is the LevelDB directory holding the trie.
func (c *Config) StatePath() string { return filepath.Join(c.DataDir, "state") }

// JournalPath is the bbolt file holding the root lineage.
func (c *Config) JournalPath() string { return filepath.Join(c.DataDir, "journal.db") }

// SystemAccountAddr parses the configured system account.
func (c *Config) SystemAccountAddr() (types.Address, error) {
	addr, err := genesis.ParseAccount(c.SystemAccount)
	if err != nil {
		return types.Address{}, fmt.Errorf("invalid SystemAccount: %w", err)
	}
	return addr, nil
}

// LevelDBOptions turns the storage knobs into backend options.
func (c *Config) LevelDBOptions(readOnly bool) storage.LevelDBOptions {
	return storage.LevelDBOptions{
		CacheMB:  c.LevelDBCacheMB,
		Handles:  c.LevelDBHandles,
		ReadOnly: readOnly,
	}
}

// OpenStore opens the configured trie database.
func (c *Config) OpenStore(readOnly bool) (storage.Database, error) {
	if c.Backend == BackendMemory {
		return storage.NewMemDB(), nil
	}
	return storage.OpenLevelDB(c.StatePath(), c.LevelDBOptions(readOnly))
}
