package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"

	"capstore/api"
	"capstore/config"
	"capstore/core/engine"
	"capstore/core/globalstate"
	"capstore/core/journal"
	"capstore/observability/logging"
	"capstore/observability/metrics"
	"capstore/storage"
)

// node bundles the storage, journal and engine opened from one config.
type node struct {
	cfg     *config.Config
	logger  *slog.Logger
	db      storage.Database
	journal *journal.Journal
	state   *globalstate.TrieState
	engine  *engine.Engine
}

func openNode(c *cli.Context, readOnly bool) (*node, error) {
	cfg, err := config.Load(c.String(configFlag.Name))
	if err != nil {
		return nil, err
	}
	logger := logging.Setup(cfg.Logging.Service, cfg.Logging.Env,
		logging.WithLevel(cfg.Logging.Level),
		logging.WithFile(cfg.Logging.File, cfg.Logging.MaxSizeMB, cfg.Logging.MaxBackups),
	)

	n := &node{cfg: cfg, logger: logger}
	if cfg.Backend == config.BackendLevelDB {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		// The journal only makes sense next to a persistent trie.
		if n.journal, err = journal.Open(cfg.JournalPath(), nil); err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
	}
	if n.db, err = cfg.OpenStore(readOnly); err != nil {
		n.Close()
		return nil, err
	}
	m := metrics.Engine()
	if n.state, err = globalstate.NewTrieState(n.db, globalstate.WithLogger(logger), globalstate.WithMetrics(m)); err != nil {
		n.Close()
		return nil, err
	}
	opts := []engine.Option{engine.WithLogger(logger), engine.WithMetrics(m)}
	if n.journal != nil {
		opts = append(opts, engine.WithJournal(n.journal))
	}
	if n.engine, err = engine.New(n.state, opts...); err != nil {
		n.Close()
		return nil, err
	}
	return n, nil
}

func (n *node) Close() {
	if n.journal != nil {
		if err := n.journal.Close(); err != nil {
			n.logger.Warn("close journal", slog.String("error", err.Error()))
		}
	}
	if n.db != nil {
		n.db.Close()
	}
}

var errNoJournal = errors.New("root lineage is only recorded with the leveldb backend")

// root resolves --root, falling back to the journal head.
func (n *node) root(c *cli.Context) (common.Hash, error) {
	if raw := c.String(rootFlag.Name); raw != "" {
		return api.ParseRoot(raw)
	}
	if n.journal == nil {
		return common.Hash{}, fmt.Errorf("--root is required: %w", errNoJournal)
	}
	return n.journal.Head()
}
