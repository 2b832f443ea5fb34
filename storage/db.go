package storage

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/ethdb"
	gethleveldb "github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/triedb"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("storage: key not found")

// Database is a generic interface for a key-value store.
// This allows the state layer to use any database backend (in-memory or persistent).
// Both backends also host the trie node database so tries and metadata share
// one store.
type Database interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Delete(key []byte) error
	TrieDB() *triedb.Database
	Close() // A way to gracefully shut down the database connection.
}

// kvStore adapts an ethdb key-value store to Database.
type kvStore struct {
	kv     ethdb.KeyValueStore
	trieDB *triedb.Database
}

func newKVStore(kv ethdb.KeyValueStore) kvStore {
	return kvStore{
		kv:     kv,
		trieDB: triedb.NewDatabase(rawdb.NewDatabase(kv), triedb.HashDefaults),
	}
}

func (s kvStore) Put(key []byte, value []byte) error {
	return s.kv.Put(key, value)
}

func (s kvStore) Get(key []byte) ([]byte, error) {
	ok, err := s.kv.Has(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	value, err := s.kv.Get(key)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

func (s kvStore) Has(key []byte) (bool, error) { return s.kv.Has(key) }
func (s kvStore) Delete(key []byte) error      { return s.kv.Delete(key) }
func (s kvStore) TrieDB() *triedb.Database     { return s.trieDB }

// --- In-Memory DB (for testing) ---

type MemDB struct {
	kvStore
}

func NewMemDB() *MemDB {
	return &MemDB{kvStore: newKVStore(memorydb.New())}
}

// Close satisfies the Database interface for MemDB.
func (db *MemDB) Close() {
	// Nothing to flush for an in-memory database.
	_ = db.trieDB.Close()
}

// --- Persistent DB ---

// LevelDBOptions tunes the LevelDB backend. Zero values fall back to the
// goleveldb defaults.
type LevelDBOptions struct {
	CacheMB   int
	Handles   int
	Namespace string
	ReadOnly  bool
}

// LevelDB is a persistent key-value store using LevelDB.
type LevelDB struct {
	kvStore
	db *gethleveldb.Database
}

// NewLevelDB creates or opens a LevelDB database at the specified path with
// default options.
func NewLevelDB(path string) (*LevelDB, error) {
	return OpenLevelDB(path, LevelDBOptions{})
}

// OpenLevelDB creates or opens a LevelDB database at path.
func OpenLevelDB(path string, opts LevelDBOptions) (*LevelDB, error) {
	db, err := gethleveldb.NewCustom(path, opts.Namespace, func(o *opt.Options) {
		if opts.CacheMB > 0 {
			o.BlockCacheCapacity = opts.CacheMB / 2 * opt.MiB
			o.WriteBuffer = opts.CacheMB / 4 * opt.MiB
		}
		if opts.Handles > 0 {
			o.OpenFilesCacheCapacity = opts.Handles
		}
		o.ReadOnly = opts.ReadOnly
	})
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return &LevelDB{kvStore: newKVStore(db), db: db}, nil
}

// Close flushes the trie database and closes the LevelDB handle.
func (ldb *LevelDB) Close() {
	_ = ldb.trieDB.Close()
	_ = ldb.db.Close()
}
