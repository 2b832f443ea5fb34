// Package globalstate is the content-addressed store effect maps are
// committed to. Every committed root is an immutable snapshot; commits are
// serialized and reads against published roots never block on them.
package globalstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"capstore/core/effects"
	caperrors "capstore/core/errors"
	"capstore/core/transform"
	"capstore/core/types"
	"capstore/observability/metrics"
	"capstore/storage"
	"capstore/storage/trie"
)

// Snapshot reads global state at one fixed root.
type Snapshot interface {
	Root() common.Hash
	// Read returns the value under key, or ErrValueNotFound.
	Read(key types.Key) (types.Value, error)
}

// StateProvider is the contract the execution layer needs from global state.
type StateProvider interface {
	// EmptyRoot is the root of the store before genesis.
	EmptyRoot() common.Hash
	// Checkout opens a snapshot at a committed root. Unknown roots fail with
	// ErrRootNotFound.
	Checkout(root common.Hash) (Snapshot, error)
	// ReadAt is a one-off snapshot read.
	ReadAt(root common.Hash, key types.Key) (types.Value, error)
	// Commit applies every transform in fx to root and returns the successor
	// root. Either every key is applied or the store is left untouched.
	Commit(ctx context.Context, root common.Hash, fx effects.Effects) (common.Hash, error)
}

// CommitError reports the key whose transform stopped a commit. It matches
// both ErrCommitFailure and the underlying cause under errors.Is.
type CommitError struct {
	Key types.Key
	Err error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit: key %s: %v", e.Key, e.Err)
}

func (e *CommitError) Unwrap() []error { return []error{caperrors.ErrCommitFailure, e.Err} }

var rootPrefix = []byte("capstore-root:")

func rootKey(root common.Hash) []byte {
	return append(append([]byte(nil), rootPrefix...), root.Bytes()...)
}

// TrieState implements StateProvider on a Merkle-Patricia trie.
type TrieState struct {
	db      storage.Database
	logger  *slog.Logger
	metrics *metrics.EngineMetrics

	mu     sync.Mutex
	height uint64
}

// Option customises a TrieState.
type Option func(*TrieState)

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *TrieState) { s.logger = logger }
}

// WithMetrics overrides the default metrics registry.
func WithMetrics(m *metrics.EngineMetrics) Option {
	return func(s *TrieState) { s.metrics = m }
}

// NewTrieState opens global state over db. Roots committed by earlier
// instances over the same database remain readable.
func NewTrieState(db storage.Database, opts ...Option) (*TrieState, error) {
	s := &TrieState{
		db:      db,
		logger:  slog.Default(),
		metrics: metrics.Engine(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With(slog.String("component", "globalstate"))
	if _, err := s.heightOf(trie.EmptyRoot); errors.Is(err, storage.ErrNotFound) {
		if err := s.recordRoot(trie.EmptyRoot, 0); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *TrieState) EmptyRoot() common.Hash { return trie.EmptyRoot }

// Height returns the number of commits that led to root.
func (s *TrieState) Height(root common.Hash) (uint64, error) {
	h, err := s.heightOf(root)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, fmt.Errorf("root %s: %w", root.Hex(), caperrors.ErrRootNotFound)
	}
	return h, err
}

func (s *TrieState) heightOf(root common.Hash) (uint64, error) {
	raw, err := s.db.Get(rootKey(root))
	if err != nil {
		return 0, err
	}
	var h uint64
	if err := rlp.DecodeBytes(raw, &h); err != nil {
		return 0, fmt.Errorf("root %s height: %w", root.Hex(), err)
	}
	return h, nil
}

func (s *TrieState) recordRoot(root common.Hash, height uint64) error {
	raw, err := rlp.EncodeToBytes(height)
	if err != nil {
		return err
	}
	return s.db.Put(rootKey(root), raw)
}

func (s *TrieState) open(root common.Hash) (*trie.Trie, uint64, error) {
	height, err := s.Height(root)
	if err != nil {
		return nil, 0, err
	}
	tr, err := trie.NewTrie(s.db, root.Bytes())
	if err != nil {
		return nil, 0, fmt.Errorf("open root %s: %w: %v", root.Hex(), caperrors.ErrRootNotFound, err)
	}
	return tr, height, nil
}

// Checkout opens a snapshot at root.
func (s *TrieState) Checkout(root common.Hash) (Snapshot, error) {
	tr, _, err := s.open(root)
	if err != nil {
		return nil, err
	}
	return &trieSnapshot{root: root, trie: tr}, nil
}

func (s *TrieState) ReadAt(root common.Hash, key types.Key) (types.Value, error) {
	snap, err := s.Checkout(root)
	if err != nil {
		return nil, err
	}
	return snap.Read(key)
}

// Commit applies fx to root. Keys are applied in canonical order. A Failure
// entry, or a transform that cannot be applied to the stored value, aborts
// the whole commit with a CommitError and nothing is written.
func (s *TrieState) Commit(ctx context.Context, root common.Hash, fx effects.Effects) (newRoot common.Hash, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveCommit(err, time.Since(start)) }()

	if err := ctx.Err(); err != nil {
		return common.Hash{}, err
	}
	keys := fx.SortedKeys()
	for _, key := range keys {
		if f, ok := fx[key].(transform.Failure); ok {
			s.metrics.IncTransformFailure(failureReason(f.Err))
			return common.Hash{}, &CommitError{Key: key, Err: f.Err}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tr, height, err := s.open(root)
	if err != nil {
		return common.Hash{}, err
	}
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return common.Hash{}, s.rollback(tr, root, err)
		}
		if err := applyOne(tr, key, fx[key]); err != nil {
			s.metrics.IncTransformFailure(failureReason(err))
			return common.Hash{}, s.rollback(tr, root, &CommitError{Key: key, Err: err})
		}
	}
	newRoot, err = tr.Commit(root, height+1)
	if err != nil {
		return common.Hash{}, fmt.Errorf("commit trie: %w", err)
	}
	if _, err := s.heightOf(newRoot); errors.Is(err, storage.ErrNotFound) {
		if err := s.recordRoot(newRoot, height+1); err != nil {
			return common.Hash{}, fmt.Errorf("record root: %w", err)
		}
	}
	s.logger.Debug("state committed",
		slog.String("prestate", root.Hex()),
		slog.String("poststate", newRoot.Hex()),
		slog.Int("keys", len(keys)),
	)
	return newRoot, nil
}

func (s *TrieState) rollback(tr *trie.Trie, root common.Hash, cause error) error {
	if err := tr.Reset(root); err != nil {
		s.logger.Warn("trie reset after failed commit", slog.String("error", err.Error()))
	}
	return cause
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, caperrors.ErrAddOverflow):
		return "overflow"
	case errors.Is(err, caperrors.ErrTypeMismatch):
		return "type_mismatch"
	default:
		return "other"
	}
}

func applyOne(tr *trie.Trie, key types.Key, t transform.Transform) error {
	if _, ok := t.(transform.Identity); ok {
		return nil
	}
	path := trieKey(key)
	current, err := readRecord(tr, path, key)
	if err != nil && !errors.Is(err, caperrors.ErrValueNotFound) {
		return err
	}
	next, err := transform.Apply(t, current)
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}
	record, err := encodeRecord(key, next)
	if err != nil {
		return err
	}
	return tr.Update(path, record)
}

// Entries calls fn for every stored entry at root until fn returns false.
// Entries come in trie order.
func (s *TrieState) Entries(root common.Hash, fn func(types.Key, types.Value) bool) error {
	tr, _, err := s.open(root)
	if err != nil {
		return err
	}
	var decodeErr error
	iterErr := tr.Iterate(func(_, raw []byte) bool {
		key, value, err := decodeRecord(raw)
		if err != nil {
			decodeErr = err
			return false
		}
		return fn(key, value)
	})
	if decodeErr != nil {
		return decodeErr
	}
	return iterErr
}

type trieSnapshot struct {
	root common.Hash

	mu   sync.Mutex
	trie *trie.Trie
}

func (s *trieSnapshot) Root() common.Hash { return s.root }

func (s *trieSnapshot) Read(key types.Key) (types.Value, error) {
	key = key.Normalize()
	s.mu.Lock()
	defer s.mu.Unlock()
	return readRecord(s.trie, trieKey(key), key)
}

// Stored records are [key encoding, value encoding] under keccak256 of the
// normalized key encoding.
type storedRecord struct {
	Key   []byte
	Value []byte
}

func trieKey(key types.Key) []byte {
	return crypto.Keccak256(key.Normalize().Bytes())
}

func encodeRecord(key types.Key, v types.Value) ([]byte, error) {
	enc, err := types.EncodeValue(v)
	if err != nil {
		return nil, err
	}
	return rlp.EncodeToBytes(storedRecord{Key: key.Normalize().Bytes(), Value: enc})
}

func decodeRecord(raw []byte) (types.Key, types.Value, error) {
	var rec storedRecord
	if err := rlp.DecodeBytes(raw, &rec); err != nil {
		return types.Key{}, nil, fmt.Errorf("stored record: %w: %v", caperrors.ErrMalformedEncoding, err)
	}
	key, err := types.DecodeKey(rec.Key)
	if err != nil {
		return types.Key{}, nil, err
	}
	value, err := types.DecodeValue(rec.Value)
	if err != nil {
		return types.Key{}, nil, err
	}
	return key, value, nil
}

func readRecord(tr *trie.Trie, path []byte, key types.Key) (types.Value, error) {
	raw, err := tr.Get(path)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("read %s: %w", key, caperrors.ErrValueNotFound)
	}
	storedKey, value, err := decodeRecord(raw)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	if storedKey != key.Normalize() {
		return nil, fmt.Errorf("read %s: stored under %s: %w", key, storedKey, caperrors.ErrMalformedEncoding)
	}
	return value, nil
}
