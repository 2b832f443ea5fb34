// Package trie holds the Merkle-Patricia trie that global state roots are
// computed over. Paths handed to it are already keccak256 hashes of normalized
// keys; the trie itself knows nothing about keys or values.
package trie

import (
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethtrie "github.com/ethereum/go-ethereum/trie"
	"github.com/ethereum/go-ethereum/trie/trienode"
	"github.com/ethereum/go-ethereum/triedb"

	"capstore/storage"
)

// EmptyRoot is the state root with no entries.
var EmptyRoot = gethtypes.EmptyRootHash

// Trie is a mutable view over one state root. Updates stay in memory until
// Commit, which yields the next root and reopens the view on it. Not safe for
// concurrent use; TrieState serializes commits.
type Trie struct {
	db   *triedb.Database
	trie *gethtrie.Trie
}

// NewTrie opens the view at root. Nil or empty root means EmptyRoot. A root
// that was never committed to store fails to open.
func NewTrie(store storage.Database, root []byte) (*Trie, error) {
	at := EmptyRoot
	if len(root) > 0 {
		at = common.BytesToHash(root)
	}
	t := &Trie{db: store.TrieDB()}
	if err := t.Reset(at); err != nil {
		return nil, err
	}
	return t, nil
}

// Get returns the record at path, nil when absent.
func (t *Trie) Get(path []byte) ([]byte, error) { return t.trie.Get(path) }

func (t *Trie) Update(path, record []byte) error { return t.trie.Update(path, record) }
func (t *Trie) Delete(path []byte) error         { return t.trie.Delete(path) }

// Hash is the root the pending updates would commit to.
func (t *Trie) Hash() common.Hash { return t.trie.Hash() }

// Reset drops pending updates and reopens the view at root. Used to undo a
// commit that failed halfway through applying its effects.
func (t *Trie) Reset(root common.Hash) error {
	reopened, err := gethtrie.New(gethtrie.TrieID(root), t.db)
	if err != nil {
		return err
	}
	t.trie = reopened
	return nil
}

// Commit flushes pending nodes as the child of parent at the given lineage
// height and reopens the view on the new root.
func (t *Trie) Commit(parent common.Hash, height uint64) (common.Hash, error) {
	next, nodes := t.trie.Commit(false)
	if nodes != nil {
		set := trienode.NewMergedNodeSet()
		if err := set.Merge(nodes); err != nil {
			return common.Hash{}, err
		}
		if err := t.db.Update(next, parent, height, set, nil); err != nil {
			return common.Hash{}, err
		}
		if err := t.db.Commit(next, false); err != nil {
			return common.Hash{}, err
		}
	}
	if err := t.Reset(next); err != nil {
		return common.Hash{}, err
	}
	return next, nil
}

// Iterate calls fn for every record in path order until fn returns false.
func (t *Trie) Iterate(fn func(path, record []byte) bool) error {
	nodes, err := t.trie.NodeIterator(nil)
	if err != nil {
		return err
	}
	it := gethtrie.NewIterator(nodes)
	for it.Next() {
		if !fn(it.Key, it.Value) {
			return nil
		}
	}
	return it.Err
}
