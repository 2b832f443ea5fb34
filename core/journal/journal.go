// Package journal records the lineage of committed state roots: the genesis
// root and every prestate to poststate transition after it.
package journal

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	bolt "go.etcd.io/bbolt"

	"capstore/core/types"
)

var (
	bucketMeta    = []byte("meta")
	bucketCommits = []byte("commits")

	keyGenesis = []byte("genesis")

	// ErrNoGenesis is returned when the journal has no genesis record.
	ErrNoGenesis = errors.New("journal: no genesis recorded")
	// ErrGenesisExists is returned when a second genesis is recorded.
	ErrGenesisExists = errors.New("journal: genesis already recorded")
)

// GenesisRecord describes the first committed root.
type GenesisRecord struct {
	Root            common.Hash   `json:"root"`
	SystemAccount   types.Address `json:"systemAccount"`
	Mint            types.URef    `json:"mint"`
	PoS             types.URef    `json:"pos"`
	ProtocolVersion uint64        `json:"protocolVersion"`
	RecordedAt      time.Time     `json:"recordedAt"`
}

// CommitRecord is one successful commit.
type CommitRecord struct {
	Seq         uint64      `json:"seq"`
	Prestate    common.Hash `json:"prestate"`
	Poststate   common.Hash `json:"poststate"`
	ExecutionID string      `json:"executionId,omitempty"`
	Keys        int         `json:"keys"`
	RecordedAt  time.Time   `json:"recordedAt"`
}

// Journal persists root lineage in a bbolt file.
type Journal struct {
	db    *bolt.DB
	clock func() time.Time
}

// Open opens or creates the journal at path.
func Open(path string, options *bolt.Options) (*Journal, error) {
	if options == nil {
		options = &bolt.Options{Timeout: time.Second}
	} else if options.Timeout == 0 {
		options.Timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, options)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketMeta, bucketCommits} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Journal{db: db, clock: time.Now}, nil
}

// Close releases the bbolt handle.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// RecordGenesis stores rec. Only one genesis may be recorded.
func (j *Journal) RecordGenesis(rec GenesisRecord) error {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = j.clock().UTC()
	}
	return j.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMeta)
		if bucket.Get(keyGenesis) != nil {
			return ErrGenesisExists
		}
		encoded, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return bucket.Put(keyGenesis, encoded)
	})
}

// Genesis returns the genesis record or ErrNoGenesis.
func (j *Journal) Genesis() (GenesisRecord, error) {
	var rec GenesisRecord
	err := j.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketMeta).Get(keyGenesis)
		if raw == nil {
			return ErrNoGenesis
		}
		return json.Unmarshal(raw, &rec)
	})
	return rec, err
}

// AppendCommit records a commit and returns it with its sequence number.
func (j *Journal) AppendCommit(prestate, poststate common.Hash, executionID string, keys int) (CommitRecord, error) {
	rec := CommitRecord{
		Prestate:    prestate,
		Poststate:   poststate,
		ExecutionID: executionID,
		Keys:        keys,
		RecordedAt:  j.clock().UTC(),
	}
	err := j.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketCommits)
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		rec.Seq = seq
		encoded, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return bucket.Put(seqKey(seq), encoded)
	})
	return rec, err
}

// Commits calls fn for every commit in order until fn returns false.
func (j *Journal) Commits(fn func(CommitRecord) bool) error {
	return j.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketCommits).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var rec CommitRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if !fn(rec) {
				return nil
			}
		}
		return nil
	})
}

// Head is the most recent root: the last poststate, or the genesis root when
// nothing has been committed since.
func (j *Journal) Head() (common.Hash, error) {
	gen, err := j.Genesis()
	if err != nil {
		return common.Hash{}, err
	}
	head := gen.Root
	err = j.db.View(func(tx *bolt.Tx) error {
		_, v := tx.Bucket(bucketCommits).Cursor().Last()
		if v == nil {
			return nil
		}
		var rec CommitRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return err
		}
		head = rec.Poststate
		return nil
	})
	return head, err
}

func seqKey(seq uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], seq)
	return b[:]
}
