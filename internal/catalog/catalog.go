// Package catalog is the durable key-value store backing the repository's
// named partitions (HEAD, BRANCHES, TAGS, INDEX, COMMITS, REMOTES, STASH,
// OPS, REFLOG), backed by go.etcd.io/bbolt. Each partition is a bbolt bucket;
// multi-key transitions go through WriteBatch for real transactional
// atomicity instead of hand-rolled locking.
package catalog

import (
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// Partition names. Callers reference these constants rather than raw
// strings so a typo doesn't silently create a stray bucket.
const (
	PartitionHead     = "HEAD"
	PartitionBranches = "BRANCHES"
	PartitionTags     = "TAGS"
	PartitionIndex    = "INDEX"
	PartitionCommits  = "COMMITS"
	PartitionRemotes  = "REMOTES"
	PartitionStash    = "STASH"
	PartitionOps      = "OPS"
	PartitionReflog   = "REFLOG"
)

var allPartitions = []string{
	PartitionHead, PartitionBranches, PartitionTags, PartitionIndex,
	PartitionCommits, PartitionRemotes, PartitionStash, PartitionOps,
	PartitionReflog,
}

// Catalog wraps a single bbolt database file holding one bucket per partition.
type Catalog struct {
	db *bolt.DB
}

// Open opens (creating if absent) the catalog database at path and ensures
// every known partition bucket exists.
func Open(path string) (*Catalog, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, p := range allPartitions {
			if _, err := tx.CreateBucketIfNotExists([]byte(p)); err != nil {
				return fmt.Errorf("create bucket %s: %w", p, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: initializing partitions: %w", err)
	}

	return &Catalog{db: db}, nil
}

// Close releases the underlying database file.
func (c *Catalog) Close() error { return c.db.Close() }

// Get reads key from partition, returning (nil, false, nil) if absent.
func (c *Catalog) Get(partition, key string) ([]byte, bool, error) {
	var val []byte
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(partition))
		if b == nil {
			return fmt.Errorf("unknown partition %q", partition)
		}
		v := b.Get([]byte(key))
		if v != nil {
			val = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("catalog: get %s/%s: %w", partition, key, err)
	}
	return val, val != nil, nil
}

// Set writes key=value into partition.
func (c *Catalog) Set(partition, key string, value []byte) error {
	err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(partition))
		if b == nil {
			return fmt.Errorf("unknown partition %q", partition)
		}
		return b.Put([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("catalog: set %s/%s: %w", partition, key, err)
	}
	return nil
}

// Delete removes key from partition. Deleting an absent key is a no-op.
func (c *Catalog) Delete(partition, key string) error {
	err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(partition))
		if b == nil {
			return fmt.Errorf("unknown partition %q", partition)
		}
		return b.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("catalog: delete %s/%s: %w", partition, key, err)
	}
	return nil
}

// Scan yields every key in partition with the given prefix, in bbolt's
// sorted-key order, stopping early if yield returns false.
func (c *Catalog) Scan(partition, prefix string, yield func(key string, value []byte) bool) error {
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(partition))
		if b == nil {
			return fmt.Errorf("unknown partition %q", partition)
		}
		cur := b.Cursor()
		pfx := []byte(prefix)
		for k, v := cur.Seek(pfx); k != nil && hasPrefix(k, pfx); k, v = cur.Next() {
			if !yield(string(k), append([]byte(nil), v...)) {
				break
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("catalog: scan %s/%s*: %w", partition, prefix, err)
	}
	return nil
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Op is one step of a WriteBatch: either a Set (Value != nil) or a Delete
// (Value == nil).
type Op struct {
	Partition string
	Key       string
	Value     []byte // nil means delete
}

// WriteBatch applies every op inside a single bbolt transaction, so either
// all of them land or none do — the primitive every multi-key mutation
// (ref updates, checkout, merge state transitions) is built on.
func (c *Catalog) WriteBatch(ops []Op) error {
	err := c.db.Update(func(tx *bolt.Tx) error {
		for _, op := range ops {
			b := tx.Bucket([]byte(op.Partition))
			if b == nil {
				return fmt.Errorf("unknown partition %q", op.Partition)
			}
			if op.Value == nil {
				if err := b.Delete([]byte(op.Key)); err != nil {
					return err
				}
				continue
			}
			if err := b.Put([]byte(op.Key), op.Value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("catalog: write batch: %w", err)
	}
	return nil
}
