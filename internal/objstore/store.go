package objstore

import "iter"

// Object is a raw, typed payload as stored on disk, before it has been
// parsed into a Tree or decoded as a blob. IterObjects yields these.
type Object struct {
	Hash Hash
	Kind Kind
	Data []byte
}

// Store is the capability set every object-store backend implements:
// put/get/has/iter. FileStore (loose objects) and a pack-backed reader both
// satisfy this; Layered tries loose first, then packs, by hash.
type Store interface {
	PutBlob(data []byte) (Hash, error)
	GetBlob(h Hash) ([]byte, error)
	PutTree(entries []TreeEntry) (Hash, error)
	GetTree(h Hash) (*Tree, error)
	PutTag(data []byte) (Hash, error)
	GetTag(h Hash) ([]byte, error)
	Has(h Hash) (bool, error)
	// IterObjects yields every object reachable from this store, used by gc
	// and pack export. Implementations lazily decompress on demand.
	IterObjects() iter.Seq2[Object, error]
}
