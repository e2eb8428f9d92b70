package objstore

import "iter"

// PackReader is the subset of internal/packfile.Reader this package depends
// on, kept as a local interface so objstore never imports packfile directly
// (packfile imports objstore for Hash/Kind/Codec; the reverse import would cycle).
type PackReader interface {
	Has(h Hash) bool
	Get(h Hash) ([]byte, Kind, error)
	ObjectEntries() []PackManifestEntry
}

// PackManifestEntry mirrors packfile.ManifestEntry's identity fields, enough
// for PackStore.IterObjects to enumerate without depending on packfile's type.
type PackManifestEntry struct {
	Hash Hash
	Kind Kind
}

// PackStore is a read-only Store backed by one opened native pack file.
type PackStore struct {
	r PackReader
}

// NewPackStore wraps an already-opened pack reader.
func NewPackStore(r PackReader) *PackStore {
	return &PackStore{r: r}
}

func (s *PackStore) Has(h Hash) (bool, error) { return s.r.Has(h), nil }

func (s *PackStore) GetBlob(h Hash) ([]byte, error) {
	data, _, err := s.r.Get(h)
	return data, err
}

func (s *PackStore) GetTree(h Hash) (*Tree, error) {
	data, _, err := s.r.Get(h)
	if err != nil {
		return nil, err
	}
	return DecodeTree(data)
}

func (s *PackStore) GetTag(h Hash) ([]byte, error) {
	data, _, err := s.r.Get(h)
	return data, err
}

// PutBlob, PutTree, and PutTag are unsupported: packs are written in one pass
// by internal/packfile.Writer, not incrementally through the Store interface.
func (s *PackStore) PutBlob(data []byte) (Hash, error) {
	return "", errReadOnly("PutBlob")
}

func (s *PackStore) PutTree(entries []TreeEntry) (Hash, error) {
	return "", errReadOnly("PutTree")
}

func (s *PackStore) PutTag(data []byte) (Hash, error) {
	return "", errReadOnly("PutTag")
}

func (s *PackStore) IterObjects() iter.Seq2[Object, error] {
	return func(yield func(Object, error) bool) {
		for _, e := range s.r.ObjectEntries() {
			data, _, err := s.r.Get(e.Hash)
			if !yield(Object{Hash: e.Hash, Kind: e.Kind, Data: data}, err) {
				return
			}
		}
	}
}

func errReadOnly(op string) error {
	return &readOnlyError{op: op}
}

type readOnlyError struct{ op string }

func (e *readOnlyError) Error() string {
	return "objstore: " + e.op + " unsupported on a read-only pack store"
}
