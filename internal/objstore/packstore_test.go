package objstore

import "testing"

// fakePackReader is a hand-rolled PackReader test double, avoiding any
// dependency on internal/packfile's real on-disk format.
type fakePackReader struct {
	objects map[Hash]struct {
		data []byte
		kind Kind
	}
}

func newFakePackReader() *fakePackReader {
	return &fakePackReader{objects: make(map[Hash]struct {
		data []byte
		kind Kind
	})}
}

func (f *fakePackReader) put(h Hash, kind Kind, data []byte) {
	f.objects[h] = struct {
		data []byte
		kind Kind
	}{data: data, kind: kind}
}

func (f *fakePackReader) Has(h Hash) bool {
	_, ok := f.objects[h]
	return ok
}

func (f *fakePackReader) Get(h Hash) ([]byte, Kind, error) {
	o, ok := f.objects[h]
	if !ok {
		return nil, 0, errPackObjectNotFound(h)
	}
	return o.data, o.kind, nil
}

func (f *fakePackReader) ObjectEntries() []PackManifestEntry {
	entries := make([]PackManifestEntry, 0, len(f.objects))
	for h, o := range f.objects {
		entries = append(entries, PackManifestEntry{Hash: h, Kind: o.kind})
	}
	return entries
}

type packObjectNotFoundError struct{ hash Hash }

func (e *packObjectNotFoundError) Error() string { return "objstore: object " + string(e.hash) + " not found in pack" }

func errPackObjectNotFound(h Hash) error { return &packObjectNotFoundError{hash: h} }

func TestPackStoreGetBlob(t *testing.T) {
	reader := newFakePackReader()
	data := []byte("packed content")
	h := Sum(data)
	reader.put(h, KindBlob, data)

	store := NewPackStore(reader)
	got, err := store.GetBlob(h)
	if err != nil {
		t.Fatalf("GetBlob: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("GetBlob = %q, want %q", got, data)
	}
}

func TestPackStoreHas(t *testing.T) {
	reader := newFakePackReader()
	data := []byte("x")
	h := Sum(data)
	reader.put(h, KindBlob, data)

	store := NewPackStore(reader)
	if ok, err := store.Has(h); err != nil || !ok {
		t.Errorf("Has(%s) = %v, %v, want true, nil", h, ok, err)
	}
	if ok, _ := store.Has(Sum([]byte("never packed"))); ok {
		t.Error("Has should be false for an object never added to the pack")
	}
}

func TestPackStoreGetTree(t *testing.T) {
	reader := newFakePackReader()
	tree := &Tree{Entries: []TreeEntry{{Name: "a.txt", Mode: ModeFile, ChildHash: Sum([]byte("leaf"))}}}
	encoded := tree.Encode()
	h := Sum(encoded)
	reader.put(h, KindTree, encoded)

	store := NewPackStore(reader)
	got, err := store.GetTree(h)
	if err != nil {
		t.Fatalf("GetTree: %v", err)
	}
	if len(got.Entries) != 1 || got.Entries[0].Name != "a.txt" {
		t.Errorf("GetTree = %+v", got.Entries)
	}
}

func TestPackStoreWritesAreRejected(t *testing.T) {
	store := NewPackStore(newFakePackReader())
	if _, err := store.PutBlob([]byte("x")); err == nil {
		t.Error("PutBlob on a PackStore should be rejected")
	}
	if _, err := store.PutTree(nil); err == nil {
		t.Error("PutTree on a PackStore should be rejected")
	}
	if _, err := store.PutTag([]byte("x")); err == nil {
		t.Error("PutTag on a PackStore should be rejected")
	}
}

func TestPackStoreIterObjects(t *testing.T) {
	reader := newFakePackReader()
	h1 := Sum([]byte("one"))
	h2 := Sum([]byte("two"))
	reader.put(h1, KindBlob, []byte("one"))
	reader.put(h2, KindBlob, []byte("two"))

	store := NewPackStore(reader)
	seen := make(map[Hash]bool)
	for obj, err := range store.IterObjects() {
		if err != nil {
			t.Fatalf("IterObjects: %v", err)
		}
		seen[obj.Hash] = true
	}
	if !seen[h1] || !seen[h2] {
		t.Errorf("IterObjects did not yield both objects, got %v", seen)
	}
}
