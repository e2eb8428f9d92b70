package packfile

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"

	"github.com/hashgraft/hashgraft/internal/objstore"
)

const checksumLen = sha256.Size

// Reader gives O(1) lookup of an object's compressed bytes via an in-memory
// manifest index, parsed once at Open time.
type Reader struct {
	path     string
	f        *os.File
	manifest Manifest
	byHash   map[objstore.Hash]ManifestEntry
	bodyEnd  int64 // offset where the chunk region ends (the manifest starts here)
}

// Open parses the header and trailing manifest, returning a Reader ready for
// Get/Has lookups. It does not read or verify chunk bodies.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errFraming("open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errFraming("stat %s: %w", path, err)
	}
	size := info.Size()
	if size < 8+checksumLen+8 {
		f.Close()
		return nil, errFraming("%s too small to be a pack", path)
	}

	header := make([]byte, 8)
	if _, err := f.ReadAt(header, 0); err != nil {
		f.Close()
		return nil, errFraming("read header: %w", err)
	}
	if [4]byte(header[:4]) != Magic {
		f.Close()
		return nil, errFraming("%s: bad magic", path)
	}
	version := getUint32(header[4:8])
	if version != Version {
		f.Close()
		return nil, errFraming("%s: unsupported version %d", path, version)
	}

	lenBuf := make([]byte, 8)
	lenOffset := size - checksumLen - 8
	if _, err := f.ReadAt(lenBuf, lenOffset); err != nil {
		f.Close()
		return nil, errFraming("read manifest length: %w", err)
	}
	manifestLen := getUint64(lenBuf)

	manifestOffset := lenOffset - int64(manifestLen)
	if manifestOffset < 8 {
		f.Close()
		return nil, errFraming("%s: manifest length out of range", path)
	}

	manifestBytes := make([]byte, manifestLen)
	if _, err := f.ReadAt(manifestBytes, manifestOffset); err != nil {
		f.Close()
		return nil, errFraming("read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(manifestBytes, &m); err != nil {
		f.Close()
		return nil, errFraming("parse manifest: %w", err)
	}

	byHash := make(map[objstore.Hash]ManifestEntry, len(m.Entries))
	for _, e := range m.Entries {
		byHash[e.Hash] = e
	}

	return &Reader{
		path:     path,
		f:        f,
		manifest: m,
		byHash:   byHash,
		bodyEnd:  manifestOffset,
	}, nil
}

// Close releases the underlying file handle.
func (r *Reader) Close() error { return r.f.Close() }

// Has reports whether hash is present in this pack.
func (r *Reader) Has(hash objstore.Hash) bool {
	_, ok := r.byHash[hash]
	return ok
}

// Get returns the decompressed bytes for hash, verifying the stored hash
// against the decompressed content.
func (r *Reader) Get(hash objstore.Hash) ([]byte, objstore.Kind, error) {
	entry, ok := r.byHash[hash]
	if !ok {
		return nil, 0, errFraming("object %s not in pack %s", hash, r.path)
	}

	// Chunk layout: [hash][kind byte][codec byte][rawLen u64][storedLen u64][body]
	recHeaderLen := int64(objstore.HashLen + 1 + 1 + 8 + 8)
	bodyOffset := entry.Offset + recHeaderLen
	if bodyOffset+int64(entry.StoredLen) > r.bodyEnd {
		return nil, 0, errFraming("object %s: chunk extends past body region", hash)
	}

	compressed := make([]byte, entry.StoredLen)
	if _, err := r.f.ReadAt(compressed, bodyOffset); err != nil {
		return nil, 0, errFraming("read chunk for %s: %w", hash, err)
	}

	data, err := objstore.Decompress(entry.Codec, compressed)
	if err != nil {
		return nil, 0, errFraming("decompress %s: %w", hash, err)
	}
	if objstore.Sum(data) != hash {
		return nil, 0, errFraming("checksum mismatch for %s", hash)
	}
	return data, entry.Kind, nil
}

// Entries returns the manifest entries in pack order.
func (r *Reader) Entries() []ManifestEntry { return r.manifest.Entries }

// ObjectEntries adapts Entries to objstore.PackReader's shape, letting
// objstore.PackStore enumerate a pack's contents without importing this
// package's ManifestEntry type directly.
func (r *Reader) ObjectEntries() []objstore.PackManifestEntry {
	out := make([]objstore.PackManifestEntry, len(r.manifest.Entries))
	for i, e := range r.manifest.Entries {
		out[i] = objstore.PackManifestEntry{Hash: e.Hash, Kind: e.Kind}
	}
	return out
}

// Verify recomputes the trailing checksum over the whole file (excluding the
// checksum itself) and every chunk's content hash, matching the on-disk
// checksum against the freshly computed one.
func (r *Reader) Verify() error {
	info, err := r.f.Stat()
	if err != nil {
		return errFraming("stat: %w", err)
	}
	size := info.Size()

	want := make([]byte, checksumLen)
	if _, err := r.f.ReadAt(want, size-checksumLen); err != nil {
		return errFraming("read checksum: %w", err)
	}

	h := sha256.New()
	buf := make([]byte, 1<<20)
	remaining := size - checksumLen
	var off int64
	for remaining > 0 {
		n := int64(len(buf))
		if remaining < n {
			n = remaining
		}
		read, err := r.f.ReadAt(buf[:n], off)
		if err != nil {
			return errFraming("verify read: %w", err)
		}
		h.Write(buf[:read])
		off += int64(read)
		remaining -= int64(read)
	}
	got := h.Sum(nil)
	if fmt.Sprintf("%x", got) != fmt.Sprintf("%x", want) {
		return errFraming("%s: checksum mismatch", r.path)
	}

	for _, e := range r.manifest.Entries {
		if _, _, err := r.Get(e.Hash); err != nil {
			return fmt.Errorf("packfile: verify object %s: %w", e.Hash, err)
		}
	}
	return nil
}
