package packfile

import (
	"crypto/sha256"
	"encoding/json"
	"hash"
	"io"
	"os"

	"github.com/hashgraft/hashgraft/internal/objstore"
)

// Writer emits a native pack: magic/version header, one chunk per unique
// object (deduplicated by hash, write-once), a JSON manifest, and a trailing
// checksum over everything written before it.
type Writer struct {
	f       *os.File
	w       io.Writer
	h       hash.Hash
	seen    map[objstore.Hash]bool
	entries []ManifestEntry
	offset  int64
}

func (w *Writer) write(p []byte) error {
	if _, err := w.w.Write(p); err != nil {
		return err
	}
	w.h.Write(p)
	return nil
}

// Create opens path for writing and emits the fixed header.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errFraming("create %s: %w", path, err)
	}

	w := &Writer{
		f:    f,
		w:    f,
		h:    sha256.New(),
		seen: make(map[objstore.Hash]bool),
	}

	header := append([]byte{}, Magic[:]...)
	vb := make([]byte, 4)
	putUint32(vb, Version)
	header = append(header, vb...)

	if err := w.write(header); err != nil {
		f.Close()
		return nil, errFraming("write header: %w", err)
	}
	w.offset = int64(len(header))
	return w, nil
}

// WriteObject appends one compressed object to the pack, skipping it if its
// hash has already been written (dedup by hash).
func (w *Writer) WriteObject(hash objstore.Hash, kind objstore.Kind, raw []byte) error {
	if w.seen[hash] {
		return nil
	}

	compressed, err := objstore.Compress(objstore.CodecZstd, objstore.LevelDefault, raw)
	if err != nil {
		return errFraming("compress %s: %w", hash, err)
	}

	rec := make([]byte, 0, objstore.HashLen+1+1+8+8)
	rec = append(rec, []byte(hash)...)
	rec = append(rec, byte(kind))
	rec = append(rec, byte(objstore.CodecZstd))
	lb := make([]byte, 8)
	putUint64(lb, uint64(len(raw)))
	rec = append(rec, lb...)
	putUint64(lb, uint64(len(compressed)))
	rec = append(rec, lb...)

	offsetBefore := w.offset
	if err := w.write(rec); err != nil {
		return errFraming("write chunk header for %s: %w", hash, err)
	}
	if err := w.write(compressed); err != nil {
		return errFraming("write chunk body for %s: %w", hash, err)
	}

	w.entries = append(w.entries, ManifestEntry{
		Hash:      hash,
		Kind:      kind,
		Codec:     objstore.CodecZstd,
		Offset:    offsetBefore,
		RawLen:    uint64(len(raw)),
		StoredLen: uint64(len(compressed)),
	})
	w.seen[hash] = true
	w.offset += int64(len(rec) + len(compressed))
	return nil
}

// Close writes the manifest and trailing checksum, then closes the file.
func (w *Writer) Close() error {
	manifest := Manifest{Version: Version, Entries: w.entries}
	body, err := json.Marshal(manifest)
	if err != nil {
		w.f.Close()
		return errFraming("marshal manifest: %w", err)
	}

	lb := make([]byte, 8)
	putUint64(lb, uint64(len(body)))
	if err := w.write(body); err != nil {
		w.f.Close()
		return errFraming("write manifest: %w", err)
	}
	if err := w.write(lb); err != nil {
		w.f.Close()
		return errFraming("write manifest length: %w", err)
	}

	checksum := w.h.Sum(nil)
	if _, err := w.f.Write(checksum); err != nil {
		w.f.Close()
		return errFraming("write checksum: %w", err)
	}

	if err := w.f.Sync(); err != nil {
		w.f.Close()
		return errFraming("fsync: %w", err)
	}
	return w.f.Close()
}

// WritePack is a convenience wrapper creating path, writing every object
// yielded by objs, and closing the writer. Callers that need more control
// (e.g. streaming from multiple sources) should use Create/WriteObject/Close
// directly.
func WritePack(path string, objs func(yield func(hash objstore.Hash, kind objstore.Kind, raw []byte) bool)) error {
	w, err := Create(path)
	if err != nil {
		return err
	}
	var writeErr error
	objs(func(hash objstore.Hash, kind objstore.Kind, raw []byte) bool {
		if err := w.WriteObject(hash, kind, raw); err != nil {
			writeErr = err
			return false
		}
		return true
	})
	if writeErr != nil {
		w.f.Close()
		return writeErr
	}
	return w.Close()
}
