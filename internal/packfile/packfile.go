// Package packfile implements the native chunked pack format: a single file
// holding a deduplicated set of objects plus a JSON manifest and a trailing
// checksum, used to transfer or archive a slice of the object store.
package packfile

import (
	"encoding/binary"
	"fmt"

	"github.com/hashgraft/hashgraft/internal/objstore"
)

// Magic identifies a native pack file; Version is bumped on format changes.
var Magic = [4]byte{'H', 'G', 'P', 'K'}

const Version uint32 = 1

// ChunkHeader precedes each object's compressed bytes within the pack body.
type ChunkHeader struct {
	Hash      objstore.Hash
	Kind      objstore.Kind
	Codec     objstore.Codec
	RawLen    uint64
	StoredLen uint64
}

// Manifest is the JSON trailer describing every chunk's offset, written once
// at the end of the pack so a reader can build an in-memory index with a
// single seek+read instead of scanning the whole body.
type Manifest struct {
	Version uint32         `json:"version"`
	Entries []ManifestEntry `json:"entries"`
}

// ManifestEntry locates one chunk within the pack body.
type ManifestEntry struct {
	Hash      objstore.Hash  `json:"hash"`
	Kind      objstore.Kind  `json:"kind"`
	Codec     objstore.Codec `json:"codec"`
	Offset    int64          `json:"offset"`
	RawLen    uint64         `json:"raw_len"`
	StoredLen uint64         `json:"stored_len"`
}

func putUint64(b []byte, v uint64) { binary.BigEndian.PutUint64(b, v) }
func getUint64(b []byte) uint64    { return binary.BigEndian.Uint64(b) }

func putUint32(b []byte, v uint32) { binary.BigEndian.PutUint32(b, v) }
func getUint32(b []byte) uint32    { return binary.BigEndian.Uint32(b) }

// errFraming wraps the local errors produced while parsing the fixed-layout
// header/trailer; body decompression failures are surfaced by objstore.
func errFraming(format string, args ...any) error {
	return fmt.Errorf("packfile: "+format, args...)
}
