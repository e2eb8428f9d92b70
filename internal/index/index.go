// Package index implements the staging area: the map from path to staged
// blob that sits between the working tree and the next commit, including
// merge conflict stages.
package index

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hashgraft/hashgraft/internal/catalog"
	"github.com/hashgraft/hashgraft/internal/objstore"
)

// ConflictStage marks which side of an unresolved merge an entry belongs to.
// 0 is the normal, non-conflicted state; 1-3 mirror Git's own stage encoding
// so merge conflict resolution can reuse the same three-way shape.
type ConflictStage int

const (
	StageNormal ConflictStage = 0
	StageBase   ConflictStage = 1
	StageOurs   ConflictStage = 2
	StageTheirs ConflictStage = 3
)

// Entry is one staged path. A path in conflict has up to three Entry values
// (one per non-zero stage) instead of a single StageNormal entry.
type Entry struct {
	Path     string
	BlobHash objstore.Hash
	Mode     objstore.Mode
	Size     int64
	Mtime    time.Time
	Stage    ConflictStage
}

// key combines path and stage since a conflicted path has multiple entries.
type key struct {
	Path  string
	Stage ConflictStage
}

// Index is the in-memory staging snapshot, persisted as a single gob blob
// in the catalog's INDEX partition under a fixed key. The index is small
// enough in scope that a per-path bucket would add no value over one
// encoded snapshot, and it keeps "clear index" O(1).
type Index struct {
	entries map[key]*Entry
}

const snapshotKey = "snapshot"

// New returns an empty index.
func New() *Index {
	return &Index{entries: make(map[key]*Entry)}
}

// Load reads the persisted snapshot from cat, returning an empty Index if
// none exists yet.
func Load(cat *catalog.Catalog) (*Index, error) {
	data, ok, err := cat.Get(catalog.PartitionIndex, snapshotKey)
	if err != nil {
		return nil, fmt.Errorf("index: load: %w", err)
	}
	if !ok {
		return New(), nil
	}

	var entries []*Entry
	dec := gob.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&entries); err != nil {
		return nil, fmt.Errorf("index: decode snapshot: %w", err)
	}

	idx := New()
	for _, e := range entries {
		idx.entries[key{e.Path, e.Stage}] = e
	}
	return idx, nil
}

// Save persists the whole index as one gob-encoded snapshot.
func (idx *Index) Save(cat *catalog.Catalog) error {
	entries := idx.Entries()
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(entries); err != nil {
		return fmt.Errorf("index: encode snapshot: %w", err)
	}
	if err := cat.Set(catalog.PartitionIndex, snapshotKey, buf.Bytes()); err != nil {
		return fmt.Errorf("index: save: %w", err)
	}
	return nil
}

// ValidatePath rejects paths that escape the repository root, contain NUL
// bytes, or exceed the length/depth bounds every staged path must satisfy.
func ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("index: empty path")
	}
	if strings.ContainsRune(path, 0) {
		return fmt.Errorf("index: path %q contains a NUL byte", path)
	}
	if strings.HasPrefix(path, "/") {
		return fmt.Errorf("index: path %q is absolute", path)
	}
	for _, part := range strings.Split(path, "/") {
		if part == ".." {
			return fmt.Errorf("index: path %q escapes the repository root", path)
		}
	}
	const maxPathLen = 4096
	if len(path) > maxPathLen {
		return fmt.Errorf("index: path %q exceeds %d bytes", path, maxPathLen)
	}
	const maxDepth = 256
	if strings.Count(path, "/") > maxDepth {
		return fmt.Errorf("index: path %q exceeds max depth %d", path, maxDepth)
	}
	return nil
}

// Add stages data at path: the content is written to store as a blob, and a
// normal-stage entry replaces any existing entry for path (including
// clearing any conflict stages left over from an aborted merge).
func (idx *Index) Add(store objstore.Store, path string, data []byte, mode objstore.Mode) (*Entry, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}
	h, err := store.PutBlob(data)
	if err != nil {
		return nil, fmt.Errorf("index: add %s: %w", path, err)
	}
	idx.clearConflicts(path)
	e := &Entry{
		Path:     path,
		BlobHash: h,
		Mode:     mode,
		Size:     int64(len(data)),
		Mtime:    time.Now(),
		Stage:    StageNormal,
	}
	idx.entries[key{path, StageNormal}] = e
	return e, nil
}

// AddConflict stages one side of a merge conflict at path/stage directly
// (used by internal/merge when writing base/ours/theirs entries).
func (idx *Index) AddConflict(path string, stage ConflictStage, blobHash objstore.Hash, mode objstore.Mode) error {
	if err := ValidatePath(path); err != nil {
		return err
	}
	if stage == StageNormal {
		return fmt.Errorf("index: AddConflict called with StageNormal for %s", path)
	}
	delete(idx.entries, key{path, StageNormal})
	idx.entries[key{path, stage}] = &Entry{
		Path: path, BlobHash: blobHash, Mode: mode, Stage: stage, Mtime: time.Now(),
	}
	return nil
}

func (idx *Index) clearConflicts(path string) {
	delete(idx.entries, key{path, StageBase})
	delete(idx.entries, key{path, StageOurs})
	delete(idx.entries, key{path, StageTheirs})
}

// Remove unstages path entirely, including any conflict stages.
func (idx *Index) Remove(path string) {
	delete(idx.entries, key{path, StageNormal})
	idx.clearConflicts(path)
}

// Get returns the normal-stage entry for path, or nil if not staged (or only
// staged as an unresolved conflict).
func (idx *Index) Get(path string) *Entry {
	return idx.entries[key{path, StageNormal}]
}

// GetStage returns the entry for path at a specific stage, or nil.
func (idx *Index) GetStage(path string, stage ConflictStage) *Entry {
	return idx.entries[key{path, stage}]
}

// IsConflicted reports whether path has any non-normal stage entries.
func (idx *Index) IsConflicted(path string) bool {
	for _, s := range []ConflictStage{StageBase, StageOurs, StageTheirs} {
		if _, ok := idx.entries[key{path, s}]; ok {
			return true
		}
	}
	return false
}

// Entries returns every entry, sorted by path then stage, for deterministic
// iteration and snapshot encoding.
func (idx *Index) Entries() []*Entry {
	out := make([]*Entry, 0, len(idx.entries))
	for _, e := range idx.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Stage < out[j].Stage
	})
	return out
}

// Find returns every entry whose path has the given prefix.
func (idx *Index) Find(prefix string) []*Entry {
	var out []*Entry
	for _, e := range idx.Entries() {
		if strings.HasPrefix(e.Path, prefix) {
			out = append(out, e)
		}
	}
	return out
}

// Clear empties the index entirely (used by hard reset).
func (idx *Index) Clear() {
	idx.entries = make(map[key]*Entry)
}
