package worktree

import (
	"fmt"
	"iter"
	"os"
	"path/filepath"

	"github.com/hashgraft/hashgraft/internal/index"
	"github.com/hashgraft/hashgraft/internal/objstore"
)

// Blobs is the subset of objstore.Store checkout needs to materialize files.
type Blobs interface {
	Tree
	GetBlob(h objstore.Hash) ([]byte, error)
}

// ErrWouldLoseChanges is returned by CheckoutTree when switching would
// overwrite unstaged or uncommitted changes and force was not set.
type ErrWouldLoseChanges struct {
	Paths []string
}

func (e *ErrWouldLoseChanges) Error() string {
	return fmt.Sprintf("worktree: checkout would overwrite %d locally modified path(s)", len(e.Paths))
}

// CheckoutTree switches the working tree and index to match targetTree,
// following the teacher's refuse-if-would-lose-changes /
// stage-to-temp-then-rename / advance pattern:
//  1. Refuse (unless force) if any path with local, uncommitted changes would
//     be overwritten or removed by the switch.
//  2. Write every file of the target tree to a temp path in its final directory, then
//     rename into place — a crash mid-checkout never leaves a half-written
//     file visible at its real path.
//  3. Replace the index with the target tree's flattened contents.
//
// The caller (repo.Repository.CheckoutBranch) flips HEAD only after this returns
// successfully.
func CheckoutTree(store Blobs, idx *index.Index, workDir string, targetTree objstore.Hash, force bool) error {
	targetFlat := make(map[string]objstore.Hash)
	if !targetTree.IsZero() {
		var err error
		targetFlat, err = flattenTree(store, targetTree, "")
		if err != nil {
			return fmt.Errorf("worktree: checkout: %w", err)
		}
	}

	if !force {
		if conflicts := findConflicting(idx, targetFlat, workDir); len(conflicts) > 0 {
			return &ErrWouldLoseChanges{Paths: conflicts}
		}
	}

	currentPaths := make(map[string]bool)
	for _, e := range idx.Entries() {
		if e.Stage == index.StageNormal {
			currentPaths[e.Path] = true
		}
	}

	// Write/update every path present in the target.
	for path, hash := range targetFlat {
		data, err := store.GetBlob(hash)
		if err != nil {
			return fmt.Errorf("worktree: checkout: reading blob for %s: %w", path, err)
		}
		if err := writeStaged(workDir, path, data); err != nil {
			return fmt.Errorf("worktree: checkout: %w", err)
		}
	}

	// Remove paths tracked now but absent from the target.
	for path := range currentPaths {
		if _, ok := targetFlat[path]; ok {
			continue
		}
		full := filepath.Join(workDir, filepath.FromSlash(path))
		if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("worktree: checkout: removing %s: %w", path, err)
		}
	}

	idx.Clear()
	for path, hash := range targetFlat {
		if _, err := idx.Add(passthroughStore{store}, path, mustBlob(store, hash), objstore.ModeFile); err != nil {
			return fmt.Errorf("worktree: checkout: restaging %s: %w", path, err)
		}
	}
	return nil
}

// passthroughStore adapts Blobs to objstore.Store's PutBlob signature for
// idx.Add, which re-hashes content whose blob is already stored — PutBlob
// here only computes the hash and writes nothing.
type passthroughStore struct{ Blobs }

func (p passthroughStore) PutBlob(data []byte) (objstore.Hash, error) {
	return objstore.Sum(data), nil
}
func (p passthroughStore) PutTree(entries []objstore.TreeEntry) (objstore.Hash, error) {
	return "", fmt.Errorf("worktree: PutTree not supported during checkout restaging")
}
func (p passthroughStore) PutTag(data []byte) (objstore.Hash, error) {
	return "", fmt.Errorf("worktree: PutTag not supported during checkout restaging")
}
func (p passthroughStore) GetTag(h objstore.Hash) ([]byte, error) {
	return nil, fmt.Errorf("worktree: GetTag not supported during checkout restaging")
}
func (p passthroughStore) Has(h objstore.Hash) (bool, error) { return true, nil }
func (p passthroughStore) IterObjects() iter.Seq2[objstore.Object, error] {
	return func(yield func(objstore.Object, error) bool) {}
}

func mustBlob(store Blobs, h objstore.Hash) []byte {
	data, err := store.GetBlob(h)
	if err != nil {
		return nil
	}
	return data
}

// findConflicting returns paths whose on-disk content differs from the
// index AND would be changed by the checkout (added, removed, or modified
// relative to the index) — exactly the set of local edits the switch would
// destroy.
func findConflicting(idx *index.Index, targetFlat map[string]objstore.Hash, workDir string) []string {
	var conflicts []string
	for _, e := range idx.Entries() {
		if e.Stage != index.StageNormal {
			continue
		}
		targetHash, inTarget := targetFlat[e.Path]
		if inTarget && targetHash == e.BlobHash {
			continue // checkout wouldn't touch this path
		}
		full := filepath.Join(workDir, filepath.FromSlash(e.Path))
		data, err := os.ReadFile(full)
		if err != nil {
			continue // already deleted on disk; nothing to lose
		}
		if objstore.Sum(data) != e.BlobHash {
			conflicts = append(conflicts, e.Path)
		}
	}
	return conflicts
}

// writeStaged writes data to a temp file beside its final path, then renames
// it into place, so readers never observe a partially written file.
func writeStaged(workDir, relPath string, data []byte) error {
	full := filepath.Join(workDir, filepath.FromSlash(relPath))
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".checkout-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", relPath, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", relPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp for %s: %w", relPath, err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return fmt.Errorf("rename into place for %s: %w", relPath, err)
	}
	return nil
}

// Restore overwrites the working-tree copies of paths with their content
// from the given tree (used for both `restore --source` and conflict-abort
// recovery), without touching the index.
func Restore(store Blobs, workDir string, fromTree objstore.Hash, paths []string) error {
	flat, err := flattenTree(store, fromTree, "")
	if err != nil {
		return fmt.Errorf("worktree: restore: %w", err)
	}
	for _, p := range paths {
		hash, ok := flat[p]
		if !ok {
			return fmt.Errorf("worktree: restore: %s not present in source tree", p)
		}
		data, err := store.GetBlob(hash)
		if err != nil {
			return fmt.Errorf("worktree: restore: reading blob for %s: %w", p, err)
		}
		if err := writeStaged(workDir, p, data); err != nil {
			return fmt.Errorf("worktree: restore: %w", err)
		}
	}
	return nil
}
