package repo

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashgraft/hashgraft/internal/catalog"
	"github.com/hashgraft/hashgraft/internal/commitgraph"
	"github.com/hashgraft/hashgraft/internal/index"
	"github.com/hashgraft/hashgraft/internal/objstore"
	"github.com/hashgraft/hashgraft/internal/worktree"
)

// Stash is one saved {index, working tree} pair, set aside so the working
// directory can be returned to a clean state without losing in-progress
// changes.
type Stash struct {
	ID           int
	Message      string
	WorktreeTree objstore.Hash
	IndexTree    objstore.Hash
	BaseCommit   objstore.Hash
	Author       commitgraph.Signature
	When         time.Time
}

const stashListKey = "list"

func loadStashList(cat *catalog.Catalog) ([]*Stash, error) {
	data, ok, err := cat.Get(catalog.PartitionStash, stashListKey)
	if err != nil {
		return nil, fmt.Errorf("repo: stash: loading list: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var list []*Stash
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&list); err != nil {
		return nil, fmt.Errorf("repo: stash: decoding list: %w", err)
	}
	return list, nil
}

func saveStashList(cat *catalog.Catalog, list []*Stash) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(list); err != nil {
		return fmt.Errorf("repo: stash: encoding list: %w", err)
	}
	if err := cat.Set(catalog.PartitionStash, stashListKey, buf.Bytes()); err != nil {
		return fmt.Errorf("repo: stash: saving list: %w", err)
	}
	return nil
}

func nextStashID(list []*Stash) int {
	max := -1
	for _, s := range list {
		if s.ID > max {
			max = s.ID
		}
	}
	return max + 1
}

// StashList returns every saved stash, oldest first.
func (r *Repository) StashList() ([]*Stash, error) {
	return loadStashList(r.cat)
}

// StashPush snapshots the current index and working tree as a new stash,
// then resets both back to HEAD, the same "set this work aside" operation
// Reset's hard mode performs but preserving what it would otherwise discard.
func (r *Repository) StashPush(message string, author commitgraph.Signature) (*Stash, error) {
	head, err := r.refs.GetHead()
	if err != nil {
		return nil, fmt.Errorf("repo: stash: %w", err)
	}
	headTree, err := r.headTree()
	if err != nil {
		return nil, err
	}

	headFlat, err := flattenStoreTreeWithMode(r.store, headTree)
	if err != nil {
		return nil, fmt.Errorf("repo: stash: %w", err)
	}
	indexFlat := make(map[string]objstore.TreeEntry, len(headFlat))
	for p, e := range headFlat {
		indexFlat[p] = e
	}
	for _, e := range r.idx.Entries() {
		if e.Stage != index.StageNormal {
			continue
		}
		indexFlat[e.Path] = objstore.TreeEntry{Name: e.Path, Mode: e.Mode, ChildHash: e.BlobHash}
	}
	indexTree, err := buildStoreTreeWithModes(r.store, indexFlat)
	if err != nil {
		return nil, fmt.Errorf("repo: stash: building index tree: %w", err)
	}

	worktreeFlat, err := r.snapshotWorkingTree()
	if err != nil {
		return nil, err
	}
	worktreeTree, err := buildStoreTreeWithModes(r.store, worktreeFlat)
	if err != nil {
		return nil, fmt.Errorf("repo: stash: building worktree tree: %w", err)
	}

	list, err := loadStashList(r.cat)
	if err != nil {
		return nil, err
	}
	st := &Stash{
		ID:           nextStashID(list),
		Message:      message,
		WorktreeTree: worktreeTree,
		IndexTree:    indexTree,
		BaseCommit:   head.Commit,
		Author:       author,
		When:         time.Now(),
	}
	list = append(list, st)
	if err := saveStashList(r.cat, list); err != nil {
		return nil, err
	}

	if err := worktree.CheckoutTree(r.store, r.idx, r.workDir, headTree, true); err != nil {
		return nil, fmt.Errorf("repo: stash: resetting working tree: %w", err)
	}
	if err := r.idx.Save(r.cat); err != nil {
		return nil, fmt.Errorf("repo: stash: %w", err)
	}
	r.log.Info("stash push", "id", st.ID, "message", message)
	return st, nil
}

// StashApply restores a previously pushed stash's index and working tree
// without removing it from the list; StashPop does the same and then drops
// it.
func (r *Repository) StashApply(id int) error {
	list, err := loadStashList(r.cat)
	if err != nil {
		return err
	}
	st := findStash(list, id)
	if st == nil {
		return fmt.Errorf("repo: stash: no stash with id %d", id)
	}

	if err := worktree.CheckoutTree(r.store, r.idx, r.workDir, st.WorktreeTree, true); err != nil {
		return fmt.Errorf("repo: stash: restoring working tree: %w", err)
	}

	indexFlat, err := flattenStoreTreeWithMode(r.store, st.IndexTree)
	if err != nil {
		return fmt.Errorf("repo: stash: %w", err)
	}
	r.idx.Clear()
	for path, entry := range indexFlat {
		data, err := r.store.GetBlob(entry.ChildHash)
		if err != nil {
			return fmt.Errorf("repo: stash: reading %s: %w", path, err)
		}
		if _, err := r.idx.Add(r.store, path, data, entry.Mode); err != nil {
			return fmt.Errorf("repo: stash: restaging %s: %w", path, err)
		}
	}
	if err := r.idx.Save(r.cat); err != nil {
		return fmt.Errorf("repo: stash: %w", err)
	}
	r.log.Info("stash apply", "id", id)
	return nil
}

// StashPop applies the stash and removes it from the list.
func (r *Repository) StashPop(id int) error {
	if err := r.StashApply(id); err != nil {
		return err
	}
	list, err := loadStashList(r.cat)
	if err != nil {
		return err
	}
	out := list[:0]
	for _, s := range list {
		if s.ID != id {
			out = append(out, s)
		}
	}
	return saveStashList(r.cat, out)
}

// StashDrop removes a stash without applying it.
func (r *Repository) StashDrop(id int) error {
	list, err := loadStashList(r.cat)
	if err != nil {
		return err
	}
	out := list[:0]
	found := false
	for _, s := range list {
		if s.ID == id {
			found = true
			continue
		}
		out = append(out, s)
	}
	if !found {
		return fmt.Errorf("repo: stash: no stash with id %d", id)
	}
	return saveStashList(r.cat, out)
}

func findStash(list []*Stash, id int) *Stash {
	for _, s := range list {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// snapshotWorkingTree hashes every non-ignored file currently on disk into
// the object store, returning a flat path -> entry map ready for
// buildStoreTreeWithModes.
func (r *Repository) snapshotWorkingTree() (map[string]objstore.TreeEntry, error) {
	matcher := worktree.LoadMatcher(r.workDir, r.ctrlDir)
	flat := make(map[string]objstore.TreeEntry)
	err := filepath.Walk(r.workDir, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, relErr := filepath.Rel(r.workDir, path)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		relSlash := filepath.ToSlash(rel)
		if info.IsDir() {
			if rel == filepath.Base(r.ctrlDir) {
				return filepath.SkipDir
			}
			if matcher.IsIgnored(relSlash, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if matcher.IsIgnored(relSlash, false) {
			return nil
		}
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return readErr
		}
		mode := objstore.ModeFile
		if info.Mode()&os.ModeSymlink != 0 {
			mode = objstore.ModeSymlink
		} else if info.Mode()&0o111 != 0 {
			mode = objstore.ModeExec
		}
		h, putErr := r.store.PutBlob(data)
		if putErr != nil {
			return putErr
		}
		flat[relSlash] = objstore.TreeEntry{Name: relSlash, Mode: mode, ChildHash: h}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("repo: stash: walking working tree: %w", err)
	}
	return flat, nil
}

// flattenStoreTreeWithMode walks a tree into a flat path->entry map,
// preserving each leaf's mode so a stash snapshot or a freshly built commit
// tree doesn't silently normalize exec/symlink bits back to a plain file.
func flattenStoreTreeWithMode(store objstore.Store, treeHash objstore.Hash) (map[string]objstore.TreeEntry, error) {
	out := make(map[string]objstore.TreeEntry)
	if treeHash.IsZero() {
		return out, nil
	}
	var walk func(h objstore.Hash, prefix string) error
	walk = func(h objstore.Hash, prefix string) error {
		tree, err := store.GetTree(h)
		if err != nil {
			return err
		}
		for _, e := range tree.Entries {
			p := e.Name
			if prefix != "" {
				p = prefix + "/" + e.Name
			}
			if e.Mode.IsDir() {
				if err := walk(e.ChildHash, p); err != nil {
					return err
				}
			} else {
				out[p] = objstore.TreeEntry{Name: p, Mode: e.Mode, ChildHash: e.ChildHash}
			}
		}
		return nil
	}
	if err := walk(treeHash, ""); err != nil {
		return nil, err
	}
	return out, nil
}

// buildStoreTreeWithModes builds nested trees from a flat path->entry map,
// preserving each entry's original mode.
func buildStoreTreeWithModes(store objstore.Store, flat map[string]objstore.TreeEntry) (objstore.Hash, error) {
	type node struct {
		children map[string]*node
		blob     objstore.Hash
		mode     objstore.Mode
		isLeaf   bool
	}
	root := &node{children: make(map[string]*node)}
	for path, entry := range flat {
		var parts []string
		start := 0
		for i := 0; i < len(path); i++ {
			if path[i] == '/' {
				parts = append(parts, path[start:i])
				start = i + 1
			}
		}
		parts = append(parts, path[start:])

		cur := root
		for i, part := range parts {
			if i == len(parts)-1 {
				cur.children[part] = &node{blob: entry.ChildHash, mode: entry.Mode, isLeaf: true}
				continue
			}
			child, ok := cur.children[part]
			if !ok {
				child = &node{children: make(map[string]*node)}
				cur.children[part] = child
			}
			cur = child
		}
	}

	var write func(n *node) (objstore.Hash, error)
	write = func(n *node) (objstore.Hash, error) {
		var entries []objstore.TreeEntry
		for name, child := range n.children {
			if child.isLeaf {
				entries = append(entries, objstore.TreeEntry{Name: name, Mode: child.mode, ChildHash: child.blob})
				continue
			}
			h, err := write(child)
			if err != nil {
				return "", err
			}
			entries = append(entries, objstore.TreeEntry{Name: name, Mode: objstore.ModeDir, ChildHash: h})
		}
		return store.PutTree(entries)
	}
	return write(root)
}
