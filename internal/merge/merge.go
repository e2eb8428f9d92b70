package merge

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashgraft/hashgraft/internal/catalog"
	"github.com/hashgraft/hashgraft/internal/commitgraph"
	"github.com/hashgraft/hashgraft/internal/index"
	"github.com/hashgraft/hashgraft/internal/objstore"
	"github.com/hashgraft/hashgraft/internal/worktree"
)

// OpKind names the operation currently in progress, persisted so a crash or
// restart can resume or abort cleanly instead of leaving an ambiguous state.
type OpKind int

const (
	OpClean OpKind = iota
	OpMerging
	OpCherryPicking
	OpRebasing
	OpBisecting
)

func (k OpKind) String() string {
	switch k {
	case OpClean:
		return "clean"
	case OpMerging:
		return "merging"
	case OpCherryPicking:
		return "cherry-picking"
	case OpRebasing:
		return "rebasing"
	case OpBisecting:
		return "bisecting"
	default:
		return "unknown"
	}
}

// OpState is the persisted snapshot of an in-progress operation.
type OpState struct {
	Kind          OpKind
	Original      objstore.Hash   // HEAD before the operation started
	Target        objstore.Hash   // the commit being merged/cherry-picked/rebased onto
	Pending       []objstore.Hash // remaining commits for multi-step operations
	ConflictPaths []string
}

const opKey = "state"

// LoadOp reads the current operation state, defaulting to OpClean if none is recorded.
func LoadOp(cat *catalog.Catalog) (*OpState, error) {
	data, ok, err := cat.Get(catalog.PartitionOps, opKey)
	if err != nil {
		return nil, fmt.Errorf("merge: load op state: %w", err)
	}
	if !ok {
		return &OpState{Kind: OpClean}, nil
	}
	var st OpState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&st); err != nil {
		return nil, fmt.Errorf("merge: decode op state: %w", err)
	}
	return &st, nil
}

// SaveOp persists the operation state.
func SaveOp(cat *catalog.Catalog, st *OpState) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(st); err != nil {
		return fmt.Errorf("merge: encode op state: %w", err)
	}
	if err := cat.Set(catalog.PartitionOps, opKey, buf.Bytes()); err != nil {
		return fmt.Errorf("merge: save op state: %w", err)
	}
	return nil
}

// ClearOp resets to OpClean, used by both successful completion and abort.
func ClearOp(cat *catalog.Catalog) error {
	return SaveOp(cat, &OpState{Kind: OpClean})
}

// Store is everything Merge needs from the object store.
type Store interface {
	BlobSource
	TreeSource
	PutBlob(data []byte) (objstore.Hash, error)
	PutTree(entries []objstore.TreeEntry) (objstore.Hash, error)
}

// Result reports what Merge actually did.
type Result struct {
	FastForward bool
	UpToDate    bool
	Conflicted  bool
	MergeCommit objstore.Hash
	Conflicts   []string
}

// Merge merges theirs into ours (the current branch tip), writing either a
// clean merge commit or leaving the index with conflict stages and the
// OPS partition set to OpMerging, matching the teacher's classify-then-act
// MergePreview shape but actually performing the merge rather than only
// previewing it.
func Merge(cat *catalog.Catalog, graph *commitgraph.Graph, store Store, idx *index.Index, workDir string, ours, theirs objstore.Hash, committer commitgraph.Signature) (*Result, error) {
	base, err := graph.LowestCommonAncestor(ours, theirs)
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}

	if base == theirs {
		return &Result{UpToDate: true}, nil
	}
	if base == ours {
		theirsCommit, err := graph.ReadCommit(theirs)
		if err != nil {
			return nil, fmt.Errorf("merge: reading theirs commit: %w", err)
		}
		if err := worktree.CheckoutTree(storeAdapter{store}, idx, workDir, theirsCommit.Tree, false); err != nil {
			return nil, fmt.Errorf("merge: fast-forward checkout: %w", err)
		}
		return &Result{FastForward: true, MergeCommit: theirs}, nil
	}

	baseCommit, err := graph.ReadCommit(base)
	if err != nil {
		return nil, fmt.Errorf("merge: reading base commit: %w", err)
	}
	oursCommit, err := graph.ReadCommit(ours)
	if err != nil {
		return nil, fmt.Errorf("merge: reading ours commit: %w", err)
	}
	theirsCommit, err := graph.ReadCommit(theirs)
	if err != nil {
		return nil, fmt.Errorf("merge: reading theirs commit: %w", err)
	}

	attrs := worktree.LoadAttributes(workDir)
	newTree, conflicts, err := mergeTrees(store, idx, workDir, attrs, baseCommit.Tree, oursCommit.Tree, theirsCommit.Tree)
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}

	if len(conflicts) > 0 {
		if err := SaveOp(cat, &OpState{Kind: OpMerging, Original: ours, Target: theirs, ConflictPaths: conflicts}); err != nil {
			return nil, err
		}
		return &Result{Conflicted: true, Conflicts: conflicts}, nil
	}

	mergeCommit := &commitgraph.Commit{
		Tree:      newTree,
		Parents:   []objstore.Hash{ours, theirs},
		Author:    committer,
		Committer: committer,
		Message:   fmt.Sprintf("Merge %s into %s", theirs.Short(), ours.Short()),
	}
	id, err := graph.WriteCommit(mergeCommit)
	if err != nil {
		return nil, fmt.Errorf("merge: writing merge commit: %w", err)
	}

	if err := worktree.CheckoutTree(storeAdapter{store}, idx, workDir, newTree, true); err != nil {
		return nil, fmt.Errorf("merge: checkout of merge result: %w", err)
	}
	if err := ClearOp(cat); err != nil {
		return nil, err
	}

	return &Result{MergeCommit: id}, nil
}

// MergeContinue is the counterpart of a conflicted Merge once every
// conflict has been resolved and re-staged: it expects the caller (via
// Repository.Commit, which already builds a tree from HEAD plus the
// index) to have produced the merge tree and commit; this function exists
// only to validate that a merge is actually in progress before a commit
// claims the saved merge parents. See Repository.Commit for where the
// OpMerging state is actually consumed.
func MergeContinue(cat *catalog.Catalog) (*OpState, error) {
	op, err := LoadOp(cat)
	if err != nil {
		return nil, err
	}
	if op.Kind != OpMerging {
		return nil, fmt.Errorf("merge: continue: no merge in progress")
	}
	return op, nil
}

// MergeAbort cancels an in-progress merge, restoring the working tree and
// index to the state they were in before Merge started (Original, the
// branch tip at the time) and clearing the op state.
func MergeAbort(cat *catalog.Catalog, graph *commitgraph.Graph, store Store, idx *index.Index, workDir string) error {
	op, err := LoadOp(cat)
	if err != nil {
		return err
	}
	if op.Kind != OpMerging {
		return fmt.Errorf("merge: abort: no merge in progress")
	}
	return restoreOriginal(cat, graph, store, idx, workDir, op.Original)
}

// restoreOriginal checks out original's tree and clears the op state,
// shared by MergeAbort, CherryPickAbort, and RebaseAbort.
func restoreOriginal(cat *catalog.Catalog, graph *commitgraph.Graph, store Store, idx *index.Index, workDir string, original objstore.Hash) error {
	commit, err := graph.ReadCommit(original)
	if err != nil {
		return fmt.Errorf("merge: abort: reading original commit: %w", err)
	}
	if err := worktree.CheckoutTree(storeAdapter{store}, idx, workDir, commit.Tree, true); err != nil {
		return fmt.Errorf("merge: abort: restoring working tree: %w", err)
	}
	return ClearOp(cat)
}

// mergeTrees performs the actual three-way tree merge shared by Merge and
// CherryPick: diff base->ours and base->theirs, apply non-overlapping
// changes directly, and run a content-level ThreeWay merge wherever both
// sides touched the same path. Returns the merged tree hash (only valid
// when len(conflicts) == 0) and the list of conflicted paths, staging
// conflict entries into idx as they're found.
func mergeTrees(store Store, idx *index.Index, workDir string, attrs *worktree.Attributes, baseTree, oursTree, theirsTree objstore.Hash) (objstore.Hash, []string, error) {
	oursChanges, err := TreeDiff(store, baseTree, oursTree, "")
	if err != nil {
		return "", nil, fmt.Errorf("diffing ours: %w", err)
	}
	theirsChanges, err := TreeDiff(store, baseTree, theirsTree, "")
	if err != nil {
		return "", nil, fmt.Errorf("diffing theirs: %w", err)
	}

	touched := make(map[string]bool)
	oursByPath := make(map[string]Change)
	theirsByPath := make(map[string]Change)
	for _, c := range oursChanges {
		oursByPath[c.Path] = c
		touched[c.Path] = true
	}
	for _, c := range theirsChanges {
		theirsByPath[c.Path] = c
		touched[c.Path] = true
	}

	baseFlat, err := flattenTreeHashes(store, baseTree)
	if err != nil {
		return "", nil, fmt.Errorf("flattening base tree: %w", err)
	}
	oursFlat, err := flattenTreeHashes(store, oursTree)
	if err != nil {
		return "", nil, fmt.Errorf("flattening ours tree: %w", err)
	}

	var conflicts []string
	resultFlat := make(map[string]objstore.TreeEntry, len(oursFlat))
	for p, e := range oursFlat {
		resultFlat[p] = e
	}

	for path := range touched {
		oc, oChanged := oursByPath[path]
		tc, tChanged := theirsByPath[path]

		switch {
		case oChanged && !tChanged:
			applyChange(resultFlat, oc)
		case !oChanged && tChanged:
			applyChange(resultFlat, tc)
		case oChanged && tChanged:
			if oc.NewHash == tc.NewHash && oc.Status == tc.Status {
				applyChange(resultFlat, oc)
				continue
			}

			oursHash := oursFlat[path].ChildHash
			theirsHash := tc.NewHash
			baseHash := baseFlat[path].ChildHash

			merged, err := ThreeWay(store, attrs, path, baseHash, oursHash, theirsHash)
			if err != nil {
				return "", nil, fmt.Errorf("three-way %s: %w", path, err)
			}
			if merged.Kind != ConflictNone || merged.IsBinary || merged.Truncated {
				conflicts = append(conflicts, path)
				if !baseHash.IsZero() {
					if err := idx.AddConflict(path, index.StageBase, baseHash, baseFlat[path].Mode); err != nil {
						return "", nil, err
					}
				}
				if !oursHash.IsZero() {
					if err := idx.AddConflict(path, index.StageOurs, oursHash, oursFlat[path].Mode); err != nil {
						return "", nil, err
					}
				}
				if !theirsHash.IsZero() {
					if err := idx.AddConflict(path, index.StageTheirs, theirsHash, tc.NewMode); err != nil {
						return "", nil, err
					}
				}
				// Binary/oversized conflicts have no rendered content to write
				// (ThreeWay bails before diffing); leave whatever's already on
				// disk for that path rather than truncating it to nothing.
				if !merged.IsBinary && !merged.Truncated {
					if err := writeConflictMarkers(workDir, path, merged.Merged); err != nil {
						return "", nil, err
					}
				}
				continue
			}
			h, err := store.PutBlob(merged.Merged)
			if err != nil {
				return "", nil, fmt.Errorf("storing merged blob for %s: %w", path, err)
			}
			mode := oursFlat[path].Mode
			if mode == 0 {
				mode = tc.NewMode
			}
			resultFlat[path] = objstore.TreeEntry{Name: path, Mode: mode, ChildHash: h}
		}
	}

	if len(conflicts) > 0 {
		return "", conflicts, nil
	}

	newTree, err := buildTree(store, resultFlat)
	if err != nil {
		return "", nil, fmt.Errorf("building merged tree: %w", err)
	}
	return newTree, nil, nil
}

func applyChange(flat map[string]objstore.TreeEntry, c Change) {
	if c.Status == StatusDeleted {
		delete(flat, c.Path)
		return
	}
	flat[c.Path] = objstore.TreeEntry{Name: c.Path, Mode: c.NewMode, ChildHash: c.NewHash}
}

// flattenTreeHashes walks treeHash into a flat path -> entry map, preserving
// each leaf's mode (ModeFile/ModeExec/ModeSymlink) so a merge result doesn't
// silently normalize every file back to ModeFile.
func flattenTreeHashes(store TreeSource, treeHash objstore.Hash) (map[string]objstore.TreeEntry, error) {
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

// buildTree reconstructs a (possibly nested) tree object from a flat
// path->entry map, writing every intermediate directory tree via store and
// preserving each leaf's original mode.
func buildTree(store Store, flat map[string]objstore.TreeEntry) (objstore.Hash, error) {
	type node struct {
		children map[string]*node
		blob     objstore.Hash
		mode     objstore.Mode
		isLeaf   bool
	}
	root := &node{children: make(map[string]*node)}

	for path, entry := range flat {
		parts := splitPath(path)
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
				mode := child.mode
				if mode == 0 {
					mode = objstore.ModeFile
				}
				entries = append(entries, objstore.TreeEntry{Name: name, Mode: mode, ChildHash: child.blob})
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

func splitPath(path string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			parts = append(parts, path[start:i])
			start = i + 1
		}
	}
	parts = append(parts, path[start:])
	return parts
}

// writeConflictMarkers writes a file's rendered conflict content (complete
// with "<<<<<<< ours" / "=======" / ">>>>>>> theirs" markers) to its path
// under workDir; binary and oversized conflicts are never passed here. A conflicted
// merge leaves the working tree in the state the operator actually resolves
// by hand rather than silently keeping whichever side checkout last wrote.
func writeConflictMarkers(workDir, path string, content []byte) error {
	full := filepath.Join(workDir, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("merge: creating parent dir for %s: %w", path, err)
	}
	if err := os.WriteFile(full, content, 0o644); err != nil {
		return fmt.Errorf("merge: writing conflict markers for %s: %w", path, err)
	}
	return nil
}

// storeAdapter adapts Store to worktree.Blobs (GetBlob + GetTree).
type storeAdapter struct{ Store }
