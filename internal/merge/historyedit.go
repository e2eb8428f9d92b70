package merge

import (
	"fmt"
	"iter"

	"github.com/hashgraft/hashgraft/internal/catalog"
	"github.com/hashgraft/hashgraft/internal/commitgraph"
	"github.com/hashgraft/hashgraft/internal/index"
	"github.com/hashgraft/hashgraft/internal/objstore"
	"github.com/hashgraft/hashgraft/internal/refs"
	"github.com/hashgraft/hashgraft/internal/worktree"
)

// CherryPickResult reports the outcome of applying one commit's changes
// onto the current branch tip.
type CherryPickResult struct {
	Conflicted bool
	Conflicts  []string
	Commit     objstore.Hash
}

// CherryPick replays the changes introduced by pick (relative to its first
// parent) onto ours, using the same tree-merge machinery as Merge but with
// base = pick's parent tree and theirs = pick's tree, so the three-way
// result is "what pick changed, applied on top of ours" rather than a
// symmetric merge of two branches.
func CherryPick(cat *catalog.Catalog, graph *commitgraph.Graph, store Store, idx *index.Index, workDir string, ours, pick objstore.Hash, committer commitgraph.Signature) (*CherryPickResult, error) {
	pickCommit, err := graph.ReadCommit(pick)
	if err != nil {
		return nil, fmt.Errorf("merge: cherry-pick: reading commit: %w", err)
	}
	var pickParentTree objstore.Hash
	if len(pickCommit.Parents) > 0 {
		parent, err := graph.ReadCommit(pickCommit.Parents[0])
		if err != nil {
			return nil, fmt.Errorf("merge: cherry-pick: reading parent commit: %w", err)
		}
		pickParentTree = parent.Tree
	}

	oursCommit, err := graph.ReadCommit(ours)
	if err != nil {
		return nil, fmt.Errorf("merge: cherry-pick: reading ours commit: %w", err)
	}

	attrs := worktree.LoadAttributes(workDir)
	newTree, conflicts, err := mergeTrees(store, idx, workDir, attrs, pickParentTree, oursCommit.Tree, pickCommit.Tree)
	if err != nil {
		return nil, fmt.Errorf("merge: cherry-pick: %w", err)
	}

	if len(conflicts) > 0 {
		if err := SaveOp(cat, &OpState{Kind: OpCherryPicking, Original: ours, Target: pick, ConflictPaths: conflicts}); err != nil {
			return nil, err
		}
		return &CherryPickResult{Conflicted: true, Conflicts: conflicts}, nil
	}

	newCommit := &commitgraph.Commit{
		Tree:      newTree,
		Parents:   []objstore.Hash{ours},
		Author:    pickCommit.Author,
		Committer: committer,
		Message:   pickCommit.Message,
	}
	id, err := graph.WriteCommit(newCommit)
	if err != nil {
		return nil, fmt.Errorf("merge: cherry-pick: writing commit: %w", err)
	}
	if err := worktree.CheckoutTree(storeAdapter{store}, idx, workDir, newTree, true); err != nil {
		return nil, fmt.Errorf("merge: cherry-pick: checkout: %w", err)
	}
	if err := ClearOp(cat); err != nil {
		return nil, err
	}
	return &CherryPickResult{Commit: id}, nil
}

// CherryPickAbort cancels an in-progress cherry-pick, restoring the
// working tree and index to ours (the commit cherry-pick started from)
// and clearing the op state.
func CherryPickAbort(cat *catalog.Catalog, graph *commitgraph.Graph, store Store, idx *index.Index, workDir string) error {
	op, err := LoadOp(cat)
	if err != nil {
		return err
	}
	if op.Kind != OpCherryPicking {
		return fmt.Errorf("merge: cherry-pick: abort: no cherry-pick in progress")
	}
	return restoreOriginal(cat, graph, store, idx, workDir, op.Original)
}

// ResetMode selects how far Reset unwinds branch state.
type ResetMode int

const (
	// ResetSoft moves the branch ref only; index and working tree are untouched.
	ResetSoft ResetMode = iota
	// ResetMixed moves the branch ref and resets the index to match, leaving
	// working-tree files untouched.
	ResetMixed
	// ResetHard moves the branch ref, resets the index, and overwrites the
	// working tree to match the target commit, discarding local changes.
	ResetHard
)

// Reset moves branch to target under the given mode.
func Reset(r *refs.Refs, graph *commitgraph.Graph, store worktree.Blobs, idx *index.Index, workDir, branch string, target objstore.Hash, mode ResetMode) error {
	cur, err := r.GetBranch(branch)
	if err != nil {
		return fmt.Errorf("merge: reset: reading branch %s: %w", branch, err)
	}
	if err := r.UpdateRef(branch, cur, target); err != nil {
		return fmt.Errorf("merge: reset: %w", err)
	}

	if mode == ResetSoft {
		return nil
	}

	targetCommit, err := graph.ReadCommit(target)
	if err != nil {
		return fmt.Errorf("merge: reset: reading target commit: %w", err)
	}

	if mode == ResetHard {
		return worktree.CheckoutTree(store, idx, workDir, targetCommit.Tree, true)
	}

	// ResetMixed: rebuild the index from the target tree, but don't touch
	// the working tree at all.
	flat, err := flattenTreeHashes(store, targetCommit.Tree)
	if err != nil {
		return fmt.Errorf("merge: reset: %w", err)
	}
	idx.Clear()
	for path, entry := range flat {
		data, err := store.GetBlob(entry.ChildHash)
		if err != nil {
			return fmt.Errorf("merge: reset: reading blob for %s: %w", path, err)
		}
		if _, err := idx.Add(passthroughAdapter{store}, path, data, entry.Mode); err != nil {
			return fmt.Errorf("merge: reset: restaging %s: %w", path, err)
		}
	}
	return nil
}

// RebasePlan is the linear sequence of commits to replay, oldest first.
type RebasePlan struct {
	Onto    objstore.Hash
	Commits []objstore.Hash
}

// PlanRebase computes the commits unique to branchTip since it diverged
// from onto, in the order they should be replayed.
func PlanRebase(graph *commitgraph.Graph, onto, branchTip objstore.Hash) (*RebasePlan, error) {
	base, err := graph.LowestCommonAncestor(onto, branchTip)
	if err != nil {
		return nil, fmt.Errorf("merge: plan rebase: %w", err)
	}
	commits, err := graph.Range(base, branchTip)
	if err != nil {
		return nil, fmt.Errorf("merge: plan rebase: %w", err)
	}
	ids := make([]objstore.Hash, len(commits))
	for i, c := range commits {
		// commits is newest-first; reverse into replay (oldest-first) order.
		ids[len(commits)-1-i] = c.ID
	}
	return &RebasePlan{Onto: onto, Commits: ids}, nil
}

// Rebase replays a RebasePlan's commits one at a time onto the plan's Onto
// commit via repeated CherryPick, stopping and reporting the first conflict.
// original is the branch tip before rebase started, saved so RebaseAbort
// can restore it. The caller is responsible for updating the branch ref
// once every commit in the plan has replayed cleanly.
func Rebase(cat *catalog.Catalog, graph *commitgraph.Graph, store Store, idx *index.Index, workDir string, plan *RebasePlan, original objstore.Hash, committer commitgraph.Signature) (objstore.Hash, error) {
	if err := SaveOp(cat, &OpState{Kind: OpRebasing, Original: original, Target: plan.Onto, Pending: plan.Commits}); err != nil {
		return "", err
	}

	cur := plan.Onto
	for i, commit := range plan.Commits {
		res, err := CherryPick(cat, graph, store, idx, workDir, cur, commit, committer)
		if err != nil {
			return "", fmt.Errorf("merge: rebase: replaying %s: %w", commit.Short(), err)
		}
		if res.Conflicted {
			if err := SaveOp(cat, &OpState{Kind: OpRebasing, Original: original, Target: plan.Onto, Pending: plan.Commits[i:]}); err != nil {
				return "", err
			}
			return "", fmt.Errorf("merge: rebase: conflicts replaying %s at %v", commit.Short(), res.Conflicts)
		}
		cur = res.Commit
	}

	if err := ClearOp(cat); err != nil {
		return "", err
	}
	return cur, nil
}

// RebaseAbort cancels an in-progress rebase, restoring the working tree
// and index to the branch's pre-rebase tip and clearing the op state.
func RebaseAbort(cat *catalog.Catalog, graph *commitgraph.Graph, store Store, idx *index.Index, workDir string) error {
	op, err := LoadOp(cat)
	if err != nil {
		return err
	}
	if op.Kind != OpRebasing {
		return fmt.Errorf("merge: rebase: abort: no rebase in progress")
	}
	return restoreOriginal(cat, graph, store, idx, workDir, op.Original)
}

// BisectState tracks a bisection's remaining candidate range.
type BisectState struct {
	Good objstore.Hash
	Bad  objstore.Hash
}

// Next returns the commit roughly midway between Good and Bad in
// committer-date order, the canonical next bisection probe. Returns the
// zero hash once Bad's ancestry restricted to not-yet-excluded commits from
// Good is exhausted (Bad is the culprit).
func (b *BisectState) Next(graph *commitgraph.Graph) (objstore.Hash, error) {
	goodSet := make(map[objstore.Hash]bool)
	for c, err := range graph.Ancestors(b.Good, 0) {
		if err != nil {
			return "", fmt.Errorf("merge: bisect: %w", err)
		}
		goodSet[c.ID] = true
	}

	var candidates []objstore.Hash
	for c, err := range graph.Ancestors(b.Bad, 0) {
		if err != nil {
			return "", fmt.Errorf("merge: bisect: %w", err)
		}
		if goodSet[c.ID] || c.ID == b.Bad {
			continue
		}
		candidates = append(candidates, c.ID)
	}

	if len(candidates) == 0 {
		return "", nil
	}
	return candidates[len(candidates)/2], nil
}

// MarkGood narrows the range by recording that commit tested good.
func (b *BisectState) MarkGood(commit objstore.Hash) { b.Good = commit }

// MarkBad narrows the range by recording that commit tested bad.
func (b *BisectState) MarkBad(commit objstore.Hash) { b.Bad = commit }

// passthroughAdapter adapts worktree.Blobs to objstore.Store for
// idx.Add, mirroring internal/worktree's own passthroughStore: content is
// already known-present, so PutBlob just re-derives the hash.
type passthroughAdapter struct{ worktree.Blobs }

func (p passthroughAdapter) PutBlob(data []byte) (objstore.Hash, error) {
	return objstore.Sum(data), nil
}
func (p passthroughAdapter) PutTree(entries []objstore.TreeEntry) (objstore.Hash, error) {
	return "", fmt.Errorf("merge: PutTree not supported during reset restaging")
}
func (p passthroughAdapter) PutTag(data []byte) (objstore.Hash, error) {
	return "", fmt.Errorf("merge: PutTag not supported during reset restaging")
}
func (p passthroughAdapter) GetTag(h objstore.Hash) ([]byte, error) {
	return nil, fmt.Errorf("merge: GetTag not supported during reset restaging")
}
func (p passthroughAdapter) Has(h objstore.Hash) (bool, error) { return true, nil }
func (p passthroughAdapter) IterObjects() iter.Seq2[objstore.Object, error] {
	return func(yield func(objstore.Object, error) bool) {}
}
