// Package repo wires the engine's internal packages — object store, staging
// index, commit graph, refs, working tree, merge machinery, pack files, and
// the Git import adapter — into a single Repository, the module's public
// surface. Everything below this package works in terms of hashes, trees,
// and commits; Repository is where a caller hands in paths, branch names,
// and messages instead.
package repo

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/hashgraft/hashgraft/internal/catalog"
	"github.com/hashgraft/hashgraft/internal/commitgraph"
	"github.com/hashgraft/hashgraft/internal/gitimport"
	"github.com/hashgraft/hashgraft/internal/index"
	"github.com/hashgraft/hashgraft/internal/merge"
	"github.com/hashgraft/hashgraft/internal/objstore"
	"github.com/hashgraft/hashgraft/internal/packfile"
	"github.com/hashgraft/hashgraft/internal/refs"
	"github.com/hashgraft/hashgraft/internal/reposync"
	"github.com/hashgraft/hashgraft/internal/vcserr"
	"github.com/hashgraft/hashgraft/internal/worktree"
)

// DefaultCtrlDirName is the control-directory name used when none is given,
// analogous to Git's ".git" but for this engine's own on-disk layout.
const DefaultCtrlDirName = ".vcs"

// Repository is an open repository: the working directory plus everything
// needed to read and mutate its history.
type Repository struct {
	workDir string
	ctrlDir string

	cat   *catalog.Catalog
	files *objstore.FileStore
	store *objstore.Layered
	idx   *index.Index
	graph *commitgraph.Graph
	refs  *refs.Refs

	config  *Config
	mailmap *Mailmap

	lock *reposync.Lock

	hooks HookRunner
	log   *slog.Logger
}

func objectsDir(ctrlDir string) string  { return filepath.Join(ctrlDir, "objects") }
func packsDir(ctrlDir string) string    { return filepath.Join(ctrlDir, "packs") }
func catalogPath(ctrlDir string) string { return filepath.Join(ctrlDir, "catalog.db") }

// Init creates a brand-new repository rooted at workDir, with its control
// directory named ctrlDirName (DefaultCtrlDirName if empty).
func Init(workDir, ctrlDirName string) (*Repository, error) {
	if ctrlDirName == "" {
		ctrlDirName = DefaultCtrlDirName
	}
	ctrlDir := filepath.Join(workDir, ctrlDirName)

	if _, err := os.Stat(ctrlDir); err == nil {
		return nil, vcserr.Newf(vcserr.KindInvalidName, "repo: %s already exists", ctrlDir)
	}
	if err := os.MkdirAll(objectsDir(ctrlDir), 0o755); err != nil {
		return nil, fmt.Errorf("repo: init: %w", err)
	}
	if err := os.MkdirAll(packsDir(ctrlDir), 0o755); err != nil {
		return nil, fmt.Errorf("repo: init: %w", err)
	}

	r, err := open(workDir, ctrlDir)
	if err != nil {
		return nil, err
	}

	if err := r.refs.SetHeadBranch("main"); err != nil {
		return nil, fmt.Errorf("repo: init: %w", err)
	}
	if err := SaveConfig(r.cat, DefaultConfig()); err != nil {
		return nil, fmt.Errorf("repo: init: %w", err)
	}
	return r, nil
}

// Open opens an existing repository, walking up from startPath to find its
// control directory the way the teacher's NewRepository locates ".git".
func Open(startPath, ctrlDirName string) (*Repository, error) {
	if ctrlDirName == "" {
		ctrlDirName = DefaultCtrlDirName
	}
	workDir, ctrlDir, err := findCtrlDir(startPath, ctrlDirName)
	if err != nil {
		return nil, err
	}
	return open(workDir, ctrlDir)
}

func findCtrlDir(startPath, ctrlDirName string) (workDir, ctrlDir string, err error) {
	abs, err := filepath.Abs(startPath)
	if err != nil {
		return "", "", fmt.Errorf("repo: resolving path: %w", err)
	}
	cur := abs
	for {
		candidate := filepath.Join(cur, ctrlDirName)
		if info, statErr := os.Stat(candidate); statErr == nil && info.IsDir() {
			return cur, candidate, nil
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", "", vcserr.Newf(vcserr.KindNotARepository, "not a repository (or any parent up to mount point): %s", startPath)
		}
		cur = parent
	}
}

func open(workDir, ctrlDir string) (*Repository, error) {
	cat, err := catalog.Open(catalogPath(ctrlDir))
	if err != nil {
		return nil, fmt.Errorf("repo: opening catalog: %w", err)
	}

	files, err := objstore.NewFileStore(objectsDir(ctrlDir))
	if err != nil {
		_ = cat.Close()
		return nil, fmt.Errorf("repo: opening object store: %w", err)
	}
	store := objstore.NewLayered(files)

	packEntries, err := os.ReadDir(packsDir(ctrlDir))
	if err != nil && !os.IsNotExist(err) {
		_ = cat.Close()
		return nil, fmt.Errorf("repo: listing packs: %w", err)
	}
	for _, e := range packEntries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".pack" {
			continue
		}
		rdr, err := packfile.Open(filepath.Join(packsDir(ctrlDir), e.Name()))
		if err != nil {
			_ = cat.Close()
			return nil, fmt.Errorf("repo: opening pack %s: %w", e.Name(), err)
		}
		store.AttachPack(objstore.NewPackStore(rdr))
	}

	idx, err := index.Load(cat)
	if err != nil {
		_ = cat.Close()
		return nil, fmt.Errorf("repo: loading index: %w", err)
	}

	cfg, err := LoadConfig(cat)
	if err != nil {
		_ = cat.Close()
		return nil, fmt.Errorf("repo: loading config: %w", err)
	}

	r := &Repository{
		workDir: workDir,
		ctrlDir: ctrlDir,
		cat:     cat,
		files:   files,
		store:   store,
		idx:     idx,
		graph:   commitgraph.New(cat, store),
		refs:    refs.New(cat),
		config:  cfg,
		hooks:   noopHookRunner{},
		log:     slog.Default().With("repo", workDir),
	}

	mm, err := loadMailmap(workDir)
	if err != nil {
		_ = cat.Close()
		return nil, fmt.Errorf("repo: loading mailmap: %w", err)
	}
	r.mailmap = mm

	return r, nil
}

// Close releases the repository's catalog handle and, if held, its
// inter-process lock.
func (r *Repository) Close() error {
	if r.lock != nil {
		if err := r.lock.Release(); err != nil {
			r.log.Warn("releasing repository lock on close", "error", err)
		}
	}
	return r.cat.Close()
}

// WorkDir returns the repository's working directory.
func (r *Repository) WorkDir() string { return r.workDir }

// CtrlDir returns the repository's control directory.
func (r *Repository) CtrlDir() string { return r.ctrlDir }

// Lock acquires the repository's mutation lock per opts, guarding the
// sequence of calls that follows until Unlock or Close. Operations that
// mutate history (Commit, Merge, Rebase, ...) are the caller's
// responsibility to bracket with Lock/Unlock; Repository itself does not
// take the lock implicitly, since a read-only caller (status, log) has no
// need to block on it.
func (r *Repository) Lock(opts reposync.Options) error {
	l, err := reposync.Acquire(r.ctrlDir, opts)
	if err != nil {
		return vcserr.New(vcserr.KindRepositoryBusy, err)
	}
	r.lock = l
	return nil
}

// Unlock releases a lock previously taken with Lock.
func (r *Repository) Unlock() error {
	if r.lock == nil {
		return nil
	}
	err := r.lock.Release()
	r.lock = nil
	if err != nil {
		return fmt.Errorf("repo: %w", err)
	}
	return nil
}

// headTree resolves the tree of the current HEAD commit, or the zero hash if
// there is no commit yet (a fresh, empty repository).
func (r *Repository) headTree() (objstore.Hash, error) {
	head, err := r.refs.GetHead()
	if err != nil {
		return "", fmt.Errorf("repo: reading HEAD: %w", err)
	}
	if head.Commit.IsZero() {
		return "", nil
	}
	commit, err := r.graph.ReadCommit(head.Commit)
	if err != nil {
		return "", fmt.Errorf("repo: reading HEAD commit: %w", err)
	}
	return commit.Tree, nil
}

// HeadCommit returns the commit hash HEAD currently points at, or the zero
// hash for a repository with no commits.
func (r *Repository) HeadCommit() (objstore.Hash, error) {
	head, err := r.refs.GetHead()
	if err != nil {
		return "", fmt.Errorf("repo: %w", err)
	}
	return head.Commit, nil
}

// Status reports how the working tree, index, and HEAD differ.
func (r *Repository) Status() (*worktree.Status, error) {
	headTree, err := r.headTree()
	if err != nil {
		return nil, err
	}
	return worktree.Compute(r.store, r.idx, headTree, r.workDir)
}

// hashResult is one file's computed blob hash, produced by the parallel
// hashing workers in AddPaths/AddAll and applied to the index sequentially
// afterward so index mutation itself stays single-threaded.
type hashResult struct {
	path string
	data []byte
	mode objstore.Mode
}

// AddPaths stages the given working-tree-relative paths, hashing their
// contents in parallel (bounded by GOMAXPROCS) since hashing is the
// dominant cost for a large changeset and is embarrassingly parallel across
// files.
func (r *Repository) AddPaths(paths []string) error {
	results := make([]hashResult, len(paths))

	g := new(errgroup.Group)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			if err := index.ValidatePath(p); err != nil {
				return err
			}
			full := filepath.Join(r.workDir, p)
			info, err := os.Lstat(full)
			if err != nil {
				return fmt.Errorf("repo: add %s: %w", p, err)
			}
			mode := objstore.ModeFile
			if info.Mode()&os.ModeSymlink != 0 {
				mode = objstore.ModeSymlink
			} else if info.Mode()&0o111 != 0 {
				mode = objstore.ModeExec
			}
			data, err := os.ReadFile(full)
			if err != nil {
				return fmt.Errorf("repo: add %s: %w", p, err)
			}
			results[i] = hashResult{path: p, data: data, mode: mode}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, res := range results {
		if _, err := r.idx.Add(r.store, res.path, res.data, res.mode); err != nil {
			return fmt.Errorf("repo: staging %s: %w", res.path, err)
		}
	}
	return r.idx.Save(r.cat)
}

// AddAll stages every non-ignored file under the working directory.
func (r *Repository) AddAll() error {
	matcher := worktree.LoadMatcher(r.workDir, r.ctrlDir)
	var paths []string
	err := filepath.Walk(r.workDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(r.workDir, path)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		if info.IsDir() {
			if rel == filepath.Base(r.ctrlDir) {
				return filepath.SkipDir
			}
			if matcher.IsIgnored(filepath.ToSlash(rel), true) {
				return filepath.SkipDir
			}
			return nil
		}
		if matcher.IsIgnored(filepath.ToSlash(rel), false) {
			return nil
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return fmt.Errorf("repo: walking working tree: %w", err)
	}
	return r.AddPaths(paths)
}

// Commit writes a commit from the current index's contents as children of
// HEAD, advancing the current branch (or HEAD directly, if detached).
func (r *Repository) Commit(message string, author commitgraph.Signature) (objstore.Hash, error) {
	head, err := r.refs.GetHead()
	if err != nil {
		return "", fmt.Errorf("repo: %w", err)
	}

	for _, e := range r.idx.Entries() {
		if e.Stage != index.StageNormal {
			return "", vcserr.Newf(vcserr.KindMergeConflict, "repo: unresolved conflicts remain staged").WithPaths([]string{e.Path})
		}
	}

	if err := r.dispatch("pre-commit", map[string]string{"message": message}); err != nil {
		return "", fmt.Errorf("repo: pre-commit hook: %w", err)
	}

	headFlat := make(map[string]objstore.TreeEntry)
	if !head.Commit.IsZero() {
		headCommit, err := r.graph.ReadCommit(head.Commit)
		if err != nil {
			return "", fmt.Errorf("repo: reading HEAD commit: %w", err)
		}
		headFlat, err = flattenStoreTreeWithMode(r.store, headCommit.Tree)
		if err != nil {
			return "", err
		}
	}
	for _, e := range r.idx.Entries() {
		headFlat[e.Path] = objstore.TreeEntry{Name: e.Path, Mode: e.Mode, ChildHash: e.BlobHash}
	}

	tree, err := buildStoreTreeWithModes(r.store, headFlat)
	if err != nil {
		return "", fmt.Errorf("repo: building tree: %w", err)
	}

	committer := author
	if r.mailmap != nil {
		r.mailmap.Resolve(&author)
		r.mailmap.Resolve(&committer)
	}

	op, err := merge.LoadOp(r.cat)
	if err != nil {
		return "", err
	}

	var parents []objstore.Hash
	switch {
	case op.Kind == merge.OpMerging:
		parents = []objstore.Hash{op.Original, op.Target}
	case !head.Commit.IsZero():
		parents = []objstore.Hash{head.Commit}
	}

	id, err := r.graph.WriteCommit(&commitgraph.Commit{
		Tree:      tree,
		Parents:   parents,
		Author:    author,
		Committer: committer,
		Message:   message,
	})
	if err != nil {
		return "", fmt.Errorf("repo: writing commit: %w", err)
	}

	if op.Kind == merge.OpMerging {
		if err := merge.ClearOp(r.cat); err != nil {
			return "", err
		}
	}

	if head.Detached {
		if err := r.refs.SetHeadDetached(id); err != nil {
			return "", fmt.Errorf("repo: %w", err)
		}
	} else {
		if err := r.refs.UpdateRef(head.Branch, head.Commit, id); err != nil {
			return "", fmt.Errorf("repo: %w", err)
		}
	}
	r.log.Info("commit", "hash", id.Short(), "message", message)
	if err := r.dispatch("post-commit", map[string]string{"hash": string(id)}); err != nil {
		r.log.Warn("post-commit hook failed", "error", err)
	}
	return id, nil
}

// Checkout switches the working tree to targetTree (the tree of some
// commit), refusing to discard local changes unless force is set.
func (r *Repository) Checkout(targetTree objstore.Hash, force bool) error {
	return worktree.CheckoutTree(r.store, r.idx, r.workDir, targetTree, force)
}

// CheckoutBranch switches HEAD and the working tree to branch's tip.
func (r *Repository) CheckoutBranch(branch string, force bool) error {
	tip, err := r.refs.GetBranch(branch)
	if err != nil {
		return fmt.Errorf("repo: %w", err)
	}
	commit, err := r.graph.ReadCommit(tip)
	if err != nil {
		return fmt.Errorf("repo: %w", err)
	}
	if err := worktree.CheckoutTree(r.store, r.idx, r.workDir, commit.Tree, force); err != nil {
		return err
	}
	if err := r.refs.SetHeadBranch(branch); err != nil {
		return err
	}
	if err := r.dispatch("post-checkout", map[string]string{"branch": branch}); err != nil {
		r.log.Warn("post-checkout hook failed", "error", err)
	}
	return nil
}

// Merge merges theirs (a commit hash) into the current branch.
func (r *Repository) Merge(theirs objstore.Hash, committer commitgraph.Signature) (*merge.Result, error) {
	head, err := r.refs.GetHead()
	if err != nil {
		return nil, fmt.Errorf("repo: %w", err)
	}
	res, err := merge.Merge(r.cat, r.graph, r.store, r.idx, r.workDir, head.Commit, theirs, committer)
	if err != nil {
		return nil, err
	}
	if res.MergeCommit != "" && !head.Detached {
		if err := r.refs.UpdateRef(head.Branch, head.Commit, res.MergeCommit); err != nil {
			return nil, fmt.Errorf("repo: %w", err)
		}
	}
	if err := r.idx.Save(r.cat); err != nil {
		return nil, fmt.Errorf("repo: %w", err)
	}
	return res, nil
}

// MergeContinue finishes a conflicted Merge once every conflict has been
// resolved and re-staged via AddPaths: it commits the resolved index as a
// merge commit with parents {ours, theirs} from the saved op state, the
// same tree-from-index path Commit always takes.
func (r *Repository) MergeContinue(message string, committer commitgraph.Signature) (objstore.Hash, error) {
	if _, err := merge.MergeContinue(r.cat); err != nil {
		return "", fmt.Errorf("repo: %w", err)
	}
	return r.Commit(message, committer)
}

// MergeAbort cancels an in-progress merge, restoring the working tree and
// index to their pre-merge state.
func (r *Repository) MergeAbort() error {
	if err := merge.MergeAbort(r.cat, r.graph, r.store, r.idx, r.workDir); err != nil {
		return fmt.Errorf("repo: %w", err)
	}
	return r.idx.Save(r.cat)
}

// CherryPick replays pick's changes onto the current branch tip.
func (r *Repository) CherryPick(pick objstore.Hash, committer commitgraph.Signature) (*merge.CherryPickResult, error) {
	head, err := r.refs.GetHead()
	if err != nil {
		return nil, fmt.Errorf("repo: %w", err)
	}
	res, err := merge.CherryPick(r.cat, r.graph, r.store, r.idx, r.workDir, head.Commit, pick, committer)
	if err != nil {
		return nil, err
	}
	if res.Commit != "" && !head.Detached {
		if err := r.refs.UpdateRef(head.Branch, head.Commit, res.Commit); err != nil {
			return nil, fmt.Errorf("repo: %w", err)
		}
	}
	if err := r.idx.Save(r.cat); err != nil {
		return nil, fmt.Errorf("repo: %w", err)
	}
	return res, nil
}

// CherryPickAbort cancels an in-progress cherry-pick, restoring the
// working tree and index to the commit cherry-pick started from.
func (r *Repository) CherryPickAbort() error {
	if err := merge.CherryPickAbort(r.cat, r.graph, r.store, r.idx, r.workDir); err != nil {
		return fmt.Errorf("repo: %w", err)
	}
	return r.idx.Save(r.cat)
}

// Reset moves the current branch to target under mode.
func (r *Repository) Reset(target objstore.Hash, mode merge.ResetMode) error {
	head, err := r.refs.GetHead()
	if err != nil {
		return fmt.Errorf("repo: %w", err)
	}
	if head.Detached {
		return r.refs.SetHeadDetached(target)
	}
	if err := merge.Reset(r.refs, r.graph, r.store, r.idx, r.workDir, head.Branch, target, mode); err != nil {
		return err
	}
	return r.idx.Save(r.cat)
}

// Rebase replays the current branch's unique commits onto onto, advancing
// the branch ref once every commit in the plan has replayed cleanly.
func (r *Repository) Rebase(onto objstore.Hash, committer commitgraph.Signature) (objstore.Hash, error) {
	head, err := r.refs.GetHead()
	if err != nil {
		return "", fmt.Errorf("repo: %w", err)
	}
	plan, err := merge.PlanRebase(r.graph, onto, head.Commit)
	if err != nil {
		return "", err
	}
	newTip, err := merge.Rebase(r.cat, r.graph, r.store, r.idx, r.workDir, plan, head.Commit, committer)
	if err != nil {
		return "", err
	}
	if !head.Detached {
		if err := r.refs.UpdateRef(head.Branch, head.Commit, newTip); err != nil {
			return "", fmt.Errorf("repo: %w", err)
		}
	}
	if err := r.idx.Save(r.cat); err != nil {
		return "", fmt.Errorf("repo: %w", err)
	}
	return newTip, nil
}

// RebaseAbort cancels an in-progress rebase, restoring the working tree
// and index to the branch's pre-rebase tip.
func (r *Repository) RebaseAbort() error {
	if err := merge.RebaseAbort(r.cat, r.graph, r.store, r.idx, r.workDir); err != nil {
		return fmt.Errorf("repo: %w", err)
	}
	return r.idx.Save(r.cat)
}

// CreateBranch points a new branch at commit, failing if the name is
// already taken (branch and tag namespaces are kept disjoint by checking
// both before creating either).
func (r *Repository) CreateBranch(name string, commit objstore.Hash) error {
	if _, err := r.refs.GetTag(name); err == nil {
		return vcserr.Newf(vcserr.KindInvalidName, "repo: %q is already a tag name", name)
	}
	return r.refs.CreateBranch(name, commit)
}

// DeleteBranch removes a branch. Callers must not delete the branch HEAD is
// currently attached to; Repository does not check this itself since
// there's no well-defined "HEAD falls back to what" answer at this layer.
func (r *Repository) DeleteBranch(name string) error {
	return r.refs.DeleteBranch(name)
}

// Branches returns every branch name mapped to its current tip commit.
func (r *Repository) Branches() (map[string]objstore.Hash, error) {
	return r.refs.Branches()
}

// CreateTag points name at target, failing if the name collides with an
// existing tag or branch.
func (r *Repository) CreateTag(name string, target objstore.Hash) error {
	if _, err := r.refs.GetBranch(name); err == nil {
		return vcserr.Newf(vcserr.KindInvalidName, "repo: %q is already a branch name", name)
	}
	return r.refs.CreateTag(name, target)
}

// DeleteTag removes a tag.
func (r *Repository) DeleteTag(name string) error {
	return r.refs.DeleteTag(name)
}

// Tags returns every tag name mapped to the hash it points at.
func (r *Repository) Tags() (map[string]objstore.Hash, error) {
	return r.refs.Tags()
}

// Log returns the commits reachable from from, newest first, the same
// ancestry walk CommitGraph.Ancestors performs, exposed here so a caller
// doesn't need to reach into internal/commitgraph directly for the common
// "show history" case. limit <= 0 means unbounded.
func (r *Repository) Log(from objstore.Hash, limit int) ([]*commitgraph.Commit, error) {
	var out []*commitgraph.Commit
	for c, err := range r.graph.Ancestors(from, limit) {
		if err != nil {
			return nil, fmt.Errorf("repo: log: %w", err)
		}
		out = append(out, c)
	}
	return out, nil
}

// Bisect starts (or narrows) a bisection between known-good and known-bad
// commits, returning the next commit to test.
func (r *Repository) Bisect(good, bad objstore.Hash) (*merge.BisectState, objstore.Hash, error) {
	st := &merge.BisectState{Good: good, Bad: bad}
	next, err := st.Next(r.graph)
	if err != nil {
		return nil, "", err
	}
	return st, next, nil
}

// ImportGit translates every branch (and HEAD) of a foreign Git repository
// at gitDir into this repository's native object store and commit graph.
func (r *Repository) ImportGit(gitDir string) error {
	src, err := gitimport.OpenSource(gitDir)
	if err != nil {
		return fmt.Errorf("repo: opening git source: %w", err)
	}
	branches, err := gitimport.DiscoverBranches(gitDir)
	if err != nil {
		return fmt.Errorf("repo: %w", err)
	}
	headBranch, err := gitimport.DiscoverHeadBranch(gitDir)
	if err != nil {
		return fmt.Errorf("repo: %w", err)
	}
	target := gitimport.Target{Store: r.store, Graph: r.graph, Refs: r.refs}
	if err := gitimport.Import(src, target, branches, headBranch); err != nil {
		return fmt.Errorf("repo: git import: %w", err)
	}
	r.log.Info("git import complete", "branches", len(branches))
	return nil
}

// Pack writes every loose object reachable from every branch tip and tag
// into a single pack file under the control directory's packs/ directory,
// the maintenance operation analogous to `git gc`'s packing phase. An
// annotated tag contributes its tag object and, when it targets a commit,
// that commit's history; a tag targeting a tree or blob contributes only
// the tag object.
func (r *Repository) Pack(name string) error {
	branches, err := r.refs.Branches()
	if err != nil {
		return fmt.Errorf("repo: %w", err)
	}
	tags, err := r.refs.Tags()
	if err != nil {
		return fmt.Errorf("repo: %w", err)
	}

	seen := make(map[objstore.Hash]bool)
	var objs []packObj
	visit := func(h objstore.Hash, kind objstore.Kind) {
		objs = append(objs, packObj{hash: h, kind: kind})
		seen[h] = true
	}

	var walkCommit func(h objstore.Hash) error
	walkCommit = func(h objstore.Hash) error {
		if h.IsZero() || seen[h] {
			return nil
		}
		commit, err := r.graph.ReadCommit(h)
		if err != nil {
			return err
		}
		visit(h, objstore.KindCommit)
		if err := walkTreeInto(r.store, commit.Tree, seen, &objs); err != nil {
			return err
		}
		for _, p := range commit.Parents {
			if err := walkCommit(p); err != nil {
				return err
			}
		}
		return nil
	}

	for _, tip := range branches {
		if err := walkCommit(tip); err != nil {
			return fmt.Errorf("repo: pack: %w", err)
		}
	}
	for _, tag := range tags {
		target := tag
		if _, cerr := r.graph.ReadCommit(tag); cerr != nil {
			obj, terr := r.ReadTagObject(tag)
			if terr != nil {
				return fmt.Errorf("repo: pack: %w", cerr)
			}
			if !seen[tag] {
				visit(tag, objstore.KindTag)
			}
			if obj.TargetKind != objstore.KindCommit {
				continue
			}
			target = obj.Target
		}
		if err := walkCommit(target); err != nil {
			return fmt.Errorf("repo: pack: %w", err)
		}
	}

	path := filepath.Join(packsDir(r.ctrlDir), name+".pack")
	err = packfile.WritePack(path, func(yield func(hash objstore.Hash, kind objstore.Kind, raw []byte) bool) {
		for _, o := range objs {
			raw, rerr := r.readRawObject(o.hash, o.kind)
			if rerr != nil {
				continue
			}
			if !yield(o.hash, o.kind, raw) {
				return
			}
		}
	})
	if err != nil {
		return fmt.Errorf("repo: writing pack: %w", err)
	}

	rdr, err := packfile.Open(path)
	if err != nil {
		return fmt.Errorf("repo: reopening pack: %w", err)
	}
	r.store.AttachPack(objstore.NewPackStore(rdr))
	return nil
}

// packObj pairs a reachable object's hash with the kind it was referenced
// as, since the loose store doesn't record kind inline (see FileStore's
// IterObjects doc comment) — kind has to be carried from wherever each hash
// was discovered during the reachability walk.
type packObj struct {
	hash objstore.Hash
	kind objstore.Kind
}

func walkTreeInto(store objstore.Store, treeHash objstore.Hash, seen map[objstore.Hash]bool, objs *[]packObj) error {
	if treeHash.IsZero() || seen[treeHash] {
		return nil
	}
	tree, err := store.GetTree(treeHash)
	if err != nil {
		return err
	}
	seen[treeHash] = true
	*objs = append(*objs, packObj{hash: treeHash, kind: objstore.KindTree})
	for _, e := range tree.Entries {
		if e.Mode.IsDir() {
			if err := walkTreeInto(store, e.ChildHash, seen, objs); err != nil {
				return err
			}
			continue
		}
		if !seen[e.ChildHash] {
			seen[e.ChildHash] = true
			*objs = append(*objs, packObj{hash: e.ChildHash, kind: objstore.KindBlob})
		}
	}
	return nil
}

// readRawObject returns an object's exact on-disk encoding by kind: commits
// live in the catalog (internal/commitgraph's own partition, not the object
// store), while trees and blobs are re-derived from their encoded form or
// read straight through, respectively.
func (r *Repository) readRawObject(h objstore.Hash, kind objstore.Kind) ([]byte, error) {
	switch kind {
	case objstore.KindCommit:
		data, ok, err := r.cat.Get(catalog.PartitionCommits, string(h))
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("repo: commit %s not found", h)
		}
		return data, nil
	case objstore.KindTree:
		tree, err := r.store.GetTree(h)
		if err != nil {
			return nil, err
		}
		return tree.Encode(), nil
	case objstore.KindBlob:
		return r.store.GetBlob(h)
	case objstore.KindTag:
		return r.store.GetTag(h)
	default:
		return nil, fmt.Errorf("repo: unsupported object kind %v for %s", kind, h)
	}
}

