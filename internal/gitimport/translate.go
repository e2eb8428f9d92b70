package gitimport

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashgraft/hashgraft/internal/commitgraph"
	"github.com/hashgraft/hashgraft/internal/objstore"
	"github.com/hashgraft/hashgraft/internal/refs"
)

// Target is everything a translation writes into.
type Target struct {
	Store objstore.Store
	Graph *commitgraph.Graph
	Refs  *refs.Refs
}

// translator walks a foreign Git object graph exactly once per object,
// remembering each foreign id's corresponding native hash so that commit
// parents and tree entries translate consistently however many times they
// are referenced.
type translator struct {
	src     *Source
	dst     Target
	commits map[ForeignHash]objstore.Hash
	trees   map[ForeignHash]objstore.Hash
	blobs   map[ForeignHash]objstore.Hash
}

// ForeignBranch is one discovered branch ref pointing at a commit.
type ForeignBranch struct {
	Name string
	Head ForeignHash
}

// Import translates every reachable object from the given branch tips into
// the native store and commit graph, then — only once the ENTIRE foreign
// graph has translated successfully — creates the corresponding native
// branches and sets HEAD. Foreign tags are not read and no native tags are
// created. A translation failure leaves no native refs at all, so a botched
// import never leaves the repository half-migrated.
func Import(src *Source, dst Target, branches []ForeignBranch, headBranch string) error {
	t := &translator{
		src:     src,
		dst:     dst,
		commits: make(map[ForeignHash]objstore.Hash),
		trees:   make(map[ForeignHash]objstore.Hash),
		blobs:   make(map[ForeignHash]objstore.Hash),
	}

	branchHeads := make(map[string]objstore.Hash, len(branches))
	for _, b := range branches {
		native, err := t.translateCommit(b.Head)
		if err != nil {
			return fmt.Errorf("gitimport: translating branch %q: %w", b.Name, err)
		}
		branchHeads[b.Name] = native
	}

	for name, head := range branchHeads {
		if err := t.dst.Refs.CreateBranch(name, head); err != nil {
			return fmt.Errorf("gitimport: creating branch %q: %w", name, err)
		}
	}

	if headBranch != "" {
		if _, ok := branchHeads[headBranch]; ok {
			if err := t.dst.Refs.SetHeadBranch(headBranch); err != nil {
				return fmt.Errorf("gitimport: setting HEAD: %w", err)
			}
		}
	}

	return nil
}

// translateCommit translates a foreign commit and everything it reaches
// (tree, blobs, parents), memoized by foreign id.
func (t *translator) translateCommit(id ForeignHash) (objstore.Hash, error) {
	if native, ok := t.commits[id]; ok {
		return native, nil
	}

	obj, typ, err := t.src.ReadObject(id)
	if err != nil {
		return "", fmt.Errorf("reading commit %s: %w", id.Short(), err)
	}
	if typ != ForeignCommit {
		return "", fmt.Errorf("%s is not a commit (type %s)", id.Short(), typ)
	}
	fc := obj.(*ForeignCommit)

	nativeTree, err := t.translateTree(fc.Tree)
	if err != nil {
		return "", fmt.Errorf("translating tree for commit %s: %w", id.Short(), err)
	}

	nativeParents := make([]objstore.Hash, len(fc.Parents))
	for i, p := range fc.Parents {
		np, err := t.translateCommit(p)
		if err != nil {
			return "", fmt.Errorf("translating parent %s of %s: %w", p.Short(), id.Short(), err)
		}
		nativeParents[i] = np
	}

	commit := &commitgraph.Commit{
		Tree:      nativeTree,
		Parents:   nativeParents,
		Author:    commitgraph.Signature{Name: fc.Author.Name, Email: fc.Author.Email, When: fc.Author.When},
		Committer: commitgraph.Signature{Name: fc.Committer.Name, Email: fc.Committer.Email, When: fc.Committer.When},
		Message:   fc.Message,
	}
	native, err := t.dst.Graph.WriteCommit(commit)
	if err != nil {
		return "", fmt.Errorf("writing translated commit for %s: %w", id.Short(), err)
	}
	t.commits[id] = native
	return native, nil
}

func (t *translator) translateTree(id ForeignHash) (objstore.Hash, error) {
	if native, ok := t.trees[id]; ok {
		return native, nil
	}

	obj, typ, err := t.src.ReadObject(id)
	if err != nil {
		return "", fmt.Errorf("reading tree %s: %w", id.Short(), err)
	}
	if typ != ForeignTree {
		return "", fmt.Errorf("%s is not a tree (type %s)", id.Short(), typ)
	}
	ft := obj.(*ForeignTree)

	entries := make([]objstore.TreeEntry, 0, len(ft.Entries))
	for _, e := range ft.Entries {
		mode, err := translateMode(e.Mode)
		if err != nil {
			return "", fmt.Errorf("entry %q in tree %s: %w", e.Name, id.Short(), err)
		}

		var childHash objstore.Hash
		if mode.IsDir() {
			childHash, err = t.translateTree(e.ID)
		} else {
			childHash, err = t.translateBlob(e.ID)
		}
		if err != nil {
			return "", fmt.Errorf("entry %q in tree %s: %w", e.Name, id.Short(), err)
		}
		entries = append(entries, objstore.TreeEntry{Name: e.Name, Mode: mode, ChildHash: childHash})
	}

	native, err := t.dst.Store.PutTree(entries)
	if err != nil {
		return "", fmt.Errorf("writing translated tree for %s: %w", id.Short(), err)
	}
	t.trees[id] = native
	return native, nil
}

func (t *translator) translateBlob(id ForeignHash) (objstore.Hash, error) {
	if native, ok := t.blobs[id]; ok {
		return native, nil
	}
	obj, typ, err := t.src.ReadObject(id)
	if err != nil {
		return "", fmt.Errorf("reading blob %s: %w", id.Short(), err)
	}
	if typ != ForeignBlob {
		return "", fmt.Errorf("%s is not a blob (type %s)", id.Short(), typ)
	}
	data := obj.([]byte)

	native, err := t.dst.Store.PutBlob(data)
	if err != nil {
		return "", fmt.Errorf("writing translated blob for %s: %w", id.Short(), err)
	}
	t.blobs[id] = native
	return native, nil
}

// translateMode maps Git's file, executable, symlink, and directory mode
// strings onto the native mode
// enum; submodule gitlinks (160000) have no native equivalent and are
// rejected rather than silently dropped.
func translateMode(mode string) (objstore.Mode, error) {
	switch mode {
	case "100644":
		return objstore.ModeFile, nil
	case "100755":
		return objstore.ModeExec, nil
	case "120000":
		return objstore.ModeSymlink, nil
	case "40000", "040000":
		return objstore.ModeDir, nil
	default:
		return 0, fmt.Errorf("unsupported mode %q (submodule gitlinks are not importable)", mode)
	}
}

// DiscoverBranches reads every ref under refs/heads, both loose (one file
// per ref) and packed (a single packed-refs file), the two places Git
// itself stores branch tips.
func DiscoverBranches(gitDir string) ([]ForeignBranch, error) {
	seen := make(map[string]ForeignHash)

	headsDir := filepath.Join(gitDir, "refs", "heads")
	err := filepath.Walk(headsDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		name, err := filepath.Rel(headsDir, path)
		if err != nil {
			return nil
		}
		h, err := NewForeignHash(strings.TrimSpace(string(data)))
		if err != nil {
			return nil
		}
		seen[filepath.ToSlash(name)] = h
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("gitimport: walking refs/heads: %w", err)
	}

	if f, err := os.Open(filepath.Join(gitDir, "packed-refs")); err == nil {
		defer f.Close()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "^") {
				continue
			}
			fields := strings.SplitN(line, " ", 2)
			if len(fields) != 2 {
				continue
			}
			const prefix = "refs/heads/"
			if !strings.HasPrefix(fields[1], prefix) {
				continue
			}
			h, err := NewForeignHash(fields[0])
			if err != nil {
				continue
			}
			name := strings.TrimPrefix(fields[1], prefix)
			if _, exists := seen[name]; !exists {
				seen[name] = h
			}
		}
	}

	out := make([]ForeignBranch, 0, len(seen))
	for name, h := range seen {
		out = append(out, ForeignBranch{Name: name, Head: h})
	}
	return out, nil
}

// DiscoverHeadBranch reads .git/HEAD and returns the branch name it points
// at, or "" if HEAD is detached.
func DiscoverHeadBranch(gitDir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(gitDir, "HEAD"))
	if err != nil {
		return "", fmt.Errorf("gitimport: reading HEAD: %w", err)
	}
	line := strings.TrimSpace(string(data))
	const prefix = "ref: refs/heads/"
	if strings.HasPrefix(line, prefix) {
		return strings.TrimPrefix(line, prefix), nil
	}
	return "", nil
}
