package repo

import (
	"encoding/base64"
	"fmt"

	"github.com/hashgraft/hashgraft/internal/catalog"
	"github.com/hashgraft/hashgraft/internal/exchange"
	"github.com/hashgraft/hashgraft/internal/objstore"
)

// Export assembles a transfer envelope carrying every object reachable from
// the named branches (nil means every branch), plus those branches' tips
// and the repository's current HEAD. The envelope has no transport of its
// own — handing its marshaled bytes to a file, socket, or HTTP request is
// left to the caller, the same division internal/exchange documents.
func (r *Repository) Export(branchNames []string) (*exchange.Envelope, error) {
	all, err := r.refs.Branches()
	if err != nil {
		return nil, fmt.Errorf("repo: export: %w", err)
	}
	selected := all
	if branchNames != nil {
		selected = make(map[string]objstore.Hash, len(branchNames))
		for _, name := range branchNames {
			h, ok := all[name]
			if !ok {
				return nil, fmt.Errorf("repo: export: branch %q not found", name)
			}
			selected[name] = h
		}
	}

	seen := make(map[objstore.Hash]bool)
	var objs []packObj
	var walkCommit func(h objstore.Hash) error
	walkCommit = func(h objstore.Hash) error {
		if h.IsZero() || seen[h] {
			return nil
		}
		commit, err := r.graph.ReadCommit(h)
		if err != nil {
			return err
		}
		seen[h] = true
		objs = append(objs, packObj{hash: h, kind: objstore.KindCommit})
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
	for _, tip := range selected {
		if err := walkCommit(tip); err != nil {
			return nil, fmt.Errorf("repo: export: %w", err)
		}
	}

	env := &exchange.Envelope{Branches: selected}
	if head, err := r.refs.GetHead(); err == nil {
		env.Head = &exchange.HeadRef{Branch: head.Branch, Detached: head.Detached, Commit: head.Commit}
	}
	for _, o := range objs {
		raw, err := r.readRawObject(o.hash, o.kind)
		if err != nil {
			return nil, fmt.Errorf("repo: export: reading %s: %w", o.hash, err)
		}
		env.Objects = append(env.Objects, exchange.ObjectEntry{
			Hash:  o.hash,
			Kind:  o.kind,
			Bytes: base64.StdEncoding.EncodeToString(raw),
		})
	}
	return env, nil
}

// Import applies an envelope's objects, then fast-forwards every branch it
// names to the carried hash. A branch whose current tip isn't an ancestor
// of the incoming hash is left untouched and reported in the returned
// rejected map, the same non-destructive stance Checkout takes on a dirty
// working tree: Import never discards history, only a caller with force in
// mind would resolve that by some other means.
func (r *Repository) Import(env *exchange.Envelope) (rejected map[string]error, err error) {
	for _, entry := range env.Objects {
		has, err := r.objectExists(entry.Hash, entry.Kind)
		if err != nil {
			return nil, fmt.Errorf("repo: import: %w", err)
		}
		if has {
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(entry.Bytes)
		if err != nil {
			return nil, fmt.Errorf("repo: import: decoding %s: %w", entry.Hash, err)
		}
		if err := r.putRawObject(entry.Hash, entry.Kind, raw); err != nil {
			return nil, fmt.Errorf("repo: import: %w", err)
		}
	}

	rejected = make(map[string]error)
	for name, incoming := range env.Branches {
		existing, err := r.refs.GetBranch(name)
		if err != nil {
			if err := r.refs.CreateBranch(name, incoming); err != nil {
				return nil, fmt.Errorf("repo: import: creating branch %s: %w", name, err)
			}
			continue
		}
		if existing == incoming {
			continue
		}
		lca, err := r.graph.LowestCommonAncestor(existing, incoming)
		if err != nil || lca != existing {
			rejected[name] = fmt.Errorf("repo: import: branch %q is not a fast-forward of %s", name, incoming.Short())
			continue
		}
		if err := r.refs.UpdateRef(name, existing, incoming); err != nil {
			rejected[name] = err
			continue
		}
	}
	r.log.Info("import complete", "objects", len(env.Objects), "branches", len(env.Branches), "rejected", len(rejected))
	return rejected, nil
}

func (r *Repository) objectExists(h objstore.Hash, kind objstore.Kind) (bool, error) {
	if kind == objstore.KindCommit {
		_, ok, err := r.cat.Get(catalog.PartitionCommits, string(h))
		return ok, err
	}
	return r.store.Has(h)
}

func (r *Repository) putRawObject(h objstore.Hash, kind objstore.Kind, raw []byte) error {
	switch kind {
	case objstore.KindCommit:
		return r.cat.Set(catalog.PartitionCommits, string(h), raw)
	case objstore.KindBlob:
		got, err := r.store.PutBlob(raw)
		if err != nil {
			return err
		}
		if got != h {
			return fmt.Errorf("blob %s re-hashed to %s on import", h, got)
		}
		return nil
	case objstore.KindTree:
		tree, err := objstore.DecodeTree(raw)
		if err != nil {
			return err
		}
		got, err := r.store.PutTree(tree.Entries)
		if err != nil {
			return err
		}
		if got != h {
			return fmt.Errorf("tree %s re-hashed to %s on import", h, got)
		}
		return nil
	case objstore.KindTag:
		got, err := r.store.PutTag(raw)
		if err != nil {
			return err
		}
		if got != h {
			return fmt.Errorf("tag %s re-hashed to %s on import", h, got)
		}
		return nil
	default:
		return fmt.Errorf("unsupported object kind %v for %s", kind, h)
	}
}
