// Package refs manages branches, HEAD, and tags: the named, mutable
// pointers into the otherwise-immutable object graph.
package refs

import (
	"fmt"

	"github.com/hashgraft/hashgraft/internal/catalog"
	"github.com/hashgraft/hashgraft/internal/objstore"
)

// Refs wraps the catalog partitions that hold branch/tag/HEAD state.
type Refs struct {
	cat *catalog.Catalog
}

// New wires a Refs accessor to its backing catalog.
func New(cat *catalog.Catalog) *Refs {
	return &Refs{cat: cat}
}

// Head describes the current HEAD: either attached to a branch name, or
// detached and pointing directly at a commit hash.
type Head struct {
	Branch   string // empty if detached
	Detached bool
	Commit   objstore.Hash
}

const headKey = "HEAD"

// GetHead reads the current HEAD state.
func (r *Refs) GetHead() (Head, error) {
	data, ok, err := r.cat.Get(catalog.PartitionHead, headKey)
	if err != nil {
		return Head{}, fmt.Errorf("refs: get head: %w", err)
	}
	if !ok {
		return Head{}, fmt.Errorf("refs: HEAD is unset")
	}
	s := string(data)
	if len(s) > 5 && s[:5] == "ref: " {
		branch := s[5:]
		commit, err := r.GetBranch(branch)
		if err != nil {
			return Head{Branch: branch}, nil // unborn branch
		}
		return Head{Branch: branch, Commit: commit}, nil
	}
	return Head{Detached: true, Commit: objstore.Hash(s)}, nil
}

// SetHeadBranch attaches HEAD to branch (creating no commit pointer; the
// branch itself must already exist or be created by the caller).
func (r *Refs) SetHeadBranch(branch string) error {
	if err := r.cat.Set(catalog.PartitionHead, headKey, []byte("ref: "+branch)); err != nil {
		return fmt.Errorf("refs: set head to branch %s: %w", branch, err)
	}
	return nil
}

// SetHeadDetached points HEAD directly at commit, detaching it from any branch.
func (r *Refs) SetHeadDetached(commit objstore.Hash) error {
	if err := r.cat.Set(catalog.PartitionHead, headKey, []byte(commit)); err != nil {
		return fmt.Errorf("refs: set detached head: %w", err)
	}
	return nil
}

// GetBranch resolves a branch name to its current commit.
func (r *Refs) GetBranch(name string) (objstore.Hash, error) {
	data, ok, err := r.cat.Get(catalog.PartitionBranches, name)
	if err != nil {
		return "", fmt.Errorf("refs: get branch %s: %w", name, err)
	}
	if !ok {
		return "", fmt.Errorf("refs: branch %q not found", name)
	}
	return objstore.Hash(data), nil
}

// Branches returns every branch name mapped to its commit.
func (r *Refs) Branches() (map[string]objstore.Hash, error) {
	out := make(map[string]objstore.Hash)
	err := r.cat.Scan(catalog.PartitionBranches, "", func(key string, value []byte) bool {
		out[key] = objstore.Hash(value)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("refs: list branches: %w", err)
	}
	return out, nil
}

// CreateBranch points a new branch name at commit, failing if it already exists.
func (r *Refs) CreateBranch(name string, commit objstore.Hash) error {
	if _, err := r.GetBranch(name); err == nil {
		return fmt.Errorf("refs: branch %q already exists", name)
	}
	if err := r.cat.Set(catalog.PartitionBranches, name, []byte(commit)); err != nil {
		return fmt.Errorf("refs: create branch %s: %w", name, err)
	}
	return nil
}

// DeleteBranch removes a branch entirely.
func (r *Refs) DeleteBranch(name string) error {
	if err := r.cat.Delete(catalog.PartitionBranches, name); err != nil {
		return fmt.Errorf("refs: delete branch %s: %w", name, err)
	}
	return nil
}

// ErrRefRaceLost is returned by UpdateRef when expectedOld doesn't match the
// ref's current value — another writer moved it first.
type ErrRefRaceLost struct {
	Branch string
	Wanted objstore.Hash
	Actual objstore.Hash
}

func (e *ErrRefRaceLost) Error() string {
	return fmt.Sprintf("refs: compare-and-set on %q lost the race: wanted old=%s, actual=%s",
		e.Branch, e.Wanted.Short(), e.Actual.Short())
}

// UpdateRef atomically moves branch from expectedOld to newVal, failing with
// ErrRefRaceLost if another writer already moved it. An empty expectedOld
// means "branch must not yet exist" (used when creating branches under
// contention).
func (r *Refs) UpdateRef(branch string, expectedOld, newVal objstore.Hash) error {
	current, err := r.GetBranch(branch)
	exists := err == nil
	if expectedOld.IsZero() {
		if exists {
			return &ErrRefRaceLost{Branch: branch, Wanted: expectedOld, Actual: current}
		}
	} else if !exists || current != expectedOld {
		return &ErrRefRaceLost{Branch: branch, Wanted: expectedOld, Actual: current}
	}

	if err := r.cat.WriteBatch([]catalog.Op{
		{Partition: catalog.PartitionBranches, Key: branch, Value: []byte(newVal)},
	}); err != nil {
		return fmt.Errorf("refs: update ref %s: %w", branch, err)
	}
	return nil
}

// GetTag resolves a tag name to the hash it points at (a commit for
// lightweight tags, a tag object for annotated tags).
func (r *Refs) GetTag(name string) (objstore.Hash, error) {
	data, ok, err := r.cat.Get(catalog.PartitionTags, name)
	if err != nil {
		return "", fmt.Errorf("refs: get tag %s: %w", name, err)
	}
	if !ok {
		return "", fmt.Errorf("refs: tag %q not found", name)
	}
	return objstore.Hash(data), nil
}

// Tags returns every tag name mapped to the hash it points at.
func (r *Refs) Tags() (map[string]objstore.Hash, error) {
	out := make(map[string]objstore.Hash)
	err := r.cat.Scan(catalog.PartitionTags, "", func(key string, value []byte) bool {
		out[key] = objstore.Hash(value)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("refs: list tags: %w", err)
	}
	return out, nil
}

// CreateTag points name at target (commit hash for lightweight, tag-object
// hash for annotated), failing if the name already exists.
func (r *Refs) CreateTag(name string, target objstore.Hash) error {
	if _, err := r.GetTag(name); err == nil {
		return fmt.Errorf("refs: tag %q already exists", name)
	}
	if err := r.cat.Set(catalog.PartitionTags, name, []byte(target)); err != nil {
		return fmt.Errorf("refs: create tag %s: %w", name, err)
	}
	return nil
}

// DeleteTag removes a tag.
func (r *Refs) DeleteTag(name string) error {
	if err := r.cat.Delete(catalog.PartitionTags, name); err != nil {
		return fmt.Errorf("refs: delete tag %s: %w", name, err)
	}
	return nil
}
