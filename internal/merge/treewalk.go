package merge

import (
	"fmt"

	"github.com/hashgraft/hashgraft/internal/objstore"
)

// ChangeStatus classifies one path's change between two trees.
type ChangeStatus int

const (
	StatusAdded ChangeStatus = iota
	StatusDeleted
	StatusModified
)

// Change is one path-level difference produced by TreeDiff.
type Change struct {
	Path    string
	Status  ChangeStatus
	OldHash objstore.Hash
	NewHash objstore.Hash
	OldMode objstore.Mode
	NewMode objstore.Mode
}

const maxTreeDiffEntries = 500

// TreeSource is the subset of objstore.Store tree walking needs.
type TreeSource interface {
	GetTree(h objstore.Hash) (*objstore.Tree, error)
}

// TreeDiff recursively compares two trees, returning a flat list of changed
// paths. oldTreeHash may be zero for a root commit's empty parent tree.
func TreeDiff(store TreeSource, oldTreeHash, newTreeHash objstore.Hash, prefix string) ([]Change, error) {
	var changes []Change

	var oldTree *objstore.Tree
	if !oldTreeHash.IsZero() {
		var err error
		oldTree, err = store.GetTree(oldTreeHash)
		if err != nil {
			return nil, fmt.Errorf("merge: tree diff: reading old tree %s: %w", oldTreeHash, err)
		}
	}
	newTree, err := store.GetTree(newTreeHash)
	if err != nil {
		return nil, fmt.Errorf("merge: tree diff: reading new tree %s: %w", newTreeHash, err)
	}

	oldEntries := make(map[string]objstore.TreeEntry)
	if oldTree != nil {
		for _, e := range oldTree.Entries {
			oldEntries[e.Name] = e
		}
	}
	newEntries := make(map[string]objstore.TreeEntry)
	for _, e := range newTree.Entries {
		newEntries[e.Name] = e
	}

	names := make(map[string]bool)
	for n := range oldEntries {
		names[n] = true
	}
	for n := range newEntries {
		names[n] = true
	}

	for name := range names {
		oldEntry, inOld := oldEntries[name]
		newEntry, inNew := newEntries[name]
		path := name
		if prefix != "" {
			path = prefix + "/" + name
		}

		if len(changes) >= maxTreeDiffEntries {
			return nil, fmt.Errorf("merge: tree diff exceeds maximum of %d entries", maxTreeDiffEntries)
		}

		switch {
		case !inOld && inNew:
			if newEntry.Mode.IsDir() {
				sub, err := TreeDiff(store, "", newEntry.ChildHash, path)
				if err != nil {
					return nil, err
				}
				changes = append(changes, sub...)
			} else {
				changes = append(changes, Change{Path: path, Status: StatusAdded, NewHash: newEntry.ChildHash, NewMode: newEntry.Mode})
			}
		case inOld && !inNew:
			if oldEntry.Mode.IsDir() {
				sub, err := TreeDiff(store, oldEntry.ChildHash, "", path)
				if err != nil {
					return nil, err
				}
				changes = append(changes, sub...)
			} else {
				changes = append(changes, Change{Path: path, Status: StatusDeleted, OldHash: oldEntry.ChildHash, OldMode: oldEntry.Mode})
			}
		case inOld && inNew && oldEntry.ChildHash != newEntry.ChildHash:
			switch {
			case oldEntry.Mode.IsDir() && newEntry.Mode.IsDir():
				sub, err := TreeDiff(store, oldEntry.ChildHash, newEntry.ChildHash, path)
				if err != nil {
					return nil, err
				}
				changes = append(changes, sub...)
			case oldEntry.Mode.IsDir():
				sub, err := TreeDiff(store, oldEntry.ChildHash, "", path)
				if err != nil {
					return nil, err
				}
				changes = append(changes, sub...)
				changes = append(changes, Change{Path: path, Status: StatusAdded, NewHash: newEntry.ChildHash, NewMode: newEntry.Mode})
			case newEntry.Mode.IsDir():
				changes = append(changes, Change{Path: path, Status: StatusDeleted, OldHash: oldEntry.ChildHash, OldMode: oldEntry.Mode})
				sub, err := TreeDiff(store, "", newEntry.ChildHash, path)
				if err != nil {
					return nil, err
				}
				changes = append(changes, sub...)
			default:
				changes = append(changes, Change{
					Path: path, Status: StatusModified,
					OldHash: oldEntry.ChildHash, NewHash: newEntry.ChildHash,
					OldMode: oldEntry.Mode, NewMode: newEntry.Mode,
				})
			}
		}
	}

	return changes, nil
}
