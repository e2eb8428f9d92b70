package repo

import (
	"fmt"
	"strings"
	"time"

	"github.com/hashgraft/hashgraft/internal/commitgraph"
	"github.com/hashgraft/hashgraft/internal/objstore"
)

// BlameEntry records which commit last touched a tree entry.
type BlameEntry struct {
	CommitHash    objstore.Hash
	CommitMessage string
	AuthorName    string
	When          time.Time
}

// resolveTreeAtPath walks from rootTree through a slash-separated dirPath
// and returns the tree hash at that location. Empty dirPath returns
// rootTree itself.
func (r *Repository) resolveTreeAtPath(rootTree objstore.Hash, dirPath string) (objstore.Hash, error) {
	if dirPath == "" || dirPath == "/" {
		return rootTree, nil
	}
	cur := rootTree
	for _, part := range strings.Split(strings.Trim(dirPath, "/"), "/") {
		tree, err := r.store.GetTree(cur)
		if err != nil {
			return "", fmt.Errorf("repo: blame: reading tree %s: %w", cur, err)
		}
		found := false
		for _, e := range tree.Entries {
			if e.Name == part {
				if !e.Mode.IsDir() {
					return "", fmt.Errorf("repo: blame: %q is not a directory", part)
				}
				cur = e.ChildHash
				found = true
				break
			}
		}
		if !found {
			return "", fmt.Errorf("repo: blame: path component %q not found", part)
		}
	}
	return cur, nil
}

// Blame returns, for every immediate entry of dirPath as it exists at
// commitHash, the commit that most recently introduced or changed it:
// walking backward through ancestry, an entry is attributed to the first
// commit visited (starting at commitHash itself) whose parent's tree at
// dirPath lacks that entry or holds a different version of it; a root
// commit takes every entry still unattributed.
func (r *Repository) Blame(commitHash objstore.Hash, dirPath string) (map[string]*BlameEntry, error) {
	const maxDepth = 1000

	target, err := r.graph.ReadCommit(commitHash)
	if err != nil {
		return nil, fmt.Errorf("repo: blame: %w", err)
	}
	targetTreeHash, err := r.resolveTreeAtPath(target.Tree, dirPath)
	if err != nil {
		return nil, err
	}
	targetTree, err := r.store.GetTree(targetTreeHash)
	if err != nil {
		return nil, fmt.Errorf("repo: blame: %w", err)
	}

	current := make(map[string]objstore.Hash, len(targetTree.Entries))
	for _, e := range targetTree.Entries {
		current[e.Name] = e.ChildHash
	}

	blame := make(map[string]*BlameEntry, len(current))

	type queueItem struct {
		hash  objstore.Hash
		depth int
	}
	queue := []queueItem{{hash: commitHash, depth: 0}}
	visited := map[objstore.Hash]bool{commitHash: true}

	attributeTo := func(commit *commitgraph.Commit, names []string) {
		for _, name := range names {
			if _, done := blame[name]; done {
				continue
			}
			blame[name] = &BlameEntry{
				CommitHash:    commit.ID,
				CommitMessage: firstLine(commit.Message),
				AuthorName:    commit.Author.Name,
				When:          commit.Author.When,
			}
		}
	}

	for len(queue) > 0 && len(blame) < len(current) {
		item := queue[0]
		queue = queue[1:]
		if item.depth >= maxDepth {
			continue
		}

		commit, err := r.graph.ReadCommit(item.hash)
		if err != nil {
			return nil, fmt.Errorf("repo: blame: %w", err)
		}

		if len(commit.Parents) == 0 {
			var unblamed []string
			for name := range current {
				if _, done := blame[name]; !done {
					unblamed = append(unblamed, name)
				}
			}
			attributeTo(commit, unblamed)
			continue
		}

		for _, parentHash := range commit.Parents {
			if visited[parentHash] {
				continue
			}
			visited[parentHash] = true

			parent, err := r.graph.ReadCommit(parentHash)
			if err != nil {
				continue
			}
			parentTreeHash, err := r.resolveTreeAtPath(parent.Tree, dirPath)
			if err != nil {
				var unblamed []string
				for name := range current {
					if _, done := blame[name]; !done {
						unblamed = append(unblamed, name)
					}
				}
				attributeTo(commit, unblamed)
				queue = append(queue, queueItem{hash: parentHash, depth: item.depth + 1})
				continue
			}
			parentTree, err := r.store.GetTree(parentTreeHash)
			if err != nil {
				return nil, fmt.Errorf("repo: blame: %w", err)
			}
			parentEntries := make(map[string]objstore.Hash, len(parentTree.Entries))
			for _, e := range parentTree.Entries {
				parentEntries[e.Name] = e.ChildHash
			}

			var changed []string
			for name, hash := range current {
				if _, done := blame[name]; done {
					continue
				}
				if ph, ok := parentEntries[name]; !ok || ph != hash {
					changed = append(changed, name)
				}
			}
			attributeTo(commit, changed)

			queue = append(queue, queueItem{hash: parentHash, depth: item.depth + 1})
		}
	}

	var fallback []string
	for name := range current {
		if _, done := blame[name]; !done {
			fallback = append(fallback, name)
		}
	}
	attributeTo(target, fallback)

	return blame, nil
}

func firstLine(message string) string {
	if i := strings.IndexByte(message, '\n'); i >= 0 {
		return message[:i]
	}
	return message
}
