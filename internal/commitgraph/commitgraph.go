// Package commitgraph persists commits and answers ancestry queries:
// parents, reachability, lowest common ancestor, and bounded ranges.
package commitgraph

import (
	"bytes"
	"container/heap"
	"fmt"
	"iter"
	"time"

	"github.com/hashgraft/hashgraft/internal/catalog"
	"github.com/hashgraft/hashgraft/internal/objstore"
)

// Signature identifies an author or committer at a point in time.
type Signature struct {
	Name  string
	Email string
	When  time.Time
}

// Commit is one node in the history DAG.
type Commit struct {
	ID        objstore.Hash
	Tree      objstore.Hash
	Parents   []objstore.Hash
	Author    Signature
	Committer Signature
	Message   string
}

// Graph reads and writes commits through a catalog partition, keyed by
// commit hash. Every read goes to the catalog; nothing is cached in memory.
type Graph struct {
	cat   *catalog.Catalog
	store objstore.Store
}

// New wires a commit graph to its backing catalog and object store. Commit
// bytes live only in the catalog's COMMITS partition; WriteCommit does not
// write them to the object store.
func New(cat *catalog.Catalog, store objstore.Store) *Graph {
	return &Graph{cat: cat, store: store}
}

// encode renders c into the same flat, line-oriented shape as the object
// store's tree encoding: deterministic, newline-delimited, easy to hash.
func encode(c *Commit) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "tree %s\n", c.Tree)
	for _, p := range c.Parents {
		fmt.Fprintf(&buf, "parent %s\n", p)
	}
	fmt.Fprintf(&buf, "author %s <%s> %d %s\n", c.Author.Name, c.Author.Email, c.Author.When.Unix(), c.Author.When.Format("-0700"))
	fmt.Fprintf(&buf, "committer %s <%s> %d %s\n", c.Committer.Name, c.Committer.Email, c.Committer.When.Unix(), c.Committer.When.Format("-0700"))
	buf.WriteString("\n")
	buf.WriteString(c.Message)
	return buf.Bytes()
}

// WriteCommit hashes, stores, and indexes c, returning its assigned ID.
// c.ID is ignored on input and overwritten with the computed hash.
func (g *Graph) WriteCommit(c *Commit) (objstore.Hash, error) {
	data := encode(c)
	h := objstore.Sum(data)
	c.ID = h

	if err := g.cat.Set(catalog.PartitionCommits, string(h), data); err != nil {
		return "", fmt.Errorf("commitgraph: write %s: %w", h, err)
	}
	return h, nil
}

// ReadCommit loads a commit by hash.
func (g *Graph) ReadCommit(h objstore.Hash) (*Commit, error) {
	data, ok, err := g.cat.Get(catalog.PartitionCommits, string(h))
	if err != nil {
		return nil, fmt.Errorf("commitgraph: read %s: %w", h, err)
	}
	if !ok {
		return nil, fmt.Errorf("commitgraph: commit %s not found", h)
	}
	return decode(h, data)
}

func decode(id objstore.Hash, data []byte) (*Commit, error) {
	c := &Commit{ID: id}
	lines := bytes.Split(data, []byte("\n"))
	i := 0
	for ; i < len(lines); i++ {
		line := lines[i]
		if len(line) == 0 {
			i++
			break
		}
		var rest string
		switch {
		case bytes.HasPrefix(line, []byte("tree ")):
			c.Tree = objstore.Hash(line[len("tree "):])
		case bytes.HasPrefix(line, []byte("parent ")):
			c.Parents = append(c.Parents, objstore.Hash(line[len("parent "):]))
		case bytes.HasPrefix(line, []byte("author ")):
			rest = string(line[len("author "):])
			c.Author = parseSignature(rest)
		case bytes.HasPrefix(line, []byte("committer ")):
			rest = string(line[len("committer "):])
			c.Committer = parseSignature(rest)
		default:
			return nil, fmt.Errorf("commitgraph: malformed commit header %q", line)
		}
	}
	c.Message = string(bytes.Join(lines[i:], []byte("\n")))
	return c, nil
}

func parseSignature(s string) Signature {
	// "Name <email> unixts tz"
	open := bytes.IndexByte([]byte(s), '<')
	close := bytes.IndexByte([]byte(s), '>')
	if open < 0 || close < 0 || close < open {
		return Signature{Name: s}
	}
	name := s[:open]
	if len(name) > 0 && name[len(name)-1] == ' ' {
		name = name[:len(name)-1]
	}
	email := s[open+1 : close]
	var unix int64
	var tz string
	fmt.Sscanf(s[close+1:], " %d %s", &unix, &tz)
	loc := parseTZOffset(tz)
	return Signature{Name: name, Email: email, When: time.Unix(unix, 0).In(loc)}
}

// parseTZOffset parses a Git-style "+0000"/"-0700" offset into a fixed
// zone, falling back to UTC for a missing or malformed offset (commits
// written before this field existed, or a foreign import that lost it).
func parseTZOffset(tz string) *time.Location {
	if len(tz) != 5 {
		return time.UTC
	}
	sign := 1
	switch tz[0] {
	case '-':
		sign = -1
	case '+':
	default:
		return time.UTC
	}
	var hours, mins int
	if _, err := fmt.Sscanf(tz[1:3], "%d", &hours); err != nil {
		return time.UTC
	}
	if _, err := fmt.Sscanf(tz[3:5], "%d", &mins); err != nil {
		return time.UTC
	}
	return time.FixedZone(tz, sign*(hours*3600+mins*60))
}

// Parents returns the direct parents of h.
func (g *Graph) Parents(h objstore.Hash) ([]objstore.Hash, error) {
	c, err := g.ReadCommit(h)
	if err != nil {
		return nil, err
	}
	return c.Parents, nil
}

// commitHeap is a max-heap over commits ordered by committer date, newest
// first, adapted from the teacher's repository.go commitHeap.
type commitHeap []*Commit

func (h commitHeap) Len() int            { return len(h) }
func (h commitHeap) Less(i, j int) bool  { return h[i].Committer.When.After(h[j].Committer.When) }
func (h commitHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *commitHeap) Push(x any)         { *h = append(*h, x.(*Commit)) }
func (h *commitHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Ancestors lazily yields every commit reachable from start (inclusive),
// newest-first by committer date, stopping after limit commits (limit <= 0
// means unbounded).
func (g *Graph) Ancestors(start objstore.Hash, limit int) iter.Seq2[*Commit, error] {
	return func(yield func(*Commit, error) bool) {
		visited := make(map[objstore.Hash]bool)
		h := &commitHeap{}
		heap.Init(h)

		c, err := g.ReadCommit(start)
		if err != nil {
			yield(nil, err)
			return
		}
		heap.Push(h, c)
		visited[start] = true

		count := 0
		for h.Len() > 0 {
			if limit > 0 && count >= limit {
				return
			}
			cur := heap.Pop(h).(*Commit)
			count++
			if !yield(cur, nil) {
				return
			}
			for _, p := range cur.Parents {
				if visited[p] {
					continue
				}
				visited[p] = true
				pc, err := g.ReadCommit(p)
				if err != nil {
					if !yield(nil, err) {
						return
					}
					continue
				}
				heap.Push(h, pc)
			}
		}
	}
}

// LowestCommonAncestor finds the best common ancestor of ours and theirs via
// bidirectional BFS with a date-ordered frontier, adapted from the teacher's
// merge.go MergeBase, generalized to accept any two starting commits. It
// returns the first commit found marked by both sides, with no further
// tie-break between candidates.
func (g *Graph) LowestCommonAncestor(ours, theirs objstore.Hash) (objstore.Hash, error) {
	if ours == theirs {
		return ours, nil
	}

	const sideOurs = 1
	const sideTheirs = 2

	oursCommit, err := g.ReadCommit(ours)
	if err != nil {
		return "", fmt.Errorf("commitgraph: lca: %w", err)
	}
	theirsCommit, err := g.ReadCommit(theirs)
	if err != nil {
		return "", fmt.Errorf("commitgraph: lca: %w", err)
	}

	visited := map[objstore.Hash]int{ours: sideOurs, theirs: sideTheirs}

	h := &commitHeap{}
	heap.Init(h)
	heap.Push(h, oursCommit)
	heap.Push(h, theirsCommit)

	for h.Len() > 0 {
		c := heap.Pop(h).(*Commit)
		side := visited[c.ID]
		if side == sideOurs|sideTheirs {
			return c.ID, nil
		}

		for _, p := range c.Parents {
			prev := visited[p]
			next := prev | side
			if next == (sideOurs | sideTheirs) {
				return p, nil
			}
			if next != prev {
				visited[p] = next
				pc, err := g.ReadCommit(p)
				if err != nil {
					return "", fmt.Errorf("commitgraph: lca: %w", err)
				}
				heap.Push(h, pc)
			}
		}
	}

	return "", fmt.Errorf("commitgraph: no common ancestor between %s and %s", ours.Short(), theirs.Short())
}

// Range returns the commits in (fromExclusive, toInclusive] walked from
// toInclusive back to (but not including) fromExclusive, newest-first. An
// empty fromExclusive returns every ancestor of toInclusive.
func (g *Graph) Range(fromExclusive, toInclusive objstore.Hash) ([]*Commit, error) {
	var stop map[objstore.Hash]bool
	if !fromExclusive.IsZero() {
		stop = make(map[objstore.Hash]bool)
		for c, err := range g.Ancestors(fromExclusive, 0) {
			if err != nil {
				return nil, fmt.Errorf("commitgraph: range: %w", err)
			}
			stop[c.ID] = true
		}
	}

	var out []*Commit
	for c, err := range g.Ancestors(toInclusive, 0) {
		if err != nil {
			return nil, fmt.Errorf("commitgraph: range: %w", err)
		}
		if stop[c.ID] {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}
