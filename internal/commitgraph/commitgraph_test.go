package commitgraph

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/hashgraft/hashgraft/internal/catalog"
	"github.com/hashgraft/hashgraft/internal/objstore"
)

func newTestGraph(t *testing.T) *Graph {
	t.Helper()
	cat, err := catalog.Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	t.Cleanup(func() { cat.Close() })
	store, err := objstore.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return New(cat, store)
}

func sig(name string, when time.Time) Signature {
	return Signature{Name: name, Email: name + "@example.com", When: when}
}

func writeCommit(t *testing.T, g *Graph, tree objstore.Hash, parents []objstore.Hash, when time.Time) objstore.Hash {
	t.Helper()
	s := sig("tester", when)
	h, err := g.WriteCommit(&Commit{Tree: tree, Parents: parents, Author: s, Committer: s, Message: "msg"})
	if err != nil {
		t.Fatalf("WriteCommit: %v", err)
	}
	return h
}

func TestWriteReadCommitRoundTrip(t *testing.T) {
	g := newTestGraph(t)
	when := time.Unix(1700000000, 0).UTC()
	h := writeCommit(t, g, objstore.Sum([]byte("tree1")), nil, when)

	got, err := g.ReadCommit(h)
	if err != nil {
		t.Fatalf("ReadCommit: %v", err)
	}
	if got.ID != h {
		t.Errorf("ReadCommit: ID = %s, want %s", got.ID, h)
	}
	if got.Tree != objstore.Sum([]byte("tree1")) {
		t.Errorf("ReadCommit: Tree = %s", got.Tree)
	}
	if got.Author.Name != "tester" || got.Author.Email != "tester@example.com" {
		t.Errorf("ReadCommit: Author = %+v", got.Author)
	}
	if !got.Author.When.Equal(when) {
		t.Errorf("ReadCommit: When = %v, want %v", got.Author.When, when)
	}
	if got.Message != "msg" {
		t.Errorf("ReadCommit: Message = %q", got.Message)
	}
}

func TestWriteCommitDeterministicHash(t *testing.T) {
	g := newTestGraph(t)
	when := time.Unix(1700000000, 0).UTC()
	s := sig("tester", when)
	c1 := &Commit{Tree: objstore.Sum([]byte("t")), Author: s, Committer: s, Message: "same"}
	c2 := &Commit{Tree: objstore.Sum([]byte("t")), Author: s, Committer: s, Message: "same"}

	h1, err := g.WriteCommit(c1)
	if err != nil {
		t.Fatalf("WriteCommit: %v", err)
	}
	h2, err := g.WriteCommit(c2)
	if err != nil {
		t.Fatalf("WriteCommit: %v", err)
	}
	if h1 != h2 {
		t.Errorf("identical commits hashed differently: %s != %s", h1, h2)
	}
}

func TestReadCommitNotFound(t *testing.T) {
	g := newTestGraph(t)
	if _, err := g.ReadCommit(objstore.Sum([]byte("nope"))); err == nil {
		t.Error("ReadCommit should fail for an unknown hash")
	}
}

func TestParentsOfMergeCommit(t *testing.T) {
	g := newTestGraph(t)
	base := time.Unix(1700000000, 0).UTC()
	p1 := writeCommit(t, g, objstore.Sum([]byte("t1")), nil, base)
	p2 := writeCommit(t, g, objstore.Sum([]byte("t2")), nil, base.Add(time.Second))
	merge := writeCommit(t, g, objstore.Sum([]byte("t3")), []objstore.Hash{p1, p2}, base.Add(2*time.Second))

	parents, err := g.Parents(merge)
	if err != nil {
		t.Fatalf("Parents: %v", err)
	}
	if len(parents) != 2 || parents[0] != p1 || parents[1] != p2 {
		t.Errorf("Parents = %v, want [%s %s]", parents, p1, p2)
	}
}

// buildLine builds n linear commits, each the prior's parent, timestamps
// increasing so Ancestors' newest-first order is well defined.
func buildLine(t *testing.T, g *Graph, n int) []objstore.Hash {
	t.Helper()
	base := time.Unix(1700000000, 0).UTC()
	var chain []objstore.Hash
	var parent objstore.Hash
	for i := 0; i < n; i++ {
		var parents []objstore.Hash
		if !parent.IsZero() {
			parents = []objstore.Hash{parent}
		}
		h := writeCommit(t, g, objstore.Sum([]byte{byte(i)}), parents, base.Add(time.Duration(i)*time.Minute))
		chain = append(chain, h)
		parent = h
	}
	return chain
}

func TestAncestorsNewestFirst(t *testing.T) {
	g := newTestGraph(t)
	chain := buildLine(t, g, 4)
	tip := chain[len(chain)-1]

	var got []objstore.Hash
	for c, err := range g.Ancestors(tip, 0) {
		if err != nil {
			t.Fatalf("Ancestors: %v", err)
		}
		got = append(got, c.ID)
	}
	if len(got) != len(chain) {
		t.Fatalf("Ancestors: got %d commits, want %d", len(got), len(chain))
	}
	for i, h := range got {
		want := chain[len(chain)-1-i]
		if h != want {
			t.Errorf("Ancestors[%d] = %s, want %s", i, h, want)
		}
	}
}

func TestAncestorsRespectsLimit(t *testing.T) {
	g := newTestGraph(t)
	chain := buildLine(t, g, 5)
	tip := chain[len(chain)-1]

	count := 0
	for c, err := range g.Ancestors(tip, 2) {
		if err != nil {
			t.Fatalf("Ancestors: %v", err)
		}
		count++
		_ = c
	}
	if count != 2 {
		t.Errorf("Ancestors with limit 2 yielded %d commits", count)
	}
}

func TestAncestorsStopsOnEarlyBreak(t *testing.T) {
	g := newTestGraph(t)
	chain := buildLine(t, g, 5)
	tip := chain[len(chain)-1]

	count := 0
	for range g.Ancestors(tip, 0) {
		count++
		if count == 1 {
			break
		}
	}
	if count != 1 {
		t.Errorf("range-over-func loop should have stopped after one iteration, got %d", count)
	}
}

func TestLowestCommonAncestorSameCommit(t *testing.T) {
	g := newTestGraph(t)
	chain := buildLine(t, g, 2)
	h := chain[1]
	lca, err := g.LowestCommonAncestor(h, h)
	if err != nil {
		t.Fatalf("LowestCommonAncestor: %v", err)
	}
	if lca != h {
		t.Errorf("LowestCommonAncestor(h, h) = %s, want %s", lca, h)
	}
}

func TestLowestCommonAncestorDivergedBranches(t *testing.T) {
	g := newTestGraph(t)
	base := time.Unix(1700000000, 0).UTC()
	root := writeCommit(t, g, objstore.Sum([]byte("root")), nil, base)
	ours := writeCommit(t, g, objstore.Sum([]byte("ours")), []objstore.Hash{root}, base.Add(time.Minute))
	theirs := writeCommit(t, g, objstore.Sum([]byte("theirs")), []objstore.Hash{root}, base.Add(2*time.Minute))

	lca, err := g.LowestCommonAncestor(ours, theirs)
	if err != nil {
		t.Fatalf("LowestCommonAncestor: %v", err)
	}
	if lca != root {
		t.Errorf("LowestCommonAncestor = %s, want %s", lca, root)
	}
}

func TestLowestCommonAncestorFastForward(t *testing.T) {
	g := newTestGraph(t)
	chain := buildLine(t, g, 3)
	lca, err := g.LowestCommonAncestor(chain[0], chain[2])
	if err != nil {
		t.Fatalf("LowestCommonAncestor: %v", err)
	}
	if lca != chain[0] {
		t.Errorf("LowestCommonAncestor(ancestor, descendant) = %s, want %s", lca, chain[0])
	}
}

func TestLowestCommonAncestorUnrelatedHistories(t *testing.T) {
	g := newTestGraph(t)
	base := time.Unix(1700000000, 0).UTC()
	a := writeCommit(t, g, objstore.Sum([]byte("a")), nil, base)
	b := writeCommit(t, g, objstore.Sum([]byte("b")), nil, base.Add(time.Minute))

	if _, err := g.LowestCommonAncestor(a, b); err == nil {
		t.Error("LowestCommonAncestor should fail for unrelated histories")
	}
}

func TestRangeExcludesFromInclusiveBoundary(t *testing.T) {
	g := newTestGraph(t)
	chain := buildLine(t, g, 4)

	got, err := g.Range(chain[0], chain[3])
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Range(chain[0], chain[3]): got %d commits, want 3", len(got))
	}
	if got[0].ID != chain[3] || got[1].ID != chain[2] || got[2].ID != chain[1] {
		t.Errorf("Range order = [%s %s %s], want [%s %s %s]", got[0].ID, got[1].ID, got[2].ID, chain[3], chain[2], chain[1])
	}
}

func TestRangeEmptyFromReturnsAllAncestors(t *testing.T) {
	g := newTestGraph(t)
	chain := buildLine(t, g, 3)

	got, err := g.Range("", chain[2])
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("Range(\"\", tip): got %d commits, want 3", len(got))
	}
}
