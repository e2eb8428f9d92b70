package repo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hashgraft/hashgraft/internal/commitgraph"
)

func TestParseMailmapFormOne(t *testing.T) {
	m := parseMailmap("Proper Name <commit@example.com>\n")
	if len(m.entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(m.entries))
	}
	e := m.entries[0]
	if e.properName != "Proper Name" || e.commitEmail != "commit@example.com" {
		t.Errorf("entry = %+v", e)
	}
}

func TestParseMailmapFormTwo(t *testing.T) {
	m := parseMailmap("<proper@example.com> <commit@example.com>\n")
	if len(m.entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(m.entries))
	}
	e := m.entries[0]
	if e.properEmail != "proper@example.com" || e.commitEmail != "commit@example.com" || e.properName != "" {
		t.Errorf("entry = %+v", e)
	}
}

func TestParseMailmapFormThree(t *testing.T) {
	m := parseMailmap("Proper Name <proper@example.com> <commit@example.com>\n")
	if len(m.entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(m.entries))
	}
	e := m.entries[0]
	if e.properName != "Proper Name" || e.properEmail != "proper@example.com" || e.commitEmail != "commit@example.com" {
		t.Errorf("entry = %+v", e)
	}
}

func TestParseMailmapFormFour(t *testing.T) {
	m := parseMailmap("Proper Name <proper@example.com> Commit Name <commit@example.com>\n")
	if len(m.entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(m.entries))
	}
	e := m.entries[0]
	if e.properName != "Proper Name" || e.properEmail != "proper@example.com" ||
		e.commitName != "Commit Name" || e.commitEmail != "commit@example.com" {
		t.Errorf("entry = %+v", e)
	}
}

func TestParseMailmapSkipsBlankAndCommentLines(t *testing.T) {
	m := parseMailmap("# a comment\n\nProper Name <commit@example.com>\n")
	if len(m.entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(m.entries))
	}
}

func TestParseMailmapLineRejectsUnclosedBracket(t *testing.T) {
	if _, ok := parseMailmapLine("Proper Name <commit@example.com"); ok {
		t.Error("parseMailmapLine should reject an unterminated <email>")
	}
}

func TestParseMailmapLineRejectsNoEmail(t *testing.T) {
	if _, ok := parseMailmapLine("Proper Name With No Email"); ok {
		t.Error("parseMailmapLine should reject a line with no <email>")
	}
}

func TestResolveReplacesNameAndEmail(t *testing.T) {
	m := parseMailmap("Proper Name <proper@example.com> Commit Name <commit@example.com>\n")
	sig := &commitgraph.Signature{Name: "Commit Name", Email: "commit@example.com"}
	m.Resolve(sig)
	if sig.Name != "Proper Name" || sig.Email != "proper@example.com" {
		t.Errorf("Resolve() = %+v", sig)
	}
}

func TestResolveIsCaseInsensitiveOnEmailAndName(t *testing.T) {
	m := parseMailmap("Proper Name <proper@example.com> Commit Name <COMMIT@EXAMPLE.COM>\n")
	sig := &commitgraph.Signature{Name: "commit name", Email: "Commit@Example.com"}
	m.Resolve(sig)
	if sig.Name != "Proper Name" || sig.Email != "proper@example.com" {
		t.Errorf("Resolve() = %+v", sig)
	}
}

func TestResolveLeavesUnmatchedSignatureUntouched(t *testing.T) {
	m := parseMailmap("Proper Name <proper@example.com> Commit Name <commit@example.com>\n")
	sig := &commitgraph.Signature{Name: "Someone Else", Email: "someone@example.com"}
	m.Resolve(sig)
	if sig.Name != "Someone Else" || sig.Email != "someone@example.com" {
		t.Errorf("Resolve() should not touch an unmatched signature, got %+v", sig)
	}
}

func TestResolveLastEntryWins(t *testing.T) {
	m := parseMailmap("First Name <first@example.com> <dup@example.com>\nSecond Name <second@example.com> <dup@example.com>\n")
	sig := &commitgraph.Signature{Name: "whoever", Email: "dup@example.com"}
	m.Resolve(sig)
	if sig.Name != "Second Name" || sig.Email != "second@example.com" {
		t.Errorf("Resolve() should apply the last matching entry, got %+v", sig)
	}
}

func TestResolveOnNilMailmapIsNoop(t *testing.T) {
	var m *Mailmap
	sig := &commitgraph.Signature{Name: "X", Email: "x@example.com"}
	m.Resolve(sig)
	if sig.Name != "X" || sig.Email != "x@example.com" {
		t.Errorf("Resolve() on nil Mailmap should not modify sig, got %+v", sig)
	}
}

func TestLoadMailmapReturnsNilWhenAbsent(t *testing.T) {
	m, err := loadMailmap(t.TempDir())
	if err != nil {
		t.Fatalf("loadMailmap: %v", err)
	}
	if m != nil {
		t.Errorf("loadMailmap() = %+v, want nil when .mailmap is absent", m)
	}
}

func TestLoadMailmapParsesPresentFile(t *testing.T) {
	dir := t.TempDir()
	content := "Proper Name <commit@example.com>\n"
	if err := os.WriteFile(filepath.Join(dir, ".mailmap"), []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	m, err := loadMailmap(dir)
	if err != nil {
		t.Fatalf("loadMailmap: %v", err)
	}
	if m == nil || len(m.entries) != 1 {
		t.Fatalf("loadMailmap() = %+v", m)
	}
}
