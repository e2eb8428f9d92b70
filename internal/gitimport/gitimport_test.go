package gitimport

import (
	"bytes"
	"compress/zlib"
	"crypto/sha1"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/hashgraft/hashgraft/internal/catalog"
	"github.com/hashgraft/hashgraft/internal/commitgraph"
	"github.com/hashgraft/hashgraft/internal/objstore"
	"github.com/hashgraft/hashgraft/internal/refs"
)

func TestNewForeignHashValidatesLength(t *testing.T) {
	if _, err := NewForeignHash("abc"); err == nil {
		t.Error("NewForeignHash should reject a too-short id")
	}
	if _, err := NewForeignHash(string(make([]byte, 40))); err == nil {
		t.Error("NewForeignHash should reject non-hex characters")
	}
	h, err := NewForeignHash("0123456789abcdef0123456789abcdef01234567")
	if err != nil {
		t.Fatalf("NewForeignHash: %v", err)
	}
	if h.Short() != "0123456" {
		t.Errorf("Short() = %q, want 0123456", h.Short())
	}
}

func TestNewForeignHashFromBytes(t *testing.T) {
	var raw [20]byte
	for i := range raw {
		raw[i] = byte(i)
	}
	h := NewForeignHashFromBytes(raw)
	if len(h) != 40 {
		t.Errorf("NewForeignHashFromBytes produced length %d, want 40", len(h))
	}
	if string(h) != hex.EncodeToString(raw[:]) {
		t.Errorf("NewForeignHashFromBytes = %s, want %s", h, hex.EncodeToString(raw[:]))
	}
}

func TestForeignObjectTypeString(t *testing.T) {
	cases := map[ForeignObjectType]string{
		ForeignCommit: "commit",
		ForeignTree:   "tree",
		ForeignBlob:   "blob",
		ForeignTag:    "tag",
		ForeignNone:   "unknown",
	}
	for typ, want := range cases {
		if got := typ.String(); got != want {
			t.Errorf("%v.String() = %q, want %q", typ, got, want)
		}
	}
}

func TestParseForeignSignature(t *testing.T) {
	sig, err := ParseForeignSignature("Jane Doe <jane@example.com> 1700000000 +0200")
	if err != nil {
		t.Fatalf("ParseForeignSignature: %v", err)
	}
	if sig.Name != "Jane Doe" || sig.Email != "jane@example.com" {
		t.Errorf("sig = %+v", sig)
	}
	if sig.When.Unix() != 1700000000 {
		t.Errorf("sig.When.Unix() = %d, want 1700000000", sig.When.Unix())
	}
	_, offset := sig.When.Zone()
	if offset != 2*3600 {
		t.Errorf("sig.When zone offset = %d, want %d", offset, 2*3600)
	}
}

func TestParseForeignSignatureRejectsMalformed(t *testing.T) {
	if _, err := ParseForeignSignature("not a signature"); err == nil {
		t.Error("ParseForeignSignature should reject a line without <email>")
	}
}

// writeLooseObject writes a Git-style loose object (zlib("<type> <len>\0<body>"))
// directly into gitDir/objects/xx/yyyy..., returning its 40-char SHA-1 id.
func writeLooseObject(t *testing.T, gitDir, typ string, body []byte) ForeignHash {
	t.Helper()
	header := []byte(typ + " " + itoa(len(body)) + "\x00")
	full := append(header, body...)

	sum := sha1.Sum(full)
	id := hex.EncodeToString(sum[:])

	dir := filepath.Join(gitDir, "objects", id[:2])
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(full); err != nil {
		t.Fatalf("zlib write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zlib close: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, id[2:]), buf.Bytes(), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return ForeignHash(id)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

func TestReadObjectDecodesLooseBlob(t *testing.T) {
	gitDir := t.TempDir()
	id := writeLooseObject(t, gitDir, "blob", []byte("hello git"))

	src, err := OpenSource(gitDir)
	if err != nil {
		t.Fatalf("OpenSource: %v", err)
	}
	obj, typ, err := src.ReadObject(id)
	if err != nil {
		t.Fatalf("ReadObject: %v", err)
	}
	if typ != ForeignBlob {
		t.Errorf("type = %v, want ForeignBlob", typ)
	}
	if string(obj.([]byte)) != "hello git" {
		t.Errorf("blob content = %q", obj)
	}
}

func TestReadObjectDecodesLooseCommit(t *testing.T) {
	gitDir := t.TempDir()
	treeID := writeLooseObject(t, gitDir, "tree", nil)
	body := "tree " + string(treeID) + "\n" +
		"author Jane Doe <jane@example.com> 1700000000 +0000\n" +
		"committer Jane Doe <jane@example.com> 1700000000 +0000\n" +
		"\nfirst commit\n"
	id := writeLooseObject(t, gitDir, "commit", []byte(body))

	src, err := OpenSource(gitDir)
	if err != nil {
		t.Fatalf("OpenSource: %v", err)
	}
	obj, typ, err := src.ReadObject(id)
	if err != nil {
		t.Fatalf("ReadObject: %v", err)
	}
	if typ != ForeignCommit {
		t.Fatalf("type = %v, want ForeignCommit", typ)
	}
	fc := obj.(*ForeignCommit)
	if fc.Tree != treeID {
		t.Errorf("Tree = %s, want %s", fc.Tree, treeID)
	}
	if fc.Message != "first commit" {
		t.Errorf("Message = %q", fc.Message)
	}
	if fc.Author.Name != "Jane Doe" {
		t.Errorf("Author = %+v", fc.Author)
	}
}

func TestReadObjectDecodesLooseTree(t *testing.T) {
	gitDir := t.TempDir()
	blobID := writeLooseObject(t, gitDir, "blob", []byte("content"))

	var raw [20]byte
	decoded, _ := hex.DecodeString(string(blobID))
	copy(raw[:], decoded)

	var body bytes.Buffer
	body.WriteString("100644 a.txt\x00")
	body.Write(raw[:])
	id := writeLooseObject(t, gitDir, "tree", body.Bytes())

	src, err := OpenSource(gitDir)
	if err != nil {
		t.Fatalf("OpenSource: %v", err)
	}
	obj, typ, err := src.ReadObject(id)
	if err != nil {
		t.Fatalf("ReadObject: %v", err)
	}
	if typ != ForeignTree {
		t.Fatalf("type = %v, want ForeignTree", typ)
	}
	ft := obj.(*ForeignTree)
	if len(ft.Entries) != 1 || ft.Entries[0].Name != "a.txt" || ft.Entries[0].ID != blobID {
		t.Errorf("Entries = %+v", ft.Entries)
	}
}

func TestReadObjectMissingReturnsError(t *testing.T) {
	gitDir := t.TempDir()
	src, err := OpenSource(gitDir)
	if err != nil {
		t.Fatalf("OpenSource: %v", err)
	}
	missing, _ := NewForeignHash("ffffffffffffffffffffffffffffffffffffffff")
	if _, _, err := src.ReadObject(missing); err == nil {
		t.Error("ReadObject should fail for an id with no loose file and no packs")
	}
}

func TestTranslateModeRejectsGitlink(t *testing.T) {
	if _, err := translateMode("160000"); err == nil {
		t.Error("translateMode should reject submodule gitlinks")
	}
	if m, err := translateMode("100644"); err != nil || m != objstore.ModeFile {
		t.Errorf("translateMode(100644) = %v, %v", m, err)
	}
	if m, err := translateMode("100755"); err != nil || m != objstore.ModeExec {
		t.Errorf("translateMode(100755) = %v, %v", m, err)
	}
	if m, err := translateMode("120000"); err != nil || m != objstore.ModeSymlink {
		t.Errorf("translateMode(120000) = %v, %v", m, err)
	}
	if m, err := translateMode("40000"); err != nil || m != objstore.ModeDir {
		t.Errorf("translateMode(40000) = %v, %v", m, err)
	}
}

func TestDiscoverBranchesLooseRefs(t *testing.T) {
	gitDir := t.TempDir()
	headsDir := filepath.Join(gitDir, "refs", "heads")
	os.MkdirAll(headsDir, 0o755)
	os.WriteFile(filepath.Join(headsDir, "main"), []byte("0123456789abcdef0123456789abcdef01234567\n"), 0o644)

	branches, err := DiscoverBranches(gitDir)
	if err != nil {
		t.Fatalf("DiscoverBranches: %v", err)
	}
	if len(branches) != 1 || branches[0].Name != "main" {
		t.Errorf("branches = %+v", branches)
	}
}

func TestDiscoverBranchesPackedRefsDoesNotOverrideLoose(t *testing.T) {
	gitDir := t.TempDir()
	headsDir := filepath.Join(gitDir, "refs", "heads")
	os.MkdirAll(headsDir, 0o755)
	os.WriteFile(filepath.Join(headsDir, "main"), []byte("1111111111111111111111111111111111111111\n"), 0o644)
	os.WriteFile(filepath.Join(gitDir, "packed-refs"), []byte(
		"# pack-refs with: peeled fully-peeled sorted\n"+
			"2222222222222222222222222222222222222222 refs/heads/main\n"+
			"3333333333333333333333333333333333333333 refs/heads/dev\n"), 0o644)

	branches, err := DiscoverBranches(gitDir)
	if err != nil {
		t.Fatalf("DiscoverBranches: %v", err)
	}
	byName := make(map[string]ForeignHash)
	for _, b := range branches {
		byName[b.Name] = b.Head
	}
	if byName["main"] != "1111111111111111111111111111111111111111" {
		t.Errorf("main = %s, loose ref should win over packed-refs", byName["main"])
	}
	if byName["dev"] != "3333333333333333333333333333333333333333" {
		t.Errorf("dev = %s", byName["dev"])
	}
}

func TestDiscoverHeadBranch(t *testing.T) {
	gitDir := t.TempDir()
	os.WriteFile(filepath.Join(gitDir, "HEAD"), []byte("ref: refs/heads/main\n"), 0o644)
	name, err := DiscoverHeadBranch(gitDir)
	if err != nil {
		t.Fatalf("DiscoverHeadBranch: %v", err)
	}
	if name != "main" {
		t.Errorf("DiscoverHeadBranch = %q, want main", name)
	}
}

func TestDiscoverHeadBranchDetached(t *testing.T) {
	gitDir := t.TempDir()
	os.WriteFile(filepath.Join(gitDir, "HEAD"), []byte("0123456789abcdef0123456789abcdef01234567\n"), 0o644)
	name, err := DiscoverHeadBranch(gitDir)
	if err != nil {
		t.Fatalf("DiscoverHeadBranch: %v", err)
	}
	if name != "" {
		t.Errorf("DiscoverHeadBranch on detached HEAD = %q, want empty", name)
	}
}

func TestImportTranslatesCommitGraphAndCreatesBranch(t *testing.T) {
	gitDir := t.TempDir()

	blobID := writeLooseObject(t, gitDir, "blob", []byte("hi"))
	var rawBlob [20]byte
	decoded, _ := hex.DecodeString(string(blobID))
	copy(rawBlob[:], decoded)

	var treeBody bytes.Buffer
	treeBody.WriteString("100644 a.txt\x00")
	treeBody.Write(rawBlob[:])
	treeID := writeLooseObject(t, gitDir, "tree", treeBody.Bytes())

	commitBody := "tree " + string(treeID) + "\n" +
		"author Jane Doe <jane@example.com> 1700000000 +0000\n" +
		"committer Jane Doe <jane@example.com> 1700000000 +0000\n" +
		"\ninitial\n"
	commitID := writeLooseObject(t, gitDir, "commit", []byte(commitBody))

	src, err := OpenSource(gitDir)
	if err != nil {
		t.Fatalf("OpenSource: %v", err)
	}

	cat, err := catalog.Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	defer cat.Close()
	store, err := objstore.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	graph := commitgraph.New(cat, store)
	refStore := refs.New(cat)

	dst := Target{Store: store, Graph: graph, Refs: refStore}
	branches := []ForeignBranch{{Name: "main", Head: commitID}}

	if err := Import(src, dst, branches, "main"); err != nil {
		t.Fatalf("Import: %v", err)
	}

	nativeHead, err := refStore.GetBranch("main")
	if err != nil {
		t.Fatalf("GetBranch: %v", err)
	}
	commit, err := graph.ReadCommit(nativeHead)
	if err != nil {
		t.Fatalf("ReadCommit: %v", err)
	}
	if commit.Message != "initial" {
		t.Errorf("translated commit Message = %q", commit.Message)
	}
	tree, err := store.GetTree(commit.Tree)
	if err != nil {
		t.Fatalf("GetTree: %v", err)
	}
	if len(tree.Entries) != 1 || tree.Entries[0].Name != "a.txt" {
		t.Errorf("translated tree Entries = %+v", tree.Entries)
	}
	blob, err := store.GetBlob(tree.Entries[0].ChildHash)
	if err != nil || string(blob) != "hi" {
		t.Errorf("translated blob = %q, %v", blob, err)
	}

	head, err := refStore.GetHead()
	if err != nil {
		t.Fatalf("GetHead: %v", err)
	}
	if head.Branch != "main" {
		t.Errorf("GetHead = %+v, want branch main", head)
	}
}
