package worktree

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hashgraft/hashgraft/internal/index"
	"github.com/hashgraft/hashgraft/internal/objstore"
)

func newStore(t *testing.T) *objstore.FileStore {
	t.Helper()
	s, err := objstore.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return s
}

func putTree(t *testing.T, store *objstore.FileStore, files map[string]string) objstore.Hash {
	t.Helper()
	var entries []objstore.TreeEntry
	for name, content := range files {
		h, err := store.PutBlob([]byte(content))
		if err != nil {
			t.Fatalf("PutBlob: %v", err)
		}
		entries = append(entries, objstore.TreeEntry{Name: name, Mode: objstore.ModeFile, ChildHash: h})
	}
	h, err := store.PutTree(entries)
	if err != nil {
		t.Fatalf("PutTree: %v", err)
	}
	return h
}

func TestFlattenTreeViaCompute(t *testing.T) {
	store := newStore(t)
	tree := putTree(t, store, map[string]string{"a.txt": "a content", "b.txt": "b content"})

	idx := index.New()
	idx.Add(store, "a.txt", []byte("a content"), objstore.ModeFile)
	idx.Add(store, "b.txt", []byte("b content"), objstore.ModeFile)

	workDir := t.TempDir()
	os.WriteFile(filepath.Join(workDir, "a.txt"), []byte("a content"), 0o644)
	os.WriteFile(filepath.Join(workDir, "b.txt"), []byte("b content"), 0o644)

	status, err := Compute(store, idx, tree, workDir)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if len(status.Files) != 0 {
		t.Errorf("Compute on a clean tree should report no changes, got %+v", status.Files)
	}
}

func TestComputeDetectsStagedAndWorkingChanges(t *testing.T) {
	store := newStore(t)
	tree := putTree(t, store, map[string]string{"a.txt": "original"})

	idx := index.New()
	idx.Add(store, "a.txt", []byte("staged change"), objstore.ModeFile)
	idx.Add(store, "new.txt", []byte("new file"), objstore.ModeFile)

	workDir := t.TempDir()
	os.WriteFile(filepath.Join(workDir, "a.txt"), []byte("unstaged change"), 0o644)
	os.WriteFile(filepath.Join(workDir, "new.txt"), []byte("new file"), 0o644)

	status, err := Compute(store, idx, tree, workDir)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	byPath := make(map[string]FileStatus)
	for _, f := range status.Files {
		byPath[f.Path] = f
	}

	a, ok := byPath["a.txt"]
	if !ok {
		t.Fatal("expected a status entry for a.txt")
	}
	if a.IndexStatus != "modified" {
		t.Errorf("a.txt IndexStatus = %q, want modified", a.IndexStatus)
	}
	if a.WorkStatus != "modified" {
		t.Errorf("a.txt WorkStatus = %q, want modified", a.WorkStatus)
	}

	newEntry, ok := byPath["new.txt"]
	if !ok {
		t.Fatal("expected a status entry for new.txt")
	}
	if newEntry.IndexStatus != "added" {
		t.Errorf("new.txt IndexStatus = %q, want added", newEntry.IndexStatus)
	}
}

func TestComputeDetectsDeletedFromHead(t *testing.T) {
	store := newStore(t)
	tree := putTree(t, store, map[string]string{"gone.txt": "bye"})
	idx := index.New() // nothing staged: gone.txt was removed from the index too

	status, err := Compute(store, idx, tree, t.TempDir())
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if len(status.Files) != 1 || status.Files[0].IndexStatus != "deleted" {
		t.Errorf("Compute = %+v, want one deleted entry for gone.txt", status.Files)
	}
}

func TestComputeDetectsUntracked(t *testing.T) {
	store := newStore(t)
	idx := index.New()
	workDir := t.TempDir()
	os.WriteFile(filepath.Join(workDir, "untracked.txt"), []byte("surprise"), 0o644)

	status, err := Compute(store, idx, "", workDir)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if len(status.Files) != 1 || !status.Files[0].IsUntracked {
		t.Errorf("Compute = %+v, want one untracked entry", status.Files)
	}
}

func TestComputeDetectsWorkDeleted(t *testing.T) {
	store := newStore(t)
	idx := index.New()
	idx.Add(store, "a.txt", []byte("content"), objstore.ModeFile)
	workDir := t.TempDir() // file never written to disk

	status, err := Compute(store, idx, "", workDir)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if len(status.Files) != 1 || status.Files[0].WorkStatus != "deleted" {
		t.Errorf("Compute = %+v, want WorkStatus=deleted for a.txt", status.Files)
	}
}

func TestCheckoutTreeWritesFilesAndIndex(t *testing.T) {
	store := newStore(t)
	tree := putTree(t, store, map[string]string{"a.txt": "hello", "dir/b.txt": "nested"})
	idx := index.New()
	workDir := t.TempDir()

	if err := CheckoutTree(store, idx, workDir, tree, false); err != nil {
		t.Fatalf("CheckoutTree: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(workDir, "a.txt"))
	if err != nil || string(got) != "hello" {
		t.Errorf("a.txt = %q, %v, want %q", got, err, "hello")
	}
	got, err = os.ReadFile(filepath.Join(workDir, "dir", "b.txt"))
	if err != nil || string(got) != "nested" {
		t.Errorf("dir/b.txt = %q, %v, want %q", got, err, "nested")
	}
	if idx.Get("a.txt") == nil || idx.Get("dir/b.txt") == nil {
		t.Error("CheckoutTree should restage every checked-out path")
	}
}

func TestCheckoutTreeRefusesToLoseChanges(t *testing.T) {
	store := newStore(t)
	oldTree := putTree(t, store, map[string]string{"a.txt": "original"})
	newTree := putTree(t, store, map[string]string{"a.txt": "new content"})

	idx := index.New()
	workDir := t.TempDir()
	if err := CheckoutTree(store, idx, workDir, oldTree, false); err != nil {
		t.Fatalf("initial CheckoutTree: %v", err)
	}
	// Simulate an uncommitted local edit.
	os.WriteFile(filepath.Join(workDir, "a.txt"), []byte("locally edited"), 0o644)

	err := CheckoutTree(store, idx, workDir, newTree, false)
	if err == nil {
		t.Fatal("CheckoutTree should refuse to overwrite a locally modified file without force")
	}
	if _, ok := err.(*ErrWouldLoseChanges); !ok {
		t.Errorf("error = %v (%T), want *ErrWouldLoseChanges", err, err)
	}

	if err := CheckoutTree(store, idx, workDir, newTree, true); err != nil {
		t.Fatalf("CheckoutTree with force: %v", err)
	}
	got, _ := os.ReadFile(filepath.Join(workDir, "a.txt"))
	if string(got) != "new content" {
		t.Errorf("after forced checkout, a.txt = %q, want %q", got, "new content")
	}
}

func TestCheckoutTreeRemovesPathsAbsentFromTarget(t *testing.T) {
	store := newStore(t)
	oldTree := putTree(t, store, map[string]string{"a.txt": "a", "b.txt": "b"})
	newTree := putTree(t, store, map[string]string{"a.txt": "a"})

	idx := index.New()
	workDir := t.TempDir()
	CheckoutTree(store, idx, workDir, oldTree, false)
	if err := CheckoutTree(store, idx, workDir, newTree, false); err != nil {
		t.Fatalf("CheckoutTree: %v", err)
	}
	if _, err := os.Stat(filepath.Join(workDir, "b.txt")); !os.IsNotExist(err) {
		t.Error("b.txt should have been removed when the target tree dropped it")
	}
	if idx.Get("b.txt") != nil {
		t.Error("b.txt should no longer be staged after checkout")
	}
}

func TestRestoreOverwritesWorkingTreeOnly(t *testing.T) {
	store := newStore(t)
	tree := putTree(t, store, map[string]string{"a.txt": "original"})
	workDir := t.TempDir()
	os.WriteFile(filepath.Join(workDir, "a.txt"), []byte("modified"), 0o644)

	if err := Restore(store, workDir, tree, []string{"a.txt"}); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	got, _ := os.ReadFile(filepath.Join(workDir, "a.txt"))
	if string(got) != "original" {
		t.Errorf("a.txt = %q, want %q", got, "original")
	}
}

func TestIgnoreMatcherBasicPatterns(t *testing.T) {
	workDir := t.TempDir()
	os.WriteFile(filepath.Join(workDir, ignoreFileName), []byte("*.log\nbuild/\n!keep.log\n"), 0o644)

	m := LoadMatcher(workDir, filepath.Join(workDir, ".vcs"))
	if !m.IsIgnored("debug.log", false) {
		t.Error("*.log should ignore debug.log")
	}
	if m.IsIgnored("keep.log", false) {
		t.Error("!keep.log should re-include keep.log")
	}
	if !m.IsIgnored("build", true) {
		t.Error("build/ should ignore the build directory")
	}
	if m.IsIgnored("build", false) {
		t.Error("build/ is dirOnly and should not match a non-directory named build")
	}
	if m.IsIgnored("src/main.go", false) {
		t.Error("src/main.go should not be ignored by unrelated patterns")
	}
}

func TestIgnoreMatcherDoubleStarGlob(t *testing.T) {
	workDir := t.TempDir()
	os.WriteFile(filepath.Join(workDir, ignoreFileName), []byte("**/node_modules\n"), 0o644)
	m := LoadMatcher(workDir, filepath.Join(workDir, ".vcs"))
	if !m.IsIgnored("node_modules", true) {
		t.Error("**/node_modules should match at the root")
	}
	if !m.IsIgnored("a/b/node_modules", true) {
		t.Error("**/node_modules should match at any depth")
	}
}

func TestAttributesHas(t *testing.T) {
	workDir := t.TempDir()
	os.WriteFile(filepath.Join(workDir, attributesFileName), []byte("*.bin merge=binary\nsecret.txt export-ignore\n"), 0o644)

	attrs := LoadAttributes(workDir)
	if !attrs.Has("data.bin", AttrMergeBinary) {
		t.Error("*.bin should carry merge=binary")
	}
	if attrs.Has("data.bin", AttrExportIgnore) {
		t.Error("data.bin should not carry export-ignore")
	}
	if !attrs.Has("secret.txt", AttrExportIgnore) {
		t.Error("secret.txt should carry export-ignore")
	}
}

func TestAttributesNoFileReturnsEmpty(t *testing.T) {
	attrs := LoadAttributes(t.TempDir())
	if attrs.Has("anything", AttrDiff) {
		t.Error("an Attributes with no file loaded should never report an attribute present")
	}
}
