package repo

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashgraft/hashgraft/internal/commitgraph"
	"github.com/hashgraft/hashgraft/internal/index"
	"github.com/hashgraft/hashgraft/internal/merge"
	"github.com/hashgraft/hashgraft/internal/objstore"
	"github.com/hashgraft/hashgraft/internal/reposync"
)

func sig(name string) commitgraph.Signature {
	return commitgraph.Signature{Name: name, Email: name + "@example.com", When: time.Unix(1700000000, 0).UTC()}
}

func initRepo(t *testing.T) *Repository {
	t.Helper()
	r, err := Init(t.TempDir(), "")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func writeFile(t *testing.T, r *Repository, path, content string) {
	t.Helper()
	full := filepath.Join(r.WorkDir(), path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func commitFile(t *testing.T, r *Repository, path, content, message string) objstore.Hash {
	t.Helper()
	writeFile(t, r, path, content)
	if err := r.AddPaths([]string{path}); err != nil {
		t.Fatalf("AddPaths: %v", err)
	}
	h, err := r.Commit(message, sig("tester"))
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	return h
}

func TestInitCreatesControlDirAndMainBranch(t *testing.T) {
	r := initRepo(t)
	if _, err := os.Stat(filepath.Join(r.CtrlDir(), "objects")); err != nil {
		t.Errorf("expected objects dir under control dir: %v", err)
	}
	head, err := r.refs.GetHead()
	if err != nil {
		t.Fatalf("GetHead: %v", err)
	}
	if head.Branch != "main" || !head.Commit.IsZero() {
		t.Errorf("fresh repo HEAD = %+v, want unborn main", head)
	}
}

func TestInitRejectsExistingControlDir(t *testing.T) {
	dir := t.TempDir()
	r, err := Init(dir, "")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	r.Close()

	if _, err := Init(dir, ""); err == nil {
		t.Error("Init should refuse to re-init an existing control directory")
	}
}

func TestOpenFindsControlDirFromSubdirectory(t *testing.T) {
	r := initRepo(t)
	sub := filepath.Join(r.WorkDir(), "a", "b")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	opened, err := Open(sub, "")
	if err != nil {
		t.Fatalf("Open from nested subdirectory: %v", err)
	}
	defer opened.Close()
	if opened.WorkDir() != r.WorkDir() {
		t.Errorf("Open found workdir %s, want %s", opened.WorkDir(), r.WorkDir())
	}
}

func TestOpenFailsOutsideAnyRepository(t *testing.T) {
	if _, err := Open(t.TempDir(), ""); err == nil {
		t.Error("Open should fail when no control directory exists up to the root")
	}
}

func TestAddAndCommitAdvancesBranch(t *testing.T) {
	r := initRepo(t)
	h := commitFile(t, r, "a.txt", "hello", "first commit")

	head, err := r.HeadCommit()
	if err != nil {
		t.Fatalf("HeadCommit: %v", err)
	}
	if head != h {
		t.Errorf("HeadCommit = %s, want %s", head, h)
	}

	branches, err := r.Branches()
	if err != nil {
		t.Fatalf("Branches: %v", err)
	}
	if branches["main"] != h {
		t.Errorf("main branch = %s, want %s", branches["main"], h)
	}
}

func TestCommitRejectsUnresolvedConflicts(t *testing.T) {
	r := initRepo(t)
	blobHash, err := r.store.PutBlob([]byte("mine"))
	if err != nil {
		t.Fatalf("PutBlob: %v", err)
	}
	if err := r.idx.AddConflict("a.txt", index.StageOurs, blobHash, objstore.ModeFile); err != nil {
		t.Fatalf("AddConflict: %v", err)
	}

	if _, err := r.Commit("attempt", sig("tester")); err == nil {
		t.Error("Commit should refuse to run while unresolved conflicts remain staged")
	}
}

func TestStatusReflectsWorkingTreeChanges(t *testing.T) {
	r := initRepo(t)
	commitFile(t, r, "a.txt", "original", "first")
	writeFile(t, r, "a.txt", "changed")

	status, err := r.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	found := false
	for _, f := range status.Files {
		if f.Path == "a.txt" {
			found = true
		}
	}
	if !found {
		t.Errorf("Status should report a.txt as changed, got %+v", status.Files)
	}
}

func TestAddAllStagesNonIgnoredFiles(t *testing.T) {
	r := initRepo(t)
	writeFile(t, r, ".vcsignore", "*.log\n")
	writeFile(t, r, "keep.txt", "keep")
	writeFile(t, r, "skip.log", "skip")

	if err := r.AddAll(); err != nil {
		t.Fatalf("AddAll: %v", err)
	}
	if r.idx.Get("keep.txt") == nil {
		t.Error("AddAll should stage keep.txt")
	}
	if r.idx.Get("skip.log") != nil {
		t.Error("AddAll should not stage an ignored file")
	}
}

func TestCheckoutBranchSwitchesHeadAndWorkingTree(t *testing.T) {
	r := initRepo(t)
	commitFile(t, r, "a.txt", "on main", "first")
	main, _ := r.HeadCommit()

	if err := r.CreateBranch("feature", main); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	if err := r.CheckoutBranch("feature", false); err != nil {
		t.Fatalf("CheckoutBranch: %v", err)
	}
	commitFile(t, r, "b.txt", "on feature", "second")

	if err := r.CheckoutBranch("main", false); err != nil {
		t.Fatalf("CheckoutBranch back to main: %v", err)
	}
	if _, err := os.Stat(filepath.Join(r.WorkDir(), "b.txt")); !os.IsNotExist(err) {
		t.Error("b.txt should not exist on main after switching back")
	}
}

func TestMergeFastForward(t *testing.T) {
	r := initRepo(t)
	commitFile(t, r, "a.txt", "base", "base")
	base, _ := r.HeadCommit()
	r.CreateBranch("feature", base)
	r.CheckoutBranch("feature", false)
	commitFile(t, r, "b.txt", "feature work", "feature commit")
	featureTip, _ := r.HeadCommit()

	r.CheckoutBranch("main", false)
	res, err := r.Merge(featureTip, sig("tester"))
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if res.Conflicted {
		t.Error("fast-forward merge should not conflict")
	}
	head, _ := r.HeadCommit()
	if head != featureTip {
		t.Errorf("after fast-forward merge, HeadCommit = %s, want %s", head, featureTip)
	}
}

func TestMergeConflictLeavesIndexConflicted(t *testing.T) {
	r := initRepo(t)
	commitFile(t, r, "a.txt", "base\n", "base")
	base, _ := r.HeadCommit()

	r.CreateBranch("feature", base)
	r.CheckoutBranch("feature", false)
	commitFile(t, r, "a.txt", "feature change\n", "feature edit")
	featureTip, _ := r.HeadCommit()

	r.CheckoutBranch("main", false)
	commitFile(t, r, "a.txt", "main change\n", "main edit")

	res, err := r.Merge(featureTip, sig("tester"))
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if !res.Conflicted {
		t.Fatal("conflicting edits on both sides should leave the merge conflicted")
	}
	if !r.idx.IsConflicted("a.txt") {
		t.Error("a.txt should be marked conflicted in the index")
	}

	onDisk, err := os.ReadFile(filepath.Join(r.WorkDir(), "a.txt"))
	if err != nil {
		t.Fatalf("reading conflicted file: %v", err)
	}
	want := []string{"<<<<<<< ours", "=======", ">>>>>>> theirs"}
	for _, marker := range want {
		if !containsLine(string(onDisk), marker) {
			t.Errorf("a.txt on disk = %q, missing marker %q", onDisk, marker)
		}
	}
}

func containsLine(s, substr string) bool {
	for _, line := range splitLinesForTest(s) {
		if line == substr {
			return true
		}
	}
	return false
}

func splitLinesForTest(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return out
}

func TestMergeContinueProducesTwoParentCommit(t *testing.T) {
	r := initRepo(t)
	commitFile(t, r, "a.txt", "base\n", "base")
	base, _ := r.HeadCommit()

	r.CreateBranch("feature", base)
	r.CheckoutBranch("feature", false)
	featureTip := commitFile(t, r, "a.txt", "feature change\n", "feature edit")

	r.CheckoutBranch("main", false)
	mainTip := commitFile(t, r, "a.txt", "main change\n", "main edit")

	res, err := r.Merge(featureTip, sig("tester"))
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if !res.Conflicted {
		t.Fatal("conflicting edits on both sides should leave the merge conflicted")
	}

	if err := r.AddPaths([]string{"a.txt"}); err != nil {
		t.Fatalf("AddPaths (resolve): %v", err)
	}

	mergeCommit, err := r.MergeContinue("merge feature into main", sig("tester"))
	if err != nil {
		t.Fatalf("MergeContinue: %v", err)
	}

	commit, err := r.graph.ReadCommit(mergeCommit)
	if err != nil {
		t.Fatalf("ReadCommit: %v", err)
	}
	if len(commit.Parents) != 2 {
		t.Fatalf("merge commit parents = %v, want 2 parents", commit.Parents)
	}
	gotParents := map[objstore.Hash]bool{commit.Parents[0]: true, commit.Parents[1]: true}
	if !gotParents[mainTip] || !gotParents[featureTip] {
		t.Errorf("merge commit parents = %v, want {%s, %s}", commit.Parents, mainTip, featureTip)
	}

	head, _ := r.HeadCommit()
	if head != mergeCommit {
		t.Errorf("HeadCommit after MergeContinue = %s, want %s", head, mergeCommit)
	}
}

func TestMergeAbortRestoresPreMergeState(t *testing.T) {
	r := initRepo(t)
	commitFile(t, r, "a.txt", "base\n", "base")
	base, _ := r.HeadCommit()

	r.CreateBranch("feature", base)
	r.CheckoutBranch("feature", false)
	featureTip := commitFile(t, r, "a.txt", "feature change\n", "feature edit")

	r.CheckoutBranch("main", false)
	commitFile(t, r, "a.txt", "main change\n", "main edit")
	mainTip, _ := r.HeadCommit()

	if _, err := r.Merge(featureTip, sig("tester")); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	if err := r.MergeAbort(); err != nil {
		t.Fatalf("MergeAbort: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(r.WorkDir(), "a.txt"))
	if err != nil || string(got) != "main change\n" {
		t.Errorf("a.txt after abort = %q, %v, want main's pre-merge content", got, err)
	}
	head, _ := r.HeadCommit()
	if head != mainTip {
		t.Errorf("HeadCommit after abort = %s, want unchanged at %s", head, mainTip)
	}
}

func TestCherryPickAppliesCommitOntoCurrentTip(t *testing.T) {
	r := initRepo(t)
	commitFile(t, r, "a.txt", "base", "base")
	base, _ := r.HeadCommit()

	r.CreateBranch("feature", base)
	r.CheckoutBranch("feature", false)
	pickHash := commitFile(t, r, "b.txt", "picked content", "to be picked")

	r.CheckoutBranch("main", false)
	res, err := r.CherryPick(pickHash, sig("tester"))
	if err != nil {
		t.Fatalf("CherryPick: %v", err)
	}
	if res.Conflicted {
		t.Fatal("cherry-pick of a non-conflicting commit should not conflict")
	}
	if _, err := os.Stat(filepath.Join(r.WorkDir(), "b.txt")); err != nil {
		t.Errorf("b.txt should exist on main after cherry-pick: %v", err)
	}
}

func TestResetHardRewritesWorkingTree(t *testing.T) {
	r := initRepo(t)
	base := commitFile(t, r, "a.txt", "v1", "first")
	commitFile(t, r, "a.txt", "v2", "second")

	if err := r.Reset(base, merge.ResetHard); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(r.WorkDir(), "a.txt"))
	if err != nil || string(got) != "v1" {
		t.Errorf("a.txt = %q, %v, want v1", got, err)
	}
}

func TestRebaseReplaysCommitsOntoNewBase(t *testing.T) {
	r := initRepo(t)
	commitFile(t, r, "base.txt", "base", "base")
	base, _ := r.HeadCommit()

	r.CreateBranch("feature", base)
	r.CheckoutBranch("feature", false)
	commitFile(t, r, "feature.txt", "feature work", "feature commit")

	r.CheckoutBranch("main", false)
	commitFile(t, r, "main.txt", "main work", "main commit")
	mainTip, _ := r.HeadCommit()

	r.CheckoutBranch("feature", false)
	newTip, err := r.Rebase(mainTip, sig("tester"))
	if err != nil {
		t.Fatalf("Rebase: %v", err)
	}
	if newTip.IsZero() {
		t.Fatal("Rebase should produce a non-zero new tip")
	}
	for _, name := range []string{"base.txt", "main.txt", "feature.txt"} {
		if _, err := os.Stat(filepath.Join(r.WorkDir(), name)); err != nil {
			t.Errorf("expected %s present after rebase: %v", name, err)
		}
	}
}

func TestCreateBranchRejectsTagNameCollision(t *testing.T) {
	r := initRepo(t)
	h := commitFile(t, r, "a.txt", "v1", "first")
	if err := r.CreateTag("v1", h); err != nil {
		t.Fatalf("CreateTag: %v", err)
	}
	if err := r.CreateBranch("v1", h); err == nil {
		t.Error("CreateBranch should refuse a name already used by a tag")
	}
}

func TestCreateTagRejectsBranchNameCollision(t *testing.T) {
	r := initRepo(t)
	h := commitFile(t, r, "a.txt", "v1", "first")
	if err := r.CreateBranch("release", h); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	if err := r.CreateTag("release", h); err == nil {
		t.Error("CreateTag should refuse a name already used by a branch")
	}
}

func TestLogReturnsNewestFirst(t *testing.T) {
	r := initRepo(t)
	commitFile(t, r, "a.txt", "v1", "first")
	commitFile(t, r, "a.txt", "v2", "second")
	tip := commitFile(t, r, "a.txt", "v3", "third")

	commits, err := r.Log(tip, 0)
	if err != nil {
		t.Fatalf("Log: %v", err)
	}
	if len(commits) != 3 {
		t.Fatalf("Log: got %d commits, want 3", len(commits))
	}
	if commits[0].Message != "third" {
		t.Errorf("Log[0].Message = %q, want third", commits[0].Message)
	}
}

func TestBisectNarrowsBetweenGoodAndBad(t *testing.T) {
	r := initRepo(t)
	good := commitFile(t, r, "a.txt", "v1", "good")
	commitFile(t, r, "a.txt", "v2", "middle")
	bad := commitFile(t, r, "a.txt", "v3", "bad")

	_, next, err := r.Bisect(good, bad)
	if err != nil {
		t.Fatalf("Bisect: %v", err)
	}
	if next.IsZero() {
		t.Error("Bisect should propose a candidate commit to test")
	}
}

func TestPackAttachesReadableArchive(t *testing.T) {
	r := initRepo(t)
	commitFile(t, r, "a.txt", "v1", "first")

	if err := r.Pack("bundle"); err != nil {
		t.Fatalf("Pack: %v", err)
	}
	if _, err := os.Stat(filepath.Join(r.CtrlDir(), "packs", "bundle.pack")); err != nil {
		t.Errorf("expected pack file on disk: %v", err)
	}

	// Objects should still resolve after packing, now via the attached pack.
	status, err := r.Status()
	if err != nil {
		t.Fatalf("Status after Pack: %v", err)
	}
	if len(status.Files) != 0 {
		t.Errorf("Status after Pack = %+v, want clean", status.Files)
	}
}

func TestLockPreventsConcurrentAcquire(t *testing.T) {
	r := initRepo(t)
	if err := r.Lock(reposync.Options{}); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	defer r.Unlock()

	r2, err := Open(r.WorkDir(), "")
	if err != nil {
		t.Fatalf("Open second handle: %v", err)
	}
	defer r2.Close()

	if err := r2.Lock(reposync.Options{}); err == nil {
		t.Error("a second Lock on the same repository should fail while the first is held")
	}
}
