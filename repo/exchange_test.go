package repo

import "testing"

func TestExportThenImportReproducesBranchAndObjects(t *testing.T) {
	src := initRepo(t)
	c1 := commitFile(t, src, "a.txt", "v1", "add a")

	env, err := src.Export(nil)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if len(env.Objects) == 0 {
		t.Fatal("Export() produced no objects")
	}
	if env.Branches["main"] != c1 {
		t.Fatalf("Export() Branches[main] = %s, want %s", env.Branches["main"], c1)
	}

	dst := initRepo(t)
	rejected, err := dst.Import(env)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if len(rejected) != 0 {
		t.Fatalf("Import() rejected = %v, want none", rejected)
	}

	got, err := dst.refs.GetBranch("main")
	if err != nil {
		t.Fatalf("GetBranch(main): %v", err)
	}
	if got != c1 {
		t.Errorf("dst main = %s, want %s", got, c1)
	}

	commit, err := dst.graph.ReadCommit(c1)
	if err != nil {
		t.Fatalf("imported commit should be readable: %v", err)
	}
	if commit.Message != "add a" {
		t.Errorf("imported commit message = %q", commit.Message)
	}
}

func TestExportSubsetOfBranches(t *testing.T) {
	r := initRepo(t)
	c1 := commitFile(t, r, "a.txt", "v1", "add a")
	if err := r.CreateBranch("feature", c1); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}

	env, err := r.Export([]string{"feature"})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if _, ok := env.Branches["main"]; ok {
		t.Error("Export with an explicit branch list should not include unselected branches")
	}
	if env.Branches["feature"] != c1 {
		t.Errorf("Export() Branches[feature] = %s, want %s", env.Branches["feature"], c1)
	}
}

func TestExportUnknownBranchErrors(t *testing.T) {
	r := initRepo(t)
	commitFile(t, r, "a.txt", "v1", "add a")
	if _, err := r.Export([]string{"does-not-exist"}); err == nil {
		t.Error("Export should error when asked for a branch that doesn't exist")
	}
}

func TestImportIsIdempotent(t *testing.T) {
	src := initRepo(t)
	commitFile(t, src, "a.txt", "v1", "add a")
	env, err := src.Export(nil)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	dst := initRepo(t)
	if _, err := dst.Import(env); err != nil {
		t.Fatalf("Import (1st): %v", err)
	}
	if _, err := dst.Import(env); err != nil {
		t.Fatalf("Import (2nd, replay): %v", err)
	}
}

func TestImportRejectsNonFastForwardBranch(t *testing.T) {
	src := initRepo(t)
	commitFile(t, src, "a.txt", "v1", "add a")
	env1, err := src.Export(nil)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	dst := initRepo(t)
	if _, err := dst.Import(env1); err != nil {
		t.Fatalf("Import (1st): %v", err)
	}

	// Diverge dst's main away from src's history.
	commitFile(t, dst, "b.txt", "v1", "diverge on dst")

	// src advances main along its own line, unrelated to dst's divergent commit.
	commitFile(t, src, "a.txt", "v2", "change a")
	env2, err := src.Export(nil)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	rejected, err := dst.Import(env2)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if _, ok := rejected["main"]; !ok {
		t.Errorf("Import should reject the diverged main branch, got rejected=%v", rejected)
	}
}
