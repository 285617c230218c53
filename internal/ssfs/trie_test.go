package ssfs

import "testing"

func TestInsertSearch(t *testing.T) {
	tr := New()
	tr.Insert("a/f1")

	if !tr.Search("a/f1") {
		t.Fatal("expected a/f1 to be present")
	}
	if tr.Search("a/f2") {
		t.Fatal("a/f2 should not be present")
	}
	// intermediate directories are present too
	if !tr.Search("a") {
		t.Fatal("expected intermediate directory a to be present")
	}
}

func TestPathLockHandOverHand(t *testing.T) {
	tr := New()
	tr.Insert("a/b/f1")

	l := tr.PathLock("a/b/f1")
	if l == nil {
		t.Fatal("expected a lock for a/b/f1")
	}

	// the lock must be free for callers to take after PathLock returns,
	// since traversal releases each hop's lock once the child is held.
	l.RLock()
	l.RUnlock()

	if tr.PathLock("a/b/nope") != nil {
		t.Fatal("expected nil lock for an absent path")
	}
}

func TestDeleteRemovesSubtree(t *testing.T) {
	tr := New()
	tr.Insert("a/f1")
	tr.Insert("a/f2")

	if err := tr.Delete("a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if tr.Search("a/f1") {
		t.Fatal("a/f1 should be gone after deleting a")
	}
	if tr.Search("a") {
		t.Fatal("a should be gone")
	}
}

func TestDeleteAbsentFails(t *testing.T) {
	tr := New()
	if err := tr.Delete("nope"); err == nil {
		t.Fatal("expected error deleting an absent path")
	}
}

func TestDeleteRootFails(t *testing.T) {
	tr := New()
	if err := tr.Delete("/"); err == nil {
		t.Fatal("expected error deleting the trie root")
	}
}

func TestRenameMovesNode(t *testing.T) {
	tr := New()
	tr.Insert("a/f1")

	if err := tr.Rename("a/f1", "f1new"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if tr.Search("a/f1") {
		t.Fatal("old name should no longer be present")
	}
	if !tr.Search("a/f1new") {
		t.Fatal("new name should be present")
	}
}

func TestRenameCollidesOnExistingSibling(t *testing.T) {
	tr := New()
	tr.Insert("a/f1")
	tr.Insert("a/f2")

	if err := tr.Rename("a/f1", "f2"); err == nil {
		t.Fatal("rename onto an existing sibling name should fail")
	}
}

func TestFlattenedPaths(t *testing.T) {
	tr := New()
	tr.Insert("a/f1")
	tr.Insert("a/f2")
	tr.Insert("b/g1")

	got := tr.FlattenedPaths()
	want := []string{"a", "a/f1", "a/f2", "b", "b/g1"}

	if len(got) != len(want) {
		t.Fatalf("FlattenedPaths = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("FlattenedPaths = %v, want %v", got, want)
		}
	}
}
