package nsfs

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, contents string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644); err != nil {
		t.Fatalf("writing %s/%s: %v", dir, name, err)
	}
}

// TestResolveLookupPriority covers spec §8 invariant 1: for stack
// [(A, Before), (B, initial), (C, After)] at T, resolve(T/F) returns the
// first candidate that exists, in priority order.
func TestResolveLookupPriority(t *testing.T) {
	a := t.TempDir()
	b := t.TempDir()
	c := t.TempDir()

	table := NewPathTable()
	resolver := NewResolver(table, "/mnt")

	if err := resolver.Insert("/mnt", b, Replace); err != nil {
		t.Fatalf("seeding initial binding: %v", err)
	}
	if err := resolver.Insert("/mnt", a, Before); err != nil {
		t.Fatalf("binding before: %v", err)
	}
	if err := resolver.Insert("/mnt", c, After); err != nil {
		t.Fatalf("binding after: %v", err)
	}

	writeFile(t, b, "only-in-b.txt", "b")
	resolved, err := resolver.Resolve("/mnt/only-in-b.txt")
	if err != nil {
		t.Fatalf("resolve only-in-b: %v", err)
	}
	if resolved != filepath.Join(b, "only-in-b.txt") {
		t.Errorf("got %q, want candidate from b", resolved)
	}

	writeFile(t, a, "shared.txt", "a")
	writeFile(t, b, "shared.txt", "b")
	writeFile(t, c, "shared.txt", "c")
	resolved, err = resolver.Resolve("/mnt/shared.txt")
	if err != nil {
		t.Fatalf("resolve shared: %v", err)
	}
	if resolved != filepath.Join(a, "shared.txt") {
		t.Errorf("got %q, want candidate from a (highest priority)", resolved)
	}

	_, err = resolver.Resolve("/mnt/nowhere.txt")
	if err == nil {
		t.Error("expected NotFound for a name present nowhere")
	}
}

// TestResolveReplaceSemantics covers invariant 2.
func TestResolveReplaceSemantics(t *testing.T) {
	x := t.TempDir()
	y := t.TempDir()
	writeFile(t, x, "only-x.txt", "x")
	writeFile(t, y, "only-y.txt", "y")

	table := NewPathTable()
	resolver := NewResolver(table, "/mnt")
	if err := resolver.Insert("/mnt", y, Replace); err != nil {
		t.Fatal(err)
	}
	if err := resolver.Insert("/mnt", x, Replace); err != nil {
		t.Fatal(err)
	}

	if _, err := resolver.Resolve("/mnt/only-y.txt"); err == nil {
		t.Error("expected y's file to be gone after replace")
	}
	if _, err := resolver.Resolve("/mnt/only-x.txt"); err != nil {
		t.Errorf("expected x's file to resolve: %v", err)
	}
}

// TestResolveCreateSemantics covers invariant 3.
func TestResolveCreateSemantics(t *testing.T) {
	source := t.TempDir()
	parent := t.TempDir()
	// Create makes the virtual path itself on the host, so the mount point
	// here is a real temporary directory rather than a fixed "/mnt".
	mountPoint := t.TempDir()
	newTarget := filepath.Join(mountPoint, "newdir")

	table := NewPathTable()
	resolver := NewResolver(table, mountPoint)
	if err := resolver.Insert(mountPoint, parent, Replace); err != nil {
		t.Fatal(err)
	}
	if err := resolver.Insert(newTarget, source, Create); err != nil {
		t.Fatalf("create bind: %v", err)
	}

	info, err := os.Stat(newTarget)
	if err != nil || !info.IsDir() {
		t.Fatalf("expected %s to exist as a directory: %v", newTarget, err)
	}

	entries, ok := table.Snapshot(newTarget)
	if !ok || len(entries) != 1 || entries[0].BackingDir != source || entries[0].Mode != Create {
		t.Fatalf("expected single Create entry, got %+v", entries)
	}
}

// TestEnumerateUnion covers invariant 4.
func TestEnumerateUnion(t *testing.T) {
	over := t.TempDir()
	base := t.TempDir()
	back := t.TempDir()
	writeFile(t, over, "a.txt", "over-a")
	writeFile(t, base, "a.txt", "base-a")
	writeFile(t, base, "b.txt", "base-b")
	writeFile(t, back, "c.txt", "back-c")

	table := NewPathTable()
	resolver := NewResolver(table, "/mnt")
	if err := resolver.Insert("/mnt", base, Replace); err != nil {
		t.Fatal(err)
	}
	if err := resolver.Insert("/mnt", over, Before); err != nil {
		t.Fatal(err)
	}
	if err := resolver.Insert("/mnt", back, After); err != nil {
		t.Fatal(err)
	}

	entries, err := resolver.Enumerate("/mnt")
	if err != nil {
		t.Fatalf("enumerate: %v", err)
	}
	names := make(map[string]bool)
	for _, e := range entries {
		names[e.Name] = true
	}
	for _, want := range []string{"a.txt", "b.txt", "c.txt"} {
		if !names[want] {
			t.Errorf("expected %q in union, got %v", want, names)
		}
	}
	if len(entries) != 3 {
		t.Errorf("expected exactly 3 unioned names (no duplicates), got %d: %+v", len(entries), entries)
	}
}

// TestCannotRemoveRoot covers §4.1 remove() guarding the mount-point entry.
func TestCannotRemoveRoot(t *testing.T) {
	source := t.TempDir()
	table := NewPathTable()
	resolver := NewResolver(table, "/mnt")
	if err := resolver.Insert("/mnt", source, Replace); err != nil {
		t.Fatal(err)
	}

	err := resolver.Remove("/mnt", "")
	if err == nil {
		t.Fatal("expected CannotRemoveRoot")
	}
	var nsErr *Error
	if !asError(err, &nsErr) || nsErr.Kind != KindCannotRemoveRoot {
		t.Errorf("expected KindCannotRemoveRoot, got %v", err)
	}
}

func asError(err error, target **Error) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	*target = e
	return true
}
