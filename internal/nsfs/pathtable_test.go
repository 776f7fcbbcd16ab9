package nsfs

import "testing"

func TestCleanVirtualPath(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		ok       bool
	}{
		{"already clean", "/mnt", "/mnt", true},
		{"trailing slash", "/mnt/", "/mnt", true},
		{"dot component", "/mnt/./a", "/mnt/a", true},
		{"traversal rejected", "/mnt/../etc", "", false},
		{"relative rejected", "mnt", "", false},
		{"root", "/", "/", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := CleanVirtualPath(tt.input)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && got != tt.expected {
				t.Errorf("got %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestPathTableInsertModes(t *testing.T) {
	t.Run("before prepends", func(t *testing.T) {
		table := NewPathTable()
		table.Insert("/mnt", "/src", Replace)
		table.Insert("/mnt", "/over", Before)

		entries, ok := table.Snapshot("/mnt")
		if !ok || len(entries) != 2 {
			t.Fatalf("expected 2 entries, got %+v", entries)
		}
		if entries[0].BackingDir != "/over" {
			t.Errorf("expected /over first, got %q", entries[0].BackingDir)
		}
	})

	t.Run("after appends", func(t *testing.T) {
		table := NewPathTable()
		table.Insert("/mnt", "/src", Replace)
		table.Insert("/mnt", "/back", After)

		entries, _ := table.Snapshot("/mnt")
		if len(entries) != 2 || entries[1].BackingDir != "/back" {
			t.Fatalf("expected /back last, got %+v", entries)
		}
	})

	t.Run("replace truncates", func(t *testing.T) {
		table := NewPathTable()
		table.Insert("/mnt", "/src", Replace)
		table.Insert("/mnt", "/over", Before)
		table.Insert("/mnt", "/only", Replace)

		entries, _ := table.Snapshot("/mnt")
		if len(entries) != 1 || entries[0].BackingDir != "/only" {
			t.Fatalf("expected single /only entry, got %+v", entries)
		}
	})
}

func TestPathTableRemove(t *testing.T) {
	table := NewPathTable()
	table.Insert("/mnt", "/src", Replace)
	table.Insert("/mnt", "/over", Before)

	if !table.Remove("/mnt", "/over") {
		t.Fatal("expected removal to succeed")
	}
	entries, _ := table.Snapshot("/mnt")
	if len(entries) != 1 || entries[0].BackingDir != "/src" {
		t.Fatalf("expected only /src to remain, got %+v", entries)
	}

	if table.Remove("/mnt", "/nonexistent") {
		t.Error("expected removal of unknown backing to fail")
	}
}

func TestPathTableLongestPrefix(t *testing.T) {
	table := NewPathTable()
	table.Insert("/mnt", "/src", Replace)
	table.Insert("/mnt/sub", "/other", Replace)

	prefix, suffix, ok := table.LongestPrefix("/mnt/sub/file.txt")
	if !ok || prefix != "/mnt/sub" || suffix != "/file.txt" {
		t.Fatalf("got prefix=%q suffix=%q ok=%v", prefix, suffix, ok)
	}

	prefix, suffix, ok = table.LongestPrefix("/mnt/other/file.txt")
	if !ok || prefix != "/mnt" || suffix != "/other/file.txt" {
		t.Fatalf("got prefix=%q suffix=%q ok=%v", prefix, suffix, ok)
	}

	_, _, ok = table.LongestPrefix("/elsewhere")
	if ok {
		t.Error("expected no prefix match for unrelated path")
	}
}
