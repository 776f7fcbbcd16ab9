package nsfs

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"bindns/internal/logging"
)

var tableLogger = logging.GetLogger().WithPrefix("pathtable")

// BindMode is the binding discipline an insert applies at a virtual path.
type BindMode int

const (
	// Before prepends a new backing entry ahead of the existing stack.
	Before BindMode = iota
	// After appends a new backing entry behind the existing stack.
	After
	// Replace truncates the stack to contain only the new entry.
	Replace
	// Create behaves like Replace but first creates the virtual path as a
	// directory on the host filesystem.
	Create
)

func (m BindMode) String() string {
	switch m {
	case Before:
		return "before"
	case After:
		return "after"
	case Replace:
		return "replace"
	case Create:
		return "create"
	default:
		return "unknown"
	}
}

// ParseBindMode parses the CLI's single-letter mode flags.
func ParseBindMode(s string) (BindMode, bool) {
	switch strings.ToLower(s) {
	case "before", "b":
		return Before, true
	case "after", "a":
		return After, true
	case "replace", "r":
		return Replace, true
	case "create", "c":
		return Create, true
	default:
		return Before, false
	}
}

// BackingEntry is one entry in a virtual path's ordered backing stack.
// Immutable after construction.
type BackingEntry struct {
	BackingDir string
	Mode       BindMode
	// Order records insertion order within the list for diagnostics; the
	// slice position is what actually governs lookup priority.
	Order int
}

// CleanVirtualPath normalizes a virtual path: absolute, no trailing slash
// (except for "/" itself), no "." or ".." components. An input containing a
// ".." component is rejected rather than resolved.
func CleanVirtualPath(p string) (string, bool) {
	if p == "" || !filepath.IsAbs(p) {
		return "", false
	}
	for _, component := range strings.Split(p, "/") {
		if component == ".." {
			return "", false
		}
	}
	return filepath.Clean(p), true
}

// CleanBackingDir normalizes a backing directory path: must be absolute,
// no traversal components.
func CleanBackingDir(p string) (string, bool) {
	return CleanVirtualPath(p)
}

// PathTable is the in-memory map from virtual path to its ordered backing
// stack. A single RWMutex guards it: Insert/Remove take the write lock,
// everything else (including the resolver's snapshot step) takes the read
// lock. No syscall is ever performed while the lock is held.
type PathTable struct {
	mu      sync.RWMutex
	entries map[string][]BackingEntry
	nextSeq int
}

// NewPathTable constructs an empty path table.
func NewPathTable() *PathTable {
	return &PathTable{entries: make(map[string][]BackingEntry)}
}

// Insert applies mode's binding discipline at virtualPath. Validation
// (absolute paths, traversal, source existence) must have already been
// performed by the caller (see Resolver.Insert) — PathTable.Insert only
// manipulates the in-memory stack, never touches the host filesystem, so
// that the write lock is held only across a map mutation.
func (t *PathTable) Insert(virtualPath, backingDir string, mode BindMode) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextSeq++
	entry := BackingEntry{BackingDir: backingDir, Mode: mode, Order: t.nextSeq}

	switch mode {
	case Replace, Create:
		t.entries[virtualPath] = []BackingEntry{entry}
	case Before:
		existing := t.entries[virtualPath]
		merged := make([]BackingEntry, 0, len(existing)+1)
		merged = append(merged, entry)
		merged = append(merged, existing...)
		t.entries[virtualPath] = merged
	case After:
		existing := t.entries[virtualPath]
		merged := make([]BackingEntry, 0, len(existing)+1)
		merged = append(merged, existing...)
		merged = append(merged, entry)
		t.entries[virtualPath] = merged
	}
	tableLogger.Debug("inserted %s mode=%s at %s (stack depth=%d)",
		backingDir, mode, virtualPath, len(t.entries[virtualPath]))
}

// Remove deletes the matching entry (or every entry when backingDir is
// empty) at virtualPath. Returns false if nothing matched.
func (t *PathTable) Remove(virtualPath, backingDir string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	existing, ok := t.entries[virtualPath]
	if !ok {
		return false
	}

	if backingDir == "" {
		delete(t.entries, virtualPath)
		tableLogger.Debug("removed all entries at %s", virtualPath)
		return true
	}

	kept := existing[:0:0]
	removed := false
	for _, e := range existing {
		if e.BackingDir == backingDir && !removed {
			removed = true
			continue
		}
		kept = append(kept, e)
	}
	if !removed {
		return false
	}
	if len(kept) == 0 {
		delete(t.entries, virtualPath)
	} else {
		t.entries[virtualPath] = kept
	}
	tableLogger.Debug("removed %s at %s", backingDir, virtualPath)
	return true
}

// Snapshot returns a copy of the backing stack at virtualPath, safe to use
// after the lock is released. The second return is false when no entry
// exists at that exact virtual path (the caller must walk parents itself,
// see Resolver).
func (t *PathTable) Snapshot(virtualPath string) ([]BackingEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entries, ok := t.entries[virtualPath]
	if !ok {
		return nil, false
	}
	out := make([]BackingEntry, len(entries))
	copy(out, entries)
	return out, true
}

// LongestPrefix returns the longest virtual path P present in the table
// that is a prefix of virtualPath (P == virtualPath or an ancestor of it),
// plus the suffix remaining after P. Returns ok=false when no entry in the
// table is an ancestor of virtualPath at all.
func (t *PathTable) LongestPrefix(virtualPath string) (prefix, suffix string, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	candidate := virtualPath
	for {
		if _, exists := t.entries[candidate]; exists {
			suffix := strings.TrimPrefix(virtualPath, candidate)
			return candidate, suffix, true
		}
		if candidate == "/" {
			return "", "", false
		}
		candidate = filepath.Dir(candidate)
	}
}

// Keys returns every virtual path currently present in the table, for
// diagnostics and registry snapshotting.
func (t *PathTable) Keys() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	keys := make([]string, 0, len(t.entries))
	for k := range t.entries {
		keys = append(keys, k)
	}
	return keys
}

// ChildrenOf returns every direct child virtual path of parent currently
// present in the table (used by Enumerate to merge in explicitly-bound
// subdirectories that the host filesystem walk might not otherwise find,
// e.g. a Create target with no files in it yet).
func (t *PathTable) ChildrenOf(parent string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var children []string
	for vp := range t.entries {
		if vp == parent {
			continue
		}
		dir := filepath.Dir(vp)
		if dir == parent {
			children = append(children, filepath.Base(vp))
		}
	}
	return children
}

// statExists reports whether path exists on the host filesystem. Never
// called while holding the table's lock.
func statExists(path string) (os.FileInfo, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, false
	}
	return info, true
}
