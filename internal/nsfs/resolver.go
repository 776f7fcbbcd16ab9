package nsfs

import (
	"os"
	"path/filepath"
	"sort"

	"bindns/internal/logging"
)

var resolverLogger = logging.GetLogger().WithPrefix("resolver")

// Resolver is the validating front-end over a PathTable: it owns path
// normalization, existence checks against the host filesystem, and the
// union-enumeration policy. The PathTable itself never touches the host
// filesystem or performs validation — that separation is what lets
// PathTable hold its lock only across in-memory mutation (spec §4.1/§5).
type Resolver struct {
	table *PathTable
	// rootVirtualPath is the session's mount point; its entry may never be
	// fully removed while the session is Running.
	rootVirtualPath string
}

// NewResolver constructs a Resolver over table, remembering rootVirtualPath
// as the mount point whose binding can never be entirely removed.
func NewResolver(table *PathTable, rootVirtualPath string) *Resolver {
	clean, _ := CleanVirtualPath(rootVirtualPath)
	return &Resolver{table: table, rootVirtualPath: clean}
}

// Insert validates and applies a bind. Mirrors spec §4.1 Insert exactly:
// InvalidPath for bad paths, SourceMissing when the backing directory is
// absent or not a directory, CreateFailed when mode=Create's mkdir fails.
func (r *Resolver) Insert(virtualPath, backingDir string, mode BindMode) error {
	vp, ok := CleanVirtualPath(virtualPath)
	if !ok {
		return New(OpInsert, virtualPath, KindInvalidPath, errInvalidPath)
	}
	bd, ok := CleanBackingDir(backingDir)
	if !ok {
		return New(OpInsert, backingDir, KindInvalidPath, errInvalidPath)
	}

	if mode == Create {
		if info, exists := statExists(bd); !exists || !info.IsDir() {
			return New(OpInsert, bd, KindSourceMissing, errSourceMissing)
		}
		if info, exists := statExists(vp); !exists {
			if err := os.MkdirAll(vp, 0o755); err != nil {
				return New(OpInsert, vp, KindCreateFailed, err)
			}
		} else if !info.IsDir() {
			return New(OpInsert, vp, KindCreateFailed, errNotADirectory)
		}
	} else {
		info, exists := statExists(bd)
		if !exists || !info.IsDir() {
			return New(OpInsert, bd, KindSourceMissing, errSourceMissing)
		}
	}

	r.table.Insert(vp, bd, mode)
	resolverLogger.Info("bound %s -> %s mode=%s", vp, bd, mode)
	return nil
}

// Remove validates and applies an unbind. CannotRemoveRoot guards the
// mount point's own entry.
func (r *Resolver) Remove(virtualPath, backingDir string) error {
	vp, ok := CleanVirtualPath(virtualPath)
	if !ok {
		return New(OpDelete, virtualPath, KindInvalidPath, errInvalidPath)
	}
	if vp == r.rootVirtualPath {
		if snapshot, exists := r.table.Snapshot(vp); exists && (backingDir == "" || len(snapshot) <= 1) {
			return New(OpDelete, vp, KindCannotRemoveRoot, errCannotRemoveRoot)
		}
	}
	bd := backingDir
	if bd != "" {
		cleaned, ok := CleanBackingDir(backingDir)
		if !ok {
			return New(OpDelete, backingDir, KindInvalidPath, errInvalidPath)
		}
		bd = cleaned
	}
	if !r.table.Remove(vp, bd) {
		return New(OpDelete, vp, KindNotFound, errNotFound)
	}
	resolverLogger.Info("unbound %s from %s", bd, vp)
	return nil
}

// Resolve implements spec §4.1's resolve(): splits virtualPath at the
// longest table prefix, walks that prefix's backing entries in priority
// order, and returns the first candidate whose stat succeeds. No
// filesystem call happens while the table lock is held.
func (r *Resolver) Resolve(virtualPath string) (backingPath string, err error) {
	backingPath, _, err = r.ResolveEntry(virtualPath)
	return backingPath, err
}

// ResolveEntry behaves like Resolve but additionally returns the backing
// directory root the winning candidate came from, so callers (Rename's
// EXDEV check) can tell whether two resolved paths share a backing root
// without re-deriving it from string prefixes.
func (r *Resolver) ResolveEntry(virtualPath string) (backingPath, backingRoot string, err error) {
	vp, ok := CleanVirtualPath(virtualPath)
	if !ok {
		return "", "", New(OpResolve, virtualPath, KindInvalidPath, errInvalidPath)
	}

	prefix, suffix, ok := r.table.LongestPrefix(vp)
	if !ok {
		return "", "", New(OpResolve, vp, KindNotFound, errNotFound)
	}
	entries, _ := r.table.Snapshot(prefix)

	for _, e := range entries {
		candidate := filepath.Join(e.BackingDir, suffix)
		if _, exists := statExists(candidate); exists {
			return candidate, e.BackingDir, nil
		}
	}
	return "", "", New(OpResolve, vp, KindNotFound, errNotFound)
}

// dirent is one merged directory entry produced by Enumerate.
type dirent struct {
	Name string
	Info os.FileInfo
}

// Enumerate implements spec §4.1's enumerate(): resolves virtualDirectory
// to every candidate backing directory that currently exists, unions their
// child names, and resolves conflicts by earliest-priority-wins.
func (r *Resolver) Enumerate(virtualDirectory string) ([]dirent, error) {
	vd, ok := CleanVirtualPath(virtualDirectory)
	if !ok {
		return nil, New(OpReadDir, virtualDirectory, KindInvalidPath, errInvalidPath)
	}

	prefix, suffix, ok := r.table.LongestPrefix(vd)
	if !ok {
		return nil, New(OpReadDir, vd, KindNotFound, errNotFound)
	}
	entries, _ := r.table.Snapshot(prefix)

	seen := make(map[string]bool)
	var merged []dirent
	for _, e := range entries {
		dirPath := filepath.Join(e.BackingDir, suffix)
		infos, err := os.ReadDir(dirPath)
		if err != nil {
			continue
		}
		for _, de := range infos {
			if seen[de.Name()] {
				continue
			}
			seen[de.Name()] = true
			info, err := de.Info()
			if err != nil {
				continue
			}
			merged = append(merged, dirent{Name: de.Name(), Info: info})
		}
	}
	// Bound subdirectories of vd that the table knows about but that may not
	// yet contain files (a fresh Create target) still surface as entries.
	for _, name := range r.table.ChildrenOf(vd) {
		if seen[name] {
			continue
		}
		childPath, err := r.Resolve(filepath.Join(vd, name))
		if err != nil {
			continue
		}
		info, err := os.Stat(childPath)
		if err != nil {
			continue
		}
		seen[name] = true
		merged = append(merged, dirent{Name: name, Info: info})
	}

	sort.Slice(merged, func(i, j int) bool { return merged[i].Name < merged[j].Name })
	return merged, nil
}

var (
	errInvalidPath      = osErr("invalid path")
	errSourceMissing    = osErr("source directory missing or not a directory")
	errNotADirectory    = osErr("not a directory")
	errCannotRemoveRoot = osErr("cannot remove the mount point's root binding")
	errNotFound         = osErr("no existing backing candidate")
)

// osErr wraps a plain string as an error without pulling in errors.New at
// every call site above; kept tiny and unexported.
func osErr(s string) error { return plainError(s) }

type plainError string

func (e plainError) Error() string { return string(e) }
