// Package registry implements the on-disk session registry: a directory
// of one JSON file per live session, written atomically and read back to
// discover, address, and reap sessions across CLI invocations.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"bindns/internal/logging"

	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
)

var regLogger = logging.GetLogger().WithPrefix("registry")

// SessionState mirrors spec §3's Session.state.
type SessionState string

const (
	Starting SessionState = "starting"
	Running  SessionState = "running"
	Draining SessionState = "draining"
	Dead     SessionState = "dead"
)

// BindingSnapshot is one entry of the current binding stack, recorded into
// a SessionRecord after every successful mutation.
type BindingSnapshot struct {
	VirtualPath string `json:"virtual_path"`
	BackingDir  string `json:"backing_dir"`
	Mode        string `json:"mode"`
	Order       int    `json:"order"`
}

// BindEvent is one entry of a session's append-only bind history. Not
// named by spec.md; supplements the original Rust prototype's SessionInfo
// (see SPEC_FULL §3) with provenance beyond the live binding stack.
type BindEvent struct {
	Source string    `json:"source"`
	Target string    `json:"target"`
	Mode   string    `json:"mode"`
	At     time.Time `json:"at"`
}

// SessionRecord is the on-disk structure written to
// <root>/<session_id>.json, per spec §3/§4.4.
type SessionRecord struct {
	SessionID       string            `json:"session_id"`
	OwnerPID        int               `json:"owner_pid"`
	MountPoint      string            `json:"mount_point"`
	RootSource      string            `json:"root_source"`
	CreatedAt       time.Time         `json:"created_at"`
	ControlFIFOPath string            `json:"control_fifo_path"`
	ReplyFIFOPath   string            `json:"reply_fifo_path"`
	State           SessionState      `json:"state"`
	Bindings        []BindingSnapshot `json:"bindings"`
	History         []BindEvent       `json:"history,omitempty"`
}

func (r SessionRecord) path(root string) string {
	return filepath.Join(root, r.SessionID+".json")
}

// Registry is a constructed value over a root directory — per spec §9's
// redesign note, there is no process-wide mutable registry path; every
// supervisor/session operation threads a *Registry through explicitly.
type Registry struct {
	root   string
	binary string // executable basename used by the liveness check
}

// New constructs a Registry rooted at root, creating the directory (mode
// 0700) if it does not already exist. binary is the executable name a
// live session process is expected to be running as (used by the
// liveness check's /proc/<pid>/comm cross-check).
func New(root, binary string) (*Registry, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("creating registry root %s: %w", root, err)
	}
	return &Registry{root: root, binary: binary}, nil
}

// Root returns the registry's root directory.
func (r *Registry) Root() string { return r.root }

// Write atomically persists record: marshal, write to a temp file in the
// same directory, fsync, rename, fsync the parent directory. Grounded on
// bureau-foundation-bureau/lib/watchdog.Write, generalized from a single
// whole-state file to one-file-per-session.
func (r *Registry) Write(record SessionRecord) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling session record: %w", err)
	}
	data = append(data, '\n')

	finalPath := record.path(r.root)
	tempPath := finalPath + ".tmp"

	file, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating temp registry file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("writing temp registry file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("syncing temp registry file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("closing temp registry file: %w", err)
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("renaming registry file into place: %w", err)
	}
	if dir, err := os.Open(r.root); err == nil {
		dir.Sync()
		dir.Close()
	}

	regLogger.Debug("wrote session record %s (state=%s)", record.SessionID, record.State)
	return nil
}

// Remove deletes a session's record file. Idempotent.
func (r *Registry) Remove(sessionID string) error {
	path := filepath.Join(r.root, sessionID+".json")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing session record: %w", err)
	}
	return nil
}

// readRecord reads and parses one record file. Returns an error wrapping
// the parse failure (not the os.Stat error) so callers can distinguish a
// corrupt file from a missing one.
func readRecord(path string) (SessionRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SessionRecord{}, err
	}
	var record SessionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return SessionRecord{}, fmt.Errorf("parsing registry file %s: %w", path, err)
	}
	return record, nil
}

// isAlive implements spec §4.4's liveness check: signal 0 succeeds and the
// process's executable name matches the session binary.
func (r *Registry) isAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if err := unix.Kill(pid, 0); err != nil {
		return false
	}
	if r.binary == "" {
		return true
	}
	proc, err := procfs.NewProc(pid)
	if err != nil {
		// /proc unreadable (permissions, already gone) — treat the signal-0
		// success as sufficient rather than failing the whole check closed.
		return true
	}
	comm, err := proc.Comm()
	if err != nil {
		return true
	}
	return comm == r.binary
}

// List returns every session that is both present on disk and alive, per
// spec §4.4 list(). Unparseable files are skipped (they are stale records,
// left for a future reap_dead/repair pass, not reported as sessions).
func (r *Registry) List() ([]SessionRecord, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return nil, fmt.Errorf("reading registry root: %w", err)
	}

	var live []SessionRecord
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		record, err := readRecord(filepath.Join(r.root, entry.Name()))
		if err != nil {
			regLogger.Warn("skipping unparseable registry file %s: %v", entry.Name(), err)
			continue
		}
		if r.isAlive(record.OwnerPID) {
			live = append(live, record)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i].CreatedAt.Before(live[j].CreatedAt) })
	return live, nil
}

// ErrNotFound is returned by FindByID and LookupByMount when no matching
// live session exists.
var ErrNotFound = errors.New("session not found")

// ErrCorrupt is returned by LookupByMount when more than one live session
// claims the same mount point.
var ErrCorrupt = errors.New("registry corrupt: duplicate mount point")

// FindByID returns the record for sessionID, or ErrNotFound.
func (r *Registry) FindByID(sessionID string) (SessionRecord, error) {
	path := filepath.Join(r.root, sessionID+".json")
	record, err := readRecord(path)
	if err != nil {
		if os.IsNotExist(err) {
			return SessionRecord{}, ErrNotFound
		}
		return SessionRecord{}, err
	}
	if !r.isAlive(record.OwnerPID) {
		return SessionRecord{}, ErrNotFound
	}
	return record, nil
}

// LookupByMount returns the at-most-one live session owning mountPoint.
// Multiple hits trigger a repair scan (logged, best-effort) and return
// ErrCorrupt per spec §4.4/§7.
func (r *Registry) LookupByMount(mountPoint string) (SessionRecord, error) {
	live, err := r.List()
	if err != nil {
		return SessionRecord{}, err
	}

	var matches []SessionRecord
	for _, record := range live {
		if record.MountPoint == mountPoint {
			matches = append(matches, record)
		}
	}

	switch len(matches) {
	case 0:
		return SessionRecord{}, ErrNotFound
	case 1:
		return matches[0], nil
	default:
		regLogger.Error("registry corrupt: %d live sessions claim mount point %s", len(matches), mountPoint)
		r.repair(matches)
		return SessionRecord{}, ErrCorrupt
	}
}

// repair performs a best-effort partial recovery when LookupByMount finds
// duplicates: keep the most recently created record, remove the others'
// files (their owning processes are reaped separately by ReapDead/kill).
// Serialized by registry.lock so concurrent CLI invocations don't race
// each other's repair scans.
func (r *Registry) repair(duplicates []SessionRecord) {
	unlock, err := r.lock()
	if err != nil {
		regLogger.Warn("could not acquire registry lock for repair: %v", err)
		return
	}
	defer unlock()

	newest := duplicates[0]
	for _, d := range duplicates[1:] {
		if d.CreatedAt.After(newest.CreatedAt) {
			newest = d
		}
	}
	for _, d := range duplicates {
		if d.SessionID == newest.SessionID {
			continue
		}
		regLogger.Warn("repair: dropping stale duplicate registry entry %s", d.SessionID)
		_ = r.Remove(d.SessionID)
	}
}

// ReapDead finds every record whose owner_pid is gone, deletes its
// registry file (unparseable files are deleted too), and returns the
// reaped records. It does not unmount mount_point or remove the session's
// FIFOs, and its callers in the supervisor do not either.
func (r *Registry) ReapDead() ([]SessionRecord, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return nil, fmt.Errorf("reading registry root: %w", err)
	}

	var dead []SessionRecord
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(r.root, entry.Name())
		record, err := readRecord(path)
		if err != nil {
			regLogger.Warn("reaping unparseable registry file %s", entry.Name())
			os.Remove(path)
			continue
		}
		if !r.isAlive(record.OwnerPID) {
			dead = append(dead, record)
			if err := r.Remove(record.SessionID); err != nil {
				regLogger.Warn("failed to remove dead record %s: %v", record.SessionID, err)
			}
		}
	}
	return dead, nil
}

// lock acquires the registry's global advisory flock, serializing repair
// scans per spec §5. Returns an unlock function.
func (r *Registry) lock() (func(), error) {
	lockPath := filepath.Join(r.root, "registry.lock")
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX); err != nil {
		file.Close()
		return nil, err
	}
	return func() {
		unix.Flock(int(file.Fd()), unix.LOCK_UN)
		file.Close()
	}, nil
}
