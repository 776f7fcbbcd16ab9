package supervisor

import (
	"testing"
	"time"

	"bindns/internal/config"
	"bindns/internal/nsfs"
	"bindns/internal/registry"
)

func newTestSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	root := t.TempDir()
	cfg := config.Config{RegistryRoot: root, BinaryName: "", MountTimeout: time.Second}
	sup, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return sup
}

// TestKillAlreadyDeadRecordIsNoop covers spec §8 invariant 7's second
// half indirectly: killing a session whose process has already exited
// (a stale record with a dead pid) is a no-op success that needs no live
// control channel, and FindByID no longer reports the session.
func TestKillAlreadyDeadRecordIsNoop(t *testing.T) {
	sup := newTestSupervisor(t)
	record := registry.SessionRecord{
		SessionID: "stale", OwnerPID: 999999999, MountPoint: "/mnt",
		RootSource: "/src", CreatedAt: time.Now(), State: registry.Running,
		ControlFIFOPath: "/nonexistent-control", ReplyFIFOPath: "/nonexistent-reply",
	}
	if err := sup.reg.Write(record); err != nil {
		t.Fatalf("seeding record: %v", err)
	}

	if err := sup.Kill("stale"); err != nil {
		t.Fatalf("Kill on a dead-process record should succeed, got: %v", err)
	}
	if _, err := sup.reg.FindByID("stale"); err != registry.ErrNotFound {
		t.Errorf("expected FindByID to report the stale session as not found, got err=%v", err)
	}
}

// TestKillTwiceIsIdempotent implements spec §8 invariant 7 directly: two
// consecutive kill(id) calls both return success.
func TestKillTwiceIsIdempotent(t *testing.T) {
	sup := newTestSupervisor(t)
	record := registry.SessionRecord{
		SessionID: "twice", OwnerPID: 999999999, MountPoint: "/mnt",
		CreatedAt: time.Now(), State: registry.Running,
	}
	if err := sup.reg.Write(record); err != nil {
		t.Fatal(err)
	}

	if err := sup.Kill("twice"); err != nil {
		t.Fatalf("first Kill: %v", err)
	}
	if err := sup.Kill("twice"); err != nil {
		t.Fatalf("second Kill should be a no-op success, got: %v", err)
	}
}

// TestUnmountNotFound covers the plain not-found path without touching
// any real FUSE mount.
func TestUnmountNotFound(t *testing.T) {
	sup := newTestSupervisor(t)
	err := sup.Unmount("/never-mounted", false)
	asErr, ok := err.(*nsfs.Error)
	if !ok || asErr.Kind != nsfs.KindNotFound {
		t.Fatalf("expected KindNotFound, got %v", err)
	}
}

// TestPurgeOnEmptyRegistry exercises the aggregate-count path when there
// is nothing to kill.
func TestPurgeOnEmptyRegistry(t *testing.T) {
	sup := newTestSupervisor(t)
	result, err := sup.Purge()
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if result.Killed != 0 || result.Failed != 0 {
		t.Errorf("expected a zero PurgeResult, got %+v", result)
	}
}

func TestTranslateLookupErr(t *testing.T) {
	if err := translateLookupErr(registry.ErrNotFound, "/mnt"); err.(*nsfs.Error).Kind != nsfs.KindNotFound {
		t.Errorf("expected KindNotFound")
	}
	if err := translateLookupErr(registry.ErrCorrupt, "/mnt"); err.(*nsfs.Error).Kind != nsfs.KindRegistryCorrupt {
		t.Errorf("expected KindRegistryCorrupt")
	}
}

