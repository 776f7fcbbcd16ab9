package registry

import (
	"os"
	"testing"
	"time"
)

func TestWriteAndFindByID(t *testing.T) {
	root := t.TempDir()
	reg, err := New(root, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	record := SessionRecord{
		SessionID:  "abc123",
		OwnerPID:   os.Getpid(),
		MountPoint: "/mnt",
		RootSource: "/src",
		CreatedAt:  time.Now(),
		State:      Running,
	}
	if err := reg.Write(record); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := reg.FindByID("abc123")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got.MountPoint != "/mnt" {
		t.Errorf("got mount point %q, want /mnt", got.MountPoint)
	}
}

func TestListSkipsDeadSessions(t *testing.T) {
	root := t.TempDir()
	reg, err := New(root, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	alive := SessionRecord{SessionID: "alive", OwnerPID: os.Getpid(), MountPoint: "/mnt-a", CreatedAt: time.Now(), State: Running}
	dead := SessionRecord{SessionID: "dead", OwnerPID: 999999999, MountPoint: "/mnt-b", CreatedAt: time.Now(), State: Running}

	if err := reg.Write(alive); err != nil {
		t.Fatal(err)
	}
	if err := reg.Write(dead); err != nil {
		t.Fatal(err)
	}

	live, err := reg.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(live) != 1 || live[0].SessionID != "alive" {
		t.Fatalf("expected only the alive session, got %+v", live)
	}
}

func TestListSkipsUnparseableFiles(t *testing.T) {
	root := t.TempDir()
	reg, err := New(root, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := os.WriteFile(root+"/garbage.json", []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	live, err := reg.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(live) != 0 {
		t.Fatalf("expected no live sessions from a garbage file, got %+v", live)
	}
}

func TestReapDeadRemovesOnlyDead(t *testing.T) {
	root := t.TempDir()
	reg, err := New(root, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	alive := SessionRecord{SessionID: "alive", OwnerPID: os.Getpid(), MountPoint: "/mnt-a", CreatedAt: time.Now(), State: Running}
	dead := SessionRecord{SessionID: "dead", OwnerPID: 999999999, MountPoint: "/mnt-b", CreatedAt: time.Now(), State: Running}
	if err := reg.Write(alive); err != nil {
		t.Fatal(err)
	}
	if err := reg.Write(dead); err != nil {
		t.Fatal(err)
	}

	reaped, err := reg.ReapDead()
	if err != nil {
		t.Fatalf("ReapDead: %v", err)
	}
	if len(reaped) != 1 || reaped[0].SessionID != "dead" {
		t.Fatalf("expected to reap only 'dead', got %+v", reaped)
	}

	if _, err := reg.FindByID("alive"); err != nil {
		t.Errorf("expected alive session to remain: %v", err)
	}
	if _, err := os.Stat(root + "/dead.json"); !os.IsNotExist(err) {
		t.Error("expected dead session's record file to be removed")
	}
}

func TestLookupByMountCorrupt(t *testing.T) {
	root := t.TempDir()
	reg, err := New(root, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	a := SessionRecord{SessionID: "a", OwnerPID: os.Getpid(), MountPoint: "/mnt", CreatedAt: time.Now(), State: Running}
	b := SessionRecord{SessionID: "b", OwnerPID: os.Getpid(), MountPoint: "/mnt", CreatedAt: time.Now().Add(time.Second), State: Running}
	if err := reg.Write(a); err != nil {
		t.Fatal(err)
	}
	if err := reg.Write(b); err != nil {
		t.Fatal(err)
	}

	_, err = reg.LookupByMount("/mnt")
	if err != ErrCorrupt {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}

	// repair() should have kept the newest (b) and dropped a.
	if _, err := reg.FindByID("b"); err != nil {
		t.Errorf("expected newest duplicate to survive repair: %v", err)
	}
	if _, err := os.Stat(root + "/a.json"); !os.IsNotExist(err) {
		t.Error("expected older duplicate to be removed by repair")
	}
}
