package session

import (
	"testing"

	"bindns/internal/controlchan"
	"bindns/internal/nsfs"
)

func TestSnapshotBindingsIncludesMountAndSubpaths(t *testing.T) {
	table := nsfs.NewPathTable()
	table.Insert("/mnt", "/src-a", nsfs.Replace)
	table.Insert("/mnt/sub", "/src-b", nsfs.Before)

	got := snapshotBindings(table)

	if len(got) != 2 {
		t.Fatalf("expected exactly 2 snapshot entries (one per binding, no duplicates), got %d: %+v", len(got), got)
	}

	var sawMount, sawSub bool
	for _, b := range got {
		if b.VirtualPath == "/mnt" && b.BackingDir == "/src-a" && b.Mode == "replace" {
			sawMount = true
		}
		if b.VirtualPath == "/mnt/sub" && b.BackingDir == "/src-b" && b.Mode == "before" {
			sawSub = true
		}
	}
	if !sawMount {
		t.Error("expected a snapshot entry for the mount point binding")
	}
	if !sawSub {
		t.Error("expected a snapshot entry for the subpath binding")
	}
}

func TestErrorReplyCarriesKind(t *testing.T) {
	err := nsfs.New(nsfs.OpInsert, "/mnt/x", nsfs.KindSourceMissing, nil)
	reply := errorReply(err)

	if reply.Kind != controlchan.ReplyError {
		t.Fatalf("expected ReplyError, got %v", reply.Kind)
	}
	if reply.ErrorKind != nsfs.KindSourceMissing.String() {
		t.Errorf("got error kind %q, want %q", reply.ErrorKind, nsfs.KindSourceMissing.String())
	}
}

func TestErrorReplyOnPlainError(t *testing.T) {
	reply := errorReply(errPlain("boom"))
	if reply.Kind != controlchan.ReplyError {
		t.Fatalf("expected ReplyError, got %v", reply.Kind)
	}
	if reply.ErrorKind != "unknown" {
		t.Errorf("got error kind %q, want unknown for a non-nsfs error", reply.ErrorKind)
	}
}

type errPlain string

func (e errPlain) Error() string { return string(e) }
