package controlchan

import (
	"os"
	"testing"
)

func TestCommandRoundTrip(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	want := Command{Kind: CommandBind, Source: "/src", Target: "/mnt", Mode: "before"}

	errCh := make(chan error, 1)
	go func() {
		errCh <- WriteCommand(w, want)
	}()

	got, err := ReadCommand(r)
	if err != nil {
		t.Fatalf("ReadCommand: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("WriteCommand: %v", err)
	}

	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestReplyRoundTrip(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	want := Reply{Kind: ReplyError, ErrorKind: "busy", ErrorMessage: "files are open"}

	errCh := make(chan error, 1)
	go func() {
		errCh <- WriteReply(w, want)
	}()

	got, err := ReadReply(r)
	if err != nil {
		t.Fatalf("ReadReply: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("WriteReply: %v", err)
	}

	if got.Kind != want.Kind || got.ErrorKind != want.ErrorKind || got.ErrorMessage != want.ErrorMessage {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	defer r.Close()

	go func() {
		// 0xFFFFFFFF exceeds maxFrameSize.
		w.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
		w.Close()
	}()

	if _, err := readFrame(r); err == nil {
		t.Error("expected readFrame to reject an oversized length prefix")
	}
}
