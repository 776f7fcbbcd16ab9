package controlchan

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// CreateFIFOs creates the control and reply FIFOs at the given paths with
// mode 0600, per spec §4.3 step 2. Both must not already exist.
func CreateFIFOs(controlPath, replyPath string) error {
	if err := unix.Mkfifo(controlPath, 0o600); err != nil {
		return fmt.Errorf("creating control fifo %s: %w", controlPath, err)
	}
	if err := unix.Mkfifo(replyPath, 0o600); err != nil {
		os.Remove(controlPath)
		return fmt.Errorf("creating reply fifo %s: %w", replyPath, err)
	}
	return nil
}

// RemoveFIFOs removes both FIFOs, tolerating either already being gone.
func RemoveFIFOs(controlPath, replyPath string) {
	os.Remove(controlPath)
	os.Remove(replyPath)
}

// OpenControlForReading opens the control FIFO for the session's single
// command-loop reader. This blocks until at least one writer has opened
// the other end — normal FIFO semantics, not a bug.
func OpenControlForReading(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_RDONLY, 0)
}

// OpenReplyForWriting opens the reply FIFO for the session's reply
// writer, used once per command after OpenControlForReading has already
// synchronized with a client.
func OpenReplyForWriting(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_WRONLY, 0)
}
