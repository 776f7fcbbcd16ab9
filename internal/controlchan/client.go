package controlchan

import (
	"fmt"
	"os"
	"time"

	"bindns/internal/logging"

	"golang.org/x/sys/unix"
)

var clientLogger = logging.GetLogger().WithPrefix("controlchan")

// openRetryDelays is the client's write-open backoff schedule per spec
// §4.5: 100ms, 400ms, 1s, three retries total.
var openRetryDelays = []time.Duration{100 * time.Millisecond, 400 * time.Millisecond, 1 * time.Second}

// openWriteTimeout bounds a single open attempt.
const openWriteTimeout = 2 * time.Second

// replyReadTimeout bounds waiting for a reply once the command is written.
const replyReadTimeout = 5 * time.Second

// ErrUnreachable is returned when the control FIFO could not be opened
// for writing after retries — spec's SessionUnreachable.
var ErrUnreachable = fmt.Errorf("session control channel unreachable")

// ErrUnresponsive is returned when a command was written but no reply
// arrived within the timeout — spec's SessionUnresponsive.
var ErrUnresponsive = fmt.Errorf("session did not reply in time")

// Send implements the client side of spec §4.5: open the control FIFO for
// writing (retrying on transient absence of a reader), write one command
// frame, open the reply FIFO for reading, read one reply frame, close
// both. Reply-read is not retried.
func Send(controlFIFO, replyFIFO string, cmd Command) (Reply, error) {
	controlFile, err := openForWriteWithRetry(controlFIFO)
	if err != nil {
		return Reply{}, ErrUnreachable
	}
	defer controlFile.Close()

	if err := WriteCommand(controlFile, cmd); err != nil {
		return Reply{}, fmt.Errorf("writing command: %w", err)
	}

	replyFile, err := openForReadWithTimeout(replyFIFO, replyReadTimeout)
	if err != nil {
		return Reply{}, ErrUnresponsive
	}
	defer replyFile.Close()

	reply, err := readReplyWithTimeout(replyFile, replyReadTimeout)
	if err != nil {
		return Reply{}, ErrUnresponsive
	}
	return reply, nil
}

// openForWriteWithRetry opens path for writing, retrying per
// openRetryDelays when the open blocks past openWriteTimeout (no reader
// present yet — O_NONBLOCK makes that failure immediate instead of
// hanging, matching the "open blocks until a reader is present" FIFO
// semantics spec §4.5 relies on for serialization while still bounding
// the client's wait).
func openForWriteWithRetry(path string) (*os.File, error) {
	attempts := append([]time.Duration{0}, openRetryDelays...)
	var lastErr error
	for i, delay := range attempts {
		if delay > 0 {
			time.Sleep(delay)
		}
		file, err := openNonblockingWithDeadline(path, unix.O_WRONLY, openWriteTimeout)
		if err == nil {
			return file, nil
		}
		lastErr = err
		clientLogger.Debug("open-for-write attempt %d failed: %v", i+1, err)
	}
	return nil, lastErr
}

func openForReadWithTimeout(path string, timeout time.Duration) (*os.File, error) {
	return openNonblockingWithDeadline(path, unix.O_RDONLY, timeout)
}

// openNonblockingWithDeadline opens a FIFO with O_NONBLOCK so the open
// syscall itself never blocks, then polls until a peer appears or the
// deadline elapses. Plain os.OpenFile on a FIFO with no peer blocks
// indefinitely, which would defeat the timeouts spec §4.5 requires.
func openNonblockingWithDeadline(path string, flag int, timeout time.Duration) (*os.File, error) {
	deadline := time.Now().Add(timeout)
	for {
		fd, err := unix.Open(path, flag|unix.O_NONBLOCK, 0)
		if err == nil {
			file := os.NewFile(uintptr(fd), path)
			// Clear O_NONBLOCK now that a peer is present so subsequent
			// reads/writes behave normally (blocking, full-duplex framing).
			if clearErr := unix.SetNonblock(fd, false); clearErr != nil {
				file.Close()
				return nil, clearErr
			}
			return file, nil
		}
		if err != unix.ENXIO {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timed out opening %s", path)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func readReplyWithTimeout(file *os.File, timeout time.Duration) (Reply, error) {
	file.SetReadDeadline(time.Now().Add(timeout))
	return ReadReply(file)
}
