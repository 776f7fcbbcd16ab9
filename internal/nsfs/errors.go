// Package nsfs implements the namespace path table, resolver, and the
// bazil.org/fuse callback surface that surfaces the resulting union view
// to the kernel.
package nsfs

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"bindns/internal/logging"
)

var errLogger = logging.GetLogger().WithPrefix("nsfs")

// Kind identifies one of the error taxonomy entries shared by FUSE errno
// translation, control-channel error replies, and CLI exit codes.
type Kind int

const (
	// KindNone is the zero value; never attached to a real Error.
	KindNone Kind = iota
	// KindInvalidPath: non-absolute or contains traversal components.
	KindInvalidPath
	// KindSourceMissing: backing directory does not exist or is not a directory.
	KindSourceMissing
	// KindTargetMissing: mount point/target does not exist (unless mode=Create).
	KindTargetMissing
	// KindCreateFailed: mkdir for Create mode failed.
	KindCreateFailed
	// KindMountFailed: kernel refused the mount.
	KindMountFailed
	// KindBusy: unmount failed because files are open.
	KindBusy
	// KindSessionUnreachable: control FIFO could not be opened.
	KindSessionUnreachable
	// KindSessionUnresponsive: command written, no reply within timeout.
	KindSessionUnresponsive
	// KindCannotRemoveRoot: attempted to remove the initial mount-point binding.
	KindCannotRemoveRoot
	// KindRegistryCorrupt: repair scan found duplicates; partial recovery attempted.
	KindRegistryCorrupt
	// KindNotFound: resolve found no existing candidate.
	KindNotFound
	// KindDirectoryNotEmpty: rmdir on a non-empty directory.
	KindDirectoryNotEmpty
	// KindAlreadyExists: create/mkdir target already present.
	KindAlreadyExists
	// KindCrossDevice: rename across different backing directories.
	KindCrossDevice
)

var kindNames = map[Kind]string{
	KindNone:                "none",
	KindInvalidPath:         "invalid_path",
	KindSourceMissing:       "source_missing",
	KindTargetMissing:       "target_missing",
	KindCreateFailed:        "create_failed",
	KindMountFailed:         "mount_failed",
	KindBusy:                "busy",
	KindSessionUnreachable:  "session_unreachable",
	KindSessionUnresponsive: "session_unresponsive",
	KindCannotRemoveRoot:    "cannot_remove_root",
	KindRegistryCorrupt:     "registry_corrupt",
	KindNotFound:            "not_found",
	KindDirectoryNotEmpty:   "directory_not_empty",
	KindAlreadyExists:       "already_exists",
	KindCrossDevice:         "cross_device",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Error wraps a failed namespace operation with the operation name, the
// affected virtual path, and an error kind drawn from the taxonomy above.
// One Error value is translated three ways depending on the surface that
// observes it: FUSE errno (ToFuseError), CLI exit code (ToExitCode), and
// control-channel reply (the session package's errorReply, which carries
// Kind.String()).
type Error struct {
	Op   string
	Path string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %s: %v", e.Op, e.Path, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New constructs an Error for the given operation, path, kind and cause.
func New(op, path string, kind Kind, err error) *Error {
	e := &Error{Op: op, Path: path, Kind: kind, Err: err}
	errLogger.Debug("new error: %v", e)
	return e
}

// ToFuseError converts err into the syscall.Errno value bazil.org/fuse
// expects a callback to return. Every callback must return something from
// this function (or nil) so the kernel is never left waiting.
func ToFuseError(err error) error {
	if err == nil {
		return nil
	}

	var nsErr *Error
	if errors.As(err, &nsErr) {
		errLogger.Trace("converting to fuse errno: %v", nsErr)
		switch nsErr.Kind {
		case KindNotFound, KindTargetMissing, KindSourceMissing:
			return syscall.ENOENT
		case KindInvalidPath:
			return syscall.EINVAL
		case KindDirectoryNotEmpty:
			return syscall.ENOTEMPTY
		case KindAlreadyExists:
			return syscall.EEXIST
		case KindBusy:
			return syscall.EBUSY
		case KindCrossDevice:
			return syscall.EXDEV
		case KindCannotRemoveRoot:
			return syscall.EPERM
		case KindCreateFailed, KindMountFailed:
			return syscall.EIO
		default:
			errLogger.Debug("unmapped error kind, returning EIO: %v", nsErr)
			return syscall.EIO
		}
	}

	errLogger.Trace("converting standard error to fuse errno: %v", err)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return syscall.ENOENT
	case errors.Is(err, os.ErrPermission):
		return syscall.EACCES
	default:
		return syscall.EIO
	}
}

// ToExitCode maps an Error's kind to the CLI exit codes in spec §6: 0
// success, 1 generic error, 2 bad usage, 3 SessionUnreachable, 4
// MountFailed, 5 SourceMissing, 6 Busy.
func ToExitCode(err error) int {
	if err == nil {
		return 0
	}
	var nsErr *Error
	if errors.As(err, &nsErr) {
		switch nsErr.Kind {
		case KindSessionUnreachable, KindSessionUnresponsive:
			return 3
		case KindMountFailed:
			return 4
		case KindSourceMissing:
			return 5
		case KindBusy:
			return 6
		case KindInvalidPath:
			return 2
		default:
			return 1
		}
	}
	return 1
}

// IsTemporary reports whether err is a transient syscall failure that a
// retry could plausibly resolve.
func IsTemporary(err error) bool {
	var nsErr *Error
	if errors.As(err, &nsErr) {
		return false
	}
	switch {
	case errors.Is(err, syscall.EAGAIN):
		return true
	case errors.Is(err, syscall.EBUSY):
		return true
	case errors.Is(err, syscall.ETIMEDOUT):
		return true
	default:
		return false
	}
}

// Operation name constants, used consistently across callbacks for logging
// and error construction.
const (
	OpLookup  = "lookup"
	OpReadDir = "readdir"
	OpOpen    = "open"
	OpRead    = "read"
	OpWrite   = "write"
	OpCreate  = "create"
	OpMkdir   = "mkdir"
	OpRemove  = "remove"
	OpRename  = "rename"
	OpSetattr = "setattr"
	OpGetattr = "getattr"
	OpInsert  = "insert"
	OpDelete  = "delete"
	OpResolve = "resolve"
)
