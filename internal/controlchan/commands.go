package controlchan

import "time"

// CommandKind tags which variant a Command carries. CBOR needs a
// discriminator field since Go has no tagged union; bureau's lib/ipc
// types.go uses the same flat-struct-with-kind-field shape for its
// daemon/launcher request variants.
type CommandKind string

const (
	CommandBind     CommandKind = "bind"
	CommandUnbind   CommandKind = "unbind"
	CommandStat     CommandKind = "stat"
	CommandShutdown CommandKind = "shutdown"
)

// Command is the single wire type sent over the control FIFO. Only the
// fields relevant to Kind are populated; see spec §4.5/§6 for the
// Bind{source,target,mode}/Unbind{target,source?}/Stat/Shutdown{force}
// variants.
type Command struct {
	Kind CommandKind `cbor:"kind"`

	// Bind / Unbind
	Source string `cbor:"source,omitempty"`
	Target string `cbor:"target,omitempty"`
	Mode   string `cbor:"mode,omitempty"`

	// Shutdown
	Force bool `cbor:"force,omitempty"`
}

// ReplyKind tags which variant a Reply carries.
type ReplyKind string

const (
	ReplyOk      ReplyKind = "ok"
	ReplyError   ReplyKind = "error"
	ReplySession ReplyKind = "session_info"
)

// Reply is the single wire type read back from the reply FIFO.
type Reply struct {
	Kind ReplyKind `cbor:"kind"`

	// Error
	ErrorKind    string `cbor:"error_kind,omitempty"`
	ErrorMessage string `cbor:"error_message,omitempty"`

	// SessionInfo — a JSON-compatible rendering of the registry's
	// SessionRecord, re-encoded here rather than importing the registry
	// package's type directly so the wire schema stays independent of the
	// on-disk schema (they are allowed to diverge without breaking
	// either).
	SessionInfo *SessionInfo `cbor:"session_info,omitempty"`
}

// SessionInfo is the wire rendering of a session's current state, used by
// the Stat command's reply.
type SessionInfo struct {
	SessionID  string            `cbor:"session_id"`
	OwnerPID   int               `cbor:"owner_pid"`
	MountPoint string            `cbor:"mount_point"`
	RootSource string            `cbor:"root_source"`
	State      string            `cbor:"state"`
	Bindings   []BindingSnapshot `cbor:"bindings"`
	History    []BindEvent       `cbor:"history,omitempty"`
}

// BindingSnapshot mirrors registry.BindingSnapshot on the wire.
type BindingSnapshot struct {
	VirtualPath string `cbor:"virtual_path"`
	BackingDir  string `cbor:"backing_dir"`
	Mode        string `cbor:"mode"`
	Order       int    `cbor:"order"`
}

// BindEvent mirrors registry.BindEvent on the wire, one entry per
// successful Bind or Unbind (Mode is "unbind" for the latter).
type BindEvent struct {
	Source string    `cbor:"source"`
	Target string    `cbor:"target"`
	Mode   string    `cbor:"mode"`
	At     time.Time `cbor:"at"`
}
