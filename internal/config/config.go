// Package config holds the small set of runtime settings shared by the
// CLI, the supervisor, and the session process: where the registry lives,
// what the session binary is called (for the liveness check), and the
// timeout governing session startup. Shaped like VMapFS's own
// cmd/vmapfs/main.go flag-parsing (flags first, environment fallback,
// sane built-in default) rather than a config-file library — no example
// repo in the reference corpus pulls one in for a program this size.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config is the resolved set of runtime settings. Passed by value through
// the supervisor and session packages rather than read from a package-level
// global.
type Config struct {
	// RegistryRoot is the directory holding one JSON record plus a pair of
	// FIFOs per live session.
	RegistryRoot string
	// BinaryName is the executable basename a session process runs as,
	// cross-checked by the registry's liveness probe.
	BinaryName string
	// MountTimeout bounds how long EnsureSession waits for a freshly
	// spawned session to report Running.
	MountTimeout time.Duration
	// FIFOMode records the permission bits of the control/reply FIFOs.
	// controlchan.CreateFIFOs creates them with a fixed 0600 and does not
	// read this field.
	FIFOMode os.FileMode
}

const defaultBinaryName = "bindns"

// Default returns the built-in configuration: a registry rooted under
// $XDG_RUNTIME_DIR/bindns/sessions if set, else /tmp/bindns-<uid>/sessions
// (matching spec §4.4's /tmp/<app>/sessions convention while preferring
// the XDG runtime directory when one is available, since /tmp is shared
// across all users on multi-user hosts).
func Default() Config {
	return Config{
		RegistryRoot: defaultRegistryRoot(),
		BinaryName:   defaultBinaryName,
		MountTimeout: 10 * time.Second,
		FIFOMode:     0o600,
	}
}

func defaultRegistryRoot() string {
	if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
		return filepath.Join(runtimeDir, "bindns", "sessions")
	}
	return filepath.Join(os.TempDir(), "bindns-"+strconv.Itoa(os.Getuid()), "sessions")
}
