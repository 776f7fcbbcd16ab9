// Package supervisor owns the lifecycle of session processes from the
// CLI's point of view: starting a new one, addressing an existing one by
// mount point or session id, and driving it through a graceful-then-forced
// shutdown ladder. Grounded on
// function61-varasto/pkg/childprocesscontroller/controller.go's
// start/stop/backoff state machine and
// xfeldman-aegisvm/internal/lifecycle/manager.go's explicit state-machine
// shape, adapted from container lifecycle states to the session's
// Starting/Running/Draining/Dead states.
package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"bindns/internal/config"
	"bindns/internal/controlchan"
	"bindns/internal/logging"
	"bindns/internal/nsfs"
	"bindns/internal/registry"
)

var log = logging.GetLogger().WithPrefix("supervisor")

// gracefulWait bounds how long Kill waits after a force=false Shutdown
// before escalating to force=true, per spec §4.6.
const gracefulWait = 5 * time.Second

// forcedWait bounds how long Kill waits after a force=true Shutdown
// before escalating to SIGKILL.
const forcedWait = 2 * time.Second

// Supervisor spawns and addresses session processes through the shared
// registry.
type Supervisor struct {
	reg *registry.Registry
	cfg config.Config
}

// New constructs a Supervisor over the given config's registry root.
func New(cfg config.Config) (*Supervisor, error) {
	reg, err := registry.New(cfg.RegistryRoot, cfg.BinaryName)
	if err != nil {
		return nil, err
	}
	return &Supervisor{reg: reg, cfg: cfg}, nil
}

// EnsureSession starts a new session process rooted at rootSource and
// mounted at mountPoint, per spec §4.3/§4.6. It self-re-execs the running
// binary with the hidden __session subcommand (Go cannot safely fork()
// without an immediate exec, so a fresh process is always launched rather
// than forked in place), grounded on childprocesscontroller's
// exec.Command-based process ownership, then polls the registry until the
// new session reports Running or the mount attempt fails.
func (s *Supervisor) EnsureSession(mountPoint, rootSource string) (registry.SessionRecord, error) {
	if _, err := s.reg.LookupByMount(mountPoint); err == nil {
		return registry.SessionRecord{}, nsfs.New(nsfs.OpMkdir, mountPoint, nsfs.KindAlreadyExists,
			fmt.Errorf("a session is already mounted at %s", mountPoint))
	}

	self, err := os.Executable()
	if err != nil {
		return registry.SessionRecord{}, fmt.Errorf("resolving own executable path: %w", err)
	}

	cmd := exec.Command(self, "__session", "--mount", mountPoint, "--source", rootSource,
		"--registry-root", s.cfg.RegistryRoot)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	// Detach from the launching terminal's process group so a later Ctrl-C
	// in the CLI's own shell doesn't also signal the long-lived session.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return registry.SessionRecord{}, nsfs.New(nsfs.OpMkdir, mountPoint, nsfs.KindMountFailed, err)
	}
	// The session process outlives this CLI invocation; release it instead
	// of leaving it as a reaped child of a process that is about to exit.
	go cmd.Process.Release()

	deadline := time.Now().Add(s.cfg.MountTimeout)
	for time.Now().Before(deadline) {
		record, err := s.reg.LookupByMount(mountPoint)
		if err == nil && record.State == registry.Running {
			return record, nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return registry.SessionRecord{}, nsfs.New(nsfs.OpMkdir, mountPoint, nsfs.KindMountFailed,
		fmt.Errorf("session did not report running within %s", s.cfg.MountTimeout))
}

// Bind sends a Bind command to the session owning mountPoint.
func (s *Supervisor) Bind(mountPoint, source, target, mode string) error {
	record, err := s.reg.LookupByMount(mountPoint)
	if err != nil {
		return translateLookupErr(err, mountPoint)
	}
	reply, err := controlchan.Send(record.ControlFIFOPath, record.ReplyFIFOPath, controlchan.Command{
		Kind: controlchan.CommandBind, Source: source, Target: target, Mode: mode,
	})
	if err != nil {
		return translateChannelErr(err, mountPoint)
	}
	return replyToErr(reply)
}

// Unbind sends an Unbind command to the session owning mountPoint.
func (s *Supervisor) Unbind(mountPoint, source, target string) error {
	record, err := s.reg.LookupByMount(mountPoint)
	if err != nil {
		return translateLookupErr(err, mountPoint)
	}
	reply, err := controlchan.Send(record.ControlFIFOPath, record.ReplyFIFOPath, controlchan.Command{
		Kind: controlchan.CommandUnbind, Source: source, Target: target,
	})
	if err != nil {
		return translateChannelErr(err, mountPoint)
	}
	return replyToErr(reply)
}

// Stat retrieves the live SessionInfo for the session owning mountPoint.
func (s *Supervisor) Stat(mountPoint string) (*controlchan.SessionInfo, error) {
	record, err := s.reg.LookupByMount(mountPoint)
	if err != nil {
		return nil, translateLookupErr(err, mountPoint)
	}
	reply, err := controlchan.Send(record.ControlFIFOPath, record.ReplyFIFOPath, controlchan.Command{Kind: controlchan.CommandStat})
	if err != nil {
		return nil, translateChannelErr(err, mountPoint)
	}
	if reply.Kind == controlchan.ReplyError {
		return nil, replyToErr(reply)
	}
	return reply.SessionInfo, nil
}

// List returns every live session, per spec §4.6 session -l.
func (s *Supervisor) List() ([]registry.SessionRecord, error) {
	return s.reg.List()
}

// FindByID returns one session record by id.
func (s *Supervisor) FindByID(sessionID string) (registry.SessionRecord, error) {
	record, err := s.reg.FindByID(sessionID)
	if err != nil {
		return registry.SessionRecord{}, translateLookupErr(err, sessionID)
	}
	return record, nil
}

// Kill implements spec §4.6's escalation ladder for session -k: a
// graceful Shutdown{force:false}, waiting gracefulWait for the process to
// exit on its own; if it hasn't, Shutdown{force:true} and forcedWait; if
// it still hasn't, SIGKILL followed by a registry reap. Each rung is
// attempted even if the previous one's control-channel round trip failed
// (a wedged session won't answer, but SIGKILL doesn't need it to).
func (s *Supervisor) Kill(sessionID string) error {
	record, err := s.reg.FindByID(sessionID)
	if err == registry.ErrNotFound {
		// Already gone — spec §8 invariant 7 requires a second kill(id) to
		// be a no-op success, not an error.
		return nil
	}
	if err != nil {
		return translateLookupErr(err, sessionID)
	}

	log.Info("killing session %s (pid %d): graceful shutdown", sessionID, record.OwnerPID)
	controlchan.Send(record.ControlFIFOPath, record.ReplyFIFOPath, controlchan.Command{Kind: controlchan.CommandShutdown, Force: false})
	if s.waitForExit(record.OwnerPID, gracefulWait) {
		return nil
	}

	log.Warn("session %s did not exit gracefully, forcing shutdown", sessionID)
	controlchan.Send(record.ControlFIFOPath, record.ReplyFIFOPath, controlchan.Command{Kind: controlchan.CommandShutdown, Force: true})
	if s.waitForExit(record.OwnerPID, forcedWait) {
		return nil
	}

	log.Warn("session %s still alive, sending SIGKILL", sessionID)
	syscall.Kill(record.OwnerPID, syscall.SIGKILL)
	s.waitForExit(record.OwnerPID, 1*time.Second)

	reaped, _ := s.reg.ReapDead()
	for _, r := range reaped {
		if r.SessionID == sessionID {
			return nil
		}
	}
	return s.reg.Remove(sessionID)
}

// Unmount implements spec §4.6 unmount(mount_point, force): a single
// Shutdown{force} round trip to the owning session, not the full kill()
// escalation ladder — per spec §8 invariant 8, force=false must surface
// Busy rather than escalate, while force=true is expected to succeed via
// the driver's lazy-detach fallback. If the session is unreachable and
// force was requested, this falls back to the full Kill ladder (including
// SIGKILL) so a wedged session doesn't block a forced unmount forever.
func (s *Supervisor) Unmount(mountPoint string, force bool) error {
	record, err := s.reg.LookupByMount(mountPoint)
	if err != nil {
		return translateLookupErr(err, mountPoint)
	}

	reply, err := controlchan.Send(record.ControlFIFOPath, record.ReplyFIFOPath, controlchan.Command{
		Kind: controlchan.CommandShutdown, Force: force,
	})
	if err != nil {
		if !force {
			return translateChannelErr(err, mountPoint)
		}
		log.Warn("session %s unreachable during forced unmount, escalating to kill", record.SessionID)
		return s.Kill(record.SessionID)
	}

	if reply.Kind == controlchan.ReplyError {
		if reply.ErrorKind == nsfs.KindBusy.String() {
			return nsfs.New(nsfs.OpRemove, mountPoint, nsfs.KindBusy, fmt.Errorf("%s", reply.ErrorMessage))
		}
		return replyToErr(reply)
	}

	s.waitForExit(record.OwnerPID, gracefulWait)
	return nil
}

// PurgeResult aggregates the outcome of applying Kill to every live
// session, per spec §4.6 purge()'s "aggregate (killed, failed) counts".
type PurgeResult struct {
	Killed int
	Failed int
}

// Purge implements spec §4.4/§4.6 session -p: apply Kill to every session
// enumerated by List, then reap whatever dead records that leaves behind
// (including sessions that were already dead before Purge ran).
func (s *Supervisor) Purge() (PurgeResult, error) {
	records, err := s.reg.List()
	if err != nil {
		return PurgeResult{}, err
	}

	var result PurgeResult
	for _, record := range records {
		if err := s.Kill(record.SessionID); err != nil {
			log.Warn("purge: failed to kill session %s: %v", record.SessionID, err)
			result.Failed++
			continue
		}
		result.Killed++
	}

	s.reg.ReapDead()
	return result, nil
}

func (s *Supervisor) waitForExit(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if syscall.Kill(pid, 0) != nil {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return false
}

func translateLookupErr(err error, path string) error {
	if err == registry.ErrNotFound {
		return nsfs.New(nsfs.OpResolve, path, nsfs.KindNotFound, err)
	}
	if err == registry.ErrCorrupt {
		return nsfs.New(nsfs.OpResolve, path, nsfs.KindRegistryCorrupt, err)
	}
	return err
}

func translateChannelErr(err error, path string) error {
	switch err {
	case controlchan.ErrUnreachable:
		return nsfs.New(nsfs.OpInsert, path, nsfs.KindSessionUnreachable, err)
	case controlchan.ErrUnresponsive:
		return nsfs.New(nsfs.OpInsert, path, nsfs.KindSessionUnresponsive, err)
	default:
		return err
	}
}

func replyToErr(reply controlchan.Reply) error {
	if reply.Kind != controlchan.ReplyError {
		return nil
	}
	return fmt.Errorf("%s: %s", reply.ErrorKind, reply.ErrorMessage)
}
