// Package session implements the session process: the long-lived
// background process that owns one FUSE mount, one path table, and one
// control-channel reader loop. Grounded on VMapFS's cmd/vmapfs/main.go
// (mount/signal/waitgroup shape, generalized from top-level main logic
// into a reusable runtime) and on original_source/src/modules/session.rs's
// command-loop/message-handler shape (Bind/Unbind/Stat/Shutdown dispatch,
// re-persisting the record after each mutation), reimplemented as a Go
// select loop instead of a background thread with channels.
package session

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bindns/internal/controlchan"
	"bindns/internal/logging"
	"bindns/internal/nsfs"
	"bindns/internal/registry"

	"github.com/google/uuid"
)

var procLogger = logging.GetLogger().WithPrefix("session")

// gracePeriod is how long a non-forced Shutdown waits before unmounting,
// per spec §4.3. The full period is always waited, whether or not kernel
// callbacks are still in flight.
const gracePeriod = 5 * time.Second

// Process is one running session: its registry handle, its live path
// table/resolver/driver, and its on-disk record.
type Process struct {
	reg      *registry.Registry
	record   registry.SessionRecord
	table    *nsfs.PathTable
	resolver *nsfs.Resolver
	driver   *nsfs.Driver

	cmdCh chan commandRequest
}

// commandRequest pairs a decoded Command with a reply sink. For commands
// that arrived over the control FIFO, reply writes a frame back to a real
// peer; for the Shutdown synthesized by the signal-handling goroutine,
// reply is a no-op since no CLI invocation is waiting on it.
type commandRequest struct {
	cmd   controlchan.Command
	reply func(controlchan.Reply)
}

// Run executes the full session-process lifecycle described in spec
// §4.3: acquire an id, create FIFOs, mount, enter the command loop, and
// block until a Shutdown drains the session. It returns when the process
// should exit; callers (the cmd/bindns `__session` entry point) should
// treat a non-nil error as a fatal startup failure.
func Run(registryRoot, binaryName, mountPoint, rootSource string) error {
	reg, err := registry.New(registryRoot, binaryName)
	if err != nil {
		return fmt.Errorf("opening registry: %w", err)
	}

	sessionID := uuid.NewString()
	procLogger.Info("starting session %s for mount %s", sessionID, mountPoint)

	controlPath := controlFIFOPath(registryRoot, sessionID)
	replyPath := replyFIFOPath(registryRoot, sessionID)

	record := registry.SessionRecord{
		SessionID:       sessionID,
		OwnerPID:        os.Getpid(),
		MountPoint:      mountPoint,
		RootSource:      rootSource,
		CreatedAt:       time.Now(),
		ControlFIFOPath: controlPath,
		ReplyFIFOPath:   replyPath,
		State:           registry.Starting,
	}
	if err := reg.Write(record); err != nil {
		return fmt.Errorf("writing starting record: %w", err)
	}

	if err := controlchan.CreateFIFOs(controlPath, replyPath); err != nil {
		reg.Remove(sessionID)
		return nsfs.New(nsfs.OpGetattr, mountPoint, nsfs.KindMountFailed, err)
	}

	table := nsfs.NewPathTable()
	resolver := nsfs.NewResolver(table, mountPoint)
	if err := resolver.Insert(mountPoint, rootSource, nsfs.Replace); err != nil {
		controlchan.RemoveFIFOs(controlPath, replyPath)
		reg.Remove(sessionID)
		return err
	}

	driver := nsfs.NewDriver(resolver, mountPoint)
	if err := driver.Mount(); err != nil {
		controlchan.RemoveFIFOs(controlPath, replyPath)
		reg.Remove(sessionID)
		return err
	}

	record.State = registry.Running
	record.Bindings = snapshotBindings(table)
	if err := reg.Write(record); err != nil {
		procLogger.Warn("failed to persist running state: %v", err)
	}

	p := &Process{
		reg:      reg,
		record:   record,
		table:    table,
		resolver: resolver,
		driver:   driver,
		cmdCh:    make(chan commandRequest, 1),
	}

	go p.readCommandLoop(controlPath, replyPath)
	go p.signalLoop()

	p.runDispatchLoop()
	return nil
}

func controlFIFOPath(root, sessionID string) string {
	return root + "/" + sessionID + ".control"
}

func replyFIFOPath(root, sessionID string) string {
	return root + "/" + sessionID + ".reply"
}

// readCommandLoop owns the control FIFO's single reader, per spec §4.3/
// §5 ("the session is single-reader on its control FIFO"). Each decoded
// command is forwarded to the dispatch loop paired with a reply closure
// that opens the reply FIFO and writes the response frame.
func (p *Process) readCommandLoop(controlPath, replyPath string) {
	for {
		control, err := controlchan.OpenControlForReading(controlPath)
		if err != nil {
			procLogger.Error("control fifo unreadable, session exiting: %v", err)
			return
		}

		for {
			cmd, err := controlchan.ReadCommand(control)
			if err != nil {
				// Writer closed its end (EOF) — wait for the next opener.
				break
			}
			p.cmdCh <- commandRequest{
				cmd: cmd,
				reply: func(r controlchan.Reply) {
					replyFile, err := controlchan.OpenReplyForWriting(replyPath)
					if err != nil {
						procLogger.Warn("could not open reply fifo: %v", err)
						return
					}
					defer replyFile.Close()
					if err := controlchan.WriteReply(replyFile, r); err != nil {
						procLogger.Warn("could not write reply: %v", err)
					}
				},
			}
		}
		control.Close()
	}
}

// signalLoop implements spec §9's redesign note: SIGTERM/SIGINT post a
// Shutdown command onto the session's own command channel rather than
// mutating state directly from a signal handler, preserving the
// invariant that all path-table mutations are serialized by the
// dispatch loop. A second signal escalates to force=true. SIGHUP is
// never registered, so it falls back to the process's default
// disposition being overridden to ignore below.
func (p *Process) signalLoop() {
	signal.Ignore(syscall.SIGHUP)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	force := false
	for range sigCh {
		procLogger.Info("received shutdown signal (force=%v)", force)
		p.cmdCh <- commandRequest{
			cmd:   controlchan.Command{Kind: controlchan.CommandShutdown, Force: force},
			reply: func(controlchan.Reply) {},
		}
		force = true
	}
}

// runDispatchLoop is the single goroutine that ever mutates p.table or
// p.record, enforcing spec §5's ordering guarantee: within one control
// FIFO, commands apply in arrival order, and a Bind reply is sent only
// after the mutation is visible to subsequent kernel callbacks.
func (p *Process) runDispatchLoop() {
	for req := range p.cmdCh {
		switch req.cmd.Kind {
		case controlchan.CommandBind:
			p.handleBind(req)
		case controlchan.CommandUnbind:
			p.handleUnbind(req)
		case controlchan.CommandStat:
			p.handleStat(req)
		case controlchan.CommandShutdown:
			if p.handleShutdown(req) {
				return
			}
		default:
			req.reply(controlchan.Reply{Kind: controlchan.ReplyError, ErrorKind: "invalid_path", ErrorMessage: "unrecognized command"})
		}
	}
}

func (p *Process) handleBind(req commandRequest) {
	mode, ok := nsfs.ParseBindMode(req.cmd.Mode)
	if !ok {
		req.reply(errorReply(nsfs.New(nsfs.OpInsert, req.cmd.Target, nsfs.KindInvalidPath, fmt.Errorf("unknown bind mode %q", req.cmd.Mode))))
		return
	}

	if err := p.resolver.Insert(req.cmd.Target, req.cmd.Source, mode); err != nil {
		req.reply(errorReply(err))
		return
	}

	p.record.Bindings = snapshotBindings(p.table)
	p.record.History = append(p.record.History, registry.BindEvent{
		Source: req.cmd.Source, Target: req.cmd.Target, Mode: mode.String(), At: time.Now(),
	})
	if err := p.reg.Write(p.record); err != nil {
		procLogger.Warn("failed to persist record after bind: %v", err)
	}

	// The mutation above happens-before this reply: PathTable.Insert has
	// already returned, so any kernel callback dispatched after this send
	// observes the new state (spec §5).
	req.reply(controlchan.Reply{Kind: controlchan.ReplyOk})
}

func (p *Process) handleUnbind(req commandRequest) {
	if err := p.resolver.Remove(req.cmd.Target, req.cmd.Source); err != nil {
		req.reply(errorReply(err))
		return
	}

	p.record.Bindings = snapshotBindings(p.table)
	p.record.History = append(p.record.History, registry.BindEvent{
		Source: req.cmd.Source, Target: req.cmd.Target, Mode: "unbind", At: time.Now(),
	})
	if err := p.reg.Write(p.record); err != nil {
		procLogger.Warn("failed to persist record after unbind: %v", err)
	}
	req.reply(controlchan.Reply{Kind: controlchan.ReplyOk})
}

func (p *Process) handleStat(req commandRequest) {
	bindings := make([]controlchan.BindingSnapshot, len(p.record.Bindings))
	for i, b := range p.record.Bindings {
		bindings[i] = controlchan.BindingSnapshot{VirtualPath: b.VirtualPath, BackingDir: b.BackingDir, Mode: b.Mode, Order: b.Order}
	}
	history := make([]controlchan.BindEvent, len(p.record.History))
	for i, h := range p.record.History {
		history[i] = controlchan.BindEvent{Source: h.Source, Target: h.Target, Mode: h.Mode, At: h.At}
	}
	req.reply(controlchan.Reply{
		Kind: controlchan.ReplySession,
		SessionInfo: &controlchan.SessionInfo{
			SessionID:  p.record.SessionID,
			OwnerPID:   p.record.OwnerPID,
			MountPoint: p.record.MountPoint,
			RootSource: p.record.RootSource,
			State:      string(p.record.State),
			Bindings:   bindings,
			History:    history,
		},
	})
}

// handleShutdown implements spec §8 invariant 8: a graceful (force=false)
// shutdown that hits an EBUSY unmount reports Busy and leaves the session
// Running rather than exiting, so a subsequent forced shutdown (or a
// second command) can still reach it. Only a successful unmount tears the
// session down and returns true to runDispatchLoop, ending the process.
func (p *Process) handleShutdown(req commandRequest) bool {
	procLogger.Info("draining session %s (force=%v)", p.record.SessionID, req.cmd.Force)
	p.record.State = registry.Draining
	p.reg.Write(p.record)

	if !req.cmd.Force {
		time.Sleep(gracePeriod)
	}

	if err := p.driver.Unmount(req.cmd.Force); err != nil {
		procLogger.Warn("unmount reported error during shutdown: %v", err)
		p.record.State = registry.Running
		p.reg.Write(p.record)
		req.reply(errorReply(nsfs.New(nsfs.OpRemove, p.record.MountPoint, nsfs.KindBusy, err)))
		return false
	}

	controlchan.RemoveFIFOs(p.record.ControlFIFOPath, p.record.ReplyFIFOPath)
	if err := p.reg.Remove(p.record.SessionID); err != nil {
		procLogger.Warn("failed to remove session record during shutdown: %v", err)
	}

	req.reply(controlchan.Reply{Kind: controlchan.ReplyOk})
	procLogger.Info("session %s terminated", p.record.SessionID)
	return true
}

func errorReply(err error) controlchan.Reply {
	var nsErr *nsfs.Error
	kind := "unknown"
	msg := err.Error()
	if e, ok := err.(*nsfs.Error); ok {
		nsErr = e
		kind = nsErr.Kind.String()
	}
	return controlchan.Reply{Kind: controlchan.ReplyError, ErrorKind: kind, ErrorMessage: msg}
}

func snapshotBindings(table *nsfs.PathTable) []registry.BindingSnapshot {
	var out []registry.BindingSnapshot
	for _, vp := range table.Keys() {
		entries, ok := table.Snapshot(vp)
		if !ok {
			continue
		}
		for _, e := range entries {
			out = append(out, registry.BindingSnapshot{
				VirtualPath: vp, BackingDir: e.BackingDir, Mode: e.Mode.String(), Order: e.Order,
			})
		}
	}
	return out
}
