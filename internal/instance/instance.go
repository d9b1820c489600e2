// Package instance implements the per-program-instance state machine
// (C3 InstanceFSM, §4.3): STARTING -> RUNNING -> BACKOFF -> FATAL, with
// the STOPPING/STOPPED/EXITED side of the lattice. The type here only
// carries state and enforces the bookkeeping invariants (§3 I1-I5); the
// actual spawning, reaping, and timer scheduling live in the engine,
// which is the only caller that mutates an Instance.
package instance

import (
	"fmt"
	"os"
	"time"
)

// State is one node of the FSM described in §4.3.
type State int

const (
	Stopped State = iota
	Starting
	Running
	Backoff
	Fatal
	Stopping
	Exited
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "STOPPED"
	case Starting:
		return "STARTING"
	case Running:
		return "RUNNING"
	case Backoff:
		return "BACKOFF"
	case Fatal:
		return "FATAL"
	case Stopping:
		return "STOPPING"
	case Exited:
		return "EXITED"
	default:
		return "UNKNOWN"
	}
}

// Instance is one spawned process within a ProgramGroup (§3).
type Instance struct {
	IndexedName string
	Program     string

	State State
	PID   int

	// SpawnedAt is when the current run was exec'd; used to compute
	// uptime and to decide the starttime deadline.
	SpawnedAt time.Time

	// SpawnDeadline is SpawnedAt + starttime; the engine arms a timer
	// for it and only transitions STARTING->RUNNING once it elapses
	// with the process still alive (§4.3 starttime check).
	SpawnDeadline time.Time

	// StopDeadline is armed when entering STOPPING; if it fires before
	// the child is reaped, the engine escalates to SIGKILL (§4.6).
	StopDeadline time.Time

	RetryCount   int
	LastExitCode int

	// BackoffUntil is when a BACKOFF instance may attempt its next
	// spawn (§4.3: BACKOFF waits 1s between attempts).
	BackoffUntil time.Time

	// Escalated marks that the Stopper already sent SIGKILL for the
	// current STOPPING episode, so the timer doesn't re-send it every
	// tick while waiting for the reap (§4.6).
	Escalated bool

	// RestartPending/RestartAt implement `restart`'s "stop then start
	// after 1s" contract (§4.8): set when a restart is requested, and
	// resolved once the instance reaches a stopped state.
	RestartPending bool
	RestartAt      time.Time

	// PTY is the master side of the child's pseudo-terminal, non-nil
	// only while the process is alive and was spawned with a pty
	// (§3 I5). Reading/writing it belongs to the Spawner/AttachMux, not
	// this package.
	PTY *os.File

	// Attached is true while a control client owns an attach session
	// against this instance (§4.9, P6).
	Attached bool

	// PendingReload marks an instance whose group is being torn down
	// and rebuilt by a reload (§4.7). The engine sets it when the swap
	// begins; the reload's signal choice does not depend on it.
	PendingReload bool
}

// New creates an instance in the initial STOPPED state (§4.3).
func New(program, indexedName string) *Instance {
	return &Instance{
		Program:     program,
		IndexedName: indexedName,
		State:       Stopped,
	}
}

// Uptime returns how long the instance has been running since its
// current spawn, or zero if it never started one.
func (i *Instance) Uptime() time.Duration {
	if i.SpawnedAt.IsZero() {
		return 0
	}
	return time.Since(i.SpawnedAt)
}

// MarkSpawned records a fresh exec and resets the per-run fields. It
// does not itself change State -- the caller (engine) sets Starting.
func (i *Instance) MarkSpawned(pid int, pty *os.File, starttime time.Duration) {
	i.PID = pid
	i.PTY = pty
	i.SpawnedAt = time.Now()
	i.SpawnDeadline = i.SpawnedAt.Add(starttime)
	i.LastExitCode = 0
}

// MarkExited clears the pid/pty fields per invariant I2 (STOPPED/FATAL/
// EXITED implies pid==0 and master_fd==nil) and records the exit code.
func (i *Instance) MarkExited(exitCode int) {
	i.PID = 0
	i.closePTY()
	i.LastExitCode = exitCode
	i.Attached = false
}

func (i *Instance) closePTY() {
	if i.PTY != nil {
		i.PTY.Close()
		i.PTY = nil
	}
}

// ResetRetries resets the BACKOFF counter; called on entering RUNNING
// (§4.3 I3: "it resets to 0 on entering RUNNING").
func (i *Instance) ResetRetries() {
	i.RetryCount = 0
}

// String renders a one-line status entry as used by the `status`
// control command (§4.4): "name: STATE (pid P, uptime Ns)", or
// "name: STATE" for instances with no pid.
func (i *Instance) String() string {
	if i.PID == 0 {
		return fmt.Sprintf("%s: %s", i.IndexedName, i.State)
	}
	return fmt.Sprintf("%s: %s (pid %d, uptime %ds)", i.IndexedName, i.State, i.PID, int(i.Uptime().Seconds()))
}
