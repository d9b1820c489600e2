// Package reaper drains exited children with a non-blocking wait-any
// loop (C2 Reaper, §4.2). SIGCHLD can be coalesced by the kernel - if
// several children die close together the process may only get one
// signal - so every drain loops until Wait4 reports nothing left to
// reap, exactly like the teacher's reapZombies.
package reaper

import "golang.org/x/sys/unix"

// Exit is one drained child exit.
type Exit struct {
	PID      int
	ExitCode int
	Signaled bool
}

// Drain performs non-blocking wait4(-1, WNOHANG) calls until no more
// exited children remain, returning one Exit per reaped pid. It is safe
// to call on every engine tick and immediately on SIGCHLD delivery.
func Drain() []Exit {
	var exits []Exit
	for {
		var status unix.WaitStatus
		pid, err := unix.Wait4(-1, &status, unix.WNOHANG, nil)
		if pid <= 0 || err != nil {
			break
		}

		ex := Exit{PID: pid}
		switch {
		case status.Exited():
			ex.ExitCode = status.ExitStatus()
		case status.Signaled():
			ex.Signaled = true
			ex.ExitCode = 128 + int(status.Signal())
		default:
			// Stopped/continued notifications aren't exits; nothing to
			// report, but keep draining in case a real exit follows.
			continue
		}
		exits = append(exits, ex)
	}
	return exits
}
