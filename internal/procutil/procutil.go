// Package procutil provides the liveness check the engine needs to
// uphold invariant I1 (a RUNNING instance's pid must refer to a real OS
// process). Adapted from the teacher's /proc introspection: where the
// teacher walked /proc/[pid]/status, fd/, and maps to build an operator
// dashboard, the supervision engine only needs the existence check, so
// this keeps just that slice of /proc/[pid] reading.
package procutil

import (
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// Alive reports whether a process with the given pid currently exists.
// It uses kill(pid, 0), which delivers no signal but still performs the
// permission/existence check - the same approach the teacher's
// gracefulShutdown loop used to poll for process death.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	return err != unix.ESRCH && statExists(pid)
}

// statExists double-checks via /proc on Linux so a transient EPERM from
// kill(2) (signaling a process owned by another user) isn't mistaken for
// "gone". If /proc is unavailable (non-Linux), the stat fails and Alive
// reports false for any kill error other than success.
func statExists(pid int) bool {
	_, err := os.Stat(procPath(pid))
	return err == nil
}

func procPath(pid int) string {
	return "/proc/" + strconv.Itoa(pid)
}
