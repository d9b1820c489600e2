package reaper

import (
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDrainReapsExitedChild spawns a real child and lets it become a
// zombie (nobody calls cmd.Wait) so Drain's own Wait4 loop is what
// reaps it, matching how the engine relies on Drain rather than
// exec.Cmd.Wait.
func TestDrainReapsExitedChild(t *testing.T) {
	cmd := exec.Command("/bin/true")
	require.NoError(t, cmd.Start())
	pid := cmd.Process.Pid

	require.Eventually(t, func() bool {
		exits := Drain()
		for _, ex := range exits {
			if ex.PID == pid {
				assert.Equal(t, 0, ex.ExitCode)
				assert.False(t, ex.Signaled)
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond, "expected Drain to reap the exited child")
}

func TestDrainReturnsEmptyWhenNothingExited(t *testing.T) {
	// Drain over a quiescent process tree should simply return nothing,
	// not block or error.
	exits := Drain()
	assert.Empty(t, exits)
}
