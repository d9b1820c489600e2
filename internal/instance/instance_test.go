package instance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewIsStopped(t *testing.T) {
	inst := New("web", "web")
	assert.Equal(t, Stopped, inst.State)
	assert.Equal(t, 0, inst.PID)
}

func TestMarkSpawnedSetsDeadlineAndClearsExitCode(t *testing.T) {
	inst := New("web", "web")
	inst.LastExitCode = 7

	before := time.Now()
	inst.MarkSpawned(1234, nil, 5*time.Second)

	assert.Equal(t, 1234, inst.PID)
	assert.Equal(t, 0, inst.LastExitCode)
	assert.True(t, !inst.SpawnedAt.Before(before))
	assert.WithinDuration(t, inst.SpawnedAt.Add(5*time.Second), inst.SpawnDeadline, time.Millisecond)
}

// TestMarkExitedClearsPidAndPty upholds invariant I2: STOPPED/FATAL/
// EXITED implies pid==0 and no pty.
func TestMarkExitedClearsPidAndPty(t *testing.T) {
	inst := New("web", "web")
	inst.MarkSpawned(999, nil, time.Second)
	inst.Attached = true

	inst.MarkExited(2)

	assert.Equal(t, 0, inst.PID)
	assert.Nil(t, inst.PTY)
	assert.Equal(t, 2, inst.LastExitCode)
	assert.False(t, inst.Attached)
}

func TestResetRetriesZeroesCounter(t *testing.T) {
	inst := New("web", "web")
	inst.RetryCount = 3
	inst.ResetRetries()
	assert.Equal(t, 0, inst.RetryCount)
}

func TestUptimeZeroBeforeSpawn(t *testing.T) {
	inst := New("web", "web")
	assert.Equal(t, time.Duration(0), inst.Uptime())
}

func TestUptimeAfterSpawn(t *testing.T) {
	inst := New("web", "web")
	inst.SpawnedAt = time.Now().Add(-3 * time.Second)
	assert.GreaterOrEqual(t, inst.Uptime(), 3*time.Second)
}

func TestStringWithAndWithoutPID(t *testing.T) {
	inst := New("web", "web")
	assert.Contains(t, inst.String(), "STOPPED")
	assert.NotContains(t, inst.String(), "pid")

	inst.MarkSpawned(42, nil, time.Second)
	inst.State = Running
	assert.Contains(t, inst.String(), "pid 42")
}

func TestStateStringValues(t *testing.T) {
	cases := map[State]string{
		Stopped:  "STOPPED",
		Starting: "STARTING",
		Running:  "RUNNING",
		Backoff:  "BACKOFF",
		Fatal:    "FATAL",
		Stopping: "STOPPING",
		Exited:   "EXITED",
	}
	for state, want := range cases {
		assert.Equal(t, want, state.String())
	}
}
