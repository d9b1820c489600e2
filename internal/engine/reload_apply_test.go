package engine

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskmasterd/internal/config"
	"taskmasterd/internal/instance"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestHandleReloadAddsNewProgram(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "web:\n  cmd: \"/bin/sleep 5\"\n  autostart: false\n")
	e := New(config.Table{}, path, testLogger(), &fakeSink{})

	resp := e.handleReload("")
	require.NoError(t, resp.Err)

	g, ok := e.groups["web"]
	require.True(t, ok)
	assert.Len(t, g.Instances, 1)
}

func TestHandleReloadRemovesVanishedProgram(t *testing.T) {
	dir := t.TempDir()
	spec := sleepSpec("web", 0)
	e, _ := newTestEngine(t, spec)
	e.configPath = writeConfig(t, dir, "\n")

	resp := e.handleReload("")
	require.NoError(t, resp.Err)

	require.Contains(t, e.pendingReloads, "web")
	pr := e.pendingReloads["web"]
	assert.Nil(t, pr.newSpec)

	// With no instance ever started, the group's lone instance is
	// already terminal, so the next reconcile pass finalizes removal.
	e.reconcileTimers()
	_, stillPending := e.pendingReloads["web"]
	assert.False(t, stillPending)
	_, stillRegistered := e.groups["web"]
	assert.False(t, stillRegistered)
}

func TestHandleReloadNumProcsOnlyResizesWithoutSwap(t *testing.T) {
	dir := t.TempDir()
	spec := sleepSpec("web", 1)
	spec.NumProcs = 1
	e, _ := newTestEngine(t, spec)
	e.configPath = writeConfig(t, dir, "web:\n  cmd: \"/bin/sleep 30\"\n  numprocs: 3\n  starttime: 1\n")

	resp := e.handleReload("")
	require.NoError(t, resp.Err)

	g := e.groups["web"]
	require.Len(t, g.Instances, 3)

	// Crossing the 1-instance naming boundary renames the surviving
	// instance from "web" to "web_00" in place; the engine's lookup
	// map must track the rename, not just the added/removed instances.
	_, staleKey := e.instances["web"]
	assert.False(t, staleKey)
	for _, inst := range g.Instances {
		assert.Same(t, inst, e.instances[inst.IndexedName])
	}
}

func TestHandleReloadChangedCmdSwapsGroup(t *testing.T) {
	dir := t.TempDir()
	spec := sleepSpec("web", 0)
	e, _ := newTestEngine(t, spec)
	inst := e.instances["web"]
	e.startInstance(inst, spec)
	defer func() {
		if inst.PID != 0 {
			syscall.Kill(inst.PID, syscall.SIGKILL)
		}
	}()

	e.configPath = writeConfig(t, dir, "web:\n  cmd: \"/bin/sleep 6\"\n  starttime: 0\n")
	resp := e.handleReload("")
	require.NoError(t, resp.Err)

	require.Contains(t, e.pendingReloads, "web")
	assert.Equal(t, instance.Stopping, inst.State)

	// Let the SIGTERM land and the child get reaped, then finalize.
	require.Eventually(t, func() bool {
		e.reapAndHandle()
		e.reconcileTimers()
		_, pending := e.pendingReloads["web"]
		return !pending
	}, 3*time.Second, 20*time.Millisecond)

	newGroup, ok := e.groups["web"]
	require.True(t, ok)
	assert.Equal(t, "/bin/sleep 6", newGroup.Spec.Cmd)
}
