package engine

import (
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"taskmasterd/internal/alert"
	"taskmasterd/internal/config"
	"taskmasterd/internal/instance"
	"taskmasterd/internal/procutil"
	"taskmasterd/internal/reaper"
)

// reapAndHandle drains exited children and classifies each exit against
// the instance's current state (§4.2, §4.3).
func (e *Engine) reapAndHandle() {
	for _, exit := range reaper.Drain() {
		inst, ok := e.pids[exit.PID]
		if !ok {
			e.log.WithField("pid", exit.PID).Warn("reaped unknown pid")
			continue
		}
		delete(e.pids, exit.PID)
		e.handleExit(inst, exit)
	}
}

func (e *Engine) specFor(inst *instance.Instance) *config.ProgramSpec {
	if g, ok := e.groups[inst.Program]; ok {
		return g.Spec
	}
	return nil
}

func (e *Engine) handleExit(inst *instance.Instance, exit reaper.Exit) {
	spec := e.specFor(inst)

	switch inst.State {
	case instance.Starting:
		inst.MarkExited(exit.ExitCode)
		e.log.WithFields(logFields(inst)).WithField("exit_code", exit.ExitCode).Warn("process died before starttime elapsed")
		if spec != nil {
			e.recordFailedStart(inst, spec)
		} else {
			inst.State = instance.Fatal
		}

	case instance.Running:
		expected := spec != nil && contains(spec.ExitCodes, exit.ExitCode)
		inst.MarkExited(exit.ExitCode)
		e.handleRunningExit(inst, spec, expected)

	case instance.Stopping:
		inst.State = instance.Stopped
		inst.MarkExited(exit.ExitCode)
		e.log.WithFields(logFields(inst)).Info("process stopped")

	default:
		inst.MarkExited(exit.ExitCode)
	}
}

// handleRunningExit applies §4.3's RUNNING exit transitions. A nil spec
// means the instance's group vanished mid-reload; treat it as no
// restart since nothing is left to restart it with.
func (e *Engine) handleRunningExit(inst *instance.Instance, spec *config.ProgramSpec, expected bool) {
	if !expected {
		e.alertSink.Alert(alert.Event{
			Kind:        "PROCESS_DIED",
			Program:     inst.Program,
			IndexedName: inst.IndexedName,
			Severity:    alert.SeverityError,
			Message:     "process exited unexpectedly with code " + strconv.Itoa(inst.LastExitCode),
		})
	}

	if spec == nil {
		inst.State = instance.Exited
		return
	}

	restart := false
	switch spec.AutoRestart {
	case config.RestartAlways:
		restart = true
	case config.RestartUnexpected:
		restart = !expected
	case config.RestartNever:
		restart = false
	}

	if restart {
		e.startInstance(inst, spec)
		return
	}
	inst.State = instance.Exited
}

func contains(codes []int, code int) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}

func (e *Engine) reconcileTimers() {
	now := time.Now()

	for _, inst := range e.instances {
		spec := e.specFor(inst)
		if spec == nil {
			continue
		}

		switch inst.State {
		case instance.Starting:
			if !now.Before(inst.SpawnDeadline) && procutil.Alive(inst.PID) {
				inst.State = instance.Running
				inst.ResetRetries()
				e.log.WithFields(logFields(inst)).Info("process running")
			}

		case instance.Backoff:
			if !now.Before(inst.BackoffUntil) {
				e.startInstance(inst, spec)
			}

		case instance.Stopping:
			if !inst.Escalated && inst.PID != 0 && !now.Before(inst.StopDeadline) {
				unix.Kill(inst.PID, syscall.SIGKILL)
				inst.Escalated = true
				e.log.WithFields(logFields(inst)).Warn("stoptime exceeded, sent SIGKILL")
			}
		}

		if inst.RestartPending {
			e.reconcileRestart(inst, spec, now)
		}
	}

	e.reconcilePendingReloads()
}

// reconcileRestart drives the `restart` verb's "stop then start after
// 1s" contract (§4.8): once the instance reaches a stopped state, a 1s
// timer is armed; when it fires, the instance is started again.
func (e *Engine) reconcileRestart(inst *instance.Instance, spec *config.ProgramSpec, now time.Time) {
	switch inst.State {
	case instance.Stopped, instance.Exited, instance.Fatal:
		if inst.RestartAt.IsZero() {
			inst.RestartAt = now.Add(time.Second)
			return
		}
		if !now.Before(inst.RestartAt) {
			inst.RestartPending = false
			inst.RestartAt = time.Time{}
			e.startInstance(inst, spec)
		}
	}
}
