package engine

import (
	"fmt"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"taskmasterd/internal/alert"
	"taskmasterd/internal/config"
	"taskmasterd/internal/group"
	"taskmasterd/internal/instance"
	"taskmasterd/internal/signalname"
	"taskmasterd/internal/spawner"
)

// target pairs an instance with the group (and thus spec) it belongs
// to, so group-level verbs can fan out per §4.4.
type target struct {
	group *group.Group
	inst  *instance.Instance
}

// resolveTargets implements the `<name>|all|<indexed>` argument grammar
// used by start/stop/restart (§4.8). The `all` keyword is accepted in
// any case, matching the original implementation's case-insensitive
// check (see SPEC_FULL.md "SUPPLEMENTED FEATURES").
func (e *Engine) resolveTargets(arg string) ([]target, error) {
	if arg == "" || strings.EqualFold(arg, "all") {
		var out []target
		for _, g := range e.groups {
			for _, inst := range g.Instances {
				out = append(out, target{g, inst})
			}
		}
		return out, nil
	}

	if g, ok := e.groups[arg]; ok {
		out := make([]target, 0, len(g.Instances))
		for _, inst := range g.Instances {
			out = append(out, target{g, inst})
		}
		return out, nil
	}

	if inst, ok := e.instances[arg]; ok {
		if g, ok := e.groups[inst.Program]; ok {
			return []target{{g, inst}}, nil
		}
	}

	return nil, fmt.Errorf("%s: not found", arg)
}

func (e *Engine) handleStart(arg string) *Response {
	targets, err := e.resolveTargets(arg)
	if err != nil {
		return &Response{Err: err}
	}
	lines := make([]string, 0, len(targets))
	for _, t := range targets {
		e.startInstance(t.inst, t.group.Spec)
		lines = append(lines, fmt.Sprintf("%s: started", t.inst.IndexedName))
	}
	return &Response{Lines: lines}
}

func (e *Engine) handleStop(arg string) *Response {
	targets, err := e.resolveTargets(arg)
	if err != nil {
		return &Response{Err: err}
	}
	lines := make([]string, 0, len(targets))
	for _, t := range targets {
		sig := signalname.Resolve(t.group.Spec.StopSignal)
		e.stopInstanceSignal(t.inst, sig, t.group.Spec.StopTime)
		lines = append(lines, fmt.Sprintf("%s: stopping", t.inst.IndexedName))
	}
	return &Response{Lines: lines}
}

func (e *Engine) handleRestart(arg string) *Response {
	targets, err := e.resolveTargets(arg)
	if err != nil {
		return &Response{Err: err}
	}
	lines := make([]string, 0, len(targets))
	for _, t := range targets {
		e.restartInstance(t.inst, t.group.Spec)
		lines = append(lines, fmt.Sprintf("%s: restarting", t.inst.IndexedName))
	}
	return &Response{Lines: lines}
}

// startInstance spawns one instance (§4.1-§4.3). A starttime of zero is
// trivially satisfied - the instance goes straight to RUNNING, per the
// Open Question resolution recorded in DESIGN.md.
func (e *Engine) startInstance(inst *instance.Instance, spec *config.ProgramSpec) {
	if inst.State == instance.Running || inst.State == instance.Starting || inst.State == instance.Stopping {
		return
	}

	res, err := spawner.Spawn(spec, inst.IndexedName, spec.AllowAttach)
	if err != nil {
		e.log.WithField("instance", inst.IndexedName).WithError(err).Warn("spawn failed")
		e.recordFailedStart(inst, spec)
		return
	}

	starttime := time.Duration(spec.StartTime) * time.Second
	inst.MarkSpawned(res.PID, res.PTY, starttime)
	e.pids[res.PID] = inst

	if spec.StartTime == 0 {
		inst.State = instance.Running
		inst.ResetRetries()
		e.log.WithFields(logFields(inst)).Info("process running (starttime=0)")
		return
	}

	inst.State = instance.Starting
	e.log.WithFields(logFields(inst)).Info("process starting")
}

// recordFailedStart applies §4.3's retry accounting: retry_count
// increments on every failed start; the instance goes FATAL once more
// than startretries attempts have failed (§8 P2: attempts <=
// startretries+1 - see DESIGN.md for why this reads ">" rather than the
// raw FSM-table "<" wording).
func (e *Engine) recordFailedStart(inst *instance.Instance, spec *config.ProgramSpec) {
	inst.RetryCount++
	if inst.RetryCount <= spec.StartRetries {
		inst.State = instance.Backoff
		inst.BackoffUntil = time.Now().Add(time.Second)
		return
	}
	inst.State = instance.Fatal
	e.alertSink.Alert(alert.Event{
		Kind:        "PROCESS_FATAL",
		Program:     inst.Program,
		IndexedName: inst.IndexedName,
		Severity:    alert.SeverityCritical,
		Message:     fmt.Sprintf("%s gave up after %d failed starts", inst.IndexedName, inst.RetryCount),
	})
}

func (e *Engine) stopInstanceSignal(inst *instance.Instance, sig syscall.Signal, stopTimeSec int) {
	if inst.State != instance.Running && inst.State != instance.Starting {
		return
	}
	if inst.PID != 0 {
		unix.Kill(inst.PID, sig)
	}
	inst.State = instance.Stopping
	inst.StopDeadline = time.Now().Add(time.Duration(stopTimeSec) * time.Second)
	inst.Escalated = false
}

func (e *Engine) restartInstance(inst *instance.Instance, spec *config.ProgramSpec) {
	inst.RestartPending = true
	switch inst.State {
	case instance.Running, instance.Starting:
		sig := signalname.Resolve(spec.StopSignal)
		e.stopInstanceSignal(inst, sig, spec.StopTime)
	default:
		inst.RestartAt = time.Now().Add(time.Second)
	}
}

func logFields(inst *instance.Instance) map[string]interface{} {
	return map[string]interface{}{"instance": inst.IndexedName, "pid": inst.PID}
}
