package engine

import (
	"fmt"
	"strings"

	"taskmasterd/internal/config"
	"taskmasterd/internal/group"
	"taskmasterd/internal/instance"
	"taskmasterd/internal/reload"
	"taskmasterd/internal/signalname"
)

// handleReload re-reads the config file and diff-applies it (§4.7). The
// diff decision is computed synchronously; programs that must stop
// first (Changed/Removed) are swapped in once their old instances fully
// stop, tracked via pendingReloads and finalized from reconcileTimers -
// the loop never blocks waiting for a stop to complete.
func (e *Engine) handleReload(arg string) *Response {
	newTable, err := config.Load(e.configPath)
	if err != nil {
		return &Response{Err: fmt.Errorf("failed to reload configuration: %w", err)}
	}

	oldTable := e.currentTable()

	var plan reload.Plan
	if arg != "" && !strings.EqualFold(arg, "all") {
		if _, ok := newTable[arg]; !ok {
			if _, existed := oldTable[arg]; !existed {
				return &Response{Err: fmt.Errorf("program %q not found in new configuration", arg)}
			}
		}
		plan = reload.Single(oldTable, newTable, arg)
	} else {
		plan = reload.Diff(oldTable, newTable)
	}

	var lines []string
	for name, action := range plan.Actions {
		switch action {
		case reload.Unchanged:
			lines = append(lines, fmt.Sprintf("%s: no changes detected", name))
		case reload.Added:
			e.applyAdded(name, newTable[name])
			if newTable[name].AutoStart {
				lines = append(lines, fmt.Sprintf("%s: added and started", name))
			} else {
				lines = append(lines, fmt.Sprintf("%s: added", name))
			}
		case reload.Changed:
			e.applyChanged(name, newTable[name])
			lines = append(lines, fmt.Sprintf("%s: changes detected, reloading", name))
		case reload.Removed:
			e.applyRemoved(name)
			lines = append(lines, fmt.Sprintf("%s: removed", name))
		}
	}
	lines = append(lines, "reload completed")
	return &Response{Lines: lines}
}

func (e *Engine) currentTable() config.Table {
	table := make(config.Table, len(e.groups))
	for name, g := range e.groups {
		table[name] = g.Spec
	}
	return table
}

func (e *Engine) applyAdded(name string, spec *config.ProgramSpec) {
	g := e.registerNewGroup(name, spec)
	if spec.AutoStart {
		e.startGroup(g)
	}
}

func (e *Engine) applyChanged(name string, newSpec *config.ProgramSpec) {
	g, ok := e.groups[name]
	if !ok {
		e.applyAdded(name, newSpec)
		return
	}

	// A numprocs-only change is handled as the lighter fan-in/fan-out
	// resize of §4.4, not a full stop/swap: untouched instances keep
	// running. Anything else falls back to §4.7's full tear-down.
	if g.Spec.NumProcs != newSpec.NumProcs && specEqualExceptNumProcs(g.Spec, newSpec) {
		e.resizeGroup(g, newSpec)
		return
	}

	e.beginSwap(name, g, newSpec)
}

func specEqualExceptNumProcs(a, b *config.ProgramSpec) bool {
	bCopy := *b
	bCopy.NumProcs = a.NumProcs
	return config.Equal(a, &bCopy)
}

// resizeGroup implements §4.4's numprocs resize: surplus instances are
// stopped (and, once reaped, simply fall out of scope - the group keeps
// its identity so their exits still resolve against it); new instances
// are created STOPPED and autostarted only if the program was already
// running.
func (e *Engine) resizeGroup(g *group.Group, newSpec *config.ProgramSpec) {
	wasRunning := false
	for _, inst := range g.Instances {
		if inst.State == instance.Running || inst.State == instance.Starting {
			wasRunning = true
			break
		}
	}

	// Resize can rename surviving instances in place when numprocs
	// crosses the 1-instance boundary (§3 naming rule), so the engine's
	// indexed_name -> Instance map can't be patched incrementally by
	// added/removed alone - capture every pre-resize key and rebuild
	// the map from the post-resize names, or a renamed survivor becomes
	// unreachable under its new name while a stale entry lingers under
	// its old one.
	oldNames := make([]string, len(g.Instances))
	for i, inst := range g.Instances {
		oldNames[i] = inst.IndexedName
	}

	g.Spec = newSpec
	added, removed := g.Resize()

	for _, name := range oldNames {
		delete(e.instances, name)
	}

	sig := signalname.Resolve(newSpec.StopSignal)
	for _, inst := range removed {
		if inst.State == instance.Running || inst.State == instance.Starting {
			e.stopInstanceSignal(inst, sig, newSpec.StopTime)
		}
	}

	for _, inst := range g.Instances {
		e.instances[inst.IndexedName] = inst
	}

	if wasRunning {
		for _, inst := range added {
			e.startInstance(inst, newSpec)
		}
	}
}

func (e *Engine) applyRemoved(name string) {
	g, ok := e.groups[name]
	if !ok {
		return
	}
	e.beginSwap(name, g, nil)
}

// beginSwap stops a group's current instances with reloadsignal and
// records a pendingReload so reconcileTimers can finish the swap (or
// removal) once they're all stopped (§4.7).
func (e *Engine) beginSwap(name string, g *group.Group, newSpec *config.ProgramSpec) {
	wasRunning := false
	sig := signalname.Resolve(g.Spec.ReloadSignal)
	for _, inst := range g.Instances {
		if inst.State == instance.Running || inst.State == instance.Starting {
			wasRunning = true
			e.stopInstanceSignal(inst, sig, g.Spec.StopTime)
		}
	}

	delete(e.groups, name)
	for _, inst := range g.Instances {
		inst.PendingReload = true
	}

	e.pendingReloads[name] = &pendingReload{
		newSpec:      newSpec,
		wasRunning:   wasRunning,
		oldInstances: g.Instances,
	}
}

func (e *Engine) reconcilePendingReloads() {
	for name, pr := range e.pendingReloads {
		if !allTerminal(pr.oldInstances) {
			continue
		}

		for _, inst := range pr.oldInstances {
			delete(e.instances, inst.IndexedName)
			delete(e.pids, inst.PID)
		}
		delete(e.pendingReloads, name)

		if pr.newSpec == nil {
			continue
		}

		g := e.registerNewGroup(name, pr.newSpec)
		if pr.wasRunning || pr.newSpec.AutoStart {
			e.startGroup(g)
		}
	}
}

func allTerminal(instances []*instance.Instance) bool {
	for _, inst := range instances {
		switch inst.State {
		case instance.Stopped, instance.Exited, instance.Fatal:
		default:
			return false
		}
		if inst.PID != 0 {
			return false
		}
	}
	return true
}

func (e *Engine) startGroup(g *group.Group) {
	for _, inst := range g.Instances {
		e.startInstance(inst, g.Spec)
	}
}
