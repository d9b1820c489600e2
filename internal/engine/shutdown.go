package engine

import (
	"time"

	"taskmasterd/internal/instance"
	"taskmasterd/internal/signalname"
)

// shutdown implements §4.5's SIGINT behaviour: every RUNNING/STARTING
// instance is moved to STOPPING and the loop blocks (reaping and
// reconciling timers itself, since nothing else is driving them anymore)
// until all of them reach a stopped state.
func (e *Engine) shutdown() {
	for _, g := range e.groups {
		sig := signalname.Resolve(g.Spec.StopSignal)
		for _, inst := range g.Instances {
			if inst.State == instance.Running || inst.State == instance.Starting {
				e.stopInstanceSignal(inst, sig, g.Spec.StopTime)
			}
		}
	}

	// The stoptime/SIGKILL escalation in reconcileTimers bounds how
	// long any single instance can take; this cap just guards against
	// a pathological number of simultaneous stops piling up.
	hardCap := time.Now().Add(5 * time.Minute)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if e.allStopped() {
			return
		}
		if time.Now().After(hardCap) {
			e.log.Warn("shutdown hard cap exceeded, exiting anyway")
			return
		}
		<-ticker.C
		e.reapAndHandle()
		e.reconcileTimers()
	}
}

func (e *Engine) allStopped() bool {
	for _, g := range e.groups {
		for _, inst := range g.Instances {
			switch inst.State {
			case instance.Running, instance.Starting, instance.Stopping:
				return false
			}
		}
	}
	return true
}
