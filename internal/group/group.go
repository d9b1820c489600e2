// Package group implements C4 ProgramGroup (§4.4): the numprocs-sized
// collection of Instances belonging to one ProgramSpec. Per the
// cyclic-reference redesign note in §9, Group is a plain data holder -
// it has no back-reference to the Engine. All of the actual start/stop/
// restart behaviour is driven by the engine, which holds Groups and
// Instances and acts on them directly; Group only knows how to size
// itself to numprocs and name its members.
package group

import (
	"fmt"

	"taskmasterd/internal/config"
	"taskmasterd/internal/instance"
)

// Group is every Instance of one ProgramSpec.
type Group struct {
	Spec      *config.ProgramSpec
	Instances []*instance.Instance
}

// New builds a Group with Spec.NumProcs freshly-created STOPPED
// instances (§3: "created on first start").
func New(spec *config.ProgramSpec) *Group {
	g := &Group{Spec: spec}
	g.Instances = make([]*instance.Instance, spec.NumProcs)
	for i := range g.Instances {
		g.Instances[i] = instance.New(spec.Name, IndexedName(spec.Name, i, spec.NumProcs))
	}
	return g
}

// IndexedName implements the §3 naming rule: bare name when numprocs==1,
// else a two-digit zero-based suffix.
func IndexedName(name string, idx, numprocs int) string {
	if numprocs == 1 {
		return name
	}
	return fmt.Sprintf("%s_%02d", name, idx)
}

// Resize grows or shrinks Instances to match Spec.NumProcs (§4.4:
// "surplus instances are stopped and removed; new instances are created
// in STOPPED"). It returns the newly created instances (for the caller
// to autostart if the program was running) and the surplus instances
// that must be stopped and dropped by the caller before this returns
// control - Resize itself never stops anything, since stopping a
// process is an engine-level operation with timers attached.
func (g *Group) Resize() (added, removed []*instance.Instance) {
	want := g.Spec.NumProcs
	have := len(g.Instances)

	if want > have {
		for i := have; i < want; i++ {
			inst := instance.New(g.Spec.Name, IndexedName(g.Spec.Name, i, want))
			g.Instances = append(g.Instances, inst)
			added = append(added, inst)
		}
		// Renumbering is only observable when numprocs transitions
		// across the 1-instance boundary; §3's naming rule is keyed off
		// the *current* numprocs so existing names are left untouched
		// otherwise.
		g.renameAll()
		return added, nil
	}

	if want < have {
		removed = append(removed, g.Instances[want:]...)
		g.Instances = g.Instances[:want]
		g.renameAll()
		return nil, removed
	}

	return nil, nil
}

func (g *Group) renameAll() {
	n := len(g.Instances)
	for i, inst := range g.Instances {
		inst.IndexedName = IndexedName(g.Spec.Name, i, n)
	}
}

// Find returns the instance with the given indexed name, or nil.
func (g *Group) Find(indexedName string) *instance.Instance {
	for _, inst := range g.Instances {
		if inst.IndexedName == indexedName {
			return inst
		}
	}
	return nil
}

// Status renders one status line per instance (§4.4).
func (g *Group) Status() []string {
	lines := make([]string, len(g.Instances))
	for i, inst := range g.Instances {
		lines[i] = inst.String()
	}
	return lines
}
