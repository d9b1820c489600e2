// Package reload implements C7's diff: given the currently running spec
// table and a freshly parsed one, decide which programs are new,
// unchanged, changed, or removed (§4.7). It performs no side effects -
// the engine drives add/update/remove through its own start/stop API
// using this decision.
package reload

import "taskmasterd/internal/config"

// Action classifies what a reload must do for one program name.
type Action int

const (
	Unchanged Action = iota
	Added
	Changed
	Removed
)

// Plan is the full decision for one reload pass.
type Plan struct {
	Actions map[string]Action
}

// Diff compares old and new tables using config.Equal's field-by-field,
// defaults-aware comparison (§4.7: "Equality ignores the synthetic name
// field and treats missing keys as equal to their documented defaults").
func Diff(old, new config.Table) Plan {
	plan := Plan{Actions: make(map[string]Action, len(old)+len(new))}

	for name, newSpec := range new {
		oldSpec, existed := old[name]
		switch {
		case !existed:
			plan.Actions[name] = Added
		case config.Equal(oldSpec, newSpec):
			plan.Actions[name] = Unchanged
		default:
			plan.Actions[name] = Changed
		}
	}

	for name := range old {
		if _, stillPresent := new[name]; !stillPresent {
			plan.Actions[name] = Removed
		}
	}

	return plan
}

// Single produces a Plan scoped to exactly one program name, for the
// `reload <name>` control verb (§4.8). If name isn't in new, it reports
// Removed only when it existed in old; otherwise the caller should
// treat it as "program not found".
func Single(old, new config.Table, name string) Plan {
	full := Diff(old, new)
	plan := Plan{Actions: make(map[string]Action, 1)}
	if action, ok := full.Actions[name]; ok {
		plan.Actions[name] = action
	}
	return plan
}
