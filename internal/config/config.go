// Package config holds the declarative per-program configuration the
// engine consumes. Parsing the YAML document is a thin external
// collaborator deliberately kept separate from the supervision engine
// (§1: "YAML parsing and schema validation ... external collaborators
// only") — the engine only ever sees an already-defaulted ProgramSpec
// table.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AutoRestart is the restart policy for a program.
type AutoRestart string

const (
	RestartAlways     AutoRestart = "always"
	RestartNever      AutoRestart = "never"
	RestartUnexpected AutoRestart = "unexpected"
)

// ProgramSpec is the immutable declarative configuration for one
// program, valid for the lifetime of a reload generation (§3).
type ProgramSpec struct {
	Name          string            `yaml:"-"`
	Cmd           string            `yaml:"cmd"`
	NumProcs      int               `yaml:"numprocs"`
	AutoStart     bool              `yaml:"autostart"`
	AutoRestart   AutoRestart       `yaml:"autorestart"`
	ExitCodes     []int             `yaml:"exitcodes"`
	StartTime     int               `yaml:"starttime"`
	StartRetries  int               `yaml:"startretries"`
	StopSignal    string            `yaml:"stopsignal"`
	ReloadSignal  string            `yaml:"reloadsignal"`
	StopTime      int               `yaml:"stoptime"`
	Stdout        string            `yaml:"stdout"`
	Stderr        string            `yaml:"stderr"`
	Env           map[string]string `yaml:"env"`
	WorkingDir    string            `yaml:"workingdir"`
	Umask         int               `yaml:"umask"`
	AllowAttach   bool              `yaml:"allow_attach"`
}

// applyDefaults fills in the documented defaults (§6) for every
// zero-value field. An explicit zero is treated like a missing key,
// except for starttime, which Parse restores when the document sets it.
func (p *ProgramSpec) applyDefaults() {
	if p.NumProcs == 0 {
		p.NumProcs = 1
	}
	if p.AutoRestart == "" {
		p.AutoRestart = RestartUnexpected
	}
	if len(p.ExitCodes) == 0 {
		p.ExitCodes = []int{0}
	}
	if p.StartTime == 0 {
		p.StartTime = 1
	}
	if p.StartRetries == 0 {
		p.StartRetries = 3
	}
	if p.StopSignal == "" {
		p.StopSignal = "TERM"
	}
	if p.ReloadSignal == "" {
		p.ReloadSignal = "HUP"
	}
	if p.StopTime == 0 {
		p.StopTime = 10
	}
	if p.Umask == 0 {
		p.Umask = 0o022
	}
	if p.Env == nil {
		p.Env = map[string]string{}
	}
}

// Validate checks the bounds §3 documents for numprocs and rejects an
// empty command.
func (p *ProgramSpec) Validate() error {
	if p.Cmd == "" {
		return fmt.Errorf("program %q: cmd must not be empty", p.Name)
	}
	if p.NumProcs < 1 || p.NumProcs > 10 {
		return fmt.Errorf("program %q: numprocs must be 1-10, got %d", p.Name, p.NumProcs)
	}
	switch p.AutoRestart {
	case RestartAlways, RestartNever, RestartUnexpected:
	default:
		return fmt.Errorf("program %q: invalid autorestart %q", p.Name, p.AutoRestart)
	}
	return nil
}

// Table is the full program_name -> spec mapping the engine reconciles
// against.
type Table map[string]*ProgramSpec

// Load reads and parses a config file from disk, applying defaults and
// validating every entry. This is the "external parser" of §6; the
// Engine calls it only to re-read the file on `reload`.
func Load(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes raw YAML bytes into a validated Table.
func Parse(data []byte) (Table, error) {
	var raw map[string]ProgramSpec
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	// present records which keys each program sets explicitly, so an
	// explicit `starttime: 0` survives defaulting.
	var present map[string]map[string]interface{}
	if err := yaml.Unmarshal(data, &present); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	table := make(Table, len(raw))
	for name, spec := range raw {
		spec := spec
		spec.Name = name
		spec.applyDefaults()
		if _, set := present[name]["starttime"]; set {
			spec.StartTime = raw[name].StartTime
		}
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		table[name] = &spec
	}
	return table, nil
}

// Equal compares two specs field-by-field, ignoring the synthetic Name
// field, per §4.7's reload-diff equality rule. Missing-vs-default keys
// are already reconciled by applyDefaults before this is ever called, so
// a straightforward field comparison implements "missing keys equal
// their documented defaults".
func Equal(a, b *ProgramSpec) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Cmd != b.Cmd ||
		a.NumProcs != b.NumProcs ||
		a.AutoStart != b.AutoStart ||
		a.AutoRestart != b.AutoRestart ||
		a.StartTime != b.StartTime ||
		a.StartRetries != b.StartRetries ||
		a.StopSignal != b.StopSignal ||
		a.ReloadSignal != b.ReloadSignal ||
		a.StopTime != b.StopTime ||
		a.Stdout != b.Stdout ||
		a.Stderr != b.Stderr ||
		a.WorkingDir != b.WorkingDir ||
		a.Umask != b.Umask ||
		a.AllowAttach != b.AllowAttach {
		return false
	}
	if !intSliceEqual(a.ExitCodes, b.ExitCodes) {
		return false
	}
	if len(a.Env) != len(b.Env) {
		return false
	}
	for k, v := range a.Env {
		if bv, ok := b.Env[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

func intSliceEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[int]int, len(a))
	for _, v := range a {
		seen[v]++
	}
	for _, v := range b {
		seen[v]--
	}
	for _, c := range seen {
		if c != 0 {
			return false
		}
	}
	return true
}
