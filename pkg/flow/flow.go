// Package flow defines named, ordered gate configurations and their routing
// tables. A flow is loaded once per run and read-only thereafter; each
// change-set gets its own FlowState instance.
package flow

import (
	"fmt"
	"time"

	"github.com/zen-systems/mergeflow/pkg/gate"
	"github.com/zen-systems/mergeflow/pkg/router"
	"github.com/zen-systems/mergeflow/pkg/runner"
)

// Duration wraps time.Duration for YAML manifests ("8m", "30s").
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// GateDef declares one gate of a flow.
type GateDef struct {
	Name         string            `yaml:"name"`
	Command      []string          `yaml:"command"`
	FixForward   []string          `yaml:"fix_forward,omitempty"`
	Requires     []string          `yaml:"requires,omitempty"`
	HardRequired bool              `yaml:"hard_required,omitempty"`
	Timeout      Duration          `yaml:"timeout,omitempty"`
	MaxLoops     int               `yaml:"max_loops,omitempty"`
	Config       map[string]string `yaml:"config,omitempty"`
	// EscalateTo names the specialist gate the engine diverts to when this
	// gate exhausts its self-loop bound.
	EscalateTo string `yaml:"escalate_to,omitempty"`
	// Specialist gates sit outside the normal sequence and are only reached
	// through Escalate directives.
	Specialist bool `yaml:"specialist,omitempty"`
}

// Flow is a named validation pipeline: ordered gates plus routing rules.
type Flow struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description,omitempty"`
	Workdir     string        `yaml:"workdir,omitempty"`
	Gates       []GateDef     `yaml:"gates"`
	Routing     []router.Rule `yaml:"routing,omitempty"`
	// MaxLoops is the default self-loop bound for gates that do not set
	// their own.
	MaxLoops int `yaml:"max_loops,omitempty"`
}

// DefaultMaxLoops bounds gate self-looping when the manifest is silent.
const DefaultMaxLoops = 2

// Validate checks the flow configuration for errors.
func (f *Flow) Validate() error {
	if f.Name == "" {
		return fmt.Errorf("flow name is required")
	}
	if len(f.Gates) == 0 {
		return fmt.Errorf("flow %s must define at least one gate", f.Name)
	}

	seen := make(map[string]bool)
	for _, def := range f.Gates {
		if def.Name == "" {
			return fmt.Errorf("flow %s: gate name is required", f.Name)
		}
		if seen[def.Name] {
			return fmt.Errorf("flow %s: duplicate gate name %s", f.Name, def.Name)
		}
		if len(def.Command) == 0 {
			return fmt.Errorf("flow %s: gate %s must have a command", f.Name, def.Name)
		}
		seen[def.Name] = true
	}
	for _, def := range f.Gates {
		for _, dep := range def.Requires {
			if !seen[dep] {
				return fmt.Errorf("flow %s: gate %s requires unknown gate %s", f.Name, def.Name, dep)
			}
		}
		if def.EscalateTo != "" && !seen[def.EscalateTo] {
			return fmt.Errorf("flow %s: gate %s escalates to unknown gate %s", f.Name, def.Name, def.EscalateTo)
		}
	}

	return f.Table().Validate(seen)
}

// Sequence returns non-specialist gate names in declared order.
func (f *Flow) Sequence() []string {
	var names []string
	for _, def := range f.Gates {
		if !def.Specialist {
			names = append(names, def.Name)
		}
	}
	return names
}

// IsSpecialist reports whether name is a specialist gate reached only
// through escalation.
func (f *Flow) IsSpecialist(name string) bool {
	for _, def := range f.Gates {
		if def.Name == name {
			return def.Specialist
		}
	}
	return false
}

// HardRequired reports whether name is a hard-required gate.
func (f *Flow) HardRequired(name string) bool {
	for _, def := range f.Gates {
		if def.Name == name {
			return def.HardRequired
		}
	}
	return false
}

// LoopBound returns the self-loop bound for name.
func (f *Flow) LoopBound(name string) int {
	bound := f.MaxLoops
	for _, def := range f.Gates {
		if def.Name == name && def.MaxLoops > 0 {
			bound = def.MaxLoops
		}
	}
	if bound <= 0 {
		bound = DefaultMaxLoops
	}
	return bound
}

// Table returns the flow's routing table. When the manifest declares no
// routing, a linear chain is derived: each sequence gate's Pass advances to
// the next, the last finalizes as merged, and any Fail finalizes as blocked.
func (f *Flow) Table() *router.Table {
	if len(f.Routing) > 0 {
		return router.NewTable(f.Routing)
	}

	seq := f.Sequence()
	var rules []router.Rule
	for i, name := range seq {
		then := router.Directive{Kind: router.Finalize, Target: router.TerminalMerged}
		if i < len(seq)-1 {
			then = router.Directive{Kind: router.Next, Target: seq[i+1]}
		}
		rules = append(rules, router.Rule{Gate: name, Outcome: gate.Pass, Then: then})
	}
	rules = append(rules, router.Rule{Gate: router.Wildcard, Outcome: gate.Fail, Then: router.Directive{Kind: router.Finalize, Target: router.TerminalBlocked}})
	return router.NewTable(rules)
}

// BuildRegistry instantiates the flow's gates against a task runner, in
// declared order.
func (f *Flow) BuildRegistry(r runner.Runner) (*gate.Registry, error) {
	reg := gate.NewRegistry()
	for _, def := range f.Gates {
		opts := []gate.CommandGateOption{
			gate.WithRequires(def.Requires...),
		}
		if def.Timeout > 0 {
			opts = append(opts, gate.WithTimeout(time.Duration(def.Timeout)))
		}
		if len(def.FixForward) > 0 {
			opts = append(opts, gate.WithFixForward(def.FixForward))
		}
		g, err := gate.NewCommandGate(def.Name, def.Command, r, opts...)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(g); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// EscalationFor returns the declared specialist for name, if any.
func (f *Flow) EscalationFor(name string) (string, bool) {
	for _, def := range f.Gates {
		if def.Name == name && def.EscalateTo != "" {
			return def.EscalateTo, true
		}
	}
	return "", false
}

// ConfigFor returns the threshold bag declared for name.
func (f *Flow) ConfigFor(name string) map[string]string {
	for _, def := range f.Gates {
		if def.Name == name {
			return def.Config
		}
	}
	return nil
}
