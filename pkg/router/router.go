// Package router decides the next step after each gate result. Routing is a
// pure function of (gate name, outcome) over a static rule table loaded once
// per flow; repeated invocations with the same inputs return the identical
// directive.
package router

import (
	"errors"
	"fmt"

	"github.com/zen-systems/mergeflow/pkg/gate"
)

// ErrNoRoute indicates the rule table has no entry for a produced result.
// This is a configuration fault and halts the run; the router never defaults
// to passing a change-set forward.
var ErrNoRoute = errors.New("no routing rule matches")

// DirectiveKind tags the router's next-step decision.
type DirectiveKind string

const (
	// Next advances to a named gate.
	Next DirectiveKind = "next"
	// Loop re-runs the same gate, subject to the engine's retry bound.
	Loop DirectiveKind = "loop"
	// Escalate diverts to a specialist gate outside the normal sequence.
	Escalate DirectiveKind = "escalate"
	// Finalize ends the run in a terminal state.
	Finalize DirectiveKind = "finalize"
)

// Terminal states a Finalize directive may name.
const (
	TerminalMerged  = "merged"
	TerminalReady   = "ready"
	TerminalBlocked = "blocked"
)

// Directive is the router's single output: where control goes next.
type Directive struct {
	Kind DirectiveKind `yaml:"kind" json:"kind"`
	// Target names the next/escalation gate, or the terminal state for
	// Finalize. Unused for Loop.
	Target string `yaml:"target,omitempty" json:"target,omitempty"`
}

// Rule maps one (gate, outcome) pair to a directive. Gate "*" matches any
// gate; an exact gate name is more specific and always beats the wildcard.
type Rule struct {
	Gate    string       `yaml:"gate" json:"gate"`
	Outcome gate.Outcome `yaml:"outcome" json:"outcome"`
	Then    Directive    `yaml:"then" json:"then"`
}

// Wildcard matches any gate name in a rule.
const Wildcard = "*"

// Table is a static, ordered routing rule table for one flow.
type Table struct {
	rules []Rule
}

// NewTable creates a table preserving declaration order, which is the
// tie-break after specificity.
func NewTable(rules []Rule) *Table {
	return &Table{rules: append([]Rule{}, rules...)}
}

// Rules returns the rules in declaration order.
func (t *Table) Rules() []Rule {
	return append([]Rule{}, t.rules...)
}

// Decide resolves the directive for a gate result. Matching is exact gate
// first, wildcard second; within equal specificity the first declared rule
// wins. A Skip on a soft-required gate routes as if the gate passed unless
// an explicit skip rule exists; a Skip on a hard-required gate with no
// explicit skip rule finalizes as blocked.
func (t *Table) Decide(gateName string, outcome gate.Outcome, hardRequired bool) (Directive, error) {
	if d, ok := t.match(gateName, outcome); ok {
		return d, nil
	}

	if outcome == gate.Skip {
		if hardRequired {
			return Directive{Kind: Finalize, Target: TerminalBlocked}, nil
		}
		if d, ok := t.match(gateName, gate.Pass); ok {
			return d, nil
		}
	}

	return Directive{}, fmt.Errorf("%w: gate %s outcome %s", ErrNoRoute, gateName, outcome)
}

func (t *Table) match(gateName string, outcome gate.Outcome) (Directive, bool) {
	for _, r := range t.rules {
		if r.Gate == gateName && r.Outcome == outcome {
			return r.Then, true
		}
	}
	for _, r := range t.rules {
		if r.Gate == Wildcard && r.Outcome == outcome {
			return r.Then, true
		}
	}
	return Directive{}, false
}

// Validate checks the table for structural errors against the set of known
// gate names. Unknown targets and malformed directives are configuration
// faults surfaced before any gate runs.
func (t *Table) Validate(known map[string]bool) error {
	if len(t.rules) == 0 {
		return fmt.Errorf("routing table is empty")
	}
	for i, r := range t.rules {
		if r.Gate == "" {
			return fmt.Errorf("rule %d: gate is required", i)
		}
		if r.Gate != Wildcard && !known[r.Gate] {
			return fmt.Errorf("rule %d: unknown gate %s", i, r.Gate)
		}
		switch r.Outcome {
		case gate.Pass, gate.Fail, gate.Skip:
		default:
			return fmt.Errorf("rule %d: unknown outcome %q", i, r.Outcome)
		}
		switch r.Then.Kind {
		case Next, Escalate:
			if !known[r.Then.Target] {
				return fmt.Errorf("rule %d: %s targets unknown gate %q", i, r.Then.Kind, r.Then.Target)
			}
		case Loop:
			if r.Then.Target != "" {
				return fmt.Errorf("rule %d: loop takes no target", i)
			}
		case Finalize:
			switch r.Then.Target {
			case TerminalMerged, TerminalReady, TerminalBlocked:
			default:
				return fmt.Errorf("rule %d: unknown terminal state %q", i, r.Then.Target)
			}
		default:
			return fmt.Errorf("rule %d: unknown directive kind %q", i, r.Then.Kind)
		}
	}
	return nil
}
