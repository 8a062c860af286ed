package flow

import (
	"time"

	"github.com/zen-systems/mergeflow/pkg/gate"
	"github.com/zen-systems/mergeflow/pkg/router"
)

// Integrative returns the built-in PR validation flow: freshness, format
// (with fix-forward), build, tests, benchmarks, docs, and security in order,
// with architecture-review and human-review as escalation specialists.
func Integrative() *Flow {
	f := &Flow{
		Name:        "integrative",
		Description: "full pull-request validation pipeline",
		MaxLoops:    DefaultMaxLoops,
		Gates: []GateDef{
			{
				Name:         "freshness",
				Command:      []string{"git", "merge-base", "--is-ancestor", "origin/main", "HEAD"},
				HardRequired: true,
				Timeout:      Duration(time.Minute),
			},
			{
				Name:       "format",
				Command:    []string{"gofmt", "-l", "."},
				FixForward: []string{"gofmt", "-w", "."},
				Requires:   []string{"freshness"},
				Timeout:    Duration(2 * time.Minute),
			},
			{
				Name:         "build",
				Command:      []string{"go", "build", "./..."},
				Requires:     []string{"freshness"},
				HardRequired: true,
				Timeout:      Duration(8 * time.Minute),
			},
			{
				Name:         "tests",
				Command:      []string{"go", "test", "./..."},
				Requires:     []string{"build"},
				HardRequired: true,
				Timeout:      Duration(8 * time.Minute),
				MaxLoops:     2,
				EscalateTo:   "architecture-review",
			},
			{
				Name:     "benchmarks",
				Command:  []string{"go", "test", "-bench", ".", "-benchtime", "1x", "./..."},
				Requires: []string{"tests"},
				Timeout:  Duration(8 * time.Minute),
				Config:   map[string]string{"max_regression": "1ms"},
			},
			{
				Name:     "docs",
				Command:  []string{"go", "vet", "./..."},
				Requires: []string{"build"},
				Timeout:  Duration(2 * time.Minute),
			},
			{
				Name:     "security",
				Command:  []string{"gitleaks", "detect", "--no-banner"},
				Requires: []string{"build"},
				Timeout:  Duration(4 * time.Minute),
			},
			{
				Name:       "architecture-review",
				Command:    []string{"mergeflow-agent", "architecture-review"},
				Specialist: true,
				Timeout:    Duration(8 * time.Minute),
			},
			{
				Name:       "human-review",
				Command:    []string{"mergeflow-agent", "request-review"},
				Specialist: true,
				Timeout:    Duration(time.Minute),
			},
		},
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

	// Specific failure handling mirrors the agent hand-offs of the source
	// pipeline; the generic fail rule retries once via Loop before the
	// engine's bound forces escalation.
	rules = append(rules,
		router.Rule{Gate: "freshness", Outcome: gate.Fail, Then: router.Directive{Kind: router.Finalize, Target: router.TerminalBlocked}},
		router.Rule{Gate: "build", Outcome: gate.Fail, Then: router.Directive{Kind: router.Escalate, Target: "architecture-review"}},
		router.Rule{Gate: "security", Outcome: gate.Fail, Then: router.Directive{Kind: router.Escalate, Target: "human-review"}},
		router.Rule{Gate: "architecture-review", Outcome: gate.Fail, Then: router.Directive{Kind: router.Finalize, Target: router.TerminalBlocked}},
		router.Rule{Gate: "architecture-review", Outcome: gate.Pass, Then: router.Directive{Kind: router.Next, Target: "build"}},
		router.Rule{Gate: "human-review", Outcome: gate.Pass, Then: router.Directive{Kind: router.Finalize, Target: router.TerminalReady}},
		router.Rule{Gate: "human-review", Outcome: gate.Fail, Then: router.Directive{Kind: router.Finalize, Target: router.TerminalBlocked}},
		router.Rule{Gate: router.Wildcard, Outcome: gate.Fail, Then: router.Directive{Kind: router.Loop}},
	)
	f.Routing = rules
	return f
}
