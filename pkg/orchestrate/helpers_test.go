package orchestrate

import (
	"strings"

	"github.com/zen-systems/mergeflow/pkg/evidence"
	"github.com/zen-systems/mergeflow/pkg/flow"
	"github.com/zen-systems/mergeflow/pkg/gate"
	"github.com/zen-systems/mergeflow/pkg/router"
	"github.com/zen-systems/mergeflow/pkg/runner"
)

// runnerStub wraps the fake runner with pass/fail shorthand for scripting
// gate commands in orchestrator tests.
type runnerStub struct {
	fake *runner.FakeRunner
}

func newRunnerStub() *runnerStub {
	return &runnerStub{fake: runner.NewFakeRunner()}
}

func (r *runnerStub) pass(commandLine string) {
	r.fake.Script(strings.Fields(commandLine), runner.FakeResponse{Stdout: "ok"})
}

func (r *runnerStub) fail(commandLine, stderr string) {
	r.fake.Script(strings.Fields(commandLine), runner.FakeResponse{Stderr: stderr, ExitCode: 1})
}

// twoGateFlow is the minimal build-then-tests pipeline used across tests.
func twoGateFlow() *flow.Flow {
	return &flow.Flow{
		Name: "basic",
		Gates: []flow.GateDef{
			{Name: "build", Command: []string{"run", "build"}},
			{Name: "tests", Command: []string{"run", "tests"}, Requires: []string{"build"}},
		},
		Routing: []router.Rule{
			{Gate: "build", Outcome: gate.Pass, Then: router.Directive{Kind: router.Next, Target: "tests"}},
			{Gate: "tests", Outcome: gate.Pass, Then: router.Directive{Kind: router.Finalize, Target: router.TerminalMerged}},
			{Gate: router.Wildcard, Outcome: gate.Fail, Then: router.Directive{Kind: router.Finalize, Target: router.TerminalBlocked}},
		},
	}
}

// downStore accepts pins but refuses every write, simulating an unreachable
// evidence backend.
type downStore struct {
	*evidence.MemoryStore
}

func (s *downStore) Put(res *gate.Result) error {
	return evidence.ErrStoreUnavailable
}
