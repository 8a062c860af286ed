package gate

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zen-systems/mergeflow/pkg/runner"
)

func TestCommandGatePass(t *testing.T) {
	r := runner.NewFakeRunner()
	r.Script([]string{"go", "build", "./..."}, runner.FakeResponse{Stdout: "ok"})

	g, err := NewCommandGate("build", []string{"go", "build", "./..."}, r)
	require.NoError(t, err)

	res, err := g.Run(context.Background(), ExecContext{CommitSHA: "abc123"})
	require.NoError(t, err)
	assert.Equal(t, Pass, res.Outcome)
	assert.Equal(t, "abc123", res.CommitSHA)
	assert.NotEmpty(t, res.Evidence)
	require.NoError(t, res.Validate())
}

func TestCommandGateFailCarriesEvidence(t *testing.T) {
	r := runner.NewFakeRunner()
	r.Script([]string{"go", "test", "./..."}, runner.FakeResponse{
		Stderr:   "--- FAIL: TestThing\nFAIL",
		ExitCode: 1,
	})

	g, err := NewCommandGate("tests", []string{"go", "test", "./..."}, r)
	require.NoError(t, err)

	res, err := g.Run(context.Background(), ExecContext{CommitSHA: "abc123"})
	require.NoError(t, err)
	assert.Equal(t, Fail, res.Outcome)
	assert.Contains(t, res.Evidence, "exit 1")
	assert.Contains(t, res.Evidence, "FAIL")
}

func TestCommandGateToolUnavailableSkips(t *testing.T) {
	g, err := NewCommandGate("security", []string{"gitleaks", "detect"}, runner.NewFakeRunner())
	require.NoError(t, err)

	res, err := g.Run(context.Background(), ExecContext{CommitSHA: "abc123"})
	require.NoError(t, err)
	assert.Equal(t, Skip, res.Outcome)
	assert.Contains(t, res.Reason, ReasonToolUnavailable)
}

func TestCommandGateBlockedByDependency(t *testing.T) {
	r := runner.NewFakeRunner()
	r.Script([]string{"go", "test", "./..."}, runner.FakeResponse{})

	g, err := NewCommandGate("tests", []string{"go", "test", "./..."}, r, WithRequires("build"))
	require.NoError(t, err)

	cases := []struct {
		name  string
		prior map[string]*Result
	}{
		{"missing dependency", nil},
		{"failed dependency", map[string]*Result{
			"build": NewFailResult("build", "abc123", "build: failed"),
		}},
		{"skipped dependency", map[string]*Result{
			"build": NewSkipResult("build", "abc123", ReasonToolUnavailable),
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := g.Run(context.Background(), ExecContext{CommitSHA: "abc123", Prior: tc.prior})
			require.NoError(t, err)
			assert.Equal(t, Skip, res.Outcome)
			assert.Contains(t, res.Reason, ReasonBlockedByDependency)
			assert.Empty(t, r.Calls(), "gate must not run its command when blocked")
		})
	}
}

func TestCommandGateRunsWhenDependencyPassed(t *testing.T) {
	r := runner.NewFakeRunner()
	r.Script([]string{"go", "test", "./..."}, runner.FakeResponse{})

	g, err := NewCommandGate("tests", []string{"go", "test", "./..."}, r, WithRequires("build"))
	require.NoError(t, err)

	prior := map[string]*Result{"build": NewPassResult("build", "abc123", "built fine")}
	res, err := g.Run(context.Background(), ExecContext{CommitSHA: "abc123", Prior: prior})
	require.NoError(t, err)
	assert.Equal(t, Pass, res.Outcome)
}

func TestCommandGateFixForwardNoted(t *testing.T) {
	r := runner.NewFakeRunner()
	r.Script([]string{"gofmt", "-w", "."}, runner.FakeResponse{})
	r.Script([]string{"gofmt", "-l", "."}, runner.FakeResponse{})

	g, err := NewCommandGate("format", []string{"gofmt", "-l", "."}, r,
		WithFixForward([]string{"gofmt", "-w", "."}))
	require.NoError(t, err)
	assert.True(t, g.HasFixForward())

	res, err := g.Run(context.Background(), ExecContext{CommitSHA: "abc123"})
	require.NoError(t, err)
	assert.Equal(t, Pass, res.Outcome)
	assert.Contains(t, res.Evidence, "fix-forward ran")
	assert.Equal(t, "gofmt -w . (exit 0)", res.FixForward, "the repair run surfaces on the result for auditing")

	calls := r.Calls()
	require.Len(t, calls, 2)
	assert.True(t, strings.HasPrefix(calls[0], "gofmt -w"), "fix-forward runs before the check")
}

func TestCommandGateFixForwardUnavailableNotSurfaced(t *testing.T) {
	r := runner.NewFakeRunner()
	r.Script([]string{"gofmt", "-l", "."}, runner.FakeResponse{})

	g, err := NewCommandGate("format", []string{"gofmt", "-l", "."}, r,
		WithFixForward([]string{"gofmt", "-w", "."}))
	require.NoError(t, err)

	res, err := g.Run(context.Background(), ExecContext{CommitSHA: "abc123"})
	require.NoError(t, err)
	assert.Equal(t, Pass, res.Outcome)
	assert.Contains(t, res.Evidence, "fix-forward skipped")
	assert.Empty(t, res.FixForward, "a repair that never ran must not claim a tree mutation")
}

func TestCommandGateTimeoutSkips(t *testing.T) {
	slow := runner.NewFakeRunner()
	slow.Script([]string{"sleep", "10"}, runner.FakeResponse{Err: context.DeadlineExceeded})

	g, err := NewCommandGate("benchmarks", []string{"sleep", "10"}, slow,
		WithTimeout(time.Millisecond))
	require.NoError(t, err)

	res, err := g.Run(context.Background(), ExecContext{CommitSHA: "abc123"})
	require.NoError(t, err)
	assert.Equal(t, Skip, res.Outcome)
	assert.Equal(t, ReasonBoundedByPolicy, res.Reason)
}

func TestCommandGateIdempotentClassification(t *testing.T) {
	r := runner.NewFakeRunner()
	r.Script([]string{"go", "vet", "./..."}, runner.FakeResponse{ExitCode: 2, Stderr: "vet: issue"})

	g, err := NewCommandGate("docs", []string{"go", "vet", "./..."}, r)
	require.NoError(t, err)

	first, err := g.Run(context.Background(), ExecContext{CommitSHA: "abc123"})
	require.NoError(t, err)
	second, err := g.Run(context.Background(), ExecContext{CommitSHA: "abc123"})
	require.NoError(t, err)
	assert.Equal(t, first.Outcome, second.Outcome)
}

func TestCommandGateThresholdsInEvidence(t *testing.T) {
	r := runner.NewFakeRunner()
	r.Script([]string{"benchrunner"}, runner.FakeResponse{Stdout: "p99 0.4ms"})

	g, err := NewCommandGate("benchmarks", []string{"benchrunner"}, r)
	require.NoError(t, err)

	res, err := g.Run(context.Background(), ExecContext{
		CommitSHA: "abc123",
		Config:    map[string]string{"max_regression": "1ms", "min_accuracy": "99%"},
	})
	require.NoError(t, err)
	assert.Contains(t, res.Evidence, "max_regression=1ms")
	assert.Contains(t, res.Evidence, "min_accuracy=99%")
}

func TestResultValidate(t *testing.T) {
	cases := []struct {
		name    string
		res     *Result
		wantErr bool
	}{
		{"valid pass", NewPassResult("build", "abc", "ok"), false},
		{"valid skip", NewSkipResult("build", "abc", "tool-unavailable"), false},
		{"pass without evidence", &Result{GateName: "build", CommitSHA: "abc", Outcome: Pass}, true},
		{"skip without reason", &Result{GateName: "build", CommitSHA: "abc", Outcome: Skip}, true},
		{"missing sha", &Result{GateName: "build", Outcome: Pass, Evidence: "ok"}, true},
		{"unknown outcome", &Result{GateName: "build", CommitSHA: "abc", Outcome: "maybe"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.res.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRegistryOrderAndDuplicates(t *testing.T) {
	r := runner.NewFakeRunner()
	reg := NewRegistry()

	for _, name := range []string{"freshness", "build", "tests"} {
		g, err := NewCommandGate(name, []string{"true"}, r)
		require.NoError(t, err)
		require.NoError(t, reg.Register(g))
	}
	assert.Equal(t, []string{"freshness", "build", "tests"}, reg.Names())

	dup, err := NewCommandGate("build", []string{"true"}, r)
	require.NoError(t, err)
	assert.Error(t, reg.Register(dup))
	assert.Equal(t, 3, reg.Len())
}
