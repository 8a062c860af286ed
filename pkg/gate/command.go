package gate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/zen-systems/mergeflow/pkg/runner"
)

// CommandGate validates a commit by running an external tool and classifying
// its exit code: zero is Pass, nonzero is Fail. A missing tool or an exceeded
// time budget yields Skip, never Fail.
type CommandGate struct {
	name     string
	command  []string
	requires []string
	timeout  time.Duration
	// fixForward is an optional repair command (e.g. a formatter) run before
	// the check. Its execution is reported so the caller can log it as a
	// distinct hop.
	fixForward []string
	run        runner.Runner
}

// CommandGateOption configures a CommandGate.
type CommandGateOption func(*CommandGate)

// WithRequires declares dependency gates that must pass first.
func WithRequires(deps ...string) CommandGateOption {
	return func(g *CommandGate) {
		g.requires = append(g.requires, deps...)
	}
}

// WithTimeout bounds the gate's wallclock budget.
func WithTimeout(d time.Duration) CommandGateOption {
	return func(g *CommandGate) {
		g.timeout = d
	}
}

// WithFixForward declares a repair command run before the check.
func WithFixForward(argv []string) CommandGateOption {
	return func(g *CommandGate) {
		g.fixForward = argv
	}
}

// NewCommandGate creates a gate that runs command through r.
func NewCommandGate(name string, command []string, r runner.Runner, opts ...CommandGateOption) (*CommandGate, error) {
	if name == "" {
		return nil, fmt.Errorf("command gate requires a name")
	}
	if len(command) == 0 {
		return nil, fmt.Errorf("gate %s requires a command", name)
	}
	if r == nil {
		return nil, fmt.Errorf("gate %s requires a runner", name)
	}
	g := &CommandGate{name: name, command: command, run: r}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Name returns the gate identifier.
func (g *CommandGate) Name() string { return g.name }

// Requires lists dependency gates.
func (g *CommandGate) Requires() []string { return g.requires }

// HasFixForward reports whether the gate declares a repair command. The
// actual run is recorded on the result evidence, keeping invocations
// stateless.
func (g *CommandGate) HasFixForward() bool { return len(g.fixForward) > 0 }

// Run executes the gate against ec.CommitSHA.
func (g *CommandGate) Run(ctx context.Context, ec ExecContext) (*Result, error) {
	if dep, blocked := BlockedBy(g, ec.Prior); blocked {
		return NewSkipResult(g.name, ec.CommitSHA, fmt.Sprintf("%s: %s", ReasonBlockedByDependency, dep)), nil
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	var fixNote, fixRan string
	if len(g.fixForward) > 0 {
		fixRes, err := g.run.Run(ctx, g.fixForward, ec.Workdir)
		switch {
		case errors.Is(err, runner.ErrToolUnavailable):
			fixNote = fmt.Sprintf("fix-forward skipped: %v", err)
		case errors.Is(err, context.DeadlineExceeded):
			return NewSkipResult(g.name, ec.CommitSHA, ReasonBoundedByPolicy), nil
		case err != nil:
			return nil, fmt.Errorf("gate %s fix-forward: %w", g.name, err)
		default:
			fixRan = fmt.Sprintf("%s (exit %d)", strings.Join(g.fixForward, " "), fixRes.ExitCode)
			fixNote = "fix-forward ran: " + fixRan
		}
	}

	res, err := g.run.Run(ctx, g.command, ec.Workdir)
	if err != nil {
		switch {
		case errors.Is(err, runner.ErrToolUnavailable):
			return NewSkipResult(g.name, ec.CommitSHA, fmt.Sprintf("%s: %v", ReasonToolUnavailable, err)), nil
		case errors.Is(err, context.DeadlineExceeded):
			return NewSkipResult(g.name, ec.CommitSHA, ReasonBoundedByPolicy), nil
		case ctx.Err() != nil && errors.Is(err, ctx.Err()):
			return nil, err
		default:
			return nil, fmt.Errorf("gate %s: %w", g.name, err)
		}
	}

	evidence := summarize(g.name, res, ec.Config, fixNote)
	out := NewFailResult(g.name, ec.CommitSHA, evidence)
	if res.ExitCode == 0 {
		out = NewPassResult(g.name, ec.CommitSHA, evidence)
	}
	out.FixForward = fixRan
	return out, nil
}

// summarize builds the evidence string from the tool output, configured
// thresholds, and any fix-forward note.
func summarize(name string, res *runner.ExecResult, config map[string]string, fixNote string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %s (exit %d)", name, strings.Join(res.Command, " "), res.ExitCode)

	if len(config) > 0 {
		keys := make([]string, 0, len(config))
		for k := range config {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%s", k, config[k]))
		}
		fmt.Fprintf(&sb, "; thresholds: %s", strings.Join(parts, ", "))
	}

	if out := lastLines(res.Stderr, 3); out != "" {
		fmt.Fprintf(&sb, "; stderr: %s", out)
	} else if out := lastLines(res.Stdout, 3); out != "" {
		fmt.Fprintf(&sb, "; %s", out)
	}

	if fixNote != "" {
		fmt.Fprintf(&sb, "; %s", fixNote)
	}
	return sb.String()
}

func lastLines(s string, n int) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	return strings.Join(lines, " | ")
}
