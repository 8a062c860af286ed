package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// ErrToolUnavailable indicates the requested tool binary could not be found
// or started. Gates translate this into a Skip, never a Fail.
var ErrToolUnavailable = errors.New("tool unavailable")

// ExecResult captures the observable output of one tool invocation.
type ExecResult struct {
	Command  []string      `json:"command"`
	Workdir  string        `json:"workdir,omitempty"`
	Stdout   string        `json:"stdout,omitempty"`
	Stderr   string        `json:"stderr,omitempty"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// Runner abstracts external tool invocation. The engine never knows about a
// specific toolchain; it only interprets exit codes and textual summaries.
type Runner interface {
	// Run executes argv in dir and returns its captured output. A nonzero
	// exit code is not an error; ErrToolUnavailable is returned when the
	// binary cannot be located or started.
	Run(ctx context.Context, argv []string, dir string) (*ExecResult, error)
}

// LocalRunner executes commands on the local host.
type LocalRunner struct {
	// MaxOutput caps captured stdout/stderr; zero means DefaultMaxOutput.
	MaxOutput int
}

// DefaultMaxOutput bounds captured tool output per stream.
const DefaultMaxOutput = 64 * 1024

// NewLocalRunner creates a runner that executes commands via os/exec.
func NewLocalRunner() *LocalRunner {
	return &LocalRunner{MaxOutput: DefaultMaxOutput}
}

// Run executes the command, honoring ctx cancellation and deadlines.
func (r *LocalRunner) Run(ctx context.Context, argv []string, dir string) (*ExecResult, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("runner: empty command")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if dir != "" {
		cmd.Dir = dir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	// A killed child shows up as an ExitError; report the deadline instead.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(err, &exitErr):
			exitCode = exitErr.ExitCode()
		case errors.Is(err, exec.ErrNotFound):
			return nil, fmt.Errorf("%w: %s", ErrToolUnavailable, argv[0])
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			return nil, fmt.Errorf("%w: %s: %v", ErrToolUnavailable, argv[0], err)
		}
	}

	limit := r.MaxOutput
	if limit <= 0 {
		limit = DefaultMaxOutput
	}

	return &ExecResult{
		Command:  append([]string{}, argv...),
		Workdir:  dir,
		Stdout:   truncate(stdout.String(), limit),
		Stderr:   truncate(stderr.String(), limit),
		ExitCode: exitCode,
		Duration: duration,
	}, nil
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit]
}
