package runner

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// FakeResponse scripts the outcome of one command for the fake runner.
type FakeResponse struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
}

// FakeRunner returns scripted responses keyed by the joined command line.
// Used in tests and demos where no real toolchain is present.
type FakeRunner struct {
	mu        sync.Mutex
	responses map[string]FakeResponse
	sequences map[string][]FakeResponse
	calls     []string
}

// NewFakeRunner creates an empty fake runner.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{
		responses: make(map[string]FakeResponse),
		sequences: make(map[string][]FakeResponse),
	}
}

// Script registers the response returned when argv is executed.
func (f *FakeRunner) Script(argv []string, resp FakeResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[strings.Join(argv, " ")] = resp
}

// ScriptSequence registers responses consumed front to back on successive
// executions of argv; the final response repeats.
func (f *FakeRunner) ScriptSequence(argv []string, resps ...FakeResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sequences[strings.Join(argv, " ")] = resps
}

// Calls returns the command lines executed so far, in order.
func (f *FakeRunner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.calls...)
}

// Run returns the scripted response for argv, or ErrToolUnavailable when
// nothing was scripted for it.
func (f *FakeRunner) Run(ctx context.Context, argv []string, dir string) (*ExecResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := strings.Join(argv, " ")
	f.mu.Lock()
	f.calls = append(f.calls, key)
	resp, ok := f.responses[key]
	if seq, has := f.sequences[key]; has && len(seq) > 0 {
		resp, ok = seq[0], true
		if len(seq) > 1 {
			f.sequences[key] = seq[1:]
		}
	}
	f.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolUnavailable, argv[0])
	}
	if resp.Err != nil {
		return nil, resp.Err
	}

	return &ExecResult{
		Command:  append([]string{}, argv...),
		Workdir:  dir,
		Stdout:   resp.Stdout,
		Stderr:   resp.Stderr,
		ExitCode: resp.ExitCode,
	}, nil
}
