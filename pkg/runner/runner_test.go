package runner

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalRunnerCapturesOutput(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	r := NewLocalRunner()
	res, err := r.Run(context.Background(), []string{"sh", "-c", "echo out; echo err >&2"}, "")
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "out\n", res.Stdout)
	assert.Equal(t, "err\n", res.Stderr)
}

func TestLocalRunnerNonzeroExitIsNotError(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	r := NewLocalRunner()
	res, err := r.Run(context.Background(), []string{"sh", "-c", "exit 3"}, "")
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
}

func TestLocalRunnerMissingToolUnavailable(t *testing.T) {
	r := NewLocalRunner()
	_, err := r.Run(context.Background(), []string{"definitely-not-a-real-binary-xyz"}, "")
	require.ErrorIs(t, err, ErrToolUnavailable)
}

func TestLocalRunnerEmptyCommand(t *testing.T) {
	r := NewLocalRunner()
	_, err := r.Run(context.Background(), nil, "")
	assert.Error(t, err)
}

func TestLocalRunnerHonorsDeadline(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	r := NewLocalRunner()
	_, err := r.Run(ctx, []string{"sleep", "5"}, "")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLocalRunnerTruncatesOutput(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	r := &LocalRunner{MaxOutput: 10}
	res, err := r.Run(context.Background(), []string{"sh", "-c", "printf '0123456789abcdef'"}, "")
	require.NoError(t, err)
	assert.Equal(t, "0123456789", res.Stdout)
}

func TestFakeRunnerScripting(t *testing.T) {
	f := NewFakeRunner()
	f.Script([]string{"go", "test"}, FakeResponse{Stdout: "ok", ExitCode: 0})

	res, err := f.Run(context.Background(), []string{"go", "test"}, "")
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Stdout)

	_, err = f.Run(context.Background(), []string{"unscripted"}, "")
	require.ErrorIs(t, err, ErrToolUnavailable)

	calls := f.Calls()
	require.Len(t, calls, 2)
	assert.True(t, strings.HasPrefix(calls[0], "go test"))
}

func TestFakeRunnerSequenceRepeatsLast(t *testing.T) {
	f := NewFakeRunner()
	f.ScriptSequence([]string{"go", "test"},
		FakeResponse{Stderr: "1 failing", ExitCode: 1},
		FakeResponse{Stdout: "ok"})

	first, err := f.Run(context.Background(), []string{"go", "test"}, "")
	require.NoError(t, err)
	assert.Equal(t, 1, first.ExitCode)

	for i := 0; i < 2; i++ {
		res, err := f.Run(context.Background(), []string{"go", "test"}, "")
		require.NoError(t, err)
		assert.Equal(t, 0, res.ExitCode)
	}
}
