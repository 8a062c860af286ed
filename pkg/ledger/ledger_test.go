package ledger

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zen-systems/mergeflow/pkg/gate"
)

func TestGatesTableSingleRowPerGate(t *testing.T) {
	l := New("acme/widgets#42", "abc123")

	require.NoError(t, l.UpdateGatesTable(gate.NewFailResult("tests", "abc123", "2 failures")))
	require.NoError(t, l.UpdateGatesTable(gate.NewFailResult("tests", "abc123", "1 failure")))
	require.NoError(t, l.UpdateGatesTable(gate.NewPassResult("tests", "abc123", "all green")))

	rows := l.Gates()
	require.Len(t, rows, 1)
	assert.Equal(t, gate.Pass, rows[0].Outcome)
}

func TestGatesTableRejectsWrongSHA(t *testing.T) {
	l := New("acme/widgets#42", "abc123")
	err := l.UpdateGatesTable(gate.NewPassResult("build", "def456", "ok"))
	assert.Error(t, err)
}

func TestHopLogAppendOnly(t *testing.T) {
	l := New("acme/widgets#42", "abc123")

	require.NoError(t, l.AppendHop("build", "gate-run", "fail", "escalate:architecture-review"))
	first := l.HopLog()[0]

	require.NoError(t, l.AppendHop("architecture-review", "gate-run", "pass", "next:build"))
	require.NoError(t, l.AppendHop("build", "gate-run", "pass", "next:tests"))

	hops := l.HopLog()
	require.Len(t, hops, 3)
	assert.Equal(t, first, hops[0], "existing entries never change")
	for i, hop := range hops {
		assert.Equal(t, i+1, hop.Seq)
	}
}

func TestDecisionOverwritten(t *testing.T) {
	l := New("acme/widgets#42", "abc123")

	require.NoError(t, l.SetDecision(Decision{State: StateInProgress, Rationale: "running tests"}))
	require.NoError(t, l.SetDecision(Decision{State: StateBlocked, Rationale: "tests failed"}))

	d := l.Decision()
	assert.Equal(t, StateBlocked, d.State)
	assert.Equal(t, "tests failed", d.Rationale)
}

func TestMergedArchivesLedger(t *testing.T) {
	l := New("acme/widgets#42", "abc123")
	require.NoError(t, l.SetDecision(Decision{State: StateMerged, Rationale: "all gates passed"}))

	assert.True(t, l.Archived())
	assert.ErrorIs(t, l.UpdateGatesTable(gate.NewPassResult("build", "abc123", "ok")), ErrArchived)
	assert.ErrorIs(t, l.AppendHop("build", "gate-run", "pass", ""), ErrArchived)
	assert.ErrorIs(t, l.SetDecision(Decision{State: StateReady}), ErrArchived)
	assert.ErrorIs(t, l.Rotate("def456"), ErrArchived)
}

func TestRotateClearsGatesKeepsHops(t *testing.T) {
	l := New("acme/widgets#42", "abc123")
	require.NoError(t, l.UpdateGatesTable(gate.NewPassResult("build", "abc123", "ok")))
	require.NoError(t, l.AppendHop("build", "gate-run", "pass", "next:tests"))

	require.NoError(t, l.Rotate("def456"))

	assert.Empty(t, l.Gates())
	assert.Len(t, l.HopLog(), 1)
	assert.Equal(t, "def456", l.HeadSHA())
	assert.Equal(t, StateInProgress, l.Decision().State)
}

func TestRenderDeterministic(t *testing.T) {
	l := New("acme/widgets#42", "abc123")
	require.NoError(t, l.UpdateGatesTable(gate.NewPassResult("build", "abc123", "ok")))
	require.NoError(t, l.UpdateGatesTable(gate.NewFailResult("tests", "abc123", "boom | with pipe")))
	require.NoError(t, l.AppendHop("build", "gate-run", "pass", "next:tests"))
	require.NoError(t, l.SetDecision(Decision{State: StateInProgress, Rationale: "tests failing"}))

	first := l.Render()
	second := l.Render()
	assert.Equal(t, first, second)

	assert.Contains(t, first, MarkerHeader)
	assert.Contains(t, first, "| build | pass | ok |")
	assert.Contains(t, first, `boom \| with pipe`)

	for _, marker := range []string{"mergeflow:gates:begin", "mergeflow:hops:begin", "mergeflow:decision:begin"} {
		assert.Contains(t, first, marker)
	}
}

func TestReplaceRegion(t *testing.T) {
	l := New("acme/widgets#42", "abc123")
	require.NoError(t, l.UpdateGatesTable(gate.NewPassResult("build", "abc123", "ok")))
	doc := l.Render()

	begin, end := DecisionRegionMarkers()
	updated, err := ReplaceRegion(doc, begin, end, "**state:** blocked\n")
	require.NoError(t, err)
	assert.Contains(t, updated, "**state:** blocked")
	// Untouched regions survive.
	assert.Contains(t, updated, "| build | pass | ok |")
	assert.Equal(t, 1, strings.Count(updated, begin))

	_, err = ReplaceRegion("no markers here", begin, end, "x")
	assert.Error(t, err)
}
