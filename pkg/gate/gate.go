package gate

import (
	"context"
	"fmt"
	"time"
)

// Outcome classifies a gate execution.
type Outcome string

const (
	// Pass means the validation succeeded.
	Pass Outcome = "pass"
	// Fail means the gate's own check logic found a real breach.
	Fail Outcome = "fail"
	// Skip means the gate did not run; a Skip always carries a reason.
	Skip Outcome = "skip"
)

// Well-known skip reasons.
const (
	ReasonToolUnavailable     = "tool-unavailable"
	ReasonBlockedByDependency = "blocked-by-dependency"
	ReasonBoundedByPolicy     = "bounded-by-policy"
)

// Result is the immutable record of one gate execution. One active Result
// exists per (gate name, commit SHA); re-running supersedes the prior one.
type Result struct {
	GateName  string  `json:"gate_name"`
	CommitSHA string  `json:"commit_sha"`
	Outcome   Outcome `json:"outcome"`
	Reason    string  `json:"reason,omitempty"`
	Evidence  string  `json:"evidence,omitempty"`
	// FixForward records the repair command that ran before the check, with
	// its exit code. Empty when the gate declares none or the tool was
	// unavailable. Repairs mutate the tree, so callers audit them as a
	// distinct hop rather than burying them in the evidence string.
	FixForward string    `json:"fix_forward,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Validate checks the result's internal consistency.
func (r *Result) Validate() error {
	if r.GateName == "" {
		return fmt.Errorf("gate result missing gate name")
	}
	if r.CommitSHA == "" {
		return fmt.Errorf("gate result for %s missing commit sha", r.GateName)
	}
	switch r.Outcome {
	case Pass, Fail:
		if r.Evidence == "" {
			return fmt.Errorf("gate %s: %s result requires evidence", r.GateName, r.Outcome)
		}
	case Skip:
		if r.Reason == "" {
			return fmt.Errorf("gate %s: skip requires a reason", r.GateName)
		}
	default:
		return fmt.Errorf("gate %s: unknown outcome %q", r.GateName, r.Outcome)
	}
	return nil
}

// ExecContext carries everything a gate may read during one invocation.
// It is built fresh per invocation; gates never consult ambient state.
type ExecContext struct {
	CommitSHA string
	Workdir   string
	// Prior holds the latest results of gates that already ran for this SHA.
	Prior map[string]*Result
	// Config is the gate's threshold bag from the flow manifest.
	Config map[string]string
	DryRun bool
}

// Gate executes one validation against a commit and produces exactly one
// Result. Implementations must be idempotent: two runs against the same SHA
// with no external state change classify identically.
type Gate interface {
	// Name returns the gate identifier, unique within a flow.
	Name() string

	// Requires lists gates that must have passed before this gate runs.
	Requires() []string

	// Run executes the validation. Tool-level failures are expressed in the
	// Result (Skip/Fail); an error is reserved for internal faults.
	Run(ctx context.Context, ec ExecContext) (*Result, error)
}

// NewPassResult creates a passing result with the given evidence.
func NewPassResult(name, sha, evidence string) *Result {
	return &Result{GateName: name, CommitSHA: sha, Outcome: Pass, Evidence: evidence, Timestamp: time.Now().UTC()}
}

// NewFailResult creates a failing result with evidence quantifying the breach.
func NewFailResult(name, sha, evidence string) *Result {
	return &Result{GateName: name, CommitSHA: sha, Outcome: Fail, Evidence: evidence, Timestamp: time.Now().UTC()}
}

// NewSkipResult creates a skipped result with a mandatory reason.
func NewSkipResult(name, sha, reason string) *Result {
	return &Result{GateName: name, CommitSHA: sha, Outcome: Skip, Reason: reason, Timestamp: time.Now().UTC()}
}

// BlockedBy returns true along with the blocking gate name when any required
// dependency of g is missing or did not pass in prior.
func BlockedBy(g Gate, prior map[string]*Result) (string, bool) {
	for _, dep := range g.Requires() {
		res, ok := prior[dep]
		if !ok || res.Outcome != Pass {
			return dep, true
		}
	}
	return "", false
}
