// Package orchestrate drives a change-set through a flow: invoke a gate,
// record evidence, consult the router, repeat until a terminal state. Gates
// within one change-set run strictly sequentially; many change-sets run
// concurrently, each with its own store, ledger, and flow state.
package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zen-systems/mergeflow/pkg/evidence"
	"github.com/zen-systems/mergeflow/pkg/flow"
	"github.com/zen-systems/mergeflow/pkg/gate"
	"github.com/zen-systems/mergeflow/pkg/ledger"
	"github.com/zen-systems/mergeflow/pkg/metrics"
	"github.com/zen-systems/mergeflow/pkg/provider"
	"github.com/zen-systems/mergeflow/pkg/router"
)

// Phase is the orchestrator's position in its state machine.
type Phase string

const (
	PhasePending Phase = "pending"
	PhaseRunning Phase = "running"
	PhaseReady   Phase = "ready"
	PhaseBlocked Phase = "blocked"
	PhaseMerged  Phase = "merged"
)

// RetryPolicy bounds retries against the store and provider.
type RetryPolicy struct {
	Attempts    int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryPolicy retries infrastructure writes twice with short backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 2, BaseBackoff: 200 * time.Millisecond, MaxBackoff: 2 * time.Second}
}

// Options configures an orchestrator for one change-set.
type Options struct {
	ChangeSet string
	Flow      *flow.Flow
	Registry  *gate.Registry
	Store     evidence.Store
	Provider  provider.Provider
	Workdir   string
	DryRun    bool
	Retry     RetryPolicy
	Logger    *zap.Logger
}

// Report summarizes a finished run.
type Report struct {
	RunID     string
	ChangeSet string
	Flow      string
	HeadSHA   string
	Phase     Phase
	Decision  ledger.Decision
	Ledger    *ledger.Ledger
}

// Orchestrator runs one change-set from admission to a terminal state.
type Orchestrator struct {
	opts  Options
	state *flow.State
	table *router.Table
	led   *ledger.Ledger
	log   *zap.Logger

	head      string
	phase     Phase
	skipNotes []string
}

// New creates an orchestrator. The store must already be pinned to the
// change-set's admission SHA, or left empty to pin on first head query.
func New(opts Options) (*Orchestrator, error) {
	if opts.ChangeSet == "" {
		return nil, fmt.Errorf("orchestrate: change-set id is required")
	}
	if opts.Flow == nil || opts.Registry == nil || opts.Store == nil || opts.Provider == nil {
		return nil, fmt.Errorf("orchestrate: flow, registry, store, and provider are required")
	}
	if opts.Retry.Attempts == 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &Orchestrator{
		opts:  opts,
		state: flow.NewState(opts.Flow, opts.ChangeSet),
		table: opts.Flow.Table(),
		log:   log.With(zap.String("change_set", opts.ChangeSet), zap.String("flow", opts.Flow.Name)),
		phase: PhasePending,
	}, nil
}

// Phase returns the current state-machine phase.
func (o *Orchestrator) Phase() Phase { return o.phase }

// Run drives the flow to a terminal state. The returned error is reserved
// for internal orchestrator faults (store exhaustion, malformed routing);
// Blocked and Merged are successful terminations.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	runID := uuid.NewString()

	head, err := o.opts.Provider.HeadSHA(ctx, o.opts.ChangeSet)
	if err != nil {
		return nil, fmt.Errorf("admit %s: %w", o.opts.ChangeSet, err)
	}
	o.head = head
	o.opts.Store.Pin(head)
	o.led = ledger.New(o.opts.ChangeSet, head)
	o.phase = PhaseRunning

	o.log.Info("flow admitted", zap.String("run_id", runID), zap.String("head", head))

	seq := o.opts.Flow.Sequence()
	if len(seq) == 0 {
		return nil, fmt.Errorf("flow %s has no sequence gates", o.opts.Flow.Name)
	}
	current := seq[0]

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if restarted, err := o.refreshHead(ctx); err != nil {
			return nil, err
		} else if restarted {
			current = seq[0]
			continue
		}

		g, ok := o.opts.Registry.Get(current)
		if !ok {
			return nil, fmt.Errorf("flow %s routed to unknown gate %s", o.opts.Flow.Name, current)
		}

		res, err := o.runGate(ctx, g)
		if err != nil {
			return nil, err
		}

		// A push that arrived while the gate ran cancels this result: the
		// head rotation re-pins the store, which rejects the stale SHA.
		if restarted, err := o.refreshHead(ctx); err != nil {
			return nil, err
		} else if restarted {
			if perr := o.opts.Store.Put(res); errors.Is(perr, evidence.ErrStaleSHA) {
				metrics.StaleResults.WithLabelValues(o.opts.Flow.Name).Inc()
				o.log.Info("discarded stale gate result", zap.String("gate", current), zap.String("sha", res.CommitSHA))
			}
			current = seq[0]
			continue
		}

		if perr := o.persist(ctx, res); perr != nil {
			return o.finalize(ctx, runID, router.TerminalBlocked,
				fmt.Sprintf("evidence store unavailable while recording gate %s: %v", current, perr))
		}

		metrics.GateOutcomes.WithLabelValues(o.opts.Flow.Name, current, string(res.Outcome)).Inc()
		if res.Outcome == gate.Skip && !o.opts.Flow.HardRequired(current) {
			o.skipNotes = append(o.skipNotes, fmt.Sprintf("%s skipped: %s", current, res.Reason))
		}

		directive, err := o.route(current, res)
		if err != nil {
			return nil, err
		}

		o.appendHop(current, res, directive)
		if err := o.publish(ctx, res); err != nil {
			return o.finalize(ctx, runID, router.TerminalBlocked,
				fmt.Sprintf("provider unavailable while publishing gate %s: %v", current, err))
		}

		switch directive.Kind {
		case router.Next:
			current = directive.Target
		case router.Loop:
			o.state.RecordLoop(current)
			o.log.Info("gate looped", zap.String("gate", current), zap.Int("count", o.state.Loops(current)))
		case router.Escalate:
			o.state.SetEscalatedFrom(current)
			current = directive.Target
		case router.Finalize:
			return o.finalize(ctx, runID, directive.Target, o.terminalRationale(directive.Target, current, res))
		default:
			return nil, fmt.Errorf("unknown directive kind %q", directive.Kind)
		}
	}
}

// refreshHead re-checks the provider head between gates. A moved head
// rotates the ledger and store and restarts the sequence.
func (o *Orchestrator) refreshHead(ctx context.Context) (bool, error) {
	head, err := o.opts.Provider.HeadSHA(ctx, o.opts.ChangeSet)
	if err != nil {
		// A transient head query failure is not fatal; the pinned head
		// still guards the store.
		o.log.Warn("head query failed", zap.Error(err))
		return false, nil
	}
	if head == o.head {
		return false, nil
	}

	o.log.Info("head moved, restarting flow", zap.String("old", o.head), zap.String("new", head))
	if err := o.led.AppendHop("orchestrator", "head-moved", fmt.Sprintf("%s superseded by %s", o.head, head), ""); err != nil {
		return false, err
	}
	o.head = head
	o.opts.Store.Pin(head)
	o.state.ResetLoops()
	o.skipNotes = nil
	if err := o.led.Rotate(head); err != nil {
		return false, err
	}
	return true, nil
}

func (o *Orchestrator) runGate(ctx context.Context, g gate.Gate) (*gate.Result, error) {
	prior := make(map[string]*gate.Result)
	for _, res := range o.opts.Store.All(o.head) {
		prior[res.GateName] = res
	}

	ec := gate.ExecContext{
		CommitSHA: o.head,
		Workdir:   o.opts.Workdir,
		Prior:     prior,
		Config:    o.opts.Flow.ConfigFor(g.Name()),
		DryRun:    o.opts.DryRun,
	}

	o.log.Info("gate running", zap.String("gate", g.Name()), zap.String("sha", o.head))
	res, err := g.Run(ctx, ec)
	if err != nil {
		return nil, fmt.Errorf("gate %s: %w", g.Name(), err)
	}
	o.log.Info("gate finished",
		zap.String("gate", g.Name()),
		zap.String("outcome", string(res.Outcome)),
		zap.String("reason", res.Reason))
	return res, nil
}

// persist writes res to the store with bounded backoff, then mirrors it
// into the ledger gates table.
func (o *Orchestrator) persist(ctx context.Context, res *gate.Result) error {
	err := o.withRetry(ctx, func() error { return o.opts.Store.Put(res) }, evidence.ErrStoreUnavailable)
	if err != nil {
		return err
	}
	return o.led.UpdateGatesTable(res)
}

// route consults the routing table and enforces the self-loop bound: a gate
// whose loops are exhausted is forced to Escalate when the table declares a
// specialist for it, and Blocked otherwise. A passing specialist without an
// explicit rule hands control back to the gate that escalated.
func (o *Orchestrator) route(gateName string, res *gate.Result) (router.Directive, error) {
	directive, err := o.table.Decide(gateName, res.Outcome, o.opts.Flow.HardRequired(gateName))
	if err != nil {
		if errors.Is(err, router.ErrNoRoute) && res.Outcome == gate.Pass && o.opts.Flow.IsSpecialist(gateName) {
			if origin := o.state.EscalatedFrom(); origin != "" {
				o.state.SetEscalatedFrom("")
				o.state.ClearLoop(origin)
				o.log.Info("specialist passed, resuming origin gate",
					zap.String("specialist", gateName), zap.String("gate", origin))
				return router.Directive{Kind: router.Next, Target: origin}, nil
			}
		}
		return router.Directive{}, err
	}

	if directive.Kind == router.Loop && o.state.LoopExhausted(gateName) {
		if target, ok := o.escalationTarget(gateName); ok {
			o.log.Info("retry bound reached, escalating", zap.String("gate", gateName), zap.String("specialist", target))
			return router.Directive{Kind: router.Escalate, Target: target}, nil
		}
		return router.Directive{Kind: router.Finalize, Target: router.TerminalBlocked}, nil
	}
	return directive, nil
}

// escalationTarget resolves the specialist for gateName: the flow's
// declared escalate_to first, then any Escalate rule in the table.
func (o *Orchestrator) escalationTarget(gateName string) (string, bool) {
	if target, ok := o.opts.Flow.EscalationFor(gateName); ok {
		return target, true
	}
	for _, r := range o.table.Rules() {
		if r.Gate == gateName && r.Then.Kind == router.Escalate {
			return r.Then.Target, true
		}
	}
	for _, r := range o.table.Rules() {
		if r.Gate == router.Wildcard && r.Then.Kind == router.Escalate {
			return r.Then.Target, true
		}
	}
	return "", false
}

// appendHop records the gate execution in the audit trail. A fix-forward
// repair mutated the tree before the check ran, so it gets its own entry
// ahead of the gate-run one.
func (o *Orchestrator) appendHop(gateName string, res *gate.Result, d router.Directive) {
	if res.FixForward != "" {
		if err := o.led.AppendHop(gateName, "fix-forward", res.FixForward, ""); err != nil {
			o.log.Warn("hop append failed", zap.Error(err))
		}
	}
	result := string(res.Outcome)
	if res.Reason != "" {
		result = fmt.Sprintf("%s (%s)", res.Outcome, res.Reason)
	}
	next := string(d.Kind)
	if d.Target != "" {
		next = fmt.Sprintf("%s:%s", d.Kind, d.Target)
	}
	if err := o.led.AppendHop(gateName, "gate-run", result, next); err != nil {
		o.log.Warn("hop append failed", zap.Error(err))
	}
}

// publish pushes the gate's check receipt and the refreshed ledger document
// to the provider. Skipped entirely in dry-run mode.
func (o *Orchestrator) publish(ctx context.Context, res *gate.Result) error {
	if o.opts.DryRun {
		return nil
	}

	summary := res.Evidence
	if summary == "" {
		summary = res.Reason
	}
	err := o.withRetry(ctx, func() error {
		return o.opts.Provider.UpsertCheck(ctx, o.opts.ChangeSet, res.GateName, res.CommitSHA,
			provider.ConclusionFor(res.Outcome), summary)
	}, provider.ErrProviderUnavailable)
	if err != nil {
		return err
	}

	return o.withRetry(ctx, func() error {
		return o.opts.Provider.UpsertComment(ctx, o.opts.ChangeSet, ledger.MarkerHeader, o.led.Render())
	}, provider.ErrProviderUnavailable)
}

func (o *Orchestrator) terminalRationale(terminal, gateName string, res *gate.Result) string {
	var rationale string
	switch terminal {
	case router.TerminalMerged, router.TerminalReady:
		names := make([]string, 0)
		for _, row := range o.led.Gates() {
			if row.Outcome == gate.Pass {
				names = append(names, row.GateName)
			}
		}
		rationale = fmt.Sprintf("gates passed: %s", joinOr(names, "none"))
	default:
		detail := res.Evidence
		if detail == "" {
			detail = res.Reason
		}
		rationale = fmt.Sprintf("blocked by gate %s: %s", gateName, detail)
	}
	for _, note := range o.skipNotes {
		rationale += "; " + note
	}
	return rationale
}

// finalize writes the terminal decision, applies labels, and publishes the
// final ledger before the run ends.
func (o *Orchestrator) finalize(ctx context.Context, runID, terminal, rationale string) (*Report, error) {
	var state ledger.State
	switch terminal {
	case router.TerminalMerged:
		o.phase = PhaseMerged
		state = ledger.StateMerged
	case router.TerminalReady:
		o.phase = PhaseReady
		state = ledger.StateReady
	default:
		o.phase = PhaseBlocked
		state = ledger.StateBlocked
	}

	decision := ledger.Decision{State: state, Rationale: rationale}
	if state == ledger.StateBlocked {
		decision.NextAction = "resolve the blocking gate and push a new revision"
	}
	if err := o.led.SetDecision(decision); err != nil && !errors.Is(err, ledger.ErrArchived) {
		return nil, err
	}

	if !o.opts.DryRun {
		label := "mergeflow:" + string(state)
		if err := o.opts.Provider.ApplyLabels(ctx, o.opts.ChangeSet, []string{label}); err != nil {
			o.log.Warn("label apply failed", zap.Error(err))
		}
		if err := o.opts.Provider.UpsertComment(ctx, o.opts.ChangeSet, ledger.MarkerHeader, o.led.Render()); err != nil {
			o.log.Warn("final ledger publish failed", zap.Error(err))
		}
	}

	metrics.FlowTerminals.WithLabelValues(o.opts.Flow.Name, string(state)).Inc()
	o.log.Info("flow terminal",
		zap.String("run_id", runID),
		zap.String("state", string(state)),
		zap.String("rationale", rationale))

	return &Report{
		RunID:     runID,
		ChangeSet: o.opts.ChangeSet,
		Flow:      o.opts.Flow.Name,
		HeadSHA:   o.head,
		Phase:     o.phase,
		Decision:  o.led.Decision(),
		Ledger:    o.led,
	}, nil
}

// withRetry retries fn with exponential backoff while it fails with the
// given retryable sentinel. Other errors return immediately.
func (o *Orchestrator) withRetry(ctx context.Context, fn func() error, retryable error) error {
	backoff := o.opts.Retry.BaseBackoff
	var err error
	for attempt := 0; attempt <= o.opts.Retry.Attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
			if backoff > o.opts.Retry.MaxBackoff {
				backoff = o.opts.Retry.MaxBackoff
			}
		}
		err = fn()
		if err == nil || !errors.Is(err, retryable) {
			return err
		}
	}
	return err
}

func joinOr(values []string, empty string) string {
	if len(values) == 0 {
		return empty
	}
	out := values[0]
	for _, v := range values[1:] {
		out += ", " + v
	}
	return out
}
