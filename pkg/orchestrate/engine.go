package orchestrate

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/zen-systems/mergeflow/pkg/archive"
	"github.com/zen-systems/mergeflow/pkg/evidence"
	"github.com/zen-systems/mergeflow/pkg/flow"
	"github.com/zen-systems/mergeflow/pkg/provider"
	"github.com/zen-systems/mergeflow/pkg/runner"
	"github.com/zen-systems/mergeflow/pkg/workspace"
)

// Engine runs many change-sets through a flow concurrently. Each change-set
// gets its own store, ledger, and flow state; the worker pool is sized to
// the number of concurrent change-sets, not to the number of gates, because
// gates within one change-set are strictly sequential.
type Engine struct {
	Flow        *flow.Flow
	Provider    provider.Provider
	Runner      runner.Runner
	Workdir     string
	EvidenceDir string
	Concurrency int
	DryRun      bool
	Retry       RetryPolicy
	Logger      *zap.Logger

	// Isolate runs each change-set's gates in a scratch copy of Workdir, so
	// fix-forward commands never mutate the shared tree.
	Isolate bool
	// Archive, when set, receives a signed record of every terminal run.
	Archive *archive.Store
}

// EngineResult pairs a change-set with its run outcome.
type EngineResult struct {
	ChangeSet string
	Report    *Report
	Err       error
}

// Run drives all change-sets to terminal states and returns one result per
// change-set, in input order.
func (e *Engine) Run(ctx context.Context, changeSets []string) []EngineResult {
	concurrency := e.Concurrency
	if concurrency <= 0 {
		concurrency = len(changeSets)
	}
	if concurrency < 1 {
		concurrency = 1
	}

	results := make([]EngineResult, len(changeSets))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i, cs := range changeSets {
		wg.Add(1)
		go func(i int, cs string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			report, err := e.runOne(ctx, cs)
			results[i] = EngineResult{ChangeSet: cs, Report: report, Err: err}
		}(i, cs)
	}

	wg.Wait()
	return results
}

func (e *Engine) runOne(ctx context.Context, changeSet string) (*Report, error) {
	store, err := e.newStore(changeSet)
	if err != nil {
		return nil, err
	}

	reg, err := e.Flow.BuildRegistry(e.Runner)
	if err != nil {
		return nil, err
	}

	workdir := e.Workdir
	if e.Isolate && workdir != "" {
		scratch, err := workspace.Clone(workdir)
		if err != nil {
			return nil, fmt.Errorf("isolate %s: %w", changeSet, err)
		}
		defer scratch.Close()
		workdir = scratch.Dir
	}

	o, err := New(Options{
		ChangeSet: changeSet,
		Flow:      e.Flow,
		Registry:  reg,
		Store:     store,
		Provider:  e.Provider,
		Workdir:   workdir,
		DryRun:    e.DryRun,
		Retry:     e.Retry,
		Logger:    e.Logger,
	})
	if err != nil {
		return nil, err
	}

	report, err := o.Run(ctx)
	if err != nil {
		return nil, err
	}
	if e.Archive != nil {
		if aerr := e.archiveRun(report); aerr != nil && e.Logger != nil {
			e.Logger.Warn("run archive failed", zap.String("change_set", changeSet), zap.Error(aerr))
		}
	}
	return report, nil
}

// archiveRun writes the terminal run record to the archive store.
func (e *Engine) archiveRun(report *Report) error {
	_, err := e.Archive.Archive(&archive.Record{
		RunID:     report.RunID,
		ChangeSet: report.ChangeSet,
		Flow:      report.Flow,
		HeadSHA:   report.HeadSHA,
		State:     string(report.Phase),
		Rationale: report.Decision.Rationale,
		Document:  report.Ledger.Render(),
	})
	return err
}

// newStore builds the per-change-set evidence store: file-backed when an
// evidence directory is configured, in-memory otherwise.
func (e *Engine) newStore(changeSet string) (evidence.Store, error) {
	if e.EvidenceDir == "" {
		return evidence.NewMemoryStore(""), nil
	}
	dir := fmt.Sprintf("%s/%s", e.EvidenceDir, sanitize(changeSet))
	return evidence.NewFileStore(dir, "")
}

// sanitize makes a change-set id filesystem safe.
func sanitize(changeSet string) string {
	out := make([]rune, 0, len(changeSet))
	for _, r := range changeSet {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
