// Package provider abstracts the version-control host the engine reports to.
// The engine only needs a head SHA, idempotent check receipts, one editable
// ledger comment, and labels; everything else about the host is out of scope.
package provider

import (
	"context"
	"errors"
	"sync"

	"github.com/zen-systems/mergeflow/pkg/gate"
)

// ErrProviderUnavailable indicates an infrastructure failure talking to the
// host. The engine retries with bounded backoff, then escalates.
var ErrProviderUnavailable = errors.New("provider unavailable")

// Conclusion is a host-facing check verdict.
type Conclusion string

const (
	ConclusionSuccess Conclusion = "success"
	ConclusionFailure Conclusion = "failure"
	ConclusionSkipped Conclusion = "skipped"
)

// ConclusionFor maps a gate outcome onto a check conclusion.
func ConclusionFor(outcome gate.Outcome) Conclusion {
	switch outcome {
	case gate.Pass:
		return ConclusionSuccess
	case gate.Fail:
		return ConclusionFailure
	default:
		return ConclusionSkipped
	}
}

// Provider is the external version-control collaborator.
type Provider interface {
	// HeadSHA returns the change-set's current head revision.
	HeadSHA(ctx context.Context, changeSet string) (string, error)

	// UpsertCheck creates or updates the check receipt for (name, sha).
	// Idempotent: the existing run is found and patched, never duplicated.
	UpsertCheck(ctx context.Context, changeSet, name, sha string, conclusion Conclusion, summary string) error

	// UpsertComment finds the comment carrying marker and replaces its body,
	// creating it when absent. The body is the rendered ledger document.
	UpsertComment(ctx context.Context, changeSet, marker, body string) error

	// ApplyLabels adds the given labels to the change-set.
	ApplyLabels(ctx context.Context, changeSet string, labels []string) error
}

// Noop discards all writes and serves a fixed head SHA. Used for --dry-run,
// where gates execute but no external receipts are written.
type Noop struct {
	mu   sync.Mutex
	head string
}

// NewNoop creates a noop provider answering head queries with sha.
func NewNoop(sha string) *Noop {
	return &Noop{head: sha}
}

// SetHead changes the answer to subsequent HeadSHA calls.
func (n *Noop) SetHead(sha string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.head = sha
}

// HeadSHA returns the configured head.
func (n *Noop) HeadSHA(ctx context.Context, changeSet string) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.head, nil
}

// UpsertCheck discards the receipt.
func (n *Noop) UpsertCheck(ctx context.Context, changeSet, name, sha string, conclusion Conclusion, summary string) error {
	return nil
}

// UpsertComment discards the document.
func (n *Noop) UpsertComment(ctx context.Context, changeSet, marker, body string) error {
	return nil
}

// ApplyLabels discards the labels.
func (n *Noop) ApplyLabels(ctx context.Context, changeSet string, labels []string) error {
	return nil
}
