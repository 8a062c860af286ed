package provider

import (
	"context"
	"fmt"
	"sync"
)

// Fake records writes in memory and can script head-SHA changes and
// transient failures. Used in engine tests and demos.
type Fake struct {
	mu sync.Mutex

	heads []string // consumed front to back; last value repeats
	// FailChecks makes the next n UpsertCheck calls fail unavailable.
	failChecks int

	Checks   map[string]Conclusion // key: name@sha
	Comments map[string]string     // key: changeSet
	Labels   map[string][]string   // key: changeSet
}

// NewFake creates a fake provider serving the given head SHA sequence.
func NewFake(heads ...string) *Fake {
	return &Fake{
		heads:    heads,
		Checks:   make(map[string]Conclusion),
		Comments: make(map[string]string),
		Labels:   make(map[string][]string),
	}
}

// FailNextChecks makes the next n check upserts return ErrProviderUnavailable.
func (f *Fake) FailNextChecks(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failChecks = n
}

// HeadSHA serves the scripted head sequence, repeating the final value.
func (f *Fake) HeadSHA(ctx context.Context, changeSet string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.heads) == 0 {
		return "", fmt.Errorf("%w: no head scripted", ErrProviderUnavailable)
	}
	head := f.heads[0]
	if len(f.heads) > 1 {
		f.heads = f.heads[1:]
	}
	return head, nil
}

// UpsertCheck records the latest conclusion for (name, sha).
func (f *Fake) UpsertCheck(ctx context.Context, changeSet, name, sha string, conclusion Conclusion, summary string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failChecks > 0 {
		f.failChecks--
		return fmt.Errorf("%w: scripted check failure", ErrProviderUnavailable)
	}
	f.Checks[name+"@"+sha] = conclusion
	return nil
}

// UpsertComment stores the latest ledger body per change-set.
func (f *Fake) UpsertComment(ctx context.Context, changeSet, marker, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Comments[changeSet] = body
	return nil
}

// ApplyLabels accumulates labels per change-set.
func (f *Fake) ApplyLabels(ctx context.Context, changeSet string, labels []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Labels[changeSet] = append(f.Labels[changeSet], labels...)
	return nil
}
