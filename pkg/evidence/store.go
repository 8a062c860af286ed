// Package evidence persists per-gate results keyed by (gate name, commit SHA).
//
// A store serves exactly one change-set. Writes are serialized within the
// store; distinct change-sets use distinct stores and never contend. The
// store is pinned to the change-set's current head SHA: results for any
// other SHA are rejected, which is how in-flight gates for a superseded
// push are discarded.
package evidence

import (
	"errors"
	"fmt"
	"sync"

	"github.com/zen-systems/mergeflow/pkg/gate"
)

// ErrStoreUnavailable indicates the backing persistence is unreachable.
// Callers retry with bounded backoff rather than dropping evidence.
var ErrStoreUnavailable = errors.New("evidence store unavailable")

// ErrStaleSHA indicates a result for a SHA that is no longer the pinned head.
var ErrStaleSHA = errors.New("stale commit sha")

// Store is the durable record of gate results for one change-set.
type Store interface {
	// Pin rotates the store to a new head SHA. Results for prior SHAs are
	// retained read-only; new writes must match the pinned SHA.
	Pin(sha string)

	// Pinned returns the currently pinned head SHA.
	Pinned() string

	// Put inserts or supersedes the result for (gate name, commit SHA).
	// Returns ErrStaleSHA when the result's SHA is not the pinned head.
	Put(res *gate.Result) error

	// Get returns the latest result for (gateName, sha).
	Get(gateName, sha string) (*gate.Result, bool)

	// All returns results for sha in first-seen gate order.
	All(sha string) []*gate.Result
}

// MemoryStore keeps results in memory. Used for tests and dry runs.
type MemoryStore struct {
	mu     sync.Mutex
	pinned string
	// order tracks first-seen gate names per SHA for stable rendering.
	order   map[string][]string
	results map[string]map[string]*gate.Result
}

// NewMemoryStore creates a store pinned to sha.
func NewMemoryStore(sha string) *MemoryStore {
	return &MemoryStore{
		pinned:  sha,
		order:   make(map[string][]string),
		results: make(map[string]map[string]*gate.Result),
	}
}

// Pin rotates the pinned head SHA.
func (s *MemoryStore) Pin(sha string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pinned = sha
}

// Pinned returns the current head SHA.
func (s *MemoryStore) Pinned() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pinned
}

// Put records res, superseding any prior result for the same gate and SHA.
// Last writer wins; an older timestamp never overwrites a newer one.
func (s *MemoryStore) Put(res *gate.Result) error {
	if err := res.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if res.CommitSHA != s.pinned {
		return fmt.Errorf("%w: got %s, head is %s", ErrStaleSHA, res.CommitSHA, s.pinned)
	}

	byGate, ok := s.results[res.CommitSHA]
	if !ok {
		byGate = make(map[string]*gate.Result)
		s.results[res.CommitSHA] = byGate
	}

	if prev, exists := byGate[res.GateName]; exists {
		if prev.Timestamp.After(res.Timestamp) {
			return nil
		}
	} else {
		s.order[res.CommitSHA] = append(s.order[res.CommitSHA], res.GateName)
	}
	byGate[res.GateName] = res
	return nil
}

// Get returns the latest result for (gateName, sha).
func (s *MemoryStore) Get(gateName, sha string) (*gate.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.results[sha][gateName]
	return res, ok
}

// All returns sha's results in first-seen gate order.
func (s *MemoryStore) All(sha string) []*gate.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := s.order[sha]
	out := make([]*gate.Result, 0, len(names))
	for _, name := range names {
		if res, ok := s.results[sha][name]; ok {
			out = append(out, res)
		}
	}
	return out
}
