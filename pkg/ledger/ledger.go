// Package ledger maintains the single evolving record of a change-set's
// validation state: a gates table edited in place, an append-only hop log,
// and a decision block overwritten by each routing pass.
package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zen-systems/mergeflow/pkg/gate"
)

// ErrArchived indicates a write against an archived (read-only) ledger.
var ErrArchived = errors.New("ledger archived")

// State is the change-set's current routing state.
type State string

const (
	StateInProgress State = "in-progress"
	StateReady      State = "ready"
	StateBlocked    State = "blocked"
	StateMerged     State = "merged"
)

// Decision is the single current routing decision for the change-set.
type Decision struct {
	State      State  `json:"state"`
	Rationale  string `json:"rationale"`
	NextAction string `json:"next_action,omitempty"`
}

// HopEntry is one step in the replayable audit trail.
type HopEntry struct {
	Seq       int       `json:"seq"`
	Agent     string    `json:"agent"`
	Action    string    `json:"action"`
	Result    string    `json:"result"`
	NextRoute string    `json:"next_route,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Ledger is the running record for one change-set. It is safe for use by a
// single writer at a time; the engine serializes access per change-set.
type Ledger struct {
	mu sync.Mutex

	changeSet string
	headSHA   string

	rowOrder []string
	rows     map[string]*gate.Result
	hopLog   []HopEntry
	decision Decision
	archived bool
}

// New creates a ledger for a change-set entering the flow.
func New(changeSet, headSHA string) *Ledger {
	return &Ledger{
		changeSet: changeSet,
		headSHA:   headSHA,
		rows:      make(map[string]*gate.Result),
		decision:  Decision{State: StateInProgress, Rationale: "flow admitted"},
	}
}

// ChangeSet returns the change-set identifier.
func (l *Ledger) ChangeSet() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.changeSet
}

// HeadSHA returns the SHA the gates table currently describes.
func (l *Ledger) HeadSHA() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.headSHA
}

// UpdateGatesTable replaces the row for res.GateName, keeping first-seen
// row order. Rows are never duplicated no matter how often a gate reruns.
func (l *Ledger) UpdateGatesTable(res *gate.Result) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.archived {
		return ErrArchived
	}
	if res.CommitSHA != l.headSHA {
		return fmt.Errorf("ledger %s: result for %s but head is %s", l.changeSet, res.CommitSHA, l.headSHA)
	}
	if _, seen := l.rows[res.GateName]; !seen {
		l.rowOrder = append(l.rowOrder, res.GateName)
	}
	l.rows[res.GateName] = res
	return nil
}

// AppendHop appends an audit entry. Prior entries are never edited.
func (l *Ledger) AppendHop(agent, action, result, nextRoute string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.archived {
		return ErrArchived
	}
	l.hopLog = append(l.hopLog, HopEntry{
		Seq:       len(l.hopLog) + 1,
		Agent:     agent,
		Action:    action,
		Result:    result,
		NextRoute: nextRoute,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

// SetDecision overwrites the current decision block.
func (l *Ledger) SetDecision(d Decision) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.archived {
		return ErrArchived
	}
	l.decision = d
	if d.State == StateMerged {
		l.archived = true
	}
	return nil
}

// Rotate clears the gates table for a new head SHA after a fresh push. The
// hop log survives rotation; it is the audit trail of the whole run.
func (l *Ledger) Rotate(newSHA string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.archived {
		return ErrArchived
	}
	l.headSHA = newSHA
	l.rowOrder = nil
	l.rows = make(map[string]*gate.Result)
	l.decision = Decision{State: StateInProgress, Rationale: fmt.Sprintf("new head %s admitted", shortSHA(newSHA))}
	return nil
}

// Archive marks the ledger read-only (change-set closed or merged).
func (l *Ledger) Archive() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.archived = true
}

// Archived reports whether the ledger is read-only.
func (l *Ledger) Archived() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.archived
}

// Decision returns the current decision block.
func (l *Ledger) Decision() Decision {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.decision
}

// Gates returns the gates table rows in first-seen order.
func (l *Ledger) Gates() []*gate.Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*gate.Result, 0, len(l.rowOrder))
	for _, name := range l.rowOrder {
		out = append(out, l.rows[name])
	}
	return out
}

// HopLog returns a copy of the audit trail.
func (l *Ledger) HopLog() []HopEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]HopEntry{}, l.hopLog...)
}

func shortSHA(sha string) string {
	if len(sha) > 10 {
		return sha[:10]
	}
	return sha
}
