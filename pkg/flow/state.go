package flow

// State is a per-change-set view of an active flow: which flow runs, the
// ordered required gates, and per-gate loop counters. Never shared between
// change-sets; its owner serializes access.
type State struct {
	flow      *Flow
	changeSet string
	loops     map[string]int
	// escalatedFrom remembers the gate whose failure triggered an active
	// escalation so the run can resume there.
	escalatedFrom string
}

// NewState creates the per-change-set flow state.
func NewState(f *Flow, changeSet string) *State {
	return &State{flow: f, changeSet: changeSet, loops: make(map[string]int)}
}

// Flow returns the read-only flow configuration.
func (s *State) Flow() *Flow { return s.flow }

// ChangeSet returns the owning change-set identifier.
func (s *State) ChangeSet() string { return s.changeSet }

// Loops returns how many times gateName has looped on itself.
func (s *State) Loops(gateName string) int { return s.loops[gateName] }

// RecordLoop increments and returns the loop count for gateName.
func (s *State) RecordLoop(gateName string) int {
	s.loops[gateName]++
	return s.loops[gateName]
}

// LoopExhausted reports whether gateName has hit its self-loop bound.
func (s *State) LoopExhausted(gateName string) bool {
	return s.loops[gateName] >= s.flow.LoopBound(gateName)
}

// ResetLoops clears loop counters, used when a new head SHA restarts the run.
func (s *State) ResetLoops() {
	s.loops = make(map[string]int)
}

// ClearLoop resets gateName's loop counter. A specialist hand-back grants
// the origin gate a fresh retry budget.
func (s *State) ClearLoop(gateName string) {
	delete(s.loops, gateName)
}

// SetEscalatedFrom records the gate that caused an escalation.
func (s *State) SetEscalatedFrom(gateName string) { s.escalatedFrom = gateName }

// EscalatedFrom returns the origin gate of the active escalation, if any.
func (s *State) EscalatedFrom() string { return s.escalatedFrom }
