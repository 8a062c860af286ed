package ledger

import (
	"fmt"
	"strings"
)

// Anchor markers delimit the three independently editable regions of the
// rendered ledger. External render targets (PR comments) must keep the
// regions distinct: gates and decision are replaced in place, hops only grow.
const (
	MarkerHeader = "<!-- mergeflow:ledger -->"

	gatesBegin    = "<!-- mergeflow:gates:begin -->"
	gatesEnd      = "<!-- mergeflow:gates:end -->"
	hopsBegin     = "<!-- mergeflow:hops:begin -->"
	hopsEnd       = "<!-- mergeflow:hops:end -->"
	decisionBegin = "<!-- mergeflow:decision:begin -->"
	decisionEnd   = "<!-- mergeflow:decision:end -->"
)

// Render produces the ledger's external document form. Output is a pure
// function of ledger state: same state, same bytes.
func (l *Ledger) Render() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var sb strings.Builder
	sb.WriteString(MarkerHeader + "\n")
	fmt.Fprintf(&sb, "## Validation ledger: %s @ %s\n\n", l.changeSet, shortSHA(l.headSHA))

	sb.WriteString(gatesBegin + "\n")
	sb.WriteString(l.renderGatesLocked())
	sb.WriteString(gatesEnd + "\n\n")

	sb.WriteString(hopsBegin + "\n")
	sb.WriteString(l.renderHopsLocked())
	sb.WriteString(hopsEnd + "\n\n")

	sb.WriteString(decisionBegin + "\n")
	sb.WriteString(l.renderDecisionLocked())
	sb.WriteString(decisionEnd + "\n")

	return sb.String()
}

func (l *Ledger) renderGatesLocked() string {
	var sb strings.Builder
	sb.WriteString("| gate | outcome | evidence |\n")
	sb.WriteString("| --- | --- | --- |\n")
	for _, name := range l.rowOrder {
		res := l.rows[name]
		detail := res.Evidence
		if detail == "" {
			detail = res.Reason
		}
		fmt.Fprintf(&sb, "| %s | %s | %s |\n", name, res.Outcome, escapeCell(detail))
	}
	return sb.String()
}

func (l *Ledger) renderHopsLocked() string {
	var sb strings.Builder
	for _, hop := range l.hopLog {
		fmt.Fprintf(&sb, "%d. `%s` %s: %s", hop.Seq, hop.Agent, hop.Action, hop.Result)
		if hop.NextRoute != "" {
			fmt.Fprintf(&sb, " -> %s", hop.NextRoute)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func (l *Ledger) renderDecisionLocked() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "**state:** %s\n\n**rationale:** %s\n", l.decision.State, l.decision.Rationale)
	if l.decision.NextAction != "" {
		fmt.Fprintf(&sb, "\n**next:** %s\n", l.decision.NextAction)
	}
	return sb.String()
}

// escapeCell keeps free-form evidence from breaking the table layout.
func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", "\\|")
}

// ReplaceRegion swaps the body between a region's begin/end markers inside
// doc, returning the updated document. Used by render targets that edit an
// existing comment rather than rewriting it wholesale.
func ReplaceRegion(doc, begin, end, body string) (string, error) {
	start := strings.Index(doc, begin)
	stop := strings.Index(doc, end)
	if start < 0 || stop < 0 || stop < start {
		return "", fmt.Errorf("ledger region %s not found", begin)
	}
	return doc[:start+len(begin)] + "\n" + body + doc[stop:], nil
}

// GatesRegionMarkers returns the markers of the replaceable gates region.
func GatesRegionMarkers() (string, string) { return gatesBegin, gatesEnd }

// DecisionRegionMarkers returns the markers of the replaceable decision region.
func DecisionRegionMarkers() (string, string) { return decisionBegin, decisionEnd }

// HopsRegionMarkers returns the markers of the append-only hops region.
func HopsRegionMarkers() (string, string) { return hopsBegin, hopsEnd }
