// Package report renders the per-session security report. The JSON form is
// the contract; the Markdown form is produced mechanically from the same
// structure.
package report

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sentinelsec/sentinel/internal/forensic"
	"github.com/sentinelsec/sentinel/internal/risk"
)

// Summary is the headline numbers of a session.
type Summary struct {
	Duration        string `json:"duration"`
	TotalActions    int    `json:"totalActions"`
	ThreatsDetected int    `json:"threatsDetected"`
	ActionsBlocked  int    `json:"actionsBlocked"`
	FalsePositives  int    `json:"falsePositives"`
}

// Scores collects the final score state.
type Scores struct {
	PeakRisk   float64 `json:"peakRisk"`
	FinalRisk  float64 `json:"finalRisk"`
	FinalTrust float64 `json:"finalTrust"`
}

// Decision is one policy decision in pipeline order.
type Decision struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Target    string    `json:"target,omitempty"`
	Decision  string    `json:"decision"`
	Rule      string    `json:"rule,omitempty"`
	Risk      float64   `json:"risk"`
}

// Report is the exported session report.
type Report struct {
	SessionID       string                `json:"sessionId"`
	GeneratedAt     time.Time             `json:"generatedAt"`
	Summary         Summary               `json:"summary"`
	Scores          Scores                `json:"scores"`
	ThreatBreakdown map[string]int        `json:"threatBreakdown"`
	PolicyDecisions []Decision            `json:"policyDecisions"`
	RiskEvolution   []risk.EvolutionPoint `json:"riskEvolution"`
	CriticalMoments []forensic.Moment     `json:"criticalMoments"`
}

// JSON renders the report as indented JSON.
func (r Report) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// Markdown renders the report for humans. The output is derived field by
// field from the JSON structure, so the two never disagree.
func (r Report) Markdown() string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Session Security Report\n\n")
	fmt.Fprintf(&b, "- **Session:** `%s`\n", r.SessionID)
	fmt.Fprintf(&b, "- **Generated:** %s\n\n", r.GeneratedAt.UTC().Format(time.RFC3339))

	fmt.Fprintf(&b, "## Summary\n\n")
	fmt.Fprintf(&b, "| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Duration | %s |\n", r.Summary.Duration)
	fmt.Fprintf(&b, "| Total actions | %d |\n", r.Summary.TotalActions)
	fmt.Fprintf(&b, "| Threats detected | %d |\n", r.Summary.ThreatsDetected)
	fmt.Fprintf(&b, "| Actions blocked | %d |\n", r.Summary.ActionsBlocked)
	fmt.Fprintf(&b, "| False positives | %d |\n\n", r.Summary.FalsePositives)

	fmt.Fprintf(&b, "## Scores\n\n")
	fmt.Fprintf(&b, "- Peak risk: %.1f\n", r.Scores.PeakRisk)
	fmt.Fprintf(&b, "- Final risk: %.1f\n", r.Scores.FinalRisk)
	fmt.Fprintf(&b, "- Final trust: %.1f\n\n", r.Scores.FinalTrust)

	if len(r.ThreatBreakdown) > 0 {
		fmt.Fprintf(&b, "## Threat Breakdown\n\n")
		kinds := make([]string, 0, len(r.ThreatBreakdown))
		for k := range r.ThreatBreakdown {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			fmt.Fprintf(&b, "- %s: %d\n", k, r.ThreatBreakdown[k])
		}
		b.WriteString("\n")
	}

	if len(r.PolicyDecisions) > 0 {
		fmt.Fprintf(&b, "## Policy Decisions\n\n")
		fmt.Fprintf(&b, "| Time | Action | Target | Decision | Rule | Risk |\n|---|---|---|---|---|---|\n")
		for _, d := range r.PolicyDecisions {
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %.0f |\n",
				d.Timestamp.UTC().Format(time.RFC3339), d.Action, d.Target, d.Decision, d.Rule, d.Risk)
		}
		b.WriteString("\n")
	}

	if len(r.CriticalMoments) > 0 {
		fmt.Fprintf(&b, "## Critical Moments\n\n")
		for _, m := range r.CriticalMoments {
			fmt.Fprintf(&b, "- [%s] **%s** (severity %d): %s\n",
				m.Timestamp.UTC().Format(time.RFC3339), m.Kind, m.Severity, m.Description)
		}
		b.WriteString("\n")
	}

	if len(r.RiskEvolution) > 0 {
		fmt.Fprintf(&b, "## Risk Evolution\n\n")
		for _, p := range r.RiskEvolution {
			fmt.Fprintf(&b, "- %s: %.1f (%s)\n",
				p.Timestamp.UTC().Format(time.RFC3339), p.Score, p.Level)
		}
	}

	return b.String()
}
