// Package detect implements the stateless detection library: pure functions
// that score a piece of evidence (text, DOM subtree, script source, proposed
// action) against pattern and heuristic sets. Pattern tables are compiled
// once at package init; detectors never return errors — malformed input
// yields a zero-score "not detected" result and the pipeline proceeds.
package detect

import "time"

// Severity classifies how dangerous a detection is.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rank maps a severity to an ordinal for comparisons.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// SeverityForScore buckets a 0-100 score into a severity band.
func SeverityForScore(score int) Severity {
	switch {
	case score >= 70:
		return SeverityCritical
	case score >= 50:
		return SeverityHigh
	case score >= 30:
		return SeverityMedium
	case score >= 20:
		return SeverityLow
	default:
		return SeverityInfo
	}
}

// Threat kind tags carried on results and events.
const (
	ThreatPromptInjection  = "prompt_injection"
	ThreatHiddenContent    = "hidden_content"
	ThreatDeceptiveUI      = "deceptive_ui"
	ThreatDynamicInjection = "dynamic_injection"
	ThreatShadowDOM        = "shadow_dom"
	ThreatHallucination    = "hallucination"
	ThreatSemantic         = "semantic_divergence"
	ThreatHoneypot         = "honeypot"
	ThreatPolicy           = "policy_violation"
)

// maxMatches caps the number of match snippets retained on a result.
const maxMatches = 10

// Result is the immutable outcome of a single detector invocation.
type Result struct {
	Detected   bool           `json:"detected"`
	Score      int            `json:"score"`
	Severity   Severity       `json:"severity"`
	ThreatKind string         `json:"threat_kind"`
	Matches    []string       `json:"matches,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	Latency    time.Duration  `json:"latency_ns"`
}

// none returns the neutral "not detected" result for a threat kind.
func none(kind string) Result {
	return Result{Severity: SeverityInfo, ThreatKind: kind}
}

// finalize clamps the score, buckets severity and applies the detection
// threshold shared by all detectors.
func finalize(kind string, score int, matches []string, details map[string]any, start time.Time) Result {
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	if len(matches) > maxMatches {
		matches = matches[:maxMatches]
	}
	return Result{
		Detected:   score >= 20,
		Score:      score,
		Severity:   SeverityForScore(score),
		ThreatKind: kind,
		Matches:    matches,
		Details:    details,
		Latency:    time.Since(start),
	}
}
