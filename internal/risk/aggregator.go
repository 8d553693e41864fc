// Package risk combines detector, policy, and honeypot signals into a single
// scored assessment with a decision and a trust adjustment.
package risk

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sentinelsec/sentinel/internal/detect"
	"github.com/sentinelsec/sentinel/internal/policy"
)

// Signal sources. Each carries a fixed weight; honeypot is a short circuit
// rather than a weighted input.
const (
	SourcePromptInjection  = "prompt_injection"
	SourcePolicy           = "policy_violation"
	SourceDeceptiveUI      = "deceptive_ui"
	SourceSemantic         = "semantic_divergence"
	SourceDynamicInjection = "dynamic_injection"
	SourceHiddenContent    = "hidden_content"
	SourceHallucination    = "hallucination"
	SourceShadowDOM        = "shadow_dom"
	SourceHoneypot         = "honeypot"
)

// sourceOrder fixes both contributor ordering and the explanation's
// concatenation order so identical inputs always render identically.
var sourceOrder = []string{
	SourceHoneypot,
	SourcePromptInjection,
	SourcePolicy,
	SourceDeceptiveUI,
	SourceSemantic,
	SourceDynamicInjection,
	SourceHiddenContent,
	SourceHallucination,
	SourceShadowDOM,
}

var sourceWeights = map[string]float64{
	SourcePromptInjection:  1.5,
	SourcePolicy:           1.4,
	SourceDeceptiveUI:      1.3,
	SourceSemantic:         1.2,
	SourceDynamicInjection: 1.1,
	SourceHiddenContent:    1.0,
	SourceHallucination:    1.0,
	SourceShadowDOM:        0.8,
	SourceHoneypot:         5.0,
}

const (
	// combinationBonus strengthens weak signals that agree.
	combinationBonus     = 1.2
	combinationThreshold = 3

	// evolutionCap bounds the per-session risk series kept for graphing.
	evolutionCap = 60
)

// Signal is one scored input to the aggregator.
type Signal struct {
	Source      string  `json:"source"`
	Score       float64 `json:"score"` // 0-100
	Description string  `json:"description,omitempty"`
}

// Contributor is one active signal with its weighted contribution.
type Contributor struct {
	Source      string  `json:"source"`
	Score       float64 `json:"score"`
	Weight      float64 `json:"weight"`
	Weighted    float64 `json:"weighted"`
	Description string  `json:"description,omitempty"`
}

// Assessment is the combined risk verdict for one action.
type Assessment struct {
	Score        float64            `json:"score"`
	Level        detect.Severity    `json:"level"`
	Decision     string             `json:"decision"`
	TrustDelta   float64            `json:"trustDelta"`
	Contributors []Contributor      `json:"contributors"`
	Breakdown    map[string]float64 `json:"breakdown"`
	Explanation  string             `json:"explanation"`
	Honeypot     bool               `json:"honeypot"`
	Latency      time.Duration      `json:"-"`
	Timestamp    time.Time          `json:"timestamp"`
}

// EvolutionPoint is one entry of the per-session risk series.
type EvolutionPoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Score     float64         `json:"score"`
	Level     detect.Severity `json:"level"`
}

// Aggregator combines signals into assessments and keeps the bounded
// per-session evolution series. Safe for concurrent use.
type Aggregator struct {
	mu        sync.RWMutex
	evolution map[string][]EvolutionPoint
	logger    *slog.Logger
}

// NewAggregator creates an empty Aggregator.
func NewAggregator(logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		evolution: make(map[string][]EvolutionPoint),
		logger:    logger.With("component", "risk.Aggregator"),
	}
}

// Aggregate combines the signals into an assessment and appends the result
// to the session's evolution series.
//
// Active sources (score > 0) contribute score x weight; the aggregate is the
// weighted mean over active sources. Three or more active sources multiply
// the aggregate by 1.2, capped at 100. A honeypot signal short-circuits to
// score 100, CRITICAL, BLOCK, trust delta -100.
func (a *Aggregator) Aggregate(sessionID string, signals []Signal) Assessment {
	start := time.Now()

	as := Assessment{
		Breakdown: make(map[string]float64),
		Timestamp: start.UTC(),
	}

	bySource := make(map[string]Signal, len(signals))
	for _, sig := range signals {
		if sig.Score <= 0 {
			continue
		}
		// Strongest signal wins when a source reports twice.
		if prev, ok := bySource[sig.Source]; !ok || sig.Score > prev.Score {
			bySource[sig.Source] = sig
		}
	}

	if hp, ok := bySource[SourceHoneypot]; ok {
		as.Score = 100
		as.Level = detect.SeverityCritical
		as.Decision = policy.DecisionBlock
		as.TrustDelta = -100
		as.Honeypot = true
		as.Contributors = []Contributor{{
			Source:      SourceHoneypot,
			Score:       hp.Score,
			Weight:      sourceWeights[SourceHoneypot],
			Weighted:    100,
			Description: hp.Description,
		}}
		as.Breakdown[SourceHoneypot] = 100
		as.Explanation = "honeypot trap triggered; session is compromised"
		as.Latency = time.Since(start)
		a.appendEvolution(sessionID, as)
		return as
	}

	var weightedSum, weightSum float64
	for _, source := range sourceOrder {
		sig, ok := bySource[source]
		if !ok {
			continue
		}
		weight, known := sourceWeights[source]
		if !known {
			a.logger.Warn("signal from unknown source ignored", "source", source)
			continue
		}
		score := clamp(sig.Score)
		as.Contributors = append(as.Contributors, Contributor{
			Source:      source,
			Score:       score,
			Weight:      weight,
			Weighted:    score * weight,
			Description: sig.Description,
		})
		as.Breakdown[source] = score
		weightedSum += score * weight
		weightSum += weight
	}

	if weightSum > 0 {
		as.Score = weightedSum / weightSum
		if len(as.Contributors) >= combinationThreshold {
			as.Score *= combinationBonus
		}
		as.Score = clamp(as.Score)
	}

	as.Level = levelFor(as.Score)
	as.Decision = decisionFor(as.Score)
	as.TrustDelta = trustDeltaFor(as.Score)
	as.Explanation = explain(as.Contributors, as.Score)
	as.Latency = time.Since(start)

	a.appendEvolution(sessionID, as)

	if as.Decision != policy.DecisionAllow {
		a.logger.Warn("elevated risk",
			"session_id", sessionID,
			"score", as.Score,
			"level", string(as.Level),
			"decision", as.Decision,
			"sources", len(as.Contributors),
		)
	}
	return as
}

// Evolution returns the session's risk series, oldest first.
func (a *Aggregator) Evolution(sessionID string) []EvolutionPoint {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]EvolutionPoint, len(a.evolution[sessionID]))
	copy(out, a.evolution[sessionID])
	return out
}

// Cleanup drops the evolution series for a session.
func (a *Aggregator) Cleanup(sessionID string) {
	a.mu.Lock()
	delete(a.evolution, sessionID)
	a.mu.Unlock()
}

func (a *Aggregator) appendEvolution(sessionID string, as Assessment) {
	a.mu.Lock()
	series := append(a.evolution[sessionID], EvolutionPoint{
		Timestamp: as.Timestamp,
		Score:     as.Score,
		Level:     as.Level,
	})
	if len(series) > evolutionCap {
		series = series[len(series)-evolutionCap:]
	}
	a.evolution[sessionID] = series
	a.mu.Unlock()
}

func levelFor(score float64) detect.Severity {
	switch {
	case score >= 90:
		return detect.SeverityCritical
	case score >= 75:
		return detect.SeverityHigh
	case score >= 50:
		return detect.SeverityMedium
	default:
		return detect.SeverityLow
	}
}

func decisionFor(score float64) string {
	switch {
	case score >= 70:
		return policy.DecisionBlock
	case score >= 50:
		return policy.DecisionConfirm
	default:
		return policy.DecisionAllow
	}
}

func trustDeltaFor(score float64) float64 {
	switch {
	case score >= 70:
		return -30
	case score >= 50:
		return -15
	case score >= 30:
		return -5
	default:
		return 0
	}
}

// explain renders contributor descriptions in the fixed source order, so the
// same inputs always produce the same string.
func explain(contributors []Contributor, score float64) string {
	if len(contributors) == 0 {
		return "no risk signals"
	}
	parts := make([]string, len(contributors))
	for i, c := range contributors {
		desc := c.Description
		if desc == "" {
			desc = c.Source
		}
		parts[i] = fmt.Sprintf("%s (%.0f)", desc, c.Score)
	}
	return fmt.Sprintf("risk %.0f from %d source(s): %s", score, len(contributors), strings.Join(parts, "; "))
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
