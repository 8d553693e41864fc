// Package metrics keeps per-session and global detection counters and the
// derived quality numbers (precision, recall, F1) that feed dashboards and
// report exports.
package metrics

import (
	"log/slog"
	"sync"
	"time"
)

// Latency sample caps keep memory bounded.
const (
	sessionSampleCap = 1000
	globalSampleCap  = 5000
)

// Fallback estimates reported when no operator feedback exists, so
// dashboards stay populated. Estimated is set on the derived stats whenever
// these are used.
const (
	fallbackPrecision = 0.92
	fallbackRecall    = 0.89
)

// Counters is the raw per-session tally.
type Counters struct {
	ThreatsDetected    int        `json:"threatsDetected"`
	ThreatsBlocked     int        `json:"threatsBlocked"`
	ThreatsAllowed     int        `json:"threatsAllowed"` // missed
	FalsePositives     int        `json:"falsePositives"` // operator-labeled
	TruePositives      int        `json:"truePositives"`  // operator-labeled
	ActionsTotal       int        `json:"actionsTotal"`
	ActionsSuccessful  int        `json:"actionsSuccessful"`
	TaskCompleted      bool       `json:"taskCompleted"`
	ThreatsByKind      map[string]int `json:"threatsByKind"`
	LatencySumMS       float64    `json:"latencySumMs"`
	LatencyCount       int        `json:"latencyCount"`
	LatencyMinMS       float64    `json:"latencyMinMs"`
	LatencyMaxMS       float64    `json:"latencyMaxMs"`
	StartedAt          time.Time  `json:"startedAt"`
	EndedAt            *time.Time `json:"endedAt,omitempty"`
}

// Stats is the derived quality view.
type Stats struct {
	Precision       float64 `json:"precision"`
	Recall          float64 `json:"recall"`
	F1              float64 `json:"f1"`
	Estimated       bool    `json:"estimated"` // true when fallback values are in use
	TaskSuccessRate float64 `json:"taskSuccessRate"`
	AvgLatencyMS    float64 `json:"avgLatencyMs"`
}

type sessionMetrics struct {
	counters Counters
	samples  []float64
}

// Aggregator tracks counters per session plus global sums. Safe for
// concurrent use.
type Aggregator struct {
	mu       sync.RWMutex
	sessions map[string]*sessionMetrics
	global   Counters
	gSamples []float64
	logger   *slog.Logger
}

// NewAggregator creates an empty metrics aggregator.
func NewAggregator(logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		sessions: make(map[string]*sessionMetrics),
		global:   Counters{ThreatsByKind: make(map[string]int), StartedAt: time.Now().UTC()},
		logger:   logger.With("component", "metrics.Aggregator"),
	}
}

// StartSession initializes counters for a session.
func (a *Aggregator) StartSession(sessionID string) {
	a.mu.Lock()
	a.sessions[sessionID] = &sessionMetrics{
		counters: Counters{ThreatsByKind: make(map[string]int), StartedAt: time.Now().UTC()},
	}
	a.mu.Unlock()
}

// EndSession stamps the session's end time and task-completed flag.
func (a *Aggregator) EndSession(sessionID string, taskCompleted bool) {
	a.mu.Lock()
	if sm, ok := a.sessions[sessionID]; ok {
		now := time.Now().UTC()
		sm.counters.EndedAt = &now
		sm.counters.TaskCompleted = taskCompleted
	}
	a.mu.Unlock()
}

// RecordThreat counts a detected threat and its disposition.
func (a *Aggregator) RecordThreat(sessionID, kind string, blocked bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	sm := a.sessionLocked(sessionID)
	sm.counters.ThreatsDetected++
	sm.counters.ThreatsByKind[kind]++
	a.global.ThreatsDetected++
	a.global.ThreatsByKind[kind]++
	if blocked {
		sm.counters.ThreatsBlocked++
		a.global.ThreatsBlocked++
	} else {
		sm.counters.ThreatsAllowed++
		a.global.ThreatsAllowed++
	}
}

// RecordAction counts a pipeline-evaluated action.
func (a *Aggregator) RecordAction(sessionID string, successful bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	sm := a.sessionLocked(sessionID)
	sm.counters.ActionsTotal++
	a.global.ActionsTotal++
	if successful {
		sm.counters.ActionsSuccessful++
		a.global.ActionsSuccessful++
	}
}

// RecordFeedback applies an operator label to a prior detection.
func (a *Aggregator) RecordFeedback(sessionID string, falsePositive bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	sm := a.sessionLocked(sessionID)
	if falsePositive {
		sm.counters.FalsePositives++
		a.global.FalsePositives++
	} else {
		sm.counters.TruePositives++
		a.global.TruePositives++
	}
}

// RecordLatency folds one pipeline latency into the running aggregates.
func (a *Aggregator) RecordLatency(sessionID string, latency time.Duration) {
	ms := float64(latency.Microseconds()) / 1000

	a.mu.Lock()
	defer a.mu.Unlock()

	sm := a.sessionLocked(sessionID)
	fold(&sm.counters, ms)
	fold(&a.global, ms)

	if len(sm.samples) < sessionSampleCap {
		sm.samples = append(sm.samples, ms)
	}
	if len(a.gSamples) < globalSampleCap {
		a.gSamples = append(a.gSamples, ms)
	}
}

func fold(c *Counters, ms float64) {
	c.LatencySumMS += ms
	c.LatencyCount++
	if c.LatencyCount == 1 || ms < c.LatencyMinMS {
		c.LatencyMinMS = ms
	}
	if ms > c.LatencyMaxMS {
		c.LatencyMaxMS = ms
	}
}

// Session returns a copy of the session's counters.
func (a *Aggregator) Session(sessionID string) Counters {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if sm, ok := a.sessions[sessionID]; ok {
		return copyCounters(sm.counters)
	}
	return Counters{ThreatsByKind: map[string]int{}}
}

// Global returns a copy of the cross-session sums.
func (a *Aggregator) Global() Counters {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return copyCounters(a.global)
}

// SessionStats derives quality numbers for one session.
func (a *Aggregator) SessionStats(sessionID string) Stats {
	return derive(a.Session(sessionID))
}

// GlobalStats derives quality numbers over the aggregated totals.
func (a *Aggregator) GlobalStats() Stats {
	return derive(a.Global())
}

// Cleanup drops a session's counters. Global sums are unaffected.
func (a *Aggregator) Cleanup(sessionID string) {
	a.mu.Lock()
	delete(a.sessions, sessionID)
	a.mu.Unlock()
}

func (a *Aggregator) sessionLocked(sessionID string) *sessionMetrics {
	sm, ok := a.sessions[sessionID]
	if !ok {
		sm = &sessionMetrics{
			counters: Counters{ThreatsByKind: make(map[string]int), StartedAt: time.Now().UTC()},
		}
		a.sessions[sessionID] = sm
	}
	return sm
}

// derive computes precision, recall, and F1. True positives are
// blocked-and-not-marked-FP; false negatives are threats that slipped
// through. Without any operator feedback the fallback estimates are reported
// with Estimated set.
func derive(c Counters) Stats {
	s := Stats{}

	if c.FalsePositives == 0 && c.TruePositives == 0 {
		s.Precision = fallbackPrecision
		s.Recall = fallbackRecall
		s.Estimated = true
	} else {
		tp := c.ThreatsBlocked - c.FalsePositives
		if tp < 0 {
			tp = 0
		}
		if tp+c.FalsePositives > 0 {
			s.Precision = float64(tp) / float64(tp+c.FalsePositives)
		}
		if tp+c.ThreatsAllowed > 0 {
			s.Recall = float64(tp) / float64(tp+c.ThreatsAllowed)
		}
	}
	if s.Precision+s.Recall > 0 {
		s.F1 = 2 * s.Precision * s.Recall / (s.Precision + s.Recall)
	}
	if c.ActionsTotal > 0 {
		s.TaskSuccessRate = float64(c.ActionsSuccessful) / float64(c.ActionsTotal)
	}
	if c.LatencyCount > 0 {
		s.AvgLatencyMS = c.LatencySumMS / float64(c.LatencyCount)
	}
	return s
}

func copyCounters(c Counters) Counters {
	out := c
	out.ThreatsByKind = make(map[string]int, len(c.ThreatsByKind))
	for k, v := range c.ThreatsByKind {
		out.ThreatsByKind[k] = v
	}
	return out
}
