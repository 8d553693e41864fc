// Package trust maintains per-session and per-operator trust scores. Trust
// starts in the autonomous range and is nudged by discrete events and by
// risk-driven deltas; low trust widens the set of actions that require a
// human confirmation.
package trust

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Event names the discrete trust adjustments.
type Event string

const (
	EventHumanOverride     Event = "HUMAN_OVERRIDE"
	EventConfirmedThreat   Event = "CONFIRMED_THREAT"
	EventAttackBlocked     Event = "ATTACK_BLOCKED"
	EventSessionComplete   Event = "SESSION_COMPLETE"
	EventFalsePositive     Event = "FALSE_POSITIVE"
	EventPolicyOverride    Event = "POLICY_OVERRIDE"
	EventHoneypotTriggered Event = "HONEYPOT_TRIGGERED"
)

// eventDeltas are the fixed adjustments per event. HONEYPOT_TRIGGERED is not
// a delta; it forces the score to zero.
var eventDeltas = map[Event]float64{
	EventHumanOverride:   +10,
	EventConfirmedThreat: +15,
	EventAttackBlocked:   +5,
	EventSessionComplete: +2,
	EventFalsePositive:   -5,
	EventPolicyOverride:  -3,
}

// InitialScore is where every session starts.
const InitialScore = 75

// Level names for score bands.
const (
	LevelUntrusted  = "UNTRUSTED"
	LevelCautious   = "CAUTIOUS"
	LevelTrusted    = "TRUSTED"
	LevelAutonomous = "AUTONOMOUS"
)

// Update records one trust change, suitable for event emission and forensic
// capture.
type Update struct {
	SessionID string    `json:"sessionId"`
	Event     Event     `json:"event,omitempty"`
	Previous  float64   `json:"previous"`
	New       float64   `json:"new"`
	Delta     float64   `json:"delta"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// Engine holds session and operator trust state. Safe for concurrent use.
// Operator scores use half-weight adjustments and outlive sessions; the
// caller persists them across restarts.
type Engine struct {
	mu        sync.RWMutex
	sessions  map[string]float64
	operators map[string]float64
	history   map[string][]Update
	logger    *slog.Logger
}

// NewEngine creates an empty trust engine.
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		sessions:  make(map[string]float64),
		operators: make(map[string]float64),
		history:   make(map[string][]Update),
		logger:    logger.With("component", "trust.Engine"),
	}
}

// InitSession sets a session's score to the initial value.
func (e *Engine) InitSession(sessionID string) {
	e.mu.Lock()
	e.sessions[sessionID] = InitialScore
	e.mu.Unlock()
}

// Score returns the session's current trust, initializing it on first use.
func (e *Engine) Score(sessionID string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	score, ok := e.sessions[sessionID]
	if !ok {
		e.sessions[sessionID] = InitialScore
		return InitialScore
	}
	return score
}

// Record applies a discrete event to the session score and, when operatorID
// is non-empty, a half-weight adjustment to the operator score.
func (e *Engine) Record(sessionID, operatorID string, event Event, reason string) Update {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev, ok := e.sessions[sessionID]
	if !ok {
		prev = InitialScore
	}

	var next float64
	if event == EventHoneypotTriggered {
		next = 0
	} else {
		next = clampScore(prev + eventDeltas[event])
	}
	e.sessions[sessionID] = next

	if operatorID != "" {
		op, ok := e.operators[operatorID]
		if !ok {
			op = InitialScore
		}
		if event == EventHoneypotTriggered {
			op = clampScore(op - 50)
		} else {
			op = clampScore(op + eventDeltas[event]/2)
		}
		e.operators[operatorID] = op
	}

	up := Update{
		SessionID: sessionID,
		Event:     event,
		Previous:  prev,
		New:       next,
		Delta:     next - prev,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}
	e.history[sessionID] = append(e.history[sessionID], up)

	if up.Delta < 0 {
		e.logger.Info("trust decreased",
			"session_id", sessionID, "event", string(event),
			"previous", prev, "new", next)
	}
	return up
}

// ApplyDelta applies a risk-driven delta to the session score.
func (e *Engine) ApplyDelta(sessionID string, delta float64, reason string) Update {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev, ok := e.sessions[sessionID]
	if !ok {
		prev = InitialScore
	}
	next := clampScore(prev + delta)
	e.sessions[sessionID] = next

	up := Update{
		SessionID: sessionID,
		Previous:  prev,
		New:       next,
		Delta:     next - prev,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}
	e.history[sessionID] = append(e.history[sessionID], up)
	return up
}

// OperatorScore returns the operator's trust, defaulting to the initial
// value.
func (e *Engine) OperatorScore(operatorID string) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if score, ok := e.operators[operatorID]; ok {
		return score
	}
	return InitialScore
}

// SetOperatorScore installs a persisted operator score, clamped.
func (e *Engine) SetOperatorScore(operatorID string, score float64) {
	e.mu.Lock()
	e.operators[operatorID] = clampScore(score)
	e.mu.Unlock()
}

// History returns the session's update records, oldest first.
func (e *Engine) History(sessionID string) []Update {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Update, len(e.history[sessionID]))
	copy(out, e.history[sessionID])
	return out
}

// ShouldRequireConfirmation reports whether the action needs a human in the
// loop given the session's trust and the action's risk score.
func (e *Engine) ShouldRequireConfirmation(sessionID string, actionRisk float64) bool {
	score := e.Score(sessionID)
	switch {
	case score < 25:
		return true
	case score < 50 && actionRisk > 30:
		return true
	case score < 75 && actionRisk > 70:
		return true
	default:
		return false
	}
}

// Cleanup drops a session's score and history. Operator scores survive.
func (e *Engine) Cleanup(sessionID string) {
	e.mu.Lock()
	delete(e.sessions, sessionID)
	delete(e.history, sessionID)
	e.mu.Unlock()
}

// Level maps a score to its band name.
func Level(score float64) string {
	switch {
	case score <= 25:
		return LevelUntrusted
	case score <= 50:
		return LevelCautious
	case score <= 75:
		return LevelTrusted
	default:
		return LevelAutonomous
	}
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// String implements fmt.Stringer for log readability.
func (u Update) String() string {
	return fmt.Sprintf("%s: %.1f -> %.1f (%+.1f)", u.Event, u.Previous, u.New, u.Delta)
}
