// Package event is the single outward channel for everything the pipeline
// reports. Every event is wrapped in a standardized envelope, stamped with
// system metadata, and dispatched best-effort to the session's subscribers.
// The orchestrator also owns per-session DEFCON, which only ever goes up.
package event

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
)

// Event types. The set is closed; Emit rejects anything else.
const (
	TypeConnected            = "CONNECTED"
	TypeDisconnected         = "DISCONNECTED"
	TypeSessionTerminated    = "SESSION_TERMINATED"
	TypePageLoaded           = "PAGE_LOADED"
	TypeActionAttempted      = "ACTION_ATTEMPTED"
	TypeActionDecision       = "ACTION_DECISION"
	TypeThreatDetected       = "THREAT_DETECTED"
	TypeHoneyPromptTriggered = "HONEY_PROMPT_TRIGGERED"
	TypeXRayResults          = "XRAY_RESULTS"
	TypeRiskUpdate           = "RISK_UPDATE"
	TypeTrustUpdate          = "TRUST_UPDATE"
	TypeScreenshot           = "SCREENSHOT"
	TypeSystemReboot         = "SYSTEM_REBOOT"
	TypeHumanControlGranted  = "HUMAN_CONTROL_GRANTED"
	TypeConfirmationRequired = "CONFIRMATION_REQUIRED"
	TypeSystemHeartbeat      = "SYSTEM_HEARTBEAT"
	TypeLowVisibilityZone    = "LOW_VISIBILITY_ZONE"
	TypeDemoEvent            = "DEMO_EVENT"
)

var validTypes = map[string]bool{
	TypeConnected: true, TypeDisconnected: true, TypeSessionTerminated: true,
	TypePageLoaded: true, TypeActionAttempted: true, TypeActionDecision: true,
	TypeThreatDetected: true, TypeHoneyPromptTriggered: true, TypeXRayResults: true,
	TypeRiskUpdate: true, TypeTrustUpdate: true, TypeScreenshot: true,
	TypeSystemReboot: true, TypeHumanControlGranted: true, TypeConfirmationRequired: true,
	TypeSystemHeartbeat: true, TypeLowVisibilityZone: true, TypeDemoEvent: true,
}

// historyCap bounds the per-session event history kept for debugging.
const historyCap = 100

// Meta is the standardized metadata attached to every envelope.
type Meta struct {
	LatencyMS    float64 `json:"latency_ms"`
	Defcon       int     `json:"defcon"`
	CPULoad      float64 `json:"cpu_load"`
	Timestamp    float64 `json:"timestamp"`
	TimestampISO string  `json:"timestamp_iso"`
}

// Envelope is the wire form of every emitted event.
type Envelope struct {
	Type      string                 `json:"type"`
	SessionID string                 `json:"sessionId"`
	Timestamp string                 `json:"timestamp"` // ISO 8601 UTC
	Payload   map[string]interface{} `json:"payload"`
	Meta      Meta                   `json:"meta"`
}

// Subscriber receives every envelope for its session. Implementations must
// not block; failures are isolated.
type Subscriber func(Envelope)

// sessionState is the orchestrator's compact per-session record.
type sessionState struct {
	defcon      int
	latencySum  float64
	latencyN    int
	subscribers map[int]Subscriber
	history     []Envelope
}

// Orchestrator fans events out to subscribers and tracks DEFCON. Safe for
// concurrent use.
type Orchestrator struct {
	mu     sync.Mutex
	nextID int
	state  map[string]*sessionState
	logger *slog.Logger

	// cpu sampling is cached so emit stays cheap
	cpuMu        sync.Mutex
	cpuLoad      float64
	cpuSampledAt time.Time
}

// NewOrchestrator creates an empty orchestrator.
func NewOrchestrator(logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		state:  make(map[string]*sessionState),
		logger: logger.With("component", "event.Orchestrator"),
	}
}

// Subscribe attaches a subscriber to a session and returns an unsubscribe
// function.
func (o *Orchestrator) Subscribe(sessionID string, sub Subscriber) func() {
	o.mu.Lock()
	st := o.stateLocked(sessionID)
	id := o.nextID
	o.nextID++
	st.subscribers[id] = sub
	o.mu.Unlock()

	return func() {
		o.mu.Lock()
		if st, ok := o.state[sessionID]; ok {
			delete(st.subscribers, id)
		}
		o.mu.Unlock()
	}
}

// Emit wraps the payload in the standard envelope, promotes DEFCON when the
// event warrants it, records history, and dispatches to the session's
// subscribers. Latency is the pipeline time attributed to the event.
func (o *Orchestrator) Emit(sessionID, eventType string, payload map[string]interface{}, latency time.Duration) (Envelope, error) {
	if !validTypes[eventType] {
		return Envelope{}, fmt.Errorf("unknown event type %q", eventType)
	}
	if payload == nil {
		payload = map[string]interface{}{}
	}

	now := time.Now().UTC()
	latencyMS := float64(latency.Microseconds()) / 1000

	o.mu.Lock()
	st := o.stateLocked(sessionID)
	o.promoteLocked(st, eventType, payload)
	st.latencySum += latencyMS
	st.latencyN++

	env := Envelope{
		Type:      eventType,
		SessionID: sessionID,
		Timestamp: now.Format(time.RFC3339Nano),
		Payload:   payload,
		Meta: Meta{
			LatencyMS:    latencyMS,
			Defcon:       st.defcon,
			CPULoad:      o.sampleCPU(),
			Timestamp:    float64(now.UnixNano()) / 1e9,
			TimestampISO: now.Format(time.RFC3339Nano),
		},
	}

	st.history = append(st.history, env)
	if len(st.history) > historyCap {
		st.history = st.history[len(st.history)-historyCap:]
	}

	subs := make([]Subscriber, 0, len(st.subscribers))
	for _, s := range st.subscribers {
		subs = append(subs, s)
	}
	o.mu.Unlock()

	for _, sub := range subs {
		o.dispatch(sub, env)
	}
	return env, nil
}

// dispatch invokes one subscriber, isolating panics.
func (o *Orchestrator) dispatch(sub Subscriber, env Envelope) {
	defer func() {
		if rec := recover(); rec != nil {
			o.logger.Error("subscriber panicked",
				"session_id", env.SessionID, "type", env.Type, "panic", rec)
		}
	}()
	sub(env)
}

// promoteLocked applies the DEFCON promotion rules. DEFCON never decreases.
func (o *Orchestrator) promoteLocked(st *sessionState, eventType string, payload map[string]interface{}) {
	target := st.defcon
	switch eventType {
	case TypeThreatDetected:
		if sev := intFromPayload(payload, "severity"); sev >= 4 && sev > target {
			target = sev
		}
	case TypeRiskUpdate:
		score := floatFromPayload(payload, "score")
		switch {
		case score >= 90:
			target = max(target, 5)
		case score >= 75:
			target = max(target, 4)
		case score >= 50:
			target = max(target, 3)
		}
	case TypeHoneyPromptTriggered:
		target = 5
	}
	if target > 5 {
		target = 5
	}
	if target > st.defcon {
		o.logger.Warn("defcon raised", "from", st.defcon, "to", target)
		st.defcon = target
	}
}

// Defcon returns the session's current DEFCON level (minimum 1).
func (o *Orchestrator) Defcon(sessionID string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	if st, ok := o.state[sessionID]; ok && st.defcon > 1 {
		return st.defcon
	}
	return 1
}

// History returns the session's retained envelopes, oldest first.
func (o *Orchestrator) History(sessionID string) []Envelope {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.state[sessionID]
	if !ok {
		return nil
	}
	out := make([]Envelope, len(st.history))
	copy(out, st.history)
	return out
}

// AverageLatency returns the mean latency in milliseconds across every event
// emitted for the session.
func (o *Orchestrator) AverageLatency(sessionID string) float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.state[sessionID]
	if !ok || st.latencyN == 0 {
		return 0
	}
	return st.latencySum / float64(st.latencyN)
}

// Heartbeat emits SYSTEM_HEARTBEAT to every session with subscribers.
func (o *Orchestrator) Heartbeat() {
	o.mu.Lock()
	var ids []string
	for id, st := range o.state {
		if len(st.subscribers) > 0 {
			ids = append(ids, id)
		}
	}
	o.mu.Unlock()

	for _, id := range ids {
		o.Emit(id, TypeSystemHeartbeat, map[string]interface{}{"alive": true}, 0)
	}
}

// Cleanup drops all orchestrator state for a session.
func (o *Orchestrator) Cleanup(sessionID string) {
	o.mu.Lock()
	delete(o.state, sessionID)
	o.mu.Unlock()
}

// stateLocked returns the session state, creating it on first use. Caller
// holds the lock. DEFCON starts at 1.
func (o *Orchestrator) stateLocked(sessionID string) *sessionState {
	st, ok := o.state[sessionID]
	if !ok {
		st = &sessionState{defcon: 1, subscribers: make(map[int]Subscriber)}
		o.state[sessionID] = st
	}
	return st
}

// sampleCPU returns the host CPU load, cached for a second. Sampling errors
// fall back to the last known value.
func (o *Orchestrator) sampleCPU() float64 {
	o.cpuMu.Lock()
	defer o.cpuMu.Unlock()

	if time.Since(o.cpuSampledAt) < time.Second {
		return o.cpuLoad
	}
	o.cpuSampledAt = time.Now()
	percents, err := cpu.Percent(0, false)
	if err != nil || len(percents) == 0 {
		return o.cpuLoad
	}
	o.cpuLoad = percents[0]
	return o.cpuLoad
}

func intFromPayload(payload map[string]interface{}, key string) int {
	switch v := payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func floatFromPayload(payload map[string]interface{}, key string) float64 {
	switch v := payload[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}
