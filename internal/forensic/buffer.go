package forensic

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"
)

// DefaultCapacity holds roughly a minute of snapshots at a 500 ms cadence.
const DefaultCapacity = 120

// Thresholds for derived critical moments.
const (
	riskSpikeMinor = 30
	riskSpikeMajor = 50
	trustDropMinor = 20
	trustDropMajor = 40
)

// sessionState is the per-session ring plus derivation state. The ring is a
// fixed slice with a head cursor so append and eviction are O(1).
type sessionState struct {
	ring      []Snapshot
	head      int // next write position
	count     int
	nextIndex int
	moments   []Moment

	started    time.Time
	prevRisk   float64
	prevTrust  float64
	prevDefcon int
	prevState  string

	// running aggregates over all snapshots ever appended, not just the
	// ones still in the ring
	riskSum     float64
	peakRisk    float64
	threatCount int
	blockCount  int
}

// Buffer holds the forensic state for all sessions. Safe for concurrent use.
type Buffer struct {
	mu       sync.RWMutex
	sessions map[string]*sessionState
	capacity int
	archive  *Archive // optional
	logger   *slog.Logger
}

// NewBuffer creates a Buffer with the given ring capacity per session.
// Capacity <= 0 selects the default. The archive may be nil.
func NewBuffer(capacity int, archive *Archive, logger *slog.Logger) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Buffer{
		sessions: make(map[string]*sessionState),
		capacity: capacity,
		archive:  archive,
		logger:   logger.With("component", "forensic.Buffer"),
	}
}

// Append records a snapshot for the session, assigns its index, derives any
// critical moments, and returns the stored snapshot. Critical snapshots are
// also written to the archive when one is configured.
func (b *Buffer) Append(sessionID string, snap Snapshot) Snapshot {
	b.mu.Lock()

	st, ok := b.sessions[sessionID]
	if !ok {
		st = &sessionState{
			ring:      make([]Snapshot, b.capacity),
			started:   time.Now().UTC(),
			prevTrust: snap.TrustScore,
			prevRisk:  snap.RiskScore,
		}
		b.sessions[sessionID] = st
	}

	if snap.Timestamp.IsZero() {
		snap.Timestamp = time.Now().UTC()
	}
	snap.Index = st.nextIndex
	st.nextIndex++

	// A full ring is about to overwrite its oldest snapshot; that snapshot
	// leaves the ring here and survives only through the archive.
	var evicted *Snapshot
	if st.count == b.capacity && !st.ring[st.head].archived {
		old := st.ring[st.head]
		evicted = &old
	}

	slot := st.head
	st.ring[slot] = snap
	st.head = (st.head + 1) % b.capacity
	if st.count < b.capacity {
		st.count++
	}

	st.riskSum += snap.RiskScore
	if snap.RiskScore > st.peakRisk {
		st.peakRisk = snap.RiskScore
	}
	if snap.Kind == KindThreat {
		st.threatCount++
	}

	moments := deriveMoments(st, snap)
	st.moments = append(st.moments, moments...)
	for _, m := range moments {
		if m.Kind == MomentActionBlocked {
			st.blockCount++
		}
	}

	st.prevRisk = snap.RiskScore
	st.prevTrust = snap.TrustScore
	st.prevDefcon = snap.Defcon
	if s, ok := snap.Payload["state"].(string); ok {
		st.prevState = s
	}

	if b.archive != nil && len(moments) > 0 {
		st.ring[slot].archived = true
	}

	archive := b.archive
	b.mu.Unlock()

	if archive != nil {
		if evicted != nil {
			if err := archive.Store(sessionID, *evicted); err != nil {
				b.logger.Error("archive write failed", "session_id", sessionID, "error", err)
			}
		}
		if len(moments) > 0 {
			if err := archive.Store(sessionID, snap); err != nil {
				b.logger.Error("archive write failed", "session_id", sessionID, "error", err)
			}
		}
	}
	for _, m := range moments {
		b.logger.Warn("critical moment",
			"session_id", sessionID,
			"kind", m.Kind,
			"severity", m.Severity,
			"description", m.Description,
		)
	}
	return snap
}

// deriveMoments compares the snapshot with the previous per-session state.
// Caller holds the lock.
func deriveMoments(st *sessionState, snap Snapshot) []Moment {
	var out []Moment
	add := func(kind string, severity int, desc string) {
		out = append(out, Moment{
			Timestamp:     snap.Timestamp,
			Kind:          kind,
			Severity:      severity,
			Description:   desc,
			SnapshotIndex: snap.Index,
			Context: map[string]interface{}{
				"risk":   snap.RiskScore,
				"trust":  snap.TrustScore,
				"defcon": snap.Defcon,
			},
		})
	}

	if truthy(snap.Payload["honeypot"]) {
		add(MomentHoneypotTrigger, 5, "honeypot trap triggered")
	}

	if spike := snap.RiskScore - st.prevRisk; spike >= riskSpikeMinor {
		sev := 3
		if spike >= riskSpikeMajor {
			sev = 4
		}
		add(MomentRiskSpike, sev, fmt.Sprintf("risk jumped %.0f -> %.0f", st.prevRisk, snap.RiskScore))
	}

	if drop := st.prevTrust - snap.TrustScore; drop >= trustDropMinor {
		sev := 3
		if drop >= trustDropMajor {
			sev = 4
		}
		add(MomentTrustDrop, sev, fmt.Sprintf("trust fell %.0f -> %.0f", st.prevTrust, snap.TrustScore))
	}

	if snap.Kind == KindThreat {
		sev := 3
		if v, ok := snap.Payload["severity"]; ok {
			sev = intValue(v, sev)
		}
		desc := "threat detected"
		if k, ok := snap.Payload["threat_kind"].(string); ok {
			desc = "threat detected: " + k
		}
		add(MomentThreatDetected, sev, desc)
	}

	if snap.Kind == KindAction {
		if d, ok := snap.Payload["decision"].(string); ok && d == "BLOCK" {
			add(MomentActionBlocked, 3, "action blocked")
		}
	}

	if snap.Defcon >= 4 && snap.Defcon > st.prevDefcon {
		add(MomentStateTransition, snap.Defcon,
			fmt.Sprintf("defcon raised %d -> %d", st.prevDefcon, snap.Defcon))
	}

	if s, ok := snap.Payload["state"].(string); ok && st.prevState != "" && s != st.prevState {
		add(MomentStateTransition, 2, fmt.Sprintf("state %s -> %s", st.prevState, s))
	}

	return out
}

// Timeline returns the snapshots still in the ring, oldest first.
func (b *Buffer) Timeline(sessionID string) []Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	st, ok := b.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]Snapshot, 0, st.count)
	start := (st.head - st.count + b.capacity) % b.capacity
	for i := 0; i < st.count; i++ {
		out = append(out, st.ring[(start+i)%b.capacity])
	}
	return out
}

// ByIndex returns the snapshot with the given index, if still buffered.
func (b *Buffer) ByIndex(sessionID string, index int) (Snapshot, bool) {
	for _, s := range b.Timeline(sessionID) {
		if s.Index == index {
			return s, true
		}
	}
	return Snapshot{}, false
}

// ClosestTo returns the buffered snapshot nearest to the target timestamp.
func (b *Buffer) ClosestTo(sessionID string, target time.Time) (Snapshot, bool) {
	timeline := b.Timeline(sessionID)
	if len(timeline) == 0 {
		return Snapshot{}, false
	}
	best := timeline[0]
	bestDiff := math.Abs(float64(target.Sub(best.Timestamp)))
	for _, s := range timeline[1:] {
		if d := math.Abs(float64(target.Sub(s.Timestamp))); d < bestDiff {
			best, bestDiff = s, d
		}
	}
	return best, true
}

// Moments returns the session's critical moments, oldest first.
func (b *Buffer) Moments(sessionID string) []Moment {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st, ok := b.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]Moment, len(st.moments))
	copy(out, st.moments)
	return out
}

// Summarize aggregates the session's forensic state over every snapshot ever
// appended, including evicted ones.
func (b *Buffer) Summarize(sessionID string) Summary {
	b.mu.RLock()
	defer b.mu.RUnlock()

	st, ok := b.sessions[sessionID]
	if !ok {
		return Summary{SessionID: sessionID}
	}
	sum := Summary{
		SessionID:     sessionID,
		SnapshotCount: st.nextIndex,
		PeakRisk:      st.peakRisk,
		Duration:      time.Since(st.started),
		ThreatCount:   st.threatCount,
		BlockCount:    st.blockCount,
		MomentCount:   len(st.moments),
	}
	if st.nextIndex > 0 {
		sum.AverageRisk = st.riskSum / float64(st.nextIndex)
	}
	return sum
}

// RiskSeries returns the graphable risk series from the buffered snapshots.
func (b *Buffer) RiskSeries(sessionID string) []RiskPoint {
	timeline := b.Timeline(sessionID)
	out := make([]RiskPoint, len(timeline))
	for i, s := range timeline {
		out[i] = RiskPoint{Timestamp: s.Timestamp, Score: s.RiskScore}
	}
	return out
}

// Cleanup drops all buffered state for a session. Archived snapshots are
// kept.
func (b *Buffer) Cleanup(sessionID string) {
	b.mu.Lock()
	delete(b.sessions, sessionID)
	b.mu.Unlock()
}

func truthy(v interface{}) bool {
	b, ok := v.(bool)
	return ok && b
}

func intValue(v interface{}, fallback int) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return fallback
	}
}
