// Package forensic keeps the recent history of each session: a bounded ring
// of snapshots, the critical moments derived from them, and an optional
// hash-chained SQLite archive for snapshots that must outlive the ring.
package forensic

import "time"

// Snapshot kinds.
const (
	KindDOMState       = "DOM_STATE"
	KindScreenshot     = "SCREENSHOT"
	KindAction         = "ACTION"
	KindThreat         = "THREAT"
	KindRiskUpdate     = "RISK_UPDATE"
	KindTrustUpdate    = "TRUST_UPDATE"
	KindPolicyDecision = "POLICY_DECISION"
	KindStateChange    = "STATE_CHANGE"
)

// Critical moment kinds.
const (
	MomentRiskSpike       = "RISK_SPIKE"
	MomentTrustDrop       = "TRUST_DROP"
	MomentThreatDetected  = "THREAT_DETECTED"
	MomentActionBlocked   = "ACTION_BLOCKED"
	MomentHoneypotTrigger = "HONEYPOT_TRIGGER"
	MomentStateTransition = "STATE_TRANSITION"
)

// Snapshot is one captured observation. Indices are dense and strictly
// monotonic within a session; large payloads are carried by reference
// (DataRef), never inline.
type Snapshot struct {
	Index      int                    `json:"index"`
	Timestamp  time.Time              `json:"timestamp"`
	Kind       string                 `json:"kind"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	URL        string                 `json:"url,omitempty"`
	RiskScore  float64                `json:"riskScore"`
	TrustScore float64                `json:"trustScore"`
	Defcon     int                    `json:"defcon"`
	DataRef    string                 `json:"dataRef,omitempty"` // screenshot path or DOM hash

	// archived marks a ring slot already written to the archive, so eviction
	// does not insert the same index twice.
	archived bool
}

// Moment is a derived critical moment.
type Moment struct {
	Timestamp     time.Time              `json:"timestamp"`
	Kind          string                 `json:"kind"`
	Severity      int                    `json:"severity"` // 1-5
	Description   string                 `json:"description"`
	SnapshotIndex int                    `json:"snapshotIndex"`
	Context       map[string]interface{} `json:"context,omitempty"`
}

// Summary aggregates a session's forensic state.
type Summary struct {
	SessionID     string        `json:"sessionId"`
	SnapshotCount int           `json:"snapshotCount"`
	PeakRisk      float64       `json:"peakRisk"`
	AverageRisk   float64       `json:"averageRisk"`
	Duration      time.Duration `json:"duration"`
	ThreatCount   int           `json:"threatCount"`
	BlockCount    int           `json:"blockCount"`
	MomentCount   int           `json:"momentCount"`
}

// RiskPoint is one entry of the graphable risk series.
type RiskPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Score     float64   `json:"score"`
}
