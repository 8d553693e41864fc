package metrics

import (
	"math"
	"testing"
	"time"
)

func TestRecordThreat_Dispositions(t *testing.T) {
	a := NewAggregator(nil)
	a.StartSession("ses_1")

	a.RecordThreat("ses_1", "prompt_injection", true)
	a.RecordThreat("ses_1", "hidden_content", true)
	a.RecordThreat("ses_1", "deceptive_ui", false)

	c := a.Session("ses_1")
	if c.ThreatsDetected != 3 || c.ThreatsBlocked != 2 || c.ThreatsAllowed != 1 {
		t.Errorf("counters = %+v", c)
	}
	if c.ThreatsByKind["prompt_injection"] != 1 {
		t.Errorf("by kind = %+v", c.ThreatsByKind)
	}

	g := a.Global()
	if g.ThreatsDetected != 3 {
		t.Errorf("global detected = %d, want 3", g.ThreatsDetected)
	}
}

func TestStats_FallbackWithoutFeedback(t *testing.T) {
	a := NewAggregator(nil)
	a.StartSession("ses_1")
	a.RecordThreat("ses_1", "prompt_injection", true)

	s := a.SessionStats("ses_1")
	if !s.Estimated {
		t.Fatal("stats without feedback should be estimated")
	}
	if s.Precision != 0.92 || s.Recall != 0.89 {
		t.Errorf("fallback precision/recall = %v/%v", s.Precision, s.Recall)
	}
	wantF1 := 2 * 0.92 * 0.89 / (0.92 + 0.89)
	if math.Abs(s.F1-wantF1) > 1e-9 {
		t.Errorf("f1 = %v, want %v", s.F1, wantF1)
	}
}

func TestStats_WithFeedback(t *testing.T) {
	a := NewAggregator(nil)
	a.StartSession("ses_1")

	// 4 blocked, 1 missed, operator marks one block as a false positive.
	for i := 0; i < 4; i++ {
		a.RecordThreat("ses_1", "prompt_injection", true)
	}
	a.RecordThreat("ses_1", "semantic_divergence", false)
	a.RecordFeedback("ses_1", true)

	s := a.SessionStats("ses_1")
	if s.Estimated {
		t.Fatal("stats with feedback should not be estimated")
	}
	// TP = 4 - 1 = 3; precision = 3/4, recall = 3/4.
	if s.Precision != 0.75 {
		t.Errorf("precision = %v, want 0.75", s.Precision)
	}
	if s.Recall != 0.75 {
		t.Errorf("recall = %v, want 0.75", s.Recall)
	}
}

func TestRecordAction_SuccessRate(t *testing.T) {
	a := NewAggregator(nil)
	a.StartSession("ses_1")

	a.RecordAction("ses_1", true)
	a.RecordAction("ses_1", true)
	a.RecordAction("ses_1", false)

	s := a.SessionStats("ses_1")
	if math.Abs(s.TaskSuccessRate-2.0/3.0) > 1e-9 {
		t.Errorf("success rate = %v, want 2/3", s.TaskSuccessRate)
	}
}

func TestRecordLatency_Aggregates(t *testing.T) {
	a := NewAggregator(nil)
	a.StartSession("ses_1")

	a.RecordLatency("ses_1", 10*time.Millisecond)
	a.RecordLatency("ses_1", 30*time.Millisecond)
	a.RecordLatency("ses_1", 20*time.Millisecond)

	c := a.Session("ses_1")
	if c.LatencyCount != 3 {
		t.Errorf("count = %d, want 3", c.LatencyCount)
	}
	if c.LatencyMinMS != 10 || c.LatencyMaxMS != 30 {
		t.Errorf("min/max = %v/%v, want 10/30", c.LatencyMinMS, c.LatencyMaxMS)
	}
	if got := a.SessionStats("ses_1").AvgLatencyMS; got != 20 {
		t.Errorf("avg = %v, want 20", got)
	}
}

func TestLatencySampleCap(t *testing.T) {
	a := NewAggregator(nil)
	a.StartSession("ses_1")

	for i := 0; i < sessionSampleCap+50; i++ {
		a.RecordLatency("ses_1", time.Millisecond)
	}
	a.mu.RLock()
	n := len(a.sessions["ses_1"].samples)
	a.mu.RUnlock()
	if n != sessionSampleCap {
		t.Errorf("samples = %d, want %d", n, sessionSampleCap)
	}
	// Running aggregates keep counting past the cap.
	if c := a.Session("ses_1"); c.LatencyCount != sessionSampleCap+50 {
		t.Errorf("latency count = %d, want %d", c.LatencyCount, sessionSampleCap+50)
	}
}

func TestEndSession(t *testing.T) {
	a := NewAggregator(nil)
	a.StartSession("ses_1")
	a.EndSession("ses_1", true)

	c := a.Session("ses_1")
	if c.EndedAt == nil {
		t.Fatal("EndedAt should be set")
	}
	if !c.TaskCompleted {
		t.Error("TaskCompleted should be set")
	}
}

func TestCleanup_GlobalSurvives(t *testing.T) {
	a := NewAggregator(nil)
	a.StartSession("ses_1")
	a.RecordThreat("ses_1", "prompt_injection", true)

	a.Cleanup("ses_1")
	if c := a.Session("ses_1"); c.ThreatsDetected != 0 {
		t.Error("session counters should be gone")
	}
	if g := a.Global(); g.ThreatsDetected != 1 {
		t.Errorf("global detected = %d, want 1", g.ThreatsDetected)
	}
}
