package alert

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/sentinelsec/sentinel/internal/config"
	"github.com/sentinelsec/sentinel/internal/event"
)

// mockSender is a mock implementation of the Sender interface for testing.
type mockSender struct {
	name       string
	sendFunc   func(Alert) error
	callCount  int
	lastAlert  *Alert
	mu         sync.Mutex
	sentAlerts []Alert
}

func newMockSender(name string) *mockSender {
	return &mockSender{
		name:       name,
		sentAlerts: make([]Alert, 0),
	}
}

func (m *mockSender) Name() string {
	return m.name
}

func (m *mockSender) Send(alert Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount++
	m.lastAlert = &alert
	m.sentAlerts = append(m.sentAlerts, alert)
	if m.sendFunc != nil {
		return m.sendFunc(alert)
	}
	return nil
}

func (m *mockSender) getCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

func (m *mockSender) getLastAlert() *Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastAlert == nil {
		return nil
	}
	copy := *m.lastAlert
	return &copy
}

func TestNewManager(t *testing.T) {
	tests := []struct {
		name            string
		config          config.AlertsConfig
		expectedSenders int
	}{
		{
			name: "no senders configured",
			config: config.AlertsConfig{
				Slack:   config.SlackAlertConfig{},
				Webhook: config.WebhookAlertConfig{},
			},
			expectedSenders: 0,
		},
		{
			name: "only slack configured",
			config: config.AlertsConfig{
				Slack: config.SlackAlertConfig{
					WebhookURL: "https://hooks.slack.com/test",
					Channel:    "#security",
				},
				Webhook: config.WebhookAlertConfig{},
			},
			expectedSenders: 1,
		},
		{
			name: "only webhook configured",
			config: config.AlertsConfig{
				Slack: config.SlackAlertConfig{},
				Webhook: config.WebhookAlertConfig{
					URL:    "https://example.com/webhook",
					Secret: "secret123",
				},
			},
			expectedSenders: 1,
		},
		{
			name: "both slack and webhook configured",
			config: config.AlertsConfig{
				Slack: config.SlackAlertConfig{
					WebhookURL: "https://hooks.slack.com/test",
					Channel:    "#security",
				},
				Webhook: config.WebhookAlertConfig{
					URL:    "https://example.com/webhook",
					Secret: "secret123",
				},
			},
			expectedSenders: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(tt.config, slog.Default())

			if m == nil {
				t.Fatal("NewManager returned nil")
			}
			if len(m.senders) != tt.expectedSenders {
				t.Errorf("expected %d senders, got %d", tt.expectedSenders, len(m.senders))
			}
			if m.dedup == nil {
				t.Error("dedup map should be initialized")
			}
			if m.dedupTTL != 5*time.Minute {
				t.Errorf("expected dedupTTL to be 5 minutes, got %v", m.dedupTTL)
			}
		})
	}
}

func TestManager_HasSenders(t *testing.T) {
	tests := []struct {
		name     string
		config   config.AlertsConfig
		expected bool
	}{
		{
			name:     "no senders",
			config:   config.AlertsConfig{},
			expected: false,
		},
		{
			name: "has slack sender",
			config: config.AlertsConfig{
				Slack: config.SlackAlertConfig{
					WebhookURL: "https://hooks.slack.com/test",
				},
			},
			expected: true,
		},
		{
			name: "has webhook sender",
			config: config.AlertsConfig{
				Webhook: config.WebhookAlertConfig{
					URL: "https://example.com/webhook",
				},
			},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(tt.config, slog.Default())
			if got := m.HasSenders(); got != tt.expected {
				t.Errorf("HasSenders() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func newBareManager(ttl time.Duration) *Manager {
	return &Manager{
		senders:  make([]Sender, 0),
		dedup:    make(map[string]time.Time),
		dedupTTL: ttl,
		logger:   slog.Default(),
	}
}

func TestManager_Send(t *testing.T) {
	t.Run("basic send to single sender", func(t *testing.T) {
		m := newBareManager(5 * time.Minute)
		mock := newMockSender("test-sender")
		m.senders = append(m.senders, mock)

		alert := Alert{
			Type:      "threat_detected",
			Severity:  "critical",
			Title:     "Test Alert",
			Message:   "This is a test",
			SessionID: "session-1",
		}

		m.Send(alert)
		time.Sleep(50 * time.Millisecond)

		if mock.getCallCount() != 1 {
			t.Errorf("expected 1 call to sender, got %d", mock.getCallCount())
		}

		lastAlert := mock.getLastAlert()
		if lastAlert == nil {
			t.Fatal("lastAlert should not be nil")
		}
		if lastAlert.Type != alert.Type {
			t.Errorf("expected type %s, got %s", alert.Type, lastAlert.Type)
		}
		if lastAlert.Timestamp.IsZero() {
			t.Error("timestamp should be set")
		}
	})

	t.Run("send to multiple senders", func(t *testing.T) {
		m := newBareManager(5 * time.Minute)
		mock1 := newMockSender("sender-1")
		mock2 := newMockSender("sender-2")
		m.senders = append(m.senders, mock1, mock2)

		alert := Alert{
			Type:      "honeypot_triggered",
			Severity:  "critical",
			Title:     "Honeypot trap triggered",
			Message:   "Session interacted with a trap",
			SessionID: "session-1",
		}

		m.Send(alert)
		time.Sleep(50 * time.Millisecond)

		if mock1.getCallCount() != 1 {
			t.Errorf("sender-1: expected 1 call, got %d", mock1.getCallCount())
		}
		if mock2.getCallCount() != 1 {
			t.Errorf("sender-2: expected 1 call, got %d", mock2.getCallCount())
		}
	})

	t.Run("deduplication prevents duplicate sends", func(t *testing.T) {
		m := newBareManager(5 * time.Minute)
		mock := newMockSender("test-sender")
		m.senders = append(m.senders, mock)

		alert := Alert{
			Type:      "confirmation_required",
			Severity:  "warning",
			Title:     "Action requires confirmation",
			Message:   "This is a test",
			SessionID: "session-1",
		}

		m.Send(alert)
		time.Sleep(50 * time.Millisecond)
		m.Send(alert)
		time.Sleep(50 * time.Millisecond)
		m.Send(alert)
		time.Sleep(50 * time.Millisecond)

		if mock.getCallCount() != 1 {
			t.Errorf("expected 1 call due to deduplication, got %d", mock.getCallCount())
		}
	})

	t.Run("deduplication allows after TTL expires", func(t *testing.T) {
		m := newBareManager(100 * time.Millisecond)
		mock := newMockSender("test-sender")
		m.senders = append(m.senders, mock)

		alert := Alert{
			Type:      "threat_detected",
			Severity:  "critical",
			Title:     "Test Alert",
			Message:   "This is a test",
			SessionID: "session-1",
		}

		m.Send(alert)
		time.Sleep(50 * time.Millisecond)

		time.Sleep(150 * time.Millisecond)

		m.Send(alert)
		time.Sleep(50 * time.Millisecond)

		if mock.getCallCount() != 2 {
			t.Errorf("expected 2 calls after TTL expiry, got %d", mock.getCallCount())
		}
	})

	t.Run("different alerts are not deduplicated", func(t *testing.T) {
		m := newBareManager(5 * time.Minute)
		mock := newMockSender("test-sender")
		m.senders = append(m.senders, mock)

		alert1 := Alert{
			Type:      "threat_detected",
			Severity:  "critical",
			Title:     "Test Alert 1",
			SessionID: "session-1",
		}
		alert2 := Alert{
			Type:      "honeypot_triggered", // different type
			Severity:  "critical",
			Title:     "Test Alert 2",
			SessionID: "session-1",
		}
		alert3 := Alert{
			Type:      "threat_detected",
			Severity:  "critical",
			Title:     "Test Alert 3",
			SessionID: "session-2", // different session
		}

		m.Send(alert1)
		time.Sleep(50 * time.Millisecond)
		m.Send(alert2)
		time.Sleep(50 * time.Millisecond)
		m.Send(alert3)
		time.Sleep(50 * time.Millisecond)

		if mock.getCallCount() != 3 {
			t.Errorf("expected 3 calls for different alerts, got %d", mock.getCallCount())
		}
	})

	t.Run("sender error does not crash manager", func(t *testing.T) {
		m := newBareManager(5 * time.Minute)
		mock := newMockSender("test-sender")
		mock.sendFunc = func(Alert) error {
			return &senderError{sender: "test-sender", msg: "test error"}
		}
		m.senders = append(m.senders, mock)

		alert := Alert{
			Type:      "threat_detected",
			Severity:  "critical",
			Title:     "Test Alert",
			SessionID: "session-1",
		}

		m.Send(alert)
		time.Sleep(50 * time.Millisecond)

		if mock.getCallCount() != 1 {
			t.Errorf("expected 1 call attempt even with error, got %d", mock.getCallCount())
		}
	})
}

type senderError struct {
	sender string
	msg    string
}

func (e *senderError) Error() string {
	return e.sender + ": " + e.msg
}

func TestManager_PruneDedup(t *testing.T) {
	t.Run("prunes expired entries", func(t *testing.T) {
		m := newBareManager(100 * time.Millisecond)

		now := time.Now()
		m.dedup["key1"] = now.Add(-300 * time.Millisecond) // > 2*TTL
		m.dedup["key2"] = now.Add(-250 * time.Millisecond) // > 2*TTL
		m.dedup["key3"] = now.Add(-100 * time.Millisecond) // < 2*TTL
		m.dedup["key4"] = now.Add(-10 * time.Millisecond)

		m.PruneDedup()

		if len(m.dedup) != 2 {
			t.Errorf("expected 2 entries after prune, got %d", len(m.dedup))
		}
		if _, exists := m.dedup["key1"]; exists {
			t.Error("key1 should have been pruned")
		}
		if _, exists := m.dedup["key2"]; exists {
			t.Error("key2 should have been pruned")
		}
		if _, exists := m.dedup["key3"]; !exists {
			t.Error("key3 should not have been pruned")
		}
		if _, exists := m.dedup["key4"]; !exists {
			t.Error("key4 should not have been pruned")
		}
	})

	t.Run("empty dedup map", func(t *testing.T) {
		m := newBareManager(5 * time.Minute)
		m.PruneDedup()
		if len(m.dedup) != 0 {
			t.Errorf("expected 0 entries, got %d", len(m.dedup))
		}
	})
}

func TestManager_ConcurrentSend(t *testing.T) {
	t.Run("concurrent sends with deduplication", func(t *testing.T) {
		m := newBareManager(5 * time.Minute)
		mock := newMockSender("test-sender")
		m.senders = append(m.senders, mock)

		alert := Alert{
			Type:      "threat_detected",
			Severity:  "critical",
			Title:     "Test Alert",
			SessionID: "session-1",
		}

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				m.Send(alert)
			}()
		}

		wg.Wait()
		time.Sleep(100 * time.Millisecond)

		if count := mock.getCallCount(); count != 1 {
			t.Errorf("expected 1 call due to deduplication, got %d", count)
		}
	})

	t.Run("concurrent sends with different sessions", func(t *testing.T) {
		m := newBareManager(5 * time.Minute)
		mock := newMockSender("test-sender")
		m.senders = append(m.senders, mock)

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				m.Send(Alert{
					Type:      "threat_detected",
					Severity:  "critical",
					Title:     "Test Alert",
					SessionID: string(rune('a' + idx)),
				})
			}(i)
		}

		wg.Wait()
		time.Sleep(100 * time.Millisecond)

		if count := mock.getCallCount(); count != 10 {
			t.Errorf("expected 10 calls for different sessions, got %d", count)
		}
	})
}

func TestFromEnvelope(t *testing.T) {
	t.Run("honeypot trigger becomes critical alert", func(t *testing.T) {
		env := event.Envelope{
			Type:      event.TypeHoneyPromptTriggered,
			SessionID: "sess-1",
			Payload:   map[string]interface{}{"trap_id": "trap-abc"},
		}

		alert, ok := FromEnvelope(env)
		if !ok {
			t.Fatal("expected alert for honeypot trigger")
		}
		if alert.Type != "honeypot_triggered" {
			t.Errorf("type = %q, want honeypot_triggered", alert.Type)
		}
		if alert.Severity != "critical" {
			t.Errorf("severity = %q, want critical", alert.Severity)
		}
		if alert.SessionID != "sess-1" {
			t.Errorf("session = %q, want sess-1", alert.SessionID)
		}
	})

	t.Run("high severity threat becomes alert", func(t *testing.T) {
		env := event.Envelope{
			Type:      event.TypeThreatDetected,
			SessionID: "sess-1",
			Payload: map[string]interface{}{
				"severity":    4,
				"threat_kind": "PROMPT_INJECTION",
			},
		}

		alert, ok := FromEnvelope(env)
		if !ok {
			t.Fatal("expected alert for severity 4 threat")
		}
		if alert.Type != "threat_detected" {
			t.Errorf("type = %q, want threat_detected", alert.Type)
		}
	})

	t.Run("high severity threat from decoded JSON payload", func(t *testing.T) {
		env := event.Envelope{
			Type:      event.TypeThreatDetected,
			SessionID: "sess-1",
			Payload: map[string]interface{}{
				"severity":    float64(5),
				"threat_kind": "HONEYPOT_TRIGGERED",
			},
		}

		if _, ok := FromEnvelope(env); !ok {
			t.Fatal("expected alert for float64 severity 5")
		}
	})

	t.Run("low severity threat is dropped", func(t *testing.T) {
		env := event.Envelope{
			Type:      event.TypeThreatDetected,
			SessionID: "sess-1",
			Payload: map[string]interface{}{
				"severity":    2,
				"threat_kind": "HIDDEN_CONTENT",
			},
		}

		if _, ok := FromEnvelope(env); ok {
			t.Fatal("expected no alert for severity 2 threat")
		}
	})

	t.Run("confirmation required becomes warning", func(t *testing.T) {
		env := event.Envelope{
			Type:      event.TypeConfirmationRequired,
			SessionID: "sess-1",
		}

		alert, ok := FromEnvelope(env)
		if !ok {
			t.Fatal("expected alert for confirmation required")
		}
		if alert.Severity != "warning" {
			t.Errorf("severity = %q, want warning", alert.Severity)
		}
	})

	t.Run("routine events are dropped", func(t *testing.T) {
		for _, typ := range []string{event.TypeConnected, event.TypePageLoaded, event.TypeActionDecision} {
			if _, ok := FromEnvelope(event.Envelope{Type: typ, SessionID: "sess-1"}); ok {
				t.Errorf("expected no alert for %s", typ)
			}
		}
	})
}
