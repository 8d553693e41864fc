package alert

import (
	"fmt"

	"github.com/sentinelsec/sentinel/internal/event"
)

// FromEnvelope converts a pipeline event into an alert, or returns false for
// events that do not warrant external notification.
func FromEnvelope(env event.Envelope) (Alert, bool) {
	switch env.Type {
	case event.TypeHoneyPromptTriggered:
		return Alert{
			Type:      "honeypot_triggered",
			Severity:  "critical",
			Title:     "Honeypot trap triggered",
			Message:   fmt.Sprintf("Session %s interacted with a honeypot trap and was terminated.", env.SessionID),
			SessionID: env.SessionID,
			Details:   env.Payload,
		}, true

	case event.TypeThreatDetected:
		sev, _ := env.Payload["severity"].(int)
		if f, ok := env.Payload["severity"].(float64); ok {
			sev = int(f)
		}
		if sev < 4 {
			return Alert{}, false
		}
		kind, _ := env.Payload["threat_kind"].(string)
		return Alert{
			Type:      "threat_detected",
			Severity:  "critical",
			Title:     fmt.Sprintf("Threat detected: %s", kind),
			Message:   fmt.Sprintf("High-severity %s threat in session %s.", kind, env.SessionID),
			SessionID: env.SessionID,
			Details:   env.Payload,
		}, true

	case event.TypeConfirmationRequired:
		return Alert{
			Type:      "confirmation_required",
			Severity:  "warning",
			Title:     "Action requires confirmation",
			Message:   fmt.Sprintf("Session %s has an action waiting for operator confirmation.", env.SessionID),
			SessionID: env.SessionID,
			Details:   env.Payload,
		}, true

	default:
		return Alert{}, false
	}
}
