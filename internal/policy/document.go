// Package policy implements the layered policy store and the structured
// evaluation of proposed browser actions. Policies are keyed by scope
// ("global", a user, or a session); missing scopes fall back to global.
// Writes are copy-on-write and preserve a per-scope version history, so
// hot reload affects only evaluations that start after the write.
package policy

import (
	"fmt"
	"time"
)

// CustomRule is an operator-defined CEL condition attached to a policy.
// Conditions are compiled once when the policy is set; a matching rule
// applies its effect ("block" or "confirm").
type CustomRule struct {
	Name      string `json:"name" yaml:"name"`
	Condition string `json:"condition" yaml:"condition"`
	Effect    string `json:"effect" yaml:"effect"`
	Message   string `json:"message,omitempty" yaml:"message,omitempty"`
}

// Policy is the serializable policy document.
type Policy struct {
	Version                string       `json:"version" yaml:"version"`
	CreatedAt              time.Time    `json:"createdAt" yaml:"created_at"`
	AllowPayments          bool         `json:"allowPayments" yaml:"allow_payments"`
	MaxSpend               float64      `json:"maxSpend" yaml:"max_spend"`
	BlockedDomains         []string     `json:"blockedDomains" yaml:"blocked_domains"`
	AllowedDomains         []string     `json:"allowedDomains" yaml:"allowed_domains"`
	RequireConfirmationFor []string     `json:"requireConfirmationFor" yaml:"require_confirmation_for"`
	BlockedActions         []string     `json:"blockedActions" yaml:"blocked_actions"`
	SensitiveSelectors     []string     `json:"sensitiveSelectors" yaml:"sensitive_selectors"`
	MinTrust               float64      `json:"minTrust,omitempty" yaml:"min_trust"`
	AutoBlockThreshold     int          `json:"autoBlockThreshold,omitempty" yaml:"auto_block_threshold"`
	HoneypotEnabled        bool         `json:"honeypotEnabled" yaml:"honeypot_enabled"`
	MaxActionsPerMinute    int          `json:"maxActionsPerMinute,omitempty" yaml:"max_actions_per_minute"`
	CustomRules            []CustomRule `json:"customRules,omitempty" yaml:"custom_rules,omitempty"`
}

// DefaultPolicy is the global policy installed at startup.
func DefaultPolicy() Policy {
	return Policy{
		Version:       "v1",
		CreatedAt:     time.Now().UTC(),
		AllowPayments: false,
		MaxSpend:      100,
		BlockedDomains: []string{
			"*evil*",
			"*phishing*",
			"*malware*",
		},
		RequireConfirmationFor: []string{
			"transfer", "payment", "purchase", "delete", "submit",
		},
		BlockedActions: []string{
			"format", "wipe",
		},
		SensitiveSelectors: []string{
			"#password", "input[type=password]",
		},
		MinTrust:            10,
		AutoBlockThreshold:  70,
		HoneypotEnabled:     true,
		MaxActionsPerMinute: 30,
	}
}

// Clone returns a deep copy so callers can mutate without sharing slices.
func (p Policy) Clone() Policy {
	c := p
	c.BlockedDomains = append([]string(nil), p.BlockedDomains...)
	c.AllowedDomains = append([]string(nil), p.AllowedDomains...)
	c.RequireConfirmationFor = append([]string(nil), p.RequireConfirmationFor...)
	c.BlockedActions = append([]string(nil), p.BlockedActions...)
	c.SensitiveSelectors = append([]string(nil), p.SensitiveSelectors...)
	c.CustomRules = append([]CustomRule(nil), p.CustomRules...)
	return c
}

// nextVersion derives the successor version string ("v1" -> "v2"). Unparsable
// versions restart at v1 with the prior preserved in history regardless.
func nextVersion(current string) string {
	var n int
	if _, err := fmt.Sscanf(current, "v%d", &n); err != nil || n < 1 {
		return "v1"
	}
	return fmt.Sprintf("v%d", n+1)
}
