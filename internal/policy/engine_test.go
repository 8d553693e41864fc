package policy

import (
	"strings"
	"testing"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	celEval, err := NewCELEvaluator(nil)
	if err != nil {
		t.Fatalf("NewCELEvaluator: %v", err)
	}
	return NewEngine(NewStore(nil), NewRateLimiter(nil), celEval, nil)
}

func TestEvaluate_CleanActionAllowed(t *testing.T) {
	e := newTestEngine(t)

	ev := e.Evaluate(Action{
		Kind:   "CLICK",
		Target: "button#search",
		URL:    "https://shop.example.com/products",
	}, SessionContext{ID: "ses_1", Trust: 75})

	if ev.Decision != DecisionAllow {
		t.Fatalf("decision = %q, want ALLOW (violations: %v)", ev.Decision, ev.Violations)
	}
	if !ev.Allowed {
		t.Error("allowed should be true")
	}
	if ev.RiskScore != 0 {
		t.Errorf("risk = %v, want 0", ev.RiskScore)
	}
}

func TestEvaluate_BlockedDomain(t *testing.T) {
	e := newTestEngine(t)

	ev := e.Evaluate(Action{
		Kind: "NAVIGATE",
		URL:  "https://evil-site.com/login",
	}, SessionContext{ID: "ses_1", Trust: 75})

	if ev.Decision != DecisionBlock {
		t.Fatalf("decision = %q, want BLOCK", ev.Decision)
	}
	if ev.Rule != "blocked_domain" {
		t.Errorf("rule = %q, want blocked_domain", ev.Rule)
	}
	if ev.RiskScore < 50 {
		t.Errorf("risk = %v, want >= 50", ev.RiskScore)
	}
}

func TestEvaluate_AllowlistEnforced(t *testing.T) {
	e := newTestEngine(t)
	p := DefaultPolicy()
	p.AllowedDomains = []string{"*.example.com"}
	if _, err := e.SetPolicy("ses_1", p); err != nil {
		t.Fatalf("SetPolicy: %v", err)
	}

	ev := e.Evaluate(Action{Kind: "NAVIGATE", URL: "https://evil.com"},
		SessionContext{ID: "ses_1", Trust: 90})
	if ev.Decision != DecisionBlock {
		t.Fatalf("off-allowlist navigation decision = %q, want BLOCK", ev.Decision)
	}

	ev = e.Evaluate(Action{Kind: "NAVIGATE", URL: "https://www.example.com"},
		SessionContext{ID: "ses_1", Trust: 90})
	if ev.Decision != DecisionAllow {
		t.Errorf("allowlisted navigation decision = %q, want ALLOW (violations: %v)", ev.Decision, ev.Violations)
	}
}

func TestEvaluate_PaymentsAndSpendCap(t *testing.T) {
	e := newTestEngine(t)

	// Payments disabled: payment-like target is HIGH. With trust >= 50 the
	// action itself passes; the risk contribution carries the signal.
	ev := e.Evaluate(Action{Kind: "CLICK", Target: "button#checkout"},
		SessionContext{ID: "ses_1", Trust: 75})
	if ev.Decision != DecisionAllow {
		t.Errorf("high-trust payment decision = %q, want ALLOW", ev.Decision)
	}
	if ev.RiskScore < 40 {
		t.Errorf("risk = %v, want >= 40", ev.RiskScore)
	}

	// Same action at low trust blocks.
	ev = e.Evaluate(Action{Kind: "CLICK", Target: "button#checkout"},
		SessionContext{ID: "ses_1", Trust: 40})
	if ev.Decision != DecisionBlock {
		t.Errorf("low-trust payment decision = %q, want BLOCK", ev.Decision)
	}

	// Amount over the cap is CRITICAL regardless of trust.
	ev = e.Evaluate(Action{Kind: "SUBMIT", Target: "form#pay", Amount: 500},
		SessionContext{ID: "ses_1", Trust: 95})
	if ev.Decision != DecisionBlock {
		t.Errorf("over-cap decision = %q, want BLOCK", ev.Decision)
	}
	found := false
	for _, v := range ev.Violations {
		if v.Rule == "max_spend" {
			found = true
		}
	}
	if !found {
		t.Errorf("missing max_spend violation: %v", ev.Violations)
	}
}

func TestEvaluate_MinTrust(t *testing.T) {
	e := newTestEngine(t)

	ev := e.Evaluate(Action{Kind: "CLICK", Target: "a#next"},
		SessionContext{ID: "ses_1", Trust: 5})
	if ev.Decision != DecisionBlock {
		t.Fatalf("decision = %q, want BLOCK (trust below minimum blocks at low trust)", ev.Decision)
	}
	if ev.Rule != "min_trust" {
		t.Errorf("rule = %q, want min_trust", ev.Rule)
	}
}

func TestEvaluate_ConfirmationKeywords(t *testing.T) {
	e := newTestEngine(t)

	ev := e.Evaluate(Action{Kind: "CLICK", Target: "button#delete-account"},
		SessionContext{ID: "ses_1", Trust: 80})
	if !ev.RequiresConfirmation {
		t.Fatal("delete target should require confirmation")
	}
	if ev.Decision != DecisionConfirm {
		t.Errorf("decision = %q, want CONFIRM", ev.Decision)
	}
}

func TestEvaluate_SensitiveSelector(t *testing.T) {
	e := newTestEngine(t)

	ev := e.Evaluate(Action{Kind: "TYPE", Target: "input[type=password]", Text: "hunter2"},
		SessionContext{ID: "ses_1", Trust: 30})
	if ev.Decision != DecisionBlock {
		t.Fatalf("decision = %q, want BLOCK", ev.Decision)
	}
	if ev.Rule != "sensitive_selector" {
		t.Errorf("rule = %q, want sensitive_selector", ev.Rule)
	}
}

func TestEvaluate_RateLimit(t *testing.T) {
	e := newTestEngine(t)
	sess := SessionContext{ID: "ses_rl", Trust: 40}
	act := Action{Kind: "CLICK", Target: "a#next", URL: "https://ok.example.com"}

	for i := 1; i <= 30; i++ {
		ev := e.Evaluate(act, sess)
		if ev.Decision != DecisionAllow {
			t.Fatalf("action %d decision = %q, want ALLOW", i, ev.Decision)
		}
	}
	ev := e.Evaluate(act, sess)
	if ev.Decision != DecisionBlock {
		t.Fatalf("31st action decision = %q, want BLOCK", ev.Decision)
	}
	if ev.Rule != "rate_limit" {
		t.Errorf("rule = %q, want rate_limit", ev.Rule)
	}
}

func TestEvaluate_ScopeFallback(t *testing.T) {
	e := newTestEngine(t)
	p := DefaultPolicy()
	p.BlockedDomains = append(p.BlockedDomains, "corp-intranet.local")
	if _, err := e.SetPolicy("user-7", p); err != nil {
		t.Fatalf("SetPolicy: %v", err)
	}

	// Scoped policy applies to its scope.
	ev := e.Evaluate(Action{Kind: "NAVIGATE", URL: "https://corp-intranet.local/"},
		SessionContext{ID: "ses_1", Scope: "user-7", Trust: 80})
	if ev.Decision != DecisionBlock {
		t.Errorf("scoped decision = %q, want BLOCK", ev.Decision)
	}

	// Unknown scope falls back to global, which does not block that host.
	ev = e.Evaluate(Action{Kind: "NAVIGATE", URL: "https://corp-intranet.local/"},
		SessionContext{ID: "ses_2", Scope: "user-other", Trust: 80})
	if ev.Decision != DecisionAllow {
		t.Errorf("fallback decision = %q, want ALLOW (violations: %v)", ev.Decision, ev.Violations)
	}
}

func TestEvaluate_CustomRuleBlock(t *testing.T) {
	e := newTestEngine(t)
	p := DefaultPolicy()
	p.CustomRules = []CustomRule{{
		Name:      "no-late-night-transfers",
		Condition: `action.kind == "SUBMIT" && action.amount > 10.0`,
		Effect:    "block",
		Message:   "submissions above $10 are blocked",
	}}
	if _, err := e.SetPolicy("ses_1", p); err != nil {
		t.Fatalf("SetPolicy: %v", err)
	}

	ev := e.Evaluate(Action{Kind: "SUBMIT", Target: "form#order", Amount: 20},
		SessionContext{ID: "ses_1", Trust: 90})
	if ev.Decision != DecisionBlock {
		t.Fatalf("decision = %q, want BLOCK", ev.Decision)
	}
	if !strings.Contains(ev.Explanation, "no-late-night-transfers") {
		t.Errorf("explanation %q missing custom rule name", ev.Explanation)
	}
}

func TestSetPolicy_RejectsBadCustomRule(t *testing.T) {
	e := newTestEngine(t)
	p := DefaultPolicy()
	p.CustomRules = []CustomRule{{
		Name:      "broken",
		Condition: `action.kind ==`,
		Effect:    "block",
	}}
	if _, err := e.SetPolicy("ses_1", p); err == nil {
		t.Fatal("expected compile error for malformed condition")
	}

	// Previous (global fallback) policy still evaluates.
	ev := e.Evaluate(Action{Kind: "CLICK", Target: "a#next", URL: "https://ok.example.com"},
		SessionContext{ID: "ses_1", Trust: 75})
	if ev.Decision != DecisionAllow {
		t.Errorf("decision after rejected policy = %q, want ALLOW", ev.Decision)
	}
}

func TestMatchDomain(t *testing.T) {
	tests := []struct {
		pattern string
		host    string
		want    bool
	}{
		{"evil.com", "evil.com", true},
		{"evil.com", "www.evil.com", true},
		{"evil.com", "notevil.com", false},
		{"*evil*", "evil-site.com", true},
		{"*.example.com", "shop.example.com", true},
		{"*.example.com", "example.com", false},
		{"*phishing*", "my-phishing-page.net", true},
	}
	for _, tt := range tests {
		if got := matchDomain(tt.pattern, tt.host); got != tt.want {
			t.Errorf("matchDomain(%q, %q) = %v, want %v", tt.pattern, tt.host, got, tt.want)
		}
	}
}

func TestHostOf(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"https://Shop.Example.com/cart?x=1", "shop.example.com"},
		{"evil.com/path", "evil.com"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := hostOf(tt.raw); got != tt.want {
			t.Errorf("hostOf(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}
