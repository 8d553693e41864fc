package policy

import (
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/sentinelsec/sentinel/internal/detect"
)

// Decision is the verdict for a proposed action.
const (
	DecisionAllow   = "ALLOW"
	DecisionConfirm = "CONFIRM"
	DecisionBlock   = "BLOCK"
)

// paymentKeywords mark an action as payment-related for the allow-payments
// check.
var paymentKeywords = []string{"pay", "payment", "checkout", "purchase", "buy"}

// Action describes the proposed browser action under evaluation.
type Action struct {
	Kind   string  `json:"kind"`   // CLICK, TYPE, NAVIGATE, READ, SUBMIT
	Target string  `json:"target"` // CSS selector or element description
	URL    string  `json:"url"`    // destination or current page URL
	Text   string  `json:"text"`   // typed text or element text
	Amount float64 `json:"amount"` // monetary amount, 0 when not applicable
}

// SessionContext carries the session state the checks depend on.
type SessionContext struct {
	ID          string
	Scope       string // policy scope; empty means global
	Trust       float64
	ActionCount int
}

// Violation is one failed check.
type Violation struct {
	Rule     string          `json:"rule"`
	Severity detect.Severity `json:"severity"`
	Risk     float64         `json:"risk"`
	Message  string          `json:"message"`
}

// Evaluation is the outcome of running an action through the policy checks.
// Rule names the first check that fired; Violations carries the full set in
// check order.
type Evaluation struct {
	Decision             string      `json:"decision"`
	Allowed              bool        `json:"allowed"`
	Rule                 string      `json:"rule,omitempty"`
	RequiresConfirmation bool        `json:"requiresConfirmation"`
	Violations           []Violation `json:"violations"`
	RiskScore            float64     `json:"riskScore"`
	PolicyVersion        string      `json:"policyVersion"`
	Explanation          string      `json:"explanation"`
}

// Engine runs proposed actions through the ordered structured checks plus any
// compiled custom rules. Checks run in a fixed order and every violation is
// collected; the decision is computed from the full set so the caller sees
// all reasons, not just the first.
//
// Engine is safe for concurrent use. Policies can be hot-swapped per scope
// via SetPolicy without stopping traffic.
type Engine struct {
	store   *Store
	limiter *RateLimiter
	celEval *CELEvaluator
	logger  *slog.Logger

	mu       sync.RWMutex
	compiled map[string][]CompiledRule // scope -> compiled custom rules
}

// NewEngine creates a policy Engine backed by the given store. The CEL
// evaluator may be nil, in which case custom rules are rejected at install
// time.
func NewEngine(store *Store, limiter *RateLimiter, celEval *CELEvaluator, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:    store,
		limiter:  limiter,
		celEval:  celEval,
		logger:   logger.With("component", "policy.Engine"),
		compiled: make(map[string][]CompiledRule),
	}
}

// Store exposes the underlying policy store.
func (e *Engine) Store() *Store { return e.store }

// Limiter exposes the rate limiter so session teardown can free counters.
func (e *Engine) Limiter() *RateLimiter { return e.limiter }

// SetPolicy compiles the policy's custom rules and installs it for the
// scope. A policy with an uncompilable rule is rejected whole, leaving the
// previous version active.
func (e *Engine) SetPolicy(scope string, p Policy) (Policy, error) {
	if scope == "" {
		scope = GlobalScope
	}

	var rules []CompiledRule
	if len(p.CustomRules) > 0 {
		if e.celEval == nil {
			return Policy{}, fmt.Errorf("policy for scope %q has custom rules but no evaluator is configured", scope)
		}
		for _, cr := range p.CustomRules {
			compiled, err := e.celEval.Compile(cr)
			if err != nil {
				return Policy{}, fmt.Errorf("custom rule %q: %w", cr.Name, err)
			}
			rules = append(rules, compiled)
		}
	}

	installed := e.store.Set(scope, p)

	e.mu.Lock()
	e.compiled[scope] = rules
	e.mu.Unlock()

	return installed, nil
}

// Evaluate runs the proposed action through every check against the scope's
// active policy and returns the full evaluation.
//
// Check order: minimum trust, blocked domains, blocked selectors and actions,
// payments, spend cap, domain allowlist, confirmation keywords, rate limit,
// custom rules. Any CRITICAL violation blocks; a HIGH violation blocks when
// session trust is below 50; confirmation-only outcomes yield CONFIRM.
func (e *Engine) Evaluate(action Action, sess SessionContext) Evaluation {
	scope := sess.Scope
	if scope == "" {
		scope = sess.ID
	}
	pol := e.store.Get(scope)

	ev := Evaluation{PolicyVersion: pol.Version}

	// 1. Minimum trust.
	if pol.MinTrust > 0 && sess.Trust < pol.MinTrust {
		ev.add("min_trust", detect.SeverityHigh, 30,
			fmt.Sprintf("session trust %.0f below minimum %.0f", sess.Trust, pol.MinTrust))
	}

	// 2. Blocked domains.
	if host := hostOf(action.URL); host != "" {
		for _, pattern := range pol.BlockedDomains {
			if matchDomain(pattern, host) {
				ev.add("blocked_domain", detect.SeverityCritical, 50,
					fmt.Sprintf("domain %q matches blocked pattern %q", host, pattern))
				break
			}
		}
	}

	// 3. Blocked selectors and actions.
	lowTarget := strings.ToLower(action.Target)
	for _, sel := range pol.SensitiveSelectors {
		if sel != "" && strings.Contains(lowTarget, strings.ToLower(sel)) {
			ev.add("sensitive_selector", detect.SeverityHigh, 40,
				fmt.Sprintf("target matches sensitive selector %q", sel))
			break
		}
	}
	lowKind := strings.ToLower(action.Kind)
	for _, blocked := range pol.BlockedActions {
		if blocked == "" {
			continue
		}
		b := strings.ToLower(blocked)
		if strings.Contains(lowKind, b) || strings.Contains(lowTarget, b) {
			ev.add("blocked_action", detect.SeverityHigh, 40,
				fmt.Sprintf("action matches blocked entry %q", blocked))
			break
		}
	}

	// 4. Payments.
	if !pol.AllowPayments && isPaymentAction(action) {
		ev.add("payments_disabled", detect.SeverityHigh, 40,
			"payment action attempted but payments are not allowed")
	}

	// 5. Spend cap.
	if pol.MaxSpend > 0 && action.Amount > pol.MaxSpend {
		ev.add("max_spend", detect.SeverityCritical, 50,
			fmt.Sprintf("amount %.2f exceeds spend cap %.2f", action.Amount, pol.MaxSpend))
	}

	// 6. Domain allowlist. Only enforced when the policy declares one.
	if len(pol.AllowedDomains) > 0 {
		if host := hostOf(action.URL); host != "" {
			allowed := false
			for _, pattern := range pol.AllowedDomains {
				if matchDomain(pattern, host) {
					allowed = true
					break
				}
			}
			if !allowed {
				ev.add("domain_not_allowed", detect.SeverityCritical, 50,
					fmt.Sprintf("domain %q is not on the allowlist", host))
			}
		}
	}

	// 7. Confirmation keywords.
	haystack := lowKind + " " + lowTarget + " " + strings.ToLower(action.Text)
	for _, kw := range pol.RequireConfirmationFor {
		if kw != "" && strings.Contains(haystack, strings.ToLower(kw)) {
			ev.RequiresConfirmation = true
			ev.add("requires_confirmation", detect.SeverityMedium, 15,
				fmt.Sprintf("action matches confirmation keyword %q", kw))
			break
		}
	}

	// 8. Rate limit.
	if e.limiter != nil && !e.limiter.Allow(sess.ID, pol.MaxActionsPerMinute) {
		ev.add("rate_limit", detect.SeverityHigh, 30,
			fmt.Sprintf("exceeded %d actions per minute", pol.MaxActionsPerMinute))
	}

	// 9. Custom rules, fail closed on evaluation error.
	e.mu.RLock()
	rules := e.compiled[scope]
	if rules == nil && scope != GlobalScope {
		rules = e.compiled[GlobalScope]
	}
	e.mu.RUnlock()
	for _, rule := range rules {
		matched, err := e.celEval.Evaluate(rule, action, sess)
		if err != nil {
			e.logger.Error("custom rule evaluation error, failing closed",
				"rule", rule.Name, "error", err)
			ev.add("custom:"+rule.Name, detect.SeverityCritical, 50,
				"rule evaluation error: "+err.Error())
			continue
		}
		if !matched {
			continue
		}
		switch rule.Effect {
		case "confirm":
			ev.RequiresConfirmation = true
			ev.add("custom:"+rule.Name, detect.SeverityMedium, 15, rule.Message)
		default: // block
			ev.add("custom:"+rule.Name, detect.SeverityCritical, 50, rule.Message)
		}
	}

	ev.finalize(sess.Trust)

	if ev.Decision != DecisionAllow {
		e.logger.Warn("policy verdict",
			"session_id", sess.ID,
			"decision", ev.Decision,
			"violations", len(ev.Violations),
			"risk", ev.RiskScore,
		)
	}
	return ev
}

// add appends a violation and accumulates its risk contribution.
func (ev *Evaluation) add(rule string, sev detect.Severity, risk float64, msg string) {
	ev.Violations = append(ev.Violations, Violation{
		Rule:     rule,
		Severity: sev,
		Risk:     risk,
		Message:  msg,
	})
	ev.RiskScore += risk
}

// finalize computes the decision from the collected violations.
func (ev *Evaluation) finalize(trust float64) {
	if ev.RiskScore > 100 {
		ev.RiskScore = 100
	}

	hasCritical, hasHigh := false, false
	for _, v := range ev.Violations {
		switch v.Severity {
		case detect.SeverityCritical:
			hasCritical = true
		case detect.SeverityHigh:
			hasHigh = true
		}
	}

	switch {
	case hasCritical:
		ev.Decision = DecisionBlock
	case hasHigh && trust < 50:
		ev.Decision = DecisionBlock
	case ev.RequiresConfirmation:
		ev.Decision = DecisionConfirm
	default:
		// A HIGH violation with decent trust passes here; its risk
		// contribution still reaches the aggregator.
		ev.Decision = DecisionAllow
	}
	ev.Allowed = ev.Decision == DecisionAllow

	if len(ev.Violations) == 0 {
		ev.Explanation = "no policy violations"
	} else {
		ev.Rule = ev.Violations[0].Rule
		parts := make([]string, len(ev.Violations))
		for i, v := range ev.Violations {
			parts[i] = v.Rule
		}
		ev.Explanation = "violated: " + strings.Join(parts, ", ")
	}
}

// isPaymentAction reports whether the action looks payment-related.
func isPaymentAction(a Action) bool {
	haystack := strings.ToLower(a.Kind + " " + a.Target + " " + a.Text)
	for _, kw := range paymentKeywords {
		if strings.Contains(haystack, kw) {
			return true
		}
	}
	return a.Amount > 0
}

// matchDomain matches a host against a pattern. Patterns support glob
// wildcards; a bare domain also matches its subdomains.
func matchDomain(pattern, host string) bool {
	pattern = strings.ToLower(pattern)
	host = strings.ToLower(host)
	if pattern == host {
		return true
	}
	if ok, err := path.Match(pattern, host); err == nil && ok {
		return true
	}
	return !strings.ContainsAny(pattern, "*?[") && strings.HasSuffix(host, "."+pattern)
}

// hostOf extracts the hostname from a URL, tolerating bare hosts.
func hostOf(raw string) string {
	if raw == "" {
		return ""
	}
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		return strings.ToLower(u.Hostname())
	}
	if i := strings.IndexAny(raw, "/?#"); i >= 0 {
		raw = raw[:i]
	}
	return strings.ToLower(raw)
}
