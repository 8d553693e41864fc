package detect

import (
	"context"
	"regexp"
	"strings"
	"time"
)

// Action categories for intent/action comparison.
const (
	CategoryNavigation  = "navigation"
	CategoryReading     = "reading"
	CategoryClicking    = "clicking"
	CategoryTyping      = "typing"
	CategoryFinancial   = "financial"
	CategoryAuth        = "auth"
	CategoryData        = "data"
	CategoryDestructive = "destructive"
)

// categoryKeywords classify free text into action categories by keyword hit.
var categoryKeywords = map[string][]string{
	CategoryNavigation:  {"navigate", "go to", "visit", "open", "load", "browse"},
	CategoryReading:     {"read", "view", "look", "check", "see", "find", "search", "observe", "review"},
	CategoryClicking:    {"click", "press", "tap", "select", "choose", "pick"},
	CategoryTyping:      {"type", "enter", "input", "write", "fill"},
	CategoryFinancial:   {"pay", "transfer", "buy", "purchase", "send money", "transaction", "checkout", "$"},
	CategoryAuth:        {"login", "sign in", "authenticate", "password", "credential", "logout"},
	CategoryData:        {"download", "upload", "export", "copy", "extract", "scrape"},
	CategoryDestructive: {"delete", "remove", "cancel", "terminate", "erase"},
}

// categoryOrder keeps categorization deterministic.
var categoryOrder = []string{
	CategoryNavigation, CategoryReading, CategoryClicking, CategoryTyping,
	CategoryFinancial, CategoryAuth, CategoryData, CategoryDestructive,
}

// suspiciousTransitions penalize an intent in one category resolving to an
// action in a much riskier one.
var suspiciousTransitions = map[[2]string]int{
	{CategoryReading, CategoryFinancial}:    40,
	{CategoryNavigation, CategoryFinancial}: 35,
	{CategoryReading, CategoryAuth}:         35,
	{CategoryReading, CategoryDestructive}:  40,
	{CategoryClicking, CategoryDestructive}: 30,
	{CategoryNavigation, CategoryAuth}:      25,
	{CategoryReading, CategoryData}:         20,
}

// highRiskCategories trigger a penalty when present in the action but absent
// from the stated intent.
var highRiskCategories = map[string]int{
	CategoryFinancial:   30,
	CategoryAuth:        25,
	CategoryDestructive: 30,
	CategoryData:        15,
}

// actionOnlyPatterns are dangerous concretions that should never appear in
// an action unless the intent mentioned them. Each maps to the category it
// evidences so a category is never penalized twice.
var actionOnlyPatterns = []struct {
	name     string
	category string
	re       *regexp.Regexp
	pts      int
}{
	{"transfer_amount", CategoryFinancial, regexp.MustCompile(`(?i)transfer\s+\$?\d`), 30},
	{"password", CategoryAuth, regexp.MustCompile(`(?i)password|credential`), 25},
	{"delete", CategoryDestructive, regexp.MustCompile(`(?i)\bdelete\b|\bremove\b`), 25},
	{"download", CategoryData, regexp.MustCompile(`(?i)\bdownload\b|\bexport\b`), 15},
}

// Divergence decision thresholds.
const (
	DivergenceAllow   = 40
	DivergenceConfirm = 70
)

// SemanticAnalysis is the rule-based comparison of what the agent says it is
// doing against what it is about to do.
type SemanticAnalysis struct {
	Divergence       int      `json:"divergence"`
	Decision         string   `json:"decision"` // ALLOW, CONFIRM, BLOCK
	IntentCategories []string `json:"intent_categories"`
	ActionCategories []string `json:"action_categories"`
	Reasons          []string `json:"reasons,omitempty"`
	Similarity       float64  `json:"similarity"`
}

// AnalyzeIntent scores goal-action divergence 0-100. Each risk category is
// penalized at most once, by the strongest signal that fires for it. An
// empty intent cannot diverge and scores zero; the policy layer decides
// whether intents are mandatory.
func AnalyzeIntent(intent, action string) SemanticAnalysis {
	a := SemanticAnalysis{Decision: "ALLOW"}
	if strings.TrimSpace(intent) == "" || strings.TrimSpace(action) == "" {
		return a
	}

	a.IntentCategories = categorize(intent)
	a.ActionCategories = categorize(action)
	a.Similarity = textSimilarity(intent, action)

	divergence := 0
	penalized := make(map[string]bool)

	for _, ic := range a.IntentCategories {
		for _, ac := range a.ActionCategories {
			if pts, ok := suspiciousTransitions[[2]string{ic, ac}]; ok && !penalized[ac] {
				divergence += pts
				penalized[ac] = true
				a.Reasons = append(a.Reasons, "suspicious transition "+ic+" -> "+ac)
			}
		}
	}

	intentSet := make(map[string]bool, len(a.IntentCategories))
	for _, c := range a.IntentCategories {
		intentSet[c] = true
	}
	for _, ac := range a.ActionCategories {
		if pts, ok := highRiskCategories[ac]; ok && !intentSet[ac] && !penalized[ac] {
			divergence += pts
			penalized[ac] = true
			a.Reasons = append(a.Reasons, "high-risk category in action only: "+ac)
		}
	}

	for _, p := range actionOnlyPatterns {
		if penalized[p.category] {
			continue
		}
		if p.re.MatchString(action) && !p.re.MatchString(intent) {
			divergence += p.pts
			penalized[p.category] = true
			a.Reasons = append(a.Reasons, "action-only pattern: "+p.name)
		}
	}

	// A completely unrelated intent is mildly suspicious even without any
	// category signal.
	if divergence == 0 && a.Similarity < 0.2 {
		divergence = 20
		a.Reasons = append(a.Reasons, "intent unrelated to action")
	}

	if divergence > 100 {
		divergence = 100
	}
	a.Divergence = divergence

	switch {
	case divergence < DivergenceAllow:
		a.Decision = "ALLOW"
	case divergence < DivergenceConfirm:
		a.Decision = "CONFIRM"
	default:
		a.Decision = "BLOCK"
	}
	return a
}

// ToResult converts a semantic analysis into the common detection result.
func (a SemanticAnalysis) ToResult() Result {
	return finalize(ThreatSemantic, a.Divergence, a.Reasons, map[string]any{
		"intent_categories": a.IntentCategories,
		"action_categories": a.ActionCategories,
		"decision":          a.Decision,
	}, time.Now())
}

func categorize(text string) []string {
	lower := strings.ToLower(text)
	var cats []string
	for _, cat := range categoryOrder {
		for _, kw := range categoryKeywords[cat] {
			if containsWord(lower, kw) {
				cats = append(cats, cat)
				break
			}
		}
	}
	return cats
}

// containsWord reports whether kw occurs in text on word boundaries, so
// "check" does not fire inside "checkout". A keyword edge that is itself a
// non-word character ("$", "go to") needs no boundary on that side.
func containsWord(text, kw string) bool {
	if kw == "" {
		return false
	}
	for start := 0; start+len(kw) <= len(text); {
		i := strings.Index(text[start:], kw)
		if i < 0 {
			return false
		}
		i += start
		end := i + len(kw)
		okBefore := !isWordByte(kw[0]) || i == 0 || !isWordByte(text[i-1])
		okAfter := !isWordByte(kw[len(kw)-1]) || end == len(text) || !isWordByte(text[end])
		if okBefore && okAfter {
			return true
		}
		start = i + 1
	}
	return false
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9' || b == '_'
}

// IntentAnalyzer is the pluggable semantic analyzer. The default rule-based
// implementation is RuleAnalyzer; an enhanced analyzer (e.g. model-backed)
// may replace it without changing callers. Implementations must honor the
// context deadline.
type IntentAnalyzer interface {
	Evaluate(ctx context.Context, intent, action string) (Result, error)
}

// RuleAnalyzer is the default IntentAnalyzer backed by AnalyzeIntent.
type RuleAnalyzer struct{}

// Evaluate implements IntentAnalyzer. It never fails.
func (RuleAnalyzer) Evaluate(_ context.Context, intent, action string) (Result, error) {
	return AnalyzeIntent(intent, action).ToResult(), nil
}
