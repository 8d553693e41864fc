package detect

import (
	"regexp"
	"strings"
	"time"

	"github.com/sentinelsec/sentinel/internal/dom"
)

const (
	keywordWeight = 15
	patternWeight = 20

	// metaCharThreshold is how many suspicious meta characters a text needs
	// before the bonus applies.
	metaCharThreshold = 5
	metaCharBonus     = 10

	// maxScanLength bounds the input so a single scan stays within a few
	// milliseconds even on pathological pages.
	maxScanLength = 10000
)

// injectionKeywords are case-insensitive substrings that indicate an attempt
// to override, manipulate or extract the agent's instructions. Each hit
// contributes keywordWeight.
var injectionKeywords = []string{
	// Instruction override. Entries overlap deliberately so a direct
	// override phrase accumulates weight from more than one hit.
	"ignore previous instructions",
	"ignore all previous",
	"ignore prior instructions",
	"disregard previous",
	"disregard all previous",
	"forget previous",
	"forget your instructions",
	"override previous",
	"system_override",
	"admin_override",
	"override security",
	"bypass security",

	// Role manipulation
	"act as",
	"pretend to be",
	"you are now",
	"roleplay as",
	"assume the role",

	// Instruction injection
	"new instructions",
	"secret instructions",
	"hidden instructions",
	"real instructions",
	"actual instructions",
	"updated instructions",

	// System prompt extraction
	"reveal your prompt",
	"show your instructions",
	"print your system prompt",
	"what are your instructions",
	"output your config",

	// Jailbreak labels
	"jailbreak",
	"dan mode",
	"developer mode",
	"god mode",
	"no restrictions",

	// Command execution
	"execute the following",
	"run this command",
	"execute this javascript",
}

// injectionPatterns catch structural forms that plain substrings miss. Each
// match contributes patternWeight. The first two overlap the keyword table
// on purpose: a literal override or extraction phrase scores from both.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(ignore|disregard|forget|override)\s+(all\s+)?(previous|prior|earlier)\s+(instructions?|prompts?|rules?)`),
	regexp.MustCompile(`(?i)(reveal|show|print|output|display)\s+(your|the)\s+(system|instructions?|prompt)`),
	regexp.MustCompile(`(?i)\[\s*(system|admin|root|hidden)\s*\]`),
	regexp.MustCompile(`(?i)<\s*(system|instruction|prompt)\s*>`),
	regexp.MustCompile(`(?i)(execute|run)\s+the\s+following\s+(command|script|code)`),
	regexp.MustCompile(`(?i)your\s+(real|true|actual)\s+(task|objective|goal)\s+is`),
	regexp.MustCompile(`(?i)transfer\s+\$?\d[\d,]*\s+to`),
	regexp.MustCompile(`(?i)(send|forward)\s+.{0,30}(credentials?|passwords?|cookies?|tokens?)\s+to`),
}

// metaChars are characters common in injected markup and prompt scaffolding.
var metaChars = []string{"[", "]", "<", ">", "```", "---"}

// ScanText scores a piece of page or agent text for prompt-injection
// content. Pure and safe for parallel use.
func ScanText(text string) Result {
	start := time.Now()
	if text == "" {
		return none(ThreatPromptInjection)
	}
	if len(text) > maxScanLength {
		text = text[:maxScanLength]
	}
	lower := strings.ToLower(text)

	score := 0
	var matches []string

	for _, kw := range injectionKeywords {
		if strings.Contains(lower, kw) {
			score += keywordWeight
			matches = append(matches, kw)
			if score >= 100 {
				break
			}
		}
	}

	if score < 100 {
		for _, re := range injectionPatterns {
			if m := re.FindString(text); m != "" {
				score += patternWeight
				matches = append(matches, snippet(m))
				if score >= 100 {
					break
				}
			}
		}
	}

	if score < 100 {
		metaCount := 0
		for _, mc := range metaChars {
			metaCount += strings.Count(text, mc)
		}
		if metaCount > metaCharThreshold {
			score += metaCharBonus
		}
	}

	return finalize(ThreatPromptInjection, score, matches, nil, start)
}

// ScanVisibleText aggregates the text of visible light-DOM nodes and runs
// the prompt-injection scan over the document as a human reader would see
// it. Hidden and shadow-resident text is covered by ScanHidden and
// ScanShadowDOM instead.
func ScanVisibleText(tree *dom.Tree) Result {
	if tree.Empty() {
		return none(ThreatPromptInjection)
	}
	var sb strings.Builder
	tree.Walk(func(n *dom.Node, depth int, inShadow bool) bool {
		if inShadow || hidingSignals(n) > 0 {
			return true
		}
		if t := strings.TrimSpace(n.Text); t != "" {
			sb.WriteString(t)
			sb.WriteByte(' ')
		}
		return sb.Len() < maxScanLength
	})
	return ScanText(sb.String())
}

// snippet truncates a match for inclusion in a result.
func snippet(s string) string {
	const max = 80
	if len(s) > max {
		return s[:max]
	}
	return s
}
