package detect

import (
	"regexp"
	"strings"
	"time"

	"github.com/sentinelsec/sentinel/internal/dom"
)

// hiddenStylePatterns match inline styles that hide an element from humans
// while leaving its text visible to DOM parsers.
var hiddenStylePatterns = []*regexp.Regexp{
	regexp.MustCompile(`display\s*:\s*none`),
	regexp.MustCompile(`visibility\s*:\s*hidden`),
	regexp.MustCompile(`opacity\s*:\s*0(\.0+)?(\s|;|!|$)`),
	regexp.MustCompile(`font-size\s*:\s*[01]px`),
	regexp.MustCompile(`color\s*:\s*transparent`),
	regexp.MustCompile(`(width|height)\s*:\s*0(px)?(\s|;|!|$)`),
	regexp.MustCompile(`(left|top)\s*:\s*-\d{3,}px`),
	regexp.MustCompile(`text-indent\s*:\s*-\d+`),
	regexp.MustCompile(`clip\s*:\s*rect\(\s*0`),
}

// hiddenClassTokens are class names conventionally used for visually hidden
// content. Legitimate pages use them for accessibility text, so a class hit
// alone only flags a node when it also carries meaningful text.
var hiddenClassTokens = []string{
	"hidden", "invisible", "sr-only", "visually-hidden", "offscreen",
}

// minHiddenTextLen filters out empty spacers and icon glyphs.
const minHiddenTextLen = 10

// shadowTextBase is the contribution of shadow placement itself: text with
// any injection signal inside a shadow root is already hidden from naive
// scrapers, whether or not the node also carries hiding CSS.
const shadowTextBase = 20

// maxPreviews caps the flagged-text previews carried on the result.
const maxPreviews = 5

// ScanHidden walks the DOM arena looking for CSS-hidden nodes carrying
// adversarial text. Flagged text is rescanned by the prompt-injection
// detector so hidden instructions score higher than hidden filler.
func ScanHidden(tree *dom.Tree) Result {
	start := time.Now()
	if tree.Empty() {
		return none(ThreatHiddenContent)
	}

	maxScore := 0
	flagged := 0
	var previews []string

	tree.Walk(func(n *dom.Node, depth int, inShadow bool) bool {
		hits := hidingSignals(n)
		if hits == 0 || len(strings.TrimSpace(n.Text)) <= minHiddenTextLen {
			return true
		}
		flagged++

		nodeScore := 30 + (hits-1)*10
		if inj := ScanText(n.Text); inj.Detected {
			nodeScore += inj.Score / 2
		}
		if nodeScore > 100 {
			nodeScore = 100
		}
		if nodeScore > maxScore {
			maxScore = nodeScore
		}
		if len(previews) < maxPreviews {
			previews = append(previews, snippet(strings.TrimSpace(n.Text)))
		}
		// Keep walking even at saturation so flagged count stays accurate.
		return true
	})

	if flagged == 0 {
		return none(ThreatHiddenContent)
	}
	details := map[string]any{"flagged_nodes": flagged}
	return finalize(ThreatHiddenContent, maxScore, previews, details, start)
}

// ScanShadowDOM scans only shadow-root subtrees. Shadow trees are a favored
// hiding place because naive scrapers never descend into them; any
// injection-bearing text inside one is scored as its own threat source.
func ScanShadowDOM(tree *dom.Tree) Result {
	start := time.Now()
	if tree.Empty() {
		return none(ThreatShadowDOM)
	}

	maxScore := 0
	flagged := 0
	var previews []string

	tree.Walk(func(n *dom.Node, depth int, inShadow bool) bool {
		if !inShadow {
			return true
		}
		text := strings.TrimSpace(n.Text)
		if len(text) <= minHiddenTextLen {
			return true
		}
		inj := ScanText(text)
		score := inj.Score
		if score > 0 {
			score += shadowTextBase
		}
		if hidingSignals(n) > 0 {
			score += 20
		}
		if score > 100 {
			score = 100
		}
		if score >= 20 {
			flagged++
			if score > maxScore {
				maxScore = score
			}
			if len(previews) < maxPreviews {
				previews = append(previews, snippet(text))
			}
		}
		return true
	})

	if flagged == 0 {
		return none(ThreatShadowDOM)
	}
	details := map[string]any{"flagged_nodes": flagged}
	return finalize(ThreatShadowDOM, maxScore, previews, details, start)
}

// hidingSignals counts distinct hiding indicators on a node.
func hidingSignals(n *dom.Node) int {
	hits := 0
	style := strings.ToLower(n.Style)
	if style != "" {
		for _, re := range hiddenStylePatterns {
			if re.MatchString(style) {
				hits++
			}
		}
	}
	for _, tok := range hiddenClassTokens {
		if n.HasClass(tok) {
			hits++
			break
		}
	}
	if n.Box != nil && n.Box.Area() == 0 {
		hits++
	}
	return hits
}
