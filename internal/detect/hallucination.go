package detect

import (
	"strings"
	"time"

	"github.com/sentinelsec/sentinel/internal/dom"
)

// HallucinationCheck reports whether a UI element the agent claims to see
// actually exists in the current DOM, and how well the claim matches it.
type HallucinationCheck struct {
	Exists          bool    `json:"exists"`
	Visible         bool    `json:"visible"`
	TextMatch       bool    `json:"text_match"`
	TypeMatch       bool    `json:"type_match"`
	Similarity      float64 `json:"similarity"`
	IsHallucination bool    `json:"is_hallucination"`
	MatchedTag      string  `json:"matched_tag,omitempty"`
}

// typeSynonyms maps a claimed element type to the tags that legitimately
// render it. A button can be an <a> styled as one, a link is an anchor, and
// text inputs come as <input> or <textarea>.
var typeSynonyms = map[string][]string{
	"button": {"button", "a", "input"},
	"link":   {"a", "link"},
	"input":  {"input", "textarea"},
	"a":      {"a", "button", "link"},
}

// CheckElement verifies an agent's claim about a UI element against the
// current DOM. The claim is a selector plus optional expected text and
// element type. A missing element, a text similarity below 0.3, or a type
// mismatch marks the claim as a hallucination.
func CheckElement(tree *dom.Tree, selector, claimedText, claimedType string) (HallucinationCheck, Result) {
	start := time.Now()
	check := HallucinationCheck{}

	if selector == "" || tree.Empty() {
		check.IsHallucination = selector != ""
		return check, hallucinationResult(check, start)
	}

	node := findBySelector(tree, selector)
	if node == nil {
		check.IsHallucination = true
		return check, hallucinationResult(check, start)
	}

	check.Exists = true
	check.MatchedTag = node.Tag
	check.Visible = isVisible(node)

	if claimedText != "" {
		check.Similarity = textSimilarity(claimedText, node.Text)
		check.TextMatch = check.Similarity >= 0.6
	} else {
		check.Similarity = 1
		check.TextMatch = true
	}

	if claimedType != "" {
		check.TypeMatch = typeMatches(claimedType, node)
	} else {
		check.TypeMatch = true
	}

	check.IsHallucination = (claimedText != "" && check.Similarity < 0.3) || !check.TypeMatch
	return check, hallucinationResult(check, start)
}

// hallucinationResult converts a check into the common detection result.
// A confirmed hallucination scores a flat 80.
func hallucinationResult(c HallucinationCheck, start time.Time) Result {
	score := 0
	var matches []string
	if c.IsHallucination {
		score = 80
		switch {
		case !c.Exists:
			matches = append(matches, "element not found")
		case !c.TypeMatch:
			matches = append(matches, "element type mismatch")
		default:
			matches = append(matches, "claimed text does not match element")
		}
	}
	details := map[string]any{
		"exists":     c.Exists,
		"visible":    c.Visible,
		"similarity": c.Similarity,
	}
	return finalize(ThreatHallucination, score, matches, details, start)
}

// selectorParts is a parsed simple selector: tag, id, classes and one
// attribute pair. Compound CSS (descendant combinators etc.) is reduced to
// its last simple selector, which is what drivers resolve anyway.
type selectorParts struct {
	tag       string
	id        string
	classes   []string
	attrName  string
	attrValue string
}

func parseSelector(sel string) selectorParts {
	sel = strings.TrimSpace(sel)
	if i := strings.LastIndexAny(sel, " >"); i >= 0 {
		sel = sel[i+1:]
	}
	var p selectorParts

	// Attribute clause: tag[attr=value] or [attr=value].
	if open := strings.Index(sel, "["); open >= 0 {
		if close := strings.Index(sel[open:], "]"); close > 0 {
			clause := sel[open+1 : open+close]
			sel = sel[:open]
			if eq := strings.Index(clause, "="); eq >= 0 {
				p.attrName = clause[:eq]
				p.attrValue = strings.Trim(clause[eq+1:], `"'`)
			} else {
				p.attrName = clause
			}
		}
	}

	rest := sel
	for {
		hash := strings.IndexAny(rest, "#.")
		if hash < 0 {
			if p.tag == "" {
				p.tag = strings.ToLower(rest)
			}
			break
		}
		if hash > 0 && p.tag == "" {
			p.tag = strings.ToLower(rest[:hash])
		}
		marker := rest[hash]
		rest = rest[hash+1:]
		end := strings.IndexAny(rest, "#.")
		token := rest
		if end >= 0 {
			token = rest[:end]
			rest = rest[end:]
		} else {
			rest = ""
		}
		if marker == '#' {
			p.id = token
		} else {
			p.classes = append(p.classes, token)
		}
		if rest == "" {
			break
		}
	}
	return p
}

// findBySelector locates the first node matching the selector's id, classes,
// tag and attribute, in that priority order. Traversal is the bounded arena
// walk; the first match wins.
func findBySelector(tree *dom.Tree, selector string) *dom.Node {
	p := parseSelector(selector)
	var found *dom.Node

	tree.Walk(func(n *dom.Node, depth int, inShadow bool) bool {
		if p.id != "" && n.ID != p.id {
			return true
		}
		if p.tag != "" && p.tag != "*" && n.Tag != p.tag {
			return true
		}
		for _, c := range p.classes {
			if !n.HasClass(c) {
				return true
			}
		}
		if p.attrName != "" {
			got := n.Attr(p.attrName)
			if got == "" || (p.attrValue != "" && got != p.attrValue) {
				return true
			}
		}
		if p.id == "" && p.tag == "" && len(p.classes) == 0 && p.attrName == "" {
			return true
		}
		found = n
		return false
	})
	return found
}

// isVisible derives visibility from inline style and the bounding box.
func isVisible(n *dom.Node) bool {
	style := strings.ToLower(n.Style)
	for _, re := range hiddenStylePatterns {
		if re.MatchString(style) {
			return false
		}
	}
	if n.Box != nil && n.Box.Area() == 0 {
		return false
	}
	return true
}

// textSimilarity compares claimed and actual text: exact and substring
// matches score 1.0, otherwise word-overlap ratio over the claimed words.
func textSimilarity(claimed, actual string) float64 {
	c := strings.ToLower(strings.TrimSpace(claimed))
	a := strings.ToLower(strings.TrimSpace(actual))
	if c == "" {
		return 1
	}
	if a == "" {
		return 0
	}
	if c == a || strings.Contains(a, c) || strings.Contains(c, a) {
		return 1
	}
	cw := strings.Fields(c)
	aw := make(map[string]bool)
	for _, w := range strings.Fields(a) {
		aw[w] = true
	}
	overlap := 0
	for _, w := range cw {
		if aw[w] {
			overlap++
		}
	}
	return float64(overlap) / float64(len(cw))
}

// typeMatches checks the claimed element type against the node's tag,
// allowing documented synonyms. input[type=button|submit] counts as button.
func typeMatches(claimedType string, n *dom.Node) bool {
	ct := strings.ToLower(claimedType)
	tags, ok := typeSynonyms[ct]
	if !ok {
		return ct == n.Tag
	}
	for _, tag := range tags {
		if n.Tag != tag {
			continue
		}
		if ct == "button" && n.Tag == "input" {
			it := strings.ToLower(n.Attr("type"))
			return it == "button" || it == "submit"
		}
		return true
	}
	return false
}
