package detect

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/sentinelsec/sentinel/internal/dom"
)

// Fixed contributions per finding class.
const (
	scoreOverlay          = 40
	scoreInvisibleOverlay = 50
	scoreCredentialForm   = 60
	scoreExfilInput       = 70

	// overlayMinArea is the covered area above which a fixed element counts
	// as an overlay rather than a banner or badge.
	overlayMinArea = 100000
	overlayMinZ    = 1000
)

var (
	zIndexPattern  = regexp.MustCompile(`z-index\s*:\s*(\d+)`)
	opacityZero    = regexp.MustCompile(`opacity\s*:\s*0(\.0+)?(\s|;|!|$)`)
	credentialHint = regexp.MustCompile(`(?i)(login|signin|sign-in|account|password|verify|secure)`)
)

// exfilTokens in input attributes indicate a field wired to capture what the
// agent types.
var exfilTokens = []string{"capture", "steal", "exfil"}

// ScanDeceptiveUI flags overlay and clickjacking structures: fixed-position
// covers, invisible covers, credential forms posting off-origin, and inputs
// whose attributes reveal capture intent. pageURL anchors the same-origin
// check; pass "" when unknown and the form check degrades to hint matching.
func ScanDeceptiveUI(tree *dom.Tree, pageURL string) Result {
	start := time.Now()
	if tree.Empty() {
		return none(ThreatDeceptiveUI)
	}

	pageHost := hostOf(pageURL)

	score := 0
	maxRank := 0
	var matches []string

	addFinding := func(points int, sev Severity, desc string) {
		score += points
		if sev.Rank() > maxRank {
			maxRank = sev.Rank()
		}
		matches = append(matches, desc)
	}

	tree.Walk(func(n *dom.Node, depth int, inShadow bool) bool {
		style := strings.ToLower(n.Style)
		area := 0.0
		if n.Box != nil {
			area = n.Box.Area()
		}

		if strings.Contains(style, "position:fixed") || strings.Contains(style, "position: fixed") {
			if z := zIndexValue(style); z >= overlayMinZ && area >= overlayMinArea {
				addFinding(scoreOverlay, SeverityMedium, "fixed overlay with large z-index")
			}
		}
		if opacityZero.MatchString(style) && area >= overlayMinArea {
			addFinding(scoreInvisibleOverlay, SeverityHigh, "invisible overlay covering page area")
		}

		if n.Tag == "form" {
			action := n.Attr("action")
			actionHost := hostOf(action)
			offOrigin := actionHost != "" && pageHost != "" && !strings.EqualFold(actionHost, pageHost)
			if offOrigin && credentialHint.MatchString(action) {
				addFinding(scoreCredentialForm, SeverityHigh, "form posts credentials off-origin: "+snippet(action))
			}
		}

		if n.Tag == "input" {
			typ := strings.ToLower(n.Attr("type"))
			if typ == "password" || typ == "email" || typ == "text" {
				for name, val := range n.Attrs {
					joined := strings.ToLower(name + "=" + val)
					for _, tok := range exfilTokens {
						if strings.Contains(joined, tok) {
							addFinding(scoreExfilInput, SeverityCritical, "input carries capture attribute: "+snippet(name))
							return true
						}
					}
				}
			}
		}
		return true
	})

	if score == 0 {
		return none(ThreatDeceptiveUI)
	}
	r := finalize(ThreatDeceptiveUI, score, matches, nil, start)
	// Severity is the maximum across findings, not the score bucket.
	for _, sev := range []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow} {
		if sev.Rank() == maxRank {
			r.Severity = sev
			break
		}
	}
	return r
}

func zIndexValue(style string) int {
	m := zIndexPattern.FindStringSubmatch(style)
	if m == nil {
		return 0
	}
	z := 0
	for _, c := range m[1] {
		z = z*10 + int(c-'0')
		if z > 1<<30 {
			break
		}
	}
	return z
}

func hostOf(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
