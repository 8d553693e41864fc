package detect

import (
	"regexp"
	"strings"
	"time"
)

// scriptPattern is one weighted signal in dynamically injected script source.
type scriptPattern struct {
	name   string
	re     *regexp.Regexp
	weight int
}

var scriptPatterns = []scriptPattern{
	// Dynamic code execution
	{"eval", regexp.MustCompile(`\beval\s*\(`), 25},
	{"new_function", regexp.MustCompile(`new\s+Function\s*\(`), 25},
	{"document_write", regexp.MustCompile(`document\.write\s*\(`), 20},
	{"innerhtml_assign", regexp.MustCompile(`\.innerHTML\s*=`), 20},
	{"insert_adjacent_html", regexp.MustCompile(`insertAdjacentHTML\s*\(`), 15},
	{"string_timer", regexp.MustCompile(`set(Timeout|Interval)\s*\(\s*["'` + "`" + `]`), 20},

	// Network exfiltration
	{"remote_src", regexp.MustCompile(`\.src\s*=\s*["'` + "`" + `]https?://`), 20},
	{"fetch", regexp.MustCompile(`\bfetch\s*\(`), 15},
	{"xhr", regexp.MustCompile(`XMLHttpRequest`), 15},
	{"beacon", regexp.MustCompile(`sendBeacon\s*\(`), 20},

	// Storage and cookie access
	{"cookie_access", regexp.MustCompile(`document\.cookie`), 20},
	{"local_storage", regexp.MustCompile(`localStorage\.`), 10},
	{"session_storage", regexp.MustCompile(`sessionStorage\.`), 10},

	// Encoding primitives
	{"base64", regexp.MustCompile(`\b(atob|btoa)\s*\(`), 15},
	{"char_code", regexp.MustCompile(`fromCharCode`), 15},
}

var escapeSequence = regexp.MustCompile(`\\x[0-9a-fA-F]{2}|\\u[0-9a-fA-F]{4}`)

const (
	// obfuscationEscapeCount is how many \x / \u escapes mark a source as
	// obfuscated.
	obfuscationEscapeCount  = 20
	obfuscationEscapeWeight = 25

	// overlongLine is a single-line length typical of packed payloads.
	overlongLine       = 500
	overlongLineWeight = 10
)

// ScanScript scores script source for dynamic-injection and exfiltration
// signals. Pure; empty source yields a zero result.
func ScanScript(source string) Result {
	start := time.Now()
	if source == "" {
		return none(ThreatDynamicInjection)
	}

	score := 0
	var matches []string

	for _, p := range scriptPatterns {
		if p.re.MatchString(source) {
			score += p.weight
			matches = append(matches, p.name)
			if score >= 100 {
				break
			}
		}
	}

	if score < 100 {
		if len(escapeSequence.FindAllStringIndex(source, obfuscationEscapeCount)) >= obfuscationEscapeCount {
			score += obfuscationEscapeWeight
			matches = append(matches, "escape_obfuscation")
		}
		for _, line := range strings.Split(source, "\n") {
			if len(line) > overlongLine {
				score += overlongLineWeight
				matches = append(matches, "overlong_line")
				break
			}
		}
	}

	return finalize(ThreatDynamicInjection, score, matches, nil, start)
}
