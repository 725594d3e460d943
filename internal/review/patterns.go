package review

import (
	"fmt"
	"regexp"
	"strings"
)

// The fallback table. Keyword defaults match either quote style since the
// scanned sources use both.
type fallbackPattern struct {
	kind string
	re   *regexp.Regexp
}

var fallbackPatterns = []fallbackPattern{
	{
		kind: "nullish_coalescing_default",
		re:   regexp.MustCompile(`\?\?\s*("(unknown|default|error|none|N/A)"|'(unknown|default|error|none|N/A)'|\[\]|""|'')`),
	},
	{
		kind: "logical_or_default",
		re:   regexp.MustCompile(`\|\|\s*("(unknown|default|error|none|N/A)"|'(unknown|default|error|none|N/A)'|""|'')`),
	},
	{
		kind: "empty_catch",
		re:   regexp.MustCompile(`catch\s*(\(.*\))?\s*\{\s*return\s+(""|''|null|\[\]|undefined);?\s*\}`),
	},
	{
		kind: "silent_skip",
		re:   regexp.MustCompile(`if\s*\(\s*!\s*\w+\s*\)\s*return\s*;`),
	},
}

const fallbackWeight = 10

// A line is exempt when a trailing comment contains one of these words.
var exemptMarker = regexp.MustCompile(`(?i)\b(intentional|expected|required|ok)\b`)

// detectFallbacks scans every non-comment line of every reviewed file
// against the fallback table. Exempt lines are still recorded, at half
// weight and never critical.
func detectFallbacks(files map[string]string) []Violation {
	var out []Violation
	for path, contents := range files {
		for i, line := range strings.Split(contents, "\n") {
			if isCommentLine(line) {
				continue
			}
			exempt := hasExemptionMarker(line)
			for _, p := range fallbackPatterns {
				if !p.re.MatchString(line) {
					continue
				}
				out = append(out, fallbackViolation(p.kind, path, i+1, exempt))
			}
			// Three or more ?? on one line is a fallback chain regardless
			// of what the operands default to.
			if strings.Count(line, "??") >= 3 {
				out = append(out, fallbackViolation("fallback_chain", path, i+1, exempt))
			}
		}
	}
	return out
}

func fallbackViolation(kind, path string, line int, exempt bool) Violation {
	penalty := fallbackWeight
	if exempt {
		penalty /= 2
	}
	return Violation{
		Detector: DetectorFallback,
		Kind:     kind,
		Path:     path,
		Line:     line,
		Message:  fmt.Sprintf("%s at %s:%d", kind, path, line),
		Exempt:   exempt,
		Critical: !exempt,
		Penalty:  penalty,
	}
}

// isCommentLine reports whether the line carries nothing but comment text.
func isCommentLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	return strings.HasPrefix(trimmed, "//") ||
		strings.HasPrefix(trimmed, "/*") ||
		strings.HasPrefix(trimmed, "*") ||
		strings.HasPrefix(trimmed, "#")
}

// hasExemptionMarker reports whether the line ends in a comment containing
// an exemption word. Only the trailing comment text is searched, so code
// mentioning "required" outside a comment does not exempt the line.
func hasExemptionMarker(line string) bool {
	idx := strings.LastIndex(line, "//")
	if idx < 0 {
		idx = strings.LastIndex(line, "/*")
	}
	if idx < 0 {
		idx = strings.LastIndex(line, "#")
	}
	if idx < 0 {
		return false
	}
	return exemptMarker.MatchString(line[idx:])
}
