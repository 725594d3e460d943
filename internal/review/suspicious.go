package review

import (
	"fmt"
	"regexp"
	"strings"
)

const suspiciousWeight = 20

// APIs that parse and type-check but only exist in some runtimes. Code
// reaching for one of these usually looks plausible and fails at runtime,
// so every hit is critical; exemption markers do not apply.
type suspiciousAPI struct {
	name   string
	re     *regexp.Regexp
	reason string
}

var suspiciousAPIs = []suspiciousAPI{
	{"localStorage", regexp.MustCompile(`\blocalStorage\b`), "browser-only storage API"},
	{"sessionStorage", regexp.MustCompile(`\bsessionStorage\b`), "browser-only storage API"},
	{"document", regexp.MustCompile(`\bdocument\.`), "DOM global, unavailable outside the browser"},
	{"window", regexp.MustCompile(`\bwindow\.`), "browser global, unavailable in server runtimes"},
	{"navigator", regexp.MustCompile(`\bnavigator\.`), "browser global, unavailable in server runtimes"},
	{"XMLHttpRequest", regexp.MustCompile(`\bXMLHttpRequest\b`), "legacy browser networking, unavailable in server runtimes"},
	{"alert", regexp.MustCompile(`\balert\s*\(`), "browser UI global"},
	{"require", regexp.MustCompile(`\brequire\s*\(`), "CommonJS require, fails under ES modules"},
	{"__dirname", regexp.MustCompile(`\b__dirname\b`), "CommonJS global, undefined under ES modules"},
}

// detectSuspiciousAPIs scans every non-comment line for the curated API
// table above.
func detectSuspiciousAPIs(files map[string]string) []Violation {
	var out []Violation
	for path, contents := range files {
		for i, line := range strings.Split(contents, "\n") {
			if isCommentLine(line) {
				continue
			}
			for _, api := range suspiciousAPIs {
				if !api.re.MatchString(line) {
					continue
				}
				out = append(out, Violation{
					Detector: DetectorPlausibleButWrong,
					Kind:     api.name,
					Path:     path,
					Line:     i + 1,
					Message:  fmt.Sprintf("%s at %s:%d: %s", api.name, path, i+1, api.reason),
					Critical: true,
					Penalty:  suspiciousWeight,
				})
			}
		}
	}
	return out
}
