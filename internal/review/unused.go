package review

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

const unusedWeight = 5

// Top-level export declaration forms. Textual extraction: dotted or
// computed access to a symbol is invisible here, a known limitation.
var (
	exportDeclPattern = regexp.MustCompile(`(?m)^\s*export\s+(?:default\s+)?(?:abstract\s+)?(?:async\s+)?(?:function\*?|class|const|let|var|interface|type|enum)\s+([A-Za-z_$][A-Za-z0-9_$]*)`)
	exportListPattern = regexp.MustCompile(`(?m)^\s*export\s*\{([^}]*)\}`)
)

// Framework hooks are wired up by convention, not by reference.
var hookPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^use[A-Z]`),
	regexp.MustCompile(`^on[A-Z]`),
}

var httpVerbs = map[string]bool{
	"get": true, "post": true, "put": true, "patch": true,
	"delete": true, "head": true, "options": true,
}

// detectUnusedExports flags exported symbols that no other changed file
// mentions and that appear at most once (their declaration) in their own
// file. The usage corpus is every changed file, including ignored ones:
// a use from an ignored test file still counts as a use.
func detectUnusedExports(reviewed, all map[string]string) []Violation {
	var out []Violation
	paths := make([]string, 0, len(reviewed))
	for path := range reviewed {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		contents := reviewed[path]
		for _, sym := range exportedSymbols(contents) {
			if isHookSymbol(sym) {
				continue
			}
			if countSymbol(contents, sym) > 1 {
				continue
			}
			usedElsewhere := false
			for otherPath, otherContents := range all {
				if otherPath == path {
					continue
				}
				if countSymbol(otherContents, sym) > 0 {
					usedElsewhere = true
					break
				}
			}
			if usedElsewhere {
				continue
			}
			out = append(out, Violation{
				Detector: DetectorUnusedExport,
				Kind:     sym,
				Path:     path,
				Message:  fmt.Sprintf("exported symbol %q is never used", sym),
				Critical: true,
				Penalty:  unusedWeight,
			})
		}
	}
	return out
}

// exportedSymbols returns the top-level exported names declared in
// contents, deduplicated in first-seen order.
func exportedSymbols(contents string) []string {
	seen := map[string]bool{}
	var out []string
	add := func(sym string) {
		sym = strings.TrimSpace(sym)
		if sym == "" || seen[sym] {
			return
		}
		seen[sym] = true
		out = append(out, sym)
	}

	for _, m := range exportDeclPattern.FindAllStringSubmatch(contents, -1) {
		add(m[1])
	}
	for _, m := range exportListPattern.FindAllStringSubmatch(contents, -1) {
		for _, entry := range strings.Split(m[1], ",") {
			// `export { internalName as PublicName }` exports PublicName.
			if idx := strings.LastIndex(entry, " as "); idx >= 0 {
				entry = entry[idx+len(" as "):]
			}
			add(entry)
		}
	}
	return out
}

func isHookSymbol(sym string) bool {
	for _, p := range hookPatterns {
		if p.MatchString(sym) {
			return true
		}
	}
	return httpVerbs[strings.ToLower(sym)]
}

// countSymbol counts whole-identifier occurrences of sym in text. A match
// is bounded by non-identifier characters; $ counts as an identifier
// character, as in the scanned sources.
func countSymbol(text, sym string) int {
	if sym == "" {
		return 0
	}
	count := 0
	for start := 0; ; {
		idx := strings.Index(text[start:], sym)
		if idx < 0 {
			return count
		}
		abs := start + idx
		before := byte(0)
		if abs > 0 {
			before = text[abs-1]
		}
		after := byte(0)
		if abs+len(sym) < len(text) {
			after = text[abs+len(sym)]
		}
		if !isIdentByte(before) && !isIdentByte(after) {
			count++
		}
		start = abs + len(sym)
	}
}

func isIdentByte(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
		return true
	case b == '_' || b == '$':
		return true
	default:
		return false
	}
}
