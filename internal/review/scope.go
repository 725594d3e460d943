package review

import (
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strings"
)

const scopeCreepWeight = 15

// Path layout words carry no task meaning and would drag relevance down
// for every file equally.
var pathStopwords = map[string]bool{
	"src": true, "lib": true, "app": true, "pkg": true, "internal": true,
	"index": true, "main": true, "test": true, "tests": true, "spec": true,
}

// detectScopeCreep compares each changed path's token set against the task
// description's. relevance = |taskTokens ∩ pathTokens| / |pathTokens|; a
// path is reported when relevance < 1 - tolerance, weighted by how far the
// path strays from full relevance. Never critical: drift alone should not
// reject an attempt, only depress the score.
func detectScopeCreep(taskDescription string, reviewed map[string]string, tolerance float64) []Violation {
	taskTokens := tokenize(taskDescription)
	if len(taskTokens) == 0 {
		return nil
	}
	threshold := 1 - tolerance

	paths := make([]string, 0, len(reviewed))
	for path := range reviewed {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var out []Violation
	for _, path := range paths {
		pathTokens := tokenizePath(path)
		if len(pathTokens) == 0 {
			continue
		}
		overlap := 0
		for tok := range pathTokens {
			if taskTokens[tok] {
				overlap++
			}
		}
		relevance := float64(overlap) / float64(len(pathTokens))
		if relevance >= threshold {
			continue
		}
		deviation := 1 - relevance
		out = append(out, Violation{
			Detector: DetectorScopeCreep,
			Kind:     "scope_creep",
			Path:     path,
			Message:  fmt.Sprintf("path %s has relevance %.2f to the task (threshold %.2f)", path, relevance, threshold),
			Penalty:  int(math.Round(scopeCreepWeight * deviation)),
		})
	}
	return out
}

// tokenize lower-cases s and splits it into words of length >= 3 on
// non-alphanumeric and camelCase boundaries.
func tokenize(s string) map[string]bool {
	out := map[string]bool{}
	for _, word := range splitWords(s) {
		if len(word) >= 3 {
			out[word] = true
		}
	}
	return out
}

// tokenizePath tokenizes a file path, dropping the extension and bare
// layout words.
func tokenizePath(path string) map[string]bool {
	trimmed := strings.TrimSuffix(path, filepath.Ext(path))
	out := map[string]bool{}
	for _, word := range splitWords(trimmed) {
		if len(word) >= 3 && !pathStopwords[word] {
			out[word] = true
		}
	}
	return out
}

// splitWords breaks s on non-alphanumeric runs and camelCase humps,
// returning lower-cased words.
func splitWords(s string) []string {
	var words []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			words = append(words, strings.ToLower(current.String()))
			current.Reset()
		}
	}
	var prev rune
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			current.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			// New hump: "TaskScheduler" -> task, scheduler.
			if prev >= 'a' && prev <= 'z' || prev >= '0' && prev <= '9' {
				flush()
			}
			current.WriteRune(r + ('a' - 'A'))
		default:
			flush()
		}
		prev = r
	}
	flush()
	return words
}
