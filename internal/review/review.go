// Package review implements the antipattern quality gate run over a
// worker's changed files: four detectors, weighted scoring, and the reject
// decision that forces a task retry.
package review

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const (
	DetectorFallback          = "fallback"
	DetectorUnusedExport      = "unused_export"
	DetectorScopeCreep        = "scope_creep"
	DetectorPlausibleButWrong = "plausible_but_wrong"
)

// Violation is one detector hit. Kind narrows the detector: the fallback
// pattern name, the suspicious API, or the unused symbol.
type Violation struct {
	Detector string `json:"detector"`
	Kind     string `json:"kind"`
	Path     string `json:"path"`
	Line     int    `json:"line,omitempty"` // 1-based; 0 for file-scoped findings
	Message  string `json:"message"`
	Exempt   bool   `json:"exempt,omitempty"`
	Critical bool   `json:"critical,omitempty"`
	Penalty  int    `json:"penalty"`
}

// Result is the reviewer verdict for one task attempt.
type Result struct {
	Score         int         `json:"score"`
	Violations    []Violation `json:"violations,omitempty"`
	CriticalCount int         `json:"criticalCount"`
	ShouldReject  bool        `json:"shouldReject"`
	RejectReason  string      `json:"rejectReason,omitempty"`
}

// Config tunes the reviewer. Zero values take the defaults.
type Config struct {
	// RejectThreshold is the critical-violation count at which the attempt
	// is rejected.
	RejectThreshold int
	// ScopeTolerance in [0,1]; a changed path is reported when its
	// relevance to the task description falls below 1 - tolerance.
	ScopeTolerance float64
	// IgnoreGlobs are doublestar patterns for paths exempt from review
	// (generated code, vendored trees, test fixtures).
	IgnoreGlobs []string
}

const (
	defaultRejectThreshold = 3
	defaultScopeTolerance  = 0.8
)

func (c Config) withDefaults() Config {
	if c.RejectThreshold <= 0 {
		c.RejectThreshold = defaultRejectThreshold
	}
	if c.ScopeTolerance <= 0 || c.ScopeTolerance > 1 {
		c.ScopeTolerance = defaultScopeTolerance
	}
	return c
}

type Reviewer struct {
	cfg Config
}

func New(cfg Config) *Reviewer {
	return &Reviewer{cfg: cfg.withDefaults()}
}

// Review runs all four detectors over changedFiles. It is a pure function
// of its inputs: no filesystem access, no shared state. Ignored paths
// produce no violations but still count as usage sites for the
// unused-export search.
func (r *Reviewer) Review(changedFiles map[string]string, taskDescription string) Result {
	reviewed := make(map[string]string, len(changedFiles))
	for path, contents := range changedFiles {
		if r.ignored(path) {
			continue
		}
		reviewed[path] = contents
	}

	var violations []Violation
	violations = append(violations, detectFallbacks(reviewed)...)
	violations = append(violations, detectUnusedExports(reviewed, changedFiles)...)
	violations = append(violations, detectScopeCreep(taskDescription, reviewed, r.cfg.ScopeTolerance)...)
	violations = append(violations, detectSuspiciousAPIs(reviewed)...)

	sort.Slice(violations, func(i, j int) bool {
		a, b := violations[i], violations[j]
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		if a.Detector != b.Detector {
			return a.Detector < b.Detector
		}
		return a.Kind < b.Kind
	})

	total := 0
	critical := 0
	for _, v := range violations {
		total += v.Penalty
		if v.Critical {
			critical++
		}
	}
	score := 100 - total
	if score < 0 {
		score = 0
	}

	res := Result{
		Score:         score,
		Violations:    violations,
		CriticalCount: critical,
	}
	if critical >= r.cfg.RejectThreshold {
		res.ShouldReject = true
		res.RejectReason = rejectReason(score, critical, violations)
	}
	return res
}

func (r *Reviewer) ignored(path string) bool {
	for _, glob := range r.cfg.IgnoreGlobs {
		if ok, err := doublestar.Match(glob, path); err == nil && ok {
			return true
		}
	}
	return false
}

func rejectReason(score, critical int, violations []Violation) string {
	kinds := make([]string, 0, 4)
	seen := map[string]bool{}
	for _, v := range violations {
		if !v.Critical || seen[v.Kind] {
			continue
		}
		seen[v.Kind] = true
		kinds = append(kinds, v.Kind)
		if len(kinds) == 4 {
			break
		}
	}
	return fmt.Sprintf("antipattern review: %d critical violations (score %d/100): %s",
		critical, score, strings.Join(kinds, ", "))
}
