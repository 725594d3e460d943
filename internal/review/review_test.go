package review

import (
	"strings"
	"testing"
)

func reviewFiles(t *testing.T, cfg Config, desc string, files map[string]string) Result {
	t.Helper()
	return New(cfg).Review(files, desc)
}

func countDetector(res Result, detector string) int {
	n := 0
	for _, v := range res.Violations {
		if v.Detector == detector {
			n++
		}
	}
	return n
}

func TestReview_CleanFilesScoreFull(t *testing.T) {
	res := reviewFiles(t, Config{}, "add retry backoff to the scheduler", map[string]string{
		"scheduler/retry.ts": "export function retryBackoff(attempt: number) {\n  return attempt * 2\n}\n",
		"scheduler/index.ts": "import { retryBackoff } from './retry'\nretryBackoff(1)\n",
	})
	if res.Score != 100 {
		t.Fatalf("score: got %d want 100 (violations: %+v)", res.Score, res.Violations)
	}
	if res.ShouldReject {
		t.Fatalf("clean files rejected: %s", res.RejectReason)
	}
	if res.CriticalCount != 0 {
		t.Fatalf("critical count: got %d want 0", res.CriticalCount)
	}
}

func TestFallback_PatternTable(t *testing.T) {
	cases := []struct {
		name string
		line string
		kind string
	}{
		{"nullish double quote", `const name = value ?? "unknown"`, "nullish_coalescing_default"},
		{"nullish single quote", `const name = value ?? 'default'`, "nullish_coalescing_default"},
		{"nullish empty array", `const items = list ?? []`, "nullish_coalescing_default"},
		{"nullish empty string", `const s = v ?? ""`, "nullish_coalescing_default"},
		{"logical or default", `const mode = flag || "none"`, "logical_or_default"},
		{"empty catch", `try { f() } catch (e) { return null; }`, "empty_catch"},
		{"empty catch no binding", `try { f() } catch { return []; }`, "empty_catch"},
		{"silent skip", `if (!user) return;`, "silent_skip"},
		{"fallback chain", `const v = a ?? b ?? c ?? d`, "fallback_chain"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := reviewFiles(t, Config{}, "", map[string]string{"src/a.ts": tc.line + "\n"})
			found := false
			for _, v := range res.Violations {
				if v.Detector == DetectorFallback && v.Kind == tc.kind {
					found = true
					if v.Line != 1 {
						t.Fatalf("line: got %d want 1", v.Line)
					}
					if v.Penalty != fallbackWeight {
						t.Fatalf("penalty: got %d want %d", v.Penalty, fallbackWeight)
					}
					if !v.Critical {
						t.Fatalf("non-exempt fallback must be critical")
					}
				}
			}
			if !found {
				t.Fatalf("pattern %s not detected in %q (got %+v)", tc.kind, tc.line, res.Violations)
			}
		})
	}
}

func TestFallback_CommentOnlyLinesSkipped(t *testing.T) {
	res := reviewFiles(t, Config{}, "", map[string]string{
		"src/a.ts": "// const name = value ?? \"unknown\"\n* if (!user) return;\n# x || \"none\"\n",
	})
	if n := countDetector(res, DetectorFallback); n != 0 {
		t.Fatalf("comment-only lines produced %d fallback violations", n)
	}
}

func TestFallback_ExemptionMarkerHalvesWeightAndIsNeverCritical(t *testing.T) {
	res := reviewFiles(t, Config{}, "", map[string]string{
		"src/a.ts": `const name = value ?? "unknown" // intentional: upstream may omit it` + "\n",
	})
	if len(res.Violations) != 1 {
		t.Fatalf("violations: got %+v want exactly one", res.Violations)
	}
	v := res.Violations[0]
	if !v.Exempt {
		t.Fatalf("expected exempt violation")
	}
	if v.Critical {
		t.Fatalf("exempt violation marked critical")
	}
	if v.Penalty != fallbackWeight/2 {
		t.Fatalf("penalty: got %d want %d", v.Penalty, fallbackWeight/2)
	}
	if res.CriticalCount != 0 {
		t.Fatalf("exempt violations must not count as critical: got %d", res.CriticalCount)
	}
	if res.Score != 100-fallbackWeight/2 {
		t.Fatalf("score: got %d want %d", res.Score, 100-fallbackWeight/2)
	}
}

func TestFallback_MarkerOutsideCommentDoesNotExempt(t *testing.T) {
	res := reviewFiles(t, Config{}, "", map[string]string{
		"src/a.ts": `const required = value ?? "default"` + "\n",
	})
	if len(res.Violations) != 1 || res.Violations[0].Exempt {
		t.Fatalf("marker word outside a comment must not exempt: %+v", res.Violations)
	}
}

func TestUnusedExport_Detection(t *testing.T) {
	res := reviewFiles(t, Config{}, "", map[string]string{
		"src/util.ts": strings.Join([]string{
			"export function usedHelper() {}",
			"export function deadHelper() {}",
			"export const usedConst = 1",
		}, "\n") + "\n",
		"src/main.ts": "import { usedHelper, usedConst } from './util'\nusedHelper()\nconsole.log(usedConst)\n",
	})
	if n := countDetector(res, DetectorUnusedExport); n != 1 {
		t.Fatalf("unused exports: got %d want 1 (%+v)", n, res.Violations)
	}
	v := res.Violations[0]
	if v.Kind != "deadHelper" || !v.Critical || v.Penalty != unusedWeight {
		t.Fatalf("violation: %+v", v)
	}
}

func TestUnusedExport_SelfUseCounts(t *testing.T) {
	res := reviewFiles(t, Config{}, "", map[string]string{
		"src/solo.ts": "export function helper() {}\nhelper()\n",
	})
	if n := countDetector(res, DetectorUnusedExport); n != 0 {
		t.Fatalf("symbol used twice in its own file flagged unused")
	}
}

func TestUnusedExport_FrameworkHooksAndVerbsExempt(t *testing.T) {
	res := reviewFiles(t, Config{}, "", map[string]string{
		"src/hooks.ts":  "export function useThing() {}\nexport function onClick() {}\n",
		"src/routes.ts": "export async function GET() {}\nexport async function POST() {}\n",
	})
	if n := countDetector(res, DetectorUnusedExport); n != 0 {
		t.Fatalf("hook/verb exports flagged unused: %+v", res.Violations)
	}
}

func TestUnusedExport_NoSubstringFalsePositives(t *testing.T) {
	// "fetchUser" appears inside "fetchUserProfile"; that is not a use.
	res := reviewFiles(t, Config{}, "", map[string]string{
		"src/a.ts": "export function fetchUser() {}\n",
		"src/b.ts": "function fetchUserProfile() {}\nfetchUserProfile()\n",
	})
	if n := countDetector(res, DetectorUnusedExport); n != 1 {
		t.Fatalf("substring match treated as use: %+v", res.Violations)
	}
}

func TestScopeCreep_ReportsIrrelevantPathOnly(t *testing.T) {
	res := reviewFiles(t, Config{ScopeTolerance: 0.5}, "improve retry backoff in the task scheduler", map[string]string{
		"scheduler/retry.ts":  "export const a = 1\nconst use = a\n",
		"billing/invoices.ts": "export const b = 2\nconst use = b\n",
	})

	var creeps []Violation
	for _, v := range res.Violations {
		if v.Detector == DetectorScopeCreep {
			creeps = append(creeps, v)
		}
	}
	if len(creeps) != 1 {
		t.Fatalf("scope creep: got %+v want exactly one", creeps)
	}
	if creeps[0].Path != "billing/invoices.ts" {
		t.Fatalf("wrong path flagged: %s", creeps[0].Path)
	}
	if creeps[0].Critical {
		t.Fatalf("scope creep must never be critical")
	}
	// Fully irrelevant path: deviation 1.0, full weight.
	if creeps[0].Penalty != scopeCreepWeight {
		t.Fatalf("penalty: got %d want %d", creeps[0].Penalty, scopeCreepWeight)
	}
}

func TestScopeCreep_NoDescriptionNoFindings(t *testing.T) {
	res := reviewFiles(t, Config{}, "", map[string]string{
		"totally/unrelated.ts": "export const x = 1\nconst y = x\n",
	})
	if n := countDetector(res, DetectorScopeCreep); n != 0 {
		t.Fatalf("scope creep without a task description: %+v", res.Violations)
	}
}

func TestSuspiciousAPI_AlwaysCritical(t *testing.T) {
	res := reviewFiles(t, Config{}, "", map[string]string{
		"src/server.ts": `const token = localStorage.getItem("token") // expected` + "\n",
	})
	if n := countDetector(res, DetectorPlausibleButWrong); n != 1 {
		t.Fatalf("suspicious APIs: got %+v", res.Violations)
	}
	for _, v := range res.Violations {
		if v.Detector == DetectorPlausibleButWrong {
			if !v.Critical {
				t.Fatalf("plausible-but-wrong must be critical even with a marker")
			}
			if v.Penalty != suspiciousWeight {
				t.Fatalf("penalty: got %d want %d", v.Penalty, suspiciousWeight)
			}
		}
	}
}

func TestReview_RejectThreshold(t *testing.T) {
	// Two criticals: below the default threshold of three.
	two := reviewFiles(t, Config{}, "", map[string]string{
		"src/a.ts": "const a = x ?? \"unknown\"\nif (!user) return;\n",
	})
	if two.CriticalCount != 2 {
		t.Fatalf("critical count: got %d want 2 (%+v)", two.CriticalCount, two.Violations)
	}
	if two.ShouldReject {
		t.Fatalf("rejected below threshold")
	}

	three := reviewFiles(t, Config{}, "", map[string]string{
		"src/a.ts": "const a = x ?? \"unknown\"\nif (!user) return;\nconst t = localStorage.getItem(\"k\")\n",
	})
	if three.CriticalCount != 3 {
		t.Fatalf("critical count: got %d want 3 (%+v)", three.CriticalCount, three.Violations)
	}
	if !three.ShouldReject {
		t.Fatalf("expected rejection at threshold")
	}
	if three.RejectReason == "" || !strings.Contains(three.RejectReason, "3 critical") {
		t.Fatalf("reject reason: %q", three.RejectReason)
	}
}

func TestReview_ScoreFloorsAtZero(t *testing.T) {
	lines := make([]string, 0, 12)
	for i := 0; i < 12; i++ {
		lines = append(lines, `const v`+string(rune('a'+i))+` = x ?? "unknown"`)
	}
	res := reviewFiles(t, Config{}, "", map[string]string{
		"src/a.ts": strings.Join(lines, "\n") + "\n",
	})
	if res.Score != 0 {
		t.Fatalf("score: got %d want 0", res.Score)
	}
}

func TestReview_IgnoreGlobs(t *testing.T) {
	files := map[string]string{
		"src/gen/schema.ts": `const a = x ?? "unknown"` + "\n",
		"src/app.ts":        "export function wire() {}\n",
		"src/app.test.ts":   "import { wire } from './app'\nwire()\n",
	}
	res := reviewFiles(t, Config{IgnoreGlobs: []string{"**/gen/**", "**/*.test.ts"}}, "", files)

	if n := countDetector(res, DetectorFallback); n != 0 {
		t.Fatalf("ignored path still produced fallback violations: %+v", res.Violations)
	}
	// The ignored test file still counts as a usage site for app.ts exports.
	if n := countDetector(res, DetectorUnusedExport); n != 0 {
		t.Fatalf("usage from ignored file not counted: %+v", res.Violations)
	}
}

func TestReview_DeterministicOrdering(t *testing.T) {
	files := map[string]string{
		"src/b.ts": "const a = x ?? \"unknown\"\n",
		"src/a.ts": "if (!v) return;\nconst b = y ?? []\n",
	}
	first := reviewFiles(t, Config{}, "", files)
	for i := 0; i < 5; i++ {
		again := reviewFiles(t, Config{}, "", files)
		if len(again.Violations) != len(first.Violations) {
			t.Fatalf("violation count unstable")
		}
		for j := range again.Violations {
			if again.Violations[j] != first.Violations[j] {
				t.Fatalf("violation order unstable at %d: %+v vs %+v", j, again.Violations[j], first.Violations[j])
			}
		}
	}
}
