package scheduler

import (
	"testing"
	"time"

	"github.com/agentcoord/agentcoord/internal/config"
)

func TestDelayForAttempt_ExponentialWithCap(t *testing.T) {
	cfg := config.BackoffConfig{InitialDelayMS: 500, Factor: 2.0, MaxDelayMS: 30000}
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 500 * time.Millisecond},
		{2, 1 * time.Second},
		{3, 2 * time.Second},
		{6, 16 * time.Second},
		{7, 30 * time.Second}, // 32s capped
		{12, 30 * time.Second},
		{0, 500 * time.Millisecond}, // clamped to attempt 1
	}
	for _, tc := range cases {
		if got := DelayForAttempt(tc.attempt, cfg, ""); got != tc.want {
			t.Fatalf("attempt %d: got %v want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestDelayForAttempt_ZeroInitialDisables(t *testing.T) {
	cfg := config.BackoffConfig{InitialDelayMS: 0, Factor: 2.0, MaxDelayMS: 1000}
	if got := DelayForAttempt(3, cfg, ""); got != 0 {
		t.Fatalf("got %v want 0", got)
	}
}

func TestDelayForAttempt_JitterIsDeterministicAndBounded(t *testing.T) {
	cfg := config.BackoffConfig{InitialDelayMS: 1000, Factor: 2.0, MaxDelayMS: 60000, Jitter: true}
	base := 2 * time.Second // attempt 2

	first := DelayForAttempt(2, cfg, "ses_x:t1:2")
	second := DelayForAttempt(2, cfg, "ses_x:t1:2")
	if first != second {
		t.Fatalf("same seed produced different delays: %v vs %v", first, second)
	}
	if first < base/2 || first > base+base/2 {
		t.Fatalf("jittered delay %v outside [%v, %v]", first, base/2, base+base/2)
	}

	other := DelayForAttempt(2, cfg, "ses_x:t2:2")
	if other == first {
		t.Fatalf("distinct seeds produced identical delays %v; jitter seed ignored", first)
	}
}

func TestOutputRefs_SortedWithDigests(t *testing.T) {
	refs := OutputRefs(map[string]string{"b/z.ts": "xy", "a/y.ts": "z"})
	if len(refs) != 2 {
		t.Fatalf("ref count: got %d want 2", len(refs))
	}
	if refs[0].Path != "a/y.ts" || refs[1].Path != "b/z.ts" {
		t.Fatalf("paths not sorted: %+v", refs)
	}
	if refs[0].Bytes != 1 || refs[1].Bytes != 2 {
		t.Fatalf("byte counts: %+v", refs)
	}
	if refs[0].Digest == "" || refs[0].Digest == refs[1].Digest {
		t.Fatalf("digests: %+v", refs)
	}
	if OutputRefs(nil) != nil {
		t.Fatalf("nil files should yield nil refs")
	}
}
