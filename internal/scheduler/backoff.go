package scheduler

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/agentcoord/agentcoord/internal/config"
	"github.com/agentcoord/agentcoord/internal/task"
)

// DelayForAttempt returns the back-off delay before the retry following
// failed attempt n (1-indexed): initial · factor^(n-1), capped at the
// configured maximum. Jitter, when enabled, multiplies the capped delay by
// a factor in [0.5, 1.5] derived from a hash of the seed, so a given
// task/attempt pair always backs off the same way.
func DelayForAttempt(attempt int, cfg config.BackoffConfig, jitterSeed string) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if cfg.InitialDelayMS <= 0 {
		return 0
	}

	delayMS := float64(cfg.InitialDelayMS) * math.Pow(cfg.Factor, float64(attempt-1))
	if cfg.MaxDelayMS > 0 {
		delayMS = math.Min(delayMS, float64(cfg.MaxDelayMS))
	}

	// Jitter applies after capping.
	if cfg.Jitter {
		delayMS *= 0.5 + jitterUnit(jitterSeed)
	}

	if delayMS < 0 {
		delayMS = 0
	}
	return time.Duration(delayMS * float64(time.Millisecond))
}

func retrySeed(prefix string, id task.ID, attempt int) string {
	return fmt.Sprintf("%s:%s:%d", prefix, id, attempt)
}

// jitterUnit maps a seed to [0,1] deterministically.
func jitterUnit(seed string) float64 {
	sum := sha256.Sum256([]byte(seed))
	u := binary.BigEndian.Uint64(sum[:8])
	return float64(u) / float64(^uint64(0))
}

// sleepWithContext sleeps for delay unless the context is cancelled first.
// It reports whether the full delay elapsed.
func sleepWithContext(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return true
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
