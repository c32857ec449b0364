package fetch

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RateLimiter enforces a minimum gap between consecutive requests to the same host.
// Assets are fetched one at a time, so the gap is only a politeness pause toward the storage provider.
type RateLimiter struct {
	gap  time.Duration
	mu   sync.Mutex
	seen map[string]time.Time
	log  *logrus.Logger
}

// NewRateLimiter creates a RateLimiter. A zero gap disables waiting.
func NewRateLimiter(gap time.Duration, log *logrus.Logger) *RateLimiter {
	return &RateLimiter{
		gap:  gap,
		seen: make(map[string]time.Time),
		log:  log,
	}
}

// Wait blocks until the gap since the last request to host has passed, or ctx is done.
// The remaining pause gets +/- 10% jitter. The first request to a host never waits.
func (rl *RateLimiter) Wait(ctx context.Context, host string) {
	if rl.gap <= 0 {
		return
	}
	rl.mu.Lock()
	last, ok := rl.seen[host]
	rl.mu.Unlock()
	if !ok {
		return
	}

	pause := rl.gap - time.Since(last)
	if pause <= 0 {
		return
	}
	if spread := int64(pause) / 5; spread > 0 {
		pause += time.Duration(rand.Int63n(spread)) - pause/10
	}

	rl.log.WithFields(logrus.Fields{"host": host, "pause": pause}).Debug("Pausing before next request")

	timer := time.NewTimer(pause)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// Done stamps host with the current time. Call it once the request attempt has returned.
func (rl *RateLimiter) Done(host string) {
	rl.mu.Lock()
	rl.seen[host] = time.Now()
	rl.mu.Unlock()
}
