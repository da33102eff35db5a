package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Gate enforces a minimum interval between outbound network calls,
// process-wide. It is deliberately global rather than per-host: one shared
// gate keeps the crawler polite toward whichever host it currently targets
// at the cost of per-domain throughput.
type Gate struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	interval time.Duration
}

// DefaultIntervalMs is the gate spacing used when the operator has not
// configured one.
const DefaultIntervalMs = 100

// NewGate creates a gate with the given minimum interval in milliseconds.
// Non-positive values fall back to the default.
func NewGate(intervalMs int) *Gate {
	if intervalMs <= 0 {
		intervalMs = DefaultIntervalMs
	}
	interval := time.Duration(intervalMs) * time.Millisecond
	return &Gate{
		// Burst of 1 makes the token bucket degenerate into an exact
		// min-interval spacing between successive Wait returns.
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
		interval: interval,
	}
}

// Wait blocks until at least the configured interval has elapsed since the
// previous call was admitted, then claims the current instant.
func (g *Gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	l := g.limiter
	g.mu.Unlock()
	return l.Wait(ctx)
}

// SetInterval adjusts the gate at runtime (operator setting).
func (g *Gate) SetInterval(intervalMs int) {
	if intervalMs <= 0 {
		return
	}
	interval := time.Duration(intervalMs) * time.Millisecond

	g.mu.Lock()
	defer g.mu.Unlock()
	g.interval = interval
	g.limiter.SetLimit(rate.Every(interval))
}

// Interval returns the currently configured spacing.
func (g *Gate) Interval() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.interval
}
