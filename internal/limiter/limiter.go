// Package limiter provides the shared request gate for one query engine
// instance: a token bucket bounding request rate and a weighted semaphore
// bounding simultaneous in-flight requests. The engine's limits are
// instance-scoped, so one Gate must be shared by every client and every
// composition run that targets the same instance.
package limiter

import (
	"context"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config sizes a Gate. Zero values mean unlimited for that dimension.
type Config struct {
	// RequestsPerSecond refills the rate bucket.
	RequestsPerSecond float64
	// Burst is the bucket capacity. Defaults to 1 when rate-limited.
	Burst int
	// MaxInFlight caps simultaneous requests.
	MaxInFlight int64
}

// Gate is the combined rate and concurrency limit for one engine instance.
type Gate struct {
	requests *rate.Limiter
	inflight *semaphore.Weighted
}

// New builds a Gate from the config. The Gate is constructed once per
// engine instance and injected into every client that talks to it.
func New(cfg Config) *Gate {
	limit := rate.Inf
	burst := cfg.Burst
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		if burst <= 0 {
			burst = 1
		}
	}
	var sem *semaphore.Weighted
	if cfg.MaxInFlight > 0 {
		sem = semaphore.NewWeighted(cfg.MaxInFlight)
	}
	return &Gate{
		requests: rate.NewLimiter(limit, burst),
		inflight: sem,
	}
}

// Acquire blocks until a concurrency slot and a rate token are available,
// or the context ends. It returns the release function for the concurrency
// slot; the rate token is consumed, not held.
func (g *Gate) Acquire(ctx context.Context) (release func(), err error) {
	if g.inflight != nil {
		if err := g.inflight.Acquire(ctx, 1); err != nil {
			return nil, err
		}
	}
	if err := g.requests.Wait(ctx); err != nil {
		if g.inflight != nil {
			g.inflight.Release(1)
		}
		return nil, err
	}
	if g.inflight == nil {
		return func() {}, nil
	}
	return func() { g.inflight.Release(1) }, nil
}
