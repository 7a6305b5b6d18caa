// Package ratelimiter throttles RPC calls per client address.
//
// Each client host gets its own token bucket (golang.org/x/time/rate).
// Buckets that have been idle longer than the configured TTL are dropped
// by Prune, which the server loop calls on its tick.
package ratelimiter

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultIdleTTL is how long an unused client bucket is kept.
const DefaultIdleTTL = 5 * time.Minute

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter holds one token bucket per client host.
//
// A zero requestsPerSecond disables limiting: Allow always returns true and
// no buckets are created.
//
// Thread safety:
// All methods are safe for concurrent use. The admin HTTP server reads
// Clients while the loop calls Allow.
type Limiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	clients map[string]*bucket

	// now is replaced in tests.
	now func() time.Time
}

// New creates a Limiter granting each client requestsPerSecond sustained
// and burst requests at once. A burst smaller than one request per second
// is raised to the rate so a fresh client is never refused outright.
func New(requestsPerSecond, burst uint) *Limiter {
	if requestsPerSecond > 0 && burst < requestsPerSecond {
		burst = requestsPerSecond
	}
	return &Limiter{
		limit:   rate.Limit(requestsPerSecond),
		burst:   int(burst),
		idleTTL: DefaultIdleTTL,
		clients: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Enabled reports whether the limiter refuses anything at all.
func (l *Limiter) Enabled() bool {
	return l != nil && l.limit > 0
}

// Allow consumes one token from the client's bucket.
//
// Returns false when the client has exhausted its burst; the caller
// answers with an RPC SYSTEM_ERR.
func (l *Limiter) Allow(client string) bool {
	if !l.Enabled() {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.clients[client]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[client] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// SetLimit changes the rate and burst for every client, existing buckets
// included. Used on configuration reload.
func (l *Limiter) SetLimit(requestsPerSecond, burst uint) {
	if requestsPerSecond > 0 && burst < requestsPerSecond {
		burst = requestsPerSecond
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.limit = rate.Limit(requestsPerSecond)
	l.burst = int(burst)
	now := l.now()
	for _, b := range l.clients {
		b.limiter.SetLimitAt(now, l.limit)
		b.limiter.SetBurstAt(now, l.burst)
	}
}

// Prune drops buckets idle for longer than the TTL and returns how many
// were removed.
func (l *Limiter) Prune() int {
	if l == nil {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.idleTTL)
	removed := 0
	for client, b := range l.clients {
		if b.lastSeen.Before(cutoff) {
			delete(l.clients, client)
			removed++
		}
	}
	return removed
}

// Clients returns the number of tracked client buckets.
func (l *Limiter) Clients() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}
