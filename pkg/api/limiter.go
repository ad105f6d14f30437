package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterPool is a per-client token-bucket pool backed by
// golang.org/x/time/rate.Limiter values, keyed by client IP. Allow() is
// non-blocking; rejected requests get HTTP 429.
type limiterEntry struct {
	l        *rate.Limiter
	lastSeen time.Time
}

type limiterPool struct {
	mu           sync.Mutex
	m            map[string]*limiterEntry
	rps          float64
	burst        int
	startCleanup sync.Once
}

func newLimiterPool(rps float64, burst int) *limiterPool {
	return &limiterPool{m: make(map[string]*limiterEntry), rps: rps, burst: burst}
}

// Allow checks the limiter for key, creating one on first use. The pool
// lazily starts a cleanup goroutine that evicts idle entries so a long tail
// of distinct client IPs cannot grow memory without bound.
func (p *limiterPool) Allow(key string) bool {
	p.startCleanup.Do(func() { go p.cleanupLoop() })

	p.mu.Lock()
	e, ok := p.m[key]
	if !ok {
		e = &limiterEntry{l: rate.NewLimiter(rate.Limit(p.rps), p.burst)}
		p.m[key] = e
	}
	e.lastSeen = time.Now()
	p.mu.Unlock()
	return e.l.Allow()
}

func (p *limiterPool) cleanupLoop() {
	const ttl = 10 * time.Minute
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-ttl)
		p.mu.Lock()
		for k, e := range p.m {
			if e.lastSeen.Before(cutoff) {
				delete(p.m, k)
			}
		}
		p.mu.Unlock()
	}
}
