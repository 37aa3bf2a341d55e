package server

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const defaultLimiterIdleTTL = 5 * time.Minute

// IPRateLimiter throttles newly accepted connections per remote IP address.
type IPRateLimiter struct {
	mu            sync.Mutex
	limiters      map[string]*ipLimiterEntry
	limit         rate.Limit
	burst         int
	idleTTL       time.Duration
	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	closeOnce     sync.Once
}

type ipLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing perSecond new connections per IP
// with the given burst.
func NewRateLimiter(perSecond float64, burst int) *IPRateLimiter {
	rl := &IPRateLimiter{
		limiters:      make(map[string]*ipLimiterEntry),
		limit:         rate.Limit(perSecond),
		burst:         burst,
		idleTTL:       defaultLimiterIdleTTL,
		cleanupTicker: time.NewTicker(1 * time.Minute),
		stopCleanup:   make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Allow consumes one token for ip and reports whether the connection may
// proceed.
func (rl *IPRateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, exists := rl.limiters[ip]
	if !exists {
		entry = &ipLimiterEntry{
			limiter: rate.NewLimiter(rl.limit, rl.burst),
		}
		rl.limiters[ip] = entry
	}
	entry.lastSeen = time.Now()

	return entry.limiter.Allow()
}

func (rl *IPRateLimiter) cleanupLoop() {
	for {
		select {
		case <-rl.cleanupTicker.C:
			rl.cleanup(time.Now())
		case <-rl.stopCleanup:
			return
		}
	}
}

func (rl *IPRateLimiter) cleanup(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for ip, entry := range rl.limiters {
		if now.Sub(entry.lastSeen) > rl.idleTTL {
			delete(rl.limiters, ip)
		}
	}
}

// Close stops the cleanup goroutine.
func (rl *IPRateLimiter) Close() {
	rl.closeOnce.Do(func() {
		close(rl.stopCleanup)
		rl.cleanupTicker.Stop()
	})
}
