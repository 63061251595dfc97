package api

import (
	"math"
	"strconv"
	"sync"
	"time"

	"chansync/internal/config"

	"golang.org/x/time/rate"
)

const (
	defaultBurst   = 5
	limiterIdleTTL = 10 * time.Minute
)

type clientLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// rateLimiter hands out one token bucket per client key. Buckets idle for
// longer than limiterIdleTTL are dropped, so per-IP keys do not pile up.
type rateLimiter struct {
	mu        sync.Mutex
	clients   map[string]*clientLimiter
	limit     rate.Limit
	burst     int
	now       func() time.Time
	lastSweep time.Time
}

func newRateLimiter(cfg config.APIRateLimitConfig) *rateLimiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = defaultBurst
	}
	return &rateLimiter{
		clients: make(map[string]*clientLimiter),
		limit:   rate.Limit(cfg.RPS),
		burst:   burst,
		now:     time.Now,
	}
}

func (l *rateLimiter) enabled() bool {
	return l.limit > 0
}

// allow takes a token for key. When none is left it reports how long the
// client should wait.
func (l *rateLimiter) allow(key string) (bool, time.Duration) {
	now := l.now()
	lim := l.get(key, now)

	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	delay := r.DelayFrom(now)
	if delay == 0 {
		return true, 0
	}
	r.CancelAt(now)
	return false, delay
}

func (l *rateLimiter) get(key string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > limiterIdleTTL {
		for k, c := range l.clients {
			if now.Sub(c.lastSeen) > limiterIdleTTL {
				delete(l.clients, k)
			}
		}
		l.lastSweep = now
	}

	c, ok := l.clients[key]
	if !ok {
		c = &clientLimiter{lim: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = c
	}
	c.lastSeen = now
	return c.lim
}

func (l *rateLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

func retryAfterSeconds(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
