package relay

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ipLimiter hands out one token bucket per client address. Buckets unused
// for staleAfter are dropped on the next sweep.
type ipLimiter struct {
	mu         sync.Mutex
	limit      rate.Limit
	burst      int
	buckets    map[string]*bucket
	staleAfter time.Duration
	lastSweep  time.Time
	now        func() time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func newIPLimiter(perMinute, burst int) *ipLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &ipLimiter{
		limit:      rate.Limit(float64(perMinute) / 60),
		burst:      burst,
		buckets:    make(map[string]*bucket),
		staleAfter: 10 * time.Minute,
		now:        time.Now,
	}
}

func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if now.Sub(l.lastSweep) > l.staleAfter {
		for k, b := range l.buckets {
			if now.Sub(b.seen) > l.staleAfter {
				delete(l.buckets, k)
			}
		}
		l.lastSweep = now
	}
	b, ok := l.buckets[ip]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[ip] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
