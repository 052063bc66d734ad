package api

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// sweepEvery bounds how often allow scans for idle buckets.
const sweepEvery = time.Minute

type ipBucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// ipRateLimiter keeps one token bucket per client IP. Buckets idle long
// enough to have refilled completely are dropped, since a fresh bucket
// behaves identically.
type ipRateLimiter struct {
	mu        sync.Mutex
	ips       map[string]*ipBucket
	r         rate.Limit
	b         int
	idle      time.Duration // zero disables eviction
	lastSweep time.Time
}

func newIPRateLimiter(perSecond float64, burst int) *ipRateLimiter {
	l := &ipRateLimiter{
		ips: make(map[string]*ipBucket),
		r:   rate.Limit(perSecond),
		b:   burst,
	}
	if perSecond > 0 {
		l.idle = time.Duration(float64(burst) / perSecond * float64(time.Second))
	}
	return l
}

func (l *ipRateLimiter) limiter(ip string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.idle > 0 && now.Sub(l.lastSweep) >= sweepEvery {
		l.sweep(now)
	}
	bk, ok := l.ips[ip]
	if !ok {
		bk = &ipBucket{lim: rate.NewLimiter(l.r, l.b)}
		l.ips[ip] = bk
	}
	if now.After(bk.lastSeen) {
		bk.lastSeen = now
	}
	return bk.lim
}

// sweep drops buckets untouched for longer than a full refill. l.mu is held.
func (l *ipRateLimiter) sweep(now time.Time) {
	for ip, bk := range l.ips {
		if now.Sub(bk.lastSeen) > l.idle {
			delete(l.ips, ip)
		}
	}
	l.lastSweep = now
}

func (l *ipRateLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ips)
}

// allow takes a token for ip. When none is available it returns false and
// the wait until the next token, rounded up to whole seconds.
func (l *ipRateLimiter) allow(ip string, now time.Time) (bool, int) {
	res := l.limiter(ip, now).ReserveN(now, 1)
	if !res.OK() {
		return false, 60
	}
	delay := res.DelayFrom(now)
	if delay == 0 {
		return true, 0
	}
	res.CancelAt(now)
	return false, int(math.Max(1, math.Ceil(delay.Seconds())))
}
