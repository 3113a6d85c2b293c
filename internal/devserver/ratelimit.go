package devserver

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type keyLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter pools one token bucket per client key. Each bucket holds
// limit tokens and refills one every window/limit, so a client gets limit
// requests per window in steady state.
type RateLimiter struct {
	mu     sync.Mutex
	keys   map[string]*keyLimiter
	every  rate.Limit
	burst  int
	window time.Duration
	done   chan struct{}
	once   sync.Once
}

// NewRateLimiter returns a limiter allowing limit requests per window. A
// non-positive limit or window allows everything.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		keys:   make(map[string]*keyLimiter),
		burst:  limit,
		window: window,
		done:   make(chan struct{}),
	}
	if limit > 0 && window > 0 {
		rl.every = rate.Every(window / time.Duration(limit))
		go rl.evictIdle()
	}
	return rl
}

// Allow reports whether key may make a request now.
func (r *RateLimiter) Allow(key string) bool {
	if r.burst <= 0 || r.window <= 0 {
		return true
	}
	return r.get(key).Allow()
}

func (r *RateLimiter) get(key string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	kl, ok := r.keys[key]
	if !ok {
		kl = &keyLimiter{limiter: rate.NewLimiter(r.every, r.burst)}
		r.keys[key] = kl
	}
	kl.lastSeen = time.Now()
	return kl.limiter
}

// Close stops idle-key eviction.
func (r *RateLimiter) Close() {
	r.once.Do(func() { close(r.done) })
}

// evictIdle drops buckets untouched for a full window; they would be full
// again by then anyway.
func (r *RateLimiter) evictIdle() {
	ticker := time.NewTicker(r.window)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case now := <-ticker.C:
			r.mu.Lock()
			for key, kl := range r.keys {
				if now.Sub(kl.lastSeen) >= r.window {
					delete(r.keys, key)
				}
			}
			r.mu.Unlock()
		}
	}
}
