package authapi

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// keyedLimiter manages one token-bucket limiter per key (client IP or
// normalized login identifier). Idle entries are evicted by a background
// loop so the maps cannot grow without bound under scanning traffic.
type keyedLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*keyedEntry

	stopOnce sync.Once
	stopCh   chan struct{}
}

type keyedEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

func newKeyedLimiter(perMinute, burst int, cleanupInterval time.Duration) *keyedLimiter {
	if perMinute <= 0 {
		perMinute = 1
	}
	if burst <= 0 {
		burst = 1
	}
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}
	kl := &keyedLimiter{
		limit:    rate.Limit(float64(perMinute) / 60.0),
		burst:    burst,
		limiters: make(map[string]*keyedEntry),
		stopCh:   make(chan struct{}),
	}
	go kl.cleanupLoop(cleanupInterval)
	return kl
}

// Allow reports whether the key may attempt now. Blank keys are never
// throttled; the caller decides what blank means (e.g. unknown client IP).
func (kl *keyedLimiter) Allow(key string) bool {
	if key == "" {
		return true
	}

	kl.mu.Lock()
	e, ok := kl.limiters[key]
	if !ok {
		e = &keyedEntry{limiter: rate.NewLimiter(kl.limit, kl.burst)}
		kl.limiters[key] = e
	}
	e.lastAccess = time.Now()
	kl.mu.Unlock()

	return e.limiter.Allow()
}

// Len returns the number of tracked keys (metrics/tests).
func (kl *keyedLimiter) Len() int {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	return len(kl.limiters)
}

// Stop terminates the cleanup loop (idempotent).
func (kl *keyedLimiter) Stop() {
	kl.stopOnce.Do(func() { close(kl.stopCh) })
}

func (kl *keyedLimiter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			kl.cleanup(interval * 2)
		case <-kl.stopCh:
			return
		}
	}
}

func (kl *keyedLimiter) cleanup(ttl time.Duration) {
	cut := time.Now().Add(-ttl)
	kl.mu.Lock()
	for key, e := range kl.limiters {
		if e.lastAccess.Before(cut) {
			delete(kl.limiters, key)
		}
	}
	kl.mu.Unlock()
}

func writeRateLimited(w http.ResponseWriter, limit rate.Limit) {
	retryAfter := 1
	if limit > 0 {
		retryAfter = int(1.0/float64(limit)) + 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
}
