package proxydhcp

import (
	"net"
	"sync"
	"time"

	"github.com/netboot/pxebootd/internal/metrics"
)

// RateLimiter token-bucket limits DHCPDISCOVER handling, both globally and
// per client MAC. DHCPREQUEST is never gated — spec.md §4.5 requires a
// client that already received an offer to always get its ACK.
type RateLimiter struct {
	enabled        bool
	globalLimit    int
	perMACLimit    int
	globalTokens   int
	perMAC         map[string]*macBucket
	mu             sync.Mutex
	lastRefill     time.Time
	refillInterval time.Duration
}

type macBucket struct {
	tokens   int
	lastSeen time.Time
}

// NewRateLimiter creates a new rate limiter for DHCPDISCOVER traffic.
func NewRateLimiter(enabled bool, globalLimit, perMACLimit int) *RateLimiter {
	if globalLimit <= 0 {
		globalLimit = 100
	}
	if perMACLimit <= 0 {
		perMACLimit = 5
	}
	return &RateLimiter{
		enabled:        enabled,
		globalLimit:    globalLimit,
		perMACLimit:    perMACLimit,
		globalTokens:   globalLimit,
		perMAC:         make(map[string]*macBucket),
		lastRefill:     time.Now(),
		refillInterval: time.Second,
	}
}

// Allow reports whether a DHCPDISCOVER from mac may be processed. Rejections
// increment the global or per_mac rate_limit_drops_total counter.
func (r *RateLimiter) Allow(mac net.HardwareAddr) bool {
	if !r.enabled {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	r.refill(now)

	if r.globalTokens <= 0 {
		metrics.RateLimitDrops.WithLabelValues("global").Inc()
		return false
	}

	macStr := mac.String()
	bucket, exists := r.perMAC[macStr]
	if !exists {
		bucket = &macBucket{tokens: r.perMACLimit, lastSeen: now}
		r.perMAC[macStr] = bucket
	}

	if bucket.tokens <= 0 {
		metrics.RateLimitDrops.WithLabelValues("per_mac").Inc()
		return false
	}

	r.globalTokens--
	bucket.tokens--
	bucket.lastSeen = now

	return true
}

// refill adds tokens back based on elapsed time since last refill and
// evicts MAC buckets that have gone quiet.
func (r *RateLimiter) refill(now time.Time) {
	elapsed := now.Sub(r.lastRefill)
	if elapsed < r.refillInterval {
		return
	}

	intervals := int(elapsed / r.refillInterval)
	if intervals <= 0 {
		return
	}
	r.lastRefill = now

	r.globalTokens += r.globalLimit * intervals
	if r.globalTokens > r.globalLimit {
		r.globalTokens = r.globalLimit
	}

	const staleThreshold = 30 * time.Second
	for macStr, bucket := range r.perMAC {
		if now.Sub(bucket.lastSeen) > staleThreshold {
			delete(r.perMAC, macStr)
			continue
		}
		bucket.tokens += r.perMACLimit * intervals
		if bucket.tokens > r.perMACLimit {
			bucket.tokens = r.perMACLimit
		}
	}
}

// Stats returns current rate limiter statistics.
func (r *RateLimiter) Stats() (globalTokens int, trackedMACs int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.globalTokens, len(r.perMAC)
}
