// Package ratelimit implements per-key token bucket rate limiting.
//
// Buckets are lock-free: token counts and refill timestamps are updated with
// compare-and-swap, so concurrent requests on the same key never serialize
// on a mutex and the bucket never hands out more tokens than it holds.
package ratelimit

import (
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Bucket is a token bucket refilled continuously at a fixed rate.
type Bucket struct {
	capacity   int64
	ratePerSec float64

	tokens     atomic.Int64
	lastRefill atomic.Int64 // unix nanos of the last applied refill

	now func() time.Time
}

// NewBucket creates a full bucket.
func NewBucket(capacity int64, ratePerSec float64) *Bucket {
	b := &Bucket{capacity: capacity, ratePerSec: ratePerSec, now: time.Now}
	b.tokens.Store(capacity)
	b.lastRefill.Store(b.now().UnixNano())
	return b
}

// TryConsume takes one token if available. It never blocks.
func (b *Bucket) TryConsume() bool {
	b.refill()
	for {
		cur := b.tokens.Load()
		if cur <= 0 {
			return false
		}
		if b.tokens.CompareAndSwap(cur, cur-1) {
			return true
		}
	}
}

// Remaining returns the current token count after applying any pending
// refill. The value is advisory: by the time the caller reads it another
// request may have consumed a token.
func (b *Bucket) Remaining() int64 {
	b.refill()
	if n := b.tokens.Load(); n > 0 {
		return n
	}
	return 0
}

// refill credits floor(elapsed * rate) tokens, capped at capacity. The
// refill timestamp only advances when whole tokens are credited so
// fractional accrual is never lost.
func (b *Bucket) refill() {
	last := b.lastRefill.Load()
	nowNanos := b.now().UnixNano()
	elapsed := nowNanos - last
	if elapsed <= 0 {
		return
	}

	add := int64(float64(elapsed) / float64(time.Second) * b.ratePerSec)
	if add <= 0 {
		return
	}

	if !b.lastRefill.CompareAndSwap(last, nowNanos) {
		// Another goroutine applied this window's refill.
		return
	}

	for {
		cur := b.tokens.Load()
		next := cur + add
		if next > b.capacity {
			next = b.capacity
		}
		if b.tokens.CompareAndSwap(cur, next) {
			return
		}
	}
}

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed   bool
	Limit     int64
	Remaining int64

	// RetryAfter is the suggested client backoff in seconds, set only on
	// denial.
	RetryAfter int
}

// Limiter applies a shared rate and capacity across independent buckets
// keyed by client identity.
//
// The default key space is unbounded, matching one bucket per distinct API
// key or client IP. When maxKeys is positive the buckets live in an LRU
// cache instead: under key churn the oldest idle buckets are evicted, and a
// re-admitted key starts with a full bucket.
type Limiter struct {
	ratePerSec float64
	capacity   int64

	buckets sync.Map // string -> *Bucket, used when bounded is nil
	bounded *lru.Cache[string, *Bucket]

	newBucket func() *Bucket
}

// NewLimiter creates a limiter. maxKeys <= 0 keeps every bucket for the
// process lifetime.
func NewLimiter(ratePerSec float64, capacity int64, maxKeys int) *Limiter {
	l := &Limiter{
		ratePerSec: ratePerSec,
		capacity:   capacity,
	}
	l.newBucket = func() *Bucket { return NewBucket(capacity, ratePerSec) }
	if maxKeys > 0 {
		l.bounded, _ = lru.New[string, *Bucket](maxKeys)
	}
	return l
}

// Limit returns the configured burst capacity.
func (l *Limiter) Limit() int64 { return l.capacity }

// Check consumes one token for the key and reports the decision.
func (l *Limiter) Check(key string) Decision {
	b := l.bucket(key)
	d := Decision{Limit: l.capacity, Allowed: b.TryConsume()}
	d.Remaining = b.Remaining()
	if !d.Allowed {
		d.RetryAfter = retryAfterSeconds(l.ratePerSec)
		d.Remaining = 0
	}
	return d
}

func (l *Limiter) bucket(key string) *Bucket {
	if l.bounded != nil {
		if b, ok := l.bounded.Get(key); ok {
			return b
		}
		b := l.newBucket()
		l.bounded.ContainsOrAdd(key, b)
		if cached, ok := l.bounded.Get(key); ok {
			return cached
		}
		return b
	}

	if b, ok := l.buckets.Load(key); ok {
		return b.(*Bucket)
	}
	b, _ := l.buckets.LoadOrStore(key, l.newBucket())
	return b.(*Bucket)
}

// retryAfterSeconds estimates how long until one token accrues.
func retryAfterSeconds(ratePerSec float64) int {
	if ratePerSec <= 0 {
		return 1
	}
	secs := int(1.0 / ratePerSec)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// KeyFor derives the limiter key for a request: the API key when present,
// the client IP otherwise.
func KeyFor(r *http.Request, apiKeyHeader string) string {
	if key := r.Header.Get(apiKeyHeader); key != "" {
		return key
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
