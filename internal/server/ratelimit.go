package server

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Bucket names an independently limited group of routes.
type Bucket string

const (
	// BucketVote limits casting and retracting votes.
	BucketVote Bucket = "vote"
	// BucketSubmit limits law submissions.
	BucketSubmit Bucket = "submit"

	defaultCleanupInterval = 5 * time.Minute
)

// RateLimiterConfig holds the per-caller rates of each bucket.
type RateLimiterConfig struct {
	VoteRate        rate.Limit
	VoteBurst       int
	SubmitRate      rate.Limit
	SubmitBurst     int
	CleanupInterval time.Duration
}

// PerMinute builds a RateLimiterConfig from per-minute allowances. The burst
// equals the allowance so a fresh caller may spend a full minute at once.
func PerMinute(votesPerMinute, submitsPerMinute int) RateLimiterConfig {
	return RateLimiterConfig{
		VoteRate:        rate.Limit(float64(votesPerMinute) / 60.0),
		VoteBurst:       votesPerMinute,
		SubmitRate:      rate.Limit(float64(submitsPerMinute) / 60.0),
		SubmitBurst:     submitsPerMinute,
		CleanupInterval: defaultCleanupInterval,
	}
}

type keyLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

type limiterPool struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*keyLimiter
}

func newLimiterPool(limit rate.Limit, burst int) *limiterPool {
	return &limiterPool{limit: limit, burst: burst, limiters: make(map[string]*keyLimiter)}
}

func (p *limiterPool) get(key string, now time.Time) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, exists := p.limiters[key]
	if !exists {
		entry = &keyLimiter{limiter: rate.NewLimiter(p.limit, p.burst)}
		p.limiters[key] = entry
	}
	entry.lastAccess = now
	return entry.limiter
}

func (p *limiterPool) evictIdle(now time.Time, ttl time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, entry := range p.limiters {
		if now.Sub(entry.lastAccess) > ttl {
			delete(p.limiters, key)
		}
	}
}

func (p *limiterPool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.limiters)
}

// retryAfter is the time needed to refill a single token.
func (p *limiterPool) retryAfter() time.Duration {
	if p.limit <= 0 {
		return time.Minute
	}
	seconds := math.Ceil(1.0 / float64(p.limit))
	if seconds < 1 {
		seconds = 1
	}
	return time.Duration(seconds) * time.Second
}

// RateLimiter keeps a token bucket per caller and bucket. Idle callers are
// evicted by a background loop until Stop is called.
type RateLimiter struct {
	config RateLimiterConfig
	pools  map[Bucket]*limiterPool
	stopCh chan struct{}
	once   sync.Once
}

// NewRateLimiter creates a RateLimiter and starts its cleanup loop.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaultCleanupInterval
	}
	limiter := &RateLimiter{
		config: config,
		pools: map[Bucket]*limiterPool{
			BucketVote:   newLimiterPool(config.VoteRate, config.VoteBurst),
			BucketSubmit: newLimiterPool(config.SubmitRate, config.SubmitBurst),
		},
		stopCh: make(chan struct{}),
	}
	go limiter.cleanupLoop()
	return limiter
}

// Allow consumes a token for key in bucket. When the caller is over its limit
// it returns false and the suggested wait before retrying. Unknown buckets are
// not limited.
func (rl *RateLimiter) Allow(bucket Bucket, key string) (bool, time.Duration) {
	pool, ok := rl.pools[bucket]
	if !ok {
		return true, 0
	}
	if pool.get(key, time.Now()).Allow() {
		return true, 0
	}
	return false, pool.retryAfter()
}

// Tracked returns the number of callers currently held for bucket.
func (rl *RateLimiter) Tracked(bucket Bucket) int {
	pool, ok := rl.pools[bucket]
	if !ok {
		return 0
	}
	return pool.size()
}

// Stop ends the cleanup loop.
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stopCh) })
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.cleanup(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup drops callers idle for more than two cleanup intervals.
func (rl *RateLimiter) cleanup(now time.Time) {
	ttl := rl.config.CleanupInterval * 2
	for _, pool := range rl.pools {
		pool.evictIdle(now, ttl)
	}
}

func (h *httpHandler) rateLimit(bucket Bucket) gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.limiter == nil {
			c.Next()
			return
		}
		allowed, retryAfter := h.limiter.Allow(bucket, h.identity(c))
		if allowed {
			c.Next()
			return
		}
		h.metrics.RecordRateLimited(c.FullPath())
		h.logger.Warn("rate limit exceeded",
			zap.String("bucket", string(bucket)),
			zap.String("route", c.FullPath()))
		c.Header("Retry-After", strconv.Itoa(int(retryAfter/time.Second)))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
	}
}
