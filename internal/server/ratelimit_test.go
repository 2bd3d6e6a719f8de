package server

import (
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/murphy/internal/laws"
	"github.com/MarcoPoloResearchLab/murphy/internal/metrics"
	"golang.org/x/time/rate"
)

func TestPerMinuteConfig(t *testing.T) {
	cfg := PerMinute(30, 3)
	if cfg.VoteBurst != 30 || cfg.SubmitBurst != 3 {
		t.Fatalf("unexpected bursts %+v", cfg)
	}
	if cfg.VoteRate != rate.Limit(0.5) || cfg.SubmitRate != rate.Limit(0.05) {
		t.Fatalf("unexpected rates %+v", cfg)
	}
}

func TestRateLimiterAllowsBurstThenRejects(t *testing.T) {
	limiter := NewRateLimiter(RateLimiterConfig{VoteRate: rate.Limit(1.0 / 60.0), VoteBurst: 2, SubmitRate: 1, SubmitBurst: 1, CleanupInterval: time.Minute})
	defer limiter.Stop()

	for attempt := 0; attempt < 2; attempt++ {
		if allowed, _ := limiter.Allow(BucketVote, "voter-a"); !allowed {
			t.Fatalf("attempt %d should be inside the burst", attempt)
		}
	}
	allowed, retryAfter := limiter.Allow(BucketVote, "voter-a")
	if allowed {
		t.Fatalf("third attempt must be rejected")
	}
	if retryAfter < 59*time.Second || retryAfter > 61*time.Second {
		t.Fatalf("expected a one minute retry hint, got %s", retryAfter)
	}
	if allowed, _ := limiter.Allow(BucketVote, "voter-b"); !allowed {
		t.Fatalf("other voters keep their own bucket")
	}
	if allowed, _ := limiter.Allow(BucketSubmit, "voter-a"); !allowed {
		t.Fatalf("buckets are independent")
	}
	if allowed, _ := limiter.Allow(Bucket("unknown"), "voter-a"); !allowed {
		t.Fatalf("unknown buckets are not limited")
	}
}

func TestRateLimiterCleanupEvictsIdleCallers(t *testing.T) {
	limiter := NewRateLimiter(RateLimiterConfig{VoteRate: 1, VoteBurst: 1, SubmitRate: 1, SubmitBurst: 1, CleanupInterval: time.Hour})
	defer limiter.Stop()

	limiter.Allow(BucketVote, "voter-a")
	if limiter.Tracked(BucketVote) != 1 {
		t.Fatalf("expected one tracked voter")
	}
	limiter.cleanup(time.Now().Add(time.Hour))
	if limiter.Tracked(BucketVote) != 1 {
		t.Fatalf("recently active voters must be kept")
	}
	limiter.cleanup(time.Now().Add(3 * time.Hour))
	if limiter.Tracked(BucketVote) != 0 {
		t.Fatalf("idle voters must be evicted")
	}
}

type limitedRoutes struct {
	metrics.Nop
	mu     sync.Mutex
	routes []string
}

func (r *limitedRoutes) RecordRateLimited(route string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, route)
}

func (r *limitedRoutes) recorded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.routes...)
}

func TestVoteRouteIsRateLimited(t *testing.T) {
	recorder := &limitedRoutes{}
	limiter := NewRateLimiter(RateLimiterConfig{VoteRate: rate.Limit(1.0 / 30.0), VoteBurst: 1, SubmitRate: 1, SubmitBurst: 1})
	defer limiter.Stop()

	stack := newTestStack(t, func(deps *Dependencies) {
		deps.RateLimiter = limiter
		deps.Metrics = recorder
	})
	lawID := stack.mustLaw(t, "A law that attracts eager voters.", laws.StatusPublished, 1700000000)
	target := "/api/laws/" + itoa(lawID) + "/vote"

	expectStatus(t, stack.do(t, http.MethodPost, target, map[string]string{"vote_type": "up"}), http.StatusOK)

	response := stack.do(t, http.MethodDelete, target, nil)
	expectErrorCode(t, response, http.StatusTooManyRequests, "rate_limited")
	if retryAfter, err := strconv.Atoi(response.Header().Get("Retry-After")); err != nil || retryAfter < 29 || retryAfter > 31 {
		t.Fatalf("unexpected Retry-After %q", response.Header().Get("Retry-After"))
	}
	if limited := recorder.recorded(); len(limited) != 1 || limited[0] != "/api/laws/:id/vote" {
		t.Fatalf("unexpected rate limited routes %v", limited)
	}

	stack.voter = "192.0.2.44"
	expectStatus(t, stack.do(t, http.MethodDelete, target, nil), http.StatusOK)
}
