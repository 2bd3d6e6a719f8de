// Package metrics exposes Prometheus counters for the archive.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the metrics surface used by the HTTP layer and commands.
type Recorder interface {
	RecordVote(action string)
	RecordSubmission(accepted bool)
	RecordDailyPick(outcome string)
	RecordRateLimited(route string)
	RecordRequest(route string, statusCode int, duration time.Duration)
}

// Collector records archive metrics in a Prometheus registry.
type Collector struct {
	votes       *prometheus.CounterVec
	submissions *prometheus.CounterVec
	dailyPicks  *prometheus.CounterVec
	rateLimited *prometheus.CounterVec
	requests    *prometheus.CounterVec
	latency     *prometheus.HistogramVec
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		votes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "murphy_votes_total",
			Help: "Vote ledger writes by action.",
		}, []string{"action"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "murphy_submissions_total",
			Help: "Law submissions by result.",
		}, []string{"result"}),
		dailyPicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "murphy_daily_picks_total",
			Help: "Law of the day resolutions by outcome.",
		}, []string{"outcome"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "murphy_rate_limited_total",
			Help: "Requests rejected by the rate limiter.",
		}, []string{"route"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "murphy_http_requests_total",
			Help: "HTTP responses by route and status code.",
		}, []string{"route", "status_code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "murphy_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	reg.MustRegister(
		c.votes,
		c.submissions,
		c.dailyPicks,
		c.rateLimited,
		c.requests,
		c.latency,
	)

	return c
}

// RecordVote counts a cast or retract.
func (c *Collector) RecordVote(action string) {
	c.votes.WithLabelValues(action).Inc()
}

// RecordSubmission counts an accepted or rejected submission.
func (c *Collector) RecordSubmission(accepted bool) {
	result := "rejected"
	if accepted {
		result = "accepted"
	}
	c.submissions.WithLabelValues(result).Inc()
}

// RecordDailyPick counts a daily selection by outcome.
func (c *Collector) RecordDailyPick(outcome string) {
	c.dailyPicks.WithLabelValues(outcome).Inc()
}

// RecordRateLimited counts a request rejected by the limiter.
func (c *Collector) RecordRateLimited(route string) {
	c.rateLimited.WithLabelValues(route).Inc()
}

// RecordRequest counts a response and observes its latency.
func (c *Collector) RecordRequest(route string, statusCode int, duration time.Duration) {
	c.requests.WithLabelValues(route, strconv.Itoa(statusCode)).Inc()
	c.latency.WithLabelValues(route).Observe(duration.Seconds())
}

// Handler returns the scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) RecordVote(string)                        {}
func (Nop) RecordSubmission(bool)                    {}
func (Nop) RecordDailyPick(string)                   {}
func (Nop) RecordRateLimited(string)                 {}
func (Nop) RecordRequest(string, int, time.Duration) {}
