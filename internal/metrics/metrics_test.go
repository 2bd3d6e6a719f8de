package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorCountsByLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordVote("cast")
	c.RecordVote("cast")
	c.RecordVote("retract")
	c.RecordSubmission(true)
	c.RecordSubmission(false)
	c.RecordSubmission(false)
	c.RecordDailyPick("selected")
	c.RecordRateLimited("vote")

	testCases := []struct {
		name      string
		collector prometheus.Collector
		want      float64
	}{
		{name: "cast", collector: c.votes.WithLabelValues("cast"), want: 2},
		{name: "retract", collector: c.votes.WithLabelValues("retract"), want: 1},
		{name: "accepted", collector: c.submissions.WithLabelValues("accepted"), want: 1},
		{name: "rejected", collector: c.submissions.WithLabelValues("rejected"), want: 2},
		{name: "selected", collector: c.dailyPicks.WithLabelValues("selected"), want: 1},
		{name: "rate-limited", collector: c.rateLimited.WithLabelValues("vote"), want: 1},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if got := testutil.ToFloat64(testCase.collector); got != testCase.want {
				t.Fatalf("expected %v, got %v", testCase.want, got)
			}
		})
	}
}

func TestRecordRequestObservesLatency(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRequest("/api/laws", http.StatusOK, 15*time.Millisecond)
	c.RecordRequest("/api/laws", http.StatusOK, 25*time.Millisecond)

	if got := testutil.ToFloat64(c.requests.WithLabelValues("/api/laws", "200")); got != 2 {
		t.Fatalf("expected 2 requests, got %v", got)
	}
	if count := testutil.CollectAndCount(c.latency, "murphy_http_request_duration_seconds"); count != 1 {
		t.Fatalf("expected one latency series, got %d", count)
	}
}

func TestHandlerServesRegisteredMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordDailyPick("existing")

	server := httptest.NewServer(Handler(reg))
	defer server.Close()

	response, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	defer response.Body.Close()
	body, err := io.ReadAll(response.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	if !strings.Contains(string(body), `murphy_daily_picks_total{outcome="existing"} 1`) {
		t.Fatalf("expected daily pick counter in scrape output, got:\n%s", body)
	}
}

func TestNopSatisfiesRecorder(t *testing.T) {
	var recorder Recorder = Nop{}
	recorder.RecordVote("cast")
	recorder.RecordRequest("/", http.StatusOK, time.Millisecond)
}
