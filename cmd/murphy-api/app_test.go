package main

import (
	"context"
	"errors"
	"testing"

	"github.com/MarcoPoloResearchLab/murphy/internal/daily"
	"github.com/MarcoPoloResearchLab/murphy/internal/events"
	"github.com/MarcoPoloResearchLab/murphy/internal/laws"
	"github.com/MarcoPoloResearchLab/murphy/internal/metrics"
	"go.uber.org/zap"
)

type capturingPublisher struct {
	published []events.Event
	err       error
}

func (p *capturingPublisher) Publish(_ context.Context, event events.Event) error {
	p.published = append(p.published, event)
	return p.err
}

func (p *capturingPublisher) Close() error { return nil }

type outcomeRecorder struct {
	metrics.Nop
	outcomes []string
}

func (r *outcomeRecorder) RecordDailyPick(outcome string) {
	r.outcomes = append(r.outcomes, outcome)
}

func TestObservePickAnnouncesOnlyNewRecordings(testContext *testing.T) {
	publisher := &capturingPublisher{}
	recorder := &outcomeRecorder{}
	app := &application{logger: zap.NewNop(), events: publisher, metrics: recorder}

	picked := daily.Pick{Law: laws.LawDetail{LawView: laws.LawView{ID: 7}}, Date: "2026-03-14", Found: true}
	for _, outcome := range []daily.Outcome{
		daily.OutcomeSelected,
		daily.OutcomeExisting,
		daily.OutcomeFallback,
		daily.OutcomeRaceRecovered,
	} {
		picked.Outcome = outcome
		app.observePick(context.Background(), picked)
	}
	app.observePick(context.Background(), daily.Pick{Date: "2026-03-14", Outcome: daily.OutcomeEmpty})

	if len(recorder.outcomes) != 5 {
		testContext.Fatalf("expected every resolution to be counted, got %v", recorder.outcomes)
	}
	if len(publisher.published) != 2 {
		testContext.Fatalf("expected two announcements, got %+v", publisher.published)
	}
	for _, event := range publisher.published {
		if event.Type != events.TypeDailySelected || event.LawID != 7 || event.Date != "2026-03-14" {
			testContext.Fatalf("unexpected event %+v", event)
		}
	}
}

func TestObservePickToleratesPublishFailure(testContext *testing.T) {
	publisher := &capturingPublisher{err: errors.New("nats: no servers available")}
	app := &application{logger: zap.NewNop(), events: publisher, metrics: metrics.Nop{}}

	app.observePick(context.Background(), daily.Pick{
		Law:     laws.LawDetail{LawView: laws.LawView{ID: 3}},
		Date:    "2026-03-15",
		Found:   true,
		Outcome: daily.OutcomeSelected,
	})
	if len(publisher.published) != 1 {
		testContext.Fatalf("expected one publish attempt, got %d", len(publisher.published))
	}
}
