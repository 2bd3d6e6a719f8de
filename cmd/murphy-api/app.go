package main

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/murphy/internal/config"
	"github.com/MarcoPoloResearchLab/murphy/internal/daily"
	"github.com/MarcoPoloResearchLab/murphy/internal/database"
	"github.com/MarcoPoloResearchLab/murphy/internal/events"
	"github.com/MarcoPoloResearchLab/murphy/internal/feed"
	"github.com/MarcoPoloResearchLab/murphy/internal/laws"
	"github.com/MarcoPoloResearchLab/murphy/internal/logging"
	"github.com/MarcoPoloResearchLab/murphy/internal/metrics"
	"github.com/MarcoPoloResearchLab/murphy/internal/votes"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// application holds the services shared by the server and the maintenance
// commands.
type application struct {
	logger         *zap.Logger
	sqlDB          *sql.DB
	laws           *laws.Service
	votes          *votes.Service
	scheduler      *daily.Scheduler
	feed           *feed.Builder
	events         events.Publisher
	metrics        metrics.Recorder
	metricsHandler http.Handler
}

func newApplication(appConfig config.AppConfig) (*application, error) {
	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogEncoding)
	if err != nil {
		return nil, err
	}

	app := &application{logger: logger, events: events.Nop{}, metrics: metrics.Nop{}}

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return nil, err
	}
	app.sqlDB, err = db.DB()
	if err != nil {
		return nil, err
	}

	if appConfig.MetricsEnabled {
		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		app.metrics = metrics.NewCollector(registry)
		app.metricsHandler = metrics.Handler(registry)
	}

	if appConfig.EventsNATSURL != "" {
		publisher, err := events.Connect(appConfig.EventsNATSURL, appConfig.EventsSubjectPrefix)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.events = publisher
		logger.Info("publishing events", zap.String("subject_prefix", appConfig.EventsSubjectPrefix))
	}

	app.laws, err = laws.NewService(laws.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		app.Close()
		return nil, err
	}

	app.votes, err = votes.NewService(votes.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Laws:     app.laws,
		Logger:   logger,
	})
	if err != nil {
		app.Close()
		return nil, err
	}

	app.scheduler, err = daily.NewScheduler(daily.SchedulerConfig{
		History:    daily.NewHistory(db, time.Now),
		Laws:       app.laws,
		Clock:      time.Now,
		WindowDays: appConfig.DailyWindowDays,
		Logger:     logger,
		Notify:     app.observePick,
	})
	if err != nil {
		app.Close()
		return nil, err
	}

	app.feed, err = feed.NewBuilder(feed.Config{
		SiteURL:     appConfig.FeedSiteURL,
		Title:       appConfig.FeedTitle,
		Description: appConfig.FeedDescription,
		Items:       appConfig.FeedItems,
		Clock:       time.Now,
	}, app.scheduler, app.laws)
	if err != nil {
		app.Close()
		return nil, err
	}

	return app, nil
}

// observePick counts every resolution and announces newly recorded picks.
func (a *application) observePick(ctx context.Context, pick daily.Pick) {
	a.metrics.RecordDailyPick(string(pick.Outcome))
	if !pick.Found || !isNewRecording(pick.Outcome) {
		return
	}
	event := events.Event{
		Type:              events.TypeDailySelected,
		LawID:             pick.Law.ID,
		Date:              pick.Date,
		OccurredAtSeconds: time.Now().UTC().Unix(),
	}
	if err := a.events.Publish(ctx, event); err != nil {
		a.logger.Warn("failed to publish daily selection", zap.String("date", pick.Date), zap.Error(err))
	}
}

func (a *application) ping(ctx context.Context) error {
	return a.sqlDB.PingContext(ctx)
}

func (a *application) Close() {
	if a.events != nil {
		if err := a.events.Close(); err != nil {
			a.logger.Warn("failed to close event publisher", zap.Error(err))
		}
	}
	if a.sqlDB != nil {
		_ = a.sqlDB.Close()
	}
	_ = a.logger.Sync()
}
