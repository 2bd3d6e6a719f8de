package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/murphy/internal/config"
	"github.com/MarcoPoloResearchLab/murphy/internal/daily"
	"github.com/MarcoPoloResearchLab/murphy/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "murphy-api",
		Short: "Murphy's law archive service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "select-daily",
		Short: "Resolve and record today's law of the day",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSelectDaily(cmd.Context())
		},
	})

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-encoding", defaults.GetString("log.encoding"), "Log encoding (json, console)")
	cmd.PersistentFlags().String("allowed-origins", defaults.GetString("cors.allowed_origins"), "Comma separated CORS origins")
	cmd.PersistentFlags().Int("daily-window-days", defaults.GetInt("daily.window_days"), "Days before a law of the day may repeat")
	cmd.PersistentFlags().String("nats-url", defaults.GetString("events.nats_url"), "NATS server URL; empty disables events")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.encoding", "log-encoding")
	bindFlag(cmd, "cors.allowed_origins", "allowed-origins")
	bindFlag(cmd, "daily.window_days", "daily-window-days")
	bindFlag(cmd, "events.nats_url", "nats-url")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	app, err := newApplication(appConfig)
	if err != nil {
		return err
	}
	defer app.Close()

	limiter := server.NewRateLimiter(server.PerMinute(appConfig.VotesPerMinute, appConfig.SubmitsPerMinute))
	defer limiter.Stop()

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Laws:           app.laws,
		Votes:          app.votes,
		Daily:          app.scheduler,
		Feed:           app.feed,
		Events:         app.events,
		Metrics:        app.metrics,
		MetricsHandler: app.metricsHandler,
		RateLimiter:    limiter,
		AllowedOrigins: appConfig.AllowedOrigins,
		Health:         app.ping,
		Logger:         app.logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		app.logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// runSelectDaily resolves today's pick once. An empty archive is logged and
// is not a failure.
func runSelectDaily(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	app, err := newApplication(appConfig)
	if err != nil {
		return err
	}
	defer app.Close()

	pick, err := app.scheduler.Today(ctx)
	if err != nil {
		app.logger.Error("daily selection failed", zap.Error(err))
		return err
	}
	if !pick.Found {
		app.logger.Warn("no law available for today",
			zap.String("date", pick.Date),
			zap.String("outcome", string(pick.Outcome)))
		return nil
	}
	app.logger.Info("law of the day resolved",
		zap.String("date", pick.Date),
		zap.Int64("law_id", pick.Law.ID),
		zap.String("outcome", string(pick.Outcome)))
	return nil
}

func isNewRecording(outcome daily.Outcome) bool {
	return outcome == daily.OutcomeSelected || outcome == daily.OutcomeFallback
}
