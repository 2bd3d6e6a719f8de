package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "MURPHY"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabasePath      = "murphy.db"
	defaultLogLevel          = "info"
	defaultLogEncoding       = "json"
	defaultAllowedOrigins    = "*"
	defaultVotesPerMinute    = 30
	defaultSubmitsPerMinute  = 3
	defaultDailyWindowDays   = 365
	defaultFeedSiteURL       = "https://murphys-laws.com"
	defaultFeedTitle         = "Murphy's Law Archive"
	defaultFeedDescription   = "Law of the Day and the newest additions to the archive"
	defaultFeedItems         = 10
	defaultEventSubjectRoot  = "murphy"
	defaultMetricsEnabled    = true
	keyHTTPAddress           = "http.address"
	keyDatabasePath          = "database.path"
	keyLogLevel              = "log.level"
	keyLogEncoding           = "log.encoding"
	keyAllowedOrigins        = "cors.allowed_origins"
	keyVotesPerMinute        = "ratelimit.vote_per_minute"
	keySubmitsPerMinute      = "ratelimit.submit_per_minute"
	keyDailyWindowDays       = "daily.window_days"
	keyFeedSiteURL           = "feed.site_url"
	keyFeedTitle             = "feed.title"
	keyFeedDescription       = "feed.description"
	keyFeedItems             = "feed.items"
	keyEventsNATSURL         = "events.nats_url"
	keyEventsSubjectPrefix   = "events.subject_prefix"
	keyMetricsEnabled        = "metrics.enabled"
	allowedOriginsSeparator  = ","
	errFormatRequiredSetting = "%s is required"
	errFormatPositiveSetting = "%s must be greater than zero"
)

// AppConfig captures runtime configuration for the API server and the
// maintenance commands.
type AppConfig struct {
	HTTPAddress         string
	DatabasePath        string
	LogLevel            string
	LogEncoding         string
	AllowedOrigins      []string
	VotesPerMinute      int
	SubmitsPerMinute    int
	DailyWindowDays     int
	FeedSiteURL         string
	FeedTitle           string
	FeedDescription     string
	FeedItems           int
	EventsNATSURL       string
	EventsSubjectPrefix string
	MetricsEnabled      bool
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault(keyHTTPAddress, defaultHTTPAddress)
	configViper.SetDefault(keyDatabasePath, defaultDatabasePath)
	configViper.SetDefault(keyLogLevel, defaultLogLevel)
	configViper.SetDefault(keyLogEncoding, defaultLogEncoding)
	configViper.SetDefault(keyAllowedOrigins, defaultAllowedOrigins)
	configViper.SetDefault(keyVotesPerMinute, defaultVotesPerMinute)
	configViper.SetDefault(keySubmitsPerMinute, defaultSubmitsPerMinute)
	configViper.SetDefault(keyDailyWindowDays, defaultDailyWindowDays)
	configViper.SetDefault(keyFeedSiteURL, defaultFeedSiteURL)
	configViper.SetDefault(keyFeedTitle, defaultFeedTitle)
	configViper.SetDefault(keyFeedDescription, defaultFeedDescription)
	configViper.SetDefault(keyFeedItems, defaultFeedItems)
	configViper.SetDefault(keyEventsNATSURL, "")
	configViper.SetDefault(keyEventsSubjectPrefix, defaultEventSubjectRoot)
	configViper.SetDefault(keyMetricsEnabled, defaultMetricsEnabled)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:         strings.TrimSpace(configViper.GetString(keyHTTPAddress)),
		DatabasePath:        strings.TrimSpace(configViper.GetString(keyDatabasePath)),
		LogLevel:            configViper.GetString(keyLogLevel),
		LogEncoding:         configViper.GetString(keyLogEncoding),
		AllowedOrigins:      splitOrigins(configViper.GetString(keyAllowedOrigins)),
		VotesPerMinute:      configViper.GetInt(keyVotesPerMinute),
		SubmitsPerMinute:    configViper.GetInt(keySubmitsPerMinute),
		DailyWindowDays:     configViper.GetInt(keyDailyWindowDays),
		FeedSiteURL:         strings.TrimRight(strings.TrimSpace(configViper.GetString(keyFeedSiteURL)), "/"),
		FeedTitle:           configViper.GetString(keyFeedTitle),
		FeedDescription:     configViper.GetString(keyFeedDescription),
		FeedItems:           configViper.GetInt(keyFeedItems),
		EventsNATSURL:       strings.TrimSpace(configViper.GetString(keyEventsNATSURL)),
		EventsSubjectPrefix: strings.TrimSpace(configViper.GetString(keyEventsSubjectPrefix)),
		MetricsEnabled:      configViper.GetBool(keyMetricsEnabled),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if c.HTTPAddress == "" {
		return fmt.Errorf(errFormatRequiredSetting, keyHTTPAddress)
	}
	if c.DatabasePath == "" {
		return fmt.Errorf(errFormatRequiredSetting, keyDatabasePath)
	}
	if len(c.AllowedOrigins) == 0 {
		return fmt.Errorf(errFormatRequiredSetting, keyAllowedOrigins)
	}
	if c.VotesPerMinute <= 0 {
		return fmt.Errorf(errFormatPositiveSetting, keyVotesPerMinute)
	}
	if c.SubmitsPerMinute <= 0 {
		return fmt.Errorf(errFormatPositiveSetting, keySubmitsPerMinute)
	}
	if c.DailyWindowDays <= 0 {
		return fmt.Errorf(errFormatPositiveSetting, keyDailyWindowDays)
	}
	if c.FeedSiteURL == "" {
		return fmt.Errorf(errFormatRequiredSetting, keyFeedSiteURL)
	}
	if c.FeedItems <= 0 {
		return fmt.Errorf(errFormatPositiveSetting, keyFeedItems)
	}
	if c.EventsNATSURL != "" && c.EventsSubjectPrefix == "" {
		return fmt.Errorf(errFormatRequiredSetting, keyEventsSubjectPrefix)
	}
	return nil
}

func splitOrigins(raw string) []string {
	parts := strings.Split(raw, allowedOriginsSeparator)
	origins := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		origins = append(origins, trimmed)
	}
	return origins
}
