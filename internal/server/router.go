package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/murphy/internal/daily"
	"github.com/MarcoPoloResearchLab/murphy/internal/events"
	"github.com/MarcoPoloResearchLab/murphy/internal/laws"
	"github.com/MarcoPoloResearchLab/murphy/internal/metrics"
	"github.com/MarcoPoloResearchLab/murphy/internal/votes"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	requestIDHeader     = "X-Request-ID"
	requestIDContextKey = "murphy_request_id"
	wildcardOrigin      = "*"
	unmatchedRoute      = "unmatched"
)

var (
	errMissingLawService   = errors.New("law service dependency required")
	errMissingVoteService  = errors.New("vote service dependency required")
	errMissingDailyPicker  = errors.New("daily picker dependency required")
	errMissingFeedRenderer = errors.New("feed renderer dependency required")
)

// LawService is the law archive surface used by the HTTP layer.
type LawService interface {
	List(ctx context.Context, query laws.Query) (laws.ListResult, error)
	Get(ctx context.Context, lawID int64) (laws.LawDetail, error)
	Related(ctx context.Context, lawID int64, limit int) ([]laws.LawView, error)
	Suggestions(ctx context.Context, term string, limit int) ([]laws.LawView, error)
	Submit(ctx context.Context, submission laws.Submission) (int64, error)
	ListCategories(ctx context.Context) ([]laws.CategorySummary, error)
	GetCategory(ctx context.Context, categoryID int64) (laws.Category, error)
}

// VoteService is the vote ledger surface used by the HTTP layer.
type VoteService interface {
	Cast(ctx context.Context, lawID int64, voteType votes.Type, voterID votes.VoterID) (votes.Tally, error)
	Retract(ctx context.Context, lawID int64, voterID votes.VoterID) (votes.Tally, error)
}

// DailyPicker resolves the law of the day.
type DailyPicker interface {
	Today(ctx context.Context) (daily.Pick, error)
}

// FeedRenderer renders the RSS document.
type FeedRenderer interface {
	RSS(ctx context.Context) ([]byte, error)
}

// RequestLimiter decides whether the caller identified by key may proceed.
type RequestLimiter interface {
	Allow(bucket Bucket, key string) (bool, time.Duration)
}

// Dependencies wires the HTTP handler to the archive services.
type Dependencies struct {
	Laws           LawService
	Votes          VoteService
	Daily          DailyPicker
	Feed           FeedRenderer
	Events         events.Publisher
	Metrics        metrics.Recorder
	MetricsHandler http.Handler
	RateLimiter    RequestLimiter
	// VoterIdentity derives the opaque voter id from a request. Defaults to
	// the client IP.
	VoterIdentity  func(c *gin.Context) string
	AllowedOrigins []string
	Health         func(ctx context.Context) error
	Clock          func() time.Time
	Logger         *zap.Logger
}

// NewHTTPHandler builds the gin engine serving the archive API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Laws == nil {
		return nil, errMissingLawService
	}
	if deps.Votes == nil {
		return nil, errMissingVoteService
	}
	if deps.Daily == nil {
		return nil, errMissingDailyPicker
	}
	if deps.Feed == nil {
		return nil, errMissingFeedRenderer
	}

	handler := &httpHandler{
		laws:     deps.Laws,
		votes:    deps.Votes,
		daily:    deps.Daily,
		feed:     deps.Feed,
		events:   deps.Events,
		metrics:  deps.Metrics,
		limiter:  deps.RateLimiter,
		identity: deps.VoterIdentity,
		health:   deps.Health,
		clock:    deps.Clock,
		logger:   deps.Logger,
	}
	if handler.events == nil {
		handler.events = events.Nop{}
	}
	if handler.metrics == nil {
		handler.metrics = metrics.Nop{}
	}
	if handler.identity == nil {
		handler.identity = func(c *gin.Context) string { return c.ClientIP() }
	}
	if handler.clock == nil {
		handler.clock = time.Now
	}
	if handler.logger == nil {
		handler.logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(handler.accessLog)
	router.Use(corsMiddleware(deps.AllowedOrigins))

	api := router.Group("/api")
	api.GET("/health", handler.handleHealth)
	api.GET("/laws", handler.handleListLaws)
	api.GET("/laws/suggestions", handler.handleSuggestions)
	api.GET("/laws/:id", handler.handleGetLaw)
	api.GET("/laws/:id/related", handler.handleRelated)
	api.POST("/laws", handler.rateLimit(BucketSubmit), handler.handleSubmit)
	api.POST("/laws/:id/vote", handler.rateLimit(BucketVote), handler.handleCastVote)
	api.DELETE("/laws/:id/vote", handler.rateLimit(BucketVote), handler.handleRetractVote)
	api.GET("/law-of-the-day", handler.handleLawOfTheDay)
	api.GET("/categories", handler.handleListCategories)
	api.GET("/categories/:id", handler.handleGetCategory)
	api.GET("/feed.rss", handler.handleFeed)

	if deps.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(deps.MetricsHandler))
	}

	return router, nil
}

type httpHandler struct {
	laws     LawService
	votes    VoteService
	daily    DailyPicker
	feed     FeedRenderer
	events   events.Publisher
	metrics  metrics.Recorder
	limiter  RequestLimiter
	identity func(c *gin.Context) string
	health   func(ctx context.Context) error
	clock    func() time.Time
	logger   *zap.Logger
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Content-Type", requestIDHeader},
		ExposeHeaders: []string{requestIDHeader, "Retry-After"},
		MaxAge:        12 * time.Hour,
	}
	explicit := make([]string, 0, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin == wildcardOrigin {
			config.AllowAllOrigins = true
			explicit = nil
			break
		}
		explicit = append(explicit, origin)
	}
	if len(explicit) == 0 {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = explicit
	}
	return cors.New(config)
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			generated, err := uuid.NewV7()
			if err != nil {
				generated = uuid.New()
			}
			requestID = generated.String()
		}
		c.Set(requestIDContextKey, requestID)
		c.Header(requestIDHeader, requestID)
		c.Next()
	}
}

func (h *httpHandler) accessLog(c *gin.Context) {
	started := time.Now()
	c.Next()

	latency := time.Since(started)
	route := c.FullPath()
	if route == "" {
		route = unmatchedRoute
	}
	status := c.Writer.Status()
	h.metrics.RecordRequest(route, status, latency)
	h.logger.Info("http request",
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Int("status", status),
		zap.Duration("latency", latency),
		zap.String("request_id", c.GetString(requestIDContextKey)))
}
