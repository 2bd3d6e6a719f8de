package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/murphy/internal/events"
	"github.com/MarcoPoloResearchLab/murphy/internal/laws"
	"github.com/MarcoPoloResearchLab/murphy/internal/serviceerror"
	"github.com/MarcoPoloResearchLab/murphy/internal/votes"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultListLimit    = 25
	maxListLimit        = 25
	defaultRelatedLimit = 5
	maxRelatedLimit     = 10
	rssContentType      = "application/rss+xml; charset=utf-8"
	submissionMessage   = "Law submitted successfully and is pending review"
)

type lawPayload struct {
	ID                 int64                `json:"id"`
	Title              *string              `json:"title"`
	Text               string               `json:"text"`
	Upvotes            int64                `json:"upvotes"`
	Downvotes          int64                `json:"downvotes"`
	Score              int64                `json:"score"`
	CreatedAtSeconds   int64                `json:"created_at_s"`
	LastVotedAtSeconds int64                `json:"last_voted_at_s"`
	Attributions       []attributionPayload `json:"attributions"`
}

type attributionPayload struct {
	Name         string  `json:"name"`
	ContactType  string  `json:"contact_type"`
	ContactValue *string `json:"contact_value"`
	Note         *string `json:"note"`
}

type lawDetailPayload struct {
	lawPayload
	CategoryIDs []int64 `json:"category_ids"`
}

type listResponsePayload struct {
	Data         []lawPayload `json:"data"`
	Total        int64        `json:"total"`
	Limit        int          `json:"limit"`
	Offset       int          `json:"offset"`
	Query        string       `json:"q"`
	CategoryID   *int64       `json:"category_id"`
	CategorySlug string       `json:"category_slug"`
	Attribution  string       `json:"attribution"`
	Sort         string       `json:"sort"`
	Order        string       `json:"order"`
}

type categoryPayload struct {
	ID          int64   `json:"id"`
	Slug        string  `json:"slug"`
	Title       string  `json:"title"`
	Description *string `json:"description"`
	LawCount    *int64  `json:"law_count,omitempty"`
}

type submitRequestPayload struct {
	Title      string `json:"title"`
	Text       string `json:"text"`
	Author     string `json:"author"`
	Email      string `json:"email"`
	CategoryID int64  `json:"category_id"`
}

type voteRequestPayload struct {
	VoteType string `json:"vote_type"`
}

type tallyPayload struct {
	LawID     int64  `json:"law_id"`
	VoteType  string `json:"vote_type,omitempty"`
	Upvotes   int64  `json:"upvotes"`
	Downvotes int64  `json:"downvotes"`
	Score     int64  `json:"score"`
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	if h.health != nil {
		if err := h.health(c.Request.Context()); err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleListLaws(c *gin.Context) {
	limit, ok := intParam(c, "limit", defaultListLimit, 1, maxListLimit, "invalid_limit")
	if !ok {
		return
	}
	offset, ok := intParam(c, "offset", 0, 0, -1, "invalid_offset")
	if !ok {
		return
	}
	var categoryID *int64
	if raw := strings.TrimSpace(c.Query("category_id")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_category_id"})
			return
		}
		categoryID = &parsed
	}

	filters := laws.Filters{
		Query:        strings.TrimSpace(c.Query("q")),
		CategorySlug: strings.TrimSpace(c.Query("category_slug")),
		Attribution:  strings.TrimSpace(c.Query("attribution")),
	}
	if categoryID != nil {
		filters.CategoryID = *categoryID
	}
	sort := laws.ParseSort(c.Query("sort"), c.Query("order"))

	result, err := h.laws.List(c.Request.Context(), laws.Query{
		Filters: filters,
		Sort:    sort,
		Page:    laws.Page{Limit: limit, Offset: offset},
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, listResponsePayload{
		Data:         toLawPayloads(result.Items),
		Total:        result.Total,
		Limit:        limit,
		Offset:       offset,
		Query:        filters.Query,
		CategoryID:   categoryID,
		CategorySlug: filters.CategorySlug,
		Attribution:  filters.Attribution,
		Sort:         string(sort.Key),
		Order:        string(sort.Order),
	})
}

func (h *httpHandler) handleSuggestions(c *gin.Context) {
	term := strings.TrimSpace(c.Query("q"))
	if len([]rune(term)) < laws.MinSuggestionQueryLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query_too_short"})
		return
	}
	limit, ok := intParam(c, "limit", laws.DefaultSuggestionLimit, 1, laws.MaxSuggestionLimit, "invalid_limit")
	if !ok {
		return
	}
	items, err := h.laws.Suggestions(c.Request.Context(), term, limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": toLawPayloads(items)})
}

func (h *httpHandler) handleGetLaw(c *gin.Context) {
	lawID, ok := lawIDParam(c)
	if !ok {
		return
	}
	detail, err := h.laws.Get(c.Request.Context(), lawID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toLawDetailPayload(detail))
}

func (h *httpHandler) handleRelated(c *gin.Context) {
	lawID, ok := lawIDParam(c)
	if !ok {
		return
	}
	limit, ok := intParam(c, "limit", defaultRelatedLimit, 1, maxRelatedLimit, "invalid_limit")
	if !ok {
		return
	}
	items, err := h.laws.Related(c.Request.Context(), lawID, limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": toLawPayloads(items), "law_id": lawID})
}

func (h *httpHandler) handleSubmit(c *gin.Context) {
	var request submitRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	lawID, err := h.laws.Submit(c.Request.Context(), laws.Submission{
		Title:      request.Title,
		Text:       request.Text,
		Author:     request.Author,
		Email:      request.Email,
		CategoryID: request.CategoryID,
	})
	if err != nil {
		if errors.Is(err, laws.ErrInvalidSubmission) || errors.Is(err, laws.ErrCategoryNotFound) {
			h.metrics.RecordSubmission(false)
		}
		h.respondError(c, err)
		return
	}
	h.metrics.RecordSubmission(true)

	event := events.Event{
		Type:              events.TypeLawSubmitted,
		LawID:             lawID,
		OccurredAtSeconds: h.clock().UTC().Unix(),
	}
	if err := h.events.Publish(c.Request.Context(), event); err != nil {
		h.logger.Warn("failed to publish submission event", zap.Int64("law_id", lawID), zap.Error(err))
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":      lawID,
		"status":  string(laws.StatusInReview),
		"message": submissionMessage,
	})
}

func (h *httpHandler) handleCastVote(c *gin.Context) {
	lawID, ok := lawIDParam(c)
	if !ok {
		return
	}
	var request voteRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	voteType, err := votes.ParseType(request.VoteType)
	if err != nil {
		h.respondError(c, err)
		return
	}
	voterID, err := votes.NewVoterID(h.identity(c))
	if err != nil {
		h.respondError(c, err)
		return
	}

	tally, err := h.votes.Cast(c.Request.Context(), lawID, voteType, voterID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.metrics.RecordVote("cast")
	c.JSON(http.StatusOK, tallyPayload{
		LawID:     lawID,
		VoteType:  string(voteType),
		Upvotes:   tally.Upvotes,
		Downvotes: tally.Downvotes,
		Score:     tally.Score(),
	})
}

func (h *httpHandler) handleRetractVote(c *gin.Context) {
	lawID, ok := lawIDParam(c)
	if !ok {
		return
	}
	voterID, err := votes.NewVoterID(h.identity(c))
	if err != nil {
		h.respondError(c, err)
		return
	}

	tally, err := h.votes.Retract(c.Request.Context(), lawID, voterID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.metrics.RecordVote("retract")
	c.JSON(http.StatusOK, tallyPayload{
		LawID:     lawID,
		Upvotes:   tally.Upvotes,
		Downvotes: tally.Downvotes,
		Score:     tally.Score(),
	})
}

func (h *httpHandler) handleLawOfTheDay(c *gin.Context) {
	pick, err := h.daily.Today(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !pick.Found {
		c.JSON(http.StatusNotFound, gin.H{"error": "no_pick_available"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"law":           toLawDetailPayload(pick.Law),
		"featured_date": pick.Date,
	})
}

func (h *httpHandler) handleListCategories(c *gin.Context) {
	categories, err := h.laws.ListCategories(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	data := make([]categoryPayload, 0, len(categories))
	for _, category := range categories {
		lawCount := category.LawCount
		data = append(data, categoryPayload{
			ID:          category.ID,
			Slug:        category.Slug,
			Title:       category.Title,
			Description: category.Description,
			LawCount:    &lawCount,
		})
	}
	c.JSON(http.StatusOK, gin.H{"data": data})
}

func (h *httpHandler) handleGetCategory(c *gin.Context) {
	categoryID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || categoryID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_category_id"})
		return
	}
	category, err := h.laws.GetCategory(c.Request.Context(), categoryID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, categoryPayload{
		ID:          category.ID,
		Slug:        category.Slug,
		Title:       category.Title,
		Description: category.Description,
	})
}

func (h *httpHandler) handleFeed(c *gin.Context) {
	document, err := h.feed.RSS(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Data(http.StatusOK, rssContentType, document)
}

// respondError maps domain errors onto status codes. Anything unrecognised is
// a 500 carrying the service error code when one is present.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, laws.ErrInvalidQuery):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_query"})
	case errors.Is(err, laws.ErrInvalidSubmission):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_submission", "details": err.Error()})
	case errors.Is(err, votes.ErrInvalidVoteType):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_vote_type"})
	case errors.Is(err, votes.ErrInvalidVoterID):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_voter_id"})
	case errors.Is(err, votes.ErrInvalidLawID):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_law_id"})
	case errors.Is(err, laws.ErrLawNotFound), errors.Is(err, votes.ErrLawNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "law_not_found"})
	case errors.Is(err, laws.ErrCategoryNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "category_not_found"})
	default:
		code, _ := serviceerror.CodeOf(err)
		h.logger.Error("request failed",
			zap.String("route", c.FullPath()),
			zap.String("request_id", c.GetString(requestIDContextKey)),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "code": code})
	}
}

// intParam reads an optional integer query parameter and clamps it to
// [minimum, maximum]. A negative maximum leaves the value unbounded above.
func intParam(c *gin.Context, name string, fallback, minimum, maximum int, errorCode string) (int, bool) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return fallback, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorCode})
		return 0, false
	}
	if value < minimum {
		value = minimum
	}
	if maximum >= 0 && value > maximum {
		value = maximum
	}
	return value, true
}

func lawIDParam(c *gin.Context) (int64, bool) {
	lawID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || lawID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_law_id"})
		return 0, false
	}
	return lawID, true
}

func toLawPayload(law laws.LawView) lawPayload {
	attributions := make([]attributionPayload, 0, len(law.Attributions))
	for _, attribution := range law.Attributions {
		attributions = append(attributions, attributionPayload{
			Name:         attribution.Name,
			ContactType:  attribution.ContactType,
			ContactValue: attribution.ContactValue,
			Note:         attribution.Note,
		})
	}
	return lawPayload{
		ID:                 law.ID,
		Title:              law.Title,
		Text:               law.Text,
		Upvotes:            law.Upvotes,
		Downvotes:          law.Downvotes,
		Score:              law.Score,
		CreatedAtSeconds:   law.CreatedAtSeconds,
		LastVotedAtSeconds: law.LastVotedAtSeconds,
		Attributions:       attributions,
	}
}

func toLawPayloads(items []laws.LawView) []lawPayload {
	payloads := make([]lawPayload, 0, len(items))
	for _, item := range items {
		payloads = append(payloads, toLawPayload(item))
	}
	return payloads
}

func toLawDetailPayload(detail laws.LawDetail) lawDetailPayload {
	categoryIDs := detail.CategoryIDs
	if categoryIDs == nil {
		categoryIDs = []int64{}
	}
	return lawDetailPayload{
		lawPayload:  toLawPayload(detail.LawView),
		CategoryIDs: categoryIDs,
	}
}
