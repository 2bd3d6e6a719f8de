package laws

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/murphy/internal/serviceerror"
	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opServiceNew      = "laws.service.new"
	opList            = "laws.list"
	opGet             = "laws.get"
	opRelated         = "laws.related"
	opTopVoted        = "laws.top_voted"
	opSuggestions     = "laws.suggestions"
	opSubmit          = "laws.submit"
	opIsPublished     = "laws.is_published"
	opListCategories  = "laws.list_categories"
	opGetCategory     = "laws.get_category"
	reasonMissingDB   = "missing_database"
	reasonCountFailed = "count_failed"
	reasonQueryFailed = "query_failed"
	reasonLoadFailed  = "load_failed"
	reasonWriteFailed = "write_failed"
	fieldLawID        = "law_id"
	fieldCategoryID   = "category_id"

	// DefaultRelatedLimit is used when Related is called without a positive limit.
	DefaultRelatedLimit = 5
	// DefaultSuggestionLimit is used when Suggestions is called without a positive limit.
	DefaultSuggestionLimit = 10
	// MaxSuggestionLimit caps the number of suggestions.
	MaxSuggestionLimit = 20
	// MinSuggestionQueryLength is the shortest query that yields suggestions.
	MinSuggestionQueryLength = 2

	relatedOrder   = "score DESC, upvotes DESC, l.id DESC"
	topVotedOrder  = "upvotes DESC, l.text ASC, l.id ASC"
	statusQuery    = "id = ? AND status = ?"
	lawIDQuery     = "law_id = ?"
	categoryColumn = "category_id"

	maxSanitizePasses = 4

	suggestionOrder = "CASE WHEN l.text_folded LIKE ? " + likeEscape + " THEN 0 ELSE 1 END, score DESC, l.id DESC"

	categorySummaryQuery = "SELECT c.id AS id, c.slug AS slug, c.title AS title, c.description AS description, " +
		"(SELECT COUNT(*) FROM law_categories lc JOIN laws l ON l.id = lc.law_id " +
		"WHERE lc.category_id = c.id AND l.status = ?) AS law_count " +
		"FROM categories c ORDER BY c.title ASC, c.id ASC"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// ServiceConfig describes the dependencies of the law archive service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service answers ranked, filtered queries over published laws and accepts submissions.
type Service struct {
	db        *gorm.DB
	clock     func() time.Time
	logger    *zap.Logger
	sanitizer *bluemonday.Policy
	validate  *validator.Validate
}

// NewService constructs the law archive service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, serviceerror.New(opServiceNew, reasonMissingDB, errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:        cfg.Database,
		clock:     clock,
		logger:    logger,
		sanitizer: bluemonday.StrictPolicy(),
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}, nil
}

// List returns one page of published laws matching the query, plus the total
// number of matches ignoring pagination.
func (s *Service) List(ctx context.Context, query Query) (ListResult, error) {
	if err := query.validate(); err != nil {
		return ListResult{}, err
	}
	if err := s.requireDatabase(opList); err != nil {
		return ListResult{}, err
	}
	predicates := query.Filters.Predicates()

	var total int64
	if err := countLaws(s.db.WithContext(ctx), predicates).Count(&total).Error; err != nil {
		s.logError(opList, reasonCountFailed, err)
		return ListResult{}, serviceerror.New(opList, reasonCountFailed, err)
	}

	tx := selectLaws(s.db.WithContext(ctx), predicates).Order(query.Sort.OrderClause())
	if query.Page.Limit > 0 {
		tx = tx.Limit(query.Page.Limit)
	}
	if query.Page.Offset > 0 {
		tx = tx.Offset(query.Page.Offset)
	}
	items := make([]LawView, 0)
	if err := tx.Scan(&items).Error; err != nil {
		s.logError(opList, reasonQueryFailed, err)
		return ListResult{}, serviceerror.New(opList, reasonQueryFailed, err)
	}
	if err := s.attachAttributions(ctx, opList, items); err != nil {
		return ListResult{}, err
	}
	return ListResult{Items: items, Total: total}, nil
}

// Get returns a published law with its attributions and category ids.
func (s *Service) Get(ctx context.Context, lawID int64) (LawDetail, error) {
	if err := s.requireDatabase(opGet); err != nil {
		return LawDetail{}, err
	}
	view, found, err := s.first(ctx, opGet, []Predicate{hasID{id: lawID}}, relatedOrder)
	if err != nil {
		return LawDetail{}, err
	}
	if !found {
		return LawDetail{}, fmt.Errorf("%w: %d", ErrLawNotFound, lawID)
	}

	views := []LawView{view}
	if err := s.attachAttributions(ctx, opGet, views); err != nil {
		return LawDetail{}, err
	}
	detail := LawDetail{LawView: views[0], CategoryIDs: make([]int64, 0)}
	if err := s.db.WithContext(ctx).
		Model(&LawCategory{}).
		Where(lawIDQuery, lawID).
		Order(categoryColumn+" ASC").
		Pluck(categoryColumn, &detail.CategoryIDs).Error; err != nil {
		s.logError(opGet, reasonLoadFailed, err, zap.Int64(fieldLawID, lawID))
		return LawDetail{}, serviceerror.New(opGet, reasonLoadFailed, err)
	}
	return detail, nil
}

// Related returns published laws sharing at least one category with lawID,
// excluding lawID itself, best scored first.
func (s *Service) Related(ctx context.Context, lawID int64, limit int) ([]LawView, error) {
	if err := s.requireDatabase(opRelated); err != nil {
		return nil, err
	}
	published, err := s.IsPublished(ctx, lawID)
	if err != nil {
		return nil, err
	}
	if !published {
		return nil, fmt.Errorf("%w: %d", ErrLawNotFound, lawID)
	}
	if limit <= 0 {
		limit = DefaultRelatedLimit
	}

	items := make([]LawView, 0, limit)
	if err := selectLaws(s.db.WithContext(ctx), []Predicate{sharesCategoryWith{lawID: lawID}}).
		Order(relatedOrder).
		Limit(limit).
		Scan(&items).Error; err != nil {
		s.logError(opRelated, reasonQueryFailed, err, zap.Int64(fieldLawID, lawID))
		return nil, serviceerror.New(opRelated, reasonQueryFailed, err)
	}
	if err := s.attachAttributions(ctx, opRelated, items); err != nil {
		return nil, err
	}
	return items, nil
}

// TopVoted returns the published law with the most upvotes among those
// matching predicates. Ties are broken by text, then id, so the result is a
// function of content alone.
func (s *Service) TopVoted(ctx context.Context, predicates ...Predicate) (LawView, bool, error) {
	if err := s.requireDatabase(opTopVoted); err != nil {
		return LawView{}, false, err
	}
	return s.first(ctx, opTopVoted, predicates, topVotedOrder)
}

// Suggestions returns published laws whose text or title contains term, text
// matches first. Terms shorter than MinSuggestionQueryLength yield nothing.
func (s *Service) Suggestions(ctx context.Context, term string, limit int) ([]LawView, error) {
	if err := s.requireDatabase(opSuggestions); err != nil {
		return nil, err
	}
	term = strings.TrimSpace(term)
	if len([]rune(term)) < MinSuggestionQueryLength {
		return []LawView{}, nil
	}
	if limit <= 0 {
		limit = DefaultSuggestionLimit
	}
	if limit > MaxSuggestionLimit {
		limit = MaxSuggestionLimit
	}

	items := make([]LawView, 0, limit)
	if err := selectLaws(s.db.WithContext(ctx), []Predicate{TextContains{Term: term}}).
		Order(clause.OrderBy{Expression: clause.Expr{SQL: suggestionOrder, Vars: []any{containsPattern(term)}}}).
		Limit(limit).
		Scan(&items).Error; err != nil {
		s.logError(opSuggestions, reasonQueryFailed, err)
		return nil, serviceerror.New(opSuggestions, reasonQueryFailed, err)
	}
	if err := s.attachAttributions(ctx, opSuggestions, items); err != nil {
		return nil, err
	}
	return items, nil
}

// IsPublished reports whether lawID names a published law.
func (s *Service) IsPublished(ctx context.Context, lawID int64) (bool, error) {
	if err := s.requireDatabase(opIsPublished); err != nil {
		return false, err
	}
	if lawID <= 0 {
		return false, nil
	}
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&Law{}).
		Where(statusQuery, lawID, StatusPublished).
		Count(&count).Error; err != nil {
		s.logError(opIsPublished, reasonCountFailed, err, zap.Int64(fieldLawID, lawID))
		return false, serviceerror.New(opIsPublished, reasonCountFailed, err)
	}
	return count > 0, nil
}

// ListCategories returns every category ordered by title with its published law count.
func (s *Service) ListCategories(ctx context.Context) ([]CategorySummary, error) {
	if err := s.requireDatabase(opListCategories); err != nil {
		return nil, err
	}
	categories := make([]CategorySummary, 0)
	if err := s.db.WithContext(ctx).Raw(categorySummaryQuery, StatusPublished).Scan(&categories).Error; err != nil {
		s.logError(opListCategories, reasonQueryFailed, err)
		return nil, serviceerror.New(opListCategories, reasonQueryFailed, err)
	}
	return categories, nil
}

// GetCategory returns a single category.
func (s *Service) GetCategory(ctx context.Context, categoryID int64) (Category, error) {
	if err := s.requireDatabase(opGetCategory); err != nil {
		return Category{}, err
	}
	var category Category
	err := s.db.WithContext(ctx).Where("id = ?", categoryID).Take(&category).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Category{}, fmt.Errorf("%w: %d", ErrCategoryNotFound, categoryID)
	}
	if err != nil {
		s.logError(opGetCategory, reasonQueryFailed, err, zap.Int64(fieldCategoryID, categoryID))
		return Category{}, serviceerror.New(opGetCategory, reasonQueryFailed, err)
	}
	return category, nil
}

func (s *Service) first(ctx context.Context, operation string, predicates []Predicate, order string) (LawView, bool, error) {
	rows := make([]LawView, 0, 1)
	if err := selectLaws(s.db.WithContext(ctx), predicates).
		Order(order).
		Limit(1).
		Scan(&rows).Error; err != nil {
		s.logError(operation, reasonQueryFailed, err)
		return LawView{}, false, serviceerror.New(operation, reasonQueryFailed, err)
	}
	if len(rows) == 0 {
		return LawView{}, false, nil
	}
	return rows[0], true, nil
}

func (s *Service) requireDatabase(operation string) error {
	if s.db != nil {
		return nil
	}
	s.logError(operation, reasonMissingDB, errMissingDatabase)
	return serviceerror.New(operation, reasonMissingDB, errMissingDatabase)
}

// attachAttributions loads the attributions of every item in one query, in
// insertion order. Items without attributions get an empty slice.
func (s *Service) attachAttributions(ctx context.Context, operation string, items []LawView) error {
	if len(items) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	var attributions []Attribution
	if err := s.db.WithContext(ctx).
		Where("law_id IN ?", ids).
		Order("law_id ASC, id ASC").
		Find(&attributions).Error; err != nil {
		s.logError(operation, reasonLoadFailed, err)
		return serviceerror.New(operation, reasonLoadFailed, err)
	}
	byLaw := make(map[int64][]Attribution, len(items))
	for _, attribution := range attributions {
		byLaw[attribution.LawID] = append(byLaw[attribution.LawID], attribution)
	}
	for index := range items {
		items[index].Attributions = byLaw[items[index].ID]
		if items[index].Attributions == nil {
			items[index].Attributions = make([]Attribution, 0)
		}
	}
	return nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	logger := noOpLogger
	if s != nil && s.logger != nil {
		logger = s.logger
	}
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	logger.Error("laws service error", attrs...)
}

// plainText strips markup and decodes entities. Decoding can surface markup
// that was escaped in the input, so the pair repeats until the text is stable.
func (s *Service) plainText(raw string) string {
	text := raw
	for pass := 0; pass < maxSanitizePasses; pass++ {
		next := html.UnescapeString(s.sanitizer.Sanitize(text))
		if next == text {
			return strings.TrimSpace(text)
		}
		text = next
	}
	return strings.TrimSpace(s.sanitizer.Sanitize(text))
}
