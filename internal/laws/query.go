package laws

import (
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/murphy/internal/votes"
	"gorm.io/gorm"
)

const (
	lawsTableAlias = "laws AS l"

	lawSelectColumns = "l.id AS id, l.title AS title, l.text AS text, l.created_at_s AS created_at_s, " +
		"COALESCE(v.up_count, 0) AS upvotes, " +
		"COALESCE(v.down_count, 0) AS downvotes, " +
		"COALESCE(v.up_count, 0) - COALESCE(v.down_count, 0) AS score, " +
		"COALESCE(v.last_vote_s, l.created_at_s) AS last_voted_at_s"

	voteAggregateJoin = "LEFT JOIN (SELECT law_id, " +
		"SUM(CASE WHEN vote_type = ? THEN 1 ELSE 0 END) AS up_count, " +
		"SUM(CASE WHEN vote_type = ? THEN 1 ELSE 0 END) AS down_count, " +
		"MAX(created_at_s) AS last_vote_s " +
		"FROM votes GROUP BY law_id) v ON v.law_id = l.id"

	likeEscape = `ESCAPE '\'`

	textContainsCondition = "(l.text_folded LIKE ? " + likeEscape +
		" OR l.title_folded LIKE ? " + likeEscape + ")"
	inCategoryCondition = "EXISTS (SELECT 1 FROM law_categories lc " +
		"WHERE lc.law_id = l.id AND lc.category_id = ?)"
	inCategorySlugCondition = "EXISTS (SELECT 1 FROM law_categories lc " +
		"JOIN categories c ON c.id = lc.category_id " +
		"WHERE lc.law_id = l.id AND c.slug = ?)"
	attributedToCondition = "EXISTS (SELECT 1 FROM attributions a " +
		"WHERE a.law_id = l.id AND a.name_folded LIKE ? " + likeEscape + ")"
	sharesCategoryCondition = "l.id <> ? AND EXISTS (SELECT 1 FROM law_categories mine " +
		"JOIN law_categories theirs ON theirs.category_id = mine.category_id " +
		"WHERE mine.law_id = ? AND theirs.law_id = l.id)"
)

// Predicate is one optional condition over the aliased laws table "l".
type Predicate interface {
	Condition() (string, []any)
}

// TextContains matches laws whose title or text contains Term, ignoring case.
type TextContains struct {
	Term string
}

// Condition implements Predicate.
func (p TextContains) Condition() (string, []any) {
	pattern := containsPattern(p.Term)
	return textContainsCondition, []any{pattern, pattern}
}

// InCategory matches laws linked to the category with the given id.
type InCategory struct {
	ID int64
}

// Condition implements Predicate.
func (p InCategory) Condition() (string, []any) {
	return inCategoryCondition, []any{p.ID}
}

// InCategorySlug matches laws linked to the category with the given slug.
type InCategorySlug struct {
	Slug string
}

// Condition implements Predicate.
func (p InCategorySlug) Condition() (string, []any) {
	return inCategorySlugCondition, []any{p.Slug}
}

// AttributedTo matches laws with an attribution whose name contains Name, ignoring case.
type AttributedTo struct {
	Name string
}

// Condition implements Predicate.
func (p AttributedTo) Condition() (string, []any) {
	return attributedToCondition, []any{containsPattern(p.Name)}
}

type publishedOnly struct{}

func (publishedOnly) Condition() (string, []any) {
	return "l.status = ?", []any{StatusPublished}
}

type sharesCategoryWith struct {
	lawID int64
}

func (p sharesCategoryWith) Condition() (string, []any) {
	return sharesCategoryCondition, []any{p.lawID, p.lawID}
}

type hasID struct {
	id int64
}

func (p hasID) Condition() (string, []any) {
	return "l.id = ?", []any{p.id}
}

// Filters are the optional list constraints. Zero values add no constraint.
type Filters struct {
	Query        string
	CategoryID   int64
	CategorySlug string
	Attribution  string
}

// Predicates converts the populated filters into predicates.
func (f Filters) Predicates() []Predicate {
	predicates := make([]Predicate, 0, 4)
	if term := strings.TrimSpace(f.Query); term != "" {
		predicates = append(predicates, TextContains{Term: term})
	}
	if f.CategoryID > 0 {
		predicates = append(predicates, InCategory{ID: f.CategoryID})
	}
	if slug := strings.TrimSpace(f.CategorySlug); slug != "" {
		predicates = append(predicates, InCategorySlug{Slug: slug})
	}
	if name := strings.TrimSpace(f.Attribution); name != "" {
		predicates = append(predicates, AttributedTo{Name: name})
	}
	return predicates
}

// SortKey names a ranking strategy.
type SortKey string

const (
	SortScore       SortKey = "score"
	SortUpvotes     SortKey = "upvotes"
	SortCreatedAt   SortKey = "created_at"
	SortLastVotedAt SortKey = "last_voted_at"
)

// SortOrder is the direction of the primary sort key.
type SortOrder string

const (
	OrderAsc  SortOrder = "asc"
	OrderDesc SortOrder = "desc"
)

// Sort pairs a key with a direction.
type Sort struct {
	Key   SortKey
	Order SortOrder
}

// ParseSort normalizes raw input. Unknown keys fall back to score and unknown
// orders to desc.
func ParseSort(rawKey, rawOrder string) Sort {
	sort := Sort{Key: SortScore, Order: OrderDesc}
	switch key := SortKey(strings.ToLower(strings.TrimSpace(rawKey))); key {
	case SortScore, SortUpvotes, SortCreatedAt, SortLastVotedAt:
		sort.Key = key
	}
	if order := SortOrder(strings.ToLower(strings.TrimSpace(rawOrder))); order == OrderAsc {
		sort.Order = OrderAsc
	}
	return sort
}

// OrderClause renders the ORDER BY list. The law id is always the final
// tie-break so page boundaries are stable.
func (s Sort) OrderClause() string {
	normalized := ParseSort(string(s.Key), string(s.Order))
	direction := "DESC"
	if normalized.Order == OrderAsc {
		direction = "ASC"
	}
	switch normalized.Key {
	case SortUpvotes:
		return fmt.Sprintf("upvotes %s, l.id DESC", direction)
	case SortCreatedAt:
		return fmt.Sprintf("l.created_at_s %s, l.id DESC", direction)
	case SortLastVotedAt:
		return fmt.Sprintf("last_voted_at_s %s, l.id DESC", direction)
	default:
		return fmt.Sprintf("score %s, upvotes DESC, l.text ASC, l.id DESC", direction)
	}
}

// Page bounds a list. A zero Limit returns every remaining row.
type Page struct {
	Limit  int
	Offset int
}

// Query is a complete list request.
type Query struct {
	Filters Filters
	Sort    Sort
	Page    Page
}

func (q Query) validate() error {
	if q.Page.Limit < 0 {
		return fmt.Errorf("%w: negative limit %d", ErrInvalidQuery, q.Page.Limit)
	}
	if q.Page.Offset < 0 {
		return fmt.Errorf("%w: negative offset %d", ErrInvalidQuery, q.Page.Offset)
	}
	if q.Filters.CategoryID < 0 {
		return fmt.Errorf("%w: negative category id %d", ErrInvalidQuery, q.Filters.CategoryID)
	}
	return nil
}

// withPublished prepends the published-status predicate that every read path carries.
func withPublished(predicates []Predicate) []Predicate {
	all := make([]Predicate, 0, len(predicates)+1)
	all = append(all, publishedOnly{})
	return append(all, predicates...)
}

func applyPredicates(tx *gorm.DB, predicates []Predicate) *gorm.DB {
	for _, predicate := range predicates {
		condition, args := predicate.Condition()
		tx = tx.Where(condition, args...)
	}
	return tx
}

func selectLaws(db *gorm.DB, predicates []Predicate) *gorm.DB {
	tx := db.Table(lawsTableAlias).
		Select(lawSelectColumns).
		Joins(voteAggregateJoin, votes.TypeUp, votes.TypeDown)
	return applyPredicates(tx, withPublished(predicates))
}

func countLaws(db *gorm.DB, predicates []Predicate) *gorm.DB {
	return applyPredicates(db.Table(lawsTableAlias), withPublished(predicates))
}

func containsPattern(term string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + replacer.Replace(Fold(term)) + "%"
}
