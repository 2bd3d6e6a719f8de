package daily

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/murphy/internal/serviceerror"
	"gorm.io/gorm"
)

// DateLayout is the calendar-date format stored in the history ledger.
const DateLayout = "2006-01-02"

const (
	opRecord          = "daily.history.record"
	opLookup          = "daily.history.lookup"
	opIsExcluded      = "daily.history.is_excluded"
	reasonInsert      = "insert_failed"
	reasonQuery       = "query_failed"
	uniqueViolationID = "UNIQUE constraint failed"
)

var (
	// ErrDuplicateSelection indicates a selection already exists for the date.
	ErrDuplicateSelection = errors.New("daily: selection already recorded for date")
	// ErrInvalidDate indicates a date that is not in DateLayout.
	ErrInvalidDate = errors.New("daily: invalid date")
)

// Selection records the law featured on one calendar day.
type Selection struct {
	FeaturedDate     string `gorm:"column:featured_date;primaryKey;size:10"`
	LawID            int64  `gorm:"column:law_id;not null;index:idx_law_of_the_day_law"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Selection) TableName() string {
	return "law_of_the_day_history"
}

// History is the append-only selection ledger. Rows are never updated or
// deleted; the primary key on the date is the only guard against two picks
// for the same day.
type History struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewHistory constructs a History over db.
func NewHistory(db *gorm.DB, clock func() time.Time) *History {
	if clock == nil {
		clock = time.Now
	}
	return &History{db: db, clock: clock}
}

// Record inserts the pick for date. It fails with ErrDuplicateSelection when
// the date already has a pick.
func (h *History) Record(ctx context.Context, lawID int64, date string) error {
	if _, err := parseDate(date); err != nil {
		return err
	}
	selection := Selection{FeaturedDate: date, LawID: lawID, CreatedAtSeconds: h.clock().UTC().Unix()}
	err := h.db.WithContext(ctx).Create(&selection).Error
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrDuplicateSelection, date)
	}
	return serviceerror.New(opRecord, reasonInsert, err)
}

// Lookup returns the law recorded for date, if any.
func (h *History) Lookup(ctx context.Context, date string) (int64, bool, error) {
	if _, err := parseDate(date); err != nil {
		return 0, false, err
	}
	var selection Selection
	err := h.db.WithContext(ctx).Where("featured_date = ?", date).Take(&selection).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, serviceerror.New(opLookup, reasonQuery, err)
	}
	return selection.LawID, true, nil
}

// IsExcluded reports whether lawID was featured on any date after windowStart.
func (h *History) IsExcluded(ctx context.Context, lawID int64, windowStart string) (bool, error) {
	if _, err := parseDate(windowStart); err != nil {
		return false, err
	}
	var count int64
	if err := h.db.WithContext(ctx).
		Model(&Selection{}).
		Where("law_id = ? AND featured_date > ?", lawID, windowStart).
		Count(&count).Error; err != nil {
		return false, serviceerror.New(opIsExcluded, reasonQuery, err)
	}
	return count > 0, nil
}

// notFeaturedSince excludes laws featured after windowStart. It is the
// set-based form of IsExcluded used inside candidate queries.
type notFeaturedSince struct {
	windowStart string
}

func (p notFeaturedSince) Condition() (string, []any) {
	return "NOT EXISTS (SELECT 1 FROM law_of_the_day_history h " +
		"WHERE h.law_id = l.id AND h.featured_date > ?)", []any{p.windowStart}
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), uniqueViolationID)
}

func parseDate(value string) (time.Time, error) {
	parsed, err := time.Parse(DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, value)
	}
	return parsed, nil
}

// FormatDate renders the UTC calendar date of t.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}
