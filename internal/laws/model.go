package laws

import (
	"errors"

	"gorm.io/gorm"
)

// Status enumerates the moderation states of a law.
type Status string

const (
	// StatusInReview marks a submission awaiting moderation.
	StatusInReview Status = "in_review"
	// StatusPublished marks a law visible to retrieval and selection.
	StatusPublished Status = "published"
	// StatusRejected marks a submission turned down by moderation.
	StatusRejected Status = "rejected"
)

const (
	// SubmissionOrigin is stored as the origin file path of web submissions.
	SubmissionOrigin = "web-submission"
	// AnonymousAuthor names attributions submitted with an email but no author.
	AnonymousAuthor = "Anonymous"
	// ContactTypeEmail marks an attribution reachable by email.
	ContactTypeEmail = "email"
	// ContactTypeText marks an attribution with no contact channel.
	ContactTypeText = "text"
)

var (
	// ErrLawNotFound indicates the law does not exist or is not published.
	ErrLawNotFound = errors.New("laws: law not found")
	// ErrCategoryNotFound indicates the category does not exist.
	ErrCategoryNotFound = errors.New("laws: category not found")
	// ErrInvalidQuery indicates malformed filters or pagination.
	ErrInvalidQuery = errors.New("laws: invalid query")
	// ErrInvalidSubmission indicates a submission that failed validation.
	ErrInvalidSubmission = errors.New("laws: invalid submission")
)

// Law is a single archived aphorism.
type Law struct {
	ID                  int64   `gorm:"column:id;primaryKey;autoIncrement"`
	Title               *string `gorm:"column:title;size:255"`
	Text                string  `gorm:"column:text;not null"`
	Status              Status  `gorm:"column:status;size:16;not null;index:idx_laws_status"`
	FirstSeenFilePath   *string `gorm:"column:first_seen_file_path;size:255"`
	FirstSeenLineNumber *int64  `gorm:"column:first_seen_line_number"`
	CreatedAtSeconds    int64   `gorm:"column:created_at_s;not null;index:idx_laws_created_at"`
	TitleFolded         string  `gorm:"column:title_folded;not null;default:''"`
	TextFolded          string  `gorm:"column:text_folded;not null;default:''"`
}

// TableName provides the explicit table binding for GORM.
func (Law) TableName() string {
	return "laws"
}

// BeforeCreate stores the case-folded search columns.
func (l *Law) BeforeCreate(*gorm.DB) error {
	l.TextFolded = Fold(l.Text)
	l.TitleFolded = ""
	if l.Title != nil {
		l.TitleFolded = Fold(*l.Title)
	}
	return nil
}

// Attribution credits the submitter of a law.
type Attribution struct {
	ID           int64   `gorm:"column:id;primaryKey;autoIncrement"`
	LawID        int64   `gorm:"column:law_id;not null;index:idx_attributions_law"`
	Name         string  `gorm:"column:name;size:255;not null"`
	ContactType  string  `gorm:"column:contact_type;size:16;not null"`
	ContactValue *string `gorm:"column:contact_value;size:255"`
	Note         *string `gorm:"column:note"`
	NameFolded   string  `gorm:"column:name_folded;not null;default:''"`
}

// TableName provides the explicit table binding for GORM.
func (Attribution) TableName() string {
	return "attributions"
}

// BeforeCreate stores the case-folded name used by attribution filters.
func (a *Attribution) BeforeCreate(*gorm.DB) error {
	a.NameFolded = Fold(a.Name)
	return nil
}

// Category groups laws by topic.
type Category struct {
	ID          int64   `gorm:"column:id;primaryKey;autoIncrement"`
	Slug        string  `gorm:"column:slug;size:190;not null;uniqueIndex:idx_categories_slug"`
	Title       string  `gorm:"column:title;size:255;not null"`
	Description *string `gorm:"column:description"`
}

// TableName provides the explicit table binding for GORM.
func (Category) TableName() string {
	return "categories"
}

// LawCategory links a law to a category.
type LawCategory struct {
	LawID      int64 `gorm:"column:law_id;primaryKey;autoIncrement:false"`
	CategoryID int64 `gorm:"column:category_id;primaryKey;autoIncrement:false;index:idx_law_categories_category"`
}

// TableName provides the explicit table binding for GORM.
func (LawCategory) TableName() string {
	return "law_categories"
}

// LawView is a published law together with its live vote aggregates.
type LawView struct {
	ID                 int64   `gorm:"column:id"`
	Title              *string `gorm:"column:title"`
	Text               string  `gorm:"column:text"`
	CreatedAtSeconds   int64   `gorm:"column:created_at_s"`
	Upvotes            int64   `gorm:"column:upvotes"`
	Downvotes          int64   `gorm:"column:downvotes"`
	Score              int64   `gorm:"column:score"`
	LastVotedAtSeconds int64   `gorm:"column:last_voted_at_s"`
	// Attributions are loaded after the aggregate query.
	Attributions []Attribution `gorm:"-"`
}

// LawDetail extends LawView with category links.
type LawDetail struct {
	LawView
	CategoryIDs []int64
}

// ListResult is one page of laws plus the count of all matching laws.
type ListResult struct {
	Items []LawView
	Total int64
}

// CategorySummary is a category with the number of published laws it holds.
type CategorySummary struct {
	ID          int64   `gorm:"column:id"`
	Slug        string  `gorm:"column:slug"`
	Title       string  `gorm:"column:title"`
	Description *string `gorm:"column:description"`
	LawCount    int64   `gorm:"column:law_count"`
}
