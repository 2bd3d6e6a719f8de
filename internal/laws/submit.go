package laws

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/murphy/internal/serviceerror"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Submission is a community proposal for a new law.
type Submission struct {
	Title      string `validate:"max=255"`
	Text       string `validate:"required,min=10,max=1000"`
	Author     string `validate:"max=255"`
	Email      string `validate:"omitempty,email,max=255"`
	CategoryID int64  `validate:"gte=0"`
}

// Submit stores a submission as an in-review law. An attribution is created
// only when an author or email is present, and a category link only when a
// category is named. Returns the id of the new law.
func (s *Service) Submit(ctx context.Context, submission Submission) (int64, error) {
	if err := s.requireDatabase(opSubmit); err != nil {
		return 0, err
	}
	normalized := Submission{
		Title:      s.plainText(submission.Title),
		Text:       s.plainText(submission.Text),
		Author:     s.plainText(submission.Author),
		Email:      strings.TrimSpace(submission.Email),
		CategoryID: submission.CategoryID,
	}
	if err := s.validate.StructCtx(ctx, normalized); err != nil {
		return 0, submissionError(err)
	}

	law := Law{
		Title:             optionalString(normalized.Title),
		Text:              normalized.Text,
		Status:            StatusInReview,
		FirstSeenFilePath: optionalString(SubmissionOrigin),
		CreatedAtSeconds:  s.clock().UTC().Unix(),
	}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if normalized.CategoryID > 0 {
			var count int64
			if err := tx.Model(&Category{}).Where("id = ?", normalized.CategoryID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return fmt.Errorf("%w: %d", ErrCategoryNotFound, normalized.CategoryID)
			}
		}
		if err := tx.Create(&law).Error; err != nil {
			return err
		}
		if normalized.Author != "" || normalized.Email != "" {
			attribution := Attribution{
				LawID:        law.ID,
				Name:         normalized.Author,
				ContactType:  ContactTypeText,
				ContactValue: optionalString(normalized.Email),
			}
			if attribution.Name == "" {
				attribution.Name = AnonymousAuthor
			}
			if normalized.Email != "" {
				attribution.ContactType = ContactTypeEmail
			}
			if err := tx.Create(&attribution).Error; err != nil {
				return err
			}
		}
		if normalized.CategoryID > 0 {
			if err := tx.Create(&LawCategory{LawID: law.ID, CategoryID: normalized.CategoryID}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(txErr, ErrCategoryNotFound) {
		return 0, txErr
	}
	if txErr != nil {
		s.logError(opSubmit, reasonWriteFailed, txErr, zap.Int64(fieldCategoryID, normalized.CategoryID))
		return 0, serviceerror.New(opSubmit, reasonWriteFailed, txErr)
	}
	return law.ID, nil
}

func submissionError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		first := validationErrs[0]
		return fmt.Errorf("%w: %s failed %s", ErrInvalidSubmission, strings.ToLower(first.Field()), first.Tag())
	}
	return fmt.Errorf("%w: %v", ErrInvalidSubmission, err)
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
