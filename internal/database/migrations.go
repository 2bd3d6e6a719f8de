package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/murphy/internal/laws"
	"github.com/MarcoPoloResearchLab/murphy/internal/votes"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationNormalizeVoteTypes = "2026-03-01_normalize_vote_types"
	migrationFoldSearchColumns  = "2026-10-17_fold_search_columns"

	foldBatchSize = 500
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationNormalizeVoteTypes, apply: normalizeVoteTypes},
		{name: migrationFoldSearchColumns, apply: foldSearchColumns},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := db.Transaction(migration.apply); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// normalizeVoteTypes lowercases imported ballots and drops any that are
// neither up nor down, so tallies only ever count the two known types.
func normalizeVoteTypes(db *gorm.DB) error {
	if err := db.Model(&votes.Vote{}).
		Where("vote_type <> LOWER(TRIM(vote_type))").
		Update("vote_type", gorm.Expr("LOWER(TRIM(vote_type))")).Error; err != nil {
		return err
	}
	return db.Where("vote_type NOT IN ?", []votes.Type{votes.TypeUp, votes.TypeDown}).
		Delete(&votes.Vote{}).Error
}

// foldSearchColumns fills the case-folded search columns of rows imported
// before they existed.
func foldSearchColumns(db *gorm.DB) error {
	var lawBatch []laws.Law
	if err := db.Where("text_folded = ''").FindInBatches(&lawBatch, foldBatchSize, func(*gorm.DB, int) error {
		for _, law := range lawBatch {
			folded := map[string]any{"text_folded": laws.Fold(law.Text), "title_folded": ""}
			if law.Title != nil {
				folded["title_folded"] = laws.Fold(*law.Title)
			}
			if err := db.Model(&laws.Law{}).Where("id = ?", law.ID).UpdateColumns(folded).Error; err != nil {
				return err
			}
		}
		return nil
	}).Error; err != nil {
		return err
	}

	var attributionBatch []laws.Attribution
	return db.Where("name_folded = ''").FindInBatches(&attributionBatch, foldBatchSize, func(*gorm.DB, int) error {
		for _, attribution := range attributionBatch {
			if err := db.Model(&laws.Attribution{}).Where("id = ?", attribution.ID).
				UpdateColumn("name_folded", laws.Fold(attribution.Name)).Error; err != nil {
				return err
			}
		}
		return nil
	}).Error
}
