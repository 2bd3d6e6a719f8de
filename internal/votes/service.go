package votes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/murphy/internal/serviceerror"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opServiceNew       = "votes.service.new"
	opCast             = "votes.cast"
	opRetract          = "votes.retract"
	opAggregate        = "votes.aggregate"
	fieldLawID         = "law_id"
	fieldVoteType      = "vote_type"
	columnLawID        = "law_id"
	columnVoterID      = "voter_identifier"
	columnVoteType     = "vote_type"
	columnCreatedAt    = "created_at_s"
	queryLawVoter      = columnLawID + " = ? AND " + columnVoterID + " = ?"
	reasonMissingDB    = "missing_database"
	reasonLawLookup    = "law_lookup_failed"
	reasonUpsertFailed = "upsert_failed"
	reasonDeleteFailed = "delete_failed"
	reasonTallyFailed  = "tally_failed"
	tallyQuery         = "SELECT " +
		"COALESCE(SUM(CASE WHEN vote_type = ? THEN 1 ELSE 0 END), 0) AS upvotes, " +
		"COALESCE(SUM(CASE WHEN vote_type = ? THEN 1 ELSE 0 END), 0) AS downvotes " +
		"FROM votes WHERE law_id = ?"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// LawChecker reports whether a law is visible to voters.
type LawChecker interface {
	IsPublished(ctx context.Context, lawID int64) (bool, error)
}

// ServiceConfig describes the dependencies of the vote ledger.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Laws     LawChecker
	Logger   *zap.Logger
}

// Service stores one ballot per (law, voter) pair and derives tallies on read.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	laws   LawChecker
	logger *zap.Logger
}

// NewService constructs the vote ledger.
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
		db:     cfg.Database,
		clock:  clock,
		laws:   cfg.Laws,
		logger: logger,
	}, nil
}

// Cast records the voter's ballot for a law. A repeated ballot of the same type
// only refreshes its timestamp; a ballot of the other type replaces it. The
// state transition happens inside a single upsert keyed by (law, voter).
func (s *Service) Cast(ctx context.Context, lawID int64, voteType Type, voterID VoterID) (Tally, error) {
	parsedType, err := ParseType(string(voteType))
	if err != nil {
		return Tally{}, err
	}
	if err := s.checkTarget(ctx, opCast, lawID, voterID); err != nil {
		return Tally{}, err
	}

	ballot := Vote{
		LawID:            lawID,
		VoterID:          voterID.String(),
		VoteType:         parsedType,
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	upsert := clause.OnConflict{
		Columns:   []clause.Column{{Name: columnLawID}, {Name: columnVoterID}},
		DoUpdates: clause.AssignmentColumns([]string{columnVoteType, columnCreatedAt}),
	}
	if err := s.db.WithContext(ctx).Clauses(upsert).Create(&ballot).Error; err != nil {
		s.logError(opCast, reasonUpsertFailed, err,
			zap.Int64(fieldLawID, lawID),
			zap.String(fieldVoteType, string(parsedType)))
		return Tally{}, serviceerror.New(opCast, reasonUpsertFailed, err)
	}

	return s.tally(ctx, opCast, lawID)
}

// Retract removes the voter's ballot for a law. Retracting a ballot that does
// not exist is not an error.
func (s *Service) Retract(ctx context.Context, lawID int64, voterID VoterID) (Tally, error) {
	if err := s.checkTarget(ctx, opRetract, lawID, voterID); err != nil {
		return Tally{}, err
	}

	if err := s.db.WithContext(ctx).
		Where(queryLawVoter, lawID, voterID.String()).
		Delete(&Vote{}).Error; err != nil {
		s.logError(opRetract, reasonDeleteFailed, err, zap.Int64(fieldLawID, lawID))
		return Tally{}, serviceerror.New(opRetract, reasonDeleteFailed, err)
	}

	return s.tally(ctx, opRetract, lawID)
}

// Aggregate returns the live tally for a law.
func (s *Service) Aggregate(ctx context.Context, lawID int64) (Tally, error) {
	if s.db == nil {
		s.logError(opAggregate, reasonMissingDB, errMissingDatabase)
		return Tally{}, serviceerror.New(opAggregate, reasonMissingDB, errMissingDatabase)
	}
	return s.tally(ctx, opAggregate, lawID)
}

func (s *Service) checkTarget(ctx context.Context, operation string, lawID int64, voterID VoterID) error {
	if s.db == nil {
		s.logError(operation, reasonMissingDB, errMissingDatabase)
		return serviceerror.New(operation, reasonMissingDB, errMissingDatabase)
	}
	if lawID <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidLawID, lawID)
	}
	if _, err := NewVoterID(voterID.String()); err != nil {
		return err
	}
	if s.laws == nil {
		return nil
	}
	published, err := s.laws.IsPublished(ctx, lawID)
	if err != nil {
		s.logError(operation, reasonLawLookup, err, zap.Int64(fieldLawID, lawID))
		return serviceerror.New(operation, reasonLawLookup, err)
	}
	if !published {
		return fmt.Errorf("%w: %d", ErrLawNotFound, lawID)
	}
	return nil
}

func (s *Service) tally(ctx context.Context, operation string, lawID int64) (Tally, error) {
	var row struct {
		Upvotes   int64 `gorm:"column:upvotes"`
		Downvotes int64 `gorm:"column:downvotes"`
	}
	if err := s.db.WithContext(ctx).
		Raw(tallyQuery, TypeUp, TypeDown, lawID).
		Scan(&row).Error; err != nil {
		s.logError(operation, reasonTallyFailed, err, zap.Int64(fieldLawID, lawID))
		return Tally{}, serviceerror.New(operation, reasonTallyFailed, err)
	}
	return Tally{Upvotes: row.Upvotes, Downvotes: row.Downvotes}, nil
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
	logger.Error("votes service error", attrs...)
}
