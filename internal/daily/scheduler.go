package daily

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/murphy/internal/laws"
	"github.com/MarcoPoloResearchLab/murphy/internal/serviceerror"
	"go.uber.org/zap"
)

// DefaultWindowDays is the no-repeat window used when none is configured.
const DefaultWindowDays = 365

const (
	opSchedulerNew      = "daily.scheduler.new"
	opToday             = "daily.today"
	reasonMissingDep    = "missing_dependency"
	reasonLookupFailed  = "lookup_failed"
	reasonSelectFailed  = "select_failed"
	reasonRecordFailed  = "record_failed"
	reasonLoadFailed    = "load_failed"
	reasonRaceUnsettled = "race_unsettled"
)

var (
	errMissingHistory = errors.New("history ledger is required")
	errMissingLaws    = errors.New("law reader is required")
	errRaceUnsettled  = errors.New("selection reported as duplicate but not found")
	noOpLogger        = zap.NewNop()
)

// Outcome describes how a pick was obtained.
type Outcome string

const (
	// OutcomeExisting means today's pick was already recorded.
	OutcomeExisting Outcome = "existing"
	// OutcomeSelected means a law outside the exclusion window was picked.
	OutcomeSelected Outcome = "selected"
	// OutcomeFallback means every law was featured recently and a repeat was picked.
	OutcomeFallback Outcome = "fallback"
	// OutcomeRaceRecovered means a concurrent caller recorded today's pick first.
	OutcomeRaceRecovered Outcome = "race_recovered"
	// OutcomeEmpty means no published law exists.
	OutcomeEmpty Outcome = "empty"
	// OutcomeUnavailable means today's recorded law is no longer published.
	OutcomeUnavailable Outcome = "unavailable"
)

// HistoryLedger is the selection memory the scheduler reads and appends to.
type HistoryLedger interface {
	Record(ctx context.Context, lawID int64, date string) error
	Lookup(ctx context.Context, date string) (int64, bool, error)
}

// LawReader ranks and loads published laws.
type LawReader interface {
	TopVoted(ctx context.Context, predicates ...laws.Predicate) (laws.LawView, bool, error)
	Get(ctx context.Context, lawID int64) (laws.LawDetail, error)
}

// SchedulerConfig describes the dependencies of the daily scheduler.
type SchedulerConfig struct {
	History    HistoryLedger
	Laws       LawReader
	Clock      func() time.Time
	WindowDays int
	Logger     *zap.Logger
	// Notify, when set, observes every resolved pick.
	Notify func(ctx context.Context, pick Pick)
}

// Pick is the result of a daily selection. Found is false when no law can be
// featured today; that is a valid result, not an error.
type Pick struct {
	Law     laws.LawDetail
	Date    string
	Found   bool
	Outcome Outcome
}

// Scheduler picks the law of the day. It holds no selection state: every call
// derives today's pick from the history ledger.
type Scheduler struct {
	history    HistoryLedger
	laws       LawReader
	clock      func() time.Time
	windowDays int
	logger     *zap.Logger
	notify     func(ctx context.Context, pick Pick)
}

// NewScheduler constructs a Scheduler.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.History == nil {
		return nil, serviceerror.New(opSchedulerNew, reasonMissingDep, errMissingHistory)
	}
	if cfg.Laws == nil {
		return nil, serviceerror.New(opSchedulerNew, reasonMissingDep, errMissingLaws)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	windowDays := cfg.WindowDays
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Scheduler{
		history:    cfg.History,
		laws:       cfg.Laws,
		clock:      clock,
		windowDays: windowDays,
		logger:     logger,
		notify:     cfg.Notify,
	}, nil
}

// Today returns the law of the current UTC day, selecting and recording it on
// the first call of the day.
func (s *Scheduler) Today(ctx context.Context) (Pick, error) {
	pick, err := s.resolve(ctx)
	if err == nil && s.notify != nil {
		s.notify(ctx, pick)
	}
	return pick, err
}

func (s *Scheduler) resolve(ctx context.Context) (Pick, error) {
	now := s.clock().UTC()
	today := FormatDate(now)

	lawID, found, err := s.history.Lookup(ctx, today)
	if err != nil {
		s.logError(reasonLookupFailed, err, today)
		return Pick{}, err
	}
	if found {
		return s.load(ctx, lawID, today, OutcomeExisting)
	}

	windowStart := FormatDate(now.AddDate(0, 0, -s.windowDays))
	candidate, found, err := s.laws.TopVoted(ctx, notFeaturedSince{windowStart: windowStart})
	if err != nil {
		s.logError(reasonSelectFailed, err, today)
		return Pick{}, err
	}
	outcome := OutcomeSelected
	if !found {
		candidate, found, err = s.laws.TopVoted(ctx)
		if err != nil {
			s.logError(reasonSelectFailed, err, today)
			return Pick{}, err
		}
		outcome = OutcomeFallback
	}
	if !found {
		return Pick{Date: today, Outcome: OutcomeEmpty}, nil
	}

	err = s.history.Record(ctx, candidate.ID, today)
	if errors.Is(err, ErrDuplicateSelection) {
		return s.recoverRace(ctx, today)
	}
	if err != nil {
		s.logError(reasonRecordFailed, err, today)
		return Pick{}, err
	}
	return s.load(ctx, candidate.ID, today, outcome)
}

func (s *Scheduler) recoverRace(ctx context.Context, today string) (Pick, error) {
	lawID, found, err := s.history.Lookup(ctx, today)
	if err != nil {
		s.logError(reasonLookupFailed, err, today)
		return Pick{}, err
	}
	if !found {
		s.logError(reasonRaceUnsettled, errRaceUnsettled, today)
		return Pick{}, serviceerror.New(opToday, reasonRaceUnsettled, errRaceUnsettled)
	}
	s.logger.Info("daily selection recorded concurrently",
		zap.String("date", today),
		zap.Int64("law_id", lawID))
	return s.load(ctx, lawID, today, OutcomeRaceRecovered)
}

func (s *Scheduler) load(ctx context.Context, lawID int64, today string, outcome Outcome) (Pick, error) {
	detail, err := s.laws.Get(ctx, lawID)
	if errors.Is(err, laws.ErrLawNotFound) {
		s.logger.Warn("daily selection no longer published",
			zap.String("date", today),
			zap.Int64("law_id", lawID))
		return Pick{Date: today, Outcome: OutcomeUnavailable}, nil
	}
	if err != nil {
		s.logError(reasonLoadFailed, err, today)
		return Pick{}, err
	}
	return Pick{Law: detail, Date: today, Found: true, Outcome: outcome}, nil
}

func (s *Scheduler) logError(reason string, err error, date string) {
	s.logger.Error("daily scheduler error",
		zap.String("operation", opToday),
		zap.String("reason", reason),
		zap.String("date", date),
		zap.Error(err))
}
