package votes

import (
	"errors"
	"fmt"
	"strings"
)

// Type enumerates the ballots a voter can cast.
type Type string

const (
	// TypeUp counts towards a law's upvotes.
	TypeUp Type = "up"
	// TypeDown counts towards a law's downvotes.
	TypeDown Type = "down"
)

const maxVoterIDLength = 190

var (
	// ErrInvalidVoteType indicates a ballot other than up or down.
	ErrInvalidVoteType = errors.New("votes: invalid vote type")
	// ErrInvalidVoterID indicates an empty or oversized voter identifier.
	ErrInvalidVoterID = errors.New("votes: invalid voter id")
	// ErrInvalidLawID indicates a non-positive law identifier.
	ErrInvalidLawID = errors.New("votes: invalid law id")
	// ErrLawNotFound indicates the law does not exist or is not published.
	ErrLawNotFound = errors.New("votes: law not found")
)

// ParseType validates raw input and returns a vote Type.
func ParseType(rawInput string) (Type, error) {
	switch Type(strings.ToLower(strings.TrimSpace(rawInput))) {
	case TypeUp:
		return TypeUp, nil
	case TypeDown:
		return TypeDown, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidVoteType, rawInput)
	}
}

// VoterID is an opaque, already derived voter identifier.
type VoterID string

// NewVoterID validates raw input and returns a VoterID.
func NewVoterID(rawInput string) (VoterID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidVoterID)
	}
	if len(trimmed) > maxVoterIDLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidVoterID, maxVoterIDLength)
	}
	return VoterID(trimmed), nil
}

// String returns the underlying identifier.
func (id VoterID) String() string {
	return string(id)
}

// Vote is the single ballot a voter holds for a law.
type Vote struct {
	LawID            int64  `gorm:"column:law_id;primaryKey;autoIncrement:false;index:idx_votes_law_type,priority:1"`
	VoterID          string `gorm:"column:voter_identifier;primaryKey;size:190;not null"`
	VoteType         Type   `gorm:"column:vote_type;size:8;not null;index:idx_votes_law_type,priority:2"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Vote) TableName() string {
	return "votes"
}

// Tally is a live count over the ballots currently held for a law.
type Tally struct {
	Upvotes   int64
	Downvotes int64
}

// Score returns upvotes minus downvotes.
func (t Tally) Score() int64 {
	return t.Upvotes - t.Downvotes
}
