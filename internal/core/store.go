package core

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/Estimate/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict means a conditional write matched nothing: the record was
	// already in the target state or no longer in the required one.
	ErrConflict = errors.New("conditional write conflict")
	// ErrArchived is returned by every mutating write on a session that is
	// no longer active.
	ErrArchived = errors.New("session archived")
)

// StatsFunc computes reveal statistics from the frozen vote list. Returning
// an error aborts the reveal and leaves the round open.
type StatsFunc func(votes []domain.Vote) (domain.Stats, error)

// Store is the durable session and round store. Each method is one atomic
// write; there is no whole-aggregate save. Implementations return
// ErrNotFound, ErrConflict and ErrArchived as documented; any other error is
// treated as the store being unavailable.
type Store interface {
	FindSession(ctx context.Context, id domain.SessionID) (*domain.Session, error)
	// CreateSession inserts a new session; ErrConflict if the id is taken.
	CreateSession(ctx context.Context, s *domain.Session) error
	// AddParticipant enrolls p and reports whether it was new.
	AddParticipant(ctx context.Context, id domain.SessionID, p domain.Participant) (bool, error)
	// SelectStory upserts story, makes it current and inserts first when the
	// story has no round yet. It returns the stored story and its latest round.
	SelectStory(ctx context.Context, id domain.SessionID, story domain.Story, first *domain.Round) (domain.Story, *domain.Round, error)
	ClearStory(ctx context.Context, id domain.SessionID, at time.Time) error
	// ArchiveSession moves an active session to archived. Nothing moves it back.
	ArchiveSession(ctx context.Context, id domain.SessionID, at time.Time) error
	SetParticipantOnline(ctx context.Context, id domain.SessionID, user domain.UserID, online bool) error
	// ResetPresence clears every durable online flag. Called on startup.
	ResetPresence(ctx context.Context) error

	// FindCurrentRound returns the latest round of a story, whatever its state.
	FindCurrentRound(ctx context.Context, session domain.SessionID, story string) (*domain.Round, error)
	// ListRounds returns every round of a story ordered by number.
	ListRounds(ctx context.Context, session domain.SessionID, story string) ([]*domain.Round, error)
	// InsertRound appends a re-vote round; ErrConflict if the number is
	// taken. An estimated story goes back to ready in the same write.
	InsertRound(ctx context.Context, r *domain.Round) error

	// UpsertVote and DeleteVote only apply while the round is unrevealed.
	UpsertVote(ctx context.Context, roundID string, v domain.Vote) error
	DeleteVote(ctx context.Context, roundID string, user domain.UserID) error

	// RevealRound sets revealed_at if unset and stores the stats computed
	// over the votes frozen by that same write.
	RevealRound(ctx context.Context, roundID string, at time.Time, stats StatsFunc) (*domain.Round, error)
	// FinalizeRound sets the final estimate of a revealed, unfinalized round
	// and marks its story estimated in the same write.
	FinalizeRound(ctx context.Context, roundID string, value float64, at time.Time) (*domain.Round, error)
}
