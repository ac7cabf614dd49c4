package core

import (
	"context"

	"github.com/dkeye/Estimate/internal/domain"
)

//go:generate mockgen -destination=mocks/mock_collaborators.go -package=mocks github.com/dkeye/Estimate/internal/core Verifier,IssueCommenter,Broadcaster

// Verifier turns a bearer credential into a user identity.
type Verifier interface {
	Verify(token string) (domain.User, error)
}

// IssueCommenter posts a finalized estimate to an issue tracker.
type IssueCommenter interface {
	PostEstimateComment(ctx context.Context, repo string, issue int, value float64) error
}

// Broadcaster fans events out to the connections of a session room.
type Broadcaster interface {
	Publish(session domain.SessionID, ev Event) PublishResult
	PublishExcept(session domain.SessionID, except ConnID, ev Event) PublishResult
	PublishToUser(session domain.SessionID, user domain.UserID, ev Event) PublishResult
}
