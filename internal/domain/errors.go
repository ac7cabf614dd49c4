package domain

import "errors"

// Errors returned by the voting engine. Each maps to a wire reason via Reason.
var (
	ErrUnauthenticated        = errors.New("unauthenticated")
	ErrNotParticipant         = errors.New("caller is not a session participant")
	ErrNotHost                = errors.New("only the session host can perform this action")
	ErrSessionArchived        = errors.New("session is archived")
	ErrSessionNotFound        = errors.New("session not found")
	ErrRoundNotOpen           = errors.New("no open round for the current story")
	ErrRoundNotRevealed       = errors.New("round has not been revealed")
	ErrAlreadyRevealed        = errors.New("round already revealed")
	ErrAlreadyFinalized       = errors.New("round already finalized")
	ErrNoVotes                = errors.New("no numeric votes to reveal")
	ErrInvalidVoteValue       = errors.New("invalid vote value")
	ErrInvalidStory           = errors.New("invalid story")
	ErrStorageUnavailable     = errors.New("storage unavailable")
	ErrSyncCollaboratorFailed = errors.New("estimate sync failed")
	ErrRateLimited            = errors.New("rate limit exceeded")
	ErrBadPayload             = errors.New("bad payload")
)

var reasons = []struct {
	err    error
	reason string
}{
	{ErrUnauthenticated, "Unauthenticated"},
	{ErrNotParticipant, "NotParticipant"},
	{ErrNotHost, "NotHost"},
	{ErrSessionArchived, "SessionArchived"},
	{ErrSessionNotFound, "SessionNotFound"},
	{ErrRoundNotOpen, "RoundNotOpen"},
	{ErrRoundNotRevealed, "RoundNotRevealed"},
	{ErrAlreadyRevealed, "AlreadyRevealed"},
	{ErrAlreadyFinalized, "AlreadyFinalized"},
	{ErrNoVotes, "NoVotes"},
	{ErrInvalidVoteValue, "InvalidVoteValue"},
	{ErrInvalidStory, "InvalidStory"},
	{ErrStorageUnavailable, "StorageUnavailable"},
	{ErrSyncCollaboratorFailed, "SyncCollaboratorFailed"},
	{ErrRateLimited, "RateLimited"},
	{ErrBadPayload, "BadPayload"},
}

// Reason returns the wire reason for err. Unknown errors are reported as
// "Internal" so storage or driver details never leak to clients.
func Reason(err error) string {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return "Internal"
}

// Message returns the client-safe text for err: the message of the matching
// sentinel, never the wrapped detail.
func Message(err error) string {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.err.Error()
		}
	}
	return "internal error"
}
