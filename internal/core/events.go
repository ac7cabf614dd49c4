package core

import (
	"encoding/json"

	"github.com/dkeye/Estimate/internal/domain"
)

// Client -> server intents.
const (
	IntentJoin        = "session.join"
	IntentLeave       = "session.leave"
	IntentCastVote    = "vote.cast"
	IntentRetractVote = "vote.retract"
	IntentSelectStory = "story.select"
	IntentClearStory  = "story.clear"
	IntentReveal      = "round.reveal"
	IntentRevote      = "round.revote"
	IntentFinalize    = "estimate.finalize"
	IntentEndSession  = "session.end"
	IntentTyping      = "chat.typing"
	IntentPing        = "ping"
)

// Server -> client events.
const (
	EventJoined            = "session.joined"
	EventParticipantJoined = "participant.joined"
	EventParticipantLeft   = "participant.left"
	EventVoteStatus        = "vote.status"
	EventStorySelected     = "story.selected"
	EventRoundRevealed     = "round.revealed"
	EventRevoteStarted     = "round.revoteStarted"
	EventEstimateFinalized = "estimate.finalized"
	EventSessionEnded      = "session.ended"
	EventTyping            = "chat.typing"
	EventAck               = "ack"
	EventError             = "error"
	EventWarning           = "warning"
	EventPong              = "pong"
)

// Envelope is the wire frame in both directions. Payload stays raw so each
// handler decodes only what it needs.
type Envelope struct {
	Type      string           `json:"type"`
	SessionID domain.SessionID `json:"sessionId,omitempty"`
	RequestID string           `json:"requestId,omitempty"`
	Payload   json.RawMessage  `json:"payload,omitempty"`
}

// Event is an outbound message before encoding.
type Event struct {
	Type      string           `json:"type"`
	SessionID domain.SessionID `json:"sessionId,omitempty"`
	RequestID string           `json:"requestId,omitempty"`
	Payload   any              `json:"payload,omitempty"`
}

func (e Event) Encode() (Frame, error) {
	return json.Marshal(e)
}

type ParticipantPayload struct {
	UserID   domain.UserID `json:"userId"`
	Username string        `json:"username"`
}

type JoinedPayload struct {
	Members []MemberDTO     `json:"members"`
	Online  []domain.UserID `json:"online"`
}

type VoteStatusPayload struct {
	UserID   domain.UserID     `json:"userId"`
	HasVoted bool              `json:"hasVoted"`
	Mode     domain.VotingMode `json:"mode"`
	// Value is only set in open voting mode.
	Value *float64 `json:"value,omitempty"`
}

type StorySelectedPayload struct {
	Story       *domain.Story `json:"story"`
	RoundNumber int           `json:"roundNumber,omitempty"`
}

type RoundRevealedPayload struct {
	StoryID     string        `json:"storyId"`
	RoundNumber int           `json:"roundNumber"`
	Votes       []domain.Vote `json:"votes"`
	Average     float64       `json:"average"`
	Min         float64       `json:"min"`
	Max         float64       `json:"max"`
}

type RevoteStartedPayload struct {
	StoryID       string `json:"storyId"`
	RoundNumber   int    `json:"roundNumber"`
	PreviousRound int    `json:"previousRound"`
}

type EstimateFinalizedPayload struct {
	StoryID     string  `json:"storyId"`
	RoundNumber int     `json:"roundNumber"`
	Value       float64 `json:"value"`
}

type SessionEndedPayload struct {
	SessionID domain.SessionID `json:"sessionId"`
}

type TypingPayload struct {
	UserID   domain.UserID `json:"userId"`
	Username string        `json:"username"`
	IsTyping bool          `json:"isTyping"`
}

type ErrorPayload struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// Inbound payloads.

type VotePayload struct {
	// StoryID defaults to the current story.
	StoryID string `json:"storyId,omitempty"`
	// Value is a JSON number or a card label such as "?" or "break".
	Value json.RawMessage `json:"value,omitempty"`
}

type SelectStoryPayload struct {
	Story domain.Story `json:"story"`
}

type FinalizePayload struct {
	Value float64 `json:"value"`
}

type TypingIntentPayload struct {
	IsTyping bool `json:"isTyping"`
}
