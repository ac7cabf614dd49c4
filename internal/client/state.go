package client

import (
	"encoding/json"
	"sort"

	"github.com/dkeye/Estimate/internal/core"
	"github.com/dkeye/Estimate/internal/domain"
)

// VoteMark is what a client knows about one participant's vote.
type VoteMark struct {
	HasVoted bool
	// Value is known in open mode or after reveal.
	Value *float64
}

// State is the client's view of a session, rebuilt from server events.
// Values are never mutated in place; Reduce returns a new State.
type State struct {
	SessionID     domain.SessionID
	Online        []domain.UserID
	Story         *domain.Story
	RoundNumber   int
	Votes         map[domain.UserID]VoteMark
	Revealed      *core.RoundRevealedPayload
	FinalEstimate *float64
	Typing        map[domain.UserID]bool
	Ended         bool
	LastError     *core.ErrorPayload
}

func (s State) clone() State {
	c := s
	c.Online = append([]domain.UserID(nil), s.Online...)
	c.Votes = make(map[domain.UserID]VoteMark, len(s.Votes))
	for k, v := range s.Votes {
		c.Votes[k] = v
	}
	c.Typing = make(map[domain.UserID]bool, len(s.Typing))
	for k, v := range s.Typing {
		c.Typing[k] = v
	}
	return c
}

func (s *State) resetRound(number int) {
	s.RoundNumber = number
	s.Votes = make(map[domain.UserID]VoteMark)
	s.Revealed = nil
	s.FinalEstimate = nil
}

func addUser(list []domain.UserID, id domain.UserID) []domain.UserID {
	for _, u := range list {
		if u == id {
			return list
		}
	}
	list = append(list, id)
	sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
	return list
}

func removeUser(list []domain.UserID, id domain.UserID) []domain.UserID {
	out := list[:0]
	for _, u := range list {
		if u != id {
			out = append(out, u)
		}
	}
	return out
}

// Reduce applies one server event. Unknown events and undecodable payloads
// leave the state unchanged.
func Reduce(s State, env core.Envelope) State {
	next := s.clone()
	if env.SessionID != "" {
		next.SessionID = env.SessionID
	}
	switch env.Type {
	case core.EventJoined:
		var p core.JoinedPayload
		if json.Unmarshal(env.Payload, &p) != nil {
			return s
		}
		next.Online = append([]domain.UserID(nil), p.Online...)
		next.Ended = false
	case core.EventParticipantJoined, core.EventParticipantLeft:
		var p core.ParticipantPayload
		if json.Unmarshal(env.Payload, &p) != nil {
			return s
		}
		if env.Type == core.EventParticipantJoined {
			next.Online = addUser(next.Online, p.UserID)
		} else {
			next.Online = removeUser(next.Online, p.UserID)
			delete(next.Typing, p.UserID)
		}
	case core.EventStorySelected:
		var p core.StorySelectedPayload
		if json.Unmarshal(env.Payload, &p) != nil {
			return s
		}
		next.Story = p.Story
		next.resetRound(p.RoundNumber)
	case core.EventVoteStatus:
		var p core.VoteStatusPayload
		if json.Unmarshal(env.Payload, &p) != nil {
			return s
		}
		if p.HasVoted {
			next.Votes[p.UserID] = VoteMark{HasVoted: true, Value: p.Value}
		} else {
			delete(next.Votes, p.UserID)
		}
	case core.EventRoundRevealed:
		var p core.RoundRevealedPayload
		if json.Unmarshal(env.Payload, &p) != nil {
			return s
		}
		next.Revealed = &p
		for _, v := range p.Votes {
			value := v.Value
			next.Votes[v.UserID] = VoteMark{HasVoted: true, Value: &value}
		}
	case core.EventRevoteStarted:
		var p core.RevoteStartedPayload
		if json.Unmarshal(env.Payload, &p) != nil {
			return s
		}
		next.resetRound(p.RoundNumber)
		if next.Story != nil {
			st := *next.Story
			st.Status = domain.StoryReady
			st.FinalEstimate = nil
			next.Story = &st
		}
	case core.EventEstimateFinalized:
		var p core.EstimateFinalizedPayload
		if json.Unmarshal(env.Payload, &p) != nil {
			return s
		}
		value := p.Value
		next.FinalEstimate = &value
		if next.Story != nil && next.Story.ID == p.StoryID {
			st := *next.Story
			st.Status = domain.StoryEstimated
			st.FinalEstimate = &value
			next.Story = &st
		}
	case core.EventTyping:
		var p core.TypingPayload
		if json.Unmarshal(env.Payload, &p) != nil {
			return s
		}
		if p.IsTyping {
			next.Typing[p.UserID] = true
		} else {
			delete(next.Typing, p.UserID)
		}
	case core.EventSessionEnded:
		next.Ended = true
		next.Online = nil
		next.Typing = map[domain.UserID]bool{}
	case core.EventError, core.EventWarning:
		var p core.ErrorPayload
		if json.Unmarshal(env.Payload, &p) != nil {
			return s
		}
		next.LastError = &p
	default:
		return s
	}
	return next
}
