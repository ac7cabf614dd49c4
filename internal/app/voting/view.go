package voting

import (
	"context"
	"errors"

	"github.com/dkeye/Estimate/internal/core"
	"github.com/dkeye/Estimate/internal/domain"
)

// VoteView is a vote as shown to participants. Value is nil while hidden.
type VoteView struct {
	UserID   domain.UserID `json:"userId"`
	Username string        `json:"username"`
	HasVoted bool          `json:"hasVoted"`
	Value    *float64      `json:"value,omitempty"`
}

type RoundView struct {
	ID            string            `json:"id"`
	StoryID       string            `json:"storyId"`
	Number        int               `json:"number"`
	State         domain.RoundState `json:"state"`
	Votes         []VoteView        `json:"votes"`
	Stats         *domain.Stats     `json:"stats,omitempty"`
	FinalEstimate *float64          `json:"finalEstimate,omitempty"`
}

// SessionState is the read model fetched on join and after reconnect.
type SessionState struct {
	Session *domain.Session `json:"session"`
	Round   *RoundView      `json:"round,omitempty"`
	History []RoundView     `json:"history"`
}

// newRoundView hides other participants' values while an anonymous round is
// open. The viewer always sees their own.
func newRoundView(r *domain.Round, mode domain.VotingMode, viewer domain.UserID) RoundView {
	v := RoundView{
		ID:            r.ID,
		StoryID:       r.StoryID,
		Number:        r.Number,
		State:         r.State(),
		Votes:         make([]VoteView, 0, len(r.Votes)),
		Stats:         r.Stats,
		FinalEstimate: r.FinalEstimate,
	}
	hide := mode == domain.VotingAnonymous && r.IsOpen()
	for _, vote := range r.VoteList() {
		vv := VoteView{UserID: vote.UserID, Username: vote.Username, HasVoted: true}
		if !hide || vote.UserID == viewer {
			value := vote.Value
			vv.Value = &value
		}
		v.Votes = append(v.Votes, vv)
	}
	return v
}

func (m *Machine) readableSession(ctx context.Context, id domain.SessionID, caller domain.User) (*domain.Session, error) {
	sess, err := m.LoadSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sess.IsParticipant(caller.ID) {
		return nil, domain.ErrNotParticipant
	}
	return sess, nil
}

func (m *Machine) rounds(ctx context.Context, sess *domain.Session, storyID string, viewer domain.UserID) ([]RoundView, error) {
	rounds, err := m.store.ListRounds(ctx, sess.ID, storyID)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return nil, storageErr("list rounds", err)
	}
	out := make([]RoundView, 0, len(rounds))
	for _, r := range rounds {
		out = append(out, newRoundView(r, sess.VotingMode, viewer))
	}
	return out, nil
}

// Snapshot returns the session with live presence, the current round and
// the round history of the current story. Archived sessions stay readable.
func (m *Machine) Snapshot(ctx context.Context, id domain.SessionID, caller domain.User) (*SessionState, error) {
	sess, err := m.readableSession(ctx, id, caller)
	if err != nil {
		return nil, err
	}
	if m.presence != nil {
		online := make(map[domain.UserID]bool)
		for _, u := range m.presence.OnlineUsers(id) {
			online[u] = true
		}
		for i := range sess.Participants {
			sess.Participants[i].Online = online[sess.Participants[i].UserID]
		}
	}

	state := &SessionState{Session: sess, History: []RoundView{}}
	if sess.CurrentStoryID == "" {
		return state, nil
	}
	if state.History, err = m.rounds(ctx, sess, sess.CurrentStoryID, caller.ID); err != nil {
		return nil, err
	}
	if n := len(state.History); n > 0 {
		cur := state.History[n-1]
		state.Round = &cur
	}
	return state, nil
}

// History lists every round of a story in order.
func (m *Machine) History(ctx context.Context, id domain.SessionID, storyID string, caller domain.User) ([]RoundView, error) {
	sess, err := m.readableSession(ctx, id, caller)
	if err != nil {
		return nil, err
	}
	if _, ok := sess.Story(storyID); !ok {
		return nil, domain.ErrInvalidStory
	}
	return m.rounds(ctx, sess, storyID, caller.ID)
}
