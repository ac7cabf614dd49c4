package voting

import (
	"context"
	"errors"

	"github.com/dkeye/Estimate/internal/core"
	"github.com/dkeye/Estimate/internal/domain"
	"github.com/rs/zerolog/log"
)

// SelectStory makes story the current one, opening round 1 when the story
// has never been voted on.
func (m *Machine) SelectStory(ctx context.Context, id domain.SessionID, story domain.Story, caller domain.User) (*domain.Round, error) {
	if err := story.Validate(); err != nil {
		return nil, err
	}
	sess, err := m.hostSession(ctx, id, caller)
	if err != nil {
		return nil, err
	}
	first := domain.NewRound(m.newID(), id, story.ID, 1, m.now())
	st, round, err := m.store.SelectStory(ctx, sess.ID, story, first)
	if err != nil {
		return nil, sessionWriteErr("select story", err)
	}

	log.Info().Str("module", "voting").Str("session", string(id)).Str("story", st.ID).Int("round", round.Number).Msg("story selected")
	m.publish(id, core.EventStorySelected, core.StorySelectedPayload{Story: &st, RoundNumber: round.Number})
	return round, nil
}

// ClearStory unsets the current story. Its rounds are kept.
func (m *Machine) ClearStory(ctx context.Context, id domain.SessionID, caller domain.User) error {
	sess, err := m.hostSession(ctx, id, caller)
	if err != nil {
		return err
	}
	if err := m.store.ClearStory(ctx, sess.ID, m.now()); err != nil {
		return sessionWriteErr("clear story", err)
	}
	m.publish(id, core.EventStorySelected, core.StorySelectedPayload{})
	return nil
}

// CastVote records the caller's card on the open round of storyID, or of
// the current story when storyID is empty. Re-voting overwrites.
func (m *Machine) CastVote(ctx context.Context, id domain.SessionID, storyID string, caller domain.User, value float64) error {
	sess, err := m.participantSession(ctx, id, caller)
	if err != nil {
		return err
	}
	if err := domain.ValidateCard(value); err != nil {
		return err
	}
	round, err := m.latestRound(ctx, sess, storyID)
	if err != nil {
		return err
	}
	if !round.IsOpen() {
		return domain.ErrRoundNotOpen
	}

	vote := domain.Vote{UserID: caller.ID, Username: caller.Username, Value: value, CastAt: m.now()}
	switch err := m.store.UpsertVote(ctx, round.ID, vote); {
	case errors.Is(err, core.ErrArchived):
		return domain.ErrSessionArchived
	case errors.Is(err, core.ErrConflict), errors.Is(err, core.ErrNotFound):
		return domain.ErrRoundNotOpen
	case err != nil:
		return storageErr("upsert vote", err)
	}

	status := core.VoteStatusPayload{UserID: caller.ID, HasVoted: true, Mode: sess.VotingMode}
	if sess.VotingMode == domain.VotingOpen {
		status.Value = &value
	}
	m.publish(id, core.EventVoteStatus, status)
	return nil
}

// RetractVote withdraws the caller's vote while the round is still open.
func (m *Machine) RetractVote(ctx context.Context, id domain.SessionID, storyID string, caller domain.User) error {
	sess, err := m.participantSession(ctx, id, caller)
	if err != nil {
		return err
	}
	round, err := m.latestRound(ctx, sess, storyID)
	if err != nil {
		return err
	}
	if !round.IsOpen() {
		return domain.ErrRoundNotOpen
	}
	switch err := m.store.DeleteVote(ctx, round.ID, caller.ID); {
	case errors.Is(err, core.ErrArchived):
		return domain.ErrSessionArchived
	case errors.Is(err, core.ErrConflict), errors.Is(err, core.ErrNotFound):
		return domain.ErrRoundNotOpen
	case err != nil:
		return storageErr("delete vote", err)
	}
	m.publish(id, core.EventVoteStatus, core.VoteStatusPayload{UserID: caller.ID, HasVoted: false, Mode: sess.VotingMode})
	return nil
}

// Reveal freezes the open round of the current story and publishes its
// votes with statistics. Concurrent reveals are serialized by the store;
// exactly one succeeds.
func (m *Machine) Reveal(ctx context.Context, id domain.SessionID, caller domain.User) (*domain.Round, error) {
	sess, err := m.hostSession(ctx, id, caller)
	if err != nil {
		return nil, err
	}
	round, err := m.latestRound(ctx, sess, "")
	if err != nil {
		return nil, err
	}
	switch round.State() {
	case domain.RoundNone:
		return nil, domain.ErrRoundNotOpen
	case domain.RoundRevealed, domain.RoundFinalized:
		return nil, domain.ErrAlreadyRevealed
	}

	revealed, err := m.store.RevealRound(ctx, round.ID, m.now(), domain.ComputeStats)
	switch {
	case errors.Is(err, core.ErrArchived):
		return nil, domain.ErrSessionArchived
	case errors.Is(err, core.ErrConflict):
		return nil, domain.ErrAlreadyRevealed
	case errors.Is(err, domain.ErrNoVotes):
		return nil, err
	case err != nil:
		return nil, storageErr("reveal round", err)
	}

	st := revealed.Stats
	log.Info().Str("module", "voting").Str("session", string(id)).Str("story", revealed.StoryID).
		Int("round", revealed.Number).Float64("average", st.Average).Msg("round revealed")
	m.publish(id, core.EventRoundRevealed, core.RoundRevealedPayload{
		StoryID:     revealed.StoryID,
		RoundNumber: revealed.Number,
		Votes:       revealed.VoteList(),
		Average:     st.Average,
		Min:         st.Min,
		Max:         st.Max,
	})
	return revealed, nil
}

// Finalize records the agreed estimate of the revealed round and marks the
// story estimated. A linked issue is commented on in the background.
func (m *Machine) Finalize(ctx context.Context, id domain.SessionID, caller domain.User, value float64) (*domain.Round, error) {
	sess, err := m.hostSession(ctx, id, caller)
	if err != nil {
		return nil, err
	}
	if err := domain.ValidateCard(value); err != nil || !domain.IsNumericCard(value) {
		return nil, domain.ErrInvalidVoteValue
	}
	round, err := m.latestRound(ctx, sess, "")
	if err != nil {
		return nil, err
	}
	switch round.State() {
	case domain.RoundNone, domain.RoundOpen:
		return nil, domain.ErrRoundNotRevealed
	case domain.RoundFinalized:
		return nil, domain.ErrAlreadyFinalized
	}

	final, err := m.store.FinalizeRound(ctx, round.ID, value, m.now())
	switch {
	case errors.Is(err, core.ErrArchived):
		return nil, domain.ErrSessionArchived
	case errors.Is(err, core.ErrConflict):
		// Reveal is never undone, so the only way to lose here is a
		// concurrent finalize.
		return nil, domain.ErrAlreadyFinalized
	case err != nil:
		return nil, storageErr("finalize round", err)
	}

	// The store marked the story estimated in the same write.
	sess.MarkEstimated(final.StoryID, value)

	log.Info().Str("module", "voting").Str("session", string(id)).Str("story", final.StoryID).
		Int("round", final.Number).Float64("value", value).Msg("estimate finalized")
	m.publish(id, core.EventEstimateFinalized, core.EstimateFinalizedPayload{
		StoryID:     final.StoryID,
		RoundNumber: final.Number,
		Value:       value,
	})

	if story, ok := sess.Story(final.StoryID); ok && story.HasIssue() && m.commenter != nil {
		m.syncs.Add(1)
		go m.syncEstimate(id, sess.HostID, story, value)
	}
	return final, nil
}

// StartRevote opens a fresh round after the latest one was revealed. The
// previous round is left untouched.
func (m *Machine) StartRevote(ctx context.Context, id domain.SessionID, caller domain.User) (*domain.Round, error) {
	sess, err := m.hostSession(ctx, id, caller)
	if err != nil {
		return nil, err
	}
	prev, err := m.latestRound(ctx, sess, "")
	if err != nil {
		return nil, err
	}
	if st := prev.State(); st != domain.RoundRevealed && st != domain.RoundFinalized {
		return nil, domain.ErrRoundNotRevealed
	}

	next := domain.NewRound(m.newID(), id, prev.StoryID, prev.Number+1, m.now())
	switch err := m.store.InsertRound(ctx, next); {
	case errors.Is(err, core.ErrArchived):
		return nil, domain.ErrSessionArchived
	case errors.Is(err, core.ErrConflict):
		// Another re-vote already opened this number.
		return nil, domain.ErrRoundNotRevealed
	case err != nil:
		return nil, storageErr("insert round", err)
	}

	log.Info().Str("module", "voting").Str("session", string(id)).Str("story", next.StoryID).Int("round", next.Number).Msg("revote started")
	m.publish(id, core.EventRevoteStarted, core.RevoteStartedPayload{
		StoryID:       next.StoryID,
		RoundNumber:   next.Number,
		PreviousRound: prev.Number,
	})
	return next, nil
}

// EndSession archives the session. The caller is expected to close the
// room once this returns.
func (m *Machine) EndSession(ctx context.Context, id domain.SessionID, caller domain.User) error {
	sess, err := m.hostSession(ctx, id, caller)
	if err != nil {
		return err
	}
	if err := m.store.ArchiveSession(ctx, sess.ID, m.now()); err != nil {
		return sessionWriteErr("archive session", err)
	}
	log.Info().Str("module", "voting").Str("session", string(id)).Msg("session ended")
	m.publish(id, core.EventSessionEnded, core.SessionEndedPayload{SessionID: id})
	return nil
}
