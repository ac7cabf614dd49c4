package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/dkeye/Estimate/internal/core"
	"github.com/dkeye/Estimate/internal/domain"
	"github.com/dkeye/Estimate/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

// seeded returns a store holding session s1 with story st1 selected and
// round r1 open.
func seeded(t *testing.T) *memory.Store {
	t.Helper()
	ctx := context.Background()
	s := memory.New()
	require.NoError(t, s.CreateSession(ctx, domain.NewSession("s1", "Sprint", domain.User{ID: "host", Username: "Host"}, domain.VotingOpen, now)))
	_, r, err := s.SelectStory(ctx, "s1", domain.Story{ID: "st1", Title: "One"}, domain.NewRound("r1", "s1", "st1", 1, now))
	require.NoError(t, err)
	require.Equal(t, "r1", r.ID)
	return s
}

func TestRoundLifecycle(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)
	assert.ErrorIs(t, s.InsertRound(ctx, domain.NewRound("r2", "s1", "st1", 1, now)), core.ErrConflict)

	require.NoError(t, s.UpsertVote(ctx, "r1", domain.Vote{UserID: "a", Value: 3, CastAt: now}))
	require.NoError(t, s.UpsertVote(ctx, "r1", domain.Vote{UserID: "a", Value: 5, CastAt: now}))

	_, err := s.FinalizeRound(ctx, "r1", 5, now)
	assert.ErrorIs(t, err, core.ErrConflict)

	got, err := s.RevealRound(ctx, "r1", now, func(v []domain.Vote) (domain.Stats, error) {
		require.Len(t, v, 1)
		return domain.ComputeStats(v)
	})
	require.NoError(t, err)
	assert.Equal(t, 5.0, got.Stats.Average)

	_, err = s.RevealRound(ctx, "r1", now, domain.ComputeStats)
	assert.ErrorIs(t, err, core.ErrConflict)
	assert.ErrorIs(t, s.UpsertVote(ctx, "r1", domain.Vote{UserID: "b", Value: 1}), core.ErrConflict)

	fin, err := s.FinalizeRound(ctx, "r1", 5, now)
	require.NoError(t, err)
	assert.Equal(t, domain.RoundFinalized, fin.State())
	_, err = s.FinalizeRound(ctx, "r1", 8, now)
	assert.ErrorIs(t, err, core.ErrConflict)

	sess, err := s.FindSession(ctx, "s1")
	require.NoError(t, err)
	st, _ := sess.Story("st1")
	assert.Equal(t, domain.StoryEstimated, st.Status)

	require.NoError(t, s.InsertRound(ctx, domain.NewRound("r2", "s1", "st1", 2, now)))
	sess, err = s.FindSession(ctx, "s1")
	require.NoError(t, err)
	st, _ = sess.Story("st1")
	assert.Equal(t, domain.StoryReady, st.Status)
	assert.Nil(t, st.FinalEstimate)
}

func TestRevealRollsBackOnStatsError(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)
	require.NoError(t, s.UpsertVote(ctx, "r1", domain.Vote{UserID: "a", Value: domain.CardUnknown}))

	_, err := s.RevealRound(ctx, "r1", now, domain.ComputeStats)
	assert.ErrorIs(t, err, domain.ErrNoVotes)

	cur, err := s.FindCurrentRound(ctx, "s1", "st1")
	require.NoError(t, err)
	assert.True(t, cur.IsOpen())
}

func TestReturnedValuesAreCopies(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	sess := domain.NewSession("s1", "Sprint", domain.User{ID: "host", Username: "Host"}, domain.VotingOpen, now)
	require.NoError(t, s.CreateSession(ctx, sess))
	assert.ErrorIs(t, s.CreateSession(ctx, sess), core.ErrConflict)
	sess.Name = "changed"

	got, err := s.FindSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Sprint", got.Name)
	got.Name = "changed"

	again, err := s.FindSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Sprint", again.Name)
}

func TestPresenceReset(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	require.NoError(t, s.CreateSession(ctx, domain.NewSession("s1", "x", domain.User{ID: "host"}, domain.VotingOpen, now)))
	require.NoError(t, s.SetParticipantOnline(ctx, "s1", "host", true))

	got, _ := s.FindSession(ctx, "s1")
	assert.True(t, got.Participants[0].Online)

	require.NoError(t, s.ResetPresence(ctx))
	got, _ = s.FindSession(ctx, "s1")
	assert.False(t, got.Participants[0].Online)

	assert.ErrorIs(t, s.SetParticipantOnline(ctx, "missing", "host", true), core.ErrNotFound)
}

func TestSelectStoryKeepsExistingRound(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)

	st, r, err := s.SelectStory(ctx, "s1", domain.Story{ID: "st1", Title: "Renamed"}, domain.NewRound("unused", "s1", "st1", 1, now))
	require.NoError(t, err)
	assert.Equal(t, "Renamed", st.Title)
	assert.Equal(t, "r1", r.ID)

	rounds, err := s.ListRounds(ctx, "s1", "st1")
	require.NoError(t, err)
	assert.Len(t, rounds, 1)
}

func TestArchivedSessionRejectsWrites(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)
	require.NoError(t, s.ArchiveSession(ctx, "s1", now))

	_, _, err := s.SelectStory(ctx, "s1", domain.Story{ID: "st2"}, domain.NewRound("r2", "s1", "st2", 1, now))
	assert.ErrorIs(t, err, core.ErrArchived)
	assert.ErrorIs(t, s.ClearStory(ctx, "s1", now), core.ErrArchived)
	assert.ErrorIs(t, s.ArchiveSession(ctx, "s1", now), core.ErrArchived)
	assert.ErrorIs(t, s.UpsertVote(ctx, "r1", domain.Vote{UserID: "a", Value: 1}), core.ErrArchived)
	assert.ErrorIs(t, s.InsertRound(ctx, domain.NewRound("r2", "s1", "st1", 2, now)), core.ErrArchived)
	_, err = s.AddParticipant(ctx, "s1", domain.NewParticipant(domain.User{ID: "bob"}, "", now))
	assert.ErrorIs(t, err, core.ErrArchived)
	_, err = s.AddParticipant(ctx, "missing", domain.NewParticipant(domain.User{ID: "bob"}, "", now))
	assert.ErrorIs(t, err, core.ErrNotFound)

	sess, err := s.FindSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionArchived, sess.Status)
	assert.Equal(t, "st1", sess.CurrentStoryID)
}

func TestListRoundsOrdered(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)
	require.NoError(t, s.InsertRound(ctx, domain.NewRound("r2", "s1", "st1", 2, now)))
	_, _, err := s.SelectStory(ctx, "s1", domain.Story{ID: "st2"}, domain.NewRound("r3", "s1", "st2", 1, now))
	require.NoError(t, err)

	rounds, err := s.ListRounds(ctx, "s1", "st1")
	require.NoError(t, err)
	require.Len(t, rounds, 2)
	assert.Equal(t, 1, rounds[0].Number)
	assert.Equal(t, 2, rounds[1].Number)

	cur, err := s.FindCurrentRound(ctx, "s1", "st1")
	require.NoError(t, err)
	assert.Equal(t, "r2", cur.ID)

	_, err = s.FindCurrentRound(ctx, "s1", "nope")
	assert.ErrorIs(t, err, core.ErrNotFound)
}
