package domain_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dkeye/Estimate/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSessionEnrollsHost(t *testing.T) {
	host := domain.User{ID: "host", Username: "Hana"}
	s := domain.NewSession("s1", "Sprint 12", host, "", time.Now())

	assert.Equal(t, domain.SessionActive, s.Status)
	assert.Equal(t, domain.VotingAnonymous, s.VotingMode)
	assert.True(t, s.IsHost("host"))
	assert.True(t, s.IsParticipant("host"))
	assert.False(t, s.IsParticipant("guest"))
}

func TestSessionAddParticipant(t *testing.T) {
	s := domain.NewSession("s1", "", domain.User{ID: "host", Username: "Hana"}, domain.VotingOpen, time.Now())
	guest := domain.User{ID: "guest", Username: "Gus"}

	assert.True(t, s.AddParticipant(guest, "", time.Now()))
	assert.False(t, s.AddParticipant(guest, "", time.Now()))
	assert.Len(t, s.Participants, 2)
}

func TestSessionUpsertStory(t *testing.T) {
	s := domain.NewSession("s1", "", domain.User{ID: "host", Username: "Hana"}, domain.VotingOpen, time.Now())

	st := s.UpsertStory(domain.Story{ID: "a", Title: "Login"})
	assert.Equal(t, domain.StoryReady, st.Status)
	s.UpsertStory(domain.Story{ID: "b", Title: "Logout"})

	s.MarkEstimated("a", 5)
	updated := s.UpsertStory(domain.Story{ID: "a", Title: "Login page"})
	assert.Equal(t, "Login page", updated.Title)
	assert.Equal(t, domain.StoryEstimated, updated.Status)
	require.NotNil(t, updated.FinalEstimate)
	assert.Equal(t, 5.0, *updated.FinalEstimate)

	require.Len(t, s.Stories, 2)
	assert.Equal(t, "a", s.Stories[0].ID)

	s.MarkReady("a")
	got, ok := s.Story("a")
	require.True(t, ok)
	assert.Equal(t, domain.StoryReady, got.Status)
	assert.Nil(t, got.FinalEstimate)
}

func TestSessionCloneIsDeep(t *testing.T) {
	s := domain.NewSession("s1", "", domain.User{ID: "host", Username: "Hana"}, domain.VotingOpen, time.Now())
	s.UpsertStory(domain.Story{ID: "a"})
	s.MarkEstimated("a", 3)

	c := s.Clone()
	c.SetOnline("host", true)
	*c.Stories[0].FinalEstimate = 8

	assert.False(t, s.Participants[0].Online)
	assert.Equal(t, 3.0, *s.Stories[0].FinalEstimate)
}

func TestReason(t *testing.T) {
	assert.Equal(t, "NotHost", domain.Reason(domain.ErrNotHost))
	assert.Equal(t, "StorageUnavailable", domain.Reason(
		fmt.Errorf("save round: %w", domain.ErrStorageUnavailable)))
	assert.Equal(t, "Internal", domain.Reason(assert.AnError))
}

func TestMessageHidesWrappedDetail(t *testing.T) {
	err := fmt.Errorf("upsert vote: %w: %w", domain.ErrStorageUnavailable, errors.New("disk I/O error"))
	assert.Equal(t, "storage unavailable", domain.Message(err))
	assert.Equal(t, "internal error", domain.Message(assert.AnError))
}
