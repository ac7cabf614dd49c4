package domain

import (
	"strings"
	"time"
)

type SessionID string

type SessionStatus string

const (
	SessionActive   SessionStatus = "active"
	SessionArchived SessionStatus = "archived"
)

type VotingMode string

const (
	// VotingAnonymous hides vote values until reveal.
	VotingAnonymous VotingMode = "anonymous"
	// VotingOpen shows vote values to the room as they are cast.
	VotingOpen VotingMode = "open"
)

func (m VotingMode) Valid() bool {
	return m == VotingAnonymous || m == VotingOpen
}

type StoryStatus string

const (
	StoryReady     StoryStatus = "ready"
	StoryNotReady  StoryStatus = "not-ready"
	StoryEstimated StoryStatus = "estimated"
)

const (
	MaxStoryIDLen    = 64
	MaxStoryTitleLen = 256
)

type Story struct {
	ID            string      `json:"id"`
	Title         string      `json:"title"`
	Description   string      `json:"description,omitempty"`
	Status        StoryStatus `json:"status"`
	FinalEstimate *float64    `json:"finalEstimate,omitempty"`
	// Repo ("owner/name") and IssueNumber link the story to a GitHub issue.
	Repo        string `json:"repo,omitempty"`
	IssueNumber int    `json:"issueNumber,omitempty"`
}

func (s Story) Validate() error {
	if strings.TrimSpace(s.ID) == "" || len(s.ID) > MaxStoryIDLen {
		return ErrInvalidStory
	}
	if len(s.Title) > MaxStoryTitleLen {
		return ErrInvalidStory
	}
	return nil
}

// HasIssue reports whether the story is linked to a GitHub issue.
func (s Story) HasIssue() bool {
	return s.Repo != "" && s.IssueNumber > 0
}

type Participant struct {
	UserID      UserID    `json:"userId"`
	DisplayName string    `json:"displayName"`
	AvatarURL   string    `json:"avatarUrl,omitempty"`
	JoinedAt    time.Time `json:"joinedAt"`
	// Online mirrors presence. It is never used for authorization.
	Online bool `json:"online"`
}

type Session struct {
	ID             SessionID     `json:"id"`
	Name           string        `json:"name"`
	HostID         UserID        `json:"hostId"`
	Status         SessionStatus `json:"status"`
	VotingMode     VotingMode    `json:"votingMode"`
	Stories        []Story       `json:"stories"`
	CurrentStoryID string        `json:"currentStoryId,omitempty"`
	Participants   []Participant `json:"participants"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// NewSession creates an active session with the host as its first participant.
func NewSession(id SessionID, name string, host User, mode VotingMode, now time.Time) *Session {
	if !mode.Valid() {
		mode = VotingAnonymous
	}
	return &Session{
		ID:           id,
		Name:         name,
		HostID:       host.ID,
		Status:       SessionActive,
		VotingMode:   mode,
		Stories:      []Story{},
		Participants: []Participant{NewParticipant(host, "", now)},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (s *Session) IsActive() bool { return s.Status == SessionActive }

func (s *Session) IsHost(id UserID) bool { return s.HostID == id }

func (s *Session) IsParticipant(id UserID) bool {
	return s.participantIndex(id) >= 0
}

func (s *Session) participantIndex(id UserID) int {
	for i := range s.Participants {
		if s.Participants[i].UserID == id {
			return i
		}
	}
	return -1
}

// AddParticipant enrolls u. It returns false when u is already a member.
func (s *Session) AddParticipant(u User, avatar string, now time.Time) bool {
	if s.IsParticipant(u.ID) {
		return false
	}
	s.Participants = append(s.Participants, NewParticipant(u, avatar, now))
	return true
}

func NewParticipant(u User, avatar string, now time.Time) Participant {
	return Participant{
		UserID:      u.ID,
		DisplayName: u.Username,
		AvatarURL:   avatar,
		JoinedAt:    now,
	}
}

// SetOnline updates the presence mirror of a participant.
func (s *Session) SetOnline(id UserID, online bool) {
	if i := s.participantIndex(id); i >= 0 {
		s.Participants[i].Online = online
	}
}

func (s *Session) Story(id string) (Story, bool) {
	for _, st := range s.Stories {
		if st.ID == id {
			return st, true
		}
	}
	return Story{}, false
}

// CurrentStory returns the story being estimated, if any.
func (s *Session) CurrentStory() (Story, bool) {
	if s.CurrentStoryID == "" {
		return Story{}, false
	}
	return s.Story(s.CurrentStoryID)
}

// Merge refreshes the text and issue link of a known story from in while
// keeping its estimation state.
func (s Story) Merge(in Story) Story {
	if in.Title != "" {
		s.Title = in.Title
	}
	if in.Description != "" {
		s.Description = in.Description
	}
	if in.Repo != "" && in.IssueNumber > 0 {
		s.Repo = in.Repo
		s.IssueNumber = in.IssueNumber
	}
	return s
}

// Fresh prepares an unknown story for insertion.
func (s Story) Fresh() Story {
	if s.Status == "" || s.Status == StoryEstimated {
		s.Status = StoryReady
	}
	s.FinalEstimate = nil
	return s
}

// UpsertStory appends an unknown story or refreshes the text of a known one
// while keeping its position and estimation state.
func (s *Session) UpsertStory(st Story) Story {
	for i := range s.Stories {
		if s.Stories[i].ID == st.ID {
			s.Stories[i] = s.Stories[i].Merge(st)
			return s.Stories[i]
		}
	}
	st = st.Fresh()
	s.Stories = append(s.Stories, st)
	return st
}

func (s *Session) updateStory(id string, fn func(*Story)) {
	for i := range s.Stories {
		if s.Stories[i].ID == id {
			fn(&s.Stories[i])
			return
		}
	}
}

// MarkEstimated records the agreed estimate on a story.
func (s *Session) MarkEstimated(id string, value float64) {
	s.updateStory(id, func(st *Story) {
		v := value
		st.Status = StoryEstimated
		st.FinalEstimate = &v
	})
}

// MarkReady puts a story back into estimation, e.g. on re-vote.
func (s *Session) MarkReady(id string) {
	s.updateStory(id, func(st *Story) {
		st.Status = StoryReady
		st.FinalEstimate = nil
	})
}

// Clone returns a deep copy so stores and callers never share slices.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Stories = make([]Story, len(s.Stories))
	for i, st := range s.Stories {
		if st.FinalEstimate != nil {
			v := *st.FinalEstimate
			st.FinalEstimate = &v
		}
		c.Stories[i] = st
	}
	c.Participants = append([]Participant(nil), s.Participants...)
	return &c
}
