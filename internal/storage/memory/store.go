// Package memory is an in-process core.Store used by tests and by the server
// when no database path is configured.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/Estimate/internal/core"
	"github.com/dkeye/Estimate/internal/domain"
)

type roundKey struct {
	session domain.SessionID
	story   string
}

type Store struct {
	mu       sync.Mutex
	sessions map[domain.SessionID]*domain.Session
	rounds   map[string]*domain.Round
	byStory  map[roundKey][]string
}

var _ core.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		sessions: make(map[domain.SessionID]*domain.Session),
		rounds:   make(map[string]*domain.Round),
		byStory:  make(map[roundKey][]string),
	}
}

func (s *Store) FindSession(_ context.Context, id domain.SessionID) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return sess.Clone(), nil
}

func (s *Store) CreateSession(_ context.Context, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; ok {
		return core.ErrConflict
	}
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

// active must be called with mu held.
func (s *Store) active(id domain.SessionID) (*domain.Session, error) {
	sess, ok := s.sessions[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	if !sess.IsActive() {
		return nil, core.ErrArchived
	}
	return sess, nil
}

func (s *Store) AddParticipant(_ context.Context, id domain.SessionID, p domain.Participant) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.active(id)
	if err != nil {
		return false, err
	}
	if sess.IsParticipant(p.UserID) {
		return false, nil
	}
	p.Online = false
	sess.Participants = append(sess.Participants, p)
	sess.UpdatedAt = p.JoinedAt
	return true, nil
}

func (s *Store) SelectStory(_ context.Context, id domain.SessionID, story domain.Story, first *domain.Round) (domain.Story, *domain.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.active(id)
	if err != nil {
		return domain.Story{}, nil, err
	}
	key := roundKey{id, story.ID}
	ids := s.byStory[key]
	st := sess.UpsertStory(story)
	sess.CurrentStoryID = st.ID
	sess.UpdatedAt = first.CreatedAt
	if len(ids) == 0 {
		s.rounds[first.ID] = first.Clone()
		s.byStory[key] = []string{first.ID}
		return st, first.Clone(), nil
	}
	return st, s.rounds[ids[len(ids)-1]].Clone(), nil
}

func (s *Store) ClearStory(_ context.Context, id domain.SessionID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.active(id)
	if err != nil {
		return err
	}
	sess.CurrentStoryID = ""
	sess.UpdatedAt = at
	return nil
}

func (s *Store) ArchiveSession(_ context.Context, id domain.SessionID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.active(id)
	if err != nil {
		return err
	}
	sess.Status = domain.SessionArchived
	sess.UpdatedAt = at
	return nil
}

func (s *Store) SetParticipantOnline(_ context.Context, id domain.SessionID, user domain.UserID, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return core.ErrNotFound
	}
	sess.SetOnline(user, online)
	return nil
}

func (s *Store) ResetPresence(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		for i := range sess.Participants {
			sess.Participants[i].Online = false
		}
	}
	return nil
}

func (s *Store) FindCurrentRound(_ context.Context, session domain.SessionID, story string) (*domain.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.byStory[roundKey{session, story}]
	if len(ids) == 0 {
		return nil, core.ErrNotFound
	}
	return s.rounds[ids[len(ids)-1]].Clone(), nil
}

func (s *Store) ListRounds(_ context.Context, session domain.SessionID, story string) ([]*domain.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.byStory[roundKey{session, story}]
	out := make([]*domain.Round, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.rounds[id].Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (s *Store) InsertRound(_ context.Context, r *domain.Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.active(r.SessionID)
	if err != nil {
		return err
	}
	key := roundKey{r.SessionID, r.StoryID}
	for _, id := range s.byStory[key] {
		if s.rounds[id].Number == r.Number {
			return core.ErrConflict
		}
	}
	if _, ok := s.rounds[r.ID]; ok {
		return core.ErrConflict
	}
	s.rounds[r.ID] = r.Clone()
	s.byStory[key] = append(s.byStory[key], r.ID)
	if st, ok := sess.Story(r.StoryID); ok && st.Status == domain.StoryEstimated {
		sess.MarkReady(r.StoryID)
	}
	sess.UpdatedAt = r.CreatedAt
	return nil
}

// round returns a round of an active session. mu must be held.
func (s *Store) round(roundID string) (*domain.Round, *domain.Session, error) {
	r, ok := s.rounds[roundID]
	if !ok {
		return nil, nil, core.ErrNotFound
	}
	sess, err := s.active(r.SessionID)
	if err != nil {
		return nil, nil, err
	}
	return r, sess, nil
}

// openRound must be called with mu held.
func (s *Store) openRound(roundID string) (*domain.Round, error) {
	r, _, err := s.round(roundID)
	if err != nil {
		return nil, err
	}
	if !r.IsOpen() {
		return nil, core.ErrConflict
	}
	return r, nil
}

func (s *Store) UpsertVote(_ context.Context, roundID string, v domain.Vote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.openRound(roundID)
	if err != nil {
		return err
	}
	r.Votes[v.UserID] = v
	return nil
}

func (s *Store) DeleteVote(_ context.Context, roundID string, user domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.openRound(roundID)
	if err != nil {
		return err
	}
	delete(r.Votes, user)
	return nil
}

func (s *Store) RevealRound(_ context.Context, roundID string, at time.Time, stats core.StatsFunc) (*domain.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.openRound(roundID)
	if err != nil {
		return nil, err
	}
	st, err := stats(r.VoteList())
	if err != nil {
		return nil, err
	}
	revealed := at
	r.RevealedAt = &revealed
	r.Stats = &st
	return r.Clone(), nil
}

func (s *Store) FinalizeRound(_ context.Context, roundID string, value float64, at time.Time) (*domain.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, sess, err := s.round(roundID)
	if err != nil {
		return nil, err
	}
	if r.State() != domain.RoundRevealed {
		return nil, core.ErrConflict
	}
	finalized, v := at, value
	r.FinalizedAt = &finalized
	r.FinalEstimate = &v
	sess.MarkEstimated(r.StoryID, value)
	sess.UpdatedAt = at
	return r.Clone(), nil
}
