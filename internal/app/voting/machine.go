// Package voting holds the estimation state machine: story selection,
// voting, reveal, finalize and re-vote. Every transition is applied against
// the durable store first and broadcast to the session room only on success.
package voting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/Estimate/internal/core"
	"github.com/dkeye/Estimate/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const defaultSyncTimeout = 10 * time.Second

// Presence reports which users currently hold a live connection to a session.
type Presence interface {
	OnlineUsers(session domain.SessionID) []domain.UserID
}

type Machine struct {
	store     core.Store
	bus       core.Broadcaster
	commenter core.IssueCommenter
	presence  Presence

	now         func() time.Time
	newID       func() string
	syncTimeout time.Duration

	// syncs tracks background issue comments.
	syncs sync.WaitGroup
}

type Option func(*Machine)

func WithCommenter(c core.IssueCommenter) Option { return func(m *Machine) { m.commenter = c } }

func WithPresence(p Presence) Option { return func(m *Machine) { m.presence = p } }

func WithClock(now func() time.Time) Option { return func(m *Machine) { m.now = now } }

func WithIDs(gen func() string) Option { return func(m *Machine) { m.newID = gen } }

func WithSyncTimeout(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.syncTimeout = d
		}
	}
}

func New(store core.Store, bus core.Broadcaster, opts ...Option) *Machine {
	m := &Machine{
		store:       store,
		bus:         bus,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
		syncTimeout: defaultSyncTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Wait blocks until every background sync started by Finalize has returned.
func (m *Machine) Wait() { m.syncs.Wait() }

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStorageUnavailable, err)
}

// LoadSession fetches the session aggregate.
func (m *Machine) LoadSession(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	sess, err := m.store.FindSession(ctx, id)
	switch {
	case errors.Is(err, core.ErrNotFound):
		return nil, domain.ErrSessionNotFound
	case err != nil:
		return nil, storageErr("find session", err)
	}
	return sess, nil
}

// sessionWriteErr maps a failed session-level write. The store re-checks the
// session status inside the write, so a session archived after it was loaded
// surfaces here.
func sessionWriteErr(op string, err error) error {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return domain.ErrSessionNotFound
	case errors.Is(err, core.ErrArchived):
		return domain.ErrSessionArchived
	}
	return storageErr(op, err)
}

// hostSession loads a session the caller may steer. A non-host always gets
// ErrNotHost, even on an archived session.
func (m *Machine) hostSession(ctx context.Context, id domain.SessionID, caller domain.User) (*domain.Session, error) {
	sess, err := m.LoadSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sess.IsHost(caller.ID) {
		return nil, domain.ErrNotHost
	}
	if !sess.IsActive() {
		return nil, domain.ErrSessionArchived
	}
	return sess, nil
}

func (m *Machine) participantSession(ctx context.Context, id domain.SessionID, caller domain.User) (*domain.Session, error) {
	sess, err := m.LoadSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sess.IsActive() {
		return nil, domain.ErrSessionArchived
	}
	if !sess.IsParticipant(caller.ID) {
		return nil, domain.ErrNotParticipant
	}
	return sess, nil
}

// latestRound returns the latest round of storyID, or of the current story
// when storyID is empty. A missing story or round yields a nil round.
func (m *Machine) latestRound(ctx context.Context, sess *domain.Session, storyID string) (*domain.Round, error) {
	if storyID == "" {
		storyID = sess.CurrentStoryID
	}
	if storyID == "" {
		return nil, nil
	}
	r, err := m.store.FindCurrentRound(ctx, sess.ID, storyID)
	switch {
	case errors.Is(err, core.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, storageErr("find round", err)
	}
	return r, nil
}

func (m *Machine) publish(id domain.SessionID, typ string, payload any) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(id, core.Event{Type: typ, SessionID: id, Payload: payload})
}

// CreateSession opens a new active session hosted by caller.
func (m *Machine) CreateSession(ctx context.Context, name string, mode domain.VotingMode, caller domain.User) (*domain.Session, error) {
	sess := domain.NewSession(domain.SessionID(m.newID()), name, caller, mode, m.now())
	if err := m.store.CreateSession(ctx, sess); err != nil {
		return nil, storageErr("create session", err)
	}
	log.Info().Str("module", "voting").Str("session", string(sess.ID)).Str("host", string(caller.ID)).Msg("session created")
	return sess, nil
}

// Enroll adds caller to the session roster. Enrolling twice is a no-op.
func (m *Machine) Enroll(ctx context.Context, id domain.SessionID, caller domain.User, avatar string) (*domain.Session, error) {
	added, err := m.store.AddParticipant(ctx, id, domain.NewParticipant(caller, avatar, m.now()))
	if err != nil {
		return nil, sessionWriteErr("add participant", err)
	}
	sess, err := m.LoadSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if added {
		log.Info().Str("module", "voting").Str("session", string(id)).Str("user", string(caller.ID)).Msg("participant enrolled")
	}
	return sess, nil
}
