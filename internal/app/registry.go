package app

import (
	"context"
	"sort"
	"sync"

	"github.com/dkeye/Estimate/internal/core"
	"github.com/dkeye/Estimate/internal/domain"
	"github.com/rs/zerolog/log"
)

type connEntry struct {
	User    domain.User
	Session domain.SessionID
	Cancel  context.CancelFunc
}

// Registry is the presence registry: which users are connected to which
// session room, per connection. It is purely in-memory.
type Registry struct {
	mu       sync.RWMutex
	conns    map[core.ConnID]*connEntry
	presence map[domain.SessionID]map[domain.UserID]map[core.ConnID]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		conns:    make(map[core.ConnID]*connEntry),
		presence: make(map[domain.SessionID]map[domain.UserID]map[core.ConnID]struct{}),
	}
}

// BindConn records an authenticated connection that is not yet in a room.
func (r *Registry) BindConn(cid core.ConnID, user domain.User, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[cid] = &connEntry{User: user, Cancel: cancel}
	log.Debug().Str("module", "app.registry").Str("conn", string(cid)).Str("user", string(user.ID)).Msg("bound conn")
}

func (r *Registry) UserOf(cid core.ConnID) (domain.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[cid]
	if !ok {
		return domain.User{}, false
	}
	return e.User, true
}

func (r *Registry) RoomOf(cid core.ConnID) (domain.SessionID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[cid]
	if !ok || e.Session == "" {
		return "", false
	}
	return e.Session, true
}

// Join marks cid present in session. It reports whether this is the user's
// first live connection in that session.
func (r *Registry) Join(cid core.ConnID, session domain.SessionID) (first bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[cid]
	if !ok {
		return false, false
	}
	e.Session = session
	users := r.presence[session]
	if users == nil {
		users = make(map[domain.UserID]map[core.ConnID]struct{})
		r.presence[session] = users
	}
	set := users[e.User.ID]
	if set == nil {
		set = make(map[core.ConnID]struct{})
		users[e.User.ID] = set
	}
	first = len(set) == 0
	set[cid] = struct{}{}
	log.Info().Str("module", "app.registry").Str("conn", string(cid)).Str("session", string(session)).Bool("first", first).Msg("joined room")
	return first, true
}

// Leave removes cid from its room. It reports whether that was the user's
// last connection there, so the online flag can drop.
func (r *Registry) Leave(cid core.ConnID) (session domain.SessionID, user domain.User, last bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, found := r.conns[cid]
	if !found || e.Session == "" {
		return "", domain.User{}, false, false
	}
	session, user = e.Session, e.User
	e.Session = ""
	last = r.removePresence(session, user.ID, cid)
	log.Info().Str("module", "app.registry").Str("conn", string(cid)).Str("session", string(session)).Bool("last", last).Msg("left room")
	return session, user, last, true
}

func (r *Registry) removePresence(session domain.SessionID, uid domain.UserID, cid core.ConnID) bool {
	users := r.presence[session]
	set := users[uid]
	if set == nil {
		return false
	}
	delete(set, cid)
	if len(set) > 0 {
		return false
	}
	delete(users, uid)
	if len(users) == 0 {
		delete(r.presence, session)
	}
	return true
}

func (r *Registry) Unbind(cid core.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.conns[cid]; ok && e.Session != "" {
		r.removePresence(e.Session, e.User.ID, cid)
	}
	delete(r.conns, cid)
	log.Debug().Str("module", "app.registry").Str("conn", string(cid)).Msg("unbind conn")
}

func (r *Registry) Online(session domain.SessionID, uid domain.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.presence[session][uid]) > 0
}

func (r *Registry) OnlineUsers(session domain.SessionID) []domain.UserID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.UserID, 0, len(r.presence[session]))
	for uid := range r.presence[session] {
		out = append(out, uid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// MembersOfRoom lists the connections currently present in session.
func (r *Registry) MembersOfRoom(session domain.SessionID) []core.ConnID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []core.ConnID
	for _, set := range r.presence[session] {
		for cid := range set {
			out = append(out, cid)
		}
	}
	return out
}

func (r *Registry) Cancel(cid core.ConnID) bool {
	r.mu.RLock()
	e, ok := r.conns[cid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("conn", string(cid)).Msg("canceled conn")
	return true
}
