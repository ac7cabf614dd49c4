package core

import (
	"sort"
	"sync"

	"github.com/dkeye/Estimate/internal/domain"
	"github.com/rs/zerolog/log"
)

// roomImpl is a threadsafe in-memory session room.
// It never closes adapter-owned resources on its own.
type roomImpl struct {
	session domain.SessionID
	mu      sync.RWMutex
	byConn  map[ConnID]MemberSession
	byUser  map[domain.UserID]map[ConnID]struct{}
}

func NewRoomService(session domain.SessionID) RoomService {
	return &roomImpl{
		session: session,
		byConn:  make(map[ConnID]MemberSession),
		byUser:  make(map[domain.UserID]map[ConnID]struct{}),
	}
}

func (r *roomImpl) SessionID() domain.SessionID { return r.session }

func (r *roomImpl) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}

func (r *roomImpl) AddMember(cid ConnID, ms MemberSession) {
	u := ms.User().ID
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byConn[cid] = ms
	if r.byUser[u] == nil {
		r.byUser[u] = make(map[ConnID]struct{})
	}
	r.byUser[u][cid] = struct{}{}
	log.Debug().Str("module", "core.room").Str("session", string(r.session)).Str("conn", string(cid)).Str("user", string(u)).Msg("member added")
}

func (r *roomImpl) RemoveMember(cid ConnID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ms, ok := r.byConn[cid]
	if !ok {
		return false
	}
	u := ms.User().ID
	delete(r.byUser[u], cid)
	if len(r.byUser[u]) == 0 {
		delete(r.byUser, u)
	}
	delete(r.byConn, cid)
	log.Debug().Str("module", "core.room").Str("session", string(r.session)).Str("conn", string(cid)).Msg("member removed")
	return true
}

func (r *roomImpl) Broadcast(except ConnID, data Frame) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := PublishResult{}
	for cid, m := range r.byConn {
		if cid == except {
			continue
		}
		if err := m.Signal().TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, cid)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.room").Str("session", string(r.session)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (r *roomImpl) SendToUser(uid domain.UserID, data Frame) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := PublishResult{}
	for cid := range r.byUser[uid] {
		if err := r.byConn[cid].Signal().TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, cid)
			continue
		}
		res.SendTo++
	}
	return res
}

// Drain empties the room and asks every connection to flush and close.
func (r *roomImpl) Drain() []ConnID {
	r.mu.Lock()
	members := r.byConn
	r.byConn = make(map[ConnID]MemberSession)
	r.byUser = make(map[domain.UserID]map[ConnID]struct{})
	r.mu.Unlock()

	out := make([]ConnID, 0, len(members))
	for cid, m := range members {
		m.Signal().Drain()
		out = append(out, cid)
	}
	log.Info().Str("module", "core.room").Str("session", string(r.session)).Int("drained", len(out)).Msg("room drained")
	return out
}

func (r *roomImpl) MembersSnapshot() []MemberDTO {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]MemberDTO, 0, len(r.byConn))
	for cid, ms := range r.byConn {
		u := ms.User()
		out = append(out, MemberDTO{ConnID: cid, UserID: u.ID, Username: u.Username})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnID < out[j].ConnID })
	return out
}
