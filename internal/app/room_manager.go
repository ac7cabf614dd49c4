package app

import (
	"sort"
	"sync"

	"github.com/dkeye/Estimate/internal/core"
	"github.com/dkeye/Estimate/internal/domain"
	"github.com/rs/zerolog/log"
)

// RoomManager is the broadcast router: session id -> room of connections.
// It implements core.Broadcaster.
type RoomManager struct {
	mu     sync.RWMutex
	rooms  map[domain.SessionID]core.RoomService
	policy Policy
	// kick is invoked for slow consumers the policy wants gone.
	kick func(core.ConnID)
}

func NewRoomManager(policy Policy) *RoomManager {
	return &RoomManager{rooms: make(map[domain.SessionID]core.RoomService), policy: policy}
}

// OnKick sets the callback used to drop connections rejected by the policy.
func (m *RoomManager) OnKick(fn func(core.ConnID)) {
	m.mu.Lock()
	m.kick = fn
	m.mu.Unlock()
}

// Join adds the connection to the session's room, creating the room if
// needed. Lookup and insert share the write lock with Leave, so a member is
// never added to a room that Leave has just dropped.
func (m *RoomManager) Join(id domain.SessionID, cid core.ConnID, ms core.MemberSession) core.RoomService {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[id]
	if !ok {
		room = core.NewRoomService(id)
		m.rooms[id] = room
	}
	room.AddMember(cid, ms)
	return room
}

func (m *RoomManager) GetRoom(id domain.SessionID) (core.RoomService, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[id]
	return room, ok
}

// Leave removes a connection and drops the room once it is empty.
func (m *RoomManager) Leave(id domain.SessionID, cid core.ConnID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[id]
	if !ok {
		return
	}
	room.RemoveMember(cid)
	if room.MemberCount() == 0 {
		delete(m.rooms, id)
	}
}

func (m *RoomManager) List() []core.RoomInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]core.RoomInfo, 0, len(m.rooms))
	for id, r := range m.rooms {
		out = append(out, core.RoomInfo{SessionID: id, MemberCount: r.MemberCount()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// CloseRoom drains every connection of the room and forgets it.
func (m *RoomManager) CloseRoom(id domain.SessionID) []core.ConnID {
	m.mu.Lock()
	room, ok := m.rooms[id]
	delete(m.rooms, id)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return room.Drain()
}

func (m *RoomManager) Publish(id domain.SessionID, ev core.Event) core.PublishResult {
	return m.publish(id, ev, func(room core.RoomService, f core.Frame) core.PublishResult {
		return room.Broadcast("", f)
	})
}

func (m *RoomManager) PublishExcept(id domain.SessionID, except core.ConnID, ev core.Event) core.PublishResult {
	return m.publish(id, ev, func(room core.RoomService, f core.Frame) core.PublishResult {
		return room.Broadcast(except, f)
	})
}

func (m *RoomManager) PublishToUser(id domain.SessionID, user domain.UserID, ev core.Event) core.PublishResult {
	return m.publish(id, ev, func(room core.RoomService, f core.Frame) core.PublishResult {
		return room.SendToUser(user, f)
	})
}

func (m *RoomManager) publish(id domain.SessionID, ev core.Event, send func(core.RoomService, core.Frame) core.PublishResult) core.PublishResult {
	room, ok := m.GetRoom(id)
	if !ok {
		return core.PublishResult{}
	}
	if ev.SessionID == "" {
		ev.SessionID = id
	}
	frame, err := ev.Encode()
	if err != nil {
		log.Error().Err(err).Str("module", "app.rooms").Str("type", ev.Type).Msg("encode event")
		return core.PublishResult{}
	}
	res := send(room, frame)
	m.applyPolicy(room, res)
	log.Debug().Str("module", "app.rooms").Str("session", string(id)).Str("type", ev.Type).Int("sent_to", res.SendTo).Msg("published")
	return res
}

func (m *RoomManager) applyPolicy(room core.RoomService, res core.PublishResult) {
	if m.policy == nil || len(res.Dropped) == 0 {
		return
	}
	m.mu.RLock()
	kick := m.kick
	m.mu.RUnlock()
	for _, cid := range res.Dropped {
		switch m.policy.OnBackPressure(room, cid) {
		case KickMember:
			log.Warn().Str("module", "app.rooms").Str("session", string(room.SessionID())).Str("conn", string(cid)).Msg("kicking slow consumer")
			if kick != nil {
				kick(cid)
			}
		case NoAction:
		}
	}
}
