package orch

import (
	"context"

	"github.com/dkeye/Estimate/internal/core"
	"github.com/dkeye/Estimate/internal/domain"
	"github.com/rs/zerolog/log"
)

// Join places cid in the room of session. A connection is in at most one
// room; joining another leaves the previous one first.
func (o *Orchestrator) Join(ctx context.Context, cid core.ConnID, session domain.SessionID, conn core.SignalConnection) (*core.JoinedPayload, error) {
	user, ok := o.Registry.UserOf(cid)
	if !ok {
		return nil, domain.ErrUnauthenticated
	}
	sess, err := o.Machine.LoadSession(ctx, session)
	if err != nil {
		return nil, err
	}
	if !sess.IsActive() {
		return nil, domain.ErrSessionArchived
	}
	if !sess.IsParticipant(user.ID) {
		return nil, domain.ErrNotParticipant
	}

	if current, ok := o.Registry.RoomOf(cid); ok {
		if current == session {
			return o.joined(session), nil
		}
		o.Leave(ctx, cid)
		log.Info().Str("module", "orch").Str("conn", string(cid)).Str("from", string(current)).Msg("switched room")
	}

	o.Rooms.Join(session, cid, core.NewMemberSession(user, conn))
	first, _ := o.Registry.Join(cid, session)
	if first {
		o.setOnline(ctx, session, user.ID, true)
		o.Rooms.PublishExcept(session, cid, core.Event{
			Type:    core.EventParticipantJoined,
			Payload: core.ParticipantPayload{UserID: user.ID, Username: user.Username},
		})
	}
	log.Info().Str("module", "orch").Str("conn", string(cid)).Str("session", string(session)).
		Str("user", string(user.ID)).Msg("joined")
	return o.joined(session), nil
}

func (o *Orchestrator) joined(session domain.SessionID) *core.JoinedPayload {
	p := &core.JoinedPayload{Members: []core.MemberDTO{}, Online: o.Registry.OnlineUsers(session)}
	if room, ok := o.Rooms.GetRoom(session); ok {
		p.Members = room.MembersSnapshot()
	}
	return p
}

// Leave removes cid from its room. Other participants are told only when the
// user's last connection goes.
func (o *Orchestrator) Leave(ctx context.Context, cid core.ConnID) {
	session, user, last, ok := o.Registry.Leave(cid)
	if !ok {
		return
	}
	o.Rooms.Leave(session, cid)
	if !last {
		return
	}
	o.setOnline(ctx, session, user.ID, false)
	o.Rooms.Publish(session, core.Event{
		Type:    core.EventParticipantLeft,
		Payload: core.ParticipantPayload{UserID: user.ID, Username: user.Username},
	})
}

// EndSession archives the session and closes its room.
func (o *Orchestrator) EndSession(ctx context.Context, session domain.SessionID, caller domain.User) error {
	if err := o.Machine.EndSession(ctx, session, caller); err != nil {
		return err
	}
	o.EvictRoom(ctx, session)
	return nil
}

// EvictRoom detaches every connection of session without leave notices and
// drains them: queued frames are flushed, then the sockets close.
func (o *Orchestrator) EvictRoom(ctx context.Context, session domain.SessionID) {
	offline := make(map[domain.UserID]struct{})
	for _, cid := range o.Registry.MembersOfRoom(session) {
		if _, user, last, ok := o.Registry.Leave(cid); ok && last {
			offline[user.ID] = struct{}{}
		}
	}
	drained := o.Rooms.CloseRoom(session)
	for uid := range offline {
		o.setOnline(ctx, session, uid, false)
	}
	log.Info().Str("module", "orch").Str("session", string(session)).Int("conns", len(drained)).Msg("room evicted")
}
