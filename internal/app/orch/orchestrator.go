// Package orch coordinates connections with rooms, presence and the voting
// machine. Transport adapters call it; it never touches sockets directly.
package orch

import (
	"context"

	"github.com/dkeye/Estimate/internal/app"
	"github.com/dkeye/Estimate/internal/app/voting"
	"github.com/dkeye/Estimate/internal/core"
	"github.com/dkeye/Estimate/internal/domain"
	"github.com/rs/zerolog/log"
)

type Orchestrator struct {
	Registry *app.Registry
	Rooms    *app.RoomManager
	Machine  *voting.Machine
	// Store receives best-effort durable online flags.
	Store core.Store
}

func New(reg *app.Registry, rooms *app.RoomManager, machine *voting.Machine, store core.Store) *Orchestrator {
	o := &Orchestrator{Registry: reg, Rooms: rooms, Machine: machine, Store: store}
	rooms.OnKick(o.KickByConn)
	return o
}

// Connect binds an authenticated connection. cancel must stop its pumps.
func (o *Orchestrator) Connect(cid core.ConnID, user domain.User, cancel context.CancelFunc) {
	o.Registry.BindConn(cid, user, cancel)
}

// Disconnect runs leave handling for a closed transport and forgets it.
func (o *Orchestrator) Disconnect(ctx context.Context, cid core.ConnID) {
	o.Leave(ctx, cid)
	o.Registry.Unbind(cid)
}

// KickByConn forces a connection closed; its read loop then disconnects it.
func (o *Orchestrator) KickByConn(cid core.ConnID) {
	if o.Registry.Cancel(cid) {
		log.Info().Str("module", "orch").Str("conn", string(cid)).Msg("kicked")
	}
}

// OnTyping relays a typing indicator to the rest of the caller's room.
func (o *Orchestrator) OnTyping(cid core.ConnID, typing bool) error {
	session, ok := o.Registry.RoomOf(cid)
	if !ok {
		return domain.ErrNotParticipant
	}
	user, _ := o.Registry.UserOf(cid)
	o.Rooms.PublishExcept(session, cid, core.Event{
		Type:    core.EventTyping,
		Payload: core.TypingPayload{UserID: user.ID, Username: user.Username, IsTyping: typing},
	})
	return nil
}

func (o *Orchestrator) setOnline(ctx context.Context, session domain.SessionID, user domain.UserID, online bool) {
	if o.Store == nil {
		return
	}
	if err := o.Store.SetParticipantOnline(ctx, session, user, online); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("session", string(session)).
			Str("user", string(user)).Bool("online", online).Msg("presence flag not persisted")
	}
}
