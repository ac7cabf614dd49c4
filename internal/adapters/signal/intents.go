package signal

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/dkeye/Estimate/internal/core"
	"github.com/dkeye/Estimate/internal/domain"
	"github.com/rs/zerolog/log"
)

// request is one decoded inbound intent with its caller.
type request struct {
	ctx  context.Context
	cid  core.ConnID
	conn *WsSignalConn
	user domain.User
	env  core.Envelope
}

// session resolves the target session: the envelope's, else the room the
// connection has joined.
func (ctl *SignalWSController) session(r *request) domain.SessionID {
	if r.env.SessionID != "" {
		return r.env.SessionID
	}
	id, _ := ctl.Orch.Registry.RoomOf(r.cid)
	return id
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, cid core.ConnID, c *WsSignalConn, data []byte) {
	var env core.Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		log.Debug().Err(err).Str("module", "signal").Str("conn", string(cid)).Msg("bad json")
		ctl.sendError(c, "", "", domain.ErrBadPayload)
		return
	}
	user, ok := ctl.Orch.Registry.UserOf(cid)
	if !ok {
		ctl.sendError(c, env.RequestID, env.SessionID, domain.ErrUnauthenticated)
		return
	}
	r := &request{ctx: ctx, cid: cid, conn: c, user: user, env: env}

	if env.Type == core.IntentPing {
		ctl.reply(r, core.EventPong, nil)
		return
	}
	if !ctl.limiter.Allow(user.ID) {
		ctl.fail(r, domain.ErrRateLimited)
		return
	}

	var err error
	switch env.Type {
	case core.IntentJoin:
		err = ctl.handleJoin(r)
	case core.IntentLeave:
		ctl.Orch.Leave(ctx, cid)
	case core.IntentCastVote:
		err = ctl.handleVote(r)
	case core.IntentRetractVote:
		err = ctl.handleRetract(r)
	case core.IntentSelectStory:
		err = ctl.handleSelectStory(r)
	case core.IntentClearStory:
		err = ctl.Orch.Machine.ClearStory(ctx, ctl.session(r), user)
	case core.IntentReveal:
		_, err = ctl.Orch.Machine.Reveal(ctx, ctl.session(r), user)
	case core.IntentRevote:
		_, err = ctl.Orch.Machine.StartRevote(ctx, ctl.session(r), user)
	case core.IntentFinalize:
		err = ctl.handleFinalize(r)
	case core.IntentEndSession:
		err = ctl.handleEndSession(r)
	case core.IntentTyping:
		err = ctl.handleTyping(r)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown intent")
		err = domain.ErrBadPayload
	}

	switch {
	case err != nil:
		ctl.fail(r, err)
	case env.Type == core.IntentJoin, env.Type == core.IntentEndSession:
		// Already answered.
	default:
		ctl.reply(r, core.EventAck, nil)
	}
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return domain.ErrBadPayload
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return domain.ErrBadPayload
	}
	return nil
}

func (ctl *SignalWSController) handleJoin(r *request) error {
	if r.env.SessionID == "" {
		return domain.ErrBadPayload
	}
	joined, err := ctl.Orch.Join(r.ctx, r.cid, r.env.SessionID, r.conn)
	if err != nil {
		return err
	}
	ctl.reply(r, core.EventJoined, joined)
	return nil
}

// parseVoteValue accepts a JSON number or a card label string.
func parseVoteValue(raw json.RawMessage) (float64, error) {
	raw = json.RawMessage(strings.TrimSpace(string(raw)))
	if len(raw) == 0 {
		return 0, domain.ErrInvalidVoteValue
	}
	if raw[0] == '"' {
		var label string
		if err := json.Unmarshal(raw, &label); err != nil {
			return 0, domain.ErrInvalidVoteValue
		}
		return domain.ParseCard(label)
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, domain.ErrInvalidVoteValue
	}
	return v, domain.ValidateCard(v)
}

func (ctl *SignalWSController) handleVote(r *request) error {
	var p core.VotePayload
	if err := decode(r.env.Payload, &p); err != nil {
		return err
	}
	v, err := parseVoteValue(p.Value)
	if err != nil {
		return err
	}
	return ctl.Orch.Machine.CastVote(r.ctx, ctl.session(r), p.StoryID, r.user, v)
}

func (ctl *SignalWSController) handleRetract(r *request) error {
	var p core.VotePayload
	if len(r.env.Payload) > 0 {
		if err := decode(r.env.Payload, &p); err != nil {
			return err
		}
	}
	return ctl.Orch.Machine.RetractVote(r.ctx, ctl.session(r), p.StoryID, r.user)
}

func (ctl *SignalWSController) handleSelectStory(r *request) error {
	var p core.SelectStoryPayload
	if err := decode(r.env.Payload, &p); err != nil {
		return err
	}
	_, err := ctl.Orch.Machine.SelectStory(r.ctx, ctl.session(r), p.Story, r.user)
	return err
}

func (ctl *SignalWSController) handleFinalize(r *request) error {
	var p core.FinalizePayload
	if err := decode(r.env.Payload, &p); err != nil {
		return err
	}
	_, err := ctl.Orch.Machine.Finalize(r.ctx, ctl.session(r), r.user, p.Value)
	return err
}

// handleEndSession acks before the room is drained so the host's own
// connection still receives it.
func (ctl *SignalWSController) handleEndSession(r *request) error {
	id := ctl.session(r)
	if err := ctl.Orch.Machine.EndSession(r.ctx, id, r.user); err != nil {
		return err
	}
	ctl.reply(r, core.EventAck, nil)
	ctl.Orch.EvictRoom(r.ctx, id)
	return nil
}

func (ctl *SignalWSController) handleTyping(r *request) error {
	var p core.TypingIntentPayload
	if err := decode(r.env.Payload, &p); err != nil {
		return err
	}
	return ctl.Orch.OnTyping(r.cid, p.IsTyping)
}

func (ctl *SignalWSController) reply(r *request, typ string, payload any) {
	ctl.sendJSON(r.conn, core.Event{
		Type:      typ,
		SessionID: ctl.session(r),
		RequestID: r.env.RequestID,
		Payload:   payload,
	})
}

func (ctl *SignalWSController) fail(r *request, err error) {
	ctl.sendError(r.conn, r.env.RequestID, ctl.session(r), err)
}

func (ctl *SignalWSController) sendError(c *WsSignalConn, requestID string, session domain.SessionID, err error) {
	reason := domain.Reason(err)
	if reason == "Internal" || reason == "StorageUnavailable" {
		log.Error().Err(err).Str("module", "signal").Str("session", string(session)).Msg("intent failed")
	} else {
		log.Debug().Err(err).Str("module", "signal").Str("session", string(session)).Msg("intent rejected")
	}
	ctl.sendJSON(c, core.Event{
		Type:      core.EventError,
		SessionID: session,
		RequestID: requestID,
		Payload:   core.ErrorPayload{Reason: reason, Message: domain.Message(err)},
	})
}

func (ctl *SignalWSController) sendJSON(c *WsSignalConn, ev core.Event) {
	b, err := ev.Encode()
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	if err := c.TrySend(b); err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("type", ev.Type).Msg("reply dropped")
	}
}
