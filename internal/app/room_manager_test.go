package app_test

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/dkeye/Estimate/internal/app"
	"github.com/dkeye/Estimate/internal/core"
	"github.com/dkeye/Estimate/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type fakeSignal struct {
	mu      sync.Mutex
	frames  []core.Frame
	full    bool
	drained bool
}

func (f *fakeSignal) TrySend(fr core.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return errors.New("backpressure")
	}
	f.frames = append(f.frames, fr)
	return nil
}

func (f *fakeSignal) Drain() { f.mu.Lock(); f.drained = true; f.mu.Unlock() }
func (f *fakeSignal) Close() {}

func (f *fakeSignal) events(t *testing.T) []core.Envelope {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]core.Envelope, 0, len(f.frames))
	for _, fr := range f.frames {
		var env core.Envelope
		require.NoError(t, json.Unmarshal(fr, &env))
		out = append(out, env)
	}
	return out
}

func connStrings(ids []core.ConnID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, string(id))
	}
	return out
}

func addConn(m *app.RoomManager, session domain.SessionID, cid core.ConnID, user domain.UserID) *fakeSignal {
	sig := &fakeSignal{}
	m.Join(session, cid, core.NewMemberSession(domain.User{ID: user, Username: string(user)}, sig))
	return sig
}

func TestPublishReachesEveryMember(t *testing.T) {
	m := app.NewRoomManager(app.SimplePolicy{})
	a := addConn(m, "s1", "c1", "alice")
	b := addConn(m, "s1", "c2", "bob")
	other := addConn(m, "s2", "c3", "carol")

	res := m.Publish("s1", core.Event{Type: core.EventSessionEnded})
	assert.Equal(t, 2, res.SendTo)

	for _, sig := range []*fakeSignal{a, b} {
		evs := sig.events(t)
		require.Len(t, evs, 1)
		assert.Equal(t, core.EventSessionEnded, evs[0].Type)
		assert.Equal(t, domain.SessionID("s1"), evs[0].SessionID)
	}
	assert.Empty(t, other.events(t))
}

func TestPublishToEmptyRoomIsNoop(t *testing.T) {
	m := app.NewRoomManager(app.SimplePolicy{})
	res := m.Publish("nobody", core.Event{Type: core.EventVoteStatus})
	assert.Equal(t, 0, res.SendTo)
}

func TestLateJoinerDoesNotReceiveEarlierEvents(t *testing.T) {
	m := app.NewRoomManager(app.SimplePolicy{})
	addConn(m, "s1", "c1", "alice")
	m.Publish("s1", core.Event{Type: core.EventStorySelected})

	late := addConn(m, "s1", "c2", "bob")
	assert.Empty(t, late.events(t))
}

func TestPublishExceptAndToUser(t *testing.T) {
	m := app.NewRoomManager(app.SimplePolicy{})
	a := addConn(m, "s1", "c1", "alice")
	b := addConn(m, "s1", "c2", "bob")

	m.PublishExcept("s1", "c1", core.Event{Type: core.EventTyping})
	assert.Empty(t, a.events(t))
	assert.Len(t, b.events(t), 1)

	m.PublishToUser("s1", "alice", core.Event{Type: core.EventWarning})
	require.Len(t, a.events(t), 1)
	assert.Len(t, b.events(t), 1)
}

func TestSlowConsumerIsKicked(t *testing.T) {
	m := app.NewRoomManager(app.SimplePolicy{})
	var kicked []core.ConnID
	m.OnKick(func(cid core.ConnID) { kicked = append(kicked, cid) })

	slow := addConn(m, "s1", "c1", "alice")
	slow.full = true
	addConn(m, "s1", "c2", "bob")

	res := m.Publish("s1", core.Event{Type: core.EventVoteStatus})
	assert.Equal(t, 1, res.SendTo)
	assert.Equal(t, []core.ConnID{"c1"}, kicked)
}

func TestCloseRoomDrainsConnections(t *testing.T) {
	m := app.NewRoomManager(app.SimplePolicy{})
	a := addConn(m, "s1", "c1", "alice")

	drained := m.CloseRoom("s1")
	assert.Equal(t, []core.ConnID{"c1"}, drained)
	assert.True(t, a.drained)
	_, ok := m.GetRoom("s1")
	assert.False(t, ok)
	assert.Nil(t, m.CloseRoom("s1"))
}

func TestLeaveDropsEmptyRoom(t *testing.T) {
	m := app.NewRoomManager(nil)
	addConn(m, "s1", "c1", "alice")
	require.Len(t, m.List(), 1)

	m.Leave("s1", "c1")
	assert.Empty(t, m.List())
}

func TestJoinAfterLastLeaveLandsInLiveRoom(t *testing.T) {
	m := app.NewRoomManager(nil)
	addConn(m, "s1", "c1", "alice")
	m.Leave("s1", "c1")

	b := addConn(m, "s1", "c2", "bob")
	res := m.Publish("s1", core.Event{Type: core.EventVoteStatus})
	assert.Equal(t, 1, res.SendTo)
	assert.Len(t, b.events(t), 1)
}

func TestJoinRacingLastLeaveIsNeverOrphaned(t *testing.T) {
	m := app.NewRoomManager(nil)
	for i := 0; i < 200; i++ {
		addConn(m, "s1", "c1", "alice")

		sig := &fakeSignal{}
		var g errgroup.Group
		g.Go(func() error { m.Leave("s1", "c1"); return nil })
		g.Go(func() error {
			m.Join("s1", "c2", core.NewMemberSession(domain.User{ID: "bob", Username: "bob"}, sig))
			return nil
		})
		require.NoError(t, g.Wait())

		res := m.Publish("s1", core.Event{Type: core.EventVoteStatus})
		require.Equal(t, 1, res.SendTo, "iteration %d", i)
		require.Len(t, sig.events(t), 1, "iteration %d", i)

		m.Leave("s1", "c2")
		require.Empty(t, m.List())
	}
}
