package core_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/dkeye/Estimate/internal/core"
	"github.com/dkeye/Estimate/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSignal struct {
	mu      sync.Mutex
	frames  []core.Frame
	full    bool
	drained bool
	closed  bool
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

func (f *fakeSignal) Drain() {
	f.mu.Lock()
	f.drained = true
	f.mu.Unlock()
}

func (f *fakeSignal) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeSignal) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func member(id string) (core.MemberSession, *fakeSignal) {
	sig := &fakeSignal{}
	return core.NewMemberSession(domain.User{ID: domain.UserID(id), Username: id}, sig), sig
}

func TestRoomBroadcast(t *testing.T) {
	room := core.NewRoomService("s1")
	alice, aliceSig := member("alice")
	bob, bobSig := member("bob")
	room.AddMember("c1", alice)
	room.AddMember("c2", bob)

	res := room.Broadcast("", core.Frame("hello"))
	assert.Equal(t, 2, res.SendTo)
	assert.Empty(t, res.Dropped)

	res = room.Broadcast("c1", core.Frame("typing"))
	assert.Equal(t, 1, res.SendTo)
	assert.Equal(t, 1, aliceSig.count())
	assert.Equal(t, 2, bobSig.count())
}

func TestRoomBroadcastReportsDropped(t *testing.T) {
	room := core.NewRoomService("s1")
	slow, slowSig := member("slow")
	slowSig.full = true
	room.AddMember("c1", slow)

	res := room.Broadcast("", core.Frame("x"))
	assert.Equal(t, 0, res.SendTo)
	assert.Equal(t, []core.ConnID{"c1"}, res.Dropped)
}

func TestRoomSendToUserReachesEveryTab(t *testing.T) {
	room := core.NewRoomService("s1")
	tab1, sig1 := member("alice")
	tab2, sig2 := member("alice")
	bob, bobSig := member("bob")
	room.AddMember("c1", tab1)
	room.AddMember("c2", tab2)
	room.AddMember("c3", bob)

	res := room.SendToUser("alice", core.Frame("warn"))
	assert.Equal(t, 2, res.SendTo)
	assert.Equal(t, 1, sig1.count())
	assert.Equal(t, 1, sig2.count())
	assert.Equal(t, 0, bobSig.count())

	assert.True(t, room.RemoveMember("c1"))
	assert.False(t, room.RemoveMember("c1"))
	res = room.SendToUser("alice", core.Frame("warn"))
	assert.Equal(t, 1, res.SendTo)
}

func TestRoomDrain(t *testing.T) {
	room := core.NewRoomService("s1")
	alice, aliceSig := member("alice")
	room.AddMember("c1", alice)

	drained := room.Drain()
	require.Equal(t, []core.ConnID{"c1"}, drained)
	assert.True(t, aliceSig.drained)
	assert.False(t, aliceSig.closed)
	assert.Equal(t, 0, room.MemberCount())
}

func TestRoomMembersSnapshot(t *testing.T) {
	room := core.NewRoomService("s1")
	alice, _ := member("alice")
	bob, _ := member("bob")
	room.AddMember("c2", bob)
	room.AddMember("c1", alice)

	snap := room.MembersSnapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, core.ConnID("c1"), snap[0].ConnID)
	assert.Equal(t, domain.UserID("alice"), snap[0].UserID)
}
