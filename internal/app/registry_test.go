package app_test

import (
	"testing"

	"github.com/dkeye/Estimate/internal/app"
	"github.com/dkeye/Estimate/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryMultiTabPresence(t *testing.T) {
	reg := app.NewRegistry()
	alice := domain.User{ID: "alice", Username: "Alice"}
	reg.BindConn("tab1", alice, nil)
	reg.BindConn("tab2", alice, nil)

	first, ok := reg.Join("tab1", "s1")
	require.True(t, ok)
	assert.True(t, first)

	first, ok = reg.Join("tab2", "s1")
	require.True(t, ok)
	assert.False(t, first)
	assert.True(t, reg.Online("s1", "alice"))

	session, user, last, ok := reg.Leave("tab1")
	require.True(t, ok)
	assert.Equal(t, domain.SessionID("s1"), session)
	assert.Equal(t, alice, user)
	assert.False(t, last)
	assert.True(t, reg.Online("s1", "alice"))

	_, _, last, ok = reg.Leave("tab2")
	require.True(t, ok)
	assert.True(t, last)
	assert.False(t, reg.Online("s1", "alice"))
	assert.Empty(t, reg.OnlineUsers("s1"))
}

func TestRegistryLeaveWithoutRoom(t *testing.T) {
	reg := app.NewRegistry()
	reg.BindConn("c1", domain.User{ID: "bob"}, nil)

	_, _, _, ok := reg.Leave("c1")
	assert.False(t, ok)

	_, ok = reg.Join("unknown", "s1")
	assert.False(t, ok)
}

func TestRegistryUnbindClearsPresence(t *testing.T) {
	reg := app.NewRegistry()
	reg.BindConn("c1", domain.User{ID: "bob"}, nil)
	reg.Join("c1", "s1")
	require.Equal(t, []domain.UserID{"bob"}, reg.OnlineUsers("s1"))

	reg.Unbind("c1")
	assert.False(t, reg.Online("s1", "bob"))
	_, ok := reg.UserOf("c1")
	assert.False(t, ok)
}

func TestRegistryCancel(t *testing.T) {
	reg := app.NewRegistry()
	canceled := false
	reg.BindConn("c1", domain.User{ID: "bob"}, func() { canceled = true })

	assert.True(t, reg.Cancel("c1"))
	assert.True(t, canceled)
	assert.False(t, reg.Cancel("c2"))
}

func TestRegistryRoomOfAndMembers(t *testing.T) {
	reg := app.NewRegistry()
	reg.BindConn("c1", domain.User{ID: "bob"}, nil)
	reg.BindConn("c2", domain.User{ID: "eve"}, nil)
	reg.Join("c1", "s1")
	reg.Join("c2", "s1")

	room, ok := reg.RoomOf("c1")
	require.True(t, ok)
	assert.Equal(t, domain.SessionID("s1"), room)
	assert.ElementsMatch(t, []string{"c1", "c2"}, connStrings(reg.MembersOfRoom("s1")))
}
