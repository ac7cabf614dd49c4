package core

import "github.com/dkeye/Estimate/internal/domain"

// Frame is a single encoded wire message.
type Frame []byte

// ConnID identifies one transport connection. A user may hold several.
type ConnID string

// SignalConnection abstracts the messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	// Drain closes the connection after every queued frame has been written.
	Drain()
	Close()
}

// MemberSession binds a verified user and its transport endpoint.
// This is what a room stores and fans out to.
type MemberSession interface {
	User() domain.User
	Signal() SignalConnection
}

// PublishResult reports delivery stats/backpressure to the router.
type PublishResult struct {
	SendTo  int
	Dropped []ConnID
}

// MemberDTO is a read-only view for APIs (no transport fields).
type MemberDTO struct {
	ConnID   ConnID        `json:"connId"`
	UserID   domain.UserID `json:"userId"`
	Username string        `json:"username"`
}

// RoomService is the core-facing API of a session room.
// It owns the membership set but never touches transport resources,
// except Drain which hands every connection back to its adapter for closing.
type RoomService interface {
	SessionID() domain.SessionID
	MemberCount() int
	MembersSnapshot() []MemberDTO

	AddMember(cid ConnID, ms MemberSession)
	RemoveMember(cid ConnID) bool
	Broadcast(except ConnID, data Frame) PublishResult
	SendToUser(uid domain.UserID, data Frame) PublishResult
	Drain() []ConnID
}

type RoomInfo struct {
	SessionID   domain.SessionID `json:"sessionId"`
	MemberCount int              `json:"connectionCount"`
}
