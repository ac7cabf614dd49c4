package app

import "github.com/dkeye/Estimate/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
)

// Policy decides what happens to a connection whose send buffer is full.
type Policy interface {
	OnBackPressure(room core.RoomService, conn core.ConnID) BackpressureAction
}

// SimplePolicy kicks slow consumers; they resync on reconnect.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(_ core.RoomService, _ core.ConnID) BackpressureAction {
	return KickMember
}
