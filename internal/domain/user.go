// Package domain holds the estimation entities and the rules that do not
// need storage or transport: card values, round state and statistics.
package domain

import (
	"errors"
	"strings"
)

const (
	MaxUserIDLen   = 64
	MaxUsernameLen = 36
)

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
	ErrUserIDInvalid   = errors.New("user id invalid")
)

type UserID string

// User is the verified identity behind a connection or request.
type User struct {
	ID       UserID `json:"id"`
	Username string `json:"username"`
}

// NewUser validates identity claims before they reach the engine.
func NewUser(id, username string) (User, error) {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > MaxUserIDLen {
		return User{}, ErrUserIDInvalid
	}
	u := User{ID: UserID(id)}
	if err := u.SetUsername(username); err != nil {
		return User{}, err
	}
	return u, nil
}

func (u *User) SetUsername(username string) error {
	username = strings.TrimSpace(username)
	if len(username) == 0 {
		return ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	u.Username = username
	return nil
}
