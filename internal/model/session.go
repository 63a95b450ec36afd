package model

import "time"

// SessionStatus marks whether a session can still be redeemed
type SessionStatus string

const (
	SessionStatusActive  SessionStatus = "active"
	SessionStatusExpired SessionStatus = "expired"
)

// Session re-associates a fresh connection with an existing member after a
// transport drop. One active session per (user, room); re-creation overwrites
// the previous one.
type Session struct {
	UserID      UserID
	RoomID      RoomID
	Token       string
	TransportID string
	Status      SessionStatus
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// IsRedeemable reports whether the session can still be recovered at the
// given instant
func (s *Session) IsRedeemable(now time.Time) bool {
	return s.Status == SessionStatusActive && now.Before(s.ExpiresAt)
}
