package model

import "time"

// RoomID uniquely identifies a room across the system
type RoomID string

// RoomCode is a short human-enterable identifier for joining rooms
type RoomCode string

// RoomStatus represents the current state of a room
type RoomStatus string

const (
	RoomStatusLobby     RoomStatus = "lobby"     // Players gathered, no activity running
	RoomStatusInGame    RoomStatus = "in_game"   // External activity in progress
	RoomStatusReturning RoomStatus = "returning" // Group return to lobby in progress
	RoomStatusAbandoned RoomStatus = "abandoned" // No active members remain
)

// JoinableStatuses are the room states that accept new or returning members
var JoinableStatuses = []RoomStatus{RoomStatusLobby, RoomStatusInGame, RoomStatusReturning}

// Room represents a lobby session identified by a short code
type Room struct {
	ID           RoomID         `json:"id"`
	Code         RoomCode       `json:"code"`
	HostID       UserID         `json:"hostId"`
	Status       RoomStatus     `json:"status"`
	ActivityType string         `json:"activityType,omitempty"` // empty when no activity is associated
	MaxPlayers   int            `json:"maxPlayers"`
	Settings     map[string]any `json:"settings,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	LastActivity time.Time      `json:"lastActivity"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// IsJoinable reports whether the room accepts joins in its current status
func (r *Room) IsJoinable() bool {
	for _, s := range JoinableStatuses {
		if r.Status == s {
			return true
		}
	}
	return false
}

// RoomSnapshot is the cached view of a room and its members, assembled for
// broadcast payloads and the validate-room endpoint
type RoomSnapshot struct {
	Room      *Room
	Members   []*Member
	UpdatedAt time.Time
}

// ConnectedCount returns the number of members currently connected
func (s *RoomSnapshot) ConnectedCount() int {
	n := 0
	for _, m := range s.Members {
		if m.Connected {
			n++
		}
	}
	return n
}
