package model

import "time"

// UserID uniquely identifies a user across the system
type UserID string

// MemberRole distinguishes the host from regular players
type MemberRole string

const (
	RoleHost   MemberRole = "host"
	RolePlayer MemberRole = "player"
)

// Location is where a member currently is
type Location string

const (
	LocationLobby        Location = "lobby"
	LocationGame         Location = "game" // inside an external activity
	LocationDisconnected Location = "disconnected"
)

// Member represents a user's membership in a room.
//
// A member row is created on first join and deleted only on explicit leave;
// a transport drop just flips Connected. Exactly one member per active room
// holds RoleHost.
type Member struct {
	RoomID      RoomID
	UserID      UserID
	DisplayName string
	CustomName  string // optional display override, refreshed on rejoin
	Role        MemberRole
	Connected   bool
	InGame      bool
	Location    Location
	LastPing    time.Time
	TransportID string // empty while the member is inside an external activity
	JoinedAt    time.Time
	UpdatedAt   time.Time
}

// Name returns the effective display name
func (m *Member) Name() string {
	if m.CustomName != "" {
		return m.CustomName
	}
	return m.DisplayName
}

// IsActive reports whether the member counts against abandonment: connected,
// or inside an external activity with no live transport
func (m *Member) IsActive() bool {
	return m.Connected || m.InGame || m.Location == LocationGame
}

// StatusTriple is the canonical {connected, in-game, location} view of a member
type StatusTriple struct {
	Connected bool     `json:"isConnected"`
	InGame    bool     `json:"inGame"`
	Location  Location `json:"currentLocation"`
}

// ComputeStatusTriple recomputes the canonical triple from a reported
// (status, location) pair
func ComputeStatusTriple(status string, location Location) StatusTriple {
	switch location {
	case LocationDisconnected:
		return StatusTriple{Connected: false, InGame: false, Location: LocationDisconnected}
	case LocationGame:
		return StatusTriple{Connected: status != "disconnected", InGame: true, Location: LocationGame}
	default:
		return StatusTriple{Connected: status != "disconnected", InGame: false, Location: LocationLobby}
	}
}
