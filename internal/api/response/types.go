package response

import (
	"time"

	"github.com/roomsync/roomsync/internal/model"
)

// Room represents a room in API responses
type Room struct {
	ID           string         `json:"id"`
	Code         string         `json:"code"`
	HostID       string         `json:"host_id"`
	Status       string         `json:"status"`
	ActivityType string         `json:"activity_type,omitempty"`
	MaxPlayers   int            `json:"max_players"`
	Settings     map[string]any `json:"settings,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// RoomFromModel converts a model.Room to a response Room
func RoomFromModel(r *model.Room) Room {
	return Room{
		ID:           string(r.ID),
		Code:         string(r.Code),
		HostID:       string(r.HostID),
		Status:       string(r.Status),
		ActivityType: r.ActivityType,
		MaxPlayers:   r.MaxPlayers,
		Settings:     r.Settings,
		CreatedAt:    r.CreatedAt,
	}
}

// Player represents a room member in API responses
type Player struct {
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	Connected bool   `json:"is_connected"`
	InGame    bool   `json:"in_game"`
	Location  string `json:"current_location"`
}

// PlayerFromModel converts a model.Member to a response Player
func PlayerFromModel(m *model.Member) Player {
	return Player{
		UserID:    string(m.UserID),
		Name:      m.Name(),
		Role:      string(m.Role),
		Connected: m.Connected,
		InGame:    m.InGame,
		Location:  string(m.Location),
	}
}

// PlayersFromModels converts a member list
func PlayersFromModels(members []*model.Member) []Player {
	players := make([]Player, len(members))
	for i, m := range members {
		players[i] = PlayerFromModel(m)
	}
	return players
}

// RoomView is the combined room and member view
type RoomView struct {
	Room    Room     `json:"room"`
	Players []Player `json:"players"`
}

// RoomViewFromSnapshot converts a room snapshot
func RoomViewFromSnapshot(s *model.RoomSnapshot) RoomView {
	return RoomView{
		Room:    RoomFromModel(s.Room),
		Players: PlayersFromModels(s.Members),
	}
}

// ValidateRoom is the response for the room validation endpoint
type ValidateRoom struct {
	Valid          bool   `json:"valid"`
	Status         string `json:"status,omitempty"`
	ConnectedCount int    `json:"connected_count,omitempty"`
	MaxPlayers     int    `json:"max_players,omitempty"`
}

// Join is the response for a successful join
type Join struct {
	Room         Room     `json:"room"`
	Players      []Player `json:"players"`
	SessionToken string   `json:"session_token"`
	Rejoin       bool     `json:"rejoin"`
}

// Status is the response for an applied status update
type Status struct {
	Applied   model.StatusTriple     `json:"applied"`
	Conflicts []model.StatusConflict `json:"conflicts"`
}

// Bulk is the response for a bulk status update
type Bulk struct {
	Applied    []string `json:"applied"`
	Failed     []string `json:"failed"`
	RolledBack bool     `json:"rolled_back"`
}

// Recover is the response for a successful session recovery
type Recover struct {
	Room         Room     `json:"room"`
	Players      []Player `json:"players"`
	SessionToken string   `json:"session_token"`
}

// Reconcile is the response for explicit reconciliation
type Reconcile struct {
	Resolved model.StatusTriple `json:"resolved"`
	Strategy string             `json:"strategy"`
}

// Health is the health check response
type Health struct {
	Status string `json:"status"`
	Store  string `json:"store"`
}
