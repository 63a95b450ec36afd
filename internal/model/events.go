package model

import "time"

// EventType identifies the type of broadcast event
type EventType string

const (
	EventPlayerJoined           EventType = "playerJoined"
	EventPlayerLeft             EventType = "playerLeft"
	EventPlayerStatusUpdated    EventType = "playerStatusUpdated"
	EventPlayerDisconnected     EventType = "playerDisconnected"
	EventRoomStatusChanged      EventType = "roomStatusChanged"
	EventRoomStatusSync         EventType = "roomStatusSync"
	EventHostTransferred        EventType = "hostTransferred"
	EventStatusConflictResolved EventType = "statusConflictResolved"
)

// Event is the base structure for all broadcast events
type Event struct {
	Type      EventType `json:"type"`
	RoomCode  RoomCode  `json:"roomCode"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// PlayerView is the member representation carried in broadcast payloads
type PlayerView struct {
	UserID    UserID   `json:"userId"`
	Name      string   `json:"name"`
	Role      string   `json:"role"`
	Connected bool     `json:"isConnected"`
	InGame    bool     `json:"inGame"`
	Location  Location `json:"currentLocation"`
}

// PlayerViewFromMember converts a member row into its broadcast view
func PlayerViewFromMember(m *Member) PlayerView {
	return PlayerView{
		UserID:    m.UserID,
		Name:      m.Name(),
		Role:      string(m.Role),
		Connected: m.Connected,
		InGame:    m.InGame,
		Location:  m.Location,
	}
}

// PlayerViewsFromMembers converts a member list for broadcast
func PlayerViewsFromMembers(members []*Member) []PlayerView {
	views := make([]PlayerView, len(members))
	for i, m := range members {
		views[i] = PlayerViewFromMember(m)
	}
	return views
}

// PlayerJoinedPayload contains data for playerJoined events
type PlayerJoinedPayload struct {
	Player  PlayerView   `json:"player"`
	Players []PlayerView `json:"players"`
	Rejoin  bool         `json:"rejoin,omitempty"`
}

// PlayerLeftPayload contains data for playerLeft events
type PlayerLeftPayload struct {
	UserID  UserID       `json:"playerId"`
	Players []PlayerView `json:"players"`
}

// PlayerStatusUpdatedPayload contains data for playerStatusUpdated events
type PlayerStatusUpdatedPayload struct {
	UserID    UserID           `json:"playerId"`
	Status    StatusTriple     `json:"status"`
	Players   []PlayerView     `json:"players"`
	Conflicts []StatusConflict `json:"conflicts"`
}

// PlayerDisconnectedPayload contains data for playerDisconnected events
type PlayerDisconnectedPayload struct {
	UserID  UserID `json:"playerId"`
	WasHost bool   `json:"wasHost"`
	Reason  string `json:"reason"`
}

// RoomStatusChangedPayload contains data for roomStatusChanged events
type RoomStatusChangedPayload struct {
	NewStatus RoomStatus `json:"newStatus"`
	Reason    string     `json:"reason"`
}

// RoomStatusSyncPayload contains data for roomStatusSync events
type RoomStatusSyncPayload struct {
	Room     *Room        `json:"room"`
	Players  []PlayerView `json:"players"`
	SyncType string       `json:"syncType"`
}

// HostTransferredPayload contains data for hostTransferred events
type HostTransferredPayload struct {
	OldHostID   UserID `json:"oldHostId"`
	NewHostID   UserID `json:"newHostId"`
	NewHostName string `json:"newHostName"`
	Reason      string `json:"reason"`
}

// StatusConflictResolvedPayload contains data for statusConflictResolved events
type StatusConflictResolvedPayload struct {
	UserID         UserID             `json:"playerId"`
	ResolvedStatus StatusTriple       `json:"resolvedStatus"`
	Strategy       ResolutionStrategy `json:"strategy"`
	RequiresAction bool               `json:"requiresAction"`
}
