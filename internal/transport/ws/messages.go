package ws

import "github.com/roomsync/roomsync/internal/model"

// Inbound message types
const (
	inboundCreateRoom     = "createRoom"
	inboundJoinRoom       = "joinRoom"
	inboundLeaveRoom      = "leaveRoom"
	inboundHeartbeat      = "heartbeat"
	inboundUpdateStatus   = "updateStatus"
	inboundBulkUpdate     = "bulkUpdateStatus"
	inboundRecoverSession = "recoverSession"
	inboundPlayerReturn   = "returnToLobby"
	inboundGroupReturn    = "returnAllToLobby"
	inboundGameEnd        = "gameEnd"
	inboundReconcile      = "reconcileStatus"
)

// inboundMessage is the envelope for every client-to-server message. Fields
// are a union across message types; each handler reads the ones it needs.
type inboundMessage struct {
	Type     string `json:"type"`
	RoomCode string `json:"roomCode,omitempty"`
	UserID   string `json:"userId,omitempty"`

	// createRoom / joinRoom
	DisplayName  string         `json:"displayName,omitempty"`
	CustomName   string         `json:"customName,omitempty"`
	ActivityType string         `json:"activityType,omitempty"`
	MaxPlayers   int            `json:"maxPlayers,omitempty"`
	Settings     map[string]any `json:"settings,omitempty"`

	// updateStatus
	Status    string         `json:"status,omitempty"`
	Location  string         `json:"location,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Immediate bool           `json:"immediate,omitempty"`
	Reason    string         `json:"reason,omitempty"`

	// bulkUpdateStatus / gameEnd
	Players []bulkEntry    `json:"players,omitempty"`
	Result  map[string]any `json:"result,omitempty"`

	// recoverSession
	SessionToken string `json:"sessionToken,omitempty"`

	// reconcileStatus
	Report       *statusReport `json:"report,omitempty"`
	ServerReport *statusReport `json:"serverReport,omitempty"`
	Strategy     string        `json:"strategy,omitempty"`
}

type bulkEntry struct {
	UserID   string         `json:"userId"`
	Status   string         `json:"status"`
	Location string         `json:"location"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type statusReport struct {
	Connected  bool   `json:"connected"`
	InGame     bool   `json:"inGame"`
	Location   string `json:"location"`
	ObservedAt int64  `json:"observedAt"` // unix millis
}

// ackMessage confirms a request that changed the caller's own binding
type ackMessage struct {
	Type         string             `json:"type"`
	RoomCode     model.RoomCode     `json:"roomCode,omitempty"`
	SessionToken string             `json:"sessionToken,omitempty"`
	Room         *model.Room        `json:"room,omitempty"`
	Players      []model.PlayerView `json:"players,omitempty"`
	Rejoin       bool               `json:"rejoin,omitempty"`
}

// errorMessage reports a failed request back to the caller only
type errorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newError(code, message string) errorMessage {
	return errorMessage{Type: "error", Code: code, Message: message}
}
