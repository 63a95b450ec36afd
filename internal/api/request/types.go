package request

// CreateRoomRequest is the request body for creating a room
type CreateRoomRequest struct {
	UserID       string         `json:"user_id"`
	DisplayName  string         `json:"display_name"`
	ActivityType string         `json:"activity_type,omitempty"`
	MaxPlayers   int            `json:"max_players,omitempty"`
	Settings     map[string]any `json:"settings,omitempty"`
}

// JoinRoomRequest is the request body for joining a room
type JoinRoomRequest struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	CustomName  string `json:"custom_name,omitempty"`
}

// LeaveRoomRequest is the request body for leaving a room
type LeaveRoomRequest struct {
	UserID string `json:"user_id"`
}

// UpdateStatusRequest is the request body for a single status update
type UpdateStatusRequest struct {
	UserID    string         `json:"user_id"`
	Status    string         `json:"status"`
	Location  string         `json:"location"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Immediate bool           `json:"immediate,omitempty"`
	Reason    string         `json:"reason,omitempty"`
}

// BulkPlayer is one player's entry in a bulk update
type BulkPlayer struct {
	UserID   string         `json:"user_id"`
	Status   string         `json:"status"`
	Location string         `json:"location"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// BulkUpdateRequest is the request body for a bulk status update
type BulkUpdateRequest struct {
	Players []BulkPlayer `json:"players"`
	Reason  string       `json:"reason,omitempty"`
}

// RecoverSessionRequest is the request body for session recovery
type RecoverSessionRequest struct {
	SessionToken string `json:"session_token"`
}

// HeartbeatRequest is the request body for a heartbeat
type HeartbeatRequest struct {
	UserID string `json:"user_id"`
}

// GameEndRequest is the request body for ending an external activity
type GameEndRequest struct {
	Result map[string]any `json:"result,omitempty"`
}

// GroupReturnRequest is the request body for a host-initiated group return
type GroupReturnRequest struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason,omitempty"`
}

// StatusReport is one side's observation for explicit reconciliation
type StatusReport struct {
	Connected  bool   `json:"connected"`
	InGame     bool   `json:"in_game"`
	Location   string `json:"location"`
	ObservedAt int64  `json:"observed_at"` // unix millis
}

// ReconcileRequest is the request body for explicit status reconciliation.
// With only a client report, the caller picks the strategy; when a server
// report is supplied as well, the strategy escalation chooses it instead.
type ReconcileRequest struct {
	UserID       string        `json:"user_id"`
	Report       StatusReport  `json:"report"`
	ServerReport *StatusReport `json:"server_report,omitempty"`
	Strategy     string        `json:"strategy,omitempty"`
}
