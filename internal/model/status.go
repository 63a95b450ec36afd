package model

import "time"

// StatusUpdate is a queued request to move a player to a new status/location.
//
// Sequence establishes apply-order independent of arrival order: for any
// (user, room) key only the update with the highest sequence number observed
// is ever the one applied. Superseded entries are discarded, never applied.
type StatusUpdate struct {
	UserID     UserID
	RoomCode   RoomCode
	Status     string
	Location   Location
	Metadata   map[string]any
	Sequence   uint64
	Immediate  bool // bypasses the deferred queue processor
	Reason     string
	RetryCount int
	QueuedAt   time.Time
}

// StatusConflict describes a detected mismatch between a requested status and
// the authoritative member row
type StatusConflict struct {
	Rule     string `json:"rule"`
	Detail   string `json:"detail"`
	Resolved bool   `json:"resolved"`
}

// Conflict rule identifiers
const (
	ConflictInGameWhileDisconnected = "in_game_while_disconnected"
	ConflictLobbyWhileInGame        = "lobby_while_in_game"
)

// ResolutionStrategy identifies how a server/client status disagreement was
// settled on the explicit reconciliation path
type ResolutionStrategy string

const (
	ResolutionTrustDatabase   ResolutionStrategy = "trust_database"
	ResolutionMergeReports    ResolutionStrategy = "merge_reports"
	ResolutionNewerTimestamp  ResolutionStrategy = "newer_timestamp"
	ResolutionRuleBasedRepair ResolutionStrategy = "rule_based_repair"
)

// StatusReport is one side's observation of a player's state, used by the
// explicit reconciliation path
type StatusReport struct {
	Connected  bool
	InGame     bool
	Location   Location
	ObservedAt time.Time
}
