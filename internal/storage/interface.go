package storage

import (
	"context"
	"time"

	"github.com/roomsync/roomsync/internal/model"
)

// AuditEvent is a fire-and-forget audit log entry
type AuditEvent struct {
	RoomID    model.RoomID
	UserID    model.UserID
	Type      string
	Data      map[string]any
	Timestamp time.Time
}

// Store defines the interface for data persistence.
//
// Implementations provide row-level CRUD plus a small set of conditional
// operations; no caller assumes cross-row transactions. AutoTransferHost is
// the one atomic-ish compound operation the engine relies on.
type Store interface {
	// Room operations
	SaveRoom(ctx context.Context, room *model.Room) error
	GetRoom(ctx context.Context, id model.RoomID) (*model.Room, error)
	GetRoomByCode(ctx context.Context, code model.RoomCode) (*model.Room, error)
	DeleteRoom(ctx context.Context, id model.RoomID) error
	RoomCodeExists(ctx context.Context, code model.RoomCode) (bool, error)

	// SetRoomStatus updates the room status only when the current status
	// matches from (conditional update with an equality filter)
	SetRoomStatus(ctx context.Context, id model.RoomID, from, to model.RoomStatus) error

	// Member operations
	SaveMember(ctx context.Context, member *model.Member) error
	GetMember(ctx context.Context, roomID model.RoomID, userID model.UserID) (*model.Member, error)
	// GetMembers returns all members of a room ordered by join time
	GetMembers(ctx context.Context, roomID model.RoomID) ([]*model.Member, error)
	DeleteMember(ctx context.Context, roomID model.RoomID, userID model.UserID) error

	// AutoTransferHost demotes the leaving host and promotes the
	// oldest-joined connected member, returning the new host. Returns nil
	// when no connected member exists; the host role is then vacant at the
	// member level pending the old host's reconnection.
	AutoTransferHost(ctx context.Context, roomID model.RoomID, leavingHostID model.UserID) (*model.Member, error)

	// ListStaleMembers returns connected members across all rooms whose
	// last ping is older than the given instant
	ListStaleMembers(ctx context.Context, olderThan time.Time) ([]*model.Member, error)

	// Session operations. SaveSession overwrites any previous session for
	// the same (user, room) pair.
	SaveSession(ctx context.Context, session *model.Session) error
	GetSessionByToken(ctx context.Context, token string) (*model.Session, error)
	DeleteSession(ctx context.Context, token string) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error)

	// Audit log. Callers treat failures as non-fatal.
	LogEvent(ctx context.Context, roomID model.RoomID, userID model.UserID, eventType string, data map[string]any) error
	GetEvents(ctx context.Context, roomID model.RoomID, limit int) ([]AuditEvent, error)
}
