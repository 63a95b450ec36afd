package redis

import (
	"fmt"

	"github.com/roomsync/roomsync/internal/model"
)

// Key prefix for all room coordination data
const keyPrefix = "roomsync"

// Key generation functions for each entity type

// roomKey returns the Redis key for a Room
func roomKey(id model.RoomID) string {
	return fmt.Sprintf("%s:room:%s", keyPrefix, id)
}

// codeIndexKey returns the Redis key for the room_code -> room_id index
func codeIndexKey(code model.RoomCode) string {
	return fmt.Sprintf("%s:idx:code:%s", keyPrefix, code)
}

// roomsIndexKey returns the Redis key for the SET of all room ids
func roomsIndexKey() string {
	return fmt.Sprintf("%s:idx:rooms", keyPrefix)
}

// memberKey returns the Redis key for a Member
func memberKey(roomID model.RoomID, userID model.UserID) string {
	return fmt.Sprintf("%s:member:%s:%s", keyPrefix, roomID, userID)
}

// membersIndexKey returns the Redis key for the SET of user ids in a room
func membersIndexKey(roomID model.RoomID) string {
	return fmt.Sprintf("%s:idx:members:%s", keyPrefix, roomID)
}

// sessionKey returns the Redis key for a Session
func sessionKey(token string) string {
	return fmt.Sprintf("%s:session:%s", keyPrefix, token)
}

// sessionPairIndexKey returns the Redis key for the (room, user) -> token index
func sessionPairIndexKey(roomID model.RoomID, userID model.UserID) string {
	return fmt.Sprintf("%s:idx:session:%s:%s", keyPrefix, roomID, userID)
}

// sessionsIndexKey returns the Redis key for the SET of all session tokens
func sessionsIndexKey() string {
	return fmt.Sprintf("%s:idx:sessions", keyPrefix)
}

// eventsKey returns the Redis key for a room's audit event list
func eventsKey(roomID model.RoomID) string {
	return fmt.Sprintf("%s:events:%s", keyPrefix, roomID)
}
