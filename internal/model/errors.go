package model

import "errors"

// Common errors used across the application
var (
	// Room errors
	ErrRoomNotFound     = errors.New("room not found")
	ErrRoomFull         = errors.New("room is full")
	ErrRoomNotAvailable = errors.New("room is not available for this operation")

	// Member errors
	ErrPlayerNotFound = errors.New("player not found in room")
	ErrNotHost        = errors.New("player is not the host")

	// Join lock errors
	ErrJoinLockContended = errors.New("join already in progress for this player")

	// Session errors
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session has expired")
	ErrSessionInvalid  = errors.New("session is not active")

	// Status sync errors
	ErrConflictUnresolved   = errors.New("status conflict could not be resolved")
	ErrBulkUpdateRolledBack = errors.New("bulk update exceeded failure threshold and was rolled back")
)
