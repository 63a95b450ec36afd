package apierr

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/roomsync/roomsync/internal/model"
)

// APIError represents an API error response
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse wraps an APIError
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// Common error codes
const (
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeRoomNotFound       = "ROOM_NOT_FOUND"
	CodeRoomFull           = "ROOM_FULL"
	CodeRoomNotAvailable   = "ROOM_NOT_AVAILABLE"
	CodePlayerNotFound     = "PLAYER_NOT_FOUND"
	CodeNotHost            = "NOT_HOST"
	CodeJoinInProgress     = "JOIN_IN_PROGRESS"
	CodeSessionNotFound    = "SESSION_NOT_FOUND"
	CodeSessionExpired     = "SESSION_EXPIRED"
	CodeSessionInvalid     = "SESSION_INVALID"
	CodeBulkRolledBack     = "BULK_UPDATE_ROLLED_BACK"
	CodeConflictUnresolved = "CONFLICT_UNRESOLVED"
	CodeRateLimited        = "RATE_LIMITED"
	CodeInternalError      = "INTERNAL_ERROR"
)

// httpError combines an HTTP status code with an APIError
type httpError struct {
	status   int
	apiError APIError
}

// Error implements error interface
func (e *httpError) Error() string {
	return e.apiError.Message
}

// WriteError writes an error response to the response writer
func WriteError(w http.ResponseWriter, err error) {
	he := toHTTPError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(he.status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: he.apiError})
}

// toHTTPError converts an error to an httpError
func toHTTPError(err error) *httpError {
	var he *httpError
	if errors.As(err, &he) {
		return he
	}

	switch {
	case errors.Is(err, model.ErrRoomNotFound):
		return &httpError{http.StatusNotFound, APIError{CodeRoomNotFound, "Room not found"}}
	case errors.Is(err, model.ErrRoomFull):
		return &httpError{http.StatusConflict, APIError{CodeRoomFull, "Room is full"}}
	case errors.Is(err, model.ErrRoomNotAvailable):
		return &httpError{http.StatusConflict, APIError{CodeRoomNotAvailable, "Room does not accept this action in its current status"}}
	case errors.Is(err, model.ErrPlayerNotFound):
		return &httpError{http.StatusNotFound, APIError{CodePlayerNotFound, "Player not found in this room"}}
	case errors.Is(err, model.ErrNotHost):
		return &httpError{http.StatusForbidden, APIError{CodeNotHost, "Only the host can perform this action"}}
	case errors.Is(err, model.ErrJoinLockContended):
		return &httpError{http.StatusConflict, APIError{CodeJoinInProgress, "A join for this player is already in progress"}}
	case errors.Is(err, model.ErrSessionNotFound):
		return &httpError{http.StatusNotFound, APIError{CodeSessionNotFound, "Session not found"}}
	case errors.Is(err, model.ErrSessionExpired):
		return &httpError{http.StatusGone, APIError{CodeSessionExpired, "Session has expired"}}
	case errors.Is(err, model.ErrSessionInvalid):
		return &httpError{http.StatusUnauthorized, APIError{CodeSessionInvalid, "Session is not redeemable"}}
	case errors.Is(err, model.ErrBulkUpdateRolledBack):
		return &httpError{http.StatusConflict, APIError{CodeBulkRolledBack, "Bulk update failed and was rolled back"}}
	case errors.Is(err, model.ErrConflictUnresolved):
		return &httpError{http.StatusConflict, APIError{CodeConflictUnresolved, "Status conflict could not be resolved"}}
	default:
		return &httpError{http.StatusInternalServerError, APIError{CodeInternalError, "Internal server error"}}
	}
}

// NewInvalidRequestError creates an invalid request error
func NewInvalidRequestError(message string) error {
	return &httpError{http.StatusBadRequest, APIError{CodeInvalidRequest, message}}
}

// NewRateLimitedError creates a too-many-requests error
func NewRateLimitedError() error {
	return &httpError{http.StatusTooManyRequests, APIError{CodeRateLimited, "Too many requests"}}
}

// NewInternalError creates an internal server error
func NewInternalError() error {
	return &httpError{http.StatusInternalServerError, APIError{CodeInternalError, "Internal server error"}}
}
