package handler

import (
	"encoding/json"
	"net/http"

	"github.com/roomsync/roomsync/internal/api/apierr"
	"github.com/roomsync/roomsync/internal/api/request"
	"github.com/roomsync/roomsync/internal/api/response"
	"github.com/roomsync/roomsync/internal/services/lobby"
)

// SessionHandler handles session recovery endpoints
type SessionHandler struct {
	lobby *lobby.Manager
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(lobbyManager *lobby.Manager) *SessionHandler {
	return &SessionHandler{lobby: lobbyManager}
}

// Recover handles POST /api/v1/sessions/recover. Successful recovery rebinds
// the session and flips the member back to connected; the response carries
// the current room view so the client can resume without a second fetch.
func (h *SessionHandler) Recover(w http.ResponseWriter, r *http.Request) {
	var req request.RecoverSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteError(w, apierr.NewInvalidRequestError("invalid request body"))
		return
	}
	if req.SessionToken == "" {
		apierr.WriteError(w, apierr.NewInvalidRequestError("session_token is required"))
		return
	}

	result, err := h.lobby.RecoverSession(r.Context(), req.SessionToken, "")
	if err != nil {
		apierr.WriteError(w, err)
		return
	}

	snapshot, err := h.lobby.GetRoomSnapshot(r.Context(), result.Room.Code)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.Recover{
		Room:         response.RoomFromModel(snapshot.Room),
		Players:      response.PlayersFromModels(snapshot.Members),
		SessionToken: result.Session.Token,
	})
}
