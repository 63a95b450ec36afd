package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/roomsync/roomsync/internal/api/apierr"
	"github.com/roomsync/roomsync/internal/api/request"
	"github.com/roomsync/roomsync/internal/api/response"
	"github.com/roomsync/roomsync/internal/model"
	"github.com/roomsync/roomsync/internal/services/lobby"
)

// RoomHandler handles room lifecycle endpoints
type RoomHandler struct {
	lobby *lobby.Manager
}

// NewRoomHandler creates a new room handler
func NewRoomHandler(lobbyManager *lobby.Manager) *RoomHandler {
	return &RoomHandler{lobby: lobbyManager}
}

// Create handles POST /api/v1/rooms
func (h *RoomHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req request.CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteError(w, apierr.NewInvalidRequestError("invalid request body"))
		return
	}
	if req.UserID == "" || req.DisplayName == "" {
		apierr.WriteError(w, apierr.NewInvalidRequestError("user_id and display_name are required"))
		return
	}

	room, err := h.lobby.CreateRoom(r.Context(), lobby.CreateParams{
		HostID:       model.UserID(req.UserID),
		DisplayName:  req.DisplayName,
		ActivityType: req.ActivityType,
		MaxPlayers:   req.MaxPlayers,
		Settings:     req.Settings,
	})
	if err != nil {
		apierr.WriteError(w, err)
		return
	}

	snapshot, err := h.lobby.GetRoomSnapshot(r.Context(), room.Code)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	response.JSON(w, http.StatusCreated, response.RoomViewFromSnapshot(snapshot))
}

// Validate handles GET /api/v1/rooms/{code}: a cheap existence and
// joinability probe clients run before attempting a join
func (h *RoomHandler) Validate(w http.ResponseWriter, r *http.Request) {
	code := model.RoomCode(mux.Vars(r)["code"])

	snapshot, err := h.lobby.GetRoomSnapshot(r.Context(), code)
	if err != nil {
		if errors.Is(err, model.ErrRoomNotFound) {
			response.JSON(w, http.StatusOK, response.ValidateRoom{Valid: false})
			return
		}
		apierr.WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.ValidateRoom{
		Valid:          snapshot.Room.IsJoinable(),
		Status:         string(snapshot.Room.Status),
		ConnectedCount: snapshot.ConnectedCount(),
		MaxPlayers:     snapshot.Room.MaxPlayers,
	})
}

// Get handles GET /api/v1/rooms/{code}/snapshot
func (h *RoomHandler) Get(w http.ResponseWriter, r *http.Request) {
	code := model.RoomCode(mux.Vars(r)["code"])

	snapshot, err := h.lobby.GetRoomSnapshot(r.Context(), code)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, response.RoomViewFromSnapshot(snapshot))
}

// Join handles POST /api/v1/rooms/{code}/join. HTTP joins carry no live
// transport; the member is reachable through broadcasts only after the
// client attaches a websocket and recovers the session issued here.
func (h *RoomHandler) Join(w http.ResponseWriter, r *http.Request) {
	code := model.RoomCode(mux.Vars(r)["code"])

	var req request.JoinRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteError(w, apierr.NewInvalidRequestError("invalid request body"))
		return
	}
	if req.UserID == "" || req.DisplayName == "" {
		apierr.WriteError(w, apierr.NewInvalidRequestError("user_id and display_name are required"))
		return
	}

	result, err := h.lobby.JoinRoom(r.Context(), lobby.JoinParams{
		UserID:      model.UserID(req.UserID),
		RoomCode:    code,
		DisplayName: req.DisplayName,
		CustomName:  req.CustomName,
	})
	if err != nil {
		apierr.WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.Join{
		Room:         response.RoomFromModel(result.Room),
		Players:      response.PlayersFromModels(result.Members),
		SessionToken: result.Session.Token,
		Rejoin:       result.Rejoin,
	})
}

// Leave handles POST /api/v1/rooms/{code}/leave
func (h *RoomHandler) Leave(w http.ResponseWriter, r *http.Request) {
	code := model.RoomCode(mux.Vars(r)["code"])

	var req request.LeaveRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteError(w, apierr.NewInvalidRequestError("invalid request body"))
		return
	}
	if req.UserID == "" {
		apierr.WriteError(w, apierr.NewInvalidRequestError("user_id is required"))
		return
	}

	if err := h.lobby.LeaveRoom(r.Context(), model.UserID(req.UserID), code); err != nil {
		apierr.WriteError(w, err)
		return
	}
	response.NoContent(w)
}
