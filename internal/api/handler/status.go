package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/roomsync/roomsync/internal/api/apierr"
	"github.com/roomsync/roomsync/internal/api/request"
	"github.com/roomsync/roomsync/internal/api/response"
	"github.com/roomsync/roomsync/internal/model"
	"github.com/roomsync/roomsync/internal/services/lobby"
	"github.com/roomsync/roomsync/internal/services/statussync"
)

// StatusHandler handles status update and synchronization endpoints. These
// are server-to-server endpoints for the external activity service, which is
// trusted; host checks apply only where a player identity drives the action.
type StatusHandler struct {
	lobby      *lobby.Manager
	statusSync *statussync.Manager
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(lobbyManager *lobby.Manager, statusSync *statussync.Manager) *StatusHandler {
	return &StatusHandler{lobby: lobbyManager, statusSync: statusSync}
}

// Update handles POST /api/v1/rooms/{code}/status
func (h *StatusHandler) Update(w http.ResponseWriter, r *http.Request) {
	code := model.RoomCode(mux.Vars(r)["code"])

	var req request.UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteError(w, apierr.NewInvalidRequestError("invalid request body"))
		return
	}
	if req.UserID == "" {
		apierr.WriteError(w, apierr.NewInvalidRequestError("user_id is required"))
		return
	}

	err := h.statusSync.UpdatePlayerLocation(r.Context(), statussync.UpdateRequest{
		UserID:    model.UserID(req.UserID),
		RoomCode:  code,
		Status:    req.Status,
		Location:  model.Location(req.Location),
		Metadata:  req.Metadata,
		Immediate: req.Immediate,
		Reason:    req.Reason,
	})
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	response.Accepted(w)
}

// Bulk handles POST /api/v1/rooms/{code}/status/bulk
func (h *StatusHandler) Bulk(w http.ResponseWriter, r *http.Request) {
	code := model.RoomCode(mux.Vars(r)["code"])

	var req request.BulkUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteError(w, apierr.NewInvalidRequestError("invalid request body"))
		return
	}
	if len(req.Players) == 0 {
		apierr.WriteError(w, apierr.NewInvalidRequestError("players is required"))
		return
	}

	updates := make([]statussync.BulkPlayerUpdate, 0, len(req.Players))
	for _, p := range req.Players {
		updates = append(updates, statussync.BulkPlayerUpdate{
			UserID:   model.UserID(p.UserID),
			Status:   p.Status,
			Location: model.Location(p.Location),
			Metadata: p.Metadata,
		})
	}

	result, err := h.statusSync.BulkUpdatePlayerStatus(r.Context(), code, updates, req.Reason)
	if err != nil && result == nil {
		apierr.WriteError(w, err)
		return
	}

	body := response.Bulk{
		Applied:    userIDStrings(result.Applied),
		Failed:     userIDStrings(result.Failed),
		RolledBack: result.RolledBack,
	}
	if result.RolledBack {
		response.JSON(w, http.StatusConflict, body)
		return
	}
	response.JSON(w, http.StatusOK, body)
}

// Reconcile handles POST /api/v1/rooms/{code}/status/reconcile
func (h *StatusHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	code := model.RoomCode(mux.Vars(r)["code"])

	var req request.ReconcileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteError(w, apierr.NewInvalidRequestError("invalid request body"))
		return
	}
	if req.UserID == "" {
		apierr.WriteError(w, apierr.NewInvalidRequestError("user_id is required"))
		return
	}

	// With both observations present the strategy escalation decides;
	// otherwise the caller must name a strategy for its single report
	if req.ServerReport != nil {
		resolved, strategy, err := h.statusSync.ReconcileReports(r.Context(),
			model.UserID(req.UserID), code,
			reportFromRequest(*req.ServerReport),
			reportFromRequest(req.Report))
		if err != nil {
			apierr.WriteError(w, err)
			return
		}
		response.JSON(w, http.StatusOK, response.Reconcile{Resolved: resolved, Strategy: string(strategy)})
		return
	}

	if req.Strategy == "" {
		apierr.WriteError(w, apierr.NewInvalidRequestError("strategy is required without a server report"))
		return
	}
	resolved, err := h.statusSync.ReconcileStatus(r.Context(),
		model.UserID(req.UserID), code,
		reportFromRequest(req.Report),
		model.ResolutionStrategy(req.Strategy))
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, response.Reconcile{Resolved: resolved, Strategy: req.Strategy})
}

func reportFromRequest(r request.StatusReport) model.StatusReport {
	return model.StatusReport{
		Connected:  r.Connected,
		InGame:     r.InGame,
		Location:   model.Location(r.Location),
		ObservedAt: time.UnixMilli(r.ObservedAt),
	}
}

// Heartbeat handles POST /api/v1/rooms/{code}/heartbeat
func (h *StatusHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	code := model.RoomCode(mux.Vars(r)["code"])

	var req request.HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteError(w, apierr.NewInvalidRequestError("invalid request body"))
		return
	}
	if req.UserID == "" {
		apierr.WriteError(w, apierr.NewInvalidRequestError("user_id is required"))
		return
	}

	h.statusSync.HandleHeartbeat(r.Context(), model.UserID(req.UserID), code)
	response.NoContent(w)
}

// Return handles POST /api/v1/rooms/{code}/return for a single player
func (h *StatusHandler) Return(w http.ResponseWriter, r *http.Request) {
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

	result, err := h.lobby.HandlePlayerReturn(r.Context(), model.UserID(req.UserID), code)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, response.Status{Applied: result.Applied, Conflicts: result.Conflicts})
}

// ReturnAll handles POST /api/v1/rooms/{code}/return-all
func (h *StatusHandler) ReturnAll(w http.ResponseWriter, r *http.Request) {
	code := model.RoomCode(mux.Vars(r)["code"])

	var req request.GroupReturnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteError(w, apierr.NewInvalidRequestError("invalid request body"))
		return
	}
	if req.UserID == "" {
		apierr.WriteError(w, apierr.NewInvalidRequestError("user_id is required"))
		return
	}

	if err := h.lobby.InitiateGroupReturn(r.Context(), model.UserID(req.UserID), code, req.Reason); err != nil {
		apierr.WriteError(w, err)
		return
	}
	response.NoContent(w)
}

// GameEnd handles POST /api/v1/rooms/{code}/game-end
func (h *StatusHandler) GameEnd(w http.ResponseWriter, r *http.Request) {
	code := model.RoomCode(mux.Vars(r)["code"])

	var req request.GameEndRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		req = request.GameEndRequest{}
	}

	if err := h.statusSync.HandleGameEnd(r.Context(), code, req.Result); err != nil {
		apierr.WriteError(w, err)
		return
	}
	response.NoContent(w)
}

func userIDStrings(ids []model.UserID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
