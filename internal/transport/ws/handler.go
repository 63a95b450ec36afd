package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/teris-io/shortid"

	"github.com/roomsync/roomsync/internal/model"
	"github.com/roomsync/roomsync/internal/pubsub"
	"github.com/roomsync/roomsync/internal/services/connection"
	"github.com/roomsync/roomsync/internal/services/heartbeat"
	"github.com/roomsync/roomsync/internal/services/lifecycle"
	"github.com/roomsync/roomsync/internal/services/lobby"
	"github.com/roomsync/roomsync/internal/services/statussync"
)

// Rolling-window rate limit thresholds per transport
const (
	createRateLimit = 5
	joinRateLimit   = 10
)

// Services bundles everything the websocket layer drives
type Services struct {
	Lobby       *lobby.Manager
	StatusSync  *statussync.Manager
	Heartbeat   *heartbeat.Manager
	Lifecycle   *lifecycle.Manager
	Connections *connection.Manager
	Hubs        *pubsub.HubManager
	Broadcaster *pubsub.Broadcaster
}

// Handler upgrades HTTP requests to websocket connections and dispatches
// inbound messages to the coordination services
type Handler struct {
	services Services
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler creates a websocket handler
func NewHandler(services Services, logger *slog.Logger) *Handler {
	return &Handler{
		services: services,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients connect from the activity's own origin; origin
			// policy is enforced by the CORS layer on the HTTP surface
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger.With(slog.String("component", "ws")),
	}
}

// ServeHTTP upgrades the request and runs the connection's pumps
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", slog.Any("error", err))
		return
	}

	id, err := shortid.Generate()
	if err != nil {
		h.logger.Error("transport id generation failed", slog.Any("error", err))
		conn.Close()
		return
	}
	transportID := "conn_" + id

	h.services.Connections.AddConnection(&model.Connection{
		TransportID: transportID,
		Type:        model.ConnectionTypeLive,
	})

	client := newClient(transportID, conn, h, h.logger)
	h.logger.Info("connection opened", slog.String("transport_id", transportID))

	go client.writePump()
	client.readPump()
}

func (h *Handler) dispatch(ctx context.Context, c *Client, msg *inboundMessage) {
	h.services.Connections.TouchConnection(c.transportID)

	switch msg.Type {
	case inboundCreateRoom:
		h.handleCreateRoom(ctx, c, msg)
	case inboundJoinRoom:
		h.handleJoinRoom(ctx, c, msg)
	case inboundLeaveRoom:
		h.handleLeaveRoom(ctx, c)
	case inboundHeartbeat:
		h.handleHeartbeat(ctx, c)
	case inboundUpdateStatus:
		h.handleUpdateStatus(ctx, c, msg)
	case inboundBulkUpdate:
		h.handleBulkUpdate(ctx, c, msg)
	case inboundRecoverSession:
		h.handleRecoverSession(ctx, c, msg)
	case inboundPlayerReturn:
		h.handlePlayerReturn(ctx, c)
	case inboundGroupReturn:
		h.handleGroupReturn(ctx, c, msg)
	case inboundGameEnd:
		h.handleGameEnd(ctx, c, msg)
	case inboundReconcile:
		h.handleReconcile(ctx, c, msg)
	default:
		c.queue(newError("unknown_type", "unrecognized message type"))
	}
}

func (h *Handler) handleCreateRoom(ctx context.Context, c *Client, msg *inboundMessage) {
	if h.services.Connections.IsRateLimited(c.transportID, "create", createRateLimit) {
		c.queue(newError("rate_limited", "too many room creations"))
		return
	}
	h.services.Connections.RecordAttempt(c.transportID, "create")

	if msg.UserID == "" || msg.DisplayName == "" {
		c.queue(newError("bad_request", "userId and displayName are required"))
		return
	}

	room, err := h.services.Lobby.CreateRoom(ctx, lobby.CreateParams{
		HostID:       model.UserID(msg.UserID),
		DisplayName:  msg.DisplayName,
		ActivityType: msg.ActivityType,
		MaxPlayers:   msg.MaxPlayers,
		Settings:     msg.Settings,
	})
	if err != nil {
		c.queue(newError(errorCode(err), err.Error()))
		return
	}

	// The creator joins their own room over this transport; the rejoin path
	// binds the session and flips the host member to this socket
	result, err := h.services.Lobby.JoinRoom(ctx, lobby.JoinParams{
		UserID:      model.UserID(msg.UserID),
		RoomCode:    room.Code,
		DisplayName: msg.DisplayName,
		CustomName:  msg.CustomName,
		TransportID: c.transportID,
	})
	if err != nil {
		c.queue(newError(errorCode(err), err.Error()))
		return
	}

	h.completeJoin(c, result)
	c.queue(ackMessage{
		Type:         "roomCreated",
		RoomCode:     room.Code,
		SessionToken: result.Session.Token,
		Room:         result.Room,
		Players:      model.PlayerViewsFromMembers(result.Members),
	})
}

func (h *Handler) handleJoinRoom(ctx context.Context, c *Client, msg *inboundMessage) {
	if h.services.Connections.IsRateLimited(c.transportID, "join", joinRateLimit) {
		c.queue(newError("rate_limited", "too many join attempts"))
		return
	}
	h.services.Connections.RecordAttempt(c.transportID, "join")

	if msg.UserID == "" || msg.DisplayName == "" || msg.RoomCode == "" {
		c.queue(newError("bad_request", "userId, displayName and roomCode are required"))
		return
	}

	result, err := h.services.Lobby.JoinRoom(ctx, lobby.JoinParams{
		UserID:      model.UserID(msg.UserID),
		RoomCode:    model.RoomCode(msg.RoomCode),
		DisplayName: msg.DisplayName,
		CustomName:  msg.CustomName,
		TransportID: c.transportID,
	})
	if err != nil {
		c.queue(newError(errorCode(err), err.Error()))
		return
	}

	h.completeJoin(c, result)
	c.queue(ackMessage{
		Type:         "joined",
		RoomCode:     result.Room.Code,
		SessionToken: result.Session.Token,
		Room:         result.Room,
		Players:      model.PlayerViewsFromMembers(result.Members),
		Rejoin:       result.Rejoin,
	})
}

// completeJoin wires the post-join plumbing shared by create, join and
// recovery: topic subscription, liveness tracking, grace-timer cancellation
func (h *Handler) completeJoin(c *Client, result *lobby.JoinResult) {
	c.bind(result.Member.UserID, result.Room.ID, result.Room.Code, result.Session)
	hub := h.services.Hubs.GetOrCreateHub(result.Room.Code)
	c.subscribe(hub, result.Member.UserID)
	h.services.Heartbeat.Track(result.Member.UserID, result.Room.ID, result.Room.Code)
	h.services.Lifecycle.HandleReconnect(result.Room.ID, result.Member.UserID)
}

func (h *Handler) handleLeaveRoom(ctx context.Context, c *Client) {
	userID, roomID, roomCode, _ := c.binding()
	if userID == "" {
		c.queue(newError("not_joined", "no room joined on this connection"))
		return
	}

	if err := h.services.Lobby.LeaveRoom(ctx, userID, roomCode); err != nil {
		c.queue(newError(errorCode(err), err.Error()))
		return
	}

	h.services.Heartbeat.Untrack(userID, roomID)
	h.services.StatusSync.ForgetHeartbeat(userID, roomCode)
	c.unsubscribe()
	c.bind("", "", "", nil)
	c.queue(ackMessage{Type: "left", RoomCode: roomCode})
}

func (h *Handler) handleHeartbeat(ctx context.Context, c *Client) {
	userID, roomID, roomCode, _ := c.binding()
	if userID == "" {
		return
	}
	h.services.Heartbeat.Beat(userID, roomID)
	h.services.StatusSync.HandleHeartbeat(ctx, userID, roomCode)
}

func (h *Handler) handleUpdateStatus(ctx context.Context, c *Client, msg *inboundMessage) {
	userID, _, roomCode, _ := c.binding()
	if userID == "" {
		c.queue(newError("not_joined", "no room joined on this connection"))
		return
	}

	err := h.services.StatusSync.UpdatePlayerLocation(ctx, statussync.UpdateRequest{
		UserID:    userID,
		RoomCode:  roomCode,
		Status:    msg.Status,
		Location:  model.Location(msg.Location),
		Metadata:  msg.Metadata,
		Immediate: msg.Immediate,
		Reason:    msg.Reason,
	})
	if err != nil {
		c.queue(newError(errorCode(err), err.Error()))
	}
}

func (h *Handler) handleBulkUpdate(ctx context.Context, c *Client, msg *inboundMessage) {
	userID, _, roomCode, _ := c.binding()
	if userID == "" {
		c.queue(newError("not_joined", "no room joined on this connection"))
		return
	}
	if err := h.requireHost(ctx, roomCode, userID); err != nil {
		c.queue(newError(errorCode(err), err.Error()))
		return
	}

	updates := make([]statussync.BulkPlayerUpdate, 0, len(msg.Players))
	for _, entry := range msg.Players {
		updates = append(updates, statussync.BulkPlayerUpdate{
			UserID:   model.UserID(entry.UserID),
			Status:   entry.Status,
			Location: model.Location(entry.Location),
			Metadata: entry.Metadata,
		})
	}

	result, err := h.services.StatusSync.BulkUpdatePlayerStatus(ctx, roomCode, updates, msg.Reason)
	if err != nil {
		c.queue(newError(errorCode(err), err.Error()))
		return
	}
	c.queue(struct {
		Type    string         `json:"type"`
		Applied []model.UserID `json:"applied"`
		Failed  []model.UserID `json:"failed"`
	}{Type: "bulkApplied", Applied: result.Applied, Failed: result.Failed})
}

func (h *Handler) handleRecoverSession(ctx context.Context, c *Client, msg *inboundMessage) {
	if msg.SessionToken == "" {
		c.queue(newError("bad_request", "sessionToken is required"))
		return
	}

	result, err := h.services.Lobby.RecoverSession(ctx, msg.SessionToken, c.transportID)
	if err != nil {
		c.queue(newError(errorCode(err), err.Error()))
		return
	}

	members, err := h.services.Lobby.GetRoomSnapshot(ctx, result.Room.Code)
	if err != nil {
		c.queue(newError(errorCode(err), err.Error()))
		return
	}

	c.bind(result.Member.UserID, result.Room.ID, result.Room.Code, result.Session)
	hub := h.services.Hubs.GetOrCreateHub(result.Room.Code)
	c.subscribe(hub, result.Member.UserID)
	h.services.Heartbeat.Track(result.Member.UserID, result.Room.ID, result.Room.Code)
	h.services.Lifecycle.HandleReconnect(result.Room.ID, result.Member.UserID)

	c.queue(ackMessage{
		Type:         "recovered",
		RoomCode:     result.Room.Code,
		SessionToken: result.Session.Token,
		Room:         members.Room,
		Players:      model.PlayerViewsFromMembers(members.Members),
	})
}

func (h *Handler) handlePlayerReturn(ctx context.Context, c *Client) {
	userID, _, roomCode, _ := c.binding()
	if userID == "" {
		c.queue(newError("not_joined", "no room joined on this connection"))
		return
	}
	if _, err := h.services.Lobby.HandlePlayerReturn(ctx, userID, roomCode); err != nil {
		c.queue(newError(errorCode(err), err.Error()))
	}
}

func (h *Handler) handleGroupReturn(ctx context.Context, c *Client, msg *inboundMessage) {
	userID, _, roomCode, _ := c.binding()
	if userID == "" {
		c.queue(newError("not_joined", "no room joined on this connection"))
		return
	}
	if err := h.services.Lobby.InitiateGroupReturn(ctx, userID, roomCode, msg.Reason); err != nil {
		c.queue(newError(errorCode(err), err.Error()))
	}
}

func (h *Handler) handleGameEnd(ctx context.Context, c *Client, msg *inboundMessage) {
	userID, _, roomCode, _ := c.binding()
	if userID == "" {
		c.queue(newError("not_joined", "no room joined on this connection"))
		return
	}
	if err := h.requireHost(ctx, roomCode, userID); err != nil {
		c.queue(newError(errorCode(err), err.Error()))
		return
	}
	if err := h.services.StatusSync.HandleGameEnd(ctx, roomCode, msg.Result); err != nil {
		c.queue(newError(errorCode(err), err.Error()))
	}
}

func (h *Handler) handleReconcile(ctx context.Context, c *Client, msg *inboundMessage) {
	userID, _, roomCode, _ := c.binding()
	if userID == "" {
		c.queue(newError("not_joined", "no room joined on this connection"))
		return
	}
	if msg.Report == nil {
		c.queue(newError("bad_request", "report is required"))
		return
	}

	var resolved model.StatusTriple
	var err error
	if msg.ServerReport != nil {
		resolved, _, err = h.services.StatusSync.ReconcileReports(ctx, userID, roomCode,
			reportFromMessage(msg.ServerReport), reportFromMessage(msg.Report))
	} else {
		resolved, err = h.services.StatusSync.ReconcileStatus(ctx, userID, roomCode,
			reportFromMessage(msg.Report), model.ResolutionStrategy(msg.Strategy))
	}
	if err != nil {
		c.queue(newError(errorCode(err), err.Error()))
		return
	}
	c.queue(struct {
		Type     string            `json:"type"`
		Resolved model.StatusTriple `json:"resolved"`
	}{Type: "reconciled", Resolved: resolved})
}

func reportFromMessage(r *statusReport) model.StatusReport {
	return model.StatusReport{
		Connected:  r.Connected,
		InGame:     r.InGame,
		Location:   model.Location(r.Location),
		ObservedAt: time.UnixMilli(r.ObservedAt),
	}
}

// requireHost rejects a privileged request from a non-host member
func (h *Handler) requireHost(ctx context.Context, roomCode model.RoomCode, userID model.UserID) error {
	snapshot, err := h.services.Lobby.GetRoomSnapshot(ctx, roomCode)
	if err != nil {
		return err
	}
	for _, member := range snapshot.Members {
		if member.UserID == userID {
			if member.Role != model.RoleHost {
				return model.ErrNotHost
			}
			return nil
		}
	}
	return model.ErrPlayerNotFound
}

// handleDisconnect runs when the socket closes for any reason. A joined
// client's session becomes recoverable and the disconnect flows through the
// same ordered status path as every other change.
func (h *Handler) handleDisconnect(ctx context.Context, c *Client) {
	userID, roomID, roomCode, session := c.binding()
	c.unsubscribe()

	if userID == "" {
		h.services.Connections.RemoveConnection(c.transportID)
		h.logger.Info("connection closed", slog.String("transport_id", c.transportID))
		return
	}

	if session != nil {
		h.services.Connections.MarkRecoverable(session, roomCode)
	}
	h.services.Heartbeat.Untrack(userID, roomID)
	h.services.StatusSync.ForgetHeartbeat(userID, roomCode)

	err := h.services.StatusSync.UpdatePlayerLocation(ctx, statussync.UpdateRequest{
		UserID:    userID,
		RoomCode:  roomCode,
		Status:    "disconnected",
		Location:  model.LocationDisconnected,
		Immediate: true,
		Reason:    "transport_closed",
	})
	if err != nil && !errors.Is(err, model.ErrRoomNotFound) && !errors.Is(err, model.ErrPlayerNotFound) {
		h.logger.Warn("disconnect status update failed",
			slog.String("user_id", string(userID)),
			slog.Any("error", err))
	}

	h.services.Connections.RemoveConnection(c.transportID)

	snapshot, err := h.services.Lobby.GetRoomSnapshot(ctx, roomCode)
	if err != nil {
		h.logger.Info("connection closed", slog.String("transport_id", c.transportID))
		return
	}

	wasHost := false
	anyActive := false
	for _, member := range snapshot.Members {
		if member.UserID == userID && member.Role == model.RoleHost {
			wasHost = true
		}
		if member.UserID != userID && member.IsActive() {
			anyActive = true
		}
	}

	h.services.Broadcaster.PlayerDisconnected(roomCode, userID, wasHost, "transport_closed")
	if wasHost {
		h.services.Lifecycle.ScheduleHostTransfer(roomID, roomCode, userID)
	}
	if !anyActive {
		h.services.Lifecycle.ScheduleAbandonmentCheck(roomID, roomCode)
	}

	h.logger.Info("connection closed",
		slog.String("transport_id", c.transportID),
		slog.String("user_id", string(userID)),
		slog.String("room", string(roomCode)))
}

// errorCode maps domain errors to stable wire codes
func errorCode(err error) string {
	switch {
	case errors.Is(err, model.ErrRoomNotFound):
		return "room_not_found"
	case errors.Is(err, model.ErrRoomFull):
		return "room_full"
	case errors.Is(err, model.ErrRoomNotAvailable):
		return "room_not_available"
	case errors.Is(err, model.ErrPlayerNotFound):
		return "player_not_found"
	case errors.Is(err, model.ErrNotHost):
		return "not_host"
	case errors.Is(err, model.ErrJoinLockContended):
		return "join_in_progress"
	case errors.Is(err, model.ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, model.ErrSessionExpired):
		return "session_expired"
	case errors.Is(err, model.ErrSessionInvalid):
		return "session_invalid"
	case errors.Is(err, model.ErrConflictUnresolved):
		return "conflict_unresolved"
	case errors.Is(err, model.ErrBulkUpdateRolledBack):
		return "bulk_rolled_back"
	default:
		return "internal_error"
	}
}
