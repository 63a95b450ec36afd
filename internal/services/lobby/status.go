package lobby

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roomsync/roomsync/internal/model"
)

// DetectConflicts checks a requested status triple against the authoritative
// member row. Two rules apply:
//
//	(a) "in_game" while the member is currently disconnected is invalid
//	(b) "lobby" with in_game=true while the member is located in "game"
//	    is invalid
func DetectConflicts(member *model.Member, requested model.StatusTriple) []model.StatusConflict {
	var conflicts []model.StatusConflict

	if requested.InGame && member.Location == model.LocationDisconnected && !member.Connected {
		conflicts = append(conflicts, model.StatusConflict{
			Rule:   model.ConflictInGameWhileDisconnected,
			Detail: "requested in_game while member is disconnected",
		})
	}

	if requested.Location == model.LocationLobby && requested.InGame && member.Location == model.LocationGame {
		conflicts = append(conflicts, model.StatusConflict{
			Rule:   model.ConflictLobbyWhileInGame,
			Detail: "requested lobby with in_game set while member is located in game",
		})
	}

	return conflicts
}

// ResolveConflicts repairs a requested triple per the detected conflict
// rules: rule (a) forces in_game=false and location=disconnected; rule (b)
// forces in_game to match whether the location is "game"
func ResolveConflicts(requested model.StatusTriple, conflicts []model.StatusConflict) model.StatusTriple {
	resolved := requested
	for i := range conflicts {
		switch conflicts[i].Rule {
		case model.ConflictInGameWhileDisconnected:
			resolved.InGame = false
			resolved.Location = model.LocationDisconnected
			resolved.Connected = false
		case model.ConflictLobbyWhileInGame:
			resolved.InGame = resolved.Location == model.LocationGame
		}
		conflicts[i].Resolved = true
	}
	return resolved
}

// StatusParams are the inputs to UpdatePlayerStatus
type StatusParams struct {
	UserID   model.UserID
	RoomCode model.RoomCode
	Status   string
	Location model.Location
	Metadata map[string]any
	Reason   string
}

// StatusResult is the outcome of a status update
type StatusResult struct {
	Member    *model.Member
	Applied   model.StatusTriple
	Conflicts []model.StatusConflict
}

// UpdatePlayerStatus recomputes the canonical connectivity triple from the
// reported (status, location) pair, runs conflict detection/resolution
// against the persisted member row, persists, appends a status-history audit
// record, refreshes the snapshot, and broadcasts the change
func (m *Manager) UpdatePlayerStatus(ctx context.Context, params StatusParams) (*StatusResult, error) {
	room, err := m.store.GetRoomByCode(ctx, params.RoomCode)
	if err != nil {
		return nil, err
	}

	member, err := m.store.GetMember(ctx, room.ID, params.UserID)
	if err != nil {
		return nil, err
	}

	requested := model.ComputeStatusTriple(params.Status, params.Location)
	conflicts := DetectConflicts(member, requested)
	applied := ResolveConflicts(requested, conflicts)

	now := m.clock.Now()
	member.Connected = applied.Connected
	member.InGame = applied.InGame
	member.Location = applied.Location
	member.UpdatedAt = now
	if applied.Connected {
		member.LastPing = now
	}
	if applied.Location == model.LocationGame {
		// No live transport while inside an external activity
		member.TransportID = ""
	}

	if err := m.store.SaveMember(ctx, member); err != nil {
		return nil, err
	}

	// Status history carries both the raw request and the detected conflicts
	m.logEvent(ctx, room.ID, params.UserID, "statusUpdate", map[string]any{
		"requestedStatus":   params.Status,
		"requestedLocation": string(params.Location),
		"applied":           applied,
		"conflicts":         conflicts,
		"reason":            params.Reason,
		"metadata":          params.Metadata,
	})

	members, err := m.store.GetMembers(ctx, room.ID)
	if err != nil {
		return nil, err
	}
	m.cacheSnapshot(room, members)
	m.broadcaster.PlayerStatusUpdated(room.Code, params.UserID, applied, members, conflicts)

	if len(conflicts) > 0 {
		m.logger.Info("status conflicts resolved",
			slog.String("user_id", string(params.UserID)),
			slog.String("room", string(params.RoomCode)),
			slog.Int("conflicts", len(conflicts)))
	}

	return &StatusResult{Member: member, Applied: applied, Conflicts: conflicts}, nil
}

// HandlePlayerReturn moves a single player back to the lobby. When the room
// is mid-return and every connected member is back, the room status flips to
// lobby.
func (m *Manager) HandlePlayerReturn(ctx context.Context, userID model.UserID, roomCode model.RoomCode) (*StatusResult, error) {
	result, err := m.UpdatePlayerStatus(ctx, StatusParams{
		UserID:   userID,
		RoomCode: roomCode,
		Status:   "connected",
		Location: model.LocationLobby,
		Reason:   "player_return",
	})
	if err != nil {
		return nil, err
	}

	if err := m.completeReturnIfDone(ctx, roomCode); err != nil {
		return nil, err
	}
	return result, nil
}

// InitiateGroupReturn starts a host-driven return of the whole group to the
// lobby. Individual members flow back through HandlePlayerReturn; the room
// flips to lobby once all connected members are back.
func (m *Manager) InitiateGroupReturn(ctx context.Context, requestingUserID model.UserID, roomCode model.RoomCode, reason string) error {
	room, err := m.store.GetRoomByCode(ctx, roomCode)
	if err != nil {
		return err
	}

	requester, err := m.store.GetMember(ctx, room.ID, requestingUserID)
	if err != nil {
		return err
	}
	if requester.Role != model.RoleHost {
		return model.ErrNotHost
	}

	if room.Status != model.RoomStatusInGame {
		return fmt.Errorf("%w: status is %s", model.ErrRoomNotAvailable, room.Status)
	}

	now := m.clock.Now()
	room.Status = model.RoomStatusReturning
	if room.Metadata == nil {
		room.Metadata = map[string]any{}
	}
	room.Metadata["returnInProgressUntil"] = now.Add(m.cfg.ReturnWindow)
	room.UpdatedAt = now
	if err := m.store.SaveRoom(ctx, room); err != nil {
		return err
	}

	m.logEvent(ctx, room.ID, requestingUserID, "groupReturnInitiated", map[string]any{"reason": reason})
	m.broadcaster.RoomStatusChanged(roomCode, model.RoomStatusReturning, reason)

	return m.completeReturnIfDone(ctx, roomCode)
}

// completeReturnIfDone flips a returning room back to lobby once every
// connected member is located there
func (m *Manager) completeReturnIfDone(ctx context.Context, roomCode model.RoomCode) error {
	room, err := m.store.GetRoomByCode(ctx, roomCode)
	if err != nil {
		return err
	}
	if room.Status != model.RoomStatusReturning {
		return nil
	}

	members, err := m.store.GetMembers(ctx, room.ID)
	if err != nil {
		return err
	}
	for _, member := range members {
		if member.Connected && member.Location != model.LocationLobby {
			return nil
		}
	}

	if err := m.store.SetRoomStatus(ctx, room.ID, model.RoomStatusReturning, model.RoomStatusLobby); err != nil {
		return err
	}
	delete(room.Metadata, "returnInProgressUntil")
	room.Status = model.RoomStatusLobby
	room.UpdatedAt = m.clock.Now()
	if err := m.store.SaveRoom(ctx, room); err != nil {
		return err
	}

	m.cacheSnapshot(room, members)
	m.logEvent(ctx, room.ID, "", "groupReturnCompleted", nil)
	m.broadcaster.RoomStatusChanged(roomCode, model.RoomStatusLobby, "group_return_complete")
	return nil
}
