package statussync

import (
	"context"
	"log/slog"
	"sync"

	"github.com/roomsync/roomsync/internal/model"
)

// BulkPlayerUpdate is one player's entry in a bulk status change
type BulkPlayerUpdate struct {
	UserID   model.UserID
	Status   string
	Location model.Location
	Metadata map[string]any
}

// BulkResult reports the outcome of a bulk update
type BulkResult struct {
	Applied    []model.UserID
	Failed     []model.UserID
	RolledBack bool
}

type priorState struct {
	status   string
	location model.Location
}

// BulkUpdatePlayerStatus applies one status change per player in bounded
// chunks. If more than half of the players fail, every player that did
// succeed is reverted to their prior state and the whole operation reports
// as rolled back; otherwise a full room resync is broadcast so clients
// converge on the post-bulk view in one message.
func (m *Manager) BulkUpdatePlayerStatus(ctx context.Context, roomCode model.RoomCode, updates []BulkPlayerUpdate, reason string) (*BulkResult, error) {
	if len(updates) == 0 {
		return &BulkResult{}, nil
	}

	room, err := m.store.GetRoomByCode(ctx, roomCode)
	if err != nil {
		return nil, err
	}

	// Snapshot prior state up front so a rollback restores what each player
	// had before the bulk started, not whatever a half-applied chunk left
	prior := make(map[model.UserID]priorState, len(updates))
	for _, u := range updates {
		member, err := m.store.GetMember(ctx, room.ID, u.UserID)
		if err != nil {
			return nil, err
		}
		status := "connected"
		if !member.Connected {
			status = "disconnected"
		}
		prior[u.UserID] = priorState{status: status, location: member.Location}
	}

	result := &BulkResult{}
	var resultMu sync.Mutex

	for start := 0; start < len(updates); start += m.cfg.BulkChunkSize {
		end := start + m.cfg.BulkChunkSize
		if end > len(updates) {
			end = len(updates)
		}

		var wg sync.WaitGroup
		for _, u := range updates[start:end] {
			wg.Add(1)
			go func(u BulkPlayerUpdate) {
				defer wg.Done()
				err := m.UpdatePlayerLocation(ctx, UpdateRequest{
					UserID:    u.UserID,
					RoomCode:  roomCode,
					Status:    u.Status,
					Location:  u.Location,
					Metadata:  u.Metadata,
					Immediate: true,
					Reason:    reason,
				})
				resultMu.Lock()
				if err != nil {
					result.Failed = append(result.Failed, u.UserID)
				} else {
					result.Applied = append(result.Applied, u.UserID)
				}
				resultMu.Unlock()
				if err != nil {
					m.logger.Warn("bulk entry failed",
						slog.String("user_id", string(u.UserID)),
						slog.String("room", string(roomCode)),
						slog.Any("error", err))
				}
			}(u)
		}
		wg.Wait()
	}

	failureRatio := float64(len(result.Failed)) / float64(len(updates))
	if failureRatio > m.cfg.RollbackThreshold {
		m.rollback(ctx, roomCode, result.Applied, prior)
		result.RolledBack = true
		m.logger.Error("bulk update rolled back",
			slog.String("room", string(roomCode)),
			slog.Int("failed", len(result.Failed)),
			slog.Int("reverted", len(result.Applied)))
		return result, model.ErrBulkUpdateRolledBack
	}

	snapshot, err := m.lobby.RefreshSnapshot(ctx, roomCode)
	if err != nil {
		m.logger.Warn("post-bulk resync failed",
			slog.String("room", string(roomCode)),
			slog.Any("error", err))
		return result, nil
	}
	m.broadcaster.RoomStatusSync(roomCode, snapshot.Room, snapshot.Members)
	return result, nil
}

// rollback reverts every successfully applied player to their pre-bulk state
// via immediate updates, which stamps them with fresher sequence numbers than
// the bulk entries they undo
func (m *Manager) rollback(ctx context.Context, roomCode model.RoomCode, applied []model.UserID, prior map[model.UserID]priorState) {
	for _, userID := range applied {
		before, ok := prior[userID]
		if !ok {
			continue
		}
		err := m.UpdatePlayerLocation(ctx, UpdateRequest{
			UserID:    userID,
			RoomCode:  roomCode,
			Status:    before.status,
			Location:  before.location,
			Immediate: true,
			Reason:    "rollback",
		})
		if err != nil {
			m.logger.Error("rollback entry failed",
				slog.String("user_id", string(userID)),
				slog.String("room", string(roomCode)),
				slog.Any("error", err))
		}
	}
}

// HandleGameEnd returns every connected in-game member to the lobby and flips
// the room status back
func (m *Manager) HandleGameEnd(ctx context.Context, roomCode model.RoomCode, gameResult map[string]any) error {
	room, err := m.store.GetRoomByCode(ctx, roomCode)
	if err != nil {
		return err
	}

	members, err := m.store.GetMembers(ctx, room.ID)
	if err != nil {
		return err
	}

	var returning []BulkPlayerUpdate
	for _, member := range members {
		if member.Connected && member.Location == model.LocationGame {
			returning = append(returning, BulkPlayerUpdate{
				UserID:   member.UserID,
				Status:   "connected",
				Location: model.LocationLobby,
			})
		}
	}

	if _, err := m.BulkUpdatePlayerStatus(ctx, roomCode, returning, "game_end"); err != nil {
		return err
	}

	if room.Status == model.RoomStatusInGame || room.Status == model.RoomStatusReturning {
		if err := m.store.SetRoomStatus(ctx, room.ID, room.Status, model.RoomStatusLobby); err != nil {
			return err
		}
		m.broadcaster.RoomStatusChanged(roomCode, model.RoomStatusLobby, "game_end")
	}

	if err := m.store.LogEvent(ctx, room.ID, "", "gameEnded", gameResult); err != nil {
		m.logger.Warn("game end audit failed", slog.Any("error", err))
	}

	m.logger.Info("game ended",
		slog.String("room", string(roomCode)),
		slog.Int("returned", len(returning)))
	return nil
}
