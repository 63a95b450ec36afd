package statussync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roomsync/roomsync/internal/model"
	"github.com/roomsync/roomsync/internal/services/lobby"
)

// ReconcileStatus resolves a disagreement between a client's self-reported
// status and the stored view of a member. The chosen strategy determines
// which side wins per field; the reconciled triple is then applied through
// the ordered update path so it cannot regress a fresher concurrent change.
func (m *Manager) ReconcileStatus(
	ctx context.Context,
	userID model.UserID,
	roomCode model.RoomCode,
	report model.StatusReport,
	strategy model.ResolutionStrategy,
) (model.StatusTriple, error) {
	room, err := m.store.GetRoomByCode(ctx, roomCode)
	if err != nil {
		return model.StatusTriple{}, err
	}
	member, err := m.store.GetMember(ctx, room.ID, userID)
	if err != nil {
		return model.StatusTriple{}, err
	}

	stored := model.StatusTriple{
		Connected: member.Connected,
		InGame:    member.InGame,
		Location:  member.Location,
	}
	reported := model.StatusTriple{
		Connected: report.Connected,
		InGame:    report.InGame,
		Location:  report.Location,
	}

	var reconciled model.StatusTriple
	switch strategy {
	case model.ResolutionTrustDatabase:
		reconciled = stored
	case model.ResolutionMergeReports:
		// The client knows whether its own transport is up; the server
		// knows whether the player is inside a managed activity
		reconciled = model.StatusTriple{
			Connected: report.Connected,
			InGame:    stored.InGame,
			Location:  mergedLocation(report.Connected, stored.InGame),
		}
	case model.ResolutionNewerTimestamp:
		if report.ObservedAt.After(member.UpdatedAt) {
			reconciled = reported
		} else {
			reconciled = stored
		}
	case model.ResolutionRuleBasedRepair:
		conflicts := lobby.DetectConflicts(member, reported)
		reconciled = lobby.ResolveConflicts(reported, conflicts)
	default:
		return model.StatusTriple{}, fmt.Errorf("unknown resolution strategy %q", strategy)
	}

	if err := m.applyReconciled(ctx, userID, roomCode, stored, reconciled, reported, strategy); err != nil {
		return model.StatusTriple{}, err
	}
	return reconciled, nil
}

// ReconcileReports resolves a three-way disagreement between the stored
// member row, a server-observed report and a client-observed report. The
// strategies escalate in a fixed order: the stored state wins when both
// reports disagree with it; otherwise the client's connectivity bit is
// merged with the server's game-activity bit; otherwise the report with the
// newer observation timestamp wins. When none of the strategies can decide,
// the conflict is escalated to the caller as ErrConflictUnresolved.
func (m *Manager) ReconcileReports(
	ctx context.Context,
	userID model.UserID,
	roomCode model.RoomCode,
	serverReport model.StatusReport,
	clientReport model.StatusReport,
) (model.StatusTriple, model.ResolutionStrategy, error) {
	room, err := m.store.GetRoomByCode(ctx, roomCode)
	if err != nil {
		return model.StatusTriple{}, "", err
	}
	member, err := m.store.GetMember(ctx, room.ID, userID)
	if err != nil {
		return model.StatusTriple{}, "", err
	}

	stored := model.StatusTriple{
		Connected: member.Connected,
		InGame:    member.InGame,
		Location:  member.Location,
	}
	serverView := reportTriple(serverReport)
	clientView := reportTriple(clientReport)

	var reconciled model.StatusTriple
	var strategy model.ResolutionStrategy
	switch {
	case serverView != stored && clientView != stored:
		strategy = model.ResolutionTrustDatabase
		reconciled = stored
	case serverView.Connected != clientView.Connected || serverView.InGame != clientView.InGame:
		strategy = model.ResolutionMergeReports
		reconciled = model.StatusTriple{
			Connected: clientReport.Connected,
			InGame:    serverReport.InGame,
			Location:  mergedLocation(clientReport.Connected, serverReport.InGame),
		}
	case clientReport.ObservedAt.After(serverReport.ObservedAt):
		strategy = model.ResolutionNewerTimestamp
		reconciled = clientView
	case serverReport.ObservedAt.After(clientReport.ObservedAt):
		strategy = model.ResolutionNewerTimestamp
		reconciled = serverView
	default:
		// Same location disagreement, equal timestamps: nothing left to
		// arbitrate on
		return model.StatusTriple{}, "", model.ErrConflictUnresolved
	}

	if err := m.applyReconciled(ctx, userID, roomCode, stored, reconciled, clientView, strategy); err != nil {
		return model.StatusTriple{}, "", err
	}
	return reconciled, strategy, nil
}

// applyReconciled pushes a reconciliation outcome through the ordered update
// path and broadcasts the resolution. A no-op outcome is not re-applied.
func (m *Manager) applyReconciled(
	ctx context.Context,
	userID model.UserID,
	roomCode model.RoomCode,
	stored, reconciled, reported model.StatusTriple,
	strategy model.ResolutionStrategy,
) error {
	if reconciled == stored {
		return nil
	}

	status := "connected"
	if !reconciled.Connected {
		status = "disconnected"
	}
	err := m.UpdatePlayerLocation(ctx, UpdateRequest{
		UserID:    userID,
		RoomCode:  roomCode,
		Status:    status,
		Location:  reconciled.Location,
		Immediate: true,
		Reason:    "reconciliation:" + string(strategy),
	})
	if err != nil {
		return err
	}

	// Flag when the client must act on the outcome (its own report lost)
	requiresAction := reconciled != reported
	m.broadcaster.StatusConflictResolved(roomCode, userID, reconciled, strategy, requiresAction)

	m.logger.Info("status reconciled",
		slog.String("user_id", string(userID)),
		slog.String("room", string(roomCode)),
		slog.String("strategy", string(strategy)))
	return nil
}

func reportTriple(report model.StatusReport) model.StatusTriple {
	return model.StatusTriple{
		Connected: report.Connected,
		InGame:    report.InGame,
		Location:  report.Location,
	}
}

// mergedLocation derives placement from the merged connectivity and
// game-activity bits
func mergedLocation(connected, inGame bool) model.Location {
	if inGame {
		return model.LocationGame
	}
	if !connected {
		return model.LocationDisconnected
	}
	return model.LocationLobby
}
