package pubsub

import (
	"log/slog"

	"github.com/roomsync/roomsync/internal/dependencies/clock"
	"github.com/roomsync/roomsync/internal/model"
)

// Broadcaster builds the typed outbound events and publishes them to room
// topics. It is transport-independent; whatever is subscribed to the topic
// (websocket clients, tests) receives the events.
type Broadcaster struct {
	publisher Publisher
	clock     clock.Clock
	logger    *slog.Logger
}

// NewBroadcaster creates a new Broadcaster
func NewBroadcaster(publisher Publisher, clk clock.Clock, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		publisher: publisher,
		clock:     clk,
		logger:    logger.With(slog.String("component", "broadcaster")),
	}
}

func (b *Broadcaster) publish(roomCode model.RoomCode, eventType model.EventType, payload any) {
	b.publisher.Publish(roomCode, model.Event{
		Type:      eventType,
		RoomCode:  roomCode,
		Timestamp: b.clock.Now(),
		Payload:   payload,
	})
}

// PlayerJoined announces a new or returning member with the full member list
func (b *Broadcaster) PlayerJoined(roomCode model.RoomCode, member *model.Member, members []*model.Member, rejoin bool) {
	b.publish(roomCode, model.EventPlayerJoined, model.PlayerJoinedPayload{
		Player:  model.PlayerViewFromMember(member),
		Players: model.PlayerViewsFromMembers(members),
		Rejoin:  rejoin,
	})
}

// PlayerLeft announces an explicit leave with the remaining member list
func (b *Broadcaster) PlayerLeft(roomCode model.RoomCode, userID model.UserID, members []*model.Member) {
	b.publish(roomCode, model.EventPlayerLeft, model.PlayerLeftPayload{
		UserID:  userID,
		Players: model.PlayerViewsFromMembers(members),
	})
}

// PlayerStatusUpdated announces an applied status change, including any
// conflicts that were detected and resolved along the way
func (b *Broadcaster) PlayerStatusUpdated(roomCode model.RoomCode, userID model.UserID, status model.StatusTriple, members []*model.Member, conflicts []model.StatusConflict) {
	if conflicts == nil {
		conflicts = []model.StatusConflict{}
	}
	b.publish(roomCode, model.EventPlayerStatusUpdated, model.PlayerStatusUpdatedPayload{
		UserID:    userID,
		Status:    status,
		Players:   model.PlayerViewsFromMembers(members),
		Conflicts: conflicts,
	})
}

// PlayerDisconnected announces a liveness-detected disconnect
func (b *Broadcaster) PlayerDisconnected(roomCode model.RoomCode, userID model.UserID, wasHost bool, reason string) {
	b.publish(roomCode, model.EventPlayerDisconnected, model.PlayerDisconnectedPayload{
		UserID:  userID,
		WasHost: wasHost,
		Reason:  reason,
	})
}

// RoomStatusChanged announces a room status transition
func (b *Broadcaster) RoomStatusChanged(roomCode model.RoomCode, newStatus model.RoomStatus, reason string) {
	b.publish(roomCode, model.EventRoomStatusChanged, model.RoomStatusChangedPayload{
		NewStatus: newStatus,
		Reason:    reason,
	})
}

// RoomStatusSync pushes a full room snapshot to every subscriber
func (b *Broadcaster) RoomStatusSync(roomCode model.RoomCode, room *model.Room, members []*model.Member) {
	b.publish(roomCode, model.EventRoomStatusSync, model.RoomStatusSyncPayload{
		Room:     room,
		Players:  model.PlayerViewsFromMembers(members),
		SyncType: "full",
	})
}

// HostTransferred announces a host change
func (b *Broadcaster) HostTransferred(roomCode model.RoomCode, oldHostID, newHostID model.UserID, newHostName, reason string) {
	b.publish(roomCode, model.EventHostTransferred, model.HostTransferredPayload{
		OldHostID:   oldHostID,
		NewHostID:   newHostID,
		NewHostName: newHostName,
		Reason:      reason,
	})
}

// StatusConflictResolved announces the outcome of an explicit reconciliation
func (b *Broadcaster) StatusConflictResolved(roomCode model.RoomCode, userID model.UserID, resolved model.StatusTriple, strategy model.ResolutionStrategy, requiresAction bool) {
	b.publish(roomCode, model.EventStatusConflictResolved, model.StatusConflictResolvedPayload{
		UserID:         userID,
		ResolvedStatus: resolved,
		Strategy:       strategy,
		RequiresAction: requiresAction,
	})
}
