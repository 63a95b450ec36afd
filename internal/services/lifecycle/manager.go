package lifecycle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roomsync/roomsync/internal/dependencies/clock"
	"github.com/roomsync/roomsync/internal/model"
	"github.com/roomsync/roomsync/internal/pubsub"
	"github.com/roomsync/roomsync/internal/storage"
)

// Config holds the grace windows for room lifecycle decisions
type Config struct {
	// AbandonmentGrace is how long a room with no active members survives
	// before it is marked abandoned
	AbandonmentGrace time.Duration
	// HostTransferGrace is how long a disconnected host keeps the role
	// before it is handed to another connected member
	HostTransferGrace time.Duration
}

// DefaultConfig returns the default lifecycle configuration
func DefaultConfig() Config {
	return Config{
		AbandonmentGrace:  10 * time.Second,
		HostTransferGrace: 30 * time.Second,
	}
}

type hostTransferTimer struct {
	timer  *time.Timer
	hostID model.UserID
}

// Manager owns the deferred room decisions: marking a room abandoned after
// everyone drops, and reassigning the host role after the host has been gone
// too long. Both are grace timers, and both re-verify state at expiry so a
// reconnection during the window wins.
type Manager struct {
	store       storage.Store
	broadcaster *pubsub.Broadcaster
	clock       clock.Clock
	logger      *slog.Logger
	cfg         Config

	mu            sync.Mutex
	abandonment   map[model.RoomID]*time.Timer
	hostTransfers map[model.RoomID]*hostTransferTimer
}

// NewManager creates a new lifecycle manager
func NewManager(
	store storage.Store,
	broadcaster *pubsub.Broadcaster,
	clk clock.Clock,
	cfg Config,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		store:         store,
		broadcaster:   broadcaster,
		clock:         clk,
		cfg:           cfg,
		logger:        logger.With(slog.String("component", "lifecycle")),
		abandonment:   make(map[model.RoomID]*time.Timer),
		hostTransfers: make(map[model.RoomID]*hostTransferTimer),
	}
}

// ScheduleAbandonmentCheck arms (or re-arms) the abandonment timer for a
// room. The room is only marked abandoned if it still has no active members
// when the timer fires.
func (m *Manager) ScheduleAbandonmentCheck(roomID model.RoomID, roomCode model.RoomCode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing := m.abandonment[roomID]; existing != nil {
		existing.Stop()
	}
	m.abandonment[roomID] = time.AfterFunc(m.cfg.AbandonmentGrace, func() {
		m.mu.Lock()
		delete(m.abandonment, roomID)
		m.mu.Unlock()
		m.RunAbandonmentCheck(context.Background(), roomID, roomCode)
	})
	m.logger.Debug("abandonment check scheduled", slog.String("room", string(roomCode)))
}

// CancelAbandonment disarms a pending abandonment timer
func (m *Manager) CancelAbandonment(roomID model.RoomID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing := m.abandonment[roomID]; existing != nil {
		existing.Stop()
		delete(m.abandonment, roomID)
	}
}

// RunAbandonmentCheck re-reads the room and marks it abandoned only when no
// member is still active
func (m *Manager) RunAbandonmentCheck(ctx context.Context, roomID model.RoomID, roomCode model.RoomCode) {
	room, err := m.store.GetRoom(ctx, roomID)
	if err != nil {
		return
	}
	if room.Status == model.RoomStatusAbandoned {
		return
	}

	members, err := m.store.GetMembers(ctx, roomID)
	if err != nil {
		m.logger.Warn("abandonment member scan failed",
			slog.String("room", string(roomCode)),
			slog.Any("error", err))
		return
	}
	for _, member := range members {
		if member.IsActive() {
			return
		}
	}

	if err := m.store.SetRoomStatus(ctx, roomID, room.Status, model.RoomStatusAbandoned); err != nil {
		m.logger.Warn("abandonment status flip failed",
			slog.String("room", string(roomCode)),
			slog.Any("error", err))
		return
	}

	m.broadcaster.RoomStatusChanged(roomCode, model.RoomStatusAbandoned, "no_active_players")
	if err := m.store.LogEvent(ctx, roomID, "", "roomAbandoned", nil); err != nil {
		m.logger.Warn("abandonment audit failed", slog.Any("error", err))
	}
	m.logger.Info("room abandoned", slog.String("room", string(roomCode)))
}

// ScheduleHostTransfer arms the host-transfer timer after the host drops.
// Re-arming for the same room replaces the previous timer.
func (m *Manager) ScheduleHostTransfer(roomID model.RoomID, roomCode model.RoomCode, hostID model.UserID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing := m.hostTransfers[roomID]; existing != nil {
		existing.timer.Stop()
	}
	m.hostTransfers[roomID] = &hostTransferTimer{
		hostID: hostID,
		timer: time.AfterFunc(m.cfg.HostTransferGrace, func() {
			m.mu.Lock()
			delete(m.hostTransfers, roomID)
			m.mu.Unlock()
			m.RunHostTransferCheck(context.Background(), roomID, roomCode, hostID)
		}),
	}
	m.logger.Debug("host transfer scheduled",
		slog.String("room", string(roomCode)),
		slog.String("host_id", string(hostID)))
}

// HandleReconnect reacts to a member coming back: any pending abandonment is
// cancelled, and if the member is the disconnected host the pending transfer
// is cancelled too
func (m *Manager) HandleReconnect(roomID model.RoomID, userID model.UserID) {
	m.CancelAbandonment(roomID)

	m.mu.Lock()
	defer m.mu.Unlock()
	if pending := m.hostTransfers[roomID]; pending != nil && pending.hostID == userID {
		pending.timer.Stop()
		delete(m.hostTransfers, roomID)
		m.logger.Info("host reconnected within grace",
			slog.String("room_id", string(roomID)),
			slog.String("host_id", string(userID)))
	}
}

// RunHostTransferCheck settles the host role once the grace window closes.
// If the original host came back they keep the role; if someone else is
// connected the role moves; otherwise the absent host keeps it so a later
// reconnection restores the room as it was.
func (m *Manager) RunHostTransferCheck(ctx context.Context, roomID model.RoomID, roomCode model.RoomCode, hostID model.UserID) {
	host, err := m.store.GetMember(ctx, roomID, hostID)
	if err == nil && host.Connected {
		return
	}

	members, err := m.store.GetMembers(ctx, roomID)
	if err != nil {
		m.logger.Warn("host transfer member scan failed",
			slog.String("room", string(roomCode)),
			slog.Any("error", err))
		return
	}

	anyConnected := false
	for _, member := range members {
		if member.UserID != hostID && member.Connected {
			anyConnected = true
			break
		}
	}
	if !anyConnected {
		m.logger.Info("host grace expired with no candidates, role kept",
			slog.String("room", string(roomCode)),
			slog.String("host_id", string(hostID)))
		return
	}

	newHost, err := m.store.AutoTransferHost(ctx, roomID, hostID)
	if err != nil {
		m.logger.Error("host transfer failed",
			slog.String("room", string(roomCode)),
			slog.Any("error", err))
		return
	}
	if newHost == nil {
		return
	}

	m.broadcaster.HostTransferred(roomCode, hostID, newHost.UserID, newHost.Name(), "grace_period_expired")
	if err := m.store.LogEvent(ctx, roomID, newHost.UserID, "hostTransferred", map[string]any{
		"oldHostId": string(hostID),
		"reason":    "grace_period_expired",
	}); err != nil {
		m.logger.Warn("host transfer audit failed", slog.Any("error", err))
	}
	m.logger.Info("host transferred after grace",
		slog.String("room", string(roomCode)),
		slog.String("old_host", string(hostID)),
		slog.String("new_host", string(newHost.UserID)))
}

// Stop disarms every pending timer
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for roomID, t := range m.abandonment {
		t.Stop()
		delete(m.abandonment, roomID)
	}
	for roomID, t := range m.hostTransfers {
		t.timer.Stop()
		delete(m.hostTransfers, roomID)
	}
}
