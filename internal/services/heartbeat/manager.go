package heartbeat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roomsync/roomsync/internal/dependencies/clock"
	"github.com/roomsync/roomsync/internal/model"
	"github.com/roomsync/roomsync/internal/pubsub"
	"github.com/roomsync/roomsync/internal/services/connection"
	"github.com/roomsync/roomsync/internal/storage"
)

// Config holds liveness detection tunables
type Config struct {
	// Timeout is the silence after which a tracked member is considered gone
	Timeout time.Duration
	// TransferGrace is the extended timeout granted to a freshly promoted
	// host so the promotion itself cannot immediately time out
	TransferGrace time.Duration
	// SweepInterval is the period of the in-memory liveness check
	SweepInterval time.Duration
	// StoreSweepInterval is the period of the secondary store-backed sweep
	// that catches members this process never tracked
	StoreSweepInterval time.Duration
	// StoreStaleAfter is the last-ping age the store sweep treats as stale
	StoreStaleAfter time.Duration
}

// DefaultConfig returns the default heartbeat configuration
func DefaultConfig() Config {
	return Config{
		Timeout:            10 * time.Second,
		TransferGrace:      20 * time.Second,
		SweepInterval:      5 * time.Second,
		StoreSweepInterval: 30 * time.Second,
		StoreStaleAfter:    30 * time.Second,
	}
}

type trackKey struct {
	userID model.UserID
	roomID model.RoomID
}

type trackedMember struct {
	roomCode model.RoomCode
	lastBeat time.Time
}

// Manager detects dead connections by heartbeat silence and drives host
// failover when the silent member held the host role.
type Manager struct {
	store       storage.Store
	connections *connection.Manager
	broadcaster *pubsub.Broadcaster
	clock       clock.Clock
	logger      *slog.Logger
	cfg         Config

	mu      sync.Mutex
	tracked map[trackKey]*trackedMember
	// recentTransfers holds promotion instants; entries self-expire after
	// TransferGrace so a promoted host only gets the wider window once
	recentTransfers map[trackKey]time.Time
}

// NewManager creates a new heartbeat manager
func NewManager(
	store storage.Store,
	connections *connection.Manager,
	broadcaster *pubsub.Broadcaster,
	clk clock.Clock,
	cfg Config,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		store:           store,
		connections:     connections,
		broadcaster:     broadcaster,
		clock:           clk,
		cfg:             cfg,
		logger:          logger.With(slog.String("component", "heartbeat")),
		tracked:         make(map[trackKey]*trackedMember),
		recentTransfers: make(map[trackKey]time.Time),
	}
}

// Track starts (or refreshes) liveness tracking for a member
func (m *Manager) Track(userID model.UserID, roomID model.RoomID, roomCode model.RoomCode) {
	key := trackKey{userID: userID, roomID: roomID}
	m.mu.Lock()
	m.tracked[key] = &trackedMember{roomCode: roomCode, lastBeat: m.clock.Now()}
	m.mu.Unlock()
}

// Beat refreshes the liveness timestamp for a tracked member. Untracked
// members are ignored; callers Track on join/recovery.
func (m *Manager) Beat(userID model.UserID, roomID model.RoomID) {
	key := trackKey{userID: userID, roomID: roomID}
	m.mu.Lock()
	if t := m.tracked[key]; t != nil {
		t.lastBeat = m.clock.Now()
	}
	m.mu.Unlock()
}

// Untrack stops liveness tracking for a member (explicit leave)
func (m *Manager) Untrack(userID model.UserID, roomID model.RoomID) {
	key := trackKey{userID: userID, roomID: roomID}
	m.mu.Lock()
	delete(m.tracked, key)
	delete(m.recentTransfers, key)
	m.mu.Unlock()
}

// Run drives the periodic sweeps until ctx is done
func (m *Manager) Run(ctx context.Context) {
	sweep := time.NewTicker(m.cfg.SweepInterval)
	defer sweep.Stop()
	storeSweep := time.NewTicker(m.cfg.StoreSweepInterval)
	defer storeSweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep.C:
			m.Sweep(ctx)
		case <-storeSweep.C:
			m.SweepStore(ctx)
		}
	}
}

// Sweep times out tracked members whose heartbeats have gone silent. A
// member inside the post-promotion grace window is measured against the
// longer TransferGrace instead of the normal timeout.
func (m *Manager) Sweep(ctx context.Context) {
	now := m.clock.Now()

	m.mu.Lock()
	for key, promoted := range m.recentTransfers {
		if now.Sub(promoted) >= m.cfg.TransferGrace {
			delete(m.recentTransfers, key)
		}
	}

	type staleEntry struct {
		key      trackKey
		roomCode model.RoomCode
	}
	var stale []staleEntry
	for key, t := range m.tracked {
		timeout := m.cfg.Timeout
		if _, ok := m.recentTransfers[key]; ok {
			timeout = m.cfg.TransferGrace
		}
		if now.Sub(t.lastBeat) >= timeout {
			stale = append(stale, staleEntry{key: key, roomCode: t.roomCode})
			delete(m.tracked, key)
		}
	}
	m.mu.Unlock()

	for _, entry := range stale {
		m.handleTimeout(ctx, entry.key.roomID, entry.key.userID, entry.roomCode)
	}
}

// SweepStore catches members whose last persisted ping is stale but were
// never tracked in this process (restart, multi-node handoff)
func (m *Manager) SweepStore(ctx context.Context) {
	cutoff := m.clock.Now().Add(-m.cfg.StoreStaleAfter)
	members, err := m.store.ListStaleMembers(ctx, cutoff)
	if err != nil {
		m.logger.Warn("stale member scan failed", slog.Any("error", err))
		return
	}

	for _, member := range members {
		key := trackKey{userID: member.UserID, roomID: member.RoomID}
		m.mu.Lock()
		_, trackedHere := m.tracked[key]
		m.mu.Unlock()
		if trackedHere {
			// The in-memory sweep owns this member's fate
			continue
		}
		room, err := m.store.GetRoom(ctx, member.RoomID)
		if err != nil {
			continue
		}
		m.handleTimeout(ctx, member.RoomID, member.UserID, room.Code)
	}
}

// handleTimeout marks the member disconnected and, if they were host,
// promotes a replacement. The replacement's heartbeat is refreshed and the
// grace window opened so the promotion itself cannot instantly time out.
func (m *Manager) handleTimeout(ctx context.Context, roomID model.RoomID, userID model.UserID, roomCode model.RoomCode) {
	member, err := m.store.GetMember(ctx, roomID, userID)
	if err != nil {
		m.logger.Warn("timed out member lookup failed",
			slog.String("user_id", string(userID)),
			slog.Any("error", err))
		return
	}
	if !member.Connected {
		return
	}

	wasHost := member.Role == model.RoleHost
	now := m.clock.Now()
	member.Connected = false
	member.InGame = false
	member.Location = model.LocationDisconnected
	member.UpdatedAt = now
	if err := m.store.SaveMember(ctx, member); err != nil {
		m.logger.Error("failed to mark member disconnected",
			slog.String("user_id", string(userID)),
			slog.Any("error", err))
		return
	}

	if member.TransportID != "" {
		m.connections.RemoveConnection(member.TransportID)
	}

	m.logger.Info("heartbeat timeout",
		slog.String("user_id", string(userID)),
		slog.String("room", string(roomCode)),
		slog.Bool("was_host", wasHost))

	if !wasHost {
		m.broadcaster.PlayerDisconnected(roomCode, userID, false, "heartbeat_timeout")
		return
	}

	newHost, err := m.store.AutoTransferHost(ctx, roomID, userID)
	if err != nil {
		m.logger.Error("host transfer failed",
			slog.String("room", string(roomCode)),
			slog.Any("error", err))
		m.broadcaster.PlayerDisconnected(roomCode, userID, true, "heartbeat_timeout")
		return
	}
	if newHost == nil {
		// Nobody connected to promote; the role stays with the silent host
		// until the lifecycle grace timers settle the room
		m.broadcaster.PlayerDisconnected(roomCode, userID, true, "heartbeat_timeout")
		return
	}

	key := trackKey{userID: newHost.UserID, roomID: roomID}
	m.mu.Lock()
	if t := m.tracked[key]; t != nil {
		t.lastBeat = now
	} else {
		m.tracked[key] = &trackedMember{roomCode: roomCode, lastBeat: now}
	}
	m.recentTransfers[key] = now
	m.mu.Unlock()

	m.broadcaster.HostTransferred(roomCode, userID, newHost.UserID, newHost.Name(), "heartbeat_timeout")
	m.logger.Info("host transferred",
		slog.String("room", string(roomCode)),
		slog.String("old_host", string(userID)),
		slog.String("new_host", string(newHost.UserID)))
}
