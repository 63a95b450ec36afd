package lobby

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teris-io/shortid"

	"github.com/roomsync/roomsync/internal/dependencies/clock"
	"github.com/roomsync/roomsync/internal/dependencies/random"
	"github.com/roomsync/roomsync/internal/model"
	"github.com/roomsync/roomsync/internal/pubsub"
	"github.com/roomsync/roomsync/internal/services/connection"
	"github.com/roomsync/roomsync/internal/storage"
)

const (
	// RoomCodeLength is the length of generated room codes
	RoomCodeLength = 6
	// RoomCodeAlphabet is the characters used in room codes (avoid confusing chars)
	RoomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	// maxCodeAttempts bounds code generation retries on collision
	maxCodeAttempts = 100
)

// Config holds tunables for the lobby manager
type Config struct {
	DefaultMaxPlayers int
	SessionDuration   time.Duration
	CleanupInterval   time.Duration
	SnapshotTTL       time.Duration
	// ReturnWindow is how long a group return is expected to take; stored
	// in room metadata for clients
	ReturnWindow time.Duration
}

// DefaultConfig returns the default lobby manager configuration
func DefaultConfig() Config {
	return Config{
		DefaultMaxPlayers: 8,
		SessionDuration:   24 * time.Hour,
		CleanupInterval:   5 * time.Minute,
		SnapshotTTL:       30 * time.Minute,
		ReturnWindow:      30 * time.Second,
	}
}

// Manager owns room creation/join, session issuance/recovery, room snapshot
// assembly, and broadcast of membership changes
type Manager struct {
	store       storage.Store
	connections *connection.Manager
	broadcaster *pubsub.Broadcaster
	clock       clock.Clock
	random      random.Random
	logger      *slog.Logger
	cfg         Config

	mu        sync.RWMutex
	snapshots map[model.RoomCode]*model.RoomSnapshot
}

// NewManager creates a new lobby manager
func NewManager(
	store storage.Store,
	connections *connection.Manager,
	broadcaster *pubsub.Broadcaster,
	clk clock.Clock,
	rnd random.Random,
	cfg Config,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		store:       store,
		connections: connections,
		broadcaster: broadcaster,
		clock:       clk,
		random:      rnd,
		cfg:         cfg,
		logger:      logger.With(slog.String("component", "lobby")),
		snapshots:   make(map[model.RoomCode]*model.RoomSnapshot),
	}
}

// GenerateRoomCode allocates a room code not currently in use
func (m *Manager) GenerateRoomCode(ctx context.Context) (model.RoomCode, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code := model.RoomCode(m.random.String(RoomCodeLength, RoomCodeAlphabet))
		exists, err := m.store.RoomCodeExists(ctx, code)
		if err != nil {
			return "", err
		}
		if !exists {
			return code, nil
		}
	}
	return "", fmt.Errorf("could not allocate a unique room code after %d attempts", maxCodeAttempts)
}

// CreateParams are the inputs to CreateRoom
type CreateParams struct {
	HostID       model.UserID
	DisplayName  string
	ActivityType string
	MaxPlayers   int
	Settings     map[string]any
}

// CreateRoom allocates a code, inserts the room with the host as its first
// member, seeds the snapshot cache, and logs a lifecycle event
func (m *Manager) CreateRoom(ctx context.Context, params CreateParams) (*model.Room, error) {
	code, err := m.GenerateRoomCode(ctx)
	if err != nil {
		return nil, err
	}

	id, err := shortid.Generate()
	if err != nil {
		return nil, err
	}

	now := m.clock.Now()
	maxPlayers := params.MaxPlayers
	if maxPlayers <= 0 {
		maxPlayers = m.cfg.DefaultMaxPlayers
	}

	room := &model.Room{
		ID:           model.RoomID("room_" + id),
		Code:         code,
		HostID:       params.HostID,
		Status:       model.RoomStatusLobby,
		ActivityType: params.ActivityType,
		MaxPlayers:   maxPlayers,
		Settings:     params.Settings,
		Metadata:     map[string]any{},
		LastActivity: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := m.store.SaveRoom(ctx, room); err != nil {
		return nil, err
	}

	host := &model.Member{
		RoomID:      room.ID,
		UserID:      params.HostID,
		DisplayName: params.DisplayName,
		Role:        model.RoleHost,
		Connected:   true,
		Location:    model.LocationLobby,
		LastPing:    now,
		JoinedAt:    now,
		UpdatedAt:   now,
	}
	if err := m.store.SaveMember(ctx, host); err != nil {
		return nil, err
	}

	m.cacheSnapshot(room, []*model.Member{host})
	m.logEvent(ctx, room.ID, params.HostID, "roomCreated", map[string]any{
		"code":         string(code),
		"activityType": params.ActivityType,
	})

	m.logger.Info("room created",
		slog.String("room", string(code)),
		slog.String("host", string(params.HostID)))
	return room, nil
}

// JoinParams are the inputs to JoinRoom
type JoinParams struct {
	UserID       model.UserID
	RoomCode     model.RoomCode
	DisplayName  string
	TransportID  string
	SessionToken string
	CustomName   string
}

// JoinResult is the outcome of a successful join
type JoinResult struct {
	Room    *model.Room
	Member  *model.Member
	Members []*model.Member
	Session *model.Session
	Rejoin  bool
}

// JoinRoom adds a player to a room, or reconnects them if they already have
// a member row. The join path is serialized per (username, roomCode) by an
// advisory lock; contention fails fast with ErrJoinLockContended.
func (m *Manager) JoinRoom(ctx context.Context, params JoinParams) (*JoinResult, error) {
	if !m.connections.AcquireJoinLock(params.DisplayName, params.RoomCode, params.TransportID) {
		return nil, model.ErrJoinLockContended
	}
	defer m.connections.ReleaseJoinLock(params.DisplayName, params.RoomCode)

	room, err := m.store.GetRoomByCode(ctx, params.RoomCode)
	if err != nil {
		return nil, err
	}
	if !room.IsJoinable() {
		return nil, fmt.Errorf("%w: status is %s", model.ErrRoomNotAvailable, room.Status)
	}

	members, err := m.store.GetMembers(ctx, room.ID)
	if err != nil {
		return nil, err
	}

	now := m.clock.Now()
	var member *model.Member
	rejoin := false

	for _, existing := range members {
		if existing.UserID == params.UserID {
			member = existing
			rejoin = true
			break
		}
	}

	if rejoin {
		// Reconnect path: flip connected, relocate to lobby, refresh the
		// custom name. No duplicate row is inserted.
		member.Connected = true
		member.Location = model.LocationLobby
		member.InGame = false
		member.TransportID = params.TransportID
		member.LastPing = now
		member.UpdatedAt = now
		if params.CustomName != "" {
			member.CustomName = params.CustomName
		}
		if err := m.store.SaveMember(ctx, member); err != nil {
			return nil, err
		}
		m.connections.ConsolidateConnections(params.UserID)
	} else {
		connected := 0
		for _, existing := range members {
			if existing.Connected {
				connected++
			}
		}
		if connected >= room.MaxPlayers {
			return nil, model.ErrRoomFull
		}

		member = &model.Member{
			RoomID:      room.ID,
			UserID:      params.UserID,
			DisplayName: params.DisplayName,
			CustomName:  params.CustomName,
			Role:        model.RolePlayer,
			Connected:   true,
			Location:    model.LocationLobby,
			LastPing:    now,
			TransportID: params.TransportID,
			JoinedAt:    now,
			UpdatedAt:   now,
		}
		if err := m.store.SaveMember(ctx, member); err != nil {
			return nil, err
		}
	}

	members, err = m.store.GetMembers(ctx, room.ID)
	if err != nil {
		return nil, err
	}

	// Capacity re-check after the insert: a concurrent join can slip past
	// the pre-insert check between reads. Detected and logged only; the
	// overflow member is not evicted.
	if !rejoin {
		connected := 0
		for _, existing := range members {
			if existing.Connected {
				connected++
			}
		}
		if connected > room.MaxPlayers {
			m.logger.Warn("room capacity exceeded by concurrent join",
				slog.String("room", string(room.Code)),
				slog.Int("connected", connected),
				slog.Int("max", room.MaxPlayers))
		}
	}

	session, err := m.CreatePlayerSession(ctx, params.UserID, room.ID, params.TransportID)
	if err != nil {
		return nil, err
	}

	m.bindConnection(params, room, session)

	room.LastActivity = now
	room.UpdatedAt = now
	if err := m.store.SaveRoom(ctx, room); err != nil {
		return nil, err
	}

	m.cacheSnapshot(room, members)
	m.logEvent(ctx, room.ID, params.UserID, "playerJoined", map[string]any{
		"rejoin": rejoin,
	})
	m.broadcaster.PlayerJoined(room.Code, member, members, rejoin)

	return &JoinResult{
		Room:    room,
		Member:  member,
		Members: members,
		Session: session,
		Rejoin:  rejoin,
	}, nil
}

// bindConnection associates the joining transport with the room and session
func (m *Manager) bindConnection(params JoinParams, room *model.Room, session *model.Session) {
	if params.TransportID == "" {
		return
	}
	if _, ok := m.connections.GetConnection(params.TransportID); ok {
		m.connections.UpdateConnection(params.TransportID, params.UserID, room.ID, room.Code, session.Token)
		return
	}
	m.connections.AddConnection(&model.Connection{
		TransportID:  params.TransportID,
		UserID:       params.UserID,
		Username:     params.DisplayName,
		RoomID:       room.ID,
		RoomCode:     room.Code,
		SessionToken: session.Token,
		Type:         model.ConnectionTypeLive,
		IsPrimary:    true,
	})
}

// LeaveRoom deletes the member row (explicit leave, unlike a disconnect).
// A leaving host triggers an immediate transfer; an emptied room is deleted.
func (m *Manager) LeaveRoom(ctx context.Context, userID model.UserID, roomCode model.RoomCode) error {
	room, err := m.store.GetRoomByCode(ctx, roomCode)
	if err != nil {
		return err
	}

	member, err := m.store.GetMember(ctx, room.ID, userID)
	if err != nil {
		return err
	}
	wasHost := member.Role == model.RoleHost

	if err := m.store.DeleteMember(ctx, room.ID, userID); err != nil {
		return err
	}
	if member.TransportID != "" {
		m.connections.RemoveConnection(member.TransportID)
	}

	members, err := m.store.GetMembers(ctx, room.ID)
	if err != nil {
		return err
	}

	if len(members) == 0 {
		m.evictSnapshot(roomCode)
		m.logEvent(ctx, room.ID, userID, "roomDeleted", map[string]any{"reason": "empty"})
		return m.store.DeleteRoom(ctx, room.ID)
	}

	if wasHost {
		newHost, err := m.store.AutoTransferHost(ctx, room.ID, userID)
		if err != nil {
			return err
		}
		if newHost != nil {
			m.broadcaster.HostTransferred(roomCode, userID, newHost.UserID, newHost.Name(), "host_left")
		}
		members, err = m.store.GetMembers(ctx, room.ID)
		if err != nil {
			return err
		}
	}

	if room, err = m.store.GetRoom(ctx, room.ID); err != nil {
		return err
	}
	m.cacheSnapshot(room, members)
	m.logEvent(ctx, room.ID, userID, "playerLeft", nil)
	m.broadcaster.PlayerLeft(roomCode, userID, members)
	return nil
}

// GetRoomSnapshot returns the cached room view, reassembling it from the
// store when the cache is cold
func (m *Manager) GetRoomSnapshot(ctx context.Context, roomCode model.RoomCode) (*model.RoomSnapshot, error) {
	m.mu.RLock()
	snapshot, ok := m.snapshots[roomCode]
	m.mu.RUnlock()
	if ok {
		return snapshot, nil
	}
	return m.RefreshSnapshot(ctx, roomCode)
}

// RefreshSnapshot reassembles and caches the room view from the store
func (m *Manager) RefreshSnapshot(ctx context.Context, roomCode model.RoomCode) (*model.RoomSnapshot, error) {
	room, err := m.store.GetRoomByCode(ctx, roomCode)
	if err != nil {
		return nil, err
	}
	members, err := m.store.GetMembers(ctx, room.ID)
	if err != nil {
		return nil, err
	}
	return m.cacheSnapshot(room, members), nil
}

func (m *Manager) cacheSnapshot(room *model.Room, members []*model.Member) *model.RoomSnapshot {
	snapshot := &model.RoomSnapshot{
		Room:      room,
		Members:   members,
		UpdatedAt: m.clock.Now(),
	}
	m.mu.Lock()
	m.snapshots[room.Code] = snapshot
	m.mu.Unlock()
	return snapshot
}

func (m *Manager) evictSnapshot(roomCode model.RoomCode) {
	m.mu.Lock()
	delete(m.snapshots, roomCode)
	m.mu.Unlock()
}

// logEvent appends to the audit trail; failures are logged, never propagated
func (m *Manager) logEvent(ctx context.Context, roomID model.RoomID, userID model.UserID, eventType string, data map[string]any) {
	if err := m.store.LogEvent(ctx, roomID, userID, eventType, data); err != nil {
		m.logger.Warn("audit log append failed",
			slog.String("event", eventType),
			slog.Any("error", err))
	}
}

// StartCleanup runs the periodic session/snapshot sweep until ctx is done
func (m *Manager) StartCleanup(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RunCleanup(ctx)
		}
	}
}

// RunCleanup deletes expired sessions and evicts snapshot cache entries that
// have not been touched within the TTL
func (m *Manager) RunCleanup(ctx context.Context) {
	removed, err := m.store.DeleteExpiredSessions(ctx, m.clock.Now())
	if err != nil {
		m.logger.Warn("expired session sweep failed", slog.Any("error", err))
	} else if removed > 0 {
		m.logger.Info("expired sessions removed", slog.Int("count", removed))
	}

	cutoff := m.clock.Now().Add(-m.cfg.SnapshotTTL)
	m.mu.Lock()
	evicted := 0
	for code, snapshot := range m.snapshots {
		if snapshot.UpdatedAt.Before(cutoff) {
			delete(m.snapshots, code)
			evicted++
		}
	}
	m.mu.Unlock()
	if evicted > 0 {
		m.logger.Info("stale snapshots evicted", slog.Int("count", evicted))
	}
}
