package statussync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roomsync/roomsync/internal/dependencies/clock"
	"github.com/roomsync/roomsync/internal/model"
	"github.com/roomsync/roomsync/internal/pubsub"
	"github.com/roomsync/roomsync/internal/services/lobby"
	"github.com/roomsync/roomsync/internal/storage"
)

// Config holds tunables for the status sync manager
type Config struct {
	// DrainInterval is the period of the deferred queue processor
	DrainInterval time.Duration
	// MaxRetries caps apply attempts per queued update
	MaxRetries int
	// BulkChunkSize bounds concurrency inside a bulk update
	BulkChunkSize int
	// RollbackThreshold is the failure ratio above which a bulk update is
	// rolled back
	RollbackThreshold float64
	// HeartbeatPersistInterval throttles last-ping writes to the store
	HeartbeatPersistInterval time.Duration
	// DisconnectSweepInterval is the period of the disconnection detector
	DisconnectSweepInterval time.Duration
	// HeartbeatStaleAfter is the silence after which a player is presumed
	// disconnected
	HeartbeatStaleAfter time.Duration
}

// DefaultConfig returns the default status sync configuration
func DefaultConfig() Config {
	return Config{
		DrainInterval:            5 * time.Second,
		MaxRetries:               3,
		BulkChunkSize:            5,
		RollbackThreshold:        0.5,
		HeartbeatPersistInterval: 15 * time.Second,
		DisconnectSweepInterval:  30 * time.Second,
		HeartbeatStaleAfter:      60 * time.Second,
	}
}

type syncKey struct {
	userID   model.UserID
	roomCode model.RoomCode
}

type heartbeatState struct {
	lastBeat      time.Time
	lastPersisted time.Time
}

// Manager serializes concurrent, possibly out-of-order status reports into a
// single eventually-consistent view per (player, room) key.
//
// Every update is stamped with a globally increasing sequence number; for any
// key, only the update with the highest sequence number observed is ever the
// one applied. Superseded updates are dropped, which is what prevents a
// delayed "disconnected" report from clobbering a later "reconnected" one.
type Manager struct {
	lobby       *lobby.Manager
	store       storage.Store
	broadcaster *pubsub.Broadcaster
	clock       clock.Clock
	logger      *slog.Logger
	cfg         Config

	mu          sync.Mutex
	seq         uint64
	queue       map[syncKey]*model.StatusUpdate
	lastApplied map[syncKey]uint64
	heartbeats  map[syncKey]*heartbeatState
}

// NewManager creates a new status sync manager
func NewManager(
	lobbyManager *lobby.Manager,
	store storage.Store,
	broadcaster *pubsub.Broadcaster,
	clk clock.Clock,
	cfg Config,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		lobby:       lobbyManager,
		store:       store,
		broadcaster: broadcaster,
		clock:       clk,
		cfg:         cfg,
		logger:      logger.With(slog.String("component", "statussync")),
		queue:       make(map[syncKey]*model.StatusUpdate),
		lastApplied: make(map[syncKey]uint64),
		heartbeats:  make(map[syncKey]*heartbeatState),
	}
}

// UpdateRequest describes one reported location change
type UpdateRequest struct {
	UserID    model.UserID
	RoomCode  model.RoomCode
	Status    string
	Location  model.Location
	Metadata  map[string]any
	Immediate bool
	Reason    string
}

// UpdatePlayerLocation stamps the request with the next global sequence
// number and routes it through the ordered apply path. Immediate updates and
// disconnections bypass the deferred queue but still take the
// sequence-comparison path.
func (m *Manager) UpdatePlayerLocation(ctx context.Context, req UpdateRequest) error {
	update := &model.StatusUpdate{
		UserID:    req.UserID,
		RoomCode:  req.RoomCode,
		Status:    req.Status,
		Location:  req.Location,
		Metadata:  req.Metadata,
		Immediate: req.Immediate,
		Reason:    req.Reason,
		Sequence:  m.nextSequence(),
		QueuedAt:  m.clock.Now(),
	}
	return m.submit(ctx, update)
}

func (m *Manager) nextSequence() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	return m.seq
}

// submit enforces the ordering invariant for a stamped update and either
// applies it now (immediate path) or parks it in the queue slot for its key
func (m *Manager) submit(ctx context.Context, update *model.StatusUpdate) error {
	key := syncKey{userID: update.UserID, roomCode: update.RoomCode}
	immediate := update.Immediate || update.Location == model.LocationDisconnected

	m.mu.Lock()
	if last := m.lastApplied[key]; update.Sequence <= last {
		m.mu.Unlock()
		m.logger.Info("discarding superseded status update",
			slog.String("user_id", string(update.UserID)),
			slog.String("room", string(update.RoomCode)),
			slog.Uint64("sequence", update.Sequence),
			slog.Uint64("last_applied", last))
		return nil
	}

	if !immediate {
		queued := m.queue[key]
		if queued != nil && queued.Sequence >= update.Sequence {
			m.mu.Unlock()
			m.logger.Info("discarding superseded queued update",
				slog.String("user_id", string(update.UserID)),
				slog.Uint64("sequence", update.Sequence),
				slog.Uint64("queued_sequence", queued.Sequence))
			return nil
		}
		m.queue[key] = update
		m.mu.Unlock()
		return nil
	}

	// Immediate path: any older queued update for the key is now superseded
	if queued := m.queue[key]; queued != nil && queued.Sequence < update.Sequence {
		delete(m.queue, key)
	}
	m.mu.Unlock()

	return m.apply(ctx, update)
}

// apply pushes an update through the lobby manager's status path and records
// its sequence on success
func (m *Manager) apply(ctx context.Context, update *model.StatusUpdate) error {
	_, err := m.lobby.UpdatePlayerStatus(ctx, lobby.StatusParams{
		UserID:   update.UserID,
		RoomCode: update.RoomCode,
		Status:   update.Status,
		Location: update.Location,
		Metadata: update.Metadata,
		Reason:   update.Reason,
	})
	if err != nil {
		return err
	}

	key := syncKey{userID: update.UserID, roomCode: update.RoomCode}
	m.mu.Lock()
	if update.Sequence > m.lastApplied[key] {
		m.lastApplied[key] = update.Sequence
	}
	m.mu.Unlock()
	return nil
}

// Run drives the queue drain and disconnection sweeps until ctx is done
func (m *Manager) Run(ctx context.Context) {
	drain := time.NewTicker(m.cfg.DrainInterval)
	defer drain.Stop()
	sweep := time.NewTicker(m.cfg.DisconnectSweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-drain.C:
			m.DrainQueue(ctx)
		case <-sweep.C:
			m.DetectDisconnections(ctx)
		}
	}
}

// DrainQueue applies every surviving queued update. Failures are retried on
// later drains up to the retry cap, then dropped.
func (m *Manager) DrainQueue(ctx context.Context) {
	m.mu.Lock()
	pending := make([]*model.StatusUpdate, 0, len(m.queue))
	for key, update := range m.queue {
		pending = append(pending, update)
		delete(m.queue, key)
	}
	m.mu.Unlock()

	for _, update := range pending {
		if err := m.apply(ctx, update); err != nil {
			update.RetryCount++
			if update.RetryCount >= m.cfg.MaxRetries {
				m.logger.Error("dropping status update after retries",
					slog.String("user_id", string(update.UserID)),
					slog.String("room", string(update.RoomCode)),
					slog.Int("retries", update.RetryCount),
					slog.Any("error", err))
				continue
			}
			m.requeue(update)
		}
	}
}

// requeue parks a failed update again unless a newer one has arrived
func (m *Manager) requeue(update *model.StatusUpdate) {
	key := syncKey{userID: update.UserID, roomCode: update.RoomCode}
	m.mu.Lock()
	defer m.mu.Unlock()
	if queued := m.queue[key]; queued != nil && queued.Sequence > update.Sequence {
		return
	}
	if update.Sequence <= m.lastApplied[key] {
		return
	}
	m.queue[key] = update
}

// HandleHeartbeat records liveness for a (player, room) key. The store is
// only touched periodically to bound write volume.
func (m *Manager) HandleHeartbeat(ctx context.Context, userID model.UserID, roomCode model.RoomCode) {
	now := m.clock.Now()
	key := syncKey{userID: userID, roomCode: roomCode}

	m.mu.Lock()
	state := m.heartbeats[key]
	if state == nil {
		state = &heartbeatState{}
		m.heartbeats[key] = state
	}
	state.lastBeat = now
	persist := now.Sub(state.lastPersisted) >= m.cfg.HeartbeatPersistInterval
	if persist {
		state.lastPersisted = now
	}
	m.mu.Unlock()

	if !persist {
		return
	}

	room, err := m.store.GetRoomByCode(ctx, roomCode)
	if err != nil {
		return
	}
	member, err := m.store.GetMember(ctx, room.ID, userID)
	if err != nil {
		return
	}
	member.LastPing = now
	if err := m.store.SaveMember(ctx, member); err != nil {
		m.logger.Warn("heartbeat persist failed",
			slog.String("user_id", string(userID)),
			slog.Any("error", err))
	}
}

// ForgetHeartbeat drops liveness tracking for a key (explicit leave)
func (m *Manager) ForgetHeartbeat(userID model.UserID, roomCode model.RoomCode) {
	m.mu.Lock()
	delete(m.heartbeats, syncKey{userID: userID, roomCode: roomCode})
	m.mu.Unlock()
}

// DetectDisconnections synthesizes an immediate disconnected update for
// every tracked player whose heartbeat has gone stale
func (m *Manager) DetectDisconnections(ctx context.Context) {
	cutoff := m.clock.Now().Add(-m.cfg.HeartbeatStaleAfter)

	m.mu.Lock()
	var stale []syncKey
	for key, state := range m.heartbeats {
		if state.lastBeat.Before(cutoff) {
			stale = append(stale, key)
			delete(m.heartbeats, key)
		}
	}
	m.mu.Unlock()

	for _, key := range stale {
		m.logger.Info("heartbeat stale, presuming disconnect",
			slog.String("user_id", string(key.userID)),
			slog.String("room", string(key.roomCode)))
		err := m.UpdatePlayerLocation(ctx, UpdateRequest{
			UserID:    key.userID,
			RoomCode:  key.roomCode,
			Status:    "disconnected",
			Location:  model.LocationDisconnected,
			Immediate: true,
			Reason:    "heartbeat_timeout",
		})
		if err != nil {
			m.logger.Warn("disconnect synthesis failed",
				slog.String("user_id", string(key.userID)),
				slog.Any("error", err))
		}
	}
}
