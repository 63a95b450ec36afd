package connection

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roomsync/roomsync/internal/dependencies/clock"
	"github.com/roomsync/roomsync/internal/model"
)

// Config holds tunables for the connection manager
type Config struct {
	// LockStaleAfter is the age past which a join lock held by another
	// transport is treated as abandoned and silently reclaimed
	LockStaleAfter time.Duration
	// LockSweepAfter is the age past which the cleanup sweep removes locks
	LockSweepAfter time.Duration
	// RateLimitWindow is the rolling window for attempt counting
	RateLimitWindow time.Duration
	// RecoveryWindow is how long after a disconnect a session stays
	// recoverable
	RecoveryWindow time.Duration
	// RecoveryAbsoluteTTL is the hard ceiling on recoverable session age
	RecoveryAbsoluteTTL time.Duration
	// IdleTimeout is the inactivity age past which the periodic sweep
	// drops a connection
	IdleTimeout time.Duration
	// SweepInterval is the period of the stale-connection sweep
	SweepInterval time.Duration
}

// DefaultConfig returns the default connection manager configuration
func DefaultConfig() Config {
	return Config{
		LockStaleAfter:      5 * time.Second,
		LockSweepAfter:      10 * time.Second,
		RateLimitWindow:     60 * time.Second,
		RecoveryWindow:      5 * time.Minute,
		RecoveryAbsoluteTTL: 24 * time.Hour,
		IdleTimeout:         5 * time.Minute,
		SweepInterval:       60 * time.Second,
	}
}

type lockKey struct {
	username string
	roomCode model.RoomCode
}

type joinLock struct {
	transportID string
	acquiredAt  time.Time
}

type attemptKey struct {
	transportID string
	action      string
}

type recoverableSession struct {
	userID         model.UserID
	roomCode       model.RoomCode
	token          string
	createdAt      time.Time
	disconnectedAt time.Time
}

// Manager tracks live transport connections, binds them to (user, room), and
// serializes the join path with advisory TTL locks.
//
// The lock table is process-scoped; in a multi-instance deployment it must
// move into the store as a conditional write. That is a scaling boundary,
// not a bug.
type Manager struct {
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger

	mu          sync.Mutex
	connections map[string]*model.Connection
	locks       map[lockKey]*joinLock
	attempts    map[attemptKey][]time.Time
	byToken     map[string]string
	byUser      map[model.UserID]map[string]struct{}
	recoverable map[string]*recoverableSession
}

// NewManager creates a new connection manager
func NewManager(cfg Config, clk clock.Clock, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:         cfg,
		clock:       clk,
		logger:      logger.With(slog.String("component", "connections")),
		connections: make(map[string]*model.Connection),
		locks:       make(map[lockKey]*joinLock),
		attempts:    make(map[attemptKey][]time.Time),
		byToken:     make(map[string]string),
		byUser:      make(map[model.UserID]map[string]struct{}),
		recoverable: make(map[string]*recoverableSession),
	}
}

// AddConnection registers a transport connection
func (m *Manager) AddConnection(conn *model.Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *conn
	if copied.ConnectedAt.IsZero() {
		copied.ConnectedAt = m.clock.Now()
	}
	copied.LastActivity = m.clock.Now()
	m.connections[conn.TransportID] = &copied

	if conn.SessionToken != "" {
		m.byToken[conn.SessionToken] = conn.TransportID
	}
	if conn.UserID != "" {
		if m.byUser[conn.UserID] == nil {
			m.byUser[conn.UserID] = make(map[string]struct{})
		}
		m.byUser[conn.UserID][conn.TransportID] = struct{}{}
	}
}

// UpdateConnection rebinds an existing connection's (user, room, session)
// association and refreshes its activity timestamp
func (m *Manager) UpdateConnection(transportID string, userID model.UserID, roomID model.RoomID, roomCode model.RoomCode, sessionToken string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.connections[transportID]
	if !ok {
		return
	}

	if conn.SessionToken != "" && conn.SessionToken != sessionToken {
		delete(m.byToken, conn.SessionToken)
	}
	if conn.UserID != "" && conn.UserID != userID {
		if set := m.byUser[conn.UserID]; set != nil {
			delete(set, transportID)
			if len(set) == 0 {
				delete(m.byUser, conn.UserID)
			}
		}
	}

	conn.UserID = userID
	conn.RoomID = roomID
	conn.RoomCode = roomCode
	conn.SessionToken = sessionToken
	conn.LastActivity = m.clock.Now()

	if sessionToken != "" {
		m.byToken[sessionToken] = transportID
	}
	if userID != "" {
		if m.byUser[userID] == nil {
			m.byUser[userID] = make(map[string]struct{})
		}
		m.byUser[userID][transportID] = struct{}{}
	}
}

// TouchConnection refreshes a connection's last-activity timestamp
func (m *Manager) TouchConnection(transportID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conn, ok := m.connections[transportID]; ok {
		conn.LastActivity = m.clock.Now()
	}
}

// GetConnection returns a copy of the connection for a transport, if any
func (m *Manager) GetConnection(transportID string) (*model.Connection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.connections[transportID]
	if !ok {
		return nil, false
	}
	copied := *conn
	return &copied, true
}

// GetConnectionByToken returns the connection bound to a session token
func (m *Manager) GetConnectionByToken(token string) (*model.Connection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	transportID, ok := m.byToken[token]
	if !ok {
		return nil, false
	}
	conn, ok := m.connections[transportID]
	if !ok {
		return nil, false
	}
	copied := *conn
	return &copied, true
}

// ConnectionsForUser returns copies of all connections bound to a user
func (m *Manager) ConnectionsForUser(userID model.UserID) []*model.Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	var conns []*model.Connection
	for transportID := range m.byUser[userID] {
		if conn, ok := m.connections[transportID]; ok {
			copied := *conn
			conns = append(conns, &copied)
		}
	}
	return conns
}

// RemoveConnection drops a connection and releases any join lock held under
// its (username, roomCode) key
func (m *Manager) RemoveConnection(transportID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeConnectionLocked(transportID)
}

func (m *Manager) removeConnectionLocked(transportID string) {
	conn, ok := m.connections[transportID]
	if !ok {
		return
	}

	key := lockKey{username: conn.Username, roomCode: conn.RoomCode}
	if lock, ok := m.locks[key]; ok && lock.transportID == transportID {
		delete(m.locks, key)
	}

	if conn.SessionToken != "" {
		delete(m.byToken, conn.SessionToken)
	}
	if set := m.byUser[conn.UserID]; set != nil {
		delete(set, transportID)
		if len(set) == 0 {
			delete(m.byUser, conn.UserID)
		}
	}
	delete(m.connections, transportID)
}

// AcquireJoinLock attempts to take the advisory join lock for a
// (username, roomCode) key. A lock held by a different transport blocks the
// caller unless it is older than LockStaleAfter, in which case it is treated
// as abandoned and reclaimed.
func (m *Manager) AcquireJoinLock(username string, roomCode model.RoomCode, transportID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := lockKey{username: username, roomCode: roomCode}
	now := m.clock.Now()

	if lock, ok := m.locks[key]; ok {
		if lock.transportID != transportID && now.Sub(lock.acquiredAt) < m.cfg.LockStaleAfter {
			return false
		}
		if lock.transportID != transportID {
			m.logger.Warn("reclaiming abandoned join lock",
				slog.String("username", username),
				slog.String("room", string(roomCode)),
				slog.Duration("age", now.Sub(lock.acquiredAt)))
		}
	}

	m.locks[key] = &joinLock{transportID: transportID, acquiredAt: now}
	return true
}

// ReleaseJoinLock releases the join lock for a (username, roomCode) key
func (m *Manager) ReleaseJoinLock(username string, roomCode model.RoomCode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, lockKey{username: username, roomCode: roomCode})
}

// RecordAttempt adds an attempt timestamp to the rolling window for a
// (transport, action) pair
func (m *Manager) RecordAttempt(transportID, action string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := attemptKey{transportID: transportID, action: action}
	now := m.clock.Now()
	cutoff := now.Add(-m.cfg.RateLimitWindow)

	window := m.attempts[key]
	kept := window[:0]
	for _, t := range window {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	m.attempts[key] = append(kept, now)
}

// IsRateLimited reports whether the attempt count within the rolling window
// meets or exceeds the caller-supplied threshold
func (m *Manager) IsRateLimited(transportID, action string, threshold int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := attemptKey{transportID: transportID, action: action}
	cutoff := m.clock.Now().Add(-m.cfg.RateLimitWindow)

	count := 0
	for _, t := range m.attempts[key] {
		if t.After(cutoff) {
			count++
		}
	}
	return count >= threshold
}

// CleanupStaleConnections removes connections idle past maxIdle, locks older
// than the sweep threshold, and empty rate-limit windows. It returns the
// removed transport ids for the caller to reconcile externally.
func (m *Manager) CleanupStaleConnections(maxIdle time.Duration) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	var removed []string

	for transportID, conn := range m.connections {
		if now.Sub(conn.LastActivity) > maxIdle {
			removed = append(removed, transportID)
		}
	}
	for _, transportID := range removed {
		m.removeConnectionLocked(transportID)
	}

	for key, lock := range m.locks {
		if now.Sub(lock.acquiredAt) > m.cfg.LockSweepAfter {
			delete(m.locks, key)
		}
	}

	cutoff := now.Add(-m.cfg.RateLimitWindow)
	for key, window := range m.attempts {
		kept := window[:0]
		for _, t := range window {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		if len(kept) == 0 {
			delete(m.attempts, key)
		} else {
			m.attempts[key] = kept
		}
	}

	if len(removed) > 0 {
		m.logger.Info("stale connections removed", slog.Int("count", len(removed)))
	}
	return removed
}

// Run drives the stale-connection sweep until ctx is done
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CleanupStaleConnections(m.cfg.IdleTimeout)
		}
	}
}

// MarkRecoverable records a session as recoverable after its transport
// dropped. Recovery is allowed within RecoveryWindow of the disconnect and
// within RecoveryAbsoluteTTL of session creation.
func (m *Manager) MarkRecoverable(session *model.Session, roomCode model.RoomCode) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.recoverable[session.Token] = &recoverableSession{
		userID:         session.UserID,
		roomCode:       roomCode,
		token:          session.Token,
		createdAt:      session.CreatedAt,
		disconnectedAt: m.clock.Now(),
	}
}

// TakeRecoverable consumes the recoverable-session entry for a token. found
// reports whether a disconnect was ever recorded for the token; valid whether
// the entry is still within both expiry windows. The entry is removed either
// way, so a token can only be redeemed once per disconnect.
func (m *Manager) TakeRecoverable(token string) (userID model.UserID, roomCode model.RoomCode, found, valid bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.recoverable[token]
	if !ok {
		return "", "", false, false
	}
	delete(m.recoverable, token)

	now := m.clock.Now()
	if now.Sub(entry.disconnectedAt) > m.cfg.RecoveryWindow {
		return entry.userID, entry.roomCode, true, false
	}
	if now.Sub(entry.createdAt) > m.cfg.RecoveryAbsoluteTTL {
		return entry.userID, entry.roomCode, true, false
	}
	return entry.userID, entry.roomCode, true, true
}

// ConsolidateConnections keeps only the most recently active connection for
// a user, marking the rest for termination. The survivor becomes primary.
// Returns the transport ids the caller should terminate.
func (m *Manager) ConsolidateConnections(userID model.UserID) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	set := m.byUser[userID]
	if len(set) <= 1 {
		for transportID := range set {
			if conn, ok := m.connections[transportID]; ok {
				conn.IsPrimary = true
			}
		}
		return nil
	}

	var newest *model.Connection
	for transportID := range set {
		conn, ok := m.connections[transportID]
		if !ok {
			continue
		}
		if newest == nil || conn.LastActivity.After(newest.LastActivity) {
			newest = conn
		}
	}
	if newest == nil {
		return nil
	}

	var terminate []string
	for transportID := range set {
		if transportID == newest.TransportID {
			continue
		}
		terminate = append(terminate, transportID)
	}
	for _, transportID := range terminate {
		m.removeConnectionLocked(transportID)
	}
	newest.IsPrimary = true

	if len(terminate) > 0 {
		m.logger.Info("consolidated user connections",
			slog.String("user_id", string(userID)),
			slog.Int("terminated", len(terminate)))
	}
	return terminate
}

// ConnectionCount returns the number of tracked connections
func (m *Manager) ConnectionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.connections)
}
