package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/roomsync/roomsync/internal/model"
	"github.com/roomsync/roomsync/internal/storage"
)

// Storage is an in-memory implementation of the storage interface
type Storage struct {
	mu sync.RWMutex

	rooms        map[model.RoomID]*model.Room
	codeIndex    map[model.RoomCode]model.RoomID
	members      map[memberKey]*model.Member
	sessions     map[string]*model.Session
	sessionIndex map[memberKey]string // (room, user) -> token
	events       map[model.RoomID][]storage.AuditEvent
}

type memberKey struct {
	roomID model.RoomID
	userID model.UserID
}

// New creates a new in-memory storage instance
func New() *Storage {
	return &Storage{
		rooms:        make(map[model.RoomID]*model.Room),
		codeIndex:    make(map[model.RoomCode]model.RoomID),
		members:      make(map[memberKey]*model.Member),
		sessions:     make(map[string]*model.Session),
		sessionIndex: make(map[memberKey]string),
		events:       make(map[model.RoomID][]storage.AuditEvent),
	}
}

// Ensure Storage implements the interface
var _ storage.Store = (*Storage)(nil)

// Room operations

func (s *Storage) SaveRoom(ctx context.Context, room *model.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *room
	s.rooms[room.ID] = &copied
	s.codeIndex[room.Code] = room.ID
	return nil
}

func (s *Storage) GetRoom(ctx context.Context, id model.RoomID) (*model.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[id]
	if !ok {
		return nil, model.ErrRoomNotFound
	}
	copied := *room
	return &copied, nil
}

func (s *Storage) GetRoomByCode(ctx context.Context, code model.RoomCode) (*model.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.codeIndex[code]
	if !ok {
		return nil, model.ErrRoomNotFound
	}
	room, ok := s.rooms[id]
	if !ok {
		return nil, model.ErrRoomNotFound
	}
	copied := *room
	return &copied, nil
}

func (s *Storage) DeleteRoom(ctx context.Context, id model.RoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[id]
	if !ok {
		return nil
	}
	delete(s.codeIndex, room.Code)
	delete(s.rooms, id)
	for key := range s.members {
		if key.roomID == id {
			delete(s.members, key)
		}
	}
	for key, token := range s.sessionIndex {
		if key.roomID == id {
			delete(s.sessions, token)
			delete(s.sessionIndex, key)
		}
	}
	delete(s.events, id)
	return nil
}

func (s *Storage) RoomCodeExists(ctx context.Context, code model.RoomCode) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.codeIndex[code]
	return ok, nil
}

func (s *Storage) SetRoomStatus(ctx context.Context, id model.RoomID, from, to model.RoomStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[id]
	if !ok {
		return model.ErrRoomNotFound
	}
	if room.Status != from {
		return model.ErrRoomNotAvailable
	}
	room.Status = to
	return nil
}

// Member operations

func (s *Storage) SaveMember(ctx context.Context, member *model.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *member
	s.members[memberKey{member.RoomID, member.UserID}] = &copied
	return nil
}

func (s *Storage) GetMember(ctx context.Context, roomID model.RoomID, userID model.UserID) (*model.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	member, ok := s.members[memberKey{roomID, userID}]
	if !ok {
		return nil, model.ErrPlayerNotFound
	}
	copied := *member
	return &copied, nil
}

func (s *Storage) GetMembers(ctx context.Context, roomID model.RoomID) ([]*model.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.membersLocked(roomID), nil
}

// membersLocked returns copies of a room's members ordered by join time.
// Caller must hold at least a read lock.
func (s *Storage) membersLocked(roomID model.RoomID) []*model.Member {
	var members []*model.Member
	for key, m := range s.members {
		if key.roomID == roomID {
			copied := *m
			members = append(members, &copied)
		}
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].JoinedAt.Equal(members[j].JoinedAt) {
			return members[i].UserID < members[j].UserID
		}
		return members[i].JoinedAt.Before(members[j].JoinedAt)
	})
	return members
}

func (s *Storage) DeleteMember(ctx context.Context, roomID model.RoomID, userID model.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.members, memberKey{roomID, userID})
	return nil
}

func (s *Storage) AutoTransferHost(ctx context.Context, roomID model.RoomID, leavingHostID model.UserID) (*model.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return nil, model.ErrRoomNotFound
	}

	// Demote first so there is never a moment with two hosts
	if old, ok := s.members[memberKey{roomID, leavingHostID}]; ok && old.Role == model.RoleHost {
		old.Role = model.RolePlayer
	}

	var candidate *model.Member
	for _, m := range s.membersLocked(roomID) {
		if m.UserID == leavingHostID || !m.Connected {
			continue
		}
		candidate = m
		break
	}
	if candidate == nil {
		// No connected member to promote; host role stays vacant until
		// the old host reconnects
		return nil, nil
	}

	stored := s.members[memberKey{roomID, candidate.UserID}]
	stored.Role = model.RoleHost
	room.HostID = candidate.UserID
	copied := *stored
	return &copied, nil
}

func (s *Storage) ListStaleMembers(ctx context.Context, olderThan time.Time) ([]*model.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stale []*model.Member
	for _, m := range s.members {
		if m.Connected && m.LastPing.Before(olderThan) {
			copied := *m
			stale = append(stale, &copied)
		}
	}
	return stale, nil
}

// Session operations

func (s *Storage) SaveSession(ctx context.Context, session *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := memberKey{session.RoomID, session.UserID}
	if old, ok := s.sessionIndex[key]; ok {
		delete(s.sessions, old)
	}
	copied := *session
	s.sessions[session.Token] = &copied
	s.sessionIndex[key] = session.Token
	return nil
}

func (s *Storage) GetSessionByToken(ctx context.Context, token string) (*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[token]
	if !ok {
		return nil, model.ErrSessionNotFound
	}
	copied := *session
	return &copied, nil
}

func (s *Storage) DeleteSession(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.sessions[token]; ok {
		delete(s.sessionIndex, memberKey{session.RoomID, session.UserID})
		delete(s.sessions, token)
	}
	return nil
}

func (s *Storage) DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for token, session := range s.sessions {
		if now.After(session.ExpiresAt) {
			delete(s.sessionIndex, memberKey{session.RoomID, session.UserID})
			delete(s.sessions, token)
			removed++
		}
	}
	return removed, nil
}

// Audit log

func (s *Storage) LogEvent(ctx context.Context, roomID model.RoomID, userID model.UserID, eventType string, data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[roomID] = append(s.events[roomID], storage.AuditEvent{
		RoomID:    roomID,
		UserID:    userID,
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now(),
	})
	return nil
}

func (s *Storage) GetEvents(ctx context.Context, roomID model.RoomID, limit int) ([]storage.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := s.events[roomID]
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	out := make([]storage.AuditEvent, len(events))
	copy(out, events)
	return out, nil
}
