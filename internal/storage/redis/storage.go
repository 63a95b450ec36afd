package redis

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roomsync/roomsync/internal/model"
	"github.com/roomsync/roomsync/internal/storage"
)

// transferRetries bounds optimistic retries of the host transfer transaction
const transferRetries = 3

// Storage is a Redis-backed implementation of the storage interface
type Storage struct {
	client *redis.Client
	cfg    Config
}

// New creates a new Redis storage instance
func New(cfg Config) (*Storage, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &Storage{
		client: client,
		cfg:    cfg,
	}, nil
}

// NewWithClient creates a Redis storage with an existing client (for testing)
func NewWithClient(client *redis.Client, cfg Config) *Storage {
	return &Storage{
		client: client,
		cfg:    cfg,
	}
}

// Close closes the Redis connection
func (s *Storage) Close() error {
	return s.client.Close()
}

// Ping verifies the connection is alive
func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Ensure Storage implements the interface
var _ storage.Store = (*Storage)(nil)

// Room operations

func (s *Storage) SaveRoom(ctx context.Context, room *model.Room) error {
	data, err := json.Marshal(room)
	if err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, roomKey(room.ID), data, s.cfg.RoomTTL)
	pipe.Set(ctx, codeIndexKey(room.Code), string(room.ID), s.cfg.RoomTTL)
	pipe.SAdd(ctx, roomsIndexKey(), string(room.ID))
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Storage) GetRoom(ctx context.Context, id model.RoomID) (*model.Room, error) {
	data, err := s.client.Get(ctx, roomKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrRoomNotFound
		}
		return nil, err
	}

	var room model.Room
	if err := json.Unmarshal(data, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

func (s *Storage) GetRoomByCode(ctx context.Context, code model.RoomCode) (*model.Room, error) {
	idStr, err := s.client.Get(ctx, codeIndexKey(code)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrRoomNotFound
		}
		return nil, err
	}
	return s.GetRoom(ctx, model.RoomID(idStr))
}

func (s *Storage) DeleteRoom(ctx context.Context, id model.RoomID) error {
	room, err := s.GetRoom(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrRoomNotFound) {
			return nil
		}
		return err
	}

	userIDs, err := s.client.SMembers(ctx, membersIndexKey(id)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}

	pipe := s.client.Pipeline()
	for _, uid := range userIDs {
		pipe.Del(ctx, memberKey(id, model.UserID(uid)))

		// The members' sessions go with the room
		pairKey := sessionPairIndexKey(id, model.UserID(uid))
		token, err := s.client.Get(ctx, pairKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if token != "" {
			pipe.Del(ctx, sessionKey(token))
			pipe.SRem(ctx, sessionsIndexKey(), token)
		}
		pipe.Del(ctx, pairKey)
	}
	pipe.Del(ctx, membersIndexKey(id))
	pipe.Del(ctx, codeIndexKey(room.Code))
	pipe.Del(ctx, roomKey(id))
	pipe.Del(ctx, eventsKey(id))
	pipe.SRem(ctx, roomsIndexKey(), string(id))
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Storage) RoomCodeExists(ctx context.Context, code model.RoomCode) (bool, error) {
	n, err := s.client.Exists(ctx, codeIndexKey(code)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Storage) SetRoomStatus(ctx context.Context, id model.RoomID, from, to model.RoomStatus) error {
	// Optimistic conditional update on the room key
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, roomKey(id)).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return model.ErrRoomNotFound
			}
			return err
		}

		var room model.Room
		if err := json.Unmarshal(data, &room); err != nil {
			return err
		}
		if room.Status != from {
			return model.ErrRoomNotAvailable
		}
		room.Status = to

		updated, err := json.Marshal(&room)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, roomKey(id), updated, s.cfg.RoomTTL)
			return nil
		})
		return err
	}, roomKey(id))
}

// Member operations

func (s *Storage) SaveMember(ctx context.Context, member *model.Member) error {
	data, err := json.Marshal(member)
	if err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, memberKey(member.RoomID, member.UserID), data, s.cfg.RoomTTL)
	pipe.SAdd(ctx, membersIndexKey(member.RoomID), string(member.UserID))
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Storage) GetMember(ctx context.Context, roomID model.RoomID, userID model.UserID) (*model.Member, error) {
	data, err := s.client.Get(ctx, memberKey(roomID, userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrPlayerNotFound
		}
		return nil, err
	}

	var member model.Member
	if err := json.Unmarshal(data, &member); err != nil {
		return nil, err
	}
	return &member, nil
}

func (s *Storage) GetMembers(ctx context.Context, roomID model.RoomID) ([]*model.Member, error) {
	userIDs, err := s.client.SMembers(ctx, membersIndexKey(roomID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(userIDs) == 0 {
		return nil, nil
	}

	keys := make([]string, len(userIDs))
	for i, uid := range userIDs {
		keys[i] = memberKey(roomID, model.UserID(uid))
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	var members []*model.Member
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			// Index entry outlived the member key; skip
			continue
		}
		var member model.Member
		if err := json.Unmarshal([]byte(str), &member); err != nil {
			return nil, err
		}
		members = append(members, &member)
	}

	sortMembersByJoin(members)
	return members, nil
}

func sortMembersByJoin(members []*model.Member) {
	sort.Slice(members, func(i, j int) bool {
		if members[i].JoinedAt.Equal(members[j].JoinedAt) {
			return members[i].UserID < members[j].UserID
		}
		return members[i].JoinedAt.Before(members[j].JoinedAt)
	})
}

func (s *Storage) DeleteMember(ctx context.Context, roomID model.RoomID, userID model.UserID) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, memberKey(roomID, userID))
	pipe.SRem(ctx, membersIndexKey(roomID), string(userID))
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Storage) AutoTransferHost(ctx context.Context, roomID model.RoomID, leavingHostID model.UserID) (*model.Member, error) {
	var newHost *model.Member

	txf := func(tx *redis.Tx) error {
		newHost = nil

		room, err := s.GetRoom(ctx, roomID)
		if err != nil {
			return err
		}

		members, err := s.GetMembers(ctx, roomID)
		if err != nil {
			return err
		}

		var oldHost *model.Member
		var candidate *model.Member
		for _, m := range members {
			if m.UserID == leavingHostID {
				oldHost = m
				continue
			}
			if candidate == nil && m.Connected {
				candidate = m
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			// Demote first so there is never a moment with two hosts
			if oldHost != nil && oldHost.Role == model.RoleHost {
				oldHost.Role = model.RolePlayer
				data, err := json.Marshal(oldHost)
				if err != nil {
					return err
				}
				pipe.Set(ctx, memberKey(roomID, oldHost.UserID), data, s.cfg.RoomTTL)
			}
			if candidate != nil {
				candidate.Role = model.RoleHost
				data, err := json.Marshal(candidate)
				if err != nil {
					return err
				}
				pipe.Set(ctx, memberKey(roomID, candidate.UserID), data, s.cfg.RoomTTL)

				room.HostID = candidate.UserID
				roomData, err := json.Marshal(room)
				if err != nil {
					return err
				}
				pipe.Set(ctx, roomKey(roomID), roomData, s.cfg.RoomTTL)
			}
			return nil
		})
		if err != nil {
			return err
		}

		newHost = candidate
		return nil
	}

	watched := []string{roomKey(roomID), membersIndexKey(roomID)}
	var err error
	for i := 0; i < transferRetries; i++ {
		err = s.client.Watch(ctx, txf, watched...)
		if err == nil {
			return newHost, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return nil, err
		}
	}
	return nil, err
}

func (s *Storage) ListStaleMembers(ctx context.Context, olderThan time.Time) ([]*model.Member, error) {
	roomIDs, err := s.client.SMembers(ctx, roomsIndexKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var stale []*model.Member
	for _, id := range roomIDs {
		members, err := s.GetMembers(ctx, model.RoomID(id))
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			if m.Connected && m.LastPing.Before(olderThan) {
				stale = append(stale, m)
			}
		}
	}
	return stale, nil
}

// Session operations

func (s *Storage) SaveSession(ctx context.Context, session *model.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}

	pairKey := sessionPairIndexKey(session.RoomID, session.UserID)

	// One active session per (user, room): drop any previous token first
	oldToken, err := s.client.Get(ctx, pairKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}

	pipe := s.client.Pipeline()
	if oldToken != "" && oldToken != session.Token {
		pipe.Del(ctx, sessionKey(oldToken))
		pipe.SRem(ctx, sessionsIndexKey(), oldToken)
	}
	pipe.Set(ctx, sessionKey(session.Token), data, s.cfg.SessionTTL)
	pipe.Set(ctx, pairKey, session.Token, s.cfg.SessionTTL)
	pipe.SAdd(ctx, sessionsIndexKey(), session.Token)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Storage) GetSessionByToken(ctx context.Context, token string) (*model.Session, error) {
	data, err := s.client.Get(ctx, sessionKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrSessionNotFound
		}
		return nil, err
	}

	var session model.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *Storage) DeleteSession(ctx context.Context, token string) error {
	session, err := s.GetSessionByToken(ctx, token)
	if err != nil {
		if errors.Is(err, model.ErrSessionNotFound) {
			return nil
		}
		return err
	}

	pipe := s.client.Pipeline()
	pipe.Del(ctx, sessionKey(token))
	pipe.Del(ctx, sessionPairIndexKey(session.RoomID, session.UserID))
	pipe.SRem(ctx, sessionsIndexKey(), token)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Storage) DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	tokens, err := s.client.SMembers(ctx, sessionsIndexKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}

	removed := 0
	for _, token := range tokens {
		session, err := s.GetSessionByToken(ctx, token)
		if errors.Is(err, model.ErrSessionNotFound) {
			// Key expired via TTL; drop the index entry
			s.client.SRem(ctx, sessionsIndexKey(), token)
			continue
		}
		if err != nil {
			return removed, err
		}
		if now.After(session.ExpiresAt) {
			if err := s.DeleteSession(ctx, token); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

// Audit log

func (s *Storage) LogEvent(ctx context.Context, roomID model.RoomID, userID model.UserID, eventType string, data map[string]any) error {
	event := storage.AuditEvent{
		RoomID:    roomID,
		UserID:    userID,
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now(),
	}
	encoded, err := json.Marshal(event)
	if err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	pipe.RPush(ctx, eventsKey(roomID), encoded)
	if s.cfg.MaxEventsPerRoom > 0 {
		pipe.LTrim(ctx, eventsKey(roomID), int64(-s.cfg.MaxEventsPerRoom), -1)
	}
	pipe.Expire(ctx, eventsKey(roomID), s.cfg.RoomTTL)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Storage) GetEvents(ctx context.Context, roomID model.RoomID, limit int) ([]storage.AuditEvent, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	values, err := s.client.LRange(ctx, eventsKey(roomID), start, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	events := make([]storage.AuditEvent, 0, len(values))
	for _, v := range values {
		var event storage.AuditEvent
		if err := json.Unmarshal([]byte(v), &event); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}
