package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/roomsync/roomsync/internal/model"
)

type StorageSuite struct {
	suite.Suite
	storage *Storage
	ctx     context.Context
}

func TestStorageSuite(t *testing.T) {
	suite.Run(t, new(StorageSuite))
}

func (s *StorageSuite) SetupTest() {
	s.storage = New()
	s.ctx = context.Background()
}

func (s *StorageSuite) room(id, code string) *model.Room {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	return &model.Room{
		ID:         model.RoomID(id),
		Code:       model.RoomCode(code),
		HostID:     "host",
		Status:     model.RoomStatusLobby,
		MaxPlayers: 8,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (s *StorageSuite) member(roomID, userID string, joinedAt time.Time) *model.Member {
	return &model.Member{
		RoomID:      model.RoomID(roomID),
		UserID:      model.UserID(userID),
		DisplayName: userID,
		Role:        model.RolePlayer,
		Connected:   true,
		Location:    model.LocationLobby,
		LastPing:    joinedAt,
		JoinedAt:    joinedAt,
	}
}

// Room tests

func (s *StorageSuite) TestSaveAndGetRoom() {
	room := s.room("room-1", "ABCD23")
	s.Require().NoError(s.storage.SaveRoom(s.ctx, room))

	retrieved, err := s.storage.GetRoom(s.ctx, "room-1")
	s.Require().NoError(err)
	s.Equal(room.Code, retrieved.Code)
	s.Equal(room.HostID, retrieved.HostID)
}

func (s *StorageSuite) TestGetRoomNotFound() {
	_, err := s.storage.GetRoom(s.ctx, "nonexistent")
	s.ErrorIs(err, model.ErrRoomNotFound)
}

func (s *StorageSuite) TestGetRoomByCode() {
	_ = s.storage.SaveRoom(s.ctx, s.room("room-1", "ABCD23"))

	retrieved, err := s.storage.GetRoomByCode(s.ctx, "ABCD23")
	s.Require().NoError(err)
	s.Equal(model.RoomID("room-1"), retrieved.ID)

	_, err = s.storage.GetRoomByCode(s.ctx, "NOSUCH")
	s.ErrorIs(err, model.ErrRoomNotFound)
}

func (s *StorageSuite) TestRoomCodeExists() {
	_ = s.storage.SaveRoom(s.ctx, s.room("room-1", "ABCD23"))

	exists, err := s.storage.RoomCodeExists(s.ctx, "ABCD23")
	s.Require().NoError(err)
	s.True(exists)

	exists, err = s.storage.RoomCodeExists(s.ctx, "NOSUCH")
	s.Require().NoError(err)
	s.False(exists)
}

func (s *StorageSuite) TestDeleteRoomRemovesMembersAndIndex() {
	_ = s.storage.SaveRoom(s.ctx, s.room("room-1", "ABCD23"))
	_ = s.storage.SaveMember(s.ctx, s.member("room-1", "alice", time.Now()))

	s.Require().NoError(s.storage.DeleteRoom(s.ctx, "room-1"))

	_, err := s.storage.GetRoom(s.ctx, "room-1")
	s.ErrorIs(err, model.ErrRoomNotFound)
	_, err = s.storage.GetRoomByCode(s.ctx, "ABCD23")
	s.ErrorIs(err, model.ErrRoomNotFound)
	_, err = s.storage.GetMember(s.ctx, "room-1", "alice")
	s.ErrorIs(err, model.ErrPlayerNotFound)
}

func (s *StorageSuite) TestDeleteRoomRemovesSessions() {
	_ = s.storage.SaveRoom(s.ctx, s.room("room-1", "ABCD23"))
	_ = s.storage.SaveMember(s.ctx, s.member("room-1", "alice", time.Now()))
	_ = s.storage.SaveSession(s.ctx, s.session("sess_abc", "alice"))

	// A session in another room is untouched
	other := s.session("sess_other", "bob")
	other.RoomID = "room-2"
	_ = s.storage.SaveSession(s.ctx, other)

	s.Require().NoError(s.storage.DeleteRoom(s.ctx, "room-1"))

	_, err := s.storage.GetSessionByToken(s.ctx, "sess_abc")
	s.ErrorIs(err, model.ErrSessionNotFound)
	_, err = s.storage.GetSessionByToken(s.ctx, "sess_other")
	s.NoError(err)
}

func (s *StorageSuite) TestSetRoomStatusConditional() {
	_ = s.storage.SaveRoom(s.ctx, s.room("room-1", "ABCD23"))

	err := s.storage.SetRoomStatus(s.ctx, "room-1", model.RoomStatusLobby, model.RoomStatusInGame)
	s.Require().NoError(err)

	room, _ := s.storage.GetRoom(s.ctx, "room-1")
	s.Equal(model.RoomStatusInGame, room.Status)

	// Precondition no longer holds
	err = s.storage.SetRoomStatus(s.ctx, "room-1", model.RoomStatusLobby, model.RoomStatusAbandoned)
	s.ErrorIs(err, model.ErrRoomNotAvailable)
}

// Member tests

func (s *StorageSuite) TestSaveAndGetMember() {
	member := s.member("room-1", "alice", time.Now())
	s.Require().NoError(s.storage.SaveMember(s.ctx, member))

	retrieved, err := s.storage.GetMember(s.ctx, "room-1", "alice")
	s.Require().NoError(err)
	s.Equal(member.DisplayName, retrieved.DisplayName)
	s.True(retrieved.Connected)
}

func (s *StorageSuite) TestGetMemberNotFound() {
	_, err := s.storage.GetMember(s.ctx, "room-1", "nonexistent")
	s.ErrorIs(err, model.ErrPlayerNotFound)
}

func (s *StorageSuite) TestGetMembersOrderedByJoinTime() {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	_ = s.storage.SaveMember(s.ctx, s.member("room-1", "carol", base.Add(2*time.Minute)))
	_ = s.storage.SaveMember(s.ctx, s.member("room-1", "alice", base))
	_ = s.storage.SaveMember(s.ctx, s.member("room-1", "bob", base.Add(time.Minute)))

	members, err := s.storage.GetMembers(s.ctx, "room-1")
	s.Require().NoError(err)
	s.Require().Len(members, 3)
	s.Equal(model.UserID("alice"), members[0].UserID)
	s.Equal(model.UserID("bob"), members[1].UserID)
	s.Equal(model.UserID("carol"), members[2].UserID)
}

func (s *StorageSuite) TestDeleteMember() {
	_ = s.storage.SaveMember(s.ctx, s.member("room-1", "alice", time.Now()))

	s.Require().NoError(s.storage.DeleteMember(s.ctx, "room-1", "alice"))
	_, err := s.storage.GetMember(s.ctx, "room-1", "alice")
	s.ErrorIs(err, model.ErrPlayerNotFound)
}

// AutoTransferHost tests

func (s *StorageSuite) TestAutoTransferHostPromotesOldestConnected() {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	_ = s.storage.SaveRoom(s.ctx, s.room("room-1", "ABCD23"))

	host := s.member("room-1", "host", base)
	host.Role = model.RoleHost
	_ = s.storage.SaveMember(s.ctx, host)

	disconnected := s.member("room-1", "bob", base.Add(time.Minute))
	disconnected.Connected = false
	_ = s.storage.SaveMember(s.ctx, disconnected)

	_ = s.storage.SaveMember(s.ctx, s.member("room-1", "carol", base.Add(2*time.Minute)))

	newHost, err := s.storage.AutoTransferHost(s.ctx, "room-1", "host")
	s.Require().NoError(err)
	s.Require().NotNil(newHost)
	s.Equal(model.UserID("carol"), newHost.UserID)
	s.Equal(model.RoleHost, newHost.Role)

	room, _ := s.storage.GetRoom(s.ctx, "room-1")
	s.Equal(model.UserID("carol"), room.HostID)

	oldHost, _ := s.storage.GetMember(s.ctx, "room-1", "host")
	s.Equal(model.RolePlayer, oldHost.Role)
}

func (s *StorageSuite) TestAutoTransferHostNoCandidate() {
	_ = s.storage.SaveRoom(s.ctx, s.room("room-1", "ABCD23"))
	host := s.member("room-1", "host", time.Now())
	host.Role = model.RoleHost
	_ = s.storage.SaveMember(s.ctx, host)

	newHost, err := s.storage.AutoTransferHost(s.ctx, "room-1", "host")
	s.Require().NoError(err)
	s.Nil(newHost)
}

// Stale member listing

func (s *StorageSuite) TestListStaleMembers() {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	stale := s.member("room-1", "alice", base)
	stale.LastPing = base
	_ = s.storage.SaveMember(s.ctx, stale)

	fresh := s.member("room-1", "bob", base)
	fresh.LastPing = base.Add(time.Minute)
	_ = s.storage.SaveMember(s.ctx, fresh)

	offline := s.member("room-1", "carol", base)
	offline.Connected = false
	_ = s.storage.SaveMember(s.ctx, offline)

	members, err := s.storage.ListStaleMembers(s.ctx, base.Add(30*time.Second))
	s.Require().NoError(err)
	s.Require().Len(members, 1)
	s.Equal(model.UserID("alice"), members[0].UserID)
}

// Session tests

func (s *StorageSuite) session(token, userID string) *model.Session {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	return &model.Session{
		UserID:    model.UserID(userID),
		RoomID:    "room-1",
		Token:     token,
		Status:    model.SessionStatusActive,
		CreatedAt: now,
		ExpiresAt: now.Add(24 * time.Hour),
	}
}

func (s *StorageSuite) TestSaveAndGetSession() {
	session := s.session("sess_abc", "alice")
	s.Require().NoError(s.storage.SaveSession(s.ctx, session))

	retrieved, err := s.storage.GetSessionByToken(s.ctx, "sess_abc")
	s.Require().NoError(err)
	s.Equal(model.UserID("alice"), retrieved.UserID)
}

func (s *StorageSuite) TestSaveSessionOverwritesPreviousForPair() {
	_ = s.storage.SaveSession(s.ctx, s.session("sess_old", "alice"))
	_ = s.storage.SaveSession(s.ctx, s.session("sess_new", "alice"))

	_, err := s.storage.GetSessionByToken(s.ctx, "sess_old")
	s.ErrorIs(err, model.ErrSessionNotFound)
	_, err = s.storage.GetSessionByToken(s.ctx, "sess_new")
	s.NoError(err)
}

func (s *StorageSuite) TestDeleteSession() {
	_ = s.storage.SaveSession(s.ctx, s.session("sess_abc", "alice"))
	s.Require().NoError(s.storage.DeleteSession(s.ctx, "sess_abc"))

	_, err := s.storage.GetSessionByToken(s.ctx, "sess_abc")
	s.ErrorIs(err, model.ErrSessionNotFound)
}

func (s *StorageSuite) TestDeleteExpiredSessions() {
	active := s.session("sess_active", "alice")
	expired := s.session("sess_expired", "bob")
	expired.ExpiresAt = expired.CreatedAt.Add(time.Hour)
	_ = s.storage.SaveSession(s.ctx, active)
	_ = s.storage.SaveSession(s.ctx, expired)

	removed, err := s.storage.DeleteExpiredSessions(s.ctx, active.CreatedAt.Add(2*time.Hour))
	s.Require().NoError(err)
	s.Equal(1, removed)

	_, err = s.storage.GetSessionByToken(s.ctx, "sess_expired")
	s.ErrorIs(err, model.ErrSessionNotFound)
	_, err = s.storage.GetSessionByToken(s.ctx, "sess_active")
	s.NoError(err)
}

// Audit log tests

func (s *StorageSuite) TestLogAndGetEvents() {
	_ = s.storage.LogEvent(s.ctx, "room-1", "alice", "playerJoined", nil)
	_ = s.storage.LogEvent(s.ctx, "room-1", "alice", "playerLeft", map[string]any{"reason": "quit"})

	events, err := s.storage.GetEvents(s.ctx, "room-1", 0)
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Equal("playerJoined", events[0].Type)
	s.Equal("playerLeft", events[1].Type)
}

func (s *StorageSuite) TestGetEventsHonorsLimit() {
	for i := 0; i < 5; i++ {
		_ = s.storage.LogEvent(s.ctx, "room-1", "", "heartbeat", nil)
	}
	_ = s.storage.LogEvent(s.ctx, "room-1", "", "roomAbandoned", nil)

	events, err := s.storage.GetEvents(s.ctx, "room-1", 2)
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Equal("roomAbandoned", events[1].Type)
}
