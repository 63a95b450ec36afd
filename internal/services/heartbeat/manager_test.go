package heartbeat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/roomsync/roomsync/internal/dependencies/mocks"
	"github.com/roomsync/roomsync/internal/model"
	"github.com/roomsync/roomsync/internal/pubsub"
	"github.com/roomsync/roomsync/internal/services/connection"
	"github.com/roomsync/roomsync/internal/storage/memory"
	"github.com/roomsync/roomsync/internal/testutil"
)

// capturePublisher records published events for assertions
type capturePublisher struct {
	events []model.Event
}

func (p *capturePublisher) Publish(roomCode model.RoomCode, event model.Event) {
	p.events = append(p.events, event)
}

func (p *capturePublisher) eventsOfType(t model.EventType) []model.Event {
	var out []model.Event
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type ManagerSuite struct {
	suite.Suite
	store       *memory.Storage
	clock       *mocks.MockClock
	publisher   *capturePublisher
	connections *connection.Manager
	manager     *Manager
	ctx         context.Context
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) SetupTest() {
	logger := testutil.NopLogger()
	s.store = memory.New()
	s.clock = mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	s.publisher = &capturePublisher{}
	s.connections = connection.NewManager(connection.DefaultConfig(), s.clock, logger)
	broadcaster := pubsub.NewBroadcaster(s.publisher, s.clock, logger)
	s.manager = NewManager(s.store, s.connections, broadcaster, s.clock, DefaultConfig(), logger)
	s.ctx = context.Background()
}

func (s *ManagerSuite) seedRoom() *model.Room {
	room := &model.Room{
		ID:         "room_1",
		Code:       "ABCD23",
		HostID:     "host",
		Status:     model.RoomStatusLobby,
		MaxPlayers: 8,
		CreatedAt:  s.clock.Now(),
		UpdatedAt:  s.clock.Now(),
	}
	s.Require().NoError(s.store.SaveRoom(s.ctx, room))
	return room
}

func (s *ManagerSuite) seedMember(userID string, role model.MemberRole, joinOffset time.Duration) *model.Member {
	member := &model.Member{
		RoomID:      "room_1",
		UserID:      model.UserID(userID),
		DisplayName: userID,
		Role:        role,
		Connected:   true,
		Location:    model.LocationLobby,
		TransportID: "conn_" + userID,
		LastPing:    s.clock.Now(),
		JoinedAt:    s.clock.Now().Add(joinOffset),
		UpdatedAt:   s.clock.Now(),
	}
	s.Require().NoError(s.store.SaveMember(s.ctx, member))
	s.connections.AddConnection(&model.Connection{
		TransportID:  member.TransportID,
		UserID:       member.UserID,
		RoomID:       member.RoomID,
		RoomCode:     "ABCD23",
		ConnectedAt:  s.clock.Now(),
		LastActivity: s.clock.Now(),
	})
	return member
}

func (s *ManagerSuite) member(userID model.UserID) *model.Member {
	member, err := s.store.GetMember(s.ctx, "room_1", userID)
	s.Require().NoError(err)
	return member
}

func (s *ManagerSuite) TestBeatKeepsMemberAlive() {
	s.seedRoom()
	s.seedMember("alice", model.RolePlayer, time.Second)
	s.manager.Track("alice", "room_1", "ABCD23")

	s.clock.Advance(8 * time.Second)
	s.manager.Beat("alice", "room_1")
	s.clock.Advance(8 * time.Second)
	s.manager.Sweep(s.ctx)

	s.True(s.member("alice").Connected)
	s.Empty(s.publisher.events)
}

func (s *ManagerSuite) TestSweepTimesOutSilentMember() {
	s.seedRoom()
	s.seedMember("host", model.RoleHost, 0)
	s.seedMember("alice", model.RolePlayer, time.Second)
	s.manager.Track("host", "room_1", "ABCD23")
	s.manager.Track("alice", "room_1", "ABCD23")

	s.clock.Advance(8 * time.Second)
	s.manager.Beat("host", "room_1")
	s.clock.Advance(4 * time.Second)
	s.manager.Sweep(s.ctx)

	alice := s.member("alice")
	s.False(alice.Connected)
	s.False(alice.InGame)
	s.Equal(model.LocationDisconnected, alice.Location)
	s.True(s.member("host").Connected)

	// The dead transport is torn down with the member
	_, ok := s.connections.GetConnection("conn_alice")
	s.False(ok)

	dropped := s.publisher.eventsOfType(model.EventPlayerDisconnected)
	s.Require().Len(dropped, 1)
	payload := dropped[0].Payload.(model.PlayerDisconnectedPayload)
	s.Equal(model.UserID("alice"), payload.UserID)
	s.False(payload.WasHost)
	s.Equal("heartbeat_timeout", payload.Reason)

	// The timed out member is no longer tracked
	s.manager.Sweep(s.ctx)
	s.Len(s.publisher.eventsOfType(model.EventPlayerDisconnected), 1)
}

func (s *ManagerSuite) TestUntrackStopsTimeoutDetection() {
	s.seedRoom()
	s.seedMember("alice", model.RolePlayer, time.Second)
	s.manager.Track("alice", "room_1", "ABCD23")
	s.manager.Untrack("alice", "room_1")

	s.clock.Advance(time.Minute)
	s.manager.Sweep(s.ctx)

	s.True(s.member("alice").Connected)
	s.Empty(s.publisher.events)
}

func (s *ManagerSuite) TestBeatOnUntrackedMemberIsIgnored() {
	s.seedRoom()
	s.seedMember("alice", model.RolePlayer, time.Second)

	s.manager.Beat("alice", "room_1")
	s.clock.Advance(time.Minute)
	s.manager.Sweep(s.ctx)

	s.True(s.member("alice").Connected)
}

func (s *ManagerSuite) TestHostTimeoutPromotesOldestConnectedMember() {
	s.seedRoom()
	s.seedMember("host", model.RoleHost, 0)
	s.seedMember("alice", model.RolePlayer, time.Second)
	s.seedMember("bob", model.RolePlayer, 2*time.Second)
	s.manager.Track("host", "room_1", "ABCD23")

	s.clock.Advance(12 * time.Second)
	s.manager.Sweep(s.ctx)

	oldHost := s.member("host")
	s.False(oldHost.Connected)
	s.Equal(model.RolePlayer, oldHost.Role)

	room, err := s.store.GetRoom(s.ctx, "room_1")
	s.Require().NoError(err)
	s.Equal(model.UserID("alice"), room.HostID)
	s.Equal(model.RoleHost, s.member("alice").Role)

	transfers := s.publisher.eventsOfType(model.EventHostTransferred)
	s.Require().Len(transfers, 1)
	payload := transfers[0].Payload.(model.HostTransferredPayload)
	s.Equal(model.UserID("host"), payload.OldHostID)
	s.Equal(model.UserID("alice"), payload.NewHostID)
	s.Equal("heartbeat_timeout", payload.Reason)
}

func (s *ManagerSuite) TestPromotedHostGetsGraceWindow() {
	s.seedRoom()
	s.seedMember("host", model.RoleHost, 0)
	s.seedMember("alice", model.RolePlayer, time.Second)
	s.seedMember("bob", model.RolePlayer, 2*time.Second)
	s.manager.Track("host", "room_1", "ABCD23")
	s.manager.Track("alice", "room_1", "ABCD23")
	s.manager.Track("bob", "room_1", "ABCD23")

	// Keep bob beating so only the promotion chain is in play
	s.clock.Advance(8 * time.Second)
	s.manager.Beat("alice", "room_1")
	s.manager.Beat("bob", "room_1")
	s.clock.Advance(4 * time.Second)
	s.manager.Beat("bob", "room_1")
	s.manager.Sweep(s.ctx)
	s.Equal(model.RoleHost, s.member("alice").Role)

	// Twelve seconds of silence is past the normal timeout but inside the
	// post-promotion grace window
	s.clock.Advance(12 * time.Second)
	s.manager.Beat("bob", "room_1")
	s.manager.Sweep(s.ctx)
	s.True(s.member("alice").Connected)

	// Once the grace window lapses the normal timeout applies again
	s.clock.Advance(10 * time.Second)
	s.manager.Beat("bob", "room_1")
	s.manager.Sweep(s.ctx)
	s.False(s.member("alice").Connected)

	room, err := s.store.GetRoom(s.ctx, "room_1")
	s.Require().NoError(err)
	s.Equal(model.UserID("bob"), room.HostID)
}

func (s *ManagerSuite) TestHostTimeoutWithNoCandidate() {
	s.seedRoom()
	s.seedMember("host", model.RoleHost, 0)
	offline := s.seedMember("alice", model.RolePlayer, time.Second)
	offline.Connected = false
	offline.Location = model.LocationDisconnected
	s.Require().NoError(s.store.SaveMember(s.ctx, offline))
	s.manager.Track("host", "room_1", "ABCD23")

	s.clock.Advance(12 * time.Second)
	s.manager.Sweep(s.ctx)

	s.Empty(s.publisher.eventsOfType(model.EventHostTransferred))
	dropped := s.publisher.eventsOfType(model.EventPlayerDisconnected)
	s.Require().Len(dropped, 1)
	payload := dropped[0].Payload.(model.PlayerDisconnectedPayload)
	s.Equal(model.UserID("host"), payload.UserID)
	s.True(payload.WasHost)

	room, err := s.store.GetRoom(s.ctx, "room_1")
	s.Require().NoError(err)
	s.Equal(model.UserID("host"), room.HostID)
}

func (s *ManagerSuite) TestSweepStoreCatchesUntrackedStaleMembers() {
	s.seedRoom()
	s.seedMember("host", model.RoleHost, 0)
	s.seedMember("alice", model.RolePlayer, time.Second)

	// Both persisted pings go stale, but only alice is untracked here
	s.clock.Advance(40 * time.Second)
	s.manager.Track("host", "room_1", "ABCD23")
	s.manager.SweepStore(s.ctx)

	s.False(s.member("alice").Connected)
	s.True(s.member("host").Connected)
}

func (s *ManagerSuite) TestSweepIgnoresAlreadyDisconnectedMember() {
	s.seedRoom()
	member := s.seedMember("alice", model.RolePlayer, time.Second)
	s.manager.Track("alice", "room_1", "ABCD23")

	member.Connected = false
	s.Require().NoError(s.store.SaveMember(s.ctx, member))

	s.clock.Advance(12 * time.Second)
	s.manager.Sweep(s.ctx)
	s.Empty(s.publisher.events)
}
