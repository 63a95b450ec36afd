package pubsub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/roomsync/roomsync/internal/dependencies/mocks"
	"github.com/roomsync/roomsync/internal/model"
	"github.com/roomsync/roomsync/internal/testutil"
)

// capturePublisher records published events for assertions
type capturePublisher struct {
	events []model.Event
}

func (p *capturePublisher) Publish(roomCode model.RoomCode, event model.Event) {
	p.events = append(p.events, event)
}

type BroadcasterSuite struct {
	suite.Suite
	publisher   *capturePublisher
	clock       *mocks.MockClock
	broadcaster *Broadcaster
}

func TestBroadcasterSuite(t *testing.T) {
	suite.Run(t, new(BroadcasterSuite))
}

func (s *BroadcasterSuite) SetupTest() {
	s.publisher = &capturePublisher{}
	s.clock = mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	s.broadcaster = NewBroadcaster(s.publisher, s.clock, testutil.NopLogger())
}

func (s *BroadcasterSuite) lastEvent() model.Event {
	s.Require().NotEmpty(s.publisher.events)
	return s.publisher.events[len(s.publisher.events)-1]
}

func (s *BroadcasterSuite) member(userID string) *model.Member {
	return &model.Member{
		RoomID:      "room_1",
		UserID:      model.UserID(userID),
		DisplayName: userID,
		Role:        model.RolePlayer,
		Connected:   true,
		Location:    model.LocationLobby,
	}
}

func (s *BroadcasterSuite) TestPlayerJoinedCarriesFullRoster() {
	member := s.member("alice")
	s.broadcaster.PlayerJoined("ABCD23", member, []*model.Member{member, s.member("bob")}, false)

	event := s.lastEvent()
	s.Equal(model.EventPlayerJoined, event.Type)
	s.Equal(model.RoomCode("ABCD23"), event.RoomCode)
	s.Equal(s.clock.Now(), event.Timestamp)

	payload := event.Payload.(model.PlayerJoinedPayload)
	s.Equal("alice", string(payload.Player.UserID))
	s.Len(payload.Players, 2)
	s.False(payload.Rejoin)
}

func (s *BroadcasterSuite) TestPlayerStatusUpdatedNormalizesNilConflicts() {
	s.broadcaster.PlayerStatusUpdated("ABCD23", "alice", model.StatusTriple{
		Connected: true,
		Location:  model.LocationLobby,
	}, []*model.Member{s.member("alice")}, nil)

	payload := s.lastEvent().Payload.(model.PlayerStatusUpdatedPayload)
	s.NotNil(payload.Conflicts)
	s.Empty(payload.Conflicts)
}

func (s *BroadcasterSuite) TestPlayerDisconnected() {
	s.broadcaster.PlayerDisconnected("ABCD23", "alice", true, "heartbeat_timeout")

	event := s.lastEvent()
	s.Equal(model.EventPlayerDisconnected, event.Type)
	payload := event.Payload.(model.PlayerDisconnectedPayload)
	s.True(payload.WasHost)
	s.Equal("heartbeat_timeout", payload.Reason)
}

func (s *BroadcasterSuite) TestRoomStatusSyncIsFullSync() {
	room := &model.Room{ID: "room_1", Code: "ABCD23", Status: model.RoomStatusLobby}
	s.broadcaster.RoomStatusSync("ABCD23", room, []*model.Member{s.member("alice")})

	payload := s.lastEvent().Payload.(model.RoomStatusSyncPayload)
	s.Equal("full", payload.SyncType)
	s.Equal(room, payload.Room)
	s.Len(payload.Players, 1)
}

func (s *BroadcasterSuite) TestHostTransferred() {
	s.broadcaster.HostTransferred("ABCD23", "alice", "bob", "Bob", "host_left")

	payload := s.lastEvent().Payload.(model.HostTransferredPayload)
	s.Equal(model.UserID("alice"), payload.OldHostID)
	s.Equal(model.UserID("bob"), payload.NewHostID)
	s.Equal("Bob", payload.NewHostName)
	s.Equal("host_left", payload.Reason)
}

func (s *BroadcasterSuite) TestStatusConflictResolved() {
	resolved := model.StatusTriple{Connected: true, InGame: true, Location: model.LocationGame}
	s.broadcaster.StatusConflictResolved("ABCD23", "alice", resolved, model.ResolutionMergeReports, true)

	payload := s.lastEvent().Payload.(model.StatusConflictResolvedPayload)
	s.Equal(resolved, payload.ResolvedStatus)
	s.Equal(model.ResolutionMergeReports, payload.Strategy)
	s.True(payload.RequiresAction)
}
