package statussync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/roomsync/roomsync/internal/dependencies/mocks"
	"github.com/roomsync/roomsync/internal/model"
	"github.com/roomsync/roomsync/internal/pubsub"
	"github.com/roomsync/roomsync/internal/services/connection"
	"github.com/roomsync/roomsync/internal/services/lobby"
	"github.com/roomsync/roomsync/internal/storage"
	"github.com/roomsync/roomsync/internal/storage/memory"
	"github.com/roomsync/roomsync/internal/testutil"
)

// capturePublisher records published events for assertions. Publishes may
// come from concurrent apply paths, so access is serialized.
type capturePublisher struct {
	mu     sync.Mutex
	events []model.Event
}

func (p *capturePublisher) Publish(roomCode model.RoomCode, event model.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *capturePublisher) eventsOfType(t model.EventType) []model.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []model.Event
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// flakyStore fails member writes for selected users so apply-path failures
// can be exercised deterministically
type flakyStore struct {
	storage.Store
	failSavesFor map[model.UserID]bool
}

func (f *flakyStore) SaveMember(ctx context.Context, member *model.Member) error {
	if f.failSavesFor[member.UserID] {
		return errors.New("simulated write failure")
	}
	return f.Store.SaveMember(ctx, member)
}

type ManagerSuite struct {
	suite.Suite
	store     *flakyStore
	clock     *mocks.MockClock
	random    *mocks.MockRandom
	publisher *capturePublisher
	lobby     *lobby.Manager
	manager   *Manager
	ctx       context.Context
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) SetupTest() {
	logger := testutil.NopLogger()
	s.store = &flakyStore{Store: memory.New(), failSavesFor: map[model.UserID]bool{}}
	s.clock = mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	s.random = mocks.NewMockRandom()
	s.publisher = &capturePublisher{}
	connections := connection.NewManager(connection.DefaultConfig(), s.clock, logger)
	broadcaster := pubsub.NewBroadcaster(s.publisher, s.clock, logger)
	s.lobby = lobby.NewManager(s.store, connections, broadcaster, s.clock, s.random, lobby.DefaultConfig(), logger)
	s.manager = NewManager(s.lobby, s.store, broadcaster, s.clock, DefaultConfig(), logger)
	s.ctx = context.Background()
}

func (s *ManagerSuite) createRoom(code string) *model.Room {
	s.random.QueueString(code)
	room, err := s.lobby.CreateRoom(s.ctx, lobby.CreateParams{
		HostID:      "host",
		DisplayName: "Host Player",
	})
	s.Require().NoError(err)
	return room
}

func (s *ManagerSuite) join(userID string, code model.RoomCode) {
	_, err := s.lobby.JoinRoom(s.ctx, lobby.JoinParams{
		UserID:      model.UserID(userID),
		RoomCode:    code,
		DisplayName: userID,
		TransportID: "conn_" + userID,
	})
	s.Require().NoError(err)
}

func (s *ManagerSuite) member(userID model.UserID) *model.Member {
	room, err := s.store.GetRoomByCode(s.ctx, "ABCD23")
	s.Require().NoError(err)
	member, err := s.store.GetMember(s.ctx, room.ID, userID)
	s.Require().NoError(err)
	return member
}

func (s *ManagerSuite) moveToGame(users ...model.UserID) {
	for _, u := range users {
		err := s.manager.UpdatePlayerLocation(s.ctx, UpdateRequest{
			UserID:    u,
			RoomCode:  "ABCD23",
			Status:    "connected",
			Location:  model.LocationGame,
			Immediate: true,
		})
		s.Require().NoError(err)
	}
}

// Ordering tests

func (s *ManagerSuite) TestOutOfOrderUpdatesApplyNewestOnly() {
	s.createRoom("ABCD23")
	s.join("alice", "ABCD23")

	stamp := func(seq uint64, location model.Location) *model.StatusUpdate {
		return &model.StatusUpdate{
			UserID:    "alice",
			RoomCode:  "ABCD23",
			Status:    "connected",
			Location:  location,
			Sequence:  seq,
			Immediate: true,
			QueuedAt:  s.clock.Now(),
		}
	}

	s.Require().NoError(s.manager.submit(s.ctx, stamp(3, model.LocationGame)))
	s.Equal(model.LocationGame, s.member("alice").Location)

	// Delayed older report must not regress the newer state
	s.Require().NoError(s.manager.submit(s.ctx, stamp(1, model.LocationLobby)))
	s.Equal(model.LocationGame, s.member("alice").Location)

	s.Require().NoError(s.manager.submit(s.ctx, stamp(5, model.LocationLobby)))
	s.Equal(model.LocationLobby, s.member("alice").Location)

	s.Require().NoError(s.manager.submit(s.ctx, stamp(2, model.LocationGame)))
	s.Equal(model.LocationLobby, s.member("alice").Location)
}

func (s *ManagerSuite) TestQueuedUpdateSupersededByNewerQueuedEntry() {
	s.createRoom("ABCD23")
	s.join("alice", "ABCD23")

	newer := &model.StatusUpdate{
		UserID:   "alice",
		RoomCode: "ABCD23",
		Status:   "connected",
		Location: model.LocationGame,
		Sequence: 2,
		QueuedAt: s.clock.Now(),
	}
	older := &model.StatusUpdate{
		UserID:   "alice",
		RoomCode: "ABCD23",
		Status:   "connected",
		Location: model.LocationLobby,
		Sequence: 1,
		QueuedAt: s.clock.Now(),
	}
	s.Require().NoError(s.manager.submit(s.ctx, newer))
	s.Require().NoError(s.manager.submit(s.ctx, older))

	// Nothing applies until the drain runs
	s.Equal(model.LocationLobby, s.member("alice").Location)

	s.manager.DrainQueue(s.ctx)
	member := s.member("alice")
	s.Equal(model.LocationGame, member.Location)
	s.True(member.InGame)
}

func (s *ManagerSuite) TestImmediateUpdateSupersedesQueuedEntry() {
	s.createRoom("ABCD23")
	s.join("alice", "ABCD23")

	err := s.manager.UpdatePlayerLocation(s.ctx, UpdateRequest{
		UserID:   "alice",
		RoomCode: "ABCD23",
		Status:   "connected",
		Location: model.LocationGame,
	})
	s.Require().NoError(err)

	err = s.manager.UpdatePlayerLocation(s.ctx, UpdateRequest{
		UserID:    "alice",
		RoomCode:  "ABCD23",
		Status:    "disconnected",
		Location:  model.LocationDisconnected,
		Immediate: true,
	})
	s.Require().NoError(err)
	s.False(s.member("alice").Connected)
	s.Empty(s.manager.queue)

	// The stale queued move to game must not resurface on the next drain
	s.manager.DrainQueue(s.ctx)
	s.Equal(model.LocationDisconnected, s.member("alice").Location)
}

func (s *ManagerSuite) TestDisconnectedReportBypassesQueue() {
	s.createRoom("ABCD23")
	s.join("alice", "ABCD23")

	err := s.manager.UpdatePlayerLocation(s.ctx, UpdateRequest{
		UserID:   "alice",
		RoomCode: "ABCD23",
		Status:   "disconnected",
		Location: model.LocationDisconnected,
	})
	s.Require().NoError(err)

	member := s.member("alice")
	s.False(member.Connected)
	s.Equal(model.LocationDisconnected, member.Location)
}

// Queue drain tests

func (s *ManagerSuite) TestDrainQueueRetriesFailedUpdatesThenDrops() {
	s.createRoom("ABCD23")
	s.join("alice", "ABCD23")
	s.store.failSavesFor["alice"] = true

	err := s.manager.UpdatePlayerLocation(s.ctx, UpdateRequest{
		UserID:   "alice",
		RoomCode: "ABCD23",
		Status:   "connected",
		Location: model.LocationGame,
	})
	s.Require().NoError(err)
	s.Len(s.manager.queue, 1)

	s.manager.DrainQueue(s.ctx)
	s.Len(s.manager.queue, 1)
	s.manager.DrainQueue(s.ctx)
	s.Len(s.manager.queue, 1)

	// Third failure exhausts the retry budget
	s.manager.DrainQueue(s.ctx)
	s.Empty(s.manager.queue)
}

func (s *ManagerSuite) TestRequeueSkippedWhenSuperseded() {
	key := syncKey{userID: "alice", roomCode: "ABCD23"}

	s.manager.queue[key] = &model.StatusUpdate{UserID: "alice", RoomCode: "ABCD23", Sequence: 5}
	s.manager.requeue(&model.StatusUpdate{UserID: "alice", RoomCode: "ABCD23", Sequence: 3})
	s.Equal(uint64(5), s.manager.queue[key].Sequence)

	delete(s.manager.queue, key)
	s.manager.lastApplied[key] = 4
	s.manager.requeue(&model.StatusUpdate{UserID: "alice", RoomCode: "ABCD23", Sequence: 3})
	s.Empty(s.manager.queue)
}

// Heartbeat tests

func (s *ManagerSuite) TestHandleHeartbeatThrottlesStoreWrites() {
	s.createRoom("ABCD23")
	s.join("alice", "ABCD23")
	joined := s.clock.Now()

	s.clock.Advance(20 * time.Second)
	first := s.clock.Now()
	s.manager.HandleHeartbeat(s.ctx, "alice", "ABCD23")
	s.Equal(first, s.member("alice").LastPing)

	// Within the persist interval the beat is tracked in memory only
	s.clock.Advance(5 * time.Second)
	s.manager.HandleHeartbeat(s.ctx, "alice", "ABCD23")
	s.Equal(first, s.member("alice").LastPing)

	s.clock.Advance(11 * time.Second)
	s.manager.HandleHeartbeat(s.ctx, "alice", "ABCD23")
	s.Equal(joined.Add(36*time.Second), s.member("alice").LastPing)
}

func (s *ManagerSuite) TestDetectDisconnectionsFlagsStalePlayers() {
	s.createRoom("ABCD23")
	s.join("alice", "ABCD23")
	s.join("bob", "ABCD23")

	s.manager.HandleHeartbeat(s.ctx, "alice", "ABCD23")
	s.manager.HandleHeartbeat(s.ctx, "bob", "ABCD23")
	s.clock.Advance(30 * time.Second)
	s.manager.HandleHeartbeat(s.ctx, "bob", "ABCD23")
	s.clock.Advance(31 * time.Second)

	s.manager.DetectDisconnections(s.ctx)

	alice := s.member("alice")
	s.False(alice.Connected)
	s.Equal(model.LocationDisconnected, alice.Location)
	s.True(s.member("bob").Connected)

	// Stale keys are dropped from tracking after the sweep
	s.Len(s.manager.heartbeats, 1)
}

func (s *ManagerSuite) TestForgetHeartbeatStopsDisconnectDetection() {
	s.createRoom("ABCD23")
	s.join("alice", "ABCD23")

	s.manager.HandleHeartbeat(s.ctx, "alice", "ABCD23")
	s.manager.ForgetHeartbeat("alice", "ABCD23")

	s.clock.Advance(2 * time.Minute)
	s.manager.DetectDisconnections(s.ctx)
	s.True(s.member("alice").Connected)
}

// Bulk update tests

func (s *ManagerSuite) TestBulkUpdateMovesPlayersAndBroadcastsResync() {
	s.createRoom("ABCD23")
	s.join("alice", "ABCD23")
	s.join("bob", "ABCD23")

	updates := []BulkPlayerUpdate{
		{UserID: "host", Status: "connected", Location: model.LocationGame},
		{UserID: "alice", Status: "connected", Location: model.LocationGame},
		{UserID: "bob", Status: "connected", Location: model.LocationGame},
	}
	result, err := s.manager.BulkUpdatePlayerStatus(s.ctx, "ABCD23", updates, "game_start")
	s.Require().NoError(err)
	s.Len(result.Applied, 3)
	s.Empty(result.Failed)
	s.False(result.RolledBack)

	for _, userID := range []model.UserID{"host", "alice", "bob"} {
		member := s.member(userID)
		s.True(member.InGame)
		s.Equal(model.LocationGame, member.Location)
	}

	syncs := s.publisher.eventsOfType(model.EventRoomStatusSync)
	s.Require().Len(syncs, 1)
	payload := syncs[0].Payload.(model.RoomStatusSyncPayload)
	s.Equal("full", payload.SyncType)
	s.Len(payload.Players, 3)
}

func (s *ManagerSuite) TestBulkUpdateToleratesMinorityFailure() {
	s.createRoom("ABCD23")
	s.join("alice", "ABCD23")
	s.store.failSavesFor["alice"] = true

	updates := []BulkPlayerUpdate{
		{UserID: "host", Status: "connected", Location: model.LocationGame},
		{UserID: "alice", Status: "connected", Location: model.LocationGame},
	}
	result, err := s.manager.BulkUpdatePlayerStatus(s.ctx, "ABCD23", updates, "game_start")
	s.Require().NoError(err)
	s.False(result.RolledBack)
	s.Equal([]model.UserID{"host"}, result.Applied)
	s.Equal([]model.UserID{"alice"}, result.Failed)

	// The applied half stands when the failure ratio is at the threshold
	s.Equal(model.LocationGame, s.member("host").Location)
}

func (s *ManagerSuite) TestBulkUpdateRollsBackOnMajorityFailure() {
	s.createRoom("ABCD23")
	for _, userID := range []string{"alice", "bob", "carol", "dave"} {
		s.join(userID, "ABCD23")
	}
	s.store.failSavesFor["bob"] = true
	s.store.failSavesFor["carol"] = true
	s.store.failSavesFor["dave"] = true

	updates := []BulkPlayerUpdate{
		{UserID: "host", Status: "connected", Location: model.LocationGame},
		{UserID: "alice", Status: "connected", Location: model.LocationGame},
		{UserID: "bob", Status: "connected", Location: model.LocationGame},
		{UserID: "carol", Status: "connected", Location: model.LocationGame},
		{UserID: "dave", Status: "connected", Location: model.LocationGame},
	}
	result, err := s.manager.BulkUpdatePlayerStatus(s.ctx, "ABCD23", updates, "game_start")
	s.Require().ErrorIs(err, model.ErrBulkUpdateRolledBack)
	s.True(result.RolledBack)
	s.ElementsMatch([]model.UserID{"bob", "carol", "dave"}, result.Failed)
	s.ElementsMatch([]model.UserID{"host", "alice"}, result.Applied)

	// The players that did apply are reverted to their pre-bulk state
	for _, userID := range []model.UserID{"host", "alice"} {
		member := s.member(userID)
		s.Equal(model.LocationLobby, member.Location)
		s.False(member.InGame)
	}
	s.Empty(s.publisher.eventsOfType(model.EventRoomStatusSync))
}

func (s *ManagerSuite) TestBulkUpdateEmptyIsNoop() {
	result, err := s.manager.BulkUpdatePlayerStatus(s.ctx, "ABCD23", nil, "noop")
	s.Require().NoError(err)
	s.Empty(result.Applied)
	s.Empty(result.Failed)
	s.False(result.RolledBack)
}

// Game end tests

func (s *ManagerSuite) TestHandleGameEndReturnsPlayersToLobby() {
	room := s.createRoom("ABCD23")
	s.join("alice", "ABCD23")
	s.join("bob", "ABCD23")
	s.moveToGame("host", "alice")
	err := s.store.SetRoomStatus(s.ctx, room.ID, model.RoomStatusLobby, model.RoomStatusInGame)
	s.Require().NoError(err)

	err = s.manager.HandleGameEnd(s.ctx, "ABCD23", map[string]any{"winner": "alice"})
	s.Require().NoError(err)

	for _, userID := range []model.UserID{"host", "alice", "bob"} {
		member := s.member(userID)
		s.Equal(model.LocationLobby, member.Location)
		s.False(member.InGame)
	}

	updated, err := s.store.GetRoomByCode(s.ctx, "ABCD23")
	s.Require().NoError(err)
	s.Equal(model.RoomStatusLobby, updated.Status)

	changes := s.publisher.eventsOfType(model.EventRoomStatusChanged)
	s.Require().NotEmpty(changes)
	payload := changes[len(changes)-1].Payload.(model.RoomStatusChangedPayload)
	s.Equal(model.RoomStatusLobby, payload.NewStatus)
	s.Equal("game_end", payload.Reason)

	events, err := s.store.GetEvents(s.ctx, room.ID, 50)
	s.Require().NoError(err)
	var ended bool
	for _, e := range events {
		if e.Type == "gameEnded" {
			ended = true
		}
	}
	s.True(ended)
}

func (s *ManagerSuite) TestHandleGameEndSkipsDisconnectedPlayers() {
	room := s.createRoom("ABCD23")
	s.join("alice", "ABCD23")
	s.moveToGame("host", "alice")
	err := s.store.SetRoomStatus(s.ctx, room.ID, model.RoomStatusLobby, model.RoomStatusInGame)
	s.Require().NoError(err)

	err = s.manager.UpdatePlayerLocation(s.ctx, UpdateRequest{
		UserID:    "alice",
		RoomCode:  "ABCD23",
		Status:    "disconnected",
		Location:  model.LocationDisconnected,
		Immediate: true,
	})
	s.Require().NoError(err)

	s.Require().NoError(s.manager.HandleGameEnd(s.ctx, "ABCD23", nil))

	s.Equal(model.LocationLobby, s.member("host").Location)
	s.Equal(model.LocationDisconnected, s.member("alice").Location)
}

// Reconciliation tests

func (s *ManagerSuite) TestReconcileTrustDatabaseKeepsStoredState() {
	s.createRoom("ABCD23")
	s.join("alice", "ABCD23")

	report := model.StatusReport{
		Connected:  false,
		Location:   model.LocationDisconnected,
		ObservedAt: s.clock.Now(),
	}
	triple, err := s.manager.ReconcileStatus(s.ctx, "alice", "ABCD23", report, model.ResolutionTrustDatabase)
	s.Require().NoError(err)
	s.Equal(model.StatusTriple{Connected: true, Location: model.LocationLobby}, triple)
	s.True(s.member("alice").Connected)
	s.Empty(s.publisher.eventsOfType(model.EventStatusConflictResolved))
}

func (s *ManagerSuite) TestReconcileMergeReportsCombinesBothViews() {
	s.createRoom("ABCD23")
	s.join("alice", "ABCD23")
	s.moveToGame("alice")

	// Client says its transport dropped; server says the player is in a game
	report := model.StatusReport{
		Connected:  false,
		InGame:     false,
		Location:   model.LocationLobby,
		ObservedAt: s.clock.Now(),
	}
	triple, err := s.manager.ReconcileStatus(s.ctx, "alice", "ABCD23", report, model.ResolutionMergeReports)
	s.Require().NoError(err)
	s.Equal(model.StatusTriple{Connected: false, InGame: true, Location: model.LocationGame}, triple)

	member := s.member("alice")
	s.False(member.Connected)
	s.True(member.InGame)
	s.Equal(model.LocationGame, member.Location)

	resolved := s.publisher.eventsOfType(model.EventStatusConflictResolved)
	s.Require().Len(resolved, 1)
	payload := resolved[0].Payload.(model.StatusConflictResolvedPayload)
	s.Equal(model.ResolutionMergeReports, payload.Strategy)
	s.True(payload.RequiresAction)
}

func (s *ManagerSuite) TestReconcileNewerTimestampPrefersFresherReport() {
	s.createRoom("ABCD23")
	s.join("alice", "ABCD23")
	s.clock.Advance(time.Minute)

	report := model.StatusReport{
		Connected:  false,
		Location:   model.LocationDisconnected,
		ObservedAt: s.clock.Now(),
	}
	triple, err := s.manager.ReconcileStatus(s.ctx, "alice", "ABCD23", report, model.ResolutionNewerTimestamp)
	s.Require().NoError(err)
	s.Equal(model.StatusTriple{Location: model.LocationDisconnected}, triple)
	s.False(s.member("alice").Connected)

	resolved := s.publisher.eventsOfType(model.EventStatusConflictResolved)
	s.Require().Len(resolved, 1)
	payload := resolved[0].Payload.(model.StatusConflictResolvedPayload)
	s.False(payload.RequiresAction)
}

func (s *ManagerSuite) TestReconcileStaleReportLosesToStoredState() {
	s.createRoom("ABCD23")
	s.join("alice", "ABCD23")

	report := model.StatusReport{
		Connected:  false,
		Location:   model.LocationDisconnected,
		ObservedAt: s.clock.Now().Add(-time.Hour),
	}
	triple, err := s.manager.ReconcileStatus(s.ctx, "alice", "ABCD23", report, model.ResolutionNewerTimestamp)
	s.Require().NoError(err)
	s.Equal(model.StatusTriple{Connected: true, Location: model.LocationLobby}, triple)
	s.True(s.member("alice").Connected)
}

func (s *ManagerSuite) TestReconcileRuleBasedRepairRejectsImpossibleReport() {
	s.createRoom("ABCD23")
	s.join("alice", "ABCD23")
	err := s.manager.UpdatePlayerLocation(s.ctx, UpdateRequest{
		UserID:    "alice",
		RoomCode:  "ABCD23",
		Status:    "disconnected",
		Location:  model.LocationDisconnected,
		Immediate: true,
	})
	s.Require().NoError(err)

	// A disconnected player cannot be in a game
	report := model.StatusReport{
		Connected:  true,
		InGame:     true,
		Location:   model.LocationGame,
		ObservedAt: s.clock.Now(),
	}
	triple, err := s.manager.ReconcileStatus(s.ctx, "alice", "ABCD23", report, model.ResolutionRuleBasedRepair)
	s.Require().NoError(err)
	s.Equal(model.StatusTriple{Location: model.LocationDisconnected}, triple)
	s.False(s.member("alice").Connected)
	s.Empty(s.publisher.eventsOfType(model.EventStatusConflictResolved))
}

func (s *ManagerSuite) TestReconcileUnknownStrategyErrors() {
	s.createRoom("ABCD23")
	s.join("alice", "ABCD23")

	_, err := s.manager.ReconcileStatus(s.ctx, "alice", "ABCD23", model.StatusReport{}, model.ResolutionStrategy("coin_flip"))
	s.Error(err)
}

func (s *ManagerSuite) TestReconcileUnknownRoomErrors() {
	_, err := s.manager.ReconcileStatus(s.ctx, "ghost", "ZZZZ99", model.StatusReport{}, model.ResolutionTrustDatabase)
	s.ErrorIs(err, model.ErrRoomNotFound)
}

// Two-report escalation tests

func (s *ManagerSuite) TestReconcileReportsTrustStoredWhenBothDisagree() {
	s.createRoom("ABCD23")
	s.join("alice", "ABCD23")

	serverReport := model.StatusReport{
		Connected:  true,
		InGame:     true,
		Location:   model.LocationGame,
		ObservedAt: s.clock.Now(),
	}
	clientReport := model.StatusReport{
		Connected:  false,
		Location:   model.LocationDisconnected,
		ObservedAt: s.clock.Now(),
	}

	triple, strategy, err := s.manager.ReconcileReports(s.ctx, "alice", "ABCD23", serverReport, clientReport)
	s.Require().NoError(err)
	s.Equal(model.ResolutionTrustDatabase, strategy)
	s.Equal(model.StatusTriple{Connected: true, Location: model.LocationLobby}, triple)
	s.True(s.member("alice").Connected)
	s.Empty(s.publisher.eventsOfType(model.EventStatusConflictResolved))
}

func (s *ManagerSuite) TestReconcileReportsMergesAuthoritativeBits() {
	s.createRoom("ABCD23")
	s.join("alice", "ABCD23")
	s.moveToGame("alice")

	// Server agrees with the stored in-game state; client reports a
	// transport drop. Each side wins the bit it observes directly.
	serverReport := model.StatusReport{
		Connected:  true,
		InGame:     true,
		Location:   model.LocationGame,
		ObservedAt: s.clock.Now(),
	}
	clientReport := model.StatusReport{
		Connected:  false,
		Location:   model.LocationLobby,
		ObservedAt: s.clock.Now(),
	}

	triple, strategy, err := s.manager.ReconcileReports(s.ctx, "alice", "ABCD23", serverReport, clientReport)
	s.Require().NoError(err)
	s.Equal(model.ResolutionMergeReports, strategy)
	s.Equal(model.StatusTriple{Connected: false, InGame: true, Location: model.LocationGame}, triple)

	member := s.member("alice")
	s.False(member.Connected)
	s.True(member.InGame)

	resolved := s.publisher.eventsOfType(model.EventStatusConflictResolved)
	s.Require().Len(resolved, 1)
	payload := resolved[0].Payload.(model.StatusConflictResolvedPayload)
	s.Equal(model.ResolutionMergeReports, payload.Strategy)
	s.True(payload.RequiresAction)
}

func (s *ManagerSuite) TestReconcileReportsFallsBackToNewerClientReport() {
	s.createRoom("ABCD23")
	s.join("alice", "ABCD23")

	// Connectivity and activity agree on both sides; only placement
	// differs, so the fresher observation decides
	serverReport := model.StatusReport{
		Connected:  true,
		Location:   model.LocationLobby,
		ObservedAt: s.clock.Now(),
	}
	s.clock.Advance(time.Minute)
	clientReport := model.StatusReport{
		Connected:  true,
		Location:   model.LocationGame,
		ObservedAt: s.clock.Now(),
	}

	triple, strategy, err := s.manager.ReconcileReports(s.ctx, "alice", "ABCD23", serverReport, clientReport)
	s.Require().NoError(err)
	s.Equal(model.ResolutionNewerTimestamp, strategy)
	s.Equal(model.LocationGame, triple.Location)
	s.Equal(model.LocationGame, s.member("alice").Location)
}

func (s *ManagerSuite) TestReconcileReportsFallsBackToNewerServerReport() {
	s.createRoom("ABCD23")
	s.join("alice", "ABCD23")

	clientReport := model.StatusReport{
		Connected:  true,
		Location:   model.LocationLobby,
		ObservedAt: s.clock.Now(),
	}
	s.clock.Advance(time.Minute)
	serverReport := model.StatusReport{
		Connected:  true,
		Location:   model.LocationGame,
		ObservedAt: s.clock.Now(),
	}

	triple, strategy, err := s.manager.ReconcileReports(s.ctx, "alice", "ABCD23", serverReport, clientReport)
	s.Require().NoError(err)
	s.Equal(model.ResolutionNewerTimestamp, strategy)
	s.Equal(model.LocationGame, triple.Location)

	// The client's own report lost
	resolved := s.publisher.eventsOfType(model.EventStatusConflictResolved)
	s.Require().Len(resolved, 1)
	payload := resolved[0].Payload.(model.StatusConflictResolvedPayload)
	s.True(payload.RequiresAction)
}

func (s *ManagerSuite) TestReconcileReportsEscalatesUnresolvableConflict() {
	s.createRoom("ABCD23")
	s.join("alice", "ABCD23")

	observed := s.clock.Now()
	serverReport := model.StatusReport{
		Connected:  true,
		Location:   model.LocationLobby,
		ObservedAt: observed,
	}
	clientReport := model.StatusReport{
		Connected:  true,
		Location:   model.LocationGame,
		ObservedAt: observed,
	}

	_, _, err := s.manager.ReconcileReports(s.ctx, "alice", "ABCD23", serverReport, clientReport)
	s.ErrorIs(err, model.ErrConflictUnresolved)
	s.Equal(model.LocationLobby, s.member("alice").Location)
	s.Empty(s.publisher.eventsOfType(model.EventStatusConflictResolved))
}

func (s *ManagerSuite) TestReconcileReportsUnknownRoomErrors() {
	_, _, err := s.manager.ReconcileReports(s.ctx, "ghost", "ZZZZ99", model.StatusReport{}, model.StatusReport{})
	s.ErrorIs(err, model.ErrRoomNotFound)
}

// Concurrency tests

func (s *ManagerSuite) TestConcurrentImmediateUpdatesConverge() {
	s.createRoom("ABCD23")
	s.join("alice", "ABCD23")

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = s.manager.UpdatePlayerLocation(s.ctx, UpdateRequest{
					UserID:    "alice",
					RoomCode:  "ABCD23",
					Status:    "connected",
					Location:  model.LocationGame,
					Immediate: true,
				})
			}
		}()
	}
	wg.Wait()

	member := s.member("alice")
	s.True(member.InGame)
	s.Equal(model.LocationGame, member.Location)
}
