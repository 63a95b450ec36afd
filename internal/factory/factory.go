package factory

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/roomsync/roomsync/internal/dependencies/clock"
	"github.com/roomsync/roomsync/internal/dependencies/random"
	"github.com/roomsync/roomsync/internal/pubsub"
	"github.com/roomsync/roomsync/internal/services/connection"
	"github.com/roomsync/roomsync/internal/services/heartbeat"
	"github.com/roomsync/roomsync/internal/services/lifecycle"
	"github.com/roomsync/roomsync/internal/services/lobby"
	"github.com/roomsync/roomsync/internal/services/statussync"
	"github.com/roomsync/roomsync/internal/storage"
	"github.com/roomsync/roomsync/internal/storage/memory"
	redisstorage "github.com/roomsync/roomsync/internal/storage/redis"
)

// Storage type constants
const (
	StorageTypeMemory = "memory"
	StorageTypeRedis  = "redis"
)

// App contains all wired application components
type App struct {
	// Storage
	Store storage.Store
	// StoreCheck probes store reachability; nil for memory storage
	StoreCheck func(ctx context.Context) error

	// External dependencies
	Clock  clock.Clock
	Random random.Random

	// Pubsub
	HubManager  *pubsub.HubManager
	Broadcaster *pubsub.Broadcaster

	// Services
	Connections *connection.Manager
	Lobby       *lobby.Manager
	StatusSync  *statussync.Manager
	Heartbeat   *heartbeat.Manager
	Lifecycle   *lifecycle.Manager
}

// Config holds configuration for the application factory
type Config struct {
	// Logger is the application logger (optional)
	// If nil, a no-op logger is used
	Logger *slog.Logger
	// StorageType selects the storage backend ("memory" or "redis")
	// If empty, defaults to "memory"
	StorageType string
	// RedisConfig holds Redis connection settings (required if StorageType is "redis")
	RedisConfig *redisstorage.Config

	// Per-service configs; zero values fall back to defaults
	ConnectionConfig *connection.Config
	LobbyConfig      *lobby.Config
	StatusSyncConfig *statussync.Config
	HeartbeatConfig  *heartbeat.Config
	LifecycleConfig  *lifecycle.Config
}

// New creates a new application with all dependencies wired
func New(cfg Config) (*App, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	var store storage.Store
	var storeCheck func(ctx context.Context) error
	storageType := cfg.StorageType
	if storageType == "" {
		storageType = StorageTypeMemory
	}

	switch storageType {
	case StorageTypeMemory:
		store = memory.New()
	case StorageTypeRedis:
		if cfg.RedisConfig == nil {
			return nil, errors.New("RedisConfig required when StorageType is redis")
		}
		redisStore, err := redisstorage.New(*cfg.RedisConfig)
		if err != nil {
			return nil, err
		}
		store = redisStore
		storeCheck = redisStore.Ping
	default:
		return nil, errors.New("invalid StorageType: must be 'memory' or 'redis'")
	}

	clk := clock.New()
	rnd := random.New()

	app := NewWithDependencies(store, clk, rnd, cfg, logger)
	app.StoreCheck = storeCheck
	return app, nil
}

// NewWithDependencies creates an App with the given dependencies (useful for testing)
func NewWithDependencies(store storage.Store, clk clock.Clock, rnd random.Random, cfg Config, logger *slog.Logger) *App {
	connCfg := connection.DefaultConfig()
	if cfg.ConnectionConfig != nil {
		connCfg = *cfg.ConnectionConfig
	}
	lobbyCfg := lobby.DefaultConfig()
	if cfg.LobbyConfig != nil {
		lobbyCfg = *cfg.LobbyConfig
	}
	syncCfg := statussync.DefaultConfig()
	if cfg.StatusSyncConfig != nil {
		syncCfg = *cfg.StatusSyncConfig
	}
	hbCfg := heartbeat.DefaultConfig()
	if cfg.HeartbeatConfig != nil {
		hbCfg = *cfg.HeartbeatConfig
	}
	lcCfg := lifecycle.DefaultConfig()
	if cfg.LifecycleConfig != nil {
		lcCfg = *cfg.LifecycleConfig
	}

	hubManager := pubsub.NewHubManager(logger)
	broadcaster := pubsub.NewBroadcaster(hubManager, clk, logger)
	connections := connection.NewManager(connCfg, clk, logger)
	lobbyManager := lobby.NewManager(store, connections, broadcaster, clk, rnd, lobbyCfg, logger)
	statusSync := statussync.NewManager(lobbyManager, store, broadcaster, clk, syncCfg, logger)
	heartbeatManager := heartbeat.NewManager(store, connections, broadcaster, clk, hbCfg, logger)
	lifecycleManager := lifecycle.NewManager(store, broadcaster, clk, lcCfg, logger)

	return &App{
		Store:       store,
		Clock:       clk,
		Random:      rnd,
		HubManager:  hubManager,
		Broadcaster: broadcaster,
		Connections: connections,
		Lobby:       lobbyManager,
		StatusSync:  statusSync,
		Heartbeat:   heartbeatManager,
		Lifecycle:   lifecycleManager,
	}
}

// Run starts the background loops and blocks until ctx is done
func (a *App) Run(ctx context.Context) {
	go a.Connections.Run(ctx)
	go a.Lobby.StartCleanup(ctx)
	go a.StatusSync.Run(ctx)
	go a.Heartbeat.Run(ctx)
	<-ctx.Done()
	a.Lifecycle.Stop()
}
