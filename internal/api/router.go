package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/roomsync/roomsync/internal/api/handler"
	"github.com/roomsync/roomsync/internal/api/middleware"
	"github.com/roomsync/roomsync/internal/api/response"
	"github.com/roomsync/roomsync/internal/services/lobby"
	"github.com/roomsync/roomsync/internal/services/statussync"
)

// RouterConfig holds configuration for the API router
type RouterConfig struct {
	Logger       *slog.Logger
	LobbyManager *lobby.Manager
	StatusSync   *statussync.Manager
	// WSHandler serves the realtime endpoint; nil disables it
	WSHandler http.Handler
	// StoreCheck reports store reachability for the health endpoint;
	// nil means the store has no liveness probe (memory)
	StoreCheck func(ctx context.Context) error
	// AllowedOrigins configures CORS for browser clients
	AllowedOrigins []string
}

// NewRouter creates a new API router with all routes configured
func NewRouter(cfg RouterConfig) http.Handler {
	r := mux.NewRouter()

	roomHandler := handler.NewRoomHandler(cfg.LobbyManager)
	statusHandler := handler.NewStatusHandler(cfg.LobbyManager, cfg.StatusSync)
	sessionHandler := handler.NewSessionHandler(cfg.LobbyManager)

	loggingMiddleware := middleware.Logging(cfg.Logger)
	recoveryMiddleware := middleware.Recovery(cfg.Logger)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(recoveryMiddleware)
	api.Use(loggingMiddleware)

	// Room lifecycle
	api.HandleFunc("/rooms", roomHandler.Create).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{code}", roomHandler.Validate).Methods(http.MethodGet)
	api.HandleFunc("/rooms/{code}/snapshot", roomHandler.Get).Methods(http.MethodGet)
	api.HandleFunc("/rooms/{code}/join", roomHandler.Join).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{code}/leave", roomHandler.Leave).Methods(http.MethodPost)

	// Status synchronization
	api.HandleFunc("/rooms/{code}/status", statusHandler.Update).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{code}/status/bulk", statusHandler.Bulk).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{code}/status/reconcile", statusHandler.Reconcile).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{code}/heartbeat", statusHandler.Heartbeat).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{code}/return", statusHandler.Return).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{code}/return-all", statusHandler.ReturnAll).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{code}/game-end", statusHandler.GameEnd).Methods(http.MethodPost)

	// Session recovery
	api.HandleFunc("/sessions/recover", sessionHandler.Recover).Methods(http.MethodPost)

	// Health check endpoint
	api.HandleFunc("/health", healthHandler(cfg.StoreCheck)).Methods(http.MethodGet)

	// Realtime endpoint; no logging middleware, connections are long-lived
	if cfg.WSHandler != nil {
		r.Handle("/ws", cfg.WSHandler)
	}

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)(r)
}

func healthHandler(storeCheck func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := response.Health{Status: "ok", Store: "ok"}
		status := http.StatusOK
		if storeCheck != nil {
			if err := storeCheck(r.Context()); err != nil {
				health.Status = "degraded"
				health.Store = "unreachable"
				status = http.StatusServiceUnavailable
			}
		}
		response.JSON(w, status, health)
	}
}
