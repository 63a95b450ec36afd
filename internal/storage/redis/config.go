package redis

import "time"

// Config holds Redis connection and behavior settings
type Config struct {
	// URL is the Redis connection URL (e.g., redis://localhost:6379)
	URL string

	// Pool settings
	PoolSize     int
	MinIdleConns int

	// TTL settings for different entity types
	RoomTTL    time.Duration
	SessionTTL time.Duration

	// MaxEventsPerRoom caps the audit log list length per room
	MaxEventsPerRoom int
}

// DefaultConfig returns sensible defaults for Redis configuration
func DefaultConfig() Config {
	return Config{
		URL:              "redis://localhost:6379",
		PoolSize:         10,
		MinIdleConns:     2,
		RoomTTL:          24 * time.Hour,
		SessionTTL:       24 * time.Hour,
		MaxEventsPerRoom: 1000,
	}
}
