package model

import "time"

// ConnectionType classifies how a connection was established
type ConnectionType string

const (
	ConnectionTypeLive        ConnectionType = "live"
	ConnectionTypeExternalAPI ConnectionType = "external-api"
	ConnectionTypeRecovered   ConnectionType = "recovered"
)

// Connection is the ephemeral binding of a transport to a (user, room).
// Owned exclusively by the connection manager; never persisted beyond
// process lifetime except via the Session entity.
type Connection struct {
	TransportID  string
	UserID       UserID
	Username     string
	RoomID       RoomID
	RoomCode     RoomCode
	SessionToken string
	Type         ConnectionType
	IsPrimary    bool
	ConnectedAt  time.Time
	LastActivity time.Time
}
