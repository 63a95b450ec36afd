package lobby

import (
	"context"
	"log/slog"

	"github.com/roomsync/roomsync/internal/model"
)

// CreatePlayerSession issues a fresh session credential for a (user, room)
// pair. Any previous session for the pair is overwritten.
func (m *Manager) CreatePlayerSession(ctx context.Context, userID model.UserID, roomID model.RoomID, transportID string) (*model.Session, error) {
	now := m.clock.Now()
	session := &model.Session{
		UserID:      userID,
		RoomID:      roomID,
		Token:       m.random.Token("sess_"),
		TransportID: transportID,
		Status:      model.SessionStatusActive,
		CreatedAt:   now,
		ExpiresAt:   now.Add(m.cfg.SessionDuration),
	}
	if err := m.store.SaveSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// RecoverResult is the outcome of a successful session recovery
type RecoverResult struct {
	Session *model.Session
	Room    *model.Room
	Member  *model.Member
}

// RecoverSession redeems a session token after a transport drop: the session
// is rebound to the new transport and the member flips back to connected.
func (m *Manager) RecoverSession(ctx context.Context, token, newTransportID string) (*RecoverResult, error) {
	session, err := m.store.GetSessionByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if session.Status != model.SessionStatusActive {
		return nil, model.ErrSessionInvalid
	}
	if m.clock.Now().After(session.ExpiresAt) {
		session.Status = model.SessionStatusExpired
		if err := m.store.SaveSession(ctx, session); err != nil {
			m.logger.Warn("failed to mark session expired", slog.Any("error", err))
		}
		return nil, model.ErrSessionExpired
	}

	// A session whose transport dropped is only redeemable within the
	// recovery window of that disconnect. Sessions with no recorded drop
	// (out-of-band disconnects, HTTP-only flows) fall through to the
	// absolute expiry above.
	if _, _, found, valid := m.connections.TakeRecoverable(token); found && !valid {
		session.Status = model.SessionStatusExpired
		if err := m.store.SaveSession(ctx, session); err != nil {
			m.logger.Warn("failed to mark session expired", slog.Any("error", err))
		}
		return nil, model.ErrSessionExpired
	}

	room, err := m.store.GetRoom(ctx, session.RoomID)
	if err != nil {
		return nil, err
	}

	member, err := m.store.GetMember(ctx, session.RoomID, session.UserID)
	if err != nil {
		return nil, err
	}

	now := m.clock.Now()
	session.TransportID = newTransportID
	if err := m.store.SaveSession(ctx, session); err != nil {
		return nil, err
	}

	member.Connected = true
	member.TransportID = newTransportID
	if member.Location == model.LocationDisconnected {
		member.Location = model.LocationLobby
	}
	member.LastPing = now
	member.UpdatedAt = now
	if err := m.store.SaveMember(ctx, member); err != nil {
		return nil, err
	}

	if newTransportID == "" {
		// HTTP recovery carries no live transport; the member is marked
		// connected but only becomes reachable once a socket attaches
	} else if _, ok := m.connections.GetConnection(newTransportID); ok {
		m.connections.UpdateConnection(newTransportID, member.UserID, room.ID, room.Code, session.Token)
	} else {
		m.connections.AddConnection(&model.Connection{
			TransportID:  newTransportID,
			UserID:       member.UserID,
			Username:     member.DisplayName,
			RoomID:       room.ID,
			RoomCode:     room.Code,
			SessionToken: session.Token,
			Type:         model.ConnectionTypeRecovered,
			IsPrimary:    true,
		})
	}
	m.connections.ConsolidateConnections(member.UserID)

	members, err := m.store.GetMembers(ctx, room.ID)
	if err != nil {
		return nil, err
	}
	m.cacheSnapshot(room, members)
	m.logEvent(ctx, room.ID, member.UserID, "sessionRecovered", nil)
	m.broadcaster.PlayerStatusUpdated(room.Code, member.UserID, model.StatusTriple{
		Connected: member.Connected,
		InGame:    member.InGame,
		Location:  member.Location,
	}, members, nil)

	m.logger.Info("session recovered",
		slog.String("user_id", string(member.UserID)),
		slog.String("room", string(room.Code)))

	return &RecoverResult{Session: session, Room: room, Member: member}, nil
}
