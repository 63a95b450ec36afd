package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roomsync/roomsync/internal/model"
	"github.com/roomsync/roomsync/internal/pubsub"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 256
)

// Client is one websocket connection. It owns the read/write pumps and the
// binding of the socket to a (user, room) once the client joins.
type Client struct {
	transportID string
	conn        *websocket.Conn
	handler     *Handler
	logger      *slog.Logger

	send chan any
	stop chan struct{}

	mu         sync.Mutex
	userID     model.UserID
	roomID     model.RoomID
	roomCode   model.RoomCode
	session    *model.Session
	subscriber *pubsub.Subscriber
	hub        *pubsub.Hub
}

func newClient(transportID string, conn *websocket.Conn, handler *Handler, logger *slog.Logger) *Client {
	return &Client{
		transportID: transportID,
		conn:        conn,
		handler:     handler,
		logger:      logger.With(slog.String("transport_id", transportID)),
		send:        make(chan any, sendBuffer),
		stop:        make(chan struct{}),
	}
}

// queue enqueues an outbound message, dropping it if the client cannot keep up
func (c *Client) queue(msg any) {
	select {
	case c.send <- msg:
	default:
		c.logger.Warn("outbound buffer full, dropping message")
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			raw, err := json.Marshal(msg)
			if err != nil {
				c.logger.Error("failed to serialize message", slog.Any("error", err))
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.stop:
			return
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.conn.Close()
		c.handler.handleDisconnect(context.Background(), c)
		close(c.stop)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Warn("read failed", slog.Any("error", err))
			}
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.queue(newError("bad_request", "malformed message"))
			continue
		}
		c.handler.dispatch(context.Background(), c, &msg)
	}
}

// bind associates the socket with a joined (user, room)
func (c *Client) bind(userID model.UserID, roomID model.RoomID, roomCode model.RoomCode, session *model.Session) {
	c.mu.Lock()
	c.userID = userID
	c.roomID = roomID
	c.roomCode = roomCode
	c.session = session
	c.mu.Unlock()
}

func (c *Client) binding() (model.UserID, model.RoomID, model.RoomCode, *model.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID, c.roomID, c.roomCode, c.session
}

// subscribe attaches the client to a room topic and forwards events into the
// outbound queue. Any previous subscription is torn down first.
func (c *Client) subscribe(hub *pubsub.Hub, userID model.UserID) {
	c.unsubscribe()

	sub := pubsub.NewSubscriber(userID)
	hub.Register(sub)

	c.mu.Lock()
	c.subscriber = sub
	c.hub = hub
	c.mu.Unlock()

	go func() {
		for event := range sub.Events() {
			c.queue(event)
		}
	}()
}

func (c *Client) unsubscribe() {
	c.mu.Lock()
	sub, hub := c.subscriber, c.hub
	c.subscriber, c.hub = nil, nil
	c.mu.Unlock()
	if sub != nil && hub != nil {
		hub.Unregister(sub)
	}
}
