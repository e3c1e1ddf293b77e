package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"auction-engine/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendQueueSize  = 64
)

// Client is one authenticated socket. The read pump turns frames into
// engine calls under the connection context; the write pump drains the
// send queue. Identity comes from the verified token, never from the
// client's payloads.
type Client struct {
	id       string
	userID   uint
	username string
	role     models.UserRole

	gw   *Gateway
	conn *websocket.Conn
	send chan interface{}

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once

	// joined is guarded by the hub mutex
	joined map[uint]struct{}

	log *logrus.Entry
}

func newClient(gw *Gateway, conn *websocket.Conn, user *models.User) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	name := user.Username
	if user.DisplayName != "" {
		name = user.DisplayName
	}
	c := &Client{
		id:       uuid.NewString(),
		userID:   user.ID,
		username: name,
		role:     user.Role,
		gw:       gw,
		conn:     conn,
		send:     make(chan interface{}, sendQueueSize),
		ctx:      ctx,
		cancel:   cancel,
		joined:   make(map[uint]struct{}),
	}
	c.log = gw.log.WithFields(logrus.Fields{
		"conn_id": c.id,
		"user_id": c.userID,
	})
	return c
}

// trySend queues an event without ever blocking the caller. A full queue
// reports false so the hub can evict the laggard.
func (c *Client) trySend(event interface{}) bool {
	select {
	case c.send <- event:
		return true
	default:
		return false
	}
}

// shutdown tears the connection down from outside the pumps, for example
// on eviction. Safe to call many times.
func (c *Client) shutdown() {
	c.once.Do(func() {
		c.cancel()
		c.conn.Close()
	})
}

func (c *Client) readPump() {
	defer func() {
		c.shutdown()
		c.gw.disconnect(c)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.WithError(err).Debug("socket closed unexpectedly")
			}
			return
		}

		var cmd models.Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.trySend(&models.ErrorEvent{Type: models.EventError, Message: "malformed command"})
			continue
		}
		c.gw.dispatch(c, cmd)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.shutdown()
	}()

	for {
		select {
		case event := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		}
	}
}
