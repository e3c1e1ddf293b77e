// Package gateway owns the socket surface: it authenticates connections,
// translates inbound commands into engine calls, and fans lane events
// back out through the hub.
package gateway

import (
	"net/http"
	"strings"

	"auction-engine/internal/auth"
	"auction-engine/internal/engine"
	"auction-engine/internal/models"
	"auction-engine/internal/repository"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

type Gateway struct {
	engine   *engine.Engine
	hub      *Hub
	repo     *repository.Repository
	throttle *auth.FailureThrottle
	log      *logrus.Logger
	upgrader websocket.Upgrader
}

func New(eng *engine.Engine, hub *Hub, repo *repository.Repository, throttle *auth.FailureThrottle, log *logrus.Logger) *Gateway {
	return &Gateway{
		engine:   eng,
		hub:      hub,
		repo:     repo,
		throttle: throttle,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// auth happens via token, not origin
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// HandleWS authenticates and upgrades a connection. The credential rides
// the query string or an Authorization header; failures count against
// the source address.
func (gw *Gateway) HandleWS(c *gin.Context) {
	addr := c.ClientIP()
	if !gw.throttle.Allow(addr) {
		gw.log.WithField("addr", addr).Warn("connection attempt while locked out")
		authFailed(c, "too many failed attempts")
		return
	}

	token := c.Query("token")
	if token == "" {
		token = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	}

	claims, err := auth.ValidateToken(token)
	if err != nil {
		gw.throttle.RecordFailure(addr)
		authFailed(c, "invalid credential")
		return
	}

	user, err := gw.repo.GetUserByID(c.Request.Context(), claims.UserID)
	if err != nil || !user.Active {
		gw.throttle.RecordFailure(addr)
		authFailed(c, "unknown or inactive user")
		return
	}
	gw.throttle.RecordSuccess(addr)

	conn, err := gw.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		gw.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := newClient(gw, conn, user)
	gw.hub.register(client)
	client.log.Info("socket connected")

	go client.writePump()
	go client.readPump()
}

func authFailed(c *gin.Context, message string) {
	c.JSON(http.StatusUnauthorized, gin.H{
		"error": gin.H{"code": models.CodeAuthFailed, "message": message},
	})
}

// dispatch routes one inbound command. Identity always comes from the
// connection, whatever the payload claims.
func (gw *Gateway) dispatch(c *Client, cmd models.Command) {
	switch cmd.Type {
	case models.CmdJoinAuction:
		gw.handleJoin(c, cmd.AuctionID)

	case models.CmdLeaveAuction:
		gw.handleLeave(c, cmd.AuctionID)

	case models.CmdPlaceBid:
		if rejected := gw.engine.PlaceBid(c.ctx, cmd.AuctionID, c.userID, c.username, cmd.Amount); rejected != nil {
			c.trySend(rejected)
		}

	case models.CmdSetProxy:
		set, rejected := gw.engine.SetProxy(c.ctx, cmd.AuctionID, c.userID, c.username, cmd.MaxAmount)
		if set != nil {
			c.trySend(set)
		}
		if rejected != nil {
			c.trySend(rejected)
		}

	case models.CmdCancelProxy:
		if err := gw.engine.CancelProxy(c.ctx, cmd.AuctionID, c.userID); err != nil {
			c.trySend(&models.ErrorEvent{Type: models.EventError, Message: err.Error()})
		}

	default:
		c.trySend(&models.ErrorEvent{Type: models.EventError, Message: "unknown command type"})
	}
}

// handleJoin subscribes first and snapshots second. Any bid committed
// between the two reaches the subscriber's queue, so the stream after the
// snapshot's last_seq is contiguous; at worst the snapshot re-covers an
// event already queued, which clients reconcile by seq.
func (gw *Gateway) handleJoin(c *Client, auctionID uint) {
	viewers, already := gw.hub.join(c, auctionID)

	state, history, err := gw.engine.Snapshot(c.ctx, auctionID)
	if err != nil {
		gw.hub.leave(c, auctionID)
		c.trySend(&models.ErrorEvent{Type: models.EventError, Message: err.Error()})
		return
	}
	state.Viewers = viewers
	if !c.trySend(state) || !c.trySend(history) {
		// without its seq baseline the subscriber cannot reconcile the
		// stream; drop it the way the hub drops any laggard
		if !already {
			gw.hub.leave(c, auctionID)
		}
		c.log.Warn("send queue full during join, evicting")
		c.shutdown()
		return
	}

	if !already {
		gw.hub.broadcastExcept(auctionID, c, &models.PeerEvent{
			Type:      models.EventPeerJoined,
			AuctionID: auctionID,
			UserID:    c.userID,
			Username:  c.username,
			Viewers:   viewers,
		})
	}
}

func (gw *Gateway) handleLeave(c *Client, auctionID uint) {
	viewers, was := gw.hub.leave(c, auctionID)
	if !was {
		return
	}
	gw.hub.Broadcast(auctionID, &models.PeerEvent{
		Type:      models.EventPeerLeft,
		AuctionID: auctionID,
		UserID:    c.userID,
		Username:  c.username,
		Viewers:   viewers,
	})
}

// disconnect finishes a session: every room the connection sat in hears
// a peer_left, then the send queue is abandoned.
func (gw *Gateway) disconnect(c *Client) {
	for _, left := range gw.hub.unregister(c) {
		gw.hub.Broadcast(left.auctionID, &models.PeerEvent{
			Type:      models.EventPeerLeft,
			AuctionID: left.auctionID,
			UserID:    c.userID,
			Username:  c.username,
			Viewers:   left.viewers,
		})
	}
	c.log.Info("socket disconnected")
}
