package gateway

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Hub fans lane events out to auction subscribers. Per-auction order is
// preserved because each lane broadcasts from a single goroutine and
// every subscriber consumes through its own ordered send queue. Delivery
// is best-effort: a subscriber that cannot keep up is evicted rather
// than ever blocking the lane.
type Hub struct {
	log *logrus.Logger

	mu    sync.RWMutex
	rooms map[uint]map[*Client]struct{}
	users map[uint]map[*Client]struct{}
}

func NewHub(log *logrus.Logger) *Hub {
	return &Hub{
		log:   log,
		rooms: make(map[uint]map[*Client]struct{}),
		users: make(map[uint]map[*Client]struct{}),
	}
}

// Broadcast delivers an event to every subscriber of an auction.
func (h *Hub) Broadcast(auctionID uint, event interface{}) {
	h.mu.RLock()
	subs := make([]*Client, 0, len(h.rooms[auctionID]))
	for c := range h.rooms[auctionID] {
		subs = append(subs, c)
	}
	h.mu.RUnlock()

	h.deliver(subs, event)
}

// broadcastExcept delivers an event to every subscriber of an auction but
// one, typically the connection whose action raised the event.
func (h *Hub) broadcastExcept(auctionID uint, skip *Client, event interface{}) {
	h.mu.RLock()
	subs := make([]*Client, 0, len(h.rooms[auctionID]))
	for c := range h.rooms[auctionID] {
		if c != skip {
			subs = append(subs, c)
		}
	}
	h.mu.RUnlock()

	h.deliver(subs, event)
}

// SendToUser delivers an event to every connection a user holds.
func (h *Hub) SendToUser(userID uint, event interface{}) {
	h.mu.RLock()
	conns := make([]*Client, 0, len(h.users[userID]))
	for c := range h.users[userID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	h.deliver(conns, event)
}

func (h *Hub) deliver(clients []*Client, event interface{}) {
	var evicted []*Client
	for _, c := range clients {
		if !c.trySend(event) {
			evicted = append(evicted, c)
		}
	}
	for _, c := range evicted {
		h.log.WithFields(logrus.Fields{
			"conn_id": c.id,
			"user_id": c.userID,
		}).Warn("subscriber send queue full, evicting")
		c.shutdown()
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.users[c.userID] == nil {
		h.users[c.userID] = make(map[*Client]struct{})
	}
	h.users[c.userID][c] = struct{}{}
}

// join subscribes a connection to an auction room. Returns the viewer
// count after the join and whether the connection was already a member.
func (h *Hub) join(c *Client, auctionID uint) (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room := h.rooms[auctionID]
	if room == nil {
		room = make(map[*Client]struct{})
		h.rooms[auctionID] = room
	}
	if _, ok := room[c]; ok {
		return len(room), true
	}
	room[c] = struct{}{}
	c.joined[auctionID] = struct{}{}
	return len(room), false
}

// leave unsubscribes a connection from an auction room. Returns the
// viewer count after the leave and whether the connection was a member.
func (h *Hub) leave(c *Client, auctionID uint) (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.leaveLocked(c, auctionID)
}

func (h *Hub) leaveLocked(c *Client, auctionID uint) (int, bool) {
	room := h.rooms[auctionID]
	if room == nil {
		return 0, false
	}
	if _, ok := room[c]; !ok {
		return len(room), false
	}
	delete(room, c)
	delete(c.joined, auctionID)
	if len(room) == 0 {
		delete(h.rooms, auctionID)
		return 0, true
	}
	return len(room), true
}

type peerUpdate struct {
	auctionID uint
	viewers   int
}

// unregister removes a connection from its user set and every room it
// joined. Returns the rooms it actually left so the caller can announce
// the departures outside the lock.
func (h *Hub) unregister(c *Client) []peerUpdate {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns := h.users[c.userID]; conns != nil {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.users, c.userID)
		}
	}

	var left []peerUpdate
	for auctionID := range c.joined {
		if viewers, was := h.leaveLocked(c, auctionID); was {
			left = append(left, peerUpdate{auctionID: auctionID, viewers: viewers})
		}
	}
	return left
}

// Viewers reports the current subscriber count of an auction room.
func (h *Hub) Viewers(auctionID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[auctionID])
}
