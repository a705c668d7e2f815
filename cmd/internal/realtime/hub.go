package realtime

import (
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	v1 "github.com/akinsuyitaiwo/financial-management-system/shared/contracts/realtime/v1"
)

// Hub is the in-process fan-out registry: group channels, the channels each
// connection belongs to, and the login group of each user.
//
// Lock order is Hub.mu then Channel.mu. Publish holds Hub.mu for reading during
// fan-out, so membership changes wait for an in-flight publish but publishes on
// different channels run in parallel.
type Hub struct {
	log     *slog.Logger
	metrics *Metrics

	mu         sync.RWMutex
	channels   map[string]*Channel
	clients    map[string]*clientEntry
	userGroups map[string]string
}

type clientEntry struct {
	client *Client
	groups map[string]struct{}
}

// NewHub constructs a Hub. metrics may be nil.
func NewHub(log *slog.Logger, metrics *Metrics) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:        log,
		metrics:    metrics,
		channels:   make(map[string]*Channel),
		clients:    make(map[string]*clientEntry),
		userGroups: make(map[string]string),
	}
}

// Register tracks a new connection. An authenticated connection is joined to its
// user's login group right away.
func (h *Hub) Register(c *Client) {
	if c == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c.ID]; ok {
		return
	}
	h.clients[c.ID] = &clientEntry{client: c, groups: make(map[string]struct{})}
	h.metrics.connOpened()

	if c.UserID != "" {
		if g := h.userGroups[c.UserID]; g != "" {
			h.joinLocked(c, g)
		}
	}
	h.log.Debug("realtime.client.register", "connection_id", c.ID, "user_id", c.UserID)
}

// Join subscribes c to groupID. It is idempotent and reports whether c was newly added.
// Unregistered clients are registered first.
func (h *Hub) Join(c *Client, groupID string) bool {
	groupID = strings.TrimSpace(groupID)
	if c == nil || groupID == "" {
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c.ID]; !ok {
		h.clients[c.ID] = &clientEntry{client: c, groups: make(map[string]struct{})}
		h.metrics.connOpened()
	}
	return h.joinLocked(c, groupID)
}

// Leave unsubscribes c from groupID. It is a no-op when c is not a member.
func (h *Hub) Leave(c *Client, groupID string) bool {
	groupID = strings.TrimSpace(groupID)
	if c == nil || groupID == "" {
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.leaveLocked(c.ID, groupID)
}

// Disconnect removes c from every channel, forgets it and closes it. Safe to call twice.
func (h *Hub) Disconnect(c *Client) {
	if c == nil {
		return
	}

	h.mu.Lock()
	entry, ok := h.clients[c.ID]
	if ok {
		for g := range entry.groups {
			h.leaveLocked(c.ID, g)
		}
		delete(h.clients, c.ID)
		h.metrics.connClosed()
	}
	h.mu.Unlock()

	// Close after membership removal so no publisher still sees the client.
	c.Close()
	if ok {
		h.log.Debug("realtime.client.disconnect", "connection_id", c.ID, "user_id", c.UserID)
	}
}

// CloseAll disconnects every registered client. The server calls it on shutdown.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, e := range h.clients {
		clients = append(clients, e.client)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.Disconnect(c)
	}
}

// JoinUser records groupID as userID's login group and subscribes every live
// connection of that user. Later connections join it on Register. When the user
// moves to a different group, their connections leave the previous one.
func (h *Hub) JoinUser(userID, groupID string) {
	userID = strings.TrimSpace(userID)
	groupID = strings.TrimSpace(groupID)
	if userID == "" || groupID == "" {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	prev := h.userGroups[userID]
	h.userGroups[userID] = groupID
	for _, e := range h.clients {
		if e.client.UserID != userID {
			continue
		}
		if prev != "" && prev != groupID {
			h.leaveLocked(e.client.ID, prev)
		}
		h.joinLocked(e.client, groupID)
	}
	if prev != "" && prev != groupID {
		h.log.Debug("realtime.user.regroup", "user_id", userID, "from_group_id", prev, "group_id", groupID)
	}
}

// Publish delivers one envelope of type event to every member of groupID.
// It never blocks and never fails: slow or closing members miss the event.
func (h *Hub) Publish(groupID, event string, payload any) {
	groupID = strings.TrimSpace(groupID)
	if groupID == "" || event == "" {
		return
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		h.log.Error("realtime.publish.encode_fail", "group_id", groupID, "event", event, "err", err)
		return
	}
	env := newEnvelope(event, raw, time.Now().UTC())

	h.mu.RLock()
	defer h.mu.RUnlock()

	ch := h.channels[groupID]
	if ch == nil {
		h.metrics.publishedEvent(event, 0, 0)
		return
	}
	delivered, dropped := ch.broadcast(env)
	h.metrics.publishedEvent(event, delivered, dropped)
	if dropped > 0 {
		h.log.Debug("realtime.publish.dropped", "group_id", groupID, "event", event, "dropped", dropped)
	}
}

// Groups returns the sorted group ids c is subscribed to.
func (h *Hub) Groups(c *Client) []string {
	if c == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	e, ok := h.clients[c.ID]
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(e.groups))
	for g := range e.groups {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// ChannelSize returns the member count of groupID (0 when the channel does not exist).
func (h *Hub) ChannelSize(groupID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ch := h.channels[groupID]
	if ch == nil {
		return 0
	}
	return ch.size()
}

// Connections returns the number of registered connections.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) joinLocked(c *Client, groupID string) bool {
	e := h.clients[c.ID]
	if e == nil {
		return false
	}
	ch := h.channels[groupID]
	if ch == nil {
		ch = newChannel(groupID)
		h.channels[groupID] = ch
		h.metrics.setChannels(len(h.channels))
	}
	if !ch.add(c) {
		return false
	}
	e.groups[groupID] = struct{}{}
	h.metrics.joined()
	h.log.Debug("realtime.channel.join", "group_id", groupID, "connection_id", c.ID)
	return true
}

func (h *Hub) leaveLocked(clientID, groupID string) bool {
	if e := h.clients[clientID]; e != nil {
		delete(e.groups, groupID)
	}
	ch := h.channels[groupID]
	if ch == nil {
		return false
	}
	removed, remaining := ch.remove(clientID)
	if remaining == 0 {
		delete(h.channels, groupID)
		h.metrics.setChannels(len(h.channels))
	}
	if removed {
		h.log.Debug("realtime.channel.leave", "group_id", groupID, "connection_id", clientID)
	}
	return removed
}

func newEnvelope(typ string, payload json.RawMessage, ts time.Time) v1.Envelope {
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      uuid.NewString(),
		TS:      ts,
		Payload: payload,
	}
}
