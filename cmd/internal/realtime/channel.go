package realtime

import (
	"sync"

	v1 "github.com/akinsuyitaiwo/financial-management-system/shared/contracts/realtime/v1"
)

// Channel is the in-memory member set of one group.
//
// mu is held exclusively for the whole fan-out, so two publishes on the same channel
// reach every member in the same order. Fan-out never blocks: it only offers to
// bounded queues.
type Channel struct {
	GroupID string

	mu      sync.Mutex
	members map[string]*Client
}

func newChannel(groupID string) *Channel {
	return &Channel{
		GroupID: groupID,
		members: make(map[string]*Client),
	}
}

// add reports whether the client was not already a member.
func (ch *Channel) add(c *Client) bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if _, ok := ch.members[c.ID]; ok {
		return false
	}
	ch.members[c.ID] = c
	return true
}

// remove reports whether the client was a member, and the remaining size.
func (ch *Channel) remove(clientID string) (bool, int) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	_, ok := ch.members[clientID]
	delete(ch.members, clientID)
	return ok, len(ch.members)
}

func (ch *Channel) size() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return len(ch.members)
}

// broadcast offers env to every member and returns delivery counts.
func (ch *Channel) broadcast(env v1.Envelope) (delivered, dropped int) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	for _, m := range ch.members {
		if m.offer(env) {
			delivered++
		} else {
			dropped++
		}
	}
	return delivered, dropped
}
