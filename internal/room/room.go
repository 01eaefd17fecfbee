// Package room implements the in-memory chat room registry and fan-out
// broadcaster. A room exists in the registry iff it has at least one member;
// rooms are created lazily on first join and destroyed synchronously when
// the last member leaves.
package room

import (
	"log/slog"
	"sync"

	"github.com/propromo-software/propromo.chat/internal/metrics"
)

// Sender is the capability a room needs from a member connection: deliver
// one payload. A Sender belongs to at most one room at a time and is owned
// exclusively by it.
type Sender interface {
	Send(payload []byte) error
}

// Room holds the live member set for one monitor and performs fan-out
// broadcast. Membership mutation goes through the Registry; the room's own
// lock serializes broadcasts against membership changes so that broadcasts
// observed in order by the room are received in order by every member.
type Room struct {
	monitorID  string
	members    map[Sender]struct{}
	echoSender bool
	mu         sync.Mutex
}

func newRoom(monitorID string, echoSender bool) *Room {
	return &Room{
		monitorID:  monitorID,
		members:    make(map[Sender]struct{}),
		echoSender: echoSender,
	}
}

// MonitorID returns the monitor id this room serves.
func (r *Room) MonitorID() string {
	return r.monitorID
}

// Len returns the current member count.
func (r *Room) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// Has reports whether the sender is currently a member.
func (r *Room) Has(s Sender) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.members[s]
	return ok
}

// join adds a member. Idempotent: joining twice leaves a single membership,
// so no member ever receives duplicate copies of a broadcast.
func (r *Room) join(s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[s] = struct{}{}
}

// leave removes a member and returns the remaining count. No-op if absent.
func (r *Room) leave(s Sender) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, s)
	return len(r.members)
}

// Broadcast delivers payload to every current member. Under the default
// exclude-sender policy the sender does not receive its own message back;
// with echo enabled it does.
//
// A failed delivery (member's connection already closed or backed up) never
// aborts delivery to the remaining members: the failed members are returned
// so the caller can run their leave, and delivery continues. Payload bytes
// are opaque; any annotation was applied identically to every copy before
// this call.
func (r *Room) Broadcast(payload []byte, sender Sender) (delivered int, failed []Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for member := range r.members {
		if !r.echoSender && member == sender {
			continue
		}
		if err := member.Send(payload); err != nil {
			metrics.DeliveryFailures.Inc()
			failed = append(failed, member)
			continue
		}
		delivered++
		metrics.MessagesBroadcast.Inc()
	}
	return delivered, failed
}

// Registry maps monitor ids to their live rooms. Both state mutations,
// create-if-absent-then-join and leave-then-delete-if-empty, are single
// atomic operations under the registry lock, so concurrent first-joins for
// one monitor always observe the same room object and a join can never
// interleave with the empty-check that deletes a room.
type Registry struct {
	rooms      map[string]*Room
	echoSender bool
	logger     *slog.Logger
	mu         sync.Mutex
}

// NewRegistry creates an empty registry. The registry starts empty at
// process startup; there is no teardown beyond process exit.
func NewRegistry(echoSender bool, logger *slog.Logger) *Registry {
	return &Registry{
		rooms:      make(map[string]*Room),
		echoSender: echoSender,
		logger:     logger.With("component", "room"),
	}
}

// Join resolves or creates the room for the monitor and adds the sender to
// it, as one atomic step.
func (g *Registry) Join(monitorID string, s Sender) *Room {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.rooms[monitorID]
	if !ok {
		r = newRoom(monitorID, g.echoSender)
		g.rooms[monitorID] = r
		metrics.ActiveRooms.Inc()
		g.logger.Info("Chat room created", "monitor_id", monitorID)
	}
	r.join(s)
	g.logger.Info("Connection opened for chat room", "monitor_id", monitorID, "members", r.Len())
	return r
}

// Leave removes the sender from the monitor's room and deletes the room if
// it became empty, as one atomic step. No-op if the room does not exist or
// the sender already left.
func (g *Registry) Leave(monitorID string, s Sender) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.rooms[monitorID]
	if !ok {
		return
	}
	remaining := r.leave(s)
	g.logger.Info("Connection closed for chat room", "monitor_id", monitorID, "members", remaining)
	if remaining == 0 {
		delete(g.rooms, monitorID)
		metrics.ActiveRooms.Dec()
		g.logger.Info("Chat room destroyed", "monitor_id", monitorID)
	}
}

// Lookup returns the live room for a monitor, if any.
func (g *Registry) Lookup(monitorID string) (*Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rooms[monitorID]
	return r, ok
}

// Len returns the number of live rooms.
func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}
