// Package broadcast fans committed mutation events out to every session
// currently subscribed to a group room. Delivery is best-effort at-most-once:
// there is no backlog, and a reconnecting client must re-fetch authoritative
// state rather than rely on buffered events.
package broadcast

import (
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/splitsync/splitsync/internal/metrics"
)

// Event type tags published to group rooms.
const (
	EventGroupCreated    = "group.created"
	EventGroupUpdated    = "group.updated"
	EventSettingsUpdated = "group.settings_updated"
	EventGroupDeleted    = "group.deleted"
	EventMemberAdded     = "member.added"
	EventMemberRemoved   = "member.removed"
	EventExpenseCreated  = "expense.created"
	EventExpenseUpdated  = "expense.updated"
	EventExpenseDeleted  = "expense.deleted"
	EventExpenseSettled  = "expense.settled"
	EventSettlementAdded = "settlement.added"
)

// Event is the minimal invalidation hint published after a mutation commits.
// Payload identifies what changed (ids, the action); it is not an
// authoritative diff.
type Event struct {
	Type    string         `json:"type"`
	GroupID string         `json:"group_id"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Publisher is the side the mutation services see.
type Publisher interface {
	Publish(groupID string, ev Event)
}

type session struct {
	id      string
	ch      chan Event
	limiter *rate.Limiter
}

// Hub is the in-process room registry. One room per group; sessions not
// subscribed at publish time receive nothing.
type Hub struct {
	buffer int
	rate   rate.Limit
	burst  int

	mu    sync.RWMutex
	rooms map[string]map[string]*session
}

var _ Publisher = (*Hub)(nil)

// NewHub creates a hub. buffer is the per-session channel depth; eventRate
// and burst cap delivery speed per session (a non-positive rate disables the
// cap).
func NewHub(buffer int, eventRate float64, burst int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{
		buffer: buffer,
		rate:   rate.Limit(eventRate),
		burst:  burst,
		rooms:  make(map[string]map[string]*session),
	}
}

// Subscribe registers sessionID in the group's room and returns the delivery
// channel plus an unsubscribe function. Subscribing the same session ID twice
// replaces the earlier subscription.
func (h *Hub) Subscribe(groupID, sessionID string) (<-chan Event, func()) {
	s := &session{
		id: sessionID,
		ch: make(chan Event, h.buffer),
	}
	if h.rate > 0 {
		s.limiter = rate.NewLimiter(h.rate, h.burst)
	}

	h.mu.Lock()
	room, ok := h.rooms[groupID]
	if !ok {
		room = make(map[string]*session)
		h.rooms[groupID] = room
	}
	if prev, ok := room[sessionID]; ok {
		close(prev.ch)
		metrics.Subscriptions.Dec()
	}
	room[sessionID] = s
	h.mu.Unlock()

	metrics.Subscriptions.Inc()
	slog.Debug("session subscribed", "group_id", groupID, "session_id", sessionID)

	unsubscribe := func() {
		h.mu.Lock()
		if room, ok := h.rooms[groupID]; ok {
			if cur, ok := room[sessionID]; ok && cur == s {
				delete(room, sessionID)
				if len(room) == 0 {
					delete(h.rooms, groupID)
				}
				close(s.ch)
				metrics.Subscriptions.Dec()
			}
		}
		h.mu.Unlock()
	}
	return s.ch, unsubscribe
}

// Publish delivers ev to every session subscribed to the group room.
// It never blocks: a full or rate-limited session drops the event and the
// drop is logged and counted, never surfaced to the mutation.
func (h *Hub) Publish(groupID string, ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	metrics.EventsPublished.Inc()
	for _, s := range h.rooms[groupID] {
		if s.limiter != nil && !s.limiter.Allow() {
			metrics.EventsDropped.Inc()
			slog.Warn("event dropped for rate-limited session",
				"group_id", groupID, "session_id", s.id, "event", ev.Type)
			continue
		}
		select {
		case s.ch <- ev:
		default:
			metrics.EventsDropped.Inc()
			slog.Warn("event dropped for slow session",
				"group_id", groupID, "session_id", s.id, "event", ev.Type)
		}
	}
}

// Subscribers returns the number of sessions in a group's room.
func (h *Hub) Subscribers(groupID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[groupID])
}
