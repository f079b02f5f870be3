package events

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/openintent-protocol/openintent/pkg/models"
)

// DefaultQueueSize bounds each subscriber queue. A full queue drops events
// for that subscriber only; the producer never blocks.
const DefaultQueueSize = 100

// Envelope is one broadcast unit: the committed event plus the routing
// metadata the per-channel handlers filter on. PortfolioIDs lists the
// portfolios the intent belongs to; AgentIDs the agents assigned to it.
type Envelope struct {
	Event        *models.IntentEvent
	PortfolioIDs []string
	AgentIDs     []string
}

// MatchesIntent reports whether the envelope concerns the given intent.
func (e *Envelope) MatchesIntent(intentID string) bool {
	return e.Event.IntentID == intentID
}

// MatchesPortfolio reports whether the intent is a member of the portfolio.
func (e *Envelope) MatchesPortfolio(portfolioID string) bool {
	for _, id := range e.PortfolioIDs {
		if id == portfolioID {
			return true
		}
	}
	return false
}

// MatchesAgent reports whether the event's actor or an assigned agent is the
// given agent.
func (e *Envelope) MatchesAgent(agentID string) bool {
	if e.Event.Actor == agentID {
		return true
	}
	for _, id := range e.AgentIDs {
		if id == agentID {
			return true
		}
	}
	return false
}

// Subscriber is one bounded queue attached to a channel.
type Subscriber struct {
	ID      string
	Channel string
	C       chan *Envelope

	dropped atomic.Int64
}

// Dropped returns how many events were discarded because the queue was full.
func (s *Subscriber) Dropped() int64 {
	return s.dropped.Load()
}

// Hub is the process-local fan-out registry: channel name to subscriber set.
// It is mutated only on subscribe and unsubscribe and is read-mostly on the
// broadcast path.
type Hub struct {
	mu        sync.RWMutex
	channels  map[string]map[string]*Subscriber
	queueSize int
}

// NewHub creates a hub. queueSize <= 0 selects DefaultQueueSize.
func NewHub(queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Hub{
		channels:  make(map[string]map[string]*Subscriber),
		queueSize: queueSize,
	}
}

// Subscribe attaches a new bounded queue to the channel.
func (h *Hub) Subscribe(channel string) *Subscriber {
	sub := &Subscriber{
		ID:      uuid.New().String(),
		Channel: channel,
		C:       make(chan *Envelope, h.queueSize),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.channels[channel]; !ok {
		h.channels[channel] = make(map[string]*Subscriber)
	}
	h.channels[channel][sub.ID] = sub
	return sub
}

// Unsubscribe detaches the queue. Safe to call more than once.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.channels[sub.Channel]; ok {
		delete(subs, sub.ID)
		if len(subs) == 0 {
			delete(h.channels, sub.Channel)
		}
	}
}

// Publish broadcasts a committed event into every channel. It never blocks
// and never fails: a subscriber with a full queue loses the event and can
// recover history through the event-list API.
func (h *Hub) Publish(env *Envelope) {
	for _, channel := range []string{ChannelIntents, ChannelPortfolios, ChannelAgents} {
		h.broadcast(channel, env)
	}
}

func (h *Hub) broadcast(channel string, env *Envelope) {
	// Snapshot under the read lock, then send without it so a slow append
	// never stalls subscribe/unsubscribe.
	h.mu.RLock()
	subs := make([]*Subscriber, 0, len(h.channels[channel]))
	for _, s := range h.channels[channel] {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	for _, s := range subs {
		select {
		case s.C <- env:
		default:
			n := s.dropped.Add(1)
			if n == 1 || n%100 == 0 {
				slog.Warn("SSE subscriber queue full, dropping event",
					"channel", channel, "subscriber", s.ID, "dropped", n)
			}
		}
	}
}

// SubscriberCount returns the number of subscribers on a channel.
func (h *Hub) SubscriberCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}
