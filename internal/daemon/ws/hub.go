// Package ws fans registry events out to connected viewers over the
// real-time WebSocket channel.
package ws

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentfloor/agentfloor/internal/daemon/registry"
	"github.com/agentfloor/agentfloor/internal/daemon/token"
	"github.com/agentfloor/agentfloor/internal/models"
)

// StatsInterval is the unconditional stats re-broadcast period while any
// subscriber is connected.
const StatsInterval = 5 * time.Second

// sendQueueSize bounds each subscriber's outbound queue. Delivery is
// best-effort: a full queue drops the message and logs it.
const sendQueueSize = 64

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Viewers connect from arbitrary origins (the visualization client is
	// served separately).
	CheckOrigin: func(*http.Request) bool { return true },
}

type subscriber struct {
	conn *websocket.Conn
	send chan models.WSMessage
	done chan struct{}
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.done) })
}

// Hub is the set of connected viewer sockets. It subscribes to the registry
// and mirrors every mutation to all viewers.
type Hub struct {
	reg    *registry.Registry
	tokens *token.Store
	window func() time.Duration // inactivity window for visible-user stats

	mu   sync.Mutex
	subs map[*subscriber]bool

	statsKick chan struct{}
	shutdown  chan struct{}
	stopOnce  sync.Once
}

// NewHub creates a Hub, subscribes it to reg, and starts the stats loop.
// window supplies the current inactivity window (hot-reloadable config).
func NewHub(reg *registry.Registry, tokens *token.Store, window func() time.Duration) *Hub {
	h := &Hub{
		reg:       reg,
		tokens:    tokens,
		window:    window,
		subs:      make(map[*subscriber]bool),
		statsKick: make(chan struct{}, 1),
		shutdown:  make(chan struct{}),
	}
	reg.AddListener(h)
	go h.statsLoop()
	return h
}

// Stop closes every subscriber socket with a normal closure and halts the
// stats loop.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.shutdown)

		h.mu.Lock()
		subs := make([]*subscriber, 0, len(h.subs))
		for s := range h.subs {
			subs = append(subs, s)
		}
		h.subs = make(map[*subscriber]bool)
		h.mu.Unlock()

		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "server shutting down")
		for _, s := range subs {
			_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			s.close()
			_ = s.conn.Close()
		}
	})
}

// SubscriberCount returns the number of connected viewers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Handler returns the HTTP handler that upgrades viewer connections.
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[ws] upgrade failed: %v", err)
			return
		}
		h.onboard(conn)
	})
}

// onboard replays the current agent set to a fresh connection, follows it
// with sync_complete, and only then exposes the subscriber to live events.
// The snapshot callback runs with registry mutations held off, so no event
// can interleave with the replay.
func (h *Hub) onboard(conn *websocket.Conn) {
	sub := &subscriber{
		conn: conn,
		done: make(chan struct{}),
	}

	h.reg.WithSnapshot(func(agents []registry.Agent) {
		// Queue sized to hold the whole replay: enqueueing here must not
		// block, the registry lock is held.
		sub.send = make(chan models.WSMessage, len(agents)+1+sendQueueSize)
		ids := make([]string, 0, len(agents))
		for _, a := range agents {
			sub.send <- spawnMessage(a)
			ids = append(ids, a.ID)
		}
		sub.send <- models.WSMessage{Type: models.MsgSyncComplete, AgentIDs: ids}

		h.mu.Lock()
		h.subs[sub] = true
		h.mu.Unlock()
	})

	go h.writeLoop(sub)
	go h.readLoop(sub)
	h.kickStats()
	log.Printf("[ws] viewer connected (%d total)", h.SubscriberCount())
}

func (h *Hub) unregister(sub *subscriber) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
	sub.close()
	_ = sub.conn.Close()
}

func (h *Hub) writeLoop(sub *subscriber) {
	for {
		select {
		case <-sub.done:
			return
		case msg := <-sub.send:
			if err := sub.conn.WriteJSON(msg); err != nil {
				log.Printf("[ws] send failed, dropping viewer: %v", err)
				h.unregister(sub)
				return
			}
		}
	}
}

// readLoop consumes the inbound channel: ack and agent_removed messages.
// Both are informational.
func (h *Hub) readLoop(sub *subscriber) {
	defer h.unregister(sub)
	for {
		var msg models.WSMessage
		if err := sub.conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case models.MsgAck:
			if !msg.Success {
				log.Printf("[ws] viewer nack for %s %s", msg.Command, msg.ID)
			}
		case models.MsgAgentRemoved:
			log.Printf("[ws] viewer finished removal of %s", msg.ID)
		default:
			log.Printf("[ws] unrecognized message type %q", msg.Type)
		}
	}
}

// OnRegistryEvent implements registry.Listener. Runs on the mutating
// goroutine with the registry lock held: it only enqueues, never blocks.
func (h *Hub) OnRegistryEvent(ev registry.Event) {
	var msg models.WSMessage
	switch ev.Type {
	case registry.EventSpawn:
		msg = spawnMessage(ev.Agent)
	case registry.EventUpdate:
		msg = models.WSMessage{
			Type:              models.MsgUpdateAgent,
			ID:                ev.Agent.ID,
			State:             ev.Agent.State,
			Activity:          ev.Agent.Activity,
			ContextPercentage: ev.Agent.ContextUsage,
		}
		if ev.Agent.IdleAction != nil {
			msg.IdleAction = ev.Agent.IdleAction.Kind
		}
	case registry.EventRemove:
		msg = models.WSMessage{Type: models.MsgRemoveAgent, ID: ev.Agent.ID}
	default:
		return
	}

	h.broadcast(msg)

	if ev.Type == registry.EventSpawn || ev.Type == registry.EventRemove {
		h.kickStats()
	}
}

func (h *Hub) broadcast(msg models.WSMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs {
		select {
		case sub.send <- msg:
		default:
			log.Printf("[ws] viewer queue full, dropping %s", msg.Type)
		}
	}
}

// kickStats requests an out-of-band stats push. Coalesces.
func (h *Hub) kickStats() {
	select {
	case h.statsKick <- struct{}{}:
	default:
	}
}

// statsLoop pushes user stats on demand and every StatsInterval while any
// viewer is connected. It runs on its own goroutine so stats computation
// never happens under the registry lock.
func (h *Hub) statsLoop() {
	ticker := time.NewTicker(StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.shutdown:
			return
		case <-h.statsKick:
		case <-ticker.C:
		}
		if h.SubscriberCount() == 0 {
			continue
		}
		h.broadcast(h.statsMessage())
	}
}

func (h *Hub) statsMessage() models.WSMessage {
	agentsByOwner := h.reg.CountByOwner()
	owners := h.tokens.ActiveOwners(h.window())

	users := make([]models.UserStats, 0, len(owners))
	totalAgents := 0
	for _, n := range agentsByOwner {
		totalAgents += n
	}
	for _, o := range owners {
		users = append(users, models.UserStats{
			Key:         o.User.Key,
			DisplayName: o.User.DisplayName,
			Sessions:    o.Sessions,
			Agents:      agentsByOwner[o.User.Key],
		})
	}

	return models.WSMessage{
		Type:   models.MsgUserStats,
		Users:  users,
		Totals: &models.StatsTotal{ActiveUsers: len(users), Agents: totalAgents},
	}
}

func spawnMessage(a registry.Agent) models.WSMessage {
	return models.WSMessage{
		Type:              models.MsgSpawnAgent,
		ID:                a.ID,
		DisplayName:       a.DisplayName,
		UserName:          a.OwnerDisplayName,
		VariantIndex:      a.VariantIndex,
		State:             a.State,
		Activity:          a.Activity,
		ParentID:          a.ParentID,
		IsSidechain:       a.IsSidechain,
		ContextPercentage: a.ContextUsage,
	}
}
