// Package registry holds the authoritative in-memory map of live agents
// and fans out every mutation to its listeners.
package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/agentfloor/agentfloor/internal/models"
)

// Registry operation failures.
var (
	ErrExists    = errors.New("agent id already exists")
	ErrNotFound  = errors.New("agent not found")
	ErrForbidden = errors.New("agent owned by another user")
)

// IdleAction is a decorative behavior attached to an idle agent.
type IdleAction struct {
	Kind       string
	AssignedAt time.Time
}

// Agent is the registry's record of one live session or sub-agent.
type Agent struct {
	ID               string
	DisplayName      string
	OwnerKey         string
	OwnerDisplayName string
	State            models.State
	Activity         models.Activity
	ContextUsage     float64
	ParentID         string
	IsSidechain      bool
	VariantIndex     int
	IdleAction       *IdleAction
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// EventType classifies registry events.
type EventType int

// Registry event types.
const (
	EventSpawn EventType = iota
	EventUpdate
	EventRemove
)

// Event is one registry mutation, carrying a copy of the agent as it was
// at emission time.
type Event struct {
	Type  EventType
	Agent Agent
}

// Listener receives registry events. Listeners are invoked synchronously in
// mutation order; a listener must not block and must isolate its own
// failures (a broken subscriber socket is the hub's problem, not the
// registry's).
type Listener interface {
	OnRegistryEvent(ev Event)
}

// CreateParams are the inputs to Create.
type CreateParams struct {
	ID               string
	DisplayName      string
	Activity         models.Activity
	OwnerKey         string
	OwnerDisplayName string
	ParentID         string
	IsSidechain      bool
	ContextUsage     float64
	VariantIndex     *int // nil lets the registry assign one
}

// Registry is the authoritative agent store. All mutation goes through its
// methods; the internal map never escapes.
type Registry struct {
	mu        sync.Mutex
	agents    map[string]*Agent
	listeners []Listener
	variants  map[string]int // per-owner round-robin counter
	now       func() time.Time
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		agents:   make(map[string]*Agent),
		variants: make(map[string]int),
		now:      time.Now,
	}
}

// SetNow overrides the clock. Tests only.
func (r *Registry) SetNow(now func() time.Time) {
	r.now = now
}

// AddListener subscribes a listener to all future events.
func (r *Registry) AddListener(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Create inserts a new agent. Fails with ErrExists if the id is taken,
// leaving the original untouched.
func (r *Registry) Create(p CreateParams) (Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[p.ID]; ok {
		return Agent{}, ErrExists
	}

	variant := 0
	if p.VariantIndex != nil {
		variant = *p.VariantIndex
	} else {
		variant = r.variants[p.OwnerKey]
		r.variants[p.OwnerKey]++
	}

	now := r.now()
	agent := &Agent{
		ID:               p.ID,
		DisplayName:      p.DisplayName,
		OwnerKey:         p.OwnerKey,
		OwnerDisplayName: p.OwnerDisplayName,
		State:            models.DeriveState(p.Activity),
		Activity:         p.Activity,
		ContextUsage:     p.ContextUsage,
		ParentID:         p.ParentID,
		IsSidechain:      p.IsSidechain,
		VariantIndex:     variant,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	r.agents[p.ID] = agent

	r.emitLocked(Event{Type: EventSpawn, Agent: *agent})
	return *agent, nil
}

// Update mutates an agent's activity and context usage. The update event is
// emitted even when the derived state is unchanged: the activity detail may
// still differ.
func (r *Registry) Update(id string, activity models.Activity, contextUsage float64, ownerKey string) (Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[id]
	if !ok {
		return Agent{}, ErrNotFound
	}
	if agent.OwnerKey != ownerKey {
		return Agent{}, ErrForbidden
	}

	agent.Activity = activity
	newState := models.DeriveState(activity)
	if newState != agent.State {
		agent.State = newState
	}
	// An idle action lives only while the agent is idle.
	if agent.State != models.StateIdle {
		agent.IdleAction = nil
	}
	agent.ContextUsage = contextUsage
	agent.UpdatedAt = r.now()

	r.emitLocked(Event{Type: EventUpdate, Agent: *agent})
	return *agent, nil
}

// Remove deletes an agent after the ownership check.
func (r *Registry) Remove(id, ownerKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[id]
	if !ok {
		return ErrNotFound
	}
	if agent.OwnerKey != ownerKey {
		return ErrForbidden
	}

	delete(r.agents, id)
	r.emitLocked(Event{Type: EventRemove, Agent: *agent})
	return nil
}

// Get returns a copy of an agent.
func (r *Registry) Get(id string) (Agent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[id]
	if !ok {
		return Agent{}, false
	}
	return *agent, true
}

// Snapshot returns a copy of every agent.
func (r *Registry) Snapshot() []Agent {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, *a)
	}
	return out
}

// WithSnapshot runs fn with a consistent snapshot, holding off mutations
// (and therefore events) until fn returns. The broadcast hub uses this to
// onboard a new subscriber: the replay it enqueues from the snapshot is
// atomic with respect to concurrent spawn/remove events.
func (r *Registry) WithSnapshot(fn func(agents []Agent)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, *a)
	}
	fn(out)
}

// ListByOwner returns copies of the agents owned by ownerKey.
func (r *Registry) ListByOwner(ownerKey string) []Agent {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Agent
	for _, a := range r.agents {
		if a.OwnerKey == ownerKey {
			out = append(out, *a)
		}
	}
	return out
}

// CountByOwner returns the number of agents per owner key.
func (r *Registry) CountByOwner() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]int)
	for _, a := range r.agents {
		out[a.OwnerKey]++
	}
	return out
}

// AssignIdleAction attaches an idle action to an agent. Returns false if
// the agent is gone, not idle, or already has one.
func (r *Registry) AssignIdleAction(id, kind string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[id]
	if !ok || agent.State != models.StateIdle || agent.IdleAction != nil {
		return false
	}
	agent.IdleAction = &IdleAction{Kind: kind, AssignedAt: r.now()}
	r.emitLocked(Event{Type: EventUpdate, Agent: *agent})
	return true
}

// ClearIdleAction removes an agent's idle action, if any.
func (r *Registry) ClearIdleAction(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[id]
	if !ok || agent.IdleAction == nil {
		return
	}
	agent.IdleAction = nil
	r.emitLocked(Event{Type: EventUpdate, Agent: *agent})
}

// IdleStats returns the current idle population and how many of them hold
// an action. Used by the idle scheduler's concurrency cap.
func (r *Registry) IdleStats() (idle, withAction int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.agents {
		if a.State == models.StateIdle {
			idle++
			if a.IdleAction != nil {
				withAction++
			}
		}
	}
	return idle, withAction
}

// emitLocked delivers an event to every listener in order. Called with the
// mutex held so event order matches mutation order.
func (r *Registry) emitLocked(ev Event) {
	for _, l := range r.listeners {
		l.OnRegistryEvent(ev)
	}
}
