// Package idle opportunistically assigns decorative idle behaviors to idle
// agents, capped at a fraction of the idle population.
package idle

import (
	"math/rand"
	"sync"
	"time"

	"github.com/agentfloor/agentfloor/internal/daemon/registry"
	"github.com/agentfloor/agentfloor/internal/models"
)

// Scheduling knobs.
const (
	// MinDelay and MaxDelay bound the random wait before an assignment
	// attempt.
	MinDelay = 3 * time.Second
	MaxDelay = 15 * time.Second

	// MaxActiveFraction caps how much of the idle population may hold an
	// action at once.
	MaxActiveFraction = 0.4
)

// Kinds are the available idle action kinds.
var Kinds = []string{"stretch", "coffee", "pace", "doodle", "nap"}

// Scheduler watches registry events and manages idle action timers. It
// registers itself as a registry listener.
type Scheduler struct {
	reg  *registry.Registry
	rand *rand.Rand

	mu       sync.Mutex
	timers   map[string]*time.Timer // pending assignment attempts by agent id
	stopped  bool
	stopOnce sync.Once
}

// NewScheduler creates a Scheduler and subscribes it to the registry.
func NewScheduler(reg *registry.Registry) *Scheduler {
	s := &Scheduler{
		reg:    reg,
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
		timers: make(map[string]*time.Timer),
	}
	reg.AddListener(s)
	return s
}

// Stop cancels all pending timers.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.stopped = true
		for id, t := range s.timers {
			t.Stop()
			delete(s.timers, id)
		}
	})
}

// OnRegistryEvent implements registry.Listener. Invoked synchronously from
// registry mutations; it only arms or cancels timers and never calls back
// into the registry on this path.
func (s *Scheduler) OnRegistryEvent(ev registry.Event) {
	switch ev.Type {
	case registry.EventSpawn, registry.EventUpdate:
		if ev.Agent.State == models.StateIdle {
			if ev.Agent.IdleAction == nil {
				s.schedule(ev.Agent.ID)
			}
			return
		}
		// Left idle: drop the pending timer and clear any held action.
		s.cancel(ev.Agent.ID)
		if ev.Agent.IdleAction != nil {
			go s.reg.ClearIdleAction(ev.Agent.ID)
		}
	case registry.EventRemove:
		s.cancel(ev.Agent.ID)
	}
}

// schedule arms an assignment attempt after a random delay, unless one is
// already pending for this agent.
func (s *Scheduler) schedule(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	if _, ok := s.timers[id]; ok {
		return
	}
	s.timers[id] = time.AfterFunc(s.delay(), func() {
		s.attempt(id)
	})
}

func (s *Scheduler) cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
}

// attempt assigns an action if the agent is still idle and the population
// cap allows it; otherwise it either gives up (not idle) or reschedules.
func (s *Scheduler) attempt(id string) {
	s.mu.Lock()
	delete(s.timers, id)
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return
	}

	agent, ok := s.reg.Get(id)
	if !ok || agent.State != models.StateIdle {
		return
	}
	if agent.IdleAction != nil {
		return
	}

	// Cap applies to the population after this assignment would land, so
	// the fraction holding an action never exceeds the cap.
	idle, withAction := s.reg.IdleStats()
	if idle == 0 || float64(withAction+1)/float64(idle) > MaxActiveFraction {
		s.schedule(id)
		return
	}

	s.mu.Lock()
	kind := Kinds[s.rand.Intn(len(Kinds))]
	s.mu.Unlock()
	if !s.reg.AssignIdleAction(id, kind) {
		// State moved under us; the registry event stream will reschedule
		// if the agent goes idle again.
		return
	}
}

func (s *Scheduler) delay() time.Duration {
	return MinDelay + time.Duration(s.rand.Int63n(int64(MaxDelay-MinDelay)))
}
